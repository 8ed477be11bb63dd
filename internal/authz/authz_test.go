package authz_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jensholdgaard/gavel/internal/authz"
	"github.com/jensholdgaard/gavel/internal/clock"
	"github.com/jensholdgaard/gavel/internal/domain"
	"github.com/jensholdgaard/gavel/internal/store/memory"
)

func newResolver(t *testing.T) (*authz.Resolver, func(any) error) {
	t.Helper()
	ctx := context.Background()
	repos := memory.Open(clock.NewMock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))

	if err := repos.Teams.Create(ctx, &domain.Team{
		ID: "team-a", AuctionID: "auc", Name: "Alpha",
		CaptainUserID: "u1", CaptainEmail: "u1@example",
	}); err != nil {
		t.Fatal(err)
	}

	add := func(grant any) error {
		switch g := grant.(type) {
		case domain.TeamMember:
			return repos.Access.AddMember(ctx, &g)
		case domain.Participant:
			return repos.Access.AddParticipant(ctx, &g)
		}
		return errors.New("unknown grant")
	}
	return authz.NewResolver(repos.Teams, repos.Access), add
}

func TestAuthorizeBidder(t *testing.T) {
	tests := []struct {
		name    string
		user    authz.Identity
		grant   any
		wantErr bool
	}{
		{
			name: "designated captain",
			user: authz.Identity{UserID: "u1", Email: "u1@example"},
		},
		{
			name:  "vice captain on roster",
			user:  authz.Identity{UserID: "u2", Email: "u2@example"},
			grant: domain.TeamMember{TeamID: "team-a", UserID: "u2", Role: domain.TeamRoleViceCaptain},
		},
		{
			name:  "auction moderator",
			user:  authz.Identity{UserID: "u3", Email: "u3@example"},
			grant: domain.Participant{AuctionID: "auc", UserID: "u3", Role: domain.AuctionRoleModerator},
		},
		{
			name:    "plain roster member is rejected",
			user:    authz.Identity{UserID: "u4", Email: "u4@example"},
			grant:   domain.TeamMember{TeamID: "team-a", UserID: "u4", Role: domain.TeamRoleMember},
			wantErr: true,
		},
		{
			name:    "spectator is rejected",
			user:    authz.Identity{UserID: "u5", Email: "u5@example"},
			grant:   domain.Participant{AuctionID: "auc", UserID: "u5", Role: domain.AuctionRoleSpectator},
			wantErr: true,
		},
		{
			name:    "unknown user is rejected",
			user:    authz.Identity{UserID: "u6", Email: "u6@example"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, add := newResolver(t)
			if tt.grant != nil {
				if err := add(tt.grant); err != nil {
					t.Fatal(err)
				}
			}

			err := r.AuthorizeBidder(context.Background(), tt.user, "team-a", "auc")
			if tt.wantErr {
				de, ok := domain.AsError(err)
				if !ok || de.Kind != domain.KindAuthorization {
					t.Fatalf("expected authorization error, got %v", err)
				}
				if de.Details["currentUser"] != tt.user.Email {
					t.Errorf("currentUser = %v, want %s", de.Details["currentUser"], tt.user.Email)
				}
				if de.Details["expectedCaptain"] != "u1@example" {
					t.Errorf("expectedCaptain = %v, want u1@example", de.Details["expectedCaptain"])
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestAuthorizeBidder_UnknownTeam(t *testing.T) {
	r, _ := newResolver(t)
	err := r.AuthorizeBidder(context.Background(), authz.Identity{UserID: "u1"}, "missing", "auc")
	de, ok := domain.AsError(err)
	if !ok || de.Kind != domain.KindNotFound {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestAuthorizeAuctioneer(t *testing.T) {
	r, add := newResolver(t)
	ctx := context.Background()

	if err := add(domain.Participant{AuctionID: "auc", UserID: "owner", Role: domain.AuctionRoleOwner}); err != nil {
		t.Fatal(err)
	}
	if err := add(domain.Participant{AuctionID: "auc", UserID: "cap", Role: domain.AuctionRoleCaptain}); err != nil {
		t.Fatal(err)
	}

	if err := r.AuthorizeAuctioneer(ctx, authz.Identity{UserID: "owner"}, "auc"); err != nil {
		t.Fatalf("owner rejected: %v", err)
	}
	// An auction-level CAPTAIN may bid but not settle.
	if err := r.AuthorizeAuctioneer(ctx, authz.Identity{UserID: "cap", Email: "cap@example"}, "auc"); err == nil {
		t.Fatal("captain accepted as auctioneer")
	}
	if err := r.AuthorizeAuctioneer(ctx, authz.Identity{UserID: "nobody"}, "auc"); err == nil {
		t.Fatal("unknown user accepted as auctioneer")
	}
}

func TestAuthorizeParticipant(t *testing.T) {
	r, add := newResolver(t)
	ctx := context.Background()

	if err := add(domain.Participant{AuctionID: "auc", UserID: "spec", Role: domain.AuctionRoleSpectator}); err != nil {
		t.Fatal(err)
	}

	if err := r.AuthorizeParticipant(ctx, authz.Identity{UserID: "spec"}, "auc"); err != nil {
		t.Fatalf("spectator rejected: %v", err)
	}
	// A team captain may watch without an auction-level grant.
	if err := r.AuthorizeParticipant(ctx, authz.Identity{UserID: "u1"}, "auc"); err != nil {
		t.Fatalf("team captain rejected: %v", err)
	}
	if err := r.AuthorizeParticipant(ctx, authz.Identity{UserID: "nobody", Email: "n@example"}, "auc"); err == nil {
		t.Fatal("unknown user accepted as participant")
	}
}
