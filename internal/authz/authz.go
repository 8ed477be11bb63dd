// Package authz resolves whether an authenticated user may act for a team
// in an auction. Access is the union of three sources: the team's designated
// captain, a team-roster role, and an auction-level role. The resolver is
// stateless and re-evaluated on every admission.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/jensholdgaard/gavel/internal/domain"
	"github.com/jensholdgaard/gavel/internal/store"
)

// Identity is the authenticated caller, taken from the upstream identity
// headers.
type Identity struct {
	UserID string
	Email  string
}

// Resolver evaluates bidder and auctioneer access.
type Resolver struct {
	teams  store.TeamRepository
	access store.AccessRepository
}

// NewResolver creates a Resolver over the given repositories.
func NewResolver(teams store.TeamRepository, access store.AccessRepository) *Resolver {
	return &Resolver{teams: teams, access: access}
}

// AuthorizeBidder grants access when the user is the team's designated
// captain, holds a CAPTAIN/VICE_CAPTAIN roster role, or holds an
// OWNER/MODERATOR/CAPTAIN auction role. Rejections carry the current user's
// email and the expected captain's email for guidance.
func (r *Resolver) AuthorizeBidder(ctx context.Context, id Identity, teamID, auctionID string) error {
	team, err := r.teams.GetByID(ctx, teamID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Ef(domain.KindNotFound, "TEAM_NOT_FOUND", "team %s not found", teamID)
		}
		return fmt.Errorf("loading team: %w", err)
	}

	if team.CaptainUserID == id.UserID {
		return nil
	}

	role, err := r.access.MemberRole(ctx, teamID, id.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("loading team member role: %w", err)
	}
	if err == nil && (role == domain.TeamRoleCaptain || role == domain.TeamRoleViceCaptain) {
		return nil
	}

	aRole, err := r.access.ParticipantRole(ctx, auctionID, id.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("loading participant role: %w", err)
	}
	if err == nil {
		switch aRole {
		case domain.AuctionRoleOwner, domain.AuctionRoleModerator, domain.AuctionRoleCaptain:
			return nil
		}
	}

	return domain.Ef(domain.KindAuthorization, "NOT_TEAM_BIDDER",
		"user is not an authorized bidder for team %s", team.Name).
		WithDetails(map[string]any{
			"currentUser":     id.Email,
			"expectedCaptain": team.CaptainEmail,
		})
}

// AuthorizeAuctioneer grants access to settlement and round control when the
// user holds the OWNER or MODERATOR auction role.
func (r *Resolver) AuthorizeAuctioneer(ctx context.Context, id Identity, auctionID string) error {
	role, err := r.access.ParticipantRole(ctx, auctionID, id.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notAuctioneer(id)
		}
		return fmt.Errorf("loading participant role: %w", err)
	}
	if role == domain.AuctionRoleOwner || role == domain.AuctionRoleModerator {
		return nil
	}
	return notAuctioneer(id)
}

// AuthorizeParticipant grants read access to any user with a role in the
// auction or a captaincy of one of its teams.
func (r *Resolver) AuthorizeParticipant(ctx context.Context, id Identity, auctionID string) error {
	if _, err := r.access.ParticipantRole(ctx, auctionID, id.UserID); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("loading participant role: %w", err)
	}

	teams, err := r.teams.ListByAuction(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("listing teams: %w", err)
	}
	for _, t := range teams {
		if t.CaptainUserID == id.UserID {
			return nil
		}
	}

	return domain.E(domain.KindAuthorization, "NOT_PARTICIPANT",
		"user has no role in this auction").
		WithDetails(map[string]any{"currentUser": id.Email})
}

func notAuctioneer(id Identity) error {
	return domain.E(domain.KindAuthorization, "NOT_AUCTIONEER",
		"user is not an owner or moderator of this auction").
		WithDetails(map[string]any{"currentUser": id.Email})
}
