// Package store defines the persistence boundary. All auction state flows
// through these interfaces; mutation of a single auction is serialized by
// optimistic concurrency on its queue state, plus a server-side atomic
// primitive for outcry raises. No in-process state is authoritative.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jensholdgaard/gavel/internal/domain"
	"github.com/jensholdgaard/gavel/internal/queue"
)

// Errors shared by all drivers.
var (
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict signals a lost optimistic-concurrency race on the
	// queue state; the caller may retry against fresh state.
	ErrVersionConflict = errors.New("queue state version conflict")
)

// AuctionRepository persists auctions and their queue state. The queue state
// is a single JSON document on the auction row, guarded by a version counter.
type AuctionRepository interface {
	Create(ctx context.Context, a *domain.Auction) error
	GetByID(ctx context.Context, id string) (*domain.Auction, error)
	// UpdateStatus transitions the status only when the current status is
	// one of from; returns ErrNotFound when no row matched.
	UpdateStatus(ctx context.Context, id string, from []domain.AuctionStatus, to domain.AuctionStatus) error
	// QueueState returns the stored queue state and its version.
	QueueState(ctx context.Context, id string) (queue.State, int64, error)
	// UpdateQueueState writes the queue state if the stored version still
	// equals expectedVersion, incrementing it. Returns ErrVersionConflict
	// otherwise.
	UpdateQueueState(ctx context.Context, id string, st queue.State, expectedVersion int64) error
}

// TierRepository persists an auction's tier configuration.
type TierRepository interface {
	Replace(ctx context.Context, auctionID string, tiers []domain.Tier) error
	ListByAuction(ctx context.Context, auctionID string) ([]domain.Tier, error)
}

// TeamRepository persists teams.
type TeamRepository interface {
	Create(ctx context.Context, t *domain.Team) error
	GetByID(ctx context.Context, id string) (*domain.Team, error)
	ListByAuction(ctx context.Context, auctionID string) ([]domain.Team, error)
}

// PlayerRepository persists players.
type PlayerRepository interface {
	Create(ctx context.Context, p *domain.Player) error
	GetByID(ctx context.Context, id string) (*domain.Player, error)
	ListByAuction(ctx context.Context, auctionID string) ([]domain.Player, error)
	UpdateStatus(ctx context.Context, id string, status domain.PlayerStatus) error
}

// RaiseParams carries one atomic outcry raise. The driver must apply the
// round update and insert the bid row atomically, and only when the round is
// OPEN and its bid count still equals ExpectedBidCount.
type RaiseParams struct {
	RoundID          string
	TeamID           string
	ExpectedBidCount int
	BidID            string
	Amount           int64
	Sequence         int
	SubmittedAt      time.Time
	TimerExpiresAt   *time.Time
}

// RoundRepository persists rounds and implements the outcry CAS.
type RoundRepository interface {
	Create(ctx context.Context, r *domain.Round) error
	GetByID(ctx context.Context, id string) (*domain.Round, error)
	GetOpenByAuction(ctx context.Context, auctionID string) (*domain.Round, error)
	// CloseOpen closes any OPEN round for the auction. Idempotent.
	CloseOpen(ctx context.Context, auctionID string, closedAt time.Time) error
	// AtomicOutcryRaise either commits the raise in full and returns true,
	// or changes nothing and returns false (stale).
	AtomicOutcryRaise(ctx context.Context, p RaiseParams) (bool, error)
}

// BidRepository persists bids for audit and the incoming-bids panel.
type BidRepository interface {
	Create(ctx context.Context, b *domain.Bid) error
	ListByRound(ctx context.Context, roundID string) ([]domain.Bid, error)
	ListByRoundAndTeam(ctx context.Context, roundID, teamID string) ([]domain.Bid, error)
	// MarkWinning flags the team's highest bid in the round as winning.
	// A no-op when the team placed no bid.
	MarkWinning(ctx context.Context, roundID, teamID string) error
}

// ResultRepository persists player-to-team assignments.
type ResultRepository interface {
	Upsert(ctx context.Context, r *domain.Result) error
	Delete(ctx context.Context, auctionID, playerID string) error
	ListByAuction(ctx context.Context, auctionID string) ([]domain.Result, error)
}

// AccessRepository answers the authorization resolver's source queries.
// Role lookups return ErrNotFound when no grant exists.
type AccessRepository interface {
	AddMember(ctx context.Context, m *domain.TeamMember) error
	AddParticipant(ctx context.Context, p *domain.Participant) error
	MemberRole(ctx context.Context, teamID, userID string) (domain.TeamRole, error)
	ParticipantRole(ctx context.Context, auctionID, userID string) (domain.AuctionRole, error)
}

// Repositories groups the repository implementations returned by a driver.
type Repositories struct {
	Auctions AuctionRepository
	Tiers    TierRepository
	Teams    TeamRepository
	Players  PlayerRepository
	Rounds   RoundRepository
	Bids     BidRepository
	Results  ResultRepository
	Access   AccessRepository

	// WithTx runs fn against transaction-scoped repositories; all writes
	// commit together or not at all.
	WithTx func(ctx context.Context, fn func(r *Repositories) error) error
	// Close releases underlying resources.
	Close func() error
	// Ping checks the underlying connection health.
	Ping func(ctx context.Context) error
}
