// Package engine coordinates the auction lifecycle and settlement. It owns
// the DRAFT -> LOBBY -> LIVE -> COMPLETED transitions, seeds the player queue
// on start, and applies auctioneer actions transactionally through the
// persistence boundary. It holds no authoritative in-process state; every
// mutation is serialized by the store's optimistic concurrency.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/gavel/internal/clock"
	"github.com/jensholdgaard/gavel/internal/domain"
	"github.com/jensholdgaard/gavel/internal/fanout"
	"github.com/jensholdgaard/gavel/internal/queue"
	"github.com/jensholdgaard/gavel/internal/store"
)

// Engine drives auction lifecycle and settlement.
type Engine struct {
	repos       *store.Repositories
	broker      *fanout.Broker
	logger      *slog.Logger
	tracer      trace.Tracer
	clock       clock.Clock
	historyTail int
}

// New creates an Engine. historyTail bounds the history slice returned in
// snapshots; <= 0 means unbounded.
func New(repos *store.Repositories, broker *fanout.Broker, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock, historyTail int) *Engine {
	return &Engine{
		repos:       repos,
		broker:      broker,
		logger:      logger,
		tracer:      tp.Tracer("github.com/jensholdgaard/gavel/internal/engine"),
		clock:       clk,
		historyTail: historyTail,
	}
}

// CreateAuctionParams carries the immutable auction configuration.
type CreateAuctionParams struct {
	Name           string
	OwnerUserID    string
	Mode           domain.BiddingMode
	BudgetPerTeam  int64
	SquadSize      int
	Currency       string
	IncrementRules []domain.IncrementRule
	TimerSeconds   int
}

// CreateAuction creates a DRAFT auction and grants the owner the OWNER role.
func (e *Engine) CreateAuction(ctx context.Context, p CreateAuctionParams) (*domain.Auction, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.CreateAuction",
		trace.WithAttributes(attribute.String("name", p.Name)),
	)
	defer span.End()

	if p.Mode != domain.ModeSealed && p.Mode != domain.ModeOutcry {
		return nil, domain.Ef(domain.KindValidation, "INVALID_MODE", "bidding mode must be SEALED or OUTCRY, got %q", p.Mode)
	}
	if p.BudgetPerTeam <= 0 {
		return nil, domain.E(domain.KindValidation, "INVALID_BUDGET", "budget per team must be positive")
	}
	if p.SquadSize <= 0 {
		return nil, domain.E(domain.KindValidation, "INVALID_SQUAD_SIZE", "squad size must be positive")
	}
	for _, r := range p.IncrementRules {
		if r.Increment <= 0 {
			return nil, domain.E(domain.KindValidation, "INVALID_INCREMENT_RULE", "increment must be positive")
		}
	}

	a := &domain.Auction{
		ID:             uuid.NewString(),
		Name:           p.Name,
		OwnerUserID:    p.OwnerUserID,
		Mode:           p.Mode,
		BudgetPerTeam:  p.BudgetPerTeam,
		SquadSize:      p.SquadSize,
		Currency:       p.Currency,
		IncrementRules: p.IncrementRules,
		TimerSeconds:   p.TimerSeconds,
		Status:         domain.AuctionDraft,
		CreatedAt:      e.clock.Now().UTC(),
	}

	err := e.repos.WithTx(ctx, func(r *store.Repositories) error {
		if err := r.Auctions.Create(ctx, a); err != nil {
			return fmt.Errorf("creating auction: %w", err)
		}
		owner := &domain.Participant{AuctionID: a.ID, UserID: p.OwnerUserID, Role: domain.AuctionRoleOwner}
		if err := r.Access.AddParticipant(ctx, owner); err != nil {
			return fmt.Errorf("granting owner role: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "auction created",
		slog.String("auction_id", a.ID),
		slog.String("mode", string(a.Mode)),
	)
	return a, nil
}

// AddTeamParams carries one team registration.
type AddTeamParams struct {
	Name          string
	CaptainUserID string
	CaptainEmail  string
}

// AddTeam registers a team on a DRAFT or LOBBY auction and seats its captain
// on the roster.
func (e *Engine) AddTeam(ctx context.Context, auctionID string, p AddTeamParams) (*domain.Team, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.AddTeam",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	a, err := e.loadAuction(ctx, e.repos, auctionID)
	if err != nil {
		return nil, err
	}
	if a.Status != domain.AuctionDraft && a.Status != domain.AuctionLobby {
		return nil, domain.Ef(domain.KindPrecondition, "AUCTION_FROZEN", "teams cannot be added while auction is %s", a.Status)
	}
	if p.Name == "" || p.CaptainUserID == "" {
		return nil, domain.E(domain.KindValidation, "INVALID_TEAM", "team name and captain are required")
	}

	t := &domain.Team{
		ID:            uuid.NewString(),
		AuctionID:     auctionID,
		Name:          p.Name,
		CaptainUserID: p.CaptainUserID,
		CaptainEmail:  p.CaptainEmail,
	}
	err = e.repos.WithTx(ctx, func(r *store.Repositories) error {
		if err := r.Teams.Create(ctx, t); err != nil {
			return fmt.Errorf("creating team: %w", err)
		}
		m := &domain.TeamMember{TeamID: t.ID, UserID: p.CaptainUserID, Role: domain.TeamRoleCaptain}
		if err := r.Access.AddMember(ctx, m); err != nil {
			return fmt.Errorf("seating captain: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "team added",
		slog.String("auction_id", auctionID),
		slog.String("team_id", t.ID),
		slog.String("name", t.Name),
	)
	return t, nil
}

// AddPlayerParams carries one player registration.
type AddPlayerParams struct {
	Name   string
	TierID string
}

// AddPlayer registers a player on a DRAFT or LOBBY auction.
func (e *Engine) AddPlayer(ctx context.Context, auctionID string, p AddPlayerParams) (*domain.Player, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.AddPlayer",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	a, err := e.loadAuction(ctx, e.repos, auctionID)
	if err != nil {
		return nil, err
	}
	if a.Status != domain.AuctionDraft && a.Status != domain.AuctionLobby {
		return nil, domain.Ef(domain.KindPrecondition, "AUCTION_FROZEN", "players cannot be added while auction is %s", a.Status)
	}
	if p.Name == "" || p.TierID == "" {
		return nil, domain.E(domain.KindValidation, "INVALID_PLAYER", "player name and tier are required")
	}

	pl := &domain.Player{
		ID:        uuid.NewString(),
		AuctionID: auctionID,
		Name:      p.Name,
		TierID:    p.TierID,
		Status:    domain.PlayerAvailable,
		CreatedAt: e.clock.Now().UTC(),
	}
	if err := e.repos.Players.Create(ctx, pl); err != nil {
		return nil, fmt.Errorf("creating player: %w", err)
	}
	return pl, nil
}

// ConfigureTiers replaces the auction's tier set. Allowed until LIVE.
func (e *Engine) ConfigureTiers(ctx context.Context, auctionID string, tiers []domain.Tier) error {
	ctx, span := e.tracer.Start(ctx, "Engine.ConfigureTiers",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	a, err := e.loadAuction(ctx, e.repos, auctionID)
	if err != nil {
		return err
	}
	if a.Status != domain.AuctionDraft && a.Status != domain.AuctionLobby {
		return domain.Ef(domain.KindPrecondition, "AUCTION_FROZEN", "tiers cannot change while auction is %s", a.Status)
	}
	for i := range tiers {
		t := &tiers[i]
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		t.AuctionID = auctionID
		if t.BasePrice <= 0 {
			return domain.Ef(domain.KindValidation, "INVALID_TIER", "tier %s base price must be positive", t.Name)
		}
	}
	if err := e.repos.Tiers.Replace(ctx, auctionID, tiers); err != nil {
		return fmt.Errorf("replacing tiers: %w", err)
	}
	return nil
}

// OpenLobby transitions DRAFT -> LOBBY once the roster is being finalized.
func (e *Engine) OpenLobby(ctx context.Context, auctionID string) error {
	err := e.repos.Auctions.UpdateStatus(ctx, auctionID,
		[]domain.AuctionStatus{domain.AuctionDraft}, domain.AuctionLobby)
	if errors.Is(err, store.ErrNotFound) {
		return domain.E(domain.KindPrecondition, "INVALID_TRANSITION", "auction is not in DRAFT")
	}
	return err
}

// Start enters LIVE: validates the roster, seeds the queue ordered by tier
// base price descending with ties broken by player insertion order, and opens
// the first round.
func (e *Engine) Start(ctx context.Context, auctionID string) (*Snapshot, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Start",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	var events []pendingEvent
	err := e.repos.WithTx(ctx, func(r *store.Repositories) error {
		a, err := e.loadAuction(ctx, r, auctionID)
		if err != nil {
			return err
		}
		if a.Status != domain.AuctionDraft && a.Status != domain.AuctionLobby {
			return domain.Ef(domain.KindPrecondition, "INVALID_TRANSITION", "cannot start auction in status %s", a.Status)
		}

		teams, err := r.Teams.ListByAuction(ctx, auctionID)
		if err != nil {
			return fmt.Errorf("listing teams: %w", err)
		}
		if len(teams) < 2 {
			return domain.E(domain.KindPrecondition, "NOT_ENOUGH_TEAMS", "at least 2 teams are required to start")
		}

		players, err := r.Players.ListByAuction(ctx, auctionID)
		if err != nil {
			return fmt.Errorf("listing players: %w", err)
		}
		if len(players) == 0 {
			return domain.E(domain.KindPrecondition, "NO_PLAYERS", "at least 1 player is required to start")
		}

		tiers, err := tierIndex(ctx, r, auctionID)
		if err != nil {
			return err
		}
		for _, p := range players {
			if _, ok := tiers[p.TierID]; !ok {
				return domain.Ef(domain.KindPrecondition, "TIER_UNDEFINED", "player %s references undefined tier %s", p.Name, p.TierID)
			}
		}

		// Queue ordering is a public contract: tiers by base price
		// descending, insertion order within a tier.
		sort.SliceStable(players, func(i, j int) bool {
			return tiers[players[i].TierID].BasePrice > tiers[players[j].TierID].BasePrice
		})
		ids := make([]string, len(players))
		for i, p := range players {
			ids[i] = p.ID
		}
		st := queue.NewState(ids)
		st.Started = true

		_, version, err := r.Auctions.QueueState(ctx, auctionID)
		if err != nil {
			return fmt.Errorf("loading queue state: %w", err)
		}

		if err := r.Auctions.UpdateStatus(ctx, auctionID,
			[]domain.AuctionStatus{domain.AuctionDraft, domain.AuctionLobby}, domain.AuctionLive); err != nil {
			return fmt.Errorf("entering LIVE: %w", err)
		}

		first := players[0]
		round, err := e.openRound(ctx, r, a, &first, tiers[first.TierID])
		if err != nil {
			return err
		}
		events = append(events, roundOpenedEvent(round, first.Name))

		if err := r.Auctions.UpdateQueueState(ctx, auctionID, st, version); err != nil {
			return fmt.Errorf("seeding queue: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(auctionID, events)
	e.logger.InfoContext(ctx, "auction started", slog.String("auction_id", auctionID))
	return e.Snapshot(ctx, auctionID)
}

// End terminates a LIVE auction early: closes any open round and marks it
// COMPLETED.
func (e *Engine) End(ctx context.Context, auctionID string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.End",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	err := e.repos.WithTx(ctx, func(r *store.Repositories) error {
		if err := r.Auctions.UpdateStatus(ctx, auctionID,
			[]domain.AuctionStatus{domain.AuctionLive}, domain.AuctionCompleted); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.E(domain.KindPrecondition, "AUCTION_NOT_LIVE", "only a LIVE auction can be ended")
			}
			return err
		}
		return r.Rounds.CloseOpen(ctx, auctionID, e.clock.Now().UTC())
	})
	if err != nil {
		return err
	}

	e.broker.Publish(auctionID, fanout.EventAuctionCompleted, nil)
	e.logger.InfoContext(ctx, "auction ended", slog.String("auction_id", auctionID))
	return nil
}

func (e *Engine) loadAuction(ctx context.Context, r *store.Repositories, auctionID string) (*domain.Auction, error) {
	a, err := r.Auctions.GetByID(ctx, auctionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.Ef(domain.KindNotFound, "AUCTION_NOT_FOUND", "auction %s not found", auctionID)
		}
		return nil, fmt.Errorf("loading auction: %w", err)
	}
	return a, nil
}

func tierIndex(ctx context.Context, r *store.Repositories, auctionID string) (map[string]domain.Tier, error) {
	tiers, err := r.Tiers.ListByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("listing tiers: %w", err)
	}
	idx := make(map[string]domain.Tier, len(tiers))
	for _, t := range tiers {
		idx[t.ID] = t
	}
	return idx, nil
}
