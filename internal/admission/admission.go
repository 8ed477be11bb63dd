// Package admission validates and serializes incoming bids. The pipeline is
// a strict sequence: authorization, round-open check, tier cap, amount floor,
// mode-specific admission, budget. Any failing step rejects the bid with a
// stable error code. Outcry raises are serialized by the store's atomic
// compare-and-swap; no cross-request locks are held.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/gavel/internal/authz"
	"github.com/jensholdgaard/gavel/internal/budget"
	"github.com/jensholdgaard/gavel/internal/clock"
	"github.com/jensholdgaard/gavel/internal/domain"
	"github.com/jensholdgaard/gavel/internal/engine"
	"github.com/jensholdgaard/gavel/internal/fanout"
	"github.com/jensholdgaard/gavel/internal/metrics"
	"github.com/jensholdgaard/gavel/internal/store"
)

// Service is the bid admission pipeline.
type Service struct {
	repos  *store.Repositories
	authz  *authz.Resolver
	broker *fanout.Broker
	logger *slog.Logger
	tracer trace.Tracer
	clock  clock.Clock
}

// NewService creates the admission Service.
func NewService(repos *store.Repositories, resolver *authz.Resolver, broker *fanout.Broker, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Service {
	return &Service{
		repos:  repos,
		authz:  resolver,
		broker: broker,
		logger: logger,
		tracer: tp.Tracer("github.com/jensholdgaard/gavel/internal/admission"),
		clock:  clk,
	}
}

// SealedBidParams carries one sealed-tender submission.
type SealedBidParams struct {
	AuctionID string
	TeamID    string
	RoundID   string
	PlayerID  string
	Amount    int64
}

// SubmitSealedBid admits a private sealed bid. Repeat submissions from the
// same team are allowed; each writes a fresh bid row and settlement treats
// the auctioneer's declared winner as authoritative.
func (s *Service) SubmitSealedBid(ctx context.Context, id authz.Identity, p SealedBidParams) (*domain.Bid, error) {
	ctx, span := s.tracer.Start(ctx, "Service.SubmitSealedBid",
		trace.WithAttributes(
			attribute.String("auction_id", p.AuctionID),
			attribute.String("team_id", p.TeamID),
			attribute.Int64("amount", p.Amount),
		),
	)
	defer span.End()
	defer s.observe(s.clock.Now())

	bid, err := s.admitSealed(ctx, id, p)
	if err != nil {
		s.reject(ctx, err, "sealed", p.TeamID)
		return nil, err
	}

	metrics.BidsAccepted.WithLabelValues("sealed").Inc()
	s.logger.InfoContext(ctx, "sealed bid accepted",
		slog.String("auction_id", p.AuctionID),
		slog.String("team_id", p.TeamID),
		slog.Int64("amount", p.Amount),
	)
	return bid, nil
}

func (s *Service) admitSealed(ctx context.Context, id authz.Identity, p SealedBidParams) (*domain.Bid, error) {
	a, round, player, err := s.loadRound(ctx, p.AuctionID, p.RoundID)
	if err != nil {
		return nil, err
	}
	if a.Mode != domain.ModeSealed {
		return nil, domain.E(domain.KindPrecondition, "WRONG_MODE", "auction is not in sealed-tender mode")
	}
	if p.PlayerID != "" && p.PlayerID != round.PlayerID {
		return nil, domain.Ef(domain.KindValidation, "PLAYER_NOT_ON_BLOCK", "player %s is not on the block", p.PlayerID)
	}

	if err := s.authz.AuthorizeBidder(ctx, id, p.TeamID, p.AuctionID); err != nil {
		return nil, err
	}
	if err := s.checkRoundOpen(round); err != nil {
		return nil, err
	}
	if err := engine.TierCapCheck(ctx, s.repos, a, p.TeamID, player); err != nil {
		return nil, err
	}
	if p.Amount < round.BasePrice {
		return nil, domain.Ef(domain.KindValidation, "AMOUNT_BELOW_FLOOR", "amount %d is below base price %d", p.Amount, round.BasePrice).
			WithDetails(map[string]any{"basePrice": round.BasePrice})
	}
	if err := s.checkBudget(ctx, a, p.TeamID, round.PlayerID, p.Amount); err != nil {
		return nil, err
	}

	bid := &domain.Bid{
		ID:          uuid.NewString(),
		RoundID:     round.ID,
		TeamID:      p.TeamID,
		Amount:      p.Amount,
		SubmittedAt: s.clock.Now().UTC(),
	}
	if err := s.repos.Bids.Create(ctx, bid); err != nil {
		return nil, fmt.Errorf("writing bid: %w", err)
	}
	return bid, nil
}

// RaiseResult is the accepted outcome of an outcry raise.
type RaiseResult struct {
	Bid            *domain.Bid `json:"bid"`
	Amount         int64       `json:"amount"`
	SequenceNumber int         `json:"sequence_number"`
	NextBidAmount  int64       `json:"next_bid_amount"`
	TimerExpiresAt *time.Time  `json:"timer_expires_at,omitempty"`
}

// Raise admits one open-outcry raise at exactly the next valid amount. The
// raise either wins the compare-and-swap on the round's bid count or loses
// with a stale-bid error carrying the new current state.
func (s *Service) Raise(ctx context.Context, id authz.Identity, auctionID, teamID string) (*RaiseResult, error) {
	ctx, span := s.tracer.Start(ctx, "Service.Raise",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("team_id", teamID),
		),
	)
	defer span.End()
	defer s.observe(s.clock.Now())

	res, err := s.admitRaise(ctx, id, auctionID, teamID)
	if err != nil {
		s.reject(ctx, err, "outcry", teamID)
		return nil, err
	}

	metrics.BidsAccepted.WithLabelValues("outcry").Inc()
	s.logger.InfoContext(ctx, "outcry raise accepted",
		slog.String("auction_id", auctionID),
		slog.String("team_id", teamID),
		slog.Int64("amount", res.Amount),
		slog.Int("sequence", res.SequenceNumber),
	)
	return res, nil
}

func (s *Service) admitRaise(ctx context.Context, id authz.Identity, auctionID, teamID string) (*RaiseResult, error) {
	a, err := s.repos.Auctions.GetByID(ctx, auctionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.Ef(domain.KindNotFound, "AUCTION_NOT_FOUND", "auction %s not found", auctionID)
		}
		return nil, fmt.Errorf("loading auction: %w", err)
	}
	if a.Mode != domain.ModeOutcry {
		return nil, domain.E(domain.KindPrecondition, "WRONG_MODE", "auction is not in open-outcry mode")
	}
	if a.Status != domain.AuctionLive {
		return nil, domain.ErrNotLive(a.Status)
	}

	if err := s.authz.AuthorizeBidder(ctx, id, teamID, auctionID); err != nil {
		return nil, err
	}

	round, err := s.repos.Rounds.GetOpenByAuction(ctx, auctionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.E(domain.KindPrecondition, "NO_OPEN_ROUND", "no round is open for bidding")
		}
		return nil, fmt.Errorf("loading open round: %w", err)
	}
	now := s.clock.Now().UTC()
	if round.Expired(now) {
		return nil, domain.ErrRoundExpired()
	}
	if round.CurrentBidTeamID != nil && *round.CurrentBidTeamID == teamID {
		return nil, domain.E(domain.KindPrecondition, "ALREADY_HIGH_BIDDER", "team already holds the current high bid")
	}

	player, err := s.repos.Players.GetByID(ctx, round.PlayerID)
	if err != nil {
		return nil, fmt.Errorf("loading player: %w", err)
	}
	if err := engine.TierCapCheck(ctx, s.repos, a, teamID, player); err != nil {
		return nil, err
	}

	var current int64
	if round.CurrentBidAmount != nil {
		current = *round.CurrentBidAmount
	}
	amount := budget.NextBidAmount(current, round.BasePrice, a.IncrementRules)

	if err := s.checkBudget(ctx, a, teamID, round.PlayerID, amount); err != nil {
		return nil, err
	}

	var expires *time.Time
	if a.TimerSeconds > 0 {
		t := now.Add(time.Duration(a.TimerSeconds) * time.Second)
		expires = &t
	}
	params := store.RaiseParams{
		RoundID:          round.ID,
		TeamID:           teamID,
		ExpectedBidCount: round.BidCount,
		BidID:            uuid.NewString(),
		Amount:           amount,
		Sequence:         round.BidCount + 1,
		SubmittedAt:      now,
		TimerExpiresAt:   expires,
	}
	accepted, err := s.repos.Rounds.AtomicOutcryRaise(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("outcry raise: %w", err)
	}
	if !accepted {
		return nil, s.staleBidError(ctx, a, round.ID)
	}

	team, err := s.repos.Teams.GetByID(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("loading team: %w", err)
	}

	seq := params.Sequence
	bid := &domain.Bid{
		ID:             params.BidID,
		RoundID:        round.ID,
		TeamID:         teamID,
		Amount:         amount,
		SequenceNumber: &seq,
		SubmittedAt:    now,
	}
	next := budget.NextBidAmount(amount, round.BasePrice, a.IncrementRules)

	s.broker.Publish(auctionID, fanout.EventOutcryBid, fanout.OutcryBidPayload{
		RoundID:        round.ID,
		BidID:          bid.ID,
		SequenceNumber: seq,
		TeamID:         teamID,
		TeamName:       team.Name,
		Amount:         amount,
		NextBidAmount:  next,
		BasePrice:      round.BasePrice,
		PlayerID:       round.PlayerID,
		TimerExpiresAt: expires,
	})

	return &RaiseResult{
		Bid:            bid,
		Amount:         amount,
		SequenceNumber: seq,
		NextBidAmount:  next,
		TimerExpiresAt: expires,
	}, nil
}

// staleBidError re-reads the round and reports the state the losing bidder
// should reconcile against.
func (s *Service) staleBidError(ctx context.Context, a *domain.Auction, roundID string) error {
	e := domain.E(domain.KindStaleBid, "STALE_BID", "another raise was accepted first")

	round, err := s.repos.Rounds.GetByID(ctx, roundID)
	if err != nil {
		return e
	}
	var current int64
	if round.CurrentBidAmount != nil {
		current = *round.CurrentBidAmount
	}
	details := map[string]any{
		"currentBid":     current,
		"sequenceNumber": round.BidCount,
		"nextBidAmount":  budget.NextBidAmount(current, round.BasePrice, a.IncrementRules),
	}
	if round.CurrentBidTeamID != nil {
		details["currentBidTeamId"] = *round.CurrentBidTeamID
	}
	return e.WithDetails(details)
}

func (s *Service) loadRound(ctx context.Context, auctionID, roundID string) (*domain.Auction, *domain.Round, *domain.Player, error) {
	a, err := s.repos.Auctions.GetByID(ctx, auctionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, nil, domain.Ef(domain.KindNotFound, "AUCTION_NOT_FOUND", "auction %s not found", auctionID)
		}
		return nil, nil, nil, fmt.Errorf("loading auction: %w", err)
	}
	if a.Status != domain.AuctionLive {
		return nil, nil, nil, domain.ErrNotLive(a.Status)
	}

	round, err := s.repos.Rounds.GetByID(ctx, roundID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, nil, domain.Ef(domain.KindNotFound, "ROUND_NOT_FOUND", "round %s not found", roundID)
		}
		return nil, nil, nil, fmt.Errorf("loading round: %w", err)
	}
	if round.AuctionID != auctionID {
		return nil, nil, nil, domain.E(domain.KindValidation, "ROUND_MISMATCH", "round does not belong to this auction")
	}

	player, err := s.repos.Players.GetByID(ctx, round.PlayerID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading player: %w", err)
	}
	return a, round, player, nil
}

func (s *Service) checkRoundOpen(round *domain.Round) error {
	if round.Status != domain.RoundOpen {
		return domain.ErrRoundClosed()
	}
	if round.Expired(s.clock.Now().UTC()) {
		return domain.ErrRoundExpired()
	}
	return nil
}

// checkBudget enforces solvency: the amount must leave enough budget to fill
// every remaining slot at base price.
func (s *Service) checkBudget(ctx context.Context, a *domain.Auction, teamID, playerID string, amount int64) error {
	in, err := engine.BudgetInput(ctx, s.repos, a, teamID, playerID)
	if err != nil {
		return err
	}
	if in.SlotsNeeded() <= 0 {
		return domain.E(domain.KindPrecondition, "SQUAD_FULL", "team has no open squad slots")
	}
	maxAllowed := budget.MaxAllowedBid(in)
	if amount > maxAllowed {
		return domain.Ef(domain.KindBudget, "INSUFFICIENT_BUDGET",
			"amount %d exceeds max allowed bid %d", amount, maxAllowed).
			WithDetails(map[string]any{
				"remainingBudget": in.RemainingBudget,
				"maxAllowed":      maxAllowed,
			})
	}
	return nil
}

func (s *Service) reject(ctx context.Context, err error, mode, teamID string) {
	code := "INTERNAL"
	if de, ok := domain.AsError(err); ok {
		code = de.Code
	}
	metrics.BidsRejected.WithLabelValues(code).Inc()
	s.logger.InfoContext(ctx, "bid rejected",
		slog.String("mode", mode),
		slog.String("team_id", teamID),
		slog.String("code", code),
	)
}

func (s *Service) observe(start time.Time) {
	metrics.AdmissionDuration.Observe(s.clock.Now().Sub(start).Seconds())
}
