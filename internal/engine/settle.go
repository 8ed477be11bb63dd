package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/gavel/internal/domain"
	"github.com/jensholdgaard/gavel/internal/fanout"
	"github.com/jensholdgaard/gavel/internal/metrics"
	"github.com/jensholdgaard/gavel/internal/queue"
	"github.com/jensholdgaard/gavel/internal/store"
)

// SettleParams carries one auctioneer action. TeamID and Amount are required
// for SOLD and ignored otherwise.
type SettleParams struct {
	Action domain.SettleAction
	TeamID string
	Amount int64
}

// pendingEvent is buffered during a settlement transaction and published
// only after commit, so observers never see a rolled-back transition.
type pendingEvent struct {
	event   string
	payload any
}

func roundOpenedEvent(r *domain.Round, playerName string) pendingEvent {
	return pendingEvent{fanout.EventRoundOpened, fanout.RoundOpenedPayload{
		RoundID:        r.ID,
		PlayerID:       r.PlayerID,
		PlayerName:     playerName,
		TierID:         r.TierID,
		BasePrice:      r.BasePrice,
		TimerExpiresAt: r.TimerExpiresAt,
	}}
}

func (e *Engine) publish(auctionID string, events []pendingEvent) {
	for _, ev := range events {
		e.broker.Publish(auctionID, ev.event, ev.payload)
	}
}

// Settle applies one auctioneer action to the current round: writes the
// result, advances the queue, closes the open round, and opens the next one,
// all in a single transaction. The queue write carries the version read at
// the start, so a concurrent settlement loses with ErrVersionConflict and
// nothing is applied.
func (e *Engine) Settle(ctx context.Context, auctionID string, p SettleParams) (*Snapshot, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Settle",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("action", string(p.Action)),
		),
	)
	defer span.End()

	var events []pendingEvent
	err := e.repos.WithTx(ctx, func(r *store.Repositories) error {
		a, err := e.loadAuction(ctx, r, auctionID)
		if err != nil {
			return err
		}
		if a.Status != domain.AuctionLive {
			return domain.ErrNotLive(a.Status)
		}

		st, version, err := r.Auctions.QueueState(ctx, auctionID)
		if err != nil {
			return fmt.Errorf("loading queue state: %w", err)
		}
		tiers, err := tierIndex(ctx, r, auctionID)
		if err != nil {
			return err
		}

		switch p.Action {
		case domain.ActionSold:
			events, err = e.applySold(ctx, r, a, &st, tiers, p)
		case domain.ActionUnsold:
			events, err = e.applyUnsold(ctx, r, a, &st)
		case domain.ActionDefer:
			events, err = e.applyDefer(ctx, r, a, &st)
		case domain.ActionUndo:
			events, err = e.applyUndo(ctx, r, a, &st)
		default:
			return domain.Ef(domain.KindValidation, "INVALID_ACTION", "unknown settlement action %q", p.Action)
		}
		if err != nil {
			return err
		}

		st.AutoReturn()

		open, err := r.Rounds.GetOpenByAuction(ctx, auctionID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("loading open round: %w", err)
		}
		if err := r.Rounds.CloseOpen(ctx, auctionID, e.clock.Now().UTC()); err != nil {
			return fmt.Errorf("closing open round: %w", err)
		}
		if open != nil {
			events = append(events, pendingEvent{fanout.EventRoundClosed, fanout.RoundClosedPayload{RoundID: open.ID}})
		}

		if next, ok := st.Current(); ok {
			player, err := r.Players.GetByID(ctx, next)
			if err != nil {
				return fmt.Errorf("loading next player: %w", err)
			}
			round, err := e.openRound(ctx, r, a, player, tiers[player.TierID])
			if err != nil {
				return err
			}
			events = append(events, roundOpenedEvent(round, player.Name))
		} else {
			if err := r.Auctions.UpdateStatus(ctx, auctionID,
				[]domain.AuctionStatus{domain.AuctionLive}, domain.AuctionCompleted); err != nil {
				return fmt.Errorf("completing auction: %w", err)
			}
			events = append(events, pendingEvent{fanout.EventAuctionCompleted, nil})
		}

		if err := r.Auctions.UpdateQueueState(ctx, auctionID, st, version); err != nil {
			return fmt.Errorf("persisting queue state: %w", err)
		}
		return nil
	})
	if err != nil {
		events = nil
		return nil, err
	}

	metrics.SettlementActions.WithLabelValues(string(p.Action)).Inc()
	e.publish(auctionID, events)
	e.logger.InfoContext(ctx, "settlement applied",
		slog.String("auction_id", auctionID),
		slog.String("action", string(p.Action)),
	)
	return e.Snapshot(ctx, auctionID)
}

// applySold assigns the current player to the declared team at the declared
// amount. The auctioneer's (team, amount) is authoritative for winner choice;
// solvency, squad size, and tier caps are still enforced so a typo cannot
// break the budget invariants.
func (e *Engine) applySold(ctx context.Context, r *store.Repositories, a *domain.Auction, st *queue.State, tiers map[string]domain.Tier, p SettleParams) ([]pendingEvent, error) {
	playerID, ok := st.Current()
	if !ok {
		return nil, domain.E(domain.KindPrecondition, "QUEUE_EXHAUSTED", "no player on the block")
	}
	if p.TeamID == "" || p.Amount <= 0 {
		return nil, domain.E(domain.KindValidation, "INVALID_SALE", "SOLD requires a team and a positive amount")
	}

	team, err := r.Teams.GetByID(ctx, p.TeamID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.Ef(domain.KindNotFound, "TEAM_NOT_FOUND", "team %s not found", p.TeamID)
		}
		return nil, fmt.Errorf("loading team: %w", err)
	}
	player, err := r.Players.GetByID(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("loading player: %w", err)
	}

	if err := checkSale(ctx, r, a, tiers, team.ID, player, p.Amount); err != nil {
		return nil, err
	}

	res := &domain.Result{
		AuctionID:  a.ID,
		PlayerID:   playerID,
		TeamID:     team.ID,
		Amount:     p.Amount,
		AssignedAt: e.clock.Now().UTC(),
	}
	if err := r.Results.Upsert(ctx, res); err != nil {
		return nil, fmt.Errorf("upserting result: %w", err)
	}
	if err := r.Players.UpdateStatus(ctx, playerID, domain.PlayerSold); err != nil {
		return nil, fmt.Errorf("marking player sold: %w", err)
	}
	if open, err := r.Rounds.GetOpenByAuction(ctx, a.ID); err == nil {
		if err := r.Bids.MarkWinning(ctx, open.ID, team.ID); err != nil {
			return nil, fmt.Errorf("marking winning bid: %w", err)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading open round: %w", err)
	}
	if err := st.ApplySold(player.Name, team.ID, team.Name, p.Amount); err != nil {
		return nil, err
	}

	return []pendingEvent{{fanout.EventPlayerSold, fanout.PlayerSoldPayload{
		PlayerID:   player.ID,
		PlayerName: player.Name,
		TeamID:     team.ID,
		TeamName:   team.Name,
		Amount:     p.Amount,
	}}}, nil
}

// checkSale enforces squad size, solvency, and tier cap at settlement time.
func checkSale(ctx context.Context, r *store.Repositories, a *domain.Auction, tiers map[string]domain.Tier, teamID string, player *domain.Player, amount int64) error {
	results, err := r.Results.ListByAuction(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("listing results: %w", err)
	}

	var spent int64
	squad := 0
	for _, res := range results {
		if res.TeamID == teamID {
			spent += res.Amount
			squad++
		}
	}
	if squad >= a.SquadSize {
		return domain.Ef(domain.KindPrecondition, "SQUAD_FULL", "team already holds %d of %d players", squad, a.SquadSize)
	}
	if remaining := a.BudgetPerTeam - spent; amount > remaining {
		return domain.Ef(domain.KindBudget, "INSUFFICIENT_BUDGET", "amount %d exceeds remaining budget %d", amount, remaining).
			WithDetails(map[string]any{"remainingBudget": remaining, "maxAllowed": remaining})
	}

	tier, ok := tiers[player.TierID]
	if ok && tier.MaxPerTeam != nil {
		held, err := tierCount(ctx, r, a.ID, teamID, player.TierID, results)
		if err != nil {
			return err
		}
		if held >= *tier.MaxPerTeam {
			return domain.Ef(domain.KindPrecondition, "TIER_CAP_EXCEEDED", "team already holds %d players of tier %s", held, tier.Name)
		}
	}
	return nil
}

func (e *Engine) applyUnsold(ctx context.Context, r *store.Repositories, a *domain.Auction, st *queue.State) ([]pendingEvent, error) {
	playerID, ok := st.Current()
	if !ok {
		return nil, domain.E(domain.KindPrecondition, "QUEUE_EXHAUSTED", "no player on the block")
	}
	player, err := r.Players.GetByID(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("loading player: %w", err)
	}
	if err := r.Players.UpdateStatus(ctx, playerID, domain.PlayerUnsold); err != nil {
		return nil, fmt.Errorf("marking player unsold: %w", err)
	}
	if err := st.ApplyUnsold(player.Name); err != nil {
		return nil, err
	}
	return []pendingEvent{{fanout.EventPlayerUnsold, fanout.PlayerPayload{PlayerID: player.ID, PlayerName: player.Name}}}, nil
}

func (e *Engine) applyDefer(ctx context.Context, r *store.Repositories, a *domain.Auction, st *queue.State) ([]pendingEvent, error) {
	playerID, ok := st.Current()
	if !ok {
		return nil, domain.E(domain.KindPrecondition, "QUEUE_EXHAUSTED", "no player on the block")
	}
	player, err := r.Players.GetByID(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("loading player: %w", err)
	}
	if err := st.ApplyDefer(player.Name); err != nil {
		return nil, err
	}
	return []pendingEvent{{fanout.EventPlayerDeferred, fanout.PlayerPayload{PlayerID: player.ID, PlayerName: player.Name}}}, nil
}

// applyUndo inverts the last settlement action: the queue mutation through
// the history pop, plus the persisted side effects (result row, player
// status) for SOLD and UNSOLD.
func (e *Engine) applyUndo(ctx context.Context, r *store.Repositories, a *domain.Auction, st *queue.State) ([]pendingEvent, error) {
	entry, err := st.Undo()
	if err != nil {
		return nil, err
	}
	switch entry.Action {
	case domain.HistorySold:
		if err := r.Results.Delete(ctx, a.ID, entry.PlayerID); err != nil {
			return nil, fmt.Errorf("deleting result: %w", err)
		}
		if err := r.Players.UpdateStatus(ctx, entry.PlayerID, domain.PlayerAvailable); err != nil {
			return nil, fmt.Errorf("restoring player status: %w", err)
		}
	case domain.HistoryUnsold:
		if err := r.Players.UpdateStatus(ctx, entry.PlayerID, domain.PlayerAvailable); err != nil {
			return nil, fmt.Errorf("restoring player status: %w", err)
		}
	}
	return nil, nil
}

// ForceOpenRound promotes a queued player to the cursor and opens a round for
// it, closing any open round first.
func (e *Engine) ForceOpenRound(ctx context.Context, auctionID, playerID string) (*Snapshot, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.ForceOpenRound",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("player_id", playerID),
		),
	)
	defer span.End()

	var events []pendingEvent
	err := e.repos.WithTx(ctx, func(r *store.Repositories) error {
		a, err := e.loadAuction(ctx, r, auctionID)
		if err != nil {
			return err
		}
		if a.Status != domain.AuctionLive {
			return domain.ErrNotLive(a.Status)
		}

		st, version, err := r.Auctions.QueueState(ctx, auctionID)
		if err != nil {
			return fmt.Errorf("loading queue state: %w", err)
		}
		if err := st.Promote(playerID); err != nil {
			return err
		}

		open, err := r.Rounds.GetOpenByAuction(ctx, auctionID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("loading open round: %w", err)
		}
		if err := r.Rounds.CloseOpen(ctx, auctionID, e.clock.Now().UTC()); err != nil {
			return fmt.Errorf("closing open round: %w", err)
		}
		if open != nil {
			events = append(events, pendingEvent{fanout.EventRoundClosed, fanout.RoundClosedPayload{RoundID: open.ID}})
		}

		player, err := r.Players.GetByID(ctx, playerID)
		if err != nil {
			return fmt.Errorf("loading player: %w", err)
		}
		tiers, err := tierIndex(ctx, r, auctionID)
		if err != nil {
			return err
		}
		round, err := e.openRound(ctx, r, a, player, tiers[player.TierID])
		if err != nil {
			return err
		}
		events = append(events, roundOpenedEvent(round, player.Name))

		return r.Auctions.UpdateQueueState(ctx, auctionID, st, version)
	})
	if err != nil {
		return nil, err
	}

	e.publish(auctionID, events)
	return e.Snapshot(ctx, auctionID)
}

// ForceCloseRound closes the open round without settling the player. Bidding
// stops until the auctioneer acts or reopens.
func (e *Engine) ForceCloseRound(ctx context.Context, auctionID string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.ForceCloseRound",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	open, err := e.repos.Rounds.GetOpenByAuction(ctx, auctionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.E(domain.KindPrecondition, "NO_OPEN_ROUND", "no open round to close")
		}
		return fmt.Errorf("loading open round: %w", err)
	}
	if err := e.repos.Rounds.CloseOpen(ctx, auctionID, e.clock.Now().UTC()); err != nil {
		return fmt.Errorf("closing round: %w", err)
	}

	e.broker.Publish(auctionID, fanout.EventRoundClosed, fanout.RoundClosedPayload{RoundID: open.ID})
	return nil
}

// openRound creates an OPEN round for the player. Outcry rounds start with
// the anti-snipe timer armed; sealed rounds have no timer and are closed
// explicitly by settlement.
func (e *Engine) openRound(ctx context.Context, r *store.Repositories, a *domain.Auction, player *domain.Player, tier domain.Tier) (*domain.Round, error) {
	now := e.clock.Now().UTC()
	round := &domain.Round{
		ID:        uuid.NewString(),
		AuctionID: a.ID,
		PlayerID:  player.ID,
		TierID:    player.TierID,
		Status:    domain.RoundOpen,
		BasePrice: tier.BasePrice,
		OpenedAt:  now,
	}
	if a.Mode == domain.ModeOutcry && a.TimerSeconds > 0 {
		exp := now.Add(timerDuration(a.TimerSeconds))
		round.TimerExpiresAt = &exp
	}
	if err := r.Rounds.Create(ctx, round); err != nil {
		return nil, fmt.Errorf("creating round: %w", err)
	}
	return round, nil
}
