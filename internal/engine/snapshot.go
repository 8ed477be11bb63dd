package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jensholdgaard/gavel/internal/budget"
	"github.com/jensholdgaard/gavel/internal/domain"
	"github.com/jensholdgaard/gavel/internal/store"
)

// SquadPlayer is one purchased player inside a team state.
type SquadPlayer struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	Price      int64  `json:"price"`
}

// TeamState is a team's derived standing: remaining budget and squad.
type TeamState struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	RemainingBudget int64         `json:"remaining_budget"`
	SlotsNeeded     int           `json:"slots_needed"`
	Players         []SquadPlayer `json:"players"`
}

// RoundView is the current round as shown to clients, with the next valid
// outcry amount precomputed.
type RoundView struct {
	RoundID          string             `json:"round_id"`
	PlayerID         string             `json:"player_id"`
	PlayerName       string             `json:"player_name"`
	TierID           string             `json:"tier_id"`
	Status           domain.RoundStatus `json:"status"`
	BasePrice        int64              `json:"base_price"`
	CurrentBidAmount *int64             `json:"current_bid_amount,omitempty"`
	CurrentBidTeamID *string            `json:"current_bid_team_id,omitempty"`
	BidCount         int                `json:"bid_count"`
	NextBidAmount    int64              `json:"next_bid_amount"`
	TimerExpiresAt   *time.Time         `json:"timer_expires_at,omitempty"`
}

// Snapshot is the canonical auction state returned by every settlement
// action. Clients reconstruct from it without relying on event delivery.
type Snapshot struct {
	AuctionID string                `json:"auction_id"`
	Status    domain.AuctionStatus  `json:"status"`
	Mode      domain.BiddingMode    `json:"mode"`
	Teams     []TeamState           `json:"teams"`
	Remaining []string              `json:"remaining"`
	Deferred  []string              `json:"deferred"`
	Unsold    []string              `json:"unsold"`
	History   []domain.HistoryEntry `json:"history"`
	Round     *RoundView            `json:"round,omitempty"`
	ServerNow time.Time             `json:"server_now"`
}

// Snapshot builds the canonical auction state from the store.
func (e *Engine) Snapshot(ctx context.Context, auctionID string) (*Snapshot, error) {
	a, err := e.loadAuction(ctx, e.repos, auctionID)
	if err != nil {
		return nil, err
	}

	st, _, err := e.repos.Auctions.QueueState(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("loading queue state: %w", err)
	}
	teams, err := e.repos.Teams.ListByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}
	results, err := e.repos.Results.ListByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}
	players, err := e.repos.Players.ListByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	names := make(map[string]string, len(players))
	for _, p := range players {
		names[p.ID] = p.Name
	}

	teamStates := make([]TeamState, 0, len(teams))
	for _, t := range teams {
		ts := TeamState{ID: t.ID, Name: t.Name, RemainingBudget: a.BudgetPerTeam}
		for _, res := range results {
			if res.TeamID != t.ID {
				continue
			}
			ts.RemainingBudget -= res.Amount
			ts.Players = append(ts.Players, SquadPlayer{
				PlayerID:   res.PlayerID,
				PlayerName: names[res.PlayerID],
				Price:      res.Amount,
			})
		}
		ts.SlotsNeeded = a.SquadSize - len(ts.Players)
		teamStates = append(teamStates, ts)
	}

	snap := &Snapshot{
		AuctionID: auctionID,
		Status:    a.Status,
		Mode:      a.Mode,
		Teams:     teamStates,
		Remaining: st.Remaining(),
		Deferred:  st.Deferred,
		Unsold:    st.Unsold,
		History:   st.HistoryTail(e.historyTail),
		ServerNow: e.clock.Now().UTC(),
	}

	round, err := e.repos.Rounds.GetOpenByAuction(ctx, auctionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("loading open round: %w", err)
		}
		return snap, nil
	}
	snap.Round = e.roundView(a, round, names[round.PlayerID])
	return snap, nil
}

// OutcryState returns the current round view alone, for fast polling by
// outcry clients.
func (e *Engine) OutcryState(ctx context.Context, auctionID string) (*RoundView, error) {
	a, err := e.loadAuction(ctx, e.repos, auctionID)
	if err != nil {
		return nil, err
	}
	round, err := e.repos.Rounds.GetOpenByAuction(ctx, auctionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.E(domain.KindNotFound, "NO_OPEN_ROUND", "no round is open")
		}
		return nil, fmt.Errorf("loading open round: %w", err)
	}
	player, err := e.repos.Players.GetByID(ctx, round.PlayerID)
	if err != nil {
		return nil, fmt.Errorf("loading player: %w", err)
	}
	return e.roundView(a, round, player.Name), nil
}

func (e *Engine) roundView(a *domain.Auction, r *domain.Round, playerName string) *RoundView {
	var current int64
	if r.CurrentBidAmount != nil {
		current = *r.CurrentBidAmount
	}
	return &RoundView{
		RoundID:          r.ID,
		PlayerID:         r.PlayerID,
		PlayerName:       playerName,
		TierID:           r.TierID,
		Status:           r.Status,
		BasePrice:        r.BasePrice,
		CurrentBidAmount: r.CurrentBidAmount,
		CurrentBidTeamID: r.CurrentBidTeamID,
		BidCount:         r.BidCount,
		NextBidAmount:    budget.NextBidAmount(current, r.BasePrice, a.IncrementRules),
		TimerExpiresAt:   r.TimerExpiresAt,
	}
}
