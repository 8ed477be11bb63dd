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

func timerDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// BudgetInput assembles the solver input for a team. excludePlayerID is the
// player currently on the block: it is excluded from the remaining pool
// because the bid under evaluation is for it, not for a future slot.
func BudgetInput(ctx context.Context, r *store.Repositories, a *domain.Auction, teamID, excludePlayerID string) (budget.Input, error) {
	results, err := r.Results.ListByAuction(ctx, a.ID)
	if err != nil {
		return budget.Input{}, fmt.Errorf("listing results: %w", err)
	}
	teams, err := r.Teams.ListByAuction(ctx, a.ID)
	if err != nil {
		return budget.Input{}, fmt.Errorf("listing teams: %w", err)
	}
	players, err := r.Players.ListByAuction(ctx, a.ID)
	if err != nil {
		return budget.Input{}, fmt.Errorf("listing players: %w", err)
	}
	tiers, err := tierIndex(ctx, r, a.ID)
	if err != nil {
		return budget.Input{}, err
	}

	in := budget.Input{RemainingBudget: a.BudgetPerTeam, SquadSize: a.SquadSize}

	squadByTeam := make(map[string]int, len(teams))
	for _, res := range results {
		squadByTeam[res.TeamID]++
		if res.TeamID == teamID {
			in.RemainingBudget -= res.Amount
			in.SquadCount++
		}
	}
	for _, t := range teams {
		if open := a.SquadSize - squadByTeam[t.ID]; open > 0 {
			in.TotalSlotsNeeded += open
		}
	}

	lowest := int64(0)
	for _, t := range tiers {
		if lowest == 0 || t.BasePrice < lowest {
			lowest = t.BasePrice
		}
	}
	in.LowestBasePrice = lowest

	for _, p := range players {
		if p.Status != domain.PlayerAvailable || p.ID == excludePlayerID {
			continue
		}
		in.RemainingBasePrices = append(in.RemainingBasePrices, tiers[p.TierID].BasePrice)
	}
	return in, nil
}

// tierCount counts the team's purchased players belonging to tierID.
// results may be preloaded; pass nil to load them here.
func tierCount(ctx context.Context, r *store.Repositories, auctionID, teamID, tierID string, results []domain.Result) (int, error) {
	if results == nil {
		var err error
		results, err = r.Results.ListByAuction(ctx, auctionID)
		if err != nil {
			return 0, fmt.Errorf("listing results: %w", err)
		}
	}
	n := 0
	for _, res := range results {
		if res.TeamID != teamID {
			continue
		}
		p, err := r.Players.GetByID(ctx, res.PlayerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return 0, fmt.Errorf("loading player: %w", err)
		}
		if p.TierID == tierID {
			n++
		}
	}
	return n, nil
}

// TierCapCheck rejects a bid for player when the team already holds the
// tier's MaxPerTeam. Tiers without a cap always pass.
func TierCapCheck(ctx context.Context, r *store.Repositories, a *domain.Auction, teamID string, player *domain.Player) error {
	tiers, err := tierIndex(ctx, r, a.ID)
	if err != nil {
		return err
	}
	tier, ok := tiers[player.TierID]
	if !ok || tier.MaxPerTeam == nil {
		return nil
	}
	held, err := tierCount(ctx, r, a.ID, teamID, player.TierID, nil)
	if err != nil {
		return err
	}
	if held >= *tier.MaxPerTeam {
		return domain.Ef(domain.KindPrecondition, "TIER_CAP_EXCEEDED",
			"team already holds %d players of tier %s", held, tier.Name)
	}
	return nil
}
