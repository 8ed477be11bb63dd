package engine_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/gavel/internal/clock"
	"github.com/jensholdgaard/gavel/internal/domain"
	"github.com/jensholdgaard/gavel/internal/engine"
	"github.com/jensholdgaard/gavel/internal/fanout"
	"github.com/jensholdgaard/gavel/internal/store"
	"github.com/jensholdgaard/gavel/internal/store/memory"
)

type fixture struct {
	engine *engine.Engine
	repos  *store.Repositories
	broker *fanout.Broker
	clock  *clock.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewMock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	repos := memory.Open(clk)
	broker := fanout.NewBroker(slog.Default())
	return &fixture{
		engine: engine.New(repos, broker, slog.Default(), noop.NewTracerProvider(), clk, 20),
		repos:  repos,
		broker: broker,
		clock:  clk,
	}
}

// setup creates a started sealed auction with two teams and three players in
// a single tier, returning the auction and ids in creation order.
func (f *fixture) setup(t *testing.T, budget int64, squadSize int) (a *domain.Auction, teamIDs, playerIDs []string) {
	t.Helper()
	ctx := context.Background()

	a, err := f.engine.CreateAuction(ctx, engine.CreateAuctionParams{
		Name:          "league auction",
		OwnerUserID:   "owner",
		Mode:          domain.ModeSealed,
		BudgetPerTeam: budget,
		SquadSize:     squadSize,
		Currency:      "USD",
	})
	require.NoError(t, err)

	require.NoError(t, f.engine.ConfigureTiers(ctx, a.ID, []domain.Tier{
		{ID: "tier-a", Name: "A", BasePrice: 20},
	}))

	for _, name := range []string{"Team A", "Team B"} {
		team, err := f.engine.AddTeam(ctx, a.ID, engine.AddTeamParams{
			Name:          name,
			CaptainUserID: "captain-" + name,
			CaptainEmail:  name + "@example",
		})
		require.NoError(t, err)
		teamIDs = append(teamIDs, team.ID)
	}
	for _, name := range []string{"P1", "P2", "P3"} {
		f.clock.Advance(time.Second)
		p, err := f.engine.AddPlayer(ctx, a.ID, engine.AddPlayerParams{Name: name, TierID: "tier-a"})
		require.NoError(t, err)
		playerIDs = append(playerIDs, p.ID)
	}

	_, err = f.engine.Start(ctx, a.ID)
	require.NoError(t, err)
	return a, teamIDs, playerIDs
}

func TestStart_SeedsQueueByTierThenInsertionOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.engine.CreateAuction(ctx, engine.CreateAuctionParams{
		Name: "ordering", OwnerUserID: "owner", Mode: domain.ModeSealed,
		BudgetPerTeam: 1000, SquadSize: 5,
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.ConfigureTiers(ctx, a.ID, []domain.Tier{
		{ID: "gold", Name: "Gold", BasePrice: 100},
		{ID: "silver", Name: "Silver", BasePrice: 20},
	}))
	for i := 0; i < 2; i++ {
		_, err := f.engine.AddTeam(ctx, a.ID, engine.AddTeamParams{Name: "T" + string(rune('A'+i)), CaptainUserID: "u"})
		require.NoError(t, err)
	}

	// Interleave tiers so ordering is observable.
	var want []string
	for _, reg := range []struct{ name, tier string }{
		{"S1", "silver"}, {"G1", "gold"}, {"S2", "silver"}, {"G2", "gold"},
	} {
		f.clock.Advance(time.Second)
		p, err := f.engine.AddPlayer(ctx, a.ID, engine.AddPlayerParams{Name: reg.name, TierID: reg.tier})
		require.NoError(t, err)
		want = append(want, p.ID)
	}

	snap, err := f.engine.Start(ctx, a.ID)
	require.NoError(t, err)

	// Gold players first in insertion order, then silver.
	require.Equal(t, []string{want[1], want[3], want[0], want[2]}, snap.Remaining)
	require.Equal(t, domain.AuctionLive, snap.Status)
	require.NotNil(t, snap.Round)
	require.Equal(t, want[1], snap.Round.PlayerID)
	require.Equal(t, int64(100), snap.Round.BasePrice)
}

func TestStart_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.engine.CreateAuction(ctx, engine.CreateAuctionParams{
		Name: "short", OwnerUserID: "owner", Mode: domain.ModeSealed,
		BudgetPerTeam: 100, SquadSize: 3,
	})
	require.NoError(t, err)

	_, err = f.engine.Start(ctx, a.ID)
	de, ok := domain.AsError(err)
	require.True(t, ok)
	require.Equal(t, "NOT_ENOUGH_TEAMS", de.Code)

	for _, name := range []string{"TA", "TB"} {
		_, err := f.engine.AddTeam(ctx, a.ID, engine.AddTeamParams{Name: name, CaptainUserID: "u"})
		require.NoError(t, err)
	}

	_, err = f.engine.Start(ctx, a.ID)
	de, ok = domain.AsError(err)
	require.True(t, ok)
	require.Equal(t, "NO_PLAYERS", de.Code)
}

func TestSettle_SoldHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, teams, players := f.setup(t, 1000, 11)

	snap, err := f.engine.Settle(ctx, a.ID, engine.SettleParams{
		Action: domain.ActionSold, TeamID: teams[0], Amount: 100,
	})
	require.NoError(t, err)

	require.Equal(t, int64(900), snap.Teams[0].RemainingBudget)
	require.Len(t, snap.Teams[0].Players, 1)
	require.Equal(t, players[0], snap.Teams[0].Players[0].PlayerID)
	require.Equal(t, int64(1000), snap.Teams[1].RemainingBudget)

	// The cursor advanced and a fresh round is open for the next player.
	require.NotNil(t, snap.Round)
	require.Equal(t, players[1], snap.Round.PlayerID)
	require.Equal(t, domain.RoundOpen, snap.Round.Status)

	results, err := f.repos.Results.ListByAuction(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, teams[0], results[0].TeamID)
	require.Equal(t, int64(100), results[0].Amount)

	p, err := f.repos.Players.GetByID(ctx, players[0])
	require.NoError(t, err)
	require.Equal(t, domain.PlayerSold, p.Status)
}

func TestSettle_SoldRejectsOverBudgetAndFullSquad(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, teams, _ := f.setup(t, 100, 1)

	_, err := f.engine.Settle(ctx, a.ID, engine.SettleParams{
		Action: domain.ActionSold, TeamID: teams[0], Amount: 150,
	})
	de, ok := domain.AsError(err)
	require.True(t, ok)
	require.Equal(t, domain.KindBudget, de.Kind)

	_, err = f.engine.Settle(ctx, a.ID, engine.SettleParams{
		Action: domain.ActionSold, TeamID: teams[0], Amount: 100,
	})
	require.NoError(t, err)

	// Squad size 1: a second purchase must be refused.
	_, err = f.engine.Settle(ctx, a.ID, engine.SettleParams{
		Action: domain.ActionSold, TeamID: teams[0], Amount: 10,
	})
	de, ok = domain.AsError(err)
	require.True(t, ok)
	require.Equal(t, "SQUAD_FULL", de.Code)
}

func TestSettle_DeferThenAutoReturn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, teams, players := f.setup(t, 1000, 11)

	snap, err := f.engine.Settle(ctx, a.ID, engine.SettleParams{Action: domain.ActionDefer})
	require.NoError(t, err)
	require.Equal(t, []string{players[0]}, snap.Deferred)
	require.Equal(t, players[1], snap.Round.PlayerID)

	_, err = f.engine.Settle(ctx, a.ID, engine.SettleParams{Action: domain.ActionSold, TeamID: teams[0], Amount: 20})
	require.NoError(t, err)
	snap, err = f.engine.Settle(ctx, a.ID, engine.SettleParams{Action: domain.ActionSold, TeamID: teams[1], Amount: 20})
	require.NoError(t, err)

	// The deferred player came back at the tail and is now on the block.
	require.Empty(t, snap.Deferred)
	require.Equal(t, []string{players[0]}, snap.Remaining)
	require.Equal(t, players[0], snap.Round.PlayerID)
	require.Equal(t, domain.AuctionLive, snap.Status)
}

func TestSettle_UndoSoldRestoresEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, teams, players := f.setup(t, 1000, 11)

	sub := f.broker.Subscribe(a.ID, "observer", 32)
	defer f.broker.Unsubscribe(a.ID, sub)

	_, err := f.engine.Settle(ctx, a.ID, engine.SettleParams{
		Action: domain.ActionSold, TeamID: teams[0], Amount: 100,
	})
	require.NoError(t, err)

	snap, err := f.engine.Settle(ctx, a.ID, engine.SettleParams{Action: domain.ActionUndo})
	require.NoError(t, err)

	require.Equal(t, int64(1000), snap.Teams[0].RemainingBudget)
	require.Empty(t, snap.Teams[0].Players)
	require.Empty(t, snap.History)
	require.Equal(t, players[0], snap.Round.PlayerID)

	results, err := f.repos.Results.ListByAuction(ctx, a.ID)
	require.NoError(t, err)
	require.Empty(t, results)

	p, err := f.repos.Players.GetByID(ctx, players[0])
	require.NoError(t, err)
	require.Equal(t, domain.PlayerAvailable, p.Status)
}

func TestSettle_UndoWithEmptyHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, _, _ := f.setup(t, 1000, 11)

	_, err := f.engine.Settle(ctx, a.ID, engine.SettleParams{Action: domain.ActionUndo})
	de, ok := domain.AsError(err)
	require.True(t, ok)
	require.Equal(t, "NOTHING_TO_UNDO", de.Code)
}

func TestSettle_CompletesWhenQueueExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, teams, _ := f.setup(t, 1000, 11)

	sub := f.broker.Subscribe(a.ID, "observer", 64)
	defer f.broker.Unsubscribe(a.ID, sub)

	for i := 0; i < 3; i++ {
		_, err := f.engine.Settle(ctx, a.ID, engine.SettleParams{
			Action: domain.ActionSold, TeamID: teams[i%2], Amount: 20,
		})
		require.NoError(t, err)
	}

	got, err := f.repos.Auctions.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.AuctionCompleted, got.Status)

	_, err = f.repos.Rounds.GetOpenByAuction(ctx, a.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	var completed bool
	for len(sub.Ch) > 0 {
		if env := <-sub.Ch; env.Event == fanout.EventAuctionCompleted {
			completed = true
		}
	}
	require.True(t, completed)
}

func TestSettle_RequiresLiveAuction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.engine.CreateAuction(ctx, engine.CreateAuctionParams{
		Name: "draft", OwnerUserID: "owner", Mode: domain.ModeSealed,
		BudgetPerTeam: 100, SquadSize: 3,
	})
	require.NoError(t, err)

	_, err = f.engine.Settle(ctx, a.ID, engine.SettleParams{Action: domain.ActionDefer})
	de, ok := domain.AsError(err)
	require.True(t, ok)
	require.Equal(t, "AUCTION_NOT_LIVE", de.Code)
}

func TestForceOpenRound_PromotesPlayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, _, players := f.setup(t, 1000, 11)

	snap, err := f.engine.ForceOpenRound(ctx, a.ID, players[2])
	require.NoError(t, err)

	require.Equal(t, players[2], snap.Round.PlayerID)
	require.Equal(t, []string{players[2], players[0], players[1]}, snap.Remaining)
}

func TestForceCloseRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, _, _ := f.setup(t, 1000, 11)

	require.NoError(t, f.engine.ForceCloseRound(ctx, a.ID))

	_, err := f.repos.Rounds.GetOpenByAuction(ctx, a.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	err = f.engine.ForceCloseRound(ctx, a.ID)
	de, ok := domain.AsError(err)
	require.True(t, ok)
	require.Equal(t, "NO_OPEN_ROUND", de.Code)
}

func TestEnd_TerminatesLiveAuction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, _, _ := f.setup(t, 1000, 11)

	require.NoError(t, f.engine.End(ctx, a.ID))

	got, err := f.repos.Auctions.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.AuctionCompleted, got.Status)

	err = f.engine.End(ctx, a.ID)
	de, ok := domain.AsError(err)
	require.True(t, ok)
	require.Equal(t, domain.KindPrecondition, de.Kind)
}
