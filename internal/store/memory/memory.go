// Package memory provides a store.Driver backed by in-process maps. It is
// the development and unit-test backend; the postgres driver is the
// production one. All operations are guarded by a single mutex, and WithTx
// gets transactional semantics by snapshotting the data set and restoring it
// when the function fails.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/jensholdgaard/gavel/internal/clock"
	"github.com/jensholdgaard/gavel/internal/config"
	"github.com/jensholdgaard/gavel/internal/domain"
	"github.com/jensholdgaard/gavel/internal/queue"
	"github.com/jensholdgaard/gavel/internal/store"
)

func init() {
	store.Register("memory", func(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
		return Open(clk), nil
	})
}

type auctionRow struct {
	auction domain.Auction
	state   queue.State
	version int64
}

// dataset holds every table. Cloned wholesale for transaction rollback;
// rows are stored by value so a shallow map copy is a deep copy.
type dataset struct {
	auctions     map[string]auctionRow
	tiers        map[string][]domain.Tier
	teams        map[string]domain.Team
	players      map[string]domain.Player
	rounds       map[string]domain.Round
	bids         map[string]domain.Bid
	bidOrder     map[string][]string // roundID -> bid ids in insertion order
	results      map[string]domain.Result // auctionID+"/"+playerID
	members      map[string]domain.TeamMember
	participants map[string]domain.Participant
}

func newDataset() *dataset {
	return &dataset{
		auctions:     map[string]auctionRow{},
		tiers:        map[string][]domain.Tier{},
		teams:        map[string]domain.Team{},
		players:      map[string]domain.Player{},
		rounds:       map[string]domain.Round{},
		bids:         map[string]domain.Bid{},
		bidOrder:     map[string][]string{},
		results:      map[string]domain.Result{},
		members:      map[string]domain.TeamMember{},
		participants: map[string]domain.Participant{},
	}
}

func (d *dataset) clone() *dataset {
	c := newDataset()
	c.auctions = maps.Clone(d.auctions)
	c.teams = maps.Clone(d.teams)
	c.players = maps.Clone(d.players)
	c.rounds = maps.Clone(d.rounds)
	c.bids = maps.Clone(d.bids)
	c.results = maps.Clone(d.results)
	c.members = maps.Clone(d.members)
	c.participants = maps.Clone(d.participants)
	for k, v := range d.tiers {
		c.tiers[k] = append([]domain.Tier(nil), v...)
	}
	for k, v := range d.bidOrder {
		c.bidOrder[k] = append([]string(nil), v...)
	}
	// Queue states hold slices; deep-copy them.
	for k, v := range c.auctions {
		v.state = cloneState(v.state)
		c.auctions[k] = v
	}
	return c
}

func cloneState(s queue.State) queue.State {
	s.Queue = append([]string(nil), s.Queue...)
	s.Deferred = append([]string(nil), s.Deferred...)
	s.Unsold = append([]string(nil), s.Unsold...)
	s.History = append([]domain.HistoryEntry(nil), s.History...)
	return s
}

// Store is the shared state behind all repositories of one driver instance.
type Store struct {
	mu   sync.Mutex
	data *dataset
	clk  clock.Clock
}

// Open returns Repositories over a fresh in-memory store.
func Open(clk clock.Clock) *store.Repositories {
	s := &Store{data: newDataset(), clk: clk}
	return s.repos(true)
}

func (s *Store) repos(locking bool) *store.Repositories {
	b := base{s: s, locking: locking}
	r := &store.Repositories{
		Auctions: &auctionRepo{b},
		Tiers:    &tierRepo{b},
		Teams:    &teamRepo{b},
		Players:  &playerRepo{b},
		Rounds:   &roundRepo{b},
		Bids:     &bidRepo{b},
		Results:  &resultRepo{b},
		Access:   &accessRepo{b},
		Close:    func() error { return nil },
		Ping:     func(ctx context.Context) error { return nil },
	}
	if locking {
		r.WithTx = s.withTx
	} else {
		// Nested transactions join the outer one.
		r.WithTx = func(ctx context.Context, fn func(r *store.Repositories) error) error {
			return fn(s.repos(false))
		}
	}
	return r
}

// withTx runs fn holding the store lock, restoring the pre-transaction
// snapshot when fn fails.
func (s *Store) withTx(ctx context.Context, fn func(r *store.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(s.repos(false)); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// base gives each repo lock management: repos created inside withTx skip
// locking because the transaction already holds the mutex.
type base struct {
	s       *Store
	locking bool
}

func (b *base) lock() func() {
	if !b.locking {
		return func() {}
	}
	b.s.mu.Lock()
	return b.s.mu.Unlock
}
