package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/jensholdgaard/gavel/internal/domain"
	"github.com/jensholdgaard/gavel/internal/queue"
	"github.com/jensholdgaard/gavel/internal/store"
)

type auctionRepo struct{ base }

func (r *auctionRepo) Create(ctx context.Context, a *domain.Auction) error {
	defer r.lock()()
	r.s.data.auctions[a.ID] = auctionRow{auction: *a}
	return nil
}

func (r *auctionRepo) GetByID(ctx context.Context, id string) (*domain.Auction, error) {
	defer r.lock()()
	row, ok := r.s.data.auctions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	a := row.auction
	a.IncrementRules = slices.Clone(a.IncrementRules)
	return &a, nil
}

func (r *auctionRepo) UpdateStatus(ctx context.Context, id string, from []domain.AuctionStatus, to domain.AuctionStatus) error {
	defer r.lock()()
	row, ok := r.s.data.auctions[id]
	if !ok || !slices.Contains(from, row.auction.Status) {
		return store.ErrNotFound
	}
	row.auction.Status = to
	r.s.data.auctions[id] = row
	return nil
}

func (r *auctionRepo) QueueState(ctx context.Context, id string) (queue.State, int64, error) {
	defer r.lock()()
	row, ok := r.s.data.auctions[id]
	if !ok {
		return queue.State{}, 0, store.ErrNotFound
	}
	return cloneState(row.state), row.version, nil
}

func (r *auctionRepo) UpdateQueueState(ctx context.Context, id string, st queue.State, expectedVersion int64) error {
	defer r.lock()()
	row, ok := r.s.data.auctions[id]
	if !ok {
		return store.ErrNotFound
	}
	if row.version != expectedVersion {
		return store.ErrVersionConflict
	}
	row.state = cloneState(st)
	row.version++
	r.s.data.auctions[id] = row
	return nil
}

type tierRepo struct{ base }

func (r *tierRepo) Replace(ctx context.Context, auctionID string, tiers []domain.Tier) error {
	defer r.lock()()
	r.s.data.tiers[auctionID] = append([]domain.Tier(nil), tiers...)
	return nil
}

func (r *tierRepo) ListByAuction(ctx context.Context, auctionID string) ([]domain.Tier, error) {
	defer r.lock()()
	return append([]domain.Tier(nil), r.s.data.tiers[auctionID]...), nil
}

type teamRepo struct{ base }

func (r *teamRepo) Create(ctx context.Context, t *domain.Team) error {
	defer r.lock()()
	r.s.data.teams[t.ID] = *t
	return nil
}

func (r *teamRepo) GetByID(ctx context.Context, id string) (*domain.Team, error) {
	defer r.lock()()
	t, ok := r.s.data.teams[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (r *teamRepo) ListByAuction(ctx context.Context, auctionID string) ([]domain.Team, error) {
	defer r.lock()()
	var out []domain.Team
	for _, t := range r.s.data.teams {
		if t.AuctionID == auctionID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type playerRepo struct{ base }

func (r *playerRepo) Create(ctx context.Context, p *domain.Player) error {
	defer r.lock()()
	r.s.data.players[p.ID] = *p
	return nil
}

func (r *playerRepo) GetByID(ctx context.Context, id string) (*domain.Player, error) {
	defer r.lock()()
	p, ok := r.s.data.players[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (r *playerRepo) ListByAuction(ctx context.Context, auctionID string) ([]domain.Player, error) {
	defer r.lock()()
	var out []domain.Player
	for _, p := range r.s.data.players {
		if p.AuctionID == auctionID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *playerRepo) UpdateStatus(ctx context.Context, id string, status domain.PlayerStatus) error {
	defer r.lock()()
	p, ok := r.s.data.players[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Status = status
	r.s.data.players[id] = p
	return nil
}

type roundRepo struct{ base }

func (r *roundRepo) Create(ctx context.Context, rd *domain.Round) error {
	defer r.lock()()
	r.s.data.rounds[rd.ID] = *rd
	return nil
}

func (r *roundRepo) GetByID(ctx context.Context, id string) (*domain.Round, error) {
	defer r.lock()()
	rd, ok := r.s.data.rounds[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rd, nil
}

func (r *roundRepo) GetOpenByAuction(ctx context.Context, auctionID string) (*domain.Round, error) {
	defer r.lock()()
	for _, rd := range r.s.data.rounds {
		if rd.AuctionID == auctionID && rd.Status == domain.RoundOpen {
			return &rd, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *roundRepo) CloseOpen(ctx context.Context, auctionID string, closedAt time.Time) error {
	defer r.lock()()
	for id, rd := range r.s.data.rounds {
		if rd.AuctionID == auctionID && rd.Status == domain.RoundOpen {
			rd.Status = domain.RoundClosed
			t := closedAt
			rd.ClosedAt = &t
			r.s.data.rounds[id] = rd
		}
	}
	return nil
}

func (r *roundRepo) AtomicOutcryRaise(ctx context.Context, p store.RaiseParams) (bool, error) {
	defer r.lock()()
	rd, ok := r.s.data.rounds[p.RoundID]
	if !ok {
		return false, store.ErrNotFound
	}
	if rd.Status != domain.RoundOpen || rd.BidCount != p.ExpectedBidCount {
		return false, nil
	}

	amount := p.Amount
	teamID := p.TeamID
	rd.CurrentBidAmount = &amount
	rd.CurrentBidTeamID = &teamID
	rd.BidCount++
	rd.TimerExpiresAt = p.TimerExpiresAt
	r.s.data.rounds[p.RoundID] = rd

	seq := p.Sequence
	r.s.data.bids[p.BidID] = domain.Bid{
		ID:             p.BidID,
		RoundID:        p.RoundID,
		TeamID:         p.TeamID,
		Amount:         p.Amount,
		SequenceNumber: &seq,
		SubmittedAt:    p.SubmittedAt,
	}
	r.s.data.bidOrder[p.RoundID] = append(r.s.data.bidOrder[p.RoundID], p.BidID)
	return true, nil
}

type bidRepo struct{ base }

func (r *bidRepo) Create(ctx context.Context, b *domain.Bid) error {
	defer r.lock()()
	r.s.data.bids[b.ID] = *b
	r.s.data.bidOrder[b.RoundID] = append(r.s.data.bidOrder[b.RoundID], b.ID)
	return nil
}

func (r *bidRepo) ListByRound(ctx context.Context, roundID string) ([]domain.Bid, error) {
	defer r.lock()()
	var out []domain.Bid
	for _, id := range r.s.data.bidOrder[roundID] {
		out = append(out, r.s.data.bids[id])
	}
	return out, nil
}

func (r *bidRepo) ListByRoundAndTeam(ctx context.Context, roundID, teamID string) ([]domain.Bid, error) {
	defer r.lock()()
	var out []domain.Bid
	for _, id := range r.s.data.bidOrder[roundID] {
		if b := r.s.data.bids[id]; b.TeamID == teamID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *bidRepo) MarkWinning(ctx context.Context, roundID, teamID string) error {
	defer r.lock()()
	bestID := ""
	var bestAmount int64 = -1
	for _, id := range r.s.data.bidOrder[roundID] {
		b := r.s.data.bids[id]
		// Ties go to the later submission, matching the SQL ordering.
		if b.TeamID == teamID && b.Amount >= bestAmount {
			bestID, bestAmount = id, b.Amount
		}
	}
	if bestID == "" {
		return nil
	}
	b := r.s.data.bids[bestID]
	b.IsWinningBid = true
	r.s.data.bids[bestID] = b
	return nil
}

type resultRepo struct{ base }

func resultKey(auctionID, playerID string) string { return auctionID + "/" + playerID }

func (r *resultRepo) Upsert(ctx context.Context, res *domain.Result) error {
	defer r.lock()()
	r.s.data.results[resultKey(res.AuctionID, res.PlayerID)] = *res
	return nil
}

func (r *resultRepo) Delete(ctx context.Context, auctionID, playerID string) error {
	defer r.lock()()
	delete(r.s.data.results, resultKey(auctionID, playerID))
	return nil
}

func (r *resultRepo) ListByAuction(ctx context.Context, auctionID string) ([]domain.Result, error) {
	defer r.lock()()
	var out []domain.Result
	for _, res := range r.s.data.results {
		if res.AuctionID == auctionID {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.Before(out[j].AssignedAt) })
	return out, nil
}

type accessRepo struct{ base }

func (r *accessRepo) AddMember(ctx context.Context, m *domain.TeamMember) error {
	defer r.lock()()
	r.s.data.members[m.TeamID+"/"+m.UserID] = *m
	return nil
}

func (r *accessRepo) AddParticipant(ctx context.Context, p *domain.Participant) error {
	defer r.lock()()
	r.s.data.participants[p.AuctionID+"/"+p.UserID] = *p
	return nil
}

func (r *accessRepo) MemberRole(ctx context.Context, teamID, userID string) (domain.TeamRole, error) {
	defer r.lock()()
	m, ok := r.s.data.members[teamID+"/"+userID]
	if !ok {
		return "", store.ErrNotFound
	}
	return m.Role, nil
}

func (r *accessRepo) ParticipantRole(ctx context.Context, auctionID, userID string) (domain.AuctionRole, error) {
	defer r.lock()()
	p, ok := r.s.data.participants[auctionID+"/"+userID]
	if !ok {
		return "", store.ErrNotFound
	}
	return p.Role, nil
}
