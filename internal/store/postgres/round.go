package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/gavel/internal/domain"
	"github.com/jensholdgaard/gavel/internal/store"
)

// RoundRepo implements store.RoundRepository with sqlx. A partial unique
// index on (auction_id) WHERE status = 'OPEN' backs the single-open-round
// invariant at the database level.
type RoundRepo struct {
	ext sqlx.ExtContext
}

func (r *RoundRepo) Create(ctx context.Context, rd *domain.Round) error {
	_, err := r.ext.ExecContext(ctx,
		`INSERT INTO rounds (id, auction_id, player_id, tier_id, status, base_price,
		                     current_bid_amount, current_bid_team_id, bid_count,
		                     timer_expires_at, opened_at, closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rd.ID, rd.AuctionID, rd.PlayerID, rd.TierID, rd.Status, rd.BasePrice,
		rd.CurrentBidAmount, rd.CurrentBidTeamID, rd.BidCount,
		rd.TimerExpiresAt, rd.OpenedAt, rd.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting round: %w", err)
	}
	return nil
}

func (r *RoundRepo) GetByID(ctx context.Context, id string) (*domain.Round, error) {
	var rd domain.Round
	err := sqlx.GetContext(ctx, r.ext, &rd, `SELECT * FROM rounds WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("getting round: %w", err)
	}
	return &rd, nil
}

func (r *RoundRepo) GetOpenByAuction(ctx context.Context, auctionID string) (*domain.Round, error) {
	var rd domain.Round
	err := sqlx.GetContext(ctx, r.ext, &rd,
		`SELECT * FROM rounds WHERE auction_id = $1 AND status = 'OPEN'`, auctionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("getting open round: %w", err)
	}
	return &rd, nil
}

func (r *RoundRepo) CloseOpen(ctx context.Context, auctionID string, closedAt time.Time) error {
	_, err := r.ext.ExecContext(ctx,
		`UPDATE rounds SET status = 'CLOSED', closed_at = $1
		 WHERE auction_id = $2 AND status = 'OPEN'`,
		closedAt, auctionID,
	)
	if err != nil {
		return fmt.Errorf("closing open rounds: %w", err)
	}
	return nil
}

// AtomicOutcryRaise updates the round and inserts the bid in one statement.
// The UPDATE only matches while the round is OPEN and its bid count still
// equals the expected value; the dependent INSERT affects zero rows when the
// raise lost the race, which is reported as stale.
func (r *RoundRepo) AtomicOutcryRaise(ctx context.Context, p store.RaiseParams) (bool, error) {
	res, err := r.ext.ExecContext(ctx,
		`WITH raised AS (
		     UPDATE rounds
		     SET current_bid_amount = $1, current_bid_team_id = $2,
		         bid_count = bid_count + 1, timer_expires_at = $3
		     WHERE id = $4 AND status = 'OPEN' AND bid_count = $5
		     RETURNING id
		 )
		 INSERT INTO bids (id, round_id, team_id, amount, sequence_number, is_winning_bid, submitted_at)
		 SELECT $6, id, $2, $1, $7, FALSE, $8 FROM raised`,
		p.Amount, p.TeamID, p.TimerExpiresAt, p.RoundID, p.ExpectedBidCount,
		p.BidID, p.Sequence, p.SubmittedAt,
	)
	if err != nil {
		return false, fmt.Errorf("outcry raise: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("outcry raise result: %w", err)
	}
	return n == 1, nil
}
