package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jensholdgaard/gavel/internal/domain"
	"github.com/jensholdgaard/gavel/internal/queue"
	"github.com/jensholdgaard/gavel/internal/store"
)

// AuctionRepo implements store.AuctionRepository with sqlx. The queue state
// and the increment rules are JSONB columns on the auction row.
type AuctionRepo struct {
	ext sqlx.ExtContext
}

type auctionRow struct {
	domain.Auction
	IncrementRules []byte `db:"increment_rules"`
	QueueState     []byte `db:"queue_state"`
	QueueVersion   int64  `db:"queue_version"`
}

func (r *AuctionRepo) Create(ctx context.Context, a *domain.Auction) error {
	rules, err := json.Marshal(a.IncrementRules)
	if err != nil {
		return fmt.Errorf("encoding increment rules: %w", err)
	}
	_, err = r.ext.ExecContext(ctx,
		`INSERT INTO auctions (id, name, owner_user_id, mode, budget_per_team, squad_size,
		                       currency, increment_rules, timer_seconds, status, queue_state,
		                       queue_version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, '{}', 0, $11)`,
		a.ID, a.Name, a.OwnerUserID, a.Mode, a.BudgetPerTeam, a.SquadSize,
		a.Currency, rules, a.TimerSeconds, a.Status, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting auction: %w", err)
	}
	return nil
}

func (r *AuctionRepo) GetByID(ctx context.Context, id string) (*domain.Auction, error) {
	var row auctionRow
	err := sqlx.GetContext(ctx, r.ext, &row, `SELECT * FROM auctions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("getting auction: %w", err)
	}
	a := row.Auction
	if len(row.IncrementRules) > 0 {
		if err := json.Unmarshal(row.IncrementRules, &a.IncrementRules); err != nil {
			return nil, fmt.Errorf("decoding increment rules: %w", err)
		}
	}
	return &a, nil
}

func (r *AuctionRepo) UpdateStatus(ctx context.Context, id string, from []domain.AuctionStatus, to domain.AuctionStatus) error {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	res, err := r.ext.ExecContext(ctx,
		`UPDATE auctions SET status = $1 WHERE id = $2 AND status = ANY($3)`,
		to, id, pq.Array(states),
	)
	if err != nil {
		return fmt.Errorf("updating auction status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *AuctionRepo) QueueState(ctx context.Context, id string) (queue.State, int64, error) {
	var row struct {
		QueueState   []byte `db:"queue_state"`
		QueueVersion int64  `db:"queue_version"`
	}
	err := sqlx.GetContext(ctx, r.ext, &row,
		`SELECT queue_state, queue_version FROM auctions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return queue.State{}, 0, store.ErrNotFound
		}
		return queue.State{}, 0, fmt.Errorf("getting queue state: %w", err)
	}

	var st queue.State
	if len(row.QueueState) > 0 {
		if err := json.Unmarshal(row.QueueState, &st); err != nil {
			return queue.State{}, 0, fmt.Errorf("decoding queue state: %w", err)
		}
	}
	return st, row.QueueVersion, nil
}

func (r *AuctionRepo) UpdateQueueState(ctx context.Context, id string, st queue.State, expectedVersion int64) error {
	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding queue state: %w", err)
	}
	res, err := r.ext.ExecContext(ctx,
		`UPDATE auctions SET queue_state = $1, queue_version = queue_version + 1
		 WHERE id = $2 AND queue_version = $3`,
		doc, id, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("updating queue state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := sqlx.GetContext(ctx, r.ext, &exists,
			`SELECT EXISTS (SELECT 1 FROM auctions WHERE id = $1)`, id); err != nil {
			return fmt.Errorf("checking auction existence: %w", err)
		}
		if !exists {
			return store.ErrNotFound
		}
		return store.ErrVersionConflict
	}
	return nil
}
