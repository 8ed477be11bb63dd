// Package postgres implements the persistence boundary on PostgreSQL with
// sqlx. The queue state lives as a JSONB column on the auction row guarded
// by a version counter, and outcry raises commit through a single
// compare-and-swap statement.
package postgres

import (
	"context"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jensholdgaard/gavel/internal/clock"
	"github.com/jensholdgaard/gavel/internal/config"
	"github.com/jensholdgaard/gavel/internal/store"
)

func init() {
	store.Register("postgres", func(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
		db, err := Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return Open(db, clk), nil
	})
}

// Connect opens and verifies a Postgres connection with OTEL instrumentation.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("registering otel driver: %w", err)
	}

	db, err := sqlx.ConnectContext(ctx, driverName, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}

// Open builds Repositories over a connected database.
func Open(db *sqlx.DB, clk clock.Clock) *store.Repositories {
	r := newRepos(db, clk)
	r.WithTx = func(ctx context.Context, fn func(r *store.Repositories) error) error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		txRepos := newRepos(tx, clk)
		// Nested transactions join the outer one.
		txRepos.WithTx = func(ctx context.Context, fn func(r *store.Repositories) error) error {
			return fn(txRepos)
		}
		txRepos.Close = func() error { return nil }
		txRepos.Ping = func(ctx context.Context) error { return nil }

		if err := fn(txRepos); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("rolling back after %w: %v", err, rbErr)
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing transaction: %w", err)
		}
		return nil
	}
	r.Close = db.Close
	r.Ping = db.PingContext
	return r
}

func newRepos(ext sqlx.ExtContext, clk clock.Clock) *store.Repositories {
	return &store.Repositories{
		Auctions: &AuctionRepo{ext: ext},
		Tiers:    &TierRepo{ext: ext},
		Teams:    &TeamRepo{ext: ext},
		Players:  &PlayerRepo{ext: ext},
		Rounds:   &RoundRepo{ext: ext},
		Bids:     &BidRepo{ext: ext},
		Results:  &ResultRepo{ext: ext},
		Access:   &AccessRepo{ext: ext},
	}
}
