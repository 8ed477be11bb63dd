package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/gavel/internal/domain"
	"github.com/jensholdgaard/gavel/internal/store"
)

// TierRepo implements store.TierRepository with sqlx.
type TierRepo struct {
	ext sqlx.ExtContext
}

func (r *TierRepo) Replace(ctx context.Context, auctionID string, tiers []domain.Tier) error {
	if _, err := r.ext.ExecContext(ctx, `DELETE FROM tiers WHERE auction_id = $1`, auctionID); err != nil {
		return fmt.Errorf("clearing tiers: %w", err)
	}
	for _, t := range tiers {
		_, err := r.ext.ExecContext(ctx,
			`INSERT INTO tiers (id, auction_id, name, base_price, min_per_team, max_per_team)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			t.ID, auctionID, t.Name, t.BasePrice, t.MinPerTeam, t.MaxPerTeam,
		)
		if err != nil {
			return fmt.Errorf("inserting tier %s: %w", t.Name, err)
		}
	}
	return nil
}

func (r *TierRepo) ListByAuction(ctx context.Context, auctionID string) ([]domain.Tier, error) {
	var tiers []domain.Tier
	err := sqlx.SelectContext(ctx, r.ext, &tiers,
		`SELECT * FROM tiers WHERE auction_id = $1 ORDER BY base_price DESC, name ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("listing tiers: %w", err)
	}
	return tiers, nil
}

// TeamRepo implements store.TeamRepository with sqlx.
type TeamRepo struct {
	ext sqlx.ExtContext
}

func (r *TeamRepo) Create(ctx context.Context, t *domain.Team) error {
	_, err := r.ext.ExecContext(ctx,
		`INSERT INTO teams (id, auction_id, name, captain_user_id, captain_email)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.AuctionID, t.Name, t.CaptainUserID, t.CaptainEmail,
	)
	if err != nil {
		return fmt.Errorf("inserting team: %w", err)
	}
	return nil
}

func (r *TeamRepo) GetByID(ctx context.Context, id string) (*domain.Team, error) {
	var t domain.Team
	err := sqlx.GetContext(ctx, r.ext, &t, `SELECT * FROM teams WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("getting team: %w", err)
	}
	return &t, nil
}

func (r *TeamRepo) ListByAuction(ctx context.Context, auctionID string) ([]domain.Team, error) {
	var teams []domain.Team
	err := sqlx.SelectContext(ctx, r.ext, &teams,
		`SELECT * FROM teams WHERE auction_id = $1 ORDER BY name ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}
	return teams, nil
}

// PlayerRepo implements store.PlayerRepository with sqlx.
type PlayerRepo struct {
	ext sqlx.ExtContext
}

func (r *PlayerRepo) Create(ctx context.Context, p *domain.Player) error {
	_, err := r.ext.ExecContext(ctx,
		`INSERT INTO players (id, auction_id, name, tier_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.AuctionID, p.Name, p.TierID, p.Status, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting player: %w", err)
	}
	return nil
}

func (r *PlayerRepo) GetByID(ctx context.Context, id string) (*domain.Player, error) {
	var p domain.Player
	err := sqlx.GetContext(ctx, r.ext, &p, `SELECT * FROM players WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return &p, nil
}

func (r *PlayerRepo) ListByAuction(ctx context.Context, auctionID string) ([]domain.Player, error) {
	var players []domain.Player
	err := sqlx.SelectContext(ctx, r.ext, &players,
		`SELECT * FROM players WHERE auction_id = $1 ORDER BY created_at ASC, id ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	return players, nil
}

func (r *PlayerRepo) UpdateStatus(ctx context.Context, id string, status domain.PlayerStatus) error {
	res, err := r.ext.ExecContext(ctx,
		`UPDATE players SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("updating player status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// BidRepo implements store.BidRepository with sqlx.
type BidRepo struct {
	ext sqlx.ExtContext
}

func (r *BidRepo) Create(ctx context.Context, b *domain.Bid) error {
	_, err := r.ext.ExecContext(ctx,
		`INSERT INTO bids (id, round_id, team_id, amount, sequence_number, is_winning_bid, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.ID, b.RoundID, b.TeamID, b.Amount, b.SequenceNumber, b.IsWinningBid, b.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting bid: %w", err)
	}
	return nil
}

func (r *BidRepo) ListByRound(ctx context.Context, roundID string) ([]domain.Bid, error) {
	var bids []domain.Bid
	err := sqlx.SelectContext(ctx, r.ext, &bids,
		`SELECT * FROM bids WHERE round_id = $1 ORDER BY submitted_at ASC, id ASC`, roundID)
	if err != nil {
		return nil, fmt.Errorf("listing bids: %w", err)
	}
	return bids, nil
}

func (r *BidRepo) ListByRoundAndTeam(ctx context.Context, roundID, teamID string) ([]domain.Bid, error) {
	var bids []domain.Bid
	err := sqlx.SelectContext(ctx, r.ext, &bids,
		`SELECT * FROM bids WHERE round_id = $1 AND team_id = $2 ORDER BY submitted_at ASC, id ASC`,
		roundID, teamID)
	if err != nil {
		return nil, fmt.Errorf("listing team bids: %w", err)
	}
	return bids, nil
}

func (r *BidRepo) MarkWinning(ctx context.Context, roundID, teamID string) error {
	_, err := r.ext.ExecContext(ctx,
		`UPDATE bids SET is_winning_bid = TRUE
		 WHERE id = (
		     SELECT id FROM bids WHERE round_id = $1 AND team_id = $2
		     ORDER BY amount DESC, submitted_at DESC LIMIT 1
		 )`,
		roundID, teamID,
	)
	if err != nil {
		return fmt.Errorf("marking winning bid: %w", err)
	}
	return nil
}

// ResultRepo implements store.ResultRepository with sqlx.
type ResultRepo struct {
	ext sqlx.ExtContext
}

func (r *ResultRepo) Upsert(ctx context.Context, res *domain.Result) error {
	_, err := r.ext.ExecContext(ctx,
		`INSERT INTO results (auction_id, player_id, team_id, amount, assigned_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (auction_id, player_id)
		 DO UPDATE SET team_id = EXCLUDED.team_id, amount = EXCLUDED.amount, assigned_at = EXCLUDED.assigned_at`,
		res.AuctionID, res.PlayerID, res.TeamID, res.Amount, res.AssignedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting result: %w", err)
	}
	return nil
}

func (r *ResultRepo) Delete(ctx context.Context, auctionID, playerID string) error {
	_, err := r.ext.ExecContext(ctx,
		`DELETE FROM results WHERE auction_id = $1 AND player_id = $2`, auctionID, playerID)
	if err != nil {
		return fmt.Errorf("deleting result: %w", err)
	}
	return nil
}

func (r *ResultRepo) ListByAuction(ctx context.Context, auctionID string) ([]domain.Result, error) {
	var results []domain.Result
	err := sqlx.SelectContext(ctx, r.ext, &results,
		`SELECT * FROM results WHERE auction_id = $1 ORDER BY assigned_at ASC, player_id ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}
	return results, nil
}

// AccessRepo implements store.AccessRepository with sqlx.
type AccessRepo struct {
	ext sqlx.ExtContext
}

func (r *AccessRepo) AddMember(ctx context.Context, m *domain.TeamMember) error {
	_, err := r.ext.ExecContext(ctx,
		`INSERT INTO team_members (team_id, user_id, role)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (team_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		m.TeamID, m.UserID, m.Role,
	)
	if err != nil {
		return fmt.Errorf("adding team member: %w", err)
	}
	return nil
}

func (r *AccessRepo) AddParticipant(ctx context.Context, p *domain.Participant) error {
	_, err := r.ext.ExecContext(ctx,
		`INSERT INTO participants (auction_id, user_id, role)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (auction_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		p.AuctionID, p.UserID, p.Role,
	)
	if err != nil {
		return fmt.Errorf("adding participant: %w", err)
	}
	return nil
}

func (r *AccessRepo) MemberRole(ctx context.Context, teamID, userID string) (domain.TeamRole, error) {
	var role domain.TeamRole
	err := sqlx.GetContext(ctx, r.ext, &role,
		`SELECT role FROM team_members WHERE team_id = $1 AND user_id = $2`, teamID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("getting member role: %w", err)
	}
	return role, nil
}

func (r *AccessRepo) ParticipantRole(ctx context.Context, auctionID, userID string) (domain.AuctionRole, error) {
	var role domain.AuctionRole
	err := sqlx.GetContext(ctx, r.ext, &role,
		`SELECT role FROM participants WHERE auction_id = $1 AND user_id = $2`, auctionID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("getting participant role: %w", err)
	}
	return role, nil
}
