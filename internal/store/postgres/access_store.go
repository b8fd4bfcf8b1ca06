package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketescrow/internal/domain"
)

// AccessStore reads membership tiers and admin roles from user_access. It
// serves as both the market-creation policy and the admin directory.
type AccessStore struct {
	pool  *pgxpool.Pool
	tiers map[string]bool
}

// NewAccessStore creates an AccessStore. Users whose membership tier is in
// creatorTiers may create markets.
func NewAccessStore(pool *pgxpool.Pool, creatorTiers []string) *AccessStore {
	tiers := make(map[string]bool, len(creatorTiers))
	for _, t := range creatorTiers {
		tiers[t] = true
	}
	return &AccessStore{pool: pool, tiers: tiers}
}

// CanCreateMarket reports whether the user's tier allows market creation.
// Unknown users are denied.
func (s *AccessStore) CanCreateMarket(ctx context.Context, userID string) (bool, error) {
	var tier string
	err := s.pool.QueryRow(ctx,
		`SELECT membership_tier FROM user_access WHERE user_id = $1`, userID,
	).Scan(&tier)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres: membership of %s: %w", userID, err)
	}
	return s.tiers[tier], nil
}

// AdminIDs lists every user holding the admin role.
func (s *AccessStore) AdminIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM user_access WHERE is_admin ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list admins: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: list admins: %w", err)
	}
	return ids, nil
}

var (
	_ domain.MembershipPolicy = (*AccessStore)(nil)
	_ domain.AdminDirectory   = (*AccessStore)(nil)
)
