package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketescrow/internal/domain"
)

// NotificationStore is the notification outbox table.
type NotificationStore struct {
	pool *pgxpool.Pool
}

// NewNotificationStore creates a new NotificationStore backed by the given connection pool.
func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{pool: pool}
}

// Insert writes n unless a row with the same idempotency key exists, in
// which case it reports false.
func (s *NotificationStore) Insert(ctx context.Context, n domain.Notification) (bool, error) {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return false, fmt.Errorf("postgres: marshal notification data: %w", err)
	}
	if n.Data == nil {
		data = []byte("{}")
	}

	var key, marketID *string
	if n.IdempotencyKey != "" {
		key = &n.IdempotencyKey
	}
	if n.MarketID != "" {
		marketID = &n.MarketID
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, market_id, type, title, message, data, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		n.ID, n.UserID, marketID, string(n.Type), n.Title, n.Message, data, key, n.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert notification %s: %w", n.Type, err)
	}
	return tag.RowsAffected() == 1, nil
}

var _ domain.NotificationStore = (*NotificationStore)(nil)
