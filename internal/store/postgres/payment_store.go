package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketescrow/internal/domain"
)

// PaymentStore implements domain.PaymentStore using PostgreSQL.
type PaymentStore struct {
	pool *pgxpool.Pool
}

// NewPaymentStore creates a new PaymentStore backed by the given connection pool.
func NewPaymentStore(pool *pgxpool.Pool) *PaymentStore {
	return &PaymentStore{pool: pool}
}

// ListPending returns the oldest payments still awaiting confirmation.
func (s *PaymentStore) ListPending(ctx context.Context, limit int) ([]domain.Payment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, market_id, purpose, wallet_address, amount::text, tx_hash,
			confirmed, confirmation_count, status, block_number, failure_reason,
			created_at, updated_at
		FROM payments
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending payments: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		var (
			p       domain.Payment
			purpose string
			status  string
			block   *int64
		)
		amount := numeric(&p.Amount)
		if err := rows.Scan(
			&p.ID, &p.UserID, &p.MarketID, &purpose, &p.WalletAddress, &amount.text, &p.TxHash,
			&p.Confirmed, &p.ConfirmationCount, &status, &block, &p.FailureReason,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan payment: %w", err)
		}
		if err := numerics(amount); err != nil {
			return nil, fmt.Errorf("postgres: scan payment: %w", err)
		}
		p.Purpose = domain.PaymentPurpose(purpose)
		p.Status = domain.PaymentStatus(status)
		p.BlockNumber = optionalUint64(block)
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pending payments rows: %w", err)
	}
	return payments, nil
}

// UpdateConfirmations records the latest confirmation depth. Payments that
// already left pending are not touched.
func (s *PaymentStore) UpdateConfirmations(ctx context.Context, id string, count int, blockNumber uint64, confirmed bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE payments SET
			confirmation_count = $2,
			block_number = $3,
			confirmed = $4,
			status = CASE WHEN $4 THEN 'confirmed' ELSE 'pending' END,
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`,
		id, count, int64(blockNumber), confirmed)
	if err != nil {
		return fmt.Errorf("postgres: update confirmations %s: %w", id, err)
	}
	return nil
}

// MarkFailed moves a pending payment to the terminal failed state.
func (s *PaymentStore) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE payments SET status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id, reason)
	if err != nil {
		return fmt.Errorf("postgres: mark payment failed %s: %w", id, err)
	}
	return nil
}

var _ domain.PaymentStore = (*PaymentStore)(nil)
