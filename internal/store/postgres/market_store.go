package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketescrow/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, creator_id, title, description, option_a, option_b,
	entry_price::text, close_date, status,
	creator_deposit_amount::text, creator_deposit_tx_hash, creator_deposit_wallet,
	winning_option, closed_at, finalized_at,
	creator_commission::text, deposit_refunded::text,
	responded_within_deadline, admin_review_required, deadline_exceeded_at,
	created_at, updated_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m       domain.Market
		status  string
		winning *string
	)
	entry := numeric(&m.EntryPrice)
	deposit := numeric(&m.CreatorDepositAmount)
	commission := numeric(&m.CreatorCommission)
	refunded := numeric(&m.DepositRefunded)

	err := row.Scan(
		&m.ID, &m.CreatorID, &m.Title, &m.Description, &m.OptionALabel, &m.OptionBLabel,
		&entry.text, &m.CloseDate, &status,
		&deposit.text, &m.CreatorDepositTxHash, &m.CreatorDepositWallet,
		&winning, &m.ClosedAt, &m.FinalizedAt,
		&commission.text, &refunded.text,
		&m.RespondedWithinDeadline, &m.AdminReviewRequired, &m.DeadlineExceededAt,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	if err := numerics(entry, deposit, commission, refunded); err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	if winning != nil {
		o := domain.Option(*winning)
		m.WinningOption = &o
	}
	return m, nil
}

func collectMarkets(rows pgx.Rows, op string) ([]domain.Market, error) {
	defer rows.Close()
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan %s: %w", op, err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return markets, nil
}

// duplicateError maps unique violations on payment-related tables to the
// matching domain error.
func duplicateError(err error) error {
	name, ok := violatedConstraint(err)
	if !ok {
		return nil
	}
	switch name {
	case "bets_market_user_key":
		return domain.ErrDuplicateBet
	default:
		// ledger_tx_hashes_pkey, payments_tx_hash_key, markets_deposit_tx_hash_key
		return domain.ErrDuplicateTransaction
	}
}

func insertTxHash(ctx context.Context, tx pgx.Tx, hash string, purpose domain.PaymentPurpose, marketID string, at time.Time) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO ledger_tx_hashes (tx_hash, purpose, market_id, created_at) VALUES ($1, $2, $3, $4)`,
		hash, string(purpose), marketID, at)
	return err
}

func insertPayment(ctx context.Context, tx pgx.Tx, p domain.Payment) error {
	const query = `
		INSERT INTO payments (
			id, user_id, market_id, purpose, wallet_address, amount, tx_hash,
			confirmed, confirmation_count, status, block_number, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := tx.Exec(ctx, query,
		p.ID, p.UserID, p.MarketID, string(p.Purpose), p.WalletAddress, p.Amount.String(), p.TxHash,
		p.Confirmed, p.ConfirmationCount, string(p.Status), optionalInt64(p.BlockNumber), p.CreatedAt, p.UpdatedAt,
	)
	return err
}

// CreateMarket inserts the market, reserves the deposit hash and records the
// deposit payment in one transaction.
func (s *MarketStore) CreateMarket(ctx context.Context, m domain.Market, deposit domain.Payment) error {
	const query = `
		INSERT INTO markets (
			id, creator_id, title, description, option_a, option_b,
			entry_price, close_date, status,
			creator_deposit_amount, creator_deposit_tx_hash, creator_deposit_wallet,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, query,
			m.ID, m.CreatorID, m.Title, m.Description, m.OptionALabel, m.OptionBLabel,
			m.EntryPrice.String(), m.CloseDate, string(m.Status),
			m.CreatorDepositAmount.String(), m.CreatorDepositTxHash, m.CreatorDepositWallet,
			m.CreatedAt, m.UpdatedAt,
		); err != nil {
			return err
		}
		if err := insertTxHash(ctx, tx, deposit.TxHash, deposit.Purpose, m.ID, deposit.CreatedAt); err != nil {
			return err
		}
		return insertPayment(ctx, tx, deposit)
	})
	if err != nil {
		if dup := duplicateError(err); dup != nil {
			return dup
		}
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

// GetMarket retrieves a market by its primary key.
func (s *MarketStore) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrMarketNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// ListMarkets returns markets with the given status (all when empty), newest
// first, with pagination and optional creation-time filtering.
func (s *MarketStore) ListMarkets(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE 1=1`
	args := []any{}
	argIdx := 1

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(status))
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	return collectMarkets(rows, "list markets")
}

// PlaceBet re-checks the market under a share lock and records the bet, its
// payment and the hash reservation in one transaction.
func (s *MarketStore) PlaceBet(ctx context.Context, bet domain.Bet, payment domain.Payment, now time.Time) error {
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		var (
			status    string
			closeDate time.Time
		)
		err := tx.QueryRow(ctx,
			`SELECT status, close_date FROM markets WHERE id = $1 FOR SHARE`, bet.MarketID,
		).Scan(&status, &closeDate)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrMarketNotFound
		}
		if err != nil {
			return err
		}
		m := domain.Market{Status: domain.MarketStatus(status), CloseDate: closeDate}
		if !m.AcceptsBets(now) {
			return domain.ErrMarketNotActive.WithDetail("status", status)
		}

		if err := insertTxHash(ctx, tx, payment.TxHash, payment.Purpose, bet.MarketID, payment.CreatedAt); err != nil {
			return err
		}
		if err := insertPayment(ctx, tx, payment); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO bets (id, market_id, user_id, wallet_address, selected_option, amount, payment_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			bet.ID, bet.MarketID, bet.UserID, bet.WalletAddress, string(bet.SelectedOption),
			bet.Amount.String(), bet.PaymentID, bet.CreatedAt,
		)
		return err
	})
	if err != nil {
		if _, ok := domain.AsError(err); ok {
			return err
		}
		if dup := duplicateError(err); dup != nil {
			return dup
		}
		return fmt.Errorf("postgres: place bet on %s: %w", bet.MarketID, err)
	}
	return nil
}

const betCols = `id, market_id, user_id, wallet_address, selected_option, amount::text, payment_id, created_at`

func listBets(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, marketID string) ([]domain.Bet, error) {
	rows, err := q.Query(ctx,
		`SELECT `+betCols+` FROM bets WHERE market_id = $1 ORDER BY created_at, id`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		var (
			b      domain.Bet
			option string
		)
		amount := numeric(&b.Amount)
		if err := rows.Scan(&b.ID, &b.MarketID, &b.UserID, &b.WalletAddress, &option, &amount.text, &b.PaymentID, &b.CreatedAt); err != nil {
			return nil, err
		}
		if err := numerics(amount); err != nil {
			return nil, err
		}
		b.SelectedOption = domain.Option(option)
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

// ListBets returns the bets on a market in placement order.
func (s *MarketStore) ListBets(ctx context.Context, marketID string) ([]domain.Bet, error) {
	bets, err := listBets(ctx, s.pool, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets %s: %w", marketID, err)
	}
	return bets, nil
}

// ListPayouts returns the payouts written when the market was finalized.
func (s *MarketStore) ListPayouts(ctx context.Context, marketID string) ([]domain.Payout, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, market_id, user_id, wallet_address,
			bet_amount::text, payout_amount::text, profit_amount::text,
			status, tx_hash, block_number, created_at
		FROM payouts WHERE market_id = $1 ORDER BY created_at, id`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list payouts %s: %w", marketID, err)
	}
	defer rows.Close()

	var payouts []domain.Payout
	for rows.Next() {
		var (
			p      domain.Payout
			status string
			block  *int64
		)
		bet, payout, profit := numeric(&p.BetAmount), numeric(&p.PayoutAmount), numeric(&p.ProfitAmount)
		if err := rows.Scan(
			&p.ID, &p.MarketID, &p.UserID, &p.WalletAddress,
			&bet.text, &payout.text, &profit.text,
			&status, &p.TxHash, &block, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan payout: %w", err)
		}
		if err := numerics(bet, payout, profit); err != nil {
			return nil, fmt.Errorf("postgres: scan payout: %w", err)
		}
		p.Status = domain.PayoutStatus(status)
		p.BlockNumber = optionalUint64(block)
		payouts = append(payouts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list payouts rows: %w", err)
	}
	return payouts, nil
}

// TxHashUsed reports whether the hash was already reserved.
func (s *MarketStore) TxHashUsed(ctx context.Context, txHash string) (bool, error) {
	var used bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM ledger_tx_hashes WHERE tx_hash = $1)`, txHash,
	).Scan(&used)
	if err != nil {
		return false, fmt.Errorf("postgres: tx hash used: %w", err)
	}
	return used, nil
}

// CloseExpired transitions due active markets to closed. Rows locked by a
// concurrent sweeper are skipped rather than waited on.
func (s *MarketStore) CloseExpired(ctx context.Context, now time.Time, limit int) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE markets SET status = 'closed', closed_at = $1, updated_at = $1
		WHERE id IN (
			SELECT id FROM markets
			WHERE status = 'active' AND close_date <= $1
			ORDER BY close_date
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		) AND status = 'active'
		RETURNING `+marketCols, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: close expired: %w", err)
	}
	return collectMarkets(rows, "close expired")
}

// ListClosedInWindow returns closed markets with from < close_date <= to
// that have not yet been sent the notification keyed keyPrefix+id.
func (s *MarketStore) ListClosedInWindow(ctx context.Context, from, to time.Time, keyPrefix string, limit int) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+marketCols+` FROM markets
		WHERE status = 'closed' AND close_date > $1 AND close_date <= $2
		  AND NOT EXISTS (
			SELECT 1 FROM notifications n
			WHERE n.idempotency_key = $3 || markets.id
		  )
		ORDER BY close_date LIMIT $4`, from, to, keyPrefix, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed in window: %w", err)
	}
	return collectMarkets(rows, "closed in window")
}

// ListClosedBefore returns closed markets with close_date < before.
func (s *MarketStore) ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+marketCols+` FROM markets
		WHERE status = 'closed' AND close_date < $1
		ORDER BY close_date LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed before: %w", err)
	}
	return collectMarkets(rows, "closed before")
}

// ListActiveBefore returns active markets with close_date < before.
func (s *MarketStore) ListActiveBefore(ctx context.Context, before time.Time, limit int) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+marketCols+` FROM markets
		WHERE status = 'active' AND close_date < $1
		ORDER BY close_date LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active before: %w", err)
	}
	return collectMarkets(rows, "active before")
}

// FinalizeMarket locks the market row, hands it and its bets to settle and
// persists the returned record. The status compare-and-set guarantees a
// single winner among concurrent callers.
func (s *MarketStore) FinalizeMarket(ctx context.Context, marketID string, settle domain.SettleFunc) (domain.SettlementRecord, error) {
	var rec domain.SettlementRecord
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		m, err := scanMarket(tx.QueryRow(ctx,
			`SELECT `+marketCols+` FROM markets WHERE id = $1 FOR UPDATE`, marketID))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrMarketNotFound
		}
		if err != nil {
			return fmt.Errorf("lock market: %w", err)
		}
		bets, err := listBets(ctx, tx, marketID)
		if err != nil {
			return fmt.Errorf("read bets: %w", err)
		}

		rec, err = settle(m, bets)
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE markets SET
				status = 'finalized',
				winning_option = $2,
				finalized_at = $3,
				creator_commission = $4,
				deposit_refunded = $5,
				responded_within_deadline = $6,
				updated_at = $3
			WHERE id = $1 AND status = 'closed'`,
			marketID, string(rec.WinningOption), rec.FinalizedAt,
			rec.Commission.String(), rec.DepositRefund.String(), rec.WithinDeadline,
		)
		if err != nil {
			return fmt.Errorf("finalize: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return domain.ErrAlreadyFinalized
		}

		if err := insertPayouts(ctx, tx, rec.Payouts); err != nil {
			return fmt.Errorf("payouts: %w", err)
		}
		if rec.Earning != nil {
			if err := insertEarning(ctx, tx, *rec.Earning); err != nil {
				return fmt.Errorf("earning: %w", err)
			}
		}
		for _, f := range rec.Forfeitures {
			if err := insertForfeiture(ctx, tx, f); err != nil {
				return fmt.Errorf("forfeiture: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		if _, ok := domain.AsError(err); ok {
			return domain.SettlementRecord{}, err
		}
		return domain.SettlementRecord{}, fmt.Errorf("postgres: finalize market %s: %w", marketID, err)
	}
	return rec, nil
}

func insertPayouts(ctx context.Context, tx pgx.Tx, payouts []domain.Payout) error {
	if len(payouts) == 0 {
		return nil
	}
	const query = `
		INSERT INTO payouts (
			id, market_id, user_id, wallet_address,
			bet_amount, payout_amount, profit_amount, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	batch := &pgx.Batch{}
	for _, p := range payouts {
		batch.Queue(query,
			p.ID, p.MarketID, p.UserID, p.WalletAddress,
			p.BetAmount.String(), p.PayoutAmount.String(), p.ProfitAmount.String(),
			string(p.Status), p.CreatedAt,
		)
	}
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for i := range payouts {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

func insertEarning(ctx context.Context, tx pgx.Tx, e domain.CreatorEarning) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO creator_earnings (
			id, market_id, creator_id, commission_amount, deposit_refund, total_earned, earned_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.MarketID, e.CreatorID,
		e.CommissionAmount.String(), e.DepositRefund.String(), e.TotalEarned.String(), e.EarnedAt,
	)
	return err
}

func insertForfeiture(ctx context.Context, tx pgx.Tx, f domain.TreasuryForfeiture) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO treasury_forfeitures (id, source_type, source_id, amount, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID, string(f.SourceType), f.SourceID, f.Amount.String(), f.Reason, f.CreatedAt,
	)
	return err
}

// EscalateMarket moves a closed market to awaiting_admin and forfeits its
// full deposit to the treasury in the same transaction.
func (s *MarketStore) EscalateMarket(ctx context.Context, marketID string, now time.Time) (domain.Market, domain.TreasuryForfeiture, error) {
	var (
		m domain.Market
		f domain.TreasuryForfeiture
	)
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		m, err = scanMarket(tx.QueryRow(ctx, `
			UPDATE markets SET
				status = 'awaiting_admin',
				admin_review_required = TRUE,
				deadline_exceeded_at = $2,
				responded_within_deadline = FALSE,
				deposit_refunded = 0,
				updated_at = $2
			WHERE id = $1 AND status = 'closed'
			RETURNING `+marketCols, marketID, now))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrMarketNotClosed.WithDetail("market_id", marketID)
		}
		if err != nil {
			return fmt.Errorf("escalate: %w", err)
		}

		f = domain.TreasuryForfeiture{
			ID:         forfeitureID(marketID, domain.ForfeitLateSettlement),
			SourceType: domain.ForfeitLateSettlement,
			SourceID:   marketID,
			Amount:     m.CreatorDepositAmount,
			Reason:     fmt.Sprintf("no winner declared within the settlement window; closed %s", m.CloseDate.UTC().Format(time.RFC3339)),
			CreatedAt:  now,
		}
		if err := insertForfeiture(ctx, tx, f); err != nil {
			return fmt.Errorf("forfeiture: %w", err)
		}
		return nil
	})
	if err != nil {
		if _, ok := domain.AsError(err); ok {
			return domain.Market{}, domain.TreasuryForfeiture{}, err
		}
		return domain.Market{}, domain.TreasuryForfeiture{}, fmt.Errorf("postgres: escalate market %s: %w", marketID, err)
	}
	return m, f, nil
}

func forfeitureID(marketID string, source domain.ForfeitureSource) string {
	return string(source) + ":" + marketID
}

var _ domain.MarketStore = (*MarketStore)(nil)
