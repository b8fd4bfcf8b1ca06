package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore is the transactional persistence boundary for markets and
// every money-movement record hanging off them.
type MarketStore interface {
	// CreateMarket inserts the market, its deposit payment and the tx-hash
	// reservation atomically. A reused hash yields ErrDuplicateTransaction.
	CreateMarket(ctx context.Context, m Market, deposit Payment) error
	GetMarket(ctx context.Context, id string) (Market, error)
	ListMarkets(ctx context.Context, status MarketStatus, opts ListOpts) ([]Market, error)
	// PlaceBet records bet and payment only while the market accepts bets
	// at now. Errors: ErrMarketNotActive, ErrDuplicateBet,
	// ErrDuplicateTransaction, ErrNotFound.
	PlaceBet(ctx context.Context, bet Bet, payment Payment, now time.Time) error
	ListBets(ctx context.Context, marketID string) ([]Bet, error)
	ListPayouts(ctx context.Context, marketID string) ([]Payout, error)
	TxHashUsed(ctx context.Context, txHash string) (bool, error)

	// CloseExpired moves up to limit active markets with close_date <= now
	// to closed and returns the ones this call transitioned.
	CloseExpired(ctx context.Context, now time.Time, limit int) ([]Market, error)
	// ListClosedInWindow returns closed markets with from < close_date <= to
	// that have no notification keyed keyPrefix+id yet.
	ListClosedInWindow(ctx context.Context, from, to time.Time, keyPrefix string, limit int) ([]Market, error)
	// ListClosedBefore returns closed markets with close_date < before.
	ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]Market, error)
	// ListActiveBefore returns active markets with close_date < before.
	ListActiveBefore(ctx context.Context, before time.Time, limit int) ([]Market, error)

	// FinalizeMarket locks the market, reads its bets, calls settle and
	// persists the result with a status='closed' compare-and-set, all in
	// one transaction. ErrAlreadyFinalized if another call won.
	FinalizeMarket(ctx context.Context, marketID string, settle SettleFunc) (SettlementRecord, error)
	// EscalateMarket moves a closed market to awaiting_admin and records
	// the deposit forfeiture in one transaction.
	EscalateMarket(ctx context.Context, marketID string, now time.Time) (Market, TreasuryForfeiture, error)
}

// PaymentStore is used by the confirmation watcher. Updates only apply to
// payments still pending.
type PaymentStore interface {
	ListPending(ctx context.Context, limit int) ([]Payment, error)
	UpdateConfirmations(ctx context.Context, id string, count int, blockNumber uint64, confirmed bool) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

// NotificationStore is the notification outbox.
type NotificationStore interface {
	// Insert returns false when the idempotency key already exists.
	Insert(ctx context.Context, n Notification) (bool, error)
}

// MembershipPolicy decides who may create markets.
type MembershipPolicy interface {
	CanCreateMarket(ctx context.Context, userID string) (bool, error)
}

// AdminDirectory lists identities holding the admin role.
type AdminDirectory interface {
	AdminIDs(ctx context.Context) ([]string, error)
}

// AuditEntry is one row of the append-only audit log.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	MarketID  string         `json:"market_id"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore records lifecycle events for later review.
type AuditStore interface {
	Log(ctx context.Context, event, marketID string, detail map[string]any) error
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]AuditEntry, error)
}
