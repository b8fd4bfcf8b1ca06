package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketStatus represents where a market is in its lifecycle. Status only
// moves forward: active -> closed -> {finalized | awaiting_admin}.
type MarketStatus string

const (
	MarketActive        MarketStatus = "active"
	MarketClosed        MarketStatus = "closed"
	MarketFinalized     MarketStatus = "finalized"
	MarketAwaitingAdmin MarketStatus = "awaiting_admin"
)

// Terminal reports whether no further transition is possible.
func (s MarketStatus) Terminal() bool {
	return s == MarketFinalized || s == MarketAwaitingAdmin
}

// Option is one of the two fixed outcomes of a market.
type Option string

const (
	OptionA Option = "A"
	OptionB Option = "B"
)

// Valid reports whether o is A or B.
func (o Option) Valid() bool {
	return o == OptionA || o == OptionB
}

// Market is a binary-outcome prediction event backed by a creator deposit.
type Market struct {
	ID                      string          `json:"id"`
	CreatorID               string          `json:"creator_id"`
	Title                   string          `json:"title"`
	Description             string          `json:"description"`
	OptionALabel            string          `json:"option_a"`
	OptionBLabel            string          `json:"option_b"`
	EntryPrice              decimal.Decimal `json:"entry_price"`
	CloseDate               time.Time       `json:"close_date"`
	Status                  MarketStatus    `json:"status"`
	CreatorDepositAmount    decimal.Decimal `json:"creator_deposit_amount"`
	CreatorDepositTxHash    string          `json:"creator_deposit_tx_hash"`
	CreatorDepositWallet    string          `json:"creator_deposit_wallet"`
	WinningOption           *Option         `json:"winning_option,omitempty"`
	ClosedAt                *time.Time      `json:"closed_at,omitempty"`
	FinalizedAt             *time.Time      `json:"finalized_at,omitempty"`
	CreatorCommission       decimal.Decimal `json:"creator_commission"`
	DepositRefunded         decimal.Decimal `json:"deposit_refunded"`
	RespondedWithinDeadline bool            `json:"responded_within_deadline"`
	AdminReviewRequired     bool            `json:"admin_review_required"`
	DeadlineExceededAt      *time.Time      `json:"deadline_exceeded_at,omitempty"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// SinceClose returns how long ago the market's close date passed. It is
// negative while the market is still open.
func (m Market) SinceClose(now time.Time) time.Duration {
	return now.Sub(m.CloseDate)
}

// HoursSinceClose is SinceClose expressed in fractional hours.
func (m Market) HoursSinceClose(now time.Time) float64 {
	return m.SinceClose(now).Hours()
}

// AcceptsBets reports whether a bet placed at now may be recorded.
func (m Market) AcceptsBets(now time.Time) bool {
	return m.Status == MarketActive && now.Before(m.CloseDate)
}

// Bet is a single user's paid pick on a market. One per user per market,
// immutable once written.
type Bet struct {
	ID             string          `json:"id"`
	MarketID       string          `json:"market_id"`
	UserID         string          `json:"user_id"`
	WalletAddress  string          `json:"wallet_address"`
	SelectedOption Option          `json:"selected_option"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentID      string          `json:"payment_id"`
	CreatedAt      time.Time       `json:"created_at"`
}

// MarketDetail is a market together with its bets and, once finalized, payouts.
type MarketDetail struct {
	Market  Market   `json:"market"`
	Bets    []Bet    `json:"bets"`
	Payouts []Payout `json:"payouts"`
}
