package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus tracks on-chain finality of a payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentFailed    PaymentStatus = "failed"
)

// PaymentPurpose distinguishes creator deposits from bet payments.
type PaymentPurpose string

const (
	PurposeCreatorDeposit PaymentPurpose = "creator_deposit"
	PurposeBet            PaymentPurpose = "bet"
)

// Payment is an on-chain token transfer into escrow. The confirmation watcher
// owns Confirmed, ConfirmationCount, Status and BlockNumber after creation.
type Payment struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id"`
	MarketID          string          `json:"market_id"`
	Purpose           PaymentPurpose  `json:"purpose"`
	WalletAddress     string          `json:"wallet_address"`
	Amount            decimal.Decimal `json:"amount"`
	TxHash            string          `json:"tx_hash"`
	Confirmed         bool            `json:"confirmed"`
	ConfirmationCount int             `json:"confirmation_count"`
	Status            PaymentStatus   `json:"status"`
	BlockNumber       *uint64         `json:"block_number,omitempty"`
	FailureReason     string          `json:"failure_reason,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// PayoutStatus is advanced by the external disbursement process.
type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutCompleted PayoutStatus = "completed"
	PayoutFailed    PayoutStatus = "failed"
)

// Payout is what one winning bettor is owed after settlement.
type Payout struct {
	ID            string          `json:"id"`
	MarketID      string          `json:"market_id"`
	UserID        string          `json:"user_id"`
	WalletAddress string          `json:"wallet_address"`
	BetAmount     decimal.Decimal `json:"bet_amount"`
	PayoutAmount  decimal.Decimal `json:"payout_amount"`
	ProfitAmount  decimal.Decimal `json:"profit_amount"`
	Status        PayoutStatus    `json:"status"`
	TxHash        *string         `json:"tx_hash,omitempty"`
	BlockNumber   *uint64         `json:"block_number,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// CreatorEarning is written at most once per market, only when the creator
// declared the winner inside the settlement window.
type CreatorEarning struct {
	ID               string          `json:"id"`
	MarketID         string          `json:"market_id"`
	CreatorID        string          `json:"creator_id"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	DepositRefund    decimal.Decimal `json:"deposit_refund"`
	TotalEarned      decimal.Decimal `json:"total_earned"`
	EarnedAt         time.Time       `json:"earned_at"`
}

// ForfeitureSource says why funds went to the treasury.
type ForfeitureSource string

const (
	// ForfeitLateSettlement: the creator missed the settlement window and the
	// full deposit is forfeited.
	ForfeitLateSettlement ForfeitureSource = "late_settlement"
	// ForfeitUnclaimedPool: nobody picked the winning side, so the pool has
	// no one to pay out to.
	ForfeitUnclaimedPool ForfeitureSource = "unclaimed_pool"
)

// TreasuryForfeiture records funds redirected to the platform treasury.
// Unique per (SourceType, SourceID).
type TreasuryForfeiture struct {
	ID         string           `json:"id"`
	SourceType ForfeitureSource `json:"source_type"`
	SourceID   string           `json:"source_id"`
	Amount     decimal.Decimal  `json:"amount"`
	Reason     string           `json:"reason"`
	CreatedAt  time.Time        `json:"created_at"`
}

// SettlementRecord is everything declareWinner persists in one transaction.
type SettlementRecord struct {
	MarketID       string               `json:"market_id"`
	CreatorID      string               `json:"creator_id"`
	WinningOption  Option               `json:"winning_option"`
	FinalizedAt    time.Time            `json:"finalized_at"`
	WithinDeadline bool                 `json:"within_deadline"`
	Commission     decimal.Decimal      `json:"commission"`
	DepositRefund  decimal.Decimal      `json:"deposit_refund"`
	Payouts        []Payout             `json:"payouts"`
	Earning        *CreatorEarning      `json:"earning,omitempty"`
	Forfeitures    []TreasuryForfeiture `json:"forfeitures"`
}

// SettleFunc computes a settlement from the locked market row and its bets.
// It runs inside the store transaction; returning an error aborts it.
type SettleFunc func(m Market, bets []Bet) (SettlementRecord, error)
