package service

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"regexp"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketescrow/internal/domain"
	"github.com/alanyoungcy/marketescrow/internal/ledger"
	"github.com/alanyoungcy/marketescrow/internal/metrics"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// Ledger is the read-only chain surface the verifier and watcher need.
// *ledger.Client satisfies it.
type Ledger interface {
	TransactionByHash(ctx context.Context, hash string) (ledger.Transaction, error)
	TransactionReceipt(ctx context.Context, hash string) (ledger.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// TxHashRegistry reports whether a transaction hash was already consumed by
// a deposit or bet payment.
type TxHashRegistry interface {
	TxHashUsed(ctx context.Context, txHash string) (bool, error)
}

// DepositClaim is what a caller asserts about an on-chain payment.
type DepositClaim struct {
	TxHash         string
	Wallet         string
	TokenContract  string
	// Recipient is the escrow wallet the transfer must pay. Empty skips
	// the check.
	Recipient      string
	RequiredAmount decimal.Decimal
	Purpose        domain.PaymentPurpose
}

// VerifiedDeposit is the ledger's view of a claim that passed every check.
type VerifiedDeposit struct {
	TxHash        string
	Wallet        string
	Amount        decimal.Decimal
	AmountRaw     *big.Int
	BlockNumber   uint64
	Confirmations int
}

// DepositVerifier checks claimed token transfers against the ledger.
type DepositVerifier struct {
	ledger   Ledger
	registry TxHashRegistry
	decimals int32
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewDepositVerifier creates a DepositVerifier for a token with the given
// number of decimals.
func NewDepositVerifier(
	l Ledger,
	registry TxHashRegistry,
	decimals int32,
	m *metrics.Metrics,
	logger *slog.Logger,
) *DepositVerifier {
	return &DepositVerifier{
		ledger:   l,
		registry: registry,
		decimals: decimals,
		metrics:  m,
		logger:   logger.With(slog.String("component", "deposit_verifier")),
	}
}

// Verify runs the checks in a fixed order and returns the first failure as
// a coded *domain.Error. It has no side effects; the caller reserves the
// hash by committing a payment row with it.
func (v *DepositVerifier) Verify(ctx context.Context, claim DepositClaim) (VerifiedDeposit, error) {
	out, err := v.verify(ctx, claim)
	result := "ok"
	if err != nil {
		result = "error"
		if de, ok := domain.AsError(err); ok {
			result = de.Code
		}
		v.logger.InfoContext(ctx, "deposit_verifier: rejected",
			slog.String("tx_hash", claim.TxHash),
			slog.String("purpose", string(claim.Purpose)),
			slog.String("error", err.Error()),
		)
	}
	v.metrics.DepositVerified(string(claim.Purpose), result)
	return out, err
}

func (v *DepositVerifier) verify(ctx context.Context, claim DepositClaim) (VerifiedDeposit, error) {
	if !txHashPattern.MatchString(claim.TxHash) {
		return VerifiedDeposit{}, domain.ErrInvalidTxHash
	}
	if !common.IsHexAddress(claim.Wallet) {
		return VerifiedDeposit{}, domain.ErrInvalidWallet
	}

	used, err := v.registry.TxHashUsed(ctx, claim.TxHash)
	if err != nil {
		return VerifiedDeposit{}, domain.ErrStoreFailure.Wrap(err)
	}
	if used {
		return VerifiedDeposit{}, domain.ErrDuplicateTransaction.WithDetail("tx_hash", claim.TxHash)
	}

	tx, err := v.ledger.TransactionByHash(ctx, claim.TxHash)
	if errors.Is(err, ledger.ErrNotFound) {
		return VerifiedDeposit{}, domain.ErrTxNotFound.WithDetail("tx_hash", claim.TxHash)
	}
	if err != nil {
		return VerifiedDeposit{}, domain.ErrLedgerUnavailable.Wrap(err)
	}
	if !tx.Mined() {
		return VerifiedDeposit{}, domain.ErrTxUnconfirmed.WithDetail("tx_hash", claim.TxHash)
	}

	if !ledger.SameAddress(tx.From.Hex(), claim.Wallet) {
		return VerifiedDeposit{}, domain.ErrSenderMismatch.
			WithDetail("expected", claim.Wallet).
			WithDetail("actual", tx.From.Hex())
	}
	if tx.To == nil || !ledger.SameAddress(tx.To.Hex(), claim.TokenContract) {
		actual := ""
		if tx.To != nil {
			actual = tx.To.Hex()
		}
		return VerifiedDeposit{}, domain.ErrWrongContract.
			WithDetail("expected", claim.TokenContract).
			WithDetail("actual", actual)
	}

	transfer, err := ledger.DecodeTransferCall(tx.Input)
	if err != nil {
		return VerifiedDeposit{}, domain.ErrNotATransfer.Wrap(err)
	}
	if claim.Recipient != "" && !ledger.SameAddress(transfer.To.Hex(), claim.Recipient) {
		return VerifiedDeposit{}, domain.ErrRecipientMismatch.
			WithDetail("expected", claim.Recipient).
			WithDetail("actual", transfer.To.Hex())
	}

	required := ledger.ToBaseUnits(claim.RequiredAmount, v.decimals)
	actual := ledger.FromBaseUnits(transfer.Amount, v.decimals)
	if transfer.Amount.Cmp(required) < 0 {
		return VerifiedDeposit{}, domain.ErrInsufficientAmount.
			With("insufficient deposit, required %s got %s", claim.RequiredAmount.String(), actual.String()).
			WithDetail("required", claim.RequiredAmount.String()).
			WithDetail("actual", actual.String())
	}

	block := *tx.BlockNumber
	receipt, err := v.ledger.TransactionReceipt(ctx, claim.TxHash)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		// Mined but the node has not indexed the receipt yet.
	case err != nil:
		return VerifiedDeposit{}, domain.ErrLedgerUnavailable.Wrap(err)
	case !receipt.Succeeded():
		return VerifiedDeposit{}, domain.ErrTxReverted.WithDetail("tx_hash", claim.TxHash)
	default:
		block = receipt.BlockNumber
	}

	head, err := v.ledger.BlockNumber(ctx)
	if err != nil {
		return VerifiedDeposit{}, domain.ErrLedgerUnavailable.Wrap(err)
	}

	return VerifiedDeposit{
		TxHash:        claim.TxHash,
		Wallet:        tx.From.Hex(),
		Amount:        actual,
		AmountRaw:     transfer.Amount,
		BlockNumber:   block,
		Confirmations: ledger.ConfirmationsAt(block, head),
	}, nil
}
