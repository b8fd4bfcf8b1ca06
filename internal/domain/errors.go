package domain

import (
	"errors"
	"fmt"
	"maps"
)

// Error kinds. Every *Error unwraps to exactly one of these, so callers can
// branch on the category with errors.Is without knowing the specific code.
var (
	ErrValidation    = errors.New("validation error")
	ErrAuthorization = errors.New("authorization error")
	ErrInvalidState  = errors.New("state error")
	ErrVerification  = errors.New("blockchain verification error")
	ErrPersistence   = errors.New("persistence error")
	ErrNotFound      = errors.New("not found")
	ErrUnavailable   = errors.New("dependency unavailable")
)

// ErrLockHeld is returned by LockManager.Acquire while another holder owns
// the lock.
var ErrLockHeld = errors.New("lock already held")

// Error is a coded, user-facing failure. Code is stable and machine readable;
// Message says exactly what the caller has to fix.
type Error struct {
	Code    string
	Message string
	Kind    error
	Details map[string]string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the error kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// With returns a copy of the prototype carrying a formatted message.
func (e *Error) With(format string, args ...any) *Error {
	out := *e
	out.Message = fmt.Sprintf(format, args...)
	out.Details = maps.Clone(e.Details)
	return &out
}

// WithDetail returns a copy with one additional detail entry.
func (e *Error) WithDetail(key, value string) *Error {
	out := *e
	out.Details = maps.Clone(e.Details)
	if out.Details == nil {
		out.Details = make(map[string]string, 1)
	}
	out.Details[key] = value
	return &out
}

// Wrap returns a copy of the prototype with cause attached.
func (e *Error) Wrap(cause error) *Error {
	out := *e
	out.Details = maps.Clone(e.Details)
	out.Cause = cause
	return &out
}

func newError(kind error, code, msg string) *Error {
	return &Error{Code: code, Message: msg, Kind: kind}
}

// Validation.
var (
	ErrInvalidInput  = newError(ErrValidation, "VALIDATION_ERROR", "invalid request")
	ErrInvalidTxHash = newError(ErrValidation, "INVALID_TX_HASH", "transaction hash must be 0x followed by 64 hex characters")
	ErrInvalidWallet = newError(ErrValidation, "INVALID_WALLET", "wallet must be a hex address")
	ErrEntryTooLow   = newError(ErrValidation, "ENTRY_PRICE_TOO_LOW", "entry price below minimum")
	ErrInvalidOption = newError(ErrValidation, "INVALID_OPTION", "option must be A or B")
)

// Authorization.
var (
	ErrUnauthenticated  = newError(ErrAuthorization, "UNAUTHENTICATED", "caller identity is required")
	ErrNotCreator       = newError(ErrAuthorization, "NOT_CREATOR", "only the market creator may declare the winner")
	ErrMembershipNeeded = newError(ErrAuthorization, "MEMBERSHIP_REQUIRED", "membership tier does not allow market creation")
)

// State.
var (
	ErrMarketNotFound   = newError(ErrNotFound, "MARKET_NOT_FOUND", "market not found")
	ErrMarketNotActive  = newError(ErrInvalidState, "MARKET_NOT_ACTIVE", "market is not accepting bets")
	ErrMarketNotClosed  = newError(ErrInvalidState, "MARKET_NOT_CLOSED", "market is not closed")
	ErrAlreadyFinalized = newError(ErrInvalidState, "ALREADY_FINALIZED", "market already finalized")
	ErrDuplicateBet     = newError(ErrInvalidState, "DUPLICATE_BET", "user already placed a bet on this market")
)

// Blockchain verification.
var (
	ErrDuplicateTransaction = newError(ErrVerification, "DUPLICATE_TRANSACTION", "transaction hash already used")
	ErrTxNotFound           = newError(ErrVerification, "TX_NOT_FOUND", "transaction not found on chain")
	ErrTxUnconfirmed        = newError(ErrVerification, "TX_UNCONFIRMED", "transaction is not mined yet")
	ErrSenderMismatch       = newError(ErrVerification, "SENDER_MISMATCH", "transaction sender does not match wallet")
	ErrWrongContract        = newError(ErrVerification, "WRONG_CONTRACT", "transaction is not sent to the token contract")
	ErrNotATransfer         = newError(ErrVerification, "NOT_A_TRANSFER", "transaction is not a token transfer")
	ErrRecipientMismatch    = newError(ErrVerification, "RECIPIENT_MISMATCH", "transfer is not paid to the escrow wallet")
	ErrInsufficientAmount   = newError(ErrVerification, "INSUFFICIENT_AMOUNT", "insufficient amount")
	ErrTxReverted           = newError(ErrVerification, "TX_REVERTED", "transaction reverted on chain")
)

// Infrastructure.
var (
	ErrLedgerUnavailable = newError(ErrUnavailable, "LEDGER_UNAVAILABLE", "ledger node unavailable, retry later")
	ErrStoreFailure      = newError(ErrPersistence, "PERSISTENCE_ERROR", "storage failure")
)

// AsError extracts the coded error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
