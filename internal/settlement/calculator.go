// Package settlement computes pari-mutuel payouts for a finalized market.
// Everything here is pure: no I/O, no clocks.
package settlement

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketescrow/internal/domain"
)

// DefaultWindow is how long after close the creator may declare a winner and
// still be paid.
const DefaultWindow = 48 * time.Hour

// WithinDeadline reports whether a declaration at now is inside window.
// Exactly window after close still counts.
func WithinDeadline(closeDate, now time.Time, window time.Duration) bool {
	return now.Sub(closeDate) <= window
}

// Input is what the calculator needs to settle one market.
type Input struct {
	Bets           []domain.Bet
	WinningOption  domain.Option
	CreatorDeposit decimal.Decimal
	WithinDeadline bool
	CommissionRate decimal.Decimal
	// Scale is the number of decimal places amounts are truncated to,
	// normally the token's decimals.
	Scale int32
}

// Share is one winner's payout.
type Share struct {
	Bet          domain.Bet
	PayoutAmount decimal.Decimal
	ProfitAmount decimal.Decimal
}

// Result is the full money breakdown. For every input,
//
//	sum(payouts) + Commission + DepositRefund + DepositForfeited + PoolForfeited
//	    == WinningAmount + LosingAmount + creator deposit.
type Result struct {
	WinningAmount    decimal.Decimal
	LosingAmount     decimal.Decimal
	Commission       decimal.Decimal
	DepositRefund    decimal.Decimal
	DepositForfeited decimal.Decimal
	WinnersPool      decimal.Decimal
	PoolForfeited    decimal.Decimal
	Shares           []Share
}

// TotalPaidOut sums all winner payouts.
func (r Result) TotalPaidOut() decimal.Decimal {
	total := decimal.Zero
	for _, s := range r.Shares {
		total = total.Add(s.PayoutAmount)
	}
	return total
}

// Calculate settles bets in favour of in.WinningOption.
//
// If nobody picked the winning side there are no shares; the winners pool
// and the (zero) winning stake go to PoolForfeited. Pool shares are floored
// to Scale and the leftover dust goes to the largest winning stake, earliest
// bet first on ties, so payouts sum exactly to WinningAmount + WinnersPool.
func Calculate(in Input) (Result, error) {
	if !in.WinningOption.Valid() {
		return Result{}, errors.New("settlement: invalid winning option")
	}
	if in.CommissionRate.IsNegative() || in.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return Result{}, fmt.Errorf("settlement: commission rate %s out of range", in.CommissionRate)
	}
	if in.CreatorDeposit.IsNegative() {
		return Result{}, errors.New("settlement: negative creator deposit")
	}

	var res Result
	res.WinningAmount = decimal.Zero
	res.LosingAmount = decimal.Zero

	winners := make([]domain.Bet, 0, len(in.Bets))
	for _, b := range in.Bets {
		if b.Amount.IsNegative() {
			return Result{}, fmt.Errorf("settlement: bet %s has negative amount", b.ID)
		}
		if b.SelectedOption == in.WinningOption {
			res.WinningAmount = res.WinningAmount.Add(b.Amount)
			winners = append(winners, b)
		} else {
			res.LosingAmount = res.LosingAmount.Add(b.Amount)
		}
	}

	res.Commission = decimal.Zero
	res.DepositRefund = decimal.Zero
	res.DepositForfeited = decimal.Zero
	if in.WithinDeadline {
		res.Commission = res.LosingAmount.Mul(in.CommissionRate).Truncate(in.Scale)
		res.DepositRefund = in.CreatorDeposit
	} else {
		res.DepositForfeited = in.CreatorDeposit
	}
	res.WinnersPool = res.LosingAmount.Sub(res.Commission)
	res.PoolForfeited = decimal.Zero

	if res.WinningAmount.IsZero() {
		res.PoolForfeited = res.WinnersPool.Add(res.WinningAmount)
		return res, nil
	}

	res.Shares = make([]Share, len(winners))
	distributed := decimal.Zero
	largest := 0
	for i, b := range winners {
		share, _ := res.WinnersPool.Mul(b.Amount).QuoRem(res.WinningAmount, in.Scale)
		distributed = distributed.Add(share)
		res.Shares[i] = Share{Bet: b, ProfitAmount: share}
		if b.Amount.GreaterThan(winners[largest].Amount) {
			largest = i
		}
	}
	if dust := res.WinnersPool.Sub(distributed); !dust.IsZero() {
		res.Shares[largest].ProfitAmount = res.Shares[largest].ProfitAmount.Add(dust)
	}
	for i := range res.Shares {
		s := &res.Shares[i]
		s.PayoutAmount = s.Bet.Amount.Add(s.ProfitAmount)
	}
	return res, nil
}
