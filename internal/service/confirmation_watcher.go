package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketescrow/internal/domain"
	"github.com/alanyoungcy/marketescrow/internal/ledger"
	"github.com/alanyoungcy/marketescrow/internal/metrics"
)

const watcherLockKey = "confirmation_watcher"

// WatcherConfig tunes the payment confirmation watcher.
type WatcherConfig struct {
	Interval         time.Duration
	BatchSize        int
	LockTTL          time.Duration
	MinConfirmations int
	TokenContract    string
	TokenDecimals    int32
}

// WatchReport counts the outcome of one watcher pass.
type WatchReport struct {
	Skipped   bool
	Checked   int
	Pending   int
	Confirmed int
	Failed    int
	Mismatch  int
	Errors    int
}

// ConfirmationWatcher advances pending payments toward confirmed by polling
// the ledger.
type ConfirmationWatcher struct {
	payments domain.PaymentStore
	ledger   Ledger
	locks    domain.LockManager
	cfg      WatcherConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewConfirmationWatcher creates a ConfirmationWatcher.
func NewConfirmationWatcher(
	payments domain.PaymentStore,
	l Ledger,
	locks domain.LockManager,
	cfg WatcherConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *ConfirmationWatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 90 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	if cfg.MinConfirmations <= 0 {
		cfg.MinConfirmations = 3
	}
	return &ConfirmationWatcher{
		payments: payments,
		ledger:   l,
		locks:    locks,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With(slog.String("component", "confirmation_watcher")),
	}
}

// Run polls pending payments every Interval until ctx is cancelled.
func (w *ConfirmationWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.ErrorContext(ctx, "watcher: pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce checks one batch of pending payments. Ledger failures leave the
// payment pending for the next tick.
func (w *ConfirmationWatcher) RunOnce(ctx context.Context) (WatchReport, error) {
	var report WatchReport

	if w.locks != nil {
		unlock, err := w.locks.Acquire(ctx, watcherLockKey, w.cfg.LockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			report.Skipped = true
			return report, nil
		case err != nil:
			w.logger.WarnContext(ctx, "watcher: lock unavailable, running unguarded", slog.String("error", err.Error()))
		default:
			defer unlock()
		}
	}

	pending, err := w.payments.ListPending(ctx, w.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	if len(pending) == 0 {
		return report, nil
	}

	head, err := w.ledger.BlockNumber(ctx)
	if err != nil {
		return report, err
	}

	for _, p := range pending {
		report.Checked++
		result, err := w.check(ctx, p, head)
		if err != nil {
			report.Errors++
			w.logger.ErrorContext(ctx, "watcher: payment check failed",
				slog.String("payment_id", p.ID),
				slog.String("tx_hash", p.TxHash),
				slog.String("error", err.Error()),
			)
			continue
		}
		w.metrics.ConfirmationCheck(result)
		switch result {
		case "pending":
			report.Pending++
		case "confirmed":
			report.Confirmed++
		case "failed":
			report.Failed++
		case "mismatch":
			report.Mismatch++
			report.Confirmed++
		}
	}

	w.logger.InfoContext(ctx, "watcher: pass complete",
		slog.Int("checked", report.Checked),
		slog.Int("confirmed", report.Confirmed),
		slog.Int("failed", report.Failed),
		slog.Int("pending", report.Pending),
		slog.Int("mismatch", report.Mismatch),
		slog.Uint64("head", head),
	)
	return report, nil
}

func (w *ConfirmationWatcher) check(ctx context.Context, p domain.Payment, head uint64) (string, error) {
	receipt, err := w.ledger.TransactionReceipt(ctx, p.TxHash)
	if errors.Is(err, ledger.ErrNotFound) {
		return "pending", nil
	}
	if err != nil {
		return "", err
	}

	if !receipt.Succeeded() {
		if err := w.payments.MarkFailed(ctx, p.ID, "transaction reverted"); err != nil {
			return "", err
		}
		w.logger.WarnContext(ctx, "watcher: payment failed on chain",
			slog.String("payment_id", p.ID),
			slog.String("tx_hash", p.TxHash),
		)
		return "failed", nil
	}

	count := ledger.Confirmations(receipt, head)
	confirmed := count >= w.cfg.MinConfirmations
	if err := w.payments.UpdateConfirmations(ctx, p.ID, count, receipt.BlockNumber, confirmed); err != nil {
		return "", err
	}
	if !confirmed {
		return "pending", nil
	}
	if !w.matchesTransferLog(p, receipt) {
		w.logger.WarnContext(ctx, "watcher: transfer log does not match payment",
			slog.String("payment_id", p.ID),
			slog.String("tx_hash", p.TxHash),
			slog.String("wallet", p.WalletAddress),
			slog.String("amount", p.Amount.String()),
		)
		return "mismatch", nil
	}
	return "confirmed", nil
}

// matchesTransferLog reports whether the receipt carries a token Transfer
// from the payment wallet for at least the recorded amount.
func (w *ConfirmationWatcher) matchesTransferLog(p domain.Payment, r ledger.Receipt) bool {
	if w.cfg.TokenContract == "" {
		return true
	}
	want := ledger.ToBaseUnits(p.Amount, w.cfg.TokenDecimals)
	for _, ev := range ledger.DecodeTransferLogs(r.Logs, common.HexToAddress(w.cfg.TokenContract)) {
		if ledger.SameAddress(ev.From.Hex(), p.WalletAddress) && ev.Amount.Cmp(want) >= 0 {
			return true
		}
	}
	return false
}
