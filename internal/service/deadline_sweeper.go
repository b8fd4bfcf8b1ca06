package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron"

	"github.com/alanyoungcy/marketescrow/internal/domain"
	"github.com/alanyoungcy/marketescrow/internal/metrics"
	"github.com/alanyoungcy/marketescrow/internal/settlement"
)

const (
	sweeperLockKey = "deadline_sweeper"

	firstReminderAfter = 24 * time.Hour
	staleActiveAfter   = 24 * time.Hour
	reminderSlot       = time.Hour
)

// Lifecycle is the subset of MarketService the sweeper drives.
type Lifecycle interface {
	CloseExpired(ctx context.Context, now time.Time, limit int) ([]domain.Market, error)
	Escalate(ctx context.Context, marketID string, now time.Time) (domain.Market, error)
}

// SweeperConfig tunes the deadline sweeper.
type SweeperConfig struct {
	Schedule         string
	BatchSize        int
	LockTTL          time.Duration
	SettlementWindow time.Duration
}

// SweepReport counts what a single run did per step.
type SweepReport struct {
	Skipped        bool `json:"skipped"`
	Closed         int  `json:"closed"`
	Reminded24h    int  `json:"reminded_24h"`
	RemindedUrgent int  `json:"reminded_urgent"`
	Escalated      int  `json:"escalated"`
	StaleActive    int  `json:"stale_active"`
	Errors         int  `json:"errors"`
}

// DeadlineSweeper closes expired markets, reminds creators as the settlement
// deadline approaches and escalates markets whose creator missed it.
type DeadlineSweeper struct {
	lifecycle Lifecycle
	markets   domain.MarketStore
	locks     domain.LockManager
	outbox    outbox
	cfg       SweeperConfig
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    *slog.Logger
}

// NewDeadlineSweeper creates a DeadlineSweeper. locks may be nil, in which
// case overlapping runs rely on the store's conditional updates alone.
func NewDeadlineSweeper(
	lifecycle Lifecycle,
	markets domain.MarketStore,
	locks domain.LockManager,
	sink domain.NotificationSink,
	cfg SweeperConfig,
	m *metrics.Metrics,
	clock func() time.Time,
	logger *slog.Logger,
) *DeadlineSweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = "@hourly"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.SettlementWindow <= 0 {
		cfg.SettlementWindow = settlement.DefaultWindow
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	logger = logger.With(slog.String("component", "deadline_sweeper"))
	return &DeadlineSweeper{
		lifecycle: lifecycle,
		markets:   markets,
		locks:     locks,
		outbox:    outbox{sink: sink, metrics: m, logger: logger},
		cfg:       cfg,
		metrics:   m,
		now:       clock,
		logger:    logger,
	}
}

// Run sweeps once immediately and then on the configured cron schedule
// until ctx is cancelled.
func (s *DeadlineSweeper) Run(ctx context.Context) error {
	c := cron.New()
	err := c.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.ErrorContext(ctx, "sweeper: run failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("sweeper: schedule %q: %w", s.cfg.Schedule, err)
	}

	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.ErrorContext(ctx, "sweeper: initial run failed", slog.String("error", err.Error()))
	}
	c.Start()
	defer c.Stop()

	<-ctx.Done()
	return ctx.Err()
}

// RunOnce performs one sweep. Every step is bounded by BatchSize and guarded
// by conditional updates or idempotency keys, so reruns are harmless.
func (s *DeadlineSweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, sweeperLockKey, s.cfg.LockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			s.logger.InfoContext(ctx, "sweeper: previous run still in progress, skipping")
			report.Skipped = true
			return report, nil
		case err != nil:
			s.logger.WarnContext(ctx, "sweeper: lock unavailable, running unguarded", slog.String("error", err.Error()))
		default:
			defer unlock()
		}
	}

	now := s.now()
	started := time.Now()
	var errs []error

	if err := s.closeExpired(ctx, now, &report); err != nil {
		errs = append(errs, err)
	}

	urgentAt := s.cfg.SettlementWindow - reminderSlot
	if err := s.remind(ctx, now, firstReminderAfter, domain.NotifyReminder24h, keyReminder24h, &report.Reminded24h, &report); err != nil {
		errs = append(errs, err)
	}
	if err := s.remind(ctx, now, urgentAt, domain.NotifyReminderUrgent, keyReminderUrgent, &report.RemindedUrgent, &report); err != nil {
		errs = append(errs, err)
	}

	if err := s.escalate(ctx, now, &report); err != nil {
		errs = append(errs, err)
	}
	if err := s.checkStale(ctx, now, &report); err != nil {
		errs = append(errs, err)
	}

	s.logger.InfoContext(ctx, "sweeper: run complete",
		slog.Int("closed", report.Closed),
		slog.Int("reminded_24h", report.Reminded24h),
		slog.Int("reminded_urgent", report.RemindedUrgent),
		slog.Int("escalated", report.Escalated),
		slog.Int("stale_active", report.StaleActive),
		slog.Int("errors", report.Errors),
		slog.Duration("took", time.Since(started)),
	)
	return report, errors.Join(errs...)
}

func (s *DeadlineSweeper) closeExpired(ctx context.Context, now time.Time, report *SweepReport) error {
	closed, err := s.lifecycle.CloseExpired(ctx, now, s.cfg.BatchSize)
	if err != nil {
		report.Errors++
		s.metrics.SweepError("close")
		return fmt.Errorf("sweeper: close: %w", err)
	}
	report.Closed = len(closed)
	s.metrics.SweepStep("close", len(closed))
	return nil
}

// remind notifies creators of closed markets whose close date lies in the
// hour-long slot ending `after` ago.
func (s *DeadlineSweeper) remind(
	ctx context.Context,
	now time.Time,
	after time.Duration,
	kind domain.NotificationType,
	keyPrefix string,
	counter *int,
	report *SweepReport,
) error {
	step := string(kind)
	to := now.Add(-after)
	from := to.Add(-reminderSlot)
	markets, err := s.markets.ListClosedInWindow(ctx, from, to, keyPrefix, s.cfg.BatchSize)
	if err != nil {
		report.Errors++
		s.metrics.SweepError(step)
		return fmt.Errorf("sweeper: list %s: %w", step, err)
	}

	for _, m := range markets {
		deadline := m.CloseDate.Add(s.cfg.SettlementWindow)
		left := deadline.Sub(now).Round(time.Minute)
		n := domain.Notification{
			UserID:         m.CreatorID,
			MarketID:       m.ID,
			Type:           kind,
			Title:          "Declare the winner",
			Message:        fmt.Sprintf("%q is waiting for a winner. %s left before your deposit is forfeited.", m.Title, left),
			Data:           map[string]string{"deadline": deadline.Format(time.RFC3339)},
			IdempotencyKey: keyPrefix + m.ID,
		}
		if kind == domain.NotifyReminderUrgent {
			n.Title = "Urgent: declare the winner"
		}
		if s.outbox.enqueue(ctx, n, now) {
			*counter++
		}
	}
	s.metrics.SweepStep(step, *counter)
	return nil
}

func (s *DeadlineSweeper) escalate(ctx context.Context, now time.Time, report *SweepReport) error {
	overdue, err := s.markets.ListClosedBefore(ctx, now.Add(-s.cfg.SettlementWindow), s.cfg.BatchSize)
	if err != nil {
		report.Errors++
		s.metrics.SweepError("escalate")
		return fmt.Errorf("sweeper: list overdue: %w", err)
	}

	for _, m := range overdue {
		if _, err := s.lifecycle.Escalate(ctx, m.ID, now); err != nil {
			if errors.Is(err, domain.ErrMarketNotClosed) {
				// Finalized or escalated since the list query.
				continue
			}
			report.Errors++
			s.metrics.SweepError("escalate")
			s.logger.ErrorContext(ctx, "sweeper: escalate failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.Escalated++
	}
	s.metrics.SweepStep("escalate", report.Escalated)
	return nil
}

func (s *DeadlineSweeper) checkStale(ctx context.Context, now time.Time, report *SweepReport) error {
	stale, err := s.markets.ListActiveBefore(ctx, now.Add(-staleActiveAfter), s.cfg.BatchSize)
	if err != nil {
		report.Errors++
		s.metrics.SweepError("stale_active")
		return fmt.Errorf("sweeper: list stale: %w", err)
	}
	report.StaleActive = len(stale)
	if len(stale) == 0 {
		return nil
	}

	ids := make([]string, 0, len(stale))
	for _, m := range stale {
		ids = append(ids, m.ID)
	}
	s.logger.ErrorContext(ctx, "sweeper: markets stuck in active long after close",
		slog.Int("count", len(stale)),
		slog.Any("market_ids", ids),
	)
	s.metrics.SweepStep("stale_active", len(stale))
	return nil
}
