package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketescrow/internal/domain"
	"github.com/alanyoungcy/marketescrow/internal/service"
)

func newSweeper(e *env, locks domain.LockManager) *service.DeadlineSweeper {
	return service.NewDeadlineSweeper(e.svc, e.store, locks, e.sink, service.SweeperConfig{
		BatchSize:        50,
		SettlementWindow: 48 * time.Hour,
	}, nil, e.clock.Now, discardLogger())
}

// seedClosed stores a closed market whose close date lies ago in the past.
func seedClosed(e *env, id string, ago time.Duration) domain.Market {
	m := domain.Market{
		ID:                   id,
		CreatorID:            "creator-" + id,
		Title:                "Market " + id,
		EntryPrice:           dec("10"),
		CloseDate:            e.clock.Now().Add(-ago),
		Status:               domain.MarketClosed,
		CreatorDepositAmount: dec("25"),
	}
	e.store.put(m)
	return m
}

func TestSweeperClosesExpiredMarkets(t *testing.T) {
	e := newEnv(t)
	m := e.createMarket(t, 1)
	sw := newSweeper(e, newFakeLocks())

	report, err := sw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Closed)

	e.clock.Advance(time.Hour)
	report, err = sw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Closed)
	assert.Equal(t, domain.MarketClosed, e.store.market(m.ID).Status)

	report, err = sw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Closed)
	assert.Len(t, e.sink.ofType(domain.NotifyDeclareWinner), 1)
}

func TestSweeperSendsOneReminderPerWindow(t *testing.T) {
	e := newEnv(t)
	m := seedClosed(e, "m1", 24*time.Hour+10*time.Minute)
	sw := newSweeper(e, newFakeLocks())

	for range 3 {
		_, err := sw.RunOnce(context.Background())
		require.NoError(t, err)
		e.clock.Advance(15 * time.Minute)
	}

	reminders := e.sink.ofType(domain.NotifyReminder24h)
	require.Len(t, reminders, 1)
	assert.Equal(t, m.CreatorID, reminders[0].UserID)
	assert.Equal(t, "reminder_24h:m1", reminders[0].IdempotencyKey)
	assert.Empty(t, e.sink.ofType(domain.NotifyReminderUrgent))
}

func TestSweeperRemindsEveryMarketWhenWindowExceedsBatch(t *testing.T) {
	e := newEnv(t)
	seedClosed(e, "m1", 24*time.Hour+50*time.Minute)
	seedClosed(e, "m2", 24*time.Hour+40*time.Minute)
	seedClosed(e, "m3", 24*time.Hour+5*time.Minute)
	sw := service.NewDeadlineSweeper(e.svc, e.store, newFakeLocks(), e.sink, service.SweeperConfig{
		BatchSize:        2,
		SettlementWindow: 48 * time.Hour,
	}, nil, e.clock.Now, discardLogger())

	report, err := sw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Reminded24h)

	e.clock.Advance(5 * time.Minute)
	report, err = sw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reminded24h)

	e.clock.Advance(time.Hour)
	_, err = sw.RunOnce(context.Background())
	require.NoError(t, err)

	var ids []string
	for _, n := range e.sink.ofType(domain.NotifyReminder24h) {
		ids = append(ids, n.MarketID)
	}
	assert.ElementsMatch(t, []string{"m1", "m2", "m3"}, ids)
}

func TestSweeperReminderWindowBounds(t *testing.T) {
	tests := []struct {
		name   string
		ago    time.Duration
		want24 int
		wantUr int
	}{
		{"just before 24h", 24*time.Hour - time.Second, 0, 0},
		{"exactly 24h", 24 * time.Hour, 1, 0},
		{"just before 25h", 25*time.Hour - time.Second, 1, 0},
		{"exactly 25h", 25 * time.Hour, 0, 0},
		{"exactly 47h", 47 * time.Hour, 0, 1},
		{"47.9h", 47*time.Hour + 54*time.Minute, 0, 1},
		{"exactly 48h", 48 * time.Hour, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			seedClosed(e, "m", tt.ago)
			report, err := newSweeper(e, nil).RunOnce(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want24, report.Reminded24h)
			assert.Equal(t, tt.wantUr, report.RemindedUrgent)
			assert.Zero(t, report.Escalated)
		})
	}
}

func TestSweeperEscalatesOverdueMarket(t *testing.T) {
	e := newEnv(t)
	m := seedClosed(e, "late", 49*time.Hour)
	sw := newSweeper(e, newFakeLocks())

	report, err := sw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Escalated)

	got := e.store.market(m.ID)
	assert.Equal(t, domain.MarketAwaitingAdmin, got.Status)
	assert.True(t, got.AdminReviewRequired)
	require.NotNil(t, got.DeadlineExceededAt)
	assert.Equal(t, e.clock.Now(), *got.DeadlineExceededAt)

	fs := e.store.forfeituresFor(m.ID)
	require.Len(t, fs, 1)
	assert.True(t, dec("25").Equal(fs[0].Amount))
	assert.Equal(t, domain.ForfeitLateSettlement, fs[0].SourceType)
	_, ok := e.store.earningFor(m.ID)
	assert.False(t, ok)

	assert.Len(t, e.sink.ofType(domain.NotifyDepositForfeited), 1)
	assert.Len(t, e.sink.ofType(domain.NotifyAdminReview), 2)

	report, err = sw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Escalated)
	assert.Len(t, e.store.forfeituresFor(m.ID), 1)

	_, err = e.svc.DeclareWinner(context.Background(), m.ID, m.CreatorID, domain.OptionA)
	assert.ErrorIs(t, err, domain.ErrMarketNotClosed)
}

func TestSweeperDoesNotEscalateAtExactDeadline(t *testing.T) {
	e := newEnv(t)
	seedClosed(e, "edge", 48*time.Hour)

	report, err := newSweeper(e, nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Escalated)
	assert.Equal(t, domain.MarketClosed, e.store.market("edge").Status)
}

func TestSweeperSkipsFinalizedMarkets(t *testing.T) {
	e := newEnv(t)
	m := seedClosed(e, "done", 49*time.Hour)
	m.Status = domain.MarketFinalized
	e.store.put(m)

	report, err := newSweeper(e, nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Escalated)
	assert.Empty(t, e.store.forfeituresFor("done"))
}

func TestSweeperReportsStaleActiveMarkets(t *testing.T) {
	e := newEnv(t)
	stale := domain.Market{
		ID:        "stuck",
		CreatorID: "c",
		CloseDate: e.clock.Now().Add(-30 * time.Hour),
		Status:    domain.MarketActive,
	}
	e.store.put(stale)

	// Drive the stale check directly: a sweeper whose close step is broken
	// leaves the market active.
	sw := service.NewDeadlineSweeper(brokenLifecycle{}, e.store, nil, e.sink, service.SweeperConfig{}, nil, e.clock.Now, discardLogger())
	report, err := sw.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, report.StaleActive)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, domain.MarketActive, e.store.market("stuck").Status)
}

func TestSweeperSkipsWhenLockHeld(t *testing.T) {
	e := newEnv(t)
	seedClosed(e, "late", 49*time.Hour)
	locks := newFakeLocks()
	locks.held["deadline_sweeper"] = true

	report, err := newSweeper(e, locks).RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, domain.MarketClosed, e.store.market("late").Status)
}

func TestSweeperRunsWhenLockBackendFails(t *testing.T) {
	e := newEnv(t)
	seedClosed(e, "late", 49*time.Hour)
	locks := newFakeLocks()
	locks.err = errors.New("redis: connection refused")

	report, err := newSweeper(e, locks).RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 1, report.Escalated)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	e := newEnv(t)
	sw := newSweeper(e, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

type brokenLifecycle struct{}

func (brokenLifecycle) CloseExpired(context.Context, time.Time, int) ([]domain.Market, error) {
	return nil, errors.New("db down")
}

func (brokenLifecycle) Escalate(context.Context, string, time.Time) (domain.Market, error) {
	return domain.Market{}, errors.New("db down")
}
