package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/marketescrow/internal/domain"
	"github.com/alanyoungcy/marketescrow/internal/metrics"
)

// Idempotency key prefixes for notifications that must go out at most once.
const (
	keyMarketClosed   = "market_closed:"
	keyReminder24h    = "reminder_24h:"
	keyReminderUrgent = "reminder_urgent:"
	keyEscalated      = "escalated:"
	keyAdminReview    = "admin_review:"
)

// outbox wraps a NotificationSink so that enqueue failures are logged and
// never propagate into the operation that triggered them.
type outbox struct {
	sink    domain.NotificationSink
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func (o outbox) enqueue(ctx context.Context, n domain.Notification, now time.Time) bool {
	if o.sink == nil {
		return false
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	queued, err := o.sink.Enqueue(ctx, n)
	if err != nil {
		o.logger.WarnContext(ctx, "notification enqueue failed",
			slog.String("type", string(n.Type)),
			slog.String("user_id", n.UserID),
			slog.String("market_id", n.MarketID),
			slog.String("error", err.Error()),
		)
		return false
	}
	if queued {
		o.metrics.NotificationEnqueued(string(n.Type))
	}
	return queued
}
