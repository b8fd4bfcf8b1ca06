package domain

import (
	"context"
	"time"
)

// NotificationType identifies the template/intent of a notification.
type NotificationType string

const (
	NotifyDeclareWinner    NotificationType = "declare_winner"
	NotifyReminder24h      NotificationType = "reminder_24h"
	NotifyReminderUrgent   NotificationType = "reminder_urgent"
	NotifyDepositForfeited NotificationType = "deposit_forfeited"
	NotifyAdminReview      NotificationType = "admin_review_required"
	NotifyMarketWon        NotificationType = "market_won"
	NotifyMarketSettled    NotificationType = "market_settled"
	NotifyBetPlaced        NotificationType = "bet_placed"
)

// Notification is one enqueued message for a user. A non-empty
// IdempotencyKey makes the enqueue at-most-once.
type Notification struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	MarketID       string            `json:"market_id,omitempty"`
	Type           NotificationType  `json:"type"`
	Title          string            `json:"title"`
	Message        string            `json:"message"`
	Data           map[string]string `json:"data,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// NotificationSink accepts notifications for later delivery. queued is false
// when a notification with the same idempotency key already exists.
type NotificationSink interface {
	Enqueue(ctx context.Context, n Notification) (queued bool, err error)
}
