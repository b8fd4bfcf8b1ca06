// Package notify implements the notification sink. Every notification is
// written to the outbox table; selected event types are also forwarded to
// operator channels (Telegram, Discord) so admins see escalations at once.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/marketescrow/internal/domain"
)

// Sender is one operator alert channel.
type Sender interface {
	Send(ctx context.Context, n domain.Notification) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier implements domain.NotificationSink on top of the outbox store.
type Notifier struct {
	outbox  domain.NotificationStore
	senders []Sender
	events  map[domain.NotificationType]bool // forwarded types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only types listed in events are forwarded
// to senders; an empty list forwards every type.
func NewNotifier(outbox domain.NotificationStore, senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.NotificationType]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.NotificationType(e)] = true
		}
	}
	return &Notifier{
		outbox:  outbox,
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enqueue stores n in the outbox. A repeated idempotency key returns false
// and is not forwarded again. Sender failures are logged only; the outbox
// row is the record of truth.
func (n *Notifier) Enqueue(ctx context.Context, note domain.Notification) (bool, error) {
	queued, err := n.outbox.Insert(ctx, note)
	if err != nil {
		return false, fmt.Errorf("notify: enqueue %s: %w", note.Type, err)
	}
	if !queued {
		n.logger.DebugContext(ctx, "notify: duplicate suppressed",
			slog.String("idempotency_key", note.IdempotencyKey),
		)
		return false, nil
	}
	if n.forwards(note.Type) {
		if err := n.dispatch(ctx, note); err != nil {
			n.logger.WarnContext(ctx, "notify: operator alert failed",
				slog.String("type", string(note.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
	return true, nil
}

func (n *Notifier) forwards(t domain.NotificationType) bool {
	if len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[t]
}

// dispatch sends to every sender. One failing sender does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, note domain.Notification) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, note); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: alert sent",
			slog.String("sender", s.Name()),
			slog.String("type", string(note.Type)),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// alertText renders the body shared by the operator channels.
func alertText(note domain.Notification) string {
	var b strings.Builder
	b.WriteString(note.Message)
	if note.MarketID != "" {
		fmt.Fprintf(&b, "\nmarket: %s", note.MarketID)
	}
	fmt.Fprintf(&b, "\nrecipient: %s", note.UserID)
	return b.String()
}

var _ domain.NotificationSink = (*Notifier)(nil)
