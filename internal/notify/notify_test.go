package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketescrow/internal/domain"
)

type memOutbox struct {
	mu   sync.Mutex
	keys map[string]bool
	rows []domain.Notification
	err  error
}

func (o *memOutbox) Insert(_ context.Context, n domain.Notification) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return false, o.err
	}
	if o.keys == nil {
		o.keys = map[string]bool{}
	}
	if n.IdempotencyKey != "" {
		if o.keys[n.IdempotencyKey] {
			return false, nil
		}
		o.keys[n.IdempotencyKey] = true
	}
	o.rows = append(o.rows, n)
	return true, nil
}

type recordingSender struct {
	name string
	sent []domain.Notification
	err  error
}

func (s *recordingSender) Send(_ context.Context, n domain.Notification) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *recordingSender) Name() string { return s.name }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func adminNote(key string) domain.Notification {
	return domain.Notification{
		ID:             "n-1",
		UserID:         "admin-1",
		MarketID:       "m-1",
		Type:           domain.NotifyAdminReview,
		Title:          "Admin review required",
		Message:        "market m-1 missed its settlement window",
		IdempotencyKey: key,
	}
}

func TestEnqueueForwardsConfiguredTypes(t *testing.T) {
	outbox := &memOutbox{}
	s := &recordingSender{name: "rec"}
	n := NewNotifier(outbox, []Sender{s}, []string{" admin_review_required "}, discard())

	queued, err := n.Enqueue(context.Background(), adminNote("admin_review:m-1:admin-1"))
	require.NoError(t, err)
	assert.True(t, queued)
	assert.Len(t, s.sent, 1)

	queued, err = n.Enqueue(context.Background(), domain.Notification{
		UserID: "u-1", Type: domain.NotifyBetPlaced, Title: "Bet placed",
	})
	require.NoError(t, err)
	assert.True(t, queued)
	assert.Len(t, s.sent, 1, "bet_placed is not an operator event")
	assert.Len(t, outbox.rows, 2)
}

func TestEnqueueDuplicateIsNotForwarded(t *testing.T) {
	outbox := &memOutbox{}
	s := &recordingSender{name: "rec"}
	n := NewNotifier(outbox, []Sender{s}, nil, discard())

	for range 3 {
		_, err := n.Enqueue(context.Background(), adminNote("escalated:m-1"))
		require.NoError(t, err)
	}
	assert.Len(t, outbox.rows, 1)
	assert.Len(t, s.sent, 1)
}

func TestEnqueueSenderFailureStillQueued(t *testing.T) {
	outbox := &memOutbox{}
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	good := &recordingSender{name: "good"}
	n := NewNotifier(outbox, []Sender{bad, good}, nil, discard())

	queued, err := n.Enqueue(context.Background(), adminNote("k"))
	require.NoError(t, err)
	assert.True(t, queued)
	assert.Len(t, good.sent, 1)
}

func TestEnqueueOutboxFailure(t *testing.T) {
	outbox := &memOutbox{err: errors.New("db down")}
	s := &recordingSender{name: "rec"}
	n := NewNotifier(outbox, []Sender{s}, nil, discard())

	queued, err := n.Enqueue(context.Background(), adminNote("k"))
	require.Error(t, err)
	assert.False(t, queued)
	assert.Empty(t, s.sent)
}

func TestTelegramSend(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), adminNote("k")))

	assert.Equal(t, "42", got["chat_id"])
	assert.Contains(t, got["text"], "*Admin review required*")
	assert.Contains(t, got["text"], "market: m-1")
}

func TestDiscordSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), adminNote("k"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestDiscordSend(t *testing.T) {
	var got discordMessage
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		require.NoError(t, json.Unmarshal(body, &raw))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), adminNote("k")))
	assert.Contains(t, got.Content, "**Admin review required**")
	assert.Contains(t, got.Content, "recipient: admin-1")
	assert.Contains(t, got.Content, "`admin_review_required`")
	assert.Equal(t, "escrow", got.Username)
	assert.Equal(t, map[string]any{"parse": []any{}}, raw["allowed_mentions"])
}
