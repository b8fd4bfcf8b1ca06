package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	c, mr := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := range 3 {
		ok, err := rl.Allow(ctx, "user-1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i+1)
	}
	ok, err := rl.Allow(ctx, "user-1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "fourth request inside the window")

	members, err := mr.ZMembers("ratelimit:user-1")
	require.NoError(t, err)
	assert.Len(t, members, 3, "rejected requests are not counted")

	ok, err = rl.Allow(ctx, "user-2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "callers have separate windows")

	now = now.Add(30 * time.Second)
	ok, err = rl.Allow(ctx, "user-1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(31 * time.Second)
	ok, err = rl.Allow(ctx, "user-1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "earlier requests slid out of the window")
}

func TestRateLimiterSetsExpiry(t *testing.T) {
	c, mr := newTestClient(t)
	rl := NewRateLimiter(c)

	ok, err := rl.Allow(context.Background(), "user-1", 5, 2*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2*time.Minute, mr.TTL("ratelimit:user-1"))
}

func TestRateLimiterError(t *testing.T) {
	c, mr := newTestClient(t)
	rl := NewRateLimiter(c)
	mr.SetError("LOADING")

	ok, err := rl.Allow(context.Background(), "user-1", 5, time.Minute)
	require.Error(t, err)
	assert.False(t, ok)
}
