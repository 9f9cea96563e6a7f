package ratelimit

import (
	"context"
	"testing"
	"time"

	"notifybridge/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T, max int) (*RedisRecipientLimiter, *testutil.Clock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := testutil.NewClock(time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC))
	l := NewRedisRecipientLimiter(client, "test", max, time.Hour)
	l.now = clock.Now
	return l, clock, mr
}

// send mirrors a delivery: check the limit, then record on success.
func send(t *testing.T, l *RedisRecipientLimiter, userID string) bool {
	t.Helper()
	ctx := context.Background()
	ok, err := l.Allow(ctx, userID)
	require.NoError(t, err)
	if ok {
		require.NoError(t, l.Record(ctx, userID))
	}
	return ok
}

func TestAllowUpToMaxPerWindow(t *testing.T) {
	l, _, _ := newLimiter(t, 2)

	assert.True(t, send(t, l, "u1"))
	assert.True(t, send(t, l, "u1"))
	assert.False(t, send(t, l, "u1"))
	assert.True(t, send(t, l, "u2"), "limits are per recipient")
}

func TestAllowDoesNotSpendQuota(t *testing.T) {
	l, _, _ := newLimiter(t, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	require.NoError(t, l.Record(ctx, "u1"))
	ok, err := l.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWindowSlides(t *testing.T) {
	l, clock, _ := newLimiter(t, 1)
	ctx := context.Background()

	require.True(t, send(t, l, "u1"))

	clock.Advance(30 * time.Minute)
	ok, err := l.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(31 * time.Minute)
	ok, err = l.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAllowSurfacesRedisErrors(t *testing.T) {
	l, _, mr := newLimiter(t, 1)
	mr.Close()

	_, err := l.Allow(context.Background(), "u1")
	assert.Error(t, err)
	assert.Error(t, l.Record(context.Background(), "u1"))
}
