package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"notifybridge/internal/domain/notification"

	"github.com/redis/go-redis/v9"
)

var _ notification.RecipientRateLimiter = (*RedisRecipientLimiter)(nil)

// RedisRecipientLimiter caps direct messages per user with a Redis sorted-set
// sliding window: each delivery is a member scored by its timestamp.
type RedisRecipientLimiter struct {
	client *redis.Client
	prefix string
	max    int
	window time.Duration
	now    func() time.Time
}

// NewRedisRecipientLimiter creates a limiter allowing max messages per user per window.
func NewRedisRecipientLimiter(client *redis.Client, prefix string, max int, window time.Duration) *RedisRecipientLimiter {
	if prefix == "" {
		prefix = "notifybridge"
	}
	if window <= 0 {
		window = time.Hour
	}
	return &RedisRecipientLimiter{
		client: client,
		prefix: prefix,
		max:    max,
		window: window,
		now:    time.Now,
	}
}

func (r *RedisRecipientLimiter) key(userID string) string {
	return fmt.Sprintf("%s:ratelimit:dm:%s", r.prefix, userID)
}

// Allow reports whether another direct message may go to userID. It does not
// consume quota; call Record once the message is delivered.
func (r *RedisRecipientLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	key := r.key(userID)
	windowStart := r.now().Add(-r.window)

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("checking recipient rate limit: %w", err)
	}

	return countCmd.Val() < int64(r.max), nil
}

// Record adds one delivery to userID's window.
func (r *RedisRecipientLimiter) Record(ctx context.Context, userID string) error {
	now := r.now()
	key := r.key(userID)

	// Random suffix keeps concurrent members distinct.
	randBytes := make([]byte, 4)
	_, _ = rand.Read(randBytes)
	member := redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d:%s", now.UnixNano(), hex.EncodeToString(randBytes)),
	}

	pipe := r.client.Pipeline()
	pipe.ZAdd(ctx, key, member)
	pipe.Expire(ctx, key, r.window+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording rate limit entry: %w", err)
	}
	return nil
}
