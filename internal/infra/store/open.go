package store

import (
	"fmt"

	"notifybridge/internal/domain/notification"

	"github.com/redis/go-redis/v9"
)

// Backend names accepted by Open.
const (
	BackendSupabase = "supabase"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Options selects and configures a record store backend.
type Options struct {
	Backend     string
	SupabaseURL string
	SupabaseKey string
	Redis       *redis.Client
	KeyPrefix   string
}

// Open builds the configured store.
func Open(opts Options) (notification.NotificationStore, error) {
	switch opts.Backend {
	case BackendSupabase, "":
		return NewSupabaseStore(opts.SupabaseURL, opts.SupabaseKey)
	case BackendRedis:
		if opts.Redis == nil {
			return nil, fmt.Errorf("redis store requires a redis client")
		}
		return NewRedisStore(opts.Redis, opts.KeyPrefix), nil
	case BackendMemory:
		return NewMemoryStore(nil), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
