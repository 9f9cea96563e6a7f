package notification

import "context"

// RecipientRateLimiter caps how many direct messages one user receives per window.
// Implementations live in infra/ratelimit/.
type RecipientRateLimiter interface {
	// Allow reports whether another direct message may go to userID now.
	Allow(ctx context.Context, userID string) (bool, error)
	// Record counts one delivered message against userID's window.
	Record(ctx context.Context, userID string) error
}
