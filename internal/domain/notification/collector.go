package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CollectorConfig holds configuration for the record garbage collector.
type CollectorConfig struct {
	Instance Instance

	// Retention is how long a record is kept after its last notification.
	Retention time.Duration

	// BatchSize is the maximum number of records deleted per sweep.
	BatchSize int

	Logger *slog.Logger
	Now    func() time.Time
}

// Collector periodically deletes records of one instance whose notification
// happened longer ago than the retention window, together with pending or
// failed records that stopped being written to within it.
type Collector struct {
	store  NotificationStore
	config CollectorConfig
	logger *slog.Logger
}

// NewCollector creates a garbage collector for one instance.
func NewCollector(store NotificationStore, cfg CollectorConfig) *Collector {
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Collector{
		store:  store,
		config: cfg,
		logger: logger.With("instance", string(cfg.Instance)),
	}
}

// Name is the loop name the scheduler registers this collector under.
func (c *Collector) Name() string {
	return string(c.config.Instance) + "-gc"
}

// Run performs one sweep with the configured retention.
func (c *Collector) Run(ctx context.Context) error {
	_, err := c.Sweep(ctx, c.config.Retention)
	return err
}

// Sweep deletes expired records and returns how many were removed.
// Records whose notified_at is newer than the cutoff are never touched.
func (c *Collector) Sweep(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := c.config.Now().Add(-retention)

	expired, err := c.store.Query(ctx, c.config.Instance, Filter{
		Field: FieldNotifiedAt,
		Op:    OpLT,
		Value: cutoff,
		Limit: c.config.BatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("gc: listing notified records: %w", err)
	}

	ids := make([]string, 0, len(expired))
	seen := make(map[string]bool, len(expired))
	for _, rec := range expired {
		if !seen[rec.ExternalID] {
			seen[rec.ExternalID] = true
			ids = append(ids, rec.ExternalID)
		}
	}

	if remaining := c.config.BatchSize - len(ids); remaining > 0 {
		stale, err := c.store.Query(ctx, c.config.Instance, Filter{
			Field:    FieldUpdatedAt,
			Op:       OpLT,
			Value:    cutoff,
			Statuses: []Status{StatusPending, StatusFailed},
			Limit:    remaining,
		})
		if err != nil {
			return 0, fmt.Errorf("gc: listing stale records: %w", err)
		}
		for _, rec := range stale {
			if rec.NotifiedAt != nil && !rec.NotifiedAt.Before(cutoff) {
				continue
			}
			if !seen[rec.ExternalID] {
				seen[rec.ExternalID] = true
				ids = append(ids, rec.ExternalID)
			}
		}
	}

	if len(ids) == 0 {
		c.logger.Debug("gc: nothing to delete", "cutoff", cutoff)
		return 0, nil
	}

	deleted, err := c.store.BatchDelete(ctx, c.config.Instance, ids)
	if err != nil {
		return 0, fmt.Errorf("gc: batch delete: %w", err)
	}

	c.logger.Info("gc: sweep complete",
		"deleted", deleted,
		"candidates", len(ids),
		"cutoff", cutoff,
	)
	return deleted, nil
}
