package notification

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"notifybridge/internal/common"
)

const (
	defaultListWindow = 24 * time.Hour
	defaultListLimit  = 50
	maxListLimit      = 500
)

// Enqueuer defines the contract for asking the worker to run a loop.
// This keeps the admin API decoupled from the queue implementation.
type Enqueuer interface {
	EnqueueRunLoop(loop string) error
}

// Service backs the admin API: record inspection and manual loop runs.
type Service struct {
	store    NotificationStore
	enqueuer Enqueuer
	loops    []string
	now      func() time.Time
}

// NewService creates a new admin service. loops lists the names that may be
// triggered; an empty list rejects every trigger.
func NewService(store NotificationStore, enqueuer Enqueuer, loops []string) *Service {
	return &Service{
		store:    store,
		enqueuer: enqueuer,
		loops:    loops,
		now:      time.Now,
	}
}

// ListRecords returns recent records of one instance, newest writes first.
func (s *Service) ListRecords(ctx context.Context, filter RecordFilter) (*ListResponse, error) {
	if !IsValidInstance(filter.Instance) {
		return nil, common.NewValidationError(fmt.Sprintf("unknown instance: %s", filter.Instance))
	}

	since := s.now().Add(-defaultListWindow)
	if filter.Since != "" {
		t, err := time.Parse(time.RFC3339, filter.Since)
		if err != nil {
			return nil, common.NewValidationError("since must be an RFC3339 timestamp")
		}
		since = t
	}

	limit := filter.Limit
	if limit < 1 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	q := Filter{Field: FieldUpdatedAt, Op: OpGTE, Value: since, Limit: limit}
	if filter.Status != "" {
		q.Statuses = []Status{Status(filter.Status)}
	}

	records, err := s.store.Query(ctx, filter.Instance, q)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	slices.SortFunc(records, func(a, b *Record) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})

	return &ListResponse{
		Instance: filter.Instance,
		Records:  records,
		Total:    len(records),
	}, nil
}

// GetRecord retrieves one record by its key.
func (s *Service) GetRecord(ctx context.Context, instance Instance, externalID string) (*Record, error) {
	if !IsValidInstance(instance) {
		return nil, common.NewValidationError(fmt.Sprintf("unknown instance: %s", instance))
	}
	rec, err := s.store.Get(ctx, instance, externalID)
	if err != nil {
		return nil, fmt.Errorf("fetching record: %w", err)
	}
	if rec == nil {
		return nil, common.NewNotFoundError("record", string(instance)+"/"+externalID)
	}
	return rec, nil
}

// TriggerLoop asks the worker to run the named loop as soon as it is idle.
func (s *Service) TriggerLoop(ctx context.Context, loop string) error {
	if !slices.Contains(s.loops, loop) {
		return common.NewNotFoundError("loop", loop)
	}
	if err := s.enqueuer.EnqueueRunLoop(loop); err != nil {
		return fmt.Errorf("enqueuing loop run: %w", err)
	}
	slog.InfoContext(ctx, "loop run requested", "loop", loop)
	return nil
}
