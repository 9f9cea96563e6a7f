package notification

import (
	"context"
	"time"
)

// Field names a timestamp column that records can be range-queried on.
type Field string

const (
	FieldUpdatedAt  Field = "updated_at"
	FieldNotifiedAt Field = "notified_at"
)

// Op is a range comparison applied to a Field.
type Op string

const (
	OpGTE Op = "gte"
	OpLT  Op = "lt"
)

// Filter selects records of one instance by a timestamp range.
// Statuses, when non-empty, further restricts the result.
type Filter struct {
	Field    Field
	Op       Op
	Value    time.Time
	Statuses []Status
	Limit    int
}

// Matches reports whether rec satisfies the filter. Backends that cannot
// push every predicate down use it to finish filtering in process.
func (f Filter) Matches(rec *Record) bool {
	var ts *time.Time
	switch f.Field {
	case FieldNotifiedAt:
		ts = rec.NotifiedAt
	default:
		ts = &rec.UpdatedAt
	}
	if ts == nil {
		return false
	}
	switch f.Op {
	case OpLT:
		if !ts.Before(f.Value) {
			return false
		}
	default:
		if ts.Before(f.Value) {
			return false
		}
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if rec.Status == s {
			return true
		}
	}
	return false
}

// NotificationStore defines the contract for the durable notification
// bookkeeping. Implementations live in infra/store/ (Supabase, Redis, memory).
type NotificationStore interface {
	// Get returns the record for the key, or nil, nil if none exists.
	Get(ctx context.Context, instance Instance, externalID string) (*Record, error)

	// Upsert writes the record, replacing any previous version for the same key.
	// UpdatedAt is set by the store.
	Upsert(ctx context.Context, rec *Record) error

	// Delete removes the record for the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, instance Instance, externalID string) error

	// Query returns records of one instance matching the filter.
	Query(ctx context.Context, instance Instance, filter Filter) ([]*Record, error)

	// BatchDelete removes the given keys in a single batch and returns how many existed.
	BatchDelete(ctx context.Context, instance Instance, externalIDs []string) (int, error)
}
