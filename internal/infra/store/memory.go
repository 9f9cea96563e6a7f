package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"notifybridge/internal/domain/notification"
)

var _ notification.NotificationStore = (*MemoryStore)(nil)

type recordKey struct {
	instance   notification.Instance
	externalID string
}

// MemoryStore keeps records in process. It is used for local runs without a
// database and in tests; nothing survives a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]notification.Record
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store. A nil now uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		records: make(map[recordKey]notification.Record),
		now:     now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, instance notification.Instance, externalID string) (*notification.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey{instance, externalID}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, rec *notification.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.UpdatedAt = s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	s.records[recordKey{rec.Instance, rec.ExternalID}] = *rec
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, instance notification.Instance, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordKey{instance, externalID})
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, instance notification.Instance, filter notification.Filter) ([]*notification.Record, error) {
	s.mu.RLock()
	var out []*notification.Record
	for key, rec := range s.records {
		if key.instance != instance || !filter.Matches(&rec) {
			continue
		}
		rec := rec
		out = append(out, &rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return sortTime(out[i], filter.Field).Before(sortTime(out[j], filter.Field))
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) BatchDelete(ctx context.Context, instance notification.Instance, externalIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for _, id := range externalIDs {
		key := recordKey{instance, id}
		if _, ok := s.records[key]; ok {
			delete(s.records, key)
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of stored records across all instances.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func sortTime(rec *notification.Record, field notification.Field) time.Time {
	if field == notification.FieldNotifiedAt && rec.NotifiedAt != nil {
		return *rec.NotifiedAt
	}
	return rec.UpdatedAt
}
