package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"notifybridge/internal/common"
	"notifybridge/internal/domain/notification"

	"github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"
)

const (
	tableName  = "notification_records"
	onConflict = "instance,external_id"
)

var _ notification.NotificationStore = (*SupabaseStore)(nil)

// SupabaseStore implements NotificationStore using the Supabase Go SDK.
type SupabaseStore struct {
	client *supa.Client
	now    func() time.Time
}

// NewSupabaseStore creates a new Supabase-backed record store.
func NewSupabaseStore(supabaseURL, serviceKey string) (*SupabaseStore, error) {
	client, err := supa.NewClient(supabaseURL, serviceKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating supabase client: %w", err)
	}
	return &SupabaseStore{client: client, now: time.Now}, nil
}

// supabaseRow is the internal representation for Supabase PostgREST reads and writes.
type supabaseRow struct {
	Instance        string            `json:"instance"`
	ExternalID      string            `json:"external_id"`
	Status          string            `json:"status"`
	NotifiedAt      *string           `json:"notified_at"`
	LastUpdatedAt   *string           `json:"last_updated_at"`
	LastSeenAt      *string           `json:"last_seen_at"`
	DueAt           *string           `json:"due_at"`
	OutwardHandle   *string           `json:"outward_handle"`
	RecipientID     *string           `json:"recipient_id"`
	Fingerprint     map[string]string `json:"fingerprint,omitempty"`
	SourceCreatedAt *string           `json:"source_created_at"`
	ErrorMessage    *string           `json:"error_message"`
	CreatedAt       string            `json:"created_at,omitempty"`
	UpdatedAt       string            `json:"updated_at,omitempty"`
}

// Get retrieves one record. Returns nil, nil if no record is found.
func (s *SupabaseStore) Get(ctx context.Context, instance notification.Instance, externalID string) (*notification.Record, error) {
	data, _, err := s.client.From(tableName).
		Select("*", "", false).
		Eq("instance", string(instance)).
		Eq("external_id", externalID).
		Limit(1, "").
		Execute()
	if err != nil {
		return nil, common.NewStoreUnavailableError("get", err)
	}

	var rows []supabaseRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, common.NewStoreUnavailableError("get", fmt.Errorf("parsing record: %w", err))
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rowToRecord(&rows[0]), nil
}

// Upsert inserts or replaces the record keyed by (instance, external_id).
func (s *SupabaseStore) Upsert(ctx context.Context, rec *notification.Record) error {
	rec.UpdatedAt = s.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}

	_, _, err := s.client.From(tableName).
		Upsert(recordToRow(rec), onConflict, "minimal", "").
		Execute()
	if err != nil {
		return common.NewStoreUnavailableError("upsert", err)
	}
	return nil
}

// Delete removes one record. Deleting a missing record is not an error.
func (s *SupabaseStore) Delete(ctx context.Context, instance notification.Instance, externalID string) error {
	_, _, err := s.client.From(tableName).
		Delete("minimal", "").
		Eq("instance", string(instance)).
		Eq("external_id", externalID).
		Execute()
	if err != nil {
		return common.NewStoreUnavailableError("delete", err)
	}
	return nil
}

// Query retrieves records of one instance in a timestamp range, oldest first.
func (s *SupabaseStore) Query(ctx context.Context, instance notification.Instance, filter notification.Filter) ([]*notification.Record, error) {
	column := string(filter.Field)
	if column == "" {
		column = string(notification.FieldUpdatedAt)
	}
	value := filter.Value.UTC().Format(time.RFC3339Nano)

	query := s.client.From(tableName).
		Select("*", "", false).
		Eq("instance", string(instance))

	switch filter.Op {
	case notification.OpLT:
		query = query.Lt(column, value)
	default:
		query = query.Gte(column, value)
	}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		query = query.In("status", statuses)
	}

	query = query.Order(column, &postgrest.OrderOpts{Ascending: true})
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit, "")
	}

	data, _, err := query.Execute()
	if err != nil {
		return nil, common.NewStoreUnavailableError("query", err)
	}

	var rows []supabaseRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, common.NewStoreUnavailableError("query", fmt.Errorf("parsing records: %w", err))
	}

	records := make([]*notification.Record, len(rows))
	for i := range rows {
		records[i] = rowToRecord(&rows[i])
	}
	return records, nil
}

// BatchDelete removes the given records in one request and returns how many existed.
func (s *SupabaseStore) BatchDelete(ctx context.Context, instance notification.Instance, externalIDs []string) (int, error) {
	if len(externalIDs) == 0 {
		return 0, nil
	}

	data, _, err := s.client.From(tableName).
		Delete("representation", "").
		Eq("instance", string(instance)).
		In("external_id", externalIDs).
		Execute()
	if err != nil {
		return 0, common.NewStoreUnavailableError("batch delete", err)
	}

	var rows []supabaseRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return 0, common.NewStoreUnavailableError("batch delete", fmt.Errorf("parsing delete response: %w", err))
	}
	return len(rows), nil
}

func recordToRow(rec *notification.Record) supabaseRow {
	return supabaseRow{
		Instance:        string(rec.Instance),
		ExternalID:      rec.ExternalID,
		Status:          string(rec.Status),
		NotifiedAt:      formatTime(rec.NotifiedAt),
		LastUpdatedAt:   formatTime(rec.LastUpdatedAt),
		LastSeenAt:      formatTime(rec.LastSeenAt),
		DueAt:           formatTime(rec.DueAt),
		OutwardHandle:   optString(rec.OutwardHandle),
		RecipientID:     optString(rec.RecipientID),
		Fingerprint:     rec.Fingerprint,
		SourceCreatedAt: formatTime(nonZero(rec.SourceCreatedAt)),
		ErrorMessage:    optString(rec.ErrorMessage),
		CreatedAt:       rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:       rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// rowToRecord converts a supabaseRow to a Record.
func rowToRecord(row *supabaseRow) *notification.Record {
	rec := &notification.Record{
		Instance:      notification.Instance(row.Instance),
		ExternalID:    row.ExternalID,
		Status:        notification.Status(row.Status),
		NotifiedAt:    parseTime(row.NotifiedAt),
		LastUpdatedAt: parseTime(row.LastUpdatedAt),
		LastSeenAt:    parseTime(row.LastSeenAt),
		DueAt:         parseTime(row.DueAt),
		Fingerprint:   row.Fingerprint,
	}
	if row.OutwardHandle != nil {
		rec.OutwardHandle = *row.OutwardHandle
	}
	if row.RecipientID != nil {
		rec.RecipientID = *row.RecipientID
	}
	if row.ErrorMessage != nil {
		rec.ErrorMessage = *row.ErrorMessage
	}
	if t := parseTime(row.SourceCreatedAt); t != nil {
		rec.SourceCreatedAt = *t
	}
	if t := parseTime(&row.CreatedAt); t != nil {
		rec.CreatedAt = *t
	}
	if t := parseTime(&row.UpdatedAt); t != nil {
		rec.UpdatedAt = *t
	}
	return rec
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

func parseTime(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil
	}
	return &t
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
