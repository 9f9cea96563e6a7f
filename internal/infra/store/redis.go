package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"notifybridge/internal/common"
	"notifybridge/internal/domain/notification"

	"github.com/redis/go-redis/v9"
)

var _ notification.NotificationStore = (*RedisStore)(nil)

// RedisStore implements NotificationStore on Redis. Each record is a JSON
// string; two sorted sets per instance index the record ids by updated_at
// and notified_at in unix milliseconds.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed record store. Keys are namespaced under prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "notifybridge"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) recordKey(instance notification.Instance, id string) string {
	return fmt.Sprintf("%s:%s:record:%s", s.prefix, instance, id)
}

func (s *RedisStore) indexKey(instance notification.Instance, field notification.Field) string {
	return fmt.Sprintf("%s:%s:idx:%s", s.prefix, instance, field)
}

func (s *RedisStore) Get(ctx context.Context, instance notification.Instance, externalID string) (*notification.Record, error) {
	data, err := s.client.Get(ctx, s.recordKey(instance, externalID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, common.NewStoreUnavailableError("get", err)
	}

	var rec notification.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, common.NewStoreUnavailableError("get", fmt.Errorf("parsing record: %w", err))
	}
	return &rec, nil
}

func (s *RedisStore) Upsert(ctx context.Context, rec *notification.Record) error {
	rec.UpdatedAt = s.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(rec.Instance, rec.ExternalID), data, 0)
		pipe.ZAdd(ctx, s.indexKey(rec.Instance, notification.FieldUpdatedAt), redis.Z{
			Score:  float64(rec.UpdatedAt.UnixMilli()),
			Member: rec.ExternalID,
		})
		notified := s.indexKey(rec.Instance, notification.FieldNotifiedAt)
		if rec.NotifiedAt != nil {
			pipe.ZAdd(ctx, notified, redis.Z{
				Score:  float64(rec.NotifiedAt.UnixMilli()),
				Member: rec.ExternalID,
			})
		} else {
			pipe.ZRem(ctx, notified, rec.ExternalID)
		}
		return nil
	})
	if err != nil {
		return common.NewStoreUnavailableError("upsert", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, instance notification.Instance, externalID string) error {
	_, err := s.BatchDelete(ctx, instance, []string{externalID})
	return err
}

// Query walks the requested index by score and loads the matching documents.
// Status filtering happens after the load, so Limit is applied last.
func (s *RedisStore) Query(ctx context.Context, instance notification.Instance, filter notification.Filter) ([]*notification.Record, error) {
	field := filter.Field
	if field == "" {
		field = notification.FieldUpdatedAt
	}
	bound := strconv.FormatInt(filter.Value.UnixMilli(), 10)

	rng := &redis.ZRangeBy{Min: bound, Max: "+inf"}
	if filter.Op == notification.OpLT {
		rng = &redis.ZRangeBy{Min: "-inf", Max: "(" + bound}
	}
	if filter.Limit > 0 && len(filter.Statuses) == 0 {
		rng.Count = int64(filter.Limit)
	}

	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(instance, field), rng).Result()
	if err != nil {
		return nil, common.NewStoreUnavailableError("query", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(instance, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, common.NewStoreUnavailableError("query", err)
	}

	filter.Field = field
	records := make([]*notification.Record, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry without a document; the next write or delete repairs it.
			continue
		}
		var rec notification.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, common.NewStoreUnavailableError("query", fmt.Errorf("parsing record: %w", err))
		}
		if !filter.Matches(&rec) {
			continue
		}
		records = append(records, &rec)
		if filter.Limit > 0 && len(records) == filter.Limit {
			break
		}
	}
	return records, nil
}

func (s *RedisStore) BatchDelete(ctx context.Context, instance notification.Instance, externalIDs []string) (int, error) {
	if len(externalIDs) == 0 {
		return 0, nil
	}

	keys := make([]string, len(externalIDs))
	members := make([]any, len(externalIDs))
	for i, id := range externalIDs {
		keys[i] = s.recordKey(instance, id)
		members[i] = id
	}

	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.indexKey(instance, notification.FieldUpdatedAt), members...)
		pipe.ZRem(ctx, s.indexKey(instance, notification.FieldNotifiedAt), members...)
		return nil
	})
	if err != nil {
		return 0, common.NewStoreUnavailableError("batch delete", err)
	}
	return int(del.Val()), nil
}
