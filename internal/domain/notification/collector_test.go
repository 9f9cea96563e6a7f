package notification_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"notifybridge/internal/common"
	"notifybridge/internal/domain/notification"
	"notifybridge/internal/infra/store"
	"notifybridge/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type batchFailingStore struct {
	*store.MemoryStore
}

func (s batchFailingStore) BatchDelete(ctx context.Context, instance notification.Instance, ids []string) (int, error) {
	return 0, common.NewStoreUnavailableError("batch delete", errors.New("timeout"))
}

func seed(t *testing.T, st notification.NotificationStore, id string, status notification.Status, notified *time.Time) {
	t.Helper()
	require.NoError(t, st.Upsert(context.Background(), &notification.Record{
		Instance:   notification.InstanceLobby,
		ExternalID: id,
		Status:     status,
		NotifiedAt: notified,
	}))
}

func TestSweepDeletesOnlyExpiredRecords(t *testing.T) {
	clock := testutil.NewClock(start)
	mem := store.NewMemoryStore(clock.Now)

	old := start
	seed(t, mem, "old-notified", notification.StatusNotified, &old)
	seed(t, mem, "old-pending", notification.StatusPending, nil)
	seed(t, mem, "old-failed", notification.StatusFailed, nil)

	clock.Advance(48 * time.Hour)
	fresh := clock.Now()
	seed(t, mem, "fresh-notified", notification.StatusNotified, &fresh)
	seed(t, mem, "fresh-pending", notification.StatusPending, nil)

	gc := notification.NewCollector(mem, notification.CollectorConfig{
		Instance:  notification.InstanceLobby,
		Retention: 24 * time.Hour,
		Now:       clock.Now,
	})
	assert.Equal(t, "lobby-gc", gc.Name())

	deleted, err := gc.Sweep(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
	assert.Equal(t, 2, mem.Len())

	for _, id := range []string{"fresh-notified", "fresh-pending"} {
		rec, err := mem.Get(context.Background(), notification.InstanceLobby, id)
		require.NoError(t, err)
		assert.NotNil(t, rec, id)
	}
}

func TestSweepRespectsBatchSize(t *testing.T) {
	clock := testutil.NewClock(start)
	mem := store.NewMemoryStore(clock.Now)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		ts := clock.Now()
		seed(t, mem, id, notification.StatusNotified, &ts)
	}
	clock.Advance(48 * time.Hour)

	gc := notification.NewCollector(mem, notification.CollectorConfig{
		Instance:  notification.InstanceLobby,
		BatchSize: 2,
		Now:       clock.Now,
	})

	deleted, err := gc.Sweep(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Equal(t, 3, mem.Len())

	require.NoError(t, gc.Run(context.Background()))
	assert.Equal(t, 1, mem.Len())
}

func TestSweepLeavesOtherInstancesAlone(t *testing.T) {
	clock := testutil.NewClock(start)
	mem := store.NewMemoryStore(clock.Now)
	ts := start
	require.NoError(t, mem.Upsert(context.Background(), &notification.Record{
		Instance:   notification.InstanceReminder,
		ExternalID: "77:u1",
		Status:     notification.StatusSent,
		NotifiedAt: &ts,
	}))
	clock.Advance(48 * time.Hour)

	gc := notification.NewCollector(mem, notification.CollectorConfig{Instance: notification.InstanceLobby, Now: clock.Now})
	deleted, err := gc.Sweep(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.Equal(t, 1, mem.Len())
}

func TestSweepReturnsBatchFailure(t *testing.T) {
	clock := testutil.NewClock(start)
	mem := store.NewMemoryStore(clock.Now)
	ts := start
	seed(t, mem, "a", notification.StatusNotified, &ts)
	clock.Advance(48 * time.Hour)

	gc := notification.NewCollector(batchFailingStore{mem}, notification.CollectorConfig{
		Instance: notification.InstanceLobby,
		Now:      clock.Now,
	})
	_, err := gc.Sweep(context.Background(), time.Hour)

	var unavailable *common.StoreUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, 1, mem.Len(), "the next run retries")
}
