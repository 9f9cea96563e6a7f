package notification_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"notifybridge/internal/common"
	"notifybridge/internal/domain/notification"
	"notifybridge/internal/infra/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) EnqueueRunLoop(loop string) error {
	return m.Called(loop).Error(0)
}

func newService(t *testing.T) (*notification.Service, *store.MemoryStore, *mockEnqueuer) {
	t.Helper()
	mem := store.NewMemoryStore(nil)
	enq := &mockEnqueuer{}
	return notification.NewService(mem, enq, []string{"lobby", "lobby-gc"}), mem, enq
}

func put(t *testing.T, st notification.NotificationStore, id string, status notification.Status) {
	t.Helper()
	require.NoError(t, st.Upsert(context.Background(), &notification.Record{
		Instance:   notification.InstanceLobby,
		ExternalID: id,
		Status:     status,
	}))
}

func TestListRecordsNewestFirst(t *testing.T) {
	svc, mem, _ := newService(t)
	put(t, mem, "a", notification.StatusNotified)
	time.Sleep(time.Millisecond)
	put(t, mem, "b", notification.StatusFailed)

	resp, err := svc.ListRecords(context.Background(), notification.RecordFilter{Instance: notification.InstanceLobby})
	require.NoError(t, err)
	require.Equal(t, 2, resp.Total)
	assert.Equal(t, "b", resp.Records[0].ExternalID)

	resp, err = svc.ListRecords(context.Background(), notification.RecordFilter{
		Instance: notification.InstanceLobby,
		Status:   string(notification.StatusFailed),
	})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "b", resp.Records[0].ExternalID)
}

func TestListRecordsValidation(t *testing.T) {
	svc, _, _ := newService(t)
	var validation *common.ValidationError

	_, err := svc.ListRecords(context.Background(), notification.RecordFilter{Instance: "bogus"})
	assert.ErrorAs(t, err, &validation)

	_, err = svc.ListRecords(context.Background(), notification.RecordFilter{
		Instance: notification.InstanceLobby,
		Since:    "yesterday",
	})
	assert.ErrorAs(t, err, &validation)
}

func TestListRecordsSinceExcludesOlder(t *testing.T) {
	svc, mem, _ := newService(t)
	put(t, mem, "a", notification.StatusNotified)

	resp, err := svc.ListRecords(context.Background(), notification.RecordFilter{
		Instance: notification.InstanceLobby,
		Since:    time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	require.NoError(t, err)
	assert.Zero(t, resp.Total)
}

func TestGetRecord(t *testing.T) {
	svc, mem, _ := newService(t)
	put(t, mem, "a", notification.StatusNotified)

	rec, err := svc.GetRecord(context.Background(), notification.InstanceLobby, "a")
	require.NoError(t, err)
	assert.Equal(t, notification.StatusNotified, rec.Status)

	_, err = svc.GetRecord(context.Background(), notification.InstanceLobby, "missing")
	var notFound *common.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestTriggerLoop(t *testing.T) {
	svc, _, enq := newService(t)
	enq.On("EnqueueRunLoop", "lobby-gc").Return(nil).Once()
	enq.On("EnqueueRunLoop", "lobby").Return(errors.New("redis down")).Once()

	require.NoError(t, svc.TriggerLoop(context.Background(), "lobby-gc"))
	assert.Error(t, svc.TriggerLoop(context.Background(), "lobby"))

	var notFound *common.NotFoundError
	assert.ErrorAs(t, svc.TriggerLoop(context.Background(), "reminder"), &notFound)

	enq.AssertExpectations(t)
}
