package notification_test

import (
	"testing"

	"notifybridge/internal/domain/notification"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLoopTaskPayload(t *testing.T) {
	task, err := notification.NewRunLoopTask("reminder")
	require.NoError(t, err)
	assert.Equal(t, notification.TaskTypeRunLoop, task.Type())

	payload, err := notification.ParseRunLoopPayload(task.Payload())
	require.NoError(t, err)
	assert.Equal(t, "reminder", payload.Loop)
}

func TestParseRunLoopPayloadRejectsBadInput(t *testing.T) {
	_, err := notification.ParseRunLoopPayload([]byte(`{`))
	assert.Error(t, err)

	_, err = notification.ParseRunLoopPayload([]byte(`{"loop":""}`))
	assert.Error(t, err)
}
