package notification

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// TaskTypeRunLoop is the asynq task type for an out-of-band loop run.
const TaskTypeRunLoop = "loop:run"

// RunLoopPayload is the serialized payload for a run loop task.
type RunLoopPayload struct {
	Loop string `json:"loop"`
}

// NewRunLoopTask creates a new asynq task asking the worker to run a loop now.
func NewRunLoopTask(loop string) (*asynq.Task, error) {
	payload, err := json.Marshal(RunLoopPayload{Loop: loop})
	if err != nil {
		return nil, fmt.Errorf("marshaling task payload: %w", err)
	}
	return asynq.NewTask(TaskTypeRunLoop, payload), nil
}

// ParseRunLoopPayload deserializes the task payload.
func ParseRunLoopPayload(data []byte) (*RunLoopPayload, error) {
	var p RunLoopPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling task payload: %w", err)
	}
	if p.Loop == "" {
		return nil, fmt.Errorf("task payload missing loop name")
	}
	return &p, nil
}
