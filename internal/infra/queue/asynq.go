package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"notifybridge/internal/domain/notification"
	"notifybridge/internal/scheduler"

	"github.com/hibiken/asynq"
)

// QueueLoops is the asynq queue carrying manual loop runs.
const QueueLoops = "loops"

// NewClient creates a new asynq client connected to Redis.
func NewClient(redisAddr, password string, db int) *asynq.Client {
	return asynq.NewClient(asynq.RedisClientOpt{
		Addr:     redisAddr,
		Password: password,
		DB:       db,
	})
}

// NewServer creates a new asynq server connected to Redis.
func NewServer(redisAddr, password string, db int, concurrency int) *asynq.Server {
	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisAddr,
			Password: password,
			DB:       db,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueLoops: 10, // priority weight
				"default":  1,
			},
			RetryDelayFunc: func(n int, e error, t *asynq.Task) time.Duration {
				// Short linear backoff: a busy loop frees up within one tick.
				return time.Duration(n) * 15 * time.Second
			},
			Logger: newLogger(slog.Default()),
		},
	)
}

var _ notification.Enqueuer = (*Enqueuer)(nil)

// Enqueuer adapts the asynq client to notification.Enqueuer.
type Enqueuer struct {
	client   *asynq.Client
	maxRetry int
	unique   time.Duration
}

// NewEnqueuer creates an enqueuer. Repeated requests for the same loop within
// unique collapse into one task.
func NewEnqueuer(client *asynq.Client, maxRetry int, unique time.Duration) *Enqueuer {
	if unique <= 0 {
		unique = 30 * time.Second
	}
	return &Enqueuer{client: client, maxRetry: maxRetry, unique: unique}
}

// EnqueueRunLoop enqueues a run loop task.
func (e *Enqueuer) EnqueueRunLoop(loop string) error {
	task, err := notification.NewRunLoopTask(loop)
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}

	_, err = e.client.Enqueue(task,
		asynq.MaxRetry(e.maxRetry),
		asynq.Queue(QueueLoops),
		asynq.Unique(e.unique),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueuing task: %w", err)
	}
	return nil
}

// LoopTrigger is the part of the scheduler the task handler drives.
type LoopTrigger interface {
	Trigger(name string) bool
	State(name string) (scheduler.State, bool)
}

// NewRunLoopHandler returns the asynq handler for loop:run tasks. Unknown
// loops are dropped without retry; a loop that is mid-run is retried so the
// manual run still happens after it finishes.
func NewRunLoopHandler(trigger LoopTrigger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		payload, err := notification.ParseRunLoopPayload(task.Payload())
		if err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}

		state, ok := trigger.State(payload.Loop)
		if !ok {
			slog.WarnContext(ctx, "run requested for unknown loop", "loop", payload.Loop)
			return fmt.Errorf("unknown loop %q: %w", payload.Loop, asynq.SkipRetry)
		}
		if state == scheduler.StateRunning || !trigger.Trigger(payload.Loop) {
			slog.InfoContext(ctx, "loop busy, manual run deferred", "loop", payload.Loop)
			return fmt.Errorf("loop %q busy", payload.Loop)
		}

		slog.InfoContext(ctx, "manual loop run started", "loop", payload.Loop)
		return nil
	}
}

// NewServeMux registers the worker's task handlers.
func NewServeMux(trigger LoopTrigger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(notification.TaskTypeRunLoop, NewRunLoopHandler(trigger))
	return mux
}
