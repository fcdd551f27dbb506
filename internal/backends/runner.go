// Package backends hosts the shared async-task machinery used by the
// concrete task backend implementations.
package backends

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/mbracero/fresco/internal/engine"
	"github.com/mbracero/fresco/pkg/schema"
)

// TaskFunc performs one task to completion and returns its result payload.
type TaskFunc func(ctx context.Context) (json.RawMessage, error)

type task struct {
	mu     sync.Mutex
	state  engine.TaskState
	result json.RawMessage
	err    string
	cancel context.CancelFunc
}

// Runner turns synchronous task functions into the asynchronous submit/poll
// contract: Launch runs the function on a goroutine and tracks its state in
// a task table keyed by generated IDs.
type Runner struct {
	mu    sync.RWMutex
	tasks map[string]*task
}

// NewRunner creates an empty runner.
func NewRunner() *Runner {
	return &Runner{tasks: make(map[string]*task)}
}

// Launch starts fn on its own goroutine and returns the task ID. The task
// context is detached from the submit context so the task outlives the
// submitting request; Cancel ends it early.
func (r *Runner) Launch(ctx context.Context, fn TaskFunc) string {
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &task{state: engine.TaskRunning, cancel: cancel}

	id := uuid.NewString()
	r.mu.Lock()
	r.tasks[id] = t
	r.mu.Unlock()

	go func() {
		defer cancel()
		result, err := fn(taskCtx)

		t.mu.Lock()
		defer t.mu.Unlock()
		if err != nil {
			t.state = engine.TaskFailed
			t.err = err.Error()
			return
		}
		t.state = engine.TaskSucceeded
		t.result = result
	}()

	return id
}

// Status reports the task's current snapshot.
func (r *Runner) Status(taskID string) (engine.TaskStatus, error) {
	r.mu.RLock()
	t, ok := r.tasks[taskID]
	r.mu.RUnlock()
	if !ok {
		return engine.TaskStatus{}, schema.NewErrorf(schema.ErrCodeNotFound, "task %q not found", taskID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return engine.TaskStatus{State: t.state, Result: t.result, Error: t.err}, nil
}

// Cancel cancels the task's context. The task transitions to failed when
// its function observes the cancellation.
func (r *Runner) Cancel(taskID string) error {
	r.mu.RLock()
	t, ok := r.tasks[taskID]
	r.mu.RUnlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "task %q not found", taskID)
	}
	t.cancel()
	return nil
}

// Forget drops a terminal task from the table. Unknown IDs are a no-op.
func (r *Runner) Forget(taskID string) {
	r.mu.Lock()
	delete(r.tasks, taskID)
	r.mu.Unlock()
}
