package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mbracero/fresco/pkg/schema"
)

// TaskState is the backend-reported lifecycle state of a submitted task.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

// TaskStatus is a point-in-time snapshot of a submitted task.
type TaskStatus struct {
	State  TaskState       `json:"state"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// TaskBackend executes tasks asynchronously: Submit returns an opaque task
// ID immediately and Status is polled until the task reaches a terminal
// state. Implementations must be safe for concurrent use.
type TaskBackend interface {
	Name() string
	Submit(ctx context.Context, kind string, payload json.RawMessage) (string, error)
	Status(ctx context.Context, taskID string) (TaskStatus, error)
}

// TaskCanceler is implemented by backends that support best-effort
// cancellation of in-flight tasks.
type TaskCanceler interface {
	Cancel(ctx context.Context, taskID string) error
}

// BackendRegistry routes task kinds to backends. One backend per kind.
type BackendRegistry struct {
	mu       sync.RWMutex
	backends map[string]TaskBackend
}

// NewBackendRegistry creates an empty registry.
func NewBackendRegistry() *BackendRegistry {
	return &BackendRegistry{backends: make(map[string]TaskBackend)}
}

// Register binds a task kind to a backend, replacing any previous binding.
func (r *BackendRegistry) Register(kind string, b TaskBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[kind] = b
}

// Get returns the backend serving the given kind.
func (r *BackendRegistry) Get(kind string) (TaskBackend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[kind]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "no backend registered for task kind %q", kind)
	}
	return b, nil
}

// Kinds returns the registered task kinds in sorted order.
func (r *BackendRegistry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.backends))
	for k := range r.backends {
		kinds = append(kinds, k)
	}
	sortStrings(kinds)
	return kinds
}

// TaskSpec describes one unit of backend work.
type TaskSpec struct {
	Kind    string
	Payload json.RawMessage
	// Timeout bounds a single submit-and-await attempt. Zero picks the
	// dispatcher's per-kind default.
	Timeout time.Duration
	// Retry overrides the dispatcher's default ladder when non-nil.
	Retry *RetryPolicy
}

// TaskHandle identifies a submitted task for awaiting and cancellation.
type TaskHandle struct {
	ID      string
	Kind    string
	backend TaskBackend
}

// DispatcherConfig tunes polling and timeout behavior.
type DispatcherConfig struct {
	// PollInterval is the delay between Status polls.
	PollInterval time.Duration
	// MaxPollAttempts caps Status polls per await; 0 means unlimited
	// (the timeout still applies).
	MaxPollAttempts int
	// DefaultTimeout applies when neither the spec nor KindTimeouts set one.
	DefaultTimeout time.Duration
	// KindTimeouts overrides DefaultTimeout per task kind.
	KindTimeouts map[string]time.Duration
	// Retry is the default ladder for transient failures.
	Retry RetryPolicy
}

// DefaultDispatcherConfig returns the dispatcher defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		PollInterval:    250 * time.Millisecond,
		MaxPollAttempts: 2400,
		DefaultTimeout:  2 * time.Minute,
		KindTimeouts: map[string]time.Duration{
			TaskKindInference:   5 * time.Minute,
			TaskKindMediaProbe:  30 * time.Second,
			TaskKindCropLocal:   2 * time.Minute,
			TaskKindCropRemote:  5 * time.Minute,
			TaskKindFrameLocal:  2 * time.Minute,
			TaskKindFrameRemote: 5 * time.Minute,
		},
		Retry: DefaultRetryPolicy(),
	}
}

// Dispatcher submits tasks to backends and awaits their results by polling,
// applying timeouts, the retry ladder for transient failures, and per-kind
// circuit breaking.
type Dispatcher struct {
	backends *BackendRegistry
	breakers *CircuitBreakerRegistry
	logger   *slog.Logger
	cfg      DispatcherConfig
}

// NewDispatcher creates a dispatcher over the given backend registry.
func NewDispatcher(backends *BackendRegistry, breakers *CircuitBreakerRegistry, logger *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 2 * time.Minute
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{backends: backends, breakers: breakers, logger: logger, cfg: cfg}
}

// Submit sends the task to its backend and returns a handle for awaiting.
func (d *Dispatcher) Submit(ctx context.Context, spec TaskSpec) (*TaskHandle, error) {
	if d.breakers != nil {
		if err := d.breakers.AllowRequest(spec.Kind); err != nil {
			return nil, err
		}
	}

	backend, err := d.backends.Get(spec.Kind)
	if err != nil {
		return nil, err
	}

	taskID, err := backend.Submit(ctx, spec.Kind, spec.Payload)
	if err != nil {
		fe := Classify(err)
		d.recordOutcome(spec.Kind, fe)
		return nil, fe
	}

	d.logger.DebugContext(ctx, "task submitted",
		slog.String("kind", spec.Kind),
		slog.String("task_id", taskID),
		slog.String("backend", backend.Name()))

	return &TaskHandle{ID: taskID, Kind: spec.Kind, backend: backend}, nil
}

// Await polls the task until it reaches a terminal state, the timeout
// elapses, or the poll-attempt ceiling is hit. A fired cancel signal on the
// context triggers one best-effort backend cancel while polling continues,
// so the task is still allowed to finish or time out.
func (d *Dispatcher) Await(ctx context.Context, h *TaskHandle, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = d.timeoutFor(h.Kind)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	softCancel := CancelSignal(ctx)
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			d.cancelTask(h)
			return nil, Classify(ctx.Err()).WithDetails(map[string]any{"task_id": h.ID, "kind": h.Kind})

		case <-softCancel:
			d.cancelTask(h)
			softCancel = nil

		case <-deadline.C:
			d.cancelTask(h)
			fe := schema.NewErrorf(schema.ErrCodeTimeout, "task %s (%s) did not finish within %s", h.ID, h.Kind, timeout)
			d.recordOutcome(h.Kind, fe)
			return nil, fe

		case <-ticker.C:
			attempts++
			st, err := h.backend.Status(ctx, h.ID)
			if err != nil {
				// Transient status errors are tolerated up to the ceiling.
				if IsTransient(err) {
					break
				}
				fe := Classify(err)
				d.recordOutcome(h.Kind, fe)
				return nil, fe
			}

			switch st.State {
			case TaskSucceeded:
				d.recordOutcome(h.Kind, nil)
				return st.Result, nil
			case TaskFailed:
				fe := Classify(errors.New(st.Error)).WithDetails(map[string]any{"task_id": h.ID, "kind": h.Kind})
				d.recordOutcome(h.Kind, fe)
				return nil, fe
			}

			if d.cfg.MaxPollAttempts > 0 && attempts >= d.cfg.MaxPollAttempts {
				d.cancelTask(h)
				fe := schema.NewErrorf(schema.ErrCodeTimeout, "task %s (%s) exceeded %d poll attempts", h.ID, h.Kind, attempts)
				d.recordOutcome(h.Kind, fe)
				return nil, fe
			}
		}
	}
}

// DispatchOnce performs a single submit-and-await attempt without retrying.
// Callers that manage their own failover, like inference credential
// rotation, build on this.
func (d *Dispatcher) DispatchOnce(ctx context.Context, spec TaskSpec) (json.RawMessage, error) {
	h, err := d.Submit(ctx, spec)
	if err != nil {
		return nil, err
	}
	return d.Await(ctx, h, spec.Timeout)
}

// Dispatch runs the task through the retry ladder: transient failures are
// retried with exponential backoff up to the policy's attempt budget, then
// surfaced as RETRY_EXHAUSTED carrying the last failure as cause. Permanent
// failures surface immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, spec TaskSpec) (json.RawMessage, error) {
	policy := d.cfg.Retry
	if spec.Retry != nil {
		policy = *spec.Retry
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var lastErr *schema.FrescoError
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := d.DispatchOnce(ctx, spec)
		if err == nil {
			return result, nil
		}

		fe := Classify(err)
		if !fe.IsRetryable() {
			return nil, fe
		}
		lastErr = fe

		if attempt < policy.MaxAttempts {
			delay := policy.Delay(attempt)
			d.logger.WarnContext(ctx, schema.EventTaskRetryAttempt,
				slog.String("kind", spec.Kind),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", policy.MaxAttempts),
				slog.Duration("delay", delay),
				slog.String("error", fe.Error()))
			if werr := WaitForBackoff(ctx, delay); werr != nil {
				return nil, Classify(werr)
			}
		}
	}

	return nil, schema.NewErrorf(schema.ErrCodeRetryExhausted,
		"task kind %s failed after %d attempts", spec.Kind, policy.MaxAttempts).WithCause(lastErr)
}

func (d *Dispatcher) timeoutFor(kind string) time.Duration {
	if t, ok := d.cfg.KindTimeouts[kind]; ok && t > 0 {
		return t
	}
	return d.cfg.DefaultTimeout
}

// cancelTask issues a best-effort cancel when the backend supports it.
func (d *Dispatcher) cancelTask(h *TaskHandle) {
	canceler, ok := h.backend.(TaskCanceler)
	if !ok {
		return
	}
	cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := canceler.Cancel(cancelCtx, h.ID); err != nil {
		d.logger.Debug("task cancel failed",
			slog.String("task_id", h.ID),
			slog.String("kind", h.Kind),
			slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) recordOutcome(kind string, fe *schema.FrescoError) {
	if d.breakers == nil {
		return
	}
	if fe == nil {
		d.breakers.RecordSuccess(kind)
		return
	}
	if state := d.breakers.RecordFailure(kind); state == CircuitOpen {
		d.logger.Warn(schema.EventCircuitOpen, slog.String("kind", kind))
	}
}
