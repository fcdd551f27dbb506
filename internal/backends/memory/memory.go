// Package memory provides an in-process task backend with scriptable
// outcomes. It serves every task kind with deterministic results, making it
// the default for one-shot local runs and the fixture for dispatcher and
// scheduler tests.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mbracero/fresco/internal/backends"
	"github.com/mbracero/fresco/internal/engine"
)

// Handler produces the result for one submitted payload.
type Handler func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Backend is an in-memory TaskBackend. Without scripting it answers every
// kind with a plausible canned result.
type Backend struct {
	runner  *backends.Runner
	latency time.Duration

	mu       sync.Mutex
	handlers map[string]Handler
	scripts  map[string][]error
	submits  map[string]int
}

// Option tunes a Backend.
type Option func(*Backend)

// WithLatency delays every task by d before it completes.
func WithLatency(d time.Duration) Option {
	return func(b *Backend) { b.latency = d }
}

// WithHandler overrides the canned result for one kind.
func WithHandler(kind string, h Handler) Option {
	return func(b *Backend) { b.handlers[kind] = h }
}

// New creates a memory backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		runner:   backends.NewRunner(),
		handlers: make(map[string]Handler),
		scripts:  make(map[string][]error),
		submits:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return "memory" }

// ScriptFailures queues errors for a kind: each subsequent submission of
// that kind consumes one queued error before canned results resume.
func (b *Backend) ScriptFailures(kind string, errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts[kind] = append(b.scripts[kind], errs...)
}

// Submissions reports how many tasks of the kind were submitted.
func (b *Backend) Submissions(kind string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submits[kind]
}

func (b *Backend) Submit(ctx context.Context, kind string, payload json.RawMessage) (string, error) {
	b.mu.Lock()
	b.submits[kind]++
	var scripted error
	if queue := b.scripts[kind]; len(queue) > 0 {
		scripted = queue[0]
		b.scripts[kind] = queue[1:]
	}
	handler := b.handlers[kind]
	b.mu.Unlock()

	return b.runner.Launch(ctx, func(taskCtx context.Context) (json.RawMessage, error) {
		if b.latency > 0 {
			select {
			case <-time.After(b.latency):
			case <-taskCtx.Done():
				return nil, taskCtx.Err()
			}
		}
		if scripted != nil {
			return nil, scripted
		}
		if handler != nil {
			return handler(taskCtx, payload)
		}
		return cannedResult(kind, payload)
	}), nil
}

func (b *Backend) Status(ctx context.Context, taskID string) (engine.TaskStatus, error) {
	return b.runner.Status(taskID)
}

func (b *Backend) Cancel(ctx context.Context, taskID string) error {
	return b.runner.Cancel(taskID)
}

func cannedResult(kind string, payload json.RawMessage) (json.RawMessage, error) {
	switch kind {
	case engine.TaskKindInference:
		var req engine.InferenceRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		var last string
		for _, seg := range req.Segments {
			if seg.Text != "" {
				last = seg.Text
			}
		}
		return json.Marshal(engine.InferenceResult{Text: "echo: " + last})

	case engine.TaskKindMediaProbe:
		return json.Marshal(engine.ProbeResult{Width: 1920, Height: 1080, DurationSec: 60})

	case engine.TaskKindCropLocal:
		var req engine.CropLocalRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		ref := fmt.Sprintf("%s#crop=%d,%d,%d,%d", req.Ref, req.Rect.X, req.Rect.Y, req.Rect.W, req.Rect.H)
		return json.Marshal(engine.MediaResult{Ref: ref})

	case engine.TaskKindCropRemote:
		var req engine.CropRemoteRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		ref := fmt.Sprintf("%s#crop=%g%%,%g%%,%g%%,%g%%", req.Ref, req.X, req.Y, req.W, req.H)
		return json.Marshal(engine.MediaResult{Ref: ref})

	case engine.TaskKindFrameLocal:
		var req engine.FrameLocalRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return json.Marshal(engine.MediaResult{Ref: fmt.Sprintf("%s#frame=%gs", req.Ref, req.Seconds)})

	case engine.TaskKindFrameRemote:
		var req engine.FrameRemoteRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		if req.Seconds != nil {
			return json.Marshal(engine.MediaResult{Ref: fmt.Sprintf("%s#frame=%gs", req.Ref, *req.Seconds)})
		}
		if req.Percent != nil {
			return json.Marshal(engine.MediaResult{Ref: fmt.Sprintf("%s#frame=%g%%", req.Ref, *req.Percent)})
		}
		return nil, errors.New("frame request needs seconds or percent")

	default:
		return nil, fmt.Errorf("unsupported task kind %q", kind)
	}
}
