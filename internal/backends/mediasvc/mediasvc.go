// Package mediasvc is the task backend for a remote media service that
// imports a source, applies the requested transform, and stores the result
// itself. The service exposes an async task API: submissions return a task
// ID that is polled until terminal.
package mediasvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mbracero/fresco/internal/engine"
	"github.com/mbracero/fresco/pkg/schema"
)

const (
	defaultRequestTimeout  = 30 * time.Second
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
)

// Config tunes the media service client.
type Config struct {
	// BaseURL is the service root, e.g. "https://media.internal:8443".
	BaseURL string
	// Token is sent as a bearer token when set.
	Token string
	// RequestTimeout bounds each HTTP round trip, not the task itself.
	RequestTimeout time.Duration
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Backend serves the media.crop.remote and media.frame.remote task kinds.
type Backend struct {
	cfg    Config
	client *http.Client
}

// New creates a media service backend.
func New(cfg Config) *Backend {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Backend{cfg: cfg, client: client}
}

func (b *Backend) Name() string { return "mediasvc" }

// Kinds lists the task kinds this backend serves.
func (b *Backend) Kinds() []string {
	return []string{engine.TaskKindCropRemote, engine.TaskKindFrameRemote}
}

type submitRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

type statusResponse struct {
	State  string          `json:"state"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (b *Backend) Submit(ctx context.Context, kind string, payload json.RawMessage) (string, error) {
	body, err := json.Marshal(submitRequest{Kind: kind, Payload: payload})
	if err != nil {
		return "", err
	}

	var resp submitResponse
	if err := b.do(ctx, http.MethodPost, "/v1/tasks", body, &resp); err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", schema.NewError(schema.ErrCodeUnavailable, "media service returned no task id")
	}
	return resp.TaskID, nil
}

func (b *Backend) Status(ctx context.Context, taskID string) (engine.TaskStatus, error) {
	var resp statusResponse
	if err := b.do(ctx, http.MethodGet, "/v1/tasks/"+taskID, nil, &resp); err != nil {
		return engine.TaskStatus{}, err
	}

	st := engine.TaskStatus{Result: resp.Result, Error: resp.Error}
	switch resp.State {
	case "queued", "pending":
		st.State = engine.TaskQueued
	case "running":
		st.State = engine.TaskRunning
	case "succeeded", "completed":
		st.State = engine.TaskSucceeded
	case "failed":
		st.State = engine.TaskFailed
	default:
		return engine.TaskStatus{}, schema.NewErrorf(schema.ErrCodeUnavailable,
			"media service reported unknown task state %q", resp.State)
	}
	return st, nil
}

// Cancel asks the service to abandon the task. A task already terminal on
// the service side answers 409, which is treated as success.
func (b *Backend) Cancel(ctx context.Context, taskID string) error {
	err := b.do(ctx, http.MethodDelete, "/v1/tasks/"+taskID, nil, nil)
	var ferr *schema.FrescoError
	if errors.As(err, &ferr) && ferr.Code == schema.ErrCodeConflict {
		return nil
	}
	return err
}

func (b *Backend) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(b.cfg.BaseURL, "/")+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.Token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeUnavailable, "media service request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, defaultMaxResponseBody))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeUnavailable, "read media service response: %v", err)
	}

	if resp.StatusCode >= 400 {
		return statusError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return schema.NewErrorf(schema.ErrCodeUnavailable, "decode media service response: %v", err)
	}
	return nil
}

func statusError(code int, body []byte) *schema.FrescoError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	detail := fmt.Sprintf("media service returned %d: %s", code, msg)

	switch {
	case code == http.StatusTooManyRequests:
		return schema.NewError(schema.ErrCodeQuota, detail)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return schema.NewError(schema.ErrCodeAuth, detail)
	case code == http.StatusNotFound:
		return schema.NewError(schema.ErrCodeNotFound, detail)
	case code == http.StatusConflict:
		return schema.NewError(schema.ErrCodeConflict, detail)
	case code >= 500:
		return schema.NewError(schema.ErrCodeUnavailable, detail)
	default:
		return schema.NewError(schema.ErrCodeExecution, detail)
	}
}
