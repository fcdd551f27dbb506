// Package anthropic is the inference task backend over the Anthropic
// Messages API. Each submission runs on its own goroutine; the credential
// named in the request payload selects which configured API key is used.
package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mbracero/fresco/internal/backends"
	"github.com/mbracero/fresco/internal/engine"
	"github.com/mbracero/fresco/pkg/schema"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 1024
)

// Config tunes the anthropic backend.
type Config struct {
	// Credentials maps credential names to API keys. The engine rotates
	// through these names on quota exhaustion.
	Credentials map[string]string
	// DefaultCredential is used when a request names none.
	DefaultCredential string
	// DefaultModel is used when a request names none.
	DefaultModel string
}

// Backend serves the inference task kind.
type Backend struct {
	cfg    Config
	runner *backends.Runner

	mu      sync.Mutex
	clients map[string]sdk.Client
}

// New creates an anthropic backend.
func New(cfg Config) *Backend {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultModel
	}
	return &Backend{
		cfg:     cfg,
		runner:  backends.NewRunner(),
		clients: make(map[string]sdk.Client),
	}
}

func (b *Backend) Name() string { return "anthropic" }

// Kinds lists the task kinds this backend serves.
func (b *Backend) Kinds() []string {
	return []string{engine.TaskKindInference}
}

func (b *Backend) Submit(ctx context.Context, kind string, payload json.RawMessage) (string, error) {
	if kind != engine.TaskKindInference {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "anthropic backend does not serve kind %q", kind)
	}

	var req engine.InferenceRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "decode inference request: %v", err)
	}

	client, err := b.clientFor(req.Credential)
	if err != nil {
		return "", err
	}

	return b.runner.Launch(ctx, func(taskCtx context.Context) (json.RawMessage, error) {
		return b.infer(taskCtx, client, req)
	}), nil
}

func (b *Backend) Status(ctx context.Context, taskID string) (engine.TaskStatus, error) {
	return b.runner.Status(taskID)
}

func (b *Backend) Cancel(ctx context.Context, taskID string) error {
	return b.runner.Cancel(taskID)
}

func (b *Backend) clientFor(credential string) (sdk.Client, error) {
	name := credential
	if name == "" {
		name = b.cfg.DefaultCredential
	}
	key, ok := b.cfg.Credentials[name]
	if !ok {
		return sdk.Client{}, schema.NewErrorf(schema.ErrCodeAuth, "unknown credential %q", name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	client, ok := b.clients[name]
	if !ok {
		client = sdk.NewClient(option.WithAPIKey(key))
		b.clients[name] = client
	}
	return client, nil
}

func (b *Backend) infer(ctx context.Context, client sdk.Client, req engine.InferenceRequest) (json.RawMessage, error) {
	params, err := b.buildParams(req)
	if err != nil {
		return nil, err
	}

	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return json.Marshal(engine.InferenceResult{Text: sb.String()})
}

func (b *Backend) buildParams(req engine.InferenceRequest) (sdk.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = b.cfg.DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	var blocks []sdk.ContentBlockParamUnion
	for _, seg := range req.Segments {
		switch {
		case seg.Role == "system":
			params.System = append(params.System, sdk.TextBlockParam{Text: seg.Text})

		case seg.MediaRef != "":
			block, err := imageBlock(seg)
			if err != nil {
				return sdk.MessageNewParams{}, err
			}
			blocks = append(blocks, block)

		default:
			blocks = append(blocks, sdk.NewTextBlock(seg.Text))
		}
	}
	if len(blocks) == 0 {
		return sdk.MessageNewParams{}, schema.NewError(schema.ErrCodeValidation, "inference request has no user content")
	}

	params.Messages = []sdk.MessageParam{sdk.NewUserMessage(blocks...)}
	return params, nil
}

// imageBlock builds an image attachment. Remote refs pass through as URL
// sources; local paths are inlined base64. Video attachments are rejected,
// the executor reduces videos to frames before inference.
func imageBlock(seg engine.PromptSegment) (sdk.ContentBlockParamUnion, error) {
	if seg.MediaType == string(schema.TypeVideo) {
		return sdk.ContentBlockParamUnion{}, schema.NewErrorf(schema.ErrCodeValidation,
			"video attachment %q not supported for inference, extract frames first", seg.MediaRef)
	}

	if strings.HasPrefix(seg.MediaRef, "http://") || strings.HasPrefix(seg.MediaRef, "https://") {
		return sdk.NewImageBlock(sdk.URLImageSourceParam{URL: seg.MediaRef}), nil
	}

	path := strings.TrimPrefix(seg.MediaRef, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		return sdk.ContentBlockParamUnion{}, fmt.Errorf("read image %q: %w", path, err)
	}
	return sdk.NewImageBlockBase64(imageMediaType(path), base64.StdEncoding.EncodeToString(data)), nil
}

func imageMediaType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
