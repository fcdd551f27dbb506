// Package local executes media transforms on the host by shelling out to
// ffmpeg and ffprobe. Sources must be reachable as local paths or URLs the
// tools can read directly.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mbracero/fresco/internal/backends"
	"github.com/mbracero/fresco/internal/engine"
	"github.com/mbracero/fresco/pkg/schema"
)

const stderrTailLimit = 2048

// Config tunes the local backend.
type Config struct {
	// FFmpegPath and FFprobePath default to the binaries on PATH.
	FFmpegPath  string
	FFprobePath string
	// ScratchDir holds produced assets; defaults to the OS temp dir.
	ScratchDir string
}

// Backend serves the media.probe, media.crop.local and media.frame.local
// task kinds.
type Backend struct {
	cfg    Config
	runner *backends.Runner
}

// New creates a local backend.
func New(cfg Config) *Backend {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	return &Backend{cfg: cfg, runner: backends.NewRunner()}
}

func (b *Backend) Name() string { return "local" }

// Kinds lists the task kinds this backend serves.
func (b *Backend) Kinds() []string {
	return []string{engine.TaskKindMediaProbe, engine.TaskKindCropLocal, engine.TaskKindFrameLocal}
}

func (b *Backend) Submit(ctx context.Context, kind string, payload json.RawMessage) (string, error) {
	var fn backends.TaskFunc
	switch kind {
	case engine.TaskKindMediaProbe:
		var req engine.ProbeRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return "", schema.NewErrorf(schema.ErrCodeValidation, "decode probe request: %v", err)
		}
		fn = func(taskCtx context.Context) (json.RawMessage, error) { return b.probe(taskCtx, req) }

	case engine.TaskKindCropLocal:
		var req engine.CropLocalRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return "", schema.NewErrorf(schema.ErrCodeValidation, "decode crop request: %v", err)
		}
		fn = func(taskCtx context.Context) (json.RawMessage, error) { return b.crop(taskCtx, req) }

	case engine.TaskKindFrameLocal:
		var req engine.FrameLocalRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return "", schema.NewErrorf(schema.ErrCodeValidation, "decode frame request: %v", err)
		}
		fn = func(taskCtx context.Context) (json.RawMessage, error) { return b.frame(taskCtx, req) }

	default:
		return "", schema.NewErrorf(schema.ErrCodeValidation, "local backend does not serve kind %q", kind)
	}

	return b.runner.Launch(ctx, fn), nil
}

func (b *Backend) Status(ctx context.Context, taskID string) (engine.TaskStatus, error) {
	return b.runner.Status(taskID)
}

func (b *Backend) Cancel(ctx context.Context, taskID string) error {
	return b.runner.Cancel(taskID)
}

// probeOutput matches the ffprobe -of json layout.
type probeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (b *Backend) probe(ctx context.Context, req engine.ProbeRequest) (json.RawMessage, error) {
	out, err := b.exec(ctx, b.cfg.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-show_entries", "format=duration",
		"-of", "json",
		localPath(req.Ref),
	)
	if err != nil {
		return nil, err
	}

	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(parsed.Streams) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "no video stream in %q", req.Ref)
	}

	result := engine.ProbeResult{
		Width:  parsed.Streams[0].Width,
		Height: parsed.Streams[0].Height,
	}
	if parsed.Format.Duration != "" {
		if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
			result.DurationSec = d
		}
	}
	return json.Marshal(result)
}

func (b *Backend) crop(ctx context.Context, req engine.CropLocalRequest) (json.RawMessage, error) {
	ext := ".png"
	if req.Video {
		ext = ".mp4"
	}
	out := b.scratchFile("crop", ext)

	args := []string{"-y", "-i", localPath(req.Ref),
		"-filter:v", fmt.Sprintf("crop=%d:%d:%d:%d", req.Rect.W, req.Rect.H, req.Rect.X, req.Rect.Y)}
	if !req.Video {
		args = append(args, "-frames:v", "1")
	}
	args = append(args, out)

	if _, err := b.exec(ctx, b.cfg.FFmpegPath, args...); err != nil {
		_ = os.Remove(out)
		return nil, err
	}
	return json.Marshal(engine.MediaResult{Ref: out})
}

func (b *Backend) frame(ctx context.Context, req engine.FrameLocalRequest) (json.RawMessage, error) {
	out := b.scratchFile("frame", ".png")

	// -ss before -i seeks on the demuxer, which is fast and exact enough
	// for keyframe extraction.
	args := []string{"-y",
		"-ss", strconv.FormatFloat(req.Seconds, 'f', -1, 64),
		"-i", localPath(req.Ref),
		"-frames:v", "1",
		out,
	}
	if _, err := b.exec(ctx, b.cfg.FFmpegPath, args...); err != nil {
		_ = os.Remove(out)
		return nil, err
	}
	return json.Marshal(engine.MediaResult{Ref: out})
}

func (b *Backend) exec(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "%s failed: %v: %s",
			filepath.Base(bin), err, tail(stderr.String(), stderrTailLimit))
	}
	return stdout.Bytes(), nil
}

func (b *Backend) scratchFile(prefix, ext string) string {
	return filepath.Join(b.cfg.ScratchDir, prefix+"-"+uuid.NewString()+ext)
}

func localPath(ref string) string {
	return strings.TrimPrefix(ref, "file://")
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
