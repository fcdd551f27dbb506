package engine

import (
	"context"
	"encoding/json"
	"math"

	"github.com/mbracero/fresco/pkg/schema"
)

// CropRect converts percentage crop geometry to absolute pixels against the
// probed source dimensions. Offsets round to the nearest pixel and clamp
// inside the frame; width and height clamp to the remaining extent with a
// one-pixel floor.
func CropRect(width, height int, xPct, yPct, wPct, hPct float64) PixelRect {
	x := clampInt(roundPct(width, xPct), 0, width-1)
	y := clampInt(roundPct(height, yPct), 0, height-1)
	w := clampInt(roundPct(width, wPct), 1, width-x)
	h := clampInt(roundPct(height, hPct), 1, height-y)
	return PixelRect{X: x, Y: y, W: w, H: h}
}

// FrameTimestamp resolves a frames config to an absolute offset in seconds.
// Percent-based configs need the probed source duration.
func FrameTimestamp(cfg *schema.FramesConfig, durationSec float64) float64 {
	if cfg.Seconds != nil {
		return *cfg.Seconds
	}
	return durationSec * *cfg.Percent / 100
}

func roundPct(dim int, pct float64) int {
	return int(math.Round(float64(dim) * pct / 100))
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// executeCrop crops the inbound media. The local path probes the source,
// computes the pixel rect, and transforms in place; when that fails, the
// remote media service imports, transforms, and stores in one call.
func (x *Executors) executeCrop(ctx context.Context, node *schema.Node, cfg *schema.CropConfig, in Inputs) (schema.Outputs, error) {
	media, ok := in[schema.HandleMedia]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "crop node %s has no media input", node.ID).WithNode(node.ID)
	}
	isVideo := media.Type == schema.TypeVideo

	local := Strategy{
		Name: "local-transform",
		Run: func(ctx context.Context) (schema.Value, error) {
			probe, err := x.probe(ctx, media.MediaRef)
			if err != nil {
				return schema.Value{}, err
			}
			rect := CropRect(probe.Width, probe.Height, cfg.X, cfg.Y, cfg.W, cfg.H)
			return x.mediaTask(ctx, media.Type, TaskSpec{
				Kind:    TaskKindCropLocal,
				Payload: mustMarshal(CropLocalRequest{Ref: media.MediaRef, Video: isVideo, Rect: rect}),
			})
		},
	}
	remote := Strategy{
		Name: "remote-import-transform",
		Run: func(ctx context.Context) (schema.Value, error) {
			return x.mediaTask(ctx, media.Type, TaskSpec{
				Kind: TaskKindCropRemote,
				Payload: mustMarshal(CropRemoteRequest{
					Ref: media.MediaRef, Video: isVideo,
					X: cfg.X, Y: cfg.Y, W: cfg.W, H: cfg.H,
				}),
			})
		},
	}

	v, err := NewFallbackChain(x.logger, local, remote).Execute(ctx)
	if err != nil {
		return nil, Classify(err).WithNode(node.ID)
	}
	return schema.Outputs{schema.HandleMedia: v}, nil
}

// executeFrames extracts a single frame from the inbound video at the
// configured timestamp, local-first with remote fallback like crop.
func (x *Executors) executeFrames(ctx context.Context, node *schema.Node, cfg *schema.FramesConfig, in Inputs) (schema.Outputs, error) {
	video, ok := in[schema.HandleVideo]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "frames node %s has no video input", node.ID).WithNode(node.ID)
	}

	local := Strategy{
		Name: "local-transform",
		Run: func(ctx context.Context) (schema.Value, error) {
			var duration float64
			if cfg.Percent != nil {
				probe, err := x.probe(ctx, video.MediaRef)
				if err != nil {
					return schema.Value{}, err
				}
				duration = probe.DurationSec
			}
			ts := FrameTimestamp(cfg, duration)
			if duration > 0 && ts > duration {
				ts = duration
			}
			return x.mediaTask(ctx, schema.TypeImage, TaskSpec{
				Kind:    TaskKindFrameLocal,
				Payload: mustMarshal(FrameLocalRequest{Ref: video.MediaRef, Seconds: ts}),
			})
		},
	}
	remote := Strategy{
		Name: "remote-import-transform",
		Run: func(ctx context.Context) (schema.Value, error) {
			return x.mediaTask(ctx, schema.TypeImage, TaskSpec{
				Kind:    TaskKindFrameRemote,
				Payload: mustMarshal(FrameRemoteRequest{Ref: video.MediaRef, Seconds: cfg.Seconds, Percent: cfg.Percent}),
			})
		},
	}

	v, err := NewFallbackChain(x.logger, local, remote).Execute(ctx)
	if err != nil {
		return nil, Classify(err).WithNode(node.ID)
	}
	return schema.Outputs{schema.HandleImage: v}, nil
}

// probe fetches source dimensions and duration via the probe task kind.
func (x *Executors) probe(ctx context.Context, ref string) (*ProbeResult, error) {
	raw, err := x.dispatcher.Dispatch(ctx, TaskSpec{
		Kind:    TaskKindMediaProbe,
		Payload: mustMarshal(ProbeRequest{Ref: ref}),
	})
	if err != nil {
		return nil, err
	}
	var res ProbeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "malformed probe result: %v", err)
	}
	if res.Width <= 0 || res.Height <= 0 {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "probe returned invalid dimensions %dx%d", res.Width, res.Height)
	}
	return &res, nil
}

// mediaTask dispatches a media transform and wraps the stored ref as a
// typed value.
func (x *Executors) mediaTask(ctx context.Context, t schema.ValueType, spec TaskSpec) (schema.Value, error) {
	raw, err := x.dispatcher.Dispatch(ctx, spec)
	if err != nil {
		return schema.Value{}, err
	}
	var res MediaResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return schema.Value{}, schema.NewErrorf(schema.ErrCodeExecution, "malformed media result: %v", err)
	}
	if res.Ref == "" {
		return schema.Value{}, schema.NewError(schema.ErrCodeExecution, "media task returned empty ref")
	}
	return schema.MediaValue(t, res.Ref), nil
}
