package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mbracero/fresco/pkg/schema"
)

func TestCropRect(t *testing.T) {
	cases := []struct {
		name           string
		width, height  int
		x, y, w, h     float64
		want           PixelRect
	}{
		{
			name:  "reference geometry",
			width: 1000, height: 500,
			x: 10, y: 20, w: 50, h: 60,
			want: PixelRect{X: 100, Y: 100, W: 500, H: 300},
		},
		{
			name:  "full frame",
			width: 640, height: 480,
			x: 0, y: 0, w: 100, h: 100,
			want: PixelRect{X: 0, Y: 0, W: 640, H: 480},
		},
		{
			name:  "extent clamps to frame",
			width: 100, height: 100,
			x: 90, y: 90, w: 50, h: 50,
			want: PixelRect{X: 90, Y: 90, W: 10, H: 10},
		},
		{
			name:  "offset clamps inside frame",
			width: 100, height: 100,
			x: 100, y: 100, w: 10, h: 10,
			want: PixelRect{X: 99, Y: 99, W: 1, H: 1},
		},
		{
			name:  "zero extent floors to one pixel",
			width: 200, height: 200,
			x: 50, y: 50, w: 0, h: 0,
			want: PixelRect{X: 100, Y: 100, W: 1, H: 1},
		},
		{
			name:  "rounds to nearest pixel",
			width: 3, height: 3,
			x: 50, y: 50, w: 50, h: 50,
			want: PixelRect{X: 2, Y: 2, W: 1, H: 1},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := CropRect(c.width, c.height, c.x, c.y, c.w, c.h)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestFrameTimestamp(t *testing.T) {
	secs := func(v float64) *float64 { return &v }

	assert.Equal(t, 42.0, FrameTimestamp(&schema.FramesConfig{Seconds: secs(42)}, 0))
	assert.Equal(t, 60.0, FrameTimestamp(&schema.FramesConfig{Percent: secs(50)}, 120))
	assert.Equal(t, 0.0, FrameTimestamp(&schema.FramesConfig{Percent: secs(0)}, 120))
	assert.Equal(t, 120.0, FrameTimestamp(&schema.FramesConfig{Percent: secs(100)}, 120))
}
