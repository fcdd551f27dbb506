package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbracero/fresco/pkg/schema"
)

func TestFallbackChain_FirstSuccessWins(t *testing.T) {
	secondCalled := false
	chain := NewFallbackChain(nil,
		Strategy{Name: "first", Run: func(context.Context) (schema.Value, error) {
			return schema.TextValue("primary"), nil
		}},
		Strategy{Name: "second", Run: func(context.Context) (schema.Value, error) {
			secondCalled = true
			return schema.TextValue("secondary"), nil
		}},
	)

	v, err := chain.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "primary", v.Text)
	assert.False(t, secondCalled, "later strategies must not run after a success")
}

func TestFallbackChain_FallsThrough(t *testing.T) {
	chain := NewFallbackChain(nil,
		Strategy{Name: "first", Run: func(context.Context) (schema.Value, error) {
			return schema.Value{}, errors.New("local transform failed")
		}},
		Strategy{Name: "second", Run: func(context.Context) (schema.Value, error) {
			return schema.MediaValue(schema.TypeImage, "store://fallback.png"), nil
		}},
	)

	v, err := chain.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "store://fallback.png", v.MediaRef)
}

func TestFallbackChain_AllFailSurfacesLastError(t *testing.T) {
	chain := NewFallbackChain(nil,
		Strategy{Name: "first", Run: func(context.Context) (schema.Value, error) {
			return schema.Value{}, errors.New("first boom")
		}},
		Strategy{Name: "second", Run: func(context.Context) (schema.Value, error) {
			return schema.Value{}, errors.New("second boom")
		}},
	)

	_, err := chain.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second boom")
}

func TestFallbackChain_CancelledBetweenStrategies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	chain := NewFallbackChain(nil,
		Strategy{Name: "first", Run: func(context.Context) (schema.Value, error) {
			cancel()
			return schema.Value{}, errors.New("boom")
		}},
		Strategy{Name: "second", Run: func(context.Context) (schema.Value, error) {
			t.Fatal("second strategy must not run after cancellation")
			return schema.Value{}, nil
		}},
	)

	_, err := chain.Execute(ctx)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCancelled, err.(*schema.FrescoError).Code)
}

func TestFallbackChain_Empty(t *testing.T) {
	_, err := NewFallbackChain(nil).Execute(context.Background())
	require.Error(t, err)
}
