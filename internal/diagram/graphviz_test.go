package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbracero/fresco/internal/engine"
	"github.com/mbracero/fresco/pkg/schema"
)

func TestRenderImageLinear(t *testing.T) {
	model, err := Build(linearGraph(t), "Describe", nil)
	require.NoError(t, err)

	png, err := RenderImage(model)
	require.NoError(t, err)
	require.NotEmpty(t, png)

	// PNG magic bytes: 0x89 P N G.
	assert.True(t, len(png) > 8, "PNG should be larger than header")
	assert.Equal(t, byte(0x89), png[0])
	assert.Equal(t, byte('P'), png[1])
	assert.Equal(t, byte('N'), png[2])
	assert.Equal(t, byte('G'), png[3])
}

func TestRenderImagePipeline(t *testing.T) {
	model, err := Build(pipelineGraph(t), "", nil)
	require.NoError(t, err)

	png, err := RenderImage(model)
	require.NoError(t, err)
	require.NotEmpty(t, png)
	assert.Equal(t, byte(0x89), png[0])
}

func TestRenderImageWithStatus(t *testing.T) {
	results := map[string]engine.NodeResult{
		"prompt": {NodeID: "prompt", Status: schema.NodeStatusSucceeded, DurationMs: 100},
		"answer": {NodeID: "answer", Status: schema.NodeStatusFailed},
	}

	model, err := Build(linearGraph(t), "", results)
	require.NoError(t, err)

	png, err := RenderImage(model)
	require.NoError(t, err)
	require.NotEmpty(t, png)
	assert.Equal(t, byte(0x89), png[0])
}
