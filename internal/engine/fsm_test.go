package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mbracero/fresco/pkg/schema"
)

func TestValidRunTransitions(t *testing.T) {
	assert.True(t, ValidRunTransition(schema.RunStatusNotStarted, schema.RunStatusRunning))
	assert.True(t, ValidRunTransition(schema.RunStatusRunning, schema.RunStatusCompleted))
	assert.True(t, ValidRunTransition(schema.RunStatusRunning, schema.RunStatusPartial))
	assert.True(t, ValidRunTransition(schema.RunStatusRunning, schema.RunStatusFailed))
	assert.True(t, ValidRunTransition(schema.RunStatusRunning, schema.RunStatusCancelled))

	assert.False(t, ValidRunTransition(schema.RunStatusNotStarted, schema.RunStatusCompleted))
	assert.False(t, ValidRunTransition(schema.RunStatusCompleted, schema.RunStatusRunning))
	assert.False(t, ValidRunTransition(schema.RunStatusCancelled, schema.RunStatusRunning))
}

func TestValidNodeTransitions(t *testing.T) {
	assert.True(t, ValidNodeTransition(schema.NodeStatusPending, schema.NodeStatusRunning))
	assert.True(t, ValidNodeTransition(schema.NodeStatusPending, schema.NodeStatusSkipped))
	assert.True(t, ValidNodeTransition(schema.NodeStatusRunning, schema.NodeStatusSucceeded))
	assert.True(t, ValidNodeTransition(schema.NodeStatusRunning, schema.NodeStatusFailed))

	assert.False(t, ValidNodeTransition(schema.NodeStatusPending, schema.NodeStatusSucceeded))
	assert.False(t, ValidNodeTransition(schema.NodeStatusRunning, schema.NodeStatusSkipped))
	assert.False(t, ValidNodeTransition(schema.NodeStatusSucceeded, schema.NodeStatusRunning))
	assert.False(t, ValidNodeTransition(schema.NodeStatusSkipped, schema.NodeStatusRunning))
}

func TestCheckTransitionErrors(t *testing.T) {
	err := checkRunTransition("r1", schema.RunStatusCompleted, schema.RunStatusRunning)
	assert.Equal(t, schema.ErrCodeInvalidTransition, err.(*schema.FrescoError).Code)

	err = checkNodeTransition("n1", schema.NodeStatusSucceeded, schema.NodeStatusRunning)
	assert.Equal(t, schema.ErrCodeInvalidTransition, err.(*schema.FrescoError).Code)
}
