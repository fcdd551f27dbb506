package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_ZeroValueIsValid(t *testing.T) {
	var r ValidationResult
	assert.True(t, r.Valid())
	assert.NoError(t, r.Err())
}

func TestValidationResult_Errorf(t *testing.T) {
	var r ValidationResult
	r.Errorf("/nodes/0/kind", "unknown kind %q", "hologram")

	assert.False(t, r.Valid())
	require.Len(t, r.Issues, 1)
	assert.Equal(t, "/nodes/0/kind", r.Issues[0].Path)
	assert.Equal(t, `unknown kind "hologram"`, r.Issues[0].Message)
	assert.Equal(t, SeverityError, r.Issues[0].Severity)
}

func TestValidationResult_WarningsDoNotInvalidate(t *testing.T) {
	var r ValidationResult
	r.Warnf("/nodes/1/config", "template is empty")

	assert.True(t, r.Valid())
	assert.Equal(t, 0, r.ErrorCount())
	assert.NoError(t, r.Err())
	require.Len(t, r.Issues, 1)
	assert.Equal(t, SeverityWarning, r.Issues[0].Severity)
}

func TestValidationResult_Merge(t *testing.T) {
	var a, b ValidationResult
	a.Errorf("/", "first")
	a.Warnf("/", "heads up")
	b.Errorf("/edges/0", "dangling edge")

	a.Merge(&b)
	a.Merge(nil)

	assert.Len(t, a.Issues, 3)
	assert.Equal(t, 2, a.ErrorCount())
}

func TestValidationResult_ErrSingleIssue(t *testing.T) {
	var r ValidationResult
	r.Errorf("/edges/2", "text handle fed a video")

	err := r.Err()
	require.Error(t, err)

	var ferr *FrescoError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, ErrCodeValidation, ferr.Code)
	assert.Contains(t, ferr.Message, "/edges/2")
	assert.Contains(t, ferr.Message, "text handle fed a video")
	assert.Equal(t, 1, ferr.Details["error_count"])
}

func TestValidationResult_ErrManyIssues(t *testing.T) {
	var r ValidationResult
	r.Errorf("/nodes/0", "a")
	r.Warnf("/nodes/0", "meh")
	r.Errorf("/nodes/1", "b")

	err := r.Err()
	require.Error(t, err)

	var ferr *FrescoError
	require.True(t, errors.As(err, &ferr))
	assert.Contains(t, ferr.Message, "2 errors")
	assert.Len(t, ferr.Details["issues"], 3)
}
