package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	ms, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)

	assert.Equal(t, 1, ms[0].version)
	assert.Equal(t, "initial_schema", ms[0].name)
	for i := 1; i < len(ms); i++ {
		assert.Greater(t, ms[i].version, ms[i-1].version, "migrations must be ordered")
	}
	for _, m := range ms {
		assert.NotEmpty(t, m.script)
	}
}

func TestSplitStatements(t *testing.T) {
	script := `-- creates the runs table
CREATE TABLE runs (id TEXT PRIMARY KEY);

-- index for lookups
CREATE INDEX idx_runs ON runs (id);
`
	stmts := splitStatements(script)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE runs")
	assert.Contains(t, stmts[1], "CREATE INDEX idx_runs")
}

func TestSplitStatements_CommentOnly(t *testing.T) {
	assert.Empty(t, splitStatements("-- nothing here\n\n-- still nothing\n"))
}
