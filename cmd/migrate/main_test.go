package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMigrationNumbersAfterHighest(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"000001_a.up.sql", "000001_a.down.sql", "000003_c.up.sql", "000003_c.down.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	up, down, err := createMigration(dir, "add_index", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "000004_add_index.up.sql"), up)
	assert.Equal(t, filepath.Join(dir, "000004_add_index.down.sql"), down)

	content, err := os.ReadFile(up)
	require.NoError(t, err)
	assert.Contains(t, string(content), "2026-01-02T03:04:05Z")
}

func TestCreateMigrationMissingDir(t *testing.T) {
	_, _, err := createMigration(filepath.Join(t.TempDir(), "missing"), "x", time.Now())
	assert.Error(t, err)
}
