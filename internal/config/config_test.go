package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(orig) })
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "chat", cfg.Build.Mode)
	assert.Equal(t, 10, cfg.Build.MaxSummarySheets)
	assert.Equal(t, 100, cfg.Build.SchemaSampleRows)
	assert.Equal(t, 6, cfg.Build.MaxRetrievedChunks)
	assert.True(t, cfg.Retrieval.Enabled)
	assert.Equal(t, 8, cfg.Retrieval.RowsPerChunk)
	assert.Equal(t, "sheetctx.db", cfg.Store.Path)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Batch.MaxConcurrentWorkbooks)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
build:
  mode: agent
  model: gpt-4o
  max_summary_sheets: 5
retrieval:
  enabled: false
schema:
  named_ranges:
    - name: Totals
      ref: Revenue!B2:B13
dlp:
  id: strict
  denied_sheets: [Salaries]
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	chdir(t, dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "agent", cfg.Build.Mode)
	assert.Equal(t, "gpt-4o", cfg.Build.Model)
	assert.Equal(t, 5, cfg.Build.MaxSummarySheets)
	assert.False(t, cfg.Retrieval.Enabled)
	require.Len(t, cfg.Schema.NamedRanges, 1)
	assert.Equal(t, "Totals", cfg.Schema.NamedRanges[0].Name)
	assert.Equal(t, "Revenue!B2:B13", cfg.Schema.NamedRanges[0].Ref)
	assert.Equal(t, "strict", cfg.DLP.ID)
	assert.Equal(t, []string{"Salaries"}, cfg.DLP.DeniedSheets)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Unset keys keep defaults.
	assert.Equal(t, 20, cfg.Build.MaxBlockRows)
}

func TestLoadEnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SHEETCTX_BUILD_MODEL", "claude-opus-4")
	t.Setenv("SHEETCTX_SERVER_PORT", "7070")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "claude-opus-4", cfg.Build.Model)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("build: [not: a map"), 0o644))
	chdir(t, dir)

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))

	assert.Error(t, InitLogger(LogConfig{Level: "not-a-level", Format: "json"}))
}
