package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load(New(""))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Orchestrator.PollInterval)
	assert.Equal(t, 15*time.Second, cfg.Orchestrator.CancelFallback)
	assert.Equal(t, 20*time.Second, cfg.Orchestrator.CleanupGrace)
	assert.Equal(t, 5*time.Second, cfg.Orchestrator.CancelButtonDelay)
	assert.Equal(t, 5, cfg.Stream.MaxReconnectAttempts)
	assert.Equal(t, time.Second, cfg.Stream.ReconnectDelay)
	assert.Equal(t, 36, cfg.Server.ChunkSize)
	assert.Equal(t, 20*time.Millisecond, cfg.Server.ChunkDelay)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 800, cfg.Compute.MaxTokens)
	assert.Equal(t, "aidesk", cfg.Tracing.ServiceName)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aidesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
orchestrator:
  base_url: http://reports.internal:9000
  poll_interval: 500ms
server:
  chunk_size: 12
log:
  level: debug
`), 0o644))
	t.Setenv("AIDESK_SERVER_ADDR", ":9999")
	t.Setenv("AIDESK_LOG_LEVEL", "warn")

	cfg, err := Load(New(path))
	require.NoError(t, err)

	assert.Equal(t, "http://reports.internal:9000", cfg.Orchestrator.BaseURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Orchestrator.PollInterval)
	assert.Equal(t, 12, cfg.Server.ChunkSize)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadFindsConfigInWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "aidesk.yaml"), []byte("stream:\n  user_id: alice\n"), 0o644))

	cfg, err := Load(New(""))
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.Stream.UserID)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aidesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  chunk_size: 0\n"), 0o644))

	_, err := Load(New(path))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.chunk_size")
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aidesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o644))

	_, err := Load(New(path))
	assert.Error(t, err)
}
