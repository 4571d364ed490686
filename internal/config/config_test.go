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
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.LogConsole)
	assert.Equal(t, "welcome.db", cfg.DBPath)
	assert.Equal(t, "welcome-private-state", cfg.PrivateStateStoreName)
	assert.Equal(t, uint(15), cfg.RetryPolicy().Retries)
	assert.Equal(t, 5*time.Millisecond, cfg.RetryPolicy().BaseDelay)
	assert.Equal(t, time.Second, cfg.BlockTime)
	assert.Equal(t, 2*time.Minute, cfg.ActionTimeout)
	assert.Empty(t, cfg.InitialParticipants)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("WELCOME_LOG_LEVEL", "debug")
	t.Setenv("WELCOME_WATCH_RETRY_COUNT", "3")
	t.Setenv("WELCOME_WATCH_RETRY_BASE_DELAY", "10ms")
	t.Setenv("WELCOME_INITIAL_PARTICIPANTS", "pid0,pid1")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger().Level)
	assert.Equal(t, uint(3), cfg.RetryPolicy().Retries)
	assert.Equal(t, 10*time.Millisecond, cfg.RetryPolicy().BaseDelay)
	assert.Equal(t, []string{"pid0", "pid1"}, cfg.InitialParticipants)
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("WELCOME_DB_PATH=from-file.db\nWELCOME_LOG_LEVEL=warn\n"), 0o600))
	t.Setenv("WELCOME_LOG_LEVEL", "error")
	t.Cleanup(func() { _ = os.Unsetenv("WELCOME_DB_PATH") })

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-file.db", cfg.DBPath)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("WELCOME_BLOCK_TIME", "soon")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
