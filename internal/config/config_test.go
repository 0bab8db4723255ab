package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadopc/blockr/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BLOCKR_DB_PATH", filepath.Join(dir, "blockr.db"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
	assert.True(t, cfg.Jitter)
	assert.Equal(t, 5*time.Minute, cfg.CacheMaxAge)
	assert.Equal(t, 15*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, filepath.Join(dir, "blockr.log"), cfg.LogFile)
	assert.Equal(t, model.Guest, cfg.Mode())
	assert.False(t, cfg.Online())

	b := cfg.Backoff()
	assert.Equal(t, time.Second, b.BaseDelay)
	assert.Equal(t, 3, cfg.Retry().MaxRetries)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BLOCKR_DB_PATH", filepath.Join(t.TempDir(), "x.db"))
	t.Setenv("BLOCKR_API_URL", "https://api.example.com")
	t.Setenv("BLOCKR_USER_ID", "u1")
	t.Setenv("BLOCKR_ACCESS_TOKEN", "tok")
	t.Setenv("BLOCKR_MAX_RETRIES", "5")
	t.Setenv("BLOCKR_BASE_DELAY", "250ms")
	t.Setenv("BLOCKR_JITTER", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, model.Authenticated, cfg.Mode())
	assert.True(t, cfg.Online())
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.BaseDelay)
	assert.False(t, cfg.Jitter)

	opts := cfg.ClientOptions()
	assert.Equal(t, "https://api.example.com", opts.BaseURL)
	assert.Equal(t, "tok", opts.AccessToken)
}

func TestModeNeedsTokenAndUser(t *testing.T) {
	cfg := &Config{UserID: "u1"}
	assert.Equal(t, model.Guest, cfg.Mode())
	cfg = &Config{AccessToken: "tok"}
	assert.Equal(t, model.Guest, cfg.Mode())
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("BLOCKR_DB_PATH", filepath.Join(t.TempDir(), "x.db"))

	t.Run("not a number", func(t *testing.T) {
		t.Setenv("BLOCKR_MAX_RETRIES", "many")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("negative retries", func(t *testing.T) {
		t.Setenv("BLOCKR_MAX_RETRIES", "-1")
		_, err := Load()
		assert.ErrorContains(t, err, "MAX_RETRIES")
	})
	t.Run("max below base", func(t *testing.T) {
		t.Setenv("BLOCKR_BASE_DELAY", "10s")
		t.Setenv("BLOCKR_MAX_DELAY", "1s")
		_, err := Load()
		assert.ErrorContains(t, err, "MAX_DELAY")
	})
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blockr.log")
	cfg := &Config{LogLevel: "debug", LogFile: path}

	logger, closer := NewLogger(cfg, SinkFile)
	logger.Debug().Str("block_id", "b1").Msg("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"block_id":"b1"`)
	assert.Contains(t, string(data), `"service":"blockr"`)
}

func TestNewLoggerLevel(t *testing.T) {
	logger, closer := NewLogger(&Config{LogLevel: "bogus"}, SinkConsole)
	defer closer.Close()
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())

	logger, _ = NewLogger(&Config{LogLevel: "WARN"}, SinkConsole)
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
}
