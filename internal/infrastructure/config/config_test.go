package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8400", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Storage config
	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.Equal(t, 5*time.Minute, cfg.Storage.SweepInterval)
	assert.Equal(t, 10*time.Second, cfg.Storage.LockTimeout)

	// Resilience defaults
	assert.Equal(t, 5, cfg.Resilience.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Resilience.RecoveryTimeout)
	assert.Equal(t, 2, cfg.Resilience.SuccessThreshold)
	assert.Equal(t, 3, cfg.Resilience.MaxRetries)

	// Rate limit config
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "8400", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                      "9400",
		"HOST":                      "127.0.0.1",
		"LOG_LEVEL":                 "debug",
		"DATA_DIR":                  "/var/lib/marketpipe",
		"SWEEP_INTERVAL":            "90s",
		"BREAKER_FAILURE_THRESHOLD": "3",
		"RETRY_MAX":                 "7",
		"RATE_LIMIT_ENABLED":        "false",
	}

	for key, value := range envVars {
		os.Setenv(key, value)
	}
	defer func() {
		for key := range envVars {
			os.Unsetenv(key)
		}
	}()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9400", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/var/lib/marketpipe", cfg.Storage.DataDir)
	assert.Equal(t, 90*time.Second, cfg.Storage.SweepInterval)
	assert.Equal(t, 3, cfg.Resilience.FailureThreshold)
	assert.Equal(t, 7, cfg.Resilience.MaxRetries)
	assert.False(t, cfg.RateLimit.Enabled)
}
