// SPDX-License-Identifier: MIT

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, "dashboard", cfg.PageName)
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, DefaultRetryDelay, cfg.RetryDelay)
	assert.True(t, cfg.RetryOnlyIfHealthy)
	assert.True(t, cfg.ShowProgress)
	assert.True(t, cfg.EnableRetryStrategies)
	assert.Equal(t, DefaultProgressTick, cfg.ProgressTick)
	assert.Equal(t, DefaultPhaseTick, cfg.PhaseTick)
	assert.Equal(t, DefaultHealthPollInterval, cfg.HealthPollInterval)
	assert.Equal(t, DefaultProgressBaseIncrement, cfg.ProgressBaseIncrement)
	assert.Equal(t, DefaultProgressJitterMax, cfg.ProgressJitterMax)
	require.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("LOADGATE_PAGE_NAME", "funds")
	t.Setenv("LOADGATE_TIMEOUT", "5s")
	t.Setenv("LOADGATE_MAX_RETRIES", "4")
	t.Setenv("LOADGATE_RETRY_ONLY_IF_HEALTHY", "false")
	t.Setenv("LOADGATE_RETRY_STRATEGIES", "no")
	t.Setenv("LOADGATE_PROGRESS_BASE_INCREMENT", "0.8")

	cfg := FromEnv()
	assert.Equal(t, "funds", cfg.PageName)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.False(t, cfg.RetryOnlyIfHealthy)
	assert.False(t, cfg.EnableRetryStrategies)
	assert.Equal(t, 0.8, cfg.ProgressBaseIncrement)
}

func TestFromEnvInvalidValuesFallBack(t *testing.T) {
	t.Setenv("LOADGATE_TIMEOUT", "not-a-duration")
	t.Setenv("LOADGATE_MAX_RETRIES", "many")
	t.Setenv("LOADGATE_RATE_LIMIT_ENABLED", "maybe")

	cfg := FromEnv()
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.True(t, cfg.RateLimitEnabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr error
	}{
		{"zero timeout", func(c *AppConfig) { c.Timeout = 0 }, ErrTimeoutNotPositive},
		{"negative retries", func(c *AppConfig) { c.MaxRetries = -1 }, ErrNegativeRetries},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := FromEnv()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateRejectsZeroTicks(t *testing.T) {
	cfg := FromEnv()
	cfg.PhaseTick = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsEmptyIncrementBand(t *testing.T) {
	cfg := FromEnv()
	cfg.ProgressBaseIncrement = 0
	assert.Error(t, cfg.Validate())
}
