package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.Reconnect.BaseDelay)
	assert.Equal(t, 1.5, cfg.Reconnect.GrowthFactor)
	assert.Equal(t, 5, cfg.Reconnect.MaxAttempts)
	assert.True(t, cfg.Playback.AutoPlay)
	assert.Equal(t, int64(10*1024*1024), cfg.Upload.MaxBytes)
	assert.Equal(t, []string{".txt", ".csv", ".json", ".pdf", ".docx"}, cfg.Upload.AllowedExtensions)
	assert.False(t, cfg.IsProduction())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("RECONNECT_BASE_DELAY", "250ms")
	t.Setenv("RECONNECT_MAX_ATTEMPTS", "2")
	t.Setenv("PLAYBACK_AUTOPLAY", "false")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 250*time.Millisecond, cfg.Reconnect.BaseDelay)
	assert.Equal(t, 2, cfg.Reconnect.MaxAttempts)
	assert.False(t, cfg.Playback.AutoPlay)
}

func TestFromEnvRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"RECONNECT_GROWTH_FACTOR": "0.5",
		"RECONNECT_MAX_ATTEMPTS":  "0",
		"SESSION_URL":             "not a url",
		"APP_ENV":                 "moon",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}
