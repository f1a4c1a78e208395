package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/var/tmp/spotrun", cfg.WorkspaceRoot)
	assert.Equal(t, 4, cfg.MaxWorkers)
	assert.Equal(t, 30*time.Second, cfg.Intervals.ResourcePoll)
	assert.Equal(t, 5*time.Minute, cfg.Intervals.OutputSync)
	assert.Equal(t, 5*time.Second, cfg.Intervals.InterruptionPoll)
	assert.Equal(t, 2*time.Second, cfg.Shutdown.SoftStopGrace)
	assert.Equal(t, 30*time.Second, cfg.Shutdown.TerminateGrace)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.InitialDelay)
	assert.False(t, cfg.Encrypt.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SPOTRUN_MAX_WORKERS", "16")
	t.Setenv("SPOTRUN_INTERVALS_OUTPUT_SYNC", "90s")
	t.Setenv("SPOTRUN_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.MaxWorkers)
	assert.Equal(t, 90*time.Second, cfg.Intervals.OutputSync)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_ConfigFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "spotrun.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
max_workers: 8
intervals:
  resource_poll: 10s
shutdown:
  terminate_grace: 45s
encrypt:
  enabled: true
  recipient: ops@example.com
`), 0644))

	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.MaxWorkers)
	assert.Equal(t, 10*time.Second, cfg.Intervals.ResourcePoll)
	assert.Equal(t, 45*time.Second, cfg.Shutdown.TerminateGrace)
	assert.True(t, cfg.Encrypt.Enabled)
	// Untouched values keep defaults.
	assert.Equal(t, 5*time.Minute, cfg.Intervals.OutputSync)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no_workspace", func(c *Config) { c.WorkspaceRoot = "" }},
		{"zero_workers", func(c *Config) { c.MaxWorkers = 0 }},
		{"encrypt_without_recipient", func(c *Config) { c.Encrypt.Enabled = true; c.Encrypt.Recipient = "" }},
		{"zero_poll", func(c *Config) { c.Intervals.ResourcePoll = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
