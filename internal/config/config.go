// Package config loads the orchestrator's runtime configuration: defaults,
// an optional YAML config file, and SPOTRUN_* environment overrides, in
// that precedence order.
//
// Load returns a plain immutable struct. Components receive it (or slices
// of it) explicitly; nothing in the codebase reads ambient configuration
// state after Load returns.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration for one job run.
type Config struct {
	// WorkspaceRoot is the directory under which per-run workspaces are
	// created.
	WorkspaceRoot string `mapstructure:"workspace_root"`

	// MaxWorkers bounds the fan-out's concurrent worker processes.
	MaxWorkers int `mapstructure:"max_workers"`

	// MinFreeDiskRatio is how much bigger than the remote input the free
	// workspace disk must be before Fetch starts.
	MinFreeDiskRatio float64 `mapstructure:"min_free_disk_ratio"`

	Intervals IntervalConfig `mapstructure:"intervals"`
	Shutdown  ShutdownConfig `mapstructure:"shutdown"`
	Retry     RetryConfig    `mapstructure:"retry"`
	Encrypt   EncryptConfig  `mapstructure:"encrypt"`
	Logging   LoggingConfig  `mapstructure:"logging"`
	Remote    RemoteConfig   `mapstructure:"remote"`
}

// IntervalConfig holds the Monitor state's poll cadences.
type IntervalConfig struct {
	// ResourcePoll is the resource-sampling cadence.
	ResourcePoll time.Duration `mapstructure:"resource_poll"`

	// OutputSync is the periodic output upload cadence.
	OutputSync time.Duration `mapstructure:"output_sync"`

	// InterruptionPoll is the metadata-notice polling cadence.
	InterruptionPoll time.Duration `mapstructure:"interruption_poll"`

	// InterruptionTimeout bounds each individual metadata request.
	InterruptionTimeout time.Duration `mapstructure:"interruption_timeout"`
}

// ShutdownConfig holds the teardown grace periods.
type ShutdownConfig struct {
	// SoftStopGrace is the pause between the fan-out driver's soft stop
	// and hard stop.
	SoftStopGrace time.Duration `mapstructure:"soft_stop_grace"`

	// TerminateGrace is how long a worker gets between SIGTERM and
	// SIGKILL.
	TerminateGrace time.Duration `mapstructure:"terminate_grace"`
}

// RetryConfig parameterizes the default retry policy.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

// EncryptConfig controls the optional crypto operation.
type EncryptConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Recipient string `mapstructure:"recipient"`
}

// LoggingConfig controls the run logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// RemoteConfig carries store settings not present in the job definition.
type RemoteConfig struct {
	// Profile selects an AWS shared-config profile.
	Profile string `mapstructure:"profile"`

	// ForcePathStyle is required by most S3-compatible stores.
	ForcePathStyle bool `mapstructure:"force_path_style"`

	// UploadRatePerSec caps sync-loop uploads. Zero is unlimited.
	UploadRatePerSec float64 `mapstructure:"upload_rate_per_sec"`
}

// Load builds the configuration. cfgFile may be empty.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("workspace_root", "/var/tmp/spotrun")
	v.SetDefault("max_workers", 4)
	v.SetDefault("min_free_disk_ratio", 1.5)

	v.SetDefault("intervals.resource_poll", 30*time.Second)
	v.SetDefault("intervals.output_sync", 5*time.Minute)
	v.SetDefault("intervals.interruption_poll", 5*time.Second)
	v.SetDefault("intervals.interruption_timeout", 2*time.Second)

	v.SetDefault("shutdown.soft_stop_grace", 2*time.Second)
	v.SetDefault("shutdown.terminate_grace", 30*time.Second)

	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.initial_delay", 2*time.Second)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("retry.multiplier", 2.0)

	v.SetDefault("encrypt.enabled", false)
	v.SetDefault("encrypt.recipient", "")

	v.SetDefault("logging.level", "info")

	v.SetDefault("remote.profile", "")
	v.SetDefault("remote.force_path_style", false)
	v.SetDefault("remote.upload_rate_per_sec", 0.0)

	v.SetEnvPrefix("SPOTRUN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the orchestrator cannot run with.
func (c *Config) Validate() error {
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("workspace_root is required")
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be at least 1, got %d", c.MaxWorkers)
	}
	if c.Encrypt.Enabled && c.Encrypt.Recipient == "" {
		return fmt.Errorf("encrypt.recipient is required when encryption is enabled")
	}
	for name, d := range map[string]time.Duration{
		"intervals.resource_poll":     c.Intervals.ResourcePoll,
		"intervals.output_sync":       c.Intervals.OutputSync,
		"intervals.interruption_poll": c.Intervals.InterruptionPoll,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
