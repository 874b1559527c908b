// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Engine   EngineConfig   `yaml:"engine"`
	Store    StoreConfig    `yaml:"store"`
	Playback PlaybackConfig `yaml:"playback"`
	Sync     SyncConfig     `yaml:"sync"`
	Report   ReportConfig   `yaml:"report"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Addr        string   `yaml:"addr" default:":8457"`
	CORSOrigins []string `yaml:"cors_origins" default:"[\"*\"]"`
}

// EngineConfig selects the audio engine backend.
type EngineConfig struct {
	Type     string         `yaml:"type" default:"sim" validate:"required"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// StoreConfig selects the durable key-value store backend.
type StoreConfig struct {
	Type     string         `yaml:"type" default:"sqlite" validate:"required"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// ReportConfig selects the error-report sink backend.
type ReportConfig struct {
	Type     string         `yaml:"type" default:"log" validate:"required"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// PlaybackConfig represents progress and transition tuning.
// All thresholds have fixed defaults; override only with good reason.
type PlaybackConfig struct {
	SaveIntervalSec     int `yaml:"save_interval_sec" default:"10" validate:"gte=1,lte=300"`
	FinishedWindowSec   int `yaml:"finished_window_sec" default:"15" validate:"gte=1,lte=120"`
	MinValidDurationSec int `yaml:"min_valid_duration_sec" default:"60" validate:"gte=1"`
	InferredFloorSec    int `yaml:"inferred_floor_sec" default:"600" validate:"gte=60"`
	SettleDelayMs       int `yaml:"settle_delay_ms" default:"1000" validate:"gte=0,lte=30000"`
	RestoreDelayMs      int `yaml:"restore_delay_ms" default:"500" validate:"gte=0,lte=10000"`
	NearZeroGuardSec    int `yaml:"near_zero_guard_sec" default:"5" validate:"gte=0"`
	ClobberMarginSec    int `yaml:"clobber_margin_sec" default:"30" validate:"gte=1"`
	SkipForwardSec      int `yaml:"skip_forward_sec" default:"30" validate:"gte=1,lte=600"`
	SkipBackwardSec     int `yaml:"skip_backward_sec" default:"15" validate:"gte=1,lte=600"`
}

// SyncConfig represents the club backend write-through configuration.
type SyncConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BaseURL    string `yaml:"base_url"`
	Token      string `yaml:"token"`
	TimeoutSec int    `yaml:"timeout_sec" default:"10" validate:"gte=1,lte=120"`
	QueueSize  int    `yaml:"queue_size" default:"64" validate:"gte=1,lte=4096"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("REPLAY_STORE_TYPE"); v != "" {
		c.Store.Type = v
	}
	if v := os.Getenv("REPLAY_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("REPLAY_SYNC_BASE_URL"); v != "" {
		c.Sync.BaseURL = v
	}
	if v := os.Getenv("REPLAY_SYNC_TOKEN"); v != "" {
		c.Sync.Token = v
	}
	if v := os.Getenv("REPLAY_REDIS_ADDR"); v != "" && c.Store.Type == "redis" {
		c.Store.setSetting("addr", v)
	}
	if v := os.Getenv("REPLAY_REDIS_PASSWORD"); v != "" && c.Store.Type == "redis" {
		c.Store.setSetting("password", v)
	}
	if v := os.Getenv("PUSHOVER_TOKEN"); v != "" && c.Report.Type == "pushover" {
		c.Report.setSetting("token", v)
	}
	if v := os.Getenv("PUSHOVER_USER"); v != "" && c.Report.Type == "pushover" {
		c.Report.setSetting("user", v)
	}
}

func (c *StoreConfig) setSetting(key string, value any) {
	if c.Settings == nil {
		c.Settings = map[string]any{}
	}
	c.Settings[key] = value
}

func (c *ReportConfig) setSetting(key string, value any) {
	if c.Settings == nil {
		c.Settings = map[string]any{}
	}
	c.Settings[key] = value
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if err := c.validateThresholdConsistency(); err != nil {
		return err
	}

	if err := c.validateSync(); err != nil {
		return err
	}

	return nil
}

// validateThresholdConsistency rejects threshold combinations that would
// make the progress guards contradict each other.
func (c *Config) validateThresholdConsistency() error {
	if c.Playback.NearZeroGuardSec >= c.Playback.MinValidDurationSec {
		return errors.Newf("near_zero_guard_sec (%d) must be below min_valid_duration_sec (%d)",
			c.Playback.NearZeroGuardSec, c.Playback.MinValidDurationSec)
	}
	if c.Playback.FinishedWindowSec >= c.Playback.InferredFloorSec {
		return errors.Newf("finished_window_sec (%d) must be below inferred_floor_sec (%d)",
			c.Playback.FinishedWindowSec, c.Playback.InferredFloorSec)
	}
	return nil
}

// validateSync checks that an enabled sync section is fully specified.
func (c *Config) validateSync() error {
	if !c.Sync.Enabled {
		return nil
	}
	if c.Sync.BaseURL == "" {
		return errors.New("sync.base_url is required when sync is enabled")
	}
	if c.Sync.Token == "" {
		return errors.New("sync.token is required when sync is enabled")
	}
	return nil
}

// SaveInterval returns the periodic persistence cadence.
func (c *PlaybackConfig) SaveInterval() time.Duration {
	return time.Duration(c.SaveIntervalSec) * time.Second
}

// FinishedWindow returns the trailing window treated as finished.
func (c *PlaybackConfig) FinishedWindow() time.Duration {
	return time.Duration(c.FinishedWindowSec) * time.Second
}

// MinValidDuration returns the minimum duration trusted for a save.
func (c *PlaybackConfig) MinValidDuration() time.Duration {
	return time.Duration(c.MinValidDurationSec) * time.Second
}

// InferredFloor returns the elapsed position that implies completion
// when no duration metadata exists.
func (c *PlaybackConfig) InferredFloor() time.Duration {
	return time.Duration(c.InferredFloorSec) * time.Second
}

// SettleDelay returns the wait before removing a finished queue entry.
func (c *PlaybackConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

// RestoreDelay returns the wait before seeking a freshly loaded track.
func (c *PlaybackConfig) RestoreDelay() time.Duration {
	return time.Duration(c.RestoreDelayMs) * time.Millisecond
}

// NearZeroGuard returns the position below which a save may be a
// pre-restore placeholder.
func (c *PlaybackConfig) NearZeroGuard() time.Duration {
	return time.Duration(c.NearZeroGuardSec) * time.Second
}

// ClobberMargin returns how much larger a saved position must be for
// the near-zero guard to suppress a write.
func (c *PlaybackConfig) ClobberMargin() time.Duration {
	return time.Duration(c.ClobberMarginSec) * time.Second
}

// SkipForward returns the default forward skip distance.
func (c *PlaybackConfig) SkipForward() time.Duration {
	return time.Duration(c.SkipForwardSec) * time.Second
}

// SkipBackward returns the default backward skip distance.
func (c *PlaybackConfig) SkipBackward() time.Duration {
	return time.Duration(c.SkipBackwardSec) * time.Second
}

// Timeout returns the per-request sync timeout.
func (c *SyncConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}
