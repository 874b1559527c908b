package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) Config {
	t.Helper()
	var cfg Config
	require.NoError(t, defaults.Set(&cfg))
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "defaults are valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "near-zero guard above min valid duration",
			mutate: func(c *Config) {
				c.Playback.NearZeroGuardSec = 90
			},
			wantErr: true,
			errMsg:  "near_zero_guard_sec",
		},
		{
			name: "finished window above inferred floor",
			mutate: func(c *Config) {
				c.Playback.FinishedWindowSec = 120
				c.Playback.InferredFloorSec = 60
			},
			wantErr: true,
			errMsg:  "finished_window_sec",
		},
		{
			name: "sync enabled without token",
			mutate: func(c *Config) {
				c.Sync.Enabled = true
				c.Sync.BaseURL = "https://club.example.com"
			},
			wantErr: true,
			errMsg:  "sync.token",
		},
		{
			name: "sync enabled without base url",
			mutate: func(c *Config) {
				c.Sync.Enabled = true
				c.Sync.Token = "secret"
			},
			wantErr: true,
			errMsg:  "sync.base_url",
		},
		{
			name: "save interval out of range",
			mutate: func(c *Config) {
				c.Playback.SaveIntervalSec = 0
			},
			wantErr: true,
			errMsg:  "SaveIntervalSec",
		},
		{
			name: "missing store type",
			mutate: func(c *Config) {
				c.Store.Type = ""
			},
			wantErr: true,
			errMsg:  "Type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tt.mutate(&cfg)

			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err, "expected validation to fail")
				assert.Contains(t, err.Error(), tt.errMsg,
					"error message should mention the problematic field")
			} else {
				assert.NoError(t, err, "expected validation to pass")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	writeConfig := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "replay.yaml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		return path
	}

	t.Run("defaults fill unspecified fields", func(t *testing.T) {
		path := writeConfig(t, "server:\n  addr: \":9000\"\n")

		cfg, err := Load(path)

		require.NoError(t, err)
		assert.Equal(t, ":9000", cfg.Server.Addr)
		assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
		assert.Equal(t, "sim", cfg.Engine.Type)
		assert.Equal(t, "sqlite", cfg.Store.Type)
		assert.Equal(t, "log", cfg.Report.Type)
		assert.Equal(t, 10, cfg.Playback.SaveIntervalSec)
		assert.Equal(t, 15, cfg.Playback.FinishedWindowSec)
		assert.Equal(t, 60, cfg.Playback.MinValidDurationSec)
		assert.Equal(t, 600, cfg.Playback.InferredFloorSec)
	})

	t.Run("environment overrides file values", func(t *testing.T) {
		path := writeConfig(t, "server:\n  addr: \":9000\"\n")
		t.Setenv("REPLAY_SERVER_ADDR", ":7000")

		cfg, err := Load(path)

		require.NoError(t, err)
		assert.Equal(t, ":7000", cfg.Server.Addr)
	})

	t.Run("store type from environment", func(t *testing.T) {
		path := writeConfig(t, "store:\n  type: sqlite\n")
		t.Setenv("REPLAY_STORE_TYPE", "redis")
		t.Setenv("REPLAY_REDIS_ADDR", "localhost:6380")

		cfg, err := Load(path)

		require.NoError(t, err)
		assert.Equal(t, "redis", cfg.Store.Type)
		assert.Equal(t, "localhost:6380", cfg.Store.Settings["addr"],
			"redis settings should apply to an env-selected redis store")
	})

	t.Run("sync credentials from environment", func(t *testing.T) {
		path := writeConfig(t, "sync:\n  enabled: true\n  base_url: \"https://club.example.com\"\n")
		t.Setenv("REPLAY_SYNC_TOKEN", "env-token")

		cfg, err := Load(path)

		require.NoError(t, err)
		assert.Equal(t, "env-token", cfg.Sync.Token)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeConfig(t, "server: [not a map\n")
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestPlaybackConfig_Durations(t *testing.T) {
	cfg := defaultConfig(t)

	assert.Equal(t, "10s", cfg.Playback.SaveInterval().String())
	assert.Equal(t, "15s", cfg.Playback.FinishedWindow().String())
	assert.Equal(t, "1m0s", cfg.Playback.MinValidDuration().String())
	assert.Equal(t, "10m0s", cfg.Playback.InferredFloor().String())
	assert.Equal(t, "1s", cfg.Playback.SettleDelay().String())
	assert.Equal(t, "500ms", cfg.Playback.RestoreDelay().String())
	assert.Equal(t, "30s", cfg.Playback.SkipForward().String())
	assert.Equal(t, "15s", cfg.Playback.SkipBackward().String())
}
