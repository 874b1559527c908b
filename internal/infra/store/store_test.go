package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podclub/replay/internal/infra/config"
)

func openBackends(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSqlite(map[string]any{"path": ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func TestStore_Contract(t *testing.T) {
	ctx := context.Background()

	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("missing key", func(t *testing.T) {
				value, ok, err := s.Get(ctx, "absent")
				require.NoError(t, err)
				assert.False(t, ok)
				assert.Nil(t, value)
			})

			t.Run("set and get round-trip", func(t *testing.T) {
				require.NoError(t, s.Set(ctx, "progress:ep-1", []byte(`{"position":120}`)))

				value, ok, err := s.Get(ctx, "progress:ep-1")
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, []byte(`{"position":120}`), value)
			})

			t.Run("overwrite keeps last value", func(t *testing.T) {
				require.NoError(t, s.Set(ctx, "progress:ep-2", []byte(`{"position":10}`)))
				require.NoError(t, s.Set(ctx, "progress:ep-2", []byte(`{"position":90}`)))

				value, ok, err := s.Get(ctx, "progress:ep-2")
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, []byte(`{"position":90}`), value)
			})

			t.Run("delete clears the key", func(t *testing.T) {
				require.NoError(t, s.Set(ctx, "progress:ep-3", []byte(`{}`)))
				require.NoError(t, s.Delete(ctx, "progress:ep-3"))

				_, ok, err := s.Get(ctx, "progress:ep-3")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("delete of a missing key is a no-op", func(t *testing.T) {
				assert.NoError(t, s.Delete(ctx, "never-written"))
			})
		})
	}
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	original := []byte("snapshot")
	require.NoError(t, s.Set(ctx, "queue", original))
	original[0] = 'X'

	value, ok, err := s.Get(ctx, "queue")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("snapshot"), value)

	value[0] = 'Y'
	again, _, err := s.Get(ctx, "queue")
	require.NoError(t, err)
	assert.Equal(t, []byte("snapshot"), again)
}

func TestNew_Factory(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.StoreConfig
		wantErr bool
		errMsg  string
	}{
		{
			name: "memory store",
			cfg:  config.StoreConfig{Type: "memory"},
		},
		{
			name: "sqlite store with explicit path",
			cfg: config.StoreConfig{
				Type:     "sqlite",
				Settings: map[string]any{"path": ""}, // replaced per-test below
			},
		},
		{
			name:    "unsupported type",
			cfg:     config.StoreConfig{Type: "etcd"},
			wantErr: true,
			errMsg:  "unsupported store type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.cfg.Type == "sqlite" {
				tt.cfg.Settings["path"] = filepath.Join(t.TempDir(), "replay.db")
			}

			s, err := New(tt.cfg)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, s)
			assert.NoError(t, s.Close())
		})
	}
}

func TestDecodeSettings_Validation(t *testing.T) {
	var cfg RedisSettings
	err := decodeSettings(map[string]any{"db": -1}, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}
