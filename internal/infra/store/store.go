// Package store provides the durable key-value storage backing queue
// snapshots and per-track progress records.
package store

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/podclub/replay/internal/infra/config"
)

// Store is a string-keyed byte store. Persistence is best-effort;
// callers treat a failed write as a lost tick, not a fatal condition.
type Store interface {
	// Get returns the stored value. The second return is false when the
	// key has never been written or was deleted.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// New creates a store from configuration.
func New(cfg config.StoreConfig) (Store, error) {
	zlog.Debug().Msgf("creating store: type=%s", cfg.Type)
	switch cfg.Type {
	case "sqlite":
		return NewSqlite(cfg.Settings)
	case "redis":
		return NewRedis(cfg.Settings)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.Newf("unsupported store type: %s", cfg.Type)
	}
}

// decodeSettings decodes a free-form settings map into a backend
// config struct, applies defaults and validates it.
func decodeSettings(settings map[string]any, out any) error {
	if err := mapstructure.Decode(settings, out); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(out); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(out); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}
