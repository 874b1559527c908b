// Package engine defines the audio engine boundary and the built-in
// simulated backend. Native engines live behind the same interface in
// the mobile builds and are not part of this repository.
package engine

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/podclub/replay/internal/domain/track"
	"github.com/podclub/replay/internal/infra/config"
)

// Status is a transient snapshot of one bound track. Duration is zero
// until the engine has learned it; it becomes authoritative only once
// the stream is loaded and stable.
type Status struct {
	Loaded       bool
	Playing      bool
	Buffering    bool
	Position     time.Duration
	Duration     time.Duration
	Buffered     time.Duration
	JustFinished bool
}

// StatusFunc receives status snapshots for a bound track. Callbacks
// arrive from the engine's own goroutine; implementations must not
// block.
type StatusFunc func(trackID string, status Status)

// Binding is the live association between one track and the engine's
// prepared state. At most one binding exists per engine at any time;
// the playback controller enforces that.
type Binding interface {
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	SeekTo(ctx context.Context, pos time.Duration) error
	SetRate(ctx context.Context, rate float64) error
	SetVolume(ctx context.Context, volume float64) error
	// Status re-reads the engine state. Callers must use this, not
	// cached flags, for any is-it-playing decision.
	Status(ctx context.Context) (Status, error)
	// Unload releases the engine resources. The binding is unusable
	// afterwards; further calls return an error.
	Unload(ctx context.Context) error
}

// Engine creates bindings for tracks.
type Engine interface {
	Name() string
	Bind(ctx context.Context, t track.Track, onStatus StatusFunc) (Binding, error)
}

// ErrUnloaded is returned by binding methods after Unload.
var ErrUnloaded = errors.New("binding already unloaded")

// New creates an engine from configuration.
func New(cfg config.EngineConfig) (Engine, error) {
	zlog.Debug().Msgf("creating engine: type=%s", cfg.Type)
	switch cfg.Type {
	case "sim":
		return NewSim(cfg.Settings)
	default:
		return nil, errors.Newf("unsupported engine type: %s", cfg.Type)
	}
}
