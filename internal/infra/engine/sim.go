package engine

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/podclub/replay/internal/domain/track"
)

// SimSettings configures the simulated engine.
type SimSettings struct {
	TickMs         int `mapstructure:"tick_ms" default:"250" validate:"gte=20,lte=5000"`
	BufferAheadSec int `mapstructure:"buffer_ahead_sec" default:"30" validate:"gte=0"`
}

// SimEngine advances a wall-clock playhead instead of decoding audio.
// It loads instantly, honors rate changes, and reports just-finished
// exactly once when the playhead crosses a known duration. Tracks
// without a known duration play until stopped.
type SimEngine struct {
	tick        time.Duration
	bufferAhead time.Duration
}

// NewSim creates a simulated engine.
func NewSim(settings map[string]any) (*SimEngine, error) {
	var cfg SimSettings
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	return &SimEngine{
		tick:        time.Duration(cfg.TickMs) * time.Millisecond,
		bufferAhead: time.Duration(cfg.BufferAheadSec) * time.Second,
	}, nil
}

// Name returns the engine name.
func (e *SimEngine) Name() string {
	return "sim"
}

// Bind implements Engine.
func (e *SimEngine) Bind(ctx context.Context, t track.Track, onStatus StatusFunc) (Binding, error) {
	if t.StreamURL == "" {
		return nil, errors.Newf("track %s has no stream URL", t.ID)
	}

	b := &simBinding{
		trackID:     t.ID,
		duration:    t.Duration,
		bufferAhead: e.bufferAhead,
		rate:        1.0,
		volume:      1.0,
		loaded:      true,
		lastTick:    time.Now(),
		onStatus:    onStatus,
		done:        make(chan struct{}),
	}
	go b.run(e.tick)

	zlog.Debug().Msgf("sim engine bound track: id=%s duration=%s", t.ID, t.Duration)
	return b, nil
}

type simBinding struct {
	mu          sync.Mutex
	trackID     string
	duration    time.Duration
	bufferAhead time.Duration
	position    time.Duration
	rate        float64
	volume      float64
	playing     bool
	loaded      bool
	finished    bool
	lastTick    time.Time
	onStatus    StatusFunc
	done        chan struct{}
}

// run drives the playhead until the binding is unloaded.
func (b *simBinding) run(tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			st, emit := b.advance()
			if emit && b.onStatus != nil {
				b.onStatus(b.trackID, st)
			}
		}
	}
}

// advance moves the playhead and returns the snapshot to emit. The
// callback runs outside the lock so it may call back into the binding.
func (b *simBinding) advance() (Status, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.loaded {
		return Status{}, false
	}

	now := time.Now()
	justFinished := false
	if b.playing {
		elapsed := time.Duration(float64(now.Sub(b.lastTick)) * b.rate)
		b.position += elapsed
		if b.duration > 0 && b.position >= b.duration {
			b.position = b.duration
			b.playing = false
			if !b.finished {
				b.finished = true
				justFinished = true
			}
		}
	}
	b.lastTick = now

	st := b.statusLocked()
	st.JustFinished = justFinished
	return st, true
}

func (b *simBinding) statusLocked() Status {
	buffered := b.position + b.bufferAhead
	if b.duration > 0 && buffered > b.duration {
		buffered = b.duration
	}
	return Status{
		Loaded:   b.loaded,
		Playing:  b.playing,
		Position: b.position,
		Duration: b.duration,
		Buffered: buffered,
	}
}

// Play implements Binding.
func (b *simBinding) Play(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		return ErrUnloaded
	}
	if !b.playing {
		b.playing = true
		b.lastTick = time.Now()
	}
	return nil
}

// Pause implements Binding.
func (b *simBinding) Pause(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		return ErrUnloaded
	}
	b.playing = false
	return nil
}

// Stop implements Binding.
func (b *simBinding) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		return ErrUnloaded
	}
	b.playing = false
	return nil
}

// SeekTo implements Binding.
func (b *simBinding) SeekTo(ctx context.Context, pos time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		return ErrUnloaded
	}
	if pos < 0 {
		pos = 0
	}
	if b.duration > 0 && pos > b.duration {
		pos = b.duration
	}
	b.position = pos
	if b.duration == 0 || pos < b.duration {
		b.finished = false
	}
	b.lastTick = time.Now()
	return nil
}

// SetRate implements Binding.
func (b *simBinding) SetRate(ctx context.Context, rate float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		return ErrUnloaded
	}
	if rate <= 0 {
		return errors.Newf("invalid playback rate: %f", rate)
	}
	b.rate = rate
	return nil
}

// SetVolume implements Binding.
func (b *simBinding) SetVolume(ctx context.Context, volume float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		return ErrUnloaded
	}
	if volume < 0 || volume > 1 {
		return errors.Newf("invalid volume: %f", volume)
	}
	b.volume = volume
	return nil
}

// Status implements Binding.
func (b *simBinding) Status(ctx context.Context) (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		return Status{}, ErrUnloaded
	}
	return b.statusLocked(), nil
}

// Unload implements Binding.
func (b *simBinding) Unload(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		return ErrUnloaded
	}
	b.loaded = false
	b.playing = false
	close(b.done)
	return nil
}
