package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/podclub/replay/internal/app/queue"
	"github.com/podclub/replay/internal/domain/track"
	"github.com/podclub/replay/internal/infra/engine"
	"github.com/podclub/replay/internal/infra/report"
)

// Errors
var (
	ErrNoTrack  = errors.New("no track selected")
	ErrNotBound = errors.New("current track has no engine binding")
)

const eventBuffer = 64

// ResumeFunc returns the position a track should resume from, or 0 to
// start at the beginning.
type ResumeFunc func(ctx context.Context, trackID string) time.Duration

// Config holds controller configuration.
type Config struct {
	RestoreDelay time.Duration // Wait after a load before seeking to a resume position
	SkipForward  time.Duration // Relative seek distance for a forward skip
	SkipBackward time.Duration // Relative seek distance for a backward skip
}

// Controller is the single writer for engine bindings. Every load,
// release, and transport operation goes through it, so at most one
// binding is live at any time and it always belongs to the queue's
// current entry.
type Controller struct {
	mu sync.RWMutex

	queue  *queue.Manager
	engine engine.Engine
	sink   report.Sink
	resume ResumeFunc
	config Config

	bindings   map[string]engine.Binding
	current    *track.QueuedTrack
	lastStatus engine.Status
	state      State

	restoreCancel func()

	eventCh chan Event
	closed  bool
}

// NewController creates a playback controller on top of the given
// queue and engine. The resume func may be nil, in which case every
// track starts from the beginning.
func NewController(q *queue.Manager, eng engine.Engine, sink report.Sink, resume ResumeFunc, config Config) *Controller {
	return &Controller{
		queue:    q,
		engine:   eng,
		sink:     sink,
		resume:   resume,
		config:   config,
		bindings: make(map[string]engine.Binding),
		state:    StateEmpty,
		eventCh:  make(chan Event, eventBuffer),
	}
}

// Events returns the event channel. It is closed by Close.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// Append adds a track to the tail of the queue. When nothing was
// selected the track loads and starts playing immediately.
func (c *Controller) Append(ctx context.Context, t track.Track) (track.QueuedTrack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, becameCurrent := c.queue.Append(ctx, t)
	if !becameCurrent {
		return entry, nil
	}

	err := c.loadLocked(ctx, entry, true, -1)
	c.sendEventLocked(Event{Type: EventTrackChanged, Track: &entry, State: c.state})
	return entry, err
}

// PlayNow inserts a track at the head of the queue and plays it. The
// previously current track keeps its queue position. startAt < 0
// resumes from the saved position, if any.
func (c *Controller) PlayNow(ctx context.Context, t track.Track, startAt time.Duration) (track.QueuedTrack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, prevStatus := c.snapshotLocked(ctx)
	entry := c.queue.InsertFront(ctx, t)
	if err := c.queue.SetCurrent(ctx, 0); err != nil {
		return entry, err
	}

	err := c.loadLocked(ctx, entry, true, startAt)
	c.sendEventLocked(Event{Type: EventTrackChanged, Track: &entry, Previous: prev, Status: prevStatus, State: c.state})
	return entry, err
}

// Remove takes a track out of the queue. Removing the current track
// releases its binding and loads whichever entry takes over its index,
// falling back one position at the tail. Removing an absent ID is a
// no-op; a finished entry's deferred removal may race a user one.
func (c *Controller) Remove(ctx context.Context, trackID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		prev       *track.QueuedTrack
		prevStatus engine.Status
	)
	if c.current != nil && c.current.Track.ID == trackID {
		prev, prevStatus = c.snapshotLocked(ctx)
	}

	result := c.queue.Remove(ctx, trackID)
	if !result.Removed || !result.WasCurrent {
		return result.Removed, nil
	}

	if result.Next != nil {
		err := c.loadLocked(ctx, *result.Next, true, -1)
		c.sendEventLocked(Event{Type: EventTrackChanged, Track: result.Next, Previous: prev, Status: prevStatus, State: c.state})
		return true, err
	}

	c.sweepLocked(ctx)
	c.current = nil
	c.lastStatus = engine.Status{}
	c.state = StateEmpty
	c.sendEventLocked(Event{Type: EventTrackChanged, Previous: prev, Status: prevStatus, State: c.state})
	return true, nil
}

// Clear empties the queue and releases the binding.
func (c *Controller) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, prevStatus := c.snapshotLocked(ctx)
	c.sweepLocked(ctx)
	c.queue.Clear(ctx)
	c.current = nil
	c.lastStatus = engine.Status{}
	c.state = StateEmpty

	if prev != nil {
		c.sendEventLocked(Event{Type: EventTrackChanged, Previous: prev, Status: prevStatus, State: c.state})
	}
}

// Next abandons the current track and moves to the following entry.
// Off the end of the queue playback stops and the queue-ended event
// carries the abandoned track's last snapshot.
func (c *Controller) Next(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return ErrNoTrack
	}

	prev, final := c.snapshotLocked(ctx)
	next, ok := c.queue.Advance(ctx)
	if ok {
		err := c.loadLocked(ctx, next, true, -1)
		c.sendEventLocked(Event{Type: EventTrackChanged, Track: &next, Previous: prev, Status: final, State: c.state})
		return err
	}

	c.sweepLocked(ctx)
	c.current = nil
	c.lastStatus = engine.Status{}
	c.state = StateEmpty
	c.sendEventLocked(Event{Type: EventQueueEnded, Track: prev, Status: final, State: c.state})
	return nil
}

// Load binds the queue entry at the given index. An out-of-range index
// is reported and leaves playback untouched.
func (c *Controller) Load(ctx context.Context, index int, autoplay bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.queue.At(index)
	if !ok {
		err := errors.Newf("queue index %d out of range (length %d)", index, c.queue.Len())
		c.reportLocked("load", nil, err, map[string]any{"index": index})
		return err
	}

	prev, prevStatus := c.snapshotLocked(ctx)
	_ = c.queue.SetCurrent(ctx, index)

	err := c.loadLocked(ctx, entry, autoplay, -1)
	c.sendEventLocked(Event{Type: EventTrackChanged, Track: &entry, Previous: prev, Status: prevStatus, State: c.state})
	return err
}

// Play starts or resumes the current track. The engine is re-queried
// first; a track the engine already reports as playing is left alone
// no matter what state was cached.
func (c *Controller) Play(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return ErrNoTrack
	}

	binding, ok := c.bindings[c.current.Track.ID]
	if !ok {
		// A failed load leaves the selection without a binding; retry.
		if err := c.loadLocked(ctx, *c.current, true, -1); err != nil {
			return err
		}
		c.sendEventLocked(Event{Type: EventStateChanged, Track: c.current, State: c.state})
		return nil
	}

	st, err := binding.Status(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to query engine status")
	}
	if st.Playing {
		return nil
	}

	if err := binding.Play(ctx); err != nil {
		err = errors.Wrapf(err, "failed to start track %s", c.current.Track.ID)
		c.reportLocked("play", c.current, err, nil)
		return err
	}

	c.state = StatePlaying
	c.sendEventLocked(Event{Type: EventStateChanged, Track: c.current, State: c.state})
	return nil
}

// Pause pauses the current track. Pausing a track the engine reports
// as not playing is a no-op.
func (c *Controller) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	binding, err := c.currentBindingLocked()
	if err != nil {
		return err
	}

	st, err := binding.Status(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to query engine status")
	}
	if !st.Playing {
		return nil
	}

	if err := binding.Pause(ctx); err != nil {
		return errors.Wrapf(err, "failed to pause track %s", c.current.Track.ID)
	}

	c.state = StatePaused
	c.sendEventLocked(Event{Type: EventStateChanged, Track: c.current, State: c.state})
	return nil
}

// Stop halts the current track without releasing it. The binding and
// the queue selection survive, so a later Play picks up where the
// track was stopped.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	binding, err := c.currentBindingLocked()
	if err != nil {
		return err
	}

	st, err := binding.Status(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to query engine status")
	}
	if st.Playing {
		if err := binding.Stop(ctx); err != nil {
			return errors.Wrapf(err, "failed to stop track %s", c.current.Track.ID)
		}
	}
	if c.state == StateLoaded {
		return nil
	}

	c.state = StateLoaded
	c.sendEventLocked(Event{Type: EventStateChanged, Track: c.current, State: c.state})
	return nil
}

// SeekTo seeks the current track to an absolute position.
func (c *Controller) SeekTo(ctx context.Context, pos time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	binding, err := c.currentBindingLocked()
	if err != nil {
		return err
	}
	if pos < 0 {
		pos = 0
	}
	return errors.Wrap(binding.SeekTo(ctx, pos), "failed to seek")
}

// SkipForward seeks forward by the configured skip distance.
func (c *Controller) SkipForward(ctx context.Context) error {
	return c.skipBy(ctx, c.config.SkipForward)
}

// SkipBackward seeks backward by the configured skip distance.
func (c *Controller) SkipBackward(ctx context.Context) error {
	return c.skipBy(ctx, -c.config.SkipBackward)
}

func (c *Controller) skipBy(ctx context.Context, delta time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	binding, err := c.currentBindingLocked()
	if err != nil {
		return err
	}

	st, err := binding.Status(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to query engine status")
	}

	target := st.Position + delta
	if target < 0 {
		target = 0
	}
	if st.Duration > 0 && target > st.Duration {
		target = st.Duration
	}
	return errors.Wrap(binding.SeekTo(ctx, target), "failed to seek")
}

// SeekToChapter seeks to the start of the given chapter of the current
// track.
func (c *Controller) SeekToChapter(ctx context.Context, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return ErrNoTrack
	}
	chapters := c.current.Track.Chapters
	if index < 0 || index >= len(chapters) {
		return errors.Newf("chapter index %d out of range (track has %d chapters)", index, len(chapters))
	}

	binding, err := c.currentBindingLocked()
	if err != nil {
		return err
	}
	return errors.Wrap(binding.SeekTo(ctx, chapters[index].Start), "failed to seek to chapter")
}

// SetRate sets the playback rate of the current track.
func (c *Controller) SetRate(ctx context.Context, rate float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	binding, err := c.currentBindingLocked()
	if err != nil {
		return err
	}
	return errors.Wrap(binding.SetRate(ctx, rate), "failed to set rate")
}

// SetVolume sets the playback volume of the current track.
func (c *Controller) SetVolume(ctx context.Context, volume float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	binding, err := c.currentBindingLocked()
	if err != nil {
		return err
	}
	return errors.Wrap(binding.SetVolume(ctx, volume), "failed to set volume")
}

// Status re-queries the engine for the current track's status.
func (c *Controller) Status(ctx context.Context) (engine.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	binding, err := c.currentBindingLocked()
	if err != nil {
		return engine.Status{}, err
	}

	st, err := binding.Status(ctx)
	if err != nil {
		return engine.Status{}, errors.Wrap(err, "failed to query engine status")
	}
	c.lastStatus = st
	return st, nil
}

// State returns the current playback state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Current returns the currently selected track.
func (c *Controller) Current() (track.QueuedTrack, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.current == nil {
		return track.QueuedTrack{}, false
	}
	return *c.current, true
}

// Close releases the binding and closes the event channel.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.sweepLocked(context.Background())
	c.current = nil
	c.state = StateEmpty
	c.closed = true
	close(c.eventCh)
}

// loadLocked makes entry the bound track: existing bindings are swept
// first, then the new one is created and optionally started.
// startAt < 0 means resume from the saved position, if any.
func (c *Controller) loadLocked(ctx context.Context, entry track.QueuedTrack, autoplay bool, startAt time.Duration) error {
	c.sweepLocked(ctx)
	c.current = &entry
	c.lastStatus = engine.Status{}
	c.state = StateLoaded

	binding, err := c.engine.Bind(ctx, entry.Track, c.onEngineStatus)
	if err != nil {
		err = errors.Wrapf(err, "failed to bind track %s", entry.Track.ID)
		c.reportLocked("load", &entry, err, nil)
		return err
	}
	c.bindings[entry.Track.ID] = binding

	target := startAt
	if target < 0 {
		target = c.resumeTargetLocked(ctx, entry.Track.ID)
	}
	if target > 0 {
		c.scheduleRestoreLocked(trackRestore{id: entry.Track.ID, target: target})
	}

	if autoplay {
		if err := binding.Play(ctx); err != nil {
			err = errors.Wrapf(err, "failed to start track %s", entry.Track.ID)
			c.reportLocked("play", &entry, err, nil)
			return err
		}
		c.state = StatePlaying
	}

	zlog.Info().Msgf("loaded track: id=%s title=%s autoplay=%t resume_at=%v",
		entry.Track.ID, entry.Track.Title, autoplay, target)
	return nil
}

// sweepLocked releases every engine binding. More than one live
// binding means an earlier release was missed; the sweep reclaims it.
// Release errors are logged and swallowed.
func (c *Controller) sweepLocked(ctx context.Context) {
	c.cancelRestoreLocked()

	if len(c.bindings) > 1 {
		zlog.Warn().Msgf("sweeping stale engine bindings: count=%d", len(c.bindings))
	}
	for id, binding := range c.bindings {
		if err := binding.Stop(ctx); err != nil && !errors.Is(err, engine.ErrUnloaded) {
			zlog.Warn().Err(err).Msgf("failed to stop binding: id=%s", id)
		}
		if err := binding.Unload(ctx); err != nil && !errors.Is(err, engine.ErrUnloaded) {
			zlog.Warn().Err(err).Msgf("failed to unload binding: id=%s", id)
		}
		delete(c.bindings, id)
	}
}

// snapshotLocked captures the current entry and its freshest engine
// status before a transition releases the binding.
func (c *Controller) snapshotLocked(ctx context.Context) (*track.QueuedTrack, engine.Status) {
	if c.current == nil {
		return nil, engine.Status{}
	}

	prev := c.current
	st := c.lastStatus
	if binding, ok := c.bindings[prev.Track.ID]; ok {
		if fresh, err := binding.Status(ctx); err == nil {
			st = fresh
		}
	}
	return prev, st
}

// onEngineStatus receives engine callbacks. Callbacks for tracks that
// are no longer bound arrive after a sweep and are dropped.
func (c *Controller) onEngineStatus(trackID string, st engine.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if _, ok := c.bindings[trackID]; !ok {
		zlog.Debug().Msgf("dropping status for unbound track: id=%s", trackID)
		return
	}
	if c.current == nil || c.current.Track.ID != trackID {
		return
	}

	c.lastStatus = st
	if st.JustFinished {
		c.finishLocked(context.Background(), st)
		return
	}
	c.sendEventLocked(Event{Type: EventStatusUpdate, Track: c.current, Status: st, State: c.state})
}

// finishLocked handles a natural end of the current track: the final
// snapshot goes out first, then playback advances. The finished entry
// stays queued; the progress reconciler removes it once judged.
func (c *Controller) finishLocked(ctx context.Context, final engine.Status) {
	prev := c.current
	c.sendEventLocked(Event{Type: EventStatusUpdate, Track: prev, Status: final, State: c.state})

	next, ok := c.queue.Advance(ctx)
	if ok {
		if err := c.loadLocked(ctx, next, true, -1); err != nil {
			zlog.Warn().Err(err).Msgf("failed to load next track after finish: id=%s", next.Track.ID)
		}
		c.sendEventLocked(Event{Type: EventTrackChanged, Track: &next, Previous: prev, Status: final, State: c.state})
		return
	}

	c.sweepLocked(ctx)
	c.current = nil
	c.lastStatus = engine.Status{}
	c.state = StateEmpty
	c.sendEventLocked(Event{Type: EventQueueEnded, Track: prev, Status: final, State: c.state})
}

type trackRestore struct {
	id     string
	target time.Duration
}

// scheduleRestoreLocked seeks to the resume position after a short
// settling delay so the engine has the item ready before the seek.
func (c *Controller) scheduleRestoreLocked(r trackRestore) {
	c.cancelRestoreLocked()

	if c.config.RestoreDelay <= 0 {
		if binding, ok := c.bindings[r.id]; ok {
			if err := binding.SeekTo(context.Background(), r.target); err != nil {
				zlog.Warn().Err(err).Msgf("failed to restore position: id=%s target=%v", r.id, r.target)
			}
		}
		return
	}

	timer := time.AfterFunc(c.config.RestoreDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		c.restoreCancel = nil
		if c.closed || c.current == nil || c.current.Track.ID != r.id {
			return
		}
		binding, ok := c.bindings[r.id]
		if !ok {
			return
		}
		if err := binding.SeekTo(context.Background(), r.target); err != nil {
			zlog.Warn().Err(err).Msgf("failed to restore position: id=%s target=%v", r.id, r.target)
			return
		}
		zlog.Info().Msgf("restored position: id=%s target=%v", r.id, r.target)
	})
	c.restoreCancel = func() { timer.Stop() }
}

func (c *Controller) cancelRestoreLocked() {
	if c.restoreCancel != nil {
		c.restoreCancel()
		c.restoreCancel = nil
	}
}

func (c *Controller) currentBindingLocked() (engine.Binding, error) {
	if c.current == nil {
		return nil, ErrNoTrack
	}
	binding, ok := c.bindings[c.current.Track.ID]
	if !ok {
		return nil, ErrNotBound
	}
	return binding, nil
}

func (c *Controller) resumeTargetLocked(ctx context.Context, trackID string) time.Duration {
	if c.resume == nil {
		return 0
	}
	return c.resume(ctx, trackID)
}

func (c *Controller) reportLocked(action string, entry *track.QueuedTrack, err error, params map[string]any) {
	if c.sink == nil {
		return
	}
	rctx := report.Context{Action: action, Params: params}
	if entry != nil {
		rctx.TrackID = entry.Track.ID
		rctx.TrackTitle = entry.Track.Title
	}
	c.sink.Report(err, rctx)
}

// sendEventLocked sends an event without blocking. A full channel
// drops the event; consumers only need the latest snapshot.
func (c *Controller) sendEventLocked(e Event) {
	if c.closed {
		return
	}
	select {
	case c.eventCh <- e:
	default:
		zlog.Debug().Msgf("dropping playback event: type=%s", e.Type)
	}
}
