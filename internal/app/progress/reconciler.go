// Package progress persists listening positions and judges when a
// track counts as finished.
package progress

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/podclub/replay/internal/domain/track"
	"github.com/podclub/replay/internal/infra/engine"
	"github.com/podclub/replay/internal/infra/store"
)

const (
	keyPrefix = "progress:"

	// finalizedTTL bounds how long a finalized track ID suppresses
	// duplicate completion signals. A replay of the same track after
	// this window finalizes again normally.
	finalizedTTL = time.Minute
)

// Record is a persisted listening position.
type Record struct {
	Position  time.Duration `json:"position"`
	Duration  time.Duration `json:"duration"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Config holds the thresholds the reconciler judges with.
type Config struct {
	SaveInterval     time.Duration // How often a playing track's position is persisted
	FinishedWindow   time.Duration // Remaining time under which a track counts as finished
	MinValidDuration time.Duration // Durations below this are treated as unknown
	InferredFloor    time.Duration // Position at which a track without a duration counts as finished
	SettleDelay      time.Duration // Wait before a finished entry is removed from the queue
	NearZeroGuard    time.Duration // Positions below this never overwrite a much larger saved one
	ClobberMargin    time.Duration // How much larger the saved position must be for the guard to hold
}

// SyncFunc forwards a progress update to the club backend.
type SyncFunc func(trackID string, position, duration time.Duration, finished bool)

// Reconciler watches engine snapshots, persists positions at the save
// interval, and finalizes tracks when they end or are switched away.
// Every accepted save and every completion is forwarded through the
// sync hook. Completion can be signalled more than once per track
// (final status, track change, queue end); only the first signal takes
// effect.
type Reconciler struct {
	mu     sync.Mutex
	store  store.Store
	config Config

	lastSaved map[string]time.Time
	finalized map[string]time.Time
	removals  map[string]*time.Timer
	closed    bool

	removeTrack func(ctx context.Context, trackID string)
	pushSync    SyncFunc
	onFinished  func(t track.Track)
	getNow      func() time.Time
}

// NewReconciler creates a reconciler. removeTrack, pushSync and
// onFinished may be nil; getNow defaults to time.Now.
func NewReconciler(
	st store.Store,
	config Config,
	removeTrack func(ctx context.Context, trackID string),
	pushSync SyncFunc,
	onFinished func(t track.Track),
	getNow func() time.Time,
) *Reconciler {
	if getNow == nil {
		getNow = time.Now
	}
	return &Reconciler{
		store:       st,
		config:      config,
		lastSaved:   make(map[string]time.Time),
		finalized:   make(map[string]time.Time),
		removals:    make(map[string]*time.Timer),
		removeTrack: removeTrack,
		pushSync:    pushSync,
		onFinished:  onFinished,
		getNow:      getNow,
	}
}

// ObserveStatus handles a routine engine snapshot: a finishing track
// is finalized, a playing one has its position persisted once per
// save interval.
func (r *Reconciler) ObserveStatus(ctx context.Context, t track.Track, st engine.Status) {
	if st.JustFinished {
		r.Finalize(ctx, t, st)
		return
	}
	if !st.Playing {
		return
	}

	r.mu.Lock()
	now := r.getNow()
	if last, ok := r.lastSaved[t.ID]; ok && now.Sub(last) < r.config.SaveInterval {
		r.mu.Unlock()
		return
	}
	saved := r.saveLocked(ctx, t.ID, st, now)
	r.mu.Unlock()

	if saved {
		r.push(t.ID, st, false)
	}
}

// Finalize judges a track that stopped being current: finished tracks
// have their record cleared and leave the queue after the settle
// delay, unfinished ones get a final position save.
func (r *Reconciler) Finalize(ctx context.Context, t track.Track, st engine.Status) {
	r.mu.Lock()

	now := r.getNow()
	if !r.finished(st) {
		saved := r.saveLocked(ctx, t.ID, st, now)
		r.mu.Unlock()
		if saved {
			r.push(t.ID, st, false)
		}
		return
	}

	r.pruneFinalizedLocked(now)
	if at, ok := r.finalized[t.ID]; ok && now.Sub(at) < finalizedTTL {
		r.mu.Unlock()
		zlog.Debug().Msgf("ignoring duplicate completion signal: id=%s", t.ID)
		return
	}
	r.finalized[t.ID] = now
	delete(r.lastSaved, t.ID)

	if err := r.store.Delete(ctx, keyPrefix+t.ID); err != nil {
		zlog.Warn().Err(err).Msgf("failed to clear progress record: id=%s", t.ID)
	}
	r.scheduleRemovalLocked(t.ID)
	r.mu.Unlock()

	zlog.Info().Msgf("track finished: id=%s title=%s position=%v duration=%v",
		t.ID, t.Title, st.Position, st.Duration)
	r.push(t.ID, st, true)
	if r.onFinished != nil {
		r.onFinished(t)
	}
}

// Flush persists the position immediately, ignoring the save interval.
// Used on pause, on explicit seeks and on shutdown.
func (r *Reconciler) Flush(ctx context.Context, t track.Track, st engine.Status) {
	r.mu.Lock()
	saved := r.saveLocked(ctx, t.ID, st, r.getNow())
	r.mu.Unlock()

	if saved {
		r.push(t.ID, st, false)
	}
}

// RestoreTarget returns the position a track should resume from.
// Records whose position already sits inside the finished window are
// stale completions and resume from the beginning.
func (r *Reconciler) RestoreTarget(ctx context.Context, trackID string) time.Duration {
	rec, ok, err := r.Get(ctx, trackID)
	if err != nil {
		zlog.Warn().Err(err).Msgf("failed to read progress record: id=%s", trackID)
		return 0
	}
	if !ok || rec.Position <= 0 {
		return 0
	}
	if rec.Duration >= r.config.MinValidDuration && rec.Duration-rec.Position <= r.config.FinishedWindow {
		return 0
	}
	return rec.Position
}

// Get reads the persisted record for a track.
func (r *Reconciler) Get(ctx context.Context, trackID string) (Record, bool, error) {
	data, ok, err := r.store.Get(ctx, keyPrefix+trackID)
	if err != nil {
		return Record{}, false, errors.Wrap(err, "failed to read progress record")
	}
	if !ok {
		return Record{}, false, nil
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		zlog.Warn().Err(err).Msgf("discarding corrupt progress record: id=%s", trackID)
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Delete clears the persisted record for a track.
func (r *Reconciler) Delete(ctx context.Context, trackID string) error {
	r.mu.Lock()
	delete(r.lastSaved, trackID)
	r.mu.Unlock()
	return errors.Wrap(r.store.Delete(ctx, keyPrefix+trackID), "failed to delete progress record")
}

// Close cancels pending deferred removals.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for id, timer := range r.removals {
		timer.Stop()
		delete(r.removals, id)
	}
}

// finished reports whether the snapshot counts as a completed listen.
// Tracks with no usable duration finish once the position passes the
// inferred floor.
func (r *Reconciler) finished(st engine.Status) bool {
	if st.JustFinished {
		return true
	}
	if st.Duration >= r.config.MinValidDuration {
		return st.Duration-st.Position <= r.config.FinishedWindow
	}
	return st.Position >= r.config.InferredFloor
}

// saveLocked persists a position and reports whether the write went
// through. Junk durations below the validity floor never persist, and
// a near-zero position never overwrites a saved one that is
// substantially further along.
func (r *Reconciler) saveLocked(ctx context.Context, trackID string, st engine.Status, now time.Time) bool {
	if st.Duration > 0 && st.Duration < r.config.MinValidDuration {
		zlog.Debug().Msgf("skipping save, duration below validity floor: id=%s duration=%v", trackID, st.Duration)
		return false
	}
	if st.Position < 0 {
		return false
	}

	if st.Position < r.config.NearZeroGuard {
		if rec, ok, err := r.Get(ctx, trackID); err == nil && ok &&
			rec.Position >= st.Position+r.config.ClobberMargin {
			zlog.Debug().Msgf("skipping save, near-zero position would clobber record: id=%s position=%v saved=%v",
				trackID, st.Position, rec.Position)
			return false
		}
	}

	data, err := json.Marshal(Record{Position: st.Position, Duration: st.Duration, UpdatedAt: now})
	if err != nil {
		zlog.Warn().Err(err).Msgf("failed to encode progress record: id=%s", trackID)
		return false
	}
	if err := r.store.Set(ctx, keyPrefix+trackID, data); err != nil {
		zlog.Warn().Err(err).Msgf("failed to persist progress record: id=%s", trackID)
		return false
	}

	r.lastSaved[trackID] = now
	zlog.Debug().Msgf("saved progress: id=%s position=%v duration=%v", trackID, st.Position, st.Duration)
	return true
}

// scheduleRemovalLocked arranges for the finished entry to leave the
// queue after the settle delay, letting the UI show it completed for
// a moment first.
func (r *Reconciler) scheduleRemovalLocked(trackID string) {
	if r.removeTrack == nil || r.closed {
		return
	}
	if _, ok := r.removals[trackID]; ok {
		return
	}

	r.removals[trackID] = time.AfterFunc(r.config.SettleDelay, func() {
		r.mu.Lock()
		delete(r.removals, trackID)
		closed := r.closed
		r.mu.Unlock()

		if closed {
			return
		}
		r.removeTrack(context.Background(), trackID)
	})
}

func (r *Reconciler) pruneFinalizedLocked(now time.Time) {
	for id, at := range r.finalized {
		if now.Sub(at) > finalizedTTL {
			delete(r.finalized, id)
		}
	}
}

func (r *Reconciler) push(trackID string, st engine.Status, finished bool) {
	if r.pushSync == nil {
		return
	}
	r.pushSync(trackID, st.Position, st.Duration, finished)
}
