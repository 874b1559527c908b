package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podclub/replay/internal/domain/track"
	"github.com/podclub/replay/internal/infra/engine"
	"github.com/podclub/replay/internal/infra/store"
)

type syncCall struct {
	trackID  string
	position time.Duration
	duration time.Duration
	finished bool
}

type reconcilerHarness struct {
	mu sync.Mutex

	reconciler *Reconciler
	store      store.Store
	now        time.Time

	removeCalls []string
	finishCalls []string
	syncCalls   []syncCall
}

func testConfig() Config {
	return Config{
		SaveInterval:     10 * time.Second,
		FinishedWindow:   15 * time.Second,
		MinValidDuration: 60 * time.Second,
		InferredFloor:    600 * time.Second,
		SettleDelay:      20 * time.Millisecond,
		NearZeroGuard:    5 * time.Second,
		ClobberMargin:    30 * time.Second,
	}
}

func newReconcilerHarness(t *testing.T, config Config) *reconcilerHarness {
	t.Helper()

	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })

	h := &reconcilerHarness{store: st, now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	h.reconciler = NewReconciler(
		st,
		config,
		func(_ context.Context, trackID string) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.removeCalls = append(h.removeCalls, trackID)
		},
		func(trackID string, position, duration time.Duration, finished bool) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.syncCalls = append(h.syncCalls, syncCall{trackID, position, duration, finished})
		},
		func(trk track.Track) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.finishCalls = append(h.finishCalls, trk.ID)
		},
		func() time.Time { return h.now },
	)
	t.Cleanup(h.reconciler.Close)
	return h
}

func (h *reconcilerHarness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

func (h *reconcilerHarness) finishedIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.finishCalls))
	copy(out, h.finishCalls)
	return out
}

func (h *reconcilerHarness) removedIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.removeCalls))
	copy(out, h.removeCalls)
	return out
}

func (h *reconcilerHarness) syncedCalls() []syncCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]syncCall, len(h.syncCalls))
	copy(out, h.syncCalls)
	return out
}

func progressTrack(id string) track.Track {
	return track.Track{ID: id, StreamURL: "https://cdn.example.com/" + id + ".mp3", Title: "Episode " + id}
}

func TestReconciler_FinalizeJudgment(t *testing.T) {
	tests := []struct {
		name         string
		status       engine.Status
		wantFinished bool
	}{
		{
			name:         "inside the finished window",
			status:       engine.Status{Position: 288 * time.Second, Duration: 300 * time.Second},
			wantFinished: true,
		},
		{
			name:         "outside the finished window",
			status:       engine.Status{Position: 280 * time.Second, Duration: 300 * time.Second},
			wantFinished: false,
		},
		{
			name:         "no duration past the inferred floor",
			status:       engine.Status{Position: 600 * time.Second},
			wantFinished: true,
		},
		{
			name:         "no duration below the inferred floor",
			status:       engine.Status{Position: 59 * time.Second},
			wantFinished: false,
		},
		{
			name:         "engine reported the finish directly",
			status:       engine.Status{Position: 100 * time.Second, Duration: time.Hour, JustFinished: true},
			wantFinished: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newReconcilerHarness(t, testConfig())
			ctx := context.Background()

			h.reconciler.Finalize(ctx, progressTrack("t"), tt.status)

			_, hasRecord, err := h.reconciler.Get(ctx, "t")
			require.NoError(t, err)
			calls := h.syncedCalls()
			require.Len(t, calls, 1)

			if tt.wantFinished {
				assert.Equal(t, []string{"t"}, h.finishedIDs())
				assert.False(t, hasRecord, "record must be cleared for a finished track")
				assert.True(t, calls[0].finished)
				require.Eventually(t, func() bool {
					return len(h.removedIDs()) == 1
				}, time.Second, 5*time.Millisecond)
			} else {
				assert.Empty(t, h.finishedIDs())
				assert.True(t, hasRecord, "an unfinished track keeps its final position")
				assert.False(t, calls[0].finished)
				assert.Empty(t, h.removedIDs())
			}
		})
	}
}

func TestReconciler_DuplicateCompletionSignalsAreIdempotent(t *testing.T) {
	h := newReconcilerHarness(t, testConfig())
	ctx := context.Background()

	trk := progressTrack("t")
	final := engine.Status{Position: 300 * time.Second, Duration: 300 * time.Second, JustFinished: true}

	// The same completion arrives as a final status, a track change
	// and a queue end.
	h.reconciler.ObserveStatus(ctx, trk, final)
	h.reconciler.Finalize(ctx, trk, final)
	h.reconciler.Finalize(ctx, trk, engine.Status{Position: 300 * time.Second, Duration: 300 * time.Second})

	assert.Equal(t, []string{"t"}, h.finishedIDs())

	calls := h.syncedCalls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].finished)

	require.Eventually(t, func() bool {
		return len(h.removedIDs()) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, h.removedIDs(), 1)
}

func TestReconciler_ReplayAfterTTLFinalizesAgain(t *testing.T) {
	h := newReconcilerHarness(t, testConfig())
	ctx := context.Background()

	trk := progressTrack("t")
	final := engine.Status{Position: 300 * time.Second, Duration: 300 * time.Second, JustFinished: true}

	h.reconciler.Finalize(ctx, trk, final)
	h.advance(finalizedTTL + time.Second)
	h.reconciler.Finalize(ctx, trk, final)

	assert.Equal(t, []string{"t", "t"}, h.finishedIDs())
}

func TestReconciler_PeriodicSaveHonorsInterval(t *testing.T) {
	h := newReconcilerHarness(t, testConfig())
	ctx := context.Background()

	trk := progressTrack("t")
	playing := func(pos time.Duration) engine.Status {
		return engine.Status{Loaded: true, Playing: true, Position: pos, Duration: time.Hour}
	}

	h.reconciler.ObserveStatus(ctx, trk, playing(100*time.Second))
	rec, ok, err := h.reconciler.Get(ctx, "t")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 100*time.Second, rec.Position)

	// Too soon: the tick is ignored.
	h.advance(3 * time.Second)
	h.reconciler.ObserveStatus(ctx, trk, playing(103*time.Second))
	rec, _, err = h.reconciler.Get(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, 100*time.Second, rec.Position)

	// Past the interval: persisted again.
	h.advance(8 * time.Second)
	h.reconciler.ObserveStatus(ctx, trk, playing(111*time.Second))
	rec, _, err = h.reconciler.Get(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, 111*time.Second, rec.Position)

	// Each accepted save is written through to the sync hook.
	calls := h.syncedCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, 100*time.Second, calls[0].position)
	assert.Equal(t, 111*time.Second, calls[1].position)
	assert.False(t, calls[0].finished)
	assert.False(t, calls[1].finished)
}

func TestReconciler_PausedTicksAreNotSaved(t *testing.T) {
	h := newReconcilerHarness(t, testConfig())
	ctx := context.Background()

	h.reconciler.ObserveStatus(ctx, progressTrack("t"),
		engine.Status{Loaded: true, Playing: false, Position: 100 * time.Second, Duration: time.Hour})

	_, ok, err := h.reconciler.Get(ctx, "t")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReconciler_ImplausibleDurationNeverPersists(t *testing.T) {
	h := newReconcilerHarness(t, testConfig())
	ctx := context.Background()

	trk := progressTrack("t")
	negotiating := engine.Status{Loaded: true, Playing: true, Position: 3 * time.Second, Duration: 5 * time.Second}

	h.reconciler.ObserveStatus(ctx, trk, negotiating)
	h.reconciler.Flush(ctx, trk, negotiating)
	h.reconciler.Finalize(ctx, trk, negotiating)

	_, ok, err := h.reconciler.Get(ctx, "t")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, h.finishedIDs())
	assert.Empty(t, h.syncedCalls(), "a rejected save must not reach the sync hook")
}

func TestReconciler_NearZeroGuardProtectsSavedPosition(t *testing.T) {
	h := newReconcilerHarness(t, testConfig())
	ctx := context.Background()

	trk := progressTrack("t")
	h.reconciler.Flush(ctx, trk, engine.Status{Position: 10 * time.Minute, Duration: time.Hour})

	// A near-zero tick right after a reload must not clobber it.
	h.advance(time.Minute)
	h.reconciler.Flush(ctx, trk, engine.Status{Position: 2 * time.Second, Duration: time.Hour})
	rec, _, err := h.reconciler.Get(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, rec.Position)

	// Past the guard the position saves normally, even backwards.
	h.reconciler.Flush(ctx, trk, engine.Status{Position: 8 * time.Second, Duration: time.Hour})
	rec, _, err = h.reconciler.Get(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, 8*time.Second, rec.Position)

	// Only the two accepted flushes were written through.
	assert.Len(t, h.syncedCalls(), 2)
}

func TestReconciler_RestoreTarget(t *testing.T) {
	tests := []struct {
		name   string
		record *Record
		want   time.Duration
	}{
		{
			name: "no record starts from the beginning",
			want: 0,
		},
		{
			name:   "mid-track position restores",
			record: &Record{Position: 100 * time.Second, Duration: time.Hour},
			want:   100 * time.Second,
		},
		{
			name:   "stale completion restores from the beginning",
			record: &Record{Position: 3590 * time.Second, Duration: 3600 * time.Second},
			want:   0,
		},
		{
			name:   "unknown duration restores the raw position",
			record: &Record{Position: 50 * time.Second},
			want:   50 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newReconcilerHarness(t, testConfig())
			ctx := context.Background()

			if tt.record != nil {
				h.reconciler.Flush(ctx, progressTrack("t"),
					engine.Status{Position: tt.record.Position, Duration: tt.record.Duration})
			}

			assert.Equal(t, tt.want, h.reconciler.RestoreTarget(ctx, "t"))
		})
	}
}

func TestReconciler_ResumeRoundTrip(t *testing.T) {
	h := newReconcilerHarness(t, testConfig())
	ctx := context.Background()

	trk := progressTrack("t")
	h.reconciler.Flush(ctx, trk, engine.Status{Position: 17 * time.Minute, Duration: time.Hour})

	assert.Equal(t, 17*time.Minute, h.reconciler.RestoreTarget(ctx, "t"))

	require.NoError(t, h.reconciler.Delete(ctx, "t"))
	assert.Equal(t, time.Duration(0), h.reconciler.RestoreTarget(ctx, "t"))
}

func TestReconciler_FinishClearsRecordBeforeRemoval(t *testing.T) {
	h := newReconcilerHarness(t, testConfig())
	ctx := context.Background()

	trk := progressTrack("t")
	h.reconciler.Flush(ctx, trk, engine.Status{Position: 280 * time.Second, Duration: 300 * time.Second})

	h.reconciler.Finalize(ctx, trk, engine.Status{Position: 300 * time.Second, Duration: 300 * time.Second, JustFinished: true})

	// The record is cleared immediately; the queue removal waits for
	// the settle delay.
	_, ok, err := h.reconciler.Get(ctx, "t")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, h.removedIDs())

	require.Eventually(t, func() bool {
		return len(h.removedIDs()) == 1
	}, time.Second, 5*time.Millisecond)
}
