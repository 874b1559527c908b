package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podclub/replay/internal/app/notification"
	"github.com/podclub/replay/internal/app/playback"
	"github.com/podclub/replay/internal/app/progress"
	"github.com/podclub/replay/internal/domain/track"
	"github.com/podclub/replay/internal/infra/config"
	"github.com/podclub/replay/internal/infra/engine"
	"github.com/podclub/replay/internal/infra/report"
	"github.com/podclub/replay/internal/infra/store"
)

func testSessionConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	require.NoError(t, defaults.Set(cfg))
	cfg.Engine.Settings = map[string]any{"tick_ms": 20}
	cfg.Playback.SettleDelayMs = 30
	cfg.Playback.RestoreDelayMs = 10
	return cfg
}

func startSession(t *testing.T, cfg *config.Config, st store.Store) *Manager {
	t.Helper()
	eng, err := engine.New(cfg.Engine)
	require.NoError(t, err)

	m := NewManager(cfg, st, eng, report.NewLogSink(), nil)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Close)
	return m
}

func sessionTrack(id string, duration time.Duration) track.Track {
	return track.Track{
		ID:        id,
		StreamURL: "https://cdn.example.org/" + id + ".mp3",
		Title:     "Episode " + id,
		Show:      "Replay Radio",
		Duration:  duration,
	}
}

func awaitNotification(t *testing.T, ch <-chan notification.Notification, typ string) notification.Notification {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case n, ok := <-ch:
			require.True(t, ok, "channel closed while waiting for %s", typ)
			if n.Type == typ {
				return n
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s notification", typ)
		}
	}
}

func queueIDs(m *Manager) []string {
	entries := m.Queue()
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.Track.ID)
	}
	return ids
}

func TestManager_AppendStartsPlaybackAndNotifies(t *testing.T) {
	ctx := context.Background()
	m := startSession(t, testSessionConfig(t), store.NewMemory())

	subID, ch := m.GetNotificationManager().Subscribe(64)
	defer m.GetNotificationManager().Unsubscribe(subID)

	_, err := m.Append(ctx, sessionTrack("a", time.Hour))
	require.NoError(t, err)

	n := awaitNotification(t, ch, notification.TypeTrackChanged)
	require.NotNil(t, n.Track)
	assert.Equal(t, "a", n.Track.ID)
	assert.Equal(t, "Episode a", n.Track.Title)

	status := m.GetStatus(ctx)
	assert.Equal(t, playback.StatePlaying, status.State)
	assert.Equal(t, 1, status.QueueLength)
	assert.Equal(t, 0, status.CurrentIndex)
	require.NotNil(t, status.Track)
	assert.Equal(t, "a", status.Track.Track.ID)
}

func TestManager_NaturalFinishAdvancesAndCleansUp(t *testing.T) {
	ctx := context.Background()
	m := startSession(t, testSessionConfig(t), store.NewMemory())

	subID, ch := m.GetNotificationManager().Subscribe(64)
	defer m.GetNotificationManager().Unsubscribe(subID)

	_, err := m.Append(ctx, sessionTrack("a", 120*time.Millisecond))
	require.NoError(t, err)
	_, err = m.Append(ctx, sessionTrack("b", time.Hour))
	require.NoError(t, err)

	finished := awaitNotification(t, ch, notification.TypeTrackFinished)
	require.NotNil(t, finished.Track)
	assert.Equal(t, "a", finished.Track.ID)

	// The finished entry leaves the queue once the transition settles.
	require.Eventually(t, func() bool {
		ids := queueIDs(m)
		return len(ids) == 1 && ids[0] == "b"
	}, 2*time.Second, 10*time.Millisecond)

	status := m.GetStatus(ctx)
	assert.Equal(t, playback.StatePlaying, status.State)
	require.NotNil(t, status.Track)
	assert.Equal(t, "b", status.Track.Track.ID)

	_, ok, err := m.Progress(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok, "finished track should not keep a progress record")
}

func TestManager_PauseFlushesProgress(t *testing.T) {
	ctx := context.Background()
	m := startSession(t, testSessionConfig(t), store.NewMemory())

	_, err := m.Append(ctx, sessionTrack("a", time.Hour))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.GetStatus(ctx).Engine.Position > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Pause(ctx))

	require.Eventually(t, func() bool {
		rec, ok, err := m.Progress(ctx, "a")
		return err == nil && ok && rec.Position > 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, playback.StatePaused, m.GetStatus(ctx).State)

	require.NoError(t, m.DeleteProgress(ctx, "a"))
	_, ok, err := m.Progress(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_SeekWritesProgressThrough(t *testing.T) {
	ctx := context.Background()
	m := startSession(t, testSessionConfig(t), store.NewMemory())

	_, err := m.Append(ctx, sessionTrack("a", time.Hour))
	require.NoError(t, err)

	require.NoError(t, m.SeekTo(ctx, 5*time.Minute))

	rec, ok, err := m.Progress(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok, "explicit seek should persist immediately")
	assert.GreaterOrEqual(t, rec.Position, 5*time.Minute)
}

func TestManager_ResumeFromSavedPosition(t *testing.T) {
	ctx := context.Background()
	cfg := testSessionConfig(t)
	st := store.NewMemory()

	rec := progress.Record{Position: 42 * time.Second, Duration: time.Hour, UpdatedAt: time.Now()}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, st.Set(ctx, "progress:a", data))

	m := startSession(t, cfg, st)
	_, err = m.Append(ctx, sessionTrack("a", time.Hour))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.GetStatus(ctx).Engine.Position >= 42*time.Second
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_RehydratesPausedAtSavedPosition(t *testing.T) {
	ctx := context.Background()
	cfg := testSessionConfig(t)
	st := store.NewMemory()

	first := startSession(t, cfg, st)
	_, err := first.Append(ctx, sessionTrack("a", time.Hour))
	require.NoError(t, err)
	_, err = first.Append(ctx, sessionTrack("b", 2*time.Hour))
	require.NoError(t, err)
	require.NoError(t, first.SeekTo(ctx, 17*time.Minute))
	first.Close()

	second := startSession(t, cfg, st)

	assert.Equal(t, []string{"a", "b"}, queueIDs(second))
	status := second.GetStatus(ctx)
	assert.Equal(t, playback.StateLoaded, status.State)
	require.NotNil(t, status.Track)
	assert.Equal(t, "a", status.Track.Track.ID)

	require.Eventually(t, func() bool {
		return second.GetStatus(ctx).Engine.Position >= 17*time.Minute
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, second.GetStatus(ctx).Engine.Playing)
}

func TestManager_PlayNowReordersQueue(t *testing.T) {
	ctx := context.Background()
	m := startSession(t, testSessionConfig(t), store.NewMemory())

	_, err := m.Append(ctx, sessionTrack("a", time.Hour))
	require.NoError(t, err)
	_, err = m.Append(ctx, sessionTrack("b", time.Hour))
	require.NoError(t, err)

	_, err = m.PlayNow(ctx, sessionTrack("c", time.Hour), 30*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "a", "b"}, queueIDs(m))

	status := m.GetStatus(ctx)
	assert.Equal(t, playback.StatePlaying, status.State)
	assert.Equal(t, 0, status.CurrentIndex)
	require.NotNil(t, status.Track)
	assert.Equal(t, "c", status.Track.Track.ID)

	require.Eventually(t, func() bool {
		return m.GetStatus(ctx).Engine.Position >= 30*time.Minute
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_ChapterNavigation(t *testing.T) {
	ctx := context.Background()
	m := startSession(t, testSessionConfig(t), store.NewMemory())

	trk := sessionTrack("a", time.Hour)
	trk.Chapters = []track.Chapter{
		{Title: "Intro", Start: 0, End: 10 * time.Minute},
		{Title: "Interview", Start: 10 * time.Minute, End: 45 * time.Minute},
		{Title: "Outro", Start: 45 * time.Minute},
	}
	_, err := m.Append(ctx, trk)
	require.NoError(t, err)

	require.NoError(t, m.SeekToChapter(ctx, 1))

	chapters, active, err := m.Chapters(ctx)
	require.NoError(t, err)
	assert.Len(t, chapters, 3)
	assert.Equal(t, 1, active)

	assert.Error(t, m.SeekToChapter(ctx, 3))
}

func TestManager_ClearEmptiesEverything(t *testing.T) {
	ctx := context.Background()
	m := startSession(t, testSessionConfig(t), store.NewMemory())

	_, err := m.Append(ctx, sessionTrack("a", time.Hour))
	require.NoError(t, err)

	m.Clear(ctx)

	status := m.GetStatus(ctx)
	assert.Equal(t, playback.StateEmpty, status.State)
	assert.Equal(t, 0, status.QueueLength)
	assert.Equal(t, -1, status.CurrentIndex)
	assert.Nil(t, status.Track)
}

func TestManager_NoTrackErrors(t *testing.T) {
	ctx := context.Background()
	m := startSession(t, testSessionConfig(t), store.NewMemory())

	assert.ErrorIs(t, m.Play(ctx), playback.ErrNoTrack)
	assert.ErrorIs(t, m.Next(ctx), playback.ErrNoTrack)

	_, _, err := m.Chapters(ctx)
	assert.ErrorIs(t, err, playback.ErrNoTrack)
}
