// Package session wires the queue, playback controller, progress
// reconciler and notification fan-out into one playback session.
package session

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/podclub/replay/internal/app/notification"
	"github.com/podclub/replay/internal/app/playback"
	"github.com/podclub/replay/internal/app/progress"
	"github.com/podclub/replay/internal/app/queue"
	"github.com/podclub/replay/internal/domain/track"
	"github.com/podclub/replay/internal/infra/clubapi"
	"github.com/podclub/replay/internal/infra/config"
	"github.com/podclub/replay/internal/infra/engine"
	"github.com/podclub/replay/internal/infra/report"
	"github.com/podclub/replay/internal/infra/store"
)

// Manager owns one playback session: a single queue, a single engine
// binding, and the reconciler that keeps listening progress durable.
type Manager struct {
	config *config.Config

	store        store.Store
	queue        *queue.Manager
	playback     *playback.Controller
	progress     *progress.Reconciler
	notification *notification.Manager

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// NewManager creates a session manager. syncWorker may be nil when
// remote progress sync is disabled.
func NewManager(
	cfg *config.Config,
	st store.Store,
	eng engine.Engine,
	sink report.Sink,
	syncWorker *clubapi.Worker,
) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		config:       cfg,
		store:        st,
		queue:        queue.NewManager(st),
		notification: notification.NewManager(),
		ctx:          ctx,
		cancel:       cancel,
	}

	var pushSync progress.SyncFunc
	if syncWorker != nil {
		pushSync = func(trackID string, position, duration time.Duration, finished bool) {
			syncWorker.Push(clubapi.ProgressUpdate{
				EpisodeID: trackID,
				Position:  position.Seconds(),
				Duration:  duration.Seconds(),
				Finished:  finished,
			})
		}
	}

	m.progress = progress.NewReconciler(
		st,
		progress.Config{
			SaveInterval:     cfg.Playback.SaveInterval(),
			FinishedWindow:   cfg.Playback.FinishedWindow(),
			MinValidDuration: cfg.Playback.MinValidDuration(),
			InferredFloor:    cfg.Playback.InferredFloor(),
			SettleDelay:      cfg.Playback.SettleDelay(),
			NearZeroGuard:    cfg.Playback.NearZeroGuard(),
			ClobberMargin:    cfg.Playback.ClobberMargin(),
		},
		m.removeFinishedTrack,
		pushSync,
		m.onTrackFinished,
		nil,
	)

	m.playback = playback.NewController(
		m.queue,
		eng,
		sink,
		m.progress.RestoreTarget,
		playback.Config{
			RestoreDelay: cfg.Playback.RestoreDelay(),
			SkipForward:  cfg.Playback.SkipForward(),
			SkipBackward: cfg.Playback.SkipBackward(),
		},
	)

	return m
}

// Start rehydrates the queue from the store, binds the current track
// paused at its saved position, and starts the event loop.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.queue.Restore(ctx); err != nil {
		zlog.Warn().Err(err).Msg("starting with an empty queue")
	}

	if index := m.queue.CurrentIndex(); index >= 0 {
		if err := m.playback.Load(ctx, index, false); err != nil {
			zlog.Warn().Err(err).Msg("failed to rebind restored track")
		}
	}

	go m.eventLoop()

	zlog.Info().Msgf("session started: queued=%d state=%s", m.queue.Len(), m.playback.State())
	return nil
}

// Close flushes the current position, releases the engine and shuts
// down the event loop. Safe to call more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.cancel()

		m.flushProgress(context.Background())
		m.progress.Close()
		m.playback.Close()
		m.notification.Close()
		zlog.Info().Msg("session closed")
	})
}

// Append adds a track to the tail of the queue; the first track on an
// empty queue starts playing.
func (m *Manager) Append(ctx context.Context, t track.Track) (track.QueuedTrack, error) {
	entry, err := m.playback.Append(ctx, t)
	m.broadcastQueueUpdated()
	return entry, err
}

// PlayNow plays a track immediately, keeping the rest of the queue.
// startAt < 0 resumes from the saved position.
func (m *Manager) PlayNow(ctx context.Context, t track.Track, startAt time.Duration) (track.QueuedTrack, error) {
	entry, err := m.playback.PlayNow(ctx, t, startAt)
	m.broadcastQueueUpdated()
	return entry, err
}

// Remove takes a track out of the queue.
func (m *Manager) Remove(ctx context.Context, trackID string) (bool, error) {
	removed, err := m.playback.Remove(ctx, trackID)
	if removed {
		m.broadcastQueueUpdated()
	}
	return removed, err
}

// Clear empties the queue and stops playback.
func (m *Manager) Clear(ctx context.Context) {
	m.playback.Clear(ctx)
	m.broadcastQueueUpdated()
}

// Next skips to the following queue entry.
func (m *Manager) Next(ctx context.Context) error {
	return m.playback.Next(ctx)
}

// Play starts or resumes playback.
func (m *Manager) Play(ctx context.Context) error {
	return m.playback.Play(ctx)
}

// Pause pauses playback.
func (m *Manager) Pause(ctx context.Context) error {
	return m.playback.Pause(ctx)
}

// SeekTo seeks to an absolute position in the current track. Explicit
// seeks write the new position through to the store right away.
func (m *Manager) SeekTo(ctx context.Context, pos time.Duration) error {
	if err := m.playback.SeekTo(ctx, pos); err != nil {
		return err
	}
	m.flushProgress(ctx)
	return nil
}

// SkipForward seeks forward by the configured distance.
func (m *Manager) SkipForward(ctx context.Context) error {
	if err := m.playback.SkipForward(ctx); err != nil {
		return err
	}
	m.flushProgress(ctx)
	return nil
}

// SkipBackward seeks backward by the configured distance.
func (m *Manager) SkipBackward(ctx context.Context) error {
	if err := m.playback.SkipBackward(ctx); err != nil {
		return err
	}
	m.flushProgress(ctx)
	return nil
}

// SetRate sets the playback rate.
func (m *Manager) SetRate(ctx context.Context, rate float64) error {
	return m.playback.SetRate(ctx, rate)
}

// SetVolume sets the playback volume.
func (m *Manager) SetVolume(ctx context.Context, volume float64) error {
	return m.playback.SetVolume(ctx, volume)
}

// SeekToChapter jumps to the start of a chapter of the current track.
func (m *Manager) SeekToChapter(ctx context.Context, index int) error {
	if err := m.playback.SeekToChapter(ctx, index); err != nil {
		return err
	}
	m.flushProgress(ctx)
	return nil
}

// Queue returns the queued entries in order.
func (m *Manager) Queue() []track.QueuedTrack {
	return m.queue.Tracks()
}

// CurrentIndex returns the queue index of the current track, -1 when
// nothing is selected.
func (m *Manager) CurrentIndex() int {
	return m.queue.CurrentIndex()
}

// Current returns the currently selected track.
func (m *Manager) Current() (track.QueuedTrack, bool) {
	return m.playback.Current()
}

// Chapters returns the current track's chapters and the index of the
// one under the playhead, -1 when outside every chapter.
func (m *Manager) Chapters(ctx context.Context) ([]track.Chapter, int, error) {
	current, ok := m.playback.Current()
	if !ok {
		return nil, -1, playback.ErrNoTrack
	}

	st, err := m.playback.Status(ctx)
	if err != nil {
		return current.Track.Chapters, -1, nil
	}
	return current.Track.Chapters, current.Track.ChapterAt(st.Position), nil
}

// Progress reads the persisted listening position for a track.
func (m *Manager) Progress(ctx context.Context, trackID string) (progress.Record, bool, error) {
	return m.progress.Get(ctx, trackID)
}

// DeleteProgress clears the persisted listening position for a track.
func (m *Manager) DeleteProgress(ctx context.Context, trackID string) error {
	return m.progress.Delete(ctx, trackID)
}

// Status represents the current session status.
type Status struct {
	State        playback.State
	Track        *track.QueuedTrack
	Engine       engine.Status
	QueueLength  int
	CurrentIndex int
}

// GetStatus returns the current session status. The engine portion is
// re-queried, not served from a cache.
func (m *Manager) GetStatus(ctx context.Context) *Status {
	s := &Status{
		State:        m.playback.State(),
		QueueLength:  m.queue.Len(),
		CurrentIndex: m.queue.CurrentIndex(),
	}
	if current, ok := m.playback.Current(); ok {
		s.Track = &current
		if st, err := m.playback.Status(ctx); err == nil {
			s.Engine = st
		}
	}
	return s
}

// GetNotificationManager returns the notification manager.
func (m *Manager) GetNotificationManager() *notification.Manager {
	return m.notification
}

// eventLoop consumes playback events and feeds the reconciler and the
// notification fan-out.
func (m *Manager) eventLoop() {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("event loop panicked: %v", r)
			zlog.Info().Msg("restarting event loop")
			go m.eventLoop()
		}
	}()

	for {
		select {
		case <-m.ctx.Done():
			return
		case event, ok := <-m.playback.Events():
			if !ok {
				return
			}
			m.handlePlaybackEvent(event)
		}
	}
}

// handlePlaybackEvent handles playback events.
func (m *Manager) handlePlaybackEvent(event playback.Event) {
	if event.Type != playback.EventStatusUpdate {
		zlog.Info().Msgf("playback event: type=%s state=%s", event.Type, event.State)
	}

	ctx := context.Background()
	switch event.Type {
	case playback.EventStatusUpdate:
		if event.Track != nil {
			m.progress.ObserveStatus(ctx, event.Track.Track, event.Status)
		}

	case playback.EventTrackChanged:
		if event.Previous != nil {
			m.progress.Finalize(ctx, event.Previous.Track, event.Status)
		}

	case playback.EventQueueEnded:
		if event.Track != nil {
			m.progress.Finalize(ctx, event.Track.Track, event.Status)
		}

	case playback.EventStateChanged:
		if event.State == playback.StatePaused {
			m.flushProgress(ctx)
		}
	}

	m.notification.Broadcast(notificationFrom(event))
}

// flushProgress writes the current position through to the store
// immediately, bypassing the periodic save interval.
func (m *Manager) flushProgress(ctx context.Context) {
	current, ok := m.playback.Current()
	if !ok {
		return
	}
	if st, err := m.playback.Status(ctx); err == nil {
		m.progress.Flush(ctx, current.Track, st)
	}
}

// removeFinishedTrack is handed to the reconciler for the deferred
// removal of finished entries.
func (m *Manager) removeFinishedTrack(ctx context.Context, trackID string) {
	removed, err := m.playback.Remove(ctx, trackID)
	if err != nil {
		zlog.Warn().Err(err).Msgf("failed to remove finished track: id=%s", trackID)
		return
	}
	if removed {
		zlog.Info().Msgf("removed finished track from queue: id=%s", trackID)
		m.broadcastQueueUpdated()
	}
}

// onTrackFinished announces a completed listen to subscribers.
func (m *Manager) onTrackFinished(t track.Track) {
	m.notification.Broadcast(notification.Notification{
		Type:  notification.TypeTrackFinished,
		State: m.playback.State().String(),
		Track: &notification.TrackRef{ID: t.ID, Title: t.Title, Show: t.Show},
	})
}

func (m *Manager) broadcastQueueUpdated() {
	m.notification.Broadcast(notification.Notification{
		Type:  notification.TypeQueueUpdated,
		State: m.playback.State().String(),
	})
}

func notificationFrom(event playback.Event) notification.Notification {
	n := notification.Notification{
		State:       event.State.String(),
		PositionSec: event.Status.Position.Seconds(),
		DurationSec: event.Status.Duration.Seconds(),
	}

	switch event.Type {
	case playback.EventTrackChanged:
		n.Type = notification.TypeTrackChanged
	case playback.EventStatusUpdate:
		n.Type = notification.TypeStatusUpdate
	case playback.EventQueueEnded:
		n.Type = notification.TypeQueueEnded
	case playback.EventStateChanged:
		n.Type = notification.TypeStateChanged
	}

	if event.Track != nil {
		n.Track = &notification.TrackRef{
			ID:    event.Track.Track.ID,
			Title: event.Track.Track.Title,
			Show:  event.Track.Track.Show,
		}
	}
	if event.Previous != nil {
		n.Previous = &notification.TrackRef{
			ID:    event.Previous.Track.ID,
			Title: event.Previous.Track.Title,
			Show:  event.Previous.Track.Show,
		}
	}
	return n
}
