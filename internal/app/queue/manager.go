// Package queue maintains the ordered play list and its current-index
// pointer, and persists a snapshot so a restart rehydrates the same
// queue.
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/podclub/replay/internal/domain/track"
	"github.com/podclub/replay/internal/infra/store"
)

const snapshotKey = "queue:snapshot"

// Manager owns the ordered track list. The current index is -1 when
// nothing is selected, otherwise always within [0, len). The entry at
// the current index is the one the playback controller has bound.
type Manager struct {
	mu      sync.RWMutex
	tracks  []track.QueuedTrack
	current int
	store   store.Store
}

// RemoveResult describes how a removal changed the queue.
type RemoveResult struct {
	Removed    bool
	WasCurrent bool
	// Next is the entry that should be loaded now, set only when the
	// removed entry was current and a neighbor remains.
	Next      *track.QueuedTrack
	NextIndex int
}

type snapshot struct {
	Tracks       []track.QueuedTrack `json:"tracks"`
	CurrentIndex int                 `json:"currentIndex"`
}

// NewManager creates an empty queue backed by the given store.
func NewManager(st store.Store) *Manager {
	return &Manager{
		tracks:  make([]track.QueuedTrack, 0),
		current: -1,
		store:   st,
	}
}

// Append adds a track to the tail. When nothing is selected the new
// entry becomes current; the returned flag tells the caller a load is
// required.
func (m *Manager) Append(ctx context.Context, t track.Track) (track.QueuedTrack, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := track.QueuedTrack{Track: t, AddedAt: time.Now()}
	m.tracks = append(m.tracks, entry)

	becameCurrent := false
	if m.current == -1 {
		m.current = len(m.tracks) - 1
		becameCurrent = true
	}

	zlog.Info().Msgf("queued track: id=%s title=%s position=%d current=%t",
		t.ID, t.Title, len(m.tracks)-1, becameCurrent)
	m.persistLocked(ctx)
	return entry, becameCurrent
}

// InsertFront inserts a track at the head. The current index shifts
// forward so it keeps pointing at the same entry; the caller makes the
// new head current via SetCurrent once the old binding is released.
func (m *Manager) InsertFront(ctx context.Context, t track.Track) track.QueuedTrack {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := track.QueuedTrack{Track: t, AddedAt: time.Now()}
	m.tracks = append([]track.QueuedTrack{entry}, m.tracks...)
	if m.current >= 0 {
		m.current++
	}

	zlog.Info().Msgf("inserted track at head: id=%s title=%s", t.ID, t.Title)
	m.persistLocked(ctx)
	return entry
}

// Remove splices the entry with the given ID out of the queue.
// Removing an absent ID is a no-op; a finished entry's deferred
// removal may race a user-initiated one.
func (m *Manager) Remove(ctx context.Context, trackID string) RemoveResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOfLocked(trackID)
	if idx == -1 {
		zlog.Debug().Msgf("remove skipped, track not queued: id=%s", trackID)
		return RemoveResult{}
	}

	m.tracks = append(m.tracks[:idx], m.tracks[idx+1:]...)
	result := RemoveResult{Removed: true}

	switch {
	case idx == m.current:
		result.WasCurrent = true
		switch {
		case len(m.tracks) == 0:
			m.current = -1
		case idx < len(m.tracks):
			// Successor takes over at the same index.
			m.current = idx
			next := m.tracks[idx]
			result.Next = &next
			result.NextIndex = idx
		default:
			// Removed the tail; fall back one position.
			m.current = len(m.tracks) - 1
			next := m.tracks[m.current]
			result.Next = &next
			result.NextIndex = m.current
		}
	case idx < m.current:
		m.current--
	}

	zlog.Info().Msgf("removed track: id=%s was_current=%t remaining=%d current_index=%d",
		trackID, result.WasCurrent, len(m.tracks), m.current)
	m.persistLocked(ctx)
	return result
}

// Clear empties the queue.
func (m *Manager) Clear(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tracks = make([]track.QueuedTrack, 0)
	m.current = -1

	zlog.Info().Msg("cleared queue")
	m.persistLocked(ctx)
}

// SetCurrent moves the current index. Index -1 deselects; anything
// else must be in bounds.
func (m *Manager) SetCurrent(ctx context.Context, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < -1 || index >= len(m.tracks) {
		return errors.Newf("index %d out of range (queue length %d)", index, len(m.tracks))
	}
	m.current = index
	m.persistLocked(ctx)
	return nil
}

// Advance moves the current index to the next entry. When no entry
// remains the index clears to -1 and ok is false.
func (m *Manager) Advance(ctx context.Context) (track.QueuedTrack, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == -1 {
		return track.QueuedTrack{}, false
	}
	if m.current+1 >= len(m.tracks) {
		m.current = -1
		m.persistLocked(ctx)
		return track.QueuedTrack{}, false
	}
	m.current++
	next := m.tracks[m.current]
	m.persistLocked(ctx)
	return next, true
}

// Tracks returns a copy of the queued entries.
func (m *Manager) Tracks() []track.QueuedTrack {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]track.QueuedTrack, len(m.tracks))
	copy(out, m.tracks)
	return out
}

// Current returns the entry at the current index.
func (m *Manager) Current() (track.QueuedTrack, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == -1 {
		return track.QueuedTrack{}, false
	}
	return m.tracks[m.current], true
}

// At returns the entry at the given index.
func (m *Manager) At(index int) (track.QueuedTrack, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if index < 0 || index >= len(m.tracks) {
		return track.QueuedTrack{}, false
	}
	return m.tracks[index], true
}

// CurrentIndex returns the current index, -1 when nothing is selected.
func (m *Manager) CurrentIndex() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Len returns the number of queued entries.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tracks)
}

// Restore rehydrates the queue from the stored snapshot. A missing
// snapshot leaves the queue empty; a corrupt one is discarded.
func (m *Manager) Restore(ctx context.Context) error {
	data, ok, err := m.store.Get(ctx, snapshotKey)
	if err != nil {
		return errors.Wrap(err, "failed to read queue snapshot")
	}
	if !ok {
		return nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		zlog.Warn().Err(err).Msg("discarding corrupt queue snapshot")
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.tracks = snap.Tracks
	if m.tracks == nil {
		m.tracks = make([]track.QueuedTrack, 0)
	}
	m.current = snap.CurrentIndex
	if m.current < -1 || m.current >= len(m.tracks) {
		zlog.Warn().Msgf("snapshot index out of range, clearing selection: index=%d length=%d",
			snap.CurrentIndex, len(m.tracks))
		m.current = -1
	}

	zlog.Info().Msgf("restored queue: tracks=%d current_index=%d", len(m.tracks), m.current)
	return nil
}

// persistLocked writes the snapshot. Failures are logged and swallowed;
// the next mutation retries.
func (m *Manager) persistLocked(ctx context.Context) {
	data, err := json.Marshal(snapshot{Tracks: m.tracks, CurrentIndex: m.current})
	if err != nil {
		zlog.Warn().Err(err).Msg("failed to encode queue snapshot")
		return
	}
	if err := m.store.Set(ctx, snapshotKey, data); err != nil {
		zlog.Warn().Err(err).Msg("failed to persist queue snapshot")
	}
}

func (m *Manager) indexOfLocked(trackID string) int {
	for i, entry := range m.tracks {
		if entry.Track.ID == trackID {
			return i
		}
	}
	return -1
}
