// Package notification provides the notification manager for
// broadcasting playback changes to subscribers.
package notification

import (
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// Notification types.
const (
	TypeTrackChanged  = "track_changed"
	TypeStatusUpdate  = "status_update"
	TypeQueueEnded    = "queue_ended"
	TypeStateChanged  = "state_changed"
	TypeTrackFinished = "track_finished"
	TypeQueueUpdated  = "queue_updated"
)

// DefaultBuffer is the subscription channel buffer used when the
// subscriber does not ask for a specific size.
const DefaultBuffer = 16

// TrackRef identifies a track inside a notification.
type TrackRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Show  string `json:"show"`
}

// Notification is a broadcast payload describing a playback change.
// Position and duration are in seconds.
type Notification struct {
	SequenceNo  uint64    `json:"sequenceNo"`
	Type        string    `json:"type"`
	State       string    `json:"state"`
	Track       *TrackRef `json:"track,omitempty"`
	Previous    *TrackRef `json:"previous,omitempty"`
	PositionSec float64   `json:"position,omitempty"`
	DurationSec float64   `json:"duration,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id string
	ch chan Notification
}

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	closed        bool
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe adds a new subscription and returns its ID along with the
// channel notifications arrive on. The channel is closed when the
// subscription is removed or the manager shuts down.
func (m *Manager) Subscribe(buffer int) (string, <-chan Notification) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	ch := make(chan Notification, buffer)
	if m.closed {
		close(ch)
		return id, ch
	}

	m.subscriptions[id] = &subscription{id: id, ch: ch}
	return id, ch
}

// Unsubscribe removes a subscription and closes its channel.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subscriptions[subscriptionID]
	if !ok {
		return
	}
	delete(m.subscriptions, subscriptionID)
	close(sub.ch)
}

// Broadcast stamps the notification with the next sequence number and
// sends it to every subscriber. Sends never block; a subscriber that
// cannot keep up loses the notification.
func (m *Manager) Broadcast(n Notification) {
	m.sequenceNoMu.Lock()
	m.sequenceNo++
	n.SequenceNo = m.sequenceNo
	m.sequenceNoMu.Unlock()

	if n.OccurredAt.IsZero() {
		n.OccurredAt = time.Now()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subscriptions {
		select {
		case sub.ch <- n:
		default:
			zlog.Debug().Msgf("dropping notification for slow subscriber: id=%s type=%s", sub.id, n.Type)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions and closes their channels.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	for _, sub := range m.subscriptions {
		close(sub.ch)
	}
	m.subscriptions = make(map[string]*subscription)
}
