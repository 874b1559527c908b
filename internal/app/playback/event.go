package playback

import (
	"github.com/podclub/replay/internal/domain/track"
	"github.com/podclub/replay/internal/infra/engine"
)

// EventType represents a playback event type.
type EventType int

const (
	EventTrackChanged EventType = iota // Current track changed (load, advance, removal)
	EventStatusUpdate                  // Engine progress snapshot for the current track
	EventQueueEnded                    // Playback ran off the end of the queue
	EventStateChanged                  // Playback state changed (play/pause)
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackChanged:
		return "track_changed"
	case EventStatusUpdate:
		return "status_update"
	case EventQueueEnded:
		return "queue_ended"
	case EventStateChanged:
		return "state_changed"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
//
// Track is the event's subject: the new current track for
// EventTrackChanged (nil when the change left nothing selected), the
// reporting track for EventStatusUpdate, and the track that ended for
// EventQueueEnded. For EventTrackChanged the Status snapshot belongs
// to Previous, taken just before its binding was released; the
// progress reconciler judges the outgoing track from it.
type Event struct {
	Type     EventType
	Track    *track.QueuedTrack
	Previous *track.QueuedTrack
	Status   engine.Status
	State    State
}
