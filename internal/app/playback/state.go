// Package playback binds queued tracks to the audio engine and owns
// every transition between them.
package playback

// State represents the playback state.
type State int

const (
	StateEmpty   State = iota // Nothing selected (queue empty or drained)
	StateLoaded               // Track bound to the engine but not started
	StatePlaying              // Track is playing
	StatePaused               // Track is paused
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoaded:
		return "loaded"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}
