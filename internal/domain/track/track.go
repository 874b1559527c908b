// Package track provides the Track domain entity.
package track

import "time"

// Track represents one playable podcast episode.
// Contains only information supplied by the surrounding app when the
// episode was selected; a track is never mutated after creation. An
// updated duration arrives as a replacement value, not a patch.
type Track struct {
	ID          string        // Episode ID
	StreamURL   string        // Audio stream URL
	Title       string        // Episode title
	Show        string        // Attributed show name
	ArtworkURL  string        // Episode or show artwork URL (optional)
	Duration    time.Duration // Known duration, zero when the feed did not report one
	Description string        // Episode description (optional)
	Chapters    []Chapter     // Ordered chapters (optional)
}

// Chapter represents one named segment of an episode.
type Chapter struct {
	Title       string        // Chapter title
	Start       time.Duration // Offset of the chapter start
	End         time.Duration // Offset of the chapter end, zero when open-ended
	Description string        // Chapter notes (optional)
}

// QueuedTrack represents a track in the playback queue.
type QueuedTrack struct {
	Track   Track     // Episode info
	AddedAt time.Time // Time when added to queue
}

// HasKnownDuration reports whether the feed supplied a duration.
// Engines may still discover one at load time; zero here only means
// the metadata did not include it.
func (t *Track) HasKnownDuration() bool {
	return t.Duration > 0
}

// ChapterAt returns the index of the chapter covering the given
// position, or -1 when the track has no chapters or the position falls
// outside all of them. An open-ended final chapter covers everything
// from its start onward.
func (t *Track) ChapterAt(pos time.Duration) int {
	for i, c := range t.Chapters {
		if pos < c.Start {
			continue
		}
		if c.End <= 0 || pos < c.End {
			return i
		}
	}
	return -1
}
