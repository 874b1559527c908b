package httpapi

import (
	"time"

	"github.com/podclub/replay/internal/domain/track"
	"github.com/podclub/replay/internal/infra/feeds"
)

// trackPayload is the wire form of a track. Durations and offsets are
// seconds.
type trackPayload struct {
	ID          string           `json:"id"`
	StreamURL   string           `json:"streamUrl"`
	Title       string           `json:"title"`
	Show        string           `json:"show,omitempty"`
	ArtworkURL  string           `json:"artworkUrl,omitempty"`
	Duration    float64          `json:"duration,omitempty"`
	Description string           `json:"description,omitempty"`
	Chapters    []chapterPayload `json:"chapters,omitempty"`
}

type chapterPayload struct {
	Title       string  `json:"title"`
	Start       float64 `json:"start"`
	End         float64 `json:"end,omitempty"`
	Description string  `json:"description,omitempty"`
}

type queuedTrackPayload struct {
	Track   trackPayload `json:"track"`
	AddedAt time.Time    `json:"addedAt"`
}

type queueResponse struct {
	Tracks       []queuedTrackPayload `json:"tracks"`
	CurrentIndex int                  `json:"currentIndex"`
}

type playNowRequest struct {
	Track trackPayload `json:"track"`
	// StartPosition in seconds; absent means resume from the saved
	// position.
	StartPosition *float64 `json:"startPosition,omitempty"`
}

type seekRequest struct {
	Position float64 `json:"position"`
}

type rateRequest struct {
	Rate float64 `json:"rate"`
}

type volumeRequest struct {
	Volume float64 `json:"volume"`
}

type chapterRequest struct {
	Index int `json:"index"`
}

type statusResponse struct {
	State        string              `json:"state"`
	Track        *queuedTrackPayload `json:"track,omitempty"`
	Playing      bool                `json:"playing"`
	Position     float64             `json:"position"`
	Duration     float64             `json:"duration"`
	Buffered     float64             `json:"buffered"`
	QueueLength  int                 `json:"queueLength"`
	CurrentIndex int                 `json:"currentIndex"`
}

type chaptersResponse struct {
	Chapters []chapterPayload `json:"chapters"`
	Active   int              `json:"active"`
}

type progressResponse struct {
	TrackID   string    `json:"trackId"`
	Position  float64   `json:"position"`
	Duration  float64   `json:"duration"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type showPayload struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Author       string `json:"author,omitempty"`
	ArtworkURL   string `json:"artworkUrl,omitempty"`
	FeedURL      string `json:"feedUrl,omitempty"`
	Genre        string `json:"genre,omitempty"`
	EpisodeCount int    `json:"episodeCount,omitempty"`
}

type episodePayload struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Show        string    `json:"show,omitempty"`
	AudioURL    string    `json:"audioUrl"`
	ArtworkURL  string    `json:"artworkUrl,omitempty"`
	Duration    float64   `json:"duration,omitempty"`
	Description string    `json:"description,omitempty"`
	ReleasedAt  time.Time `json:"releasedAt,omitempty"`
}

type searchResponse struct {
	Shows    []showPayload    `json:"shows,omitempty"`
	Episodes []episodePayload `json:"episodes,omitempty"`
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (p trackPayload) toTrack() track.Track {
	var chapters []track.Chapter
	for _, c := range p.Chapters {
		chapters = append(chapters, track.Chapter{
			Title:       c.Title,
			Start:       secondsToDuration(c.Start),
			End:         secondsToDuration(c.End),
			Description: c.Description,
		})
	}
	return track.Track{
		ID:          p.ID,
		StreamURL:   p.StreamURL,
		Title:       p.Title,
		Show:        p.Show,
		ArtworkURL:  p.ArtworkURL,
		Duration:    secondsToDuration(p.Duration),
		Description: p.Description,
		Chapters:    chapters,
	}
}

func fromTrack(t track.Track) trackPayload {
	var chapters []chapterPayload
	for _, c := range t.Chapters {
		chapters = append(chapters, fromChapter(c))
	}
	return trackPayload{
		ID:          t.ID,
		StreamURL:   t.StreamURL,
		Title:       t.Title,
		Show:        t.Show,
		ArtworkURL:  t.ArtworkURL,
		Duration:    t.Duration.Seconds(),
		Description: t.Description,
		Chapters:    chapters,
	}
}

func fromChapter(c track.Chapter) chapterPayload {
	return chapterPayload{
		Title:       c.Title,
		Start:       c.Start.Seconds(),
		End:         c.End.Seconds(),
		Description: c.Description,
	}
}

func fromQueued(entry track.QueuedTrack) queuedTrackPayload {
	return queuedTrackPayload{
		Track:   fromTrack(entry.Track),
		AddedAt: entry.AddedAt,
	}
}

func fromShows(shows []feeds.Show) []showPayload {
	payloads := make([]showPayload, 0, len(shows))
	for _, s := range shows {
		payloads = append(payloads, showPayload{
			ID:           s.ID,
			Name:         s.Name,
			Author:       s.Author,
			ArtworkURL:   s.ArtworkURL,
			FeedURL:      s.FeedURL,
			Genre:        s.Genre,
			EpisodeCount: s.EpisodeCount,
		})
	}
	return payloads
}

func fromEpisodes(episodes []feeds.Episode) []episodePayload {
	payloads := make([]episodePayload, 0, len(episodes))
	for _, e := range episodes {
		payloads = append(payloads, episodePayload{
			ID:          e.ID,
			Title:       e.Title,
			Show:        e.ShowName,
			AudioURL:    e.AudioURL,
			ArtworkURL:  e.ArtworkURL,
			Duration:    e.Duration.Seconds(),
			Description: e.Description,
			ReleasedAt:  e.ReleasedAt,
		})
	}
	return payloads
}
