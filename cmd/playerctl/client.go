package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// apiClient is a thin client for the playerd HTTP API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Wire types, mirroring the daemon's JSON. Durations are seconds.

type trackPayload struct {
	ID          string           `json:"id"`
	StreamURL   string           `json:"streamUrl"`
	Title       string           `json:"title,omitempty"`
	Show        string           `json:"show,omitempty"`
	ArtworkURL  string           `json:"artworkUrl,omitempty"`
	Duration    float64          `json:"duration,omitempty"`
	Description string           `json:"description,omitempty"`
	Chapters    []chapterPayload `json:"chapters,omitempty"`
}

type chapterPayload struct {
	Title string  `json:"title"`
	Start float64 `json:"start"`
	End   float64 `json:"end,omitempty"`
}

type queuedTrackPayload struct {
	Track   trackPayload `json:"track"`
	AddedAt time.Time    `json:"addedAt"`
}

type statusResponse struct {
	State        string              `json:"state"`
	Track        *queuedTrackPayload `json:"track"`
	Playing      bool                `json:"playing"`
	Position     float64             `json:"position"`
	Duration     float64             `json:"duration"`
	Buffered     float64             `json:"buffered"`
	QueueLength  int                 `json:"queueLength"`
	CurrentIndex int                 `json:"currentIndex"`
}

type queueResponse struct {
	Tracks       []queuedTrackPayload `json:"tracks"`
	CurrentIndex int                  `json:"currentIndex"`
}

type playNowRequest struct {
	Track         trackPayload `json:"track"`
	StartPosition *float64     `json:"startPosition,omitempty"`
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
	Author       string `json:"author"`
	FeedURL      string `json:"feedUrl"`
	EpisodeCount int    `json:"episodeCount"`
}

type episodePayload struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Show       string    `json:"show"`
	AudioURL   string    `json:"audioUrl"`
	Duration   float64   `json:"duration"`
	ReleasedAt time.Time `json:"releasedAt"`
}

type searchResponse struct {
	Shows    []showPayload    `json:"shows"`
	Episodes []episodePayload `json:"episodes"`
}

// eventPayload mirrors the SSE notification JSON.
type eventPayload struct {
	SequenceNo uint64    `json:"sequenceNo"`
	Type       string    `json:"type"`
	State      string    `json:"state"`
	Track      *eventRef `json:"track"`
	Previous   *eventRef `json:"previous"`
	Position   float64   `json:"position"`
	Duration   float64   `json:"duration"`
	OccurredAt time.Time `json:"occurredAt"`
}

type eventRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Show  string `json:"show"`
}

// do performs one API request and returns the raw response body.
// Error responses are unwrapped into their message.
func (c *apiClient) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to reach daemon")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode >= 400 {
		var e struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &e) == nil && e.Message != "" {
			return nil, errors.Newf("%s (status %d)", e.Message, resp.StatusCode)
		}
		return nil, errors.Newf("request failed: status=%d", resp.StatusCode)
	}
	return data, nil
}

func (c *apiClient) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *apiClient) post(ctx context.Context, path string, body any) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, body)
}
