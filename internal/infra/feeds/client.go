// Package feeds provides a client for the iTunes Search API, used to
// look up podcast shows and episodes when building tracks.
package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Show represents one podcast in the directory.
type Show struct {
	ID           int64
	Name         string
	Author       string
	ArtworkURL   string
	FeedURL      string
	Genre        string
	EpisodeCount int
}

// Episode represents one episode of a show.
type Episode struct {
	ID          int64
	Title       string
	ShowName    string
	AudioURL    string
	ArtworkURL  string
	Duration    time.Duration // zero when the directory did not report one
	Description string
	ReleasedAt  time.Time
}

// Client is an iTunes Search API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
}

// New creates a new directory client. The API needs no credentials.
func New() *Client {
	return &Client{
		baseURL:    "https://itunes.apple.com",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

type itunesResult struct {
	WrapperType      string `json:"wrapperType"`
	Kind             string `json:"kind"`
	CollectionID     int64  `json:"collectionId"`
	CollectionName   string `json:"collectionName"`
	ArtistName       string `json:"artistName"`
	ArtworkURL600    string `json:"artworkUrl600"`
	ArtworkURL100    string `json:"artworkUrl100"`
	FeedURL          string `json:"feedUrl"`
	TrackCount       int    `json:"trackCount"`
	PrimaryGenreName string `json:"primaryGenreName"`
	TrackID          int64  `json:"trackId"`
	TrackName        string `json:"trackName"`
	EpisodeURL       string `json:"episodeUrl"`
	TrackTimeMillis  int64  `json:"trackTimeMillis"`
	ReleaseDate      string `json:"releaseDate"`
	Description      string `json:"description"`
	ShortDescription string `json:"shortDescription"`
}

type itunesResponse struct {
	ResultCount int            `json:"resultCount"`
	Results     []itunesResult `json:"results"`
}

// SearchShows searches the podcast directory by free-text term.
func (c *Client) SearchShows(ctx context.Context, term string, limit int) ([]Show, error) {
	if strings.TrimSpace(term) == "" {
		return nil, errors.New("search term is required")
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}

	params := url.Values{}
	params.Set("term", term)
	params.Set("media", "podcast")
	params.Set("entity", "podcast")
	params.Set("limit", fmt.Sprintf("%d", limit))

	resp, err := c.get(ctx, "/search?"+params.Encode())
	if err != nil {
		return nil, err
	}

	shows := make([]Show, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Kind != "podcast" {
			continue
		}
		shows = append(shows, Show{
			ID:           r.CollectionID,
			Name:         r.CollectionName,
			Author:       r.ArtistName,
			ArtworkURL:   pickArtwork(r),
			FeedURL:      r.FeedURL,
			Genre:        r.PrimaryGenreName,
			EpisodeCount: r.TrackCount,
		})
	}
	return shows, nil
}

// LookupEpisodes returns the most recent episodes of a show.
func (c *Client) LookupEpisodes(ctx context.Context, showID int64, limit int) ([]Episode, error) {
	if showID <= 0 {
		return nil, errors.New("show ID is required")
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}

	params := url.Values{}
	params.Set("id", fmt.Sprintf("%d", showID))
	params.Set("entity", "podcastEpisode")
	// The lookup result includes the show itself as the first entry.
	params.Set("limit", fmt.Sprintf("%d", limit+1))

	resp, err := c.get(ctx, "/lookup?"+params.Encode())
	if err != nil {
		return nil, err
	}

	episodes := make([]Episode, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.WrapperType != "podcastEpisode" {
			continue
		}
		description := r.Description
		if description == "" {
			description = r.ShortDescription
		}
		released, _ := time.Parse(time.RFC3339, r.ReleaseDate)
		episodes = append(episodes, Episode{
			ID:          r.TrackID,
			Title:       r.TrackName,
			ShowName:    r.CollectionName,
			AudioURL:    r.EpisodeURL,
			ArtworkURL:  pickArtwork(r),
			Duration:    time.Duration(r.TrackTimeMillis) * time.Millisecond,
			Description: description,
			ReleasedAt:  released,
		})
	}
	return episodes, nil
}

func pickArtwork(r itunesResult) string {
	if r.ArtworkURL600 != "" {
		return r.ArtworkURL600
	}
	return r.ArtworkURL100
}

// get fetches and decodes one API response, retrying transient faults.
func (c *Client) get(ctx context.Context, path string) (*itunesResponse, error) {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		resp, err := c.getOnce(ctx, path)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelay << i)
		}
	}
	return nil, errors.Wrap(lastErr, "max retries exceeded")
}

func (c *Client) getOnce(ctx context.Context, path string) (*itunesResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("directory lookup failed: status=%d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	var parsed itunesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.Wrap(err, "failed to parse response")
	}
	return &parsed, nil
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "status=429") ||
		strings.Contains(errStr, "status=500") ||
		strings.Contains(errStr, "status=502") ||
		strings.Contains(errStr, "status=503") ||
		strings.Contains(errStr, "status=504") ||
		strings.Contains(errStr, "failed to send request")
}
