// Package clubapi provides the write-through client for the podcast
// club backend. Progress updates are reconciled server-side; the local
// player only needs fire-and-forget delivery.
package clubapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/oauth2"
)

// ProgressUpdate is one reported listening position.
type ProgressUpdate struct {
	EpisodeID string  `json:"episodeId"`
	Position  float64 `json:"position"` // seconds
	Duration  float64 `json:"duration"` // seconds, 0 when unknown
	Finished  bool    `json:"finished"`
}

// Client is a club backend API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
}

// Config represents club backend client configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// New creates a new club backend client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.BaseURL == "" || cfg.Token == "" {
		return nil, errors.New("club backend base URL and token are required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	// Bearer auth on every request via a static token source.
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	httpClient := oauth2.NewClient(ctx, src)
	httpClient.Timeout = timeout

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

// PushProgress reports a listening position for one episode.
func (c *Client) PushProgress(ctx context.Context, update ProgressUpdate) error {
	if update.EpisodeID == "" {
		return errors.New("episode ID is required")
	}

	body, err := json.Marshal(update)
	if err != nil {
		return errors.Wrap(err, "failed to encode progress update")
	}

	return c.retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/progress", bytes.NewReader(body))
		if err != nil {
			return errors.Wrap(err, "failed to create request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errors.Wrap(err, "failed to send request")
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return errors.Newf("progress push rejected: status=%d body=%s", resp.StatusCode, string(msg))
		}
		return nil
	})
}

func (c *Client) retry(fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelay << i)
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "status=429") ||
		strings.Contains(errStr, "status=500") ||
		strings.Contains(errStr, "status=502") ||
		strings.Contains(errStr, "status=503") ||
		strings.Contains(errStr, "status=504")
}
