// Package httpapi serves the playback control API and the SSE stream
// that mirrors session notifications to connected clients.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/r3labs/sse/v2"
	"github.com/rs/cors"
	zlog "github.com/rs/zerolog/log"

	"github.com/podclub/replay/internal/app/notification"
	"github.com/podclub/replay/internal/app/session"
	"github.com/podclub/replay/internal/infra/config"
	"github.com/podclub/replay/internal/infra/feeds"
)

// streamName is the SSE stream carrying playback notifications.
const streamName = "playback"

// subscriberBuffer sizes the bridge's notification subscription.
const subscriberBuffer = 64

// Directory is the episode-search surface used by the search routes.
type Directory interface {
	SearchShows(ctx context.Context, term string, limit int) ([]feeds.Show, error)
	LookupEpisodes(ctx context.Context, showID int64, limit int) ([]feeds.Episode, error)
}

// Server exposes a session manager over HTTP.
type Server struct {
	session   *session.Manager
	directory Directory
	config    *config.Config

	events *sse.Server
	subID  string
}

// NewServer creates the API server and starts forwarding session
// notifications to the SSE stream.
func NewServer(sess *session.Manager, directory Directory, cfg *config.Config) *Server {
	events := sse.New()
	events.AutoReplay = false
	events.CreateStream(streamName)

	s := &Server{
		session:   sess,
		directory: directory,
		config:    cfg,
		events:    events,
	}

	subID, ch := sess.GetNotificationManager().Subscribe(subscriberBuffer)
	s.subID = subID
	go s.forward(ch)

	return s
}

// Handler returns the full API handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)

	mux.HandleFunc("GET /api/v1/queue", s.handleQueueList)
	mux.HandleFunc("POST /api/v1/queue", s.handleQueueAppend)
	mux.HandleFunc("POST /api/v1/queue/next", s.handlePlayNow)
	mux.HandleFunc("DELETE /api/v1/queue", s.handleQueueClear)
	mux.HandleFunc("DELETE /api/v1/queue/{id}", s.handleQueueRemove)

	mux.HandleFunc("POST /api/v1/player/play", s.handlePlay)
	mux.HandleFunc("POST /api/v1/player/pause", s.handlePause)
	mux.HandleFunc("POST /api/v1/player/next", s.handleNext)
	mux.HandleFunc("POST /api/v1/player/seek", s.handleSeek)
	mux.HandleFunc("POST /api/v1/player/forward", s.handleForward)
	mux.HandleFunc("POST /api/v1/player/back", s.handleBack)
	mux.HandleFunc("POST /api/v1/player/rate", s.handleRate)
	mux.HandleFunc("POST /api/v1/player/volume", s.handleVolume)
	mux.HandleFunc("POST /api/v1/player/chapter", s.handleChapterSeek)

	mux.HandleFunc("GET /api/v1/chapters", s.handleChapters)
	mux.HandleFunc("GET /api/v1/progress/{id}", s.handleProgressGet)
	mux.HandleFunc("DELETE /api/v1/progress/{id}", s.handleProgressDelete)
	mux.HandleFunc("GET /api/v1/search", s.handleSearch)

	mux.HandleFunc("/events", s.events.ServeHTTP)

	c := cors.New(cors.Options{
		AllowedOrigins: s.config.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept"},
	})
	return c.Handler(mux)
}

// Close stops the notification bridge and drops SSE clients.
func (s *Server) Close() {
	s.session.GetNotificationManager().Unsubscribe(s.subID)
	s.events.Close()
}

// forward publishes every session notification to the SSE stream.
// Exits when the subscription channel is closed.
func (s *Server) forward(ch <-chan notification.Notification) {
	for n := range ch {
		data, err := json.Marshal(n)
		if err != nil {
			zlog.Warn().Err(err).Msg("failed to encode notification")
			continue
		}
		s.events.Publish(streamName, &sse.Event{Data: data})
	}
}
