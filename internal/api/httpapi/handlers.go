package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/podclub/replay/internal/app/playback"
)

func renderJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Warn().Err(err).Msg("failed to encode response")
	}
}

func renderMessage(w http.ResponseWriter, status int, message string) {
	renderJSON(w, status, map[string]string{"message": message})
}

// renderError maps invalid-intent errors to 409 and everything else
// to 500.
func renderError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, playback.ErrNoTrack) || errors.Is(err, playback.ErrNotBound) {
		status = http.StatusConflict
	}
	renderMessage(w, status, err.Error())
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(err, "invalid request body")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	renderMessage(w, http.StatusOK, "ok")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.session.GetStatus(r.Context())

	resp := statusResponse{
		State:        status.State.String(),
		Playing:      status.Engine.Playing,
		Position:     status.Engine.Position.Seconds(),
		Duration:     status.Engine.Duration.Seconds(),
		Buffered:     status.Engine.Buffered.Seconds(),
		QueueLength:  status.QueueLength,
		CurrentIndex: status.CurrentIndex,
	}
	if status.Track != nil {
		payload := fromQueued(*status.Track)
		resp.Track = &payload
	}
	renderJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQueueList(w http.ResponseWriter, r *http.Request) {
	entries := s.session.Queue()
	resp := queueResponse{
		Tracks:       make([]queuedTrackPayload, 0, len(entries)),
		CurrentIndex: s.session.CurrentIndex(),
	}
	for _, entry := range entries {
		resp.Tracks = append(resp.Tracks, fromQueued(entry))
	}
	renderJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQueueAppend(w http.ResponseWriter, r *http.Request) {
	var payload trackPayload
	if err := decodeBody(r, &payload); err != nil {
		renderMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.ID == "" || payload.StreamURL == "" {
		renderMessage(w, http.StatusBadRequest, "id and streamUrl are required")
		return
	}

	entry, err := s.session.Append(r.Context(), payload.toTrack())
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusCreated, fromQueued(entry))
}

func (s *Server) handlePlayNow(w http.ResponseWriter, r *http.Request) {
	var req playNowRequest
	if err := decodeBody(r, &req); err != nil {
		renderMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Track.ID == "" || req.Track.StreamURL == "" {
		renderMessage(w, http.StatusBadRequest, "track.id and track.streamUrl are required")
		return
	}

	startAt := -time.Second
	if req.StartPosition != nil {
		if *req.StartPosition < 0 {
			renderMessage(w, http.StatusBadRequest, "startPosition must be >= 0")
			return
		}
		startAt = secondsToDuration(*req.StartPosition)
	}

	entry, err := s.session.PlayNow(r.Context(), req.Track.toTrack(), startAt)
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, fromQueued(entry))
}

func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	s.session.Clear(r.Context())
	renderMessage(w, http.StatusOK, "queue cleared")
}

func (s *Server) handleQueueRemove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	removed, err := s.session.Remove(r.Context(), id)
	if err != nil {
		renderError(w, err)
		return
	}
	if !removed {
		renderMessage(w, http.StatusNotFound, "track not queued: "+id)
		return
	}
	renderMessage(w, http.StatusOK, "removed")
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Play(r.Context()); err != nil {
		renderError(w, err)
		return
	}
	renderMessage(w, http.StatusOK, "ok")
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Pause(r.Context()); err != nil {
		renderError(w, err)
		return
	}
	renderMessage(w, http.StatusOK, "ok")
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Next(r.Context()); err != nil {
		renderError(w, err)
		return
	}
	renderMessage(w, http.StatusOK, "ok")
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := decodeBody(r, &req); err != nil {
		renderMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Position < 0 {
		renderMessage(w, http.StatusBadRequest, "position must be >= 0")
		return
	}

	if err := s.session.SeekTo(r.Context(), secondsToDuration(req.Position)); err != nil {
		renderError(w, err)
		return
	}
	renderMessage(w, http.StatusOK, "ok")
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	if err := s.session.SkipForward(r.Context()); err != nil {
		renderError(w, err)
		return
	}
	renderMessage(w, http.StatusOK, "ok")
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	if err := s.session.SkipBackward(r.Context()); err != nil {
		renderError(w, err)
		return
	}
	renderMessage(w, http.StatusOK, "ok")
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := decodeBody(r, &req); err != nil {
		renderMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Rate <= 0 {
		renderMessage(w, http.StatusBadRequest, "rate must be > 0")
		return
	}

	if err := s.session.SetRate(r.Context(), req.Rate); err != nil {
		renderError(w, err)
		return
	}
	renderMessage(w, http.StatusOK, "ok")
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := decodeBody(r, &req); err != nil {
		renderMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Volume < 0 || req.Volume > 1 {
		renderMessage(w, http.StatusBadRequest, "volume must be within [0, 1]")
		return
	}

	if err := s.session.SetVolume(r.Context(), req.Volume); err != nil {
		renderError(w, err)
		return
	}
	renderMessage(w, http.StatusOK, "ok")
}

func (s *Server) handleChapterSeek(w http.ResponseWriter, r *http.Request) {
	var req chapterRequest
	if err := decodeBody(r, &req); err != nil {
		renderMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	chapters, _, err := s.session.Chapters(r.Context())
	if err != nil {
		renderError(w, err)
		return
	}
	if req.Index < 0 || req.Index >= len(chapters) {
		renderMessage(w, http.StatusBadRequest, fmt.Sprintf("chapter index out of range: %d", req.Index))
		return
	}

	if err := s.session.SeekToChapter(r.Context(), req.Index); err != nil {
		renderError(w, err)
		return
	}
	renderMessage(w, http.StatusOK, "ok")
}

func (s *Server) handleChapters(w http.ResponseWriter, r *http.Request) {
	chapters, active, err := s.session.Chapters(r.Context())
	if err != nil {
		renderError(w, err)
		return
	}

	resp := chaptersResponse{
		Chapters: make([]chapterPayload, 0, len(chapters)),
		Active:   active,
	}
	for _, c := range chapters {
		resp.Chapters = append(resp.Chapters, fromChapter(c))
	}
	renderJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProgressGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	rec, ok, err := s.session.Progress(r.Context(), id)
	if err != nil {
		renderError(w, err)
		return
	}
	if !ok {
		renderMessage(w, http.StatusNotFound, "no progress for track: "+id)
		return
	}

	renderJSON(w, http.StatusOK, progressResponse{
		TrackID:   id,
		Position:  rec.Position.Seconds(),
		Duration:  rec.Duration.Seconds(),
		UpdatedAt: rec.UpdatedAt,
	})
}

func (s *Server) handleProgressDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.session.DeleteProgress(r.Context(), id); err != nil {
		renderError(w, err)
		return
	}
	renderMessage(w, http.StatusOK, "progress cleared")
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))

	if showID := query.Get("show"); showID != "" {
		id, err := strconv.ParseInt(showID, 10, 64)
		if err != nil {
			renderMessage(w, http.StatusBadRequest, "invalid show id: "+showID)
			return
		}
		episodes, err := s.directory.LookupEpisodes(r.Context(), id, limit)
		if err != nil {
			renderError(w, err)
			return
		}
		renderJSON(w, http.StatusOK, searchResponse{Episodes: fromEpisodes(episodes)})
		return
	}

	term := query.Get("q")
	if strings.TrimSpace(term) == "" {
		renderMessage(w, http.StatusBadRequest, "q or show parameter is required")
		return
	}

	shows, err := s.directory.SearchShows(r.Context(), term, limit)
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, searchResponse{Shows: fromShows(shows)})
}
