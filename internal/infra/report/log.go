package report

import (
	zlog "github.com/rs/zerolog/log"
)

// LogSink writes faults to the application log.
type LogSink struct{}

// NewLogSink creates a LogSink.
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Report implements Sink.
func (s *LogSink) Report(err error, rctx Context) {
	ev := zlog.Error().Err(err)
	if len(rctx.Params) > 0 {
		ev = ev.Interface("params", rctx.Params)
	}
	ev.Msgf("playback fault: action=%s track_id=%s track_title=%s",
		rctx.Action, rctx.TrackID, rctx.TrackTitle)
}
