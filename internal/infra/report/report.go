// Package report delivers playback faults to an operator-facing sink.
// Reporting is fire-and-forget: a sink never returns an error to the
// caller, because a failed report must not disturb playback.
package report

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/podclub/replay/internal/infra/config"
)

// Context carries enough detail to diagnose a fault without a debugger
// attached to the daemon.
type Context struct {
	Action     string
	TrackID    string
	TrackTitle string
	Params     map[string]any
}

// Sink receives faults.
type Sink interface {
	Report(err error, rctx Context)
}

// New creates a sink from configuration.
func New(cfg config.ReportConfig) (Sink, error) {
	zlog.Debug().Msgf("creating report sink: type=%s", cfg.Type)
	switch cfg.Type {
	case "log":
		return NewLogSink(), nil
	case "pushover":
		return NewPushoverSink(cfg.Settings)
	default:
		return nil, errors.Newf("unsupported report sink type: %s", cfg.Type)
	}
}
