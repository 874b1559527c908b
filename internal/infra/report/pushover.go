package report

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/gregdel/pushover"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
)

// PushoverSettings configures the pushover sink.
type PushoverSettings struct {
	Token string `mapstructure:"token" validate:"required"`
	User  string `mapstructure:"user" validate:"required"`
}

// PushoverSink pushes faults to the operator's devices. Delivery runs
// in a goroutine so Report never blocks the playback loop.
type PushoverSink struct {
	app       *pushover.Pushover
	recipient *pushover.Recipient
}

// NewPushoverSink creates a PushoverSink.
func NewPushoverSink(settings map[string]any) (*PushoverSink, error) {
	var cfg PushoverSettings
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	return &PushoverSink{
		app:       pushover.New(cfg.Token),
		recipient: pushover.NewRecipient(cfg.User),
	}, nil
}

// Report implements Sink.
func (s *PushoverSink) Report(err error, rctx Context) {
	body := fmt.Sprintf("action: %s", rctx.Action)
	if rctx.TrackTitle != "" {
		body += fmt.Sprintf("\ntrack: %s (%s)", rctx.TrackTitle, rctx.TrackID)
	} else if rctx.TrackID != "" {
		body += fmt.Sprintf("\ntrack: %s", rctx.TrackID)
	}
	if err != nil {
		body += fmt.Sprintf("\nerror: %v", err)
	}

	message := &pushover.Message{
		Title:    "replay playback fault",
		Message:  body,
		Priority: pushover.PriorityNormal,
	}

	go func() {
		if _, sendErr := s.app.SendMessage(message, s.recipient); sendErr != nil {
			zlog.Warn().Err(sendErr).Msg("failed to deliver pushover report")
		}
	}()
}
