// Package eventbus ships flare lifecycle events off the countdown path to
// NATS JetStream (or the log when no broker is configured).
package eventbus

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mobflare/mobflare/go/internal/flare/events"
)

type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
	Close() error
}

// LogPublisher writes events to the log instead of a broker.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(_ context.Context, event events.Event) error {
	log.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.Type)).
		Str("flare", event.FlareName).
		RawJSON("payload", event.Payload).
		Msg("flare event")
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
