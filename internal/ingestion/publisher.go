package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"CoverLedger/internal/event"
)

const (
	OutboundStreamName  = "COVER_LEDGER_EVENTS"
	outboundSubjectBase = "cover.ledger.events"
)

// OutboundPublisher publishes applied ledger events to NATS for downstream
// consumers (notifications, risk dashboards). Publishing is best-effort:
// the event log in Postgres is the source of truth.
// Subjects follow the pattern cover.ledger.events.{event_type}.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
}

// PublishableEvent is a processed event ready for outbound publishing.
type PublishableEvent struct {
	Sequence  uint64          `json:"sequence"`
	EventType string          `json:"event_type"`
	EventRef  string          `json:"event_ref"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// FromEnvelope converts a log envelope into the outbound wire shape.
func FromEnvelope(env *event.Envelope) PublishableEvent {
	return PublishableEvent{
		Sequence:  env.Sequence,
		EventType: env.EventType.String(),
		EventRef:  env.EventRef,
		Payload:   env.Payload,
		Timestamp: env.Timestamp,
	}
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				log.Printf("WARN: outbound publish failed seq=%d: %v", evt.Sequence, err)
				// Non-fatal: downstream consumers can query the event log directly
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", outboundSubjectBase, evt.EventType)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      OutboundStreamName,
		Subjects:  []string{outboundSubjectBase + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Printf("INFO: ensured outbound stream %s", OutboundStreamName)
	return nil
}
