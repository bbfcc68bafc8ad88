package ingestion

import (
	"Parimutuel/internal/event"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutboundStream holds published settlement events
const OutboundStream = "PARI_EVENTS"

// OutboundPublisher publishes committed events to NATS for downstream consumers.
// Subjects follow the pattern: pari.events.{event_type}.{token}
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	logger    zerolog.Logger
}

// PublishableEvent is a committed event ready for outbound publishing.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	Operation      string          `json:"operation"`
	IdempotencyKey string          `json:"idempotency_key"`
	Token          string          `json:"token"`
	Facet          string          `json:"facet,omitempty"`
	Participant    string          `json:"participant,omitempty"`
	Round          uint32          `json:"round"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      []byte          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// PublishableFromEnvelope flattens an envelope for the wire
func PublishableFromEnvelope(env *event.EventEnvelope) PublishableEvent {
	p := PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		Operation:      string(env.Operation),
		IdempotencyKey: env.IdempotencyKey,
		Token:          string(env.Token),
		Participant:    string(env.Participant),
		Round:          env.Round,
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		Timestamp:      env.Timestamp,
	}
	if env.Facet.Valid() {
		p.Facet = env.Facet.String()
	}
	return p
}

// Subject returns pari.events.{event_type}.{token}
func (p PublishableEvent) Subject() string {
	return fmt.Sprintf("pari.events.%s.%s", p.EventType, p.Token)
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
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
				// downstream consumers can query the event log directly
				op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// the sequence doubles as the message ID so JetStream drops republished events
	_, err = op.js.Publish(ctx, evt.Subject(), data, jetstream.WithMsgID(strconv.FormatInt(evt.Sequence, 10)))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      OutboundStream,
		Subjects:  []string{"pari.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
