// Package publish streams the event log to downstream consumers over NATS
// JetStream. Publishing is best-effort: the event log in Postgres is the
// source of truth, and a consumer that misses a message recovers from there.
package publish

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"CDPLedger/internal/event"
	"CDPLedger/internal/observability"
)

const streamName = "CDP_LEDGER_EVENTS"

// PublishableEvent is the outbound wire format. The payload is the event's
// own JSON; the envelope fields let consumers order and verify.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	PrevHash       string          `json:"prev_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// OutboundPublisher drains envelopes and publishes them to
// cdp.ledger.events.{event_type}.
type OutboundPublisher struct {
	js      jetstream.JetStream
	input   <-chan *event.EventEnvelope
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, input <-chan *event.EventEnvelope, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:      js,
		input:   input,
		metrics: metrics,
		logger:  logger,
	}
}

// Run publishes until ctx is cancelled or the input channel closes. Failures
// are logged and counted, never retried here.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-op.input:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, env); err != nil {
				op.logger.Warn().
					Err(err).
					Int64("sequence", env.Sequence).
					Str("event_type", env.EventType.String()).
					Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.PublishErrors.Inc()
				}
				continue
			}
			if op.metrics != nil {
				op.metrics.PublishedEvents.WithLabelValues(env.EventType.String()).Inc()
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, env *event.EventEnvelope) error {
	out := PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Payload:        env.Payload,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		PrevHash:       hex.EncodeToString(env.PrevHash[:]),
		Timestamp:      env.Timestamp,
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal outbound event: %w", err)
	}

	subject := fmt.Sprintf("cdp.ledger.events.%s", out.EventType)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureStream creates or updates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{"cdp.ledger.events.>"},
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
