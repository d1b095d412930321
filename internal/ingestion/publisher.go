package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"VaultLedger/internal/event"
	"VaultLedger/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// EventSubjectPrefix is where committed operations are published, one
// subject per op: vault.ledger.events.{op}.
const EventSubjectPrefix = "vault.ledger.events."

// StreamPublisher is the subset of jetstream.JetStream the publisher needs.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes committed envelopes for downstream consumers.
// Delivery is best effort; the journal is the durable record.
type OutboundPublisher struct {
	js        StreamPublisher
	inputChan <-chan event.Envelope
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewOutboundPublisher(
	js StreamPublisher,
	inputChan <-chan event.Envelope,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Subject returns the outbound subject for an envelope.
func Subject(env event.Envelope) string {
	return EventSubjectPrefix + env.Op.String()
}

// Run publishes envelopes until ctx is cancelled or the channel is closed.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if op.metrics != nil {
				op.metrics.SetChannelMetrics("publish", len(op.inputChan), cap(op.inputChan))
			}

			if err := op.publish(ctx, env); err != nil {
				// Non-fatal: consumers can read the journal instead.
				op.logger.Warn().Err(err).Int64("sequence", env.Sequence).Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.PublishErrors.WithLabelValues(env.Op.String()).Inc()
				}
				continue
			}
			if op.metrics != nil {
				op.metrics.PublishedEvents.WithLabelValues(env.Op.String()).Inc()
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	// The operation ID doubles as the JetStream dedup key so a republish
	// after reconnect is dropped by the server.
	_, err = op.js.Publish(ctx, Subject(env), data, jetstream.WithMsgID(env.OperationID.String()))
	return err
}
