package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber consumes JetStream subjects and hands each message to the
// feed loop over eventChan. Messages are acked by the consumer of the channel
// once the ledger has applied them.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawEvent is an undecoded message plus the callbacks that settle it.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // processed; do not redeliver
	NakFunc   func() // transient failure; redeliver
	TermFunc  func() // unprocessable; never redeliver
}

func (r RawEvent) ack() {
	if r.AckFunc != nil {
		r.AckFunc()
	}
}

func (r RawEvent) nak() {
	if r.NakFunc != nil {
		r.NakFunc()
	}
}

func (r RawEvent) term() {
	if r.TermFunc != nil {
		r.TermFunc()
		return
	}
	r.ack()
}

// SubjectConfig binds a durable consumer to a subject filter on a stream.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
}

const (
	PriceStream  = "VAULT_PRICES"
	EventsStream = "VAULT_LEDGER_EVENTS"
)

// DefaultSubjects returns the inbound subjects the ledger consumes.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: PriceSubjectPrefix + ">", ConsumerName: "vault-ledger-prices", StreamName: PriceStream},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    logger,
	}
}

// Subscribe creates a durable consumer per subject. Consumers use explicit
// ack, max_deliver=5 and ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { _ = msg.Ack() },
				NakFunc:   func() { _ = msg.Nak() },
				TermFunc:  func() { _ = msg.Term() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}

	return nil
}

// Stop stops all consumers. Messages in flight are redelivered after ack_wait.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

func streamConfig(name, subject string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}
}

// EnsureStreams creates the inbound and outbound streams if they are missing.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		streamConfig(PriceStream, PriceSubjectPrefix+">"),
		streamConfig(EventsStream, EventSubjectPrefix+">"),
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("vault-ledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
