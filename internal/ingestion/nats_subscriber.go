package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CreditLedger/internal/core"
	"CreditLedger/internal/event"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	CommandStream   = "CREDIT_COMMANDS"
	CommandConsumer = "credit-ledger"
)

// Submitter applies one command and returns its outcome. core.Runner
// implements it.
type Submitter interface {
	Submit(ctx context.Context, evt event.Event) (core.Result, error)
}

// message is the part of jetstream.Msg the subscriber uses.
type message interface {
	Subject() string
	Data() []byte
	Ack() error
	Nak() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

// NATSSubscriber consumes commands from JetStream and submits them to the
// core one at a time. A single durable consumer over the whole command
// stream keeps the cross-type order producers published in, which matters
// when, say, a credit line and the borrow against it arrive back to back.
//
// A message is acked only after the core has answered, so a crash between
// delivery and apply leads to a redelivery that the idempotency check
// absorbs.
type NATSSubscriber struct {
	js        jetstream.JetStream
	submitter Submitter
	gapDelay  time.Duration
	logger    zerolog.Logger
	consumer  jetstream.ConsumeContext
}

func NewNATSSubscriber(js jetstream.JetStream, submitter Submitter, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		submitter: submitter,
		gapDelay:  time.Second,
		logger:    logger,
	}
}

// Subscribe creates the durable consumer and starts consuming.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, CommandStream, jetstream.ConsumerConfig{
		Durable:       CommandConsumer,
		FilterSubject: CommandSubjectPrefix + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", CommandConsumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		ns.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", CommandConsumer, err)
	}
	ns.consumer = cc
	ns.logger.Info().Str("stream", CommandStream).Str("consumer", CommandConsumer).Msg("subscribed to commands")
	return nil
}

func (ns *NATSSubscriber) handle(ctx context.Context, msg message) {
	evt, err := ParseRawCommand(RawCommand{Subject: msg.Subject(), Data: msg.Data()})
	if err != nil {
		// Redelivery cannot fix a malformed command.
		ns.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("dropping unparseable command")
		msg.Term()
		return
	}

	res, err := ns.submitter.Submit(ctx, evt)
	switch {
	case err == nil:
		if res.Duplicate {
			ns.logger.Debug().Str("idempotency_key", evt.IdempotencyKey()).Msg("duplicate command acked")
		}
		msg.Ack()
	case errors.Is(err, core.ErrRunnerStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		msg.Nak()
	case errors.Is(err, core.ErrSequenceGap):
		// The missing command may still be in flight.
		msg.NakWithDelay(ns.gapDelay)
	default:
		ns.logger.Info().Err(err).
			Str("event_type", evt.EventType().String()).
			Str("idempotency_key", evt.IdempotencyKey()).
			Msg("command rejected")
		msg.Ack()
	}
}

// EnsureStreams creates the command stream if it does not exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      CommandStream,
		Subjects:  []string{CommandSubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", CommandStream, err)
	}
	logger.Info().Str("stream", CommandStream).Msg("ensured stream")
	return nil
}

// Stop stops consuming. In-flight handlers finish on their own.
func (ns *NATSSubscriber) Stop() {
	if ns.consumer != nil {
		ns.consumer.Stop()
	}
	ns.logger.Info().Msg("NATS subscriber stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("creditledger"),
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
