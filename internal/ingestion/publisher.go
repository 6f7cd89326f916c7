package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"CreditLedger/internal/event"
	"CreditLedger/internal/observability"
	"CreditLedger/internal/persistence"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const EventStream = "CREDIT_LEDGER_EVENTS"

// publisher is the part of jetstream.JetStream the outbound side uses.
type publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes committed ledger events to NATS. It reads rows
// the persistence worker forwards after commit, so nothing reaches the
// stream that is not already in the event log.
type OutboundPublisher struct {
	js        publisher
	inputChan <-chan persistence.EventRow
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// PublishableEvent is the outbound wire form of a ledger event.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	MarketID       *string         `json:"market_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func PublishableFromRow(row persistence.EventRow) PublishableEvent {
	return PublishableEvent{
		Sequence:       row.Sequence,
		EventType:      row.EventType,
		IdempotencyKey: row.IdempotencyKey,
		MarketID:       row.MarketID,
		Payload:        json.RawMessage(row.Payload),
		StateHash:      hex.EncodeToString(row.StateHash),
		Timestamp:      row.Timestamp,
	}
}

// EventSubject is credit.ledger.events.<EventType>[.<market>].
func (p PublishableEvent) EventSubject() string {
	et, err := event.ParseEventType(p.EventType)
	if err != nil {
		return EventSubjectPrefix + "." + sanitizeToken(p.EventType)
	}
	return subjectFor(EventSubjectPrefix, et, p.MarketID)
}

func NewOutboundPublisher(js publisher, inputChan <-chan persistence.EventRow, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run publishes until ctx is cancelled or the input channel closes.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case row, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			evt := PublishableFromRow(row)
			if err := op.publish(ctx, evt); err != nil {
				// Downstream consumers can read the event log directly.
				op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
				op.count("failed")
				continue
			}
			op.count("published")
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// The sequence doubles as the message ID so JetStream drops republished
	// rows inside its duplicate window.
	_, err = op.js.Publish(ctx, evt.EventSubject(), data, jetstream.WithMsgID(fmt.Sprintf("seq-%d", evt.Sequence)))
	return err
}

func (op *OutboundPublisher) count(outcome string) {
	if op.metrics != nil {
		op.metrics.PublishedEvents.WithLabelValues(outcome).Inc()
	}
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       EventStream,
		Subjects:   []string{EventSubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", EventStream, err)
	}
	logger.Info().Str("stream", EventStream).Msg("ensured stream")
	return nil
}
