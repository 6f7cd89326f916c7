package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"CreditLedger/internal/core"
	"CreditLedger/internal/observability"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The core sends on that channel with a blocking send, so if this worker
// falls behind the core stalls and no event is lost.
type PersistenceWorker struct {
	writer       *EventLogWriter
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	maxBackoff   time.Duration
	published    chan<- EventRow
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &PersistenceWorker{
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		maxBackoff:   30 * time.Second,
		metrics:      metrics,
		logger:       logger,
	}
}

// PublishTo makes the worker forward every committed event row to ch. Sends
// never block; rows that do not fit are dropped and counted, since the event
// log stays the source of truth for downstream readers.
func (pw *PersistenceWorker) PublishTo(ch chan<- EventRow) {
	pw.published = ch
}

// Run batches incoming outputs and flushes when the batch is full or the
// flush timeout expires. It returns when ctx is cancelled or the input
// channel is closed, after flushing what it holds.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	events := make([]EventRow, 0, pw.batchSize)
	journals := make([]JournalRow, 0, pw.batchSize*4)
	var rejections []RejectionRow
	var appliedAt []time.Time

	add := func(out core.CoreOutput) {
		if out.Rejection != nil {
			rejections = append(rejections, RejectionRowFrom(out.Rejection))
			return
		}
		ev, js := RowsFromOutput(out)
		events = append(events, ev)
		journals = append(journals, js...)
		appliedAt = append(appliedAt, out.AppliedAt)
	}

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context) {
		if len(events) == 0 && len(rejections) == 0 {
			return
		}
		if err := pw.flushWithRetry(ctx, events, journals, rejections); err != nil {
			pw.logger.Error().Err(err).Int("events", len(events)).Msg("batch flush failed")
		} else {
			if pw.metrics != nil {
				for _, t := range appliedAt {
					if !t.IsZero() {
						pw.metrics.ApplyToPersist.Observe(time.Since(t).Seconds())
					}
				}
			}
			pw.forward(events)
		}
		events = events[:0]
		journals = journals[:0]
		rejections = rejections[:0]
		appliedAt = appliedAt[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Drain what the core already handed over.
		drain:
			for {
				select {
				case out, ok := <-pw.inputChan:
					if !ok {
						break drain
					}
					add(out)
				default:
					break drain
				}
			}
			flush(context.Background())
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				flush(context.Background())
				return nil
			}
			add(out)

			if len(events)+len(rejections) >= pw.batchSize {
				flush(ctx)
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			flush(ctx)
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds or
// ctx is cancelled. On cancellation one last attempt is made with a fresh
// context so the batch is not lost on a clean shutdown.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, events []EventRow, journals []JournalRow, rejections []RejectionRow) error {
	backoff := 100 * time.Millisecond

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(events)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := pw.flush(context.Background(), events, journals, rejections); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > pw.maxBackoff {
				backoff = pw.maxBackoff
			}
		}

		err := pw.flush(ctx, events, journals, rejections)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.logger.Debug().Err(err).Msg("persistence flush failed")
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, events []EventRow, journals []JournalRow, rejections []RejectionRow) error {
	start := time.Now()

	tx, err := pw.writer.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, events); err != nil {
		pw.countError("write_events")
		return err
	}
	if err := pw.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		pw.countError("write_journals")
		return err
	}
	if err := pw.writer.WriteRejectionBatch(ctx, tx, rejections); err != nil {
		pw.countError("write_rejections")
		return err
	}
	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		if len(events) > 0 {
			pw.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
		}
	}
	return nil
}

func (pw *PersistenceWorker) forward(events []EventRow) {
	if pw.published == nil {
		return
	}
	for _, ev := range events {
		select {
		case pw.published <- ev:
		default:
			if pw.metrics != nil {
				pw.metrics.PublishedEvents.WithLabelValues("dropped").Inc()
			}
		}
	}
}

func (pw *PersistenceWorker) countError(stage string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}
