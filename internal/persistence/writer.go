package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"CreditLedger/internal/core"
	"CreditLedger/internal/event"
	"CreditLedger/internal/ledger"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes events and journals to Postgres using multi-row
// INSERTs. Both statements are idempotent on their primary keys, so a retried
// flush never duplicates rows.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	MarketID       *string
	Payload        []byte // JSON wire encoding, see event.Encode
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// JournalRow represents a row in event_log.journal. Amount is a base-10
// integer stored as NUMERIC(78,0).
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Asset         string
	Amount        string
	JournalType   string
	Timestamp     int64
}

// RejectionRow represents a row in event_log.rejections.
type RejectionRow struct {
	Partition      string
	SourceSequence int64
	EventType      string
	IdempotencyKey string
	Reason         string
	RejectedAt     time.Time
}

func RejectionRowFrom(r *core.Rejection) RejectionRow {
	return RejectionRow{
		Partition:      r.Partition,
		SourceSequence: r.SourceSequence,
		EventType:      r.EventType,
		IdempotencyKey: r.IdempotencyKey,
		Reason:         r.Reason,
		RejectedAt:     r.RejectedAt,
	}
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// EventRowFromEnvelope converts a core envelope to its table row.
func EventRowFromEnvelope(env *event.EventEnvelope) EventRow {
	return EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		MarketID:       env.MarketID,
		Payload:        env.Payload,
		StateHash:      append([]byte(nil), env.StateHash[:]...),
		PrevHash:       append([]byte(nil), env.PrevHash[:]...),
		Timestamp:      env.Timestamp,
		SourceSequence: env.SourceSequence,
	}
}

// JournalRowsFromBatch converts a batch to table rows.
func JournalRowsFromBatch(batch *ledger.Batch) []JournalRow {
	if batch == nil {
		return nil
	}
	rows := make([]JournalRow, 0, len(batch.Journals))
	for _, j := range batch.Journals {
		rows = append(rows, JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			Asset:         j.Asset,
			Amount:        j.Amount.Dec(),
			JournalType:   j.JournalType.String(),
			Timestamp:     j.Timestamp,
		})
	}
	return rows
}

// RowsFromOutput converts one core output to its event and journal rows.
func RowsFromOutput(out core.CoreOutput) (EventRow, []JournalRow) {
	return EventRowFromEnvelope(out.Envelope), JournalRowsFromBatch(out.Batch)
}

// WriteEventBatch writes a batch of events to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, market_id, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*9)

	for i, e := range events {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.MarketID,
			string(e.Payload), e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, ex execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, asset, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]any, 0, len(journals)*10)

	for i, j := range journals {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d::numeric, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.Asset, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteRejectionBatch writes refused sequenced commands to event_log.rejections.
func (w *EventLogWriter) WriteRejectionBatch(ctx context.Context, ex execer, rejections []RejectionRow) error {
	if len(rejections) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.rejections
		(partition, source_sequence, event_type, idempotency_key, reason, rejected_at)
		VALUES `

	values := make([]string, 0, len(rejections))
	args := make([]any, 0, len(rejections)*6)

	for i, r := range rejections {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args, r.Partition, r.SourceSequence, r.EventType, r.IdempotencyKey, r.Reason, r.RejectedAt)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (partition, source_sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteAll writes events and their journals in one transaction.
func (w *EventLogWriter) WriteAll(ctx context.Context, events []EventRow, journals []JournalRow) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := w.WriteEventBatch(ctx, tx, events); err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	if err := w.WriteJournalBatch(ctx, tx, journals); err != nil {
		return fmt.Errorf("write journals: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
