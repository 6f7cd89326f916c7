package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"CreditLedger/internal/core"
	"CreditLedger/internal/event"
	"CreditLedger/internal/observability"

	"github.com/google/uuid"
)

// snapshotFormatVersion 1 is a JSON-encoded core.SnapshotState.
const snapshotFormatVersion = 1

var snapshotNamespace = uuid.MustParse("6f1c2f5e-8f0b-4c55-9a38-2d1f1b6a9e47")

// SnapshotManager stores core snapshots in event_log.snapshots and reads the
// event log back for replay.
//
// A snapshot is written unverified. VerifyPending flags it once the event
// log holds the same state hash at that sequence, and only verified
// snapshots are loaded on restart.
type SnapshotManager struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewSnapshotManager(db *sql.DB, metrics *observability.Metrics) *SnapshotManager {
	return &SnapshotManager{db: db, metrics: metrics}
}

// Save implements core.SnapshotSink.
func (sm *SnapshotManager) Save(ctx context.Context, snap *core.SnapshotState) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.NewSHA1(snapshotNamespace, []byte(fmt.Sprintf("%d", snap.Sequence)))
	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, string(data), snap.StateHash[:], snapshotFormatVersion, len(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save snapshot %d: %w", snap.Sequence, err)
	}

	if sm.metrics != nil {
		sm.metrics.SnapshotTaken.Inc()
		sm.metrics.SnapshotSizeBytes.Set(float64(len(data)))
		sm.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	return nil
}

// LoadLatest loads the most recent verified snapshot, or nil on a cold start.
func (sm *SnapshotManager) LoadLatest(ctx context.Context) (*core.SnapshotState, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data, state_hash, format_version FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var (
		data    []byte
		hash    []byte
		version int
	)
	if err := row.Scan(&data, &hash, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormatVersion {
		return nil, fmt.Errorf("load snapshot: unsupported format version %d", version)
	}
	if len(hash) != 32 {
		return nil, fmt.Errorf("load snapshot: state hash has %d bytes", len(hash))
	}

	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	copy(snap.StateHash[:], hash)
	return &snap, nil
}

// VerifyPending marks every unverified snapshot whose state hash matches the
// persisted event at the same sequence. It returns how many were verified.
func (sm *SnapshotManager) VerifyPending(ctx context.Context) (int64, error) {
	res, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots s
		SET verified = TRUE
		FROM event_log.events e
		WHERE s.verified = FALSE
		  AND e.sequence = s.sequence
		  AND e.state_hash = s.state_hash
	`)
	if err != nil {
		return 0, fmt.Errorf("verify snapshots: %w", err)
	}
	return res.RowsAffected()
}

// LoadEventsFrom loads up to limit events starting at fromSequence.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, market_id, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.MarketID,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Stored converts a row read from the log into the form the core replays.
func (e EventRow) Stored() (core.StoredEvent, error) {
	et, err := event.ParseEventType(e.EventType)
	if err != nil {
		return core.StoredEvent{}, fmt.Errorf("sequence %d: %w", e.Sequence, err)
	}
	if len(e.StateHash) != 32 {
		return core.StoredEvent{}, fmt.Errorf("sequence %d: state hash has %d bytes", e.Sequence, len(e.StateHash))
	}
	stored := core.StoredEvent{
		Sequence:  e.Sequence,
		EventType: et,
		Payload:   e.Payload,
	}
	copy(stored.StateHash[:], e.StateHash)
	return stored, nil
}

// GetLatestSequence returns the highest sequence in the event log, or -1
// when the log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// LoadRejectedPartitions returns the highest rejected source sequence per
// partition.
func (sm *SnapshotManager) LoadRejectedPartitions(ctx context.Context) (map[string]int64, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT partition, MAX(source_sequence)
		FROM event_log.rejections
		GROUP BY partition
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	parts := make(map[string]int64)
	for rows.Next() {
		var (
			partition string
			seq       int64
		)
		if err := rows.Scan(&partition, &seq); err != nil {
			return nil, err
		}
		parts[partition] = seq
	}
	return parts, rows.Err()
}
