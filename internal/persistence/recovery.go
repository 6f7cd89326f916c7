package persistence

import (
	"context"
	"fmt"
	"time"

	"CreditLedger/internal/core"
	"CreditLedger/internal/observability"

	"github.com/rs/zerolog"
)

const replayPageSize = 1000

// RecoveryReport summarizes a warm or cold start.
type RecoveryReport struct {
	SnapshotSequence int64 // -1 on a cold start
	Replayed         int64
	Sequence         int64 // next sequence the core will assign
	Duration         time.Duration
}

// Recover brings c up to the head of the event log: it verifies pending
// snapshots, restores the latest verified one, replays every later event
// with hash verification, and then applies recorded rejections to the
// source-sequence partitions. Replayed events refill the idempotency cache, so
// it needs no separate warming.
func Recover(
	ctx context.Context,
	c *core.DeterministicCore,
	sm *SnapshotManager,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (RecoveryReport, error) {
	start := time.Now()
	report := RecoveryReport{SnapshotSequence: -1}

	verified, err := sm.VerifyPending(ctx)
	if err != nil {
		return report, err
	}
	if verified > 0 {
		logger.Info().Int64("count", verified).Msg("snapshots verified against the event log")
	}

	snap, err := sm.LoadLatest(ctx)
	if err != nil {
		return report, err
	}
	if snap != nil {
		if err := c.RestoreFromSnapshot(snap); err != nil {
			return report, fmt.Errorf("restore snapshot %d: %w", snap.Sequence, err)
		}
		report.SnapshotSequence = snap.Sequence
		logger.Info().Int64("sequence", snap.Sequence).Msg("restored snapshot")
	}

	from := c.GetSequence()
	for {
		rows, err := sm.LoadEventsFrom(ctx, from, replayPageSize)
		if err != nil {
			return report, fmt.Errorf("load events from %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			stored, err := row.Stored()
			if err != nil {
				return report, err
			}
			if err := c.ReplayEvent(stored); err != nil {
				return report, err
			}
			report.Replayed++
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	// Refusals are not in the event log; without them a partition whose last
	// command was refused would wait forever for that sequence.
	rejected, err := sm.LoadRejectedPartitions(ctx)
	if err != nil {
		return report, fmt.Errorf("load rejected partitions: %w", err)
	}
	c.AdvancePartitions(rejected)

	report.Sequence = c.GetSequence()
	report.Duration = time.Since(start)
	if metrics != nil {
		metrics.ReplayEventsTotal.Add(float64(report.Replayed))
		metrics.ReplayDuration.Set(report.Duration.Seconds())
	}
	logger.Info().
		Int64("snapshot_sequence", report.SnapshotSequence).
		Int64("replayed", report.Replayed).
		Int64("next_sequence", report.Sequence).
		Dur("duration", report.Duration).
		Msg("recovery complete")
	return report, nil
}
