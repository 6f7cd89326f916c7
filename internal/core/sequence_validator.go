package core

import (
	"errors"
	"fmt"

	"CreditLedger/internal/observability"
)

var (
	ErrSequenceGap      = errors.New("sequence gap")
	ErrOutOfOrder       = errors.New("out-of-order event")
	ErrStaleTimestamp   = errors.New("stale timestamp")
	ErrUnknownEventType = errors.New("unknown event type")
)

// SequenceValidator validates source sequences per partition. Sequences start
// at 1; a zero source sequence marks an unsequenced command and is not checked.
// Not thread-safe: only accessed from the single-threaded deterministic core.
type SequenceValidator struct {
	lastSeq map[string]int64 // partition -> last applied source sequence
	metrics *observability.Metrics
}

func NewSequenceValidator(metrics *observability.Metrics) *SequenceValidator {
	return &SequenceValidator{
		lastSeq: make(map[string]int64),
		metrics: metrics,
	}
}

// Check validates ordering without advancing. Duplicates of already applied
// sequences pass so the caller can skip them quietly.
func (sv *SequenceValidator) Check(partition string, sourceSequence int64, isDuplicate bool) error {
	if sourceSequence == 0 {
		return nil
	}
	expected := sv.lastSeq[partition] + 1

	switch {
	case sourceSequence == expected:
		return nil
	case sourceSequence < expected:
		if isDuplicate {
			return nil
		}
		if sv.metrics != nil {
			sv.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
		}
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d", ErrOutOfOrder, partition, expected, sourceSequence)
	default:
		if sv.metrics != nil {
			sv.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
		}
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d", ErrSequenceGap, partition, expected, sourceSequence)
	}
}

// Advance records sourceSequence as consumed, applied or finally rejected.
func (sv *SequenceValidator) Advance(partition string, sourceSequence int64) {
	if sourceSequence > sv.lastSeq[partition] {
		sv.lastSeq[partition] = sourceSequence
	}
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.lastSeq[partition] + 1
}

// GetAllPartitions returns a copy of the last applied sequence per partition.
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.lastSeq))
	for k, v := range sv.lastSeq {
		out[k] = v
	}
	return out
}

// RestorePartitions replaces the per-partition state (used during recovery).
func (sv *SequenceValidator) RestorePartitions(parts map[string]int64) {
	sv.lastSeq = make(map[string]int64, len(parts))
	for k, v := range parts {
		sv.lastSeq[k] = v
	}
}
