package event

import "github.com/google/uuid"

// Header carries the fields every command shares.
type Header struct {
	CommandID uuid.UUID // Upstream idempotency key
	Sequence  int64     // Upstream sequence within the partition; 0 when unsequenced
	Timestamp int64     // Unix seconds
}

func (h Header) IdempotencyKey() string {
	return h.CommandID.String()
}

func (h Header) SourceSequence() int64 {
	return h.Sequence
}

func (h Header) EventTime() int64 {
	return h.Timestamp
}
