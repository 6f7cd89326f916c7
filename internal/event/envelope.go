package event

import (
	"fmt"
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeMarketCreated
	EventTypeFeeSet
	EventTypeFeeRecipientSet
	EventTypeSupplied
	EventTypeWithdrawn
	EventTypeBorrowed
	EventTypeRepaid
	EventTypeInterestAccrued
	EventTypePremiumsAccrued
	EventTypeCreditLineSet
	EventTypeCycleClosed
	EventTypeAccountSettled
	EventTypeInsuranceFunded
)

// AllEventTypes lists every known type in discriminator order.
var AllEventTypes = []EventType{
	EventTypeMarketCreated,
	EventTypeFeeSet,
	EventTypeFeeRecipientSet,
	EventTypeSupplied,
	EventTypeWithdrawn,
	EventTypeBorrowed,
	EventTypeRepaid,
	EventTypeInterestAccrued,
	EventTypePremiumsAccrued,
	EventTypeCreditLineSet,
	EventTypeCycleClosed,
	EventTypeAccountSettled,
	EventTypeInsuranceFunded,
}

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	EventType EventType

	// Market context (nil for global events)
	MarketID *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// Wire-encoded event payload, see Encode
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	EventType() EventType

	// MarketID returns the market context (nil for global events)
	MarketID() *string

	// SourceSequence returns the upstream ordering key. Zero means unsequenced.
	SourceSequence() int64

	// EventTime is the versioned input time in unix seconds. The core runs the
	// ledger clock from it and never reads the wall clock.
	EventTime() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeMarketCreated:
		return "MarketCreated"
	case EventTypeFeeSet:
		return "FeeSet"
	case EventTypeFeeRecipientSet:
		return "FeeRecipientSet"
	case EventTypeSupplied:
		return "Supplied"
	case EventTypeWithdrawn:
		return "Withdrawn"
	case EventTypeBorrowed:
		return "Borrowed"
	case EventTypeRepaid:
		return "Repaid"
	case EventTypeInterestAccrued:
		return "InterestAccrued"
	case EventTypePremiumsAccrued:
		return "PremiumsAccrued"
	case EventTypeCreditLineSet:
		return "CreditLineSet"
	case EventTypeCycleClosed:
		return "CycleClosed"
	case EventTypeAccountSettled:
		return "AccountSettled"
	case EventTypeInsuranceFunded:
		return "InsuranceFunded"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String.
func ParseEventType(name string) (EventType, error) {
	for _, et := range AllEventTypes {
		if et.String() == name {
			return et, nil
		}
	}
	return EventTypeUnknown, fmt.Errorf("unknown event type: %s", name)
}
