package event

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Exactly one of Assets and Shares is non-zero on the lending events.

// Supplied moves loan assets from outside into the pool for OnBehalf.
type Supplied struct {
	Header
	Market   string
	Assets   *uint256.Int
	Shares   *uint256.Int
	OnBehalf uuid.UUID
}

func (e *Supplied) EventType() EventType { return EventTypeSupplied }
func (e *Supplied) MarketID() *string    { return &e.Market }

// Withdrawn redeems supply shares of OnBehalf to Receiver.
type Withdrawn struct {
	Header
	Caller   uuid.UUID
	Market   string
	Assets   *uint256.Int
	Shares   *uint256.Int
	OnBehalf uuid.UUID
	Receiver uuid.UUID
}

func (e *Withdrawn) EventType() EventType { return EventTypeWithdrawn }
func (e *Withdrawn) MarketID() *string    { return &e.Market }

// Borrowed draws against OnBehalf's credit line.
type Borrowed struct {
	Header
	Caller   uuid.UUID
	Market   string
	Assets   *uint256.Int
	Shares   *uint256.Int
	OnBehalf uuid.UUID
	Receiver uuid.UUID
}

func (e *Borrowed) EventType() EventType { return EventTypeBorrowed }
func (e *Borrowed) MarketID() *string    { return &e.Market }

// Repaid pays down OnBehalf's debt. Assets may be the MaxUint256 sentinel to
// repay everything.
type Repaid struct {
	Header
	Market   string
	Assets   *uint256.Int
	Shares   *uint256.Int
	OnBehalf uuid.UUID
}

func (e *Repaid) EventType() EventType { return EventTypeRepaid }
func (e *Repaid) MarketID() *string    { return &e.Market }
