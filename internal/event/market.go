package event

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// MarketCreated creates a market. Markets named in the protocol file are
// created through this event at bootstrap so replay sees them too.
type MarketCreated struct {
	Header
	Market              string
	LoanToken           string
	CreditLineAuthority uuid.UUID
	IRM                 string
	MarkdownPolicy      string
	Fee                 *uint256.Int // Optional initial fee, WAD
	Caller              uuid.UUID    // Must be the owner when Fee is non-zero
}

func (e *MarketCreated) EventType() EventType { return EventTypeMarketCreated }
func (e *MarketCreated) MarketID() *string    { return &e.Market }

// FeeSet changes the protocol fee of a market. Owner only.
type FeeSet struct {
	Header
	Caller uuid.UUID
	Market string
	Fee    *uint256.Int
}

func (e *FeeSet) EventType() EventType { return EventTypeFeeSet }
func (e *FeeSet) MarketID() *string    { return &e.Market }

// FeeRecipientSet changes the account credited with fee shares. Owner only.
type FeeRecipientSet struct {
	Header
	Caller    uuid.UUID
	Recipient uuid.UUID
}

func (e *FeeRecipientSet) EventType() EventType { return EventTypeFeeRecipientSet }
func (e *FeeRecipientSet) MarketID() *string    { return nil } // Global event

// InterestAccrued is a keeper poke that accrues market interest up to Timestamp.
type InterestAccrued struct {
	Header
	Market string
}

func (e *InterestAccrued) EventType() EventType { return EventTypeInterestAccrued }
func (e *InterestAccrued) MarketID() *string    { return &e.Market }
