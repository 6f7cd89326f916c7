package event

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// CreditLineSet sets a borrower's limit and premium rate (WAD per second).
type CreditLineSet struct {
	Header
	Caller      uuid.UUID
	Market      string
	Borrower    uuid.UUID
	Limit       *uint256.Int
	PremiumRate *uint256.Int
}

func (e *CreditLineSet) EventType() EventType { return EventTypeCreditLineSet }
func (e *CreditLineSet) MarketID() *string    { return &e.Market }

// PremiumsAccrued accrues premium and penalty for a batch of borrowers.
type PremiumsAccrued struct {
	Header
	Market    string
	Borrowers []uuid.UUID
}

func (e *PremiumsAccrued) EventType() EventType { return EventTypePremiumsAccrued }
func (e *PremiumsAccrued) MarketID() *string    { return &e.Market }

// Obligation is one borrower's line in a cycle close.
type Obligation struct {
	Borrower      uuid.UUID
	RepaymentBps  uint64
	EndingBalance *uint256.Int
}

// CycleClosed closes a payment cycle at EndDate and posts obligations.
type CycleClosed struct {
	Header
	Caller      uuid.UUID
	Market      string
	EndDate     int64
	Obligations []Obligation
}

func (e *CycleClosed) EventType() EventType { return EventTypeCycleClosed }
func (e *CycleClosed) MarketID() *string    { return &e.Market }

// AccountSettled covers up to Coverage of the borrower's debt from the
// insurance fund and writes off the rest.
type AccountSettled struct {
	Header
	Caller   uuid.UUID
	Market   string
	Borrower uuid.UUID
	Coverage *uint256.Int
}

func (e *AccountSettled) EventType() EventType { return EventTypeAccountSettled }
func (e *AccountSettled) MarketID() *string    { return &e.Market }

// InsuranceFunded moves assets from outside into the insurance fund of Asset.
type InsuranceFunded struct {
	Header
	Asset  string
	Amount *uint256.Int
}

func (e *InsuranceFunded) EventType() EventType { return EventTypeInsuranceFunded }
func (e *InsuranceFunded) MarketID() *string    { return nil } // Global event
