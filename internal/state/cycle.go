package state

import (
	fpmath "CreditLedger/internal/math"

	"github.com/holiman/uint256"
)

// PaymentCycle is one closed cycle. Cycles are append-only per market and
// their index is the cycle id.
type PaymentCycle struct {
	EndDate int64
}

// RepaymentObligation is the live obligation of a borrower after a cycle close.
type RepaymentObligation struct {
	CycleID       uint64
	AmountDue     *uint256.Int
	EndingBalance *uint256.Int
}

func (o *RepaymentObligation) Clone() *RepaymentObligation {
	return &RepaymentObligation{
		CycleID:       o.CycleID,
		AmountDue:     o.AmountDue.Clone(),
		EndingBalance: o.EndingBalance.Clone(),
	}
}

// IsOutstanding reports whether anything is still due. An obligation posted
// with zero repayment behaves as no obligation.
func (o *RepaymentObligation) IsOutstanding() bool {
	return o != nil && !o.AmountDue.IsZero()
}

// ComputeAmountDue returns endingBalance * bps / 10000, rounded down.
func ComputeAmountDue(endingBalance *uint256.Int, repaymentBps uint64) *uint256.Int {
	return fpmath.MulDivDown(endingBalance, uint256.NewInt(repaymentBps), fpmath.BPS)
}

// RepaymentStatus is derived from the obligation's cycle end and the global
// grace and delinquency windows. It is never stored.
type RepaymentStatus int

const (
	StatusCurrent RepaymentStatus = iota
	StatusGracePeriod
	StatusDelinquent
	StatusDefault
)

func (s RepaymentStatus) String() string {
	switch s {
	case StatusCurrent:
		return "current"
	case StatusGracePeriod:
		return "grace_period"
	case StatusDelinquent:
		return "delinquent"
	case StatusDefault:
		return "default"
	default:
		return "unknown"
	}
}

// DeriveRepaymentStatus returns the status and the time it began.
//
//	now <= end+grace                    GracePeriod since end
//	end+grace < now < end+grace+delinq  Delinquent since end+grace
//	now >= end+grace+delinq             Default since end+grace+delinq
//
// Without an outstanding obligation the result is (Current, 0).
func DeriveRepaymentStatus(obl *RepaymentObligation, cycleEnd, grace, delinquency, now int64) (RepaymentStatus, int64) {
	if !obl.IsOutstanding() {
		return StatusCurrent, 0
	}
	graceEnd := cycleEnd + grace
	if now <= graceEnd {
		return StatusGracePeriod, cycleEnd
	}
	defaultStart := graceEnd + delinquency
	if now < defaultStart {
		return StatusDelinquent, graceEnd
	}
	return StatusDefault, defaultStart
}

// IsFrozen reports whether borrow and repay are closed: no cycle has been posted,
// or the latest cycle's window has elapsed. With cycleDuration == 0 the market
// freezes right after the last end date.
func IsFrozen(cycles []PaymentCycle, cycleDuration, now int64) bool {
	if len(cycles) == 0 {
		return true
	}
	return now > cycles[len(cycles)-1].EndDate+cycleDuration
}

// NextCycleAllowed reports whether endDate may be appended. Cycle 0 is unconstrained.
func NextCycleAllowed(cycles []PaymentCycle, endDate, cycleDuration int64) bool {
	if len(cycles) == 0 {
		return true
	}
	return endDate >= cycles[len(cycles)-1].EndDate+cycleDuration
}
