package state

import (
	fpmath "CreditLedger/internal/math"

	"github.com/holiman/uint256"
)

// BorrowerPremium is the per-borrower premium snapshot.
// The accrual clock starts when debt first becomes positive; LastAccrualTime == 0
// means the clock has not started.
type BorrowerPremium struct {
	Rate                      *uint256.Int // WAD per second
	LastAccrualTime           int64
	BorrowAssetsAtLastAccrual *uint256.Int
}

func NewBorrowerPremium(rate *uint256.Int) *BorrowerPremium {
	return &BorrowerPremium{
		Rate:                      rate.Clone(),
		BorrowAssetsAtLastAccrual: fpmath.Zero(),
	}
}

func (b *BorrowerPremium) Clone() *BorrowerPremium {
	return &BorrowerPremium{
		Rate:                      b.Rate.Clone(),
		LastAccrualTime:           b.LastAccrualTime,
		BorrowAssetsAtLastAccrual: b.BorrowAssetsAtLastAccrual.Clone(),
	}
}

// Started reports whether the accrual clock is running.
func (b *BorrowerPremium) Started() bool {
	return b.LastAccrualTime != 0
}

// Snapshot moves the accrual base to (now, debt).
func (b *BorrowerPremium) Snapshot(now int64, debt *uint256.Int) {
	b.LastAccrualTime = now
	b.BorrowAssetsAtLastAccrual = debt.Clone()
}

// Stop clears the accrual clock, keeping the rate.
func (b *BorrowerPremium) Stop() {
	b.LastAccrualTime = 0
	b.BorrowAssetsAtLastAccrual = fpmath.Zero()
}

// ComputePremium returns the premium owed between the last snapshot and now:
// BorrowAssetsAtLastAccrual * Rate * elapsed, rounded down.
func ComputePremium(b *BorrowerPremium, now int64) *uint256.Int {
	if b == nil || !b.Started() || now <= b.LastAccrualTime {
		return fpmath.Zero()
	}
	return fpmath.LinearAccrual(b.BorrowAssetsAtLastAccrual, b.Rate, uint64(now-b.LastAccrualTime))
}

// PenaltyWindowStart returns the first second penalty may be charged for:
// the later of the last accrual and the end of the grace window.
func PenaltyWindowStart(lastAccrual, cycleEnd, grace int64) int64 {
	overdueFrom := cycleEnd + grace
	if lastAccrual > overdueFrom {
		return lastAccrual
	}
	return overdueFrom
}

// ComputePenalty returns the penalty interest owed on an overdue obligation.
// It is charged on EndingBalance and only over the overdue window, so a
// snapshot taken before the cycle closed does not extend the window backwards.
func ComputePenalty(obl *RepaymentObligation, status RepaymentStatus, cycleEnd, grace, lastAccrual, now int64, penaltyRate *uint256.Int) *uint256.Int {
	if obl == nil || !obl.IsOutstanding() || penaltyRate == nil || penaltyRate.IsZero() {
		return fpmath.Zero()
	}
	if status != StatusDelinquent && status != StatusDefault {
		return fpmath.Zero()
	}
	from := PenaltyWindowStart(lastAccrual, cycleEnd, grace)
	if now <= from {
		return fpmath.Zero()
	}
	return fpmath.LinearAccrual(obl.EndingBalance, penaltyRate, uint64(now-from))
}
