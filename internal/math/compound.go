package math

import "github.com/holiman/uint256"

// WTaylorCompounded returns the sum of the first three non-zero terms of the
// Taylor expansion of e^(rate*elapsed) - 1, WAD-scaled. It approximates
// continuous compounding of a per-second rate over elapsed seconds and always
// under-estimates, so borrowers are never charged above the continuous rate.
func WTaylorCompounded(rate *uint256.Int, elapsed uint64) *uint256.Int {
	firstTerm := new(uint256.Int).Mul(rate, uint256.NewInt(elapsed))

	// secondTerm = firstTerm^2 / (2 * WAD)
	secondTerm := MulDivDown(firstTerm, firstTerm, new(uint256.Int).Mul(uint256.NewInt(2), WAD))

	// thirdTerm = secondTerm * firstTerm / (3 * WAD)
	thirdTerm := MulDivDown(secondTerm, firstTerm, new(uint256.Int).Mul(uint256.NewInt(3), WAD))

	result := new(uint256.Int).Add(firstTerm, secondTerm)
	return result.Add(result, thirdTerm)
}

// LinearAccrual returns floor(principal * rate * elapsed / WAD): simple interest
// for a per-second WAD rate. Compounding comes from re-basing the principal at
// every accrual.
func LinearAccrual(principal, rate *uint256.Int, elapsed uint64) *uint256.Int {
	if principal.IsZero() || rate.IsZero() || elapsed == 0 {
		return Zero()
	}
	rateTimesElapsed := new(uint256.Int).Mul(rate, uint256.NewInt(elapsed))
	return WMulDown(principal, rateTimesElapsed)
}

// InterestSplit separates accrued interest into the fee portion and the remainder.
type InterestSplit struct {
	Interest  *uint256.Int
	FeeAmount *uint256.Int
}

// SplitFee applies a WAD fee to interest, rounding the fee down.
func SplitFee(interest, fee *uint256.Int) InterestSplit {
	feeAmount := Zero()
	if !fee.IsZero() {
		feeAmount = WMulDown(interest, fee)
	}
	return InterestSplit{Interest: interest.Clone(), FeeAmount: feeAmount}
}
