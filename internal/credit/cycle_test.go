package credit_test

import (
	"testing"

	"CreditLedger/internal/credit"
	fpmath "CreditLedger/internal/math"
	"CreditLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Cycle closing
// ============================================================================

func TestCloseCycle_SpacingEnforcedFromSecondCycle(t *testing.T) {
	f := newFixture(t)

	id := mustOpenCycle(t, f)
	assert.Equal(t, uint64(0), id)

	_, err := f.l.CloseCycleAndPostObligations(f.authority, marketID, start+f.params.CycleDuration-1, nil, nil, nil)
	assert.ErrorIs(t, err, credit.ErrInvalidCycleDuration)

	id, err = f.l.CloseCycleAndPostObligations(f.authority, marketID, start+f.params.CycleDuration, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	assert.Len(t, f.l.PaymentCycles(marketID), 2)
	requireInvariants(t, f)
}

func TestCloseCycle_InputValidation(t *testing.T) {
	f := newFixture(t)
	borrowers := []uuid.UUID{f.borrower}

	_, err := f.l.CloseCycleAndPostObligations(uuid.New(), marketID, start, nil, nil, nil)
	assert.ErrorIs(t, err, credit.ErrUnauthorized)

	_, err = f.l.CloseCycleAndPostObligations(f.authority, marketID, start, borrowers, []uint64{1000}, nil)
	assert.ErrorIs(t, err, credit.ErrInconsistentInput)

	_, err = f.l.CloseCycleAndPostObligations(f.authority, marketID, start, borrowers, []uint64{10_001}, []*uint256.Int{e18(1)})
	assert.ErrorIs(t, err, credit.ErrInvalidRepaymentBps)

	assert.Empty(t, f.l.PaymentCycles(marketID))
}

func TestCloseCycle_ZeroDurationFreezesForGood(t *testing.T) {
	f := newFixture(t, func(p *state.ProtocolParams) { p.CycleDuration = 0 })
	mustOpenCycle(t, f)

	frozen, _ := f.l.IsMarketFrozen(marketID)
	assert.False(t, frozen)

	f.advance(1)
	frozen, _ = f.l.IsMarketFrozen(marketID)
	assert.True(t, frozen)

	f.advance(365 * day)
	frozen, _ = f.l.IsMarketFrozen(marketID)
	assert.True(t, frozen)
}

// ============================================================================
// Obligation lifecycle
// ============================================================================

func TestObligationLifecycle(t *testing.T) {
	f := newFixture(t)
	mustSupply(t, f, e18(100_000))
	mustSetCreditLine(t, f, e18(20_000), nil)
	mustOpenCycle(t, f)
	mustBorrow(t, f, e18(10_000))

	cycleEnd := start + 30*day
	f.at(cycleEnd)
	id := mustPostObligation(t, f, cycleEnd, 1000, e18(10_000))

	obl, ok := f.l.RepaymentObligation(marketID, f.borrower)
	require.True(t, ok)
	assert.Equal(t, id, obl.CycleID)
	assert.Equal(t, e18(1000), obl.AmountDue)
	assert.Equal(t, e18(10_000), obl.EndingBalance)

	grace, delinquency := f.params.GracePeriod, f.params.DelinquencyPeriod
	steps := []struct {
		now       int64
		wantState state.RepaymentStatus
		wantSince int64
	}{
		{cycleEnd + 1, state.StatusGracePeriod, cycleEnd},
		{cycleEnd + grace, state.StatusGracePeriod, cycleEnd},
		{cycleEnd + grace + 1, state.StatusDelinquent, cycleEnd + grace},
		{cycleEnd + grace + delinquency - 1, state.StatusDelinquent, cycleEnd + grace},
		{cycleEnd + grace + delinquency, state.StatusDefault, cycleEnd + grace + delinquency},
		{cycleEnd + grace + delinquency + 90*day, state.StatusDefault, cycleEnd + grace + delinquency},
	}
	for _, step := range steps {
		f.at(step.now)
		status, since, err := f.l.GetRepaymentStatus(marketID, f.borrower)
		require.NoError(t, err)
		assert.Equal(t, step.wantState, status, "at +%ds", step.now-cycleEnd)
		assert.Equal(t, step.wantSince, since, "at +%ds", step.now-cycleEnd)
	}
}

func TestObligation_BlocksBorrowUntilPaid(t *testing.T) {
	f := newFixture(t)
	mustSupply(t, f, e18(100_000))
	mustSetCreditLine(t, f, e18(20_000), nil)
	mustOpenCycle(t, f)
	mustBorrow(t, f, e18(10_000))

	cycleEnd := start + 30*day
	f.at(cycleEnd)
	mustPostObligation(t, f, cycleEnd, 1000, e18(10_000))
	f.advance(day)

	_, _, err := f.l.Borrow(f.borrower, marketID, e18(1), nil, f.borrower, f.borrower)
	assert.ErrorIs(t, err, credit.ErrOutstandingRepayment)

	before := f.l.Position(marketID, f.borrower)
	_, _, err = f.l.Repay(marketID, e18(999), nil, f.borrower)
	assert.ErrorIs(t, err, credit.ErrMustPayFullObligation)
	assert.Equal(t, before, f.l.Position(marketID, f.borrower), "failed repay leaves position untouched")

	assets, _, err := f.l.Repay(marketID, e18(1000), nil, f.borrower)
	require.NoError(t, err)
	assert.Equal(t, e18(1000), assets)

	_, ok := f.l.RepaymentObligation(marketID, f.borrower)
	assert.False(t, ok)
	status, since, _ := f.l.GetRepaymentStatus(marketID, f.borrower)
	assert.Equal(t, state.StatusCurrent, status)
	assert.Equal(t, int64(0), since)
	assert.Equal(t, e18(9000), mustDebt(t, f))

	mustBorrow(t, f, e18(1))
	requireInvariants(t, f)
}

func TestObligation_ShareRepaymentCheckedByAssetValue(t *testing.T) {
	f := newFixture(t)
	mustSupply(t, f, e18(100_000))
	mustSetCreditLine(t, f, e18(20_000), nil)
	mustOpenCycle(t, f)
	mustBorrow(t, f, e18(10_000))

	cycleEnd := start + 30*day
	f.at(cycleEnd)
	mustPostObligation(t, f, cycleEnd, 1000, e18(10_000))

	m, err := f.l.Market(marketID)
	require.NoError(t, err)
	shares := fpmath.ToSharesUp(e18(1000), m.TotalBorrowAssets, m.TotalBorrowShares)

	// The assets parameter is zero; the converted value is what must cover AmountDue
	assets, repaid, err := f.l.Repay(marketID, nil, shares, f.borrower)
	require.NoError(t, err)
	assert.Equal(t, shares, repaid)
	assert.False(t, assets.Lt(e18(1000)))

	_, ok := f.l.RepaymentObligation(marketID, f.borrower)
	assert.False(t, ok)
	requireInvariants(t, f)
}

func TestObligation_FullRepayBelowAmountDueClears(t *testing.T) {
	f := newFixture(t)
	mustSupply(t, f, e18(100_000))
	mustSetCreditLine(t, f, e18(20_000), nil)
	mustOpenCycle(t, f)
	mustBorrow(t, f, e18(500))

	cycleEnd := start + 30*day
	f.at(cycleEnd)
	// Authority reports a larger balance than the ledger holds
	mustPostObligation(t, f, cycleEnd, 10_000, e18(1000))

	assets, _, err := f.l.Repay(marketID, fpmath.MaxUint256(), nil, f.borrower)
	require.NoError(t, err)
	assert.Equal(t, e18(500), assets)
	_, ok := f.l.RepaymentObligation(marketID, f.borrower)
	assert.False(t, ok)
}

func TestObligation_ZeroBpsIsNoObligation(t *testing.T) {
	f := newFixture(t)
	mustSupply(t, f, e18(100_000))
	mustSetCreditLine(t, f, e18(20_000), nil)
	mustOpenCycle(t, f)
	mustBorrow(t, f, e18(500))

	f.at(start + 30*day)
	mustPostObligation(t, f, f.clock.now, 0, e18(500))

	_, ok := f.l.RepaymentObligation(marketID, f.borrower)
	assert.False(t, ok)
	mustBorrow(t, f, e18(1))
}

func TestObligation_NewCycleOverwrites(t *testing.T) {
	f := newFixture(t)
	mustSupply(t, f, e18(100_000))
	mustSetCreditLine(t, f, e18(20_000), nil)
	mustOpenCycle(t, f)
	mustBorrow(t, f, e18(10_000))

	f.at(start + 30*day)
	mustPostObligation(t, f, f.clock.now, 1000, e18(10_000))
	f.at(start + 60*day)
	id := mustPostObligation(t, f, f.clock.now, 500, e18(10_000))

	obl, ok := f.l.RepaymentObligation(marketID, f.borrower)
	require.True(t, ok)
	assert.Equal(t, id, obl.CycleID)
	assert.Equal(t, e18(500), obl.AmountDue)
}
