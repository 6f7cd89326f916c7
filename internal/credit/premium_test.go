package credit_test

import (
	"testing"

	"CreditLedger/internal/credit"
	fpmath "CreditLedger/internal/math"
	"CreditLedger/internal/state"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ratePerSecond = 1_000_000_000 // 1e-9 per second

func TestSetCreditLine_RateChangeSettlesOldRateFirst(t *testing.T) {
	f := newFixture(t)
	mustSupply(t, f, e18(10_000))
	mustSetCreditLine(t, f, e18(5000), u(ratePerSecond))
	mustOpenCycle(t, f)
	mustBorrow(t, f, e18(1000))

	f.advance(10 * day)
	mustSetCreditLine(t, f, e18(5000), u(3*ratePerSecond))

	oldRate := fpmath.LinearAccrual(e18(1000), u(ratePerSecond), uint64(10*day))
	debt := fpmath.MustAdd(e18(1000), oldRate)
	assert.Equal(t, debt, mustDebt(t, f))

	prem, _ := f.l.BorrowerPremium(marketID, f.borrower)
	assert.Equal(t, f.clock.now, prem.LastAccrualTime)
	assert.Equal(t, debt, prem.BorrowAssetsAtLastAccrual)
	assert.Equal(t, u(3*ratePerSecond), prem.Rate)

	f.advance(10 * day)
	require.NoError(t, f.l.AccrueBorrowerPremium(marketID, f.borrower))
	newRate := fpmath.LinearAccrual(debt, u(3*ratePerSecond), uint64(10*day))
	assert.Equal(t, fpmath.MustAdd(debt, newRate), mustDebt(t, f))
	requireInvariants(t, f)
}

func TestSetCreditLine_ZeroDebtOnlyStoresValues(t *testing.T) {
	f := newFixture(t)
	mustSetCreditLine(t, f, e18(5000), u(ratePerSecond))
	f.advance(day)
	mustSetCreditLine(t, f, e18(7000), u(2*ratePerSecond))

	prem, ok := f.l.BorrowerPremium(marketID, f.borrower)
	assert.False(t, ok)
	assert.Zero(t, prem.LastAccrualTime)
	assert.Equal(t, u(2*ratePerSecond), f.l.PremiumRate(marketID, f.borrower))
	assert.Equal(t, e18(7000), f.l.Position(marketID, f.borrower).CreditLimit)
}

func TestSetCreditLine_Unauthorized(t *testing.T) {
	f := newFixture(t)
	err := f.l.SetCreditLine(f.borrower, marketID, f.borrower, e18(1), nil)
	assert.ErrorIs(t, err, credit.ErrUnauthorized)
}

func TestAccruePremiums_Batch(t *testing.T) {
	f := newFixture(t)
	mustSupply(t, f, e18(10_000))
	mustOpenCycle(t, f)

	other := uuid.New()
	for _, b := range []uuid.UUID{f.borrower, other} {
		require.NoError(t, f.l.SetCreditLine(f.authority, marketID, b, e18(5000), u(ratePerSecond)))
		_, _, err := f.l.Borrow(b, marketID, e18(1000), nil, b, b)
		require.NoError(t, err)
	}

	f.advance(day)
	require.NoError(t, f.l.AccruePremiumsForBorrowers(marketID, []uuid.UUID{f.borrower, other}))

	want := fpmath.MustAdd(e18(1000), fpmath.LinearAccrual(e18(1000), u(ratePerSecond), uint64(day)))
	for _, b := range []uuid.UUID{f.borrower, other} {
		debt, err := f.l.BorrowerDebt(marketID, b)
		require.NoError(t, err)
		assert.Equal(t, want, debt)
	}
	requireInvariants(t, f)
}

// ============================================================================
// Penalty over the overdue window
// ============================================================================

func TestPenalty_LastAccrualBeforeCycleEnd(t *testing.T) {
	penaltyRate := u(ratePerSecond)
	f := newFixture(t, func(p *state.ProtocolParams) { p.PenaltyRate = penaltyRate })
	mustSupply(t, f, e18(100_000))
	mustSetCreditLine(t, f, e18(20_000), nil)
	mustOpenCycle(t, f)
	mustBorrow(t, f, e18(10_000))

	// Close a day before the end date so the premium snapshot predates cycleEnd.
	cycleEnd := start + f.params.CycleDuration
	f.at(cycleEnd - day)
	mustPostObligation(t, f, cycleEnd, 1000, e18(10_000))

	prem, _ := f.l.BorrowerPremium(marketID, f.borrower)
	require.Less(t, prem.LastAccrualTime, cycleEnd)

	overdueFrom := cycleEnd + f.params.GracePeriod
	f.at(overdueFrom + 2*day)
	require.NoError(t, f.l.AccrueBorrowerPremium(marketID, f.borrower))

	penalty := fpmath.LinearAccrual(e18(10_000), penaltyRate, uint64(2*day))
	assert.Equal(t, fpmath.MustAdd(e18(10_000), penalty), mustDebt(t, f))

	m, _ := f.l.Market(marketID)
	assert.Equal(t, fpmath.MustAdd(e18(10_000), penalty), m.TotalBorrowAssets)
	assert.Equal(t, fpmath.MustAdd(e18(100_000), penalty), m.TotalSupplyAssets)

	// Same second again: nothing more
	require.NoError(t, f.l.AccrueBorrowerPremium(marketID, f.borrower))
	assert.Equal(t, fpmath.MustAdd(e18(10_000), penalty), mustDebt(t, f))

	// One more day: only that day is charged
	f.advance(day)
	require.NoError(t, f.l.AccrueBorrowerPremium(marketID, f.borrower))
	extra := fpmath.LinearAccrual(e18(10_000), penaltyRate, uint64(day))
	assert.Equal(t, fpmath.MustAdd(fpmath.MustAdd(e18(10_000), penalty), extra), mustDebt(t, f))
	requireInvariants(t, f)
}

func TestPenalty_NoneDuringGrace(t *testing.T) {
	f := newFixture(t, func(p *state.ProtocolParams) { p.PenaltyRate = u(ratePerSecond) })
	mustSupply(t, f, e18(100_000))
	mustSetCreditLine(t, f, e18(20_000), nil)
	mustOpenCycle(t, f)
	mustBorrow(t, f, e18(10_000))

	cycleEnd := start + f.params.CycleDuration
	f.at(cycleEnd)
	mustPostObligation(t, f, cycleEnd, 1000, e18(10_000))

	f.at(cycleEnd + f.params.GracePeriod)
	require.NoError(t, f.l.AccrueBorrowerPremium(marketID, f.borrower))
	assert.Equal(t, e18(10_000), mustDebt(t, f))
}
