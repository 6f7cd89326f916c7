package credit_test

import (
	"testing"

	"CreditLedger/internal/credit"
	fpmath "CreditLedger/internal/math"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettle_WritesOffAndReversesMarkdown(t *testing.T) {
	f := newFixture(t)
	defaultedBorrower(t, f, 1000)

	f.policy.amount = e18(1000)
	require.NoError(t, f.l.AccrueBorrowerPremium(marketID, f.borrower))
	shares := f.l.Position(marketID, f.borrower).BorrowShares

	assets, written, err := f.l.SettleAccount(f.authority, marketID, f.borrower)
	require.NoError(t, err)
	assert.Equal(t, e18(1000), assets)
	assert.Equal(t, shares, written)

	m, _ := f.l.Market(marketID)
	assert.True(t, m.TotalBorrowAssets.IsZero())
	assert.True(t, m.TotalBorrowShares.IsZero())
	assert.True(t, m.TotalMarkdownAmount.IsZero())
	assert.Equal(t, e18(9000), m.TotalSupplyAssets, "suppliers absorb the loss once")

	pos := f.l.Position(marketID, f.borrower)
	assert.True(t, pos.BorrowShares.IsZero())
	assert.True(t, pos.CreditLimit.IsZero())
	_, hasPremium := f.l.BorrowerPremium(marketID, f.borrower)
	assert.False(t, hasPremium)
	_, hasObligation := f.l.RepaymentObligation(marketID, f.borrower)
	assert.False(t, hasObligation)
	requireInvariants(t, f)
}

func TestSettle_SecondCallReturnsZero(t *testing.T) {
	f := newFixture(t)
	defaultedBorrower(t, f, 1000)

	_, _, err := f.l.SettleAccount(f.authority, marketID, f.borrower)
	require.NoError(t, err)

	assets, shares, err := f.l.SettleAccount(f.authority, marketID, f.borrower)
	require.NoError(t, err)
	assert.True(t, assets.IsZero())
	assert.True(t, shares.IsZero())
	requireInvariants(t, f)
}

func TestSettle_ZeroDebtStillClearsCreditLine(t *testing.T) {
	f := newFixture(t)
	mustSetCreditLine(t, f, e18(500), fpmath.Zero())

	assets, shares, err := f.l.SettleAccount(f.authority, marketID, f.borrower)
	require.NoError(t, err)
	assert.True(t, assets.IsZero())
	assert.True(t, shares.IsZero())
	assert.True(t, f.l.Position(marketID, f.borrower).CreditLimit.IsZero())
}

func TestSettle_Unauthorized(t *testing.T) {
	f := newFixture(t)
	defaultedBorrower(t, f, 1000)

	_, _, err := f.l.SettleAccount(uuid.New(), marketID, f.borrower)
	assert.ErrorIs(t, err, credit.ErrUnauthorized)
	assert.Equal(t, e18(1000), mustDebt(t, f))
}

func TestCoverDebt_PartialKeepsObligation(t *testing.T) {
	f := newFixture(t)
	defaultedBorrower(t, f, 1000)

	_, _, err := f.l.Repay(marketID, e18(300), nil, f.borrower)
	require.ErrorIs(t, err, credit.ErrMustPayFullObligation)

	assets, _, err := f.l.CoverDebt(f.authority, marketID, e18(300), f.borrower)
	require.NoError(t, err)
	assert.Equal(t, e18(300), assets)
	assert.Equal(t, e18(700), mustDebt(t, f))

	obl, ok := f.l.RepaymentObligation(marketID, f.borrower)
	require.True(t, ok)
	assert.Equal(t, e18(1000), obl.AmountDue)
	requireInvariants(t, f)
}

func TestCoverDebt_FrozenMarket(t *testing.T) {
	f := newFixture(t)
	defaultedBorrower(t, f, 1000)
	f.advance(f.params.CycleDuration + 1)

	frozen, err := f.l.IsMarketFrozen(marketID)
	require.NoError(t, err)
	require.True(t, frozen)

	_, _, err = f.l.Repay(marketID, fpmath.MaxUint256(), nil, f.borrower)
	require.ErrorIs(t, err, credit.ErrMarketFrozen)

	assets, _, err := f.l.CoverDebt(f.authority, marketID, fpmath.MaxUint256(), f.borrower)
	require.NoError(t, err)
	assert.Equal(t, e18(1000), assets)
	assert.True(t, mustDebt(t, f).IsZero())
	_, hasObligation := f.l.RepaymentObligation(marketID, f.borrower)
	assert.False(t, hasObligation)
	requireInvariants(t, f)
}

func TestCoverDebt_Unauthorized(t *testing.T) {
	f := newFixture(t)
	defaultedBorrower(t, f, 1000)

	_, _, err := f.l.CoverDebt(f.borrower, marketID, e18(100), f.borrower)
	assert.ErrorIs(t, err, credit.ErrUnauthorized)
	assert.Equal(t, e18(1000), mustDebt(t, f))

	_, _, err = f.l.CoverDebt(f.authority, marketID, nil, f.borrower)
	assert.ErrorIs(t, err, credit.ErrInconsistentInput)
}
