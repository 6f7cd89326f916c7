package creditline_test

import (
	"testing"

	"CreditLedger/internal/credit"
	"CreditLedger/internal/creditline"
	"CreditLedger/internal/irm"
	"CreditLedger/internal/markdown"
	fpmath "CreditLedger/internal/math"
	"CreditLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	day      = int64(24 * 3600)
	start    = int64(1_700_000_000)
	marketID = "usdc-credit"
)

type manualClock struct{ now int64 }

func (c *manualClock) Now() int64 { return c.now }

type env struct {
	ledger    *credit.Ledger
	line      *creditline.CreditLine
	clock     *manualClock
	authority uuid.UUID
	lender    uuid.UUID
	borrower  uuid.UUID
}

func e18(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), fpmath.WAD)
}

func newEnv(t *testing.T) *env {
	t.Helper()
	params := state.DefaultProtocolParams()
	params.MinCreditLine = e18(10)
	params.MaxCreditLine = e18(1_000_000)
	cfg, err := state.NewStaticProtocolConfig(params)
	require.NoError(t, err)

	e := &env{
		clock:     &manualClock{now: start},
		authority: uuid.New(),
		lender:    uuid.New(),
		borrower:  uuid.New(),
	}
	e.ledger = credit.NewLedger(uuid.New(), e.clock, cfg)
	e.ledger.RegisterRateModel(irm.NameFixed, irm.NewFixed(fpmath.Zero()))
	e.ledger.RegisterMarkdownPolicy(markdown.NameNone, markdown.None{})
	require.NoError(t, e.ledger.CreateMarket(state.MarketParams{
		ID: marketID, LoanToken: "USDC", CreditLineAuthority: e.authority,
		IRM: irm.NameFixed, MarkdownPolicy: markdown.NameNone,
	}))
	e.line = creditline.New(e.ledger, cfg)

	_, _, err = e.ledger.Supply(marketID, e18(10_000), nil, e.lender)
	require.NoError(t, err)
	_, err = e.line.CloseCycle(e.authority, marketID, start, nil, nil, nil)
	require.NoError(t, err)
	return e
}

func (e *env) borrow(t *testing.T, amount *uint256.Int) {
	t.Helper()
	require.NoError(t, e.line.SetCreditLine(e.authority, marketID, e.borrower, e18(5000), nil))
	_, _, err := e.ledger.Borrow(e.borrower, marketID, amount, nil, e.borrower, e.borrower)
	require.NoError(t, err)
}

// ============================================================================
// Credit line bounds
// ============================================================================

func TestSetCreditLine_Bounds(t *testing.T) {
	e := newEnv(t)

	err := e.line.SetCreditLine(e.authority, marketID, e.borrower, e18(5), nil)
	assert.ErrorIs(t, err, credit.ErrInvalidCreditLine)

	err = e.line.SetCreditLine(e.authority, marketID, e.borrower, e18(2_000_000), nil)
	assert.ErrorIs(t, err, credit.ErrInvalidCreditLine)

	tooFast := new(uint256.Int).AddUint64(state.DefaultProtocolParams().MaxPremiumRate, 1)
	err = e.line.SetCreditLine(e.authority, marketID, e.borrower, e18(100), tooFast)
	assert.ErrorIs(t, err, credit.ErrInvalidCreditLine)

	require.NoError(t, e.line.SetCreditLine(e.authority, marketID, e.borrower, e18(100), nil))
	require.NoError(t, e.line.SetCreditLine(e.authority, marketID, e.borrower, nil, nil), "zero closes the line")
}

// ============================================================================
// Settlement with insurance
// ============================================================================

func TestSettle_FullInsuranceCoverage(t *testing.T) {
	e := newEnv(t)
	X := e18(1000)
	e.borrow(t, X)
	require.NoError(t, e.line.FundInsurance("USDC", X))

	res, err := e.line.Settle(e.authority, marketID, e.borrower, X)
	require.NoError(t, err)
	assert.Equal(t, X, res.Covered)
	assert.True(t, res.WrittenOffAssets.IsZero())
	assert.True(t, res.WrittenOffShares.IsZero())
	assert.True(t, e.line.InsuranceBalance("USDC").IsZero())

	pos := e.ledger.Position(marketID, e.borrower)
	assert.True(t, pos.BorrowShares.IsZero())
	assert.True(t, pos.CreditLimit.IsZero())
	_, hasPremium := e.ledger.BorrowerPremium(marketID, e.borrower)
	assert.False(t, hasPremium)

	m, _ := e.ledger.Market(marketID)
	assert.Equal(t, e18(10_000), m.TotalSupplyAssets, "suppliers made whole")

	again, err := e.line.Settle(e.authority, marketID, e.borrower, X)
	require.NoError(t, err)
	assert.True(t, again.Covered.IsZero())
	assert.True(t, again.WrittenOffAssets.IsZero())
	assert.True(t, again.WrittenOffShares.IsZero())
	require.NoError(t, e.ledger.CheckInvariants(marketID))
}

func TestSettle_PartialInsuranceCoverage(t *testing.T) {
	e := newEnv(t)
	e.borrow(t, e18(1000))
	require.NoError(t, e.line.FundInsurance("USDC", e18(300)))

	res, err := e.line.Settle(e.authority, marketID, e.borrower, e18(1000))
	require.NoError(t, err)
	assert.Equal(t, e18(300), res.Covered)
	assert.Equal(t, e18(700), res.WrittenOffAssets)

	m, _ := e.ledger.Market(marketID)
	assert.Equal(t, e18(9300), m.TotalSupplyAssets)
	require.NoError(t, e.ledger.CheckInvariants(marketID))
}

// defaulted borrows 1000 and posts a full obligation for it, then moves the
// clock to the start of default with a fresh cycle open.
func (e *env) defaulted(t *testing.T) {
	t.Helper()
	e.borrow(t, e18(1000))
	p := state.DefaultProtocolParams()
	cycleEnd := start + p.CycleDuration
	e.clock.now = cycleEnd
	_, err := e.line.CloseCycle(e.authority, marketID, cycleEnd,
		[]uuid.UUID{e.borrower}, []uint64{10_000}, []*uint256.Int{e18(1000)})
	require.NoError(t, err)

	e.clock.now = cycleEnd + p.GracePeriod + p.DelinquencyPeriod
	_, err = e.line.CloseCycle(e.authority, marketID, e.clock.now, nil, nil, nil)
	require.NoError(t, err)
}

func TestSettle_CoverageBelowAmountDue(t *testing.T) {
	e := newEnv(t)
	e.defaulted(t)
	require.NoError(t, e.line.FundInsurance("USDC", e18(50)))

	res, err := e.line.Settle(e.authority, marketID, e.borrower, e18(1000))
	require.NoError(t, err)
	assert.Equal(t, e18(50), res.Covered)
	assert.Equal(t, e18(950), res.WrittenOffAssets)
	assert.True(t, e.line.InsuranceBalance("USDC").IsZero())

	_, hasObligation := e.ledger.RepaymentObligation(marketID, e.borrower)
	assert.False(t, hasObligation)
	require.NoError(t, e.ledger.CheckInvariants(marketID))
}

func TestSettle_FrozenMarket(t *testing.T) {
	e := newEnv(t)
	e.defaulted(t)
	e.clock.now += state.DefaultProtocolParams().CycleDuration + 1
	frozen, err := e.ledger.IsMarketFrozen(marketID)
	require.NoError(t, err)
	require.True(t, frozen)
	require.NoError(t, e.line.FundInsurance("USDC", e18(5000)))

	res, err := e.line.Settle(e.authority, marketID, e.borrower, e18(5000))
	require.NoError(t, err)
	assert.Equal(t, e18(1000), res.Covered)
	assert.True(t, res.WrittenOffAssets.IsZero())
	assert.Equal(t, e18(4000), e.line.InsuranceBalance("USDC"))
	require.NoError(t, e.ledger.CheckInvariants(marketID))
}

func TestSettle_NoRequestedCoverage(t *testing.T) {
	e := newEnv(t)
	e.borrow(t, e18(1000))
	require.NoError(t, e.line.FundInsurance("USDC", e18(5000)))

	res, err := e.line.Settle(e.authority, marketID, e.borrower, nil)
	require.NoError(t, err)
	assert.True(t, res.Covered.IsZero())
	assert.Equal(t, e18(1000), res.WrittenOffAssets)
	assert.Equal(t, e18(5000), e.line.InsuranceBalance("USDC"))
}

func TestSettle_UnauthorizedTouchesNothing(t *testing.T) {
	e := newEnv(t)
	e.borrow(t, e18(1000))
	require.NoError(t, e.line.FundInsurance("USDC", e18(1000)))

	_, err := e.line.Settle(uuid.New(), marketID, e.borrower, e18(1000))
	assert.ErrorIs(t, err, credit.ErrUnauthorized)
	assert.Equal(t, e18(1000), e.line.InsuranceBalance("USDC"))
}

func TestFundInsurance_RejectsZero(t *testing.T) {
	e := newEnv(t)
	assert.ErrorIs(t, e.line.FundInsurance("USDC", nil), credit.ErrInconsistentInput)
}

func TestFunds_RestoreRoundTrip(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.line.FundInsurance("USDC", e18(5)))
	require.NoError(t, e.line.FundInsurance("DAI", e18(7)))

	funds := e.line.Funds()
	require.Len(t, funds, 2)
	assert.Equal(t, "DAI", funds[0].Asset)

	other := creditline.New(e.ledger, nil)
	other.RestoreFunds(funds)
	assert.Equal(t, e18(7), other.InsuranceBalance("DAI"))
}
