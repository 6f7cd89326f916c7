package credit_test

import (
	"testing"

	"CreditLedger/internal/credit"
	"CreditLedger/internal/irm"
	fpmath "CreditLedger/internal/math"
	"CreditLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

const (
	day      = int64(24 * 3600)
	start    = int64(1_700_000_000)
	marketID = "usdc-credit"
)

type manualClock struct{ now int64 }

func (c *manualClock) Now() int64 { return c.now }

// policyStub returns whatever amount the test sets, optionally calling back
// into the ledger.
type policyStub struct {
	amount   *uint256.Int
	calls    int
	reenter  *credit.Ledger
	lastTime uint64
}

func (p *policyStub) CalculateMarkdown(_ uuid.UUID, _ *uint256.Int, timeInDefault uint64) (*uint256.Int, error) {
	p.calls++
	p.lastTime = timeInDefault
	if p.reenter != nil {
		if err := p.reenter.AccrueInterest(marketID); err != nil {
			return nil, err
		}
	}
	if p.amount == nil {
		return fpmath.Zero(), nil
	}
	return p.amount.Clone(), nil
}

type fixture struct {
	l         *credit.Ledger
	clock     *manualClock
	policy    *policyStub
	params    state.ProtocolParams
	owner     uuid.UUID
	authority uuid.UUID
	lender    uuid.UUID
	borrower  uuid.UUID
}

func newFixture(t *testing.T, tweak ...func(*state.ProtocolParams)) *fixture {
	t.Helper()
	params := state.DefaultProtocolParams()
	for _, fn := range tweak {
		fn(&params)
	}
	cfg, err := state.NewStaticProtocolConfig(params)
	require.NoError(t, err)

	f := &fixture{
		clock:     &manualClock{now: start},
		policy:    &policyStub{},
		params:    params,
		owner:     uuid.New(),
		authority: uuid.New(),
		lender:    uuid.New(),
		borrower:  uuid.New(),
	}
	f.l = credit.NewLedger(f.owner, f.clock, cfg)
	f.l.RegisterRateModel(irm.NameFixed, irm.NewFixed(fpmath.Zero()))
	f.l.RegisterMarkdownPolicy("stub", f.policy)

	require.NoError(t, f.l.CreateMarket(state.MarketParams{
		ID:                  marketID,
		LoanToken:           "USDC",
		CreditLineAuthority: f.authority,
		IRM:                 irm.NameFixed,
		MarkdownPolicy:      "stub",
	}))
	return f
}

func (f *fixture) advance(seconds int64) { f.clock.now += seconds }

func (f *fixture) at(ts int64) { f.clock.now = ts }

func mustSupply(t *testing.T, f *fixture, assets *uint256.Int) {
	t.Helper()
	_, _, err := f.l.Supply(marketID, assets, nil, f.lender)
	require.NoError(t, err)
}

func mustSetCreditLine(t *testing.T, f *fixture, limit, rate *uint256.Int) {
	t.Helper()
	require.NoError(t, f.l.SetCreditLine(f.authority, marketID, f.borrower, limit, rate))
}

// mustOpenCycle posts an empty cycle ending now, unfreezing the market.
func mustOpenCycle(t *testing.T, f *fixture) uint64 {
	t.Helper()
	id, err := f.l.CloseCycleAndPostObligations(f.authority, marketID, f.clock.now, nil, nil, nil)
	require.NoError(t, err)
	return id
}

func mustBorrow(t *testing.T, f *fixture, assets *uint256.Int) {
	t.Helper()
	_, _, err := f.l.Borrow(f.borrower, marketID, assets, nil, f.borrower, f.borrower)
	require.NoError(t, err)
}

func mustPostObligation(t *testing.T, f *fixture, endDate int64, bps uint64, endingBalance *uint256.Int) uint64 {
	t.Helper()
	id, err := f.l.CloseCycleAndPostObligations(f.authority, marketID, endDate,
		[]uuid.UUID{f.borrower}, []uint64{bps}, []*uint256.Int{endingBalance})
	require.NoError(t, err)
	return id
}

func mustDebt(t *testing.T, f *fixture) *uint256.Int {
	t.Helper()
	debt, err := f.l.BorrowerDebt(marketID, f.borrower)
	require.NoError(t, err)
	return debt
}

func requireInvariants(t *testing.T, f *fixture) {
	t.Helper()
	require.NoError(t, f.l.CheckInvariants(marketID))
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func e18(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(u(v), fpmath.WAD)
}
