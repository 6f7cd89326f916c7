package creditline

import (
	"fmt"
	"sort"

	"CreditLedger/internal/credit"
	fpmath "CreditLedger/internal/math"
	"CreditLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// CreditLine is the credit-line authority in front of the ledger. It checks
// credit lines against the protocol bounds and owns the insurance funds used
// to cover debt at settlement.
type CreditLine struct {
	ledger *credit.Ledger
	config credit.ProtocolConfig
	funds  map[string]*state.InsuranceFund
}

// SettlementResult is the outcome of Settle.
type SettlementResult struct {
	Covered          *uint256.Int // repaid from the insurance fund
	CoveredShares    *uint256.Int
	WrittenOffAssets *uint256.Int
	WrittenOffShares *uint256.Int
}

func New(ledger *credit.Ledger, config credit.ProtocolConfig) *CreditLine {
	return &CreditLine{
		ledger: ledger,
		config: config,
		funds:  make(map[string]*state.InsuranceFund),
	}
}

// ValidateCreditLine checks limit and premium rate against the protocol bounds.
// A zero limit is always allowed so a line can be closed.
func ValidateCreditLine(p state.ProtocolParams, limit, premiumRate *uint256.Int) error {
	if !limit.IsZero() && (limit.Lt(p.MinCreditLine) || limit.Gt(p.MaxCreditLine)) {
		return fmt.Errorf("%w: limit %s outside [%s, %s]",
			credit.ErrInvalidCreditLine, limit.Dec(), p.MinCreditLine.Dec(), p.MaxCreditLine.Dec())
	}
	if premiumRate.Gt(p.MaxPremiumRate) {
		return fmt.Errorf("%w: premium rate %s above %s",
			credit.ErrInvalidCreditLine, premiumRate.Dec(), p.MaxPremiumRate.Dec())
	}
	return nil
}

// SetCreditLine validates and stores a borrower's credit line.
func (c *CreditLine) SetCreditLine(caller uuid.UUID, marketID string, borrower uuid.UUID, limit, premiumRate *uint256.Int) error {
	if limit == nil {
		limit = fpmath.Zero()
	}
	if premiumRate == nil {
		premiumRate = fpmath.Zero()
	}
	if err := ValidateCreditLine(c.config.Params(), limit, premiumRate); err != nil {
		return err
	}
	return c.ledger.SetCreditLine(caller, marketID, borrower, limit, premiumRate)
}

// CloseCycle closes a payment cycle and posts obligations.
func (c *CreditLine) CloseCycle(caller uuid.UUID, marketID string, endDate int64, borrowers []uuid.UUID, repaymentBps []uint64, endingBalances []*uint256.Int) (uint64, error) {
	return c.ledger.CloseCycleAndPostObligations(caller, marketID, endDate, borrowers, repaymentBps, endingBalances)
}

// FundInsurance credits the insurance fund of asset.
func (c *CreditLine) FundInsurance(asset string, amount *uint256.Int) error {
	if asset == "" || amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: insurance funding needs an asset and a positive amount", credit.ErrInconsistentInput)
	}
	c.fund(asset).Deposit(amount)
	return nil
}

// InsuranceBalance returns the fund balance for asset.
func (c *CreditLine) InsuranceBalance(asset string) *uint256.Int {
	if f, ok := c.funds[asset]; ok {
		return f.Balance.Clone()
	}
	return fpmath.Zero()
}

// Settle covers up to min(fund, debt, requested) of the borrower's debt from the
// insurance fund, then writes off the rest. Coverage goes through
// Ledger.CoverDebt, so a frozen market or an obligation larger than the
// fund does not block it.
// A full cover is repaid by shares so no dust is left behind.
// A failure at any step leaves the ledger and the fund as they were.
func (c *CreditLine) Settle(caller uuid.UUID, marketID string, borrower uuid.UUID, requested *uint256.Int) (res SettlementResult, err error) {
	res = SettlementResult{
		Covered:       fpmath.Zero(),
		CoveredShares: fpmath.Zero(),
	}
	params, err := c.ledger.MarketParams(marketID)
	if err != nil {
		return res, err
	}
	if caller != params.CreditLineAuthority {
		return res, fmt.Errorf("%w: %s is not the credit line authority of %s", credit.ErrUnauthorized, caller, marketID)
	}
	if requested == nil {
		requested = fpmath.Zero()
	}

	fund := c.fund(params.LoanToken)
	fundBefore := fund.Balance.Clone()
	undo := c.ledger.Checkpoint(marketID, borrower)
	defer func() {
		if err != nil {
			undo()
			fund.Balance = fundBefore
		}
	}()

	if !requested.IsZero() {
		if err = c.ledger.AccrueBorrowerPremium(marketID, borrower); err != nil {
			return res, err
		}
		var debt *uint256.Int
		if debt, err = c.ledger.BorrowerDebt(marketID, borrower); err != nil {
			return res, err
		}
		covered, _ := fund.ComputeCoverage(fpmath.Min(debt, requested))

		if !covered.IsZero() {
			repayAssets := covered
			if covered.Eq(debt) {
				repayAssets = fpmath.MaxUint256()
			}
			assets, shares, repayErr := c.ledger.CoverDebt(caller, marketID, repayAssets, borrower)
			if repayErr != nil {
				err = fmt.Errorf("insurance repay: %w", repayErr)
				return res, err
			}
			fund.Withdraw(assets)
			res.Covered, res.CoveredShares = assets, shares
		}
	}

	res.WrittenOffAssets, res.WrittenOffShares, err = c.ledger.SettleAccount(caller, marketID, borrower)
	return res, err
}

func (c *CreditLine) fund(asset string) *state.InsuranceFund {
	f, ok := c.funds[asset]
	if !ok {
		f = state.NewInsuranceFund(asset)
		c.funds[asset] = f
	}
	return f
}

// Funds lists the insurance funds sorted by asset.
func (c *CreditLine) Funds() []state.InsuranceFund {
	out := make([]state.InsuranceFund, 0, len(c.funds))
	for _, f := range c.funds {
		out = append(out, state.InsuranceFund{Asset: f.Asset, Balance: f.Balance.Clone()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// RestoreFunds replaces every fund balance.
func (c *CreditLine) RestoreFunds(funds []state.InsuranceFund) {
	c.funds = make(map[string]*state.InsuranceFund, len(funds))
	for _, f := range funds {
		c.funds[f.Asset] = &state.InsuranceFund{Asset: f.Asset, Balance: f.Balance.Clone()}
	}
}
