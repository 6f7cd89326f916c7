package state

import (
	fpmath "CreditLedger/internal/math"

	"github.com/holiman/uint256"
)

// InsuranceFund tracks the insurance fund balance for one loan asset.
// When an account is settled, the fund covers as much of the remaining debt as
// it can through an ordinary repay; whatever is left is written off against suppliers.
type InsuranceFund struct {
	Asset   string
	Balance *uint256.Int
}

func NewInsuranceFund(asset string) *InsuranceFund {
	return &InsuranceFund{Asset: asset, Balance: fpmath.Zero()}
}

// Deposit credits the fund.
func (f *InsuranceFund) Deposit(amount *uint256.Int) {
	f.Balance = fpmath.MustAdd(f.Balance, amount)
}

// CanCoverDeficit checks if the fund holds at least deficit.
func (f *InsuranceFund) CanCoverDeficit(deficit *uint256.Int) bool {
	return !f.Balance.Lt(deficit)
}

// ComputeCoverage returns how much the fund can cover.
// If the fund is insufficient, returns the partial amount and the remaining deficit.
func (f *InsuranceFund) ComputeCoverage(deficit *uint256.Int) (covered, remaining *uint256.Int) {
	if f.CanCoverDeficit(deficit) {
		return deficit.Clone(), fpmath.Zero()
	}
	return f.Balance.Clone(), fpmath.MustSub(deficit, f.Balance)
}

// Withdraw debits the fund after a coverage payment.
func (f *InsuranceFund) Withdraw(amount *uint256.Int) {
	f.Balance = fpmath.MustSub(f.Balance, amount)
}
