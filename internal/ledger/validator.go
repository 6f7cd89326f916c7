package ledger

import (
	"fmt"

	"github.com/holiman/uint256"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateSystemAccounts verifies every debit-normal account touched by the
// batch is non-negative.
func (v *InvariantValidator) ValidateSystemAccounts(batch *Batch) error {
	for _, j := range batch.Journals {
		for _, key := range []AccountKey{j.DebitAccount, j.CreditAccount} {
			if !key.DebitNormal() {
				continue
			}
			if err := v.tracker.ValidateNonNegative(key); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidatePoolCash verifies the pool holds at least the cash its totals imply.
// Rounding only ever leaves dust in the pool, so the check is >=.
func (v *InvariantValidator) ValidatePoolCash(marketID, asset string, expected *uint256.Int) error {
	key := LiquidityAccount(marketID, asset)
	cash, negative := v.tracker.GetBalance(key).Net()
	if negative || cash.Lt(expected) {
		return fmt.Errorf("pool %s holds %s, totals require %s", marketID, cash.Dec(), expected.Dec())
	}
	return nil
}

// ValidateInsuranceFund verifies the insurance cash account matches the fund.
func (v *InvariantValidator) ValidateInsuranceFund(asset string, fundBalance *uint256.Int) error {
	key := InsuranceAccount(asset)
	cash, negative := v.tracker.GetBalance(key).Net()
	if negative || !cash.Eq(fundBalance) {
		return fmt.Errorf("insurance account for %s holds %s, fund reports %s", asset, cash.Dec(), fundBalance.Dec())
	}
	return nil
}

// ValidateGlobalBalance verifies system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	for asset, total := range v.tracker.ComputeGlobalBalance() {
		if !total.Debits.Eq(total.Credits) {
			return fmt.Errorf("global balance for %s is non-zero: debits=%s credits=%s",
				asset, total.Debits.Dec(), total.Credits.Dec())
		}
	}
	return nil
}
