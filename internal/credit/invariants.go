package credit

import (
	"fmt"

	fpmath "CreditLedger/internal/math"
	"CreditLedger/internal/state"
)

// CheckInvariants verifies the accounting invariants of one market:
//   - TotalBorrowAssets <= TotalSupplyAssets + TotalMarkdownAmount
//   - the recorded markdowns sum to TotalMarkdownAmount
//   - every markdown is at most its borrower's debt, and zero without debt
//   - borrow shares sum to TotalBorrowShares, supply shares to TotalSupplyShares
//   - cycle end dates are spaced at least one cycle duration apart
func (l *Ledger) CheckInvariants(marketID string) error {
	m, _, err := l.market(marketID)
	if err != nil {
		return err
	}
	if !m.IsSolvent() {
		return fmt.Errorf("market %s: borrow %s exceeds supply %s + markdown %s",
			marketID, m.TotalBorrowAssets.Dec(), m.TotalSupplyAssets.Dec(), m.TotalMarkdownAmount.Dec())
	}

	markdownSum := fpmath.Zero()
	for key, md := range l.markdowns {
		if key.MarketID != marketID {
			continue
		}
		markdownSum = fpmath.MustAdd(markdownSum, md.Amount)
		debt := fpmath.Zero()
		if pos, ok := l.positions[key]; ok {
			debt = pos.Debt(m)
		}
		if md.Amount.Gt(debt) {
			return fmt.Errorf("market %s: markdown %s of %s exceeds debt %s",
				marketID, md.Amount.Dec(), key.Account, debt.Dec())
		}
	}
	if !markdownSum.Eq(m.TotalMarkdownAmount) {
		return fmt.Errorf("market %s: markdown sum %s != total %s",
			marketID, markdownSum.Dec(), m.TotalMarkdownAmount.Dec())
	}

	supplyShares, borrowShares := fpmath.Zero(), fpmath.Zero()
	for key, pos := range l.positions {
		if key.MarketID != marketID {
			continue
		}
		supplyShares = fpmath.MustAdd(supplyShares, pos.SupplyShares)
		borrowShares = fpmath.MustAdd(borrowShares, pos.BorrowShares)
	}
	if !supplyShares.Eq(m.TotalSupplyShares) {
		return fmt.Errorf("market %s: supply shares %s != total %s", marketID, supplyShares.Dec(), m.TotalSupplyShares.Dec())
	}
	if !borrowShares.Eq(m.TotalBorrowShares) {
		return fmt.Errorf("market %s: borrow shares %s != total %s", marketID, borrowShares.Dec(), m.TotalBorrowShares.Dec())
	}

	cycles := l.cycles[marketID]
	cycleDuration := l.config.Params().CycleDuration
	for i := 1; i < len(cycles); i++ {
		if !state.NextCycleAllowed(cycles[:i], cycles[i].EndDate, cycleDuration) {
			return fmt.Errorf("market %s: cycle %d ends %d, too close to %d",
				marketID, i, cycles[i].EndDate, cycles[i-1].EndDate)
		}
	}
	return nil
}
