package credit

import (
	fpmath "CreditLedger/internal/math"
	"CreditLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// SettleAccount writes off the borrower's remaining debt and clears every piece
// of per-borrower credit state. With no debt left, for example after full
// insurance coverage or a previous settlement, it succeeds and returns (0, 0).
func (l *Ledger) SettleAccount(caller uuid.UUID, marketID string, borrower uuid.UUID) (_, _ *uint256.Int, err error) {
	if err := l.enter(); err != nil {
		return nil, nil, err
	}
	defer l.exit()

	_, params, err := l.market(marketID)
	if err != nil {
		return nil, nil, err
	}
	if err := l.authorize(caller, params); err != nil {
		return nil, nil, err
	}

	tx := l.begin(marketID, borrower)
	defer tx.rollback(&err)

	key := state.PositionKey{MarketID: marketID, Account: borrower}
	if err = l.accrueInterest(marketID); err != nil {
		return nil, nil, err
	}
	if err = l.accrueBorrower(key); err != nil {
		return nil, nil, err
	}

	m := l.markets[marketID]
	l.reverseMarkdown(key)

	writtenOffAssets, writtenOffShares := fpmath.Zero(), fpmath.Zero()
	if pos, ok := l.positions[key]; ok {
		if !pos.BorrowShares.IsZero() {
			writtenOffShares = pos.BorrowShares.Clone()
			writtenOffAssets = pos.Debt(m)

			m.TotalBorrowShares = fpmath.MustSub(m.TotalBorrowShares, writtenOffShares)
			m.TotalBorrowAssets = fpmath.ZeroFloorSub(m.TotalBorrowAssets, writtenOffAssets)
			m.TotalSupplyAssets = fpmath.ZeroFloorSub(m.TotalSupplyAssets, writtenOffAssets)
		}
		pos.BorrowShares = fpmath.Zero()
		pos.CreditLimit = fpmath.Zero()
		l.pruneEmpty(key)
	}

	delete(l.premiums, key)
	delete(l.obligations, key)
	delete(l.markdowns, key)

	return writtenOffAssets, writtenOffShares, nil
}
