package credit

import (
	"fmt"

	fpmath "CreditLedger/internal/math"
	"CreditLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Borrow draws against onBehalf's credit line and sends assets to receiver.
// Only caller == onBehalf may borrow.
func (l *Ledger) Borrow(caller uuid.UUID, marketID string, assets, shares *uint256.Int, onBehalf, receiver uuid.UUID) (_, _ *uint256.Int, err error) {
	if err := l.enter(); err != nil {
		return nil, nil, err
	}
	defer l.exit()

	if !exactlyOneNonZero(assets, shares) || receiver == uuid.Nil {
		return nil, nil, ErrInconsistentInput
	}
	if caller != onBehalf {
		return nil, nil, fmt.Errorf("%w: %s cannot borrow for %s", ErrUnauthorized, caller, onBehalf)
	}
	if _, _, err := l.market(marketID); err != nil {
		return nil, nil, err
	}
	if l.isFrozen(marketID) {
		return nil, nil, fmt.Errorf("%w: %s", ErrMarketFrozen, marketID)
	}

	tx := l.begin(marketID, onBehalf)
	defer tx.rollback(&err)

	key := state.PositionKey{MarketID: marketID, Account: onBehalf}
	if err = l.accrueInterest(marketID); err != nil {
		return nil, nil, err
	}
	if err = l.accrueBorrower(key); err != nil {
		return nil, nil, err
	}
	if obl := l.obligations[key]; obl.IsOutstanding() {
		return nil, nil, fmt.Errorf("%w: %s due for cycle %d", ErrOutstandingRepayment, obl.AmountDue.Dec(), obl.CycleID)
	}

	m := l.markets[marketID]
	if assets != nil && !assets.IsZero() {
		shares = fpmath.ToSharesUp(assets, m.TotalBorrowAssets, m.TotalBorrowShares)
	} else {
		assets = fpmath.ToAssetsDown(shares, m.TotalBorrowAssets, m.TotalBorrowShares)
	}
	if assets.IsZero() {
		return nil, nil, ErrInsufficientBorrowAmount
	}

	pos := l.position(key)
	pos.BorrowShares = fpmath.MustAdd(pos.BorrowShares, shares)
	m.TotalBorrowShares = fpmath.MustAdd(m.TotalBorrowShares, shares)
	m.TotalBorrowAssets = fpmath.MustAdd(m.TotalBorrowAssets, assets)

	debt := pos.Debt(m)
	if debt.Gt(pos.CreditLimit) {
		return nil, nil, fmt.Errorf("%w: debt %s above limit %s", ErrInsufficientCollateral, debt.Dec(), pos.CreditLimit.Dec())
	}
	if m.TotalBorrowAssets.Gt(m.TotalSupplyAssets) {
		return nil, nil, ErrInsufficientLiquidity
	}

	prem, ok := l.premiums[key]
	if !ok {
		prem = state.NewBorrowerPremium(fpmath.Zero())
		l.premiums[key] = prem
	}
	prem.Snapshot(l.clock.Now(), debt)

	if err = l.reconcileMarkdown(key); err != nil {
		return nil, nil, err
	}
	return assets.Clone(), shares.Clone(), nil
}

// Repay reduces onBehalf's debt. Anyone may repay for anyone.
//
// assets == MaxUint256 repays all borrow shares. With an outstanding obligation
// the asset value of the payment must cover AmountDue, or clear the whole debt;
// a covering payment clears the obligation. With no debt the call returns (0, 0).
func (l *Ledger) Repay(marketID string, assets, shares *uint256.Int, onBehalf uuid.UUID) (_, _ *uint256.Int, err error) {
	if err := l.enter(); err != nil {
		return nil, nil, err
	}
	defer l.exit()

	if !exactlyOneNonZero(assets, shares) {
		return nil, nil, ErrInconsistentInput
	}
	if _, _, err := l.market(marketID); err != nil {
		return nil, nil, err
	}
	if l.isFrozen(marketID) {
		return nil, nil, fmt.Errorf("%w: %s", ErrMarketFrozen, marketID)
	}
	return l.repay(marketID, assets, shares, onBehalf, false)
}

// CoverDebt repays borrower's debt on behalf of the market's credit line
// authority, from outside funds such as insurance. It works on a frozen
// market and accepts less than an outstanding AmountDue; a payment that
// covers AmountDue still clears the obligation. assets == MaxUint256 covers
// the whole debt.
func (l *Ledger) CoverDebt(caller uuid.UUID, marketID string, assets *uint256.Int, borrower uuid.UUID) (_, _ *uint256.Int, err error) {
	if err := l.enter(); err != nil {
		return nil, nil, err
	}
	defer l.exit()

	if assets == nil || assets.IsZero() {
		return nil, nil, ErrInconsistentInput
	}
	_, params, err := l.market(marketID)
	if err != nil {
		return nil, nil, err
	}
	if err := l.authorize(caller, params); err != nil {
		return nil, nil, err
	}
	return l.repay(marketID, assets, nil, borrower, true)
}

// repay runs inside an entered call. partial lets a payment below an
// outstanding AmountDue through.
func (l *Ledger) repay(marketID string, assets, shares *uint256.Int, onBehalf uuid.UUID, partial bool) (_, _ *uint256.Int, err error) {
	tx := l.begin(marketID, onBehalf)
	defer tx.rollback(&err)

	key := state.PositionKey{MarketID: marketID, Account: onBehalf}
	if err = l.accrueInterest(marketID); err != nil {
		return nil, nil, err
	}
	if err = l.accrueBorrower(key); err != nil {
		return nil, nil, err
	}

	pos, ok := l.positions[key]
	if !ok || pos.BorrowShares.IsZero() {
		return fpmath.Zero(), fpmath.Zero(), nil
	}
	m := l.markets[marketID]

	switch {
	case assets != nil && fpmath.IsMax(assets):
		shares = pos.BorrowShares.Clone()
		assets = fpmath.ToAssetsUp(shares, m.TotalBorrowAssets, m.TotalBorrowShares)
	case assets != nil && !assets.IsZero():
		shares = fpmath.ToSharesDown(assets, m.TotalBorrowAssets, m.TotalBorrowShares)
	default:
		assets = fpmath.ToAssetsUp(shares, m.TotalBorrowAssets, m.TotalBorrowShares)
	}
	if shares.Gt(pos.BorrowShares) {
		return nil, nil, fmt.Errorf("%w: %s shares against %s", ErrRepayExceedsDebt, shares.Dec(), pos.BorrowShares.Dec())
	}

	fullRepay := shares.Eq(pos.BorrowShares)
	if obl := l.obligations[key]; obl.IsOutstanding() {
		covers := fullRepay || !assets.Lt(obl.AmountDue)
		if !covers && !partial {
			return nil, nil, fmt.Errorf("%w: paid %s, due %s", ErrMustPayFullObligation, assets.Dec(), obl.AmountDue.Dec())
		}
		if covers {
			delete(l.obligations, key)
		}
	}

	pos.BorrowShares = fpmath.MustSub(pos.BorrowShares, shares)
	m.TotalBorrowShares = fpmath.MustSub(m.TotalBorrowShares, shares)
	m.TotalBorrowAssets = fpmath.ZeroFloorSub(m.TotalBorrowAssets, assets)

	if prem, ok := l.premiums[key]; ok {
		if pos.BorrowShares.IsZero() {
			prem.Stop()
		} else {
			prem.Snapshot(l.clock.Now(), pos.Debt(m))
		}
	}

	if err = l.reconcileMarkdown(key); err != nil {
		return nil, nil, err
	}
	return assets.Clone(), shares.Clone(), nil
}
