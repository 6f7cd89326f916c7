package credit

import (
	"fmt"

	fpmath "CreditLedger/internal/math"
	"CreditLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Supply deposits into the pool on behalf of onBehalf. Exactly one of assets and
// shares must be non-zero; the other is derived, rounding against the supplier.
func (l *Ledger) Supply(marketID string, assets, shares *uint256.Int, onBehalf uuid.UUID) (_, _ *uint256.Int, err error) {
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

	tx := l.begin(marketID, onBehalf)
	defer tx.rollback(&err)

	if err = l.accrueInterest(marketID); err != nil {
		return nil, nil, err
	}
	m := l.markets[marketID]

	if assets != nil && !assets.IsZero() {
		shares = fpmath.ToSharesDown(assets, m.TotalSupplyAssets, m.TotalSupplyShares)
	} else {
		assets = fpmath.ToAssetsUp(shares, m.TotalSupplyAssets, m.TotalSupplyShares)
	}

	pos := l.position(state.PositionKey{MarketID: marketID, Account: onBehalf})
	pos.SupplyShares = fpmath.MustAdd(pos.SupplyShares, shares)
	m.TotalSupplyShares = fpmath.MustAdd(m.TotalSupplyShares, shares)
	m.TotalSupplyAssets = fpmath.MustAdd(m.TotalSupplyAssets, assets)

	return assets.Clone(), shares.Clone(), nil
}

// Withdraw burns supply shares of onBehalf and releases assets to receiver.
// Only caller == onBehalf may withdraw.
func (l *Ledger) Withdraw(caller uuid.UUID, marketID string, assets, shares *uint256.Int, onBehalf, receiver uuid.UUID) (_, _ *uint256.Int, err error) {
	if err := l.enter(); err != nil {
		return nil, nil, err
	}
	defer l.exit()

	if !exactlyOneNonZero(assets, shares) || receiver == uuid.Nil {
		return nil, nil, ErrInconsistentInput
	}
	if caller != onBehalf {
		return nil, nil, fmt.Errorf("%w: %s cannot withdraw for %s", ErrUnauthorized, caller, onBehalf)
	}
	if _, _, err := l.market(marketID); err != nil {
		return nil, nil, err
	}

	tx := l.begin(marketID, onBehalf)
	defer tx.rollback(&err)

	if err = l.accrueInterest(marketID); err != nil {
		return nil, nil, err
	}
	m := l.markets[marketID]

	if assets != nil && !assets.IsZero() {
		shares = fpmath.ToSharesUp(assets, m.TotalSupplyAssets, m.TotalSupplyShares)
	} else {
		assets = fpmath.ToAssetsDown(shares, m.TotalSupplyAssets, m.TotalSupplyShares)
	}

	key := state.PositionKey{MarketID: marketID, Account: onBehalf}
	pos := l.position(key)
	if shares.Gt(pos.SupplyShares) {
		err = fmt.Errorf("%w: have %s, need %s", ErrInsufficientSupply, pos.SupplyShares.Dec(), shares.Dec())
		return nil, nil, err
	}
	if assets.Gt(m.AvailableLiquidity()) {
		err = fmt.Errorf("%w: available %s, requested %s", ErrInsufficientLiquidity, m.AvailableLiquidity().Dec(), assets.Dec())
		return nil, nil, err
	}

	pos.SupplyShares = fpmath.MustSub(pos.SupplyShares, shares)
	m.TotalSupplyShares = fpmath.MustSub(m.TotalSupplyShares, shares)
	m.TotalSupplyAssets = fpmath.MustSub(m.TotalSupplyAssets, assets)
	l.pruneEmpty(key)

	return assets.Clone(), shares.Clone(), nil
}
