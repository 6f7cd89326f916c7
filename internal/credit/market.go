package credit

import (
	"fmt"
	"strings"

	fpmath "CreditLedger/internal/math"
	"CreditLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// CreateMarket registers a market. Markets are never destroyed.
func (l *Ledger) CreateMarket(params state.MarketParams) (err error) {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	params.ID = strings.TrimSpace(params.ID)
	if params.ID == "" || strings.TrimSpace(params.LoanToken) == "" {
		return fmt.Errorf("%w: market id and loan token are required", ErrInconsistentInput)
	}
	if params.CreditLineAuthority == uuid.Nil {
		return fmt.Errorf("%w: credit line authority is required", ErrInconsistentInput)
	}
	if _, exists := l.markets[params.ID]; exists {
		return fmt.Errorf("%w: %s", ErrMarketAlreadyCreated, params.ID)
	}
	if _, ok := l.rateModels[params.IRM]; !ok {
		return fmt.Errorf("%w: interest rate model %q", ErrUnknownCollaborator, params.IRM)
	}
	if _, ok := l.policies[params.MarkdownPolicy]; !ok {
		return fmt.Errorf("%w: markdown policy %q", ErrUnknownCollaborator, params.MarkdownPolicy)
	}

	l.params[params.ID] = params
	l.markets[params.ID] = state.NewMarket(l.clock.Now())
	return nil
}

// SetFee changes the share of interest minted to the fee recipient.
// Interest up to now is accrued at the old fee.
func (l *Ledger) SetFee(caller uuid.UUID, marketID string, fee *uint256.Int) (err error) {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	if caller != l.owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller)
	}
	if fee == nil {
		fee = fpmath.Zero()
	}
	if fee.Gt(l.config.Params().MaxFee) {
		return fmt.Errorf("%w: %s", ErrMaxFeeExceeded, fee.Dec())
	}
	if _, _, err := l.market(marketID); err != nil {
		return err
	}

	tx := l.begin(marketID)
	defer tx.rollback(&err)

	if err = l.accrueInterest(marketID); err != nil {
		return err
	}
	l.markets[marketID].Fee = fee.Clone()
	return nil
}

// SetFeeRecipient changes who receives fee shares on future accruals.
func (l *Ledger) SetFeeRecipient(caller, recipient uuid.UUID) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	if caller != l.owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller)
	}
	l.feeRecipient = recipient
	return nil
}

// AccrueInterest compounds the base rate on the market's borrow total up to now.
// Calling it twice at the same timestamp is a no-op.
func (l *Ledger) AccrueInterest(marketID string) (err error) {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	if _, _, err := l.market(marketID); err != nil {
		return err
	}
	tx := l.begin(marketID)
	defer tx.rollback(&err)

	return l.accrueInterest(marketID)
}

func (l *Ledger) accrueInterest(marketID string) error {
	m, params, err := l.market(marketID)
	if err != nil {
		return err
	}
	now := l.clock.Now()
	if now <= m.LastUpdate {
		return nil
	}
	elapsed := uint64(now - m.LastUpdate)

	if !m.TotalBorrowAssets.IsZero() {
		rate, err := l.rateModels[params.IRM].BorrowRatePerSecond(params, *m.Clone())
		if err != nil {
			return fmt.Errorf("borrow rate for %s: %w", marketID, err)
		}
		interest := fpmath.WMulDown(m.TotalBorrowAssets, fpmath.WTaylorCompounded(rate, elapsed))
		l.addInterest(marketID, m, interest)
	}

	m.LastUpdate = now
	return nil
}

// addInterest grows both totals by interest and mints the fee portion as supply
// shares to the fee recipient.
func (l *Ledger) addInterest(marketID string, m *state.Market, interest *uint256.Int) {
	if interest.IsZero() {
		return
	}
	m.TotalBorrowAssets = fpmath.MustAdd(m.TotalBorrowAssets, interest)
	m.TotalSupplyAssets = fpmath.MustAdd(m.TotalSupplyAssets, interest)

	split := fpmath.SplitFee(interest, m.Fee)
	if split.FeeAmount.IsZero() {
		return
	}
	// Fee shares are priced as if the fee had been deposited after the interest landed.
	feeShares := fpmath.ToSharesDown(split.FeeAmount,
		fpmath.MustSub(m.TotalSupplyAssets, split.FeeAmount), m.TotalSupplyShares)
	if feeShares.IsZero() {
		return
	}
	pos := l.position(state.PositionKey{MarketID: marketID, Account: l.feeRecipient})
	pos.SupplyShares = fpmath.MustAdd(pos.SupplyShares, feeShares)
	m.TotalSupplyShares = fpmath.MustAdd(m.TotalSupplyShares, feeShares)
}
