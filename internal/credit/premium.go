package credit

import (
	"fmt"

	fpmath "CreditLedger/internal/math"
	"CreditLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// SetCreditLine stores a borrower's credit limit and premium rate.
//
// With no debt only the values are stored; the premium clock starts at the first
// borrow. With debt and a changed rate, premium is first settled at the old rate
// up to now so neither rate is applied to time it did not cover.
func (l *Ledger) SetCreditLine(caller uuid.UUID, marketID string, borrower uuid.UUID, limit, premiumRate *uint256.Int) (err error) {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	_, params, err := l.market(marketID)
	if err != nil {
		return err
	}
	if err := l.authorize(caller, params); err != nil {
		return err
	}
	if borrower == uuid.Nil {
		return fmt.Errorf("%w: borrower is required", ErrInconsistentInput)
	}
	if limit == nil {
		limit = fpmath.Zero()
	}
	if premiumRate == nil {
		premiumRate = fpmath.Zero()
	}

	tx := l.begin(marketID, borrower)
	defer tx.rollback(&err)

	key := state.PositionKey{MarketID: marketID, Account: borrower}
	pos := l.position(key)
	prem := l.premiums[key]

	if !pos.BorrowShares.IsZero() && (prem == nil || !prem.Rate.Eq(premiumRate)) {
		if err = l.accrueInterest(marketID); err != nil {
			return err
		}
		if err = l.accrueBorrower(key); err != nil {
			return err
		}
		prem = l.premiums[key]
	}

	if prem == nil {
		l.premiums[key] = state.NewBorrowerPremium(premiumRate)
	} else {
		prem.Rate = premiumRate.Clone()
	}
	pos.CreditLimit = limit.Clone()
	l.pruneEmpty(key)
	return nil
}

// AccrueBorrowerPremium settles base interest and one borrower's premium up to now.
func (l *Ledger) AccrueBorrowerPremium(marketID string, borrower uuid.UUID) error {
	return l.AccruePremiumsForBorrowers(marketID, []uuid.UUID{borrower})
}

// AccruePremiumsForBorrowers is the batch form of AccrueBorrowerPremium.
// Either every borrower is accrued or none is.
func (l *Ledger) AccruePremiumsForBorrowers(marketID string, borrowers []uuid.UUID) (err error) {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	if _, _, err := l.market(marketID); err != nil {
		return err
	}
	tx := l.begin(marketID, borrowers...)
	defer tx.rollback(&err)

	if err = l.accrueInterest(marketID); err != nil {
		return err
	}
	for _, b := range borrowers {
		if err = l.accrueBorrower(state.PositionKey{MarketID: marketID, Account: b}); err != nil {
			return fmt.Errorf("accrue premium for %s: %w", b, err)
		}
	}
	return nil
}

// accrueBorrower adds premium and penalty since the last snapshot to the
// borrower's debt, moves the snapshot to now and reconciles markdown.
// Base interest must already be accrued.
func (l *Ledger) accrueBorrower(key state.PositionKey) error {
	pos, ok := l.positions[key]
	if !ok || pos.BorrowShares.IsZero() {
		return l.reconcileMarkdown(key)
	}
	m := l.markets[key.MarketID]
	now := l.clock.Now()

	prem, ok := l.premiums[key]
	if !ok {
		prem = state.NewBorrowerPremium(fpmath.Zero())
		l.premiums[key] = prem
	}

	premium := state.ComputePremium(prem, now)
	penalty := l.penalty(key, prem.LastAccrualTime, now)
	total := fpmath.MustAdd(premium, penalty)

	if !total.IsZero() {
		shares := fpmath.ToSharesUp(total, m.TotalBorrowAssets, m.TotalBorrowShares)
		pos.BorrowShares = fpmath.MustAdd(pos.BorrowShares, shares)
		m.TotalBorrowShares = fpmath.MustAdd(m.TotalBorrowShares, shares)
		l.addInterest(key.MarketID, m, total)
	}

	prem.Snapshot(now, pos.Debt(m))
	return l.reconcileMarkdown(key)
}

// penalty is charged on an overdue obligation's ending balance, from the later
// of the last accrual and the end of grace.
func (l *Ledger) penalty(key state.PositionKey, lastAccrual, now int64) *uint256.Int {
	obl := l.obligations[key]
	if !obl.IsOutstanding() {
		return fpmath.Zero()
	}
	p := l.config.Params()
	cycleEnd := l.cycles[key.MarketID][obl.CycleID].EndDate
	status, _ := state.DeriveRepaymentStatus(obl, cycleEnd, p.GracePeriod, p.DelinquencyPeriod, now)
	return state.ComputePenalty(obl, status, cycleEnd, p.GracePeriod, lastAccrual, now, p.PenaltyRate)
}
