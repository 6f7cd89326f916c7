package credit

import (
	"fmt"

	fpmath "CreditLedger/internal/math"
	"CreditLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// CloseCycleAndPostObligations appends a payment cycle ending at endDate and
// overwrites the obligation of each listed borrower. The three slices are
// parallel. Each borrower's premium is settled under its previous obligation
// before the new one is posted. Returns the new cycle id.
func (l *Ledger) CloseCycleAndPostObligations(
	caller uuid.UUID,
	marketID string,
	endDate int64,
	borrowers []uuid.UUID,
	repaymentBps []uint64,
	endingBalances []*uint256.Int,
) (_ uint64, err error) {
	if err := l.enter(); err != nil {
		return 0, err
	}
	defer l.exit()

	_, params, err := l.market(marketID)
	if err != nil {
		return 0, err
	}
	if err := l.authorize(caller, params); err != nil {
		return 0, err
	}
	if len(borrowers) != len(repaymentBps) || len(borrowers) != len(endingBalances) {
		return 0, fmt.Errorf("%w: %d borrowers, %d bps, %d balances",
			ErrInconsistentInput, len(borrowers), len(repaymentBps), len(endingBalances))
	}
	for i, bps := range repaymentBps {
		if bps > fpmath.BpsConfig.Scale {
			return 0, fmt.Errorf("%w: %d for %s", ErrInvalidRepaymentBps, bps, borrowers[i])
		}
		if endingBalances[i] == nil {
			return 0, fmt.Errorf("%w: missing ending balance for %s", ErrInconsistentInput, borrowers[i])
		}
	}
	cycleDuration := l.config.Params().CycleDuration
	if !state.NextCycleAllowed(l.cycles[marketID], endDate, cycleDuration) {
		last := l.cycles[marketID][len(l.cycles[marketID])-1].EndDate
		return 0, fmt.Errorf("%w: end %d before %d", ErrInvalidCycleDuration, endDate, last+cycleDuration)
	}

	tx := l.begin(marketID, borrowers...)
	defer tx.rollback(&err)

	if err = l.accrueInterest(marketID); err != nil {
		return 0, err
	}

	cycleID := uint64(len(l.cycles[marketID]))
	l.cycles[marketID] = append(l.cycles[marketID], state.PaymentCycle{EndDate: endDate})

	for i, b := range borrowers {
		key := state.PositionKey{MarketID: marketID, Account: b}
		if err = l.accrueBorrower(key); err != nil {
			return 0, fmt.Errorf("accrue premium for %s: %w", b, err)
		}

		amountDue := state.ComputeAmountDue(endingBalances[i], repaymentBps[i])
		if amountDue.IsZero() {
			delete(l.obligations, key)
		} else {
			l.obligations[key] = &state.RepaymentObligation{
				CycleID:       cycleID,
				AmountDue:     amountDue,
				EndingBalance: endingBalances[i].Clone(),
			}
		}

		if err = l.reconcileMarkdown(key); err != nil {
			return 0, err
		}
	}
	return cycleID, nil
}

// IsMarketFrozen reports whether borrow and repay are currently closed.
func (l *Ledger) IsMarketFrozen(marketID string) (bool, error) {
	if _, _, err := l.market(marketID); err != nil {
		return false, err
	}
	return l.isFrozen(marketID), nil
}

// GetRepaymentStatus derives the borrower's status and the time it began.
func (l *Ledger) GetRepaymentStatus(marketID string, borrower uuid.UUID) (state.RepaymentStatus, int64, error) {
	if _, _, err := l.market(marketID); err != nil {
		return state.StatusCurrent, 0, err
	}
	status, since := l.status(state.PositionKey{MarketID: marketID, Account: borrower})
	return status, since, nil
}

func (l *Ledger) isFrozen(marketID string) bool {
	return state.IsFrozen(l.cycles[marketID], l.config.Params().CycleDuration, l.clock.Now())
}

func (l *Ledger) status(key state.PositionKey) (state.RepaymentStatus, int64) {
	obl := l.obligations[key]
	if !obl.IsOutstanding() {
		return state.StatusCurrent, 0
	}
	p := l.config.Params()
	cycleEnd := l.cycles[key.MarketID][obl.CycleID].EndDate
	return state.DeriveRepaymentStatus(obl, cycleEnd, p.GracePeriod, p.DelinquencyPeriod, l.clock.Now())
}
