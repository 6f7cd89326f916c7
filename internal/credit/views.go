package credit

import (
	"sort"

	fpmath "CreditLedger/internal/math"
	"CreditLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Views return copies; mutating them does not affect the ledger.

func (l *Ledger) Market(marketID string) (state.Market, error) {
	m, _, err := l.market(marketID)
	if err != nil {
		return state.Market{}, err
	}
	return *m.Clone(), nil
}

func (l *Ledger) MarketParams(marketID string) (state.MarketParams, error) {
	_, params, err := l.market(marketID)
	return params, err
}

// MarketIDs lists every market in sorted order.
func (l *Ledger) MarketIDs() []string {
	ids := make([]string, 0, len(l.markets))
	for id := range l.markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *Ledger) Position(marketID string, account uuid.UUID) state.Position {
	if pos, ok := l.positions[state.PositionKey{MarketID: marketID, Account: account}]; ok {
		return *pos.Clone()
	}
	return *state.NewPosition()
}

// RepaymentObligation returns the live obligation, if any.
func (l *Ledger) RepaymentObligation(marketID string, borrower uuid.UUID) (state.RepaymentObligation, bool) {
	obl, ok := l.obligations[state.PositionKey{MarketID: marketID, Account: borrower}]
	if !ok {
		return state.RepaymentObligation{AmountDue: fpmath.Zero(), EndingBalance: fpmath.Zero()}, false
	}
	return *obl.Clone(), true
}

func (l *Ledger) MarkdownState(marketID string, borrower uuid.UUID) state.MarkdownState {
	if md, ok := l.markdowns[state.PositionKey{MarketID: marketID, Account: borrower}]; ok {
		return *md.Clone()
	}
	return *state.NewMarkdownState()
}

// BorrowerPremium returns the premium snapshot. It reports false until the
// borrower's debt first turns positive, and again after it is repaid to zero;
// the agreed rate is then only visible through PremiumRate.
func (l *Ledger) BorrowerPremium(marketID string, borrower uuid.UUID) (state.BorrowerPremium, bool) {
	prem, ok := l.premiums[state.PositionKey{MarketID: marketID, Account: borrower}]
	if !ok || !prem.Started() {
		return *state.NewBorrowerPremium(fpmath.Zero()), false
	}
	return *prem.Clone(), true
}

// PremiumRate returns the premium rate set with the borrower's credit line,
// whether or not the accrual clock is running.
func (l *Ledger) PremiumRate(marketID string, borrower uuid.UUID) *uint256.Int {
	if prem, ok := l.premiums[state.PositionKey{MarketID: marketID, Account: borrower}]; ok {
		return prem.Rate.Clone()
	}
	return fpmath.Zero()
}

func (l *Ledger) PaymentCycles(marketID string) []state.PaymentCycle {
	return append([]state.PaymentCycle(nil), l.cycles[marketID]...)
}

// BorrowerDebt values the borrower's shares at the last accrual, rounding up.
func (l *Ledger) BorrowerDebt(marketID string, borrower uuid.UUID) (*uint256.Int, error) {
	m, _, err := l.market(marketID)
	if err != nil {
		return nil, err
	}
	pos, ok := l.positions[state.PositionKey{MarketID: marketID, Account: borrower}]
	if !ok {
		return fpmath.Zero(), nil
	}
	return pos.Debt(m), nil
}

// Accounts lists every account holding any per-market record, sorted.
func (l *Ledger) Accounts(marketID string) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	collect := func(key state.PositionKey) {
		if key.MarketID == marketID {
			seen[key.Account] = struct{}{}
		}
	}
	for key := range l.positions {
		collect(key)
	}
	for key := range l.premiums {
		collect(key)
	}
	for key := range l.obligations {
		collect(key)
	}
	for key := range l.markdowns {
		collect(key)
	}
	out := make([]uuid.UUID, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
