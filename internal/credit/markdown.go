package credit

import (
	"fmt"

	fpmath "CreditLedger/internal/math"
	"CreditLedger/internal/state"
)

// reconcileMarkdown brings the borrower's recorded markdown to the policy value
// for the current debt and status, moving only the difference through the market
// totals. Outside Default, or with no debt, the target is zero.
func (l *Ledger) reconcileMarkdown(key state.PositionKey) error {
	m, params, err := l.market(key.MarketID)
	if err != nil {
		return err
	}
	now := l.clock.Now()

	debt := fpmath.Zero()
	if pos, ok := l.positions[key]; ok {
		debt = pos.Debt(m)
	}

	next := fpmath.Zero()
	if !debt.IsZero() {
		if status, since := l.status(key); status == state.StatusDefault {
			proposed, err := l.policies[params.MarkdownPolicy].CalculateMarkdown(key.Account, debt.Clone(), uint64(now-since))
			if err != nil {
				return fmt.Errorf("markdown for %s: %w", key.Account, err)
			}
			next = state.ClampMarkdown(proposed, debt)
		}
	}

	recorded := fpmath.Zero()
	if md, ok := l.markdowns[key]; ok {
		recorded = md.Amount
	}
	delta, increase := state.MarkdownDelta(next, recorded)
	state.ApplyMarkdownDelta(m, delta, increase)

	if next.IsZero() {
		delete(l.markdowns, key)
		return nil
	}
	l.markdowns[key] = &state.MarkdownState{Amount: next, UpdatedAt: now}
	return nil
}

// reverseMarkdown restores exactly the recorded markdown to supply and drops it.
func (l *Ledger) reverseMarkdown(key state.PositionKey) {
	md, ok := l.markdowns[key]
	if !ok {
		return
	}
	state.ApplyMarkdownDelta(l.markets[key.MarketID], md.Amount, false)
	delete(l.markdowns, key)
}
