package credit

import (
	"CreditLedger/internal/state"

	"github.com/google/uuid"
)

// txn records the pre-call value of everything a call may touch so a failed
// call can be undone. Accrual that happened before a failing check is undone too.
type txn struct {
	l        *Ledger
	marketID string
	market   *state.Market
	cycles   int
	accounts map[state.PositionKey]accountImage
}

type accountImage struct {
	position   *state.Position
	premium    *state.BorrowerPremium
	obligation *state.RepaymentObligation
	markdown   *state.MarkdownState
}

func (l *Ledger) begin(marketID string, accounts ...uuid.UUID) *txn {
	tx := &txn{
		l:        l,
		marketID: marketID,
		cycles:   len(l.cycles[marketID]),
		accounts: make(map[state.PositionKey]accountImage, len(accounts)+1),
	}
	if m, ok := l.markets[marketID]; ok {
		tx.market = m.Clone()
	}
	tx.capture(l.feeRecipient)
	for _, a := range accounts {
		tx.capture(a)
	}
	return tx
}

func (tx *txn) capture(account uuid.UUID) {
	key := state.PositionKey{MarketID: tx.marketID, Account: account}
	if _, seen := tx.accounts[key]; seen {
		return
	}
	var img accountImage
	if p, ok := tx.l.positions[key]; ok {
		img.position = p.Clone()
	}
	if p, ok := tx.l.premiums[key]; ok {
		img.premium = p.Clone()
	}
	if o, ok := tx.l.obligations[key]; ok {
		img.obligation = o.Clone()
	}
	if md, ok := tx.l.markdowns[key]; ok {
		img.markdown = md.Clone()
	}
	tx.accounts[key] = img
}

// rollback restores the captured state. Calls made with a nil error are no-ops,
// which lets entry points defer it against their named error result.
func (tx *txn) rollback(err *error) {
	if *err == nil {
		return
	}
	tx.undo()
}

func (tx *txn) undo() {
	l := tx.l
	if tx.market != nil {
		l.markets[tx.marketID] = tx.market
	}
	if cycles, ok := l.cycles[tx.marketID]; ok && len(cycles) > tx.cycles {
		l.cycles[tx.marketID] = cycles[:tx.cycles]
	}
	for key, img := range tx.accounts {
		restore(l.positions, key, img.position)
		restore(l.premiums, key, img.premium)
		restore(l.obligations, key, img.obligation)
		restore(l.markdowns, key, img.markdown)
	}
}

func restore[T any](m map[state.PositionKey]*T, key state.PositionKey, v *T) {
	if v == nil {
		delete(m, key)
		return
	}
	m[key] = v
}

// Checkpoint captures the market and the listed accounts. The returned function
// puts them back; callers composing several ledger calls use it to undo the
// earlier calls when a later one fails.
func (l *Ledger) Checkpoint(marketID string, accounts ...uuid.UUID) func() {
	tx := l.begin(marketID, accounts...)
	return tx.undo
}
