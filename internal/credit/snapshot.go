package credit

import (
	"fmt"

	fpmath "CreditLedger/internal/math"
	"CreditLedger/internal/state"

	"github.com/google/uuid"
)

// Snapshot is a serializable image of the ledger. Amounts are decimal strings.
type Snapshot struct {
	Owner        uuid.UUID         `json:"owner"`
	FeeRecipient uuid.UUID         `json:"fee_recipient"`
	Markets      []MarketSnapshot  `json:"markets"`
	Accounts     []AccountSnapshot `json:"accounts"`
}

type MarketSnapshot struct {
	ID                  string    `json:"id"`
	LoanToken           string    `json:"loan_token"`
	CreditLineAuthority uuid.UUID `json:"credit_line_authority"`
	IRM                 string    `json:"irm"`
	MarkdownPolicy      string    `json:"markdown_policy"`
	TotalSupplyAssets   string    `json:"total_supply_assets"`
	TotalSupplyShares   string    `json:"total_supply_shares"`
	TotalBorrowAssets   string    `json:"total_borrow_assets"`
	TotalBorrowShares   string    `json:"total_borrow_shares"`
	LastUpdate          int64     `json:"last_update"`
	Fee                 string    `json:"fee"`
	TotalMarkdownAmount string    `json:"total_markdown_amount"`
	CycleEndDates       []int64   `json:"cycle_end_dates"`
}

type AccountSnapshot struct {
	MarketID string    `json:"market_id"`
	Account  uuid.UUID `json:"account"`

	SupplyShares string `json:"supply_shares"`
	BorrowShares string `json:"borrow_shares"`
	CreditLimit  string `json:"credit_limit"`

	HasPremium                bool   `json:"has_premium"`
	PremiumRate               string `json:"premium_rate,omitempty"`
	LastAccrualTime           int64  `json:"last_accrual_time,omitempty"`
	BorrowAssetsAtLastAccrual string `json:"borrow_assets_at_last_accrual,omitempty"`

	HasObligation bool   `json:"has_obligation"`
	CycleID       uint64 `json:"cycle_id,omitempty"`
	AmountDue     string `json:"amount_due,omitempty"`
	EndingBalance string `json:"ending_balance,omitempty"`

	Markdown          string `json:"markdown,omitempty"`
	MarkdownUpdatedAt int64  `json:"markdown_updated_at,omitempty"`
}

// Export captures the full ledger state in a deterministic order.
func (l *Ledger) Export() Snapshot {
	snap := Snapshot{Owner: l.owner, FeeRecipient: l.feeRecipient}

	for _, id := range l.MarketIDs() {
		m, p := l.markets[id], l.params[id]
		ms := MarketSnapshot{
			ID:                  id,
			LoanToken:           p.LoanToken,
			CreditLineAuthority: p.CreditLineAuthority,
			IRM:                 p.IRM,
			MarkdownPolicy:      p.MarkdownPolicy,
			TotalSupplyAssets:   m.TotalSupplyAssets.Dec(),
			TotalSupplyShares:   m.TotalSupplyShares.Dec(),
			TotalBorrowAssets:   m.TotalBorrowAssets.Dec(),
			TotalBorrowShares:   m.TotalBorrowShares.Dec(),
			LastUpdate:          m.LastUpdate,
			Fee:                 m.Fee.Dec(),
			TotalMarkdownAmount: m.TotalMarkdownAmount.Dec(),
		}
		for _, c := range l.cycles[id] {
			ms.CycleEndDates = append(ms.CycleEndDates, c.EndDate)
		}
		snap.Markets = append(snap.Markets, ms)

		for _, account := range l.Accounts(id) {
			snap.Accounts = append(snap.Accounts, l.exportAccount(state.PositionKey{MarketID: id, Account: account}))
		}
	}
	return snap
}

func (l *Ledger) exportAccount(key state.PositionKey) AccountSnapshot {
	pos := l.Position(key.MarketID, key.Account)
	as := AccountSnapshot{
		MarketID:     key.MarketID,
		Account:      key.Account,
		SupplyShares: pos.SupplyShares.Dec(),
		BorrowShares: pos.BorrowShares.Dec(),
		CreditLimit:  pos.CreditLimit.Dec(),
	}
	if prem, ok := l.premiums[key]; ok {
		as.HasPremium = true
		as.PremiumRate = prem.Rate.Dec()
		as.LastAccrualTime = prem.LastAccrualTime
		as.BorrowAssetsAtLastAccrual = prem.BorrowAssetsAtLastAccrual.Dec()
	}
	if obl, ok := l.obligations[key]; ok {
		as.HasObligation = true
		as.CycleID = obl.CycleID
		as.AmountDue = obl.AmountDue.Dec()
		as.EndingBalance = obl.EndingBalance.Dec()
	}
	if md, ok := l.markdowns[key]; ok {
		as.Markdown = md.Amount.Dec()
		as.MarkdownUpdatedAt = md.UpdatedAt
	}
	return as
}

// Restore replaces the ledger state with snap. Registered collaborators are kept
// and every market's collaborators must be registered.
func (l *Ledger) Restore(snap Snapshot) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	next := NewLedger(snap.Owner, l.clock, l.config)
	next.feeRecipient = snap.FeeRecipient

	for _, ms := range snap.Markets {
		if _, ok := l.rateModels[ms.IRM]; !ok {
			return fmt.Errorf("%w: interest rate model %q", ErrUnknownCollaborator, ms.IRM)
		}
		if _, ok := l.policies[ms.MarkdownPolicy]; !ok {
			return fmt.Errorf("%w: markdown policy %q", ErrUnknownCollaborator, ms.MarkdownPolicy)
		}
		m := state.NewMarket(ms.LastUpdate)
		var err error
		if m.TotalSupplyAssets, err = fpmath.ParseAmount(ms.TotalSupplyAssets); err != nil {
			return err
		}
		if m.TotalSupplyShares, err = fpmath.ParseAmount(ms.TotalSupplyShares); err != nil {
			return err
		}
		if m.TotalBorrowAssets, err = fpmath.ParseAmount(ms.TotalBorrowAssets); err != nil {
			return err
		}
		if m.TotalBorrowShares, err = fpmath.ParseAmount(ms.TotalBorrowShares); err != nil {
			return err
		}
		if m.Fee, err = fpmath.ParseAmount(ms.Fee); err != nil {
			return err
		}
		if m.TotalMarkdownAmount, err = fpmath.ParseAmount(ms.TotalMarkdownAmount); err != nil {
			return err
		}
		next.markets[ms.ID] = m
		next.params[ms.ID] = state.MarketParams{
			ID:                  ms.ID,
			LoanToken:           ms.LoanToken,
			CreditLineAuthority: ms.CreditLineAuthority,
			IRM:                 ms.IRM,
			MarkdownPolicy:      ms.MarkdownPolicy,
		}
		for _, end := range ms.CycleEndDates {
			next.cycles[ms.ID] = append(next.cycles[ms.ID], state.PaymentCycle{EndDate: end})
		}
	}

	for _, as := range snap.Accounts {
		if err := next.restoreAccount(as); err != nil {
			return fmt.Errorf("restore %s/%s: %w", as.MarketID, as.Account, err)
		}
	}

	l.owner = next.owner
	l.feeRecipient = next.feeRecipient
	l.params = next.params
	l.markets = next.markets
	l.cycles = next.cycles
	l.positions = next.positions
	l.premiums = next.premiums
	l.obligations = next.obligations
	l.markdowns = next.markdowns
	return nil
}

func (l *Ledger) restoreAccount(as AccountSnapshot) error {
	if _, ok := l.markets[as.MarketID]; !ok {
		return fmt.Errorf("%w: %s", ErrMarketNotCreated, as.MarketID)
	}
	key := state.PositionKey{MarketID: as.MarketID, Account: as.Account}
	supply, err := fpmath.ParseAmount(as.SupplyShares)
	if err != nil {
		return err
	}
	borrow, err := fpmath.ParseAmount(as.BorrowShares)
	if err != nil {
		return err
	}
	limit, err := fpmath.ParseAmount(as.CreditLimit)
	if err != nil {
		return err
	}
	pos := &state.Position{SupplyShares: supply, BorrowShares: borrow, CreditLimit: limit}
	if !pos.IsEmpty() {
		l.positions[key] = pos
	}

	if as.HasPremium {
		rate, err := fpmath.ParseAmount(as.PremiumRate)
		if err != nil {
			return err
		}
		base, err := fpmath.ParseAmount(as.BorrowAssetsAtLastAccrual)
		if err != nil {
			return err
		}
		l.premiums[key] = &state.BorrowerPremium{Rate: rate, LastAccrualTime: as.LastAccrualTime, BorrowAssetsAtLastAccrual: base}
	}

	if as.HasObligation {
		if as.CycleID >= uint64(len(l.cycles[as.MarketID])) {
			return fmt.Errorf("obligation references unknown cycle %d", as.CycleID)
		}
		due, err := fpmath.ParseAmount(as.AmountDue)
		if err != nil {
			return err
		}
		ending, err := fpmath.ParseAmount(as.EndingBalance)
		if err != nil {
			return err
		}
		l.obligations[key] = &state.RepaymentObligation{CycleID: as.CycleID, AmountDue: due, EndingBalance: ending}
	}

	if as.Markdown != "" {
		amount, err := fpmath.ParseAmount(as.Markdown)
		if err != nil {
			return err
		}
		if !amount.IsZero() {
			l.markdowns[key] = &state.MarkdownState{Amount: amount, UpdatedAt: as.MarkdownUpdatedAt}
		}
	}
	return nil
}
