package core

import (
	"CreditLedger/internal/event"
	"CreditLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// StateDelta carries post-event copies of everything the event touched, so
// projection workers never read core state.
type StateDelta struct {
	Markets  []MarketView
	Accounts []AccountView
	Funds    []state.InsuranceFund
}

type MarketView struct {
	Params       state.MarketParams
	Market       state.Market
	Frozen       bool
	CycleCount   int
	LastCycleEnd int64
}

// AccountView is one account's state in one market after an event.
type AccountView struct {
	MarketID    string
	Account     uuid.UUID
	Position    state.Position
	Debt        *uint256.Int
	SupplyValue *uint256.Int

	PremiumRate     *uint256.Int
	LastAccrualTime int64

	HasObligation bool
	Obligation    state.RepaymentObligation
	Status        state.RepaymentStatus
	StatusSince   int64

	Markdown state.MarkdownState
}

func (c *DeterministicCore) collectDelta(evt event.Event) StateDelta {
	var delta StateDelta
	delta.Funds = c.fundsTouched(evt)

	marketID := evt.MarketID()
	if marketID == nil {
		return delta
	}
	mv, ok := c.marketView(*marketID)
	if !ok {
		return delta
	}
	delta.Markets = []MarketView{mv}
	for _, account := range accountsTouched(evt, c.ledger.FeeRecipient()) {
		delta.Accounts = append(delta.Accounts, c.accountView(*marketID, account))
	}
	return delta
}

func (c *DeterministicCore) marketView(marketID string) (MarketView, bool) {
	params, err := c.ledger.MarketParams(marketID)
	if err != nil {
		return MarketView{}, false
	}
	m, _ := c.ledger.Market(marketID)
	frozen, _ := c.ledger.IsMarketFrozen(marketID)
	cycles := c.ledger.PaymentCycles(marketID)
	mv := MarketView{
		Params:     params,
		Market:     m,
		Frozen:     frozen,
		CycleCount: len(cycles),
	}
	if len(cycles) > 0 {
		mv.LastCycleEnd = cycles[len(cycles)-1].EndDate
	}
	return mv, true
}

func (c *DeterministicCore) accountView(marketID string, account uuid.UUID) AccountView {
	m, _ := c.ledger.Market(marketID)
	pos := c.ledger.Position(marketID, account)
	debt, _ := c.ledger.BorrowerDebt(marketID, account)
	obl, hasObl := c.ledger.RepaymentObligation(marketID, account)
	status, since, _ := c.ledger.GetRepaymentStatus(marketID, account)

	view := AccountView{
		MarketID:      marketID,
		Account:       account,
		Position:      pos,
		Debt:          debt,
		SupplyValue:   pos.SupplyValue(&m),
		PremiumRate:   c.ledger.PremiumRate(marketID, account),
		HasObligation: hasObl,
		Obligation:    obl,
		Status:        status,
		StatusSince:   since,
		Markdown:      c.ledger.MarkdownState(marketID, account),
	}
	if prem, ok := c.ledger.BorrowerPremium(marketID, account); ok {
		view.LastAccrualTime = prem.LastAccrualTime
	}
	return view
}

func (c *DeterministicCore) fundsTouched(evt event.Event) []state.InsuranceFund {
	var asset string
	switch e := evt.(type) {
	case *event.InsuranceFunded:
		asset = e.Asset
	case *event.AccountSettled:
		params, err := c.ledger.MarketParams(e.Market)
		if err != nil {
			return nil
		}
		asset = params.LoanToken
	default:
		return nil
	}
	return []state.InsuranceFund{{Asset: asset, Balance: c.creditLine.InsuranceBalance(asset)}}
}

// MarketView returns the current view of one market.
func (c *DeterministicCore) MarketView(marketID string) (MarketView, bool) {
	return c.marketView(marketID)
}

// AccountView returns the current view of one account in one market.
func (c *DeterministicCore) AccountView(marketID string, account uuid.UUID) (AccountView, bool) {
	if _, err := c.ledger.MarketParams(marketID); err != nil {
		return AccountView{}, false
	}
	return c.accountView(marketID, account), true
}
