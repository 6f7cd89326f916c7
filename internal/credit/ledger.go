package credit

import (
	"fmt"

	"CreditLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// InterestRateModel returns the base borrow rate for a market, WAD per second.
type InterestRateModel interface {
	BorrowRatePerSecond(params state.MarketParams, market state.Market) (*uint256.Int, error)
}

// MarkdownPolicy returns the write-down for a defaulted borrower.
// timeInDefault is seconds since the Default status began.
type MarkdownPolicy interface {
	CalculateMarkdown(borrower uuid.UUID, debt *uint256.Int, timeInDefault uint64) (*uint256.Int, error)
}

// ProtocolConfig is the read-only global parameter store.
type ProtocolConfig interface {
	Params() state.ProtocolParams
}

// Clock supplies the current unix time in seconds.
type Clock interface {
	Now() int64
}

// Ledger is the credit-line lending ledger: pooled supply, credit-gated borrowing,
// borrower premiums, payment cycles, markdown and settlement.
//
// A Ledger is not safe for concurrent use. It is owned by a single goroutine and
// every mutating entry point holds a single-entry guard, so a collaborator that
// calls back into the ledger gets ErrReentrantCall. A failed call leaves no trace.
type Ledger struct {
	owner        uuid.UUID
	feeRecipient uuid.UUID
	clock        Clock
	config       ProtocolConfig

	rateModels map[string]InterestRateModel
	policies   map[string]MarkdownPolicy

	params      map[string]state.MarketParams
	markets     map[string]*state.Market
	cycles      map[string][]state.PaymentCycle
	positions   map[state.PositionKey]*state.Position
	premiums    map[state.PositionKey]*state.BorrowerPremium
	obligations map[state.PositionKey]*state.RepaymentObligation
	markdowns   map[state.PositionKey]*state.MarkdownState

	entered bool
}

// NewLedger creates an empty ledger. owner gates fee administration.
func NewLedger(owner uuid.UUID, clock Clock, config ProtocolConfig) *Ledger {
	return &Ledger{
		owner:        owner,
		feeRecipient: owner,
		clock:        clock,
		config:       config,
		rateModels:   make(map[string]InterestRateModel),
		policies:     make(map[string]MarkdownPolicy),
		params:       make(map[string]state.MarketParams),
		markets:      make(map[string]*state.Market),
		cycles:       make(map[string][]state.PaymentCycle),
		positions:    make(map[state.PositionKey]*state.Position),
		premiums:     make(map[state.PositionKey]*state.BorrowerPremium),
		obligations:  make(map[state.PositionKey]*state.RepaymentObligation),
		markdowns:    make(map[state.PositionKey]*state.MarkdownState),
	}
}

// RegisterRateModel makes an interest rate model available to CreateMarket by name.
func (l *Ledger) RegisterRateModel(name string, model InterestRateModel) {
	l.rateModels[name] = model
}

// RegisterMarkdownPolicy makes a markdown policy available to CreateMarket by name.
func (l *Ledger) RegisterMarkdownPolicy(name string, policy MarkdownPolicy) {
	l.policies[name] = policy
}

func (l *Ledger) Owner() uuid.UUID        { return l.owner }
func (l *Ledger) FeeRecipient() uuid.UUID { return l.feeRecipient }

// ProtocolParams returns the current global parameters.
func (l *Ledger) ProtocolParams() state.ProtocolParams {
	return l.config.Params()
}

// Now returns the ledger clock.
func (l *Ledger) Now() int64 {
	return l.clock.Now()
}

func (l *Ledger) enter() error {
	if l.entered {
		return ErrReentrantCall
	}
	l.entered = true
	return nil
}

func (l *Ledger) exit() {
	l.entered = false
}

func (l *Ledger) market(id string) (*state.Market, state.MarketParams, error) {
	m, ok := l.markets[id]
	if !ok {
		return nil, state.MarketParams{}, fmt.Errorf("%w: %s", ErrMarketNotCreated, id)
	}
	return m, l.params[id], nil
}

func (l *Ledger) position(key state.PositionKey) *state.Position {
	pos, ok := l.positions[key]
	if !ok {
		pos = state.NewPosition()
		l.positions[key] = pos
	}
	return pos
}

func (l *Ledger) pruneEmpty(key state.PositionKey) {
	if pos, ok := l.positions[key]; ok && pos.IsEmpty() {
		delete(l.positions, key)
	}
}

func (l *Ledger) authorize(caller uuid.UUID, params state.MarketParams) error {
	if caller != params.CreditLineAuthority {
		return fmt.Errorf("%w: %s is not the credit line authority of %s", ErrUnauthorized, caller, params.ID)
	}
	return nil
}

// exactlyOneNonZero treats nil as zero.
func exactlyOneNonZero(assets, shares *uint256.Int) bool {
	aZero := assets == nil || assets.IsZero()
	sZero := shares == nil || shares.IsZero()
	return aZero != sZero
}
