package core

import (
	"fmt"

	"CreditLedger/internal/credit"
	"CreditLedger/internal/event"
	"CreditLedger/internal/ledger"
	"CreditLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

func (c *DeterministicCore) dispatchEvent(evt event.Event) (*ledger.Batch, Result, error) {
	switch e := evt.(type) {
	case *event.MarketCreated:
		return c.handleMarketCreated(e)
	case *event.FeeSet:
		return c.journalGen.Empty(e, c.sequence), Result{}, c.ledger.SetFee(e.Caller, e.Market, orZero(e.Fee))
	case *event.FeeRecipientSet:
		return c.journalGen.Empty(e, c.sequence), Result{}, c.ledger.SetFeeRecipient(e.Caller, e.Recipient)
	case *event.InterestAccrued:
		return c.journalGen.Empty(e, c.sequence), Result{}, c.ledger.AccrueInterest(e.Market)
	case *event.Supplied:
		return c.handleSupplied(e)
	case *event.Withdrawn:
		return c.handleWithdrawn(e)
	case *event.Borrowed:
		return c.handleBorrowed(e)
	case *event.Repaid:
		return c.handleRepaid(e)
	case *event.CreditLineSet:
		err := c.creditLine.SetCreditLine(e.Caller, e.Market, e.Borrower, orZero(e.Limit), orZero(e.PremiumRate))
		return c.journalGen.Empty(e, c.sequence), Result{}, err
	case *event.PremiumsAccrued:
		return c.journalGen.Empty(e, c.sequence), Result{}, c.ledger.AccruePremiumsForBorrowers(e.Market, e.Borrowers)
	case *event.CycleClosed:
		return c.handleCycleClosed(e)
	case *event.AccountSettled:
		return c.handleAccountSettled(e)
	case *event.InsuranceFunded:
		if err := c.creditLine.FundInsurance(e.Asset, e.Amount); err != nil {
			return nil, Result{}, err
		}
		return c.journalGen.GenerateInsuranceDeposit(e, c.sequence), Result{}, nil
	default:
		return nil, Result{}, fmt.Errorf("%w: %T", ErrUnknownEventType, evt)
	}
}

// handleMarketCreated creates the market and, when the command carries a
// fee, sets it in the same step. The fee is checked first so a bad fee never
// leaves a market behind.
func (c *DeterministicCore) handleMarketCreated(e *event.MarketCreated) (*ledger.Batch, Result, error) {
	fee := orZero(e.Fee)
	if !fee.IsZero() {
		if e.Caller != c.ledger.Owner() {
			return nil, Result{}, fmt.Errorf("%w: only the owner can create a market with a fee", credit.ErrUnauthorized)
		}
		if maxFee := c.ledger.ProtocolParams().MaxFee; fee.Gt(maxFee) {
			return nil, Result{}, fmt.Errorf("%w: %s", credit.ErrMaxFeeExceeded, fee.Dec())
		}
	}
	err := c.ledger.CreateMarket(state.MarketParams{
		ID:                  e.Market,
		LoanToken:           e.LoanToken,
		CreditLineAuthority: e.CreditLineAuthority,
		IRM:                 e.IRM,
		MarkdownPolicy:      e.MarkdownPolicy,
	})
	if err != nil {
		return nil, Result{}, err
	}
	if !fee.IsZero() {
		if err := c.ledger.SetFee(e.Caller, e.Market, fee); err != nil {
			panic(fmt.Sprintf("FATAL: fee on new market %s: %v", e.Market, err))
		}
	}
	return c.journalGen.Empty(e, c.sequence), Result{}, nil
}

func (c *DeterministicCore) loanToken(marketID string) string {
	params, err := c.ledger.MarketParams(marketID)
	if err != nil {
		panic(fmt.Sprintf("FATAL: market %s vanished after a successful call: %v", marketID, err))
	}
	return params.LoanToken
}

func (c *DeterministicCore) handleSupplied(e *event.Supplied) (*ledger.Batch, Result, error) {
	assets, shares, err := c.ledger.Supply(e.Market, orZero(e.Assets), orZero(e.Shares), e.OnBehalf)
	if err != nil {
		return nil, Result{}, err
	}
	batch := c.journalGen.GenerateSupply(e, c.loanToken(e.Market), assets, c.sequence)
	return batch, Result{Assets: assets, Shares: shares}, nil
}

func (c *DeterministicCore) handleWithdrawn(e *event.Withdrawn) (*ledger.Batch, Result, error) {
	assets, shares, err := c.ledger.Withdraw(e.Caller, e.Market, orZero(e.Assets), orZero(e.Shares), e.OnBehalf, e.Receiver)
	if err != nil {
		return nil, Result{}, err
	}
	batch := c.journalGen.GenerateWithdraw(e, c.loanToken(e.Market), assets, c.sequence)
	return batch, Result{Assets: assets, Shares: shares}, nil
}

func (c *DeterministicCore) handleBorrowed(e *event.Borrowed) (*ledger.Batch, Result, error) {
	assets, shares, err := c.ledger.Borrow(e.Caller, e.Market, orZero(e.Assets), orZero(e.Shares), e.OnBehalf, e.Receiver)
	if err != nil {
		return nil, Result{}, err
	}
	batch := c.journalGen.GenerateBorrow(e, c.loanToken(e.Market), assets, c.sequence)
	return batch, Result{Assets: assets, Shares: shares}, nil
}

func (c *DeterministicCore) handleRepaid(e *event.Repaid) (*ledger.Batch, Result, error) {
	assets, shares, err := c.ledger.Repay(e.Market, orZero(e.Assets), orZero(e.Shares), e.OnBehalf)
	if err != nil {
		return nil, Result{}, err
	}
	batch := c.journalGen.GenerateRepay(e, c.loanToken(e.Market), assets, c.sequence)
	return batch, Result{Assets: assets, Shares: shares}, nil
}

func (c *DeterministicCore) handleCycleClosed(e *event.CycleClosed) (*ledger.Batch, Result, error) {
	borrowers := make([]uuid.UUID, len(e.Obligations))
	bps := make([]uint64, len(e.Obligations))
	balances := make([]*uint256.Int, len(e.Obligations))
	for i, o := range e.Obligations {
		borrowers[i] = o.Borrower
		bps[i] = o.RepaymentBps
		balances[i] = o.EndingBalance
	}
	cycleID, err := c.creditLine.CloseCycle(e.Caller, e.Market, e.EndDate, borrowers, bps, balances)
	if err != nil {
		return nil, Result{}, err
	}
	return c.journalGen.Empty(e, c.sequence), Result{CycleID: cycleID}, nil
}

func (c *DeterministicCore) handleAccountSettled(e *event.AccountSettled) (*ledger.Batch, Result, error) {
	settlement, err := c.creditLine.Settle(e.Caller, e.Market, e.Borrower, orZero(e.Coverage))
	if err != nil {
		return nil, Result{}, err
	}
	batch := c.journalGen.GenerateSettlement(e, c.loanToken(e.Market), settlement.Covered, c.sequence)
	return batch, Result{
		Assets:     settlement.Covered,
		Shares:     settlement.CoveredShares,
		Settlement: &settlement,
	}, nil
}
