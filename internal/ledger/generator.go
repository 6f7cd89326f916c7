package ledger

import (
	"CreditLedger/internal/event"

	"github.com/holiman/uint256"
)

// JournalGenerator turns applied credit operations into balanced cash batches.
// Only cash moves are journaled. Interest, premiums, markdown and write-offs
// change the pool's claims, not its cash, and show up in the pool cash check
// instead.
type JournalGenerator struct{}

func NewJournalGenerator() *JournalGenerator {
	return &JournalGenerator{}
}

// Empty returns a batch with no journals for state-only events.
func (jg *JournalGenerator) Empty(evt event.Event, sequence int64) *Batch {
	return NewBatch(evt.IdempotencyKey(), sequence, evt.EventTime())
}

// GenerateSupply moves cash: user:wallet -> system:<market>:liquidity
func (jg *JournalGenerator) GenerateSupply(evt *event.Supplied, asset string, assets *uint256.Int, sequence int64) *Batch {
	batch := NewBatch(evt.IdempotencyKey(), sequence, evt.Timestamp)
	batch.Add(LiquidityAccount(evt.Market, asset), WalletAccount(evt.OnBehalf, asset), asset, assets, JournalTypeSupply)
	return batch
}

// GenerateWithdraw moves cash: system:<market>:liquidity -> receiver wallet
func (jg *JournalGenerator) GenerateWithdraw(evt *event.Withdrawn, asset string, assets *uint256.Int, sequence int64) *Batch {
	batch := NewBatch(evt.IdempotencyKey(), sequence, evt.Timestamp)
	batch.Add(WalletAccount(evt.Receiver, asset), LiquidityAccount(evt.Market, asset), asset, assets, JournalTypeWithdraw)
	return batch
}

// GenerateBorrow moves cash: system:<market>:liquidity -> receiver wallet
func (jg *JournalGenerator) GenerateBorrow(evt *event.Borrowed, asset string, assets *uint256.Int, sequence int64) *Batch {
	batch := NewBatch(evt.IdempotencyKey(), sequence, evt.Timestamp)
	batch.Add(WalletAccount(evt.Receiver, asset), LiquidityAccount(evt.Market, asset), asset, assets, JournalTypeBorrow)
	return batch
}

// GenerateRepay moves cash: borrower wallet -> system:<market>:liquidity
func (jg *JournalGenerator) GenerateRepay(evt *event.Repaid, asset string, assets *uint256.Int, sequence int64) *Batch {
	batch := NewBatch(evt.IdempotencyKey(), sequence, evt.Timestamp)
	batch.Add(LiquidityAccount(evt.Market, asset), WalletAccount(evt.OnBehalf, asset), asset, assets, JournalTypeRepay)
	return batch
}

// GenerateInsuranceDeposit moves cash: external:funding -> system:insurance:insurance_fund
func (jg *JournalGenerator) GenerateInsuranceDeposit(evt *event.InsuranceFunded, sequence int64) *Batch {
	batch := NewBatch(evt.IdempotencyKey(), sequence, evt.Timestamp)
	batch.Add(InsuranceAccount(evt.Asset), NewExternalAccountKey(SubTypeExternalFunding, evt.Asset), evt.Asset, evt.Amount, JournalTypeInsuranceDeposit)
	return batch
}

// GenerateSettlement moves the insurance-covered part of a settled debt:
// system:insurance:insurance_fund -> system:<market>:liquidity. A settlement
// with no coverage yields an empty batch.
func (jg *JournalGenerator) GenerateSettlement(evt *event.AccountSettled, asset string, covered *uint256.Int, sequence int64) *Batch {
	batch := NewBatch(evt.IdempotencyKey(), sequence, evt.Timestamp)
	batch.Add(LiquidityAccount(evt.Market, asset), InsuranceAccount(asset), asset, covered, JournalTypeInsuranceCoverage)
	return batch
}
