package ledger

import (
	"fmt"
	"sort"

	fpmath "CreditLedger/internal/math"

	"github.com/holiman/uint256"
)

// Balance is an account's running debit and credit totals. Amounts are
// unsigned, so the signed balance is kept as the pair.
type Balance struct {
	Debits  *uint256.Int
	Credits *uint256.Int
}

func zeroBalance() Balance {
	return Balance{Debits: fpmath.Zero(), Credits: fpmath.Zero()}
}

// Net returns |debits - credits| and whether credits exceed debits.
func (b Balance) Net() (amount *uint256.Int, negative bool) {
	if b.Credits.Gt(b.Debits) {
		return fpmath.MustSub(b.Credits, b.Debits), true
	}
	return fpmath.MustSub(b.Debits, b.Credits), false
}

func (b Balance) clone() Balance {
	return Balance{Debits: b.Debits.Clone(), Credits: b.Credits.Clone()}
}

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]Balance
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]Balance),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	debit := bt.get(j.DebitAccount)
	debit.Debits = fpmath.MustAdd(debit.Debits, j.Amount)
	bt.balances[j.DebitAccount] = debit

	credit := bt.get(j.CreditAccount)
	credit.Credits = fpmath.MustAdd(credit.Credits, j.Amount)
	bt.balances[j.CreditAccount] = credit
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

func (bt *BalanceTracker) get(key AccountKey) Balance {
	if b, ok := bt.balances[key]; ok {
		return b
	}
	return zeroBalance()
}

// GetBalance returns a copy of the totals for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) Balance {
	return bt.get(key).clone()
}

// Available returns the positive balance of a debit-normal account, zero when
// it is overdrawn.
func (bt *BalanceTracker) Available(key AccountKey) *uint256.Int {
	amount, negative := bt.get(key).Net()
	if negative {
		return fpmath.Zero()
	}
	return amount
}

// ValidateNonNegative checks that a debit-normal account has debits >= credits
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	amount, negative := bt.get(key).Net()
	if negative {
		return fmt.Errorf("account %s has negative balance: -%s", key.AccountPath(), amount.Dec())
	}
	return nil
}

// ComputeGlobalBalance sums debits and credits per asset. A zero-sum ledger has
// equal totals for every asset.
func (bt *BalanceTracker) ComputeGlobalBalance() map[string]Balance {
	totals := make(map[string]Balance)

	for key, b := range bt.balances {
		t, ok := totals[key.Asset]
		if !ok {
			t = zeroBalance()
		}
		t.Debits = fpmath.MustAdd(t.Debits, b.Debits)
		t.Credits = fpmath.MustAdd(t.Credits, b.Credits)
		totals[key.Asset] = t
	}

	return totals
}

// Accounts returns every tracked account sorted by path.
func (bt *BalanceTracker) Accounts() []AccountKey {
	keys := make([]AccountKey, 0, len(bt.balances))
	for k := range bt.balances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].AccountPath() < keys[j].AccountPath()
	})
	return keys
}

// SetBalance overwrites an account (snapshot restore only).
func (bt *BalanceTracker) SetBalance(key AccountKey, b Balance) {
	bt.balances[key] = b.clone()
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]Balance {
	snapshot := make(map[AccountKey]Balance, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v.clone()
	}
	return snapshot
}
