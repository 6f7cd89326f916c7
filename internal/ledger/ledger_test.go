package ledger_test

import (
	"testing"

	"CreditLedger/internal/event"
	"CreditLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var userID = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_Paths(t *testing.T) {
	tests := []struct {
		key  ledger.AccountKey
		want string
	}{
		{ledger.WalletAccount(userID, "USDC"), "user:550e8400-e29b-41d4-a716-446655440000:wallet:USDC"},
		{ledger.LiquidityAccount("usdc-credit", "USDC"), "system:usdc-credit:liquidity:USDC"},
		{ledger.InsuranceAccount("USDC"), "system:insurance:insurance_fund:USDC"},
		{ledger.NewExternalAccountKey(ledger.SubTypeExternalFunding, "USDC"), "external:funding:USDC"},
	}
	for _, tt := range tests {
		if got := tt.key.AccountPath(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
		parsed, err := ledger.ParseAccountPath(tt.want)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.want, err)
		}
		if parsed != tt.key {
			t.Errorf("parse %q: got %+v, want %+v", tt.want, parsed, tt.key)
		}
	}
}

func TestParseAccountPath_EntityWithColons(t *testing.T) {
	key, err := ledger.ParseAccountPath("system:eu:usdc:liquidity:USDC")
	if err != nil {
		t.Fatal(err)
	}
	if key.Entity != "eu:usdc" || key.SubType != ledger.SubTypeSystemLiquidity {
		t.Errorf("got %+v", key)
	}
}

func TestParseAccountPath_Rejects(t *testing.T) {
	for _, path := range []string{"", "user:x", "system:m:nope:USDC", "moon:m:liquidity:USDC", "external:x:funding:USDC"} {
		if _, err := ledger.ParseAccountPath(path); err == nil {
			t.Errorf("%q: expected error", path)
		}
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	amount, negative := bt.GetBalance(ledger.WalletAccount(userID, "USDC")).Net()
	if !amount.IsZero() || negative {
		t.Errorf("initial balance should be 0, got %s (negative=%v)", amount.Dec(), negative)
	}
}

func TestBalanceTracker_ApplyBatch(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	pool := ledger.LiquidityAccount("usdc-credit", "USDC")
	wallet := ledger.WalletAccount(userID, "USDC")

	batch := ledger.NewBatch("supply-1", 1, 1_700_000_000)
	batch.Add(pool, wallet, "USDC", uint256.NewInt(1_000), ledger.JournalTypeSupply)
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if got := bt.Available(pool); got.Uint64() != 1_000 {
		t.Errorf("pool: got %s, want 1000", got.Dec())
	}
	amount, negative := bt.GetBalance(wallet).Net()
	if !negative || amount.Uint64() != 1_000 {
		t.Errorf("wallet: got %s negative=%v, want -1000", amount.Dec(), negative)
	}
	if err := bt.ValidateNonNegative(pool); err != nil {
		t.Errorf("pool should be non-negative: %v", err)
	}
}

func TestBalanceTracker_GlobalBalanceZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	batch := ledger.NewBatch("b", 1, 0)
	batch.Add(ledger.LiquidityAccount("m", "USDC"), ledger.WalletAccount(userID, "USDC"), "USDC", uint256.NewInt(500), ledger.JournalTypeSupply)
	batch.Add(ledger.WalletAccount(uuid.New(), "USDC"), ledger.LiquidityAccount("m", "USDC"), "USDC", uint256.NewInt(200), ledger.JournalTypeBorrow)
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatal(err)
	}

	for asset, total := range bt.ComputeGlobalBalance() {
		if !total.Debits.Eq(total.Credits) {
			t.Errorf("asset %s not zero-sum: %s vs %s", asset, total.Debits.Dec(), total.Credits.Dec())
		}
	}
	if err := ledger.NewInvariantValidator(bt).ValidateGlobalBalance(); err != nil {
		t.Error(err)
	}
}

func TestBalanceTracker_SnapshotIsCopy(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	pool := ledger.LiquidityAccount("m", "USDC")
	batch := ledger.NewBatch("b", 1, 0)
	batch.Add(pool, ledger.WalletAccount(userID, "USDC"), "USDC", uint256.NewInt(10), ledger.JournalTypeSupply)
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatal(err)
	}

	snap := bt.Snapshot()
	snap[pool].Debits.SetUint64(999)

	if got := bt.Available(pool); got.Uint64() != 10 {
		t.Errorf("snapshot mutation leaked into tracker: %s", got.Dec())
	}

	restored := ledger.NewBalanceTracker()
	for k, v := range bt.Snapshot() {
		restored.SetBalance(k, v)
	}
	if len(restored.Accounts()) != 2 {
		t.Errorf("restored accounts: got %d, want 2", len(restored.Accounts()))
	}
}

// ============================================================================
// Test: Batch validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	if err := ledger.NewBatch("e", 1, 0).Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatch_AddSkipsZero(t *testing.T) {
	batch := ledger.NewBatch("z", 1, 0)
	batch.Add(ledger.LiquidityAccount("m", "USDC"), ledger.InsuranceAccount("USDC"), "USDC", uint256.NewInt(0), ledger.JournalTypeInsuranceCoverage)
	if len(batch.Journals) != 0 {
		t.Errorf("zero amount should be skipped, got %d journals", len(batch.Journals))
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	pool := ledger.LiquidityAccount("m", "USDC")
	batch := ledger.NewBatch("s", 1, 0)
	batch.Add(pool, pool, "USDC", uint256.NewInt(1), ledger.JournalTypeSupply)
	if err := batch.Validate(); err == nil {
		t.Error("self-transfer should fail validation")
	}
}

func TestBatchValidate_MixedAssets_Fails(t *testing.T) {
	batch := ledger.NewBatch("x", 1, 0)
	batch.Add(ledger.LiquidityAccount("m", "USDC"), ledger.WalletAccount(userID, "DAI"), "USDC", uint256.NewInt(1), ledger.JournalTypeSupply)
	if err := batch.Validate(); err == nil {
		t.Error("mixed assets should fail validation")
	}
}

func TestBatchValidate_MismatchedBatchID_Fails(t *testing.T) {
	batch := ledger.NewBatch("m", 1, 0)
	batch.Add(ledger.LiquidityAccount("m", "USDC"), ledger.WalletAccount(userID, "USDC"), "USDC", uint256.NewInt(1), ledger.JournalTypeSupply)
	batch.Journals[0].BatchID = uuid.New()
	if err := batch.Validate(); err == nil {
		t.Error("mismatched batch_id should fail validation")
	}
}

func TestNewBatch_DeterministicIDs(t *testing.T) {
	a := ledger.NewBatch("cmd-1", 7, 0)
	b := ledger.NewBatch("cmd-1", 7, 0)
	c := ledger.NewBatch("cmd-1", 8, 0)
	if a.BatchID != b.BatchID {
		t.Error("same ref and sequence should give the same batch id")
	}
	if a.BatchID == c.BatchID {
		t.Error("different sequence should give a different batch id")
	}

	for _, batch := range []*ledger.Batch{a, b} {
		batch.Add(ledger.LiquidityAccount("m", "USDC"), ledger.WalletAccount(userID, "USDC"), "USDC", uint256.NewInt(1), ledger.JournalTypeSupply)
	}
	if a.Journals[0].JournalID != b.Journals[0].JournalID {
		t.Error("journal ids should be reproducible")
	}
}

// ============================================================================
// Test: InvariantValidator and JournalGenerator
// ============================================================================

func TestInvariantValidator_PoolCash(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)
	gen := ledger.NewJournalGenerator()

	supply := &event.Supplied{Header: event.Header{CommandID: uuid.New(), Timestamp: 1}, Market: "m", OnBehalf: userID}
	if err := bt.ApplyBatch(gen.GenerateSupply(supply, "USDC", uint256.NewInt(100), 1)); err != nil {
		t.Fatal(err)
	}

	if err := v.ValidatePoolCash("m", "USDC", uint256.NewInt(100)); err != nil {
		t.Errorf("exact cash should pass: %v", err)
	}
	if err := v.ValidatePoolCash("m", "USDC", uint256.NewInt(99)); err != nil {
		t.Errorf("dust in the pool should pass: %v", err)
	}
	if err := v.ValidatePoolCash("m", "USDC", uint256.NewInt(101)); err == nil {
		t.Error("missing cash should fail")
	}
}

func TestJournalGenerator_InsuranceFlow(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)
	gen := ledger.NewJournalGenerator()

	fund := &event.InsuranceFunded{Header: event.Header{CommandID: uuid.New()}, Asset: "USDC", Amount: uint256.NewInt(50)}
	if err := bt.ApplyBatch(gen.GenerateInsuranceDeposit(fund, 1)); err != nil {
		t.Fatal(err)
	}
	settle := &event.AccountSettled{Header: event.Header{CommandID: uuid.New()}, Market: "m", Borrower: userID}
	batch := gen.GenerateSettlement(settle, "USDC", uint256.NewInt(30), 2)
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatal(err)
	}
	if err := v.ValidateSystemAccounts(batch); err != nil {
		t.Error(err)
	}

	if err := v.ValidateInsuranceFund("USDC", uint256.NewInt(20)); err != nil {
		t.Errorf("insurance account: %v", err)
	}
	if got := bt.Available(ledger.LiquidityAccount("m", "USDC")); got.Uint64() != 30 {
		t.Errorf("pool: got %s, want 30", got.Dec())
	}
	if empty := gen.GenerateSettlement(settle, "USDC", uint256.NewInt(0), 3); len(empty.Journals) != 0 {
		t.Error("zero coverage should produce an empty batch")
	}
}

func TestInvariantValidator_OverdrawnSystemAccount(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	batch := ledger.NewBatch("w", 1, 0)
	batch.Add(ledger.WalletAccount(userID, "USDC"), ledger.LiquidityAccount("m", "USDC"), "USDC", uint256.NewInt(1), ledger.JournalTypeWithdraw)
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatal(err)
	}
	if err := ledger.NewInvariantValidator(bt).ValidateSystemAccounts(batch); err == nil {
		t.Error("overdrawn pool should fail")
	}
}
