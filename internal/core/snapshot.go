package core

import (
	"fmt"

	"CreditLedger/internal/credit"
	"CreditLedger/internal/event"
	"CreditLedger/internal/ledger"
	fpmath "CreditLedger/internal/math"
	"CreditLedger/internal/state"
)

// SnapshotState is a serializable image of the core. Amounts are decimal
// strings so the struct can be written as JSON as is.
type SnapshotState struct {
	Sequence        int64                      `json:"sequence"` // last applied global sequence
	StateHash       [32]byte                   `json:"-"`
	Clock           int64                      `json:"clock"`
	Balances        map[string]BalanceSnapshot `json:"balances"` // keyed by account path
	Ledger          credit.Snapshot            `json:"ledger"`
	Funds           []FundSnapshot             `json:"insurance_funds"`
	SequenceState   map[string]int64           `json:"sequence_state"`
	IdempotencyKeys []string                   `json:"idempotency_keys"`
}

type BalanceSnapshot struct {
	Debits  string `json:"debits"`
	Credits string `json:"credits"`
}

type FundSnapshot struct {
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

// CreateSnapshotState captures the core. It must run on the core goroutine;
// the result shares no memory with the live state.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	snap := &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Clock:           c.clock.now,
		Balances:        make(map[string]BalanceSnapshot),
		Ledger:          c.ledger.Export(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.Keys(),
	}
	for key, bal := range c.balanceTracker.Snapshot() {
		snap.Balances[key.AccountPath()] = BalanceSnapshot{
			Debits:  bal.Debits.Dec(),
			Credits: bal.Credits.Dec(),
		}
	}
	for _, f := range c.creditLine.Funds() {
		snap.Funds = append(snap.Funds, FundSnapshot{Asset: f.Asset, Balance: f.Balance.Dec()})
	}
	return snap
}

// RestoreFromSnapshot replaces the core state with snap. On error the core is
// unusable and the caller should start from an empty state instead.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	if err := c.ledger.Restore(snap.Ledger); err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}

	tracker := ledger.NewBalanceTracker()
	for path, bs := range snap.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return fmt.Errorf("restore balance: %w", err)
		}
		debits, err := fpmath.ParseAmount(bs.Debits)
		if err != nil {
			return fmt.Errorf("restore balance %s: %w", path, err)
		}
		credits, err := fpmath.ParseAmount(bs.Credits)
		if err != nil {
			return fmt.Errorf("restore balance %s: %w", path, err)
		}
		tracker.SetBalance(key, ledger.Balance{Debits: debits, Credits: credits})
	}

	funds := make([]state.InsuranceFund, 0, len(snap.Funds))
	for _, f := range snap.Funds {
		bal, err := fpmath.ParseAmount(f.Balance)
		if err != nil {
			return fmt.Errorf("restore insurance fund %s: %w", f.Asset, err)
		}
		funds = append(funds, state.InsuranceFund{Asset: f.Asset, Balance: bal})
	}

	c.balanceTracker = tracker
	c.validator = ledger.NewInvariantValidator(tracker)
	c.creditLine.RestoreFunds(funds)
	c.sequence = snap.Sequence + 1
	c.clock.now = snap.Clock
	c.hasher.SetPrevHash(snap.StateHash)
	c.sequenceValidator.RestorePartitions(snap.SequenceState)
	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)

	for _, marketID := range c.ledger.MarketIDs() {
		if err := c.ledger.CheckInvariants(marketID); err != nil {
			return fmt.Errorf("restored state: %w", err)
		}
	}
	if err := c.validator.ValidateGlobalBalance(); err != nil {
		return fmt.Errorf("restored state: %w", err)
	}
	return nil
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// StoredEvent is one persisted envelope as read back from the event log.
type StoredEvent struct {
	Sequence  int64
	EventType event.EventType
	Payload   []byte
	StateHash [32]byte
}

// ReplayEvent re-applies a persisted event without emitting outputs and
// verifies that the recomputed state hash matches the stored one.
func (c *DeterministicCore) ReplayEvent(stored StoredEvent) error {
	_, err := c.ReplayOutput(stored)
	return err
}

// ReplayOutput is ReplayEvent returning the output the live apply emitted,
// for rebuilding projections from the log.
func (c *DeterministicCore) ReplayOutput(stored StoredEvent) (CoreOutput, error) {
	if stored.Sequence != c.sequence {
		return CoreOutput{}, fmt.Errorf("replay: expected sequence %d, log has %d", c.sequence, stored.Sequence)
	}
	evt, err := event.Decode(stored.EventType, stored.Payload)
	if err != nil {
		return CoreOutput{}, fmt.Errorf("replay sequence %d: %w", stored.Sequence, err)
	}
	res, out, err := c.process(evt, true)
	if err != nil {
		return CoreOutput{}, fmt.Errorf("replay sequence %d: %w", stored.Sequence, err)
	}
	if res.Duplicate {
		return CoreOutput{}, fmt.Errorf("replay sequence %d: duplicate %s in the log", stored.Sequence, evt.IdempotencyKey())
	}
	if out.Envelope.StateHash != stored.StateHash {
		return CoreOutput{}, fmt.Errorf("replay sequence %d: state hash mismatch, nondeterministic apply", stored.Sequence)
	}
	return *out, nil
}
