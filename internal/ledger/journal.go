package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeSupply JournalType = iota
	JournalTypeWithdraw
	JournalTypeBorrow
	JournalTypeRepay
	JournalTypeInsuranceDeposit
	JournalTypeInsuranceCoverage
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeSupply:
		return "supply"
	case JournalTypeWithdraw:
		return "withdraw"
	case JournalTypeBorrow:
		return "borrow"
	case JournalTypeRepay:
		return "repay"
	case JournalTypeInsuranceDeposit:
		return "insurance_deposit"
	case JournalTypeInsuranceCoverage:
		return "insurance_coverage"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID    // Derived from the batch, stable across replays
	BatchID       uuid.UUID    // Groups balanced entries
	EventRef      string       // Idempotency key of source event
	Sequence      int64        // Global event sequence
	DebitAccount  AccountKey   // Account receiving debit (balance increases)
	CreditAccount AccountKey   // Account receiving credit (balance decreases)
	Asset         string       // Asset being transferred
	Amount        *uint256.Int // ALWAYS positive
	JournalType   JournalType
	Timestamp     int64 // Versioned input timestamp (unix seconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// batchNamespace roots the name-based batch IDs.
var batchNamespace = uuid.MustParse("0d6f3c52-8a4b-5e8f-9c61-3b1f4a2e7d90")

// NewBatch starts an empty batch. IDs are derived from the event reference and
// the global sequence so replaying the log reproduces them exactly.
func NewBatch(eventRef string, sequence, timestamp int64) *Batch {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], uint64(sequence))
	return &Batch{
		BatchID:   uuid.NewSHA1(batchNamespace, append([]byte(eventRef), seq[:]...)),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
	}
}

// Add appends a transfer of amount from credit to debit. Zero amounts are skipped.
func (b *Batch) Add(debit, credit AccountKey, asset string, amount *uint256.Int, jt JournalType) {
	if amount == nil || amount.IsZero() {
		return
	}
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(len(b.Journals)))
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.NewSHA1(b.BatchID, idx[:]),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Asset:         asset,
		Amount:        amount.Clone(),
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// Validate ensures the batch is well-formed.
// Each journal entry is a balanced transfer by construction (a single positive
// amount moves from credit account to debit account), so debits equal credits
// per entry. Multi-leg batches use several entries under one batch_id.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount == nil || j.Amount.IsZero() {
			return fmt.Errorf("journal %s has non-positive amount", j.JournalID)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		// No self-transfers
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		// Single-asset transfers only
		if j.DebitAccount.Asset != j.Asset || j.CreditAccount.Asset != j.Asset {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}
