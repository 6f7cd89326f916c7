package projection

import (
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// SettlementRecord is one AccountSettled outcome.
type SettlementRecord struct {
	Sequence         int64
	MarketID         string
	Account          uuid.UUID
	Covered          *uint256.Int
	CoveredShares    *uint256.Int
	WrittenOffAssets *uint256.Int
	WrittenOffShares *uint256.Int
	Timestamp        int64
}

// CycleRecord is one closed payment cycle.
type CycleRecord struct {
	Sequence    int64
	MarketID    string
	CycleID     uint64
	EndDate     int64
	Obligations int
}

// History keeps the most recent settlements and cycle closes in memory for
// the query API. Older entries are dropped once capacity is reached; the
// projection tables hold the full history.
type History struct {
	mu          sync.RWMutex
	capacity    int
	settlements []SettlementRecord
	cycles      []CycleRecord
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{capacity: capacity}
}

func (h *History) AddSettlement(rec SettlementRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.settlements = appendBounded(h.settlements, rec, h.capacity)
}

func (h *History) AddCycle(rec CycleRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cycles = appendBounded(h.cycles, rec, h.capacity)
}

// SettlementsByAccount returns up to limit settlements of account, newest first.
func (h *History) SettlementsByAccount(account uuid.UUID, limit int) []SettlementRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]SettlementRecord, 0)
	for i := len(h.settlements) - 1; i >= 0 && len(result) < limit; i-- {
		if h.settlements[i].Account == account {
			result = append(result, h.settlements[i])
		}
	}
	return result
}

// CyclesByMarket returns up to limit cycles of marketID, newest first.
func (h *History) CyclesByMarket(marketID string, limit int) []CycleRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]CycleRecord, 0)
	for i := len(h.cycles) - 1; i >= 0 && len(result) < limit; i-- {
		if h.cycles[i].MarketID == marketID {
			result = append(result, h.cycles[i])
		}
	}
	return result
}

func appendBounded[T any](s []T, v T, capacity int) []T {
	if len(s) >= capacity {
		copy(s, s[1:])
		s = s[:len(s)-1]
	}
	return append(s, v)
}
