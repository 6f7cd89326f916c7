package projection

import (
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
)

func TestHistory_NewestFirstAndBounded(t *testing.T) {
	h := NewHistory(3)
	alice, bob := uuid.New(), uuid.New()

	for i := int64(0); i < 4; i++ {
		who := alice
		if i == 2 {
			who = bob
		}
		h.AddSettlement(SettlementRecord{Sequence: i, Account: who, Covered: uint256.NewInt(uint64(i))})
	}

	got := h.SettlementsByAccount(alice, 10)
	// sequence 0 was evicted
	if assert.Len(t, got, 2) {
		assert.Equal(t, int64(3), got[0].Sequence)
		assert.Equal(t, int64(1), got[1].Sequence)
	}
	assert.Len(t, h.SettlementsByAccount(alice, 1), 1)
	assert.Len(t, h.SettlementsByAccount(bob, 10), 1)
}

func TestHistory_CyclesByMarket(t *testing.T) {
	h := NewHistory(10)
	h.AddCycle(CycleRecord{MarketID: "a", CycleID: 0})
	h.AddCycle(CycleRecord{MarketID: "b", CycleID: 0})
	h.AddCycle(CycleRecord{MarketID: "a", CycleID: 1})

	got := h.CyclesByMarket("a", 10)
	if assert.Len(t, got, 2) {
		assert.Equal(t, uint64(1), got[0].CycleID)
	}
	assert.Empty(t, h.CyclesByMarket("c", 10))
}
