package main

import (
	"testing"

	"CreditLedger/internal/config"
	"CreditLedger/internal/event"
	"CreditLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrapEvents_SkipsKnownAndIsStable(t *testing.T) {
	owner := uuid.New()
	protocol := &config.Protocol{
		Owner: owner,
		Markets: []config.MarketBootstrap{
			{Params: state.MarketParams{ID: "a", LoanToken: "USDC", IRM: "zero"}, Fee: uint256.NewInt(0)},
			{Params: state.MarketParams{ID: "b", LoanToken: "USDC", IRM: "zero"}, Fee: uint256.NewInt(0)},
		},
	}
	known := func(id string) bool { return id == "a" }

	first := bootstrapEvents(protocol, known, 100)
	require.Len(t, first, 1)
	mc := first[0].(*event.MarketCreated)
	assert.Equal(t, "b", mc.Market)
	assert.Equal(t, owner, mc.Caller)
	assert.Equal(t, int64(100), mc.Timestamp)

	again := bootstrapEvents(protocol, known, 200)
	assert.Equal(t, first[0].IdempotencyKey(), again[0].IdempotencyKey())
}
