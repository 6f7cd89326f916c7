package state_test

import (
	"testing"

	fpmath "CreditLedger/internal/math"
	"CreditLedger/internal/state"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	day         = int64(24 * 3600)
	cycleLen    = 30 * day
	grace       = 7 * day
	delinquency = 23 * day
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func e18(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(u(v), fpmath.WAD)
}

func obligation(endingBalance *uint256.Int, bps uint64) *state.RepaymentObligation {
	return &state.RepaymentObligation{
		CycleID:       0,
		AmountDue:     state.ComputeAmountDue(endingBalance, bps),
		EndingBalance: endingBalance.Clone(),
	}
}

// ============================================================================
// Obligation sizing
// ============================================================================

func TestComputeAmountDue_TenPercent(t *testing.T) {
	assert.Equal(t, e18(1000), state.ComputeAmountDue(e18(10_000), 1000))
}

func TestComputeAmountDue_RoundsDown(t *testing.T) {
	// 9999 * 1 / 10000 = 0.9999
	assert.True(t, state.ComputeAmountDue(u(9999), 1).IsZero())
}

func TestObligation_ZeroDueIsNotOutstanding(t *testing.T) {
	var none *state.RepaymentObligation
	assert.False(t, none.IsOutstanding())
	assert.False(t, obligation(e18(10), 0).IsOutstanding())
	assert.True(t, obligation(e18(10), 1).IsOutstanding())
}

// ============================================================================
// Repayment status boundaries
// ============================================================================

func TestDeriveRepaymentStatus_NoObligation(t *testing.T) {
	status, since := state.DeriveRepaymentStatus(nil, 1000, grace, delinquency, 5_000_000)
	assert.Equal(t, state.StatusCurrent, status)
	assert.Equal(t, int64(0), since)
}

func TestDeriveRepaymentStatus_Boundaries(t *testing.T) {
	const end = int64(1_700_000_000)
	obl := obligation(e18(10_000), 1000)

	tests := []struct {
		name      string
		now       int64
		wantState state.RepaymentStatus
		wantSince int64
	}{
		{"at cycle end", end, state.StatusGracePeriod, end},
		{"inside grace", end + 1, state.StatusGracePeriod, end},
		{"last grace second", end + grace, state.StatusGracePeriod, end},
		{"first delinquent second", end + grace + 1, state.StatusDelinquent, end + grace},
		{"last delinquent second", end + grace + delinquency - 1, state.StatusDelinquent, end + grace},
		{"default boundary", end + grace + delinquency, state.StatusDefault, end + grace + delinquency},
		{"long default", end + 365*day, state.StatusDefault, end + grace + delinquency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, since := state.DeriveRepaymentStatus(obl, end, grace, delinquency, tt.now)
			assert.Equal(t, tt.wantState, status)
			assert.Equal(t, tt.wantSince, since)
		})
	}
}

func TestRepaymentStatus_String(t *testing.T) {
	assert.Equal(t, "grace_period", state.StatusGracePeriod.String())
	assert.Equal(t, "default", state.StatusDefault.String())
	assert.Equal(t, "unknown", state.RepaymentStatus(42).String())
}

// ============================================================================
// Freeze and cycle spacing
// ============================================================================

func TestIsFrozen_NoCycles(t *testing.T) {
	assert.True(t, state.IsFrozen(nil, cycleLen, 0))
}

func TestIsFrozen_WindowBoundary(t *testing.T) {
	cycles := []state.PaymentCycle{{EndDate: 1000}}
	assert.False(t, state.IsFrozen(cycles, cycleLen, 1000+cycleLen))
	assert.True(t, state.IsFrozen(cycles, cycleLen, 1000+cycleLen+1))
}

func TestIsFrozen_ZeroDurationNeverReopens(t *testing.T) {
	cycles := []state.PaymentCycle{{EndDate: 1000}}
	assert.False(t, state.IsFrozen(cycles, 0, 1000))
	assert.True(t, state.IsFrozen(cycles, 0, 1001))
	assert.True(t, state.IsFrozen(cycles, 0, 1_000_000))
}

func TestNextCycleAllowed(t *testing.T) {
	assert.True(t, state.NextCycleAllowed(nil, 5, cycleLen), "first cycle is unconstrained")

	cycles := []state.PaymentCycle{{EndDate: 1000}}
	assert.False(t, state.NextCycleAllowed(cycles, 1000+cycleLen-1, cycleLen))
	assert.True(t, state.NextCycleAllowed(cycles, 1000+cycleLen, cycleLen))
}

// ============================================================================
// Protocol params
// ============================================================================

func TestValidateProtocolParams_Defaults(t *testing.T) {
	require.NoError(t, state.ValidateProtocolParams(state.DefaultProtocolParams()))
}

func TestValidateProtocolParams_Rejects(t *testing.T) {
	p := state.DefaultProtocolParams()
	p.GracePeriod = -1
	assert.Error(t, state.ValidateProtocolParams(p))

	p = state.DefaultProtocolParams()
	p.MinCreditLine = e18(10)
	p.MaxCreditLine = e18(1)
	assert.Error(t, state.ValidateProtocolParams(p))

	p = state.DefaultProtocolParams()
	p.MaxFee = e18(2)
	assert.Error(t, state.ValidateProtocolParams(p))
}

func TestProtocolParams_GetByName(t *testing.T) {
	p := state.DefaultProtocolParams()
	assert.Equal(t, u(uint64(grace)), p.Get(state.ParamGracePeriod))
	assert.True(t, p.Get("NOT_A_PARAM").IsZero())
}
