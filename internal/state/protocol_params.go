package state

import (
	"fmt"

	fpmath "CreditLedger/internal/math"

	"github.com/holiman/uint256"
)

// Named protocol parameters. The ProtocolConfig store is keyed by these names so
// collaborators that only need one value can read it without the whole struct.
const (
	ParamCycleDuration     = "CYCLE_DURATION"
	ParamGracePeriod       = "GRACE_PERIOD"
	ParamDelinquencyPeriod = "DELINQUENCY_PERIOD"
	ParamMinCreditLine     = "MIN_CREDIT_LINE"
	ParamMaxCreditLine     = "MAX_CREDIT_LINE"
	ParamMaxPremiumRate    = "MAX_PREMIUM_RATE"
	ParamPenaltyRate       = "PENALTY_RATE"
	ParamMaxFee            = "MAX_FEE"
)

// ProtocolParams is the global parameter set consulted by the ledger.
// Durations are seconds; rates are WAD per second; MaxFee is a WAD fraction.
type ProtocolParams struct {
	CycleDuration     int64
	GracePeriod       int64
	DelinquencyPeriod int64
	MinCreditLine     *uint256.Int
	MaxCreditLine     *uint256.Int
	MaxPremiumRate    *uint256.Int
	PenaltyRate       *uint256.Int
	MaxFee            *uint256.Int
}

// DefaultProtocolParams: 30 day cycles, 7 day grace, 23 day delinquency, fee capped at 25%.
func DefaultProtocolParams() ProtocolParams {
	return ProtocolParams{
		CycleDuration:     30 * 24 * 3600,
		GracePeriod:       7 * 24 * 3600,
		DelinquencyPeriod: 23 * 24 * 3600,
		MinCreditLine:     fpmath.Zero(),
		MaxCreditLine:     fpmath.MaxUint256(),
		MaxPremiumRate:    uint256.NewInt(31_709_791_983), // ~100% APR
		PenaltyRate:       fpmath.Zero(),
		MaxFee:            fpmath.MustParseAmount("250000000000000000"),
	}
}

// Get returns a parameter by name. Unknown names return zero.
func (p ProtocolParams) Get(name string) *uint256.Int {
	switch name {
	case ParamCycleDuration:
		return uint256.NewInt(uint64(p.CycleDuration))
	case ParamGracePeriod:
		return uint256.NewInt(uint64(p.GracePeriod))
	case ParamDelinquencyPeriod:
		return uint256.NewInt(uint64(p.DelinquencyPeriod))
	case ParamMinCreditLine:
		return cloneOrZero(p.MinCreditLine)
	case ParamMaxCreditLine:
		return cloneOrZero(p.MaxCreditLine)
	case ParamMaxPremiumRate:
		return cloneOrZero(p.MaxPremiumRate)
	case ParamPenaltyRate:
		return cloneOrZero(p.PenaltyRate)
	case ParamMaxFee:
		return cloneOrZero(p.MaxFee)
	default:
		return fpmath.Zero()
	}
}

// ValidateProtocolParams checks that parameters are within valid ranges:
// durations non-negative, min <= max credit line, max fee <= 100%.
func ValidateProtocolParams(p ProtocolParams) error {
	if p.CycleDuration < 0 {
		return fmt.Errorf("cycle_duration must be >= 0, got %d", p.CycleDuration)
	}
	if p.GracePeriod < 0 {
		return fmt.Errorf("grace_period must be >= 0, got %d", p.GracePeriod)
	}
	if p.DelinquencyPeriod < 0 {
		return fmt.Errorf("delinquency_period must be >= 0, got %d", p.DelinquencyPeriod)
	}
	if p.MinCreditLine == nil || p.MaxCreditLine == nil {
		return fmt.Errorf("credit line bounds are required")
	}
	if p.MinCreditLine.Gt(p.MaxCreditLine) {
		return fmt.Errorf("min_credit_line (%s) must be <= max_credit_line (%s)",
			p.MinCreditLine.Dec(), p.MaxCreditLine.Dec())
	}
	if p.MaxFee == nil || p.MaxFee.Gt(fpmath.WAD) {
		return fmt.Errorf("max_fee must be <= 1e18")
	}
	if p.MaxPremiumRate == nil || p.PenaltyRate == nil {
		return fmt.Errorf("max_premium_rate and penalty_rate are required")
	}
	return nil
}

// StaticProtocolConfig serves a fixed parameter set.
type StaticProtocolConfig struct {
	params ProtocolParams
}

func NewStaticProtocolConfig(params ProtocolParams) (*StaticProtocolConfig, error) {
	if err := ValidateProtocolParams(params); err != nil {
		return nil, fmt.Errorf("invalid protocol params: %w", err)
	}
	return &StaticProtocolConfig{params: params}, nil
}

func (c *StaticProtocolConfig) Params() ProtocolParams {
	return c.params
}

func cloneOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return fpmath.Zero()
	}
	return v.Clone()
}
