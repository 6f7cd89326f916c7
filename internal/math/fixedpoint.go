package math

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int    // Number of decimal places
	Scale            uint64 // 10^DecimalPrecision
}

var (
	// WadConfig is used for rates, fees and per-second compounding (1e18 = 100%)
	WadConfig = DecimalConfig{DecimalPrecision: 18, Scale: 1_000_000_000_000_000_000}
	// BpsConfig is used for repayment percentages (10_000 = 100%)
	BpsConfig = DecimalConfig{DecimalPrecision: 4, Scale: 10_000}
)

// WAD is the 1e18 fixed-point unit.
var WAD = uint256.NewInt(WadConfig.Scale)

// BPS is the basis-point denominator.
var BPS = uint256.NewInt(BpsConfig.Scale)

type RoundingMode int

const (
	RoundDown RoundingMode = iota // Toward zero (protocol keeps the dust)
	RoundUp                       // Away from zero (protocol is owed the dust)
)

func (m RoundingMode) String() string {
	switch m {
	case RoundDown:
		return "down"
	case RoundUp:
		return "up"
	default:
		return "unknown"
	}
}

// Zero returns a fresh zero value.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// MaxUint256 returns 2^256-1, used as the "everything" sentinel on repay.
func MaxUint256() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

// IsMax reports whether x is the MaxUint256 sentinel.
func IsMax(x *uint256.Int) bool {
	return x != nil && x.Eq(MaxUint256())
}

// MulDiv computes x * y / d with a 512-bit intermediate and the requested rounding.
// Panics on division by zero or on a quotient that does not fit in 256 bits; both
// indicate a broken caller invariant rather than a user error.
func MulDiv(x, y, d *uint256.Int, mode RoundingMode) *uint256.Int {
	if d.IsZero() {
		panic("math: MulDiv division by zero")
	}

	q, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		panic(fmt.Sprintf("math: MulDiv overflow (%s * %s / %s)", x.Dec(), y.Dec(), d.Dec()))
	}

	if mode == RoundUp {
		rem := new(uint256.Int).MulMod(x, y, d)
		if !rem.IsZero() {
			q.AddUint64(q, 1)
		}
	}

	return q
}

// MulDivDown returns floor(x * y / d).
func MulDivDown(x, y, d *uint256.Int) *uint256.Int {
	return MulDiv(x, y, d, RoundDown)
}

// MulDivUp returns ceil(x * y / d).
func MulDivUp(x, y, d *uint256.Int) *uint256.Int {
	return MulDiv(x, y, d, RoundUp)
}

// WMulDown returns floor(x * y / WAD).
func WMulDown(x, y *uint256.Int) *uint256.Int {
	return MulDivDown(x, y, WAD)
}

// WDivDown returns floor(x * WAD / y).
func WDivDown(x, y *uint256.Int) *uint256.Int {
	return MulDivDown(x, WAD, y)
}

// WDivUp returns ceil(x * WAD / y).
func WDivUp(x, y *uint256.Int) *uint256.Int {
	return MulDivUp(x, WAD, y)
}

// ZeroFloorSub returns max(x - y, 0).
func ZeroFloorSub(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return Zero()
	}
	return new(uint256.Int).Sub(x, y)
}

// Min returns a copy of the smaller operand.
func Min(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return x.Clone()
	}
	return y.Clone()
}

// MustAdd adds with an overflow check. Balances in this ledger never approach
// 2^256, so an overflow is a corrupted-state condition.
func MustAdd(x, y *uint256.Int) *uint256.Int {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		panic(fmt.Sprintf("math: add overflow (%s + %s)", x.Dec(), y.Dec()))
	}
	return z
}

// MustSub subtracts with an underflow check.
func MustSub(x, y *uint256.Int) *uint256.Int {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		panic(fmt.Sprintf("math: sub underflow (%s - %s)", x.Dec(), y.Dec()))
	}
	return z
}

// ParseAmount parses a base-10 amount string. The empty string is zero.
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return Zero(), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return v, nil
}

// MustParseAmount is ParseAmount for constants and tests.
func MustParseAmount(s string) *uint256.Int {
	v, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return v
}

// ToFloat converts a WAD-scaled value to float64 for metrics and display only.
func ToFloat(x *uint256.Int, cfg DecimalConfig) float64 {
	if x == nil {
		return 0
	}
	f := new(big.Float).SetInt(x.ToBig())
	f.Quo(f, new(big.Float).SetUint64(cfg.Scale))
	v, _ := f.Float64()
	return v
}
