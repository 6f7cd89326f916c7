package irm

import (
	"errors"
	"fmt"

	fpmath "CreditLedger/internal/math"
	"CreditLedger/internal/state"

	"github.com/holiman/uint256"
)

const (
	NameFixed  = "fixed"
	NameKinked = "kinked"
)

// SecondsPerYear converts annual rates to per-second rates.
const SecondsPerYear = 31_536_000

var errKinkOutOfRange = errors.New("irm: kink must be <= 1e18")

// PerSecond converts a WAD annual rate to a WAD per-second rate, rounding down.
func PerSecond(annual *uint256.Int) *uint256.Int {
	return new(uint256.Int).Div(annual, uint256.NewInt(SecondsPerYear))
}

// Fixed charges the same rate regardless of utilization.
type Fixed struct {
	Rate *uint256.Int // WAD per second
}

func NewFixed(ratePerSecond *uint256.Int) *Fixed {
	return &Fixed{Rate: ratePerSecond.Clone()}
}

func (f *Fixed) BorrowRatePerSecond(_ state.MarketParams, _ state.Market) (*uint256.Int, error) {
	return f.Rate.Clone(), nil
}

// Kinked is a two-slope utilization curve. Below the kink the rate rises by
// Slope1 per unit of utilization; above it Slope2 applies to the excess.
// All values are WAD; rates are per second.
type Kinked struct {
	BaseRate *uint256.Int
	Slope1   *uint256.Int
	Slope2   *uint256.Int
	Kink     *uint256.Int
}

func NewKinked(base, slope1, slope2, kink *uint256.Int) (*Kinked, error) {
	if kink.Gt(fpmath.WAD) {
		return nil, fmt.Errorf("%w: %s", errKinkOutOfRange, kink.Dec())
	}
	return &Kinked{
		BaseRate: base.Clone(),
		Slope1:   slope1.Clone(),
		Slope2:   slope2.Clone(),
		Kink:     kink.Clone(),
	}, nil
}

func (k *Kinked) BorrowRatePerSecond(_ state.MarketParams, market state.Market) (*uint256.Int, error) {
	utilization := market.Utilization()
	rate := k.BaseRate.Clone()
	if utilization.IsZero() {
		return rate, nil
	}

	if k.Kink.IsZero() || !utilization.Gt(k.Kink) {
		// Linear region before the kink.
		return fpmath.MustAdd(rate, fpmath.WMulDown(k.Slope1, utilization)), nil
	}

	rate = fpmath.MustAdd(rate, fpmath.WMulDown(k.Slope1, k.Kink))
	excess := fpmath.MustSub(utilization, k.Kink)
	return fpmath.MustAdd(rate, fpmath.WMulDown(k.Slope2, excess)), nil
}
