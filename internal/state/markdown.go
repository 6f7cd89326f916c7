package state

import (
	fpmath "CreditLedger/internal/math"

	"github.com/holiman/uint256"
)

// MarkdownState is the last recorded write-down of one borrower.
type MarkdownState struct {
	Amount    *uint256.Int
	UpdatedAt int64
}

func NewMarkdownState() *MarkdownState {
	return &MarkdownState{Amount: fpmath.Zero()}
}

func (s *MarkdownState) Clone() *MarkdownState {
	return &MarkdownState{Amount: s.Amount.Clone(), UpdatedAt: s.UpdatedAt}
}

// ClampMarkdown bounds a policy result to [0, debt].
func ClampMarkdown(proposed, debt *uint256.Int) *uint256.Int {
	if proposed == nil {
		return fpmath.Zero()
	}
	return fpmath.Min(proposed, debt)
}

// MarkdownDelta returns |next - recorded| and whether the markdown increased.
func MarkdownDelta(next, recorded *uint256.Int) (delta *uint256.Int, increase bool) {
	if next.Lt(recorded) {
		return fpmath.MustSub(recorded, next), false
	}
	return fpmath.MustSub(next, recorded), true
}

// ApplyMarkdownDelta moves the market totals by the change in one borrower's
// markdown. An increase moves value out of TotalSupplyAssets into
// TotalMarkdownAmount; a decrease moves exactly the same amount back.
func ApplyMarkdownDelta(m *Market, delta *uint256.Int, increase bool) {
	if delta.IsZero() {
		return
	}
	if increase {
		m.TotalMarkdownAmount = fpmath.MustAdd(m.TotalMarkdownAmount, delta)
		m.TotalSupplyAssets = fpmath.ZeroFloorSub(m.TotalSupplyAssets, delta)
		return
	}
	m.TotalMarkdownAmount = fpmath.ZeroFloorSub(m.TotalMarkdownAmount, delta)
	m.TotalSupplyAssets = fpmath.MustAdd(m.TotalSupplyAssets, delta)
}
