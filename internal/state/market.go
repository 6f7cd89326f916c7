package state

import (
	fpmath "CreditLedger/internal/math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// MarketParams is the immutable configuration of a credit market.
type MarketParams struct {
	ID                  string
	LoanToken           string
	CreditLineAuthority uuid.UUID
	IRM                 string // Interest rate model name
	MarkdownPolicy      string // Markdown policy name
}

// Market holds the pooled totals of one market.
// Invariant: TotalBorrowAssets <= TotalSupplyAssets + TotalMarkdownAmount.
type Market struct {
	TotalSupplyAssets   *uint256.Int
	TotalSupplyShares   *uint256.Int
	TotalBorrowAssets   *uint256.Int
	TotalBorrowShares   *uint256.Int
	LastUpdate          int64
	Fee                 *uint256.Int // WAD fraction of interest minted to the fee recipient
	TotalMarkdownAmount *uint256.Int
}

func NewMarket(now int64) *Market {
	return &Market{
		TotalSupplyAssets:   fpmath.Zero(),
		TotalSupplyShares:   fpmath.Zero(),
		TotalBorrowAssets:   fpmath.Zero(),
		TotalBorrowShares:   fpmath.Zero(),
		LastUpdate:          now,
		Fee:                 fpmath.Zero(),
		TotalMarkdownAmount: fpmath.Zero(),
	}
}

// Clone returns a deep copy.
func (m *Market) Clone() *Market {
	return &Market{
		TotalSupplyAssets:   m.TotalSupplyAssets.Clone(),
		TotalSupplyShares:   m.TotalSupplyShares.Clone(),
		TotalBorrowAssets:   m.TotalBorrowAssets.Clone(),
		TotalBorrowShares:   m.TotalBorrowShares.Clone(),
		LastUpdate:          m.LastUpdate,
		Fee:                 m.Fee.Clone(),
		TotalMarkdownAmount: m.TotalMarkdownAmount.Clone(),
	}
}

// AvailableLiquidity is TotalSupplyAssets - TotalBorrowAssets, floored at zero.
// Markdown is excluded: written-down value is not withdrawable.
func (m *Market) AvailableLiquidity() *uint256.Int {
	return fpmath.ZeroFloorSub(m.TotalSupplyAssets, m.TotalBorrowAssets)
}

// Utilization returns TotalBorrowAssets / TotalSupplyAssets as a WAD fraction.
func (m *Market) Utilization() *uint256.Int {
	if m.TotalSupplyAssets.IsZero() {
		return fpmath.Zero()
	}
	return fpmath.WDivDown(m.TotalBorrowAssets, m.TotalSupplyAssets)
}

// IsSolvent reports TotalBorrowAssets <= TotalSupplyAssets + TotalMarkdownAmount.
func (m *Market) IsSolvent() bool {
	backing := fpmath.MustAdd(m.TotalSupplyAssets, m.TotalMarkdownAmount)
	return !m.TotalBorrowAssets.Gt(backing)
}

// ExpectedCash is the loan-asset balance the pool must hold:
// TotalSupplyAssets + TotalMarkdownAmount - TotalBorrowAssets.
func (m *Market) ExpectedCash() *uint256.Int {
	backing := fpmath.MustAdd(m.TotalSupplyAssets, m.TotalMarkdownAmount)
	return fpmath.ZeroFloorSub(backing, m.TotalBorrowAssets)
}
