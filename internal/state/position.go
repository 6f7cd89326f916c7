package state

import (
	fpmath "CreditLedger/internal/math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// PositionKey identifies a position within the ledger.
type PositionKey struct {
	MarketID string
	Account  uuid.UUID
}

// Position is one account's holding in one market.
// CreditLimit occupies the collateral slot: a ceiling on debt, not pledged value.
// BorrowShares == 0 and CreditLimit == 0 together mean no active loan.
type Position struct {
	SupplyShares *uint256.Int
	BorrowShares *uint256.Int
	CreditLimit  *uint256.Int
}

func NewPosition() *Position {
	return &Position{
		SupplyShares: fpmath.Zero(),
		BorrowShares: fpmath.Zero(),
		CreditLimit:  fpmath.Zero(),
	}
}

func (p *Position) Clone() *Position {
	return &Position{
		SupplyShares: p.SupplyShares.Clone(),
		BorrowShares: p.BorrowShares.Clone(),
		CreditLimit:  p.CreditLimit.Clone(),
	}
}

// IsEmpty reports whether the position carries nothing and can be dropped.
func (p *Position) IsEmpty() bool {
	return p.SupplyShares.IsZero() && p.BorrowShares.IsZero() && p.CreditLimit.IsZero()
}

// Debt values the borrow shares against the market, rounding up.
func (p *Position) Debt(m *Market) *uint256.Int {
	if p.BorrowShares.IsZero() {
		return fpmath.Zero()
	}
	return fpmath.ToAssetsUp(p.BorrowShares, m.TotalBorrowAssets, m.TotalBorrowShares)
}

// SupplyValue values the supply shares against the market, rounding down.
func (p *Position) SupplyValue(m *Market) *uint256.Int {
	if p.SupplyShares.IsZero() {
		return fpmath.Zero()
	}
	return fpmath.ToAssetsDown(p.SupplyShares, m.TotalSupplyAssets, m.TotalSupplyShares)
}

// IsHealthy reports whether debt fits under the credit limit.
func (p *Position) IsHealthy(m *Market) bool {
	return !p.Debt(m).Gt(p.CreditLimit)
}
