package math

import "github.com/holiman/uint256"

const (
	// VirtualSharesAmount is added to total shares in every conversion. With
	// VirtualAssetsAmount it fixes the empty-market price at 1e6 shares per asset,
	// which makes first-depositor share inflation unprofitable.
	VirtualSharesAmount uint64 = 1_000_000
	// VirtualAssetsAmount is added to total assets in every conversion.
	VirtualAssetsAmount uint64 = 1
)

var (
	VirtualShares = uint256.NewInt(VirtualSharesAmount)
	VirtualAssets = uint256.NewInt(VirtualAssetsAmount)
)

func sharesDenominators(totalAssets, totalShares *uint256.Int) (assetsPlus, sharesPlus *uint256.Int) {
	return MustAdd(totalAssets, VirtualAssets), MustAdd(totalShares, VirtualShares)
}

// ToSharesDown converts assets to shares, rounding down.
func ToSharesDown(assets, totalAssets, totalShares *uint256.Int) *uint256.Int {
	a, s := sharesDenominators(totalAssets, totalShares)
	return MulDivDown(assets, s, a)
}

// ToSharesUp converts assets to shares, rounding up.
func ToSharesUp(assets, totalAssets, totalShares *uint256.Int) *uint256.Int {
	a, s := sharesDenominators(totalAssets, totalShares)
	return MulDivUp(assets, s, a)
}

// ToAssetsDown converts shares to assets, rounding down.
func ToAssetsDown(shares, totalAssets, totalShares *uint256.Int) *uint256.Int {
	a, s := sharesDenominators(totalAssets, totalShares)
	return MulDivDown(shares, a, s)
}

// ToAssetsUp converts shares to assets, rounding up.
func ToAssetsUp(shares, totalAssets, totalShares *uint256.Int) *uint256.Int {
	a, s := sharesDenominators(totalAssets, totalShares)
	return MulDivUp(shares, a, s)
}
