package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota // Net cash a user has moved in and out of the protocol

	// System sub-types
	SubTypeSystemLiquidity     // Loan-asset cash held by a market pool
	SubTypeSystemInsuranceFund // Cash backing an insurance fund

	// External sub-types
	SubTypeExternalFunding
)

// InsuranceEntity is the system entity holding insurance fund accounts.
const InsuranceEntity = "insurance"

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope   AccountScope
	Entity  string // User UUID, market ID or system name; empty for external accounts
	SubType AccountSubType
	Asset   string
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(userID uuid.UUID, subType AccountSubType, asset string) AccountKey {
	return AccountKey{
		Scope:   AccountScopeUser,
		Entity:  userID.String(),
		SubType: subType,
		Asset:   asset,
	}
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(entity string, subType AccountSubType, asset string) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		Entity:  entity,
		SubType: subType,
		Asset:   asset,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, asset string) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		Asset:   asset,
	}
}

// LiquidityAccount is the pool cash account of a market.
func LiquidityAccount(marketID, asset string) AccountKey {
	return NewSystemAccountKey(marketID, SubTypeSystemLiquidity, asset)
}

// InsuranceAccount is the cash account behind the insurance fund of asset.
func InsuranceAccount(asset string) AccountKey {
	return NewSystemAccountKey(InsuranceEntity, SubTypeSystemInsuranceFund, asset)
}

// WalletAccount is a user's net cash flow with the protocol.
func WalletAccount(userID uuid.UUID, asset string) AccountKey {
	return NewUserAccountKey(userID, SubTypeWallet, asset)
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.Entity, k.SubType, k.Asset)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s:%s", k.Entity, k.SubType, k.Asset)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.SubType, k.Asset)
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath. The entity may itself
// contain colons; sub-type and asset never do.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	if len(parts) < 3 {
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}
	n := len(parts)
	subType, ok := parseSubType(parts[n-2])
	if !ok {
		return AccountKey{}, fmt.Errorf("unknown sub-type in account path %q", path)
	}
	key := AccountKey{SubType: subType, Asset: parts[n-1]}

	switch parts[0] {
	case "external":
		if n != 3 {
			return AccountKey{}, fmt.Errorf("malformed external account path %q", path)
		}
		key.Scope = AccountScopeExternal
	case "user", "system":
		if n < 4 {
			return AccountKey{}, fmt.Errorf("malformed account path %q", path)
		}
		key.Scope = AccountScopeSystem
		if parts[0] == "user" {
			key.Scope = AccountScopeUser
		}
		key.Entity = strings.Join(parts[1:n-2], ":")
	default:
		return AccountKey{}, fmt.Errorf("unknown scope in account path %q", path)
	}
	return key, nil
}

// DebitNormal reports whether the account must never go below zero: pool and
// insurance cash. Wallets and external accounts are counterparties and may
// carry a credit balance.
func (k AccountKey) DebitNormal() bool {
	return k.Scope == AccountScopeSystem
}

func (s AccountSubType) String() string {
	switch s {
	case SubTypeWallet:
		return "wallet"
	case SubTypeSystemLiquidity:
		return "liquidity"
	case SubTypeSystemInsuranceFund:
		return "insurance_fund"
	case SubTypeExternalFunding:
		return "funding"
	default:
		return "unknown"
	}
}

func parseSubType(name string) (AccountSubType, bool) {
	for _, s := range []AccountSubType{SubTypeWallet, SubTypeSystemLiquidity, SubTypeSystemInsuranceFund, SubTypeExternalFunding} {
		if s.String() == name {
			return s, true
		}
	}
	return 0, false
}
