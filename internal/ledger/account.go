package ledger

import (
	"fmt"
	"strings"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeHolder AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Holder sub-types
	SubTypeWallet AccountSubType = iota

	// System sub-types
	SubTypeReservePool

	// External sub-types
	SubTypeExternalSeed
	SubTypeExternalDeposits
)

// AccountKey is the in-memory key for balance tracking. Comparable, so it
// can be used directly as a map key.
type AccountKey struct {
	Scope    AccountScope
	EntityID string // Holder address for holder accounts, empty otherwise
	SubType  AccountSubType
	Asset    string // Payment asset symbol
}

// NewHolderWalletKey creates a key for a holder's wallet account.
func NewHolderWalletKey(holder, asset string) AccountKey {
	return AccountKey{
		Scope:    AccountScopeHolder,
		EntityID: holder,
		SubType:  SubTypeWallet,
		Asset:    asset,
	}
}

// NewReservePoolKey creates the key for the pooled collateral account.
func NewReservePoolKey(asset string) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: SubTypeReservePool,
		Asset:   asset,
	}
}

// NewExternalSeedKey creates the boundary account for seeded liquidity.
func NewExternalSeedKey(asset string) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: SubTypeExternalSeed,
		Asset:   asset,
	}
}

// NewExternalDepositsKey creates the boundary account for holder wallet funding.
func NewExternalDepositsKey(asset string) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: SubTypeExternalDeposits,
		Asset:   asset,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeHolder:
		return fmt.Sprintf("holder:%s:%s:%s", k.EntityID, k.subTypeName(), k.Asset)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), k.Asset)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), k.Asset)
	}
	return "unknown"
}

// ParseAccountPath inverts AccountPath. Used when reloading balances from a
// stored snapshot.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	switch {
	case len(parts) == 4 && parts[0] == "holder" && parts[2] == "wallet":
		return NewHolderWalletKey(parts[1], parts[3]), nil
	case len(parts) == 3 && parts[0] == "system" && parts[1] == "reserve_pool":
		return NewReservePoolKey(parts[2]), nil
	case len(parts) == 3 && parts[0] == "external" && parts[1] == "seed":
		return NewExternalSeedKey(parts[2]), nil
	case len(parts) == 3 && parts[0] == "external" && parts[1] == "deposits":
		return NewExternalDepositsKey(parts[2]), nil
	}
	return AccountKey{}, fmt.Errorf("unrecognized account path: %q", path)
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeReservePool:
		return "reserve_pool"
	case SubTypeExternalSeed:
		return "seed"
	case SubTypeExternalDeposits:
		return "deposits"
	default:
		return "unknown"
	}
}
