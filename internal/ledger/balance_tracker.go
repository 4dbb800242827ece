package ledger

import (
	"fmt"
	"math/big"
)

// BalanceTracker maintains in-memory account balances.
// Not thread-safe: all mutation is serialized by the engine's writer lock.
type BalanceTracker struct {
	balances map[AccountKey]*big.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*big.Int),
	}
}

func (bt *BalanceTracker) get(key AccountKey) *big.Int {
	if v, ok := bt.balances[key]; ok {
		return v
	}
	v := new(big.Int)
	bt.balances[key] = v
	return v
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.get(j.DebitAccount).Add(bt.get(j.DebitAccount), j.Amount)
	bt.get(j.CreditAccount).Sub(bt.get(j.CreditAccount), j.Amount)
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns a copy of the current balance for an account.
func (bt *BalanceTracker) GetBalance(key AccountKey) *big.Int {
	if v, ok := bt.balances[key]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// GetHolderWallet returns a holder's wallet balance for an asset.
func (bt *BalanceTracker) GetHolderWallet(holder, asset string) *big.Int {
	return bt.GetBalance(NewHolderWalletKey(holder, asset))
}

// GetReservePool returns the pooled collateral balance for an asset.
func (bt *BalanceTracker) GetReservePool(asset string) *big.Int {
	return bt.GetBalance(NewReservePoolKey(asset))
}

// ValidateSufficient checks that an account holds at least required.
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, required *big.Int) error {
	balance := bt.GetBalance(key)
	if balance.Cmp(required) < 0 {
		return fmt.Errorf("%w: account %s has %s, need %s",
			ErrInsufficientBalance, key.AccountPath(), balance, required)
	}
	return nil
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	if balance := bt.GetBalance(key); balance.Sign() < 0 {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), balance)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances per asset (zero for a
// zero-sum ledger).
func (bt *BalanceTracker) ComputeGlobalBalance() map[string]*big.Int {
	totals := make(map[string]*big.Int)

	for key, balance := range bt.balances {
		if _, ok := totals[key.Asset]; !ok {
			totals[key.Asset] = new(big.Int)
		}
		totals[key.Asset].Add(totals[key.Asset], balance)
	}

	return totals
}

// Snapshot returns a deep copy of all balances.
func (bt *BalanceTracker) Snapshot() map[AccountKey]*big.Int {
	snapshot := make(map[AccountKey]*big.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = new(big.Int).Set(v)
	}
	return snapshot
}

// SetBalance overwrites an account balance (state restore only).
func (bt *BalanceTracker) SetBalance(key AccountKey, balance *big.Int) {
	bt.balances[key] = new(big.Int).Set(balance)
}
