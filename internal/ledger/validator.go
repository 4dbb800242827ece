package ledger

import (
	"fmt"
	"math/big"
)

// InvariantValidator checks ledger invariants after mutations. A violation
// here means the engine has a bug; the engine treats it as fatal.
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{tracker: tracker}
}

// ValidateBatchBalance checks batch well-formedness before application.
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the zero-sum property: the sum of every
// account balance per asset is zero.
func (v *InvariantValidator) ValidateGlobalBalance() error {
	for asset, total := range v.tracker.ComputeGlobalBalance() {
		if total.Sign() != 0 {
			return fmt.Errorf("global balance non-zero for asset %s: %s", asset, total)
		}
	}
	return nil
}

// ValidateReserve verifies the solvency identity for one reserve:
// pool == seeded + netPremiums − payouts, and pool >= 0.
func (v *InvariantValidator) ValidateReserve(ra *ReserveAccountant) error {
	pool := ra.Balance()
	if pool.Sign() < 0 {
		return fmt.Errorf("reserve %s is negative: %s", ra.Asset(), pool)
	}

	expected := new(big.Int).Add(ra.Seeded(), ra.TotalPremiums())
	expected.Sub(expected, ra.TotalClaims())
	if pool.Cmp(expected) != 0 {
		return fmt.Errorf("reserve %s mismatch: pool=%s expected seeded+premiums-claims=%s",
			ra.Asset(), pool, expected)
	}

	if ra.TotalCoverage().Sign() < 0 {
		return fmt.Errorf("reserve %s has negative total coverage", ra.Asset())
	}
	return nil
}
