package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// ReserveAccountant owns the pooled collateral for one payment asset and the
// aggregate counters derived from it. It is the single point of truth for
// solvency: every operation that moves money into or out of the pool routes
// through exactly one Credit or Debit call; no component adjusts the pool
// balance directly.
//
// Invariant: pool balance == seeded + Σpremiums − Σrefunds − Σpayouts, and
// the pool never goes negative. TotalPremiums is net of refunds, so the
// check reduces to pool == seeded + totalPremiums − totalClaims.
//
// Not thread-safe: all mutation is serialized by the engine's writer lock.
type ReserveAccountant struct {
	asset   string
	tracker *BalanceTracker

	seeded        *big.Int
	totalPolicies uint64   // Count of policies ever issued
	totalCoverage *big.Int // Outstanding coverage liability
	totalPremiums *big.Int // Collected premiums net of refunds
	totalClaims   *big.Int // Paid-out claims
}

func NewReserveAccountant(asset string, tracker *BalanceTracker) *ReserveAccountant {
	return &ReserveAccountant{
		asset:         asset,
		tracker:       tracker,
		seeded:        new(big.Int),
		totalCoverage: new(big.Int),
		totalPremiums: new(big.Int),
		totalClaims:   new(big.Int),
	}
}

func (ra *ReserveAccountant) Asset() string { return ra.asset }

// Balance returns the current pooled collateral balance.
func (ra *ReserveAccountant) Balance() *big.Int {
	return ra.tracker.GetReservePool(ra.asset)
}

func (ra *ReserveAccountant) Seeded() *big.Int        { return new(big.Int).Set(ra.seeded) }
func (ra *ReserveAccountant) TotalPolicies() uint64   { return ra.totalPolicies }
func (ra *ReserveAccountant) TotalCoverage() *big.Int { return new(big.Int).Set(ra.totalCoverage) }
func (ra *ReserveAccountant) TotalPremiums() *big.Int { return new(big.Int).Set(ra.totalPremiums) }
func (ra *ReserveAccountant) TotalClaims() *big.Int   { return new(big.Int).Set(ra.totalClaims) }

// Credit moves amount from the given source account into the pool and
// updates the counter matching the journal type. Returns the applied journal.
func (ra *ReserveAccountant) Credit(
	from AccountKey,
	amount *big.Int,
	jt JournalType,
	batchID uuid.UUID,
	eventRef string,
	sequence uint64,
	timestamp int64,
) (Journal, error) {
	if amount == nil || amount.Sign() <= 0 {
		return Journal{}, fmt.Errorf("%w: credit amount must be positive, got %v", ErrInvalidAmount, amount)
	}

	j := Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      eventRef,
		Sequence:      sequence,
		DebitAccount:  NewReservePoolKey(ra.asset),
		CreditAccount: from,
		Asset:         ra.asset,
		Amount:        new(big.Int).Set(amount),
		JournalType:   jt,
		Timestamp:     timestamp,
	}
	ra.tracker.ApplyJournal(j)

	switch jt {
	case JournalTypeSeed:
		ra.seeded.Add(ra.seeded, amount)
	case JournalTypePremium:
		ra.totalPremiums.Add(ra.totalPremiums, amount)
	}

	return j, nil
}

// Debit moves amount from the pool to the given destination account. Fails
// ErrInsufficientBalance before any mutation if the pool would go negative.
func (ra *ReserveAccountant) Debit(
	to AccountKey,
	amount *big.Int,
	jt JournalType,
	batchID uuid.UUID,
	eventRef string,
	sequence uint64,
	timestamp int64,
) (Journal, error) {
	if amount == nil || amount.Sign() <= 0 {
		return Journal{}, fmt.Errorf("%w: debit amount must be positive, got %v", ErrInvalidAmount, amount)
	}
	if err := ra.CanDebit(amount); err != nil {
		return Journal{}, err
	}

	j := Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      eventRef,
		Sequence:      sequence,
		DebitAccount:  to,
		CreditAccount: NewReservePoolKey(ra.asset),
		Asset:         ra.asset,
		Amount:        new(big.Int).Set(amount),
		JournalType:   jt,
		Timestamp:     timestamp,
	}
	ra.tracker.ApplyJournal(j)

	switch jt {
	case JournalTypeRefund:
		ra.totalPremiums.Sub(ra.totalPremiums, amount)
	case JournalTypePayout:
		ra.totalClaims.Add(ra.totalClaims, amount)
	}

	return j, nil
}

// CanDebit reports whether the pool can cover a debit of amount.
func (ra *ReserveAccountant) CanDebit(amount *big.Int) error {
	balance := ra.Balance()
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: reserve %s has %s, need %s", ErrInsufficientBalance, ra.asset, balance, amount)
	}
	return nil
}

// RecordPolicyIssued bumps the aggregate policy counters after a successful issue.
func (ra *ReserveAccountant) RecordPolicyIssued(coverage *big.Int) {
	ra.totalPolicies++
	ra.totalCoverage.Add(ra.totalCoverage, coverage)
}

// ReleaseCoverage reduces outstanding coverage when a policy leaves the
// Active state (cancel or claim settlement).
func (ra *ReserveAccountant) ReleaseCoverage(coverage *big.Int) {
	ra.totalCoverage.Sub(ra.totalCoverage, coverage)
	if ra.totalCoverage.Sign() < 0 {
		panic(fmt.Sprintf("FATAL: negative total coverage for %s: %s", ra.asset, ra.totalCoverage))
	}
}

// ReplayCounter re-applies the counter effect of a journal during event
// replay. The balance movement itself is replayed through the tracker.
func (ra *ReserveAccountant) ReplayCounter(jt JournalType, amount *big.Int) {
	switch jt {
	case JournalTypeSeed:
		ra.seeded.Add(ra.seeded, amount)
	case JournalTypePremium:
		ra.totalPremiums.Add(ra.totalPremiums, amount)
	case JournalTypeRefund:
		ra.totalPremiums.Sub(ra.totalPremiums, amount)
	case JournalTypePayout:
		ra.totalClaims.Add(ra.totalClaims, amount)
	}
}

// Restore overwrites the aggregate counters (state restore only).
func (ra *ReserveAccountant) Restore(seeded, totalCoverage, totalPremiums, totalClaims *big.Int, totalPolicies uint64) {
	ra.seeded.Set(seeded)
	ra.totalCoverage.Set(totalCoverage)
	ra.totalPremiums.Set(totalPremiums)
	ra.totalClaims.Set(totalClaims)
	ra.totalPolicies = totalPolicies
}
