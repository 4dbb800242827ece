package core

import (
	"math/big"
	"time"

	"CoverLedger/internal/ledger"
	"CoverLedger/internal/state"
)

// ReserveStats is a point-in-time view of the pool and its counters.
type ReserveStats struct {
	Asset         string
	PoolBalance   *big.Int
	Seeded        *big.Int
	TotalPolicies uint64
	TotalCoverage *big.Int
	TotalPremiums *big.Int
	TotalClaims   *big.Int
}

// GetPolicy returns a copy of the policy and its derived expiry flag.
func (e *Engine) GetPolicy(policyID uint64) (state.Policy, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	policy, err := e.policies.Get(policyID)
	if err != nil {
		return state.Policy{}, false, err
	}
	return copyPolicy(policy), policy.IsExpired(e.nowFn()), nil
}

// ListPolicies returns copies of a holder's policies in issuance order.
func (e *Engine) ListPolicies(holder string) []state.Policy {
	e.mu.Lock()
	defer e.mu.Unlock()

	src := e.policies.ListByHolder(holder)
	out := make([]state.Policy, 0, len(src))
	for _, p := range src {
		out = append(out, copyPolicy(p))
	}
	return out
}

// GetClaim returns a copy of the claim.
func (e *Engine) GetClaim(claimID uint64) (state.ClaimRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	claim, err := e.claims.Get(claimID)
	if err != nil {
		return state.ClaimRequest{}, err
	}
	return copyClaim(claim), nil
}

// ListClaimsByPolicy returns copies of a policy's claims in filing order.
func (e *Engine) ListClaimsByPolicy(policyID uint64) []state.ClaimRequest {
	e.mu.Lock()
	defer e.mu.Unlock()

	src := e.claims.ListByPolicy(policyID)
	out := make([]state.ClaimRequest, 0, len(src))
	for _, c := range src {
		out = append(out, copyClaim(c))
	}
	return out
}

// PendingClaims returns copies of the unsettled claims in filing order.
func (e *Engine) PendingClaims() []state.ClaimRequest {
	e.mu.Lock()
	defer e.mu.Unlock()

	src := e.claims.Pending()
	out := make([]state.ClaimRequest, 0, len(src))
	for _, c := range src {
		out = append(out, copyClaim(c))
	}
	return out
}

// WalletBalance returns a holder's wallet balance.
func (e *Engine) WalletBalance(holder string) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracker.GetHolderWallet(holder, e.Asset())
}

// Reserve returns the pool balance and aggregate counters.
func (e *Engine) Reserve() ReserveStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return ReserveStats{
		Asset:         e.Asset(),
		PoolBalance:   e.accountant.Balance(),
		Seeded:        e.accountant.Seeded(),
		TotalPolicies: e.accountant.TotalPolicies(),
		TotalCoverage: e.accountant.TotalCoverage(),
		TotalPremiums: e.accountant.TotalPremiums(),
		TotalClaims:   e.accountant.TotalClaims(),
	}
}

// Sequence returns the next operation sequence.
func (e *Engine) Sequence() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// Balances returns a deep copy of every account balance.
func (e *Engine) Balances() map[ledger.AccountKey]*big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracker.Snapshot()
}

func copyPolicy(p *state.Policy) state.Policy {
	out := *p
	out.CoverageAmount = new(big.Int).Set(p.CoverageAmount)
	out.Premium = new(big.Int).Set(p.Premium)
	if p.Snapshot.Normalized != nil {
		out.Snapshot.Normalized = new(big.Int).Set(p.Snapshot.Normalized)
	}
	return out
}

func copyClaim(c *state.ClaimRequest) state.ClaimRequest {
	out := *c
	out.RequestedAmount = new(big.Int).Set(c.RequestedAmount)
	if c.PayoutAmount != nil {
		out.PayoutAmount = new(big.Int).Set(c.PayoutAmount)
	}
	return out
}

// Now reports the engine clock reading.
func (e *Engine) Now() time.Time { return e.nowFn() }
