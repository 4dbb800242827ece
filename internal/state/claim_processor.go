package state

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"CoverLedger/internal/ledger"
	"CoverLedger/internal/pricemath"
)

// ClaimProcessor owns the claim book: filing, the pending queue, and
// authority-gated settlement. Claims are append-only; Processed flips
// exactly once per claim.
//
// Not thread-safe: mutation is serialized by the engine's writer lock.
type ClaimProcessor struct {
	authority  string
	policies   *PolicyLedger
	accountant *ledger.ReserveAccountant

	claims   map[uint64]*ClaimRequest
	byPolicy map[uint64][]uint64
	pending  []uint64
	nextID   uint64
}

func NewClaimProcessor(authority string, policies *PolicyLedger, accountant *ledger.ReserveAccountant) *ClaimProcessor {
	return &ClaimProcessor{
		authority:  authority,
		policies:   policies,
		accountant: accountant,
		claims:     make(map[uint64]*ClaimRequest),
		byPolicy:   make(map[uint64][]uint64),
		nextID:     1,
	}
}

// Authority returns the address allowed to settle claims.
func (cp *ClaimProcessor) Authority() string { return cp.authority }

// File validates and records a pending claim against an Active, unexpired
// policy. Only the policy holder may file, and the requested amount cannot
// exceed the coverage amount. No funds move at filing time.
func (cp *ClaimProcessor) File(
	policyID uint64,
	claimant, reason string,
	requested *big.Int,
	now time.Time,
) (*ClaimRequest, error) {
	policy, err := cp.policies.Get(policyID)
	if err != nil {
		return nil, err
	}
	if claimant != policy.Holder {
		return nil, fmt.Errorf("%w: %s is not the holder of policy %d", ledger.ErrUnauthorizedClaimant, claimant, policyID)
	}
	if policy.Status != PolicyStatusActive {
		return nil, fmt.Errorf("%w: policy %d is %s", ledger.ErrPolicyNotActive, policyID, policy.Status)
	}
	if policy.IsExpired(now) {
		return nil, fmt.Errorf("%w: policy %d expired at %s", ledger.ErrPolicyExpired, policyID, policy.ExpiryTime.UTC())
	}
	if requested == nil || requested.Sign() <= 0 || requested.Cmp(policy.CoverageAmount) > 0 {
		return nil, fmt.Errorf("%w: requested %v, coverage %s", ledger.ErrInvalidAmount, requested, policy.CoverageAmount)
	}

	claim := &ClaimRequest{
		ID:              cp.nextID,
		PolicyID:        policyID,
		Claimant:        claimant,
		Reason:          reason,
		RequestedAmount: new(big.Int).Set(requested),
		SubmittedAt:     now,
		Status:          ClaimStatusPending,
	}
	cp.nextID++
	cp.claims[claim.ID] = claim
	cp.byPolicy[policyID] = append(cp.byPolicy[policyID], claim.ID)
	cp.pending = append(cp.pending, claim.ID)

	return claim, nil
}

// Settle resolves a pending claim. Approval pays payout to the claimant's
// wallet and moves the policy to Claimed; denial records the decision and
// moves no funds. Either way Processed flips to true and the claim leaves
// the pending queue. Only the configured authority may settle.
func (cp *ClaimProcessor) Settle(
	claimID uint64,
	caller string,
	approve bool,
	payout *big.Int,
	reason string,
	now time.Time,
	batchID uuid.UUID,
	eventRef string,
	sequence uint64,
) (*ClaimRequest, []ledger.Journal, error) {
	if caller != cp.authority {
		return nil, nil, fmt.Errorf("%w: %s is not the claim authority", ledger.ErrUnauthorized, caller)
	}
	claim, ok := cp.claims[claimID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: claim %d", ledger.ErrClaimNotFound, claimID)
	}
	if claim.Processed {
		return nil, nil, fmt.Errorf("%w: claim %d settled %s at %s",
			ledger.ErrClaimAlreadyProcessed, claimID, claim.Status, claim.ProcessedAt.UTC())
	}

	if !approve {
		claim.Processed = true
		claim.Status = ClaimStatusDenied
		claim.PayoutAmount = new(big.Int)
		claim.SettleReason = reason
		claim.ProcessedAt = now
		cp.dequeue(claimID)
		return claim, nil, nil
	}

	policy, err := cp.policies.Get(claim.PolicyID)
	if err != nil {
		return nil, nil, err
	}
	if policy.Status != PolicyStatusActive {
		return nil, nil, fmt.Errorf("%w: policy %d is %s", ledger.ErrPolicyNotActive, claim.PolicyID, policy.Status)
	}
	if payout == nil || payout.Sign() <= 0 || payout.Cmp(policy.CoverageAmount) > 0 {
		return nil, nil, fmt.Errorf("%w: payout %v, coverage %s", ledger.ErrInvalidAmount, payout, policy.CoverageAmount)
	}
	if err := cp.accountant.CanDebit(payout); err != nil {
		return nil, nil, fmt.Errorf("settle claim %d: %w", claimID, err)
	}

	walletKey := ledger.NewHolderWalletKey(claim.Claimant, cp.accountant.Asset())
	j, err := cp.accountant.Debit(walletKey, payout, ledger.JournalTypePayout, batchID, eventRef, sequence, now.UnixMicro())
	if err != nil {
		return nil, nil, fmt.Errorf("settle claim %d: %w", claimID, err)
	}
	if err := cp.policies.MarkClaimed(claim.PolicyID); err != nil {
		panic(fmt.Sprintf("FATAL: claim %d paid but policy %d transition failed: %v", claimID, claim.PolicyID, err))
	}

	claim.Processed = true
	claim.Status = ClaimStatusApproved
	claim.PayoutAmount = new(big.Int).Set(payout)
	claim.SettleReason = reason
	claim.ProcessedAt = now
	cp.dequeue(claimID)

	return claim, []ledger.Journal{j}, nil
}

// CheckDrawdown reports the bps drop of current against a policy's issuance
// snapshot, and whether it breaches the token's threshold. Advisory only;
// settlement stays with the authority.
func (cp *ClaimProcessor) CheckDrawdown(policyID uint64, current *big.Int, params *Params) (int64, bool, error) {
	policy, err := cp.policies.Get(policyID)
	if err != nil {
		return 0, false, err
	}
	bps, err := pricemath.DrawdownBps(current, policy.Snapshot.Normalized)
	if err != nil {
		return 0, false, fmt.Errorf("drawdown for policy %d: %w", policyID, err)
	}
	return bps, bps >= params.DrawdownThreshold(policy.InsuredToken), nil
}

// ReplaySettled re-applies a settlement outcome during event replay. The
// payout journal, if any, is replayed separately through the tracker.
func (cp *ClaimProcessor) ReplaySettled(claimID uint64, approved bool, payout *big.Int, reason string, processedAt time.Time) error {
	claim, ok := cp.claims[claimID]
	if !ok {
		return fmt.Errorf("%w: claim %d", ledger.ErrClaimNotFound, claimID)
	}
	claim.Processed = true
	claim.SettleReason = reason
	claim.ProcessedAt = processedAt
	if approved {
		claim.Status = ClaimStatusApproved
		claim.PayoutAmount = new(big.Int).Set(payout)
	} else {
		claim.Status = ClaimStatusDenied
		claim.PayoutAmount = new(big.Int)
	}
	cp.dequeue(claimID)
	if approved {
		if err := cp.policies.MarkClaimed(claim.PolicyID); err != nil {
			return fmt.Errorf("replay claim %d: %w", claimID, err)
		}
	}
	return nil
}

func (cp *ClaimProcessor) dequeue(claimID uint64) {
	for i, id := range cp.pending {
		if id == claimID {
			cp.pending = append(cp.pending[:i], cp.pending[i+1:]...)
			return
		}
	}
}

// Get returns the claim by id.
func (cp *ClaimProcessor) Get(claimID uint64) (*ClaimRequest, error) {
	claim, ok := cp.claims[claimID]
	if !ok {
		return nil, fmt.Errorf("%w: claim %d", ledger.ErrClaimNotFound, claimID)
	}
	return claim, nil
}

// ListByPolicy returns a policy's claims in filing order.
func (cp *ClaimProcessor) ListByPolicy(policyID uint64) []*ClaimRequest {
	ids := cp.byPolicy[policyID]
	out := make([]*ClaimRequest, 0, len(ids))
	for _, id := range ids {
		out = append(out, cp.claims[id])
	}
	return out
}

// Pending returns the unsettled claims in filing order.
func (cp *ClaimProcessor) Pending() []*ClaimRequest {
	out := make([]*ClaimRequest, 0, len(cp.pending))
	for _, id := range cp.pending {
		out = append(out, cp.claims[id])
	}
	return out
}

// Count returns the number of claims ever filed.
func (cp *ClaimProcessor) Count() int { return len(cp.claims) }

// NextID returns the id the next filed claim will receive.
func (cp *ClaimProcessor) NextID() uint64 { return cp.nextID }

// All returns every claim in id order.
func (cp *ClaimProcessor) All() []*ClaimRequest {
	out := make([]*ClaimRequest, 0, len(cp.claims))
	for id := uint64(1); id < cp.nextID; id++ {
		if c, ok := cp.claims[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Restore reinstates a claim during state load.
func (cp *ClaimProcessor) Restore(c *ClaimRequest) {
	cp.claims[c.ID] = c
	cp.byPolicy[c.PolicyID] = append(cp.byPolicy[c.PolicyID], c.ID)
	if !c.Processed {
		cp.pending = append(cp.pending, c.ID)
	}
	if c.ID >= cp.nextID {
		cp.nextID = c.ID + 1
	}
}
