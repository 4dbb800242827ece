package state

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"CoverLedger/internal/ledger"
	"CoverLedger/internal/pricemath"
)

// MaxPolicyDuration is the longest coverage term a policy can carry.
const MaxPolicyDuration = 365 * 24 * time.Hour

var (
	bpsDenom    = big.NewInt(pricemath.BpsDenominator)
	multDenom   = big.NewInt(1_000_000) // three 100-scaled multipliers
	hundredE18  = new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))
	confDivisor = big.NewInt(1000)
)

// PolicyLedger owns the policy book for one payment asset: issuance,
// cancellation, and the premium math that prices coverage. Policies are
// append-only; terminal transitions mutate status in place.
//
// Not thread-safe: mutation is serialized by the engine's writer lock.
type PolicyLedger struct {
	params     *Params
	accountant *ledger.ReserveAccountant
	tracker    *ledger.BalanceTracker

	policies map[uint64]*Policy
	byHolder map[string][]uint64
	nextID   uint64
}

func NewPolicyLedger(params *Params, accountant *ledger.ReserveAccountant, tracker *ledger.BalanceTracker) *PolicyLedger {
	return &PolicyLedger{
		params:     params,
		accountant: accountant,
		tracker:    tracker,
		policies:   make(map[uint64]*Policy),
		byHolder:   make(map[string][]uint64),
		nextID:     1,
	}
}

// ComputePremium prices coverage from the base rate and three multipliers.
// All division floors; the evaluation order is fixed so replays reproduce
// the same premium bit-for-bit:
//
//	base       = coverage * baseRateBps / 10000
//	durMult    = 100 + durationSeconds * 100 / secondsPerYear
//	confMult   = 100 + confidence / 1000
//	stabMult   = 100 + (normalizedPrice / 100e18) / 10
//	premium    = base * durMult * confMult * stabMult / 1e6
//
// The result is clamped to [minRateBps, maxRateBps] of coverage.
func ComputePremium(coverage *big.Int, duration time.Duration, snap pricemath.Snapshot, rates PremiumRates) *big.Int {
	base := new(big.Int).Mul(coverage, big.NewInt(rates.BaseRateBps))
	base.Quo(base, bpsDenom)

	durSec := int64(duration / time.Second)
	yearSec := int64(MaxPolicyDuration / time.Second)
	durMult := big.NewInt(100 + durSec*100/yearSec)

	confMult := new(big.Int).SetUint64(snap.Confidence)
	confMult.Quo(confMult, confDivisor)
	confMult.Add(confMult, big.NewInt(100))

	priceTier := new(big.Int).Quo(snap.Normalized, hundredE18)
	stabMult := priceTier.Quo(priceTier, big.NewInt(10))
	stabMult.Add(stabMult, big.NewInt(100))

	premium := new(big.Int).Mul(base, durMult)
	premium.Mul(premium, confMult)
	premium.Mul(premium, stabMult)
	premium.Quo(premium, multDenom)

	minPremium := new(big.Int).Mul(coverage, big.NewInt(rates.MinRateBps))
	minPremium.Quo(minPremium, bpsDenom)
	maxPremium := new(big.Int).Mul(coverage, big.NewInt(rates.MaxRateBps))
	maxPremium.Quo(maxPremium, bpsDenom)

	if premium.Cmp(minPremium) < 0 {
		return minPremium
	}
	if premium.Cmp(maxPremium) > 0 {
		return maxPremium
	}
	return premium
}

// Issue validates the request, collects the premium from the holder's
// wallet, and activates a new policy. All validation happens before any
// balance or book mutation.
func (pl *PolicyLedger) Issue(
	holder, insuredToken string,
	coverage *big.Int,
	duration time.Duration,
	snap pricemath.Snapshot,
	now time.Time,
	batchID uuid.UUID,
	eventRef string,
	sequence uint64,
) (*Policy, ledger.Journal, error) {
	if insuredToken == "" {
		return nil, ledger.Journal{}, fmt.Errorf("%w: empty token", ledger.ErrInvalidTokenAddress)
	}
	if !pl.params.TokenSupported(insuredToken) {
		return nil, ledger.Journal{}, fmt.Errorf("%w: %s", ledger.ErrUnsupportedToken, insuredToken)
	}
	if coverage == nil || coverage.Sign() <= 0 {
		return nil, ledger.Journal{}, fmt.Errorf("%w: %v", ledger.ErrInvalidCoverageAmount, coverage)
	}
	if duration <= 0 || duration > MaxPolicyDuration {
		return nil, ledger.Journal{}, fmt.Errorf("%w: %s", ledger.ErrInvalidDuration, duration)
	}
	if holder == "" {
		return nil, ledger.Journal{}, fmt.Errorf("%w: empty holder", ledger.ErrUnauthorized)
	}

	premium := ComputePremium(coverage, duration, snap, pl.params.Rates())

	walletKey := ledger.NewHolderWalletKey(holder, pl.accountant.Asset())
	if pl.tracker.GetBalance(walletKey).Cmp(premium) < 0 {
		return nil, ledger.Journal{}, fmt.Errorf("%w: wallet %s holds %s, premium is %s",
			ledger.ErrInvalidPremium, holder, pl.tracker.GetBalance(walletKey), premium)
	}

	j, err := pl.accountant.Credit(walletKey, premium, ledger.JournalTypePremium, batchID, eventRef, sequence, now.UnixMicro())
	if err != nil {
		return nil, ledger.Journal{}, fmt.Errorf("collect premium: %w", err)
	}

	policy := &Policy{
		ID:             pl.nextID,
		Holder:         holder,
		InsuredToken:   insuredToken,
		PaymentAsset:   pl.accountant.Asset(),
		CoverageAmount: new(big.Int).Set(coverage),
		Premium:        premium,
		ExpiryTime:     now.Add(duration),
		CreatedAt:      now,
		Status:         PolicyStatusActive,
		Snapshot:       snap,
		Version:        1,
	}
	pl.nextID++
	pl.policies[policy.ID] = policy
	pl.byHolder[holder] = append(pl.byHolder[holder], policy.ID)
	pl.accountant.RecordPolicyIssued(coverage)

	return policy, j, nil
}

// CancelRefund computes the pro-rata refund for cancelling at now: the
// premium scaled by remaining term over total term, floored. An expired or
// zero-duration policy refunds nothing.
func CancelRefund(p *Policy, now time.Time) *big.Int {
	total := p.ExpiryTime.Sub(p.CreatedAt)
	remaining := p.ExpiryTime.Sub(now)
	if total <= 0 || remaining <= 0 {
		return new(big.Int)
	}
	refund := new(big.Int).Mul(p.Premium, big.NewInt(int64(remaining)))
	return refund.Quo(refund, big.NewInt(int64(total)))
}

// Cancel transitions an Active policy to Cancelled, refunding the unused
// premium pro-rata to the holder's wallet. Only the holder may cancel.
// A cancel after expiry succeeds with a zero refund.
func (pl *PolicyLedger) Cancel(
	policyID uint64,
	caller string,
	now time.Time,
	batchID uuid.UUID,
	eventRef string,
	sequence uint64,
) (*Policy, *big.Int, []ledger.Journal, error) {
	policy, ok := pl.policies[policyID]
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: policy %d", ledger.ErrPolicyNotFound, policyID)
	}
	if caller != policy.Holder {
		return nil, nil, nil, fmt.Errorf("%w: %s is not the holder of policy %d", ledger.ErrUnauthorized, caller, policyID)
	}
	if !policy.Status.CanTransitionTo(PolicyStatusCancelled) {
		return nil, nil, nil, fmt.Errorf("%w: policy %d is %s", ledger.ErrPolicyNotActive, policyID, policy.Status)
	}

	refund := CancelRefund(policy, now)
	if refund.Sign() > 0 {
		if err := pl.accountant.CanDebit(refund); err != nil {
			return nil, nil, nil, fmt.Errorf("refund policy %d: %w", policyID, err)
		}
	}

	var journals []ledger.Journal
	if refund.Sign() > 0 {
		walletKey := ledger.NewHolderWalletKey(policy.Holder, pl.accountant.Asset())
		j, err := pl.accountant.Debit(walletKey, refund, ledger.JournalTypeRefund, batchID, eventRef, sequence, now.UnixMicro())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("refund policy %d: %w", policyID, err)
		}
		journals = append(journals, j)
	}

	policy.Status = PolicyStatusCancelled
	policy.Version++
	pl.accountant.ReleaseCoverage(policy.CoverageAmount)

	return policy, refund, journals, nil
}

// MarkClaimed transitions an Active policy to Claimed. Called by claim
// settlement after the payout debit succeeds.
func (pl *PolicyLedger) MarkClaimed(policyID uint64) error {
	policy, ok := pl.policies[policyID]
	if !ok {
		return fmt.Errorf("%w: policy %d", ledger.ErrPolicyNotFound, policyID)
	}
	if !policy.Status.CanTransitionTo(PolicyStatusClaimed) {
		return fmt.Errorf("%w: policy %d is %s", ledger.ErrPolicyNotActive, policyID, policy.Status)
	}
	policy.Status = PolicyStatusClaimed
	policy.Version++
	pl.accountant.ReleaseCoverage(policy.CoverageAmount)
	return nil
}

// Get returns the policy by id.
func (pl *PolicyLedger) Get(policyID uint64) (*Policy, error) {
	policy, ok := pl.policies[policyID]
	if !ok {
		return nil, fmt.Errorf("%w: policy %d", ledger.ErrPolicyNotFound, policyID)
	}
	return policy, nil
}

// ListByHolder returns a holder's policies in issuance order.
func (pl *PolicyLedger) ListByHolder(holder string) []*Policy {
	ids := pl.byHolder[holder]
	out := make([]*Policy, 0, len(ids))
	for _, id := range ids {
		out = append(out, pl.policies[id])
	}
	return out
}

// Count returns the number of policies ever issued.
func (pl *PolicyLedger) Count() int { return len(pl.policies) }

// NextID returns the id the next issued policy will receive.
func (pl *PolicyLedger) NextID() uint64 { return pl.nextID }

// All returns every policy in id order.
func (pl *PolicyLedger) All() []*Policy {
	out := make([]*Policy, 0, len(pl.policies))
	for id := uint64(1); id < pl.nextID; id++ {
		if p, ok := pl.policies[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Restore reinstates a policy during state load. IDs must arrive in
// ascending order; nextID advances past the highest seen.
func (pl *PolicyLedger) Restore(p *Policy) {
	pl.policies[p.ID] = p
	pl.byHolder[p.Holder] = append(pl.byHolder[p.Holder], p.ID)
	if p.ID >= pl.nextID {
		pl.nextID = p.ID + 1
	}
}
