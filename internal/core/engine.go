// Package core hosts the single-writer ledger engine. Every mutating
// operation runs under one lock: validate first, mutate last, emit exactly
// one event. Readers take the same lock and return copies.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"CoverLedger/internal/event"
	"CoverLedger/internal/ledger"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/oracle"
	"CoverLedger/internal/pricemath"
	"CoverLedger/internal/state"
)

// Output is what one operation hands to the persist and projection pipelines.
type Output struct {
	Envelope *event.Envelope
	Batch    *ledger.Batch
}

// Engine serializes all ledger mutations for one payment asset.
type Engine struct {
	mu       sync.Mutex
	sequence uint64
	nowFn    func() time.Time

	tracker    *ledger.BalanceTracker
	validator  *ledger.InvariantValidator
	accountant *ledger.ReserveAccountant
	params     *state.Params
	policies   *state.PolicyLedger
	claims     *state.ClaimProcessor
	gateway    *oracle.Gateway

	metrics *observability.Metrics

	persistChan    chan<- Output
	projectionChan chan<- Output
}

func NewEngine(
	asset, claimAuthority string,
	gateway *oracle.Gateway,
	persistChan, projectionChan chan<- Output,
	metrics *observability.Metrics,
) *Engine {
	tracker := ledger.NewBalanceTracker()
	accountant := ledger.NewReserveAccountant(asset, tracker)
	params := state.NewParams()
	policies := state.NewPolicyLedger(params, accountant, tracker)
	claims := state.NewClaimProcessor(claimAuthority, policies, accountant)

	return &Engine{
		sequence:       1,
		nowFn:          time.Now,
		tracker:        tracker,
		validator:      ledger.NewInvariantValidator(tracker),
		accountant:     accountant,
		params:         params,
		policies:       policies,
		claims:         claims,
		gateway:        gateway,
		metrics:        metrics,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// SetClock overrides the time source. Tests only.
func (e *Engine) SetClock(nowFn func() time.Time) {
	e.nowFn = nowFn
}

func (e *Engine) Asset() string { return e.accountant.Asset() }

// FundWallet credits a holder's wallet from the external deposits boundary.
func (e *Engine) FundWallet(_ context.Context, holder string, amount *big.Int) (*big.Int, error) {
	const op = "fund_wallet"
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if holder == "" {
		return nil, e.reject(op, fmt.Errorf("%w: empty holder", ledger.ErrUnauthorized))
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, e.reject(op, fmt.Errorf("%w: fund amount must be positive, got %v", ledger.ErrInvalidAmount, amount))
	}

	now := e.nowFn()
	seq := e.sequence
	evt := &event.WalletFunded{
		Holder:   holder,
		Asset:    e.Asset(),
		Amount:   amount.String(),
		Sequence: seq,
		FundedAt: now.UnixMicro(),
	}

	batchID := uuid.New()
	j := ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      evt.EventRef(),
		Sequence:      seq,
		DebitAccount:  ledger.NewHolderWalletKey(holder, e.Asset()),
		CreditAccount: ledger.NewExternalDepositsKey(e.Asset()),
		Asset:         e.Asset(),
		Amount:        new(big.Int).Set(amount),
		JournalType:   ledger.JournalTypeWalletFund,
		Timestamp:     now.UnixMicro(),
	}
	e.tracker.ApplyJournal(j)

	e.commit(op, evt, batchID, []ledger.Journal{j}, now, start)
	return e.tracker.GetHolderWallet(holder, e.Asset()), nil
}

// SeedReserve credits the pool from the external seed boundary.
func (e *Engine) SeedReserve(_ context.Context, funder string, amount *big.Int) (*big.Int, error) {
	const op = "seed_reserve"
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.nowFn()
	seq := e.sequence
	evt := &event.ReserveSeeded{
		Asset:    e.Asset(),
		Amount:   amount.String(),
		Funder:   funder,
		Sequence: seq,
		SeededAt: now.UnixMicro(),
	}

	batchID := uuid.New()
	j, err := e.accountant.Credit(ledger.NewExternalSeedKey(e.Asset()), amount, ledger.JournalTypeSeed, batchID, evt.EventRef(), seq, now.UnixMicro())
	if err != nil {
		return nil, e.reject(op, err)
	}

	e.commit(op, evt, batchID, []ledger.Journal{j}, now, start)
	return e.accountant.Balance(), nil
}

// IssuePolicy validates a validated oracle snapshot for the insured token,
// prices the coverage, collects the premium, and activates the policy. The
// oracle fetch happens before the writer lock is taken.
func (e *Engine) IssuePolicy(
	ctx context.Context,
	holder, insuredToken, priceID string,
	coverage *big.Int,
	duration time.Duration,
) (state.Policy, error) {
	const op = "issue_policy"
	start := time.Now()

	snap, err := e.gateway.Fetch(ctx, priceID)
	if err != nil {
		return state.Policy{}, e.reject(op, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.nowFn()
	seq := e.sequence
	batchID := uuid.New()
	eventRef := fmt.Sprintf("policy:%d:issued", e.policies.NextID())

	policy, j, err := e.policies.Issue(holder, insuredToken, coverage, duration, snap, now, batchID, eventRef, seq)
	if err != nil {
		return state.Policy{}, e.reject(op, err)
	}

	evt := &event.PolicyIssued{
		PolicyID:       policy.ID,
		Holder:         policy.Holder,
		InsuredToken:   policy.InsuredToken,
		PaymentAsset:   policy.PaymentAsset,
		CoverageAmount: policy.CoverageAmount.String(),
		Premium:        policy.Premium.String(),
		PriceID:        snap.PriceID,
		Normalized:     snap.Normalized.String(),
		Confidence:     snap.Confidence,
		CreatedAt:      policy.CreatedAt.UnixMicro(),
		ExpiryTime:     policy.ExpiryTime.UnixMicro(),
	}

	e.commit(op, evt, batchID, []ledger.Journal{j}, now, start)
	return copyPolicy(policy), nil
}

// CancelPolicy moves an Active policy to Cancelled and refunds the unused
// premium pro-rata. Returns the refunded amount.
func (e *Engine) CancelPolicy(_ context.Context, policyID uint64, caller string) (state.Policy, *big.Int, error) {
	const op = "cancel_policy"
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.nowFn()
	seq := e.sequence
	batchID := uuid.New()
	eventRef := fmt.Sprintf("policy:%d:cancelled", policyID)

	policy, refund, journals, err := e.policies.Cancel(policyID, caller, now, batchID, eventRef, seq)
	if err != nil {
		return state.Policy{}, nil, e.reject(op, err)
	}

	evt := &event.PolicyCancelled{
		PolicyID:     policy.ID,
		Holder:       policy.Holder,
		PaymentAsset: policy.PaymentAsset,
		Refund:       refund.String(),
		CancelledAt:  now.UnixMicro(),
	}

	e.commit(op, evt, batchID, journals, now, start)
	return copyPolicy(policy), refund, nil
}

// FileClaim records a pending claim. No funds move until settlement.
func (e *Engine) FileClaim(
	_ context.Context,
	policyID uint64,
	claimant, reason string,
	requested *big.Int,
) (state.ClaimRequest, error) {
	const op = "file_claim"
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.nowFn()
	claim, err := e.claims.File(policyID, claimant, reason, requested, now)
	if err != nil {
		return state.ClaimRequest{}, e.reject(op, err)
	}

	evt := &event.ClaimFiled{
		ClaimID:         claim.ID,
		PolicyID:        claim.PolicyID,
		Claimant:        claim.Claimant,
		Reason:          claim.Reason,
		RequestedAmount: claim.RequestedAmount.String(),
		SubmittedAt:     claim.SubmittedAt.UnixMicro(),
	}

	e.commit(op, evt, uuid.New(), nil, now, start)
	return copyClaim(claim), nil
}

// SettleClaim resolves a pending claim as the configured authority.
func (e *Engine) SettleClaim(
	_ context.Context,
	claimID uint64,
	caller string,
	approve bool,
	payout *big.Int,
	reason string,
) (state.ClaimRequest, error) {
	const op = "settle_claim"
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.nowFn()
	seq := e.sequence
	batchID := uuid.New()
	eventRef := fmt.Sprintf("claim:%d:settled", claimID)

	claim, journals, err := e.claims.Settle(claimID, caller, approve, payout, reason, now, batchID, eventRef, seq)
	if err != nil {
		return state.ClaimRequest{}, e.reject(op, err)
	}

	evt := &event.ClaimSettled{
		ClaimID:      claim.ID,
		PolicyID:     claim.PolicyID,
		Claimant:     claim.Claimant,
		Approved:     approve,
		PayoutAmount: claim.PayoutAmount.String(),
		Reason:       claim.SettleReason,
		ProcessedAt:  claim.ProcessedAt.UnixMicro(),
	}

	e.commit(op, evt, batchID, journals, now, start)
	return copyClaim(claim), nil
}

// GetNormalizedPrice returns the validated, normalized snapshot for a price id.
func (e *Engine) GetNormalizedPrice(ctx context.Context, priceID string) (pricemath.Snapshot, error) {
	return e.gateway.Fetch(ctx, priceID)
}

// CheckDrawdown reports the current drawdown of a policy's insured token
// against its issuance snapshot. Advisory: breaching the threshold does not
// trigger settlement.
func (e *Engine) CheckDrawdown(ctx context.Context, policyID uint64) (int64, bool, error) {
	e.mu.Lock()
	policy, err := e.policies.Get(policyID)
	if err != nil {
		e.mu.Unlock()
		return 0, false, err
	}
	priceID := policy.Snapshot.PriceID
	e.mu.Unlock()

	snap, err := e.gateway.Fetch(ctx, priceID)
	if err != nil {
		return 0, false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.claims.CheckDrawdown(policyID, snap.Normalized, e.params)
}

// CheckDrawdownBetween reports the drawdown of a supported token between two
// arbitrary price ids, judged against the token's threshold. Advisory, like
// the policy-keyed form.
func (e *Engine) CheckDrawdownBetween(ctx context.Context, token, currentPriceID, referencePriceID string) (int64, bool, error) {
	e.mu.Lock()
	if !e.params.TokenSupported(token) {
		e.mu.Unlock()
		return 0, false, fmt.Errorf("%w: %s", ledger.ErrUnsupportedToken, token)
	}
	threshold := e.params.DrawdownThreshold(token)
	e.mu.Unlock()

	current, err := e.gateway.Fetch(ctx, currentPriceID)
	if err != nil {
		return 0, false, err
	}
	reference, err := e.gateway.Fetch(ctx, referencePriceID)
	if err != nil {
		return 0, false, err
	}

	bps, err := pricemath.DrawdownBps(current.Normalized, reference.Normalized)
	if err != nil {
		return 0, false, err
	}
	return bps, bps >= threshold, nil
}

// commit finalizes a successful operation: envelope, invariant post-checks,
// pipeline emit, sequence bump, metrics. Mutations are already applied, so
// any invariant failure here is a bug and fatal.
func (e *Engine) commit(op string, evt event.Event, batchID uuid.UUID, journals []ledger.Journal, now time.Time, start time.Time) {
	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal %s event: %v", evt.EventType(), err))
	}

	var batch *ledger.Batch
	if len(journals) > 0 {
		batch = &ledger.Batch{
			BatchID:   batchID,
			EventRef:  evt.EventRef(),
			Sequence:  e.sequence,
			Timestamp: now.UnixMicro(),
			Journals:  journals,
		}
		if err := e.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
	}

	if err := e.validator.ValidateGlobalBalance(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated after %s: %v", op, err))
	}
	if err := e.validator.ValidateReserve(e.accountant); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated after %s: %v", op, err))
	}

	output := Output{
		Envelope: &event.Envelope{
			Sequence:  e.sequence,
			EventRef:  evt.EventRef(),
			EventType: evt.EventType(),
			Timestamp: now,
			Payload:   payload,
		},
		Batch: batch,
	}

	// Persistence: blocking send, the engine stalls until the writer drains.
	// Projections: non-blocking send, drop on full and rebuild later.
	if e.persistChan != nil {
		e.persistChan <- output
	}
	if e.projectionChan != nil {
		select {
		case e.projectionChan <- output:
		default:
		}
	}

	e.sequence++

	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(op).Inc()
		e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		e.metrics.Sequence.Set(float64(e.sequence))
		e.metrics.ReservePool.WithLabelValues(e.Asset()).Set(bigToFloat(e.accountant.Balance()))
		e.metrics.ClaimsPending.Set(float64(len(e.claims.Pending())))
	}
}

func (e *Engine) reject(op string, err error) error {
	if e.metrics != nil {
		e.metrics.OpsRejected.WithLabelValues(op).Inc()
	}
	return err
}

func bigToFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
