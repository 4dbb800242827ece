package core

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"CoverLedger/internal/event"
	"CoverLedger/internal/ledger"
	"CoverLedger/internal/oracle"
	"CoverLedger/internal/state"
)

const (
	testAsset     = "USDC"
	testAuthority = "authority-1"
	testPriceID   = "sol-usd"
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

type harness struct {
	engine  *Engine
	feed    *oracle.CacheFeed
	gateway *oracle.Gateway
	persist chan Output
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)

	feed := oracle.NewCacheFeed()
	feed.Update(oracle.Quote{
		PriceID:     testPriceID,
		Price:       200_000_000_000, // 2000 at expo -8
		Confidence:  5000,
		Exponent:    -8,
		PublishTime: now,
	})

	gateway := oracle.NewGateway(feed, time.Minute, 1000)
	gateway.SetPriceIDSupport(testPriceID, true)
	gateway.SetClock(func() time.Time { return now })

	persist := make(chan Output, 64)
	projection := make(chan Output, 64)
	engine := NewEngine(testAsset, testAuthority, gateway, persist, projection, nil)
	engine.SetClock(func() time.Time { return now })

	if err := engine.SetTokenSupport(testAuthority, "SOL", true); err != nil {
		t.Fatalf("set token support: %v", err)
	}

	return &harness{engine: engine, feed: feed, gateway: gateway, persist: persist, now: now}
}

func (h *harness) drain() []Output {
	var out []Output
	for {
		select {
		case o := <-h.persist:
			out = append(out, o)
		default:
			return out
		}
	}
}

func (h *harness) issue(t *testing.T) state.Policy {
	t.Helper()
	ctx := context.Background()
	if _, err := h.engine.FundWallet(ctx, "alice", e18(1000)); err != nil {
		t.Fatalf("fund wallet: %v", err)
	}
	if _, err := h.engine.SeedReserve(ctx, "treasury", e18(10_000)); err != nil {
		t.Fatalf("seed reserve: %v", err)
	}
	policy, err := h.engine.IssuePolicy(ctx, "alice", "SOL", testPriceID, e18(1000), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("issue policy: %v", err)
	}
	return policy
}

func TestEngineIssueLifecycle(t *testing.T) {
	h := newHarness(t)
	policy := h.issue(t)

	if policy.Status != state.PolicyStatusActive {
		t.Errorf("status = %s, want active", policy.Status)
	}
	want, _ := new(big.Int).SetString("22252320000000000000", 10)
	if policy.Premium.Cmp(want) != 0 {
		t.Errorf("premium = %s, want %s", policy.Premium, want)
	}

	rs := h.engine.Reserve()
	wantPool := new(big.Int).Add(e18(10_000), want)
	if rs.PoolBalance.Cmp(wantPool) != 0 {
		t.Errorf("pool = %s, want %s", rs.PoolBalance, wantPool)
	}
	if rs.TotalPolicies != 1 {
		t.Errorf("total policies = %d", rs.TotalPolicies)
	}

	outputs := h.drain()
	// set_token_support, fund, seed, issue
	if len(outputs) != 4 {
		t.Fatalf("persist outputs = %d, want 4", len(outputs))
	}
	last := outputs[len(outputs)-1]
	if last.Envelope.EventType != event.EventTypePolicyIssued {
		t.Errorf("last event = %s, want PolicyIssued", last.Envelope.EventType)
	}
	if last.Batch == nil || len(last.Batch.Journals) != 1 {
		t.Fatalf("issue must carry one premium journal")
	}
	if last.Batch.Journals[0].JournalType != ledger.JournalTypePremium {
		t.Errorf("journal type = %s, want premium", last.Batch.Journals[0].JournalType)
	}
}

func TestEngineSequenceIsMonotonic(t *testing.T) {
	h := newHarness(t)
	h.issue(t)

	outputs := h.drain()
	var prev uint64
	for _, o := range outputs {
		if o.Envelope.Sequence <= prev {
			t.Fatalf("sequence %d not strictly increasing after %d", o.Envelope.Sequence, prev)
		}
		prev = o.Envelope.Sequence
	}
	if h.engine.Sequence() != prev+1 {
		t.Errorf("next sequence = %d, want %d", h.engine.Sequence(), prev+1)
	}
}

func TestEngineIssueRejectsOracleFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.engine.FundWallet(ctx, "alice", e18(1000)); err != nil {
		t.Fatalf("fund wallet: %v", err)
	}

	_, err := h.engine.IssuePolicy(ctx, "alice", "SOL", "unknown-id", e18(1000), time.Hour)
	if !errors.Is(err, ledger.ErrInvalidPriceID) {
		t.Errorf("unknown price id err = %v", err)
	}

	h.feed.Update(oracle.Quote{
		PriceID:     testPriceID,
		Price:       200_000_000_000,
		Confidence:  5000,
		Exponent:    -8,
		PublishTime: h.now.Add(-2 * time.Minute),
	})
	_, err = h.engine.IssuePolicy(ctx, "alice", "SOL", testPriceID, e18(1000), time.Hour)
	if !errors.Is(err, ledger.ErrPriceStale) {
		t.Errorf("stale err = %v", err)
	}

	h.feed.Update(oracle.Quote{
		PriceID:     testPriceID,
		Price:       200_000_000_000,
		Confidence:  10,
		Exponent:    -8,
		PublishTime: h.now.Add(time.Second),
	})
	_, err = h.engine.IssuePolicy(ctx, "alice", "SOL", testPriceID, e18(1000), time.Hour)
	if !errors.Is(err, ledger.ErrPriceConfidenceTooLow) {
		t.Errorf("low confidence err = %v", err)
	}
}

func TestEngineCancelRefundsProRata(t *testing.T) {
	h := newHarness(t)
	policy := h.issue(t)

	cancelled, refund, err := h.engine.CancelPolicy(context.Background(), policy.ID, "alice")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != state.PolicyStatusCancelled {
		t.Errorf("status = %s", cancelled.Status)
	}
	if refund.Cmp(policy.Premium) != 0 {
		t.Errorf("immediate cancel refund = %s, want full premium %s", refund, policy.Premium)
	}
	if got := h.engine.WalletBalance("alice"); got.Cmp(e18(1000)) != 0 {
		t.Errorf("wallet = %s, want restored %s", got, e18(1000))
	}
}

func TestEngineClaimSettlement(t *testing.T) {
	h := newHarness(t)
	policy := h.issue(t)
	ctx := context.Background()

	claim, err := h.engine.FileClaim(ctx, policy.ID, "alice", "depeg", e18(400))
	if err != nil {
		t.Fatalf("file claim: %v", err)
	}
	if len(h.engine.PendingClaims()) != 1 {
		t.Fatal("claim must be pending")
	}

	if _, err := h.engine.SettleClaim(ctx, claim.ID, "mallory", true, e18(400), "x"); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Errorf("non-authority settle err = %v", err)
	}

	settled, err := h.engine.SettleClaim(ctx, claim.ID, testAuthority, true, e18(400), "verified")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Status != state.ClaimStatusApproved || !settled.Processed {
		t.Errorf("claim = %s processed=%v", settled.Status, settled.Processed)
	}

	got, _, err := h.engine.GetPolicy(policy.ID)
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if got.Status != state.PolicyStatusClaimed {
		t.Errorf("policy = %s, want claimed", got.Status)
	}

	if _, err := h.engine.SettleClaim(ctx, claim.ID, testAuthority, false, nil, "again"); !errors.Is(err, ledger.ErrClaimAlreadyProcessed) {
		t.Errorf("resettle err = %v", err)
	}
}

func TestEngineCheckDrawdown(t *testing.T) {
	h := newHarness(t)
	policy := h.issue(t)

	// Drop to 1500: 25% below the 2000 issuance price.
	h.feed.Update(oracle.Quote{
		PriceID:     testPriceID,
		Price:       150_000_000_000,
		Confidence:  5000,
		Exponent:    -8,
		PublishTime: h.now.Add(time.Second),
	})

	bps, breached, err := h.engine.CheckDrawdown(context.Background(), policy.ID)
	if err != nil {
		t.Fatalf("drawdown: %v", err)
	}
	if bps != 2500 || !breached {
		t.Errorf("drawdown = %d breached=%v, want 2500 true", bps, breached)
	}
}

func TestEngineCheckDrawdownBetween(t *testing.T) {
	h := newHarness(t)

	const refPriceID = "sol-usd-daily-open"
	h.gateway.SetPriceIDSupport(refPriceID, true)
	h.feed.Update(oracle.Quote{
		PriceID:     refPriceID,
		Price:       250_000_000_000, // 2500 at expo -8
		Confidence:  5000,
		Exponent:    -8,
		PublishTime: h.now,
	})

	// Current 2000 against reference 2500: 20% decline, exactly the 2000 bps
	// default threshold.
	bps, breached, err := h.engine.CheckDrawdownBetween(context.Background(), "SOL", testPriceID, refPriceID)
	if err != nil {
		t.Fatalf("drawdown between: %v", err)
	}
	if bps != 2000 || !breached {
		t.Errorf("drawdown = %d breached=%v, want 2000 true", bps, breached)
	}

	if _, _, err := h.engine.CheckDrawdownBetween(context.Background(), "DOGE", testPriceID, refPriceID); !errors.Is(err, ledger.ErrUnsupportedToken) {
		t.Errorf("unsupported token err = %v", err)
	}
	if _, _, err := h.engine.CheckDrawdownBetween(context.Background(), "SOL", testPriceID, "nope"); !errors.Is(err, ledger.ErrInvalidPriceID) {
		t.Errorf("unknown reference err = %v", err)
	}
}

func TestEngineAdminGate(t *testing.T) {
	h := newHarness(t)

	if err := h.engine.SetTokenSupport("mallory", "BTC", true); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Errorf("token support err = %v", err)
	}
	if err := h.engine.SetPremiumRates("mallory", state.DefaultPremiumRates); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Errorf("rates err = %v", err)
	}
	if err := h.engine.SetOracleParams("mallory", time.Minute, 1); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Errorf("oracle params err = %v", err)
	}

	if err := h.engine.SetPremiumRates(testAuthority, state.PremiumRates{BaseRateBps: 300, MinRateBps: 100, MaxRateBps: 600}); err != nil {
		t.Fatalf("set rates: %v", err)
	}
	if got := h.engine.PremiumRates().BaseRateBps; got != 300 {
		t.Errorf("base rate = %d, want 300", got)
	}
}

func TestEngineRestoreRoundTrip(t *testing.T) {
	h := newHarness(t)
	policy := h.issue(t)
	claim, err := h.engine.FileClaim(context.Background(), policy.ID, "alice", "depeg", e18(100))
	if err != nil {
		t.Fatalf("file claim: %v", err)
	}

	rs := RestoredState{
		Sequence: h.engine.Sequence(),
		Balances: h.engine.Balances(),
		Reserve:  h.engine.Reserve(),
		Policies: []*state.Policy{&policy},
		Claims:   []*state.ClaimRequest{&claim},
	}

	gateway := oracle.NewGateway(h.feed, time.Minute, 1000)
	restored := NewEngine(testAsset, testAuthority, gateway, nil, nil, nil)
	if err := restored.Restore(rs); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if restored.Sequence() != h.engine.Sequence() {
		t.Errorf("sequence = %d, want %d", restored.Sequence(), h.engine.Sequence())
	}
	got, _, err := restored.GetPolicy(policy.ID)
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if got.Premium.Cmp(policy.Premium) != 0 {
		t.Errorf("premium = %s, want %s", got.Premium, policy.Premium)
	}
	if len(restored.PendingClaims()) != 1 {
		t.Errorf("pending claims = %d, want 1", len(restored.PendingClaims()))
	}
	if restored.WalletBalance("alice").Cmp(h.engine.WalletBalance("alice")) != 0 {
		t.Error("wallet balance mismatch after restore")
	}
}
