package core

import (
	"context"
	"math/big"
	"testing"
	"time"

	"CoverLedger/internal/oracle"
	"CoverLedger/internal/state"
)

func toReplayEvent(o Output) ReplayEvent {
	rec := ReplayEvent{
		Sequence:  o.Envelope.Sequence,
		EventType: o.Envelope.EventType.String(),
		Payload:   o.Envelope.Payload,
	}
	if o.Batch != nil {
		for _, j := range o.Batch.Journals {
			rec.Journals = append(rec.Journals, ReplayJournal{
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				Asset:         j.Asset,
				Amount:        j.Amount.String(),
				JournalType:   int32(j.JournalType),
				Timestamp:     j.Timestamp,
			})
		}
	}
	return rec
}

func TestReplayRebuildsFullState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.engine.SeedReserve(ctx, "lp-1", e18(10_000)); err != nil {
		t.Fatalf("seed reserve: %v", err)
	}
	if _, err := h.engine.FundWallet(ctx, "alice", e18(100)); err != nil {
		t.Fatalf("fund wallet: %v", err)
	}
	policy, err := h.engine.IssuePolicy(ctx, "alice", "SOL", testPriceID, e18(1000), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("issue policy: %v", err)
	}
	claim, err := h.engine.FileClaim(ctx, policy.ID, "alice", "depeg", e18(500))
	if err != nil {
		t.Fatalf("file claim: %v", err)
	}
	if _, err := h.engine.SettleClaim(ctx, claim.ID, testAuthority, true, e18(500), "verified"); err != nil {
		t.Fatalf("settle claim: %v", err)
	}
	if err := h.engine.SetDrawdownThreshold(testAuthority, "SOL", 1500); err != nil {
		t.Fatalf("set threshold: %v", err)
	}

	gateway := oracle.NewGateway(oracle.NewCacheFeed(), time.Minute, 1000)
	replayed := NewEngine(testAsset, testAuthority, gateway, nil, nil, nil)

	close(h.persist)
	for out := range h.persist {
		if err := replayed.Replay(toReplayEvent(out)); err != nil {
			t.Fatalf("replay seq %d: %v", out.Envelope.Sequence, err)
		}
	}
	if err := replayed.VerifyIntegrity(); err != nil {
		t.Fatalf("integrity after replay: %v", err)
	}

	if got, want := replayed.Sequence(), h.engine.Sequence(); got != want {
		t.Errorf("sequence = %d, want %d", got, want)
	}

	origReserve := h.engine.Reserve()
	replReserve := replayed.Reserve()
	if replReserve.PoolBalance.Cmp(origReserve.PoolBalance) != 0 {
		t.Errorf("pool = %s, want %s", replReserve.PoolBalance, origReserve.PoolBalance)
	}
	if replReserve.TotalPremiums.Cmp(origReserve.TotalPremiums) != 0 {
		t.Errorf("premiums = %s, want %s", replReserve.TotalPremiums, origReserve.TotalPremiums)
	}
	if replReserve.TotalClaims.Cmp(origReserve.TotalClaims) != 0 {
		t.Errorf("claims = %s, want %s", replReserve.TotalClaims, origReserve.TotalClaims)
	}
	if replReserve.TotalCoverage.Cmp(origReserve.TotalCoverage) != 0 {
		t.Errorf("coverage = %s, want %s", replReserve.TotalCoverage, origReserve.TotalCoverage)
	}

	if got, want := replayed.WalletBalance("alice"), h.engine.WalletBalance("alice"); got.Cmp(want) != 0 {
		t.Errorf("alice wallet = %s, want %s", got, want)
	}

	replPolicy, _, err := replayed.GetPolicy(policy.ID)
	if err != nil {
		t.Fatalf("get replayed policy: %v", err)
	}
	if replPolicy.Status != state.PolicyStatusClaimed {
		t.Errorf("policy status = %s, want claimed", replPolicy.Status)
	}
	if replPolicy.Premium.Cmp(policy.Premium) != 0 {
		t.Errorf("premium = %s, want %s", replPolicy.Premium, policy.Premium)
	}

	replClaim, err := replayed.GetClaim(claim.ID)
	if err != nil {
		t.Fatalf("get replayed claim: %v", err)
	}
	if replClaim.Status != state.ClaimStatusApproved || !replClaim.Processed {
		t.Errorf("claim = %s processed=%v, want approved processed", replClaim.Status, replClaim.Processed)
	}
	if replClaim.PayoutAmount.Cmp(e18(500)) != 0 {
		t.Errorf("payout = %s, want %s", replClaim.PayoutAmount, e18(500))
	}

	if len(replayed.PendingClaims()) != 0 {
		t.Errorf("pending claims = %d, want 0", len(replayed.PendingClaims()))
	}

	// Param events replayed too.
	if !replayed.params.TokenSupported("SOL") {
		t.Error("token allow-list not replayed")
	}
	if got := replayed.params.DrawdownThreshold("SOL"); got != 1500 {
		t.Errorf("threshold = %d, want 1500", got)
	}
}

func TestReplaySkipsSequencesCoveredBySnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.engine.SeedReserve(ctx, "lp-1", e18(100)); err != nil {
		t.Fatalf("seed reserve: %v", err)
	}

	gateway := oracle.NewGateway(oracle.NewCacheFeed(), time.Minute, 1000)
	restored := NewEngine(testAsset, testAuthority, gateway, nil, nil, nil)
	if err := restored.Restore(h.engine.Export()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	seqBefore := restored.Sequence()

	close(h.persist)
	for out := range h.persist {
		if err := restored.Replay(toReplayEvent(out)); err != nil {
			t.Fatalf("replay: %v", err)
		}
	}

	if restored.Sequence() != seqBefore {
		t.Errorf("sequence moved to %d after replaying covered events", restored.Sequence())
	}
	if got := restored.Reserve().PoolBalance; got.Cmp(e18(100)) != 0 {
		t.Errorf("pool = %s, want %s (double apply)", got, e18(100))
	}
	if err := restored.VerifyIntegrity(); err != nil {
		t.Fatalf("integrity: %v", err)
	}
}

func TestReplayBadPayloadFails(t *testing.T) {
	gateway := oracle.NewGateway(oracle.NewCacheFeed(), time.Minute, 1000)
	engine := NewEngine(testAsset, testAuthority, gateway, nil, nil, nil)

	err := engine.Replay(ReplayEvent{
		Sequence:  1,
		EventType: "PolicyIssued",
		Payload:   []byte(`{"policy_id":1,"coverage_amount":"not-a-number"}`),
	})
	if err == nil {
		t.Fatal("expected error for malformed payload")
	}
	var zero big.Int
	if engine.Reserve().PoolBalance.Cmp(&zero) != 0 {
		t.Error("state mutated by failed replay")
	}
}
