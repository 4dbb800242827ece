package ledger

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func TestAccountPaths(t *testing.T) {
	cases := []struct {
		key  AccountKey
		want string
	}{
		{NewHolderWalletKey("alice", "USDC"), "holder:alice:wallet:USDC"},
		{NewReservePoolKey("USDC"), "system:reserve_pool:USDC"},
		{NewExternalSeedKey("USDC"), "external:seed:USDC"},
		{NewExternalDepositsKey("USDC"), "external:deposits:USDC"},
	}
	for _, tc := range cases {
		if got := tc.key.AccountPath(); got != tc.want {
			t.Errorf("AccountPath() = %q, want %q", got, tc.want)
		}
	}
}

func TestBatchValidate(t *testing.T) {
	batchID := uuid.New()
	good := Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		DebitAccount:  NewReservePoolKey("USDC"),
		CreditAccount: NewHolderWalletKey("alice", "USDC"),
		Asset:         "USDC",
		Amount:        e18(10),
		JournalType:   JournalTypePremium,
	}

	b := &Batch{BatchID: batchID, Journals: []Journal{good}}
	if err := b.Validate(); err != nil {
		t.Fatalf("valid batch rejected: %v", err)
	}

	empty := &Batch{BatchID: batchID}
	if err := empty.Validate(); err == nil {
		t.Error("empty batch must be rejected")
	}

	zero := good
	zero.Amount = new(big.Int)
	if err := (&Batch{BatchID: batchID, Journals: []Journal{zero}}).Validate(); err == nil {
		t.Error("zero-amount journal must be rejected")
	}

	mismatched := good
	mismatched.BatchID = uuid.New()
	if err := (&Batch{BatchID: batchID, Journals: []Journal{mismatched}}).Validate(); err == nil {
		t.Error("mismatched batch_id must be rejected")
	}

	self := good
	self.CreditAccount = self.DebitAccount
	if err := (&Batch{BatchID: batchID, Journals: []Journal{self}}).Validate(); err == nil {
		t.Error("self-transfer must be rejected")
	}
}

func TestBalanceTrackerZeroSum(t *testing.T) {
	bt := NewBalanceTracker()
	bt.ApplyJournal(Journal{
		JournalID:     uuid.New(),
		DebitAccount:  NewHolderWalletKey("alice", "USDC"),
		CreditAccount: NewExternalDepositsKey("USDC"),
		Asset:         "USDC",
		Amount:        e18(100),
		JournalType:   JournalTypeWalletFund,
	})
	bt.ApplyJournal(Journal{
		JournalID:     uuid.New(),
		DebitAccount:  NewReservePoolKey("USDC"),
		CreditAccount: NewHolderWalletKey("alice", "USDC"),
		Asset:         "USDC",
		Amount:        e18(25),
		JournalType:   JournalTypePremium,
	})

	if got := bt.GetHolderWallet("alice", "USDC"); got.Cmp(e18(75)) != 0 {
		t.Errorf("wallet = %s, want %s", got, e18(75))
	}
	if got := bt.GetReservePool("USDC"); got.Cmp(e18(25)) != 0 {
		t.Errorf("pool = %s, want %s", got, e18(25))
	}
	for asset, total := range bt.ComputeGlobalBalance() {
		if total.Sign() != 0 {
			t.Errorf("global balance for %s = %s, want 0", asset, total)
		}
	}
}

func TestBalanceTrackerSnapshotIsolation(t *testing.T) {
	bt := NewBalanceTracker()
	key := NewHolderWalletKey("alice", "USDC")
	bt.SetBalance(key, e18(10))

	snap := bt.Snapshot()
	snap[key].SetInt64(0)

	if got := bt.GetBalance(key); got.Cmp(e18(10)) != 0 {
		t.Errorf("mutating a snapshot leaked into the tracker: %s", got)
	}
}

func TestReserveCreditDebitCounters(t *testing.T) {
	bt := NewBalanceTracker()
	ra := NewReserveAccountant("USDC", bt)
	batchID := uuid.New()

	if _, err := ra.Credit(NewExternalSeedKey("USDC"), e18(1000), JournalTypeSeed, batchID, "seed", 1, 1); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := ra.Credit(NewHolderWalletKey("alice", "USDC"), e18(20), JournalTypePremium, batchID, "premium", 2, 2); err != nil {
		t.Fatalf("premium: %v", err)
	}
	if _, err := ra.Debit(NewHolderWalletKey("alice", "USDC"), e18(5), JournalTypeRefund, batchID, "refund", 3, 3); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if _, err := ra.Debit(NewHolderWalletKey("alice", "USDC"), e18(100), JournalTypePayout, batchID, "payout", 4, 4); err != nil {
		t.Fatalf("payout: %v", err)
	}

	if got := ra.Seeded(); got.Cmp(e18(1000)) != 0 {
		t.Errorf("seeded = %s", got)
	}
	if got := ra.TotalPremiums(); got.Cmp(e18(15)) != 0 {
		t.Errorf("net premiums = %s, want %s", got, e18(15))
	}
	if got := ra.TotalClaims(); got.Cmp(e18(100)) != 0 {
		t.Errorf("claims = %s", got)
	}
	if got := ra.Balance(); got.Cmp(e18(915)) != 0 {
		t.Errorf("pool = %s, want %s", got, e18(915))
	}

	if err := NewInvariantValidator(bt).ValidateReserve(ra); err != nil {
		t.Errorf("reserve invariant: %v", err)
	}
}

func TestReserveDebitInsufficient(t *testing.T) {
	bt := NewBalanceTracker()
	ra := NewReserveAccountant("USDC", bt)

	_, err := ra.Debit(NewHolderWalletKey("alice", "USDC"), e18(1), JournalTypePayout, uuid.New(), "payout", 1, 1)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if ra.Balance().Sign() != 0 {
		t.Error("failed debit must not change the pool")
	}
	if ra.TotalClaims().Sign() != 0 {
		t.Error("failed debit must not change counters")
	}
}

func TestReserveRejectsNonPositiveAmounts(t *testing.T) {
	bt := NewBalanceTracker()
	ra := NewReserveAccountant("USDC", bt)

	if _, err := ra.Credit(NewExternalSeedKey("USDC"), new(big.Int), JournalTypeSeed, uuid.New(), "seed", 1, 1); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero credit err = %v", err)
	}
	if _, err := ra.Credit(NewExternalSeedKey("USDC"), e18(-5), JournalTypeSeed, uuid.New(), "seed", 1, 1); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative credit err = %v", err)
	}
	if _, err := ra.Debit(NewHolderWalletKey("a", "USDC"), new(big.Int), JournalTypeRefund, uuid.New(), "refund", 1, 1); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero debit err = %v", err)
	}
}

func TestReleaseCoveragePanicsOnUnderflow(t *testing.T) {
	bt := NewBalanceTracker()
	ra := NewReserveAccountant("USDC", bt)

	defer func() {
		if recover() == nil {
			t.Fatal("releasing more coverage than outstanding must panic")
		}
	}()
	ra.ReleaseCoverage(e18(1))
}
