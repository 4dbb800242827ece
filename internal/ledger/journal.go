package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeSeed JournalType = iota
	JournalTypeWalletFund
	JournalTypePremium
	JournalTypeRefund
	JournalTypePayout
	JournalTypeAdjustment
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeSeed:
		return "seed"
	case JournalTypeWalletFund:
		return "wallet_fund"
	case JournalTypePremium:
		return "premium"
	case JournalTypeRefund:
		return "refund"
	case JournalTypePayout:
		return "payout"
	case JournalTypeAdjustment:
		return "adjustment"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry. A positive Amount
// moves from CreditAccount to DebitAccount (the debit side increases).
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups entries produced by one operation
	EventRef      string      // Reference to the originating ledger event
	Sequence      uint64      // Global operation sequence
	DebitAccount  AccountKey  // Account whose balance increases
	CreditAccount AccountKey  // Account whose balance decreases
	Asset         string      // Payment asset being transferred
	Amount        *big.Int    // Fixed-point amount at 1e18 scale (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Epoch microseconds
}

// Batch represents the journal entries produced by one atomic operation.
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  uint64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each entry is a balanced
// transfer by construction (one positive amount moving credit -> debit), so
// Σ debits == Σ credits holds per-entry. Multi-leg operations use multiple
// entries under one batch_id.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount == nil || j.Amount.Sign() <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %v", j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
	}

	return nil
}
