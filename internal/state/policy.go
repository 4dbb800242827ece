package state

import (
	"math/big"
	"time"

	"CoverLedger/internal/pricemath"
)

// PolicyStatus is the stored lifecycle state of a policy. "Expired" is never
// stored; it is derived at read time from ExpiryTime.
type PolicyStatus int32

const (
	PolicyStatusActive PolicyStatus = iota
	PolicyStatusCancelled
	PolicyStatusClaimed
)

func (s PolicyStatus) String() string {
	switch s {
	case PolicyStatusActive:
		return "active"
	case PolicyStatusCancelled:
		return "cancelled"
	case PolicyStatusClaimed:
		return "claimed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status permits no further transitions.
func (s PolicyStatus) Terminal() bool {
	return s == PolicyStatusCancelled || s == PolicyStatusClaimed
}

// CanTransitionTo enforces the monotone one-way state machine:
// Active -> {Cancelled, Claimed}, both terminal.
func (s PolicyStatus) CanTransitionTo(next PolicyStatus) bool {
	return s == PolicyStatusActive && next.Terminal()
}

// Policy is a coverage agreement on an insured token. Append-only history:
// policies are mutated only by cancel or claim settlement, never deleted.
type Policy struct {
	ID             uint64
	Holder         string
	InsuredToken   string
	PaymentAsset   string
	CoverageAmount *big.Int
	Premium        *big.Int
	ExpiryTime     time.Time
	CreatedAt      time.Time
	Status         PolicyStatus

	// Snapshot captures the validated price at issuance. Immutable.
	Snapshot pricemath.Snapshot

	Version int64
}

// IsExpired reports the derived read-time expiry condition (now > ExpiryTime).
func (p *Policy) IsExpired(now time.Time) bool {
	return now.After(p.ExpiryTime)
}
