package state

import (
	"math/big"
	"time"
)

// ClaimStatus is the lifecycle state of a claim request.
type ClaimStatus int32

const (
	ClaimStatusPending ClaimStatus = iota
	ClaimStatusApproved
	ClaimStatusDenied
)

func (s ClaimStatus) String() string {
	switch s {
	case ClaimStatusPending:
		return "pending"
	case ClaimStatusApproved:
		return "approved"
	case ClaimStatusDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// ClaimRequest is a holder's request to collect on a policy.
// Processed flips exactly once, from false to true; no further mutation is
// permitted afterward. Claims are never deleted.
type ClaimRequest struct {
	ID              uint64
	PolicyID        uint64
	Claimant        string
	Reason          string
	RequestedAmount *big.Int
	SubmittedAt     time.Time
	Processed       bool
	Status          ClaimStatus

	// Settlement record, populated exactly once by settle.
	PayoutAmount *big.Int
	SettleReason string
	ProcessedAt  time.Time
}
