package event

import "fmt"

// ClaimFiled records a pending claim entering the queue. No funds move.
// Event ref: "claim:{id}:filed".
type ClaimFiled struct {
	ClaimID         uint64 `json:"claim_id"`
	PolicyID        uint64 `json:"policy_id"`
	Claimant        string `json:"claimant"`
	Reason          string `json:"reason"`
	RequestedAmount string `json:"requested_amount"`
	SubmittedAt     int64  `json:"submitted_at"`
}

func (e *ClaimFiled) EventRef() string {
	return fmt.Sprintf("claim:%d:filed", e.ClaimID)
}

func (e *ClaimFiled) EventType() EventType {
	return EventTypeClaimFiled
}

// ClaimSettled records the one-shot resolution of a claim. Payout is "0"
// for denials.
// Event ref: "claim:{id}:settled".
type ClaimSettled struct {
	ClaimID      uint64 `json:"claim_id"`
	PolicyID     uint64 `json:"policy_id"`
	Claimant     string `json:"claimant"`
	Approved     bool   `json:"approved"`
	PayoutAmount string `json:"payout_amount"`
	Reason       string `json:"reason"`
	ProcessedAt  int64  `json:"processed_at"`
}

func (e *ClaimSettled) EventRef() string {
	return fmt.Sprintf("claim:%d:settled", e.ClaimID)
}

func (e *ClaimSettled) EventType() EventType {
	return EventTypeClaimSettled
}
