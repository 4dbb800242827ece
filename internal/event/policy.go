package event

import "fmt"

// PolicyIssued records coverage activation and the premium collected.
// Event ref: "policy:{id}:issued".
type PolicyIssued struct {
	PolicyID       uint64 `json:"policy_id"`
	Holder         string `json:"holder"`
	InsuredToken   string `json:"insured_token"`
	PaymentAsset   string `json:"payment_asset"`
	CoverageAmount string `json:"coverage_amount"`
	Premium        string `json:"premium"`
	PriceID        string `json:"price_id"`
	Normalized     string `json:"normalized_price"`
	Confidence     uint64 `json:"confidence"`
	CreatedAt      int64  `json:"created_at"`
	ExpiryTime     int64  `json:"expiry_time"`
}

func (e *PolicyIssued) EventRef() string {
	return fmt.Sprintf("policy:%d:issued", e.PolicyID)
}

func (e *PolicyIssued) EventType() EventType {
	return EventTypePolicyIssued
}

// PolicyCancelled records a holder cancel and the pro-rata refund.
// Event ref: "policy:{id}:cancelled".
type PolicyCancelled struct {
	PolicyID     uint64 `json:"policy_id"`
	Holder       string `json:"holder"`
	PaymentAsset string `json:"payment_asset"`
	Refund       string `json:"refund"`
	CancelledAt  int64  `json:"cancelled_at"`
}

func (e *PolicyCancelled) EventRef() string {
	return fmt.Sprintf("policy:%d:cancelled", e.PolicyID)
}

func (e *PolicyCancelled) EventType() EventType {
	return EventTypePolicyCancelled
}
