package ledger

import "errors"

// Business errors. These are locally detected precondition failures, never
// control flow for expected outcomes. None are retried internally; the
// caller decides. Callers branch with errors.Is.
var (
	ErrInvalidTokenAddress   = errors.New("invalid token address")
	ErrUnsupportedToken      = errors.New("unsupported token")
	ErrInvalidCoverageAmount = errors.New("invalid coverage amount")
	ErrInvalidDuration       = errors.New("invalid duration")
	ErrInvalidPremium        = errors.New("invalid premium")
	ErrPolicyNotFound        = errors.New("policy not found")
	ErrPolicyNotActive       = errors.New("policy not active")
	ErrPolicyExpired         = errors.New("policy expired")
	ErrClaimNotFound         = errors.New("claim not found")
	ErrClaimAlreadyProcessed = errors.New("claim already processed")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInvalidPriceID        = errors.New("invalid price id")
	ErrPriceStale            = errors.New("price stale")
	ErrPriceConfidenceTooLow = errors.New("price confidence too low")
	ErrUnauthorizedClaimant  = errors.New("unauthorized claimant")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrUnsupportedAsset      = errors.New("unsupported payment asset")
	ErrDuplicateRequest      = errors.New("duplicate request")
)
