package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"CoverLedger/internal/event"
	"CoverLedger/internal/ledger"
	"CoverLedger/internal/state"
)

// Admin operations mutate parameters under the same writer lock as ledger
// operations and emit a ParamsUpdated event each, so parameter history is
// replayable from the event log.

func (e *Engine) adminGate(caller string) error {
	if caller != e.claims.Authority() {
		return fmt.Errorf("%w: %s is not the admin authority", ledger.ErrUnauthorized, caller)
	}
	return nil
}

// SetTokenSupport adds or removes an insured token from the allow-list.
func (e *Engine) SetTokenSupport(caller, token string, supported bool) error {
	const op = "set_token_support"
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.adminGate(caller); err != nil {
		return e.reject(op, err)
	}
	if token == "" {
		return e.reject(op, fmt.Errorf("%w: empty token", ledger.ErrInvalidTokenAddress))
	}
	e.params.SetTokenSupport(token, supported)

	e.commit(op, &event.ParamsUpdated{
		Kind:      "token_support",
		Token:     token,
		Supported: &supported,
		Sequence:  e.sequence,
	}, uuid.New(), nil, e.nowFn(), start)
	return nil
}

// SetPremiumRates replaces the premium rate bounds.
func (e *Engine) SetPremiumRates(caller string, rates state.PremiumRates) error {
	const op = "set_premium_rates"
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.adminGate(caller); err != nil {
		return e.reject(op, err)
	}
	if err := e.params.SetRates(rates); err != nil {
		return e.reject(op, err)
	}

	e.commit(op, &event.ParamsUpdated{
		Kind:        "premium_rates",
		BaseRateBps: &rates.BaseRateBps,
		MinRateBps:  &rates.MinRateBps,
		MaxRateBps:  &rates.MaxRateBps,
		Sequence:    e.sequence,
	}, uuid.New(), nil, e.nowFn(), start)
	return nil
}

// SetDrawdownThreshold sets the advisory drawdown threshold for a token.
func (e *Engine) SetDrawdownThreshold(caller, token string, bps int64) error {
	const op = "set_drawdown_threshold"
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.adminGate(caller); err != nil {
		return e.reject(op, err)
	}
	if err := e.params.SetDrawdownThreshold(token, bps); err != nil {
		return e.reject(op, err)
	}

	e.commit(op, &event.ParamsUpdated{
		Kind:         "drawdown_threshold",
		Token:        token,
		ThresholdBps: &bps,
		Sequence:     e.sequence,
	}, uuid.New(), nil, e.nowFn(), start)
	return nil
}

// SetPriceIDSupport adds or removes a price id from the oracle allow-list.
func (e *Engine) SetPriceIDSupport(caller, priceID string, supported bool) error {
	const op = "set_price_id_support"
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.adminGate(caller); err != nil {
		return e.reject(op, err)
	}
	if priceID == "" {
		return e.reject(op, fmt.Errorf("%w: empty price id", ledger.ErrInvalidPriceID))
	}
	e.gateway.SetPriceIDSupport(priceID, supported)

	e.commit(op, &event.ParamsUpdated{
		Kind:      "price_id_support",
		Token:     priceID,
		Supported: &supported,
		Sequence:  e.sequence,
	}, uuid.New(), nil, e.nowFn(), start)
	return nil
}

// SetOracleParams replaces the oracle freshness window and confidence floor.
func (e *Engine) SetOracleParams(caller string, maxAge time.Duration, minConfidence uint64) error {
	const op = "set_oracle_params"
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.adminGate(caller); err != nil {
		return e.reject(op, err)
	}
	if err := e.gateway.SetParams(maxAge, minConfidence); err != nil {
		return e.reject(op, err)
	}

	maxAgeMicros := maxAge.Microseconds()
	e.commit(op, &event.ParamsUpdated{
		Kind:          "oracle_params",
		MaxAgeMicros:  &maxAgeMicros,
		MinConfidence: &minConfidence,
		Sequence:      e.sequence,
	}, uuid.New(), nil, e.nowFn(), start)
	return nil
}

// AdminGate reports whether the caller may perform privileged operations.
func (e *Engine) AdminGate(caller string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.adminGate(caller)
}

// SupportedTokens lists the insured-token allow-list.
func (e *Engine) SupportedTokens() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params.SupportedTokens()
}

// PremiumRates returns the current rate bounds.
func (e *Engine) PremiumRates() state.PremiumRates {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params.Rates()
}
