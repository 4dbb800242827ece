package state

import (
	"fmt"

	"CoverLedger/internal/pricemath"
)

// PremiumRates defines the premium rate bounds in basis points.
type PremiumRates struct {
	BaseRateBps int64
	MinRateBps  int64
	MaxRateBps  int64
}

// DefaultPremiumRates are the launch rates: 2% base, clamped to [1%, 5%].
var DefaultPremiumRates = PremiumRates{
	BaseRateBps: 200,
	MinRateBps:  100,
	MaxRateBps:  500,
}

// ValidatePremiumRates checks rate bound ordering and the bps ceiling.
func ValidatePremiumRates(r PremiumRates) error {
	if r.BaseRateBps <= 0 {
		return fmt.Errorf("base_rate_bps must be > 0, got %d", r.BaseRateBps)
	}
	if r.MinRateBps < 0 {
		return fmt.Errorf("min_rate_bps must be >= 0, got %d", r.MinRateBps)
	}
	if r.MaxRateBps < r.MinRateBps {
		return fmt.Errorf("max_rate_bps (%d) must be >= min_rate_bps (%d)", r.MaxRateBps, r.MinRateBps)
	}
	if r.MaxRateBps > pricemath.BpsDenominator {
		return fmt.Errorf("max_rate_bps must be <= %d, got %d", pricemath.BpsDenominator, r.MaxRateBps)
	}
	return nil
}

// Params holds the admin-settable ledger parameters: the insured-token
// allow-list, premium rate bounds, and per-token drawdown thresholds.
// Not thread-safe: mutation is serialized by the engine's writer lock.
type Params struct {
	supportedTokens    map[string]bool
	rates              PremiumRates
	drawdownThresholds map[string]int64 // insured token -> threshold bps
}

func NewParams() *Params {
	return &Params{
		supportedTokens:    make(map[string]bool),
		rates:              DefaultPremiumRates,
		drawdownThresholds: make(map[string]int64),
	}
}

// TokenSupported reports whether an insured token is on the allow-list.
func (p *Params) TokenSupported(token string) bool {
	return p.supportedTokens[token]
}

// SetTokenSupport adds or removes a token from the allow-list.
func (p *Params) SetTokenSupport(token string, supported bool) {
	if supported {
		p.supportedTokens[token] = true
	} else {
		delete(p.supportedTokens, token)
	}
}

// Rates returns the current premium rate bounds.
func (p *Params) Rates() PremiumRates { return p.rates }

// SetRates replaces the premium rate bounds after validation.
func (p *Params) SetRates(r PremiumRates) error {
	if err := ValidatePremiumRates(r); err != nil {
		return fmt.Errorf("invalid premium rates: %w", err)
	}
	p.rates = r
	return nil
}

// DrawdownThreshold returns the advisory drawdown threshold for a token,
// defaulting to 2000 bps when unset.
func (p *Params) DrawdownThreshold(token string) int64 {
	if bps, ok := p.drawdownThresholds[token]; ok {
		return bps
	}
	return 2000
}

// SetDrawdownThreshold sets the advisory threshold for a token.
func (p *Params) SetDrawdownThreshold(token string, bps int64) error {
	if bps <= 0 || bps > pricemath.BpsDenominator {
		return fmt.Errorf("drawdown threshold must be in (0, %d], got %d", pricemath.BpsDenominator, bps)
	}
	p.drawdownThresholds[token] = bps
	return nil
}

// SupportedTokens returns a copy of the allow-list.
func (p *Params) SupportedTokens() []string {
	tokens := make([]string, 0, len(p.supportedTokens))
	for t := range p.supportedTokens {
		tokens = append(tokens, t)
	}
	return tokens
}

// Thresholds returns a copy of the explicitly-set drawdown thresholds.
func (p *Params) Thresholds() map[string]int64 {
	out := make(map[string]int64, len(p.drawdownThresholds))
	for token, bps := range p.drawdownThresholds {
		out[token] = bps
	}
	return out
}
