package core

import (
	"fmt"
	"math/big"
	"time"

	"CoverLedger/internal/ledger"
	"CoverLedger/internal/state"
)

// RestoredState is what the persistence layer reloads at startup.
type RestoredState struct {
	Sequence uint64
	Balances map[ledger.AccountKey]*big.Int
	Reserve  ReserveStats
	Policies []*state.Policy
	Claims   []*state.ClaimRequest
	Params   ParamState
}

// ParamState captures the admin-settable parameters so restarts do not
// forget allow-lists or rate bounds.
type ParamState struct {
	SupportedTokens     []string
	Rates               state.PremiumRates
	DrawdownThresholds  map[string]int64
	SupportedPriceIDs   []string
	OracleMaxAge        time.Duration
	OracleMinConfidence uint64
}

// Export captures the full engine state for snapshotting.
func (e *Engine) Export() RestoredState {
	e.mu.Lock()
	defer e.mu.Unlock()

	policies := e.policies.All()
	policyCopies := make([]*state.Policy, 0, len(policies))
	for _, p := range policies {
		c := copyPolicy(p)
		policyCopies = append(policyCopies, &c)
	}

	claims := e.claims.All()
	claimCopies := make([]*state.ClaimRequest, 0, len(claims))
	for _, c := range claims {
		cc := copyClaim(c)
		claimCopies = append(claimCopies, &cc)
	}

	return RestoredState{
		Sequence: e.sequence,
		Balances: e.tracker.Snapshot(),
		Reserve: ReserveStats{
			Asset:         e.Asset(),
			PoolBalance:   e.accountant.Balance(),
			Seeded:        e.accountant.Seeded(),
			TotalPolicies: e.accountant.TotalPolicies(),
			TotalCoverage: e.accountant.TotalCoverage(),
			TotalPremiums: e.accountant.TotalPremiums(),
			TotalClaims:   e.accountant.TotalClaims(),
		},
		Policies: policyCopies,
		Claims:   claimCopies,
		Params: ParamState{
			SupportedTokens:     e.params.SupportedTokens(),
			Rates:               e.params.Rates(),
			DrawdownThresholds:  e.params.Thresholds(),
			SupportedPriceIDs:   e.gateway.SupportedPriceIDs(),
			OracleMaxAge:        e.gateway.MaxAge(),
			OracleMinConfidence: e.gateway.MinConfidence(),
		},
	}
}

// Restore reinstates engine state from storage. Must run before the engine
// serves traffic; it validates the global invariants after loading and
// fails rather than serve from a corrupt snapshot.
func (e *Engine) Restore(rs RestoredState) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for key, balance := range rs.Balances {
		e.tracker.SetBalance(key, balance)
	}
	e.accountant.Restore(
		rs.Reserve.Seeded,
		rs.Reserve.TotalCoverage,
		rs.Reserve.TotalPremiums,
		rs.Reserve.TotalClaims,
		rs.Reserve.TotalPolicies,
	)
	for _, p := range rs.Policies {
		e.policies.Restore(p)
	}
	for _, c := range rs.Claims {
		e.claims.Restore(c)
	}
	for _, token := range rs.Params.SupportedTokens {
		e.params.SetTokenSupport(token, true)
	}
	if rs.Params.Rates != (state.PremiumRates{}) {
		if err := e.params.SetRates(rs.Params.Rates); err != nil {
			return fmt.Errorf("restored rates: %w", err)
		}
	}
	for token, bps := range rs.Params.DrawdownThresholds {
		if err := e.params.SetDrawdownThreshold(token, bps); err != nil {
			return fmt.Errorf("restored threshold for %s: %w", token, err)
		}
	}
	for _, id := range rs.Params.SupportedPriceIDs {
		e.gateway.SetPriceIDSupport(id, true)
	}
	if rs.Params.OracleMaxAge > 0 {
		if err := e.gateway.SetParams(rs.Params.OracleMaxAge, rs.Params.OracleMinConfidence); err != nil {
			return fmt.Errorf("restored oracle params: %w", err)
		}
	}

	if rs.Sequence > e.sequence {
		e.sequence = rs.Sequence
	}

	if err := e.validator.ValidateGlobalBalance(); err != nil {
		return fmt.Errorf("restored state: %w", err)
	}
	if err := e.validator.ValidateReserve(e.accountant); err != nil {
		return fmt.Errorf("restored state: %w", err)
	}
	return nil
}
