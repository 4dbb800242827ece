package core

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"CoverLedger/internal/event"
	"CoverLedger/internal/ledger"
	"CoverLedger/internal/pricemath"
	"CoverLedger/internal/state"
)

// ReplayEvent is one stored event plus its journal rows, fed back through
// the engine at startup to rebuild state between the last snapshot and the
// event log head.
type ReplayEvent struct {
	Sequence  uint64
	EventType string
	Payload   []byte
	Journals  []ReplayJournal
}

// ReplayJournal is a stored journal row in wire form.
type ReplayJournal struct {
	DebitAccount  string
	CreditAccount string
	Asset         string
	Amount        string
	JournalType   int32
	Timestamp     int64
}

// Replay re-applies one logged event. Events at sequences the snapshot
// already covers are skipped. Replay trusts the log: journals are applied
// without re-validation, since they passed validation when first written.
func (e *Engine) Replay(rec ReplayEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rec.Sequence < e.sequence {
		return nil
	}

	for _, rj := range rec.Journals {
		if err := e.replayJournal(rec, rj); err != nil {
			return fmt.Errorf("replay seq %d: %w", rec.Sequence, err)
		}
	}
	if err := e.replayPayload(rec); err != nil {
		return fmt.Errorf("replay seq %d: %w", rec.Sequence, err)
	}

	e.sequence = rec.Sequence + 1
	return nil
}

func (e *Engine) replayJournal(rec ReplayEvent, rj ReplayJournal) error {
	debit, err := ledger.ParseAccountPath(rj.DebitAccount)
	if err != nil {
		return err
	}
	credit, err := ledger.ParseAccountPath(rj.CreditAccount)
	if err != nil {
		return err
	}
	amount, ok := new(big.Int).SetString(rj.Amount, 10)
	if !ok {
		return fmt.Errorf("bad journal amount %q", rj.Amount)
	}

	jt := ledger.JournalType(rj.JournalType)
	e.tracker.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		Sequence:      rec.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Asset:         rj.Asset,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     rj.Timestamp,
	})
	e.accountant.ReplayCounter(jt, amount)
	return nil
}

func (e *Engine) replayPayload(rec ReplayEvent) error {
	switch event.ParseEventType(rec.EventType) {
	case event.EventTypePolicyIssued:
		var evt event.PolicyIssued
		if err := json.Unmarshal(rec.Payload, &evt); err != nil {
			return err
		}
		coverage, ok := new(big.Int).SetString(evt.CoverageAmount, 10)
		if !ok {
			return fmt.Errorf("bad coverage %q", evt.CoverageAmount)
		}
		premium, ok := new(big.Int).SetString(evt.Premium, 10)
		if !ok {
			return fmt.Errorf("bad premium %q", evt.Premium)
		}
		normalized, ok := new(big.Int).SetString(evt.Normalized, 10)
		if !ok {
			return fmt.Errorf("bad normalized price %q", evt.Normalized)
		}
		e.policies.Restore(&state.Policy{
			ID:             evt.PolicyID,
			Holder:         evt.Holder,
			InsuredToken:   evt.InsuredToken,
			PaymentAsset:   evt.PaymentAsset,
			CoverageAmount: coverage,
			Premium:        premium,
			ExpiryTime:     time.UnixMicro(evt.ExpiryTime),
			CreatedAt:      time.UnixMicro(evt.CreatedAt),
			Status:         state.PolicyStatusActive,
			Snapshot: pricemath.Snapshot{
				PriceID:    evt.PriceID,
				Confidence: evt.Confidence,
				Normalized: normalized,
			},
		})
		e.accountant.RecordPolicyIssued(coverage)
		return nil

	case event.EventTypePolicyCancelled:
		var evt event.PolicyCancelled
		if err := json.Unmarshal(rec.Payload, &evt); err != nil {
			return err
		}
		policy, err := e.policies.Get(evt.PolicyID)
		if err != nil {
			return err
		}
		policy.Status = state.PolicyStatusCancelled
		policy.Version++
		e.accountant.ReleaseCoverage(policy.CoverageAmount)
		return nil

	case event.EventTypeClaimFiled:
		var evt event.ClaimFiled
		if err := json.Unmarshal(rec.Payload, &evt); err != nil {
			return err
		}
		requested, ok := new(big.Int).SetString(evt.RequestedAmount, 10)
		if !ok {
			return fmt.Errorf("bad requested amount %q", evt.RequestedAmount)
		}
		e.claims.Restore(&state.ClaimRequest{
			ID:              evt.ClaimID,
			PolicyID:        evt.PolicyID,
			Claimant:        evt.Claimant,
			Reason:          evt.Reason,
			RequestedAmount: requested,
			Status:          state.ClaimStatusPending,
			SubmittedAt:     time.UnixMicro(evt.SubmittedAt),
		})
		return nil

	case event.EventTypeClaimSettled:
		var evt event.ClaimSettled
		if err := json.Unmarshal(rec.Payload, &evt); err != nil {
			return err
		}
		payout, ok := new(big.Int).SetString(evt.PayoutAmount, 10)
		if !ok {
			return fmt.Errorf("bad payout %q", evt.PayoutAmount)
		}
		return e.claims.ReplaySettled(evt.ClaimID, evt.Approved, payout, evt.Reason, time.UnixMicro(evt.ProcessedAt))

	case event.EventTypeReserveSeeded, event.EventTypeWalletFunded:
		// Journal replay already moved the balances and counters.
		return nil

	case event.EventTypeParamsUpdated:
		var evt event.ParamsUpdated
		if err := json.Unmarshal(rec.Payload, &evt); err != nil {
			return err
		}
		return e.replayParams(evt)

	default:
		return fmt.Errorf("unknown event type %q", rec.EventType)
	}
}

func (e *Engine) replayParams(evt event.ParamsUpdated) error {
	switch evt.Kind {
	case "token_support":
		if evt.Supported == nil {
			return fmt.Errorf("token_support event without supported flag")
		}
		e.params.SetTokenSupport(evt.Token, *evt.Supported)
		return nil
	case "price_id_support":
		if evt.Supported == nil {
			return fmt.Errorf("price_id_support event without supported flag")
		}
		e.gateway.SetPriceIDSupport(evt.Token, *evt.Supported)
		return nil
	case "premium_rates":
		if evt.BaseRateBps == nil || evt.MinRateBps == nil || evt.MaxRateBps == nil {
			return fmt.Errorf("premium_rates event missing bounds")
		}
		return e.params.SetRates(state.PremiumRates{
			BaseRateBps: *evt.BaseRateBps,
			MinRateBps:  *evt.MinRateBps,
			MaxRateBps:  *evt.MaxRateBps,
		})
	case "drawdown_threshold":
		if evt.ThresholdBps == nil {
			return fmt.Errorf("drawdown_threshold event missing bps")
		}
		return e.params.SetDrawdownThreshold(evt.Token, *evt.ThresholdBps)
	case "oracle_params":
		if evt.MaxAgeMicros == nil || evt.MinConfidence == nil {
			return fmt.Errorf("oracle_params event missing fields")
		}
		return e.gateway.SetParams(time.Duration(*evt.MaxAgeMicros)*time.Microsecond, *evt.MinConfidence)
	default:
		return fmt.Errorf("unknown params kind %q", evt.Kind)
	}
}

// VerifyIntegrity checks the global zero-sum and reserve invariants. Run
// after restore + replay, before serving traffic.
func (e *Engine) VerifyIntegrity() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.validator.ValidateGlobalBalance(); err != nil {
		return err
	}
	return e.validator.ValidateReserve(e.accountant)
}
