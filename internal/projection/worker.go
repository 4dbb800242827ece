// Package projection maintains denormalized query tables from applied
// events. Updates are eventually consistent: the input channel drops when
// full, and dropped sequences are recovered by rebuilding from the event
// log.
package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"CoverLedger/internal/event"
	"CoverLedger/internal/observability"
)

// Output mirrors core.Output for projection consumption. The orchestrator
// (cmd/coverledger) bridges between the two.
type Output struct {
	Sequence  uint64
	EventType event.EventType
	EventRef  string
	Payload   []byte
	Journals  []JournalEntry
	Timestamp time.Time
}

// JournalEntry is a simplified journal for projection consumption.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	Asset         string
	Amount        string
	JournalType   int32
}

// Worker updates projection tables from processed events.
type Worker struct {
	db        *sql.DB
	inputChan <-chan Output
	metrics   *observability.Metrics
	lastSeq   uint64
}

func NewWorker(db *sql.DB, inputChan <-chan Output, metrics *observability.Metrics) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run starts the projection worker loop.
func (pw *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue; projections can be rebuilt from the event log
				continue
			}

			pw.lastSeq = output.Sequence
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues(output.EventType.String()).Observe(time.Since(start).Seconds())
				pw.metrics.ProjectionSequence.Set(float64(output.Sequence))
			}
		}
	}
}

// LastSequence reports the last projected sequence.
func (pw *Worker) LastSequence() uint64 { return pw.lastSeq }

func (pw *Worker) processOutput(ctx context.Context, output Output) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range output.Journals {
		if err := pw.applyBalance(ctx, tx, j); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if err := pw.applyEvent(ctx, tx, output); err != nil {
		return fmt.Errorf("%s projection: %w", output.EventType, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO proj.watermark (id, last_sequence, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark: %w", err)
	}

	return tx.Commit()
}

func (pw *Worker) applyBalance(ctx context.Context, tx *sql.Tx, j JournalEntry) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO proj.balances (account_path, asset, balance)
		VALUES ($1, $2, $3::NUMERIC)
		ON CONFLICT (account_path) DO UPDATE SET balance = proj.balances.balance + $3::NUMERIC
	`, j.DebitAccount, j.Asset, j.Amount); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO proj.balances (account_path, asset, balance)
		VALUES ($1, $2, -$3::NUMERIC)
		ON CONFLICT (account_path) DO UPDATE SET balance = proj.balances.balance - $3::NUMERIC
	`, j.CreditAccount, j.Asset, j.Amount)
	return err
}

func (pw *Worker) applyEvent(ctx context.Context, tx *sql.Tx, output Output) error {
	switch output.EventType {
	case event.EventTypePolicyIssued:
		var e event.PolicyIssued
		if err := json.Unmarshal(output.Payload, &e); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO proj.policies
				(policy_id, holder, insured_token, payment_asset, coverage_amount, premium,
				 status, price_id, normalized_price, confidence, created_at, expiry_time)
			VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, 'active', $7, $8::NUMERIC, $9, $10, $11)
			ON CONFLICT (policy_id) DO NOTHING
		`, e.PolicyID, e.Holder, e.InsuredToken, e.PaymentAsset, e.CoverageAmount, e.Premium,
			e.PriceID, e.Normalized, e.Confidence, time.UnixMicro(e.CreatedAt), time.UnixMicro(e.ExpiryTime))
		return err

	case event.EventTypePolicyCancelled:
		var e event.PolicyCancelled
		if err := json.Unmarshal(output.Payload, &e); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE proj.policies
			SET status = 'cancelled', refund = $2::NUMERIC, closed_at = $3
			WHERE policy_id = $1
		`, e.PolicyID, e.Refund, time.UnixMicro(e.CancelledAt))
		return err

	case event.EventTypeClaimFiled:
		var e event.ClaimFiled
		if err := json.Unmarshal(output.Payload, &e); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO proj.claims
				(claim_id, policy_id, claimant, reason, requested_amount, status, submitted_at)
			VALUES ($1, $2, $3, $4, $5::NUMERIC, 'pending', $6)
			ON CONFLICT (claim_id) DO NOTHING
		`, e.ClaimID, e.PolicyID, e.Claimant, e.Reason, e.RequestedAmount, time.UnixMicro(e.SubmittedAt))
		return err

	case event.EventTypeClaimSettled:
		var e event.ClaimSettled
		if err := json.Unmarshal(output.Payload, &e); err != nil {
			return err
		}
		status := "denied"
		if e.Approved {
			status = "approved"
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE proj.claims
			SET status = $2, payout_amount = $3::NUMERIC, settle_reason = $4, processed_at = $5
			WHERE claim_id = $1
		`, e.ClaimID, status, e.PayoutAmount, e.Reason, time.UnixMicro(e.ProcessedAt)); err != nil {
			return err
		}
		if e.Approved {
			_, err := tx.ExecContext(ctx, `
				UPDATE proj.policies
				SET status = 'claimed', closed_at = $2
				WHERE policy_id = $1
			`, e.PolicyID, time.UnixMicro(e.ProcessedAt))
			return err
		}
		return nil

	case event.EventTypeReserveSeeded, event.EventTypeWalletFunded, event.EventTypeParamsUpdated:
		// Balance rows already cover these; no dedicated table.
		return nil

	default:
		return nil
	}
}
