// Package query serves read-only lookups from the projection tables and
// the event log. Results are eventually consistent: the watermark reports
// how far projections have caught up.
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"CoverLedger/internal/ledger"
	"CoverLedger/internal/observability"
)

// PolicyRecord is the projected view of a policy. Amounts are decimal strings.
type PolicyRecord struct {
	PolicyID        uint64     `json:"policy_id"`
	Holder          string     `json:"holder"`
	InsuredToken    string     `json:"insured_token"`
	PaymentAsset    string     `json:"payment_asset"`
	CoverageAmount  string     `json:"coverage_amount"`
	Premium         string     `json:"premium"`
	Status          string     `json:"status"`
	PriceID         string     `json:"price_id"`
	NormalizedPrice string     `json:"normalized_price"`
	Confidence      uint64     `json:"confidence"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiryTime      time.Time  `json:"expiry_time"`
	Refund          *string    `json:"refund,omitempty"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
}

// ClaimRecord is the projected view of a claim.
type ClaimRecord struct {
	ClaimID         uint64     `json:"claim_id"`
	PolicyID        uint64     `json:"policy_id"`
	Claimant        string     `json:"claimant"`
	Reason          string     `json:"reason"`
	RequestedAmount string     `json:"requested_amount"`
	Status          string     `json:"status"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	PayoutAmount    *string    `json:"payout_amount,omitempty"`
	SettleReason    *string    `json:"settle_reason,omitempty"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
}

// EventRecord is one row of the event log.
type EventRecord struct {
	Sequence  uint64    `json:"sequence"`
	EventType string    `json:"event_type"`
	EventRef  string    `json:"event_ref"`
	Payload   []byte    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Service answers queries against Postgres.
type Service struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewService(db *sql.DB, metrics *observability.Metrics) *Service {
	return &Service{db: db, metrics: metrics}
}

const policyColumns = `policy_id, holder, insured_token, payment_asset,
	coverage_amount::TEXT, premium::TEXT, status, price_id,
	normalized_price::TEXT, confidence, created_at, expiry_time,
	refund::TEXT, closed_at`

// GetPolicy returns one projected policy.
func (s *Service) GetPolicy(ctx context.Context, policyID uint64) (*PolicyRecord, error) {
	defer s.observe("get_policy", time.Now())

	row := s.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM proj.policies WHERE policy_id = $1`, policyID)

	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: policy %d", ledger.ErrPolicyNotFound, policyID)
	}
	return p, err
}

// ListPoliciesByHolder returns a holder's projected policies in issuance order.
func (s *Service) ListPoliciesByHolder(ctx context.Context, holder string) ([]*PolicyRecord, error) {
	defer s.observe("list_policies", time.Now())

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+policyColumns+` FROM proj.policies WHERE holder = $1 ORDER BY policy_id`, holder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PolicyRecord
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const claimColumns = `claim_id, policy_id, claimant, reason,
	requested_amount::TEXT, status, submitted_at,
	payout_amount::TEXT, settle_reason, processed_at`

// GetClaim returns one projected claim.
func (s *Service) GetClaim(ctx context.Context, claimID uint64) (*ClaimRecord, error) {
	defer s.observe("get_claim", time.Now())

	row := s.db.QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM proj.claims WHERE claim_id = $1`, claimID)

	c, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: claim %d", ledger.ErrClaimNotFound, claimID)
	}
	return c, err
}

// ListClaimsByPolicy returns a policy's projected claims in filing order.
func (s *Service) ListClaimsByPolicy(ctx context.Context, policyID uint64) ([]*ClaimRecord, error) {
	defer s.observe("list_claims", time.Now())

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+claimColumns+` FROM proj.claims WHERE policy_id = $1 ORDER BY claim_id`, policyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectClaims(rows)
}

// ListPendingClaims returns unsettled projected claims in filing order.
func (s *Service) ListPendingClaims(ctx context.Context) ([]*ClaimRecord, error) {
	defer s.observe("pending_claims", time.Now())

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+claimColumns+` FROM proj.claims WHERE status = 'pending' ORDER BY claim_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectClaims(rows)
}

// GetBalance returns the projected balance for an account path.
func (s *Service) GetBalance(ctx context.Context, accountPath string) (string, error) {
	defer s.observe("get_balance", time.Now())

	var balance string
	err := s.db.QueryRowContext(ctx,
		`SELECT balance::TEXT FROM proj.balances WHERE account_path = $1`, accountPath).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return "0", nil
	}
	return balance, err
}

// ListEvents pages the event log from a sequence.
func (s *Service) ListEvents(ctx context.Context, fromSequence uint64, limit int) ([]*EventRecord, error) {
	defer s.observe("list_events", time.Now())

	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, event_type, event_ref, payload, timestamp
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*EventRecord
	for rows.Next() {
		var e EventRecord
		if err := rows.Scan(&e.Sequence, &e.EventType, &e.EventRef, &e.Payload, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Watermark returns the last sequence applied to projections.
func (s *Service) Watermark(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sequence FROM proj.watermark WHERE id = 1`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) || !seq.Valid {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(seq.Int64), nil
}

func (s *Service) observe(endpoint string, start time.Time) {
	if s.metrics != nil {
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPolicy(row rowScanner) (*PolicyRecord, error) {
	var p PolicyRecord
	var refund sql.NullString
	var closedAt sql.NullTime
	if err := row.Scan(
		&p.PolicyID, &p.Holder, &p.InsuredToken, &p.PaymentAsset,
		&p.CoverageAmount, &p.Premium, &p.Status, &p.PriceID,
		&p.NormalizedPrice, &p.Confidence, &p.CreatedAt, &p.ExpiryTime,
		&refund, &closedAt,
	); err != nil {
		return nil, err
	}
	if refund.Valid {
		p.Refund = &refund.String
	}
	if closedAt.Valid {
		p.ClosedAt = &closedAt.Time
	}
	return &p, nil
}

func scanClaim(row rowScanner) (*ClaimRecord, error) {
	var c ClaimRecord
	var payout, reason sql.NullString
	var processedAt sql.NullTime
	if err := row.Scan(
		&c.ClaimID, &c.PolicyID, &c.Claimant, &c.Reason,
		&c.RequestedAmount, &c.Status, &c.SubmittedAt,
		&payout, &reason, &processedAt,
	); err != nil {
		return nil, err
	}
	if payout.Valid {
		c.PayoutAmount = &payout.String
	}
	if reason.Valid {
		c.SettleReason = &reason.String
	}
	if processedAt.Valid {
		c.ProcessedAt = &processedAt.Time
	}
	return &c, nil
}

func collectClaims(rows *sql.Rows) ([]*ClaimRecord, error) {
	var out []*ClaimRecord
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
