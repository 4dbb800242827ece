package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"CoverLedger/internal/core"
	"CoverLedger/internal/ledger"
	"CoverLedger/internal/pricemath"
	"CoverLedger/internal/state"
)

// SnapshotManager handles creating and loading state snapshots for recovery.
// Snapshots contain balances, reserve counters, the policy and claim books,
// and the sequence counter. On warm restart the orchestrator loads the
// latest snapshot and replays events from snapshot.sequence+1.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData contains the full in-memory state at a point in time.
// Amounts are decimal strings.
type SnapshotData struct {
	Sequence  uint64            `json:"sequence"`
	Asset     string            `json:"asset"`
	Balances  map[string]string `json:"balances"` // AccountPath -> balance
	Reserve   ReserveSnapshot   `json:"reserve"`
	Policies  []PolicySnapshot  `json:"policies"`
	Claims    []ClaimSnapshot   `json:"claims"`
	Params    ParamsSnapshot    `json:"params"`
	CreatedAt time.Time         `json:"created_at"`
}

// ParamsSnapshot is the serializable admin parameter set.
type ParamsSnapshot struct {
	SupportedTokens     []string         `json:"supported_tokens"`
	BaseRateBps         int64            `json:"base_rate_bps"`
	MinRateBps          int64            `json:"min_rate_bps"`
	MaxRateBps          int64            `json:"max_rate_bps"`
	DrawdownThresholds  map[string]int64 `json:"drawdown_thresholds"`
	SupportedPriceIDs   []string         `json:"supported_price_ids"`
	OracleMaxAgeMicros  int64            `json:"oracle_max_age_micros"`
	OracleMinConfidence uint64           `json:"oracle_min_confidence"`
}

// ReserveSnapshot is the serializable reserve counter set.
type ReserveSnapshot struct {
	Seeded        string `json:"seeded"`
	TotalPolicies uint64 `json:"total_policies"`
	TotalCoverage string `json:"total_coverage"`
	TotalPremiums string `json:"total_premiums"`
	TotalClaims   string `json:"total_claims"`
}

// PolicySnapshot is a serializable policy.
type PolicySnapshot struct {
	ID             uint64 `json:"id"`
	Holder         string `json:"holder"`
	InsuredToken   string `json:"insured_token"`
	PaymentAsset   string `json:"payment_asset"`
	CoverageAmount string `json:"coverage_amount"`
	Premium        string `json:"premium"`
	ExpiryTime     int64  `json:"expiry_time"` // Epoch microseconds
	CreatedAt      int64  `json:"created_at"`
	Status         int32  `json:"status"`
	PriceID        string `json:"price_id"`
	Price          int64  `json:"price"`
	Confidence     uint64 `json:"confidence"`
	Exponent       int32  `json:"exponent"`
	Normalized     string `json:"normalized"`
	PublishTime    int64  `json:"publish_time"`
	Version        int64  `json:"version"`
}

// ClaimSnapshot is a serializable claim.
type ClaimSnapshot struct {
	ID              uint64 `json:"id"`
	PolicyID        uint64 `json:"policy_id"`
	Claimant        string `json:"claimant"`
	Reason          string `json:"reason"`
	RequestedAmount string `json:"requested_amount"`
	SubmittedAt     int64  `json:"submitted_at"`
	Processed       bool   `json:"processed"`
	Status          int32  `json:"status"`
	PayoutAmount    string `json:"payout_amount,omitempty"`
	SettleReason    string `json:"settle_reason,omitempty"`
	ProcessedAt     int64  `json:"processed_at,omitempty"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// FromEngineState converts an engine export into the serializable form.
func FromEngineState(rs core.RestoredState, createdAt time.Time) *SnapshotData {
	balances := make(map[string]string, len(rs.Balances))
	for key, balance := range rs.Balances {
		balances[key.AccountPath()] = balance.String()
	}

	policies := make([]PolicySnapshot, 0, len(rs.Policies))
	for _, p := range rs.Policies {
		policies = append(policies, PolicySnapshot{
			ID:             p.ID,
			Holder:         p.Holder,
			InsuredToken:   p.InsuredToken,
			PaymentAsset:   p.PaymentAsset,
			CoverageAmount: p.CoverageAmount.String(),
			Premium:        p.Premium.String(),
			ExpiryTime:     p.ExpiryTime.UnixMicro(),
			CreatedAt:      p.CreatedAt.UnixMicro(),
			Status:         int32(p.Status),
			PriceID:        p.Snapshot.PriceID,
			Price:          p.Snapshot.Price,
			Confidence:     p.Snapshot.Confidence,
			Exponent:       p.Snapshot.Exponent,
			Normalized:     p.Snapshot.Normalized.String(),
			PublishTime:    p.Snapshot.PublishTime.UnixMicro(),
			Version:        p.Version,
		})
	}

	claims := make([]ClaimSnapshot, 0, len(rs.Claims))
	for _, c := range rs.Claims {
		cs := ClaimSnapshot{
			ID:              c.ID,
			PolicyID:        c.PolicyID,
			Claimant:        c.Claimant,
			Reason:          c.Reason,
			RequestedAmount: c.RequestedAmount.String(),
			SubmittedAt:     c.SubmittedAt.UnixMicro(),
			Processed:       c.Processed,
			Status:          int32(c.Status),
			SettleReason:    c.SettleReason,
		}
		if c.PayoutAmount != nil {
			cs.PayoutAmount = c.PayoutAmount.String()
		}
		if c.Processed {
			cs.ProcessedAt = c.ProcessedAt.UnixMicro()
		}
		claims = append(claims, cs)
	}

	return &SnapshotData{
		Sequence: rs.Sequence,
		Asset:    rs.Reserve.Asset,
		Balances: balances,
		Reserve: ReserveSnapshot{
			Seeded:        rs.Reserve.Seeded.String(),
			TotalPolicies: rs.Reserve.TotalPolicies,
			TotalCoverage: rs.Reserve.TotalCoverage.String(),
			TotalPremiums: rs.Reserve.TotalPremiums.String(),
			TotalClaims:   rs.Reserve.TotalClaims.String(),
		},
		Policies: policies,
		Claims:   claims,
		Params: ParamsSnapshot{
			SupportedTokens:     rs.Params.SupportedTokens,
			BaseRateBps:         rs.Params.Rates.BaseRateBps,
			MinRateBps:          rs.Params.Rates.MinRateBps,
			MaxRateBps:          rs.Params.Rates.MaxRateBps,
			DrawdownThresholds:  rs.Params.DrawdownThresholds,
			SupportedPriceIDs:   rs.Params.SupportedPriceIDs,
			OracleMaxAgeMicros:  rs.Params.OracleMaxAge.Microseconds(),
			OracleMinConfidence: rs.Params.OracleMinConfidence,
		},
		CreatedAt: createdAt,
	}
}

// ToEngineState converts a loaded snapshot back into engine form.
func (sd *SnapshotData) ToEngineState() (core.RestoredState, error) {
	balances := make(map[ledger.AccountKey]*big.Int, len(sd.Balances))
	for path, raw := range sd.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return core.RestoredState{}, err
		}
		balance, err := parseAmount(raw, "balance "+path)
		if err != nil {
			return core.RestoredState{}, err
		}
		balances[key] = balance
	}

	seeded, err := parseAmount(sd.Reserve.Seeded, "seeded")
	if err != nil {
		return core.RestoredState{}, err
	}
	totalCoverage, err := parseAmount(sd.Reserve.TotalCoverage, "total_coverage")
	if err != nil {
		return core.RestoredState{}, err
	}
	totalPremiums, err := parseAmount(sd.Reserve.TotalPremiums, "total_premiums")
	if err != nil {
		return core.RestoredState{}, err
	}
	totalClaims, err := parseAmount(sd.Reserve.TotalClaims, "total_claims")
	if err != nil {
		return core.RestoredState{}, err
	}

	policies := make([]*state.Policy, 0, len(sd.Policies))
	for _, ps := range sd.Policies {
		coverage, err := parseAmount(ps.CoverageAmount, fmt.Sprintf("policy %d coverage", ps.ID))
		if err != nil {
			return core.RestoredState{}, err
		}
		premium, err := parseAmount(ps.Premium, fmt.Sprintf("policy %d premium", ps.ID))
		if err != nil {
			return core.RestoredState{}, err
		}
		normalized, err := parseAmount(ps.Normalized, fmt.Sprintf("policy %d normalized", ps.ID))
		if err != nil {
			return core.RestoredState{}, err
		}
		policies = append(policies, &state.Policy{
			ID:             ps.ID,
			Holder:         ps.Holder,
			InsuredToken:   ps.InsuredToken,
			PaymentAsset:   ps.PaymentAsset,
			CoverageAmount: coverage,
			Premium:        premium,
			ExpiryTime:     time.UnixMicro(ps.ExpiryTime),
			CreatedAt:      time.UnixMicro(ps.CreatedAt),
			Status:         state.PolicyStatus(ps.Status),
			Snapshot: pricemath.Snapshot{
				PriceID:     ps.PriceID,
				Price:       ps.Price,
				Confidence:  ps.Confidence,
				Exponent:    ps.Exponent,
				Normalized:  normalized,
				PublishTime: time.UnixMicro(ps.PublishTime),
			},
			Version: ps.Version,
		})
	}

	claims := make([]*state.ClaimRequest, 0, len(sd.Claims))
	for _, cs := range sd.Claims {
		requested, err := parseAmount(cs.RequestedAmount, fmt.Sprintf("claim %d requested", cs.ID))
		if err != nil {
			return core.RestoredState{}, err
		}
		claim := &state.ClaimRequest{
			ID:              cs.ID,
			PolicyID:        cs.PolicyID,
			Claimant:        cs.Claimant,
			Reason:          cs.Reason,
			RequestedAmount: requested,
			SubmittedAt:     time.UnixMicro(cs.SubmittedAt),
			Processed:       cs.Processed,
			Status:          state.ClaimStatus(cs.Status),
			SettleReason:    cs.SettleReason,
		}
		if cs.PayoutAmount != "" {
			payout, err := parseAmount(cs.PayoutAmount, fmt.Sprintf("claim %d payout", cs.ID))
			if err != nil {
				return core.RestoredState{}, err
			}
			claim.PayoutAmount = payout
		}
		if cs.Processed {
			claim.ProcessedAt = time.UnixMicro(cs.ProcessedAt)
		}
		claims = append(claims, claim)
	}

	return core.RestoredState{
		Sequence: sd.Sequence,
		Balances: balances,
		Reserve: core.ReserveStats{
			Asset:         sd.Asset,
			Seeded:        seeded,
			TotalPolicies: sd.Reserve.TotalPolicies,
			TotalCoverage: totalCoverage,
			TotalPremiums: totalPremiums,
			TotalClaims:   totalClaims,
		},
		Policies: policies,
		Claims:   claims,
		Params: core.ParamState{
			SupportedTokens: sd.Params.SupportedTokens,
			Rates: state.PremiumRates{
				BaseRateBps: sd.Params.BaseRateBps,
				MinRateBps:  sd.Params.MinRateBps,
				MaxRateBps:  sd.Params.MaxRateBps,
			},
			DrawdownThresholds:  sd.Params.DrawdownThresholds,
			SupportedPriceIDs:   sd.Params.SupportedPriceIDs,
			OracleMaxAge:        time.Duration(sd.Params.OracleMaxAgeMicros) * time.Microsecond,
			OracleMinConfidence: sd.Params.OracleMinConfidence,
		},
	}, nil
}

func parseAmount(raw, what string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("parse %s: invalid amount %q", what, raw)
	}
	return v, nil
}

// SaveSnapshot persists a snapshot to Postgres.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, size_bytes = $4
	`, uuid.New(), snap.Sequence, data, len(data), snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent snapshot. Returns nil on a cold
// start with no snapshots.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// LoadReplayEvents returns up to limit logged events at or after
// fromSequence, each with its journal rows, in sequence order.
func (sm *SnapshotManager) LoadReplayEvents(ctx context.Context, fromSequence uint64, limit int) ([]core.ReplayEvent, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, payload
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("load events from %d: %w", fromSequence, err)
	}
	defer rows.Close()

	var events []core.ReplayEvent
	index := make(map[uint64]int)
	for rows.Next() {
		var rec core.ReplayEvent
		if err := rows.Scan(&rec.Sequence, &rec.EventType, &rec.Payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		index[rec.Sequence] = len(events)
		events = append(events, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	last := events[len(events)-1].Sequence
	jrows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, debit_account, credit_account, asset, amount::TEXT, journal_type, timestamp
		FROM event_log.journal
		WHERE sequence >= $1 AND sequence <= $2
		ORDER BY sequence, journal_id
	`, fromSequence, last)
	if err != nil {
		return nil, fmt.Errorf("load journals from %d: %w", fromSequence, err)
	}
	defer jrows.Close()

	for jrows.Next() {
		var seq uint64
		var j core.ReplayJournal
		if err := jrows.Scan(&seq, &j.DebitAccount, &j.CreditAccount, &j.Asset, &j.Amount, &j.JournalType, &j.Timestamp); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		i, ok := index[seq]
		if !ok {
			return nil, fmt.Errorf("journal at sequence %d has no event row", seq)
		}
		events[i].Journals = append(events[i].Journals, j)
	}
	if err := jrows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}
