package event

import "fmt"

// ReserveSeeded records outside liquidity entering the pool.
// Event ref: "reserve:{asset}:seed:{sequence}".
type ReserveSeeded struct {
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	Funder   string `json:"funder"`
	Sequence uint64 `json:"sequence"`
	SeededAt int64  `json:"seeded_at"`
}

func (e *ReserveSeeded) EventRef() string {
	return fmt.Sprintf("reserve:%s:seed:%d", e.Asset, e.Sequence)
}

func (e *ReserveSeeded) EventType() EventType {
	return EventTypeReserveSeeded
}

// WalletFunded records an external deposit into a holder wallet.
// Event ref: "wallet:{holder}:fund:{sequence}".
type WalletFunded struct {
	Holder   string `json:"holder"`
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	Sequence uint64 `json:"sequence"`
	FundedAt int64  `json:"funded_at"`
}

func (e *WalletFunded) EventRef() string {
	return fmt.Sprintf("wallet:%s:fund:%d", e.Holder, e.Sequence)
}

func (e *WalletFunded) EventType() EventType {
	return EventTypeWalletFunded
}

// ParamsUpdated records an admin parameter change. Kind selects which of the
// optional fields are set; payloads carry enough to re-apply the change on
// replay.
type ParamsUpdated struct {
	Kind          string  `json:"kind"` // "token_support" | "price_id_support" | "premium_rates" | "drawdown_threshold" | "oracle_params"
	Token         string  `json:"token,omitempty"`
	Supported     *bool   `json:"supported,omitempty"`
	BaseRateBps   *int64  `json:"base_rate_bps,omitempty"`
	MinRateBps    *int64  `json:"min_rate_bps,omitempty"`
	MaxRateBps    *int64  `json:"max_rate_bps,omitempty"`
	ThresholdBps  *int64  `json:"threshold_bps,omitempty"`
	MaxAgeMicros  *int64  `json:"max_age_micros,omitempty"`
	MinConfidence *uint64 `json:"min_confidence,omitempty"`
	Sequence      uint64  `json:"sequence"`
}

func (e *ParamsUpdated) EventRef() string {
	return fmt.Sprintf("params:%s:%d", e.Kind, e.Sequence)
}

func (e *ParamsUpdated) EventType() EventType {
	return EventTypeParamsUpdated
}
