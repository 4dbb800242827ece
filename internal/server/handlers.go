package server

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"CoverLedger/internal/state"
)

type policyResponse struct {
	PolicyID        uint64 `json:"policy_id"`
	Holder          string `json:"holder"`
	InsuredToken    string `json:"insured_token"`
	PaymentAsset    string `json:"payment_asset"`
	CoverageAmount  string `json:"coverage_amount"`
	Premium         string `json:"premium"`
	Status          string `json:"status"`
	Expired         bool   `json:"expired"`
	PriceID         string `json:"price_id"`
	NormalizedPrice string `json:"normalized_price"`
	Confidence      uint64 `json:"confidence"`
	CreatedAt       int64  `json:"created_at"`
	ExpiryTime      int64  `json:"expiry_time"`
}

func policyToResponse(p state.Policy, expired bool) policyResponse {
	return policyResponse{
		PolicyID:        p.ID,
		Holder:          p.Holder,
		InsuredToken:    p.InsuredToken,
		PaymentAsset:    p.PaymentAsset,
		CoverageAmount:  p.CoverageAmount.String(),
		Premium:         p.Premium.String(),
		Status:          p.Status.String(),
		Expired:         expired,
		PriceID:         p.Snapshot.PriceID,
		NormalizedPrice: p.Snapshot.Normalized.String(),
		Confidence:      p.Snapshot.Confidence,
		CreatedAt:       p.CreatedAt.UnixMicro(),
		ExpiryTime:      p.ExpiryTime.UnixMicro(),
	}
}

type claimResponse struct {
	ClaimID         uint64 `json:"claim_id"`
	PolicyID        uint64 `json:"policy_id"`
	Claimant        string `json:"claimant"`
	Reason          string `json:"reason"`
	RequestedAmount string `json:"requested_amount"`
	Status          string `json:"status"`
	Processed       bool   `json:"processed"`
	PayoutAmount    string `json:"payout_amount,omitempty"`
	SettleReason    string `json:"settle_reason,omitempty"`
	SubmittedAt     int64  `json:"submitted_at"`
	ProcessedAt     int64  `json:"processed_at,omitempty"`
}

func claimToResponse(c state.ClaimRequest) claimResponse {
	out := claimResponse{
		ClaimID:         c.ID,
		PolicyID:        c.PolicyID,
		Claimant:        c.Claimant,
		Reason:          c.Reason,
		RequestedAmount: c.RequestedAmount.String(),
		Status:          c.Status.String(),
		Processed:       c.Processed,
		SettleReason:    c.SettleReason,
		SubmittedAt:     c.SubmittedAt.UnixMicro(),
	}
	if c.PayoutAmount != nil {
		out.PayoutAmount = c.PayoutAmount.String()
	}
	if c.Processed {
		out.ProcessedAt = c.ProcessedAt.UnixMicro()
	}
	return out
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseAmountField(raw string) (*big.Int, bool) {
	if raw == "" {
		return nil, false
	}
	return new(big.Int).SetString(raw, 10)
}

func parseID(r *http.Request, param string) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, param), 10, 64)
	return id, err == nil
}

func (s *Server) handleFundWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Holder string `json:"holder"`
		Amount string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	amount, ok := parseAmountField(req.Amount)
	if !ok {
		s.badRequest(w, "invalid amount")
		return
	}

	balance, err := s.engine.FundWallet(r.Context(), req.Holder, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"holder":  req.Holder,
		"balance": balance.String(),
	})
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	holder := chi.URLParam(r, "holder")
	writeJSON(w, http.StatusOK, map[string]string{
		"holder":  holder,
		"asset":   s.engine.Asset(),
		"balance": s.engine.WalletBalance(holder).String(),
	})
}

func (s *Server) handleIssuePolicy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Holder          string `json:"holder"`
		InsuredToken    string `json:"insured_token"`
		PriceID         string `json:"price_id"`
		CoverageAmount  string `json:"coverage_amount"`
		DurationSeconds int64  `json:"duration_seconds"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	coverage, ok := parseAmountField(req.CoverageAmount)
	if !ok {
		s.badRequest(w, "invalid coverage_amount")
		return
	}

	policy, err := s.engine.IssuePolicy(
		r.Context(), req.Holder, req.InsuredToken, req.PriceID,
		coverage, time.Duration(req.DurationSeconds)*time.Second,
	)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, policyToResponse(policy, false))
}

func (s *Server) handleCancelPolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		s.badRequest(w, "invalid policy id")
		return
	}
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}

	policy, refund, err := s.engine.CancelPolicy(r.Context(), id, req.Caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policy": policyToResponse(policy, false),
		"refund": refund.String(),
	})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		s.badRequest(w, "invalid policy id")
		return
	}
	policy, expired, err := s.engine.GetPolicy(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policyToResponse(policy, expired))
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	holder := chi.URLParam(r, "holder")
	now := s.engine.Now()

	policies := s.engine.ListPolicies(holder)
	out := make([]policyResponse, 0, len(policies))
	for _, p := range policies {
		out = append(out, policyToResponse(p, p.IsExpired(now)))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFileClaim(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PolicyID        uint64 `json:"policy_id"`
		Claimant        string `json:"claimant"`
		Reason          string `json:"reason"`
		RequestedAmount string `json:"requested_amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	requested, ok := parseAmountField(req.RequestedAmount)
	if !ok {
		s.badRequest(w, "invalid requested_amount")
		return
	}

	claim, err := s.engine.FileClaim(r.Context(), req.PolicyID, req.Claimant, req.Reason, requested)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, claimToResponse(claim))
}

func (s *Server) handleSettleClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		s.badRequest(w, "invalid claim id")
		return
	}
	var req struct {
		Caller       string `json:"caller"`
		Approve      bool   `json:"approve"`
		PayoutAmount string `json:"payout_amount"`
		Reason       string `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}

	var payout *big.Int
	if req.Approve {
		var ok bool
		payout, ok = parseAmountField(req.PayoutAmount)
		if !ok {
			s.badRequest(w, "invalid payout_amount")
			return
		}
	}

	claim, err := s.engine.SettleClaim(r.Context(), id, req.Caller, req.Approve, payout, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claimToResponse(claim))
}

func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		s.badRequest(w, "invalid claim id")
		return
	}
	claim, err := s.engine.GetClaim(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claimToResponse(claim))
}

func (s *Server) handleListClaimsByPolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		s.badRequest(w, "invalid policy id")
		return
	}
	claims := s.engine.ListClaimsByPolicy(id)
	out := make([]claimResponse, 0, len(claims))
	for _, c := range claims {
		out = append(out, claimToResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePendingClaims(w http.ResponseWriter, r *http.Request) {
	claims := s.engine.PendingClaims()
	out := make([]claimResponse, 0, len(claims))
	for _, c := range claims {
		out = append(out, claimToResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.GetNormalizedPrice(r.Context(), chi.URLParam(r, "priceID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"price_id":         snap.PriceID,
		"price":            snap.Price,
		"exponent":         snap.Exponent,
		"confidence":       snap.Confidence,
		"normalized_price": snap.Normalized.String(),
		"publish_time":     snap.PublishTime.UnixMicro(),
	})
}

func (s *Server) handleCheckDrawdown(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if raw := q.Get("policy_id"); raw != "" {
		policyID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.badRequest(w, "invalid policy_id")
			return
		}
		bps, breached, err := s.engine.CheckDrawdown(r.Context(), policyID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"policy_id":    policyID,
			"drawdown_bps": bps,
			"breached":     breached,
		})
		return
	}

	token := q.Get("token")
	currentID := q.Get("current_price_id")
	referenceID := q.Get("reference_price_id")
	if token == "" || currentID == "" || referenceID == "" {
		s.badRequest(w, "policy_id, or token with current_price_id and reference_price_id, required")
		return
	}
	bps, breached, err := s.engine.CheckDrawdownBetween(r.Context(), token, currentID, referenceID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":              token,
		"current_price_id":   currentID,
		"reference_price_id": referenceID,
		"drawdown_bps":       bps,
		"breached":           breached,
	})
}

func (s *Server) handleGetReserve(w http.ResponseWriter, r *http.Request) {
	rs := s.engine.Reserve()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":          rs.Asset,
		"pool_balance":   rs.PoolBalance.String(),
		"seeded":         rs.Seeded.String(),
		"total_policies": rs.TotalPolicies,
		"total_coverage": rs.TotalCoverage.String(),
		"total_premiums": rs.TotalPremiums.String(),
		"total_claims":   rs.TotalClaims.String(),
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	from, _ := strconv.ParseUint(r.URL.Query().Get("from"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := s.queries.ListEvents(r.Context(), from, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	watermark, err := s.queries.Watermark(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events":    events,
		"watermark": watermark,
	})
}
