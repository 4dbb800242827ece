package server

import (
	"net/http"
	"time"

	"CoverLedger/internal/state"
)

func (s *Server) handleSetTokenSupport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller    string `json:"caller"`
		Token     string `json:"token"`
		Supported bool   `json:"supported"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if err := s.engine.SetTokenSupport(req.Caller, req.Token, req.Supported); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":     req.Token,
		"supported": req.Supported,
	})
}

func (s *Server) handleSetPriceIDSupport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller    string `json:"caller"`
		PriceID   string `json:"price_id"`
		Supported bool   `json:"supported"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if err := s.engine.SetPriceIDSupport(req.Caller, req.PriceID, req.Supported); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"price_id":  req.PriceID,
		"supported": req.Supported,
	})
}

func (s *Server) handleSetPremiumRates(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller      string `json:"caller"`
		BaseRateBps int64  `json:"base_rate_bps"`
		MinRateBps  int64  `json:"min_rate_bps"`
		MaxRateBps  int64  `json:"max_rate_bps"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	rates := state.PremiumRates{
		BaseRateBps: req.BaseRateBps,
		MinRateBps:  req.MinRateBps,
		MaxRateBps:  req.MaxRateBps,
	}
	if err := s.engine.SetPremiumRates(req.Caller, rates); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rates)
}

func (s *Server) handleSetDrawdownThreshold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller       string `json:"caller"`
		Token        string `json:"token"`
		ThresholdBps int64  `json:"threshold_bps"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if err := s.engine.SetDrawdownThreshold(req.Caller, req.Token, req.ThresholdBps); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":         req.Token,
		"threshold_bps": req.ThresholdBps,
	})
}

func (s *Server) handleSetFeedParams(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller        string `json:"caller"`
		MaxAgeSeconds int64  `json:"max_age_seconds"`
		MinConfidence uint64 `json:"min_confidence"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	maxAge := time.Duration(req.MaxAgeSeconds) * time.Second
	if err := s.engine.SetOracleParams(req.Caller, maxAge, req.MinConfidence); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"max_age_seconds": req.MaxAgeSeconds,
		"min_confidence":  req.MinConfidence,
	})
}

func (s *Server) handleSeedReserve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		Funder string `json:"funder"`
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
	if err := s.engine.AdminGate(req.Caller); err != nil {
		s.writeError(w, err)
		return
	}

	pool, err := s.engine.SeedReserve(r.Context(), req.Funder, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":        s.engine.Asset(),
		"pool_balance": pool.String(),
	})
}
