package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"CoverLedger/internal/ledger"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps typed ledger errors onto HTTP statuses. Unknown errors are
// internal.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrPolicyNotFound),
		errors.Is(err, ledger.ErrClaimNotFound):
		return http.StatusNotFound

	case errors.Is(err, ledger.ErrUnauthorized),
		errors.Is(err, ledger.ErrUnauthorizedClaimant):
		return http.StatusForbidden

	case errors.Is(err, ledger.ErrClaimAlreadyProcessed),
		errors.Is(err, ledger.ErrPolicyNotActive),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrDuplicateRequest):
		return http.StatusConflict

	case errors.Is(err, ledger.ErrPolicyExpired),
		errors.Is(err, ledger.ErrPriceStale),
		errors.Is(err, ledger.ErrPriceConfidenceTooLow):
		return http.StatusUnprocessableEntity

	case errors.Is(err, ledger.ErrInvalidTokenAddress),
		errors.Is(err, ledger.ErrUnsupportedToken),
		errors.Is(err, ledger.ErrUnsupportedAsset),
		errors.Is(err, ledger.ErrInvalidCoverageAmount),
		errors.Is(err, ledger.ErrInvalidDuration),
		errors.Is(err, ledger.ErrInvalidPremium),
		errors.Is(err, ledger.ErrInvalidPriceID),
		errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("internal error")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// idempotent guards a mutating handler with the duplicate checker. Keys are
// scoped to the request path and marked only after a successful response, so
// a failed attempt stays retryable under the same key.
func (s *Server) idempotent(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" || s.idem == nil {
			next(w, r)
			return
		}

		scope := r.URL.Path
		if s.idem.IsDuplicate(scope, key) {
			s.writeError(w, fmt.Errorf("%w: %s", ledger.ErrDuplicateRequest, key))
			return
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		if sw.status < http.StatusBadRequest {
			s.idem.MarkProcessed(scope, key)
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
