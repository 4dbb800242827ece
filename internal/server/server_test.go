package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"CoverLedger/internal/core"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/oracle"
	"CoverLedger/internal/query"
)

const (
	testAuthority = "authority-1"
	testPriceID   = "sol-usd"
)

func newTestServer(t *testing.T) (*Server, *oracle.CacheFeed) {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)

	feed := oracle.NewCacheFeed()
	feed.Update(oracle.Quote{
		PriceID:     testPriceID,
		Price:       200_000_000_000,
		Confidence:  5000,
		Exponent:    -8,
		PublishTime: now,
	})
	gateway := oracle.NewGateway(feed, time.Minute, 1000)
	gateway.SetPriceIDSupport(testPriceID, true)
	gateway.SetClock(func() time.Time { return now })

	engine := core.NewEngine("USDC", testAuthority, gateway, nil, nil, nil)
	engine.SetClock(func() time.Time { return now })
	if err := engine.SetTokenSupport(testAuthority, "SOL", true); err != nil {
		t.Fatalf("set token support: %v", err)
	}

	health := observability.NewHealthChecker()
	health.SetReady(true)

	idem := core.NewIdempotencyChecker(128, nil)
	return New(":0", engine, query.NewService(nil, nil), health, idem, nil, zerolog.Nop()), feed
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func seedAndFund(t *testing.T, s *Server) {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/api/v1/admin/reserve/seed",
		`{"caller":"authority-1","funder":"lp-1","amount":"10000000000000000000000"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("seed reserve: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, s, http.MethodPost, "/api/v1/wallets/fund",
		`{"holder":"alice","amount":"100000000000000000000"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("fund wallet: %d %s", rec.Code, rec.Body.String())
	}
}

func issuePolicy(t *testing.T, s *Server) map[string]interface{} {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/api/v1/policies",
		`{"holder":"alice","insured_token":"SOL","price_id":"sol-usd",
		  "coverage_amount":"1000000000000000000000","duration_seconds":2592000}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("issue policy: %d %s", rec.Code, rec.Body.String())
	}
	return decodeMap(t, rec)
}

func TestIssuePolicyEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	seedAndFund(t, s)

	policy := issuePolicy(t, s)
	if policy["status"] != "active" {
		t.Errorf("status = %v, want active", policy["status"])
	}
	if policy["premium"] != "22252320000000000000" {
		t.Errorf("premium = %v", policy["premium"])
	}

	rec := doJSON(t, s, http.MethodGet, "/api/v1/policies/1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get policy: %d", rec.Code)
	}
	got := decodeMap(t, rec)
	if got["holder"] != "alice" || got["expired"] != false {
		t.Errorf("policy = %v", got)
	}
}

func TestIssuePolicyValidation(t *testing.T) {
	s, _ := newTestServer(t)
	seedAndFund(t, s)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unsupported token", `{"holder":"alice","insured_token":"DOGE","price_id":"sol-usd","coverage_amount":"1000","duration_seconds":3600}`, http.StatusBadRequest},
		{"unknown price id", `{"holder":"alice","insured_token":"SOL","price_id":"doge-usd","coverage_amount":"1000","duration_seconds":3600}`, http.StatusBadRequest},
		{"bad coverage", `{"holder":"alice","insured_token":"SOL","price_id":"sol-usd","coverage_amount":"abc","duration_seconds":3600}`, http.StatusBadRequest},
		{"malformed body", `{"holder":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/api/v1/policies", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestCancelAuthorization(t *testing.T) {
	s, _ := newTestServer(t)
	seedAndFund(t, s)
	issuePolicy(t, s)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/policies/1/cancel", `{"caller":"mallory"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("stranger cancel = %d, want 403", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/policies/1/cancel", `{"caller":"alice"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("holder cancel = %d %s", rec.Code, rec.Body.String())
	}

	// Terminal: second cancel conflicts.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/policies/1/cancel", `{"caller":"alice"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("double cancel = %d, want 409", rec.Code)
	}
}

func TestClaimLifecycleEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	seedAndFund(t, s)
	issuePolicy(t, s)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/claims",
		`{"policy_id":1,"claimant":"alice","reason":"depeg","requested_amount":"500000000000000000000"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("file claim: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/claims/pending", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"claim_id":1`) {
		t.Errorf("pending = %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/claims/1/settle",
		`{"caller":"mallory","approve":true,"payout_amount":"500000000000000000000","reason":"x"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("stranger settle = %d, want 403", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/claims/1/settle",
		`{"caller":"authority-1","approve":true,"payout_amount":"500000000000000000000","reason":"verified"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("settle: %d %s", rec.Code, rec.Body.String())
	}
	got := decodeMap(t, rec)
	if got["status"] != "approved" || got["processed"] != true {
		t.Errorf("settled claim = %v", got)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/claims/1/settle",
		`{"caller":"authority-1","approve":false,"reason":"again"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("double settle = %d, want 409", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/policies/1", "")
	if got := decodeMap(t, rec); got["status"] != "claimed" {
		t.Errorf("policy after payout = %v, want claimed", got["status"])
	}
}

func TestPriceAndReserveEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	seedAndFund(t, s)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/prices/sol-usd", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get price: %d", rec.Code)
	}
	if got := decodeMap(t, rec); got["normalized_price"] != "2000000000000000000000" {
		t.Errorf("normalized = %v", got["normalized_price"])
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/prices/doge-usd", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown price id = %d, want 400", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/reserve", "")
	if got := decodeMap(t, rec); got["pool_balance"] != "10000000000000000000000" {
		t.Errorf("pool = %v", got["pool_balance"])
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/drawdown", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("drawdown without selectors = %d, want 400", rec.Code)
	}
}

func TestDrawdownBetweenEndpoint(t *testing.T) {
	s, feed := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/admin/price-ids",
		`{"caller":"authority-1","price_id":"sol-usd-daily-open","supported":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("enable reference id: %d %s", rec.Code, rec.Body.String())
	}
	feed.Update(oracle.Quote{
		PriceID:     "sol-usd-daily-open",
		Price:       250_000_000_000,
		Confidence:  5000,
		Exponent:    -8,
		PublishTime: time.Unix(1_700_000_000, 0),
	})

	rec = doJSON(t, s, http.MethodGet,
		"/api/v1/drawdown?token=SOL&current_price_id=sol-usd&reference_price_id=sol-usd-daily-open", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("drawdown between: %d %s", rec.Code, rec.Body.String())
	}
	got := decodeMap(t, rec)
	if got["drawdown_bps"] != float64(2000) || got["breached"] != true {
		t.Errorf("drawdown = %v", got)
	}

	rec = doJSON(t, s, http.MethodGet,
		"/api/v1/drawdown?token=DOGE&current_price_id=sol-usd&reference_price_id=sol-usd-daily-open", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unsupported token = %d, want 400", rec.Code)
	}
}

func TestIdempotencyKeyRejectsReplay(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"holder":"alice","amount":"100000000000000000000"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/wallets/fund", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "fund-alice-001")
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first fund: %d %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/wallets/fund", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "fund-alice-001")
	rec = httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("replayed fund: %d, want 409", rec.Code)
	}

	// Balance credited exactly once.
	check := doJSON(t, s, http.MethodGet, "/api/v1/wallets/alice", "")
	if got := decodeMap(t, check); got["balance"] != "100000000000000000000" {
		t.Errorf("balance = %v", got["balance"])
	}

	// A fresh key is a fresh request.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/wallets/fund", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "fund-alice-002")
	rec = httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("second key: %d", rec.Code)
	}
}

func TestAdminGateEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/admin/tokens",
		`{"caller":"mallory","token":"ETH","supported":true}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("stranger admin = %d, want 403", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/admin/rates",
		`{"caller":"authority-1","base_rate_bps":300,"min_rate_bps":200,"max_rate_bps":600}`)
	if rec.Code != http.StatusOK {
		t.Errorf("set rates = %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
}

func TestNotFoundMapping(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/policies/99", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing policy = %d, want 404", rec.Code)
	}
	rec = doJSON(t, s, http.MethodGet, "/api/v1/claims/99", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing claim = %d, want 404", rec.Code)
	}
}
