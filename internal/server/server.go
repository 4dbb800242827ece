// Package server exposes the ledger over HTTP/JSON.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"CoverLedger/internal/core"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/query"
)

// Server wires the engine and query service into a chi router.
type Server struct {
	engine  *core.Engine
	queries *query.Service
	health  *observability.HealthChecker
	idem    *core.IdempotencyChecker
	metrics *observability.Metrics
	logger  zerolog.Logger
	http    *http.Server
}

func New(
	addr string,
	engine *core.Engine,
	queries *query.Service,
	health *observability.HealthChecker,
	idem *core.IdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		engine:  engine,
		queries: queries,
		health:  health,
		idem:    idem,
		metrics: metrics,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", health.LivenessHandler)
	r.Get("/readyz", health.ReadinessHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/wallets/fund", s.idempotent(s.handleFundWallet))
		r.Get("/wallets/{holder}", s.handleGetWallet)

		r.Post("/policies", s.idempotent(s.handleIssuePolicy))
		r.Post("/policies/{id}/cancel", s.idempotent(s.handleCancelPolicy))
		r.Get("/policies/{id}", s.handleGetPolicy)
		r.Get("/policies/{id}/claims", s.handleListClaimsByPolicy)
		r.Get("/holders/{holder}/policies", s.handleListPolicies)

		r.Post("/claims", s.idempotent(s.handleFileClaim))
		r.Post("/claims/{id}/settle", s.idempotent(s.handleSettleClaim))
		r.Get("/claims/pending", s.handlePendingClaims)
		r.Get("/claims/{id}", s.handleGetClaim)

		r.Get("/prices/{priceID}", s.handleGetPrice)
		r.Get("/drawdown", s.handleCheckDrawdown)
		r.Get("/reserve", s.handleGetReserve)
		r.Get("/events", s.handleListEvents)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/tokens", s.handleSetTokenSupport)
			r.Post("/price-ids", s.handleSetPriceIDSupport)
			r.Post("/rates", s.handleSetPremiumRates)
			r.Post("/thresholds", s.handleSetDrawdownThreshold)
			r.Post("/feed-params", s.handleSetFeedParams)
			r.Post("/reserve/seed", s.idempotent(s.handleSeedReserve))
		})
	})

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("http server listening")
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
