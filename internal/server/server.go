// Package server exposes the command and query surface over HTTP. Commands
// carry an Idempotency-Key header and are funneled into the engine loop;
// queries go through the query service so they observe a consistent ledger.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"CDPLedger/internal/core"
	fpmath "CDPLedger/internal/math"
	"CDPLedger/internal/observability"
	"CDPLedger/internal/oracle"
	"CDPLedger/internal/persistence"
	"CDPLedger/internal/query"
	"CDPLedger/internal/sorted"
	"CDPLedger/internal/state"
	"CDPLedger/internal/token"
	"CDPLedger/internal/vault"
)

type Config struct {
	Engine  *core.Engine
	Query   *query.Service
	Health  *observability.HealthChecker
	Metrics *observability.Metrics
	Logger  zerolog.Logger

	// Events is optional; the event range endpoint 404s without it.
	Events *persistence.EventLogWriter
}

type Server struct {
	engine  *core.Engine
	query   *query.Service
	health  *observability.HealthChecker
	metrics *observability.Metrics
	logger  zerolog.Logger
	events  *persistence.EventLogWriter

	router http.Handler
}

func New(cfg Config) *Server {
	s := &Server{
		engine:  cfg.Engine,
		query:   cfg.Query,
		health:  cfg.Health,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		events:  cfg.Events,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Post("/collateral/fund", s.handleFundCollateral)
		api.Post("/positions", s.handleOpenPosition)
		api.Post("/positions/{owner}/adjust", s.handleAdjustPosition)
		api.Post("/positions/{owner}/close", s.handleClosePosition)
		api.Post("/positions/{owner}/liquidate", s.handleLiquidate)
		api.Post("/liquidations/batch", s.handleBatchLiquidate)
		api.Post("/redemptions", s.handleRedeem)
		api.Post("/positions/{owner}/delegates", s.handleWhitelistDelegate)

		api.Post("/admin/global-delegates", s.handleSetGlobalDelegate)
		api.Post("/admin/borrowing-spread", s.handleSetBorrowingSpread)
		api.Post("/admin/liquidation-protocol-fee", s.handleSetLiquidationProtocolFee)

		api.Get("/positions/{owner}", s.handleGetPosition)
		api.Get("/system", s.handleGetSystem)
		api.Get("/hints", s.handleGetHints)
		api.Get("/positions", s.handleGetSortedOwners)
		api.Get("/balances/{holder}", s.handleGetBalances)
		if s.events != nil {
			api.Get("/events", s.handleGetEvents)
		}
	})
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

// statusFor maps domain errors onto HTTP status codes: 4xx for anything the
// caller can fix, 503 when a dependency (oracle) is unavailable.
func statusFor(err error) int {
	switch {
	case errors.Is(err, query.ErrPositionNotFound),
		errors.Is(err, state.ErrPositionNotActive):
		return http.StatusNotFound

	case errors.Is(err, state.ErrPositionExists):
		return http.StatusConflict

	case errors.Is(err, state.ErrDelegateNotWhitelisted):
		return http.StatusForbidden

	case errors.Is(err, state.ErrAmountIsZero),
		errors.Is(err, state.ErrZeroDebtChange),
		errors.Is(err, state.ErrNotSingularCollateralChange),
		errors.Is(err, state.ErrNoCollateralOrDebtChange),
		errors.Is(err, state.ErrMaxFeeOutOfRange),
		errors.Is(err, state.ErrBorrowingSpreadExceedsMax),
		errors.Is(err, state.ErrLiquidationProtocolFeeOutOfBound),
		errors.Is(err, state.ErrInvalidDelegate),
		errors.Is(err, core.ErrMissingIdempotencyKey),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest

	case errors.Is(err, state.ErrNetDebtBelowMinimum),
		errors.Is(err, state.ErrICRBelowMCR),
		errors.Is(err, state.ErrRepayExceedsDebt),
		errors.Is(err, state.ErrRepayInsufficientBalance),
		errors.Is(err, state.ErrRedemptionExceedsBalance),
		errors.Is(err, state.ErrWithdrawExceedsCollateral),
		errors.Is(err, state.ErrOnlyOnePositionInSystem),
		errors.Is(err, state.ErrNothingToLiquidate),
		errors.Is(err, state.ErrUnableToRedeemAnyAmount),
		errors.Is(err, state.ErrFeeExceedsMaxFee),
		errors.Is(err, state.ErrFeeEatsUpAllReturnedCollateral),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, vault.ErrInsufficientBalance),
		errors.Is(err, fpmath.ErrArithmeticOverflow),
		errors.Is(err, sorted.ErrListFull):
		return http.StatusUnprocessableEntity

	case errors.Is(err, oracle.ErrNoPrice):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
