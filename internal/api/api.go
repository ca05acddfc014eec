// Package api serves pool operations as HTTP JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"liquidity-pool/internal/domain"
	"liquidity-pool/internal/ledger"
	"liquidity-pool/internal/lifecycle"
	"liquidity-pool/internal/logging"
	"liquidity-pool/internal/observability"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// PoolService is the subset of lifecycle.Service the API calls.
type PoolService interface {
	InitializePool(ctx context.Context, req lifecycle.InitPoolRequest) (*domain.PoolState, error)
	Deposit(ctx context.Context, req domain.DepositRequest) (*domain.DepositReceipt, error)
	GetPool(ctx context.Context, id domain.Identity) (*domain.PoolState, error)
	ListPools(ctx context.Context) ([]*domain.PoolState, error)
	ListDeposits(ctx context.Context, poolID domain.Identity) ([]*domain.DepositRecord, error)
}

var _ PoolService = (*lifecycle.Service)(nil)

// Server routes HTTP requests to a PoolService.
type Server struct {
	svc     PoolService
	logger  *zap.Logger
	mux     *http.ServeMux
	started time.Time
}

// NewServer creates the HTTP API. Extra handlers, such as the in-process ledger
// endpoint, can be mounted with Handle.
func NewServer(svc PoolService, logger *zap.Logger) *Server {
	s := &Server{
		svc:     svc,
		logger:  logging.OrNop(logger).Named("api"),
		mux:     http.NewServeMux(),
		started: time.Now(),
	}

	s.mux.HandleFunc("POST /pools", s.handleInitPool)
	s.mux.HandleFunc("GET /pools", s.handleListPools)
	s.mux.HandleFunc("GET /pools/{id}", s.handleGetPool)
	s.mux.HandleFunc("POST /pools/{id}/deposits", s.handleDeposit)
	s.mux.HandleFunc("GET /pools/{id}/deposits", s.handleListDeposits)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", observability.Handler())
	return s
}

// Handle mounts an additional handler.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// HealthResponse is the JSON response of /health.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleInitPool(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.InitPoolRequest
	if !s.decode(w, r, &req) {
		return
	}
	pool, err := s.svc.InitializePool(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pool)
}

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.svc.ListPools(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pools)
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	id, ok := s.poolID(w, r)
	if !ok {
		return
	}
	pool, err := s.svc.GetPool(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// depositBody is the body of POST /pools/{id}/deposits. The pool comes from the path.
type depositBody struct {
	Depositor   domain.Identity `json:"depositor"`
	AmountA     uint64          `json:"amount_a"`
	AmountB     uint64          `json:"amount_b"`
	MinLPTokens uint64          `json:"min_lp_tokens"`
	FeedIDA     string          `json:"price_feed_id_a"`
	FeedIDB     string          `json:"price_feed_id_b"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	id, ok := s.poolID(w, r)
	if !ok {
		return
	}
	var body depositBody
	if !s.decode(w, r, &body) {
		return
	}
	receipt, err := s.svc.Deposit(r.Context(), domain.DepositRequest{
		PoolID:      id,
		Depositor:   body.Depositor,
		AmountA:     body.AmountA,
		AmountB:     body.AmountB,
		MinLPTokens: body.MinLPTokens,
		FeedIDA:     body.FeedIDA,
		FeedIDB:     body.FeedIDB,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleListDeposits(w http.ResponseWriter, r *http.Request) {
	id, ok := s.poolID(w, r)
	if !ok {
		return
	}
	deposits, err := s.svc.ListDeposits(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deposits)
}

func (s *Server) poolID(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	id, err := domain.ParseIdentity(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: pool id: %v", domain.ErrInvalidInput, err))
		return domain.Identity{}, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: decode body: %v", domain.ErrInvalidInput, err))
		return false
	}
	return true
}

// ErrorResponse is the JSON body of every failed request. Deposit failures
// carry the stage and the values computed before the failure.
type ErrorResponse struct {
	Error       string              `json:"error"`
	Message     string              `json:"message"`
	Stage       domain.DepositStage `json:"stage,omitempty"`
	Value       uint64              `json:"value,omitempty"`
	Shares      uint64              `json:"shares,omitempty"`
	MinLPTokens uint64              `json:"min_lp_tokens,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, tag := Classify(err)
	resp := ErrorResponse{Error: tag, Message: err.Error()}
	var depErr *domain.DepositError
	if errors.As(err, &depErr) {
		resp.Stage = depErr.Stage
		resp.Value = depErr.Value
		resp.Shares = depErr.Shares
		resp.MinLPTokens = depErr.MinLPTokens
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("error_tag", tag),
			zap.Error(err))
	} else {
		s.logger.Debug("request rejected",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("error_tag", tag),
			zap.Error(err))
	}
	writeJSON(w, status, resp)
}

// Classify maps an error to its HTTP status and stable tag.
func Classify(err error) (int, string) {
	tag := domain.ErrorTag(err)
	switch tag {
	case "invalid_input", "invalid_feed", "invalid_deposit_value", "invalid_price", "invalid_config", "invalid_mint_authority":
		return http.StatusBadRequest, tag
	case "pool_not_found":
		return http.StatusNotFound, tag
	case "pool_already_exists", "concurrent_modification", "pool_inactive":
		return http.StatusConflict, tag
	case "slippage_exceeded":
		return http.StatusPreconditionFailed, tag
	case "stale_price", "math_overflow":
		return http.StatusUnprocessableEntity, tag
	case "compensation_failed":
		return http.StatusBadGateway, tag
	}

	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusUnprocessableEntity, "account_not_found"
	}
	var depErr *domain.DepositError
	if errors.As(err, &depErr) && (depErr.Stage == domain.StageTransfer || depErr.Stage == domain.StageMint) {
		return http.StatusBadGateway, "ledger_error"
	}
	return http.StatusInternalServerError, tag
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
