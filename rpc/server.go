package rpc

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lendledger/native/lending"
	"lendledger/observability"
)

const requestLimit = 1 << 20 // 1 MiB

// StateCommitter flushes or discards the state changes an engine operation
// staged. The server commits after every successful mutation and discards
// after failures, so half-applied operations never reach disk.
type StateCommitter interface {
	Commit() error
	Discard()
}

type noopCommitter struct{}

func (noopCommitter) Commit() error { return nil }
func (noopCommitter) Discard()      {}

// Server exposes the lending engine over HTTP.
type Server struct {
	mu        sync.Mutex
	engine    *lending.Engine
	committer StateCommitter
	logger    *slog.Logger
	metrics   *observability.LedgerMetrics

	// Clock feeds the engine's logical timestamp before every operation.
	Clock func() time.Time
}

func NewServer(engine *lending.Engine, committer StateCommitter, logger *slog.Logger) *Server {
	if committer == nil {
		committer = noopCommitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:    engine,
		committer: committer,
		logger:    logger,
		metrics:   observability.Ledger(),
		Clock:     time.Now,
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/lending", func(lr chi.Router) {
		lr.Get("/markets", s.handleListMarkets)
		lr.Post("/markets/register", s.handleRegisterMarket)
		lr.Post("/markets/deregister", s.handleDeregisterMarket)
		lr.Post("/markets/freeze", s.handleFreezeMarket)
		lr.Post("/markets/unfreeze", s.handleUnfreezeMarket)

		lr.Post("/collateral/deposit", s.handleDepositCollateral)
		lr.Post("/collateral/withdraw", s.handleWithdrawCollateral)

		lr.Post("/loans/borrow", s.handleBorrow)
		lr.Post("/loans/repay", s.handleRepay)

		lr.Post("/positions/get", s.handleGetPosition)
		lr.Post("/positions/health", s.handleHealthFactor)

		lr.Get("/pool", s.handlePoolBalance)
		lr.Post("/pool/lend", s.handleLend)
		lr.Post("/pool/withdraw", s.handleWithdrawLent)
		lr.Post("/pool/yield", s.handleCalculateYield)
		lr.Post("/pool/yield/withdraw", s.handleWithdrawYield)
		lr.Post("/lenders/get", s.handleLenderState)

		lr.Post("/liquidations/specs", s.handlePartialSpecs)
		lr.Post("/liquidations/full", s.handleFullLiquidation)
		lr.Post("/liquidations/partial", s.handlePartialLiquidation)
	})

	return r
}

// mutate serializes a state-changing engine call with its commit, so two
// HTTP requests can never interleave staged writes.
func (s *Server) mutate(op string, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick()
	if err := fn(); err != nil {
		s.committer.Discard()
		return err
	}
	if err := s.committer.Commit(); err != nil {
		s.logger.Error("state commit failed", "operation", op, "error", err)
		return err
	}
	return nil
}

// query runs a read-only engine call under the same lock so it observes
// committed state only.
func (s *Server) query(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick()
	err := fn()
	s.committer.Discard()
	return err
}

func (s *Server) tick() {
	clock := s.Clock
	if clock == nil {
		clock = time.Now
	}
	now := clock().Unix()
	if now < 0 {
		now = 0
	}
	s.engine.SetTimestamp(uint64(now))
}

func (s *Server) observe(op string, status int, started time.Time) {
	s.metrics.Observe(op, status, time.Since(started))
	if status >= 400 {
		s.logger.Warn("operation rejected", "operation", op, "status", status)
	}
}
