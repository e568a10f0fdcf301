// Package api exposes the strategy execution pipeline over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"quantflow/database"
	"quantflow/marketdata"
	"quantflow/realtime"
)

// ExecutionLauncher starts the pipeline for a persisted execution.
// *pipeline.Orchestrator satisfies it.
type ExecutionLauncher interface {
	Enqueue(executionID string)
}

// StrategyStore is the persistence surface the strategy handlers need.
// *database.StrategyRepository satisfies it.
type StrategyStore interface {
	Create(s *database.Strategy) error
	GetByID(id string) (*database.Strategy, error)
	List(limit int) ([]database.Strategy, error)
}

// ExecutionStore is the persistence surface the execution handlers need.
// *database.ExecutionRepository satisfies it.
type ExecutionStore interface {
	Create(e *database.Execution) error
	GetByID(id string) (*database.Execution, error)
	List(status, strategyID string, limit int) ([]database.Execution, error)
}

// BacktestStore serves stored simulation results.
// *database.BacktestRepository satisfies it.
type BacktestStore interface {
	GetByExecutionID(executionID string) ([]database.BacktestRun, error)
}

// Server handles HTTP API requests
type Server struct {
	strategies StrategyStore
	executions ExecutionStore
	backtests  BacktestStore
	launcher   ExecutionLauncher
	broker     *realtime.Broker
	log        zerolog.Logger
	httpServer *http.Server
}

// NewServer creates a new API server instance
func NewServer(db *database.DB, launcher ExecutionLauncher, broker *realtime.Broker, logger zerolog.Logger) *Server {
	return &Server{
		strategies: db.Strategies(),
		executions: db.Executions(),
		backtests:  db.Backtests(),
		launcher:   launcher,
		broker:     broker,
		log:        logger.With().Str("component", "api").Logger(),
	}
}

// Handler builds the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Strategy routes
	mux.HandleFunc("POST /api/strategies", s.handleCreateStrategy)
	mux.HandleFunc("GET /api/strategies", s.handleListStrategies)
	mux.HandleFunc("GET /api/strategies/{id}", s.handleGetStrategy)
	mux.HandleFunc("POST /api/strategies/{id}/executions", s.handleCreateStrategyExecution)
	mux.HandleFunc("GET /api/strategies/{id}/executions", s.handleListStrategyExecutions)

	// Execution routes
	mux.HandleFunc("POST /api/executions", s.handleCreateExecution)
	mux.HandleFunc("GET /api/executions", s.handleListExecutions)
	mux.HandleFunc("GET /api/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("GET /api/executions/{id}/logic", s.handleGetExecutionLogic)
	mux.HandleFunc("GET /api/executions/{id}/result", s.handleGetExecutionResult)
	mux.HandleFunc("GET /api/executions/{id}/stream", s.handleExecutionStream)

	// Realtime streams
	mux.Handle("GET /api/events", s.broker) // SSE endpoint
	mux.HandleFunc("GET /api/events/ws", s.broker.HandleWebSocket)

	mux.HandleFunc("GET /api/categories", s.handleListCategories)
	mux.HandleFunc("GET /health", s.handleHealth)

	return s.corsMiddleware(s.loggingMiddleware(mux))
}

// Start starts the HTTP server on the specified port
func (s *Server) Start(port int) error {
	serverAddr := fmt.Sprintf("0.0.0.0:%d", port)
	s.httpServer = &http.Server{
		Addr:    serverAddr,
		Handler: s.Handler(),
	}
	s.log.Info().Str("addr", serverAddr).Msg("api server starting")
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("elapsed", time.Since(start)).Msg("request")
	})
}

// handleListCategories reports the traded categories strategies can
// reference.
func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{
		"categories": marketdata.SupportedCategories(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
