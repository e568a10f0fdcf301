package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"quantflow/database"
	"quantflow/graph"
)

// createStrategyRequest is the POST /api/strategies body.
type createStrategyRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Graph       json.RawMessage `json:"graph"`
}

// strategyResponse is the API shape of a saved strategy.
type strategyResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Graph       json.RawMessage `json:"graph"`
	CreatedAt   string          `json:"created_at"`
}

func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	var req createStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "SchemaError", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "SchemaError", "strategy name is required")
		return
	}
	if len(req.Graph) == 0 {
		writeError(w, http.StatusBadRequest, "SchemaError", "strategy graph is required")
		return
	}

	// Saved strategies are validated eagerly so a broken graph is
	// rejected at save time, not at first execution.
	var g graph.Graph
	if err := json.Unmarshal(req.Graph, &g); err != nil {
		writeError(w, http.StatusBadRequest, "SchemaError", fmt.Sprintf("malformed graph document: %v", err))
		return
	}
	if _, err := graph.Validate(g); err != nil {
		writeError(w, http.StatusBadRequest, "SchemaError", err.Error())
		return
	}

	strategy := &database.Strategy{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		GraphJSON:   string(req.Graph),
	}
	if err := s.strategies.Create(strategy); err != nil {
		s.log.Error().Err(err).Msg("create strategy")
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to save strategy")
		return
	}

	writeJSON(w, http.StatusCreated, toStrategyResponse(strategy))
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	strategy, err := s.strategies.GetByID(id)
	if err != nil {
		var notFound *database.NotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "", err.Error())
			return
		}
		s.log.Error().Err(err).Msg("get strategy")
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to load strategy")
		return
	}
	writeJSON(w, http.StatusOK, toStrategyResponse(strategy))
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	strategies, err := s.strategies.List(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("list strategies")
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to list strategies")
		return
	}

	out := make([]strategyResponse, 0, len(strategies))
	for i := range strategies {
		out = append(out, toStrategyResponse(&strategies[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func toStrategyResponse(s *database.Strategy) strategyResponse {
	return strategyResponse{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		Graph:       json.RawMessage(s.GraphJSON),
		CreatedAt:   s.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
