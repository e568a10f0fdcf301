package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"quantflow/database"
	"quantflow/engine"
	"quantflow/pipeline"
)

// backtestParamsRequest is the params block accepted on execution
// creation. Dates use the 2006-01-02 form.
type backtestParamsRequest struct {
	StartDate      string  `json:"start_date"`
	EndDate        string  `json:"end_date"`
	InitialCapital float64 `json:"initial_capital"`
	Fees           float64 `json:"fees"`
	Slippage       float64 `json:"slippage"`
	Exposure       float64 `json:"exposure"`
}

// createExecutionRequest is the POST /api/executions body: an inline
// graph plus backtest parameters.
type createExecutionRequest struct {
	Graph  json.RawMessage       `json:"graph"`
	Params backtestParamsRequest `json:"params"`
}

// executionResponse is the API shape of an execution's status.
type executionResponse struct {
	ID           string   `json:"id"`
	StrategyID   *string  `json:"strategy_id,omitempty"`
	Status       string   `json:"status"`
	ErrorKind    *string  `json:"error_kind,omitempty"`
	ErrorMessage *string  `json:"error_message,omitempty"`
	Logs         []string `json:"logs"`
	CreatedAt    string   `json:"created_at"`
	StartedAt    *string  `json:"started_at,omitempty"`
	CompletedAt  *string  `json:"completed_at,omitempty"`
}

func (s *Server) handleCreateExecution(w http.ResponseWriter, r *http.Request) {
	var req createExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "SchemaError", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.Graph) == 0 {
		writeError(w, http.StatusBadRequest, "SchemaError", "strategy graph is required")
		return
	}
	s.acceptExecution(w, r, nil, req.Graph, req.Params)
}

func (s *Server) handleCreateStrategyExecution(w http.ResponseWriter, r *http.Request) {
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

	var req struct {
		Params backtestParamsRequest `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "SchemaError", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	s.acceptExecution(w, r, &strategy.ID, json.RawMessage(strategy.GraphJSON), req.Params)
}

// acceptExecution validates the parameters, persists the queued record,
// and hands it to the orchestrator. Graph problems beyond well-formed
// JSON are diagnosed asynchronously by the pipeline.
func (s *Server) acceptExecution(w http.ResponseWriter, r *http.Request, strategyID *string, graphDoc json.RawMessage, reqParams backtestParamsRequest) {
	params, err := parseParams(reqParams)
	if err != nil {
		writeError(w, http.StatusBadRequest, "SchemaError", err.Error())
		return
	}
	paramsDoc, err := json.Marshal(params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to encode params")
		return
	}

	e := &database.Execution{
		ID:         uuid.NewString(),
		StrategyID: strategyID,
		Status:     pipeline.StatusQueued,
		GraphJSON:  string(graphDoc),
		ParamsJSON: string(paramsDoc),
		Logs:       fmt.Sprintf("[%s] execution queued\n", time.Now().UTC().Format(time.RFC3339)),
	}
	if err := s.executions.Create(e); err != nil {
		s.log.Error().Err(err).Msg("create execution")
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to create execution")
		return
	}

	s.launcher.Enqueue(e.ID)
	writeJSON(w, http.StatusAccepted, toExecutionResponse(e))
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	e, ok := s.loadExecution(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toExecutionResponse(e))
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	strategyID := r.URL.Query().Get("strategy_id")
	limit := queryInt(r, "limit", 50)

	executions, err := s.executions.List(status, strategyID, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("list executions")
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to list executions")
		return
	}

	out := make([]executionResponse, 0, len(executions))
	for i := range executions {
		out = append(out, toExecutionResponse(&executions[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleListStrategyExecutions lists every execution submitted against
// one saved strategy, newest first.
func (s *Server) handleListStrategyExecutions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.strategies.GetByID(id); err != nil {
		var notFound *database.NotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "", err.Error())
			return
		}
		s.log.Error().Err(err).Msg("get strategy")
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to load strategy")
		return
	}

	executions, err := s.executions.List(r.URL.Query().Get("status"), id, queryInt(r, "limit", 50))
	if err != nil {
		s.log.Error().Err(err).Msg("list strategy executions")
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to list executions")
		return
	}

	out := make([]executionResponse, 0, len(executions))
	for i := range executions {
		out = append(out, toExecutionResponse(&executions[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleExecutionStream upgrades to a websocket carrying only this
// execution's status events.
func (s *Server) handleExecutionStream(w http.ResponseWriter, r *http.Request) {
	e, ok := s.loadExecution(w, r)
	if !ok {
		return
	}
	s.broker.StreamWebSocket(w, r, e.ID)
}

// handleGetExecutionLogic serves the compiled signal spec document. It
// is not available before the generating_logic stage completes.
func (s *Server) handleGetExecutionLogic(w http.ResponseWriter, r *http.Request) {
	e, ok := s.loadExecution(w, r)
	if !ok {
		return
	}
	if e.GeneratedLogic == nil {
		writeError(w, http.StatusNotFound, string(pipeline.KindNotReadyError),
			"generated logic is not available yet")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, *e.GeneratedLogic)
}

// handleGetExecutionResult serves the stored simulation results once
// the execution completed. A pending execution yields 409, a failed one
// its recorded error.
func (s *Server) handleGetExecutionResult(w http.ResponseWriter, r *http.Request) {
	e, ok := s.loadExecution(w, r)
	if !ok {
		return
	}

	switch e.Status {
	case pipeline.StatusCompleted:
	case pipeline.StatusFailed:
		kind := string(pipeline.KindInternalError)
		msg := "execution failed"
		if e.ErrorKind != nil {
			kind = *e.ErrorKind
		}
		if e.ErrorMessage != nil {
			msg = *e.ErrorMessage
		}
		writeError(w, http.StatusConflict, kind, msg)
		return
	default:
		writeError(w, http.StatusConflict, string(pipeline.KindNotReadyError),
			fmt.Sprintf("execution is still %s", e.Status))
		return
	}

	runs, err := s.backtests.GetByExecutionID(e.ID)
	if err != nil {
		s.log.Error().Err(err).Msg("load backtest runs")
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to load results")
		return
	}

	results := make([]engine.Result, 0, len(runs))
	for _, run := range runs {
		var res engine.Result
		if err := json.Unmarshal([]byte(run.ResultJSON), &res); err != nil {
			s.log.Error().Str("run_id", run.ID).Err(err).Msg("decode stored result")
			writeError(w, http.StatusInternalServerError, "InternalError", "stored result is corrupted")
			return
		}
		results = append(results, res)
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) loadExecution(w http.ResponseWriter, r *http.Request) (*database.Execution, bool) {
	id := r.PathValue("id")
	e, err := s.executions.GetByID(id)
	if err != nil {
		var notFound *database.NotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "", err.Error())
			return nil, false
		}
		s.log.Error().Err(err).Msg("get execution")
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to load execution")
		return nil, false
	}
	return e, true
}

// parseParams converts the request params into validated engine params.
// initial_capital may be omitted: the compiler fills it from the graph's
// capital node and rejects the execution if neither source provides it.
func parseParams(req backtestParamsRequest) (engine.BacktestParams, error) {
	var params engine.BacktestParams

	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return params, fmt.Errorf("invalid start_date %q: expected YYYY-MM-DD", req.StartDate)
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		return params, fmt.Errorf("invalid end_date %q: expected YYYY-MM-DD", req.EndDate)
	}

	params = engine.BacktestParams{
		StartDate:      start,
		EndDate:        end,
		InitialCapital: req.InitialCapital,
		Fees:           req.Fees,
		Slippage:       req.Slippage,
		Exposure:       req.Exposure,
	}
	if err := params.ValidateRequest(); err != nil {
		return params, err
	}
	return params, nil
}

func toExecutionResponse(e *database.Execution) executionResponse {
	resp := executionResponse{
		ID:           e.ID,
		StrategyID:   e.StrategyID,
		Status:       e.Status,
		ErrorKind:    e.ErrorKind,
		ErrorMessage: e.ErrorMessage,
		Logs:         splitLogs(e.Logs),
		CreatedAt:    e.CreatedAt.UTC().Format(time.RFC3339),
	}
	if e.StartedAt != nil {
		v := e.StartedAt.UTC().Format(time.RFC3339)
		resp.StartedAt = &v
	}
	if e.CompletedAt != nil {
		v := e.CompletedAt.UTC().Format(time.RFC3339)
		resp.CompletedAt = &v
	}
	return resp
}

func splitLogs(logs string) []string {
	lines := strings.Split(strings.TrimRight(logs, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return []string{}
	}
	return lines
}
