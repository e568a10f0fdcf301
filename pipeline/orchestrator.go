package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quantflow/cache"
	"quantflow/compiler"
	"quantflow/database"
	"quantflow/engine"
	"quantflow/graph"
	"quantflow/marketdata"
	"quantflow/sandbox"
)

// EventChannel is the pub/sub channel execution status events are
// published on.
const EventChannel = "executions:events"

// Store is the persistence surface the orchestrator needs for execution
// records. *database.ExecutionRepository satisfies it.
type Store interface {
	Update(e *database.Execution) error
	GetByID(id string) (*database.Execution, error)
}

// BacktestSaver persists completed simulation results.
// *database.BacktestRepository satisfies it.
type BacktestSaver interface {
	Create(b *database.BacktestRun) error
}

// Runner executes a compiled spec against a price series in isolation.
// *sandbox.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, specDoc []byte, prices []engine.PricePoint) ([]engine.Result, error)
}

// Publisher broadcasts execution status events. *cache.RedisClient
// satisfies it; a nil publisher disables broadcasting.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// SpecCache serves previously compiled spec documents. *cache.SpecCache
// satisfies it; a nil cache means every execution compiles fresh.
type SpecCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, doc []byte) error
}

// StatusEvent is the pub/sub payload emitted on every stage transition.
type StatusEvent struct {
	ExecutionID string    `json:"execution_id"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Orchestrator drives executions through the pipeline stages. Each
// accepted execution runs on its own goroutine; a semaphore bounds how
// many run concurrently.
type Orchestrator struct {
	store     Store
	backtests BacktestSaver
	runner    Runner
	provider  marketdata.Provider
	specCache SpecCache
	publisher Publisher
	sem       chan struct{}
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	log       zerolog.Logger
}

// New builds an orchestrator. maxConcurrent bounds simultaneous
// executions; specCache and publisher may be nil.
func New(store Store, backtests BacktestSaver, runner Runner, provider marketdata.Provider,
	specCache SpecCache, publisher Publisher, maxConcurrent int, logger zerolog.Logger) *Orchestrator {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		ctx:       ctx,
		cancel:    cancel,
		store:     store,
		backtests: backtests,
		runner:    runner,
		provider:  provider,
		specCache: specCache,
		publisher: publisher,
		sem:       make(chan struct{}, maxConcurrent),
		log:       logger.With().Str("component", "pipeline").Logger(),
	}
}

// Enqueue starts the pipeline for an already-persisted queued execution.
// It returns immediately; progress is observable through the execution
// record and the event channel. The pipeline run outlives the request
// that accepted it and stops only on Shutdown.
func (o *Orchestrator) Enqueue(executionID string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		select {
		case o.sem <- struct{}{}:
			defer func() { <-o.sem }()
		case <-o.ctx.Done():
			return
		}
		o.execute(o.ctx, executionID)
	}()
}

// Shutdown cancels in-flight executions and waits for their goroutines
// to drain.
func (o *Orchestrator) Shutdown() {
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) execute(ctx context.Context, executionID string) {
	e, err := o.store.GetByID(executionID)
	if err != nil {
		o.log.Error().Str("execution_id", executionID).Err(err).Msg("load execution")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Str("execution_id", e.ID).Interface("panic", r).Msg("pipeline panic")
			o.fail(ctx, e, &StageError{
				Kind:    KindInternalError,
				Stage:   e.Status,
				Message: fmt.Sprintf("internal error: %v", r),
			})
		}
	}()

	if stageErr := o.runStages(ctx, e); stageErr != nil {
		o.fail(ctx, e, stageErr)
		return
	}

	now := time.Now().UTC()
	e.CompletedAt = &now
	o.transition(ctx, e, StatusCompleted, "backtest completed")
}

// runStages walks the execution through every stage in order. Any error
// is already classified by the stage that produced it.
func (o *Orchestrator) runStages(ctx context.Context, e *database.Execution) *StageError {
	now := time.Now().UTC()
	e.StartedAt = &now

	// Stage 1: analyze and validate the strategy graph.
	o.transition(ctx, e, StatusAnalyzing, "analyzing strategy graph")
	var g graph.Graph
	if err := json.Unmarshal([]byte(e.GraphJSON), &g); err != nil {
		return newStageError(KindSchemaError, StatusAnalyzing, fmt.Errorf("malformed graph document: %w", err))
	}
	normalized, err := graph.Validate(g)
	if err != nil {
		return newStageError(KindSchemaError, StatusAnalyzing, err)
	}

	// Stage 2: compile the graph into an executable signal spec.
	o.transition(ctx, e, StatusGeneratingLogic, "generating signal logic")
	var params engine.BacktestParams
	if err := json.Unmarshal([]byte(e.ParamsJSON), &params); err != nil {
		return newStageError(KindSchemaError, StatusGeneratingLogic, fmt.Errorf("malformed backtest params: %w", err))
	}
	doc, stageErr := o.compileSpec(ctx, normalized, params)
	if stageErr != nil {
		return stageErr
	}
	logic := string(doc)
	e.GeneratedLogic = &logic
	if err := o.store.Update(e); err != nil {
		return newStageError(KindInternalError, StatusGeneratingLogic, err)
	}

	// Stage 3: security preflight and structural re-check of the
	// document that will actually run.
	o.transition(ctx, e, StatusValidating, "validating generated logic")
	if err := sandbox.Preflight(doc); err != nil {
		return newStageError(KindSecurityError, StatusValidating, err)
	}
	spec, err := compiler.Parse(doc)
	if err != nil {
		return newStageError(KindCompileError, StatusValidating, err)
	}

	// Stage 4: fetch data and run the sandboxed simulation. The worker
	// has no network, so prices are staged here.
	o.transition(ctx, e, StatusRunning, "running backtest simulation")
	prices, err := o.provider.FetchDailyCloses(ctx, spec.Category, spec.Params.StartDate, spec.Params.EndDate)
	if err != nil {
		return newStageError(KindExecutionError, StatusRunning, fmt.Errorf("fetch market data: %w", err))
	}
	results, err := o.runner.Run(ctx, doc, prices)
	if err != nil {
		return classifyRunError(err)
	}

	for _, res := range results {
		run := &database.BacktestRun{
			ID:          uuid.NewString(),
			ExecutionID: e.ID,
			Symbol:      res.Symbol,
		}
		resultDoc, err := json.Marshal(res)
		if err != nil {
			return newStageError(KindInternalError, StatusRunning, err)
		}
		run.ResultJSON = string(resultDoc)
		if err := o.backtests.Create(run); err != nil {
			return newStageError(KindInternalError, StatusRunning, err)
		}
	}
	return nil
}

// compileSpec serves the rendered spec from cache when possible, and
// compiles and caches it otherwise.
func (o *Orchestrator) compileSpec(ctx context.Context, normalized *graph.NormalizedGraph, params engine.BacktestParams) ([]byte, *StageError) {
	key := cache.SpecKey(normalized, params)
	if o.specCache != nil {
		if doc, ok := o.specCache.Get(ctx, key); ok {
			o.log.Debug().Str("key", key).Msg("spec cache hit")
			return doc, nil
		}
	}

	spec, err := compiler.Compile(normalized, params)
	if err != nil {
		return nil, newStageError(KindCompileError, StatusGeneratingLogic, err)
	}
	doc, err := spec.Render()
	if err != nil {
		return nil, newStageError(KindCompileError, StatusGeneratingLogic, err)
	}
	if o.specCache != nil {
		if err := o.specCache.Set(ctx, key, doc); err != nil {
			o.log.Debug().Str("key", key).Err(err).Msg("spec cache write skipped")
		}
	}
	return doc, nil
}

// classifyRunError maps sandbox failures onto the error taxonomy.
func classifyRunError(err error) *StageError {
	var secErr *sandbox.SecurityError
	var execErr *sandbox.ExecutionError
	switch {
	case errors.Is(err, sandbox.ErrTimeout):
		return newStageError(KindTimeoutError, StatusRunning, err)
	case errors.As(err, &secErr):
		return newStageError(KindSecurityError, StatusRunning, err)
	case errors.As(err, &execErr):
		return newStageError(KindExecutionError, StatusRunning, err)
	default:
		return newStageError(KindExecutionError, StatusRunning, err)
	}
}

// transition advances the execution status, appends a timestamped log
// line, persists the record, and broadcasts the event.
func (o *Orchestrator) transition(ctx context.Context, e *database.Execution, status, message string) {
	e.Status = status
	appendLog(e, message)

	if err := o.store.Update(e); err != nil {
		o.log.Error().Str("execution_id", e.ID).Err(err).Msg("persist transition")
	}
	o.publish(ctx, StatusEvent{
		ExecutionID: e.ID,
		Status:      status,
		Message:     message,
		Timestamp:   time.Now().UTC(),
	})
	o.log.Info().Str("execution_id", e.ID).Str("status", status).Msg(message)
}

// fail marks the execution failed. The error kind and message are
// written once; a failure arriving after the record already failed is
// logged and dropped.
func (o *Orchestrator) fail(ctx context.Context, e *database.Execution, stageErr *StageError) {
	if e.Status == StatusFailed || e.Status == StatusCompleted {
		o.log.Warn().Str("execution_id", e.ID).Str("kind", string(stageErr.Kind)).Msg("failure after terminal status ignored")
		return
	}

	kind := string(stageErr.Kind)
	msg := stageErr.Message
	e.ErrorKind = &kind
	e.ErrorMessage = &msg
	now := time.Now().UTC()
	e.CompletedAt = &now
	e.Status = StatusFailed
	appendLog(e, fmt.Sprintf("failed at %s: [%s] %s", stageErr.Stage, kind, msg))

	if err := o.store.Update(e); err != nil {
		o.log.Error().Str("execution_id", e.ID).Err(err).Msg("persist failure")
	}
	o.publish(ctx, StatusEvent{
		ExecutionID: e.ID,
		Status:      StatusFailed,
		Message:     msg,
		ErrorKind:   kind,
		Timestamp:   now,
	})
	o.log.Warn().Str("execution_id", e.ID).Str("kind", kind).Str("stage", stageErr.Stage).Msg(msg)
}

func (o *Orchestrator) publish(ctx context.Context, event StatusEvent) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(ctx, EventChannel, event); err != nil {
		o.log.Debug().Err(err).Msg("event publish skipped")
	}
}

// appendLog adds a timestamped progress line to the execution's log.
func appendLog(e *database.Execution, message string) {
	line := fmt.Sprintf("[%s] %s\n", time.Now().UTC().Format(time.RFC3339), message)
	e.Logs += line
}
