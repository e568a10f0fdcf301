package database

import (
	"errors"

	"gorm.io/gorm"
)

// StrategyRepository handles database operations for saved strategies
type StrategyRepository struct {
	db *gorm.DB
}

// Create persists a new strategy
func (r *StrategyRepository) Create(s *Strategy) error {
	if err := r.db.Create(s).Error; err != nil {
		return WrapDBError("create strategy", err)
	}
	return nil
}

// GetByID retrieves a strategy by its UUID
func (r *StrategyRepository) GetByID(id string) (*Strategy, error) {
	var s Strategy
	err := r.db.First(&s, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewNotFoundErrorWithID("strategy", id)
	}
	if err != nil {
		return nil, WrapDBError("get strategy", err)
	}
	return &s, nil
}

// List retrieves strategies ordered by creation time, newest first
func (r *StrategyRepository) List(limit int) ([]Strategy, error) {
	var out []Strategy
	query := r.db.Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&out).Error; err != nil {
		return nil, WrapDBError("list strategies", err)
	}
	return out, nil
}

// ExecutionRepository handles database operations for pipeline executions
type ExecutionRepository struct {
	db *gorm.DB
}

// Create persists a new execution record
func (r *ExecutionRepository) Create(e *Execution) error {
	if err := r.db.Create(e).Error; err != nil {
		return WrapDBError("create execution", err)
	}
	return nil
}

// GetByID retrieves an execution by its UUID
func (r *ExecutionRepository) GetByID(id string) (*Execution, error) {
	var e Execution
	err := r.db.First(&e, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewNotFoundErrorWithID("execution", id)
	}
	if err != nil {
		return nil, WrapDBError("get execution", err)
	}
	return &e, nil
}

// Update saves the full execution record
func (r *ExecutionRepository) Update(e *Execution) error {
	if err := r.db.Save(e).Error; err != nil {
		return WrapDBError("update execution", err)
	}
	return nil
}

// List retrieves executions with optional status and strategy filters,
// newest first
func (r *ExecutionRepository) List(status, strategyID string, limit int) ([]Execution, error) {
	var out []Execution
	query := r.db.Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if strategyID != "" {
		query = query.Where("strategy_id = ?", strategyID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&out).Error; err != nil {
		return nil, WrapDBError("list executions", err)
	}
	return out, nil
}

// BacktestRepository handles database operations for backtest results
type BacktestRepository struct {
	db *gorm.DB
}

// Create persists a backtest run result
func (r *BacktestRepository) Create(b *BacktestRun) error {
	if err := r.db.Create(b).Error; err != nil {
		return WrapDBError("create backtest run", err)
	}
	return nil
}

// GetByExecutionID retrieves all backtest runs for an execution
func (r *BacktestRepository) GetByExecutionID(executionID string) ([]BacktestRun, error) {
	var out []BacktestRun
	if err := r.db.Where("execution_id = ?", executionID).Order("symbol ASC").Find(&out).Error; err != nil {
		return nil, WrapDBError("get backtest runs", err)
	}
	return out, nil
}
