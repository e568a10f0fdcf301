package database

import "time"

// Strategy represents a saved strategy graph that executions can be
// launched against.
//
// Key Fields:
//   - ID: UUID primary key assigned at creation
//   - Name: Human-readable strategy name
//   - Description: Optional free-text summary of what the strategy does
//   - GraphJSON: The raw strategy graph (nodes + connections) as JSON
//   - CreatedAt/UpdatedAt: Record lifecycle timestamps
type Strategy struct {
	ID          string    `gorm:"size:36;primaryKey" json:"id"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	GraphJSON   string    `gorm:"type:jsonb;not null" json:"graph"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for Strategy
func (Strategy) TableName() string {
	return "strategies"
}

// Execution represents a single backtest pipeline run and its full
// lifecycle from queueing to completion or failure.
//
// Key Fields:
//   - ID: UUID primary key assigned when the execution is accepted
//   - StrategyID: Optional reference to a saved strategy (null for inline graphs)
//   - Status: Current pipeline stage (queued, analyzing, generating_logic,
//     validating, running, completed, failed)
//   - GraphJSON: Snapshot of the graph the execution runs against
//   - ParamsJSON: Backtest parameters as submitted
//   - GeneratedLogic: The compiled signal spec document (null until the
//     generating_logic stage completes)
//   - ErrorKind/ErrorMessage: Failure classification, set exactly once
//   - Logs: Timestamped progress lines, one per stage transition
type Execution struct {
	ID             string     `gorm:"size:36;primaryKey" json:"id"`
	StrategyID     *string    `gorm:"size:36;index" json:"strategy_id,omitempty"`
	Status         string     `gorm:"size:32;index;not null" json:"status"`
	GraphJSON      string     `gorm:"type:jsonb;not null" json:"-"`
	ParamsJSON     string     `gorm:"type:jsonb;not null" json:"-"`
	GeneratedLogic *string    `gorm:"type:jsonb" json:"-"`
	ErrorKind      *string    `gorm:"size:32" json:"error_kind,omitempty"`
	ErrorMessage   *string    `gorm:"type:text" json:"error_message,omitempty"`
	Logs           string     `gorm:"type:text" json:"logs"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// TableName specifies the table name for Execution
func (Execution) TableName() string {
	return "executions"
}

// BacktestRun represents the stored result of a completed simulation for
// one symbol within an execution.
//
// Key Fields:
//   - ExecutionID: The owning execution (indexed)
//   - Symbol: Provider token ID the simulation ran against
//   - ResultJSON: Full simulation result (metrics, equity series,
//     drawdown series, trade ledger) as JSON
type BacktestRun struct {
	ID          string    `gorm:"size:36;primaryKey" json:"id"`
	ExecutionID string    `gorm:"size:36;index;not null" json:"execution_id"`
	Symbol      string    `gorm:"size:64;not null" json:"symbol"`
	ResultJSON  string    `gorm:"type:jsonb;not null" json:"-"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for BacktestRun
func (BacktestRun) TableName() string {
	return "backtest_runs"
}
