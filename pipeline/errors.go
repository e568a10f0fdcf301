// Package pipeline orchestrates strategy executions through the
// analyze, generate, validate, and run stages with bounded concurrency.
package pipeline

import "fmt"

// ErrorKind classifies a pipeline failure. The kind is persisted on the
// execution record and surfaced unchanged to API clients.
type ErrorKind string

const (
	KindSchemaError    ErrorKind = "SchemaError"
	KindCompileError   ErrorKind = "CompileError"
	KindSecurityError  ErrorKind = "SecurityError"
	KindTimeoutError   ErrorKind = "TimeoutError"
	KindExecutionError ErrorKind = "ExecutionError"
	KindNotReadyError  ErrorKind = "NotReadyError"
	KindInternalError  ErrorKind = "InternalError"
)

// Execution status values. Transitions are monotonic; Failed is
// reachable from every non-terminal status.
const (
	StatusQueued          = "queued"
	StatusAnalyzing       = "analyzing"
	StatusGeneratingLogic = "generating_logic"
	StatusValidating      = "validating"
	StatusRunning         = "running"
	StatusCompleted       = "completed"
	StatusFailed          = "failed"
)

// StageError carries the failure classification and the stage where it
// happened.
type StageError struct {
	Kind    ErrorKind
	Stage   string
	Message string
	Err     error
}

// Error implements the error interface
func (e *StageError) Error() string {
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.Stage, e.Message)
}

// Unwrap returns the underlying error
func (e *StageError) Unwrap() error {
	return e.Err
}

func newStageError(kind ErrorKind, stage string, err error) *StageError {
	return &StageError{
		Kind:    kind,
		Stage:   stage,
		Message: err.Error(),
		Err:     err,
	}
}
