package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"quantflow/engine"
)

// Sentinels framing the result document on the worker's stdout. Anything
// outside the frame is worker chatter and is ignored.
const (
	resultsStart = "===RESULTS_START==="
	resultsEnd   = "===RESULTS_END==="
)

// Input file names inside the scratch directory.
const (
	specFileName   = "spec.json"
	pricesFileName = "prices.json"
)

// ErrTimeout is returned when the worker exceeds its deadline and is
// killed.
var ErrTimeout = errors.New("sandbox execution timed out")

// ExecutionError reports a worker that exited abnormally.
type ExecutionError struct {
	ExitCode int
	Stderr   string
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("worker exited with code %d: %s", e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("worker exited with code %d", e.ExitCode)
}

// Runner executes backtests in an isolated subprocess. The worker is
// this binary re-invoked with the backtest-worker subcommand; Command
// can be overridden for tests.
type Runner struct {
	// Command is the worker argv. When empty, the current executable is
	// re-invoked with the backtest-worker subcommand.
	Command []string

	// Timeout bounds a single worker run.
	Timeout time.Duration

	// WorkDirRoot is the parent for per-run scratch directories. Empty
	// means the system temp dir.
	WorkDirRoot string

	Log zerolog.Logger
}

// NewRunner builds a runner with the given timeout and scratch root.
func NewRunner(timeout time.Duration, workDirRoot string, logger zerolog.Logger) *Runner {
	return &Runner{
		Timeout:     timeout,
		WorkDirRoot: workDirRoot,
		Log:         logger.With().Str("component", "sandbox").Logger(),
	}
}

// Run preflights the spec document, stages it and the price series into
// a fresh scratch directory, runs the worker, and parses the framed
// result from stdout. The scratch directory is removed when the run
// finishes, success or not.
func (r *Runner) Run(ctx context.Context, specDoc []byte, prices []engine.PricePoint) ([]engine.Result, error) {
	if err := Preflight(specDoc); err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp(r.WorkDirRoot, "backtest-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	if err := os.WriteFile(filepath.Join(workDir, specFileName), specDoc, 0o600); err != nil {
		return nil, fmt.Errorf("stage spec: %w", err)
	}
	priceDoc, err := json.Marshal(prices)
	if err != nil {
		return nil, fmt.Errorf("encode prices: %w", err)
	}
	if err := os.WriteFile(filepath.Join(workDir, pricesFileName), priceDoc, 0o600); err != nil {
		return nil, fmt.Errorf("stage prices: %w", err)
	}

	argv := r.Command
	if len(argv) == 0 {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve worker binary: %w", err)
		}
		argv = []string{self, "backtest-worker"}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// The worker inherits nothing from the caller's environment beyond
	// a minimal PATH; everything it needs is staged on disk.
	cmd.Env = []string{"PATH=" + os.Getenv("PATH")}

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		r.Log.Warn().Dur("elapsed", elapsed).Msg("worker killed on timeout")
		return nil, ErrTimeout
	}
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return nil, &ExecutionError{ExitCode: exitCode, Stderr: tail(stderr.String(), 2000)}
	}

	results, err := parseResults(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	r.Log.Info().Dur("elapsed", elapsed).Int("results", len(results)).Msg("worker completed")
	return results, nil
}

// parseResults extracts and decodes the framed result document.
func parseResults(stdout []byte) ([]engine.Result, error) {
	startIdx := bytes.Index(stdout, []byte(resultsStart))
	endIdx := bytes.Index(stdout, []byte(resultsEnd))
	if startIdx < 0 || endIdx < 0 || endIdx < startIdx {
		return nil, fmt.Errorf("worker output missing result frame")
	}
	body := stdout[startIdx+len(resultsStart) : endIdx]

	var results []engine.Result
	if err := json.Unmarshal(bytes.TrimSpace(body), &results); err != nil {
		return nil, fmt.Errorf("decode worker results: %w", err)
	}
	return results, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
