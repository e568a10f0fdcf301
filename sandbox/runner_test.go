package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"quantflow/engine"
)

func testPrices() []engine.PricePoint {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []engine.PricePoint{
		{Date: base, Close: 100},
		{Date: base.AddDate(0, 0, 1), Close: 101},
	}
}

func testRunner(command ...string) *Runner {
	return &Runner{
		Command: command,
		Timeout: 5 * time.Second,
		Log:     zerolog.Nop(),
	}
}

func TestPreflight(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		deny bool
	}{
		{"clean spec", `{"version":1,"category":"Bitcoin","config":{}}`, false},
		{"subprocess call", `{"notes":["run subprocess.call here"]}`, true},
		{"import os", `{"notes":["import os"]}`, true},
		{"eval", `{"notes":["eval(payload)"]}`, true},
		{"network url", `{"notes":["fetch https://evil.example"]}`, true},
		{"path escape", `{"notes":["../../../etc/passwd"]}`, true},
		{"case insensitive", `{"notes":["EVAL(x)"]}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Preflight([]byte(tt.doc))
			if tt.deny && err == nil {
				t.Errorf("expected a security error")
			}
			if !tt.deny && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.deny {
				var secErr *SecurityError
				if !errors.As(err, &secErr) {
					t.Errorf("expected *SecurityError, got %T", err)
				}
			}
		})
	}
}

func TestParseResults(t *testing.T) {
	stdout := []byte("worker starting\n" +
		resultsStart + "\n" +
		`[{"symbol":"bitcoin","metrics":{"trades":1}}]` + "\n" +
		resultsEnd + "\n")

	results, err := parseResults(stdout)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Symbol != "bitcoin" {
		t.Errorf("unexpected results: %+v", results)
	}
	if results[0].Metrics.Trades != 1 {
		t.Errorf("metrics not decoded: %+v", results[0].Metrics)
	}
}

func TestParseResultsMissingFrame(t *testing.T) {
	if _, err := parseResults([]byte("no frame here")); err == nil {
		t.Fatal("expected an error for missing frame")
	}
	if _, err := parseResults([]byte(resultsEnd + "\n" + resultsStart)); err == nil {
		t.Fatal("expected an error for inverted frame")
	}
}

func TestRunnerHappyPath(t *testing.T) {
	r := testRunner("/bin/sh", "-c",
		`echo "`+resultsStart+`"; echo "[]"; echo "`+resultsEnd+`"`)

	results, err := r.Run(context.Background(), []byte(`{"version":1}`), testPrices())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty result set, got %d", len(results))
	}
}

func TestRunnerTimeout(t *testing.T) {
	r := testRunner("/bin/sh", "-c", "sleep 5")
	r.Timeout = 100 * time.Millisecond

	_, err := r.Run(context.Background(), []byte(`{"version":1}`), testPrices())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestRunnerWorkerFailure(t *testing.T) {
	r := testRunner("/bin/sh", "-c", "echo boom >&2; exit 3")

	_, err := r.Run(context.Background(), []byte(`{"version":1}`), testPrices())
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *ExecutionError, got %v", err)
	}
	if execErr.ExitCode != 3 {
		t.Errorf("exit code: want 3, got %d", execErr.ExitCode)
	}
	if execErr.Stderr == "" {
		t.Error("stderr should be captured")
	}
}

func TestRunnerRejectsDeniedSpec(t *testing.T) {
	r := testRunner("/bin/sh", "-c", "true")

	_, err := r.Run(context.Background(), []byte(`{"notes":["eval(x)"]}`), testPrices())
	var secErr *SecurityError
	if !errors.As(err, &secErr) {
		t.Fatalf("preflight must run before the worker, got %v", err)
	}
}
