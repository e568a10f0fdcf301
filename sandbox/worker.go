package sandbox

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"quantflow/compiler"
	"quantflow/engine"
)

// WorkerMain is the entry point of the backtest-worker subcommand. It
// reads spec.json and prices.json from the working directory, runs the
// simulation for each symbol, and writes the framed result document to
// stdout. It performs no network or database access.
func WorkerMain(stdout, stderr io.Writer) int {
	if err := runWorker(stdout); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func runWorker(stdout io.Writer) error {
	specDoc, err := os.ReadFile(filepath.Join(".", specFileName))
	if err != nil {
		return fmt.Errorf("read spec: %w", err)
	}
	spec, err := compiler.Parse(specDoc)
	if err != nil {
		return err
	}

	priceDoc, err := os.ReadFile(filepath.Join(".", pricesFileName))
	if err != nil {
		return fmt.Errorf("read prices: %w", err)
	}
	var prices []engine.PricePoint
	if err := json.Unmarshal(priceDoc, &prices); err != nil {
		return fmt.Errorf("decode prices: %w", err)
	}

	entries, exits, err := engine.BuildSignals(spec.Config, prices)
	if err != nil {
		return err
	}

	results := make([]engine.Result, 0, len(spec.Params.Symbols))
	for _, symbol := range spec.Params.Symbols {
		res, err := engine.Simulate(symbol, prices, entries, exits, spec.Params,
			spec.Config.TakeProfitPct, spec.Config.StopLossPct)
		if err != nil {
			return fmt.Errorf("simulate %s: %w", symbol, err)
		}
		results = append(results, *res)
	}

	body, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}

	fmt.Fprintln(stdout, resultsStart)
	if _, err := stdout.Write(body); err != nil {
		return err
	}
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, resultsEnd)
	return nil
}
