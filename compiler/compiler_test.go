package compiler

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"quantflow/engine"
	"quantflow/graph"
)

func testParams() engine.BacktestParams {
	return engine.BacktestParams{
		StartDate:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		InitialCapital: 10000,
		Fees:           0.001,
	}
}

func normalized(rules ...string) *graph.NormalizedGraph {
	return &graph.NormalizedGraph{
		Category:      "Bitcoin",
		EntryMode:     graph.ModeManual,
		EntryRules:    rules,
		TakeProfitPct: 7,
		StopLossPct:   5,
		RiskClass:     graph.RiskMedium,
	}
}

func TestCompileMACrossover(t *testing.T) {
	spec, err := Compile(normalized(
		"Buy when the 10-day moving average crosses above the 30-day moving average",
	), testParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if spec.TokenID != "bitcoin" {
		t.Errorf("token id: got %q", spec.TokenID)
	}
	if spec.Config.Entry.Kind != engine.RuleMACross {
		t.Fatalf("entry kind: got %q", spec.Config.Entry.Kind)
	}
	if spec.Config.Entry.FastWindow != 10 || spec.Config.Entry.SlowWindow != 30 {
		t.Errorf("entry windows: got %d/%d", spec.Config.Entry.FastWindow, spec.Config.Entry.SlowWindow)
	}
	if len(spec.Config.Indicators) != 2 {
		t.Errorf("expected MA(10) and MA(30) indicators, got %d", len(spec.Config.Indicators))
	}
	if spec.Config.TakeProfitPct != 7 || spec.Config.StopLossPct != 5 {
		t.Errorf("tp/sl carried from graph: got %.1f/%.1f", spec.Config.TakeProfitPct, spec.Config.StopLossPct)
	}
	if len(spec.Notes) != 0 {
		t.Errorf("recognized pattern must not add notes, got %v", spec.Notes)
	}
	if len(spec.Params.Symbols) != 1 || spec.Params.Symbols[0] != "bitcoin" {
		t.Errorf("params symbols: got %v", spec.Params.Symbols)
	}
}

func TestCompileIndicatorDedup(t *testing.T) {
	spec, err := Compile(normalized(
		"Buy on the 10-day moving average crossing the 30-day moving average",
		"Confirm with the 10-day moving average trending up",
	), testParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(spec.Config.Indicators) != 2 {
		t.Errorf("duplicate MA(10) must collapse, got %d indicators", len(spec.Config.Indicators))
	}
}

func TestCompileRSI(t *testing.T) {
	tests := []struct {
		name       string
		rule       string
		wantWindow int
		wantLower  float64
	}{
		{"default period", "Buy when RSI drops below 30", 14, 30},
		{"explicit period", "Buy on the 21-day RSI below 25", 21, 25},
		{"parenthesized period", "Enter when RSI(7) goes below 20", 7, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Compile(normalized(tt.rule), testParams())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if spec.Config.Entry.Kind != engine.RuleRSIThreshold {
				t.Fatalf("entry kind: got %q", spec.Config.Entry.Kind)
			}
			if spec.Config.Entry.Window != tt.wantWindow {
				t.Errorf("period: want %d, got %d", tt.wantWindow, spec.Config.Entry.Window)
			}
			if spec.Config.Entry.Lower != tt.wantLower {
				t.Errorf("oversold band: want %.0f, got %.0f", tt.wantLower, spec.Config.Entry.Lower)
			}
		})
	}
}

func TestCompileMACDAndBollinger(t *testing.T) {
	spec, err := Compile(normalized("Buy on a MACD bullish crossover"), testParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Config.Entry.Kind != engine.RuleMACDCross {
		t.Errorf("macd entry kind: got %q", spec.Config.Entry.Kind)
	}
	if spec.Config.Entry.FastWindow != 12 || spec.Config.Entry.SlowWindow != 26 || spec.Config.Entry.Window != 9 {
		t.Errorf("macd windows: got %d/%d/%d",
			spec.Config.Entry.FastWindow, spec.Config.Entry.SlowWindow, spec.Config.Entry.Window)
	}

	spec, err = Compile(normalized("Buy when price touches the lower Bollinger band"), testParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Config.Entry.Kind != engine.RuleBBandTouch {
		t.Errorf("bollinger entry kind: got %q", spec.Config.Entry.Kind)
	}
	if spec.Config.Entry.Window != 20 {
		t.Errorf("bollinger window: got %d", spec.Config.Entry.Window)
	}
}

func TestCompilePriceDrop(t *testing.T) {
	spec, err := Compile(normalized("Buy after a price drop of 7.5%"), testParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Config.Entry.Kind != engine.RulePriceChange {
		t.Fatalf("entry kind: got %q", spec.Config.Entry.Kind)
	}
	if spec.Config.Entry.ChangePct != -7.5 {
		t.Errorf("drop threshold: want -7.5, got %.2f", spec.Config.Entry.ChangePct)
	}
	if spec.Config.Exit.ChangePct != 7.5 {
		t.Errorf("exit mirrors the magnitude: got %.2f", spec.Config.Exit.ChangePct)
	}
}

func TestCompileFallbackRecordsNote(t *testing.T) {
	spec, err := Compile(normalized("Buy when the vibes are good"), testParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Config.Entry.Kind != engine.RuleMACross {
		t.Fatalf("fallback must be an MA crossover, got %q", spec.Config.Entry.Kind)
	}
	if spec.Config.Entry.FastWindow != defaultFastWindow || spec.Config.Entry.SlowWindow != defaultSlowWindow {
		t.Errorf("fallback windows: got %d/%d", spec.Config.Entry.FastWindow, spec.Config.Entry.SlowWindow)
	}
	if len(spec.Notes) != 1 || !strings.Contains(spec.Notes[0], "default") {
		t.Errorf("fallback must be recorded in notes, got %v", spec.Notes)
	}

	// A single recognized MA window is not enough for a crossover.
	spec, err = Compile(normalized("Buy above the 50-day moving average"), testParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(spec.Notes) != 1 {
		t.Errorf("single-MA rule must fall back with a note, got %v", spec.Notes)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name   string
		g      *graph.NormalizedGraph
		params engine.BacktestParams
	}{
		{
			name: "unsupported category",
			g: func() *graph.NormalizedGraph {
				g := normalized("RSI below 30")
				g.Category = "Beanie Babies"
				return g
			}(),
			params: testParams(),
		},
		{
			name: "missing category",
			g: func() *graph.NormalizedGraph {
				g := normalized("RSI below 30")
				g.Category = ""
				return g
			}(),
			params: testParams(),
		},
		{
			name:   "zero ma window",
			g:      normalized("Buy on the 0-day moving average crossing the 30-day moving average"),
			params: testParams(),
		},
		{
			name: "invalid params",
			g:    normalized("RSI below 30"),
			params: engine.BacktestParams{
				StartDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
				EndDate:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compile(tt.g, tt.params); err == nil {
				t.Errorf("expected an error")
			}
		})
	}
}

func TestCompileGraphCapitalFillsDefault(t *testing.T) {
	g := normalized("RSI below 30")
	g.Capital = 5000

	params := testParams()
	params.InitialCapital = 0

	spec, err := Compile(g, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Params.InitialCapital != 5000 {
		t.Errorf("graph capital should fill unset initial capital, got %.0f", spec.Params.InitialCapital)
	}

	// An explicit request-level capital wins over the graph node.
	params.InitialCapital = 20000
	spec, err = Compile(g, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Params.InitialCapital != 20000 {
		t.Errorf("request capital must win, got %.0f", spec.Params.InitialCapital)
	}
}

func TestCompiledRulesExecutable(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	prices := make([]engine.PricePoint, 60)
	for i := range prices {
		prices[i] = engine.PricePoint{Date: base.AddDate(0, 0, i), Close: 100 + float64(i%7)}
	}

	tests := []struct {
		name string
		rule string
	}{
		{"ma crossover", "Buy when the 10-day moving average crosses above the 30-day moving average"},
		{"rsi", "Buy when RSI drops below 30"},
		{"macd", "Buy on a MACD bullish crossover"},
		{"bollinger", "Buy when price touches the lower Bollinger band"},
		{"price drop", "Buy after a price drop of 5%"},
		{"fallback", "Buy when the vibes are good"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Compile(normalized(tt.rule), testParams())
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			entries, exits, err := engine.BuildSignals(spec.Config, prices)
			if err != nil {
				t.Fatalf("compiled config must be executable: %v", err)
			}
			if len(entries) != len(prices) || len(exits) != len(prices) {
				t.Errorf("signal series not aligned: %d entries, %d exits, %d prices",
					len(entries), len(exits), len(prices))
			}
		})
	}
}

func TestRenderDeterministic(t *testing.T) {
	params := testParams()
	g := normalized("Buy when the 10-day moving average crosses above the 30-day moving average")

	first, err := Compile(g, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Compile(g, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	docA, err := first.Render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	docB, err := second.Render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.Equal(docA, docB) {
		t.Error("identical inputs must render byte-identical documents")
	}

	parsed, err := Parse(docA)
	if err != nil {
		t.Fatalf("parse rendered doc: %v", err)
	}
	if parsed.TokenID != first.TokenID || parsed.Config.Entry.Kind != first.Config.Entry.Kind {
		t.Error("parse must round-trip the rendered document")
	}
}
