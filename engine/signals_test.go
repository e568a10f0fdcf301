package engine

import (
	"testing"
)

func TestBuildSignalsMACross(t *testing.T) {
	// Downtrend then recovery: the 2-day mean crosses the 3-day mean
	// from below exactly once, at index 5.
	prices := makeSeries(10, 9, 8, 7, 8, 10, 12)
	cfg := SignalConfig{
		Entry: SignalRule{Kind: RuleMACross, FastWindow: 2, SlowWindow: 3},
		Exit:  SignalRule{Kind: RuleMACross, FastWindow: 2, SlowWindow: 3},
	}

	entries, exits, err := BuildSignals(cfg, prices)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != len(prices) || len(exits) != len(prices) {
		t.Fatalf("signal series not aligned to prices")
	}

	for i, want := range []bool{false, false, false, false, false, true, false} {
		if entries[i] != want {
			t.Errorf("entries[%d]: want %v, got %v", i, want, entries[i])
		}
	}
	for i, got := range exits {
		if got {
			t.Errorf("exits[%d]: no bearish crossover in this series", i)
		}
	}
}

func TestBuildSignalsPriceChange(t *testing.T) {
	prices := makeSeries(100, 94, 95, 105, 104)
	cfg := SignalConfig{
		Entry: SignalRule{Kind: RulePriceChange, ChangePct: -5},
		Exit:  SignalRule{Kind: RulePriceChange, ChangePct: 10},
	}

	entries, exits, err := BuildSignals(cfg, prices)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Only the 100->94 move is a drop of at least 5%.
	for i, want := range []bool{false, true, false, false, false} {
		if entries[i] != want {
			t.Errorf("entries[%d]: want %v, got %v", i, want, entries[i])
		}
	}
	// 95->105 is +10.5%, the only rise clearing 10%.
	for i, want := range []bool{false, false, false, true, false} {
		if exits[i] != want {
			t.Errorf("exits[%d]: want %v, got %v", i, want, exits[i])
		}
	}
}

func TestBuildSignalsInsufficientHistory(t *testing.T) {
	prices := makeSeries(100, 101, 102)
	cfg := SignalConfig{
		Entry: SignalRule{Kind: RuleMACross, FastWindow: 10, SlowWindow: 30},
		Exit:  SignalRule{Kind: RuleMACross, FastWindow: 10, SlowWindow: 30},
	}

	if _, _, err := BuildSignals(cfg, prices); err == nil {
		t.Fatal("expected insufficient history error")
	}
}

func TestEvalRuleRejectsBadWindows(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}

	tests := []struct {
		name string
		rule SignalRule
	}{
		{"inverted ma windows", SignalRule{Kind: RuleMACross, FastWindow: 30, SlowWindow: 10}},
		{"zero rsi window", SignalRule{Kind: RuleRSIThreshold, Window: 0}},
		{"zero price change", SignalRule{Kind: RulePriceChange, ChangePct: 0}},
		{"unknown kind", SignalRule{Kind: RuleKind("fancy")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := evalRule(tt.rule, closes, true); err == nil {
				t.Errorf("expected an error")
			}
		})
	}
}
