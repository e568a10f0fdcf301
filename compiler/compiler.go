// Package compiler turns a validated strategy graph into an executable
// signal specification. Compilation is deterministic: the same normalized
// graph and backtest parameters always render the same spec document.
package compiler

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"quantflow/engine"
	"quantflow/graph"
	"quantflow/marketdata"
)

// Default crossover windows applied when no entry rule parses into a
// recognizable indicator pattern.
const (
	defaultFastWindow = 10
	defaultSlowWindow = 30
	defaultRSIPeriod  = 14
)

// SignalSpec is the compiled, executable form of a strategy. It is the
// document handed to the sandbox worker and the payload returned by the
// generated-logic endpoint.
type SignalSpec struct {
	Version   int                   `json:"version"`
	Category  string                `json:"category"`
	TokenID   string                `json:"token_id"`
	RiskClass string                `json:"risk_class"`
	EntryMode string                `json:"entry_mode"`
	Config    engine.SignalConfig   `json:"config"`
	Params    engine.BacktestParams `json:"params"`
	Notes     []string              `json:"notes,omitempty"`
}

var (
	maPattern        = regexp.MustCompile(`(?i)(\d+)[-\s]?day\s+moving\s+average`)
	rsiPeriodPattern = regexp.MustCompile(`(?i)(?:(\d+)[-\s]?(?:day|period)\s+rsi|rsi\s*\(\s*(\d+)\s*\))`)
	priceDropPattern = regexp.MustCompile(`(?i)price\s+drop\s+of\s+(\d+(?:\.\d+)?)\s*%`)
	priceRisePattern = regexp.MustCompile(`(?i)price\s+(?:rise|increase)\s+of\s+(\d+(?:\.\d+)?)\s*%`)
)

// Compile resolves the traded category, parses the graph's entry rules
// into indicator definitions and entry/exit rules, and assembles the
// full signal spec. Unparseable rule text falls back to a default
// moving-average crossover, recorded in Notes.
func Compile(g *graph.NormalizedGraph, params engine.BacktestParams) (*SignalSpec, error) {
	if g == nil {
		return nil, fmt.Errorf("nil normalized graph")
	}
	if g.Category == "" {
		return nil, fmt.Errorf("graph has no traded category")
	}
	tokenID, ok := marketdata.TokenID(g.Category)
	if !ok {
		return nil, fmt.Errorf("unsupported category: %s", g.Category)
	}

	// The graph's capital node overrides the request-level default only
	// when the caller left capital unset.
	if params.InitialCapital == 0 && g.Capital > 0 {
		params.InitialCapital = g.Capital
	}
	if params.InitialCapital <= 0 {
		return nil, fmt.Errorf("initial capital missing: provide initial_capital in params or a capital node in the graph")
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backtest params: %w", err)
	}
	params.Symbols = []string{tokenID}

	spec := &SignalSpec{
		Version:   1,
		Category:  g.Category,
		TokenID:   tokenID,
		RiskClass: g.RiskClass,
		EntryMode: g.EntryMode,
		Params:    params,
	}
	spec.Config.TakeProfitPct = g.TakeProfitPct
	spec.Config.StopLossPct = g.StopLossPct

	if err := compileRules(spec, g.EntryRules); err != nil {
		return nil, err
	}
	return spec, nil
}

// compileRules parses the rule text lines and populates the spec's
// indicators and entry/exit rules.
func compileRules(spec *SignalSpec, rules []string) error {
	text := strings.Join(rules, " ")

	maWindows, err := parseMAWindows(text)
	if err != nil {
		return err
	}
	lowered := strings.ToLower(text)
	hasRSI := strings.Contains(lowered, "rsi")
	hasMACD := strings.Contains(lowered, "macd")
	hasBBands := strings.Contains(lowered, "bollinger")
	dropMatch := priceDropPattern.FindStringSubmatch(text)

	switch {
	case len(maWindows) >= 2:
		fast, slow := maWindows[0], maWindows[1]
		spec.Config.Indicators = append(spec.Config.Indicators,
			engine.IndicatorDef{Kind: engine.IndicatorMA, Window: fast},
			engine.IndicatorDef{Kind: engine.IndicatorMA, Window: slow},
		)
		// The exit keeps the same windows: the engine derives the bearish
		// cross from the rule's side, not from window order.
		spec.Config.Entry = engine.SignalRule{Kind: engine.RuleMACross, FastWindow: fast, SlowWindow: slow}
		spec.Config.Exit = engine.SignalRule{Kind: engine.RuleMACross, FastWindow: fast, SlowWindow: slow}

	case hasRSI:
		period := defaultRSIPeriod
		if m := rsiPeriodPattern.FindStringSubmatch(text); m != nil {
			raw := m[1]
			if raw == "" {
				raw = m[2]
			}
			period, err = strconv.Atoi(raw)
			if err != nil || period <= 0 {
				return fmt.Errorf("invalid RSI period in rule text: %q", raw)
			}
		}
		lower, upper := parseRSIBounds(text)
		spec.Config.Indicators = append(spec.Config.Indicators,
			engine.IndicatorDef{Kind: engine.IndicatorRSI, Window: period})
		spec.Config.Entry = engine.SignalRule{Kind: engine.RuleRSIThreshold, Window: period, Lower: lower, Upper: upper}
		spec.Config.Exit = engine.SignalRule{Kind: engine.RuleRSIThreshold, Window: period, Lower: lower, Upper: upper}

	case hasMACD:
		spec.Config.Indicators = append(spec.Config.Indicators,
			engine.IndicatorDef{Kind: engine.IndicatorMACD, Window: 26,
				Params: map[string]float64{"fast": 12, "slow": 26, "signal": 9}})
		spec.Config.Entry = engine.SignalRule{Kind: engine.RuleMACDCross, FastWindow: 12, SlowWindow: 26, Window: 9}
		spec.Config.Exit = engine.SignalRule{Kind: engine.RuleMACDCross, FastWindow: 12, SlowWindow: 26, Window: 9}

	case hasBBands:
		spec.Config.Indicators = append(spec.Config.Indicators,
			engine.IndicatorDef{Kind: engine.IndicatorBBANDS, Window: 20,
				Params: map[string]float64{"dev": 2.0}})
		spec.Config.Entry = engine.SignalRule{Kind: engine.RuleBBandTouch, Window: 20, Upper: 2.0}
		spec.Config.Exit = engine.SignalRule{Kind: engine.RuleBBandTouch, Window: 20, Upper: 2.0}

	case dropMatch != nil:
		pct, perr := strconv.ParseFloat(dropMatch[1], 64)
		if perr != nil || pct <= 0 {
			return fmt.Errorf("invalid price drop percentage: %q", dropMatch[1])
		}
		risePct := pct
		if m := priceRisePattern.FindStringSubmatch(text); m != nil {
			if v, rerr := strconv.ParseFloat(m[1], 64); rerr == nil && v > 0 {
				risePct = v
			}
		}
		spec.Config.Entry = engine.SignalRule{Kind: engine.RulePriceChange, ChangePct: -pct}
		spec.Config.Exit = engine.SignalRule{Kind: engine.RulePriceChange, ChangePct: risePct}

	default:
		spec.Config.Indicators = append(spec.Config.Indicators,
			engine.IndicatorDef{Kind: engine.IndicatorMA, Window: defaultFastWindow},
			engine.IndicatorDef{Kind: engine.IndicatorMA, Window: defaultSlowWindow},
		)
		spec.Config.Entry = engine.SignalRule{Kind: engine.RuleMACross, FastWindow: defaultFastWindow, SlowWindow: defaultSlowWindow}
		spec.Config.Exit = engine.SignalRule{Kind: engine.RuleMACross, FastWindow: defaultFastWindow, SlowWindow: defaultSlowWindow}
		spec.Notes = append(spec.Notes, fmt.Sprintf(
			"no recognizable indicator pattern in entry rules; applied default %d/%d-day moving average crossover",
			defaultFastWindow, defaultSlowWindow))
	}

	spec.Config.Indicators = dedupIndicators(spec.Config.Indicators)
	return nil
}

// parseMAWindows extracts moving-average windows from rule text, sorted
// ascending and deduplicated. A single parsed window is not enough for a
// crossover and is ignored by the caller's selection logic.
func parseMAWindows(text string) ([]int, error) {
	matches := maPattern.FindAllStringSubmatch(text, -1)
	seen := make(map[int]bool)
	var windows []int
	for _, m := range matches {
		w, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("invalid moving average window: %q", m[1])
		}
		if w <= 0 {
			return nil, fmt.Errorf("moving average window must be positive, got %d", w)
		}
		if !seen[w] {
			seen[w] = true
			windows = append(windows, w)
		}
	}
	sort.Ints(windows)
	return windows, nil
}

// parseRSIBounds pulls oversold/overbought thresholds from rule text,
// defaulting to the conventional 30/70 band.
func parseRSIBounds(text string) (lower, upper float64) {
	lower, upper = 30, 70
	lowered := strings.ToLower(text)
	if m := regexp.MustCompile(`below\s+(\d+(?:\.\d+)?)`).FindStringSubmatch(lowered); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			lower = v
		}
	}
	if m := regexp.MustCompile(`above\s+(\d+(?:\.\d+)?)`).FindStringSubmatch(lowered); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			upper = v
		}
	}
	return lower, upper
}

// dedupIndicators removes duplicate (kind, window) pairs while keeping
// first-occurrence order.
func dedupIndicators(defs []engine.IndicatorDef) []engine.IndicatorDef {
	type key struct {
		kind   engine.IndicatorKind
		window int
	}
	seen := make(map[key]bool)
	out := defs[:0]
	for _, d := range defs {
		k := key{d.Kind, d.Window}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, d)
	}
	return out
}

// Render serializes the spec to its canonical JSON form. Struct field
// order is fixed and map keys serialize sorted, so equal specs render to
// byte-identical documents.
func (s *SignalSpec) Render() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render signal spec: %w", err)
	}
	return data, nil
}

// Parse decodes a rendered signal spec document.
func Parse(data []byte) (*SignalSpec, error) {
	var spec SignalSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse signal spec: %w", err)
	}
	return &spec, nil
}
