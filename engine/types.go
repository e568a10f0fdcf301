// Package engine implements the backtest simulation: given a historical
// price series and aligned entry/exit signals it replays a single-asset,
// long-only portfolio and computes the performance report.
package engine

import (
	"fmt"
	"time"
)

// Position sizing modes
const (
	SizingFixedFraction = "fixed_fraction" // capital * exposure per entry
)

// BacktestParams holds the caller-supplied simulation parameters.
type BacktestParams struct {
	Symbols        []string  `json:"symbols"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	InitialCapital float64   `json:"initial_capital"`
	Fees           float64   `json:"fees"`     // fraction of notional per fill, [0, 1)
	Slippage       float64   `json:"slippage"` // fraction of notional per fill, [0, 1)
	PositionSizing string    `json:"position_sizing"`
	Exposure       float64   `json:"exposure"` // fraction of capital per position, (0, 1]
}

// Validate checks all parameter domains, including that capital has been
// resolved to a positive amount. The zero Exposure and PositionSizing are
// filled with defaults rather than rejected.
func (p *BacktestParams) Validate() error {
	if p.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive, got %.2f", p.InitialCapital)
	}
	return p.ValidateRequest()
}

// ValidateRequest checks every parameter domain except a positive initial
// capital: a submission may leave capital unset and have it supplied by
// the strategy graph's capital node during compilation.
func (p *BacktestParams) ValidateRequest() error {
	if !p.StartDate.Before(p.EndDate) {
		return fmt.Errorf("start date %s must be before end date %s",
			p.StartDate.Format("2006-01-02"), p.EndDate.Format("2006-01-02"))
	}
	if p.InitialCapital < 0 {
		return fmt.Errorf("initial capital must not be negative, got %.2f", p.InitialCapital)
	}
	if p.Fees < 0 || p.Fees >= 1 {
		return fmt.Errorf("fee rate must be in [0, 1), got %.4f", p.Fees)
	}
	if p.Slippage < 0 || p.Slippage >= 1 {
		return fmt.Errorf("slippage rate must be in [0, 1), got %.4f", p.Slippage)
	}
	if p.Exposure == 0 {
		p.Exposure = 1.0
	}
	if p.Exposure < 0 || p.Exposure > 1 {
		return fmt.Errorf("exposure must be in (0, 1], got %.4f", p.Exposure)
	}
	if p.PositionSizing == "" {
		p.PositionSizing = SizingFixedFraction
	}
	return nil
}

// PricePoint is one daily close in a historical price series.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// IndicatorKind identifies a technical indicator family.
type IndicatorKind string

const (
	IndicatorMA     IndicatorKind = "MA"
	IndicatorRSI    IndicatorKind = "RSI"
	IndicatorMACD   IndicatorKind = "MACD"
	IndicatorBBANDS IndicatorKind = "BBANDS"
)

// IndicatorDef is one indicator instance over the price series.
// Window is the primary lookback; extra parameters (MACD fast/slow/signal,
// Bollinger std dev) live in Params.
type IndicatorDef struct {
	Kind   IndicatorKind      `json:"kind"`
	Window int                `json:"window"`
	Params map[string]float64 `json:"params,omitempty"`
}

// RuleKind identifies how entry/exit booleans are derived from indicators.
type RuleKind string

const (
	RuleMACross      RuleKind = "ma_cross"      // fast MA crosses slow MA
	RuleRSIThreshold RuleKind = "rsi_threshold" // RSI crosses oversold/overbought bands
	RuleMACDCross    RuleKind = "macd_cross"    // MACD line crosses signal line
	RuleBBandTouch   RuleKind = "bband_touch"   // close touches lower band / reverts to middle
	RulePriceChange  RuleKind = "price_change"  // single-period percent move threshold
)

// SignalRule describes one boolean series over the price index.
// Only the fields relevant to Kind are set.
type SignalRule struct {
	Kind       RuleKind `json:"kind"`
	FastWindow int      `json:"fast_window,omitempty"`
	SlowWindow int      `json:"slow_window,omitempty"`
	Window     int      `json:"window,omitempty"`
	Lower      float64  `json:"lower,omitempty"`      // RSI oversold band
	Upper      float64  `json:"upper,omitempty"`      // RSI overbought band
	ChangePct  float64  `json:"change_pct,omitempty"` // price_change threshold, signed percent
}

// SignalConfig is the executable part of a compiled signal specification:
// the indicator set plus the entry and exit derivations, and the profit
// target / stop loss magnitudes applied relative to entry price.
type SignalConfig struct {
	Indicators    []IndicatorDef `json:"indicators"`
	Entry         SignalRule     `json:"entry"`
	Exit          SignalRule     `json:"exit"`
	TakeProfitPct float64        `json:"take_profit_pct"` // positive magnitude, percent above entry
	StopLossPct   float64        `json:"stop_loss_pct"`   // positive magnitude, percent below entry
}

// Trade sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// TradeRecord is one fill in the simulated ledger. SELL rows carry the
// realized return percent of the round trip they close.
type TradeRecord struct {
	ID        string    `json:"id"`
	Date      time.Time `json:"date"`
	Side      string    `json:"side"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Amount    float64   `json:"amount"`
	ReturnPct *float64  `json:"return_pct,omitempty"`
}

// EquityPoint is one sample of the portfolio and benchmark value series.
type EquityPoint struct {
	Date      time.Time `json:"date"`
	Value     float64   `json:"value"`
	Benchmark float64   `json:"benchmark"`
}

// DrawdownPoint is the percent decline from the running equity peak.
type DrawdownPoint struct {
	Date        time.Time `json:"date"`
	DrawdownPct float64   `json:"drawdown_pct"`
}

// Metrics is the summary performance report of one simulation.
type Metrics struct {
	TotalAmountInvested float64 `json:"total_amount_invested"`
	TotalGain           float64 `json:"total_gain"`
	TotalLoss           float64 `json:"total_loss"`
	TotalReturn         float64 `json:"total_return"` // percent
	CAGR                float64 `json:"cagr"`         // percent, annualized over calendar span
	SharpeRatio         float64 `json:"sharpe_ratio"`
	MaxDrawdown         float64 `json:"max_drawdown"`          // percent, positive magnitude
	MaxDrawdownDuration int     `json:"max_drawdown_duration"` // deepest decline: periods from its peak to recovery, or series end
	WinRate             float64 `json:"win_rate"`              // percent of closed trades
	Trades              int     `json:"trades"`                // closed round trips
	VsBenchmark         float64 `json:"vs_benchmark"`          // percent vs buy-and-hold
}

// Result is the full output of one simulation run.
type Result struct {
	Symbol         string          `json:"symbol"`
	Metrics        Metrics         `json:"metrics"`
	EquitySeries   []EquityPoint   `json:"equity_series"`
	DrawdownSeries []DrawdownPoint `json:"drawdown_series"`
	TradeLedger    []TradeRecord   `json:"trade_ledger"`
}
