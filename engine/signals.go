package engine

import (
	"fmt"

	talib "github.com/markcheno/go-talib"
)

// minHistory returns the number of leading price points a rule needs before
// it can produce a defined boolean value.
func minHistory(r SignalRule) int {
	switch r.Kind {
	case RuleMACross:
		return r.SlowWindow + 1
	case RuleRSIThreshold:
		return r.Window + 1
	case RuleMACDCross:
		return r.SlowWindow + r.Window + 1 // slow EMA plus signal EMA warmup
	case RuleBBandTouch:
		return r.Window
	case RulePriceChange:
		return 2
	default:
		return 0
	}
}

// BuildSignals evaluates the signal configuration over the close series and
// returns aligned entry/exit boolean slices. The price series must be long
// enough to warm up every indicator the rules reference.
func BuildSignals(cfg SignalConfig, prices []PricePoint) (entries, exits []bool, err error) {
	closes := make([]float64, len(prices))
	for i, p := range prices {
		closes[i] = p.Close
	}

	need := minHistory(cfg.Entry)
	if n := minHistory(cfg.Exit); n > need {
		need = n
	}
	if len(closes) < need {
		return nil, nil, fmt.Errorf("insufficient price history: have %d points, need %d", len(closes), need)
	}

	entries, err = evalRule(cfg.Entry, closes, true)
	if err != nil {
		return nil, nil, fmt.Errorf("entry rule: %w", err)
	}
	exits, err = evalRule(cfg.Exit, closes, false)
	if err != nil {
		return nil, nil, fmt.Errorf("exit rule: %w", err)
	}
	return entries, exits, nil
}

// evalRule computes one boolean series. The entry flag selects the bullish
// side of two-sided rules (crossover direction, band choice).
func evalRule(r SignalRule, closes []float64, entry bool) ([]bool, error) {
	out := make([]bool, len(closes))

	switch r.Kind {
	case RuleMACross:
		if r.FastWindow <= 0 || r.SlowWindow <= 0 || r.FastWindow >= r.SlowWindow {
			return nil, fmt.Errorf("ma_cross windows must satisfy 0 < fast < slow, got %d/%d", r.FastWindow, r.SlowWindow)
		}
		fast := talib.Sma(closes, r.FastWindow)
		slow := talib.Sma(closes, r.SlowWindow)
		for i := r.SlowWindow; i < len(closes); i++ {
			if entry {
				out[i] = fast[i] > slow[i] && fast[i-1] <= slow[i-1]
			} else {
				out[i] = fast[i] < slow[i] && fast[i-1] >= slow[i-1]
			}
		}

	case RuleRSIThreshold:
		if r.Window <= 0 {
			return nil, fmt.Errorf("rsi window must be positive, got %d", r.Window)
		}
		rsi := talib.Rsi(closes, r.Window)
		for i := r.Window + 1; i < len(closes); i++ {
			if entry {
				out[i] = rsi[i] < r.Lower && rsi[i-1] >= r.Lower
			} else {
				out[i] = rsi[i] > r.Upper && rsi[i-1] <= r.Upper
			}
		}

	case RuleMACDCross:
		if r.FastWindow <= 0 || r.SlowWindow <= 0 || r.Window <= 0 {
			return nil, fmt.Errorf("macd windows must be positive, got %d/%d/%d", r.FastWindow, r.SlowWindow, r.Window)
		}
		macdLine, signalLine, _ := talib.Macd(closes, r.FastWindow, r.SlowWindow, r.Window)
		start := r.SlowWindow + r.Window
		for i := start; i < len(closes); i++ {
			if entry {
				out[i] = macdLine[i] > signalLine[i] && macdLine[i-1] <= signalLine[i-1]
			} else {
				out[i] = macdLine[i] < signalLine[i] && macdLine[i-1] >= signalLine[i-1]
			}
		}

	case RuleBBandTouch:
		if r.Window <= 0 {
			return nil, fmt.Errorf("bollinger window must be positive, got %d", r.Window)
		}
		dev := r.Upper
		if dev == 0 {
			dev = 2.0
		}
		_, middle, lowerBand := talib.BBands(closes, r.Window, dev, dev, talib.SMA)
		for i := r.Window; i < len(closes); i++ {
			if entry {
				out[i] = closes[i] <= lowerBand[i]
			} else {
				out[i] = closes[i] >= middle[i]
			}
		}

	case RulePriceChange:
		if r.ChangePct == 0 {
			return nil, fmt.Errorf("price_change threshold must be non-zero")
		}
		for i := 1; i < len(closes); i++ {
			if closes[i-1] == 0 {
				continue
			}
			change := (closes[i] - closes[i-1]) / closes[i-1] * 100
			if r.ChangePct < 0 {
				out[i] = change <= r.ChangePct
			} else {
				out[i] = change >= r.ChangePct
			}
		}

	default:
		return nil, fmt.Errorf("unknown rule kind %q", r.Kind)
	}

	return out, nil
}
