package engine

import (
	"math"
)

// tradingDaysPerYear is the annualization factor for the Sharpe ratio.
const tradingDaysPerYear = 252

// computeMetrics derives the summary report from the equity series and the
// trade tallies accumulated during simulation. Drawdown figures are filled
// in by the caller from drawdownSeries.
func computeMetrics(equity []EquityPoint, params BacktestParams, wins, closed int, totalGain, totalLoss float64) Metrics {
	m := Metrics{
		TotalAmountInvested: params.InitialCapital,
		TotalGain:           totalGain,
		TotalLoss:           totalLoss,
		Trades:              closed,
	}
	if len(equity) == 0 {
		return m
	}

	final := equity[len(equity)-1].Value
	m.TotalReturn = (final/params.InitialCapital - 1) * 100

	// CAGR over the actual calendar span of the series.
	years := equity[len(equity)-1].Date.Sub(equity[0].Date).Hours() / 24 / 365.25
	if years > 0 && final > 0 {
		m.CAGR = (math.Pow(final/params.InitialCapital, 1/years) - 1) * 100
	}

	m.SharpeRatio = sharpeRatio(equity)

	if closed > 0 {
		m.WinRate = float64(wins) / float64(closed) * 100
	}

	benchFinal := equity[len(equity)-1].Benchmark
	benchStart := equity[0].Benchmark
	if benchStart > 0 {
		benchReturn := (benchFinal/benchStart - 1) * 100
		m.VsBenchmark = m.TotalReturn - benchReturn
	}

	return m
}

// sharpeRatio computes the annualized mean/stdev of the per-period equity
// return series. A flat series reports zero rather than NaN.
func sharpeRatio(equity []EquityPoint) float64 {
	if len(equity) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Value
		if prev == 0 {
			continue
		}
		returns = append(returns, (equity[i].Value-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var sumSq float64
	for _, r := range returns {
		d := r - mean
		sumSq += d * d
	}
	stdev := math.Sqrt(sumSq / float64(len(returns)-1))
	if stdev == 0 {
		return 0
	}
	return mean / stdev * math.Sqrt(tradingDaysPerYear)
}

// drawdownSeries computes the percent decline from the running equity peak
// at every index, the largest such decline, and that decline's duration:
// the periods from its peak until equity first recovers to the peak value,
// or until the end of the series if it never does.
func drawdownSeries(equity []EquityPoint) ([]DrawdownPoint, float64, int) {
	series := make([]DrawdownPoint, 0, len(equity))
	if len(equity) == 0 {
		return series, 0, 0
	}

	peak := equity[0].Value
	peakIdx := 0
	maxDD := 0.0
	maxDDPeakIdx := 0
	maxDDPeakValue := peak

	for i, pt := range equity {
		if pt.Value >= peak {
			peak = pt.Value
			peakIdx = i
		}

		dd := 0.0
		if peak > 0 {
			dd = (peak - pt.Value) / peak * 100
		}
		if dd > maxDD {
			maxDD = dd
			maxDDPeakIdx = peakIdx
			maxDDPeakValue = peak
		}

		series = append(series, DrawdownPoint{Date: pt.Date, DrawdownPct: dd})
	}

	if maxDD == 0 {
		return series, 0, 0
	}

	duration := len(equity) - 1 - maxDDPeakIdx
	for i := maxDDPeakIdx + 1; i < len(equity); i++ {
		if equity[i].Value >= maxDDPeakValue {
			duration = i - maxDDPeakIdx
			break
		}
	}

	return series, maxDD, duration
}
