package engine

import (
	"fmt"
)

// Simulate replays a single-asset, long-only portfolio over the price series.
// entries/exits must be aligned to prices index for index. At most one action
// happens per bar: an open position is checked for exit (signal, profit
// target or stop loss) before a flat portfolio is checked for entry, so a
// position opened on bar i can only close from bar i+1 onwards. Any position
// still open at the end of the series is force-closed on the last bar.
//
// takeProfitPct and stopLossPct are positive percent magnitudes relative to
// the entry fill price; zero disables the respective check.
func Simulate(symbol string, prices []PricePoint, entries, exits []bool, params BacktestParams, takeProfitPct, stopLossPct float64) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("empty price series")
	}
	if len(entries) != len(prices) || len(exits) != len(prices) {
		return nil, fmt.Errorf("signal series not aligned: %d prices, %d entries, %d exits",
			len(prices), len(entries), len(exits))
	}
	if takeProfitPct < 0 || stopLossPct < 0 {
		return nil, fmt.Errorf("profit target and stop loss must be non-negative magnitudes")
	}
	for i := 1; i < len(prices); i++ {
		if !prices[i].Date.After(prices[i-1].Date) {
			return nil, fmt.Errorf("price series not strictly increasing in time at index %d", i)
		}
	}

	friction := params.Fees + params.Slippage

	// Benchmark: buy and hold the same asset over the same window.
	benchQty := params.InitialCapital / prices[0].Close

	cash := params.InitialCapital
	var posQty, costBasis, entryPrice float64
	open := false
	roundTrip := 0

	equity := make([]EquityPoint, 0, len(prices))
	var ledger []TradeRecord
	var wins, closed int
	var totalGain, totalLoss float64

	closePosition := func(i int) {
		price := prices[i].Close
		gross := posQty * price
		fee := gross * friction
		proceeds := gross - fee
		cash += proceeds

		pnl := proceeds - costBasis
		returnPct := 0.0
		if costBasis > 0 {
			returnPct = pnl / costBasis * 100
		}
		closed++
		if pnl > 0 {
			wins++
			totalGain += pnl
		} else {
			totalLoss += -pnl
		}

		rp := returnPct
		ledger = append(ledger, TradeRecord{
			ID:        fmt.Sprintf("trade-%d-exit", roundTrip),
			Date:      prices[i].Date,
			Side:      SideSell,
			Symbol:    symbol,
			Price:     price,
			Quantity:  posQty,
			Amount:    gross,
			ReturnPct: &rp,
		})

		posQty, costBasis, entryPrice = 0, 0, 0
		open = false
		roundTrip++
	}

	for i := range prices {
		price := prices[i].Close

		if open {
			hitTP := takeProfitPct > 0 && price >= entryPrice*(1+takeProfitPct/100)
			hitSL := stopLossPct > 0 && price <= entryPrice*(1-stopLossPct/100)
			if exits[i] || hitTP || hitSL || i == len(prices)-1 {
				closePosition(i)
			}
		} else if entries[i] && i < len(prices)-1 {
			notional := params.InitialCapital * params.Exposure
			if notional > cash {
				notional = cash
			}
			if notional > 0 && price > 0 {
				posQty = notional * (1 - friction) / price
				cash -= notional
				costBasis = notional
				entryPrice = price
				open = true

				ledger = append(ledger, TradeRecord{
					ID:       fmt.Sprintf("trade-%d-entry", roundTrip),
					Date:     prices[i].Date,
					Side:     SideBuy,
					Symbol:   symbol,
					Price:    price,
					Quantity: posQty,
					Amount:   posQty * price,
				})
			}
		}

		equity = append(equity, EquityPoint{
			Date:      prices[i].Date,
			Value:     cash + posQty*price,
			Benchmark: benchQty * price,
		})
	}

	metrics := computeMetrics(equity, params, wins, closed, totalGain, totalLoss)
	drawdowns, maxDD, maxDDDuration := drawdownSeries(equity)
	metrics.MaxDrawdown = maxDD
	metrics.MaxDrawdownDuration = maxDDDuration

	return &Result{
		Symbol:         symbol,
		Metrics:        metrics,
		EquitySeries:   equity,
		DrawdownSeries: drawdowns,
		TradeLedger:    ledger,
	}, nil
}
