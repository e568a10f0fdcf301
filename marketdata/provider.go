// Package marketdata supplies historical daily price series for the
// backtest pipeline. The Provider interface is the pipeline's only view;
// provider-level fallback policy stays behind it.
package marketdata

import (
	"context"
	"sort"
	"time"

	"quantflow/engine"
)

// Provider fetches an ordered daily close series for a traded category
// over a date range. Implementations own retries; any error they return
// is fatal to the execution that requested the data.
type Provider interface {
	FetchDailyCloses(ctx context.Context, category string, start, end time.Time) ([]engine.PricePoint, error)
}

// tokenIDs maps traded category names to provider token IDs.
// Top 20 cryptocurrencies by market cap plus representative category tokens.
var tokenIDs = map[string]string{
	"Bitcoin":          "bitcoin",
	"BTC":              "bitcoin",
	"Ethereum":         "ethereum",
	"ETH":              "ethereum",
	"Tether":           "tether",
	"BNB":              "binancecoin",
	"Solana":           "solana",
	"XRP":              "ripple",
	"Cardano":          "cardano",
	"Dogecoin":         "dogecoin",
	"Avalanche":        "avalanche-2",
	"Polkadot":         "polkadot",
	"TRON":             "tron",
	"Chainlink":        "chainlink",
	"Polygon":          "matic-network",
	"Litecoin":         "litecoin",
	"Shiba Inu":        "shiba-inu",
	"Uniswap":          "uniswap",
	"Dai":              "dai",
	"Wrapped Bitcoin":  "wrapped-bitcoin",
	"Cosmos":           "cosmos",
	"Ethereum Classic": "ethereum-classic",
	// Representative tokens for sector categories
	"DeFi":   "uniswap",
	"Layer1": "ethereum",
}

// TokenID resolves a category name to the provider token ID. The second
// return value reports whether the category is supported.
func TokenID(category string) (string, bool) {
	id, ok := tokenIDs[category]
	return id, ok
}

// SupportedCategories returns the category names the provider can
// serve, sorted alphabetically.
func SupportedCategories() []string {
	out := make([]string, 0, len(tokenIDs))
	for name := range tokenIDs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
