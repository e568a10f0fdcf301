package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"quantflow/engine"
)

// CoinGeckoClient fetches historical prices from the CoinGecko
// market_chart/range endpoint and resamples them to daily closes.
type CoinGeckoClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetry   time.Duration
	log        zerolog.Logger
}

// NewCoinGeckoClient builds a client. baseURL is the API root without a
// trailing slash (e.g. https://api.coingecko.com/api/v3). apiKey may be
// empty for the public tier.
func NewCoinGeckoClient(baseURL, apiKey string, requestTimeout, maxRetryTime time.Duration, logger zerolog.Logger) *CoinGeckoClient {
	return &CoinGeckoClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		maxRetry:   maxRetryTime,
		log:        logger.With().Str("component", "coingecko").Logger(),
	}
}

type marketChartResponse struct {
	Prices [][]float64 `json:"prices"`
}

// FetchDailyCloses implements Provider. Intraday points from the range
// endpoint are collapsed to one close per UTC calendar day (last
// observation of the day), and the series is returned in ascending date
// order clipped to [start, end].
func (c *CoinGeckoClient) FetchDailyCloses(ctx context.Context, category string, start, end time.Time) ([]engine.PricePoint, error) {
	tokenID, ok := TokenID(category)
	if !ok {
		return nil, fmt.Errorf("unsupported category: %s", category)
	}

	endpoint := fmt.Sprintf("%s/coins/%s/market_chart/range", c.baseURL, url.PathEscape(tokenID))
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("from", fmt.Sprintf("%d", start.Unix()))
	q.Set("to", fmt.Sprintf("%d", end.Add(24*time.Hour).Unix()))

	var chart marketChartResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("x-cg-demo-api-key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			c.log.Warn().Int("status", resp.StatusCode).Str("token", tokenID).Msg("retryable provider error")
			return fmt.Errorf("provider returned status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(body)))
		}

		if err := json.Unmarshal(body, &chart); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxRetry
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("fetch %s prices: %w", tokenID, err)
	}

	series := resampleDaily(chart.Prices, start, end)
	if len(series) == 0 {
		return nil, fmt.Errorf("no price data for %s between %s and %s",
			tokenID, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	c.log.Info().Str("token", tokenID).Int("points", len(series)).Msg("fetched daily closes")
	return series, nil
}

// resampleDaily keeps the last observation per UTC day within [start, end].
func resampleDaily(raw [][]float64, start, end time.Time) []engine.PricePoint {
	byDay := make(map[string]engine.PricePoint)
	for _, pair := range raw {
		if len(pair) < 2 {
			continue
		}
		ts := time.UnixMilli(int64(pair[0])).UTC()
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		if day.Before(start.UTC().Truncate(24*time.Hour)) || day.After(end.UTC()) {
			continue
		}
		byDay[day.Format("2006-01-02")] = engine.PricePoint{Date: day, Close: pair[1]}
	}

	out := make([]engine.PricePoint, 0, len(byDay))
	for _, p := range byDay {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
