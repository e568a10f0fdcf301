package marketdata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(baseURL string) *CoinGeckoClient {
	return NewCoinGeckoClient(baseURL, "", 2*time.Second, 3*time.Second, zerolog.Nop())
}

func chartBody(points [][2]float64) []byte {
	prices := make([][]float64, len(points))
	for i, p := range points {
		prices[i] = []float64{p[0], p[1]}
	}
	body, _ := json.Marshal(map[string]any{"prices": prices})
	return body
}

func TestFetchDailyClosesResamplesToDaily(t *testing.T) {
	day1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	// Two intraday points on day 1; only the later close survives.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coins/bitcoin/market_chart/range" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("vs_currency"); got != "usd" {
			t.Errorf("vs_currency: got %q", got)
		}
		w.Write(chartBody([][2]float64{
			{float64(day1.Add(4 * time.Hour).UnixMilli()), 100},
			{float64(day1.Add(20 * time.Hour).UnixMilli()), 105},
			{float64(day2.Add(12 * time.Hour).UnixMilli()), 110},
		}))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	series, err := client.FetchDailyCloses(context.Background(), "Bitcoin", day1, day2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(series) != 2 {
		t.Fatalf("expected 2 daily points, got %d", len(series))
	}
	if series[0].Close != 105 {
		t.Errorf("day 1 close must be the last observation, got %.0f", series[0].Close)
	}
	if series[1].Close != 110 {
		t.Errorf("day 2 close: got %.0f", series[1].Close)
	}
	if !series[0].Date.Before(series[1].Date) {
		t.Error("series must be in ascending date order")
	}
}

func TestFetchDailyClosesRetriesServerErrors(t *testing.T) {
	day1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(chartBody([][2]float64{
			{float64(day1.UnixMilli()), 100},
		}))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	series, err := client.FetchDailyCloses(context.Background(), "Bitcoin", day1, day1)
	if err != nil {
		t.Fatalf("expected retry to recover: %v", err)
	}
	if len(series) != 1 {
		t.Fatalf("expected 1 point, got %d", len(series))
	}
	if atomic.LoadInt32(&calls) < 2 {
		t.Errorf("expected at least 2 attempts, got %d", calls)
	}
}

func TestFetchDailyClosesClientErrorIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.FetchDailyCloses(context.Background(), "Bitcoin",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	if err == nil {
		t.Fatal("expected an error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", calls)
	}
}

func TestFetchDailyClosesUnsupportedCategory(t *testing.T) {
	client := newTestClient("http://localhost:0")
	_, err := client.FetchDailyCloses(context.Background(), "Tulips",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	if err == nil {
		t.Fatal("expected an error for an unsupported category")
	}
}

func TestTokenID(t *testing.T) {
	tests := []struct {
		category string
		want     string
		ok       bool
	}{
		{"Bitcoin", "bitcoin", true},
		{"BTC", "bitcoin", true},
		{"Ethereum", "ethereum", true},
		{"DeFi", "uniswap", true},
		{"Tulips", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			id, ok := TokenID(tt.category)
			if ok != tt.ok || id != tt.want {
				t.Errorf("TokenID(%q) = %q, %v; want %q, %v", tt.category, id, ok, tt.want, tt.ok)
			}
		})
	}
}
