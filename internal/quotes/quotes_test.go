package quotes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/STTM-NSU/crypto-trader/internal/config"
	"github.com/STTM-NSU/crypto-trader/internal/logger"
	"github.com/STTM-NSU/crypto-trader/internal/model"
)

var (
	_btc = model.Symbol{Asset: "BTC", Pair: "BTCUSDT", ExternalID: "bitcoin", Enabled: true}
	_eth = model.Symbol{Asset: "ETH", Pair: "ETHUSDT", ExternalID: "ethereum", Enabled: true}
)

func newTestFetcher(t *testing.T, h http.HandlerFunc) *Fetcher {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := config.QuotesConfig{BaseURL: srv.URL}
	if err := cfg.Setup(); err != nil {
		t.Fatal(err)
	}
	cfg.Timeout = time.Second
	cfg.RequestsPerMinute = 6000

	f := NewFetcher(cfg, logger.NewNop())
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestFetchPrice(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("ids"); got != "bitcoin" {
			t.Errorf("ids = %s", got)
		}
		if got := r.URL.Query().Get("vs_currencies"); got != "usd" {
			t.Errorf("vs_currencies = %s", got)
		}
		writeJSON(w, http.StatusOK, `{"bitcoin":{"usd":50000.12}}`)
	})

	p, ok := f.FetchPrice(context.Background(), _btc)
	if !ok {
		t.Fatal("expected a price")
	}
	if p.String() != "50000.12" {
		t.Errorf("price = %s, want 50000.12", p)
	}
}

func TestFetchPriceAbsent(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`},
		{"rate limited", http.StatusTooManyRequests, `{}`},
		{"malformed json", http.StatusOK, `{"bitcoin":`},
		{"missing id", http.StatusOK, `{"ethereum":{"usd":3000}}`},
		{"missing currency", http.StatusOK, `{"bitcoin":{"eur":45000}}`},
		{"zero price", http.StatusOK, `{"bitcoin":{"usd":0}}`},
		{"negative price", http.StatusOK, `{"bitcoin":{"usd":-5}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})
			if p, ok := f.FetchPrice(context.Background(), _btc); ok {
				t.Errorf("expected absent, got %s", p)
			}
		})
	}
}

func TestFetchPriceNoExternalID(t *testing.T) {
	var calls atomic.Int32
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, `{}`)
	})

	if _, ok := f.FetchPrice(context.Background(), model.Symbol{Asset: "XYZ"}); ok {
		t.Error("expected absent")
	}
	if calls.Load() != 0 {
		t.Error("no request should be sent without an external id")
	}
}

func TestFetchPriceNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := config.QuotesConfig{BaseURL: url, Timeout: 200 * time.Millisecond}
	if err := cfg.Setup(); err != nil {
		t.Fatal(err)
	}
	f := NewFetcher(cfg, logger.NewNop())
	defer f.Close()

	if _, ok := f.FetchPrice(context.Background(), _btc); ok {
		t.Error("expected absent on network failure")
	}
}

func TestFetchPricesBatch(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("vs_currencies"); got != "eur" {
			t.Errorf("vs_currencies = %s", got)
		}
		writeJSON(w, http.StatusOK, `{"bitcoin":{"eur":45000},"ethereum":{"eur":"2800.5"}}`)
	})

	prices := f.FetchPrices(context.Background(), []model.Symbol{_btc, _eth}, "EUR")
	if len(prices) != 2 {
		t.Fatalf("got %d prices, want 2", len(prices))
	}
	if prices["BTC"].String() != "45000" {
		t.Errorf("BTC = %s", prices["BTC"])
	}
	if prices["ETH"].String() != "2800.5" {
		t.Errorf("ETH = %s", prices["ETH"])
	}
}

func TestFetchPriceGivesUpWhenContextEndsWhileRateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, `{"bitcoin":{"usd":50000}}`)
	}))
	defer srv.Close()

	cfg := config.QuotesConfig{BaseURL: srv.URL, RequestsPerMinute: 60}
	if err := cfg.Setup(); err != nil {
		t.Fatal(err)
	}
	f := NewFetcher(cfg, logger.NewNop())
	defer f.Close()

	if _, ok := f.FetchPrice(context.Background(), _btc); !ok {
		t.Fatal("first request should pass the limiter")
	}

	// the next slot is a second away
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, ok := f.FetchPrice(ctx, _btc); ok {
		t.Error("expected absent after the context ended")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}
