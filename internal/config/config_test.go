package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trader.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadTraderConfigDefaults(t *testing.T) {
	cfg, err := LoadTraderConfig(writeConfig(t, "storage:\n  driver: memory\n"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Feed.URL != _feedURLDefault || cfg.Feed.StreamSuffix != "@trade" {
		t.Errorf("feed = %+v", cfg.Feed)
	}
	if cfg.Feed.StaleThreshold != 30*time.Second || cfg.Feed.HealthCheckInterval != 30*time.Second {
		t.Errorf("feed timings = %+v", cfg.Feed)
	}
	if cfg.Quotes.BaseURL != "https://api.coingecko.com/api/v3" || cfg.Quotes.VsCurrency != "usd" {
		t.Errorf("quotes = %+v", cfg.Quotes)
	}
	if cfg.Quotes.ResponseCacheSize != 256 || cfg.Quotes.ResponseCacheTTL != time.Minute {
		t.Errorf("quotes response cache = %+v", cfg.Quotes)
	}
	if cfg.Cache.Capacity != 1000 || cfg.Cache.Expiry != 30*time.Second {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Trading.FeeRate != 0.003 || cfg.Trading.PriceTTL != 30*time.Second {
		t.Errorf("trading = %+v", cfg.Trading)
	}
	if cfg.Live.SampleInterval != time.Second {
		t.Errorf("live = %+v", cfg.Live)
	}
	if cfg.HTTP.Port != "8080" {
		t.Errorf("port = %s", cfg.HTTP.Port)
	}
}

func TestLoadTraderConfig(t *testing.T) {
	cfg, err := LoadTraderConfig(writeConfig(t, `
log_level: debug
feed:
  url: ws://localhost:9000/stream
  stale_threshold: 5s
quotes:
  base_url: http://localhost:9001/api/
  vs_currency: EUR
trading:
  fee_rate: 0.001
storage:
  driver: memory
seed:
  symbols:
    - { asset: btc, pair: btcusdt, external_id: bitcoin }
  accounts:
    - iban: BG80BNBG96611020345678
      balance: { value: 250.5 }
      trading_enabled: true
`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Feed.StaleThreshold != 5*time.Second {
		t.Errorf("stale threshold = %s", cfg.Feed.StaleThreshold)
	}
	if cfg.Quotes.BaseURL != "http://localhost:9001/api" || cfg.Quotes.VsCurrency != "eur" {
		t.Errorf("quotes = %+v", cfg.Quotes)
	}
	if cfg.Trading.FeeRate != 0.001 {
		t.Errorf("fee rate = %v", cfg.Trading.FeeRate)
	}
	if s := cfg.Seed.Symbols[0]; s.Asset != "BTC" || s.Pair != "BTCUSDT" {
		t.Errorf("symbol seed = %+v", s)
	}
	if a := cfg.Seed.Accounts[0]; a.Balance.Value != 250.5 || a.Balance.Currency != "BGN" {
		t.Errorf("account seed = %+v", a)
	}
}

func TestLoadTraderConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad log level", "log_level: loud\n"},
		{"http feed url", "feed:\n  url: http://stream.example\n"},
		{"fee rate out of range", "trading:\n  fee_rate: 1.5\n"},
		{"unknown driver", "storage:\n  driver: mongo\n"},
		{"duplicate pair", "seed:\n  symbols:\n    - { asset: A, pair: X }\n    - { asset: B, pair: x }\n"},
		{"duplicate external id", "seed:\n  symbols:\n    - { asset: A, pair: X, external_id: coin }\n    - { asset: B, pair: Y, external_id: Coin }\n"},
		{"negative balance", "seed:\n  accounts:\n    - { iban: X, balance: { value: -1 } }\n"},
		{"not yaml", "feed: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadTraderConfig(writeConfig(t, tt.body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadTraderConfigMissingFile(t *testing.T) {
	if _, err := LoadTraderConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error")
	}
}
