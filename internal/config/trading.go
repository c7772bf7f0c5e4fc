package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/STTM-NSU/crypto-trader/internal/model"
)

type HTTPConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

const (
	_httpPortDefault     = "8080"
	_feeRateDefault      = 0.003
	_priceTTLDefault     = 30 * time.Second
	_storageDefault      = Postgres
	_fiatCurrencyDefault = "BGN"
)

func (c *HTTPConfig) Setup() {
	if c.Port == "" {
		c.Port = _httpPortDefault
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
}

type TradingConfig struct {
	FeeRate  float64       `yaml:"fee_rate"`
	PriceTTL time.Duration `yaml:"price_ttl"`
}

func (c *TradingConfig) Setup() error {
	if c.FeeRate < 0 || c.FeeRate >= 1 {
		return fmt.Errorf("fee rate %v out of range [0, 1)", c.FeeRate)
	}
	if c.FeeRate == 0 {
		c.FeeRate = _feeRateDefault
	}
	if c.PriceTTL <= 0 {
		c.PriceTTL = _priceTTLDefault
	}
	return nil
}

type StorageDriver string

const (
	Postgres StorageDriver = "postgres"
	Memory   StorageDriver = "memory"
)

type StorageConfig struct {
	Driver  StorageDriver `yaml:"driver"`
	Migrate bool          `yaml:"migrate"`
}

func (c *StorageConfig) Setup() error {
	if c.Driver == "" {
		c.Driver = _storageDefault
	}
	switch c.Driver {
	case Postgres, Memory:
		return nil
	default:
		return fmt.Errorf("unknown storage driver %q", c.Driver)
	}
}

type SymbolSeed struct {
	Asset      string `yaml:"asset"`
	Pair       string `yaml:"pair"`
	ExternalID string `yaml:"external_id"`
}

type AccountSeed struct {
	ID             string           `yaml:"id"`
	UserID         string           `yaml:"user_id"`
	IBAN           string           `yaml:"iban"`
	Balance        model.MoneyValue `yaml:"balance"`
	TradingEnabled bool             `yaml:"trading_enabled"`
}

// SeedConfig populates the in-memory storage driver.
type SeedConfig struct {
	Symbols  []SymbolSeed  `yaml:"symbols"`
	Accounts []AccountSeed `yaml:"accounts"`
}

func (c *SeedConfig) Validate() error {
	pairs := make(map[string]struct{}, len(c.Symbols))
	assets := make(map[string]struct{}, len(c.Symbols))
	ids := make(map[string]struct{}, len(c.Symbols))
	for i := range c.Symbols {
		s := &c.Symbols[i]
		s.Asset = strings.ToUpper(strings.TrimSpace(s.Asset))
		s.Pair = strings.ToUpper(strings.TrimSpace(s.Pair))
		s.ExternalID = strings.ToLower(strings.TrimSpace(s.ExternalID))
		if s.Asset == "" || s.Pair == "" {
			return fmt.Errorf("symbol #%d: asset and pair are required", i)
		}
		if _, ok := assets[s.Asset]; ok {
			return fmt.Errorf("duplicate asset %s", s.Asset)
		}
		if _, ok := pairs[s.Pair]; ok {
			return fmt.Errorf("duplicate pair %s", s.Pair)
		}
		if s.ExternalID != "" {
			if _, ok := ids[s.ExternalID]; ok {
				return fmt.Errorf("duplicate external id %s", s.ExternalID)
			}
			ids[s.ExternalID] = struct{}{}
		}
		assets[s.Asset] = struct{}{}
		pairs[s.Pair] = struct{}{}
	}
	for i := range c.Accounts {
		a := &c.Accounts[i]
		if a.IBAN == "" {
			return fmt.Errorf("account #%d: empty iban", i)
		}
		if a.Balance.Value < 0 {
			return fmt.Errorf("account %s: negative balance", a.IBAN)
		}
		if a.Balance.Currency == "" {
			a.Balance.Currency = _fiatCurrencyDefault
		}
	}
	return nil
}
