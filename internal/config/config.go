package config

import (
	"fmt"
	"os"

	"github.com/STTM-NSU/crypto-trader/internal/logger"
	"gopkg.in/yaml.v3"
)

type TraderConfig struct {
	LogLevel string        `yaml:"log_level"`
	HTTP     HTTPConfig    `yaml:"http"`
	Feed     FeedConfig    `yaml:"feed"`
	Quotes   QuotesConfig  `yaml:"quotes"`
	Cache    CacheConfig   `yaml:"cache"`
	Live     LiveConfig    `yaml:"live"`
	Trading  TradingConfig `yaml:"trading"`
	Storage  StorageConfig `yaml:"storage"`
	Seed     SeedConfig    `yaml:"seed"`
}

func (c *TraderConfig) ValidateAndSetup() error {
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	c.HTTP.Setup()
	if err := c.Feed.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup feed", err)
	}
	if err := c.Quotes.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup quotes", err)
	}
	c.Cache.Setup()
	c.Live.Setup()
	if err := c.Trading.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup trading", err)
	}
	if err := c.Storage.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup storage", err)
	}
	if err := c.Seed.Validate(); err != nil {
		return fmt.Errorf("%w: invalid seed", err)
	}

	return nil
}

func LoadTraderConfig(filename string) (TraderConfig, error) {
	var cfg TraderConfig
	input, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("%w: can't read file", err)
	}

	if err := yaml.Unmarshal(input, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: can't unmarshal config", err)
	}

	if err := cfg.ValidateAndSetup(); err != nil {
		return cfg, fmt.Errorf("%w: can't setup cfg", err)
	}

	return cfg, nil
}
