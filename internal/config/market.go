package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type FeedConfig struct {
	URL                 string        `yaml:"url"`
	StreamSuffix        string        `yaml:"stream_suffix"`
	StaleThreshold      time.Duration `yaml:"stale_threshold"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	HandshakeTimeout    time.Duration `yaml:"handshake_timeout"`
	TickBuffer          int           `yaml:"tick_buffer"`
}

const (
	_feedURLDefault              = "wss://stream.binance.com:9443/stream"
	_streamSuffixDefault         = "@trade"
	_staleThresholdDefault       = 30 * time.Second
	_healthCheckIntervalDefault  = 30 * time.Second
	_handshakeTimeoutDefault     = 10 * time.Second
	_tickBufferDefault           = 1024
	_quotesBaseURLDefault        = "https://api.coingecko.com/api/v3"
	_quotesVsCurrencyDefault     = "usd"
	_quotesTimeoutDefault        = 5 * time.Second
	_quotesRequestsPerMinDefault = 30
	_quotesResponseCacheDefault  = 256
	_quotesResponseTTLDefault    = time.Minute
	_cacheCapacityDefault        = 1000
	_cacheExpiryDefault          = 30 * time.Second
	_liveSampleIntervalDefault   = 1 * time.Second
)

func (c *FeedConfig) Setup() error {
	if c.URL == "" {
		c.URL = _feedURLDefault
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("feed url must be ws or wss, got %q", u.Scheme)
	}
	if c.StreamSuffix == "" {
		c.StreamSuffix = _streamSuffixDefault
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = _staleThresholdDefault
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = _healthCheckIntervalDefault
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = _handshakeTimeoutDefault
	}
	if c.TickBuffer <= 0 {
		c.TickBuffer = _tickBufferDefault
	}
	return nil
}

type QuotesConfig struct {
	BaseURL           string        `yaml:"base_url"`
	VsCurrency        string        `yaml:"vs_currency"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	// market data responses served to API clients
	ResponseCacheSize int           `yaml:"response_cache_size"`
	ResponseCacheTTL  time.Duration `yaml:"response_cache_ttl"`
}

func (c *QuotesConfig) Setup() error {
	if c.BaseURL == "" {
		c.BaseURL = _quotesBaseURLDefault
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return err
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.VsCurrency == "" {
		c.VsCurrency = _quotesVsCurrencyDefault
	}
	c.VsCurrency = strings.ToLower(c.VsCurrency)
	if c.Timeout <= 0 {
		c.Timeout = _quotesTimeoutDefault
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = _quotesRequestsPerMinDefault
	}
	if c.ResponseCacheSize <= 0 {
		c.ResponseCacheSize = _quotesResponseCacheDefault
	}
	if c.ResponseCacheTTL <= 0 {
		c.ResponseCacheTTL = _quotesResponseTTLDefault
	}
	return nil
}

type CacheConfig struct {
	Capacity int           `yaml:"capacity"`
	Expiry   time.Duration `yaml:"expiry"`
}

func (c *CacheConfig) Setup() {
	if c.Capacity <= 0 {
		c.Capacity = _cacheCapacityDefault
	}
	if c.Expiry <= 0 {
		c.Expiry = _cacheExpiryDefault
	}
}

type LiveConfig struct {
	SampleInterval time.Duration `yaml:"sample_interval"`
}

func (c *LiveConfig) Setup() {
	if c.SampleInterval <= 0 {
		c.SampleInterval = _liveSampleIntervalDefault
	}
}
