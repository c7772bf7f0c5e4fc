package pricecache

import (
	"errors"
	"strings"
	"time"

	"github.com/STTM-NSU/crypto-trader/internal/model"
	"github.com/STTM-NSU/crypto-trader/internal/tools"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"
)

var ErrNonPositivePrice = errors.New("price must be positive")

const (
	DefaultCapacity = 1000
	DefaultExpiry   = 30 * time.Second
)

// Cache keeps the last observed price per symbol. Entries expire on their
// own after the configured expiry regardless of what freshness callers ask
// for in IsFresh.
type Cache struct {
	lru *expirable.LRU[string, model.PriceEntry]
	now func() time.Time
}

type Option func(*Cache)

// WithClock overrides the capture timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

func New(capacity int, expiry time.Duration, opts ...Option) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}

	c := &Cache{
		lru: expirable.NewLRU[string, model.PriceEntry](capacity, nil, expiry),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func key(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (c *Cache) Get(symbol string) (model.PriceEntry, bool) {
	return c.lru.Get(key(symbol))
}

func (c *Cache) Put(symbol string, price decimal.Decimal, source model.PriceSource) error {
	if !price.IsPositive() {
		return ErrNonPositivePrice
	}

	k := key(symbol)
	c.lru.Add(k, model.PriceEntry{
		Symbol:     k,
		Price:      tools.RoundQuantity(price),
		CapturedAt: c.now(),
		Source:     source,
	})
	return nil
}

func (c *Cache) IsFresh(entry model.PriceEntry, ttl time.Duration) bool {
	return c.now().Sub(entry.CapturedAt) < ttl
}

func (c *Cache) Len() int {
	return c.lru.Len()
}
