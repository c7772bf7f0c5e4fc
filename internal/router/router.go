package router

import (
	"context"
	"fmt"
	"time"

	"github.com/STTM-NSU/crypto-trader/internal/feed"
	"github.com/STTM-NSU/crypto-trader/internal/logger"
	"github.com/STTM-NSU/crypto-trader/internal/model"
	"github.com/STTM-NSU/crypto-trader/internal/symbols"
	"github.com/shopspring/decimal"
)

type Feed interface {
	Connect(ctx context.Context, pairs []string) error
	IsAlive(threshold time.Duration) bool
	Ticks() <-chan model.RawTick
	State() feed.State
}

type Directory interface {
	ReloadIfChanged(ctx context.Context) (bool, error)
	Snapshot() *symbols.Snapshot
}

type PriceCache interface {
	Put(symbol string, price decimal.Decimal, source model.PriceSource) error
}

type Publisher interface {
	Publish(t model.Tick)
}

// Router moves ticks from the feed into the price cache and the live
// fanout, and keeps the feed subscribed to the current symbol set.
type Router struct {
	feed      Feed
	directory Directory
	cache     PriceCache
	publisher Publisher

	staleThreshold      time.Duration
	healthCheckInterval time.Duration

	logger logger.Logger
}

func New(
	f Feed,
	directory Directory,
	cache PriceCache,
	publisher Publisher,
	staleThreshold, healthCheckInterval time.Duration,
	logger logger.Logger,
) *Router {
	return &Router{
		feed:                f,
		directory:           directory,
		cache:               cache,
		publisher:           publisher,
		staleThreshold:      staleThreshold,
		healthCheckInterval: healthCheckInterval,
		logger:              logger,
	}
}

// Init loads the symbol set and connects the feed.
func (r *Router) Init(ctx context.Context) error {
	if _, err := r.directory.ReloadIfChanged(ctx); err != nil {
		return fmt.Errorf("%w: can't load symbols", err)
	}
	return r.connect(ctx)
}

func (r *Router) connect(ctx context.Context) error {
	pairs := r.directory.Snapshot().Pairs
	if len(pairs) == 0 {
		r.logger.Warnf("no enabled symbols, feed not connected")
		return nil
	}
	if err := r.feed.Connect(ctx, pairs); err != nil {
		return fmt.Errorf("%w: can't connect feed", err)
	}
	r.logger.Infof("feed subscribed to %d pairs", len(pairs))
	return nil
}

// HealthCheck reconnects when the feed went quiet or the symbol set changed.
// Liveness is sampled before the reload.
func (r *Router) HealthCheck(ctx context.Context) {
	alive := r.feed.IsAlive(r.staleThreshold)

	changed, err := r.directory.ReloadIfChanged(ctx)
	if err != nil {
		r.logger.Errorf("%s: can't reload symbols", err)
		changed = false
	}

	if alive && !changed {
		return
	}
	r.logger.Infof("reconnecting feed: alive=%t symbols changed=%t state=%s", alive, changed, r.feed.State())
	if err := r.connect(ctx); err != nil {
		r.logger.Errorf("%s", err)
	}
}

func (r *Router) HandleTick(raw model.RawTick) {
	sym, ok := r.directory.Snapshot().Lookup(raw.Pair)
	if !ok {
		r.logger.Debugf("drop tick for unknown pair %s", raw.Pair)
		return
	}

	price, err := decimal.NewFromString(raw.Price)
	if err != nil || !price.IsPositive() {
		r.logger.Debugf("drop tick %s with bad price %q", raw.Pair, raw.Price)
		return
	}

	at := raw.TradeTime
	if at.IsZero() || at.Unix() <= 0 {
		at = raw.ReceivedAt
	}
	r.publisher.Publish(model.Tick{
		Asset:      sym.Asset,
		ExternalID: sym.ExternalID,
		Price:      price,
		At:         at,
	})
	if err := r.cache.Put(sym.Asset, price, model.SourceStream); err != nil {
		r.logger.Warnf("%s: can't cache %s price", err, sym.Asset)
	}
}

func (r *Router) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw := <-r.feed.Ticks():
			r.HandleTick(raw)
		case <-ticker.C:
			r.HealthCheck(ctx)
		}
	}
}
