package quotes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/STTM-NSU/crypto-trader/internal/config"
	"github.com/STTM-NSU/crypto-trader/internal/logger"
	"github.com/STTM-NSU/crypto-trader/internal/model"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"
	"go.uber.org/ratelimit"
	"resty.dev/v3"
)

const (
	_simplePriceURL = "/simple/price"
	_marketChartURL = "/coins/{id}/market_chart"
)

var (
	ErrInvalidRequest = errors.New("invalid market data request")
	ErrUnavailable    = errors.New("market data unavailable")
)

// simplePriceResponse is {"bitcoin": {"usd": 50000.12}}.
type simplePriceResponse map[string]map[string]decimal.Decimal

// Fetcher asks the quote provider for a spot price when the cache has
// nothing fresh. FetchPrice and FetchPrices never return an error: any
// failure is logged and the price is reported as absent.
type Fetcher struct {
	c           *resty.Client
	vsCurrency  string
	rateLimiter ratelimit.Limiter

	simple  *expirable.LRU[string, []model.SimplePrice]
	history *expirable.LRU[string, model.PriceHistory]

	logger logger.Logger
}

func NewFetcher(cfg config.QuotesConfig, logger logger.Logger) *Fetcher {
	client := resty.New().
		SetLogger(logger).
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)

	return &Fetcher{
		c:           client,
		vsCurrency:  strings.ToLower(cfg.VsCurrency),
		rateLimiter: ratelimit.New(cfg.RequestsPerMinute, ratelimit.Per(time.Minute)),
		simple:      expirable.NewLRU[string, []model.SimplePrice](cfg.ResponseCacheSize, nil, cfg.ResponseCacheTTL),
		history:     expirable.NewLRU[string, model.PriceHistory](cfg.ResponseCacheSize, nil, cfg.ResponseCacheTTL),
		logger:      logger,
	}
}

func (f *Fetcher) VsCurrency() string {
	return f.vsCurrency
}

func (f *Fetcher) Close() error {
	return f.c.Close()
}

// curl "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd"
func (f *Fetcher) FetchPrice(ctx context.Context, sym model.Symbol) (decimal.Decimal, bool) {
	prices := f.FetchPrices(ctx, []model.Symbol{sym}, f.vsCurrency)
	p, ok := prices[sym.Asset]
	return p, ok
}

// FetchPrices resolves many symbols with one request. Symbols missing from
// the answer are missing from the result.
func (f *Fetcher) FetchPrices(ctx context.Context, syms []model.Symbol, vs string) map[string]decimal.Decimal {
	vs = strings.ToLower(strings.TrimSpace(vs))
	if vs == "" {
		vs = f.vsCurrency
	}

	byID := make(map[string]string, len(syms))
	ids := make([]string, 0, len(syms))
	for _, s := range syms {
		if s.ExternalID == "" {
			f.logger.Warnf("symbol %s has no external id", s.Asset)
			continue
		}
		if _, ok := byID[s.ExternalID]; !ok {
			ids = append(ids, s.ExternalID)
		}
		byID[s.ExternalID] = s.Asset
	}
	result := make(map[string]decimal.Decimal, len(ids))
	if len(ids) == 0 {
		return result
	}

	var body simplePriceResponse
	if err := f.get(ctx, _simplePriceURL, nil, map[string]string{
		"ids":           strings.Join(ids, ","),
		"vs_currencies": vs,
	}, &body); err != nil {
		f.logger.Warnf("%s: can't fetch price for %v", err, ids)
		return result
	}

	for id, asset := range byID {
		p, ok := body[id][vs]
		if !ok {
			f.logger.Warnf("no %s quote for %s", vs, id)
			continue
		}
		if !p.IsPositive() {
			f.logger.Warnf("non-positive %s quote for %s: %s", vs, id, p)
			continue
		}
		result[asset] = p
	}

	return result
}

// get runs one rate-limited provider call and decodes the body into result.
func (f *Fetcher) get(ctx context.Context, path string, pathParams, query map[string]string, result any) error {
	f.rateLimiter.Take()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	resp, err := f.c.R().
		SetPathParams(pathParams).
		SetQueryParams(query).
		SetResult(result).
		SetContext(ctx).
		Get(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	f.logger.Debugf("got response %s status: %s, %s", resp.Request.URL, resp.Status(), resp.Duration())

	if !resp.IsSuccess() {
		return fmt.Errorf("%w: provider answered %s", ErrUnavailable, resp.Status())
	}
	return nil
}
