package quotes

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/STTM-NSU/crypto-trader/internal/model"
	"github.com/shopspring/decimal"
)

const _historyDaysDefault = "30"

// marketChartResponse is {"prices": [[1711843200000, 69702.31], ...]}.
type marketChartResponse struct {
	Prices [][2]decimal.Decimal `json:"prices"`
}

// SimplePrices quotes provider ids in the given fiat currencies, sorted by
// id. Answers are cached per id and currency set.
// curl "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin,ethereum&vs_currencies=usd,eur"
func (f *Fetcher) SimplePrices(ctx context.Context, ids, vs []string) ([]model.SimplePrice, error) {
	ids, vs = normalizeList(ids), normalizeList(vs)
	if len(ids) == 0 || len(vs) == 0 {
		return nil, fmt.Errorf("%w: ids and vs are required", ErrInvalidRequest)
	}

	key := strings.Join(ids, ",") + "|" + strings.Join(vs, ",")
	if cached, ok := f.simple.Get(key); ok {
		return cached, nil
	}

	var body simplePriceResponse
	if err := f.get(ctx, _simplePriceURL, nil, map[string]string{
		"ids":           strings.Join(ids, ","),
		"vs_currencies": strings.Join(vs, ","),
	}, &body); err != nil {
		return nil, fmt.Errorf("%w: can't fetch simple prices", err)
	}

	out := make([]model.SimplePrice, 0, len(body))
	for id, byVs := range body {
		prices := make(map[string]decimal.Decimal, len(byVs))
		for currency, p := range byVs {
			prices[strings.ToLower(currency)] = p
		}
		out = append(out, model.SimplePrice{ID: id, Prices: prices})
	}
	slices.SortFunc(out, func(a, b model.SimplePrice) int {
		return strings.Compare(a.ID, b.ID)
	})

	f.simple.Add(key, out)
	return out, nil
}

// History returns the price series of one provider id over the last days
// ("max" for all). Empty vs and days mean the configured currency and 30.
// curl "https://api.coingecko.com/api/v3/coins/bitcoin/market_chart?vs_currency=usd&days=30"
func (f *Fetcher) History(ctx context.Context, id, vs, days string) (model.PriceHistory, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return model.PriceHistory{}, fmt.Errorf("%w: id is required", ErrInvalidRequest)
	}
	vs = strings.ToLower(strings.TrimSpace(vs))
	if vs == "" {
		vs = f.vsCurrency
	}
	days = strings.ToLower(strings.TrimSpace(days))
	if days == "" {
		days = _historyDaysDefault
	}
	if n, err := strconv.Atoi(days); days != "max" && (err != nil || n <= 0) {
		return model.PriceHistory{}, fmt.Errorf("%w: days must be a positive number or max, got %q", ErrInvalidRequest, days)
	}

	key := id + "|" + vs + "|" + days
	if cached, ok := f.history.Get(key); ok {
		return cached, nil
	}

	var body marketChartResponse
	if err := f.get(ctx, _marketChartURL, map[string]string{"id": id}, map[string]string{
		"vs_currency": vs,
		"days":        days,
	}, &body); err != nil {
		return model.PriceHistory{}, fmt.Errorf("%w: can't fetch %s history", err, id)
	}

	h := model.PriceHistory{ID: id, VsCurrency: vs, Points: make([]model.PricePoint, 0, len(body.Prices))}
	for _, p := range body.Prices {
		h.Points = append(h.Points, model.PricePoint{Timestamp: p[0].IntPart(), Price: p[1]})
	}

	f.history.Add(key, h)
	return h, nil
}

func normalizeList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, s := range strings.Split(item, ",") {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" && !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
	}
	slices.Sort(out)
	return out
}
