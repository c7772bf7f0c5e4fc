package trading

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/STTM-NSU/crypto-trader/internal/config"
	"github.com/STTM-NSU/crypto-trader/internal/ledger"
	"github.com/STTM-NSU/crypto-trader/internal/logger"
	"github.com/STTM-NSU/crypto-trader/internal/model"
	"github.com/STTM-NSU/crypto-trader/internal/pricecache"
	"github.com/STTM-NSU/crypto-trader/internal/symbols"
	"github.com/STTM-NSU/crypto-trader/internal/tools"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const _iban = "BG80BNBG96611020345678"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeFetcher struct {
	mu      sync.Mutex
	prices  map[string]decimal.Decimal
	batch   map[string]map[string]decimal.Decimal
	calls   int
	lastVs  string
	onFetch func()
}

func (f *fakeFetcher) FetchPrice(_ context.Context, sym model.Symbol) (decimal.Decimal, bool) {
	f.mu.Lock()
	f.calls++
	p, ok := f.prices[sym.Asset]
	hook := f.onFetch
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return p, ok
}

func (f *fakeFetcher) FetchPrices(_ context.Context, syms []model.Symbol, vs string) map[string]decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastVs = vs

	out := make(map[string]decimal.Decimal)
	for _, s := range syms {
		if p, ok := f.batch[vs][s.Asset]; ok {
			out[s.Asset] = p
		}
	}
	return out
}

func (f *fakeFetcher) VsCurrency() string { return "usd" }

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	store   *ledger.Memory
	cache   *pricecache.Cache
	fetcher *fakeFetcher
	clock   *fakeClock
	engine  *Engine
	account model.Account
	owner   Principal
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newFixture(t *testing.T, balance string) *fixture {
	t.Helper()

	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	dir := symbols.NewDirectory(symbols.NewStaticStore([]config.SymbolSeed{
		{Asset: "BTC", Pair: "BTCUSDT", ExternalID: "bitcoin"},
		{Asset: "ETH", Pair: "ETHUSDT", ExternalID: "ethereum"},
	}), logger.NewNop())
	if _, err := dir.ReloadIfChanged(context.Background()); err != nil {
		t.Fatal(err)
	}

	fx := &fixture{
		store:   ledger.NewMemory(),
		cache:   pricecache.New(100, time.Hour, pricecache.WithClock(clock.Now)),
		fetcher: &fakeFetcher{prices: map[string]decimal.Decimal{}},
		clock:   clock,
	}
	fx.account = model.Account{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		IBAN:           _iban,
		Balance:        d(balance),
		Currency:       "USD",
		TradingEnabled: true,
	}
	if err := fx.store.CreateAccount(context.Background(), fx.account); err != nil {
		t.Fatal(err)
	}
	fx.owner = Principal{UserID: fx.account.UserID}

	cfg := config.TradingConfig{}
	if err := cfg.Setup(); err != nil {
		t.Fatal(err)
	}
	fx.engine = NewEngine(fx.store, dir, fx.cache, fx.fetcher, cfg, logger.NewNop(), WithClock(clock.Now))
	return fx
}

func (fx *fixture) addAccount(t *testing.T, iban, currency, balance string) model.Account {
	t.Helper()
	acc := model.Account{
		ID:             uuid.New(),
		UserID:         fx.account.UserID,
		IBAN:           iban,
		Balance:        d(balance),
		Currency:       currency,
		TradingEnabled: true,
	}
	if err := fx.store.CreateAccount(context.Background(), acc); err != nil {
		t.Fatal(err)
	}
	return acc
}

func (fx *fixture) setPrice(t *testing.T, asset, price string) {
	t.Helper()
	if err := fx.cache.Put(asset, d(price), model.SourceStream); err != nil {
		t.Fatal(err)
	}
}

func (fx *fixture) order(side model.Side, asset, qty string) OrderRequest {
	return OrderRequest{IBAN: _iban, Asset: asset, Side: side, Quantity: d(qty)}
}

func (fx *fixture) place(t *testing.T, side model.Side, asset, qty string) OrderResult {
	t.Helper()
	res, err := fx.engine.PlaceMarketOrder(context.Background(), fx.order(side, asset, qty), fx.owner)
	if err != nil {
		t.Fatalf("%s %s %s: %v", side, qty, asset, err)
	}
	return res
}

func (fx *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	acc, err := fx.store.AccountByIBAN(context.Background(), _iban)
	if err != nil {
		t.Fatal(err)
	}
	return acc.Balance
}

func (fx *fixture) holding(t *testing.T, asset string) model.Holding {
	t.Helper()
	h, err := fx.store.Holding(context.Background(), fx.account.ID, asset)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestBuyScenario(t *testing.T) {
	fx := newFixture(t, "1000.00")
	fx.setPrice(t, "BTC", "50000")

	res := fx.place(t, model.Buy, "BTC", "0.01")

	if got := tools.FormatFiat(res.Gross); got != "500.00" {
		t.Errorf("gross = %s", got)
	}
	if got := tools.FormatFiat(res.Fee); got != "1.50" {
		t.Errorf("fee = %s", got)
	}
	if got := tools.FormatFiat(res.Net); got != "501.50" {
		t.Errorf("net = %s", got)
	}
	if res.Status != model.Filled || res.Currency != "USD" || res.OrderID == uuid.Nil {
		t.Errorf("result = %+v", res)
	}
	if got := tools.FormatFiat(fx.balance(t)); got != "498.50" {
		t.Errorf("balance = %s", got)
	}

	h := fx.holding(t, "BTC")
	if got := tools.FormatQuantity(h.Quantity); got != "0.01000000" {
		t.Errorf("quantity = %s", got)
	}
	if got := tools.FormatQuantity(h.AvgCost); got != "50000.00000000" {
		t.Errorf("avg cost = %s", got)
	}

	orders, _ := fx.store.Orders(context.Background(), fx.account.ID)
	if len(orders) != 1 || orders[0].ID != res.OrderID || orders[0].Side != model.Buy {
		t.Errorf("orders = %+v", orders)
	}
}

func TestSecondBuyAveragesCost(t *testing.T) {
	fx := newFixture(t, "2000.00")
	fx.setPrice(t, "BTC", "50000")
	fx.place(t, model.Buy, "BTC", "0.01")

	fx.setPrice(t, "BTC", "60000")
	res := fx.place(t, model.Buy, "BTC", "0.01")

	if got := tools.FormatFiat(res.Net); got != "601.80" {
		t.Errorf("net = %s", got)
	}
	if got := tools.FormatFiat(fx.balance(t)); got != "896.70" {
		t.Errorf("balance = %s", got)
	}
	h := fx.holding(t, "BTC")
	if got := tools.FormatQuantity(h.Quantity); got != "0.02000000" {
		t.Errorf("quantity = %s", got)
	}
	if got := tools.FormatQuantity(h.AvgCost); got != "55000.00000000" {
		t.Errorf("avg cost = %s", got)
	}
}

func TestBuyWeightedAverageProperty(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	fx := newFixture(t, "100000000.00")

	for i := 0; i < 50; i++ {
		price := decimal.New(rnd.Int63n(9_000_000_00)+1_00, -2)
		qty := decimal.New(rnd.Int63n(5_000_000)+1, -8)
		fx.setPrice(t, "ETH", price.String())

		before, err := fx.store.Holding(context.Background(), fx.account.ID, "ETH")
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			t.Fatal(err)
		}

		fx.place(t, model.Buy, "ETH", qty.String())
		after := fx.holding(t, "ETH")

		gross := price.Mul(qty)
		wantQty := before.Quantity.Add(qty)
		wantAvg := before.Quantity.Mul(before.AvgCost).Add(gross).DivRound(wantQty, 8)
		if !after.Quantity.Equal(wantQty) {
			t.Fatalf("step %d: quantity = %s, want %s", i, after.Quantity, wantQty)
		}
		if !after.AvgCost.Equal(wantAvg) {
			t.Fatalf("step %d: avg = %s, want %s", i, after.AvgCost, wantAvg)
		}
	}
}

func TestSellToZeroResetsAverage(t *testing.T) {
	fx := newFixture(t, "1000.00")
	fx.setPrice(t, "BTC", "50000")
	fx.place(t, model.Buy, "BTC", "0.01")

	fx.setPrice(t, "BTC", "55000")
	res := fx.place(t, model.Sell, "BTC", "0.01")

	if got := tools.FormatFiat(res.Gross); got != "550.00" {
		t.Errorf("gross = %s", got)
	}
	if got := tools.FormatFiat(res.Fee); got != "1.65" {
		t.Errorf("fee = %s", got)
	}
	if got := tools.FormatFiat(res.Net); got != "548.35" {
		t.Errorf("net = %s", got)
	}
	if got := tools.FormatFiat(fx.balance(t)); got != "1046.85" {
		t.Errorf("balance = %s", got)
	}

	h := fx.holding(t, "BTC")
	if !h.Quantity.IsZero() || !h.AvgCost.IsZero() {
		t.Errorf("holding = %s @ %s, want 0 @ 0", h.Quantity, h.AvgCost)
	}
}

func TestPartialSellKeepsAverage(t *testing.T) {
	fx := newFixture(t, "1000.00")
	fx.setPrice(t, "BTC", "50000")
	fx.place(t, model.Buy, "BTC", "0.01")

	fx.setPrice(t, "BTC", "40000")
	fx.place(t, model.Sell, "BTC", "0.004")

	h := fx.holding(t, "BTC")
	if got := tools.FormatQuantity(h.Quantity); got != "0.00600000" {
		t.Errorf("quantity = %s", got)
	}
	if !h.AvgCost.Equal(d("50000")) {
		t.Errorf("avg cost = %s, want 50000", h.AvgCost)
	}
}

func TestFeeRounding(t *testing.T) {
	fx := newFixture(t, "1000.00")
	// gross 1.67 * 1 = 1.67, fee 0.00501 -> 0.01, net 1.68
	fx.setPrice(t, "ETH", "1.67")
	res := fx.place(t, model.Buy, "ETH", "1")

	if got := tools.FormatFiat(res.Fee); got != "0.01" {
		t.Errorf("fee = %s", got)
	}
	if got := tools.FormatFiat(res.Net); got != "1.68" {
		t.Errorf("net = %s", got)
	}
	for _, v := range []decimal.Decimal{res.Gross, res.Fee, res.Net} {
		if v.Exponent() < -2 {
			t.Errorf("%s has more than 2 fractional digits", v)
		}
	}
}

type snapshot struct {
	account      model.Account
	holdings     []model.Holding
	orders       []model.Order
	transactions []model.Transaction
}

func (fx *fixture) snapshot(t *testing.T) snapshot {
	t.Helper()
	ctx := context.Background()
	acc, err := fx.store.AccountByID(ctx, fx.account.ID)
	if err != nil {
		t.Fatal(err)
	}
	hs, _ := fx.store.Holdings(ctx, fx.account.ID)
	orders, _ := fx.store.Orders(ctx, fx.account.ID)
	txs, _ := fx.store.Transactions(ctx, fx.account.IBAN)
	return snapshot{account: acc, holdings: hs, orders: orders, transactions: txs}
}

func TestRejectionsLeaveStateUntouched(t *testing.T) {
	tests := []struct {
		name    string
		balance string
		prepare func(t *testing.T, fx *fixture)
		req     func(fx *fixture) OrderRequest
		want    error
	}{
		{
			name:    "buy with insufficient funds",
			balance: "100.00",
			req:     func(fx *fixture) OrderRequest { return fx.order(model.Buy, "BTC", "0.01") },
			want:    ErrInsufficientFunds,
		},
		{
			name:    "buy one cent short",
			balance: "501.49",
			req:     func(fx *fixture) OrderRequest { return fx.order(model.Buy, "BTC", "0.01") },
			want:    ErrInsufficientFunds,
		},
		{
			name:    "sell without holding",
			balance: "1000.00",
			req:     func(fx *fixture) OrderRequest { return fx.order(model.Sell, "BTC", "0.01") },
			want:    ErrInsufficientHoldings,
		},
		{
			name:    "sell more than held",
			balance: "1000.00",
			prepare: func(t *testing.T, fx *fixture) { fx.place(t, model.Buy, "BTC", "0.01") },
			req:     func(fx *fixture) OrderRequest { return fx.order(model.Sell, "BTC", "0.01000001") },
			want:    ErrInsufficientHoldings,
		},
		{
			name:    "zero quantity",
			balance: "1000.00",
			req:     func(fx *fixture) OrderRequest { return fx.order(model.Buy, "BTC", "0") },
			want:    ErrValidation,
		},
		{
			name:    "quantity below precision",
			balance: "1000.00",
			req:     func(fx *fixture) OrderRequest { return fx.order(model.Buy, "BTC", "0.000000004") },
			want:    ErrValidation,
		},
		{
			name:    "negative quantity",
			balance: "1000.00",
			req:     func(fx *fixture) OrderRequest { return fx.order(model.Sell, "BTC", "-1") },
			want:    ErrValidation,
		},
		{
			name:    "unknown side",
			balance: "1000.00",
			req:     func(fx *fixture) OrderRequest { return fx.order("HOLD", "BTC", "1") },
			want:    ErrValidation,
		},
		{
			name:    "unknown asset",
			balance: "1000.00",
			req:     func(fx *fixture) OrderRequest { return fx.order(model.Buy, "DOGE", "1") },
			want:    ErrValidation,
		},
		{
			name:    "unknown iban",
			balance: "1000.00",
			req: func(fx *fixture) OrderRequest {
				r := fx.order(model.Buy, "BTC", "0.01")
				r.IBAN = "DE00000000000000000000"
				return r
			},
			want: ErrAccountNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, tt.balance)
			fx.setPrice(t, "BTC", "50000")
			if tt.prepare != nil {
				tt.prepare(t, fx)
			}
			before := fx.snapshot(t)

			_, err := fx.engine.PlaceMarketOrder(context.Background(), tt.req(fx), fx.owner)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if after := fx.snapshot(t); !reflect.DeepEqual(before, after) {
				t.Errorf("state changed:\nbefore %+v\nafter  %+v", before, after)
			}
		})
	}
}

func TestOwnershipAndFeatureGate(t *testing.T) {
	t.Run("foreign account", func(t *testing.T) {
		fx := newFixture(t, "1000.00")
		fx.setPrice(t, "BTC", "50000")
		_, err := fx.engine.PlaceMarketOrder(context.Background(), fx.order(model.Buy, "BTC", "0.01"), Principal{UserID: uuid.New()})
		if !errors.Is(err, ErrForbidden) {
			t.Errorf("err = %v, want ErrForbidden", err)
		}
	})

	t.Run("admin may trade any account", func(t *testing.T) {
		fx := newFixture(t, "1000.00")
		fx.setPrice(t, "BTC", "50000")
		_, err := fx.engine.PlaceMarketOrder(context.Background(), fx.order(model.Buy, "BTC", "0.01"), Principal{UserID: uuid.New(), Admin: true})
		if err != nil {
			t.Errorf("admin order failed: %v", err)
		}
	})

	t.Run("trading disabled", func(t *testing.T) {
		fx := newFixture(t, "1000.00")
		fx.setPrice(t, "BTC", "50000")
		acc := fx.account
		acc.ID = uuid.New()
		acc.IBAN = "BG00DISABLED"
		acc.TradingEnabled = false
		if err := fx.store.CreateAccount(context.Background(), acc); err != nil {
			t.Fatal(err)
		}
		req := fx.order(model.Buy, "BTC", "0.01")
		req.IBAN = acc.IBAN
		if _, err := fx.engine.PlaceMarketOrder(context.Background(), req, fx.owner); !errors.Is(err, ErrTradingDisabled) {
			t.Errorf("err = %v, want ErrTradingDisabled", err)
		}
	})
}

func TestPriceSelection(t *testing.T) {
	t.Run("fresh cache skips fetch", func(t *testing.T) {
		fx := newFixture(t, "1000.00")
		fx.setPrice(t, "BTC", "50000")
		fx.clock.Advance(29 * time.Second)
		fx.fetcher.prices["BTC"] = d("1")

		res := fx.place(t, model.Buy, "BTC", "0.01")
		if !res.Price.Equal(d("50000")) || fx.fetcher.Calls() != 0 {
			t.Errorf("price = %s, fetch calls = %d", res.Price, fx.fetcher.Calls())
		}
	})

	t.Run("stale cache falls back and writes back", func(t *testing.T) {
		fx := newFixture(t, "1000.00")
		fx.setPrice(t, "BTC", "50000")
		fx.clock.Advance(31 * time.Second)
		fx.fetcher.prices["BTC"] = d("40000.123456789")

		res := fx.place(t, model.Buy, "BTC", "0.01")
		if !res.Price.Equal(d("40000.12345679")) {
			t.Errorf("price = %s", res.Price)
		}
		e, ok := fx.cache.Get("BTC")
		if !ok || e.Source != model.SourceFetch || !fx.cache.IsFresh(e, 30*time.Second) {
			t.Errorf("cache entry = %+v", e)
		}
	})

	t.Run("settlement currency other than the feed's is fetched", func(t *testing.T) {
		fx := newFixture(t, "1000.00")
		acc := fx.addAccount(t, "BG11BNBG00000000000001", "BGN", "2000.00")
		fx.setPrice(t, "BTC", "50000")
		fx.fetcher.batch = map[string]map[string]decimal.Decimal{
			"bgn": {"BTC": d("90000")},
		}

		req := fx.order(model.Buy, "BTC", "0.01")
		req.IBAN = acc.IBAN
		res, err := fx.engine.PlaceMarketOrder(context.Background(), req, fx.owner)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Price.Equal(d("90000")) || res.Currency != "BGN" || fx.fetcher.lastVs != "bgn" {
			t.Errorf("price = %s %s, vs = %s", res.Price, res.Currency, fx.fetcher.lastVs)
		}
		if tools.FormatFiat(res.Net) != "902.70" {
			t.Errorf("net = %s", tools.FormatFiat(res.Net))
		}
		// the cache keeps the feed currency price
		if e, _ := fx.cache.Get("BTC"); !e.Price.Equal(d("50000")) || e.Source != model.SourceStream {
			t.Errorf("cache entry = %+v", e)
		}
	})

	t.Run("no quote in settlement currency", func(t *testing.T) {
		fx := newFixture(t, "1000.00")
		acc := fx.addAccount(t, "BG11BNBG00000000000001", "BGN", "2000.00")
		fx.setPrice(t, "BTC", "50000")

		req := fx.order(model.Buy, "BTC", "0.01")
		req.IBAN = acc.IBAN
		if _, err := fx.engine.PlaceMarketOrder(context.Background(), req, fx.owner); !errors.Is(err, ErrPriceUnavailable) {
			t.Fatalf("err = %v, want ErrPriceUnavailable", err)
		}
	})

	t.Run("no price anywhere", func(t *testing.T) {
		fx := newFixture(t, "1000.00")
		before := fx.snapshot(t)
		_, err := fx.engine.PlaceMarketOrder(context.Background(), fx.order(model.Buy, "ETH", "1"), fx.owner)
		if !errors.Is(err, ErrPriceUnavailable) {
			t.Fatalf("err = %v, want ErrPriceUnavailable", err)
		}
		if !reflect.DeepEqual(before, fx.snapshot(t)) {
			t.Error("state changed")
		}
	})
}

func TestConcurrentModificationConflicts(t *testing.T) {
	fx := newFixture(t, "1000.00")
	fx.fetcher.prices["BTC"] = d("50000")
	fx.fetcher.onFetch = func() {
		// another writer moves the account between read and settle
		if _, err := fx.store.CreditByIBAN(context.Background(), _iban, d("10")); err != nil {
			t.Error(err)
		}
	}

	_, err := fx.engine.PlaceMarketOrder(context.Background(), fx.order(model.Buy, "BTC", "0.01"), fx.owner)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if got := tools.FormatFiat(fx.balance(t)); got != "1010.00" {
		t.Errorf("balance = %s, only the concurrent credit should apply", got)
	}
	if _, err := fx.store.Holding(context.Background(), fx.account.ID, "BTC"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("holding should not exist: %v", err)
	}
}

func TestFillsWriteStatementEntries(t *testing.T) {
	fx := newFixture(t, "1000.00")
	fx.setPrice(t, "BTC", "50000")
	buy := fx.place(t, model.Buy, "BTC", "0.01")
	fx.clock.Advance(time.Second)
	sell := fx.place(t, model.Sell, "BTC", "0.004")

	txs, err := fx.engine.Transactions(context.Background(), _iban, fx.owner)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 2 {
		t.Fatalf("transactions = %+v", txs)
	}

	in, out := txs[0], txs[1]
	if in.OrderID != sell.OrderID || in.Kind != model.Income || !in.Amount.Equal(sell.Net) {
		t.Errorf("income = %+v", in)
	}
	if out.OrderID != buy.OrderID || out.Kind != model.Expense || !out.Amount.Equal(buy.Net) {
		t.Errorf("expense = %+v", out)
	}
	if want := "CRYPTO BUY BTC @ 50000.00000000 (fee 1.50 USD)"; out.Description != want {
		t.Errorf("description = %q, want %q", out.Description, want)
	}
	if out.UserID != fx.account.UserID || out.Currency != "USD" {
		t.Errorf("expense = %+v", out)
	}

	if _, err := fx.engine.Transactions(context.Background(), _iban, Principal{UserID: uuid.New()}); !errors.Is(err, ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}
}
