package trading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/STTM-NSU/crypto-trader/internal/config"
	"github.com/STTM-NSU/crypto-trader/internal/logger"
	"github.com/STTM-NSU/crypto-trader/internal/model"
	"github.com/STTM-NSU/crypto-trader/internal/tools"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Store interface {
	AccountByIBAN(ctx context.Context, iban string) (model.Account, error)
	AccountByID(ctx context.Context, id uuid.UUID) (model.Account, error)
	Holding(ctx context.Context, accountID uuid.UUID, asset string) (model.Holding, error)
	Holdings(ctx context.Context, accountID uuid.UUID) ([]model.Holding, error)
	Orders(ctx context.Context, accountID uuid.UUID) ([]model.Order, error)
	Settle(ctx context.Context, st model.Settlement) error
	Transactions(ctx context.Context, iban string) ([]model.Transaction, error)
	DebitByIBAN(ctx context.Context, iban string, amount decimal.Decimal) (model.Account, error)
	CreditByIBAN(ctx context.Context, iban string, amount decimal.Decimal) (model.Account, error)
}

type SymbolResolver interface {
	Resolve(asset string) (model.Symbol, bool)
}

type PriceCache interface {
	Get(symbol string) (model.PriceEntry, bool)
	Put(symbol string, price decimal.Decimal, source model.PriceSource) error
	IsFresh(entry model.PriceEntry, ttl time.Duration) bool
}

type PriceFetcher interface {
	FetchPrice(ctx context.Context, sym model.Symbol) (decimal.Decimal, bool)
	FetchPrices(ctx context.Context, syms []model.Symbol, vs string) map[string]decimal.Decimal
	VsCurrency() string
}

// Principal is the authenticated caller.
type Principal struct {
	UserID uuid.UUID
	Admin  bool
}

func (p Principal) owns(acc model.Account) bool {
	return p.Admin || acc.UserID == p.UserID
}

type OrderRequest struct {
	IBAN     string
	Asset    string
	Side     model.Side
	Quantity decimal.Decimal
}

type OrderResult struct {
	OrderID  uuid.UUID
	Status   model.OrderStatus
	Price    decimal.Decimal
	Gross    decimal.Decimal
	Fee      decimal.Decimal
	Net      decimal.Decimal
	Currency string
}

type Engine struct {
	store   Store
	symbols SymbolResolver
	cache   PriceCache
	fetcher PriceFetcher

	feeRate  decimal.Decimal
	priceTTL time.Duration

	now   func() time.Time
	newID func() uuid.UUID

	logger logger.Logger
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(
	store Store,
	symbols SymbolResolver,
	cache PriceCache,
	fetcher PriceFetcher,
	cfg config.TradingConfig,
	logger logger.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		store:    store,
		symbols:  symbols,
		cache:    cache,
		fetcher:  fetcher,
		feeRate:  tools.FromFloat(cfg.FeeRate),
		priceTTL: cfg.PriceTTL,
		now:      time.Now,
		newID:    uuid.New,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PlaceMarketOrder executes a BUY or SELL at the current price and settles
// it against the account balance and the holding in one atomic write.
func (e *Engine) PlaceMarketOrder(ctx context.Context, req OrderRequest, p Principal) (OrderResult, error) {
	qty := tools.RoundQuantity(req.Quantity)
	if !qty.IsPositive() {
		return OrderResult{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	side, ok := model.ParseSide(string(req.Side))
	if !ok {
		return OrderResult{}, fmt.Errorf("%w: unknown side %q", ErrValidation, req.Side)
	}
	sym, ok := e.symbols.Resolve(req.Asset)
	if !ok {
		return OrderResult{}, fmt.Errorf("%w: unknown asset %q", ErrValidation, req.Asset)
	}

	acc, err := loadedAccount(e.store.AccountByIBAN(ctx, req.IBAN))
	if err != nil {
		return OrderResult{}, err
	}
	if !p.owns(acc) {
		return OrderResult{}, ErrForbidden
	}
	if !acc.TradingEnabled {
		return OrderResult{}, ErrTradingDisabled
	}

	price, err := e.price(ctx, sym, acc.Currency)
	if err != nil {
		return OrderResult{}, err
	}

	holding, exists, err := e.holding(ctx, acc.ID, sym.Asset)
	if err != nil {
		return OrderResult{}, err
	}

	gross := price.Mul(qty)
	fee := tools.RoundFiat(gross.Mul(e.feeRate))
	now := e.now().UTC()

	st := model.Settlement{
		AccountID:       acc.ID,
		AccountRevision: acc.Revision,
		HoldingRevision: holding.Revision,
		NewHolding:      !exists,
	}

	var net decimal.Decimal
	switch side {
	case model.Buy:
		net = tools.RoundFiat(gross.Add(fee))
		if acc.Balance.LessThan(net) {
			return OrderResult{}, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds,
				tools.FormatFiat(net), tools.FormatFiat(acc.Balance))
		}
		if !exists {
			holding = model.Holding{
				ID:        e.newID(),
				AccountID: acc.ID,
				Asset:     sym.Asset,
				Quantity:  decimal.Zero,
				AvgCost:   decimal.Zero,
				Currency:  acc.Currency,
			}
		}
		newQty := holding.Quantity.Add(qty)
		holding.AvgCost = tools.DivQuantity(holding.Quantity.Mul(holding.AvgCost).Add(gross), newQty)
		holding.Quantity = newQty
		st.Balance = tools.RoundFiat(acc.Balance.Sub(net))

	case model.Sell:
		if !exists || holding.Quantity.LessThan(qty) {
			have := decimal.Zero
			if exists {
				have = holding.Quantity
			}
			return OrderResult{}, fmt.Errorf("%w: need %s %s, have %s", ErrInsufficientHoldings,
				tools.FormatQuantity(qty), sym.Asset, tools.FormatQuantity(have))
		}
		net = tools.RoundFiat(gross.Sub(fee))
		holding.Quantity = holding.Quantity.Sub(qty)
		if holding.Quantity.IsZero() {
			holding.AvgCost = decimal.Zero
		}
		st.Balance = tools.RoundFiat(acc.Balance.Add(net))
	}
	holding.UpdatedAt = now
	st.Holding = holding

	st.Order = model.Order{
		ID:         e.newID(),
		AccountID:  acc.ID,
		UserID:     acc.UserID,
		IBAN:       acc.IBAN,
		Asset:      sym.Asset,
		Side:       side,
		Quantity:   qty,
		Price:      price,
		Gross:      tools.RoundFiat(gross),
		Fee:        fee,
		Net:        net,
		Currency:   acc.Currency,
		Status:     model.Filled,
		ExecutedAt: now,
	}
	kind := model.Expense
	if side == model.Sell {
		kind = model.Income
	}
	st.Transaction = model.Transaction{
		ID:       e.newID(),
		UserID:   acc.UserID,
		IBAN:     acc.IBAN,
		OrderID:  st.Order.ID,
		Kind:     kind,
		Amount:   net,
		Currency: acc.Currency,
		Description: fmt.Sprintf("CRYPTO %s %s @ %s (fee %s %s)",
			side, sym.Asset, tools.FormatQuantity(price), tools.FormatFiat(fee), acc.Currency),
		CreatedAt: now,
	}

	if err := e.store.Settle(ctx, st); err != nil {
		if errors.Is(err, model.ErrConflict) {
			return OrderResult{}, fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return OrderResult{}, fmt.Errorf("%w: can't settle order", err)
	}

	e.logger.Infof("order %s filled: %s %s %s @ %s, net %s %s",
		st.Order.ID, side, tools.FormatQuantity(qty), sym.Asset, tools.FormatQuantity(price),
		tools.FormatFiat(net), acc.Currency)

	return OrderResult{
		OrderID:  st.Order.ID,
		Status:   st.Order.Status,
		Price:    st.Order.Price,
		Gross:    st.Order.Gross,
		Fee:      st.Order.Fee,
		Net:      st.Order.Net,
		Currency: st.Order.Currency,
	}, nil
}

// price prefers a fresh cached quote and falls back to the provider,
// writing the fetched value back to the cache. The cache only holds prices
// in the feed's quote currency, so any other settlement currency is asked
// from the provider directly.
func (e *Engine) price(ctx context.Context, sym model.Symbol, currency string) (decimal.Decimal, error) {
	if vs := strings.ToLower(strings.TrimSpace(currency)); vs != "" && vs != e.fetcher.VsCurrency() {
		p, ok := e.fetcher.FetchPrices(ctx, []model.Symbol{sym}, vs)[sym.Asset]
		if !ok || !p.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: %s in %s", ErrPriceUnavailable, sym.Asset, vs)
		}
		return tools.RoundQuantity(p), nil
	}

	if entry, ok := e.cache.Get(sym.Asset); ok && e.cache.IsFresh(entry, e.priceTTL) {
		return entry.Price, nil
	}

	p, ok := e.fetcher.FetchPrice(ctx, sym)
	if !ok || !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrPriceUnavailable, sym.Asset)
	}
	if err := e.cache.Put(sym.Asset, p, model.SourceFetch); err != nil {
		e.logger.Warnf("%s: can't cache fetched %s price", err, sym.Asset)
	}
	return tools.RoundQuantity(p), nil
}

func loadedAccount(acc model.Account, err error) (model.Account, error) {
	if err == nil {
		return acc, nil
	}
	if errors.Is(err, model.ErrNotFound) {
		return acc, ErrAccountNotFound
	}
	return acc, fmt.Errorf("%w: can't load account", err)
}

func (e *Engine) holding(ctx context.Context, accountID uuid.UUID, asset string) (model.Holding, bool, error) {
	h, err := e.store.Holding(ctx, accountID, asset)
	switch {
	case err == nil:
		return h, true, nil
	case errors.Is(err, model.ErrNotFound):
		return model.Holding{}, false, nil
	default:
		return model.Holding{}, false, fmt.Errorf("%w: can't load holding", err)
	}
}
