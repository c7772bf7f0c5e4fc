package trading

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/STTM-NSU/crypto-trader/internal/model"
	"github.com/STTM-NSU/crypto-trader/internal/tools"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Position struct {
	Asset         string
	Quantity      decimal.Decimal
	AvgCost       decimal.Decimal
	MarketPrice   decimal.Decimal
	MarketValue   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Currency      string
}

// Portfolio values every holding of the account. Prices in the feed's quote
// currency come from the cache, anything missing there or quoted in another
// currency is fetched in one batch. A price that can't be found is zero.
func (e *Engine) Portfolio(ctx context.Context, accountID uuid.UUID, vs string, p Principal) ([]Position, error) {
	acc, err := loadedAccount(e.store.AccountByID(ctx, accountID))
	if err != nil {
		return nil, err
	}
	if !p.owns(acc) {
		return nil, ErrForbidden
	}

	holdings, err := e.store.Holdings(ctx, acc.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: can't load holdings", err)
	}

	vs = strings.ToLower(strings.TrimSpace(vs))
	feedCurrency := vs == "" || vs == e.fetcher.VsCurrency()
	currency := strings.ToUpper(vs)
	if feedCurrency {
		currency = strings.ToUpper(e.fetcher.VsCurrency())
	}

	prices := make(map[string]decimal.Decimal, len(holdings))
	var missing []model.Symbol
	for _, h := range holdings {
		if feedCurrency {
			if entry, ok := e.cache.Get(h.Asset); ok {
				prices[h.Asset] = entry.Price
				continue
			}
		}
		if sym, ok := e.symbols.Resolve(h.Asset); ok {
			missing = append(missing, sym)
		}
	}
	if len(missing) > 0 {
		for asset, price := range e.fetcher.FetchPrices(ctx, missing, vs) {
			prices[asset] = tools.RoundQuantity(price)
		}
	}

	positions := make([]Position, 0, len(holdings))
	for _, h := range holdings {
		price := prices[h.Asset]
		positions = append(positions, Position{
			Asset:         h.Asset,
			Quantity:      h.Quantity,
			AvgCost:       h.AvgCost,
			MarketPrice:   price,
			MarketValue:   tools.RoundFiat(price.Mul(h.Quantity)),
			UnrealizedPnL: tools.RoundFiat(price.Sub(h.AvgCost).Mul(h.Quantity)),
			Currency:      currency,
		})
	}
	return positions, nil
}

// Orders lists the account's filled orders, newest first.
func (e *Engine) Orders(ctx context.Context, accountID uuid.UUID, p Principal) ([]model.Order, error) {
	acc, err := loadedAccount(e.store.AccountByID(ctx, accountID))
	if err != nil {
		return nil, err
	}
	if !p.owns(acc) {
		return nil, ErrForbidden
	}

	orders, err := e.store.Orders(ctx, acc.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: can't load orders", err)
	}
	return orders, nil
}

// Transactions lists the statement entries written by fills on the account,
// newest first.
func (e *Engine) Transactions(ctx context.Context, iban string, p Principal) ([]model.Transaction, error) {
	acc, err := loadedAccount(e.store.AccountByIBAN(ctx, iban))
	if err != nil {
		return nil, err
	}
	if !p.owns(acc) {
		return nil, ErrForbidden
	}

	txs, err := e.store.Transactions(ctx, acc.IBAN)
	if err != nil {
		return nil, fmt.Errorf("%w: can't load transactions", err)
	}
	return txs, nil
}

func (e *Engine) Debit(ctx context.Context, iban string, amount decimal.Decimal, p Principal) (model.Account, error) {
	return e.moveFunds(ctx, iban, amount, p, e.store.DebitByIBAN)
}

func (e *Engine) Credit(ctx context.Context, iban string, amount decimal.Decimal, p Principal) (model.Account, error) {
	return e.moveFunds(ctx, iban, amount, p, e.store.CreditByIBAN)
}

type fundsFunc func(ctx context.Context, iban string, amount decimal.Decimal) (model.Account, error)

func (e *Engine) moveFunds(ctx context.Context, iban string, amount decimal.Decimal, p Principal, move fundsFunc) (model.Account, error) {
	amount = tools.RoundFiat(amount)
	if !amount.IsPositive() {
		return model.Account{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	owner, err := loadedAccount(e.store.AccountByIBAN(ctx, iban))
	if err != nil {
		return model.Account{}, err
	}
	if !p.owns(owner) {
		return model.Account{}, ErrForbidden
	}

	acc, err := move(ctx, iban, amount)
	switch {
	case err == nil:
		return acc, nil
	case errors.Is(err, model.ErrInsufficientBalance):
		return model.Account{}, fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
	case errors.Is(err, model.ErrConflict):
		return model.Account{}, fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, model.ErrNotFound):
		return model.Account{}, ErrAccountNotFound
	default:
		return model.Account{}, fmt.Errorf("%w: can't move funds", err)
	}
}
