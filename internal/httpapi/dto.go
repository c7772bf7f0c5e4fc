package httpapi

import (
	"time"

	"github.com/STTM-NSU/crypto-trader/internal/model"
	"github.com/STTM-NSU/crypto-trader/internal/tools"
	"github.com/STTM-NSU/crypto-trader/internal/trading"
	"github.com/shopspring/decimal"
)

// Quantity and amount accept both JSON numbers and strings.
type orderRequest struct {
	IBAN     string          `json:"iban" validate:"required,max=34"`
	Asset    string          `json:"asset" validate:"required,alphanum,max=16"`
	Side     string          `json:"side" validate:"required"`
	Quantity decimal.Decimal `json:"quantity"`
}

type fundsRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type orderResponse struct {
	OrderID            string `json:"orderId"`
	Status             string `json:"status"`
	ExecutedPrice      string `json:"executedPrice"`
	GrossAmount        string `json:"grossAmount"`
	FeeAmount          string `json:"feeAmount"`
	NetAmount          string `json:"netAmount"`
	SettlementCurrency string `json:"settlementCurrency"`
}

func newOrderResponse(r trading.OrderResult) orderResponse {
	return orderResponse{
		OrderID:            r.OrderID.String(),
		Status:             string(r.Status),
		ExecutedPrice:      tools.FormatQuantity(r.Price),
		GrossAmount:        tools.FormatFiat(r.Gross),
		FeeAmount:          tools.FormatFiat(r.Fee),
		NetAmount:          tools.FormatFiat(r.Net),
		SettlementCurrency: r.Currency,
	}
}

type positionResponse struct {
	Asset         string `json:"asset"`
	Quantity      string `json:"quantity"`
	AverageCost   string `json:"averageCost"`
	MarketPrice   string `json:"marketPrice"`
	MarketValue   string `json:"marketValue"`
	UnrealizedPnl string `json:"unrealizedPnl"`
	Currency      string `json:"currency"`
}

func newPositionResponse(p trading.Position) positionResponse {
	return positionResponse{
		Asset:         p.Asset,
		Quantity:      tools.FormatQuantity(p.Quantity),
		AverageCost:   tools.FormatQuantity(p.AvgCost),
		MarketPrice:   tools.FormatQuantity(p.MarketPrice),
		MarketValue:   tools.FormatFiat(p.MarketValue),
		UnrealizedPnl: tools.FormatFiat(p.UnrealizedPnL),
		Currency:      p.Currency,
	}
}

type orderView struct {
	ID         string    `json:"id"`
	Asset      string    `json:"asset"`
	Side       string    `json:"side"`
	Quantity   string    `json:"quantity"`
	Price      string    `json:"price"`
	Gross      string    `json:"grossAmount"`
	Fee        string    `json:"feeAmount"`
	Net        string    `json:"netAmount"`
	Currency   string    `json:"currency"`
	Status     string    `json:"status"`
	ExecutedAt time.Time `json:"executedAt"`
}

func newOrderView(o model.Order) orderView {
	return orderView{
		ID:         o.ID.String(),
		Asset:      o.Asset,
		Side:       string(o.Side),
		Quantity:   tools.FormatQuantity(o.Quantity),
		Price:      tools.FormatQuantity(o.Price),
		Gross:      tools.FormatFiat(o.Gross),
		Fee:        tools.FormatFiat(o.Fee),
		Net:        tools.FormatFiat(o.Net),
		Currency:   o.Currency,
		Status:     string(o.Status),
		ExecutedAt: o.ExecutedAt.UTC(),
	}
}

type accountResponse struct {
	IBAN     string `json:"iban"`
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
}

type liveTick struct {
	Asset string `json:"asset"`
	ID    string `json:"id"`
	Price string `json:"price"`
}

func newLiveTick(t model.Tick) liveTick {
	return liveTick{Asset: t.Asset, ID: t.ExternalID, Price: t.Price.String()}
}

type simplePriceView struct {
	ID     string            `json:"id"`
	Prices map[string]string `json:"prices"`
}

func newSimplePriceView(p model.SimplePrice) simplePriceView {
	prices := make(map[string]string, len(p.Prices))
	for vs, price := range p.Prices {
		prices[vs] = price.String()
	}
	return simplePriceView{ID: p.ID, Prices: prices}
}

type historyPoint struct {
	Timestamp int64  `json:"ts"`
	Price     string `json:"price"`
}

type historyView struct {
	ID     string         `json:"id"`
	Vs     string         `json:"vs"`
	Points []historyPoint `json:"points"`
}

func newHistoryView(h model.PriceHistory) historyView {
	points := make([]historyPoint, 0, len(h.Points))
	for _, p := range h.Points {
		points = append(points, historyPoint{Timestamp: p.Timestamp, Price: p.Price.String()})
	}
	return historyView{ID: h.ID, Vs: h.VsCurrency, Points: points}
}

type transactionView struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"orderId"`
	Kind        string    `json:"kind"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

func newTransactionView(tx model.Transaction) transactionView {
	return transactionView{
		ID:          tx.ID.String(),
		OrderID:     tx.OrderID.String(),
		Kind:        string(tx.Kind),
		Amount:      tools.FormatFiat(tx.Amount),
		Currency:    tx.Currency,
		Description: tx.Description,
		CreatedAt:   tx.CreatedAt.UTC(),
	}
}

type healthResponse struct {
	Status        string    `json:"status"`
	Feed          string    `json:"feed"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	Symbols       int       `json:"symbols"`
	Subscribers   int       `json:"subscribers"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
