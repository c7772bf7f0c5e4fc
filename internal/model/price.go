package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PriceSource string

const (
	SourceStream PriceSource = "stream"
	SourceFetch  PriceSource = "fetch"
)

type PriceEntry struct {
	Symbol     string
	Price      decimal.Decimal
	CapturedAt time.Time
	Source     PriceSource
}

// RawTick is one parsed exchange frame before it is matched to a Symbol.
type RawTick struct {
	Event      string
	Pair       string
	Price      string
	TradeTime  time.Time
	ReceivedAt time.Time
}

// Tick is a normalized price observation pushed to live subscribers.
type Tick struct {
	Asset      string          `json:"asset"`
	ExternalID string          `json:"id"`
	Price      decimal.Decimal `json:"price"`
	At         time.Time       `json:"ts"`
}

// SimplePrice is one provider id quoted in one or more fiat currencies.
type SimplePrice struct {
	ID     string
	Prices map[string]decimal.Decimal
}

type PricePoint struct {
	Timestamp int64 // unix millis
	Price     decimal.Decimal
}

type PriceHistory struct {
	ID         string
	VsCurrency string
	Points     []PricePoint
}
