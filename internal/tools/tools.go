package tools

import (
	"github.com/shopspring/decimal"
)

const (
	// QuantityScale is used for asset quantities, unit prices and average cost.
	QuantityScale int32 = 8
	// FiatScale is used for balances and gross/fee/net amounts.
	FiatScale int32 = 2
)

// decimal.Round rounds half away from zero, which is half-up for the
// non-negative values the ledger deals with.

func RoundQuantity(d decimal.Decimal) decimal.Decimal {
	return d.Round(QuantityScale)
}

func RoundFiat(d decimal.Decimal) decimal.Decimal {
	return d.Round(FiatScale)
}

// DivQuantity divides at quantity precision.
func DivQuantity(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, QuantityScale)
}

func FormatQuantity(d decimal.Decimal) string {
	return d.StringFixed(QuantityScale)
}

func FormatFiat(d decimal.Decimal) string {
	return d.StringFixed(FiatScale)
}

// FromFloat converts config values such as fee rates and seed balances.
func FromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
