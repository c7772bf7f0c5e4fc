package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, true
	case Sell:
		return Sell, true
	default:
		return "", false
	}
}

type OrderStatus string

const (
	Filled OrderStatus = "FILLED"
)

// Account is owned by the account-management service. The settlement core
// only moves its balance.
type Account struct {
	ID             uuid.UUID       `db:"id"`
	UserID         uuid.UUID       `db:"user_id"`
	IBAN           string          `db:"iban"`
	Balance        decimal.Decimal `db:"balance"`
	Currency       string          `db:"currency"`
	TradingEnabled bool            `db:"trading_enabled"`
	Revision       int64           `db:"revision"`
}

type Holding struct {
	ID        uuid.UUID       `db:"id"`
	AccountID uuid.UUID       `db:"account_id"`
	Asset     string          `db:"asset"`
	Quantity  decimal.Decimal `db:"quantity"`
	AvgCost   decimal.Decimal `db:"avg_cost"`
	Currency  string          `db:"currency"`
	Revision  int64           `db:"revision"`
	UpdatedAt time.Time       `db:"updated_at"`
}

type Order struct {
	ID         uuid.UUID       `db:"id"`
	AccountID  uuid.UUID       `db:"account_id"`
	UserID     uuid.UUID       `db:"user_id"`
	IBAN       string          `db:"iban"`
	Asset      string          `db:"asset"`
	Side       Side            `db:"side"`
	Quantity   decimal.Decimal `db:"quantity"`
	Price      decimal.Decimal `db:"price"`
	Gross      decimal.Decimal `db:"gross_amount"`
	Fee        decimal.Decimal `db:"fee_amount"`
	Net        decimal.Decimal `db:"net_amount"`
	Currency   string          `db:"currency"`
	Status     OrderStatus     `db:"status"`
	ExecutedAt time.Time       `db:"executed_at"`
}

// Settlement is everything one filled order writes. AccountRevision and
// HoldingRevision are the revisions the engine read; a store must refuse
// the whole settlement if either has moved on.
type Settlement struct {
	AccountID       uuid.UUID
	AccountRevision int64
	Balance         decimal.Decimal

	Holding         Holding
	HoldingRevision int64
	NewHolding      bool

	Order       Order
	Transaction Transaction
}

type TransactionKind string

const (
	Expense TransactionKind = "EXPENSE"
	Income  TransactionKind = "INCOME"
)

// Transaction is the fiat side of a fill as it appears on the account
// statement.
type Transaction struct {
	ID          uuid.UUID       `db:"id"`
	UserID      uuid.UUID       `db:"user_id"`
	IBAN        string          `db:"iban"`
	OrderID     uuid.UUID       `db:"order_id"`
	Kind        TransactionKind `db:"kind"`
	Amount      decimal.Decimal `db:"amount"`
	Currency    string          `db:"currency"`
	Description string          `db:"description"`
	CreatedAt   time.Time       `db:"created_at"`
}
