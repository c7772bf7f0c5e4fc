package trading

import "errors"

var (
	ErrValidation           = errors.New("invalid request")
	ErrAccountNotFound      = errors.New("account not found")
	ErrForbidden            = errors.New("account belongs to another user")
	ErrTradingDisabled      = errors.New("crypto trading is disabled for the account")
	ErrPriceUnavailable     = errors.New("price unavailable")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrConflict             = errors.New("concurrent modification")
)
