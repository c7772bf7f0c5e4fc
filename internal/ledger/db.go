package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/STTM-NSU/crypto-trader/internal/model"
	"github.com/STTM-NSU/crypto-trader/internal/tools"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Queries use ? placeholders and go through Rebind, so they run on both
// postgres and sqlite.
const (
	_accountColumns = "id, user_id, iban, balance, currency, trading_enabled, revision"
	_holdingColumns = "id, account_id, asset, quantity, avg_cost, currency, revision, updated_at"
	_orderColumns   = "id, account_id, user_id, iban, asset, side, quantity, price, gross_amount, fee_amount, net_amount, currency, status, executed_at"
	_txColumns      = "id, user_id, iban, order_id, kind, amount, currency, description, created_at"

	_queryAccountByIBAN = "SELECT " + _accountColumns + " FROM accounts WHERE iban = ?"
	_queryAccountByID   = "SELECT " + _accountColumns + " FROM accounts WHERE id = ?"
	_queryHolding       = "SELECT " + _holdingColumns + " FROM crypto_holdings WHERE account_id = ? AND asset = ?"
	_queryHoldings      = "SELECT " + _holdingColumns + " FROM crypto_holdings WHERE account_id = ? ORDER BY asset"
	_queryOrders        = "SELECT " + _orderColumns + " FROM crypto_orders WHERE account_id = ? ORDER BY executed_at DESC, id"
	_queryTransactions  = "SELECT " + _txColumns + " FROM account_transactions WHERE iban = ? ORDER BY created_at DESC, id"

	_updateAccountBalance = "UPDATE accounts SET balance = ?, revision = revision + 1 WHERE id = ? AND revision = ?"
	_insertHolding        = `INSERT INTO crypto_holdings (` + _holdingColumns + `)
							VALUES (?, ?, ?, ?, ?, ?, ?, ?)
							ON CONFLICT (account_id, asset) DO NOTHING`
	_updateHolding = `UPDATE crypto_holdings SET
								quantity = ?,
								avg_cost = ?,
								revision = revision + 1,
								updated_at = ?
							WHERE id = ? AND revision = ?`
	_insertOrder = `INSERT INTO crypto_orders (` + _orderColumns + `)
							VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_insertTransaction = `INSERT INTO account_transactions (` + _txColumns + `)
							VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_insertAccount = `INSERT INTO accounts (` + _accountColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)
							ON CONFLICT (iban) DO NOTHING`
)

type DB struct {
	db *sqlx.DB
}

func NewDB(db *sqlx.DB) *DB {
	return &DB{db: db}
}

func (s *DB) AccountByIBAN(ctx context.Context, iban string) (model.Account, error) {
	return s.getAccount(ctx, s.db, _queryAccountByIBAN, strings.TrimSpace(iban))
}

func (s *DB) AccountByID(ctx context.Context, id uuid.UUID) (model.Account, error) {
	return s.getAccount(ctx, s.db, _queryAccountByID, id)
}

func (s *DB) getAccount(ctx context.Context, q sqlx.QueryerContext, query string, arg any) (model.Account, error) {
	var acc model.Account
	if err := sqlx.GetContext(ctx, q, &acc, s.db.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return acc, fmt.Errorf("%w: account", model.ErrNotFound)
		}
		return acc, fmt.Errorf("%w: can't query account", err)
	}
	return acc, nil
}

func (s *DB) Holding(ctx context.Context, accountID uuid.UUID, asset string) (model.Holding, error) {
	var h model.Holding
	if err := s.db.GetContext(ctx, &h, s.db.Rebind(_queryHolding), accountID, asset); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return h, fmt.Errorf("%w: holding %s", model.ErrNotFound, asset)
		}
		return h, fmt.Errorf("%w: can't query holding", err)
	}
	return h, nil
}

func (s *DB) Holdings(ctx context.Context, accountID uuid.UUID) ([]model.Holding, error) {
	var hs []model.Holding
	if err := s.db.SelectContext(ctx, &hs, s.db.Rebind(_queryHoldings), accountID); err != nil {
		return nil, fmt.Errorf("%w: can't query holdings", err)
	}
	return hs, nil
}

func (s *DB) Orders(ctx context.Context, accountID uuid.UUID) ([]model.Order, error) {
	var orders []model.Order
	if err := s.db.SelectContext(ctx, &orders, s.db.Rebind(_queryOrders), accountID); err != nil {
		return nil, fmt.Errorf("%w: can't query orders", err)
	}
	return orders, nil
}

// Settle writes the balance, the holding, the order and its statement entry
// in one transaction.
// Any revision mismatch rolls everything back with model.ErrConflict.
func (s *DB) Settle(ctx context.Context, st model.Settlement) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := updateBalance(ctx, tx, st.AccountID, st.AccountRevision, st.Balance); err != nil {
			return err
		}

		h := st.Holding
		if st.NewHolding {
			res, err := tx.ExecContext(ctx, tx.Rebind(_insertHolding),
				h.ID, h.AccountID, h.Asset,
				tools.FormatQuantity(h.Quantity), tools.FormatQuantity(h.AvgCost),
				h.Currency, h.Revision, h.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("%w: can't insert holding", err)
			}
			if err := expectRow(res, "holding %s already exists", h.Asset); err != nil {
				return err
			}
		} else {
			res, err := tx.ExecContext(ctx, tx.Rebind(_updateHolding),
				tools.FormatQuantity(h.Quantity), tools.FormatQuantity(h.AvgCost),
				h.UpdatedAt, h.ID, st.HoldingRevision,
			)
			if err != nil {
				return fmt.Errorf("%w: can't update holding", err)
			}
			if err := expectRow(res, "holding %s revision %d", h.Asset, st.HoldingRevision); err != nil {
				return err
			}
		}

		o := st.Order
		if _, err := tx.ExecContext(ctx, tx.Rebind(_insertOrder),
			o.ID, o.AccountID, o.UserID, o.IBAN, o.Asset, o.Side,
			tools.FormatQuantity(o.Quantity), tools.FormatQuantity(o.Price),
			tools.FormatFiat(o.Gross), tools.FormatFiat(o.Fee), tools.FormatFiat(o.Net),
			o.Currency, o.Status, o.ExecutedAt,
		); err != nil {
			return fmt.Errorf("%w: can't insert order", err)
		}

		e := st.Transaction
		if _, err := tx.ExecContext(ctx, tx.Rebind(_insertTransaction),
			e.ID, e.UserID, e.IBAN, e.OrderID, e.Kind,
			tools.FormatFiat(e.Amount), e.Currency, e.Description, e.CreatedAt,
		); err != nil {
			return fmt.Errorf("%w: can't insert transaction", err)
		}
		return nil
	})
}

// Transactions lists the statement entries of an account, newest first.
func (s *DB) Transactions(ctx context.Context, iban string) ([]model.Transaction, error) {
	var txs []model.Transaction
	if err := s.db.SelectContext(ctx, &txs, s.db.Rebind(_queryTransactions), strings.TrimSpace(iban)); err != nil {
		return nil, fmt.Errorf("%w: can't query transactions", err)
	}
	return txs, nil
}

func (s *DB) DebitByIBAN(ctx context.Context, iban string, amount decimal.Decimal) (model.Account, error) {
	return s.moveFunds(ctx, iban, amount.Neg())
}

func (s *DB) CreditByIBAN(ctx context.Context, iban string, amount decimal.Decimal) (model.Account, error) {
	return s.moveFunds(ctx, iban, amount)
}

func (s *DB) moveFunds(ctx context.Context, iban string, delta decimal.Decimal) (model.Account, error) {
	var acc model.Account
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		acc, err = s.getAccount(ctx, tx, _queryAccountByIBAN, strings.TrimSpace(iban))
		if err != nil {
			return err
		}

		balance := tools.RoundFiat(acc.Balance.Add(delta))
		if balance.IsNegative() {
			return fmt.Errorf("%w: %s has %s", model.ErrInsufficientBalance, acc.IBAN, tools.FormatFiat(acc.Balance))
		}
		if err := updateBalance(ctx, tx, acc.ID, acc.Revision, balance); err != nil {
			return err
		}

		acc.Balance = balance
		acc.Revision++
		return nil
	})
	return acc, err
}

// CreateAccount is used to seed local databases. An existing IBAN is left
// as it is.
func (s *DB) CreateAccount(ctx context.Context, acc model.Account) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(_insertAccount),
		acc.ID, acc.UserID, acc.IBAN, tools.FormatFiat(acc.Balance),
		acc.Currency, acc.TradingEnabled, acc.Revision,
	); err != nil {
		return fmt.Errorf("%w: can't insert account %s", err, acc.IBAN)
	}
	return nil
}

func updateBalance(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, revision int64, balance decimal.Decimal) error {
	res, err := tx.ExecContext(ctx, tx.Rebind(_updateAccountBalance), tools.FormatFiat(balance), id, revision)
	if err != nil {
		return fmt.Errorf("%w: can't update balance", err)
	}
	return expectRow(res, "account %s revision %d", id, revision)
}

func expectRow(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: can't get affected rows", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", model.ErrConflict, fmt.Sprintf(format, args...))
	}
	return nil
}

func (s *DB) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: can't begin tx", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: can't commit tx", err)
	}
	committed = true
	return nil
}
