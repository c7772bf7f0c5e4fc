package ledger

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/STTM-NSU/crypto-trader/internal/model"
	"github.com/STTM-NSU/crypto-trader/internal/tools"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type holdingKey struct {
	accountID uuid.UUID
	asset     string
}

// Memory is a process-local ledger with the same revision semantics as DB.
type Memory struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]model.Account
	byIBAN   map[string]uuid.UUID
	holdings map[holdingKey]model.Holding
	orders   []model.Order
	txs      []model.Transaction
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[uuid.UUID]model.Account),
		byIBAN:   make(map[string]uuid.UUID),
		holdings: make(map[holdingKey]model.Holding),
	}
}

func (m *Memory) CreateAccount(_ context.Context, acc model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byIBAN[acc.IBAN]; ok {
		return fmt.Errorf("account %s already exists", acc.IBAN)
	}
	m.accounts[acc.ID] = acc
	m.byIBAN[acc.IBAN] = acc.ID
	return nil
}

func (m *Memory) AccountByIBAN(_ context.Context, iban string) (model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byIBAN[strings.TrimSpace(iban)]
	if !ok {
		return model.Account{}, fmt.Errorf("%w: account", model.ErrNotFound)
	}
	return m.accounts[id], nil
}

func (m *Memory) AccountByID(_ context.Context, id uuid.UUID) (model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acc, ok := m.accounts[id]
	if !ok {
		return model.Account{}, fmt.Errorf("%w: account", model.ErrNotFound)
	}
	return acc, nil
}

func (m *Memory) Holding(_ context.Context, accountID uuid.UUID, asset string) (model.Holding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.holdings[holdingKey{accountID, asset}]
	if !ok {
		return model.Holding{}, fmt.Errorf("%w: holding %s", model.ErrNotFound, asset)
	}
	return h, nil
}

func (m *Memory) Holdings(_ context.Context, accountID uuid.UUID) ([]model.Holding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hs []model.Holding
	for k, h := range m.holdings {
		if k.accountID == accountID {
			hs = append(hs, h)
		}
	}
	slices.SortFunc(hs, func(a, b model.Holding) int {
		return strings.Compare(a.Asset, b.Asset)
	})
	return hs, nil
}

func (m *Memory) Orders(_ context.Context, accountID uuid.UUID) ([]model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var orders []model.Order
	for _, o := range m.orders {
		if o.AccountID == accountID {
			orders = append(orders, o)
		}
	}
	slices.SortStableFunc(orders, func(a, b model.Order) int {
		return cmp.Compare(b.ExecutedAt.UnixNano(), a.ExecutedAt.UnixNano())
	})
	return orders, nil
}

func (m *Memory) Settle(_ context.Context, st model.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[st.AccountID]
	if !ok || acc.Revision != st.AccountRevision {
		return fmt.Errorf("%w: account %s revision %d", model.ErrConflict, st.AccountID, st.AccountRevision)
	}

	h := st.Holding
	key := holdingKey{h.AccountID, h.Asset}
	current, exists := m.holdings[key]
	switch {
	case st.NewHolding && exists:
		return fmt.Errorf("%w: holding %s already exists", model.ErrConflict, h.Asset)
	case !st.NewHolding && (!exists || current.Revision != st.HoldingRevision):
		return fmt.Errorf("%w: holding %s revision %d", model.ErrConflict, h.Asset, st.HoldingRevision)
	case !st.NewHolding:
		h.Revision = current.Revision + 1
	}

	acc.Balance = st.Balance
	acc.Revision++
	m.accounts[acc.ID] = acc
	m.holdings[key] = h
	m.orders = append(m.orders, st.Order)
	m.txs = append(m.txs, st.Transaction)
	return nil
}

func (m *Memory) Transactions(_ context.Context, iban string) ([]model.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	iban = strings.TrimSpace(iban)
	var txs []model.Transaction
	for _, tx := range m.txs {
		if tx.IBAN == iban {
			txs = append(txs, tx)
		}
	}
	slices.SortStableFunc(txs, func(a, b model.Transaction) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})
	return txs, nil
}

func (m *Memory) DebitByIBAN(_ context.Context, iban string, amount decimal.Decimal) (model.Account, error) {
	return m.moveFunds(iban, amount.Neg())
}

func (m *Memory) CreditByIBAN(_ context.Context, iban string, amount decimal.Decimal) (model.Account, error) {
	return m.moveFunds(iban, amount)
}

func (m *Memory) moveFunds(iban string, delta decimal.Decimal) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byIBAN[strings.TrimSpace(iban)]
	if !ok {
		return model.Account{}, fmt.Errorf("%w: account", model.ErrNotFound)
	}
	acc := m.accounts[id]

	balance := tools.RoundFiat(acc.Balance.Add(delta))
	if balance.IsNegative() {
		return acc, fmt.Errorf("%w: %s has %s", model.ErrInsufficientBalance, acc.IBAN, tools.FormatFiat(acc.Balance))
	}
	acc.Balance = balance
	acc.Revision++
	m.accounts[id] = acc
	return acc, nil
}
