package symbols

import (
	"context"
	"fmt"
	"time"

	"github.com/STTM-NSU/crypto-trader/internal/model"
	"github.com/jmoiron/sqlx"
)

const (
	_queryEnabledSymbols = "SELECT asset, pair, external_id, enabled, updated_at FROM crypto_symbols WHERE enabled = TRUE ORDER BY asset"
	_upsertSymbol        = `INSERT INTO crypto_symbols (asset, pair, external_id, enabled, updated_at)
							VALUES (?, ?, ?, ?, ?)
							ON CONFLICT (asset)
							DO UPDATE SET
								pair = EXCLUDED.pair,
								external_id = EXCLUDED.external_id,
								enabled = EXCLUDED.enabled,
								updated_at = EXCLUDED.updated_at`
)

type DBStore struct {
	db *sqlx.DB
}

func NewDBStore(db *sqlx.DB) *DBStore {
	return &DBStore{db: db}
}

func (s *DBStore) EnabledSymbols(ctx context.Context) ([]model.Symbol, error) {
	var syms []model.Symbol
	if err := s.db.SelectContext(ctx, &syms, _queryEnabledSymbols); err != nil {
		return nil, fmt.Errorf("%w: can't query symbols", err)
	}
	return syms, nil
}

func (s *DBStore) Upsert(ctx context.Context, sym model.Symbol) error {
	if sym.UpdatedAt.IsZero() {
		sym.UpdatedAt = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(_upsertSymbol),
		sym.Asset, sym.Pair, sym.ExternalID, sym.Enabled, sym.UpdatedAt,
	); err != nil {
		return fmt.Errorf("%w: can't upsert symbol %s", err, sym.Asset)
	}
	return nil
}
