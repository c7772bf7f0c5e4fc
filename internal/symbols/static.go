package symbols

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/STTM-NSU/crypto-trader/internal/config"
	"github.com/STTM-NSU/crypto-trader/internal/model"
)

// StaticStore serves symbols from configuration. Replace swaps the whole
// set, which the directory picks up on its next reload.
type StaticStore struct {
	mu   sync.RWMutex
	syms []model.Symbol
}

func NewStaticStore(seeds []config.SymbolSeed) *StaticStore {
	now := time.Now().UTC()
	syms := make([]model.Symbol, 0, len(seeds))
	for _, s := range seeds {
		syms = append(syms, model.Symbol{
			Asset:      s.Asset,
			Pair:       s.Pair,
			ExternalID: s.ExternalID,
			Enabled:    true,
			UpdatedAt:  now,
		})
	}
	return &StaticStore{syms: syms}
}

func (s *StaticStore) EnabledSymbols(context.Context) ([]model.Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.syms), nil
}

func (s *StaticStore) Replace(syms []model.Symbol) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syms = slices.Clone(syms)
}
