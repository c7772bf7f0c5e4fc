package symbols

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/STTM-NSU/crypto-trader/internal/logger"
	"github.com/STTM-NSU/crypto-trader/internal/model"
	"github.com/cespare/xxhash/v2"
)

type Store interface {
	EnabledSymbols(ctx context.Context) ([]model.Symbol, error)
}

// Snapshot is an immutable view of the enabled symbol set. Pair keys are
// upper case.
type Snapshot struct {
	Symbols []model.Symbol
	ByPair  map[string]model.Symbol
	ByAsset map[string]model.Symbol
	Pairs   []string
	Hash    uint64
}

func NewSnapshot(syms []model.Symbol) *Snapshot {
	sorted := make([]model.Symbol, 0, len(syms))
	for _, sym := range syms {
		sym.Asset = strings.ToUpper(sym.Asset)
		sym.Pair = strings.ToUpper(sym.Pair)
		sorted = append(sorted, sym)
	}
	slices.SortFunc(sorted, func(a, b model.Symbol) int {
		return strings.Compare(a.Asset, b.Asset)
	})

	s := &Snapshot{
		Symbols: sorted,
		ByPair:  make(map[string]model.Symbol, len(sorted)),
		ByAsset: make(map[string]model.Symbol, len(sorted)),
		Pairs:   make([]string, 0, len(sorted)),
	}
	h := xxhash.New()
	for _, sym := range sorted {
		s.ByPair[sym.Pair] = sym
		s.ByAsset[sym.Asset] = sym
		s.Pairs = append(s.Pairs, sym.Pair)
		_, _ = h.WriteString(sym.Asset + "|" + sym.Pair + "|" + sym.ExternalID + ",")
	}
	s.Hash = h.Sum64()
	return s
}

func (s *Snapshot) Lookup(pair string) (model.Symbol, bool) {
	sym, ok := s.ByPair[strings.ToUpper(pair)]
	return sym, ok
}

func (s *Snapshot) Len() int {
	return len(s.Symbols)
}

// Directory serves the current Snapshot and swaps it when the store's
// content changes.
type Directory struct {
	store   Store
	current atomic.Pointer[Snapshot]

	logger logger.Logger
}

func NewDirectory(store Store, logger logger.Logger) *Directory {
	d := &Directory{
		store:  store,
		logger: logger,
	}
	d.current.Store(NewSnapshot(nil))
	return d
}

// EnabledSymbols reads the store directly, ordered by asset.
func (d *Directory) EnabledSymbols(ctx context.Context) ([]model.Symbol, error) {
	syms, err := d.store.EnabledSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: can't load enabled symbols", err)
	}
	syms = slices.DeleteFunc(syms, func(s model.Symbol) bool { return !s.Enabled })
	slices.SortFunc(syms, func(a, b model.Symbol) int {
		return strings.Compare(a.Asset, b.Asset)
	})
	return syms, nil
}

// ReloadIfChanged returns true when a new snapshot was installed. On error
// the previous snapshot stays.
func (d *Directory) ReloadIfChanged(ctx context.Context) (bool, error) {
	syms, err := d.EnabledSymbols(ctx)
	if err != nil {
		return false, err
	}

	next := NewSnapshot(syms)
	prev := d.current.Load()
	if prev.Hash == next.Hash {
		return false, nil
	}

	d.current.Store(next)
	d.logger.Infof("symbol set changed: %d enabled", next.Len())
	return true, nil
}

func (d *Directory) Snapshot() *Snapshot {
	return d.current.Load()
}

func (d *Directory) Resolve(asset string) (model.Symbol, bool) {
	sym, ok := d.current.Load().ByAsset[strings.ToUpper(strings.TrimSpace(asset))]
	return sym, ok
}
