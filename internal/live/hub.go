package live

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/STTM-NSU/crypto-trader/internal/model"
)

// Hub fans ticks out to subscribers. Each subscriber only ever holds the
// newest tick per asset; a slow reader loses intermediate prices, never the
// latest one.
type Hub struct {
	mu     sync.Mutex
	latest map[string]model.Tick
	subs   map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{
		latest: make(map[string]model.Tick),
		subs:   make(map[*Subscription]struct{}),
	}
}

func (h *Hub) Publish(t model.Tick) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest[t.Asset] = t
	for s := range h.subs {
		s.offer(t)
	}
}

// Subscribe replays the latest tick of every known asset.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{
		hub:     h,
		pending: make(map[string]model.Tick),
		notify:  make(chan struct{}, 1),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.latest {
		s.offer(t)
	}
	h.subs[s] = struct{}{}
	return s
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}

type Subscription struct {
	hub *Hub

	mu      sync.Mutex
	pending map[string]model.Tick
	notify  chan struct{}
}

func (s *Subscription) offer(t model.Tick) {
	s.mu.Lock()
	s.pending[t.Asset] = t
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// C fires when Drain has something to return.
func (s *Subscription) C() <-chan struct{} {
	return s.notify
}

// Drain returns and clears pending ticks, ordered by asset.
func (s *Subscription) Drain() []model.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}
	out := sortTicks(s.pending)
	clear(s.pending)
	return out
}

func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Sample calls emit with the pending ticks at most once per interval until
// ctx ends or emit fails.
func Sample(ctx context.Context, s *Subscription, interval time.Duration, emit func([]model.Tick) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := flush(s, emit); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := flush(s, emit); err != nil {
				return err
			}
		}
	}
}

func flush(s *Subscription, emit func([]model.Tick) error) error {
	ticks := s.Drain()
	if len(ticks) == 0 {
		return nil
	}
	return emit(ticks)
}

func sortTicks(m map[string]model.Tick) []model.Tick {
	out := make([]model.Tick, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b model.Tick) int {
		return strings.Compare(a.Asset, b.Asset)
	})
	return out
}
