package feed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/STTM-NSU/crypto-trader/internal/config"
	"github.com/STTM-NSU/crypto-trader/internal/logger"
	"github.com/STTM-NSU/crypto-trader/internal/model"
	"github.com/gorilla/websocket"
)

var ErrNoStreams = errors.New("no streams to subscribe")

// Feed holds one multiplexed websocket connection to the exchange and turns
// its frames into RawTicks. It never reconnects by itself.
type Feed struct {
	baseURL        string
	suffix         string
	staleThreshold time.Duration
	dialer         *websocket.Dialer

	ticks chan model.RawTick

	mu   sync.Mutex
	conn *websocket.Conn
	gen  uint64

	state       atomic.Int32
	lastMessage atomic.Int64

	now    func() time.Time
	logger logger.Logger
}

type Option func(*Feed)

func WithClock(now func() time.Time) Option {
	return func(f *Feed) {
		f.now = now
	}
}

func New(cfg config.FeedConfig, logger logger.Logger, opts ...Option) *Feed {
	f := &Feed{
		baseURL:        cfg.URL,
		suffix:         cfg.StreamSuffix,
		staleThreshold: cfg.StaleThreshold,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		ticks:  make(chan model.RawTick, cfg.TickBuffer),
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.state.Store(int32(Disconnected))
	return f
}

// StreamURL builds {base}?streams=a@trade/b@trade over the de-duplicated,
// sorted, lower-cased pairs.
func StreamURL(base string, pairs []string, suffix string) string {
	streams := make([]string, 0, len(pairs))
	for _, p := range pairs {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		streams = append(streams, p)
	}
	slices.Sort(streams)
	streams = slices.Compact(streams)

	for i, s := range streams {
		streams[i] = url.QueryEscape(s + suffix)
	}
	return base + "?streams=" + strings.Join(streams, "/")
}

// Connect drops any existing connection and dials a new one carrying every
// pair. The previous read loop exits silently.
func (f *Feed) Connect(ctx context.Context, pairs []string) error {
	if len(pairs) == 0 {
		return ErrNoStreams
	}
	streamURL := StreamURL(f.baseURL, pairs, f.suffix)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.abortLocked()
	f.gen++
	gen := f.gen
	f.state.Store(int32(Connecting))

	conn, _, err := f.dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		f.state.Store(int32(Disconnected))
		return fmt.Errorf("%w: can't dial %s", err, streamURL)
	}

	f.conn = conn
	f.lastMessage.Store(f.now().UnixNano())
	f.state.Store(int32(Connected))
	f.logger.Infof("connected to %s", streamURL)

	go f.readLoop(conn, gen)
	return nil
}

func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.abortLocked()
	f.gen++
	f.state.Store(int32(Disconnected))
}

// abortLocked closes the socket without a close handshake.
func (f *Feed) abortLocked() {
	if f.conn == nil {
		return
	}
	_ = f.conn.Close()
	f.conn = nil
}

func (f *Feed) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			f.mu.Lock()
			if f.gen == gen {
				f.conn = nil
				f.state.Store(int32(Disconnected))
				f.logger.Warnf("%s: feed connection lost", err)
			}
			f.mu.Unlock()
			return
		}
		f.handle(msg)
	}
}

func (f *Feed) handle(msg []byte) {
	tick, ok, err := parseFrame(msg)
	if err != nil {
		f.logger.Warnf("%s: skip frame", err)
		return
	}

	now := f.now()
	f.lastMessage.Store(now.UnixNano())
	if !ok {
		return
	}

	tick.ReceivedAt = now
	select {
	case f.ticks <- tick:
	default:
		f.logger.Warnf("tick buffer full, drop %s", tick.Pair)
	}
}

func (f *Feed) Ticks() <-chan model.RawTick {
	return f.ticks
}

// IsAlive reports whether a connection exists and a frame arrived within
// threshold.
func (f *Feed) IsAlive(threshold time.Duration) bool {
	if State(f.state.Load()) != Connected {
		return false
	}
	return f.now().Sub(f.LastMessageAt()) < threshold
}

func (f *Feed) State() State {
	s := State(f.state.Load())
	if s == Connected && !f.IsAlive(f.staleThreshold) {
		return Stale
	}
	return s
}

func (f *Feed) LastMessageAt() time.Time {
	return time.Unix(0, f.lastMessage.Load())
}
