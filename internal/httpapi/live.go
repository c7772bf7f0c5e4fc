package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/STTM-NSU/crypto-trader/internal/live"
	"github.com/STTM-NSU/crypto-trader/internal/model"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

const _wsWriteTimeout = 10 * time.Second

func (a *API) handleLiveSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-store")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := a.hub.Subscribe()
	defer sub.Close()

	err := live.Sample(r.Context(), sub, a.cfg.SampleInterval, func(ticks []model.Tick) error {
		for _, t := range ticks {
			b, err := sonic.Marshal(newLiveTick(t))
			if err != nil {
				return err
			}
			// unnamed events reach EventSource.onmessage
			if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
				return err
			}
		}
		flusher.Flush()
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Debugf("%s: sse stream closed", err)
	}
}

func (a *API) handleLiveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warnf("%s: can't upgrade live connection", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Inbound frames are ignored; a read error means the client left.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sub := a.hub.Subscribe()
	defer sub.Close()

	err = live.Sample(ctx, sub, a.cfg.SampleInterval, func(ticks []model.Tick) error {
		for _, t := range ticks {
			b, err := sonic.Marshal(newLiveTick(t))
			if err != nil {
				return err
			}
			_ = conn.SetWriteDeadline(time.Now().Add(_wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Debugf("%s: live websocket closed", err)
	}
}
