package feed

import (
	"errors"
	"fmt"
	"time"

	"github.com/STTM-NSU/crypto-trader/internal/model"
	"github.com/bytedance/sonic"
)

const _tradeEvent = "trade"

var ErrMalformedFrame = errors.New("malformed frame")

// tradeEvent is the exchange trade payload. Every key is declared: the
// decoder matches names case-insensitively, so "e"/"E", "t"/"T" and
// "m"/"M" would otherwise collide.
type tradeEvent struct {
	Event      string `json:"e"`
	EventTime  int64  `json:"E"`
	Symbol     string `json:"s"`
	TradeID    int64  `json:"t"`
	Price      string `json:"p"`
	Quantity   string `json:"q"`
	TradeTime  int64  `json:"T"`
	BuyerMaker bool   `json:"m"`
	Ignore     bool   `json:"M"`
}

// frame covers both the combined stream envelope {"stream":..,"data":{..}}
// and a raw event with the fields at the top level.
type frame struct {
	Stream string      `json:"stream"`
	Data   *tradeEvent `json:"data"`
	tradeEvent
}

// parseFrame returns ok=false for well formed frames that are not trades.
func parseFrame(msg []byte) (model.RawTick, bool, error) {
	var f frame
	if err := sonic.Unmarshal(msg, &f); err != nil {
		return model.RawTick{}, false, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}

	ev := &f.tradeEvent
	if f.Data != nil {
		ev = f.Data
	}
	if ev.Event == "" {
		return model.RawTick{}, false, fmt.Errorf("%w: no event type", ErrMalformedFrame)
	}
	if ev.Event != _tradeEvent {
		return model.RawTick{}, false, nil
	}
	if ev.Symbol == "" || ev.Price == "" {
		return model.RawTick{}, false, fmt.Errorf("%w: trade without symbol or price", ErrMalformedFrame)
	}

	return model.RawTick{
		Event:     ev.Event,
		Pair:      ev.Symbol,
		Price:     ev.Price,
		TradeTime: time.UnixMilli(ev.TradeTime),
	}, true, nil
}
