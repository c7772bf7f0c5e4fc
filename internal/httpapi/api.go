package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/STTM-NSU/crypto-trader/internal/feed"
	"github.com/STTM-NSU/crypto-trader/internal/live"
	"github.com/STTM-NSU/crypto-trader/internal/logger"
	"github.com/STTM-NSU/crypto-trader/internal/model"
	"github.com/STTM-NSU/crypto-trader/internal/symbols"
	"github.com/STTM-NSU/crypto-trader/internal/trading"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
)

type Trader interface {
	PlaceMarketOrder(ctx context.Context, req trading.OrderRequest, p trading.Principal) (trading.OrderResult, error)
	Portfolio(ctx context.Context, accountID uuid.UUID, vs string, p trading.Principal) ([]trading.Position, error)
	Orders(ctx context.Context, accountID uuid.UUID, p trading.Principal) ([]model.Order, error)
	Debit(ctx context.Context, iban string, amount decimal.Decimal, p trading.Principal) (model.Account, error)
	Credit(ctx context.Context, iban string, amount decimal.Decimal, p trading.Principal) (model.Account, error)
	Transactions(ctx context.Context, iban string, p trading.Principal) ([]model.Transaction, error)
}

type MarketData interface {
	SimplePrices(ctx context.Context, ids, vs []string) ([]model.SimplePrice, error)
	History(ctx context.Context, id, vs, days string) (model.PriceHistory, error)
}

type FeedStatus interface {
	State() feed.State
	LastMessageAt() time.Time
}

type SymbolSource interface {
	Snapshot() *symbols.Snapshot
}

type Config struct {
	AllowedOrigins []string
	SampleInterval time.Duration
}

type API struct {
	trader    Trader
	market    MarketData
	hub       *live.Hub
	feed      FeedStatus
	directory SymbolSource

	cfg      Config
	validate *validator.Validate
	upgrader websocket.Upgrader

	logger logger.Logger
}

func New(
	trader Trader,
	market MarketData,
	hub *live.Hub,
	feed FeedStatus,
	directory SymbolSource,
	cfg Config,
	logger logger.Logger,
) *API {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = time.Second
	}
	a := &API{
		trader:    trader,
		market:    market,
		hub:       hub,
		feed:      feed,
		directory: directory,
		cfg:       cfg,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     a.checkOrigin,
	}
	return a
}

func (a *API) Handler() http.Handler {
	r := mux.NewRouter()

	trade := r.PathPrefix("/api/crypto/trade").Subrouter()
	trade.HandleFunc("/order", a.handlePlaceOrder).Methods(http.MethodPost)
	for _, path := range []string{"/portfolio/by-account", "/portfolio"} {
		trade.HandleFunc(path, a.handlePortfolio).Methods(http.MethodGet)
	}
	for _, path := range []string{"/orders/by-account", "/orders"} {
		trade.HandleFunc(path, a.handleOrders).Methods(http.MethodGet)
	}

	crypto := r.PathPrefix("/api/crypto").Subrouter()
	crypto.HandleFunc("/live", a.handleLiveSSE).Methods(http.MethodGet)
	crypto.HandleFunc("/live/ws", a.handleLiveWS).Methods(http.MethodGet)
	crypto.HandleFunc("/simple-price", a.handleSimplePrice).Methods(http.MethodGet)
	crypto.HandleFunc("/history", a.handleHistory).Methods(http.MethodGet)

	accounts := r.PathPrefix("/api/accounts/{iban}").Subrouter()
	accounts.HandleFunc("/credit", a.handleCredit).Methods(http.MethodPost)
	accounts.HandleFunc("/debit", a.handleDebit).Methods(http.MethodPost)
	accounts.HandleFunc("/transactions", a.handleTransactions).Methods(http.MethodGet)

	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins:   a.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", _headerUserID, _headerRoles},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func (a *API) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range a.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := a.feed.State()
	status := "UP"
	if state != feed.Connected {
		status = "DEGRADED"
	}
	respondJSON(w, http.StatusOK, healthResponse{
		Status:        status,
		Feed:          state.String(),
		LastMessageAt: a.feed.LastMessageAt().UTC(),
		Symbols:       a.directory.Snapshot().Len(),
		Subscribers:   a.hub.Subscribers(),
	})
}
