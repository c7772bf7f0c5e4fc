package main

import (
	"cmp"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/STTM-NSU/crypto-trader/internal/config"
	"github.com/STTM-NSU/crypto-trader/internal/feed"
	"github.com/STTM-NSU/crypto-trader/internal/httpapi"
	"github.com/STTM-NSU/crypto-trader/internal/ledger"
	"github.com/STTM-NSU/crypto-trader/internal/live"
	"github.com/STTM-NSU/crypto-trader/internal/logger"
	"github.com/STTM-NSU/crypto-trader/internal/model"
	"github.com/STTM-NSU/crypto-trader/internal/postgres"
	"github.com/STTM-NSU/crypto-trader/internal/pricecache"
	"github.com/STTM-NSU/crypto-trader/internal/quotes"
	"github.com/STTM-NSU/crypto-trader/internal/router"
	"github.com/STTM-NSU/crypto-trader/internal/server"
	"github.com/STTM-NSU/crypto-trader/internal/symbols"
	"github.com/STTM-NSU/crypto-trader/internal/tools"
	"github.com/STTM-NSU/crypto-trader/internal/trading"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const (
	_traderCfgFilePath = "./configs/trader.yaml"
)

type storage struct {
	ledger  trading.Store
	symbols symbols.Store
	close   func() error
}

func main() {
	bootLogger, bootSync, err := logger.NewZapLogger(logger.Info)
	if err != nil {
		log.Fatalf("%s: can't init logger", err)
	}

	if err := godotenv.Load(); err != nil {
		bootLogger.Warnf("can't detect .env file")
	}

	cfg, err := config.LoadTraderConfig(cmp.Or(os.Getenv("TRADER_CONFIG"), _traderCfgFilePath))
	if err != nil {
		bootLogger.Fatalf("%s: can't load trader cfg", err)
	}
	bootSync()

	level, _ := logger.ParseLevel(cfg.LogLevel)
	zapLogger, loggerSync, err := logger.NewZapLogger(level)
	if err != nil {
		log.Fatalf("%s: can't init logger", err)
	}
	defer loggerSync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, zapLogger); err != nil {
		zapLogger.Errorf("%s: trader stopped", err)
		loggerSync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.TraderConfig, l logger.Logger) error {
	st, err := openStorage(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			l.Warnf("%s: can't close storage", err)
		}
	}()

	directory := symbols.NewDirectory(st.symbols, l.With("component", "symbols"))
	cache := pricecache.New(cfg.Cache.Capacity, cfg.Cache.Expiry)
	fetcher := quotes.NewFetcher(cfg.Quotes, l.With("component", "quotes"))
	defer fetcher.Close()
	hub := live.NewHub()

	marketFeed := feed.New(cfg.Feed, l.With("component", "feed"))
	defer marketFeed.Close()

	r := router.New(marketFeed, directory, cache, hub,
		cfg.Feed.StaleThreshold, cfg.Feed.HealthCheckInterval, l.With("component", "router"))
	if err := r.Init(ctx); err != nil {
		// the health check retries on its own schedule
		l.Errorf("%s: initial feed connect failed", err)
	}

	engine := trading.NewEngine(st.ledger, directory, cache, fetcher, cfg.Trading, l.With("component", "trading"))
	api := httpapi.New(engine, fetcher, hub, marketFeed, directory, httpapi.Config{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		SampleInterval: cfg.Live.SampleInterval,
	}, l.With("component", "http"))

	srv := server.NewHTTPServer(ctx, cfg.HTTP.Port, api.Handler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.Run(gctx)
	})
	g.Go(func() error {
		l.Infof("http server listening on :%s", cfg.HTTP.Port)
		return srv.Run(gctx)
	})

	return g.Wait()
}

func openStorage(ctx context.Context, cfg config.TraderConfig, l logger.Logger) (storage, error) {
	switch cfg.Storage.Driver {
	case config.Memory:
		mem := ledger.NewMemory()
		if err := seedAccounts(ctx, cfg.Seed.Accounts, mem.CreateAccount); err != nil {
			return storage{}, err
		}
		l.Infof("using in-memory storage with %d accounts", len(cfg.Seed.Accounts))
		return storage{
			ledger:  mem,
			symbols: symbols.NewStaticStore(cfg.Seed.Symbols),
			close:   func() error { return nil },
		}, nil

	default:
		db, err := postgres.NewDB(postgres.NewConfigFromEnv().Setup())
		if err != nil {
			return storage{}, fmt.Errorf("%w: can't connect to postgres", err)
		}
		if err := preparePostgres(ctx, db, cfg); err != nil {
			_ = db.Close()
			return storage{}, err
		}
		return storage{
			ledger:  ledger.NewDB(db),
			symbols: symbols.NewDBStore(db),
			close:   db.Close,
		}, nil
	}
}

func preparePostgres(ctx context.Context, db *sqlx.DB, cfg config.TraderConfig) error {
	if cfg.Storage.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
	}

	symbolStore := symbols.NewDBStore(db)
	for _, s := range cfg.Seed.Symbols {
		if err := symbolStore.Upsert(ctx, model.Symbol{
			Asset:      s.Asset,
			Pair:       s.Pair,
			ExternalID: s.ExternalID,
			Enabled:    true,
		}); err != nil {
			return err
		}
	}
	return seedAccounts(ctx, cfg.Seed.Accounts, ledger.NewDB(db).CreateAccount)
}

func seedAccounts(ctx context.Context, seeds []config.AccountSeed, create func(context.Context, model.Account) error) error {
	for _, s := range seeds {
		acc := model.Account{
			IBAN:           s.IBAN,
			Balance:        tools.RoundFiat(tools.FromFloat(s.Balance.Value)),
			Currency:       s.Balance.Currency,
			TradingEnabled: s.TradingEnabled,
		}
		var err error
		if acc.ID, err = parseOrNewUUID(s.ID); err != nil {
			return fmt.Errorf("%w: bad account id for %s", err, s.IBAN)
		}
		if acc.UserID, err = parseOrNewUUID(s.UserID); err != nil {
			return fmt.Errorf("%w: bad user id for %s", err, s.IBAN)
		}
		if err := create(ctx, acc); err != nil {
			return err
		}
	}
	return nil
}

func parseOrNewUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(s)
}
