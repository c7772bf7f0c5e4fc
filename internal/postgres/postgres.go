package postgres

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Config struct {
	Host         string
	Port         string
	Username     string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
}

func NewConfigFromEnv() *Config {
	maxOpen, _ := strconv.Atoi(os.Getenv("POSTGRES_MAX_OPEN_CONNS"))
	return &Config{
		Host:         os.Getenv("POSTGRES_HOST"),
		Port:         os.Getenv("POSTGRES_PORT"),
		Username:     os.Getenv("POSTGRES_USERNAME"),
		Password:     os.Getenv("POSTGRES_PASSWORD"),
		DBName:       os.Getenv("POSTGRES_DB_NAME"),
		SSLMode:      os.Getenv("POSTGRES_SSL_MODE"),
		MaxOpenConns: maxOpen,
	}
}

func (c *Config) Setup() *Config {
	const (
		defaultHost         = "localhost"
		defaultPort         = "5432"
		defaultUsername     = "postgres"
		defaultPassword     = "postgres"
		defaultDBName       = "postgres"
		defaultSSLMode      = "disable"
		defaultMaxOpenConns = 10
	)

	c.Host = cmp.Or(c.Host, defaultHost)
	c.Port = cmp.Or(c.Port, defaultPort)
	if _, err := strconv.Atoi(c.Port); err != nil {
		c.Port = defaultPort
	}
	c.Username = cmp.Or(c.Username, defaultUsername)
	c.Password = cmp.Or(c.Password, defaultPassword)
	c.DBName = cmp.Or(c.DBName, defaultDBName)
	c.SSLMode = cmp.Or(c.SSLMode, defaultSSLMode)
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = defaultMaxOpenConns
	}

	return c
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.DBName, c.Password, c.SSLMode,
	)
}

func NewDB(cfg *Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.String())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns / 2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

var _schema = []string{
	`CREATE TABLE IF NOT EXISTS crypto_symbols (
		asset       VARCHAR(16) PRIMARY KEY,
		pair        VARCHAR(32) NOT NULL UNIQUE,
		external_id VARCHAR(64) NOT NULL UNIQUE,
		enabled     BOOLEAN     NOT NULL DEFAULT TRUE,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id              UUID PRIMARY KEY,
		user_id         UUID          NOT NULL,
		iban            VARCHAR(34)   NOT NULL UNIQUE,
		balance         NUMERIC(19,2) NOT NULL CHECK (balance >= 0),
		currency        VARCHAR(3)    NOT NULL,
		trading_enabled BOOLEAN       NOT NULL DEFAULT FALSE,
		revision        BIGINT        NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS crypto_holdings (
		id         UUID PRIMARY KEY,
		account_id UUID          NOT NULL REFERENCES accounts (id),
		asset      VARCHAR(16)   NOT NULL,
		quantity   NUMERIC(38,8) NOT NULL CHECK (quantity >= 0),
		avg_cost   NUMERIC(38,8) NOT NULL,
		currency   VARCHAR(3)    NOT NULL,
		revision   BIGINT        NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ   NOT NULL,
		UNIQUE (account_id, asset)
	)`,
	`CREATE TABLE IF NOT EXISTS crypto_orders (
		id           UUID PRIMARY KEY,
		account_id   UUID          NOT NULL REFERENCES accounts (id),
		user_id      UUID          NOT NULL,
		iban         VARCHAR(34)   NOT NULL,
		asset        VARCHAR(16)   NOT NULL,
		side         VARCHAR(4)    NOT NULL,
		quantity     NUMERIC(38,8) NOT NULL,
		price        NUMERIC(38,8) NOT NULL,
		gross_amount NUMERIC(19,2) NOT NULL,
		fee_amount   NUMERIC(19,2) NOT NULL,
		net_amount   NUMERIC(19,2) NOT NULL,
		currency     VARCHAR(3)    NOT NULL,
		status       VARCHAR(16)   NOT NULL,
		executed_at  TIMESTAMPTZ   NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS crypto_orders_account_executed_idx ON crypto_orders (account_id, executed_at DESC)`,
	`CREATE TABLE IF NOT EXISTS account_transactions (
		id          UUID PRIMARY KEY,
		user_id     UUID          NOT NULL,
		iban        VARCHAR(34)   NOT NULL,
		order_id    UUID          NOT NULL REFERENCES crypto_orders (id),
		kind        VARCHAR(8)    NOT NULL,
		amount      NUMERIC(19,2) NOT NULL,
		currency    VARCHAR(3)    NOT NULL,
		description TEXT          NOT NULL,
		created_at  TIMESTAMPTZ   NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS account_transactions_iban_created_idx ON account_transactions (iban, created_at DESC)`,
}

// Migrate creates the service tables if they are missing.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, ddl := range _schema {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("%w: can't apply schema", err)
		}
	}
	return nil
}
