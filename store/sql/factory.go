package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-leadrelay/core"
	relaymigrations "github.com/goliatone/go-leadrelay/migrations"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

type persistenceConfig struct {
	driver string
	server string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool {
	return c.debug
}

func (c persistenceConfig) GetDriver() string {
	return c.driver
}

func (c persistenceConfig) GetServer() string {
	return c.server
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	return 5 * time.Second
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return "go-leadrelay"
}

// Open connects to the queue database described by cfg, applies the embedded
// migrations for its dialect and returns the persistence client.
func Open(ctx context.Context, cfg core.QueueConfig) (*persistence.Client, error) {
	driver, sqlDriver, dialect, err := resolveDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("sqlstore: dsn is required for the %s driver", driver)
	}

	sqlDB, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	if driver == relaymigrations.DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{driver: sqlDriver, server: dsn}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: persistence client: %w", err)
	}

	migrationFS, err := relaymigrations.ForDialect(driver)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	client.RegisterSQLMigrations(migrationFS)
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return client, nil
}

// NewPendingLeadStoreFromPersistence accepts a *bun.DB or anything exposing
// DB() *bun.DB, such as a go-persistence-bun client.
func NewPendingLeadStoreFromPersistence(client any) (*PendingLeadStore, error) {
	db, err := resolveBunDB(client)
	if err != nil {
		return nil, err
	}
	return NewPendingLeadStore(db)
}

func resolveDriver(name string) (string, string, schema.Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case core.QueueDriverSQLite:
		return relaymigrations.DialectSQLite, "sqlite3", sqlitedialect.New(), nil
	case core.QueueDriverPostgres:
		return relaymigrations.DialectPostgres, "postgres", pgdialect.New(), nil
	default:
		return "", "", nil, fmt.Errorf("sqlstore: unsupported driver %q", name)
	}
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
