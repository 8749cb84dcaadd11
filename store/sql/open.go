// Package sqlstore persists token records and rate-limit state on bun, for
// sqlite (mattn/go-sqlite3) and postgres (lib/pq).
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-outbound/core"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const (
	driverSQLite   = "sqlite3"
	driverPostgres = "postgres"
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
	return "go-outbound"
}

// Open builds a persistence client for the sqlite or postgres driver named
// in cfg and makes sure the outbound tables exist.
func Open(ctx context.Context, cfg core.TokenStoreConfig) (*persistence.Client, error) {
	driver, dialect, err := resolveDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, storeError(nil, goerrors.CategoryBadInput, "sqlstore: dsn is required")
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, storeError(err, goerrors.CategoryExternal, "sqlstore: open database")
	}
	if driver == driverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{driver: driver, server: dsn}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, storeError(err, goerrors.CategoryExternal, "sqlstore: new persistence client")
	}
	if err := EnsureSchema(ctx, client.DB()); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// EnsureSchema creates the outbound tables when missing.
func EnsureSchema(ctx context.Context, db *bun.DB) error {
	if db == nil {
		return storeError(nil, goerrors.CategoryBadInput, "sqlstore: bun db is required")
	}
	models := []any{(*tokenRecord)(nil), (*rateLimitStateRecord)(nil)}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return storeError(err, goerrors.CategoryExternal, "sqlstore: create table")
		}
	}
	if _, err := db.NewCreateIndex().
		Model((*rateLimitStateRecord)(nil)).
		Index("outbound_rate_limit_states_key_idx").
		Column("service", "target").
		Unique().
		IfNotExists().
		Exec(ctx); err != nil {
		return storeError(err, goerrors.CategoryExternal, "sqlstore: create index")
	}
	return nil
}

func resolveDialect(driver string) (string, schema.Dialect, error) {
	switch strings.TrimSpace(strings.ToLower(driver)) {
	case core.TokenStoreSQLite, driverSQLite:
		return driverSQLite, sqlitedialect.New(), nil
	case core.TokenStorePostgres, "postgresql", "pg":
		return driverPostgres, pgdialect.New(), nil
	default:
		return "", nil, storeError(nil, goerrors.CategoryBadInput, fmt.Sprintf("sqlstore: unsupported driver %q", driver))
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

func storeError(source error, category goerrors.Category, message string) error {
	return codedStoreError(source, category, message, core.OutboundErrorTokenStoreFailure)
}

func stateStoreError(source error, category goerrors.Category, message string) error {
	return codedStoreError(source, category, message, core.OutboundErrorStateStoreFailure)
}

func codedStoreError(source error, category goerrors.Category, message string, code string) error {
	var err *goerrors.Error
	if source == nil {
		err = goerrors.New(message, category)
	} else {
		err = goerrors.Wrap(source, category, message)
	}
	return err.WithTextCode(code).
		WithMetadata(map[string]any{"store": "sql"})
}
