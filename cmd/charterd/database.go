package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/castoff/charterpay/internal/store/gormstore"
	"github.com/castoff/charterpay/internal/store/pgstore"
	"github.com/castoff/charterpay/pkg/booking"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	dialectPostgres   = "postgres"
	dialectSQLite     = "sqlite"
	sqliteScheme      = "sqlite://"
	sqliteMemory      = ":memory:"
	defaultSQLiteFile = "charterpay.db"
)

var errInvalidDatabase = errors.New("invalid database config")

// databaseTarget is a database url resolved to its dialect together with the booking store that runs
// on it. The catalog, outbox and migrations always go through gorm; only bookings may use pgx.
type databaseTarget struct {
	URL         string
	Dialect     string
	SQLitePath  string
	StoreDriver string
}

func parseDatabaseTarget(rawURL string, storeDriver string) (databaseTarget, error) {
	target := databaseTarget{
		URL:         strings.TrimSpace(rawURL),
		StoreDriver: strings.ToLower(strings.TrimSpace(storeDriver)),
	}
	if target.URL == "" {
		target.URL = defaultDatabaseURL
	}
	if target.StoreDriver == "" {
		target.StoreDriver = storeDriverGorm
	}

	lowered := strings.ToLower(target.URL)
	switch {
	case strings.HasPrefix(lowered, "postgres://"), strings.HasPrefix(lowered, "postgresql://"):
		target.Dialect = dialectPostgres
	case strings.HasPrefix(lowered, sqliteScheme):
		parsed, err := url.Parse(target.URL)
		if err != nil {
			return databaseTarget{}, fmt.Errorf("%w: parse sqlite url: %w", errInvalidDatabase, err)
		}
		target.Dialect = dialectSQLite
		target.SQLitePath = sqliteFile(parsed.Host + parsed.Path)
	default:
		target.Dialect = dialectSQLite
		target.SQLitePath = sqliteFile(target.URL)
	}

	switch target.StoreDriver {
	case storeDriverGorm:
	case storeDriverPgx:
		if target.Dialect != dialectPostgres {
			return databaseTarget{}, fmt.Errorf("%w: %s %q requires a postgres database url", errInvalidDatabase, flagStoreDriver, storeDriverPgx)
		}
	default:
		return databaseTarget{}, fmt.Errorf("%w: %s must be %q or %q", errInvalidDatabase, flagStoreDriver, storeDriverGorm, storeDriverPgx)
	}
	return target, nil
}

func sqliteFile(path string) string {
	switch path {
	case "", "/":
		return defaultSQLiteFile
	case sqliteMemory:
		return sqliteMemory
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(".", path)
}

// database holds the open handles for one target.
type database struct {
	target  databaseTarget
	gorm    *gorm.DB
	pool    *pgxpool.Pool
	catalog *gormstore.Store
}

// open connects gorm, migrates when required and, for the pgx store driver, opens a pgx pool on the
// same url. SQLite runs on a single connection because it rejects concurrent write transactions.
func (target databaseTarget) open(ctx context.Context, autoMigrate bool) (*database, error) {
	var dialector gorm.Dialector
	switch target.Dialect {
	case dialectPostgres:
		dialector = postgres.Open(target.URL)
	case dialectSQLite:
		if target.SQLitePath != sqliteMemory {
			if err := os.MkdirAll(filepath.Dir(target.SQLitePath), 0o755); err != nil {
				return nil, fmt.Errorf("sqlite directory: %w", err)
			}
		}
		dialector = sqlite.Open(target.SQLitePath)
	default:
		return nil, fmt.Errorf("%w: unsupported dialect %q", errInvalidDatabase, target.Dialect)
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, err
	}
	if target.Dialect == dialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	opened := &database{target: target, gorm: gormDB.WithContext(ctx), catalog: gormstore.New(gormDB.WithContext(ctx))}

	if target.Dialect == dialectSQLite || autoMigrate {
		if err := gormstore.Migrate(opened.gorm); err != nil {
			_ = opened.close()
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}

	if target.StoreDriver == storeDriverPgx {
		pool, err := pgxpool.New(ctx, target.URL)
		if err != nil {
			_ = opened.close()
			return nil, fmt.Errorf("pgx pool: %w", err)
		}
		opened.pool = pool
		if err := pool.Ping(ctx); err != nil {
			_ = opened.close()
			return nil, fmt.Errorf("pgx ping: %w", err)
		}
	}
	return opened, nil
}

// bookings returns the store selected by the target's store driver.
func (opened *database) bookings() booking.Store {
	if opened.pool != nil {
		return pgstore.New(opened.pool)
	}
	return opened.catalog
}

func (opened *database) close() error {
	if opened.pool != nil {
		opened.pool.Close()
	}
	sqlDB, err := opened.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
