package auth

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// OpenDatabase connects to SQLite or PostgreSQL and wraps the pool in bun.
func OpenDatabase(ctx context.Context, driver, dsn string) (*bun.DB, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open sqlite database")
		}
		// a single connection keeps :memory: databases alive and writers serialized
		sqldb.SetMaxOpenConns(1)

		db := bun.NewDB(sqldb, sqlitedialect.New())
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
			_ = db.Close()
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to enable sqlite foreign keys")
		}
		return db, nil

	case DriverPostgres, "pg", "pgx":
		sqldb, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open postgres database")
		}

		db := bun.NewDB(sqldb, pgdialect.New())
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reach postgres database")
		}
		return db, nil

	default:
		return nil, goerrors.New("unsupported database driver", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"driver": driver})
	}
}

// goose keeps its base FS and dialect in package globals.
var migrateMu sync.Mutex

// Migrate applies the embedded migrations matching the dialect of db.
func Migrate(ctx context.Context, db *bun.DB) error {
	dir, gooseDialect := DriverSQLite, "sqlite3"
	if db.Dialect().Name() == dialect.PG {
		dir, gooseDialect = DriverPostgres, "postgres"
	}

	migrations, err := MigrationsFor(dir)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load migrations")
	}

	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(gooseDialect); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to set migration dialect")
	}

	if err := goose.UpContext(ctx, db.DB, "."); err != nil {
		return normalizeError(err, "run migrations")
	}
	return nil
}
