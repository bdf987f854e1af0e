package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	_ "modernc.org/sqlite"

	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/txsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/postgres"
)

// Open opens the Index Store for reading. A sqlite store must already exist
// at cfg.Path; it is opened read-only. Every failure wraps
// ErrStoreUnavailable.
func Open(ctx context.Context, cfg config.StoreConfig) (*SQLStore, error) {
	var (
		db     *sql.DB
		source string
		err    error
	)
	switch cfg.Driver {
	case config.DriverSQLite, "":
		db, err = openSQLiteReadOnly(cfg.Path)
		source = "sqlite:" + cfg.Path
	case config.DriverPostgres:
		db, err = postgres.Open(ctx, cfg.Postgres)
		source = fmt.Sprintf("postgres:%s:%d/%s", cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Database)
	default:
		err = fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err)
	}

	if err := verifySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %s: %w", apperrors.ErrStoreUnavailable, source, err)
	}

	driver := cfg.Driver
	if driver == "" {
		driver = config.DriverSQLite
	}
	slog.Info("index store opened", "source", source)
	return &SQLStore{db: db, dialect: dialectFor(driver), source: source}, nil
}

func openSQLiteReadOnly(path string) (*sql.DB, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{Path: path}
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	db, err := sql.Open("sqlite", readOnlyDSN(path))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	return db, nil
}

func readOnlyDSN(path string) string {
	return "file:" + path + "?mode=ro&_pragma=busy_timeout(5000)&_pragma=query_only(1)"
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, "SELECT tx_id FROM transactions LIMIT 1")
	if err != nil {
		return fmt.Errorf("transactions table not readable: %w", err)
	}
	return rows.Close()
}
