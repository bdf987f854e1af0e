package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/Adithya-Monish-Kumar-K/txsearch/internal/store/migrations"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/config"
)

// Migrate applies the embedded schema. For sqlite, path names the database
// file to create or upgrade; it is ignored for postgres.
func Migrate(cfg config.StoreConfig, path string) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	var url string
	switch cfg.Driver {
	case config.DriverSQLite, "":
		url = "sqlite://" + path
	case config.DriverPostgres:
		url = cfg.Postgres.URL()
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}
