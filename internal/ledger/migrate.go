package ledger

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/hackgods/medical-appointment-saga/internal/country"
)

//go:embed migrations
var embeddedMigrations embed.FS

// Migrations returns the migration files of one country's ledger.
func Migrations(code country.Code) (fs.FS, error) {
	if !code.Supported() {
		return nil, fmt.Errorf("%w: %q", country.ErrUnsupported, code)
	}
	return fs.Sub(embeddedMigrations, path.Join("migrations", code.Lower()))
}

// Migrate applies the country's pending migrations to pool. Each country
// keeps its own version table, so two countries may share a database.
func Migrate(pool *pgxpool.Pool, code country.Code) error {
	if pool == nil {
		return errors.New("migration pool is required")
	}

	sub, err := Migrations(code)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{
		MigrationsTable: "schema_migrations_" + code.Lower(),
	})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply %s migrations: %w", code, err)
	}
	// Do not call migrator.Close here; it would close the shared handle.
	return nil
}
