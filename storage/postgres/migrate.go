package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"

	migrate "github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file" // support file scheme for golang_migrate
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/stdlib"
)

// migrationsTable is where golang-migrate records the schema version.
const migrationsTable = "schema_migrations"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate brings the schema up to date. Migrations are read from source
// (e.g. "file://storage/postgres/migrations") when set, and from the copy
// embedded in the binary otherwise.
func (c *Client) Migrate(ctx context.Context, source string) error {
	db := stdlib.OpenDBFromPool(c.pool)
	defer db.Close()

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return fmt.Errorf("migrator driver: %w", err)
	}

	var m *migrate.Migrate
	if source != "" {
		m, err = migrate.NewWithDatabaseInstance(source, "pgx5", driver)
	} else {
		src, serr := iofs.New(migrationsFS, "migrations")
		if serr != nil {
			return fmt.Errorf("embedded migrations: %w", serr)
		}
		m, err = migrate.NewWithInstance("iofs", src, "pgx5", driver)
	}
	if err != nil {
		c.logger.Error("migrator failed to start", "error", err)
		return err
	}
	defer m.Close()

	// Migrations are not interruptible mid-file; honor cancellation between them.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-done:
		}
	}()

	switch err = m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		c.logger.Info("no migrations needed to be applied")
	case err != nil:
		c.logger.Error("migrations failed", "error", err)
		return err
	default:
		c.logger.Info("migrations completed")
	}
	return nil
}
