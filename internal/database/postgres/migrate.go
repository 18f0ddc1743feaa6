package postgres

import (
	"context"
	"embed"
	stderrors "errors"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	// registers the postgres:// and postgresql:// migration drivers
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/bardlex/poolclean/pkg/errors"
)

// MigrationsTable records the applied schema version. It is kept apart from
// the default so poolclean can share a database with other services.
const MigrationsTable = "poolclean_schema_migrations"

//go:embed migrations/*.sql
var migrations embed.FS

func migrationSource() (source.Driver, error) {
	return iofs.New(migrations, "migrations")
}

// Migrate brings the run history schema at url up to date on its own
// connection.
func Migrate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := migrationSource()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "postgres_migrate", "failed to load migrations")
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, withMigrationsTable(url))
	if err != nil {
		_ = src.Close()
		return errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_migrate", "failed to init migrations")
	}
	defer func() {
		_, _ = m.Close()
	}()

	if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_migrate", "failed to apply migrations")
	}
	return nil
}

// withMigrationsTable points the migration driver at MigrationsTable
func withMigrationsTable(url string) string {
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "x-migrations-table=" + MigrationsTable
}
