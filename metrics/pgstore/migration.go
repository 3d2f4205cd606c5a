package pgstore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/tern/v2/migrate"
)

//go:embed migrations/*.sql
var migrations embed.FS

// VersionTable is the table tern records the schema version in.
const VersionTable = "prometheus_schema_version"

// Migrate creates or upgrades the tables used by the storage.
func Migrate(ctx context.Context, conn *pgx.Conn) error {
	migrator, err := migrate.NewMigrator(ctx, conn, VersionTable)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	filesystem, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create sub-filesystem: %w", err)
	}
	if err = migrator.LoadMigrations(filesystem); err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	if err = migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
