package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Migrator struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewMigrator(db *sql.DB, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{db: db, logger: logger}
}

// Run applies every embedded migration not yet recorded in schema_migrations,
// in file name order. It returns the names it applied.
func (m *Migrator) Run(ctx context.Context) ([]string, error) {
	if err := m.createMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	names, err := Migrations()
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, name := range names {
		done, err := m.isMigrationApplied(ctx, name)
		if err != nil {
			return applied, fmt.Errorf("failed to check migration status: %w", err)
		}
		if done {
			m.logger.Debug("migration already applied", zap.String("migration", name))
			continue
		}

		if err := m.apply(ctx, name); err != nil {
			return applied, err
		}
		m.logger.Info("applied migration", zap.String("migration", name))
		applied = append(applied, name)
	}

	return applied, nil
}

// Pending lists migrations that Run would apply.
func (m *Migrator) Pending(ctx context.Context) ([]string, error) {
	if err := m.createMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}
	names, err := Migrations()
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, name := range names {
		done, err := m.isMigrationApplied(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to check migration status: %w", err)
		}
		if !done {
			pending = append(pending, name)
		}
	}
	return pending, nil
}

// Migrations returns the embedded migration file names in apply order.
func Migrations() ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (m *Migrator) apply(ctx context.Context, name string) error {
	migrationSQL, err := migrationsFS.ReadFile("migrations/" + name)
	if err != nil {
		return fmt.Errorf("failed to read migration %s: %w", name, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, string(migrationSQL)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to execute migration %s: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (name, applied_at) VALUES ($1, NOW())",
		name,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record migration %s: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", name, err)
	}
	return nil
}

func (m *Migrator) createMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	return err
}

func (m *Migrator) isMigrationApplied(ctx context.Context, name string) (bool, error) {
	var count int
	err := m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations WHERE name = $1",
		name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
