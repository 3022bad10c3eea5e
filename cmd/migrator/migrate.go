package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Migrator applies *.up.sql files in lexical order, each in its own
// transaction, recording applied names in schema_migrations.
type Migrator struct {
	db     *sql.DB
	fsys   fs.FS
	logger *zap.Logger
}

func NewMigrator(db *sql.DB, fsys fs.FS, logger *zap.Logger) *Migrator {
	return &Migrator{db: db, fsys: fsys, logger: logger}
}

// Up applies every pending migration and reports how many ran and how many
// were already applied.
func (m *Migrator) Up(ctx context.Context) (applied, skipped int, err error) {
	if err := m.ensureSchemaTable(ctx); err != nil {
		return 0, 0, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	names, err := m.pending()
	if err != nil {
		return 0, 0, err
	}

	for _, name := range names {
		done, err := m.isApplied(ctx, name)
		if err != nil {
			return applied, skipped, fmt.Errorf("check applied %s: %w", name, err)
		}
		if done {
			m.logger.Debug("skip migration, already applied", zap.String("name", name))
			skipped++
			continue
		}

		contents, err := fs.ReadFile(m.fsys, name)
		if err != nil {
			return applied, skipped, fmt.Errorf("read %s: %w", name, err)
		}

		start := time.Now()
		if err := m.apply(ctx, name, string(contents)); err != nil {
			return applied, skipped, err
		}
		applied++
		m.logger.Info("migration applied",
			zap.String("name", name),
			zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
		)
	}
	return applied, skipped, nil
}

func (m *Migrator) pending() ([]string, error) {
	entries, err := fs.ReadDir(m.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (m *Migrator) ensureSchemaTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS schema_migrations (
            name TEXT PRIMARY KEY,
            applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
    `)
	return err
}

func (m *Migrator) isApplied(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := m.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)", name).Scan(&exists)
	return exists, err
}

func (m *Migrator) apply(ctx context.Context, name, contents string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, contents); err != nil {
		return fmt.Errorf("execute %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations(name) VALUES($1) ON CONFLICT DO NOTHING", name); err != nil {
		return fmt.Errorf("mark applied %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}
	return nil
}
