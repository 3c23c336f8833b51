package store

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// runMigrations brings the schema up to date, tracking applied versions in
// a migrations table so reopening an existing database is cheap.
func (s *Store) runMigrations(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	type appliedMigration struct {
		bun.BaseModel `bun:"table:schema_migrations"`
		Version       string `bun:"version"`
	}
	var applied []appliedMigration
	if err := s.db.NewSelect().Model(&applied).Scan(ctx); err != nil {
		return fmt.Errorf("check applied migrations: %w", err)
	}

	appliedMap := make(map[string]bool)
	for _, m := range applied {
		appliedMap[m.Version] = true
	}

	migrations := []struct {
		version string
		name    string
		up      func(context.Context, *bun.DB) error
	}{
		{"001", "create_decisions", mig001CreateDecisions},
	}

	for _, m := range migrations {
		if appliedMap[m.version] {
			continue
		}

		s.log.Info("running migration", "version", m.version, "name", m.name)
		if err := m.up(ctx, s.db); err != nil {
			return fmt.Errorf("run migration %s: %w", m.version, err)
		}

		_, err = s.db.NewInsert().
			Model(&appliedMigration{Version: m.version}).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("mark migration %s as applied: %w", m.version, err)
		}
	}

	return nil
}

func mig001CreateDecisions(ctx context.Context, db *bun.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS preflight_decisions (
			id TEXT PRIMARY KEY,
			doc_hash TEXT NOT NULL,
			page INTEGER NOT NULL,
			budget_bytes INTEGER NOT NULL,
			decision TEXT NOT NULL,
			reason TEXT NOT NULL,
			metrics TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create preflight_decisions table: %w", err)
	}

	indexes := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_decisions_key ON preflight_decisions(doc_hash, page, budget_bytes)",
		"CREATE INDEX IF NOT EXISTS idx_decisions_updated_at ON preflight_decisions(updated_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_decisions_reason ON preflight_decisions(reason)",
	}

	for _, idx := range indexes {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	return nil
}
