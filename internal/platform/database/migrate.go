package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"slices"
	"strings"
)

const migrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Migrate applies every *.up.sql file in fsys that is not yet recorded in
// schema_migrations, in lexical order. Each file runs in its own transaction.
// It returns the versions applied by this call.
func Migrate(ctx context.Context, db *sql.DB, fsys fs.FS) ([]string, error) {
	if _, err := db.ExecContext(ctx, migrationsTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	pending, err := pendingMigrations(ctx, db, fsys)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, file := range pending {
		version := strings.TrimSuffix(file, ".up.sql")
		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", file, err)
		}
		if err := applyMigration(ctx, db, version, string(content)); err != nil {
			return applied, err
		}
		applied = append(applied, version)
	}
	return applied, nil
}

func pendingMigrations(ctx context.Context, db *sql.DB, fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	done := map[string]bool{}
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		done[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		if !done[strings.TrimSuffix(name, ".up.sql")] {
			files = append(files, name)
		}
	}
	slices.Sort(files)
	return files, nil
}

func applyMigration(ctx context.Context, db *sql.DB, version, content string) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", version, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, content); err != nil {
		return fmt.Errorf("execute migration %s: %w", version, err)
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", version, err)
	}
	return nil
}
