// Command migrate applies the SQL files under migrations/ in name order.
// Applied files are recorded in schema_migrations and skipped on later runs.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"

	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/logger"
)

const createLedger = `CREATE TABLE IF NOT EXISTS schema_migrations (
    filename   TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

func main() {
	dir := flag.String("dir", "migrations", "directory holding *.sql files")
	list := flag.Bool("list", false, "list dispatch tables and exit")
	flag.Parse()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		logger.Error("ping database", "error", err)
		os.Exit(1)
	}

	if *list {
		tables, err := listTables(ctx, db)
		if err != nil {
			logger.Error("list tables", "error", err)
			os.Exit(1)
		}
		for _, t := range tables {
			fmt.Println(" ", t)
		}
		fmt.Printf("Total: %d tables\n", len(tables))
		return
	}

	files, err := pendingFiles(*dir)
	if err != nil {
		logger.Error("read migrations", "dir", *dir, "error", err)
		os.Exit(1)
	}
	applied, err := apply(ctx, db, *dir, files)
	if err != nil {
		logger.Error("migration failed", "applied", applied, "error", err)
		os.Exit(1)
	}
	logger.Info("migrations complete", "applied", applied, "found", len(files))
}

// pendingFiles returns the non-empty .sql files in dir, sorted by name.
func pendingFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

// apply runs each file not yet in schema_migrations inside its own
// transaction and stops at the first failure.
func apply(ctx context.Context, db *sql.DB, dir string, files []string) (int, error) {
	if _, err := db.ExecContext(ctx, createLedger); err != nil {
		return 0, fmt.Errorf("create ledger: %w", err)
	}

	applied := 0
	for _, f := range files {
		var done bool
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename = $1)`, f).Scan(&done)
		if err != nil {
			return applied, fmt.Errorf("check %s: %w", f, err)
		}
		if done {
			continue
		}

		body, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return applied, err
		}
		if strings.TrimSpace(string(body)) == "" {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("%s: %w", f, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, f); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("record %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, err
		}
		logger.Info("migration applied", "file", f)
		applied++
	}
	return applied, nil
}

func listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT tablename FROM pg_tables WHERE schemaname = 'public' AND tablename LIKE 'dispatch_%' ORDER BY tablename`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}
