package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"swiftride/internal/config"
	"swiftride/internal/db"
	"swiftride/internal/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	zlog, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer zlog.Sync()

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		zlog.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}

	m := &migrator{Pool: pool, Dir: dir, Log: zlog}
	applied, err := m.Up(ctx)
	if err != nil {
		zlog.Fatal("migration failed", zap.Error(err))
	}
	zlog.Info("schema up to date", zap.Int("applied", applied))
}

type migrator struct {
	Pool *pgxpool.Pool
	Dir  string
	Log  *zap.Logger
}

// Up applies every pending .sql file in filename order. Each file runs in one
// transaction together with its schema_migrations row, so a failed migration
// leaves no partial ledger entry.
func (m *migrator) Up(ctx context.Context) (int, error) {
	if _, err := m.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return 0, err
	}

	names, err := m.pending(ctx)
	if err != nil {
		return 0, err
	}
	for _, name := range names {
		if err := m.apply(ctx, name); err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		m.Log.Info("migration applied", zap.String("file", name))
	}
	return len(names), nil
}

func (m *migrator) pending(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(m.Dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		var done bool
		row := m.Pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename=$1)`, e.Name())
		if err := row.Scan(&done); err != nil {
			return nil, err
		}
		if !done {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *migrator) apply(ctx context.Context, name string) error {
	sqlText, err := os.ReadFile(filepath.Join(m.Dir, name))
	if err != nil {
		return err
	}

	tx, err := m.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if body := strings.TrimSpace(string(sqlText)); body != "" {
		if _, err := tx.Exec(ctx, body); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (filename) VALUES ($1)`, name); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
