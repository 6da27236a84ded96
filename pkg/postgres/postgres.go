package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// DB implements db.Database on PostgreSQL, as the relational alternative to mongostore
type DB struct {
	pool *pgxpool.Pool
}

// NewDB opens a connection pool and checks the server answers
func NewDB(ctx context.Context, connString string) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres url: %w", err)
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close releases every pooled connection
func (db *DB) Close(ctx context.Context) error {
	db.pool.Close()
	return nil
}

// Ping checks the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// RunMigrations applies the embedded migrations that schema_migrations has no
// record of, each in its own transaction, and returns their names.
func (db *DB) RunMigrations(ctx context.Context, logger *zap.Logger) ([]string, error) {
	if _, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	rows, err := db.pool.Query(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	done, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}

	pending, err := pendingMigrations(migrationsFS, done)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		logger.Info("Postgres schema is up to date", zap.Int("applied", len(done)))
		return nil, nil
	}

	applied := make([]string, 0, len(pending))
	for _, name := range pending {
		start := time.Now()
		if err := db.applyMigration(ctx, name); err != nil {
			return applied, err
		}
		applied = append(applied, name)
		logger.Info("Applied migration",
			zap.String("migration", name),
			zap.Duration("took", time.Since(start)))
	}

	return applied, nil
}

func (db *DB) applyMigration(ctx context.Context, name string) error {
	script, err := fs.ReadFile(migrationsFS, path.Join(migrationsDir, name))
	if err != nil {
		return fmt.Errorf("failed to read migration %s: %w", name, err)
	}

	// BeginFunc rolls back when the callback fails and commits otherwise
	err = pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, string(script)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("migration %s not applied: %w", name, err)
	}
	return nil
}

// pendingMigrations lists the .sql files in fsys/migrations that are not in done, in name order
func pendingMigrations(fsys fs.FS, done []string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var pending []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") || slices.Contains(done, name) {
			continue
		}
		pending = append(pending, name)
	}
	slices.Sort(pending)
	return pending, nil
}
