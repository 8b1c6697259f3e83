package db

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// DB wraps a pgx connection pool.
type DB struct {
	Pool *pgxpool.Pool
	log  *logrus.Logger
}

// Connect opens a pool and waits for the database to come up. Compose starts
// the service and postgres together, so the first pings routinely fail.
func Connect(ctx context.Context, dsn string, log *logrus.Logger) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	var pingErr error
	for attempt := 1; attempt <= 30; attempt++ {
		if pingErr = pool.Ping(ctx); pingErr == nil {
			log.Info("connected to postgres")
			return &DB{Pool: pool, log: log}, nil
		}
		log.WithField("attempt", attempt).Debug("waiting for postgres")
		time.Sleep(2 * time.Second)
	}
	pool.Close()
	return nil, fmt.Errorf("postgres: not reachable after 30 attempts: %w", pingErr)
}

// RunMigrations applies the embedded .sql files in lexical order, recording
// each in schema_migrations so a reboot skips work already done.
func (d *DB) RunMigrations(ctx context.Context, migrationFS fs.FS) error {
	if _, err := d.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ  DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := d.Pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return err
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	files, err := migrationFiles(migrationFS)
	if err != nil {
		return err
	}

	for _, file := range files {
		if applied[file] {
			continue
		}
		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		if _, err := d.Pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("apply %s: %w", file, err)
		}
		if _, err := d.Pool.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, file); err != nil {
			return fmt.Errorf("record %s: %w", file, err)
		}
		d.log.WithField("migration", file).Info("migration applied")
	}
	return nil
}

// migrationFiles lists the .sql entries of the FS in apply order.
func migrationFiles(migrationFS fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Close shuts down the pool.
func (d *DB) Close() { d.Pool.Close() }
