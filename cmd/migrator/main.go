// Command migrator applies the *.up.sql files in the migrations directory
// in filename order, recording each applied file in schema_migrations so
// reruns are no-ops. Concurrent deploys are serialized with an advisory lock.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

// Lock key shared by every migrator run against the same database.
const migrationLockKey = 741_932_604

func main() {
	dir := flag.String("dir", "migrations", "directory containing *.up.sql files")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall run timeout")
	flag.Parse()

	log.SetFlags(0)
	log.SetPrefix("migrator: ")

	if err := run(*dir, *timeout); err != nil {
		log.Fatal(err)
	}
}

func run(dir string, timeout time.Duration) error {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cfg, err := pgx.ParseConfig(url)
	if err != nil {
		return fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	// Migration files hold multiple statements; the extended protocol
	// rejects those.
	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	cfg.RuntimeParams["application_name"] = "pulse-migrator"

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	done, err := appliedMigrations(ctx, conn)
	if err != nil {
		return err
	}

	pending, err := pendingFiles(dir, done)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		log.Println("database is up to date")
		return nil
	}

	for _, name := range pending {
		if err := applyOne(ctx, conn, dir, name); err != nil {
			return err
		}
	}

	log.Printf("applied %d migration(s)", len(pending))
	return nil
}

func appliedMigrations(ctx context.Context, conn *pgx.Conn) (map[string]bool, error) {
	rows, err := conn.Query(ctx, "SELECT name FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	done := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		done[name] = true
	}
	return done, rows.Err()
}

func pendingFiles(dir string, done map[string]bool) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations in %s: %w", dir, err)
	}

	var pending []string
	for _, m := range matches {
		name := filepath.Base(m)
		if !done[name] {
			pending = append(pending, name)
		}
	}
	sort.Strings(pending)
	return pending, nil
}

// applyOne runs a single migration file and records it, both inside one
// transaction so a failed migration leaves no trace.
func applyOne(ctx context.Context, conn *pgx.Conn, dir, name string) error {
	contents, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}

	start := time.Now()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin %s: %w", name, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, string(contents)); err != nil {
		return fmt.Errorf("execute %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (name) VALUES ($1)", name); err != nil {
		return fmt.Errorf("record %s: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}

	log.Printf("applied %s in %s", name, time.Since(start).Round(time.Millisecond))
	return nil
}
