package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Tables cleared between tests, children first.
var resetTables = []string{"webhook_receipts", "rate_history", "idempotency_cache", "payment_transactions"}

var (
	pgOnce sync.Once
	pgDSN  string
	pgErr  error
)

// SetupTestDB returns a connection to a migrated Postgres with empty tables.
// One container serves the whole test binary; the reaper removes it when the
// process exits. Tests using it must not run in parallel.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	pgOnce.Do(func() { pgDSN, pgErr = startPostgres() })
	if pgErr != nil {
		t.Fatalf("start postgres: %v", pgErr)
	}

	db, err := sql.Open("postgres", pgDSN)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec("TRUNCATE " + strings.Join(resetTables, ", ") + " CASCADE"); err != nil {
		t.Fatalf("reset tables: %v", err)
	}
	return db
}

func startPostgres() (string, error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("recon_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return "", fmt.Errorf("run container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return "", fmt.Errorf("connection string: %w", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	if err := applyMigrations(ctx, db, findMigrationsDir()); err != nil {
		return "", err
	}
	return dsn, nil
}

func applyMigrations(ctx context.Context, db *sql.DB, dir string) error {
	ups, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	if len(ups) == 0 {
		return fmt.Errorf("no migrations found in %s", dir)
	}
	sort.Strings(ups)

	for _, path := range ups {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", filepath.Base(path), err)
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

// go test runs in the package directory; walk up to the module root.
func findMigrationsDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return "migrations"
	}
	for range 10 {
		candidate := filepath.Join(dir, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		dir = filepath.Dir(dir)
	}
	return "migrations"
}
