//go:build integration

package migrations

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sheetqa/sheetqa/internal/database"
)

func TestRunnerAppliesAndRollsBackOnDuckDB(t *testing.T) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	runUpDown(t, db, database.NewDialect(database.DuckDB))
}

func TestRunnerAppliesAndRollsBackOnConfiguredDatabase(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("SHEETQA_TEST_DB_DSN"))
	if dsn == "" {
		t.Skip("SHEETQA_TEST_DB_DSN is not set")
	}
	driver, err := database.ParseDriver(os.Getenv("SHEETQA_TEST_DB_DRIVER"))
	if err != nil {
		driver = database.Postgres
	}
	dialect := database.NewDialect(driver)
	db, err := sql.Open(dialect.SQLDriverName(), dsn)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	runUpDown(t, db, dialect)
}

func runUpDown(t *testing.T, db *sql.DB, dialect database.Dialect) {
	t.Helper()

	runner := NewRunner(dialect)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	applied, err := runner.Up(ctx, db, 0)
	if err != nil {
		t.Fatalf("runner.Up() error = %v", err)
	}
	if applied < 1 {
		t.Fatalf("runner.Up() applied %d migrations, want at least 1", applied)
	}
	assertRegistryQueryable(t, db, true)

	states, err := runner.Status(ctx, db)
	if err != nil {
		t.Fatalf("runner.Status() error = %v", err)
	}
	for _, state := range states {
		if !state.Applied {
			t.Fatalf("migration %d (%s) not applied after Up", state.Version, state.Name)
		}
	}

	again, err := runner.Up(ctx, db, 0)
	if err != nil {
		t.Fatalf("second runner.Up() error = %v", err)
	}
	if again != 0 {
		t.Fatalf("second runner.Up() applied %d, want 0", again)
	}

	rolledBack, err := runner.Down(ctx, db, applied)
	if err != nil {
		t.Fatalf("runner.Down() error = %v", err)
	}
	if rolledBack != applied {
		t.Fatalf("runner.Down() rolled back %d migrations, want %d", rolledBack, applied)
	}
	assertRegistryQueryable(t, db, false)
}

func assertRegistryQueryable(t *testing.T, db *sql.DB, expected bool) {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM sheet_dataset`).Scan(&count)
	if (err == nil) != expected {
		t.Fatalf("sheet_dataset queryable = %v (err=%v), want %v", err == nil, err, expected)
	}
}
