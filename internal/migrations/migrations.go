// Package migrations applies the registry schema for the configured database.
package migrations

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/sheetqa/sheetqa/internal/database"
)

//go:embed sql
var scripts embed.FS

const migrationTable = "sheetqa_schema_migrations"

// Script names look like 000001_sheet_dataset.up.sql.
var scriptName = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)

// Migration is one versioned schema change with its rollback.
type Migration struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

// State reports whether a known migration has been applied.
type State struct {
	Version int64  `json:"version"`
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
}

// Runner applies the embedded migrations for one database dialect. Scripts
// live under sql/<driver>/.
type Runner struct {
	fsys    fs.FS
	dialect database.Dialect
}

func NewRunner(dialect database.Dialect) *Runner {
	return &Runner{fsys: scripts, dialect: dialect}
}

func (r *Runner) dir() string {
	return path.Join("sql", string(r.dialect.Driver))
}

// Up applies pending migrations in version order. steps <= 0 applies all.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	source, applied, err := r.prepare(ctx, db)
	if err != nil {
		return 0, err
	}
	var plan []Migration
	for _, m := range source {
		if !applied[m.Version] {
			plan = append(plan, m)
		}
	}
	plan = limit(plan, steps)

	for i, m := range plan {
		mark, args, err := r.dialect.Builder().Insert(migrationTable).Columns("version").Values(m.Version).ToSql()
		if err != nil {
			return i, fmt.Errorf("build mark for migration %d: %w", m.Version, err)
		}
		if err := runScript(ctx, db, m.Up, mark, args); err != nil {
			return i, fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return len(plan), nil
}

// Down rolls back the most recently applied migrations. steps <= 0 rolls back
// one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	source, applied, err := r.prepare(ctx, db)
	if err != nil {
		return 0, err
	}
	known := make(map[int64]Migration, len(source))
	for _, m := range source {
		known[m.Version] = m
	}
	versions := make([]int64, 0, len(applied))
	for version := range applied {
		versions = append(versions, version)
	}
	slices.Sort(versions)
	slices.Reverse(versions)

	plan := make([]Migration, 0, len(versions))
	for _, version := range versions {
		m, ok := known[version]
		if !ok {
			return 0, fmt.Errorf("applied migration %d has no script for %s", version, r.dialect.Driver)
		}
		plan = append(plan, m)
	}
	if steps <= 0 {
		steps = 1
	}
	plan = limit(plan, steps)

	for i, m := range plan {
		unmark, args, err := r.dialect.Builder().Delete(migrationTable).Where("version = ?", m.Version).ToSql()
		if err != nil {
			return i, fmt.Errorf("build unmark for migration %d: %w", m.Version, err)
		}
		if err := runScript(ctx, db, m.Down, unmark, args); err != nil {
			return i, fmt.Errorf("roll back migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return len(plan), nil
}

// Status lists every known migration in version order.
func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]State, error) {
	source, applied, err := r.prepare(ctx, db)
	if err != nil {
		return nil, err
	}
	out := make([]State, 0, len(source))
	for _, m := range source {
		out = append(out, State{Version: m.Version, Name: m.Name, Applied: applied[m.Version]})
	}
	return out, nil
}

func (r *Runner) prepare(ctx context.Context, db *sql.DB) ([]Migration, map[int64]bool, error) {
	source, err := load(r.fsys, r.dir())
	if err != nil {
		return nil, nil, err
	}
	ddl := "CREATE TABLE IF NOT EXISTS " + migrationTable + " (\n\tversion BIGINT PRIMARY KEY,\n\t" +
		r.dialect.TimestampColumn("applied_at", false) + "\n)"
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", migrationTable, err)
	}
	applied, err := r.appliedVersions(ctx, db)
	if err != nil {
		return nil, nil, err
	}
	return source, applied, nil
}

func (r *Runner) appliedVersions(ctx context.Context, db *sql.DB) (map[int64]bool, error) {
	query, args, err := r.dialect.Builder().Select("version").From(migrationTable).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build applied versions query: %w", err)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[int64]bool)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied versions: %w", err)
	}
	return applied, nil
}

func limit(plan []Migration, steps int) []Migration {
	if steps > 0 && steps < len(plan) {
		return plan[:steps]
	}
	return plan
}

// runScript executes each statement of script and then the bookkeeping
// statement in one transaction. MySQL commits DDL implicitly, so a failure
// there can leave earlier statements applied.
func runScript(ctx context.Context, db *sql.DB, script, bookkeeping string, args []any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for n, stmt := range splitStatements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d: %w", n+1, err)
		}
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("bookkeeping: %w", err)
	}
	return tx.Commit()
}

// splitStatements splits a script on semicolons that end a line. Scripts
// must not place semicolons inside string literals at line ends.
func splitStatements(script string) []string {
	out := make([]string, 0)
	var current strings.Builder
	flush := func() {
		stmt := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(current.String()), ";"))
		if stmt != "" {
			out = append(out, stmt)
		}
		current.Reset()
	}
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()
	return out
}

// load reads the paired up/down scripts under dir, sorted by version.
func load(fsys fs.FS, dir string) ([]Migration, error) {
	names, err := fs.Glob(fsys, path.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations in %s: %w", dir, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no migrations in %s", dir)
	}

	byVersion := make(map[int64]*Migration)
	for _, name := range names {
		parts := scriptName.FindStringSubmatch(path.Base(name))
		if parts == nil {
			return nil, fmt.Errorf("unrecognised migration file %q", name)
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration version in %q: %w", name, err)
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", name, err)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version, Name: parts[2]}
			byVersion[version] = m
		}
		if m.Name != parts[2] {
			return nil, fmt.Errorf("migration %d is named both %q and %q", version, m.Name, parts[2])
		}
		if parts[3] == "up" {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if strings.TrimSpace(m.Up) == "" || strings.TrimSpace(m.Down) == "" {
			return nil, fmt.Errorf("migration %d (%s) needs both up and down scripts", m.Version, m.Name)
		}
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}
