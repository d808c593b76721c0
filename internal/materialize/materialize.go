// Package materialize creates, fills and drops the dynamic tables backing uploads.
package materialize

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sheetqa/sheetqa/internal/database"
	"github.com/sheetqa/sheetqa/internal/ident"
)

type Materializer struct {
	db      *sql.DB
	dialect database.Dialect
	logger  *slog.Logger
	newID   func() string
}

func New(db *sql.DB, dialect database.Dialect, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{
		db:      db,
		dialect: dialect,
		logger:  logger,
		newID:   uuid.NewString,
	}
}

// CreateTableSQL renders the idempotent DDL for a dynamic table.
func (m *Materializer) CreateTableSQL(table string, columns []ident.ColumnMapping) string {
	defs := make([]string, 0, len(columns)+3)
	defs = append(defs, m.dialect.QuoteIdent("id")+" VARCHAR(36) PRIMARY KEY")
	for _, column := range columns {
		defs = append(defs, m.dialect.QuoteIdent(column.Identifier)+" TEXT")
	}
	defs = append(defs,
		m.dialect.TimestampColumn("created_at", false),
		m.dialect.TimestampColumn("updated_at", true),
	)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", m.dialect.QuoteIdent(table), strings.Join(defs, ", "))
}

// CreateTable creates the table if it does not exist. Any error leaves no table
// behind and must stop the ingest.
func (m *Materializer) CreateTable(ctx context.Context, table string, columns []ident.ColumnMapping) (err error) {
	if len(columns) == 0 {
		return fmt.Errorf("create table %s: no columns", table)
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create table: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, m.CreateTableSQL(table, columns)); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create table %s: %w", table, err)
	}
	m.logger.Info("dynamic table created", "table", table, "columns", len(columns))
	return nil
}

// InsertRows writes every row with a fresh id inside one transaction and
// returns the number of rows inserted. Nothing is committed unless all rows succeed.
func (m *Materializer) InsertRows(ctx context.Context, table string, columns []ident.ColumnMapping, rows [][]any) (inserted int, err error) {
	names := make([]string, 0, len(columns)+1)
	names = append(names, m.dialect.QuoteIdent("id"))
	for _, column := range columns {
		names = append(names, m.dialect.QuoteIdent(column.Identifier))
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert rows: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	builder := m.dialect.Builder()
	for i, row := range rows {
		values := make([]any, 0, len(columns)+1)
		values = append(values, m.newID())
		for c := range columns {
			var cell any
			if c < len(row) {
				cell = row[c]
			}
			values = append(values, EncodeCell(cell))
		}
		query, args, buildErr := builder.
			Insert(m.dialect.QuoteIdent(table)).
			Columns(names...).
			Values(values...).
			ToSql()
		if buildErr != nil {
			err = fmt.Errorf("build insert row %d: %w", i, buildErr)
			return 0, err
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			err = fmt.Errorf("insert row %d into %s: %w", i, table, err)
			return 0, err
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert rows: %w", err)
	}
	return len(rows), nil
}

// DropTable removes the table if present.
func (m *Materializer) DropTable(ctx context.Context, table string) error {
	if _, err := m.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+m.dialect.QuoteIdent(table)); err != nil {
		return fmt.Errorf("drop table %s: %w", table, err)
	}
	m.logger.Info("dynamic table dropped", "table", table)
	return nil
}

// EncodeCell converts a parsed cell into the value bound for a text column.
// A nil result is stored as NULL.
func EncodeCell(v any) any {
	switch value := v.(type) {
	case nil:
		return nil
	case time.Time:
		return value.Format(time.RFC3339)
	case *time.Time:
		if value == nil {
			return nil
		}
		return value.Format(time.RFC3339)
	case string:
		return value
	case []byte:
		return string(value)
	case int:
		return strconv.Itoa(value)
	case int32:
		return strconv.FormatInt(int64(value), 10)
	case int64:
		return strconv.FormatInt(value, 10)
	case uint64:
		return strconv.FormatUint(value, 10)
	case float32:
		return formatFloat(float64(value))
	case float64:
		return formatFloat(value)
	case *big.Int:
		return value.String()
	case bool:
		return strconv.FormatBool(value)
	case fmt.Stringer:
		return value.String()
	default:
		return fmt.Sprint(value)
	}
}

func formatFloat(f float64) any {
	if math.IsNaN(f) {
		return nil
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
