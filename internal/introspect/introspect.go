// Package introspect describes a dynamic table for use as model grounding context.
package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"golang.org/x/sync/errgroup"

	"github.com/sheetqa/sheetqa/internal/database"
	"github.com/sheetqa/sheetqa/internal/ident"
)

const (
	defaultSampleRows  = 3
	defaultMaxValueLen = 100
)

type Column struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Label string `json:"label,omitempty"`
}

// Description is the schema summary of one table. When Err is set the other
// fields may be partial and String renders the degraded form.
type Description struct {
	Table   string
	Columns []Column
	Samples [][]string
	Sampled []string
	Total   int64
	Err     error
}

func (d Description) String() string {
	if d.Err != nil {
		return fmt.Sprintf("Table: %s\n(Error getting schema: %v)", d.Table, d.Err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Table: %s\n\nColumns and Data Types:\n", d.Table)
	for _, column := range d.Columns {
		fmt.Fprintf(&b, "- %s (%s)", column.Name, column.Type)
		if column.Label != "" && column.Label != column.Name {
			fmt.Fprintf(&b, " [original label: %q]", column.Label)
		}
		b.WriteByte('\n')
	}
	if len(d.Samples) > 0 {
		fmt.Fprintf(&b, "\nSample Data (showing %d rows):\n", len(d.Samples))
		for i, row := range d.Samples {
			fmt.Fprintf(&b, "\nRow %d:\n", i+1)
			for j, value := range row {
				fmt.Fprintf(&b, "  %s: %s\n", d.Sampled[j], value)
			}
		}
	}
	fmt.Fprintf(&b, "\nTotal Records: %d\n", d.Total)
	return b.String()
}

type Introspector struct {
	db          *sql.DB
	dialect     database.Dialect
	sampleRows  int
	maxValueLen int
}

type Option func(*Introspector)

func WithSampleRows(n int) Option {
	return func(i *Introspector) {
		if n >= 0 {
			i.sampleRows = n
		}
	}
}

func WithMaxValueLength(n int) Option {
	return func(i *Introspector) {
		if n > 0 {
			i.maxValueLen = n
		}
	}
}

func New(db *sql.DB, dialect database.Dialect, opts ...Option) *Introspector {
	i := &Introspector{
		db:          db,
		dialect:     dialect,
		sampleRows:  defaultSampleRows,
		maxValueLen: defaultMaxValueLen,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Describe never fails; introspection errors are carried in Description.Err.
func (i *Introspector) Describe(ctx context.Context, table string, mapping []ident.ColumnMapping) Description {
	desc := Description{Table: table}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		columns, err := i.columns(gctx, table)
		if err != nil {
			return err
		}
		for idx := range columns {
			if column, ok := ident.Lookup(mapping, columns[idx].Name); ok {
				columns[idx].Label = column.Original
			}
		}
		desc.Columns = columns
		return nil
	})
	g.Go(func() error {
		names, samples, err := i.samples(gctx, table)
		if err != nil {
			return err
		}
		desc.Sampled, desc.Samples = names, samples
		return nil
	})
	g.Go(func() error {
		total, err := i.count(gctx, table)
		if err != nil {
			return err
		}
		desc.Total = total
		return nil
	})
	if err := g.Wait(); err != nil {
		desc.Err = err
		return desc
	}
	if len(desc.Columns) == 0 {
		desc.Err = fmt.Errorf("table %s has no data columns or does not exist", table)
	}
	return desc
}

func (i *Introspector) columns(ctx context.Context, table string) ([]Column, error) {
	query, args, err := i.dialect.Builder().
		Select("column_name", "data_type").
		From("information_schema.columns").
		Where(sq.Eq{"table_name": table}).
		Where(i.dialect.CurrentSchemaPredicate()).
		OrderBy("ordinal_position").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build column query: %w", err)
	}
	rows, err := i.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	out := make([]Column, 0)
	for rows.Next() {
		var column Column
		if err := rows.Scan(&column.Name, &column.Type); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		if ident.IsReserved(column.Name) {
			continue
		}
		column.Type = strings.ToUpper(column.Type)
		out = append(out, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return out, nil
}

func (i *Introspector) samples(ctx context.Context, table string) ([]string, [][]string, error) {
	if i.sampleRows == 0 {
		return nil, nil, nil
	}
	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d", i.dialect.QuoteIdent(table), i.sampleRows)
	rows, err := i.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("sample columns: %w", err)
	}
	keep := make([]int, 0, len(names))
	kept := make([]string, 0, len(names))
	for idx, name := range names {
		if !ident.IsReserved(name) {
			keep = append(keep, idx)
			kept = append(kept, name)
		}
	}

	out := make([][]string, 0, i.sampleRows)
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for idx := range values {
			ptrs[idx] = &values[idx]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("scan sample: %w", err)
		}
		row := make([]string, 0, len(keep))
		for _, idx := range keep {
			row = append(row, i.displayValue(values[idx]))
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate samples: %w", err)
	}
	return kept, out, nil
}

func (i *Introspector) count(ctx context.Context, table string) (int64, error) {
	var total int64
	query := "SELECT COUNT(*) FROM " + i.dialect.QuoteIdent(table)
	if err := i.db.QueryRowContext(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return total, nil
}

func (i *Introspector) displayValue(v any) string {
	var s string
	switch value := v.(type) {
	case nil:
		s = "NULL"
	case []byte:
		s = string(value)
	case time.Time:
		s = value.Format(time.RFC3339)
	default:
		s = fmt.Sprint(value)
	}
	if runes := []rune(s); len(runes) > i.maxValueLen {
		s = string(runes[:i.maxValueLen]) + "..."
	}
	return s
}

// ListTables returns physical tables in the current schema whose names start with prefix.
func (i *Introspector) ListTables(ctx context.Context, prefix string) ([]string, error) {
	query, args, err := i.dialect.Builder().
		Select("table_name").
		From("information_schema.tables").
		Where(i.dialect.CurrentSchemaPredicate()).
		Where(sq.Like{"table_name": prefix + "%"}).
		OrderBy("table_name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build table query: %w", err)
	}
	rows, err := i.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return out, nil
}
