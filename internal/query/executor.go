package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sheetqa/sheetqa/internal/database"
	"github.com/sheetqa/sheetqa/internal/nl2sql"
)

const DefaultAggregateLimit = 100

var ErrNotReadOnly = errors.New("only a single read-only SELECT/WITH statement is allowed")

type Executor struct {
	db             *sql.DB
	dialect        database.Dialect
	logger         *slog.Logger
	aggregateLimit int
}

func NewExecutor(db *sql.DB, dialect database.Dialect, aggregateLimit int, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if aggregateLimit <= 0 {
		aggregateLimit = DefaultAggregateLimit
	}
	return &Executor{db: db, dialect: dialect, logger: logger, aggregateLimit: aggregateLimit}
}

// Execute runs a generated statement. Listing results are truncated to rowCap.
// Failures are reported through the Outcome, never as an empty success.
func (e *Executor) Execute(ctx context.Context, sqlText string, plan nl2sql.Plan, rowCap int) Outcome {
	if rowCap <= 0 {
		rowCap = 1
	}
	sqlText = strings.TrimSpace(sqlText)
	for strings.HasSuffix(sqlText, ";") {
		sqlText = strings.TrimSpace(strings.TrimSuffix(sqlText, ";"))
	}
	if err := CheckReadOnly(sqlText); err != nil {
		e.logger.WarnContext(ctx, "rejected generated sql", "sql", sqlText, "error", err)
		return Outcome{Status: StatusFailed, SQL: sqlText, Err: err}
	}
	limited := ApplyLimit(sqlText, plan, rowCap, e.aggregateLimit)

	start := time.Now()
	result, err := e.run(ctx, limited)
	if err != nil {
		e.logger.WarnContext(ctx, "generated sql failed", "sql", limited, "error", err)
		return Outcome{Status: StatusFailed, SQL: limited, Err: err}
	}
	result.Duration = time.Since(start)

	if !plan.IsAggregate() && len(result.Rows) > rowCap {
		result.Rows = result.Rows[:rowCap]
	}
	status := StatusRows
	if len(result.Rows) == 0 {
		status = StatusEmpty
	}
	return Outcome{Status: status, SQL: limited, Result: result}
}

func (e *Executor) run(ctx context.Context, sqlText string) (result Result, err error) {
	opts := &sql.TxOptions{ReadOnly: e.dialect.SupportsReadOnlyTx()}
	tx, err := e.db.BeginTx(ctx, opts)
	if err != nil {
		return Result{}, fmt.Errorf("begin query tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, sqlText)
	if err != nil {
		return Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("query columns: %w", err)
	}
	numeric := make([]bool, len(columns))
	if types, typesErr := rows.ColumnTypes(); typesErr == nil {
		for i, ct := range types {
			numeric[i] = isNumericType(ct.DatabaseTypeName())
		}
	}

	out := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		for i := range values {
			values[i] = NormalizeValue(values[i], numeric[i])
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	return Result{Columns: columns, Rows: out}, nil
}

// ApplyLimit appends a LIMIT when the statement has no LIMIT keyword outside
// quoted text and comments: twice the row cap for listings, aggregateLimit
// for aggregates.
func ApplyLimit(sqlText string, plan nl2sql.Plan, rowCap, aggregateLimit int) string {
	words, _ := scanWords(sqlText)
	if slices.Contains(words, "limit") {
		return sqlText
	}
	limit := rowCap * 2
	if plan.IsAggregate() {
		limit = aggregateLimit
	}
	separator := " "
	if lastLine := sqlText[strings.LastIndexByte(sqlText, '\n')+1:]; strings.Contains(lastLine, "--") {
		separator = "\n"
	}
	return fmt.Sprintf("%s%sLIMIT %d", sqlText, separator, limit)
}

var forbiddenKeywords = map[string]bool{
	"insert": true, "update": true, "delete": true, "merge": true, "upsert": true,
	"drop": true, "alter": true, "create": true, "truncate": true, "grant": true,
	"revoke": true, "attach": true, "detach": true, "copy": true, "pragma": true,
	"install": true, "load": true, "call": true, "set": true, "vacuum": true,
	"into": true,
}

// CheckReadOnly accepts a single SELECT or WITH statement without
// data-modifying keywords outside of quoted text.
func CheckReadOnly(sqlText string) error {
	words, statements := scanWords(sqlText)
	if len(words) == 0 {
		return ErrNotReadOnly
	}
	if statements > 1 {
		return fmt.Errorf("%w: multiple statements", ErrNotReadOnly)
	}
	if words[0] != "select" && words[0] != "with" {
		return fmt.Errorf("%w: starts with %q", ErrNotReadOnly, words[0])
	}
	for _, word := range words {
		if forbiddenKeywords[word] {
			return fmt.Errorf("%w: contains %q", ErrNotReadOnly, word)
		}
	}
	return nil
}

// scanWords lower-cases the bare words of sqlText, skipping quoted sections
// and comments, and counts the statements separated by semicolons.
func scanWords(sqlText string) ([]string, int) {
	var (
		words   []string
		current strings.Builder
		quote   byte
	)
	statements := 0
	sawToken := false
	flush := func() {
		if current.Len() > 0 {
			words = append(words, strings.ToLower(current.String()))
			current.Reset()
		}
	}
	for i := 0; i < len(sqlText); i++ {
		c := sqlText[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '\'' || c == '"' || c == '`':
			flush()
			quote = c
			sawToken = true
		case c == '-' && i+1 < len(sqlText) && sqlText[i+1] == '-':
			flush()
			for i < len(sqlText) && sqlText[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(sqlText) && sqlText[i+1] == '*':
			flush()
			end := strings.Index(sqlText[i+2:], "*/")
			if end < 0 {
				i = len(sqlText)
			} else {
				i += end + 3
			}
		case c == ';':
			flush()
			if sawToken {
				statements++
				sawToken = false
			}
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			current.WriteByte(c)
			sawToken = true
		default:
			flush()
			if c != ' ' && c != '\n' && c != '\t' && c != '\r' {
				sawToken = true
			}
		}
	}
	flush()
	if sawToken {
		statements++
	}
	return words, statements
}

func isNumericType(name string) bool {
	switch strings.ToUpper(name) {
	case "NUMERIC", "DECIMAL", "NEWDECIMAL", "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "REAL",
		"INT", "INT2", "INT4", "INT8", "INTEGER", "SMALLINT", "BIGINT", "TINYINT", "MEDIUMINT",
		"HUGEINT", "UBIGINT", "UINTEGER", "USMALLINT", "UTINYINT":
		return true
	}
	return strings.HasPrefix(strings.ToUpper(name), "DECIMAL")
}

type float64er interface {
	Float64() float64
}

// NormalizeValue converts a scanned database value into a JSON-safe value.
// Numeric columns delivered as text are decoded into int64 or float64.
func NormalizeValue(v any, numeric bool) any {
	switch value := v.(type) {
	case nil:
		return nil
	case time.Time:
		return value.Format(time.RFC3339)
	case []byte:
		return normalizeText(string(value), numeric)
	case string:
		return normalizeText(value, numeric)
	case bool:
		return value
	case int:
		return int64(value)
	case int8:
		return int64(value)
	case int16:
		return int64(value)
	case int32:
		return int64(value)
	case int64:
		return value
	case uint8:
		return int64(value)
	case uint16:
		return int64(value)
	case uint32:
		return int64(value)
	case uint64:
		if value > math.MaxInt64 {
			return float64(value)
		}
		return int64(value)
	case float32:
		return finiteOrNil(float64(value))
	case float64:
		return finiteOrNil(value)
	case *big.Int:
		if value.IsInt64() {
			return value.Int64()
		}
		f, _ := new(big.Float).SetInt(value).Float64()
		return f
	case float64er:
		return finiteOrNil(value.Float64())
	case fmt.Stringer:
		return value.String()
	default:
		return fmt.Sprint(value)
	}
}

func normalizeText(s string, numeric bool) any {
	if !numeric {
		return s
	}
	trimmed := strings.TrimSpace(s)
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return finiteOrNil(f)
	}
	return s
}

func finiteOrNil(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}
