package database

import (
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

type Driver string

const (
	Postgres Driver = "postgres"
	MySQL    Driver = "mysql"
	DuckDB   Driver = "duckdb"
)

func ParseDriver(raw string) (Driver, error) {
	switch Driver(strings.ToLower(strings.TrimSpace(raw))) {
	case Postgres, "postgresql", "pgx":
		return Postgres, nil
	case MySQL:
		return MySQL, nil
	case DuckDB:
		return DuckDB, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", raw)
	}
}

// Dialect captures the SQL differences between the supported engines.
type Dialect struct {
	Driver Driver
}

func NewDialect(driver Driver) Dialect {
	return Dialect{Driver: driver}
}

// SQLDriverName is the database/sql driver registered for the dialect.
func (d Dialect) SQLDriverName() string {
	switch d.Driver {
	case MySQL:
		return "mysql"
	case DuckDB:
		return "duckdb"
	default:
		return "pgx"
	}
}

func (d Dialect) QuoteIdent(name string) string {
	if d.Driver == MySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d Dialect) Placeholder() sq.PlaceholderFormat {
	if d.Driver == Postgres {
		return sq.Dollar
	}
	return sq.Question
}

// Builder returns a squirrel statement builder using the dialect placeholders.
func (d Dialect) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(d.Placeholder())
}

// NumericCast is the type text columns are cast to for arithmetic.
func (d Dialect) NumericCast() string {
	switch d.Driver {
	case MySQL:
		return "DECIMAL(18,2)"
	case DuckDB:
		return "DOUBLE"
	default:
		return "NUMERIC"
	}
}

// TimestampColumn renders a defaulted timestamp column definition.
func (d Dialect) TimestampColumn(name string, touchOnUpdate bool) string {
	quoted := d.QuoteIdent(name)
	switch d.Driver {
	case MySQL:
		def := quoted + " DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP"
		if touchOnUpdate {
			def += " ON UPDATE CURRENT_TIMESTAMP"
		}
		return def
	case DuckDB:
		return quoted + " TIMESTAMP NOT NULL DEFAULT current_timestamp"
	default:
		return quoted + " TIMESTAMPTZ NOT NULL DEFAULT now()"
	}
}

// SupportsReadOnlyTx reports whether BeginTx accepts ReadOnly options.
func (d Dialect) SupportsReadOnlyTx() bool {
	return d.Driver != DuckDB
}

// CurrentSchemaPredicate restricts information_schema lookups to the active schema.
func (d Dialect) CurrentSchemaPredicate() string {
	if d.Driver == MySQL {
		return "table_schema = DATABASE()"
	}
	return "table_schema = current_schema()"
}

// IsUniqueViolation reports whether err was raised by a unique constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
