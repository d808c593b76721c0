// Package nl2sql translates natural-language questions into SQL over a dynamic table.
package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sheetqa/sheetqa/internal/database"
	"github.com/sheetqa/sheetqa/internal/llm"
)

var ErrEmptySQL = errors.New("nl2sql: model returned empty SQL")

type Request struct {
	Question  string
	Schema    string
	TableName string
}

type Result struct {
	SQL  string `json:"sql"`
	Plan Plan   `json:"plan"`
}

type Translator struct {
	generator llm.Generator
	dialect   database.Dialect
	logger    *slog.Logger
}

// New returns a Translator. A nil generator makes every translation fail
// with llm.ErrNotConfigured.
func New(generator llm.Generator, dialect database.Dialect, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{generator: generator, dialect: dialect, logger: logger}
}

func (t *Translator) Translate(ctx context.Context, req Request) (Result, error) {
	if t.generator == nil {
		return Result{}, llm.ErrNotConfigured
	}
	raw, err := t.generator.Generate(ctx, BuildPrompt(req, t.dialect))
	if err != nil {
		return Result{}, fmt.Errorf("generate sql: %w", err)
	}
	sql := ExtractSQL(raw)
	if sql == "" {
		return Result{}, ErrEmptySQL
	}
	plan := PlanFor(sql)
	t.logger.DebugContext(ctx, "translated question",
		"table", req.TableName,
		"shape", plan.Shape,
		"group_column", plan.GroupColumn,
		"value_column", plan.ValueColumn,
	)
	return Result{SQL: sql, Plan: plan}, nil
}

// ExtractSQL strips a surrounding markdown fence and trailing semicolons from
// model output.
func ExtractSQL(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		if len(lines) > 1 {
			lines = lines[1:]
			if last := strings.TrimSpace(lines[len(lines)-1]); strings.HasPrefix(last, "```") {
				lines = lines[:len(lines)-1]
			}
			text = strings.Join(lines, "\n")
		} else {
			text = strings.TrimPrefix(text, "```sql")
			text = strings.TrimPrefix(text, "```")
			text = strings.TrimSuffix(text, "```")
		}
		text = strings.TrimSpace(text)
	}
	for strings.HasSuffix(text, ";") {
		text = strings.TrimSpace(strings.TrimSuffix(text, ";"))
	}
	return text
}

// BuildPrompt renders the translation prompt for one question.
func BuildPrompt(req Request, dialect database.Dialect) string {
	table := dialect.QuoteIdent(req.TableName)
	col := func(name string) string { return dialect.QuoteIdent(name) }
	num := func(name string) string {
		return fmt.Sprintf("CAST(%s AS %s)", col(name), dialect.NumericCast())
	}
	engine := map[database.Driver]string{
		database.Postgres: "PostgreSQL",
		database.MySQL:    "MySQL",
		database.DuckDB:   "DuckDB",
	}[dialect.Driver]

	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert SQL query generator for spreadsheet data analysis. "+
		"Convert the user's question into one precise, read-only %s SELECT statement.\n\n", engine)
	fmt.Fprintf(&b, "TABLE SCHEMA:\n%s\n\n", strings.TrimSpace(req.Schema))
	fmt.Fprintf(&b, "TABLE NAME: %s\n\n", table)
	fmt.Fprintf(&b, "USER QUERY: %s\n\n", strings.TrimSpace(req.Question))

	b.WriteString("CRITICAL REQUIREMENTS:\n")
	b.WriteString("1. Return ONLY the SQL statement. No explanations, no markdown, no code fences.\n")
	fmt.Fprintf(&b, "2. Use the exact table name %s, quoted exactly as shown.\n", table)
	fmt.Fprintf(&b, "3. Use exact column identifiers from the schema, quoted like %s.\n", col("column_name"))
	b.WriteString("4. Only SELECT (or WITH ... SELECT) is allowed. Never modify data.\n")
	b.WriteString("5. Column labels in the schema show the original spreadsheet headers; match the user's wording against them.\n\n")

	b.WriteString("DATA TYPE HANDLING (CRITICAL):\n")
	fmt.Fprintf(&b, "Every data column is stored as TEXT. Always cast before arithmetic or numeric comparison: %s.\n\n", num("amount"))

	b.WriteString("FILTERING:\n")
	fmt.Fprintf(&b, "- Partial matches: %s LIKE '%%value%%'\n", col("city"))
	fmt.Fprintf(&b, "- Case-insensitive matches: LOWER(%s) LIKE LOWER('%%value%%')\n", col("city"))
	fmt.Fprintf(&b, "- Exact matches: %s = 'value'\n", col("status"))
	fmt.Fprintf(&b, "- Ranges: %s BETWEEN 500 AND 2000\n", num("amount"))
	fmt.Fprintf(&b, "- Missing values: %s IS NULL OR %s = ''\n", col("owner"), col("owner"))
	b.WriteString("- Combine multiple conditions with AND/OR and parentheses.\n\n")

	b.WriteString("AGGREGATION:\n")
	fmt.Fprintf(&b, "- Sum: SELECT SUM(%s) AS total_amount FROM %s\n", num("amount"), table)
	fmt.Fprintf(&b, "- Average: SELECT AVG(%s) AS avg_amount FROM %s\n", num("amount"), table)
	fmt.Fprintf(&b, "- Count: SELECT COUNT(*) AS total_count FROM %s, or COUNT(DISTINCT %s) for unique values\n", table, col("column"))
	fmt.Fprintf(&b, "- Max/Min: SELECT MAX(%s) AS max_amount FROM %s\n", num("amount"), table)
	b.WriteString("- Always give aggregate expressions a descriptive alias.\n\n")

	b.WriteString("GROUPING:\n")
	fmt.Fprintf(&b, "- SELECT %s, SUM(%s) AS total_amount FROM %s GROUP BY %s ORDER BY total_amount DESC\n",
		col("city"), num("amount"), table, col("city"))
	b.WriteString("- Put the grouping column first and the aggregate value second in the select list.\n\n")

	b.WriteString("PERCENTAGES:\n")
	fmt.Fprintf(&b, "- SELECT (COUNT(CASE WHEN %s > 5000 THEN 1 END) * 100.0 / COUNT(*)) AS percentage FROM %s\n",
		num("amount"), table)
	fmt.Fprintf(&b, "- Share per group: SELECT %s, (COUNT(*) * 100.0 / (SELECT COUNT(*) FROM %s)) AS percentage FROM %s GROUP BY %s\n\n",
		col("category"), table, table, col("category"))

	b.WriteString("TOP-N AND SORTING:\n")
	fmt.Fprintf(&b, "- Highest: SELECT * FROM %s ORDER BY %s DESC LIMIT 10\n", table, num("amount"))
	fmt.Fprintf(&b, "- Lowest: SELECT * FROM %s ORDER BY %s ASC LIMIT 5\n", table, num("amount"))
	b.WriteString("- Respect any explicit \"top N\" in the question.\n\n")

	b.WriteString("KEYWORD MAPPING:\n")
	b.WriteString("- \"show\", \"list\", \"display\": SELECT the relevant columns\n")
	b.WriteString("- \"how many\", \"count\", \"number of\": COUNT(*)\n")
	b.WriteString("- \"total\", \"sum\": SUM()\n")
	b.WriteString("- \"average\", \"mean\": AVG()\n")
	b.WriteString("- \"highest\", \"maximum\", \"top\": MAX() or ORDER BY ... DESC\n")
	b.WriteString("- \"lowest\", \"minimum\", \"bottom\": MIN() or ORDER BY ... ASC\n")
	b.WriteString("- \"percentage\", \"share\", \"%\": percentage pattern above\n\n")

	b.WriteString("Generate the SQL query now (ONLY SQL, no explanations):")
	return b.String()
}
