// Package shape turns executed query results into text, chart and table payloads.
package shape

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/sheetqa/sheetqa/internal/ident"
	"github.com/sheetqa/sheetqa/internal/nl2sql"
)

const (
	ChartBar    = "bar_chart"
	ChartLine   = "line_chart"
	ChartPie    = "pie_chart"
	ChartSingle = "single_value"

	maxTitleLength = 100
)

// Chart is the series payload rendered by chart clients. Single-value charts
// carry Value and Label; the other types carry Labels and Values.
type Chart struct {
	ChartType     string    `json:"chart_type"`
	Labels        []string  `json:"labels,omitempty"`
	Values        []float64 `json:"values,omitempty"`
	CategoryLabel string    `json:"category_label,omitempty"`
	ValueLabel    string    `json:"value_label,omitempty"`
	Value         *float64  `json:"value,omitempty"`
	Label         string    `json:"label,omitempty"`
	Title         string    `json:"title"`
}

type ChartInput struct {
	Question string
	Plan     nl2sql.Plan
	Columns  []string
	Rows     [][]any
	Mapping  []ident.ColumnMapping
}

// BuildChart derives chart data from a result. It returns nil when no column
// carries usable numeric values.
func BuildChart(in ChartInput) *Chart {
	if len(in.Rows) == 0 || len(in.Columns) == 0 {
		return nil
	}
	title := truncateRunes(in.Question, maxTitleLength)

	switch {
	case in.Plan.Shape == nl2sql.ShapeGrouped:
		if len(in.Columns) < 2 {
			return nil
		}
		category := findColumn(in.Columns, in.Plan.GroupColumn)
		if category < 0 {
			category = 0
		}
		value := findColumn(in.Columns, in.Plan.ValueColumn)
		if value < 0 || value == category {
			value = firstOther(len(in.Columns), category)
		}
		chartType := ChartBar
		switch {
		case in.Plan.Percentage || strings.Contains(in.Question, "%"):
			chartType = ChartPie
		case nl2sql.IsTemporalName(in.Columns[category]):
			chartType = ChartLine
		}
		return buildSeries(in, chartType, category, value, title)

	case in.Plan.Shape == nl2sql.ShapeAggregate:
		value := findColumn(in.Columns, in.Plan.ValueColumn)
		if value < 0 {
			value = 0
		}
		n, ok := ParseNumber(cell(in.Rows[0], value))
		if !ok {
			return nil
		}
		return &Chart{
			ChartType: ChartSingle,
			Value:     &n,
			Label:     DisplayLabel(in.Columns[value], in.Mapping),
			Title:     title,
		}

	default:
		visible := visibleColumns(in.Columns)
		if len(visible) < 2 {
			return nil
		}
		return buildSeries(in, ChartBar, visible[0], visible[1], title)
	}
}

func buildSeries(in ChartInput, chartType string, category, value int, title string) *Chart {
	labels := make([]string, len(in.Rows))
	for i, row := range in.Rows {
		labels[i] = Stringify(cell(row, category))
	}
	values := columnValues(in.Rows, value)
	if allZero(values) {
		value = -1
		for candidate := range in.Columns {
			if candidate == category || ident.IsReserved(in.Columns[candidate]) {
				continue
			}
			if alt := columnValues(in.Rows, candidate); !allZero(alt) {
				value, values = candidate, alt
				break
			}
		}
		if value < 0 {
			return nil
		}
	}
	return &Chart{
		ChartType:     chartType,
		Labels:        labels,
		Values:        values,
		CategoryLabel: DisplayLabel(in.Columns[category], in.Mapping),
		ValueLabel:    DisplayLabel(in.Columns[value], in.Mapping),
		Title:         title,
	}
}

func columnValues(rows [][]any, column int) []float64 {
	values := make([]float64, len(rows))
	for i, row := range rows {
		values[i], _ = ParseNumber(cell(row, column))
	}
	return values
}

func allZero(values []float64) bool {
	for _, v := range values {
		if v != 0 {
			return false
		}
	}
	return true
}

func cell(row []any, i int) any {
	if i < 0 || i >= len(row) {
		return nil
	}
	return row[i]
}

func firstOther(n, skip int) int {
	for i := 0; i < n; i++ {
		if i != skip {
			return i
		}
	}
	return skip
}

func visibleColumns(columns []string) []int {
	out := make([]int, 0, len(columns))
	for i, column := range columns {
		if !ident.IsReserved(column) {
			out = append(out, i)
		}
	}
	return out
}

// findColumn resolves key against result columns, tolerating case, spacing,
// underscore and hyphen differences.
func findColumn(columns []string, key string) int {
	if key == "" {
		return -1
	}
	for i, column := range columns {
		if column == key {
			return i
		}
	}
	for i, column := range columns {
		if strings.EqualFold(column, key) {
			return i
		}
	}
	want := ident.NormalizeLabel(key)
	for i, column := range columns {
		if ident.NormalizeLabel(column) == want {
			return i
		}
	}
	return -1
}

var numberNoise = strings.NewReplacer("₹", "", "$", "", "€", "", "£", "", ",", "")

// ParseNumber extracts a float from a result value, tolerating currency
// symbols, thousands separators and whitespace in text.
func ParseNumber(v any) (float64, bool) {
	switch value := v.(type) {
	case nil:
		return 0, false
	case int64:
		return float64(value), true
	case int:
		return float64(value), true
	case int32:
		return float64(value), true
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case []byte:
		return ParseNumber(string(value))
	case string:
		cleaned := strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, numberNoise.Replace(value))
		if cleaned == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// DisplayLabel prefers the original spreadsheet header for key and falls back
// to a title-cased form of the identifier.
func DisplayLabel(key string, mapping []ident.ColumnMapping) string {
	if column, ok := ident.Lookup(mapping, key); ok && strings.TrimSpace(column.Original) != "" {
		return column.Original
	}
	return TitleCase(key)
}

// TitleCase turns an identifier such as total_amount into "Total Amount".
func TitleCase(key string) string {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, word := range words {
		runes := []rune(strings.ToLower(word))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
