package shape

import (
	"fmt"
	"strconv"
)

type Table struct {
	Headers  []string   `json:"headers"`
	Rows     [][]string `json:"rows"`
	RowCount int        `json:"row_count"`
}

// BuildTable stringifies a result for tabular rendering. It returns nil for
// an empty result.
func BuildTable(columns []string, rows [][]any) *Table {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]string, len(rows))
	for i, row := range rows {
		values := make([]string, len(columns))
		for j := range columns {
			values[j] = Stringify(cell(row, j))
		}
		out[i] = values
	}
	headers := append([]string(nil), columns...)
	return &Table{Headers: headers, Rows: out, RowCount: len(out)}
}

func Stringify(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []byte:
		return string(value)
	case int64:
		return strconv.FormatInt(value, 10)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	default:
		return fmt.Sprint(value)
	}
}
