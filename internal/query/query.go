// Package query executes generated SQL against dynamic tables.
package query

import "time"

// Status tags the result of executing a generated statement.
type Status string

const (
	StatusRows   Status = "rows"
	StatusEmpty  Status = "empty"
	StatusFailed Status = "failed"
)

type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

// Outcome distinguishes a legitimately empty result from an execution failure.
type Outcome struct {
	Status Status
	SQL    string
	Result Result
	Err    error
}

func (o Outcome) Failed() bool { return o.Status == StatusFailed }

// Records returns the rows keyed by column name.
func (o Outcome) Records() []map[string]any {
	out := make([]map[string]any, 0, len(o.Result.Rows))
	for _, row := range o.Result.Rows {
		record := make(map[string]any, len(o.Result.Columns))
		for i, column := range o.Result.Columns {
			if i < len(row) {
				record[column] = row[i]
			}
		}
		out = append(out, record)
	}
	return out
}
