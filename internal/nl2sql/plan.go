package nl2sql

import (
	"regexp"
	"strings"
)

// Shape classifies the result a statement is expected to produce.
type Shape string

const (
	ShapeListing   Shape = "listing"
	ShapeAggregate Shape = "aggregate"
	ShapeGrouped   Shape = "grouped"
)

// Plan is the structured description of a generated statement. It is derived
// once after translation and consumed by execution and response shaping.
type Plan struct {
	Shape       Shape  `json:"shape"`
	GroupColumn string `json:"group_column,omitempty"`
	ValueColumn string `json:"value_column,omitempty"`
	Percentage  bool   `json:"percentage,omitempty"`
	Temporal    bool   `json:"temporal,omitempty"`
	HasLimit    bool   `json:"has_limit,omitempty"`
}

func (p Plan) IsAggregate() bool {
	return p.Shape == ShapeAggregate || p.Shape == ShapeGrouped
}

var (
	aggregateCall  = regexp.MustCompile(`(?i)\b(sum|avg|count|max|min)\s*\(`)
	groupByClause  = regexp.MustCompile(`(?i)\bgroup\s+by\b`)
	havingClause   = regexp.MustCompile(`(?i)\bhaving\b`)
	limitClause    = regexp.MustCompile(`(?i)\blimit\b`)
	percentageHint = regexp.MustCompile(`(?i)percentage`)
	aliasSuffix    = regexp.MustCompile(`(?is)\s+(?:as\s+)?([` + "`" + `"]?[a-z_][a-z0-9_]*[` + "`" + `"]?)\s*$`)
	temporalWords  = []string{"date", "time"}
)

// PlanFor inspects a statement and derives its Plan.
func PlanFor(sql string) Plan {
	plan := Plan{Shape: ShapeListing}
	grouped := groupByClause.MatchString(sql)
	aggregate := grouped || aggregateCall.MatchString(sql) || havingClause.MatchString(sql) ||
		strings.Contains(strings.ToLower(sql), "percentage")
	switch {
	case grouped:
		plan.Shape = ShapeGrouped
	case aggregate:
		plan.Shape = ShapeAggregate
	}
	plan.Percentage = percentageHint.MatchString(sql)
	plan.HasLimit = limitClause.MatchString(sql)

	for _, item := range selectItems(sql) {
		name := outputName(item)
		if name == "" {
			continue
		}
		if aggregateCall.MatchString(item) || percentageHint.MatchString(item) {
			if plan.ValueColumn == "" {
				plan.ValueColumn = name
			}
			continue
		}
		if plan.GroupColumn == "" {
			plan.GroupColumn = name
		}
	}
	if plan.Shape == ShapeListing {
		plan.ValueColumn = ""
	}
	if plan.GroupColumn != "" {
		plan.Temporal = IsTemporalName(plan.GroupColumn)
	}
	return plan
}

// IsTemporalName reports whether a column name suggests a time dimension.
func IsTemporalName(name string) bool {
	lower := strings.ToLower(name)
	for _, word := range temporalWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// selectItems returns the projection list of the outermost SELECT.
func selectItems(sql string) []string {
	lower := strings.ToLower(sql)
	start, end := -1, len(sql)
	depth := 0
	var quote byte
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
			continue
		case '(':
			depth++
			continue
		case ')':
			depth--
			continue
		}
		if depth != 0 {
			continue
		}
		if start < 0 && keywordAt(lower, i, "select") {
			start = i + len("select")
			if keywordAt(lower, skipSpace(lower, start), "distinct") {
				start = skipSpace(lower, start) + len("distinct")
			}
			continue
		}
		if start >= 0 && keywordAt(lower, i, "from") {
			end = i
			break
		}
	}
	if start < 0 || start > end {
		return nil
	}
	return splitTopLevel(sql[start:end])
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\n' || s[i] == '\t' || s[i] == '\r') {
		i++
	}
	return i
}

func keywordAt(lower string, i int, word string) bool {
	if !strings.HasPrefix(lower[i:], word) {
		return false
	}
	if i > 0 && isWordByte(lower[i-1]) {
		return false
	}
	next := i + len(word)
	return next >= len(lower) || !isWordByte(lower[next])
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func splitTopLevel(list string) []string {
	items := make([]string, 0)
	depth := 0
	var quote byte
	last := 0
	for i := 0; i < len(list); i++ {
		c := list[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				items = append(items, strings.TrimSpace(list[last:i]))
				last = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(list[last:]); tail != "" {
		items = append(items, tail)
	}
	return items
}

// outputName returns the result column key produced by a select item.
func outputName(item string) string {
	item = strings.TrimSpace(item)
	if item == "" || strings.HasSuffix(item, "*") {
		return ""
	}
	if m := aliasSuffix.FindStringSubmatchIndex(item); m != nil && m[0] > 0 {
		prefix := strings.TrimSpace(item[:m[0]])
		if prefix != "" && !strings.HasSuffix(prefix, ".") {
			return unquote(item[m[2]:m[3]])
		}
	}
	if idx := strings.LastIndex(item, "."); idx >= 0 && !strings.Contains(item, "(") {
		item = item[idx+1:]
	}
	if strings.ContainsAny(item, "( )") {
		return ""
	}
	return unquote(item)
}

func unquote(name string) string {
	return strings.Trim(name, "`\"")
}
