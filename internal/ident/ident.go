// Package ident turns arbitrary user supplied labels into SQL identifiers.
package ident

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// MaxLength is the identifier length produced by Sanitize.
const MaxLength = 64

// maxTableNameLength keeps generated table names inside the Postgres identifier limit.
const maxTableNameLength = 63

const (
	TablePrefix       = "excel_"
	tableTimestampFmt = "20060102_150405"
)

type Kind int

const (
	Table Kind = iota
	Column
)

func (k Kind) prefix() string {
	if k == Table {
		return "tbl"
	}
	return "col"
}

var invalidChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// Sanitize maps raw to an identifier matching ^[a-z][a-z0-9_]*$ of at most
// MaxLength characters. The result never ends with an underscore, which keeps
// Sanitize idempotent.
func Sanitize(raw string, kind Kind) string {
	out := invalidChars.ReplaceAllString(raw, "_")
	out = strings.Trim(out, "_")
	if out == "" {
		out = kind.prefix()
	} else if !isLetter(out[0]) {
		out = kind.prefix() + "_" + out
	}
	if len(out) > MaxLength {
		out = out[:MaxLength]
	}
	out = strings.TrimRight(out, "_")
	return strings.ToLower(out)
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// Reserved column identifiers owned by every dynamic table.
var Reserved = []string{"id", "created_at", "updated_at"}

func IsReserved(identifier string) bool {
	for _, name := range Reserved {
		if identifier == name {
			return true
		}
	}
	return false
}

// ColumnMapping pairs a source label with the identifier it is stored under.
type ColumnMapping struct {
	Original   string `json:"original"`
	Identifier string `json:"identifier"`
}

// MapColumns assigns a unique identifier to every label in order. Empty labels
// become "Unnamed: N" and duplicate identifiers receive a numeric suffix.
func MapColumns(originals []string) []ColumnMapping {
	taken := make(map[string]struct{}, len(originals)+len(Reserved))
	for _, name := range Reserved {
		taken[name] = struct{}{}
	}
	out := make([]ColumnMapping, 0, len(originals))
	for i, original := range originals {
		label := strings.TrimSpace(original)
		if label == "" {
			label = fmt.Sprintf("Unnamed: %d", i)
		}
		base := Sanitize(label, Column)
		identifier := base
		for n := 2; ; n++ {
			if _, exists := taken[identifier]; !exists {
				break
			}
			suffix := fmt.Sprintf("_%d", n)
			trimmed := base
			if len(trimmed)+len(suffix) > MaxLength {
				trimmed = strings.TrimRight(trimmed[:MaxLength-len(suffix)], "_")
			}
			identifier = trimmed + suffix
		}
		taken[identifier] = struct{}{}
		out = append(out, ColumnMapping{Original: label, Identifier: identifier})
	}
	return out
}

// Identifiers returns the identifier column of mapping in order.
func Identifiers(mapping []ColumnMapping) []string {
	out := make([]string, 0, len(mapping))
	for _, column := range mapping {
		out = append(out, column.Identifier)
	}
	return out
}

// TableName derives the dynamic table name for an upload received at the given time.
func TableName(filename string, at time.Time) string {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	clean := Sanitize(stem, Table)
	suffix := "_" + at.UTC().Format(tableTimestampFmt)
	if budget := maxTableNameLength - len(TablePrefix) - len(suffix); len(clean) > budget {
		clean = strings.TrimRight(clean[:budget], "_")
	}
	return TablePrefix + clean + suffix
}

var generatedTableName = regexp.MustCompile(`^` + TablePrefix + `[a-z][a-z0-9_]*_[0-9]{8}_[0-9]{6}$`)

// IsGeneratedTableName reports whether name has the shape TableName produces.
func IsGeneratedTableName(name string) bool {
	return len(name) <= maxTableNameLength && generatedTableName.MatchString(name)
}

// NormalizeLabel folds case, whitespace, underscores and hyphens so that a
// column identifier and its display label compare equal.
func NormalizeLabel(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch r {
		case ' ', '\t', '\n', '\r', '-', '_':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Lookup finds the mapping entry for key, tolerating label formatting variance.
func Lookup(mapping []ColumnMapping, key string) (ColumnMapping, bool) {
	for _, column := range mapping {
		if column.Identifier == key {
			return column, true
		}
	}
	want := NormalizeLabel(key)
	for _, column := range mapping {
		if NormalizeLabel(column.Identifier) == want || NormalizeLabel(column.Original) == want {
			return column, true
		}
	}
	return ColumnMapping{}, false
}
