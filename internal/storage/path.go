package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

const snapshotFile = "rows.parquet"

var (
	pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9@+._-]{0,127}$`)
	unsafeFileChars      = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
)

// DatasetPrefix is the key prefix holding every archived object of a dataset.
func DatasetPrefix(ownerID, tableName string) (string, error) {
	if err := validatePathComponent(ownerID, "owner id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	return path.Join(ownerID, tableName) + "/", nil
}

// BuildSourcePath returns <owner>/<table>/source/<filename> for a raw upload.
func BuildSourcePath(ownerID, tableName, filename string) (string, error) {
	prefix, err := DatasetPrefix(ownerID, tableName)
	if err != nil {
		return "", err
	}
	name := SafeFilename(filename)
	if name == "" {
		return "", fmt.Errorf("invalid filename: %q", filename)
	}
	return path.Join(prefix, "source", name), nil
}

// BuildSnapshotPath returns <owner>/<table>/rows.parquet.
func BuildSnapshotPath(ownerID, tableName string) (string, error) {
	prefix, err := DatasetPrefix(ownerID, tableName)
	if err != nil {
		return "", err
	}
	return path.Join(prefix, snapshotFile), nil
}

// SafeFilename keeps the base name of an upload with unsafe runs replaced by "_".
func SafeFilename(filename string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), `\`, "/"))
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return strings.Trim(unsafeFileChars.ReplaceAllString(base, "_"), "_")
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) || strings.Contains(value, "..") {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
