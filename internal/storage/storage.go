// Package storage lays out dataset archives in an object store.
package storage

import (
	"context"
	"io"
)

// Metadata keys attached to every archived object.
const (
	MetaOwner    = "owner"
	MetaTable    = "table"
	MetaFilename = "filename"
)

type ObjectInfo struct {
	Key  string
	Size int64
	ETag string
}

type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ObjectStore holds dataset archives. Keys are relative to the store's own
// prefix.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	// RemovePrefix deletes every object under prefix and reports how many
	// were removed. prefix must end in "/".
	RemovePrefix(ctx context.Context, prefix string) (int, error)
	Ping(ctx context.Context) error
}
