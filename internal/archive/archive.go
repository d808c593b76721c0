// Package archive keeps raw uploads and parquet row snapshots in object storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/sheetqa/sheetqa/internal/ident"
	"github.com/sheetqa/sheetqa/internal/materialize"
	"github.com/sheetqa/sheetqa/internal/storage"
)

const snapshotContentType = "application/vnd.apache.parquet"

var sourceContentTypes = map[string]string{
	".csv":  "text/csv",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":  "application/vnd.ms-excel",
}

// Snapshot is one ingested upload as it should be archived.
type Snapshot struct {
	Owner     string
	TableName string
	Filename  string
	Content   []byte
	Columns   []ident.ColumnMapping
	Rows      [][]any
}

// Cell is one value of the long-format parquet snapshot.
type Cell struct {
	RowIndex       int64   `parquet:"row_index"`
	Column         string  `parquet:"column"`
	OriginalColumn string  `parquet:"original_column"`
	Value          *string `parquet:"value,optional"`
}

type Archive struct {
	store  storage.ObjectStore
	logger *slog.Logger
}

func New(store storage.ObjectStore, logger *slog.Logger) *Archive {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{store: store, logger: logger}
}

// Store writes the raw upload and the parquet snapshot of its rows.
func (a *Archive) Store(ctx context.Context, snap Snapshot) error {
	sourceKey, err := storage.BuildSourcePath(snap.Owner, snap.TableName, snap.Filename)
	if err != nil {
		return err
	}
	snapshotKey, err := storage.BuildSnapshotPath(snap.Owner, snap.TableName)
	if err != nil {
		return err
	}
	encoded, err := EncodeRows(snap.Columns, snap.Rows)
	if err != nil {
		return err
	}

	contentType, ok := sourceContentTypes[strings.ToLower(path.Ext(sourceKey))]
	if !ok {
		contentType = "application/octet-stream"
	}
	meta := map[string]string{
		storage.MetaOwner:    snap.Owner,
		storage.MetaTable:    snap.TableName,
		storage.MetaFilename: storage.SafeFilename(snap.Filename),
	}
	if _, err := a.store.Put(ctx, sourceKey, bytes.NewReader(snap.Content), int64(len(snap.Content)), storage.PutOptions{ContentType: contentType, Metadata: meta}); err != nil {
		return fmt.Errorf("archive source: %w", err)
	}
	if _, err := a.store.Put(ctx, snapshotKey, bytes.NewReader(encoded), int64(len(encoded)), storage.PutOptions{ContentType: snapshotContentType, Metadata: meta}); err != nil {
		return fmt.Errorf("archive snapshot: %w", err)
	}
	a.logger.InfoContext(ctx, "dataset archived",
		"owner_id", snap.Owner,
		"table", snap.TableName,
		"source_key", sourceKey,
		"snapshot_key", snapshotKey,
		"snapshot_bytes", len(encoded),
	)
	return nil
}

// Remove deletes every archived object of a dataset.
func (a *Archive) Remove(ctx context.Context, owner, tableName string) error {
	prefix, err := storage.DatasetPrefix(owner, tableName)
	if err != nil {
		return err
	}
	removed, err := a.store.RemovePrefix(ctx, prefix)
	if err != nil {
		return fmt.Errorf("remove archive %s: %w", prefix, err)
	}
	a.logger.InfoContext(ctx, "dataset archive removed", "owner_id", owner, "table", tableName, "objects", removed)
	return nil
}

// EncodeRows writes rows as one parquet record per cell.
func EncodeRows(columns []ident.ColumnMapping, rows [][]any) ([]byte, error) {
	cells := make([]Cell, 0, len(rows)*len(columns))
	for i, row := range rows {
		for c, column := range columns {
			var raw any
			if c < len(row) {
				raw = row[c]
			}
			cell := Cell{RowIndex: int64(i), Column: column.Identifier, OriginalColumn: column.Original}
			if encoded, ok := materialize.EncodeCell(raw).(string); ok {
				cell.Value = &encoded
			}
			cells = append(cells, cell)
		}
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[Cell](buf)
	if _, err := writer.Write(cells); err != nil {
		return nil, fmt.Errorf("write parquet cells: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
