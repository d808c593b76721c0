package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sheetqa/sheetqa/internal/archive"
	"github.com/sheetqa/sheetqa/internal/dataset"
	"github.com/sheetqa/sheetqa/internal/ident"
	"github.com/sheetqa/sheetqa/internal/observability"
	"github.com/sheetqa/sheetqa/internal/sheet"
)

type Upload struct {
	Filename string
	Content  []byte
	Layout   sheet.Layout
}

type IngestResult struct {
	DatasetID     string                `json:"datasetId"`
	TableName     string                `json:"tableName"`
	Filename      string                `json:"filename"`
	RowsProcessed int                   `json:"rowsProcessed"`
	RowsStored    int                   `json:"rowsStored"`
	RowsSkipped   int                   `json:"rowsSkipped"`
	Columns       []string              `json:"columns"`
	ColumnMapping []ident.ColumnMapping `json:"columnMapping"`
}

// Ingest parses an upload and materializes it as a new dynamic table owned by
// owner. A failure after registration drops the table and removes the record.
func (s *Service) Ingest(ctx context.Context, owner string, upload Upload) (result IngestResult, err error) {
	s.ensureDefaults()
	start := time.Now()
	logger := observability.LoggerWithTrace(ctx, s.Logger)
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		observability.ObserveIngest(outcome, result.RowsStored, time.Since(start))
	}()

	if !sheet.SupportedExtension(upload.Filename) {
		return IngestResult{}, fmt.Errorf("%w: only .xlsx, .xls and .csv files are supported", ErrUnsupportedFormat)
	}
	table, err := sheet.Parse(upload.Filename, upload.Content, sheet.Options{
		Layout:       upload.Layout,
		HeaderOffset: s.Config.HeaderOffset,
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrEmptyContent), errors.Is(err, ErrNoColumns), errors.Is(err, ErrUnsupportedFormat):
		return IngestResult{}, err
	default:
		return IngestResult{}, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	columns := ident.MapColumns(table.Headers)

	ds, err := s.register(ctx, owner, upload.Filename, columns)
	if err != nil {
		return IngestResult{}, err
	}
	defer func() {
		if err == nil {
			return
		}
		if dropErr := s.Materializer.DropTable(context.WithoutCancel(ctx), ds.TableName); dropErr != nil {
			logger.WarnContext(ctx, "cleanup drop failed", "table", ds.TableName, "error", dropErr)
		}
		if _, delErr := s.Datasets.Delete(context.WithoutCancel(ctx), ds.ID); delErr != nil {
			logger.WarnContext(ctx, "cleanup registry delete failed", "dataset_id", ds.ID, "error", delErr)
		}
	}()

	if err = s.Materializer.CreateTable(ctx, ds.TableName, columns); err != nil {
		return IngestResult{}, err
	}
	stored, err := s.Materializer.InsertRows(ctx, ds.TableName, columns, table.Rows)
	if err != nil {
		return IngestResult{}, err
	}
	if err = s.Datasets.MarkReady(ctx, ds.ID, stored); err != nil {
		return IngestResult{}, fmt.Errorf("mark dataset ready: %w", err)
	}

	if s.Archive != nil {
		archiveErr := s.Archive.Store(ctx, archive.Snapshot{
			Owner:     owner,
			TableName: ds.TableName,
			Filename:  upload.Filename,
			Content:   upload.Content,
			Columns:   columns,
			Rows:      table.Rows,
		})
		if archiveErr != nil {
			logger.WarnContext(ctx, "dataset archive failed", "table", ds.TableName, "error", archiveErr)
		}
	}

	logger.InfoContext(ctx, "dataset ingested",
		"dataset_id", ds.ID,
		"table", ds.TableName,
		"layout", table.Layout,
		"rows_stored", stored,
		"rows_skipped", table.Skipped,
	)
	return IngestResult{
		DatasetID:     ds.ID,
		TableName:     ds.TableName,
		Filename:      upload.Filename,
		RowsProcessed: len(table.Rows) + table.Skipped,
		RowsStored:    stored,
		RowsSkipped:   table.Skipped,
		Columns:       append([]string(nil), table.Headers...),
		ColumnMapping: columns,
	}, nil
}

// register creates the materializing registry row. A name already taken within
// the same second is retried with the next second's timestamp.
func (s *Service) register(ctx context.Context, owner, filename string, columns []ident.ColumnMapping) (dataset.Dataset, error) {
	at := s.Clock()
	for attempt := 0; ; attempt++ {
		ds, err := s.Datasets.Create(ctx, dataset.CreateInput{
			Owner:     owner,
			Filename:  filename,
			TableName: ident.TableName(filename, at),
			Columns:   columns,
		})
		if errors.Is(err, dataset.ErrTableNameUsed) && attempt+1 < tableNameAttempts {
			at = at.Add(time.Second)
			continue
		}
		if err != nil {
			return dataset.Dataset{}, fmt.Errorf("register dataset: %w", err)
		}
		return ds, nil
	}
}
