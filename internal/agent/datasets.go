package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sheetqa/sheetqa/internal/dataset"
	"github.com/sheetqa/sheetqa/internal/introspect"
	"github.com/sheetqa/sheetqa/internal/observability"
)

type DatasetSummary struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	TableName string    `json:"tableName"`
	Columns   []string  `json:"columns"`
	RowCount  int       `json:"rowCount"`
	CreatedAt time.Time `json:"createdAt"`
}

type DeleteResult struct {
	DatasetID    string `json:"datasetId"`
	TableName    string `json:"tableName"`
	TableDropped bool   `json:"tableDropped"`
	DropError    string `json:"dropError,omitempty"`
}

type SchemaResult struct {
	TableName string              `json:"tableName"`
	Schema    string              `json:"schema"`
	Columns   []introspect.Column `json:"columns"`
	Total     int64               `json:"totalRecords"`
}

// List returns owner's ready datasets, newest first.
func (s *Service) List(ctx context.Context, owner string) ([]DatasetSummary, error) {
	s.ensureDefaults()
	datasets, err := s.Datasets.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	out := make([]DatasetSummary, 0, len(datasets))
	for _, ds := range datasets {
		out = append(out, DatasetSummary{
			ID:        ds.ID,
			Filename:  ds.Filename,
			TableName: ds.TableName,
			Columns:   ds.OriginalColumns(),
			RowCount:  ds.RowCount,
			CreatedAt: ds.CreatedAt,
		})
	}
	return out, nil
}

// Delete drops a dataset's table and removes its record. When the drop fails
// the record is marked dropped so the reconciler retries, and the result
// reports TableDropped=false.
func (s *Service) Delete(ctx context.Context, owner, datasetID string) (DeleteResult, error) {
	s.ensureDefaults()
	logger := observability.LoggerWithTrace(ctx, s.Logger)

	ds, err := s.Datasets.GetByID(ctx, strings.TrimSpace(datasetID))
	if errors.Is(err, dataset.ErrNotFound) {
		return DeleteResult{}, ErrDatasetNotFound
	}
	if err != nil {
		return DeleteResult{}, fmt.Errorf("load dataset: %w", err)
	}
	if ds.Owner != owner {
		return DeleteResult{}, ErrForbidden
	}

	result := DeleteResult{DatasetID: ds.ID, TableName: ds.TableName}
	if dropErr := s.Materializer.DropTable(ctx, ds.TableName); dropErr != nil {
		logger.WarnContext(ctx, "dataset table drop failed", "dataset_id", ds.ID, "table", ds.TableName, "error", dropErr)
		if err := s.Datasets.MarkDropped(ctx, ds.ID); err != nil {
			return DeleteResult{}, fmt.Errorf("mark dataset dropped: %w", err)
		}
		result.DropError = dropErr.Error()
		return result, nil
	}
	result.TableDropped = true

	if _, err := s.Datasets.Delete(ctx, ds.ID); err != nil {
		return DeleteResult{}, fmt.Errorf("delete dataset record: %w", err)
	}
	if s.Archive != nil {
		if err := s.Archive.Remove(ctx, ds.Owner, ds.TableName); err != nil {
			logger.WarnContext(ctx, "dataset archive removal failed", "table", ds.TableName, "error", err)
		}
	}
	logger.InfoContext(ctx, "dataset deleted", "dataset_id", ds.ID, "table", ds.TableName)
	return result, nil
}

// Schema returns the introspection summary the translator sees for a dataset.
func (s *Service) Schema(ctx context.Context, owner, tableName string) (SchemaResult, error) {
	s.ensureDefaults()
	ds, err := s.resolveTarget(ctx, owner, strings.TrimSpace(tableName))
	if err != nil {
		return SchemaResult{}, err
	}
	desc := s.Introspector.Describe(ctx, ds.TableName, ds.Columns)
	return SchemaResult{
		TableName: ds.TableName,
		Schema:    desc.String(),
		Columns:   desc.Columns,
		Total:     desc.Total,
	}, nil
}
