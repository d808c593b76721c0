// Package agent orchestrates spreadsheet ingestion and natural-language queries.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sheetqa/sheetqa/internal/archive"
	"github.com/sheetqa/sheetqa/internal/dataset"
	"github.com/sheetqa/sheetqa/internal/ident"
	"github.com/sheetqa/sheetqa/internal/introspect"
	"github.com/sheetqa/sheetqa/internal/nl2sql"
	"github.com/sheetqa/sheetqa/internal/query"
	"github.com/sheetqa/sheetqa/internal/shape"
	"github.com/sheetqa/sheetqa/internal/sheet"
)

var (
	ErrEmptyQuery         = errors.New("query is required")
	ErrUnsupportedFormat  = sheet.ErrUnsupportedFormat
	ErrEmptyContent       = sheet.ErrEmptyContent
	ErrNoColumns          = sheet.ErrNoColumns
	ErrUnreadableFile     = errors.New("error processing file")
	ErrNoDatasets         = errors.New("no table specified and no uploaded files found")
	ErrTableNotFound      = errors.New("table not found")
	ErrForbidden          = errors.New("dataset belongs to another user")
	ErrDatasetNotFound    = errors.New("file not found")
	ErrModelNotConfigured = errors.New("language model is not configured")
	ErrTranslationFailed  = errors.New("failed to generate SQL query")
)

const (
	defaultTopK       = 5
	defaultMaxTopK    = 50
	tableNameAttempts = 3
)

type Materializer interface {
	CreateTable(ctx context.Context, table string, columns []ident.ColumnMapping) error
	InsertRows(ctx context.Context, table string, columns []ident.ColumnMapping, rows [][]any) (int, error)
	DropTable(ctx context.Context, table string) error
}

type Introspector interface {
	Describe(ctx context.Context, table string, mapping []ident.ColumnMapping) introspect.Description
}

type Translator interface {
	Translate(ctx context.Context, req nl2sql.Request) (nl2sql.Result, error)
}

type Executor interface {
	Execute(ctx context.Context, sql string, plan nl2sql.Plan, rowCap int) query.Outcome
}

type Narrator interface {
	Answer(ctx context.Context, in shape.AnswerInput) string
}

// Archiver stores and removes dataset archives. It is optional.
type Archiver interface {
	Store(ctx context.Context, snap archive.Snapshot) error
	Remove(ctx context.Context, owner, tableName string) error
}

type Config struct {
	DefaultTopK  int
	MaxTopK      int
	HeaderOffset int
}

type Service struct {
	Datasets     dataset.Repository
	Materializer Materializer
	Introspector Introspector
	Translator   Translator
	Executor     Executor
	Narrator     Narrator
	Archive      Archiver
	Config       Config
	Logger       *slog.Logger
	Clock        func() time.Time
}

func (s *Service) ensureDefaults() {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.Config.MaxTopK <= 0 {
		s.Config.MaxTopK = defaultMaxTopK
	}
	if s.Config.DefaultTopK <= 0 {
		s.Config.DefaultTopK = defaultTopK
	}
	if s.Config.DefaultTopK > s.Config.MaxTopK {
		s.Config.DefaultTopK = s.Config.MaxTopK
	}
	if s.Config.HeaderOffset <= 0 {
		s.Config.HeaderOffset = sheet.DefaultHeaderOffset
	}
}

// clampTopK returns the default for non-positive values and caps the rest.
func (s *Service) clampTopK(topK int) int {
	if topK <= 0 {
		return s.Config.DefaultTopK
	}
	if topK > s.Config.MaxTopK {
		return s.Config.MaxTopK
	}
	return topK
}

// resolveTarget returns the named dataset or, for an empty name, the caller's
// most recent ready dataset.
func (s *Service) resolveTarget(ctx context.Context, owner, tableName string) (dataset.Dataset, error) {
	if tableName == "" {
		ds, err := s.Datasets.Latest(ctx, owner)
		if errors.Is(err, dataset.ErrNotFound) {
			return dataset.Dataset{}, ErrNoDatasets
		}
		return ds, err
	}
	ds, err := s.Datasets.GetByTableName(ctx, tableName)
	if errors.Is(err, dataset.ErrNotFound) {
		return dataset.Dataset{}, ErrTableNotFound
	}
	if err != nil {
		return dataset.Dataset{}, err
	}
	if ds.Owner != owner {
		return dataset.Dataset{}, ErrForbidden
	}
	if ds.State != dataset.StateReady {
		return dataset.Dataset{}, ErrTableNotFound
	}
	return ds, nil
}
