package dataset

import (
	"context"
	"errors"
	"time"

	"github.com/sheetqa/sheetqa/internal/ident"
)

var (
	ErrNotFound      = errors.New("dataset: not found")
	ErrTableNameUsed = errors.New("dataset: table name already registered")
)

// State tracks a registry row against its physical table.
type State string

const (
	StateMaterializing State = "materializing"
	StateReady         State = "ready"
	StateDropped       State = "dropped"
)

type Repository interface {
	HealthCheck(ctx context.Context) error
	Create(ctx context.Context, in CreateInput) (Dataset, error)
	MarkReady(ctx context.Context, id string, rowCount int) error
	MarkDropped(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) (bool, error)
	GetByID(ctx context.Context, id string) (Dataset, error)
	GetByTableName(ctx context.Context, tableName string) (Dataset, error)
	Latest(ctx context.Context, owner string) (Dataset, error)
	List(ctx context.Context, owner string) ([]Dataset, error)
	ListByState(ctx context.Context, state State, updatedBefore time.Time) ([]Dataset, error)
	ListTableNames(ctx context.Context) ([]string, error)
}

// Dataset is the registry row for one uploaded file.
type Dataset struct {
	ID        string
	Owner     string
	Filename  string
	TableName string
	Columns   []ident.ColumnMapping
	RowCount  int
	State     State
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OriginalColumns returns the source labels in upload order.
func (d Dataset) OriginalColumns() []string {
	out := make([]string, 0, len(d.Columns))
	for _, column := range d.Columns {
		out = append(out, column.Original)
	}
	return out
}

type CreateInput struct {
	ID        string
	Owner     string
	Filename  string
	TableName string
	Columns   []ident.ColumnMapping
}
