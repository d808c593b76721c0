package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/sheetqa/sheetqa/internal/database"
	"github.com/sheetqa/sheetqa/internal/dataset"
)

const registryTable = "sheet_dataset"

var datasetColumns = []string{
	"dataset_id",
	"owner_id",
	"filename",
	"table_name",
	"columns_json",
	"row_count",
	"state",
	"created_at",
	"updated_at",
}

type Repository struct {
	db      *sql.DB
	builder sq.StatementBuilderType
	now     func() time.Time
}

func NewRepository(db *sql.DB, dialect database.Dialect) *Repository {
	return &Repository{
		db:      db,
		builder: dialect.Builder(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping registry db: %w", err)
	}
	return nil
}

func (r *Repository) Create(ctx context.Context, in dataset.CreateInput) (dataset.Dataset, error) {
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	columnsJSON, err := json.Marshal(in.Columns)
	if err != nil {
		return dataset.Dataset{}, fmt.Errorf("encode column mapping: %w", err)
	}
	now := r.now()

	query, args, err := r.builder.
		Insert(registryTable).
		Columns(datasetColumns...).
		Values(id, in.Owner, in.Filename, in.TableName, string(columnsJSON), 0, string(dataset.StateMaterializing), now, now).
		ToSql()
	if err != nil {
		return dataset.Dataset{}, fmt.Errorf("build create dataset: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return dataset.Dataset{}, dataset.ErrTableNameUsed
		}
		return dataset.Dataset{}, fmt.Errorf("create dataset: %w", err)
	}
	return dataset.Dataset{
		ID:        id,
		Owner:     in.Owner,
		Filename:  in.Filename,
		TableName: in.TableName,
		Columns:   in.Columns,
		State:     dataset.StateMaterializing,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (r *Repository) MarkReady(ctx context.Context, id string, rowCount int) error {
	return r.transition(ctx, r.builder.
		Update(registryTable).
		Set("state", string(dataset.StateReady)).
		Set("row_count", rowCount).
		Set("updated_at", r.now()).
		Where(sq.Eq{"dataset_id": id}), "mark dataset ready")
}

func (r *Repository) MarkDropped(ctx context.Context, id string) error {
	return r.transition(ctx, r.builder.
		Update(registryTable).
		Set("state", string(dataset.StateDropped)).
		Set("updated_at", r.now()).
		Where(sq.Eq{"dataset_id": id}), "mark dataset dropped")
}

func (r *Repository) transition(ctx context.Context, stmt sq.UpdateBuilder, op string) error {
	query, args, err := stmt.ToSql()
	if err != nil {
		return fmt.Errorf("build %s: %w", op, err)
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return dataset.ErrNotFound
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	query, args, err := r.builder.Delete(registryTable).Where(sq.Eq{"dataset_id": id}).ToSql()
	if err != nil {
		return false, fmt.Errorf("build delete dataset: %w", err)
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("delete dataset: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete dataset rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetByID returns a dataset that has not been dropped.
func (r *Repository) GetByID(ctx context.Context, id string) (dataset.Dataset, error) {
	return r.getOne(ctx, r.selectVisible().Where(sq.Eq{"dataset_id": id}), "get dataset")
}

func (r *Repository) GetByTableName(ctx context.Context, tableName string) (dataset.Dataset, error) {
	return r.getOne(ctx, r.selectVisible().Where(sq.Eq{"table_name": tableName}), "get dataset by table")
}

// Latest returns the owner's most recently created ready dataset.
func (r *Repository) Latest(ctx context.Context, owner string) (dataset.Dataset, error) {
	return r.getOne(ctx, r.selectReady(owner).OrderBy("created_at DESC").Limit(1), "get latest dataset")
}

func (r *Repository) List(ctx context.Context, owner string) ([]dataset.Dataset, error) {
	return r.list(ctx, r.selectReady(owner).OrderBy("created_at DESC"), "list datasets")
}

func (r *Repository) ListByState(ctx context.Context, state dataset.State, updatedBefore time.Time) ([]dataset.Dataset, error) {
	stmt := r.builder.
		Select(datasetColumns...).
		From(registryTable).
		Where(sq.Eq{"state": string(state)}).
		Where(sq.Lt{"updated_at": updatedBefore}).
		OrderBy("updated_at ASC")
	return r.list(ctx, stmt, "list datasets by state")
}

// ListTableNames returns every registered table name regardless of state.
func (r *Repository) ListTableNames(ctx context.Context) ([]string, error) {
	query, args, err := r.builder.Select("table_name").From(registryTable).OrderBy("table_name").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list table names: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list table names: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table names: %w", err)
	}
	return out, nil
}

func (r *Repository) selectVisible() sq.SelectBuilder {
	return r.builder.
		Select(datasetColumns...).
		From(registryTable).
		Where(sq.NotEq{"state": string(dataset.StateDropped)})
}

func (r *Repository) selectReady(owner string) sq.SelectBuilder {
	return r.builder.
		Select(datasetColumns...).
		From(registryTable).
		Where(sq.Eq{"owner_id": owner}).
		Where(sq.Eq{"state": string(dataset.StateReady)})
}

func (r *Repository) getOne(ctx context.Context, stmt sq.SelectBuilder, op string) (dataset.Dataset, error) {
	query, args, err := stmt.ToSql()
	if err != nil {
		return dataset.Dataset{}, fmt.Errorf("build %s: %w", op, err)
	}
	item, err := scanDataset(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dataset.Dataset{}, dataset.ErrNotFound
		}
		return dataset.Dataset{}, fmt.Errorf("%s: %w", op, err)
	}
	return item, nil
}

func (r *Repository) list(ctx context.Context, stmt sq.SelectBuilder, op string) ([]dataset.Dataset, error) {
	query, args, err := stmt.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", op, err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]dataset.Dataset, 0)
	for rows.Next() {
		item, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate datasets: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDataset(row scanner) (dataset.Dataset, error) {
	var (
		item        dataset.Dataset
		columnsJSON []byte
		state       string
	)
	if err := row.Scan(
		&item.ID,
		&item.Owner,
		&item.Filename,
		&item.TableName,
		&columnsJSON,
		&item.RowCount,
		&state,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return dataset.Dataset{}, err
	}
	item.State = dataset.State(state)
	if len(columnsJSON) > 0 {
		if err := json.Unmarshal(columnsJSON, &item.Columns); err != nil {
			return dataset.Dataset{}, fmt.Errorf("decode column mapping: %w", err)
		}
	}
	return item, nil
}
