package agent

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetqa/sheetqa/internal/archive"
	"github.com/sheetqa/sheetqa/internal/database"
	"github.com/sheetqa/sheetqa/internal/dataset"
	"github.com/sheetqa/sheetqa/internal/ident"
	"github.com/sheetqa/sheetqa/internal/introspect"
	"github.com/sheetqa/sheetqa/internal/nl2sql"
	"github.com/sheetqa/sheetqa/internal/query"
	"github.com/sheetqa/sheetqa/internal/shape"
)

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

const salesCSV = "Name,Amount\nAsha,100\nRavi,200\nMeena,300\n"

func TestIngestThenAskTotalAmount(t *testing.T) {
	h := newHarness(t)
	h.generator.responses = []string{
		"```sql\nSELECT SUM(CAST(\"amount\" AS NUMERIC)) AS total_amount FROM \"excel_sales_20250102_030405\";\n```",
		"The total amount is 600.",
	}
	h.executor.run = func(sql string, _ nl2sql.Plan, _ int) query.Outcome {
		rows := h.materializer.rows("excel_sales_20250102_030405")
		var total int64
		for _, row := range rows {
			total += row[1].(int64)
		}
		return query.Outcome{
			Status: query.StatusRows,
			SQL:    sql,
			Result: query.Result{Columns: []string{"total_amount"}, Rows: [][]any{{total}}},
		}
	}

	ingested, err := h.service.Ingest(context.Background(), "user-1", Upload{Filename: "sales.csv", Content: []byte(salesCSV)})
	require.NoError(t, err)
	assert.Equal(t, "excel_sales_20250102_030405", ingested.TableName)
	assert.Equal(t, 3, ingested.RowsStored)
	assert.Equal(t, 3, ingested.RowsProcessed)
	assert.Equal(t, []string{"Name", "Amount"}, ingested.Columns)

	stored, err := h.repo.GetByID(context.Background(), ingested.DatasetID)
	require.NoError(t, err)
	assert.Equal(t, dataset.StateReady, stored.State)
	assert.Equal(t, 3, stored.RowCount)
	require.Len(t, h.archive.stored, 1)

	answer, err := h.service.Query(context.Background(), "user-1", QueryRequest{Query: "what is the total amount"})
	require.NoError(t, err)
	assert.Contains(t, answer.SQL, `CAST("amount" AS NUMERIC)`)
	assert.Equal(t, query.StatusRows, answer.Outcome)
	assert.Equal(t, []map[string]any{{"total_amount": int64(600)}}, answer.Results)
	assert.Equal(t, "The total amount is 600.", answer.Answer)
	assert.Equal(t, shape.ModeText, answer.Mode)

	require.Len(t, h.generator.prompts, 2)
	assert.Contains(t, h.generator.prompts[0], "Table: excel_sales_20250102_030405")
	assert.Contains(t, h.generator.prompts[1], `"total_amount": 600`)
}

func TestIngestRejectsBadUploads(t *testing.T) {
	h := newHarness(t)

	_, err := h.service.Ingest(context.Background(), "user-1", Upload{Filename: "notes.txt", Content: []byte("a,b\n1,2\n")})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = h.service.Ingest(context.Background(), "user-1", Upload{Filename: "empty.csv", Content: []byte("  \n")})
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = h.service.Ingest(context.Background(), "user-1", Upload{Filename: "blank.csv", Content: []byte(",,\n1,2,3\n")})
	assert.ErrorIs(t, err, ErrNoColumns)

	_, err = h.service.Ingest(context.Background(), "user-1", Upload{Filename: "broken.xlsx", Content: []byte("not a zip archive")})
	assert.ErrorIs(t, err, ErrUnreadableFile)

	assert.Empty(t, h.repo.all())
}

func TestIngestCleansUpAfterInsertFailure(t *testing.T) {
	h := newHarness(t)
	h.materializer.insertErr = errors.New("disk full")

	_, err := h.service.Ingest(context.Background(), "user-1", Upload{Filename: "sales.csv", Content: []byte(salesCSV)})
	require.Error(t, err)

	assert.Empty(t, h.repo.all())
	assert.Equal(t, []string{"excel_sales_20250102_030405"}, h.materializer.dropped)
	assert.Empty(t, h.archive.stored)
}

func TestIngestRetriesTableNameCollision(t *testing.T) {
	h := newHarness(t)
	_, err := h.repo.Create(context.Background(), dataset.CreateInput{Owner: "user-2", TableName: "excel_sales_20250102_030405"})
	require.NoError(t, err)

	ingested, err := h.service.Ingest(context.Background(), "user-1", Upload{Filename: "sales.csv", Content: []byte(salesCSV)})
	require.NoError(t, err)
	assert.Equal(t, "excel_sales_20250102_030406", ingested.TableName)
}

func TestIngestIgnoresArchiveFailure(t *testing.T) {
	h := newHarness(t)
	h.archive.storeErr = errors.New("bucket unavailable")

	_, err := h.service.Ingest(context.Background(), "user-1", Upload{Filename: "sales.csv", Content: []byte(salesCSV)})
	require.NoError(t, err)
	require.Len(t, h.repo.all(), 1)
}

func TestQueryTargetResolution(t *testing.T) {
	h := newHarness(t)

	_, err := h.service.Query(context.Background(), "user-1", QueryRequest{Query: "  "})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = h.service.Query(context.Background(), "user-1", QueryRequest{Query: "total"})
	assert.ErrorIs(t, err, ErrNoDatasets)

	ingested := h.ingest(t, "user-2")

	_, err = h.service.Query(context.Background(), "user-1", QueryRequest{Query: "total", TableName: ingested.TableName})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = h.service.Query(context.Background(), "user-1", QueryRequest{Query: "total", TableName: "excel_missing"})
	assert.ErrorIs(t, err, ErrTableNotFound)

	_, err = h.service.Query(context.Background(), "user-1", QueryRequest{Query: "total"})
	assert.ErrorIs(t, err, ErrNoDatasets)
}

func TestQueryClampsTopKAndNormalizesMode(t *testing.T) {
	h := newHarness(t)
	h.ingest(t, "user-1")

	cases := []struct {
		topK int
		want int
	}{
		{topK: 0, want: 5},
		{topK: -3, want: 5},
		{topK: 7, want: 7},
		{topK: 500, want: 50},
	}
	for _, tc := range cases {
		h.generator.responses = []string{`SELECT "name" FROM "t"`, "answer"}
		result, err := h.service.Query(context.Background(), "user-1", QueryRequest{Query: "list names", TopK: tc.topK, Mode: "hologram"})
		require.NoError(t, err)
		assert.Equal(t, tc.want, h.executor.lastRowCap, "topK %d", tc.topK)
		assert.Equal(t, shape.ModeText, result.Mode)
	}
}

func TestQueryWithoutModel(t *testing.T) {
	h := newHarness(t)
	h.ingest(t, "user-1")
	h.service.Translator = nl2sql.New(nil, database.NewDialect(database.Postgres), nil)

	_, err := h.service.Query(context.Background(), "user-1", QueryRequest{Query: "total"})
	assert.ErrorIs(t, err, ErrModelNotConfigured)
}

func TestQueryTranslationFailure(t *testing.T) {
	h := newHarness(t)
	h.ingest(t, "user-1")
	h.generator.err = errors.New("quota exceeded")

	_, err := h.service.Query(context.Background(), "user-1", QueryRequest{Query: "total"})
	assert.ErrorIs(t, err, ErrTranslationFailed)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestQuerySurfacesExecutionFailure(t *testing.T) {
	h := newHarness(t)
	h.ingest(t, "user-1")
	h.generator.responses = []string{`SELECT "amout" FROM "t"`}
	h.executor.run = func(sql string, _ nl2sql.Plan, _ int) query.Outcome {
		return query.Outcome{Status: query.StatusFailed, SQL: sql, Err: errors.New(`column "amout" does not exist`)}
	}

	result, err := h.service.Query(context.Background(), "user-1", QueryRequest{Query: "amounts"})
	require.NoError(t, err)
	assert.Equal(t, query.StatusFailed, result.Outcome)
	assert.Equal(t, `column "amout" does not exist`, result.ExecutionError)
	assert.NotContains(t, strings.ToLower(result.Answer), "not found")
	assert.Len(t, h.generator.prompts, 1, "no narration call for failures")
}

func TestQueryEmptyResultSaysNotFound(t *testing.T) {
	h := newHarness(t)
	h.ingest(t, "user-1")
	h.generator.responses = []string{`SELECT "name" FROM "t" WHERE "name" = 'Zed'`}
	h.executor.run = func(sql string, _ nl2sql.Plan, _ int) query.Outcome {
		return query.Outcome{Status: query.StatusEmpty, SQL: sql, Result: query.Result{Columns: []string{"name"}}}
	}

	result, err := h.service.Query(context.Background(), "user-1", QueryRequest{Query: "find Zed", Mode: "table"})
	require.NoError(t, err)
	assert.Equal(t, query.StatusEmpty, result.Outcome)
	assert.Equal(t, shape.NotFoundAnswer, result.Answer)
	assert.Empty(t, result.Results)
	assert.Nil(t, result.TableData)
}

func TestQueryGraphAndTableModes(t *testing.T) {
	h := newHarness(t)
	ingested := h.ingest(t, "user-1")
	grouped := func(sql string, _ nl2sql.Plan, _ int) query.Outcome {
		return query.Outcome{Status: query.StatusRows, SQL: sql, Result: query.Result{
			Columns: []string{"name", "total"},
			Rows:    [][]any{{"Asha", int64(100)}, {"Ravi", int64(200)}},
		}}
	}
	h.executor.run = grouped

	h.generator.responses = []string{`SELECT "name", SUM(CAST("amount" AS NUMERIC)) AS total FROM "t" GROUP BY "name"`, "Ravi leads."}
	graph, err := h.service.Query(context.Background(), "user-1", QueryRequest{Query: "total by name", Mode: "graph", TableName: ingested.TableName})
	require.NoError(t, err)
	require.NotNil(t, graph.VisualizationData)
	assert.Equal(t, shape.ChartBar, graph.VisualizationData.ChartType)
	assert.Equal(t, []string{"Asha", "Ravi"}, graph.VisualizationData.Labels)
	assert.Equal(t, "Name", graph.VisualizationData.CategoryLabel)
	assert.Nil(t, graph.TableData)

	h.generator.responses = []string{`SELECT "name", SUM(CAST("amount" AS NUMERIC)) AS total FROM "t" GROUP BY "name"`, "Two rows."}
	table, err := h.service.Query(context.Background(), "user-1", QueryRequest{Query: "total by name", Mode: "table"})
	require.NoError(t, err)
	require.NotNil(t, table.TableData)
	assert.Equal(t, 2, table.TableData.RowCount)
	assert.Equal(t, "Two rows.", table.Answer)
	assert.Nil(t, table.VisualizationData)
}

func TestTranslateDoesNotExecute(t *testing.T) {
	h := newHarness(t)
	h.ingest(t, "user-1")
	h.generator.responses = []string{`SELECT COUNT(*) AS total_count FROM "t"`}

	result, err := h.service.Translate(context.Background(), "user-1", "how many rows", "")
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) AS total_count FROM "t"`, result.SQL)
	assert.Equal(t, nl2sql.ShapeAggregate, result.Plan.Shape)
	assert.Zero(t, h.executor.calls)
}

func TestDeleteDataset(t *testing.T) {
	h := newHarness(t)
	ingested := h.ingest(t, "user-1")

	_, err := h.service.Delete(context.Background(), "user-2", ingested.DatasetID)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, h.materializer.dropped)

	_, err = h.service.Delete(context.Background(), "user-1", "missing")
	assert.ErrorIs(t, err, ErrDatasetNotFound)

	result, err := h.service.Delete(context.Background(), "user-1", ingested.DatasetID)
	require.NoError(t, err)
	assert.True(t, result.TableDropped)
	assert.Empty(t, h.repo.all())
	assert.Equal(t, []string{ingested.TableName}, h.archive.removed)
}

func TestDeleteMarksDroppedWhenDropFails(t *testing.T) {
	h := newHarness(t)
	ingested := h.ingest(t, "user-1")
	h.materializer.dropErr = errors.New("table locked")

	result, err := h.service.Delete(context.Background(), "user-1", ingested.DatasetID)
	require.NoError(t, err)
	assert.False(t, result.TableDropped)
	assert.Equal(t, "table locked", result.DropError)

	all := h.repo.all()
	require.Len(t, all, 1)
	assert.Equal(t, dataset.StateDropped, all[0].State)

	_, err = h.service.Delete(context.Background(), "user-1", ingested.DatasetID)
	assert.ErrorIs(t, err, ErrDatasetNotFound, "dropped datasets are invisible")

	listed, err := h.service.List(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestListAndSchema(t *testing.T) {
	h := newHarness(t)
	first := h.ingest(t, "user-1")
	h.clock = h.clock.Add(time.Minute)
	second := h.ingest(t, "user-1")
	h.ingest(t, "user-2")

	listed, err := h.service.List(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, second.TableName, listed[0].TableName)
	assert.Equal(t, first.TableName, listed[1].TableName)
	assert.Equal(t, []string{"Name", "Amount"}, listed[0].Columns)

	schema, err := h.service.Schema(context.Background(), "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, second.TableName, schema.TableName)
	assert.Contains(t, schema.Schema, `- amount (TEXT) [original label: "Amount"]`)
}

type harness struct {
	service      *Service
	repo         *memoryRepo
	materializer *fakeMaterializer
	executor     *fakeExecutor
	generator    *scriptedGenerator
	archive      *fakeArchive
	clock        time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:         &memoryRepo{},
		materializer: &fakeMaterializer{tables: map[string][][]any{}},
		executor:     &fakeExecutor{},
		generator:    &scriptedGenerator{},
		archive:      &fakeArchive{},
		clock:        fixedNow,
	}
	h.repo.now = func() time.Time { return h.clock }
	dialect := database.NewDialect(database.Postgres)
	h.service = &Service{
		Datasets:     h.repo,
		Materializer: h.materializer,
		Introspector: fakeIntrospector{},
		Translator:   nl2sql.New(h.generator, dialect, nil),
		Executor:     h.executor,
		Narrator:     shape.NewNarrator(h.generator, nil),
		Archive:      h.archive,
		Clock:        func() time.Time { return h.clock },
	}
	return h
}

func (h *harness) ingest(t *testing.T, owner string) IngestResult {
	t.Helper()
	result, err := h.service.Ingest(context.Background(), owner, Upload{Filename: "sales.csv", Content: []byte(salesCSV)})
	require.NoError(t, err)
	h.clock = h.clock.Add(time.Second)
	return result
}

type scriptedGenerator struct {
	responses []string
	prompts   []string
	err       error
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	if len(g.responses) == 0 {
		return "ok", nil
	}
	next := g.responses[0]
	g.responses = g.responses[1:]
	return next, nil
}

type fakeExecutor struct {
	run        func(sql string, plan nl2sql.Plan, rowCap int) query.Outcome
	lastRowCap int
	calls      int
}

func (e *fakeExecutor) Execute(_ context.Context, sql string, plan nl2sql.Plan, rowCap int) query.Outcome {
	e.calls++
	e.lastRowCap = rowCap
	if e.run != nil {
		return e.run(sql, plan, rowCap)
	}
	return query.Outcome{Status: query.StatusRows, SQL: sql, Result: query.Result{
		Columns: []string{"name"},
		Rows:    [][]any{{"Asha"}},
	}}
}

type fakeMaterializer struct {
	mu        sync.Mutex
	tables    map[string][][]any
	dropped   []string
	insertErr error
	dropErr   error
}

func (m *fakeMaterializer) CreateTable(_ context.Context, table string, _ []ident.ColumnMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table] = nil
	return nil
}

func (m *fakeMaterializer) InsertRows(_ context.Context, table string, _ []ident.ColumnMapping, rows [][]any) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	m.tables[table] = append(m.tables[table], rows...)
	return len(rows), nil
}

func (m *fakeMaterializer) DropTable(_ context.Context, table string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dropErr != nil {
		return m.dropErr
	}
	delete(m.tables, table)
	m.dropped = append(m.dropped, table)
	return nil
}

func (m *fakeMaterializer) rows(table string) [][]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tables[table]
}

type fakeIntrospector struct{}

func (fakeIntrospector) Describe(_ context.Context, table string, mapping []ident.ColumnMapping) introspect.Description {
	desc := introspect.Description{Table: table}
	for _, column := range mapping {
		desc.Columns = append(desc.Columns, introspect.Column{Name: column.Identifier, Type: "TEXT", Label: column.Original})
	}
	return desc
}

type fakeArchive struct {
	stored   []archive.Snapshot
	removed  []string
	storeErr error
}

func (a *fakeArchive) Store(_ context.Context, snap archive.Snapshot) error {
	if a.storeErr != nil {
		return a.storeErr
	}
	a.stored = append(a.stored, snap)
	return nil
}

func (a *fakeArchive) Remove(_ context.Context, _, tableName string) error {
	a.removed = append(a.removed, tableName)
	return nil
}

type memoryRepo struct {
	mu       sync.Mutex
	datasets []dataset.Dataset
	now      func() time.Time
}

func (r *memoryRepo) HealthCheck(context.Context) error { return nil }

func (r *memoryRepo) Create(_ context.Context, in dataset.CreateInput) (dataset.Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ds := range r.datasets {
		if ds.TableName == in.TableName {
			return dataset.Dataset{}, dataset.ErrTableNameUsed
		}
	}
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	ds := dataset.Dataset{
		ID:        id,
		Owner:     in.Owner,
		Filename:  in.Filename,
		TableName: in.TableName,
		Columns:   in.Columns,
		State:     dataset.StateMaterializing,
		CreatedAt: r.now(),
		UpdatedAt: r.now(),
	}
	r.datasets = append(r.datasets, ds)
	return ds, nil
}

func (r *memoryRepo) update(id string, fn func(*dataset.Dataset)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.datasets {
		if r.datasets[i].ID == id {
			fn(&r.datasets[i])
			r.datasets[i].UpdatedAt = r.now()
			return nil
		}
	}
	return dataset.ErrNotFound
}

func (r *memoryRepo) MarkReady(_ context.Context, id string, rowCount int) error {
	return r.update(id, func(ds *dataset.Dataset) {
		ds.State = dataset.StateReady
		ds.RowCount = rowCount
	})
}

func (r *memoryRepo) MarkDropped(_ context.Context, id string) error {
	return r.update(id, func(ds *dataset.Dataset) { ds.State = dataset.StateDropped })
}

func (r *memoryRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, ds := range r.datasets {
		if ds.ID == id {
			r.datasets = append(r.datasets[:i], r.datasets[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) find(match func(dataset.Dataset) bool) (dataset.Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ds := range r.datasets {
		if ds.State != dataset.StateDropped && match(ds) {
			return ds, nil
		}
	}
	return dataset.Dataset{}, dataset.ErrNotFound
}

func (r *memoryRepo) GetByID(_ context.Context, id string) (dataset.Dataset, error) {
	return r.find(func(ds dataset.Dataset) bool { return ds.ID == id })
}

func (r *memoryRepo) GetByTableName(_ context.Context, tableName string) (dataset.Dataset, error) {
	return r.find(func(ds dataset.Dataset) bool { return ds.TableName == tableName })
}

func (r *memoryRepo) Latest(ctx context.Context, owner string) (dataset.Dataset, error) {
	list, _ := r.List(ctx, owner)
	if len(list) == 0 {
		return dataset.Dataset{}, dataset.ErrNotFound
	}
	return list[0], nil
}

func (r *memoryRepo) List(_ context.Context, owner string) ([]dataset.Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]dataset.Dataset, 0)
	for _, ds := range r.datasets {
		if ds.Owner == owner && ds.State == dataset.StateReady {
			out = append(out, ds)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepo) ListByState(_ context.Context, state dataset.State, updatedBefore time.Time) ([]dataset.Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]dataset.Dataset, 0)
	for _, ds := range r.datasets {
		if ds.State == state && ds.UpdatedAt.Before(updatedBefore) {
			out = append(out, ds)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListTableNames(context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.datasets))
	for _, ds := range r.datasets {
		out = append(out, ds.TableName)
	}
	return out, nil
}

func (r *memoryRepo) all() []dataset.Dataset {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dataset.Dataset(nil), r.datasets...)
}
