package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/sheetqa/sheetqa/internal/ident"
	"github.com/sheetqa/sheetqa/internal/storage"
)

func TestEncodeRowsLongFormat(t *testing.T) {
	columns := ident.MapColumns([]string{"Name", "Amount"})
	data, err := EncodeRows(columns, [][]any{
		{"Asha", int64(500)},
		{"Ravi", nil},
	})
	if err != nil {
		t.Fatalf("EncodeRows() error = %v", err)
	}

	reader := parquet.NewGenericReader[Cell](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()
	cells := make([]Cell, 4)
	count, err := reader.Read(cells)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("reader.Read() error = %v", err)
	}
	if count != 4 {
		t.Fatalf("read cells = %d", count)
	}
	if cells[1].RowIndex != 0 || cells[1].Column != "amount" || cells[1].OriginalColumn != "Amount" {
		t.Fatalf("unexpected cell: %+v", cells[1])
	}
	if cells[1].Value == nil || *cells[1].Value != "500" {
		t.Fatalf("unexpected amount value: %+v", cells[1].Value)
	}
	if cells[3].RowIndex != 1 || cells[3].Value != nil {
		t.Fatalf("expected null amount on row 1: %+v", cells[3])
	}
}

func TestStoreWritesSourceAndSnapshot(t *testing.T) {
	store := newMemoryStore()
	a := New(store, nil)

	err := a.Store(context.Background(), Snapshot{
		Owner:     "user-1",
		TableName: "excel_sales_20250101_000000",
		Filename:  "sales.csv",
		Content:   []byte("Name,Amount\nAsha,500\n"),
		Columns:   ident.MapColumns([]string{"Name", "Amount"}),
		Rows:      [][]any{{"Asha", int64(500)}},
	})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	keys := store.keys()
	want := []string{
		"user-1/excel_sales_20250101_000000/rows.parquet",
		"user-1/excel_sales_20250101_000000/source/sales.csv",
	}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Fatalf("stored keys = %v, want %v", keys, want)
	}
	if store.contentTypes["user-1/excel_sales_20250101_000000/source/sales.csv"] != "text/csv" {
		t.Fatalf("unexpected source content type %q", store.contentTypes["user-1/excel_sales_20250101_000000/source/sales.csv"])
	}
	meta := store.metadata["user-1/excel_sales_20250101_000000/rows.parquet"]
	if meta[storage.MetaOwner] != "user-1" || meta[storage.MetaFilename] != "sales.csv" {
		t.Fatalf("unexpected snapshot metadata %v", meta)
	}
}

func TestStoreRejectsInvalidOwner(t *testing.T) {
	a := New(newMemoryStore(), nil)
	err := a.Store(context.Background(), Snapshot{Owner: "../x", TableName: "excel_t", Filename: "a.csv"})
	if err == nil {
		t.Fatal("expected invalid owner error")
	}
}

func TestRemoveDeletesPrefix(t *testing.T) {
	store := newMemoryStore()
	store.objects["user-1/excel_a/rows.parquet"] = nil
	store.objects["user-1/excel_a/source/a.csv"] = nil
	store.objects["user-1/excel_b/rows.parquet"] = nil

	if err := New(store, nil).Remove(context.Background(), "user-1", "excel_a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if keys := store.keys(); len(keys) != 1 || keys[0] != "user-1/excel_b/rows.parquet" {
		t.Fatalf("remaining keys = %v", keys)
	}
}

func TestRemoveDoesNotMatchLongerTableNames(t *testing.T) {
	store := newMemoryStore()
	store.objects["user-1/excel_a/rows.parquet"] = nil
	store.objects["user-1/excel_ab/rows.parquet"] = nil

	if err := New(store, nil).Remove(context.Background(), "user-1", "excel_a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if keys := store.keys(); len(keys) != 1 || keys[0] != "user-1/excel_ab/rows.parquet" {
		t.Fatalf("remaining keys = %v", keys)
	}
}

func TestRemoveWrapsStoreError(t *testing.T) {
	store := newMemoryStore()
	store.removeErr = errors.New("access denied")
	err := New(store, nil).Remove(context.Background(), "user-1", "excel_a")
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Fatalf("Remove() error = %v", err)
	}
}

type memoryStore struct {
	objects      map[string][]byte
	contentTypes map[string]string
	metadata     map[string]map[string]string
	removeErr    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		objects:      map[string][]byte{},
		contentTypes: map[string]string{},
		metadata:     map[string]map[string]string{},
	}
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.objects[key] = data
	m.contentTypes[key] = opts.ContentType
	m.metadata[key] = opts.Metadata
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) RemovePrefix(_ context.Context, prefix string) (int, error) {
	if m.removeErr != nil {
		return 0, m.removeErr
	}
	removed := 0
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			delete(m.objects, key)
			removed++
		}
	}
	return removed, nil
}

func (m *memoryStore) Ping(context.Context) error { return nil }

func (m *memoryStore) keys() []string {
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
