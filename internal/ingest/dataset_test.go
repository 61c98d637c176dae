package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altiviz/datachat/internal/storage"
)

type mockAnalyticTables struct {
	createErr error
	created   map[string][]storage.ColumnSpec
	dropped   []string
	rows      int
}

func (m *mockAnalyticTables) CreateDatasetTable(ctx context.Context, tableName string, columns []storage.ColumnSpec, rows [][]string) error {
	if m.createErr != nil {
		return m.createErr
	}
	if m.created == nil {
		m.created = map[string][]storage.ColumnSpec{}
	}
	m.created[tableName] = columns
	m.rows = len(rows)
	return nil
}

func (m *mockAnalyticTables) DropDatasetTable(ctx context.Context, tableName string) error {
	m.dropped = append(m.dropped, tableName)
	return nil
}

type mockDatasetRepo struct {
	registered      *storage.Dataset
	registerErr     error
	stored          map[uuid.UUID]*storage.Dataset
	fallbackCreated []string
	fallbackDropped []string
}

func (m *mockDatasetRepo) RegisterDataset(ctx context.Context, ds *storage.Dataset) error {
	if m.registerErr != nil {
		return m.registerErr
	}
	m.registered = ds
	return nil
}

func (m *mockDatasetRepo) GetDataset(ctx context.Context, id uuid.UUID) (*storage.Dataset, error) {
	ds, ok := m.stored[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return ds, nil
}

func (m *mockDatasetRepo) DeleteDataset(ctx context.Context, id uuid.UUID) error {
	delete(m.stored, id)
	return nil
}

func (m *mockDatasetRepo) CreateFallbackTable(ctx context.Context, tableName string, columns []storage.ColumnSpec, rows [][]string) error {
	m.fallbackCreated = append(m.fallbackCreated, tableName)
	return nil
}

func (m *mockDatasetRepo) DropFallbackTable(ctx context.Context, tableName string) error {
	m.fallbackDropped = append(m.fallbackDropped, tableName)
	return nil
}

const productsCSV = `Name,Unit Price ($),In Stock,Added
Widget,9.99,true,2024-01-15
Gadget,24.50,false,2024-02-01
Sprocket,1.25,true,2024-03-10
Gizmo,105.00,true,2024-04-02
`

func TestImportCSVAnalytic(t *testing.T) {
	repo := &mockDatasetRepo{}
	analytic := &mockAnalyticTables{}
	im := NewImporter(repo, analytic, nil)

	ds, err := im.ImportCSV(context.Background(), "products", []byte(productsCSV))
	require.NoError(t, err)

	assert.Equal(t, "products", ds.Name)
	assert.Equal(t, "ds_products", ds.TableName)
	assert.Equal(t, storage.EngineAnalytic, ds.Engine)
	assert.Equal(t, storage.DataStructured, ds.DataType)
	assert.Equal(t, 4, ds.RowCount)
	assert.Equal(t, 4, analytic.rows)
	assert.Empty(t, repo.fallbackCreated)

	specs, err := ds.ColumnSpecs()
	require.NoError(t, err)
	assert.Equal(t, []storage.ColumnSpec{
		{Name: "name", Type: storage.ColumnText},
		{Name: "unit_price", Type: storage.ColumnNumber},
		{Name: "in_stock", Type: storage.ColumnBoolean},
		{Name: "added", Type: storage.ColumnDate},
	}, specs)
}

func TestImportCSVFallsBackToRelational(t *testing.T) {
	repo := &mockDatasetRepo{}
	analytic := &mockAnalyticTables{createErr: errors.New("database is locked")}
	im := NewImporter(repo, analytic, nil)

	ds, err := im.ImportCSV(context.Background(), "products", []byte(productsCSV))
	require.NoError(t, err)

	assert.Equal(t, storage.EngineRelational, ds.Engine)
	assert.Equal(t, []string{"ds_products"}, repo.fallbackCreated)
}

func TestImportCSVNoAnalyticEngine(t *testing.T) {
	repo := &mockDatasetRepo{}
	im := NewImporter(repo, nil, nil)

	ds, err := im.ImportCSV(context.Background(), "products", []byte(productsCSV))
	require.NoError(t, err)
	assert.Equal(t, storage.EngineRelational, ds.Engine)
}

func TestImportCSVRegisterFailureDropsTable(t *testing.T) {
	repo := &mockDatasetRepo{registerErr: errors.New("duplicate name")}
	analytic := &mockAnalyticTables{}
	im := NewImporter(repo, analytic, nil)

	_, err := im.ImportCSV(context.Background(), "products", []byte(productsCSV))
	require.Error(t, err)
	assert.Equal(t, []string{"ds_products"}, analytic.dropped)
}

func TestImportCSVRejectsEmpty(t *testing.T) {
	im := NewImporter(&mockDatasetRepo{}, &mockAnalyticTables{}, nil)

	_, err := im.ImportCSV(context.Background(), "empty", []byte(""))
	assert.Error(t, err)

	_, err = im.ImportCSV(context.Background(), "headeronly", []byte("a,b,c\n"))
	assert.Error(t, err)
}

func TestDeleteDatasetDropsEngineTable(t *testing.T) {
	analyticDS := &storage.Dataset{
		ID: uuid.New(), Name: "sales", TableName: "ds_sales",
		Engine: storage.EngineAnalytic,
	}
	relationalDS := &storage.Dataset{
		ID: uuid.New(), Name: "staff", TableName: "ds_staff",
		Engine: storage.EngineRelational,
	}
	repo := &mockDatasetRepo{stored: map[uuid.UUID]*storage.Dataset{
		analyticDS.ID:   analyticDS,
		relationalDS.ID: relationalDS,
	}}
	analytic := &mockAnalyticTables{}
	im := NewImporter(repo, analytic, nil)

	require.NoError(t, im.DeleteDataset(context.Background(), analyticDS.ID))
	assert.Equal(t, []string{"ds_sales"}, analytic.dropped)

	require.NoError(t, im.DeleteDataset(context.Background(), relationalDS.ID))
	assert.Equal(t, []string{"ds_staff"}, repo.fallbackDropped)

	err := im.DeleteDataset(context.Background(), uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInferColumnType(t *testing.T) {
	cases := []struct {
		name   string
		values []string
		want   storage.ColumnType
	}{
		{"integers", []string{"1", "2", "300"}, storage.ColumnNumber},
		{"floats with thousands separators", []string{"1,200.50", "9.99"}, storage.ColumnNumber},
		{"booleans", []string{"true", "FALSE", "yes"}, storage.ColumnBoolean},
		{"iso dates", []string{"2024-01-15", "2023-12-31"}, storage.ColumnDate},
		{"mixed falls back to text", []string{"1", "hello"}, storage.ColumnText},
		{"empty values ignored", []string{"", "42", ""}, storage.ColumnNumber},
		{"all empty is text", []string{"", ""}, storage.ColumnText},
		{"plain words", []string{"alpha", "beta"}, storage.ColumnText},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rows := make([][]string, len(tc.values))
			for i, v := range tc.values {
				rows[i] = []string{v}
			}
			assert.Equal(t, tc.want, inferColumnType(rows, 0))
		})
	}
}
