package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/altiviz/datachat/internal/storage"
)

// AnalyticTables is the DuckDB-side table surface the importer needs.
type AnalyticTables interface {
	CreateDatasetTable(ctx context.Context, tableName string, columns []storage.ColumnSpec, rows [][]string) error
	DropDatasetTable(ctx context.Context, tableName string) error
}

// DatasetRepo is the registry plus the relational-fallback table surface.
type DatasetRepo interface {
	RegisterDataset(ctx context.Context, ds *storage.Dataset) error
	GetDataset(ctx context.Context, id uuid.UUID) (*storage.Dataset, error)
	DeleteDataset(ctx context.Context, id uuid.UUID) error
	CreateFallbackTable(ctx context.Context, tableName string, columns []storage.ColumnSpec, rows [][]string) error
	DropFallbackTable(ctx context.Context, tableName string) error
}

// Importer loads tabular uploads into a queryable engine table and
// registers them as datasets.
type Importer struct {
	datasets DatasetRepo
	analytic AnalyticTables // nil forces the relational fallback
	logger   *slog.Logger
}

// NewImporter wires a dataset importer. analytic may be nil.
func NewImporter(datasets DatasetRepo, analytic AnalyticTables, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		datasets: datasets,
		analytic: analytic,
		logger:   logger.With("component", "dataset_importer"),
	}
}

// ImportCSV parses CSV bytes, infers column types from the data, loads
// the rows into the analytic engine (relational on failure), and
// registers the dataset. Column types are inferred exactly once, here;
// they are never revised afterwards.
func (im *Importer) ImportCSV(ctx context.Context, name string, data []byte) (*storage.Dataset, error) {
	header, rows, err := parseCSV(data)
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	columns := make([]storage.ColumnSpec, len(header))
	for i, raw := range header {
		columns[i] = storage.ColumnSpec{
			Name: storage.SanitizeIdentifier(raw),
			Type: inferColumnType(rows, i),
		}
	}

	tableName := storage.DatasetTableName(name)
	engine, err := im.createTable(ctx, tableName, columns, rows)
	if err != nil {
		return nil, err
	}

	columnsJSON, err := storage.MarshalColumns(columns)
	if err != nil {
		im.dropTable(ctx, engine, tableName)
		return nil, fmt.Errorf("encode columns: %w", err)
	}

	ds := &storage.Dataset{
		ID:        uuid.New(),
		Name:      name,
		DataType:  storage.DataStructured,
		RowCount:  len(rows),
		Columns:   columnsJSON,
		Engine:    engine,
		TableName: tableName,
	}
	if err := im.datasets.RegisterDataset(ctx, ds); err != nil {
		im.dropTable(ctx, engine, tableName)
		return nil, fmt.Errorf("register dataset: %w", err)
	}

	im.logger.Info("dataset imported",
		"name", name, "table", tableName, "engine", engine, "rows", len(rows))
	return ds, nil
}

// DeleteDataset removes the registry row and drops the backing table.
func (im *Importer) DeleteDataset(ctx context.Context, id uuid.UUID) error {
	ds, err := im.datasets.GetDataset(ctx, id)
	if err != nil {
		return err
	}
	if err := im.datasets.DeleteDataset(ctx, id); err != nil {
		return err
	}
	im.dropTable(ctx, ds.Engine, ds.TableName)
	return nil
}

// createTable prefers the analytic engine and falls back to a relational
// table when it fails or is absent. Returns the engine that holds the table.
func (im *Importer) createTable(ctx context.Context, tableName string, columns []storage.ColumnSpec, rows [][]string) (storage.DatasetEngine, error) {
	if im.analytic != nil {
		err := im.analytic.CreateDatasetTable(ctx, tableName, columns, rows)
		if err == nil {
			return storage.EngineAnalytic, nil
		}
		im.logger.Warn("analytic table creation failed, falling back to relational",
			"table", tableName, "error", err)
	}
	if err := im.datasets.CreateFallbackTable(ctx, tableName, columns, rows); err != nil {
		return "", fmt.Errorf("create fallback table: %w", err)
	}
	return storage.EngineRelational, nil
}

func (im *Importer) dropTable(ctx context.Context, engine storage.DatasetEngine, tableName string) {
	var err error
	if engine == storage.EngineAnalytic && im.analytic != nil {
		err = im.analytic.DropDatasetTable(ctx, tableName)
	} else {
		err = im.datasets.DropFallbackTable(ctx, tableName)
	}
	if err != nil {
		im.logger.Warn("failed to drop dataset table", "table", tableName, "error", err)
	}
}

func parseCSV(data []byte) (header []string, rows [][]string, err error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) < 1 || len(records[0]) == 0 {
		return nil, nil, fmt.Errorf("csv has no header row")
	}
	if len(records) < 2 {
		return nil, nil, fmt.Errorf("csv has no data rows")
	}
	return records[0], records[1:], nil
}

// inferColumnType scans a column's non-empty values. The column gets the
// narrowest type every value satisfies; any disagreement means text.
// Each check uses the same parser the stores bind cells with, so a type
// endorsed here is always insertable.
func inferColumnType(rows [][]string, col int) storage.ColumnType {
	seen := false
	isNumber, isDate, isBool := true, true, true

	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[col])
		if v == "" {
			continue
		}
		seen = true

		if isNumber {
			if _, ok := storage.ParseDatasetNumber(v); !ok {
				isNumber = false
			}
		}
		if isBool && !isBooleanValue(v) {
			isBool = false
		}
		if isDate && !isDateValue(v) {
			isDate = false
		}
		if !isNumber && !isDate && !isBool {
			return storage.ColumnText
		}
	}

	switch {
	case !seen:
		return storage.ColumnText
	case isBool:
		return storage.ColumnBoolean
	case isDate:
		return storage.ColumnDate
	case isNumber:
		return storage.ColumnNumber
	default:
		return storage.ColumnText
	}
}

func isBooleanValue(v string) bool {
	_, ok := storage.ParseDatasetBool(v)
	return ok
}

func isDateValue(v string) bool {
	_, ok := storage.ParseDatasetTime(v)
	return ok
}
