package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DatasetStore persists the dataset registry and owns the relational
// fallback tables for datasets the analytic engine refused.
type DatasetStore struct {
	db *PostgresDB
}

// NewDatasetStore creates a dataset store backed by Postgres.
func NewDatasetStore(db *PostgresDB) *DatasetStore {
	return &DatasetStore{db: db}
}

// RegisterDataset records a newly ingested dataset.
func (s *DatasetStore) RegisterDataset(ctx context.Context, ds *Dataset) error {
	if ds.ID == uuid.Nil {
		ds.ID = uuid.New()
	}
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO datasets (id, name, data_type, row_count, columns, engine, table_name, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ds.ID, ds.Name, ds.DataType, ds.RowCount, ds.Columns, ds.Engine, ds.TableName, ds.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to register dataset: %w", err)
	}
	return nil
}

// GetDataset fetches a dataset by ID.
func (s *DatasetStore) GetDataset(ctx context.Context, id uuid.UUID) (*Dataset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, data_type, row_count, columns, engine, table_name, created_at
		 FROM datasets WHERE id = $1`, id,
	)
	var d Dataset
	err := row.Scan(&d.ID, &d.Name, &d.DataType, &d.RowCount, &d.Columns, &d.Engine, &d.TableName, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dataset: %w", err)
	}
	return &d, nil
}

// ListDatasets returns all registered datasets, newest first.
func (s *DatasetStore) ListDatasets(ctx context.Context) ([]Dataset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, data_type, row_count, columns, engine, table_name, created_at
		 FROM datasets ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	var datasets []Dataset
	for rows.Next() {
		var d Dataset
		if err := rows.Scan(&d.ID, &d.Name, &d.DataType, &d.RowCount, &d.Columns,
			&d.Engine, &d.TableName, &d.CreatedAt); err != nil {
			return nil, err
		}
		datasets = append(datasets, d)
	}
	return datasets, rows.Err()
}

// DeleteDataset removes the registry row. The caller is responsible for
// dropping the backing engine table first.
func (s *DatasetStore) DeleteDataset(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM datasets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	return requireRow(res)
}

// CreateFallbackTable creates a relational table for a dataset when
// analytic ingestion failed, and loads its rows.
func (s *DatasetStore) CreateFallbackTable(ctx context.Context, tableName string, columns []ColumnSpec, rows [][]string) error {
	ddl, err := buildCreateTable(tableName, columns, postgresColumnType)
	if err != nil {
		return err
	}
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create fallback table: %w", err)
		}
		insert := buildInsert(tableName, columns, func(i int) string {
			return fmt.Sprintf("$%d", i+1)
		})
		stmt, err := tx.PrepareContext(ctx, insert)
		if err != nil {
			return fmt.Errorf("failed to prepare fallback insert: %w", err)
		}
		defer stmt.Close()
		for _, row := range rows {
			args := rowArgs(row, columns)
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("failed to insert fallback row: %w", err)
			}
		}
		return nil
	})
}

// DropFallbackTable drops a relational dataset table.
func (s *DatasetStore) DropFallbackTable(ctx context.Context, tableName string) error {
	if !strings.HasPrefix(tableName, DatasetTablePrefix) {
		return fmt.Errorf("refusing to drop non-dataset table %q", tableName)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, QuoteIdentifier(tableName)))
	return err
}

// BuiltinTables lists the fixed application tables exposed to the query
// generator, with column names and types from the catalog.
func (s *DatasetStore) BuiltinTables(ctx context.Context) (map[string][]ColumnSpec, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT table_name, column_name, data_type
		 FROM information_schema.columns
		 WHERE table_schema = 'public' AND table_name IN ('documents', 'datasets')
		 ORDER BY table_name, ordinal_position`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect builtin tables: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]ColumnSpec)
	for rows.Next() {
		var table, column, dataType string
		if err := rows.Scan(&table, &column, &dataType); err != nil {
			return nil, err
		}
		out[table] = append(out[table], ColumnSpec{Name: column, Type: semanticType(dataType)})
	}
	return out, rows.Err()
}

func semanticType(pgType string) ColumnType {
	switch {
	case strings.Contains(pgType, "int"), strings.Contains(pgType, "numeric"),
		strings.Contains(pgType, "double"), strings.Contains(pgType, "real"):
		return ColumnNumber
	case strings.Contains(pgType, "timestamp"), strings.Contains(pgType, "date"):
		return ColumnDate
	case strings.Contains(pgType, "bool"):
		return ColumnBoolean
	default:
		return ColumnText
	}
}

// MarshalColumns encodes column specs for the registry row.
func MarshalColumns(specs []ColumnSpec) (json.RawMessage, error) {
	raw, err := json.Marshal(specs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode column schema: %w", err)
	}
	return raw, nil
}

func postgresColumnType(t ColumnType) string {
	switch t {
	case ColumnNumber:
		return "DOUBLE PRECISION"
	case ColumnDate:
		return "TIMESTAMPTZ"
	case ColumnBoolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

// buildCreateTable renders CREATE TABLE DDL with sanitized, quoted
// identifiers only.
func buildCreateTable(tableName string, columns []ColumnSpec, typeFor func(ColumnType) string) (string, error) {
	if len(columns) == 0 {
		return "", fmt.Errorf("dataset has no columns")
	}
	defs := make([]string, 0, len(columns))
	for _, col := range columns {
		defs = append(defs, fmt.Sprintf("%s %s", QuoteIdentifier(SanitizeIdentifier(col.Name)), typeFor(col.Type)))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", QuoteIdentifier(tableName), strings.Join(defs, ", ")), nil
}

// buildInsert renders a parameterized INSERT for the dataset columns.
func buildInsert(tableName string, columns []ColumnSpec, placeholder func(int) string) string {
	names := make([]string, 0, len(columns))
	params := make([]string, 0, len(columns))
	for i, col := range columns {
		names = append(names, QuoteIdentifier(SanitizeIdentifier(col.Name)))
		params = append(params, placeholder(i))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdentifier(tableName), strings.Join(names, ", "), strings.Join(params, ", "))
}

// DatasetDateLayouts are the date formats dataset type inference accepts.
// Cells matching one of these are bound as time.Time so both engines
// parse them regardless of the source formatting.
var DatasetDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01/02/2006",
	"02.01.2006",
}

// ParseDatasetNumber parses a numeric cell, tolerating thousands
// separators ("1,234.5").
func ParseDatasetNumber(v string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
	return f, err == nil
}

// ParseDatasetTime parses a date cell against DatasetDateLayouts.
func ParseDatasetTime(v string) (time.Time, bool) {
	for _, layout := range DatasetDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseDatasetBool parses a boolean cell (true/false/yes/no).
func ParseDatasetBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "true", "yes":
		return true, true
	case "false", "no":
		return false, true
	}
	return false, false
}

// rowArgs pads or truncates a raw row to the column count and converts
// each cell to the Go type its column was inferred as, so the raw source
// formatting ("1,234", "01/02/2006") never reaches the engines. Empty
// cells become NULLs.
func rowArgs(row []string, columns []ColumnSpec) []any {
	args := make([]any, len(columns))
	for i := range columns {
		if i >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[i])
		if v == "" {
			continue
		}
		args[i] = normalizeCell(v, columns[i].Type)
	}
	return args
}

// normalizeCell converts a non-empty cell to the column's bind type.
// A cell the inference pass would not have endorsed falls back to NULL
// rather than poisoning the whole insert.
func normalizeCell(v string, t ColumnType) any {
	switch t {
	case ColumnNumber:
		if f, ok := ParseDatasetNumber(v); ok {
			return f
		}
		return nil
	case ColumnDate:
		if ts, ok := ParseDatasetTime(v); ok {
			return ts
		}
		return nil
	case ColumnBoolean:
		if b, ok := ParseDatasetBool(v); ok {
			return b
		}
		return nil
	default:
		return v
	}
}
