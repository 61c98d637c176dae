package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"
)

// AnalyticDB wraps the embedded DuckDB instance used as the columnar
// analytic engine for structured datasets.
type AnalyticDB struct {
	*sql.DB
	path string
}

// NewAnalyticDB opens (or creates) the DuckDB database. An empty path
// opens an in-memory instance.
func NewAnalyticDB(path string) (*AnalyticDB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open analytic engine: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping analytic engine: %w", err)
	}
	return &AnalyticDB{DB: db, path: path}, nil
}

// Close closes the DuckDB handle.
func (a *AnalyticDB) Close() error {
	return a.DB.Close()
}

// Health checks engine availability.
func (a *AnalyticDB) Health(ctx context.Context) error {
	return a.PingContext(ctx)
}

// Execute runs a generated query and returns coerced rows. Implements the
// Engine contract.
func (a *AnalyticDB) Execute(ctx context.Context, query string) ([]map[string]any, error) {
	rows, err := a.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// CreateDatasetTable creates a dataset table and loads its rows. The
// table name and column names are sanitized before interpolation.
func (a *AnalyticDB) CreateDatasetTable(ctx context.Context, tableName string, columns []ColumnSpec, rows [][]string) error {
	ddl, err := buildCreateTable(tableName, columns, duckdbColumnType)
	if err != nil {
		return err
	}

	tx, err := a.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin analytic transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create dataset table: %w", err)
	}

	insert := buildInsert(tableName, columns, func(int) string { return "?" })
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("failed to prepare dataset insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, rowArgs(row, columns)...); err != nil {
			return fmt.Errorf("failed to insert dataset row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dataset table: %w", err)
	}
	return nil
}

// DropDatasetTable drops a dataset table if present.
func (a *AnalyticDB) DropDatasetTable(ctx context.Context, tableName string) error {
	if !strings.HasPrefix(tableName, DatasetTablePrefix) {
		return fmt.Errorf("refusing to drop non-dataset table %q", tableName)
	}
	_, err := a.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, QuoteIdentifier(tableName)))
	return err
}

// TableNames lists dataset tables currently present in the engine.
func (a *AnalyticDB) TableNames(ctx context.Context) ([]string, error) {
	rows, err := a.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_name LIKE ?`,
		DatasetTablePrefix+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list analytic tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func duckdbColumnType(t ColumnType) string {
	switch t {
	case ColumnNumber:
		return "DOUBLE"
	case ColumnDate:
		return "TIMESTAMP"
	case ColumnBoolean:
		return "BOOLEAN"
	default:
		return "VARCHAR"
	}
}
