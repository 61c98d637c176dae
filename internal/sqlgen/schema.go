// Package sqlgen turns natural-language questions into executable SQL,
// validates and repairs generated queries, and routes them to the right
// storage engine.
package sqlgen

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/altiviz/datachat/internal/storage"
)

// DatasetCatalog lists registered datasets.
type DatasetCatalog interface {
	ListDatasets(ctx context.Context) ([]storage.Dataset, error)
}

// BuiltinCatalog describes the fixed application tables.
type BuiltinCatalog interface {
	BuiltinTables(ctx context.Context) (map[string][]storage.ColumnSpec, error)
}

// Schema is the introspected description handed to the query generator.
type Schema struct {
	Text           string
	AnalyticTables []string
	DatasetNames   []string
	// datasets keeps decoded specs for fallback query construction.
	datasets []describedDataset
}

type describedDataset struct {
	name      string
	tableName string
	engine    storage.DatasetEngine
	columns   []storage.ColumnSpec
}

// Introspector builds schema descriptions.
type Introspector struct {
	datasets DatasetCatalog
	builtins BuiltinCatalog
	logger   *slog.Logger
}

// NewIntrospector creates a schema introspector.
func NewIntrospector(datasets DatasetCatalog, builtins BuiltinCatalog, logger *slog.Logger) *Introspector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Introspector{
		datasets: datasets,
		builtins: builtins,
		logger:   logger.With("component", "introspector"),
	}
}

// Describe renders the queryable schema: fixed built-in tables plus every
// registered dataset, branching per backing engine. A dataset with
// unparseable column metadata is skipped, never fatal.
func (in *Introspector) Describe(ctx context.Context) (*Schema, error) {
	var b strings.Builder
	schema := &Schema{}

	b.WriteString("Available tables and columns:\n\n")

	if in.builtins != nil {
		builtins, err := in.builtins.BuiltinTables(ctx)
		if err != nil {
			in.logger.Warn("builtin table introspection failed", "error", err)
		} else {
			names := make([]string, 0, len(builtins))
			for name := range builtins {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				writeTable(&b, name, builtins[name], storage.EngineRelational)
			}
		}
	}

	datasets, err := in.datasets.ListDatasets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}

	for _, ds := range datasets {
		specs, err := ds.ColumnSpecs()
		if err != nil {
			in.logger.Warn("skipping dataset with malformed column metadata",
				"dataset", ds.Name, "error", err)
			continue
		}

		// The generator must reference identifiers exactly as the engine
		// stores them, so columns go through the same sanitization.
		sanitized := make([]storage.ColumnSpec, len(specs))
		for i, spec := range specs {
			sanitized[i] = storage.ColumnSpec{
				Name: storage.SanitizeIdentifier(spec.Name),
				Type: spec.Type,
			}
		}

		fmt.Fprintf(&b, "Dataset %q (%d rows", ds.Name, ds.RowCount)
		if ds.Engine == storage.EngineAnalytic {
			b.WriteString(", analytic engine)\n")
			schema.AnalyticTables = append(schema.AnalyticTables, ds.TableName)
		} else {
			b.WriteString(", relational engine)\n")
		}
		writeTable(&b, ds.TableName, sanitized, ds.Engine)
		writeExamples(&b, ds.TableName, sanitized)

		schema.DatasetNames = append(schema.DatasetNames, ds.Name)
		schema.datasets = append(schema.datasets, describedDataset{
			name:      ds.Name,
			tableName: ds.TableName,
			engine:    ds.Engine,
			columns:   sanitized,
		})
	}

	schema.Text = b.String()
	return schema, nil
}

func writeTable(b *strings.Builder, name string, columns []storage.ColumnSpec, engine storage.DatasetEngine) {
	fmt.Fprintf(b, "Table %s (%s):\n", name, engine)
	for _, col := range columns {
		fmt.Fprintf(b, "  - %s (%s)\n", col.Name, col.Type)
	}
	b.WriteString("\n")
}

// writeExamples emits worked queries per dataset to bias the generator
// toward valid syntax for that table.
func writeExamples(b *strings.Builder, tableName string, columns []storage.ColumnSpec) {
	quoted := storage.QuoteIdentifier(tableName)
	b.WriteString("Example queries:\n")
	fmt.Fprintf(b, "  SELECT COUNT(*) AS count FROM %s\n", quoted)
	fmt.Fprintf(b, "  SELECT * FROM %s LIMIT 5\n", quoted)
	if numeric := firstNumericColumn(columns); numeric != "" {
		q := storage.QuoteIdentifier(numeric)
		fmt.Fprintf(b, "  SELECT SUM(%s) AS total, AVG(%s) AS average FROM %s\n", q, q, quoted)
	}
	b.WriteString("\n")
}

func firstNumericColumn(columns []storage.ColumnSpec) string {
	for _, col := range columns {
		if col.Type == storage.ColumnNumber {
			return col.Name
		}
	}
	return ""
}
