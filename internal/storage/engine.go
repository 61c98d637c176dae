package storage

import (
	"context"
	"database/sql"
	"math/big"
	"time"
)

// Engine executes a generated query string and returns rows as generic
// maps. Both the relational and analytic engines satisfy it.
type Engine interface {
	Execute(ctx context.Context, query string) ([]map[string]any, error)
}

// scanRows drains a sql.Rows into generic maps with coerced values.
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = coerceValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// coerceValue normalizes driver-specific types into plainly serializable
// ones. DuckDB hands back 64-bit and big integer types that must become
// plain numbers before JSON encoding.
func coerceValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	case *big.Int:
		f, _ := new(big.Float).SetInt(val).Float64()
		return f
	case big.Int:
		f, _ := new(big.Float).SetInt(&val).Float64()
		return f
	case float32:
		return float64(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return v
	}
}
