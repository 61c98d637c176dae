package sqlgen

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altiviz/datachat/internal/llm"
	"github.com/altiviz/datachat/internal/storage"
)

// scriptedCompleter returns queued responses in order.
type scriptedCompleter struct {
	responses []string
	err       error
	calls     int
}

func (s *scriptedCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (string, string, error) {
	s.calls++
	if s.err != nil {
		return "", "", s.err
	}
	if len(s.responses) == 0 {
		return "", "", errors.New("no scripted response left")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, "test-model", nil
}

// mockEngine records executed queries and returns scripted outcomes.
type mockEngine struct {
	rows    []map[string]any
	errs    []error
	queries []string
}

func (m *mockEngine) Execute(ctx context.Context, query string) ([]map[string]any, error) {
	m.queries = append(m.queries, query)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return m.rows, nil
}

func productsSchema() *Schema {
	return &Schema{
		Text:           "Table ds_products",
		AnalyticTables: []string{"ds_products"},
		DatasetNames:   []string{"products"},
		datasets: []describedDataset{{
			name:      "products",
			tableName: "ds_products",
			engine:    storage.EngineAnalytic,
			columns: []storage.ColumnSpec{
				{Name: "name", Type: storage.ColumnText},
				{Name: "price", Type: storage.ColumnNumber},
			},
		}},
	}
}

func newTestRunner(completer Completer, analytic, relational storage.Engine) *Runner {
	return NewRunner(NewGenerator(completer, 512, nil), analytic, relational, nil)
}

func TestRunSuccessFirstAttempt(t *testing.T) {
	// "total products count" style query succeeds directly; the repair
	// loop never fires and no generative repair call is made.
	analytic := &mockEngine{rows: []map[string]any{{"count": float64(4)}}}
	completer := &scriptedCompleter{}
	runner := newTestRunner(completer, analytic, &mockEngine{})

	result := runner.Run(context.Background(), "total products count",
		`SELECT COUNT(*) AS count FROM "ds_products";`, productsSchema())

	assert.Empty(t, result.Err)
	assert.Equal(t, []map[string]any{{"count": float64(4)}}, result.Rows)
	assert.Equal(t, `SELECT COUNT(*) AS count FROM "ds_products"`, result.QueryText)
	assert.Equal(t, storage.EngineAnalytic, result.Engine)
	assert.Zero(t, result.RepairAttempts)
	assert.False(t, result.UsedFallback)
	assert.Zero(t, completer.calls)
}

func TestRunBudgetExhausted(t *testing.T) {
	// The referenced table was dropped mid-session. Both repairs
	// regenerate a query against the same missing table; the budget runs
	// out and the failure is reported, not thrown.
	tableMissing := errors.New(`table "ds_products" not found`)
	analytic := &mockEngine{errs: []error{tableMissing, tableMissing, tableMissing}}
	completer := &scriptedCompleter{responses: []string{
		`SELECT COUNT(*) FROM "ds_products"`,
		`SELECT COUNT(*) AS c FROM "ds_products"`,
	}}
	runner := newTestRunner(completer, analytic, &mockEngine{})

	result := runner.Run(context.Background(), "how many products",
		`SELECT * FROM "ds_products"`, productsSchema())

	assert.Nil(t, result.Rows)
	assert.Equal(t, `table "ds_products" not found`, result.Err)
	assert.Equal(t, 2, result.RepairAttempts)
	assert.Equal(t, `SELECT COUNT(*) AS c FROM "ds_products"`, result.QueryText)
	assert.Len(t, analytic.queries, 3)
}

func TestRunInvalidShapeUsesFallback(t *testing.T) {
	t.Run("non-select output substitutes fallback without a repair attempt", func(t *testing.T) {
		analytic := &mockEngine{rows: []map[string]any{{"count": float64(7)}}}
		completer := &scriptedCompleter{}
		runner := newTestRunner(completer, analytic, &mockEngine{})

		result := runner.Run(context.Background(), "how many products are there",
			"I am not able to write SQL for that.", productsSchema())

		assert.Empty(t, result.Err)
		assert.True(t, result.UsedFallback)
		assert.Zero(t, result.RepairAttempts)
		assert.Equal(t, `SELECT COUNT(*) AS count FROM "ds_products"`, result.QueryText)
	})

	t.Run("fallback routes through the dialect router", func(t *testing.T) {
		analytic := &mockEngine{rows: []map[string]any{}}
		runner := newTestRunner(&scriptedCompleter{}, analytic, &mockEngine{})

		result := runner.Run(context.Background(), "show products", "garbage", productsSchema())
		assert.Equal(t, storage.EngineAnalytic, result.Engine)
		assert.Len(t, analytic.queries, 1)
	})
}

func TestRunRepairAdopted(t *testing.T) {
	// First execution fails; the repaired query differs and succeeds.
	analytic := &mockEngine{
		rows: []map[string]any{{"total": 99.5}},
		errs: []error{errors.New(`column "prices" does not exist`)},
	}
	completer := &scriptedCompleter{responses: []string{
		"```sql\nSELECT SUM(\"price\") AS total FROM \"ds_products\";\n```",
	}}
	runner := newTestRunner(completer, analytic, &mockEngine{})

	result := runner.Run(context.Background(), "total price",
		`SELECT SUM("prices") AS total FROM "ds_products"`, productsSchema())

	assert.Empty(t, result.Err)
	assert.Equal(t, 1, result.RepairAttempts)
	assert.False(t, result.UsedFallback)
	assert.Equal(t, `SELECT SUM("price") AS total FROM "ds_products"`, result.QueryText)
	require.Len(t, analytic.queries, 2)
}

func TestRunRepairUnusableSubstitutesFallback(t *testing.T) {
	// Repair echoes the failing query back; the runner gives up on it and
	// executes the deterministic fallback instead.
	failing := `SELECT oops FROM "ds_products"`
	analytic := &mockEngine{
		rows: []map[string]any{{"count": float64(4)}},
		errs: []error{errors.New("syntax error")},
	}
	completer := &scriptedCompleter{responses: []string{failing}}
	runner := newTestRunner(completer, analytic, &mockEngine{})

	result := runner.Run(context.Background(), "count of products", failing, productsSchema())

	assert.Empty(t, result.Err)
	assert.True(t, result.UsedFallback)
	assert.Equal(t, 1, result.RepairAttempts)
	assert.Equal(t, `SELECT COUNT(*) AS count FROM "ds_products"`, result.QueryText)
}

func TestRunRepairCanSwitchEngines(t *testing.T) {
	// The repaired query references a relational table, so the retry must
	// route to the other engine.
	analytic := &mockEngine{errs: []error{errors.New(`table "ds_products" not found`)}}
	relational := &mockEngine{rows: []map[string]any{{"count": float64(2)}}}
	completer := &scriptedCompleter{responses: []string{
		`SELECT COUNT(*) AS count FROM documents`,
	}}
	runner := newTestRunner(completer, analytic, relational)

	result := runner.Run(context.Background(), "how many documents",
		`SELECT COUNT(*) FROM "ds_products"`, productsSchema())

	assert.Empty(t, result.Err)
	assert.Equal(t, storage.EngineRelational, result.Engine)
	assert.Len(t, analytic.queries, 1)
	assert.Len(t, relational.queries, 1)
}

func TestFallbackQuery(t *testing.T) {
	schema := productsSchema()

	t.Run("count phrasing", func(t *testing.T) {
		assert.Equal(t, `SELECT COUNT(*) AS count FROM "ds_products"`,
			FallbackQuery("how many products do we have", schema))
	})

	t.Run("revenue phrasing maps to aggregate", func(t *testing.T) {
		assert.Equal(t, `SELECT SUM("price") AS total FROM "ds_products"`,
			FallbackQuery("what is the total revenue", schema))
	})

	t.Run("average phrasing", func(t *testing.T) {
		assert.Equal(t, `SELECT AVG("price") AS average FROM "ds_products"`,
			FallbackQuery("average price please", schema))
	})

	t.Run("default is a bounded sample", func(t *testing.T) {
		assert.Equal(t, `SELECT * FROM "ds_products" LIMIT 5`,
			FallbackQuery("show me something", schema))
	})

	t.Run("no datasets falls back to builtin table", func(t *testing.T) {
		assert.Equal(t, `SELECT COUNT(*) AS count FROM documents`,
			FallbackQuery("anything", &Schema{}))
	})
}
