package sqlgen

import (
	"context"
	"log/slog"

	"github.com/altiviz/datachat/internal/storage"
)

// MsgQueryFailed is the canned apology returned when the repair budget is
// exhausted. A failed query is a reported outcome, not a system fault.
const MsgQueryFailed = "I couldn't run a query that answers that question. The last attempt and its error are included below — rephrasing the question often helps."

// DefaultRetryBudget is the number of generative repair attempts allowed
// after the initial execution fails.
const DefaultRetryBudget = 2

// Result is the outcome of one run through the validate/execute/repair
// state machine.
type Result struct {
	// Rows is non-nil on success, already coerced for serialization.
	Rows []map[string]any
	// QueryText is the last attempted query, fallback or generated.
	QueryText string
	// Engine is the engine that executed (or last rejected) the query.
	Engine storage.DatasetEngine
	// Err holds the last engine error message when the budget ran out.
	// Empty on success.
	Err string
	// RepairAttempts counts generative repair calls consumed.
	RepairAttempts int
	// UsedFallback reports whether a deterministic fallback was substituted.
	UsedFallback bool
}

// Runner drives generated queries through cleaning, validation,
// execution, and bounded repair.
type Runner struct {
	generator   *Generator
	analytic    storage.Engine
	relational  storage.Engine
	retryBudget int
	logger      *slog.Logger
}

// NewRunner creates a query runner over both engines.
func NewRunner(generator *Generator, analytic, relational storage.Engine, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		generator:   generator,
		analytic:    analytic,
		relational:  relational,
		retryBudget: DefaultRetryBudget,
		logger:      logger.With("component", "query_runner"),
	}
}

// Run takes raw generator output and drives it to rows or a reported
// failure. The repair loop is strictly sequential: each repair waits for
// the prior engine call to fail.
func (r *Runner) Run(ctx context.Context, question, rawQuery string, schema *Schema) Result {
	result := Result{}

	query := CleanSQL(rawQuery)
	if !ValidShape(query) {
		// Shape failure substitutes the deterministic fallback without
		// consuming a repair attempt. Fallbacks are not re-validated.
		query = FallbackQuery(question, schema)
		result.UsedFallback = true
		r.logger.Info("generated query failed shape check, using fallback", "fallback", query)
	}

	for {
		engine := Route(query, schema.AnalyticTables)
		result.QueryText = query
		result.Engine = engine

		rows, err := r.execute(ctx, engine, query)
		if err == nil {
			result.Rows = rows
			return result
		}

		lastErr := err.Error()
		r.logger.Warn("query execution failed",
			"engine", engine,
			"attempts", result.RepairAttempts,
			"error", lastErr,
		)

		if result.RepairAttempts >= r.retryBudget {
			result.Err = lastErr
			return result
		}
		result.RepairAttempts++

		repaired := r.attemptRepair(ctx, question, query, lastErr, schema)
		if repaired != "" && repaired != query && ValidShape(repaired) {
			query = repaired
			continue
		}

		// Repair produced nothing usable; substitute the fallback and
		// re-enter execution directly.
		query = FallbackQuery(question, schema)
		result.UsedFallback = true
	}
}

func (r *Runner) attemptRepair(ctx context.Context, question, failing, errorMessage string, schema *Schema) string {
	raw, err := r.generator.Repair(ctx, question, failing, errorMessage, schema.Text)
	if err != nil {
		r.logger.Warn("repair generation failed", "error", err)
		return ""
	}
	return CleanSQL(raw)
}

func (r *Runner) execute(ctx context.Context, engine storage.DatasetEngine, query string) ([]map[string]any, error) {
	if engine == storage.EngineAnalytic {
		return r.analytic.Execute(ctx, query)
	}
	return r.relational.Execute(ctx, query)
}
