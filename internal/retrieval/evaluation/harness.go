package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/altiviz/datachat/internal/retrieval"
)

// GoldenQuery is a question with the chunk IDs a correct retriever
// should surface for it.
type GoldenQuery struct {
	ID             string      `json:"id"`
	Question       string      `json:"question"`
	RelevantChunks []uuid.UUID `json:"relevant_chunks"`
}

// Suite is a named collection of golden queries, usually loaded from a
// JSON file checked in next to the corpus it was built against.
type Suite struct {
	Name    string        `json:"name"`
	Queries []GoldenQuery `json:"queries"`
}

// LoadSuite reads a suite from a JSON file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suite: %w", err)
	}
	var suite Suite
	if err := json.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("parse suite %s: %w", path, err)
	}
	if len(suite.Queries) == 0 {
		return nil, fmt.Errorf("suite %s has no queries", path)
	}
	return &suite, nil
}

// Searcher is the retrieval surface under evaluation.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) retrieval.Response
}

// Harness runs a golden suite through a searcher and summarizes the
// ranked results.
type Harness struct {
	searcher Searcher
	topK     int
	logger   *slog.Logger
}

// NewHarness wires a harness. topK <= 0 falls back to 10 so the deeper
// @K cutoffs are meaningful.
func NewHarness(searcher Searcher, topK int, logger *slog.Logger) *Harness {
	if topK <= 0 {
		topK = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Harness{
		searcher: searcher,
		topK:     topK,
		logger:   logger.With("component", "eval"),
	}
}

// RunResult pairs the per-query outcomes with their aggregate report.
type RunResult struct {
	Suite     string         `json:"suite"`
	StartedAt time.Time      `json:"started_at"`
	Outcomes  []QueryOutcome `json:"outcomes"`
	Report    Report         `json:"report"`
}

// Run executes every query in the suite sequentially. The retriever
// itself never returns errors, so a run only fails on context
// cancellation.
func (h *Harness) Run(ctx context.Context, suite *Suite) (*RunResult, error) {
	h.logger.Info("running evaluation suite", "suite", suite.Name, "queries", len(suite.Queries))

	run := &RunResult{
		Suite:     suite.Name,
		StartedAt: time.Now(),
		Outcomes:  make([]QueryOutcome, 0, len(suite.Queries)),
	}

	for _, query := range suite.Queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		response := h.searcher.Search(ctx, query.Question, h.topK)
		elapsed := time.Since(start)

		retrieved := make([]uuid.UUID, 0, len(response.Results))
		for _, result := range response.Results {
			retrieved = append(retrieved, result.ChunkID)
		}

		run.Outcomes = append(run.Outcomes, QueryOutcome{
			QueryID:   query.ID,
			Question:  query.Question,
			Retrieved: retrieved,
			Relevant:  query.RelevantChunks,
			Latency:   elapsed,
		})
	}

	run.Report = Summarize(run.Outcomes)
	h.logger.Info("evaluation complete",
		"suite", suite.Name,
		"mrr", run.Report.MRR,
		"hit_rate_at_5", run.Report.HitRateAtK[5],
	)
	return run, nil
}
