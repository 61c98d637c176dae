package evaluation

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altiviz/datachat/internal/retrieval"
	"github.com/altiviz/datachat/internal/storage"
)

type stubSearcher struct {
	byQuery map[string][]uuid.UUID
	calls   int
}

func (s *stubSearcher) Search(_ context.Context, query string, _ int) retrieval.Response {
	s.calls++
	hits := s.byQuery[query]
	results := make([]storage.SearchResult, 0, len(hits))
	for _, id := range hits {
		results = append(results, storage.SearchResult{ChunkID: id, Score: 0.9})
	}
	return retrieval.Response{Results: results, TotalFound: len(results)}
}

func TestHarnessRun(t *testing.T) {
	chunk := ids(3)
	searcher := &stubSearcher{byQuery: map[string][]uuid.UUID{
		"what is the refund policy": {chunk[0], chunk[1]},
		"who signs invoices":        {chunk[2]},
	}}

	suite := &Suite{
		Name: "smoke",
		Queries: []GoldenQuery{
			{ID: "q1", Question: "what is the refund policy", RelevantChunks: []uuid.UUID{chunk[0]}},
			{ID: "q2", Question: "who signs invoices", RelevantChunks: []uuid.UUID{chunk[1]}},
		},
	}

	harness := NewHarness(searcher, 5, slog.New(slog.DiscardHandler))
	run, err := harness.Run(t.Context(), suite)
	require.NoError(t, err)

	assert.Equal(t, 2, searcher.calls)
	assert.Equal(t, "smoke", run.Suite)
	require.Len(t, run.Outcomes, 2)
	assert.Equal(t, []uuid.UUID{chunk[0], chunk[1]}, run.Outcomes[0].Retrieved)

	// q1 hits at rank 1, q2 never surfaces its relevant chunk.
	assert.InDelta(t, 0.5, run.Report.MRR, 1e-9)
	assert.Equal(t, 1, run.Report.QueriesWithHits)
}

func TestHarnessRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	harness := NewHarness(&stubSearcher{}, 5, slog.New(slog.DiscardHandler))
	_, err := harness.Run(ctx, &Suite{Name: "x", Queries: []GoldenQuery{{ID: "q"}}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadSuite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suite.json")
	data := `{"name":"golden","queries":[{"id":"q1","question":"hello","relevant_chunks":["` +
		uuid.NewSHA1(uuid.NameSpaceOID, []byte("c")).String() + `"]}]}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	suite, err := LoadSuite(path)
	require.NoError(t, err)
	assert.Equal(t, "golden", suite.Name)
	require.Len(t, suite.Queries, 1)
	assert.Len(t, suite.Queries[0].RelevantChunks, 1)
}

func TestLoadSuiteRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"empty","queries":[]}`), 0o644))

	_, err := LoadSuite(path)
	assert.Error(t, err)

	_, err = LoadSuite(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
