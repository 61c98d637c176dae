package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altiviz/datachat/internal/storage"
)

// mockChunkSource implements ChunkSource for testing.
type mockChunkSource struct {
	chunks []storage.SearchableChunk
	err    error
}

func (m *mockChunkSource) SearchableChunks(ctx context.Context) ([]storage.SearchableChunk, error) {
	return m.chunks, m.err
}

// mockEmbedder implements Embedder for testing.
type mockEmbedder struct {
	embedding []float32
	err       error
	calls     int
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	return m.embedding, m.err
}

func makeChunk(content string, embedding []float32) storage.SearchableChunk {
	return storage.SearchableChunk{
		Chunk: storage.Chunk{
			ID:         uuid.New(),
			DocumentID: uuid.New(),
			Content:    content,
			Embedding:  embedding,
			PageNumber: sql.NullInt32{Int32: 1, Valid: true},
		},
		DocumentName: "report.pdf",
	}
}

func TestSearchLexicalRegime(t *testing.T) {
	t.Run("respects topK", func(t *testing.T) {
		source := &mockChunkSource{chunks: []storage.SearchableChunk{
			makeChunk("revenue totals", nil),
			makeChunk("revenue by region", nil),
			makeChunk("revenue forecast", nil),
		}}
		r := New(source, nil, nil, nil, DefaultConfig())

		resp := r.Search(context.Background(), "revenue", 2)
		assert.Len(t, resp.Results, 2)
		assert.Equal(t, 2, resp.TotalFound)
	})

	t.Run("no score floor: zero-overlap chunks still returned", func(t *testing.T) {
		source := &mockChunkSource{chunks: []storage.SearchableChunk{
			makeChunk("utterly unrelated content", nil),
			makeChunk("nothing in common either", nil),
		}}
		r := New(source, nil, nil, nil, DefaultConfig())

		resp := r.Search(context.Background(), "quarterly revenue", 5)
		require.Len(t, resp.Results, 2)
		for _, res := range resp.Results {
			assert.Zero(t, res.Score)
		}
	})

	t.Run("ranks higher overlap first", func(t *testing.T) {
		source := &mockChunkSource{chunks: []storage.SearchableChunk{
			makeChunk("weather was pleasant", nil),
			makeChunk("total revenue this quarter", nil),
		}}
		r := New(source, nil, nil, nil, DefaultConfig())

		resp := r.Search(context.Background(), "total revenue", 5)
		require.Len(t, resp.Results, 2)
		assert.Equal(t, "total revenue this quarter", resp.Results[0].Content)
	})

	t.Run("equal scores keep insertion order", func(t *testing.T) {
		first := makeChunk("no overlap alpha", nil)
		second := makeChunk("no overlap beta", nil)
		source := &mockChunkSource{chunks: []storage.SearchableChunk{first, second}}
		r := New(source, nil, nil, nil, DefaultConfig())

		resp := r.Search(context.Background(), "zzz", 5)
		require.Len(t, resp.Results, 2)
		assert.Equal(t, first.ID, resp.Results[0].ChunkID)
		assert.Equal(t, second.ID, resp.Results[1].ChunkID)
	})
}

func TestSearchHybridRegime(t *testing.T) {
	t.Run("combines weighted vector score and keyword bonus", func(t *testing.T) {
		// Cosine between query and chunk embedding is 0.9; no keyword
		// overlap, so the composite is 0.7*0.9 = 0.63, above the floor.
		queryVec := []float32{1, 0}
		chunkVec := []float32{0.9, float32(0.43588989)} // unit vector at cos=0.9
		source := &mockChunkSource{chunks: []storage.SearchableChunk{
			makeChunk("nothing lexical here", chunkVec),
		}}
		embedder := &mockEmbedder{embedding: queryVec}
		r := New(source, embedder, nil, nil, DefaultConfig())

		resp := r.Search(context.Background(), "zq", 5)
		require.Len(t, resp.Results, 1)
		assert.InDelta(t, 0.63, resp.Results[0].Score, 1e-3)
	})

	t.Run("filters results at or below the floor", func(t *testing.T) {
		source := &mockChunkSource{chunks: []storage.SearchableChunk{
			makeChunk("irrelevant", []float32{0, 1}), // cosine 0, bonus 0
		}}
		embedder := &mockEmbedder{embedding: []float32{1, 0}}
		r := New(source, embedder, nil, nil, DefaultConfig())

		resp := r.Search(context.Background(), "zq", 5)
		assert.Empty(t, resp.Results)
		assert.Zero(t, resp.TotalFound)
	})

	t.Run("keyword bonus alone cannot pass with zero vector score beyond cap", func(t *testing.T) {
		source := &mockChunkSource{chunks: []storage.SearchableChunk{
			makeChunk("total revenue total revenue", []float32{0, 1}),
		}}
		embedder := &mockEmbedder{embedding: []float32{1, 0}}
		r := New(source, embedder, nil, nil, DefaultConfig())

		resp := r.Search(context.Background(), "total revenue", 5)
		// 0.3 * min(0.1*2, 0.3) = 0.06, below the 0.1 floor.
		assert.Empty(t, resp.Results)
	})

	t.Run("embedding failure degrades to lexical scoring", func(t *testing.T) {
		source := &mockChunkSource{chunks: []storage.SearchableChunk{
			makeChunk("revenue report", nil),
		}}
		embedder := &mockEmbedder{err: errors.New("provider down")}
		r := New(source, embedder, nil, nil, DefaultConfig())

		resp := r.Search(context.Background(), "revenue", 5)
		require.Len(t, resp.Results, 1)
		assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-9)
	})
}

func TestSearchDegradedPaths(t *testing.T) {
	t.Run("store failure yields empty response, not an error", func(t *testing.T) {
		source := &mockChunkSource{err: errors.New("connection refused")}
		r := New(source, nil, nil, nil, DefaultConfig())

		resp := r.Search(context.Background(), "anything", 5)
		assert.NotNil(t, resp.Results)
		assert.Empty(t, resp.Results)
		assert.Zero(t, resp.TotalFound)
	})

	t.Run("empty store yields empty response", func(t *testing.T) {
		r := New(&mockChunkSource{}, nil, nil, nil, DefaultConfig())
		resp := r.Search(context.Background(), "anything", 5)
		assert.Empty(t, resp.Results)
		assert.Zero(t, resp.TotalFound)
	})

	t.Run("scores carry provenance and clamp to unit interval", func(t *testing.T) {
		source := &mockChunkSource{chunks: []storage.SearchableChunk{
			makeChunk("total revenue total", nil),
		}}
		r := New(source, nil, nil, nil, DefaultConfig())

		resp := r.Search(context.Background(), "total", 5)
		require.Len(t, resp.Results, 1)
		res := resp.Results[0]
		assert.Equal(t, "report.pdf", res.DocumentName)
		assert.Equal(t, 1, res.PageNumber)
		assert.LessOrEqual(t, res.Score, 1.0)
		assert.GreaterOrEqual(t, res.Score, 0.0)
	})
}
