package retrieval

import (
	"context"
	"log/slog"
	"sort"

	"github.com/altiviz/datachat/internal/storage"
)

// ChunkSource supplies the chunks eligible for retrieval (chunks of ready
// documents only).
type ChunkSource interface {
	SearchableChunks(ctx context.Context) ([]storage.SearchableChunk, error)
}

// Embedder generates query embeddings. A nil Embedder selects the
// lexical-only scoring regime.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ResultCache caches whole retrieval responses and query embeddings.
type ResultCache interface {
	GetEmbedding(ctx context.Context, query string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, query string, embedding []float32) error
	GetResults(ctx context.Context, query string, topK int) ([]storage.SearchResult, bool, error)
	SetResults(ctx context.Context, query string, topK int, results []storage.SearchResult) error
}

// Config holds retriever tuning.
type Config struct {
	DefaultTopK   int
	VectorWeight  float64
	KeywordWeight float64
	// HybridFloor discards hybrid-regime results at or below this score.
	// The lexical-only regime has no floor: zero-overlap chunks may still
	// be the best available context.
	HybridFloor  float64
	CacheEnabled bool
}

// DefaultConfig returns the default retriever configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTopK:   5,
		VectorWeight:  0.7,
		KeywordWeight: 0.3,
		HybridFloor:   0.1,
		CacheEnabled:  true,
	}
}

// Response is the outcome of one search call.
type Response struct {
	Results    []storage.SearchResult `json:"results"`
	TotalFound int                    `json:"total_found"`
}

// Retriever ranks searchable chunks against a query.
type Retriever struct {
	source   ChunkSource
	embedder Embedder
	cache    ResultCache
	logger   *slog.Logger
	config   Config
}

// New creates a retriever. embedder and cache may be nil.
func New(source ChunkSource, embedder Embedder, cache ResultCache, logger *slog.Logger, cfg Config) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 5
	}
	if cfg.VectorWeight == 0 {
		cfg.VectorWeight = 0.7
	}
	if cfg.KeywordWeight == 0 {
		cfg.KeywordWeight = 0.3
	}
	return &Retriever{
		source:   source,
		embedder: embedder,
		cache:    cache,
		logger:   logger.With("component", "retriever"),
		config:   cfg,
	}
}

// Search scores all eligible chunks against the query and returns the
// topK best with provenance. Failures degrade to an empty response; an
// empty knowledge base is a valid answer path, not an error.
func (r *Retriever) Search(ctx context.Context, query string, topK int) Response {
	if topK <= 0 {
		topK = r.config.DefaultTopK
	}

	if r.config.CacheEnabled && r.cache != nil {
		if cached, hit, err := r.cache.GetResults(ctx, query, topK); err == nil && hit {
			r.logger.Debug("retrieval cache hit", "query", query)
			return Response{Results: cached, TotalFound: len(cached)}
		}
	}

	chunks, err := r.source.SearchableChunks(ctx)
	if err != nil {
		r.logger.Error("failed to fetch searchable chunks", "error", err)
		return Response{Results: []storage.SearchResult{}, TotalFound: 0}
	}
	if len(chunks) == 0 {
		return Response{Results: []storage.SearchResult{}, TotalFound: 0}
	}

	queryEmbedding := r.queryEmbedding(ctx, query)
	hybrid := queryEmbedding != nil

	scored := make([]storage.SearchResult, 0, len(chunks))
	for _, chunk := range chunks {
		var score float64
		if hybrid {
			vec := CosineSimilarity(queryEmbedding, chunk.Embedding)
			score = r.config.VectorWeight*vec + r.config.KeywordWeight*KeywordBonus(query, chunk.Content)
		} else {
			score = LexicalScore(query, chunk.Content)
		}
		score = clamp01(score)

		if hybrid && score <= r.config.HybridFloor {
			continue
		}

		result := storage.SearchResult{
			ChunkID:      chunk.ID,
			DocumentID:   chunk.DocumentID,
			DocumentName: chunk.DocumentName,
			Content:      chunk.Content,
			Score:        score,
		}
		if chunk.PageNumber.Valid {
			result.PageNumber = int(chunk.PageNumber.Int32)
		}
		scored = append(scored, result)
	}

	// Stable sort: equal scores keep insertion order, which is not
	// contractually meaningful.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}

	if r.config.CacheEnabled && r.cache != nil {
		if err := r.cache.SetResults(ctx, query, topK, scored); err != nil {
			r.logger.Warn("failed to cache retrieval results", "error", err)
		}
	}

	r.logger.Info("retrieval completed",
		"query", query,
		"regime", regimeName(hybrid),
		"candidates", len(chunks),
		"results", len(scored),
	)

	return Response{Results: scored, TotalFound: len(scored)}
}

// queryEmbedding returns the query vector, or nil when no embedding
// provider is configured or embedding fails (lexical-only regime).
func (r *Retriever) queryEmbedding(ctx context.Context, query string) []float32 {
	if r.embedder == nil {
		return nil
	}

	if r.config.CacheEnabled && r.cache != nil {
		if cached, hit, err := r.cache.GetEmbedding(ctx, query); err == nil && hit {
			return cached
		}
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("query embedding failed, falling back to lexical scoring", "error", err)
		return nil
	}

	if r.config.CacheEnabled && r.cache != nil {
		if err := r.cache.SetEmbedding(ctx, query, embedding); err != nil {
			r.logger.Warn("failed to cache query embedding", "error", err)
		}
	}
	return embedding
}

func regimeName(hybrid bool) string {
	if hybrid {
		return "hybrid"
	}
	return "lexical"
}
