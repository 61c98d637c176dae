package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Cache TTLs. Embeddings are stable per text; retrieval results go stale
// whenever documents change, so they live much shorter.
const (
	embeddingTTL = 24 * time.Hour
	retrievalTTL = 5 * time.Minute
)

// SearchCache caches query embeddings and retrieval results in Redis.
// Every method degrades to a miss on Redis failure.
type SearchCache struct {
	redis *RedisClient
}

// NewSearchCache creates a search cache.
func NewSearchCache(redis *RedisClient) *SearchCache {
	return &SearchCache{redis: redis}
}

// GetEmbedding returns a cached query embedding.
func (c *SearchCache) GetEmbedding(ctx context.Context, query string) ([]float32, bool, error) {
	if c == nil || c.redis == nil {
		return nil, false, nil
	}
	raw, hit, err := c.redis.Get(ctx, embeddingKey(query))
	if err != nil || !hit {
		return nil, false, err
	}
	var embedding []float32
	if err := json.Unmarshal([]byte(raw), &embedding); err != nil {
		return nil, false, nil
	}
	return embedding, true, nil
}

// SetEmbedding caches a query embedding.
func (c *SearchCache) SetEmbedding(ctx context.Context, query string, embedding []float32) error {
	if c == nil || c.redis == nil {
		return nil
	}
	raw, err := json.Marshal(embedding)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, embeddingKey(query), string(raw), embeddingTTL)
}

// GetResults returns cached retrieval results for a query/topK pair.
func (c *SearchCache) GetResults(ctx context.Context, query string, topK int) ([]SearchResult, bool, error) {
	if c == nil || c.redis == nil {
		return nil, false, nil
	}
	raw, hit, err := c.redis.Get(ctx, resultsKey(query, topK))
	if err != nil || !hit {
		return nil, false, err
	}
	var results []SearchResult
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		return nil, false, nil
	}
	return results, true, nil
}

// SetResults caches retrieval results.
func (c *SearchCache) SetResults(ctx context.Context, query string, topK int, results []SearchResult) error {
	if c == nil || c.redis == nil {
		return nil
	}
	raw, err := json.Marshal(results)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, resultsKey(query, topK), string(raw), retrievalTTL)
}

// InvalidateResults drops all cached retrieval results. Called after any
// document mutation.
func (c *SearchCache) InvalidateResults(ctx context.Context) error {
	if c == nil || c.redis == nil {
		return nil
	}
	return c.redis.DeleteByPattern(ctx, "retrieval:*")
}

func embeddingKey(query string) string {
	return "embedding:" + hashKey(query)
}

func resultsKey(query string, topK int) string {
	return fmt.Sprintf("retrieval:%s:%d", hashKey(query), topK)
}

func hashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
