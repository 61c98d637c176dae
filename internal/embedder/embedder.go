// Package embedder provides text-to-vector embedding generation.
package embedder

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/altiviz/datachat/pkg/logger"
)

// Embedder generates embedding vectors. The application functions without
// one; retrieval then degrades to lexical-only scoring.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// Config holds configuration for the embedder.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxBatchSize int
	RateLimitRPS int
	Timeout      time.Duration
}

// DefaultConfig returns default configuration for a model.
func DefaultConfig(apiKey, model string) Config {
	return Config{
		APIKey:       apiKey,
		Model:        model,
		MaxBatchSize: 100,
		RateLimitRPS: 20,
		Timeout:      60 * time.Second,
	}
}

// OpenAIEmbedder implements Embedder against an OpenAI-compatible API.
type OpenAIEmbedder struct {
	client  *openai.Client
	config  Config
	limiter *rate.Limiter
	log     *logger.Logger
}

// New creates an embedder. Returns an error when no model is configured.
func New(cfg Config, log *logger.Logger) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	if log == nil {
		log = logger.Default()
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(clientConfig),
		config:  cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitRPS),
		log:     log.WithComponent("embedder"),
	}, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts, batching requests.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.MaxBatchSize {
		end := start + e.config.MaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		reqCtx := ctx
		if e.config.Timeout > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, e.config.Timeout)
			defer cancel()
		}

		resp, err := e.client.CreateEmbeddings(reqCtx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(e.config.Model),
			Input: texts[start:end],
		})
		if err != nil {
			return nil, fmt.Errorf("embedding request failed: %w", err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("embedding response size mismatch: got %d, want %d", len(resp.Data), end-start)
		}
		for _, item := range resp.Data {
			out = append(out, item.Embedding)
		}
	}

	e.log.Debug("embeddings generated", "texts", len(texts))
	return out, nil
}

// ModelName returns the embedding model name.
func (e *OpenAIEmbedder) ModelName() string {
	return e.config.Model
}
