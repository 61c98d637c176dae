package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllProvidersFailed is returned when every candidate in the chain
// errored or produced empty output.
var ErrAllProvidersFailed = errors.New("all providers failed")

// ProviderFactory builds a provider for one cloud model.
type ProviderFactory func(model string) (Provider, error)

// Chain attempts providers in priority order. Offline-first policy: when
// the registry enables the local provider it is used exclusively, with no
// cloud fallback. Otherwise the cloud fallback list is walked in order,
// skipping to the next model on any error, returning the first non-empty
// response.
type Chain struct {
	registry     *Registry
	cloudFactory ProviderFactory
	offline      Provider
	logger       *slog.Logger
}

// NewChain creates a fallback chain. offline may be nil when no local
// provider is configured.
func NewChain(registry *Registry, cloudFactory ProviderFactory, offline Provider, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		registry:     registry,
		cloudFactory: cloudFactory,
		offline:      offline,
		logger:       logger.With("component", "llm_chain"),
	}
}

// Complete runs the request through the chain and returns the response
// text along with the model that produced it.
func (c *Chain) Complete(ctx context.Context, req CompletionRequest) (string, string, error) {
	if c.registry.OfflineEnabled() {
		if c.offline == nil {
			return "", "", fmt.Errorf("offline mode enabled but no local provider configured: %w", ErrAllProvidersFailed)
		}
		text, err := c.offline.Complete(ctx, req)
		if err != nil {
			c.logger.Warn("offline provider failed", "model", c.offline.Model(), "error", err)
			return "", "", fmt.Errorf("offline provider: %w", ErrAllProvidersFailed)
		}
		if text == "" {
			return "", "", fmt.Errorf("offline provider returned empty output: %w", ErrAllProvidersFailed)
		}
		return text, c.offline.Model(), nil
	}

	for _, model := range c.registry.Models() {
		provider, err := c.cloudFactory(model)
		if err != nil {
			c.logger.Warn("skipping unusable model", "model", model, "error", err)
			continue
		}
		text, err := provider.Complete(ctx, req)
		if err != nil {
			c.logger.Warn("model failed, trying next", "model", model, "error", err)
			continue
		}
		if text == "" {
			c.logger.Warn("model returned empty output, trying next", "model", model)
			continue
		}
		return text, model, nil
	}

	return "", "", ErrAllProvidersFailed
}
