// Package llm provides a unified interface for generative text providers.
package llm

import "context"

// CompletionRequest is a single prompt/response exchange.
type CompletionRequest struct {
	// SystemPrompt sets the provider's instruction block.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// UserPrompt is the user-visible request text.
	UserPrompt string `json:"user_prompt"`

	// Temperature controls randomness. SQL generation pins this to 0.
	Temperature float64 `json:"temperature,omitempty"`

	// MaxTokens bounds the generated output.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// Provider defines the interface all generative providers implement.
type Provider interface {
	// Complete sends the request and returns the generated text.
	Complete(ctx context.Context, req CompletionRequest) (string, error)

	// Name returns the provider name (e.g. "openrouter", "ollama").
	Name() string

	// Model returns the model this provider instance targets.
	Model() string
}

// ProviderConfig holds common configuration for providers.
type ProviderConfig struct {
	// Provider is the provider name.
	Provider string `json:"provider"`

	// Model is the model to use.
	Model string `json:"model"`

	// APIKey authenticates cloud providers.
	APIKey string `json:"api_key,omitempty"`

	// BaseURL is the OpenAI-compatible endpoint.
	BaseURL string `json:"base_url,omitempty"`

	// MaxTokens is the default maximum tokens to generate.
	MaxTokens int `json:"max_tokens,omitempty"`
}
