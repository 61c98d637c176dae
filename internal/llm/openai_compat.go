package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAICompatProvider implements Provider against any OpenAI-compatible
// chat completions API. This covers OpenRouter and Ollama's /v1 endpoint.
type OpenAICompatProvider struct {
	client       *openai.Client
	model        string
	providerName string
	maxTokens    int
	logger       *slog.Logger
}

// NewOpenAICompatProvider creates a provider for an OpenAI-compatible API.
func NewOpenAICompatProvider(cfg ProviderConfig, logger *slog.Logger) (*OpenAICompatProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required for OpenAI-compatible provider")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required for OpenAI-compatible provider")
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Local servers don't require authentication.
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "not-needed"
	}

	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = cfg.BaseURL

	name := cfg.Provider
	if name == "" {
		name = "openai_compat"
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	return &OpenAICompatProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		model:        cfg.Model,
		providerName: name,
		maxTokens:    maxTokens,
		logger:       logger.With("component", "llm_provider", "provider", name, "model", cfg.Model),
	}, nil
}

// NewOpenRouterProvider creates a cloud provider for one OpenRouter model.
func NewOpenRouterProvider(baseURL, apiKey, model string, maxTokens int, logger *slog.Logger) (*OpenAICompatProvider, error) {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return NewOpenAICompatProvider(ProviderConfig{
		Provider:  "openrouter",
		BaseURL:   baseURL,
		APIKey:    apiKey,
		Model:     model,
		MaxTokens: maxTokens,
	}, logger)
}

// NewOllamaProvider creates a local provider against Ollama.
func NewOllamaProvider(baseURL, model string, maxTokens int, logger *slog.Logger) (*OpenAICompatProvider, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	if model == "" {
		model = "llama3.2"
	}
	return NewOpenAICompatProvider(ProviderConfig{
		Provider:  "ollama",
		BaseURL:   baseURL,
		Model:     model,
		MaxTokens: maxTokens,
	}, logger)
}

// Complete sends the prompt pair and returns the response text.
func (p *OpenAICompatProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	// go-openai omits a zero temperature field entirely, which would let
	// the server default apply; send the smallest representable value to
	// keep deterministic generation deterministic.
	temperature := float32(req.Temperature)
	if temperature == 0 {
		temperature = 1e-8
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%s completion failed: %w", p.providerName, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", p.providerName)
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	p.logger.Debug("completion received",
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return text, nil
}

// Name returns the provider name.
func (p *OpenAICompatProvider) Name() string { return p.providerName }

// Model returns the configured model.
func (p *OpenAICompatProvider) Model() string { return p.model }
