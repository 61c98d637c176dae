package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockProvider implements Provider for testing.
type mockProvider struct {
	name  string
	model string
	text  string
	err   error
	calls int
}

func (m *mockProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	m.calls++
	return m.text, m.err
}

func (m *mockProvider) Name() string  { return m.name }
func (m *mockProvider) Model() string { return m.model }

func factoryFor(providers map[string]*mockProvider) ProviderFactory {
	return func(model string) (Provider, error) {
		p, ok := providers[model]
		if !ok {
			return nil, errors.New("unknown model")
		}
		return p, nil
	}
}

func TestChainCloudFallback(t *testing.T) {
	t.Run("returns first non-empty response", func(t *testing.T) {
		providers := map[string]*mockProvider{
			"a": {model: "a", err: errors.New("unavailable")},
			"b": {model: "b", text: ""},
			"c": {model: "c", text: "hello"},
		}
		registry := NewRegistry([]string{"a", "b", "c"}, false)
		chain := NewChain(registry, factoryFor(providers), nil, nil)

		text, model, err := chain.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
		require.NoError(t, err)
		assert.Equal(t, "hello", text)
		assert.Equal(t, "c", model)
		assert.Equal(t, 1, providers["a"].calls)
		assert.Equal(t, 1, providers["b"].calls)
	})

	t.Run("all candidates failing surfaces ErrAllProvidersFailed", func(t *testing.T) {
		providers := map[string]*mockProvider{
			"a": {model: "a", err: errors.New("down")},
			"b": {model: "b", err: errors.New("down")},
		}
		registry := NewRegistry([]string{"a", "b"}, false)
		chain := NewChain(registry, factoryFor(providers), nil, nil)

		_, _, err := chain.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
		assert.ErrorIs(t, err, ErrAllProvidersFailed)
	})

	t.Run("unknown model in list is skipped", func(t *testing.T) {
		providers := map[string]*mockProvider{
			"b": {model: "b", text: "ok"},
		}
		registry := NewRegistry([]string{"missing", "b"}, false)
		chain := NewChain(registry, factoryFor(providers), nil, nil)

		text, _, err := chain.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
		require.NoError(t, err)
		assert.Equal(t, "ok", text)
	})
}

func TestChainOfflineFirst(t *testing.T) {
	t.Run("offline provider is exclusive when enabled", func(t *testing.T) {
		cloud := map[string]*mockProvider{"a": {model: "a", text: "cloud answer"}}
		offline := &mockProvider{name: "ollama", model: "llama3.2", text: "local answer"}
		registry := NewRegistry([]string{"a"}, true)
		chain := NewChain(registry, factoryFor(cloud), offline, nil)

		text, model, err := chain.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
		require.NoError(t, err)
		assert.Equal(t, "local answer", text)
		assert.Equal(t, "llama3.2", model)
		assert.Zero(t, cloud["a"].calls)
	})

	t.Run("offline failure does not fall back to cloud", func(t *testing.T) {
		cloud := map[string]*mockProvider{"a": {model: "a", text: "cloud answer"}}
		offline := &mockProvider{model: "llama3.2", err: errors.New("ollama down")}
		registry := NewRegistry([]string{"a"}, true)
		chain := NewChain(registry, factoryFor(cloud), offline, nil)

		_, _, err := chain.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
		assert.ErrorIs(t, err, ErrAllProvidersFailed)
		assert.Zero(t, cloud["a"].calls)
	})

	t.Run("toggling offline switches routing", func(t *testing.T) {
		cloud := map[string]*mockProvider{"a": {model: "a", text: "cloud answer"}}
		offline := &mockProvider{model: "llama3.2", text: "local answer"}
		registry := NewRegistry([]string{"a"}, false)
		chain := NewChain(registry, factoryFor(cloud), offline, nil)

		text, _, err := chain.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
		require.NoError(t, err)
		assert.Equal(t, "cloud answer", text)

		registry.SetOffline(true)
		text, _, err = chain.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
		require.NoError(t, err)
		assert.Equal(t, "local answer", text)
	})
}

func TestRegistry(t *testing.T) {
	t.Run("rejects empty model list", func(t *testing.T) {
		registry := NewRegistry([]string{"a"}, false)
		assert.Error(t, registry.SetModels(nil))
		assert.Equal(t, []string{"a"}, registry.Models())
	})

	t.Run("returned slices are copies", func(t *testing.T) {
		registry := NewRegistry([]string{"a", "b"}, false)
		models := registry.Models()
		models[0] = "mutated"
		assert.Equal(t, []string{"a", "b"}, registry.Models())
	})
}
