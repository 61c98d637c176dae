package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/altiviz/datachat/internal/llm"
	"github.com/altiviz/datachat/internal/storage"
)

// mockCompleter implements Completer for testing.
type mockCompleter struct {
	text    string
	err     error
	calls   int
	lastReq llm.CompletionRequest
}

func (m *mockCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (string, string, error) {
	m.calls++
	m.lastReq = req
	return m.text, "test-model", m.err
}

func someResults() []storage.SearchResult {
	return []storage.SearchResult{
		{
			ChunkID:      uuid.New(),
			DocumentID:   uuid.New(),
			DocumentName: "handbook.pdf",
			Content:      "Vacation policy allows 25 days per year.",
			PageNumber:   12,
			Score:        0.8,
		},
	}
}

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		question string
		want     Intent
	}{
		{"Please summarize the vacation policy", IntentSummary},
		{"Give me an outline of chapter 2", IntentSummary},
		{"Quote the exact text about notice periods", IntentExcerpt},
		{"What does the handbook say about sick leave?", IntentContent},
		{"Explain the approval process", IntentContent},
		{"vacation policy 2024", IntentGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyIntent(tt.question))
		})
	}
}

func TestSynthesize(t *testing.T) {
	t.Run("empty retrieval returns canned message without provider call", func(t *testing.T) {
		completer := &mockCompleter{text: "should not be used"}
		s := NewSynthesizer(completer, 0.3, 1024, nil)

		got := s.Synthesize(context.Background(), "anything", nil)
		assert.Equal(t, MsgNoDocuments, got)
		assert.Zero(t, completer.calls)
	})

	t.Run("prompt carries citation headers and question", func(t *testing.T) {
		completer := &mockCompleter{text: "the answer"}
		s := NewSynthesizer(completer, 0.3, 1024, nil)

		got := s.Synthesize(context.Background(), "How many vacation days?", someResults())
		assert.Equal(t, "the answer", got)
		assert.Equal(t, 1, completer.calls)
		assert.Contains(t, completer.lastReq.UserPrompt, "handbook.pdf, page 12")
		assert.Contains(t, completer.lastReq.UserPrompt, "Vacation policy allows 25 days per year.")
		assert.True(t, strings.HasSuffix(completer.lastReq.UserPrompt, "How many vacation days?"))
	})

	t.Run("intent selects the instruction block", func(t *testing.T) {
		completer := &mockCompleter{text: "ok"}
		s := NewSynthesizer(completer, 0.3, 1024, nil)

		s.Synthesize(context.Background(), "Summarize the handbook", someResults())
		assert.Contains(t, completer.lastReq.UserPrompt, "Summarize the relevant information")

		s.Synthesize(context.Background(), "Quote the policy verbatim", someResults())
		assert.Contains(t, completer.lastReq.UserPrompt, "quoting the most relevant passages")
	})

	t.Run("provider failure surfaces as canned text, never an error", func(t *testing.T) {
		completer := &mockCompleter{err: errors.New("every model down")}
		s := NewSynthesizer(completer, 0.3, 1024, nil)

		got := s.Synthesize(context.Background(), "anything", someResults())
		assert.Equal(t, MsgGenerationFailed, got)
	})
}
