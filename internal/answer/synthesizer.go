package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/altiviz/datachat/internal/llm"
	"github.com/altiviz/datachat/internal/storage"
)

// Canned terminal answers. Provider failures never escape as errors; they
// surface as one of these.
const (
	MsgNoDocuments      = "I could not find any relevant documents for your question. Try uploading documents first, or rephrase your question."
	MsgGenerationFailed = "I could not generate an answer right now. Please try again in a moment."
)

const systemPrompt = `You are a careful document assistant. Answer strictly from the provided sources. Cite sources as (document, page). If the sources are insufficient, say so plainly instead of guessing.`

// Completer abstracts the provider fallback chain.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (text string, model string, err error)
}

// Synthesizer turns retrieved chunks into a grounded answer.
type Synthesizer struct {
	completer   Completer
	logger      *slog.Logger
	temperature float64
	maxTokens   int
}

// NewSynthesizer creates a synthesizer over a completion chain.
func NewSynthesizer(completer Completer, temperature float64, maxTokens int, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Synthesizer{
		completer:   completer,
		logger:      logger.With("component", "synthesizer"),
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// Synthesize produces the answer text for a query given its retrieved
// chunks. An empty retrieval short-circuits to a canned answer without a
// provider call.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, retrieved []storage.SearchResult) string {
	if len(retrieved) == 0 {
		return MsgNoDocuments
	}

	intent := ClassifyIntent(query)
	prompt := buildPrompt(query, intent, retrieved)

	text, model, err := s.completer.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   prompt,
		Temperature:  s.temperature,
		MaxTokens:    s.maxTokens,
	})
	if err != nil {
		s.logger.Error("answer generation failed on all providers", "error", err)
		return MsgGenerationFailed
	}

	s.logger.Info("answer synthesized", "intent", intent, "model", model, "sources", len(retrieved))
	return text
}

// buildPrompt concatenates cited source blocks with the intent-selected
// instruction.
func buildPrompt(query string, intent Intent, retrieved []storage.SearchResult) string {
	var b strings.Builder

	b.WriteString(instructionFor(intent))
	b.WriteString("\n\n## Sources\n\n")
	for i, res := range retrieved {
		if res.PageNumber > 0 {
			fmt.Fprintf(&b, "[%d] %s, page %d\n", i+1, res.DocumentName, res.PageNumber)
		} else {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, res.DocumentName)
		}
		b.WriteString(res.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("## Question\n\n")
	b.WriteString(query)
	return b.String()
}
