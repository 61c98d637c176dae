// Package chunker splits extracted document text into token-budgeted
// chunks for embedding and retrieval.
package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Config holds chunking parameters. Budgets are measured in tokenizer
// tokens, not bytes, so chunk sizes line up with embedding model limits.
type Config struct {
	MaxTokens     int    // budget per chunk (default 400)
	OverlapTokens int    // trailing tokens carried into the next chunk (default 40)
	Encoding      string // tiktoken encoding name (default cl100k_base)
}

// DefaultConfig returns the chunking defaults used by the ingestion
// pipeline.
func DefaultConfig() Config {
	return Config{
		MaxTokens:     400,
		OverlapTokens: 40,
		Encoding:      "cl100k_base",
	}
}

// Page is one page of extracted text. Plain-text sources use a single
// page with Number 1.
type Page struct {
	Number int
	Text   string
}

// Chunk is one retrievable unit of a document.
type Chunk struct {
	Index      int
	Content    string
	TokenCount int
	PageNumber int
}

// Chunker splits text along paragraph boundaries while respecting a
// token budget.
type Chunker struct {
	config    Config
	tokenizer *tiktoken.Tiktoken
}

var paragraphSplit = regexp.MustCompile(`\n\s*\n`)

// New creates a chunker. Unknown encodings fall back to cl100k_base.
func New(cfg Config) (*Chunker, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 400
	}
	if cfg.OverlapTokens < 0 || cfg.OverlapTokens >= cfg.MaxTokens {
		cfg.OverlapTokens = 0
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "cl100k_base"
	}

	tokenizer, err := tiktoken.GetEncoding(cfg.Encoding)
	if err != nil {
		tokenizer, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tokenizer: %w", err)
		}
	}

	return &Chunker{config: cfg, tokenizer: tokenizer}, nil
}

// ChunkText splits plain text into chunks, all attributed to page 1.
func (c *Chunker) ChunkText(text string) []Chunk {
	return c.ChunkPages([]Page{{Number: 1, Text: text}})
}

// ChunkPages splits page-structured text into chunks. Chunks never span
// pages, so every chunk carries an unambiguous page number for citation.
func (c *Chunker) ChunkPages(pages []Page) []Chunk {
	var chunks []Chunk
	index := 0

	for _, page := range pages {
		for _, content := range c.splitPage(page.Text) {
			chunks = append(chunks, Chunk{
				Index:      index,
				Content:    content,
				TokenCount: c.CountTokens(content),
				PageNumber: page.Number,
			})
			index++
		}
	}

	return chunks
}

// CountTokens returns the tokenizer token count for text.
func (c *Chunker) CountTokens(text string) int {
	return len(c.tokenizer.Encode(text, nil, nil))
}

// splitPage packs paragraphs greedily into the token budget. Paragraphs
// that alone exceed the budget are split on sentence boundaries, then by
// raw token windows as a last resort.
func (c *Chunker) splitPage(text string) []string {
	var pieces []string
	for _, para := range paragraphSplit.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if c.CountTokens(para) > c.config.MaxTokens {
			pieces = append(pieces, c.splitOversized(para)...)
			continue
		}
		pieces = append(pieces, para)
	}

	var out []string
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		out = append(out, strings.Join(current, "\n\n"))
		current = nil
		currentTokens = 0
	}

	separatorTokens := c.CountTokens("\n\n")
	joined := func(tokens int) int {
		if len(current) == 0 {
			return tokens
		}
		return tokens + separatorTokens
	}

	for _, piece := range pieces {
		tokens := c.CountTokens(piece)
		if currentTokens+joined(tokens) > c.config.MaxTokens {
			flush()
			if overlap := c.overlapTail(out); overlap != "" {
				current = append(current, overlap)
				currentTokens = c.CountTokens(overlap)
			}
		}
		currentTokens += joined(tokens)
		current = append(current, piece)
	}
	flush()

	return out
}

var sentenceEnd = regexp.MustCompile(`(?:[.!?。]|\n)\s+`)

func (c *Chunker) splitOversized(para string) []string {
	var sentences []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(para, -1) {
		sentences = append(sentences, para[last:loc[1]])
		last = loc[1]
	}
	if last < len(para) {
		sentences = append(sentences, para[last:])
	}

	var out []string
	var current strings.Builder
	currentTokens := 0

	for _, sentence := range sentences {
		tokens := c.CountTokens(sentence)
		if tokens > c.config.MaxTokens {
			if current.Len() > 0 {
				out = append(out, strings.TrimSpace(current.String()))
				current.Reset()
				currentTokens = 0
			}
			out = append(out, c.splitByTokens(sentence)...)
			continue
		}
		if currentTokens+tokens > c.config.MaxTokens && current.Len() > 0 {
			out = append(out, strings.TrimSpace(current.String()))
			current.Reset()
			currentTokens = 0
		}
		current.WriteString(sentence)
		currentTokens += tokens
	}
	if current.Len() > 0 {
		out = append(out, strings.TrimSpace(current.String()))
	}

	return out
}

// splitByTokens hard-splits text into fixed token windows. Only reached
// for pathological input with no sentence boundaries, like minified
// markup dumped into a document.
func (c *Chunker) splitByTokens(text string) []string {
	tokens := c.tokenizer.Encode(text, nil, nil)
	var out []string
	for start := 0; start < len(tokens); start += c.config.MaxTokens {
		end := start + c.config.MaxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		piece := strings.TrimSpace(c.tokenizer.Decode(tokens[start:end]))
		if piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

// overlapTail returns the last OverlapTokens worth of the previous chunk
// so adjacent chunks share context at the boundary.
func (c *Chunker) overlapTail(chunks []string) string {
	if c.config.OverlapTokens == 0 || len(chunks) == 0 {
		return ""
	}
	prev := chunks[len(chunks)-1]
	tokens := c.tokenizer.Encode(prev, nil, nil)
	if len(tokens) <= c.config.OverlapTokens {
		return ""
	}
	return strings.TrimSpace(c.tokenizer.Decode(tokens[len(tokens)-c.config.OverlapTokens:]))
}
