package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/altiviz/datachat/internal/retrieval"
	"github.com/altiviz/datachat/internal/sqlgen"
	"github.com/altiviz/datachat/internal/storage"
)

const maxQuestionRunes = 2000

// AskRequestBody is the incoming question.
type AskRequestBody struct {
	Question string `json:"question"`
}

// AskResponse is the answer envelope. QueryText and Rows are populated
// only on the data-query path, Sources only on the document path. Error
// carries a handled query failure; the HTTP status stays 200.
type AskResponse struct {
	Answer    string           `json:"answer"`
	QueryText string           `json:"query_text,omitempty"`
	Rows      []map[string]any `json:"rows,omitempty"`
	Sources   []Source         `json:"sources,omitempty"`
	Error     string           `json:"error,omitempty"`
	Metadata  AskMetadata      `json:"metadata"`
}

// Source cites a retrieved chunk backing a document answer.
type Source struct {
	DocumentName string  `json:"document_name"`
	PageNumber   int     `json:"page_number,omitempty"`
	Score        float64 `json:"score"`
	Excerpt      string  `json:"excerpt"`
}

// AskMetadata describes how the answer was produced.
type AskMetadata struct {
	Mode             string `json:"mode"` // "data" or "documents"
	RepairAttempts   int    `json:"repair_attempts,omitempty"`
	UsedFallbackSQL  bool   `json:"used_fallback_sql,omitempty"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
}

// SchemaSource describes the queryable schema.
type SchemaSource interface {
	Describe(ctx context.Context) (*sqlgen.Schema, error)
}

// QueryGenerator produces raw SQL for a question.
type QueryGenerator interface {
	Generate(ctx context.Context, question, schemaText string) (string, error)
}

// QueryRunner drives generated SQL to rows or a reported failure.
type QueryRunner interface {
	Run(ctx context.Context, question, rawQuery string, schema *sqlgen.Schema) sqlgen.Result
}

// DocumentSearcher ranks chunks for a question.
type DocumentSearcher interface {
	Search(ctx context.Context, query string, topK int) retrieval.Response
}

// AnswerSynthesizer writes a grounded answer from retrieved chunks.
type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, query string, retrieved []storage.SearchResult) string
}

// AskDeps bundles the collaborators of the ask endpoint.
type AskDeps struct {
	Schema      SchemaSource
	Generator   QueryGenerator
	Runner      QueryRunner
	Searcher    DocumentSearcher
	Synthesizer AnswerSynthesizer
	TopK        int
}

// HandleAsk returns the handler for POST /api/v1/ask. Data questions go
// through SQL generation and execution; everything else is answered from
// the document knowledge base.
func HandleAsk(deps AskDeps, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		start := time.Now()

		var req AskRequestBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Warn("failed to decode ask request", "error", err)
			RespondBadRequest(w, "Invalid request body")
			return
		}

		question := strings.TrimSpace(req.Question)
		if question == "" {
			RespondError(w, http.StatusUnprocessableEntity, ErrCodeValidation, "Question is required")
			return
		}
		if utf8.RuneCountInString(question) > maxQuestionRunes {
			RespondError(w, http.StatusUnprocessableEntity, ErrCodeValidation,
				fmt.Sprintf("Question must not exceed %d characters", maxQuestionRunes))
			return
		}

		schema, err := deps.Schema.Describe(ctx)
		if err != nil {
			logger.Error("schema introspection failed", "error", err)
			RespondInternalError(w, "")
			return
		}

		var resp AskResponse
		if sqlgen.IsDataQuestion(question, schema.DatasetNames) {
			resp = answerFromData(ctx, deps, question, schema, logger)
		} else {
			resp = answerFromDocuments(ctx, deps, question)
		}

		resp.Metadata.ProcessingTimeMs = time.Since(start).Milliseconds()
		RespondJSON(w, http.StatusOK, resp)
	}
}

func answerFromData(ctx context.Context, deps AskDeps, question string, schema *sqlgen.Schema, logger *slog.Logger) AskResponse {
	resp := AskResponse{Metadata: AskMetadata{Mode: "data"}}

	raw, err := deps.Generator.Generate(ctx, question, schema.Text)
	if err != nil {
		// Generation failure is recoverable: the runner substitutes a
		// deterministic fallback for unusable input.
		logger.Warn("query generation failed, relying on fallback", "error", err)
		raw = ""
	}

	result := deps.Runner.Run(ctx, question, raw, schema)
	resp.QueryText = result.QueryText
	resp.Metadata.RepairAttempts = result.RepairAttempts
	resp.Metadata.UsedFallbackSQL = result.UsedFallback

	if result.Err != "" {
		resp.Answer = sqlgen.MsgQueryFailed
		resp.Error = result.Err
		return resp
	}

	resp.Rows = result.Rows
	resp.Answer = summarizeRows(result.Rows)
	return resp
}

func answerFromDocuments(ctx context.Context, deps AskDeps, question string) AskResponse {
	resp := AskResponse{Metadata: AskMetadata{Mode: "documents"}}

	found := deps.Searcher.Search(ctx, question, deps.TopK)
	resp.Answer = deps.Synthesizer.Synthesize(ctx, question, found.Results)

	for _, hit := range found.Results {
		resp.Sources = append(resp.Sources, Source{
			DocumentName: hit.DocumentName,
			PageNumber:   hit.PageNumber,
			Score:        hit.Score,
			Excerpt:      excerpt(hit.Content, 240),
		})
	}
	return resp
}

// summarizeRows renders a short textual answer for a result set. A single
// scalar is stated directly; anything bigger is just counted, with the
// rows themselves carried alongside.
func summarizeRows(rows []map[string]any) string {
	switch {
	case len(rows) == 0:
		return "The query ran successfully but returned no rows."
	case len(rows) == 1 && len(rows[0]) == 1:
		for name, value := range rows[0] {
			return fmt.Sprintf("%s: %v", name, value)
		}
	}
	if len(rows) == 1 {
		return "The query returned 1 row."
	}
	return fmt.Sprintf("The query returned %d rows.", len(rows))
}

func excerpt(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
