package sqlgen

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/altiviz/datachat/internal/llm"
)

const sqlSystemPrompt = `You translate natural-language questions into a single SQL SELECT statement.
Rules:
- Output ONLY the SQL statement. No prose, no markdown, no explanation.
- Use only tables and columns from the provided schema, exactly as written.
- Always add a LIMIT clause when selecting raw rows.
- Prefer explicit casts when mixing types.

Examples:
Q: how many orders were placed?
SELECT COUNT(*) AS count FROM "ds_orders"

Q: total revenue by month
SELECT date_trunc('month', CAST("order_date" AS TIMESTAMP)) AS month, SUM("amount") AS total FROM "ds_orders" GROUP BY month ORDER BY month

Q: top 3 products by quantity sold
SELECT p."name", SUM(o."quantity") AS sold FROM "ds_orders" o JOIN "ds_products" p ON o."product_id" = p."id" GROUP BY p."name" ORDER BY sold DESC LIMIT 3

Q: average price of products
SELECT AVG("price") AS average FROM "ds_products"`

const repairSystemPrompt = `You fix broken SQL SELECT statements.
Output ONLY the corrected SQL statement. No prose, no markdown.`

// Completer abstracts the provider fallback chain.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (text string, model string, err error)
}

// Generator produces and repairs SQL via a generative provider. All calls
// pin temperature to 0.
type Generator struct {
	completer Completer
	maxTokens int
	logger    *slog.Logger
}

// NewGenerator creates a query generator.
func NewGenerator(completer Completer, maxTokens int, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &Generator{
		completer: completer,
		maxTokens: maxTokens,
		logger:    logger.With("component", "query_generator"),
	}
}

// Generate translates a question into a raw query string given the schema
// description. The output must still pass through CleanSQL.
func (g *Generator) Generate(ctx context.Context, question, schemaText string) (string, error) {
	prompt := fmt.Sprintf("Schema:\n\n%s\nQuestion: %s", schemaText, question)
	text, model, err := g.completer.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: sqlSystemPrompt,
		UserPrompt:   prompt,
		Temperature:  0,
		MaxTokens:    g.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("query generation failed: %w", err)
	}
	g.logger.Debug("query generated", "model", model)
	return text, nil
}

// Repair asks the provider to fix a failing query using the engine's
// literal error message as feedback.
func (g *Generator) Repair(ctx context.Context, question, failingQuery, errorMessage, schemaText string) (string, error) {
	prompt := fmt.Sprintf(
		"Schema:\n\n%s\nQuestion: %s\n\nThis query failed:\n%s\n\nEngine error:\n%s\n\nReturn a corrected query.",
		schemaText, question, failingQuery, errorMessage,
	)
	text, model, err := g.completer.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: repairSystemPrompt,
		UserPrompt:   prompt,
		Temperature:  0,
		MaxTokens:    g.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("query repair failed: %w", err)
	}
	g.logger.Debug("query repaired", "model", model)
	return text, nil
}

var (
	fencePattern  = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)\\s*```")
	selectPattern = regexp.MustCompile(`(?is)\bSELECT\b.*?(;|$)`)
)

// CleanSQL normalizes raw generator output: code fences stripped, the
// first SELECT run extracted, the trailing terminator dropped. Returns ""
// when no SELECT is present. Idempotent on already-clean input.
func CleanSQL(raw string) string {
	text := raw
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	m := selectPattern.FindString(text)
	if m == "" {
		return ""
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(m), ";"))
}

// ValidShape reports whether cleaned text begins with the expected query
// keyword. Empty text is never valid.
func ValidShape(cleaned string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(cleaned)), "SELECT")
}

var dataHintPattern = regexp.MustCompile(`(?i)\b(dataset|table|spreadsheet|csv|rows?|columns?|records?|data|count|average|sum|total|tablo|veri)\b`)

// IsDataQuestion gates the SQL path: a question goes to query generation
// only when it plausibly concerns registered data, either via keyword
// hints or a dataset name appearing as a whole word.
func IsDataQuestion(question string, datasetNames []string) bool {
	if dataHintPattern.MatchString(question) {
		return true
	}
	for _, name := range datasetNames {
		if name == "" {
			continue
		}
		pattern := `(?i)\b` + regexp.QuoteMeta(strings.ToLower(name)) + `\b`
		if matched, err := regexp.MatchString(pattern, strings.ToLower(question)); err == nil && matched {
			return true
		}
	}
	return false
}
