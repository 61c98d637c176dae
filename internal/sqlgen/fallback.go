package sqlgen

import (
	"fmt"
	"regexp"

	"github.com/altiviz/datachat/internal/storage"
)

// Deterministic fallback queries, substituted when generation produces
// nothing usable. Keyed on keyword matches in the original question.
// Fallbacks are built from sanitized identifiers and assumed valid; they
// are executed without re-validation.

var (
	countHintPattern = regexp.MustCompile(`(?i)\b(how many|count|number of|kaç|adet)\b`)
	sumHintPattern   = regexp.MustCompile(`(?i)\b(total|sum|revenue|sales|amount|toplam|ciro)\b`)
	avgHintPattern   = regexp.MustCompile(`(?i)\b(average|avg|mean|ortalama)\b`)
)

// FallbackQuery picks a canned query for the question against the first
// described dataset. With no datasets registered it falls back to the
// built-in documents table.
func FallbackQuery(question string, schema *Schema) string {
	if schema == nil || len(schema.datasets) == 0 {
		return `SELECT COUNT(*) AS count FROM documents`
	}

	ds := schema.datasets[0]
	table := storage.QuoteIdentifier(ds.tableName)
	numeric := firstNumericColumn(ds.columns)

	switch {
	case avgHintPattern.MatchString(question) && numeric != "":
		return fmt.Sprintf(`SELECT AVG(%s) AS average FROM %s`, storage.QuoteIdentifier(numeric), table)
	case sumHintPattern.MatchString(question) && numeric != "":
		return fmt.Sprintf(`SELECT SUM(%s) AS total FROM %s`, storage.QuoteIdentifier(numeric), table)
	case countHintPattern.MatchString(question):
		return fmt.Sprintf(`SELECT COUNT(*) AS count FROM %s`, table)
	default:
		return fmt.Sprintf(`SELECT * FROM %s LIMIT 5`, table)
	}
}
