package sqlgen

import (
	"regexp"
	"strings"

	"github.com/altiviz/datachat/internal/storage"
)

// generatedTablePattern matches the reserved dataset-table prefix. A query
// referencing such a table routes to the analytic engine even when the
// known-table list lags behind (freshly created tables may not be listed
// yet).
var generatedTablePattern = regexp.MustCompile(`(?i)\bds_[a-z0-9_]+`)

// Route decides which engine must execute a cleaned query, based on the
// table names it references. Runs on every attempt: a repaired query may
// target a different engine than the original.
func Route(query string, analyticTables []string) storage.DatasetEngine {
	lowered := strings.ToLower(query)

	for _, table := range analyticTables {
		if table == "" {
			continue
		}
		t := strings.ToLower(table)
		if strings.Contains(lowered, `"`+t+`"`) {
			return storage.EngineAnalytic
		}
		if wholeWord(lowered, t) {
			return storage.EngineAnalytic
		}
	}

	if generatedTablePattern.MatchString(lowered) {
		return storage.EngineAnalytic
	}
	return storage.EngineRelational
}

// wholeWord reports whether word occurs in text delimited by non-word
// characters. Table names are sanitized identifiers, so no quoting of
// regex metacharacters is needed beyond QuoteMeta.
func wholeWord(text, word string) bool {
	pattern := regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`)
	return pattern.MatchString(text)
}
