package storage

import (
	"strings"
	"unicode"
)

// DatasetTablePrefix is the reserved prefix for generated dataset tables.
const DatasetTablePrefix = "ds_"

// SanitizeIdentifier folds an arbitrary column or table label into a valid
// engine identifier: lowercase, non-alphanumerics to underscores, repeated
// underscores collapsed, leading/trailing underscores trimmed. All dataset
// identifier interpolation goes through here, never ad hoc replacement.
func SanitizeIdentifier(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	s := b.String()
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Trim(s, "_")
	if s == "" {
		return "col"
	}
	// Identifiers must not start with a digit.
	if unicode.IsDigit(rune(s[0])) {
		s = "c_" + s
	}
	return s
}

// DatasetTableName derives the backing table name for a dataset.
func DatasetTableName(datasetName string) string {
	return DatasetTablePrefix + SanitizeIdentifier(datasetName)
}

// QuoteIdentifier wraps an identifier in double quotes, escaping any
// embedded quotes. Safe for both engines.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
