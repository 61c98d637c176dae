// Package answer builds grounded answers from retrieved document chunks.
package answer

import "regexp"

// Intent selects the instruction block for the generative provider. It
// changes only the instruction text, never the retrieval.
type Intent string

const (
	IntentSummary Intent = "summary"
	IntentExcerpt Intent = "excerpt"
	IntentContent Intent = "content"
	IntentGeneric Intent = "generic"
)

var (
	summaryPattern = regexp.MustCompile(`(?i)\b(summar|outline|overview|brief|tl;?dr|özet|özetle)\w*`)
	excerptPattern = regexp.MustCompile(`(?i)\b(quote|verbatim|excerpt|exact\s+text|word\s+for\s+word|alıntı)\w*`)
	contentPattern = regexp.MustCompile(`(?i)\b(what|explain|describe|how|why|nedir|açıkla|anlat)\w*`)
)

// ClassifyIntent routes a question to an instruction family via cheap
// regex matching.
func ClassifyIntent(question string) Intent {
	switch {
	case summaryPattern.MatchString(question):
		return IntentSummary
	case excerptPattern.MatchString(question):
		return IntentExcerpt
	case contentPattern.MatchString(question):
		return IntentContent
	default:
		return IntentGeneric
	}
}

// instructionFor returns the instruction block for an intent.
func instructionFor(intent Intent) string {
	switch intent {
	case IntentSummary:
		return "Summarize the relevant information from the sources below in a few concise paragraphs. Cover the main points; do not quote at length."
	case IntentExcerpt:
		return "Answer by quoting the most relevant passages from the sources below verbatim. Introduce each quote with its source citation."
	case IntentContent:
		return "Explain the answer using only the information in the sources below. Be precise and cite the source of each claim."
	default:
		return "Answer the question using only the information in the sources below. If the sources do not contain the answer, say so."
	}
}
