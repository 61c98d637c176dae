package ingest

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/altiviz/datachat/internal/chunker"
)

// TextExtractor handles plain-text formats. Form feeds are treated as
// page breaks so text dumps of paginated sources keep their page numbers.
type TextExtractor struct{}

// NewTextExtractor returns the default extractor.
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true,
	".csv": true, ".log": true, ".json": true,
}

// Extract decodes the upload as UTF-8 text. Non-text extensions are
// rejected; invalid byte sequences trigger the fallback decode, which
// strips them and flags the extraction as degraded.
func (e *TextExtractor) Extract(data []byte, name string) (*Extraction, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != "" && !textExtensions[ext] {
		return nil, fmt.Errorf("unsupported file type %q", ext)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("file is empty")
	}

	usedFallback := false
	if !utf8.Valid(data) {
		data = bytes.ToValidUTF8(data, nil)
		usedFallback = true
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, fmt.Errorf("file is not valid text")
		}
	}

	var pages []chunker.Page
	for i, part := range strings.Split(string(data), "\f") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		pages = append(pages, chunker.Page{Number: i + 1, Text: part})
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("file is empty")
	}

	return &Extraction{Pages: pages, UsedFallback: usedFallback}, nil
}
