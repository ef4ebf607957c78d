// Package extract turns uploaded document bytes into per-page text.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"docqa-ai/internal/apperr"
	"docqa-ai/internal/chunking"
)

// Extractor yields the pages of a document in order. Pages it cannot read
// come back with empty text rather than an error.
type Extractor interface {
	ExtractPages(ctx context.Context, content []byte) ([]chunking.Page, error)
}

// ForFilename picks an extractor from the file extension.
func ForFilename(name string) (Extractor, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		return NewMarkdownExtractor(), nil
	case ".txt", ".text", "":
		return PlainTextExtractor{}, nil
	case ".pdf":
		return nil, apperr.Invalid("file", "pdf files must be converted to text first (pdftotext keeps page breaks)")
	default:
		return nil, apperr.Invalid("file", fmt.Sprintf("unsupported file type %q", filepath.Ext(name)))
	}
}

// PlainTextExtractor splits text on form feeds, the page separator written
// by pdftotext.
type PlainTextExtractor struct{}

// ExtractPages implements Extractor.
func (PlainTextExtractor) ExtractPages(ctx context.Context, content []byte) ([]chunking.Page, error) {
	if len(strings.TrimSpace(string(content))) == 0 {
		return nil, apperr.Invalid("content", "document is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw := strings.Split(string(content), "\f")
	// pdftotext terminates the last page with a form feed too.
	if len(raw) > 1 && strings.TrimSpace(raw[len(raw)-1]) == "" {
		raw = raw[:len(raw)-1]
	}

	pages := make([]chunking.Page, len(raw))
	section := ""
	for i, text := range raw {
		if title := headingLine(text); title != "" {
			section = title
		}
		pages[i] = chunking.Page{PageNumber: i + 1, Text: text, SectionTitle: section}
	}
	return pages, nil
}

var (
	numberedHeading = regexp.MustCompile(`^(?:\d+(?:\.\d+)*\.?|[A-Z]\.|(?i:chapter|section|appendix)\s+\S+)\s+\S`)
	upperHeading    = regexp.MustCompile(`^[A-Z][A-Z0-9 ,:&/()-]{2,}$`)
)

// headingLine returns the first non-empty line of a page when it looks like
// a heading: short, no sentence terminator, and numbered or upper case.
func headingLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > 80 || strings.HasSuffix(line, ".") {
			return ""
		}
		if numberedHeading.MatchString(line) || upperHeading.MatchString(line) {
			return line
		}
		return ""
	}
	return ""
}

// Supported reports whether ForFilename accepts name.
func Supported(name string) bool {
	_, err := ForFilename(name)
	return err == nil
}
