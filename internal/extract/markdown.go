package extract

import (
	"context"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"docqa-ai/internal/apperr"
	"docqa-ai/internal/chunking"
)

// MarkdownExtractor parses markdown with goldmark. Thematic breaks (---)
// separate pages and the first heading on a page becomes its section title;
// pages without a heading inherit the previous one.
type MarkdownExtractor struct {
	parser goldmark.Markdown
}

// NewMarkdownExtractor creates a markdown extractor with table support.
func NewMarkdownExtractor() *MarkdownExtractor {
	return &MarkdownExtractor{
		parser: goldmark.New(
			goldmark.WithExtensions(extension.Table),
		),
	}
}

type pageBuilder struct {
	blocks  []string
	heading string
}

// ExtractPages implements Extractor.
func (m *MarkdownExtractor) ExtractPages(ctx context.Context, content []byte) ([]chunking.Page, error) {
	if len(strings.TrimSpace(string(content))) == 0 {
		return nil, apperr.Invalid("content", "document is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc := m.parser.Parser().Parse(text.NewReader(content))

	var built []*pageBuilder
	current := &pageBuilder{}
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if _, ok := n.(*ast.ThematicBreak); ok {
			built = append(built, current)
			current = &pageBuilder{}
			continue
		}
		if h, ok := n.(*ast.Heading); ok && current.heading == "" {
			current.heading = nodeText(h, content)
		}
		if block := blockText(n, content); block != "" {
			current.blocks = append(current.blocks, block)
		}
	}
	built = append(built, current)

	pages := make([]chunking.Page, 0, len(built))
	section := ""
	for _, b := range built {
		if b.heading != "" {
			section = b.heading
		}
		pages = append(pages, chunking.Page{
			PageNumber:   len(pages) + 1,
			Text:         strings.Join(b.blocks, "\n\n"),
			SectionTitle: section,
		})
	}
	return pages, nil
}

// blockText renders a top-level block as plain text.
func blockText(n ast.Node, src []byte) string {
	switch node := n.(type) {
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		var sb strings.Builder
		lines := node.Lines()
		for i := 0; i < lines.Len(); i++ {
			line := lines.At(i)
			sb.Write(line.Value(src))
		}
		return strings.TrimRight(sb.String(), "\n")
	case *ast.List:
		var items []string
		for item := node.FirstChild(); item != nil; item = item.NextSibling() {
			items = append(items, "- "+nodeText(item, src))
		}
		return strings.Join(items, "\n")
	case *extast.Table:
		var rows []string
		for row := node.FirstChild(); row != nil; row = row.NextSibling() {
			rows = append(rows, tableRowText(row, src))
		}
		return strings.Join(rows, "\n")
	case *ast.HTMLBlock:
		return ""
	default:
		return nodeText(n, src)
	}
}

// nodeText collects the inline text of n and its children. Soft line breaks
// become spaces.
func nodeText(n ast.Node, src []byte) string {
	var sb strings.Builder

	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if _, ok := node.(*ast.Paragraph); ok && node.NextSibling() != nil {
				sb.WriteString(" ")
			}
			return ast.WalkContinue, nil
		}

		switch v := node.(type) {
		case *ast.Text:
			sb.Write(v.Segment.Value(src))
			if v.HardLineBreak() {
				sb.WriteString("\n")
			} else if v.SoftLineBreak() {
				sb.WriteString(" ")
			}
		case *ast.String:
			sb.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(sb.String())
}

// tableRowText formats a table row with pipe separators.
func tableRowText(row ast.Node, src []byte) string {
	var cells []string
	for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
		cells = append(cells, nodeText(cell, src))
	}
	return strings.Join(cells, " | ")
}
