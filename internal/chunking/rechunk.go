package chunking

import (
	"context"
	"sort"
	"strings"

	"docqa-ai/internal/apperr"
)

// Rechunk rebuilds page text from existing context-layer chunks and chunks
// it again with opts. Chunk text is written back at its page offsets and
// gaps are padded with spaces, so the recovered words keep their positions.
// Detail chunks are ignored because they cover the same text.
func (e *Engine) Rechunk(ctx context.Context, chunks []Chunk, opts Options) ([]Chunk, error) {
	pages, documentID, userID, err := RecoverPages(chunks)
	if err != nil {
		return nil, err
	}
	return e.Chunk(ctx, pages, documentID, userID, opts)
}

// RecoverPages reconstructs per-page text from a document's context chunks.
func RecoverPages(chunks []Chunk) ([]Page, string, string, error) {
	var source []Chunk
	for _, c := range chunks {
		if !c.IsDetail() {
			source = append(source, c)
		}
	}
	if len(source) == 0 {
		return nil, "", "", apperr.Invalid("chunks", "no context-layer chunks to recombine")
	}

	documentID, userID := source[0].DocumentID, source[0].UserID
	for _, c := range source {
		if c.DocumentID != documentID {
			return nil, "", "", apperr.Invalid("chunks", "chunks belong to more than one document")
		}
		if c.PositionStart < 0 || c.PositionEnd < c.PositionStart || c.PositionEnd-c.PositionStart != len(c.Text) {
			return nil, "", "", apperr.Invalid("chunks", "chunk span does not match its text")
		}
	}

	sorted := make([]Chunk, len(source))
	copy(sorted, source)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ChunkIndex < sorted[j].ChunkIndex
	})

	type pageBuf struct {
		number  int
		section string
		buf     []byte
	}
	var order []*pageBuf
	byNumber := make(map[int]*pageBuf)

	for _, c := range sorted {
		pb, ok := byNumber[c.PageNumber]
		if !ok {
			pb = &pageBuf{number: c.PageNumber, section: c.SectionTitle}
			byNumber[c.PageNumber] = pb
			order = append(order, pb)
		}
		if need := c.PositionEnd; need > len(pb.buf) {
			pb.buf = append(pb.buf, []byte(strings.Repeat(" ", need-len(pb.buf)))...)
		}
		copy(pb.buf[c.PositionStart:c.PositionEnd], c.Text)
	}

	pages := make([]Page, len(order))
	for i, pb := range order {
		pages[i] = Page{PageNumber: pb.number, Text: string(pb.buf), SectionTitle: pb.section}
	}
	return pages, documentID, userID, nil
}
