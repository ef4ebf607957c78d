package chunking_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-ai/internal/apperr"
	"docqa-ai/internal/chunking"
)

type spanKey struct {
	page, start, end, tokens int
	text                     string
}

func spans(chunks []chunking.Chunk) []spanKey {
	out := make([]spanKey, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, spanKey{c.PageNumber, c.PositionStart, c.PositionEnd, c.TokenCount, c.Text})
	}
	return out
}

func totalTokens(chunks []chunking.Chunk) int {
	n := 0
	for _, c := range chunks {
		n += c.TokenCount
	}
	return n
}

func rechunkPages() []chunking.Page {
	return []chunking.Page{
		{PageNumber: 1, Text: "\n  " + sentences(30) + "\n\nTrailing notes here", SectionTitle: "Overview"},
		{PageNumber: 2, Text: numberedWords(70)},
		{PageNumber: 5, Text: "Page five is short."},
	}
}

func TestEngine_Rechunk_Idempotent(t *testing.T) {
	engine := chunking.NewEngine(nil, nil)
	pages := rechunkPages()
	opts := singleLayer(25, 5, true)

	original, err := engine.Chunk(context.Background(), pages, "doc-1", "user-1", opts)
	require.NoError(t, err)

	rechunked, err := engine.Rechunk(context.Background(), original, opts)
	require.NoError(t, err)

	assert.Equal(t, spans(original), spans(rechunked))
	assert.Equal(t, totalTokens(original), totalTokens(rechunked))
	for _, c := range rechunked {
		assert.Equal(t, "doc-1", c.DocumentID)
		assert.Equal(t, "user-1", c.UserID)
	}
	assert.Equal(t, "Overview", rechunked[0].SectionTitle)
}

func TestEngine_Rechunk_Reparameterizes(t *testing.T) {
	engine := chunking.NewEngine(nil, nil)
	pages := rechunkPages()

	coarse, err := engine.Chunk(context.Background(), pages, "doc-1", "user-1", chunking.DefaultOptions())
	require.NoError(t, err)

	fine := singleLayer(10, 2, true)
	rechunked, err := engine.Rechunk(context.Background(), coarse, fine)
	require.NoError(t, err)

	direct, err := engine.Chunk(context.Background(), pages, "doc-1", "user-1", fine)
	require.NoError(t, err)

	assert.Equal(t, spans(direct), spans(rechunked))
	assertPageBoundaries(t, pages, rechunked)
	assertContiguous(t, rechunked)
}

func TestRecoverPages(t *testing.T) {
	chunks := []chunking.Chunk{
		{ID: "b", DocumentID: "d", ChunkIndex: 1, Layer: chunking.ContextLayer{}, Text: "world", PageNumber: 1, PositionStart: 8, PositionEnd: 13},
		{ID: "a", DocumentID: "d", ChunkIndex: 0, Layer: chunking.ContextLayer{}, Text: "hello", PageNumber: 1, PositionStart: 2, PositionEnd: 7},
		{ID: "x", DocumentID: "d", ChunkIndex: 2, Layer: chunking.DetailLayer{Parent: "a"}, Text: "ignored", PageNumber: 1, PositionStart: 0, PositionEnd: 7},
	}

	pages, docID, _, err := chunking.RecoverPages(chunks)
	require.NoError(t, err)
	assert.Equal(t, "d", docID)
	require.Len(t, pages, 1)
	assert.Equal(t, "  hello world", pages[0].Text)
}

func TestRecoverPages_Errors(t *testing.T) {
	tests := []struct {
		name   string
		chunks []chunking.Chunk
	}{
		{"no chunks", nil},
		{"only detail chunks", []chunking.Chunk{{DocumentID: "d", Layer: chunking.DetailLayer{Parent: "p"}, Text: "x", PositionEnd: 1}}},
		{"mixed documents", []chunking.Chunk{
			{DocumentID: "d1", Text: "x", PositionEnd: 1},
			{DocumentID: "d2", Text: "y", PositionEnd: 1},
		}},
		{"span mismatch", []chunking.Chunk{{DocumentID: "d", Text: "xyz", PositionStart: 0, PositionEnd: 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := chunking.RecoverPages(tt.chunks)
			assert.True(t, errors.Is(err, apperr.ErrValidation), "got %v", err)
		})
	}
}
