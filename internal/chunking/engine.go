package chunking

import (
	"context"
	"log/slog"
	"unicode"

	"github.com/google/uuid"

	"docqa-ai/internal/apperr"
	"docqa-ai/internal/contextutil"
	"docqa-ai/internal/facts"
)

// FactExtractor extracts facts from chunk text.
type FactExtractor interface {
	Extract(ctx context.Context, text string, opts facts.Options) []facts.Fact
}

// Engine splits pages into page-bounded chunks.
type Engine struct {
	tokenizer Tokenizer
	extractor FactExtractor
	newID     func() string
}

// NewEngine creates a chunking engine. A nil tokenizer means
// HeuristicTokenizer; a nil extractor disables fact extraction.
func NewEngine(tokenizer Tokenizer, extractor FactExtractor) *Engine {
	if tokenizer == nil {
		tokenizer = HeuristicTokenizer{}
	}
	return &Engine{
		tokenizer: tokenizer,
		extractor: extractor,
		newID:     uuid.NewString,
	}
}

// getLogger extracts logger from context or returns default logger.
func getLogger(ctx context.Context) *slog.Logger {
	return contextutil.LoggerFromContext(ctx).With("component", "chunking")
}

// span is a page-relative byte range together with the word indices it covers.
type span struct {
	start, end         int
	firstWord, endWord int
	tokens             int
}

type word struct {
	start, end int
	cost       int
}

// Chunk splits pages into chunks. Pages are processed in order; chunk
// indices are contiguous across the document. In dual-layer mode each
// page emits its context chunks followed by its detail chunks.
func (e *Engine) Chunk(ctx context.Context, pages []Page, documentID, userID string, opts Options) ([]Chunk, error) {
	if documentID == "" {
		return nil, apperr.Invalid("documentId", "must not be empty")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	for _, p := range pages {
		if p.PageNumber < 1 {
			return nil, apperr.Invalid("pageNumber", "must be at least 1")
		}
	}

	logger := getLogger(ctx)
	var chunks []Chunk
	index := 0

	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		words := e.words(page.Text)
		if len(words) == 0 {
			logger.DebugContext(ctx, "skipping empty page", "document_id", documentID, "page", page.PageNumber)
			continue
		}

		contextSpans := e.split(ctx, words, opts.ChunkSizeTokens, opts.OverlapTokens, page.Text, opts.PreserveSentenceBoundaries)
		contextIDs := make([]string, len(contextSpans))
		for i, s := range contextSpans {
			c := e.newChunk(page, s, documentID, userID, index, ContextLayer{})
			if opts.ExtractFacts && !opts.DualLayer {
				c.Facts = e.extractFacts(ctx, c.Text, opts.FactOptions)
			}
			contextIDs[i] = c.ID
			chunks = append(chunks, c)
			index++
		}

		if !opts.DualLayer {
			continue
		}

		detailSpans := e.split(ctx, words, opts.DetailChunkSizeTokens, opts.DetailOverlapTokens, page.Text, opts.PreserveSentenceBoundaries)
		for _, s := range detailSpans {
			parent := contextIDs[parentSpan(contextSpans, s)]
			c := e.newChunk(page, s, documentID, userID, index, DetailLayer{Parent: parent})
			c.Facts = e.extractFacts(ctx, c.Text, opts.FactOptions)
			chunks = append(chunks, c)
			index++
		}
	}

	logger.InfoContext(ctx, "chunked document",
		"document_id", documentID,
		"pages", len(pages),
		"chunks", len(chunks),
		"dual_layer", opts.DualLayer,
	)
	return chunks, nil
}

func (e *Engine) newChunk(page Page, s span, documentID, userID string, index int, layer Layer) Chunk {
	return Chunk{
		ID:            e.newID(),
		DocumentID:    documentID,
		UserID:        userID,
		ChunkIndex:    index,
		Layer:         layer,
		Text:          page.Text[s.start:s.end],
		TokenCount:    s.tokens,
		PageNumber:    page.PageNumber,
		PositionStart: s.start,
		PositionEnd:   s.end,
		SectionTitle:  page.SectionTitle,
	}
}

func (e *Engine) extractFacts(ctx context.Context, text string, opts facts.Options) []facts.Fact {
	if e.extractor == nil {
		return nil
	}
	return e.extractor.Extract(ctx, text, opts)
}

// words returns the whitespace-separated words of text with their costs.
func (e *Engine) words(text string) []word {
	var out []word
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, word{start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, word{start: start, end: len(text)})
	}
	for i := range out {
		out[i].cost = e.tokenizer.Count(text[out[i].start:out[i].end])
	}
	return out
}

// split cuts one page's words into spans of at most size tokens. Each span
// after the first is seeded with up to overlap tokens of trailing words from
// the previous span, then filled with new words. At least one new word is
// consumed per span so the loop always progresses.
func (e *Engine) split(ctx context.Context, words []word, size, overlap int, text string, snap bool) []span {
	total := 0
	for _, w := range words {
		total += w.cost
	}
	if total <= size {
		return []span{{start: words[0].start, end: words[len(words)-1].end, firstWord: 0, endWord: len(words), tokens: total}}
	}

	var spans []span
	next := 0
	for next < len(words) {
		first := next
		tokens := 0
		if len(spans) > 0 && overlap > 0 {
			prev := spans[len(spans)-1]
			budget := overlap
			for first-1 > prev.firstWord && words[first-1].cost <= budget {
				budget -= words[first-1].cost
				tokens += words[first-1].cost
				first--
			}
		}

		end := next
		if len(spans) == maxChunksPerPage-1 {
			// Last permitted span takes the remainder.
			getLogger(ctx).WarnContext(ctx, "chunk cap reached, final chunk exceeds size", "cap", maxChunksPerPage, "remaining_words", len(words)-next)
			for ; end < len(words); end++ {
				tokens += words[end].cost
			}
		} else {
			for end < len(words) && (end == next || tokens+words[end].cost <= size) {
				tokens += words[end].cost
				end++
			}
			if snap && end < len(words) {
				end, tokens = snapToSentence(e.tokenizer, words, text, next, end, tokens)
			}
		}

		spans = append(spans, span{
			start:     words[first].start,
			end:       words[end-1].end,
			firstWord: first,
			endWord:   end,
			tokens:    tokens,
		})
		next = end
	}
	return spans
}

// snapToSentence moves the cut back to the last sentence-ending word in the
// latter half of the newly consumed words [next, end).
func snapToSentence(tok Tokenizer, words []word, text string, next, end, tokens int) (int, int) {
	floor := next + (end-next)/2
	for k := end - 1; k >= floor; k-- {
		if tok.EndsSentence(text[words[k].start:words[k].end]) {
			for j := k + 1; j < end; j++ {
				tokens -= words[j].cost
			}
			return k + 1, tokens
		}
	}
	return end, tokens
}

// parentSpan returns the index of the first context span containing d, or
// failing that, the one overlapping it most.
func parentSpan(contexts []span, d span) int {
	best, bestOverlap := 0, -1
	for i, c := range contexts {
		if c.start <= d.start && d.end <= c.end {
			return i
		}
		lo, hi := max(c.start, d.start), min(c.end, d.end)
		if ov := hi - lo; ov > bestOverlap {
			best, bestOverlap = i, ov
		}
	}
	return best
}
