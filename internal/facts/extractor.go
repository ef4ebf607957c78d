package facts

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"docqa-ai/internal/contextutil"
	"docqa-ai/internal/llm"
)

// Extractor pulls structured facts out of chunk text with regex rules and,
// optionally, an LLM pass.
type Extractor struct {
	generator llm.Generator
}

// NewExtractor creates an extractor. generator may be nil, in which case
// UseLLM is ignored.
func NewExtractor(generator llm.Generator) *Extractor {
	return &Extractor{generator: generator}
}

// getLogger extracts logger from context or returns default logger.
func getLogger(ctx context.Context) *slog.Logger {
	return contextutil.LoggerFromContext(ctx).With("component", "facts")
}

// Extract runs every rule over text and returns facts at or above
// opts.MinConfidence, grouped by type in rule order. LLM failures are
// swallowed: the rule facts are returned unchanged.
func (e *Extractor) Extract(ctx context.Context, text string, opts Options) []Fact {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	radius := opts.ContextRadius
	if radius <= 0 {
		radius = DefaultContextRadius
	}

	var out []Fact
	for _, r := range rules {
		for _, re := range r.patterns {
			for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
				value, unit := r.build(text, m)
				if value == "" {
					continue
				}
				start, end := m[0], m[1]
				var snippet string
				if r.sentence {
					snippet = enclosingSentence(text, start, end)
				} else {
					snippet = window(text, start, end, radius)
				}
				out = append(out, Fact{
					Type:       r.typ,
					Value:      value,
					Unit:       unit,
					Context:    snippet,
					Confidence: r.confidence,
					Position:   Position{Start: start, End: end},
				})
			}
		}
	}

	if opts.UseLLM && e.generator != nil {
		modelFacts, err := e.extractWithLLM(ctx, text, radius)
		if err != nil {
			getLogger(ctx).DebugContext(ctx, "llm fact extraction skipped", "error", err)
		} else {
			out = append(out, modelFacts...)
		}
	}

	filtered := out[:0]
	for _, f := range out {
		if f.Confidence >= opts.MinConfidence {
			filtered = append(filtered, f)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return typeRank[filtered[i].Type] < typeRank[filtered[j].Type]
	})
	return filtered
}

var typeRank = func() map[Type]int {
	rank := make(map[Type]int, len(rules))
	for i, r := range rules {
		if _, ok := rank[r.typ]; !ok {
			rank[r.typ] = i
		}
	}
	return rank
}()

// window returns text within radius bytes of [start,end), widened to rune
// boundaries and trimmed.
func window(text string, start, end, radius int) string {
	lo := start - radius
	if lo < 0 {
		lo = 0
	}
	hi := end + radius
	if hi > len(text) {
		hi = len(text)
	}
	for lo > 0 && !utf8.RuneStart(text[lo]) {
		lo--
	}
	for hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi++
	}
	return strings.TrimSpace(text[lo:hi])
}

// enclosingSentence returns the sentence containing [start,end). A period
// only ends a sentence when followed by whitespace, so decimals stay intact.
func enclosingSentence(text string, start, end int) string {
	lo := start
	for lo > 0 {
		c := text[lo-1]
		if c == '\n' {
			break
		}
		if (c == '.' || c == '!' || c == '?') && lo < len(text) && isSpace(text[lo]) {
			break
		}
		lo--
	}
	hi := end
	for hi < len(text) {
		c := text[hi]
		if c == '\n' {
			break
		}
		if c == '.' || c == '!' || c == '?' {
			if hi+1 == len(text) || isSpace(text[hi+1]) {
				hi++
				break
			}
		}
		hi++
	}
	return strings.TrimSpace(text[lo:hi])
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
