package rag

import (
	"sort"
	"strings"
	"unicode/utf8"

	"docqa-ai/internal/chunking"
)

// assembleContext picks up to maxSources chunks within budget tokens. The
// first pass takes the best chunk of each document, the second fills the
// remaining slots in rank order. The selection keeps rank order.
func assembleContext(candidates []ranked, maxSources, budget int, tok chunking.Tokenizer) ([]ranked, int) {
	if len(candidates) == 0 || maxSources <= 0 || budget <= 0 {
		return nil, 0
	}

	picked := make(map[int]ranked)
	used := 0
	take := func(i int) bool {
		c := candidates[i]
		cost := tok.Count(c.Text)
		if used+cost > budget {
			if len(picked) > 0 {
				return false
			}
			// The best chunk alone exceeds the budget: keep its head.
			c.Text = truncateTokens(c.Text, budget, tok)
			cost = tok.Count(c.Text)
		}
		picked[i] = c
		used += cost
		return true
	}

	seenDocs := make(map[string]bool)
	for i, c := range candidates {
		if len(picked) == maxSources {
			break
		}
		if seenDocs[c.DocumentID] {
			continue
		}
		if take(i) {
			seenDocs[c.DocumentID] = true
		}
	}
	for i := range candidates {
		if len(picked) == maxSources {
			break
		}
		if _, ok := picked[i]; ok {
			continue
		}
		take(i)
	}

	idx := make([]int, 0, len(picked))
	for i := range picked {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]ranked, len(idx))
	for n, i := range idx {
		out[n] = picked[i]
	}
	return out, used
}

// truncateTokens keeps the leading words of text that fit in budget tokens.
func truncateTokens(text string, budget int, tok chunking.Tokenizer) string {
	var b strings.Builder
	used := 0
	for _, w := range strings.Fields(text) {
		cost := tok.Count(w)
		if used+cost > budget {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
		used += cost
	}
	return b.String()
}

// excerpt shortens text to at most limit runes, cutting at a word boundary.
func excerpt(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:limit])
	if i := strings.LastIndexByte(cut, ' '); i > limit/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:") + "..."
}

// confidence scores an answer from its source similarities:
// 0.5*top + 0.3*mean + 0.2*min(n/3, 1), halved when degraded.
func confidence(sources []Source, degraded bool) float64 {
	if len(sources) == 0 {
		return 0
	}
	top, sum := 0.0, 0.0
	for _, s := range sources {
		top = max(top, s.Similarity)
		sum += s.Similarity
	}
	mean := sum / float64(len(sources))
	coverage := min(float64(len(sources))/3, 1)

	c := 0.5*top + 0.3*mean + 0.2*coverage
	if degraded {
		c /= 2
	}
	return min(max(c, 0), 1)
}
