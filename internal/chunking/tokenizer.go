package chunking

import (
	"strings"
	"unicode/utf8"
)

// Tokenizer estimates token counts and detects sentence ends. Count must be
// additive over whitespace-separated words so that span costs can be summed.
type Tokenizer interface {
	Count(text string) int
	EndsSentence(word string) bool
}

// HeuristicTokenizer charges ceil(runes/4) per word.
type HeuristicTokenizer struct{}

// Count returns the estimated token count of text.
func (HeuristicTokenizer) Count(text string) int {
	total := 0
	for _, w := range strings.Fields(text) {
		total += (utf8.RuneCountInString(w) + 3) / 4
	}
	return total
}

// EndsSentence reports whether word ends with '.', '!' or '?', ignoring
// trailing quotes and closing brackets.
func (HeuristicTokenizer) EndsSentence(word string) bool {
	w := strings.TrimRight(word, `"')]}’”`)
	if w == "" {
		return false
	}
	switch w[len(w)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
