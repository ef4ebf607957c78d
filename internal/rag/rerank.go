package rag

import (
	"sort"
	"strings"
	"unicode"

	"docqa-ai/internal/search"
)

const (
	lexicalLengthScale = 10.0
	maxLexicalScore    = 0.4
	sectionMatchBonus  = 0.1
	// lexicalWeight keeps the lexical signal below typical similarity gaps,
	// so it reorders only near-ties.
	lexicalWeight = 0.05
)

var lexicalStopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {}, "by": {},
	"does": {}, "do": {}, "for": {}, "from": {}, "has": {}, "have": {}, "how": {}, "in": {},
	"is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"what": {}, "when": {}, "which": {}, "with": {},
}

// ranked is a search result with its re-ranking scores.
type ranked struct {
	search.Result
	lexical float64
	final   float64
}

// rerank orders results by similarity plus a small lexical bonus.
func rerank(query string, results []search.Result) []ranked {
	queryTokens := filterStopwords(tokenize(query))
	out := make([]ranked, len(results))
	for i, r := range results {
		lex := lexicalScore(queryTokens, r.Text, r.SectionTitle)
		out[i] = ranked{Result: r, lexical: lex, final: r.Similarity + lexicalWeight*lex}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].final != out[j].final {
			return out[i].final > out[j].final
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

// lexicalScore computes a lightweight lexical relevance score for a chunk.
// The score stays in [0, maxLexicalScore].
func lexicalScore(queryTokens []string, chunkText, sectionTitle string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}

	chunkTokens := tokenize(chunkText)
	if len(chunkTokens) == 0 {
		return 0
	}

	chunkFreq := make(map[string]int, len(chunkTokens))
	for _, token := range chunkTokens {
		chunkFreq[token]++
	}

	var rawMatches int
	for _, token := range queryTokens {
		rawMatches += chunkFreq[token]
	}

	score := float64(rawMatches) / (1 + float64(len(chunkTokens))) * lexicalLengthScale

	if sectionTitle != "" {
		sectionSet := make(map[string]struct{})
		for _, token := range tokenize(sectionTitle) {
			sectionSet[token] = struct{}{}
		}
		for _, token := range queryTokens {
			if _, ok := sectionSet[token]; ok {
				score += sectionMatchBonus
			}
		}
	}

	return min(score, maxLexicalScore)
}

func tokenize(text string) []string {
	if text == "" {
		return nil
	}
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func filterStopwords(tokens []string) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := lexicalStopwords[token]; isStop {
			continue
		}
		result = append(result, token)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
