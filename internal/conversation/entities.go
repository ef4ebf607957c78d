package conversation

import (
	"regexp"
	"strings"
)

var (
	acronymPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9]{1,9}s?\b`)
	// "Landing Signal Officer (LSO)"
	expansionBeforePattern = regexp.MustCompile(`\b((?:[A-Z][a-z]+\s+){1,5}[A-Z][a-z]+)\s*\(([A-Z][A-Z0-9]{1,9})\)`)
	// "LSO (Landing Signal Officer)"
	expansionAfterPattern = regexp.MustCompile(`\b([A-Z][A-Z0-9]{1,9})\s*\(((?:[A-Za-z][a-z]+\s+){1,5}[A-Za-z][a-z]+)\)`)
	// "LSO stands for Landing Signal Officer"
	expansionVerbPattern = regexp.MustCompile(`\b([A-Z][A-Z0-9]{1,9})\s+(?:stands for|means|is short for|is an?|is the)\s+((?:[A-Z][a-z]+\s+){1,5}[A-Z][a-z]+)`)
	phrasePattern        = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)+\b`)
	quotedPattern        = regexp.MustCompile(`["“]([^"”]{2,60})["”]`)
	sectionPattern       = regexp.MustCompile(`(?i)\b(?:section|chapter|appendix|table|figure)\s+\d+(?:\.\d+)*|§\s*\d+(?:\.\d+)*`)

	pronounPattern = regexp.MustCompile(`(?i)\b(the above|the former|the latter|the aforementioned|its|it|they|them)\b`)
	// Demonstratives count only when they stand alone, not as determiners
	// ("what does that mean", but not "the value that applies").
	deicticPattern = regexp.MustCompile(`(?i)\b(this|that|these|those)(?:\s*[?.!,]|\s*$|\s+(?:is|are|was|were|does|do|did|mean|means|work|works|say|says)\b)`)
)

// Words that are capitalized for grammatical reasons and never entities on
// their own.
var leadingStopwords = map[string]bool{
	"The": true, "A": true, "An": true, "What": true, "How": true, "Why": true,
	"When": true, "Where": true, "Which": true, "Who": true, "Can": true, "Could": true,
	"Does": true, "Do": true, "Is": true, "Are": true, "This": true, "That": true,
	"It": true, "Please": true, "Tell": true, "Explain": true, "Describe": true,
}

var notAcronyms = map[string]bool{"I": true, "OK": true, "A": true}

// harvested is one entity occurrence found in a message.
type harvested struct {
	typ       EntityType
	value     string
	expansion string
}

// harvestEntities extracts acronyms (with expansions), quoted terms,
// multi-word capitalized phrases and section references from text.
func harvestEntities(text string) []harvested {
	var out []harvested
	expansions := make(map[string]string)

	for _, m := range expansionBeforePattern.FindAllStringSubmatch(text, -1) {
		expansions[m[2]] = trimStopwords(m[1])
	}
	for _, m := range expansionAfterPattern.FindAllStringSubmatch(text, -1) {
		expansions[m[1]] = m[2]
	}
	for _, m := range expansionVerbPattern.FindAllStringSubmatch(text, -1) {
		expansions[m[1]] = m[2]
	}

	seen := make(map[string]bool)
	add := func(h harvested) {
		k := entityKey(h.typ, h.value)
		if h.value == "" || seen[k] {
			return
		}
		seen[k] = true
		out = append(out, h)
	}

	for _, a := range acronymPattern.FindAllString(text, -1) {
		a = strings.TrimSuffix(a, "s")
		if notAcronyms[a] || len(a) < 2 {
			continue
		}
		add(harvested{typ: EntityAcronym, value: a, expansion: expansions[a]})
	}
	for _, m := range quotedPattern.FindAllStringSubmatch(text, -1) {
		add(harvested{typ: EntityQuoted, value: strings.TrimSpace(m[1])})
	}
	for _, p := range phrasePattern.FindAllString(text, -1) {
		p = trimStopwords(p)
		if strings.Count(p, " ") < 1 {
			continue
		}
		add(harvested{typ: EntityPhrase, value: p})
	}
	for _, s := range sectionPattern.FindAllString(text, -1) {
		add(harvested{typ: EntitySection, value: strings.Join(strings.Fields(s), " ")})
	}
	return out
}

func trimStopwords(phrase string) string {
	words := strings.Fields(phrase)
	for len(words) > 0 && leadingStopwords[words[0]] {
		words = words[1:]
	}
	return strings.Join(words, " ")
}

// ContainsReferences reports whether query uses a pronoun or deictic phrase
// that may refer to an earlier turn.
func ContainsReferences(query string) bool {
	_, _, ok := referenceSpan(query)
	return ok
}

// referenceSpan returns the byte span of the first reference in query.
func referenceSpan(query string) (start, end int, ok bool) {
	start = -1
	for _, re := range []*regexp.Regexp{pronounPattern, deicticPattern} {
		if m := re.FindStringSubmatchIndex(query); m != nil && (start < 0 || m[2] < start) {
			start, end = m[2], m[3]
		}
	}
	return start, end, start >= 0
}
