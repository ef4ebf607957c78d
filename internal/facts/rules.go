package facts

import (
	"regexp"
	"strings"
)

// rule is one regex-driven extractor. Rules run in declaration order and all
// of them run; overlaps are expected.
type rule struct {
	typ        Type
	confidence float64
	patterns   []*regexp.Regexp
	// sentence captures the enclosing sentence as context instead of a fixed radius.
	sentence bool
	build    func(text string, m []int) (value, unit string)
}

const number = `\d+(?:\.\d+)?`

var monthNames = `(?:Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|June?|July?|Aug(?:ust)?|Sep(?:t(?:ember)?)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)`

var rules = []rule{
	{
		typ:        TypeMeasurement,
		confidence: 0.8,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(` + number + `)\s*(mm|cm|km|m|µm|in|ft|yd|mi|kg|mg|g|lbs?|oz|kN|N|Nm|mV|kV|V|mA|A|kW|MW|W|GHz|MHz|kHz|Hz|ms|s|min|hrs?|mL|L|gal|kts?|knots|nm)\b`),
		},
		build: func(text string, m []int) (string, string) {
			return group(text, m, 1), group(text, m, 2)
		},
	},
	{
		typ:        TypeTolerance,
		confidence: 0.9,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(±|\+/-|\+-)\s*(` + number + `)\s*(?:(mm|cm|µm|um|in|mils?|deg|m)\b|(°|%))?`),
		},
		build: func(text string, m []int) (string, string) {
			return "±" + group(text, m, 2), group(text, m, 3) + group(text, m, 4)
		},
	},
	{
		typ:        TypeTemperature,
		confidence: 0.9,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(-?` + number + `)\s*(?:°|º|deg\.?|degrees?)\s*(C|F|K|Celsius|Fahrenheit|Kelvin)\b`),
		},
		build: func(text string, m []int) (string, string) {
			return group(text, m, 1), group(text, m, 2)[:1]
		},
	},
	{
		typ:        TypePressure,
		confidence: 0.85,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(` + number + `)\s*(psig|psia|psi|kPa|MPa|hPa|Pa|mbar|bar|atm|mmHg|inHg)\b`),
		},
		build: func(text string, m []int) (string, string) {
			return group(text, m, 1), group(text, m, 2)
		},
	},
	{
		typ:        TypeDimension,
		confidence: 0.8,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(` + number + `)\s*[x×X]\s*(` + number + `)(?:\s*[x×X]\s*(` + number + `))?\s*(mm|cm|m|in|ft)?\b`),
		},
		build: func(text string, m []int) (string, string) {
			parts := []string{group(text, m, 1), group(text, m, 2)}
			if third := group(text, m, 3); third != "" {
				parts = append(parts, third)
			}
			return strings.Join(parts, "x"), group(text, m, 4)
		},
	},
	{
		typ:        TypeDate,
		confidence: 0.75,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4})\b`),
			regexp.MustCompile(`\b(` + monthNames + `\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4})\b`),
			regexp.MustCompile(`\b(\d{1,2}\s+` + monthNames + `\.?\s+\d{4})\b`),
		},
		build: func(text string, m []int) (string, string) {
			return group(text, m, 1), ""
		},
	},
	{
		typ:        TypeTime,
		confidence: 0.7,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(\d{1,2}:\d{2}(?::\d{2})?)(?:\s*([AaPp][Mm]))?\b`),
		},
		build: func(text string, m []int) (string, string) {
			return group(text, m, 1), strings.ToUpper(group(text, m, 2))
		},
	},
	{
		typ:        TypeRequirement,
		confidence: 0.85,
		sentence:   true,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(shall not|must not|shall|must|is required to|are required to|is mandatory|are mandatory)\b`),
		},
		build: func(text string, m []int) (string, string) {
			return strings.ToLower(group(text, m, 1)), ""
		},
	},
	{
		typ:        TypeDefinition,
		confidence: 0.8,
		sentence:   true,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b([A-Z][A-Za-z0-9-]*(?:\s+[A-Za-z0-9-]+){0,4})\s+(?:is defined as|means|refers to|shall mean|stands for)\s+([^.;\n]+)`),
			regexp.MustCompile(`\b((?:[A-Z][a-z]+\s+){1,5}[A-Z][a-z]+)\s*\(([A-Z][A-Z0-9]{1,9})\)`),
		},
		build: func(text string, m []int) (string, string) {
			term, meaning := strings.TrimSpace(group(text, m, 1)), strings.TrimSpace(group(text, m, 2))
			if isAcronym(meaning) {
				// Expansion (ACRONYM): the acronym is the defined term.
				term, meaning = meaning, term
			}
			return term + ": " + meaning, ""
		},
	},
	{
		typ:        TypeReference,
		confidence: 0.6,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(Section|Sec\.|Chapter|Ch\.|Appendix|Annex|Table|Figure|Fig\.|Paragraph|Para\.|Clause)\s+([A-Z]?\d+(?:[.-]\d+)*[a-z]?|[A-Z])\b`),
			regexp.MustCompile(`(§)\s*(\d+(?:\.\d+)*)`),
		},
		build: func(text string, m []int) (string, string) {
			return group(text, m, 1) + " " + group(text, m, 2), ""
		},
	},
	{
		typ:        TypeSpecification,
		confidence: 0.5,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(` + number + `)\s*(?:-|–|to)\s*(` + number + `)(?:\s*(%|°[CF]?|[A-Za-z]{1,4}\b))?`),
		},
		build: func(text string, m []int) (string, string) {
			return group(text, m, 1) + "-" + group(text, m, 2), group(text, m, 3)
		},
	},
}

// group returns submatch i of a FindAllStringSubmatchIndex result, or "".
func group(text string, m []int, i int) string {
	if 2*i+1 >= len(m) || m[2*i] < 0 {
		return ""
	}
	return text[m[2*i]:m[2*i+1]]
}

func isAcronym(s string) bool {
	if len(s) < 2 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
