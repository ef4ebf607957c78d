package facts

// Type classifies an extracted fact.
type Type string

const (
	TypeMeasurement   Type = "measurement"
	TypeTolerance     Type = "tolerance"
	TypeTemperature   Type = "temperature"
	TypePressure      Type = "pressure"
	TypeDimension     Type = "dimension"
	TypeDate          Type = "date"
	TypeTime          Type = "time"
	TypeRequirement   Type = "requirement"
	TypeDefinition    Type = "definition"
	TypeReference     Type = "reference"
	TypeSpecification Type = "specification"
)

// Valid reports whether t is one of the known fact types.
func (t Type) Valid() bool {
	switch t {
	case TypeMeasurement, TypeTolerance, TypeTemperature, TypePressure, TypeDimension,
		TypeDate, TypeTime, TypeRequirement, TypeDefinition, TypeReference, TypeSpecification:
		return true
	}
	return false
}

// Position is a byte span within the text a fact was extracted from.
type Position struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Fact is a structured value extracted from chunk text. Facts are advisory:
// rules may overlap and duplicates across rules are kept.
type Fact struct {
	Type       Type     `json:"type"`
	Value      string   `json:"value"`
	Unit       string   `json:"unit,omitempty"`
	Context    string   `json:"context"`
	Confidence float64  `json:"confidence"`
	Position   Position `json:"position"`
}

// Options controls a single extraction.
type Options struct {
	// UseLLM adds model-extracted facts on top of rule matches.
	UseLLM bool `yaml:"facts_use_llm"`
	// MinConfidence drops facts below this confidence.
	MinConfidence float64 `yaml:"facts_min_confidence"`
	// ContextRadius is the number of characters captured on each side of a match.
	// Zero means DefaultContextRadius.
	ContextRadius int `yaml:"facts_context_radius"`
}

const (
	// DefaultContextRadius is the snippet radius around a rule match.
	DefaultContextRadius = 50
	// LLMConfidence is the fixed confidence of model-extracted facts.
	LLMConfidence = 0.7
)

// GroupByType buckets facts by type, preserving extraction order within each bucket.
func GroupByType(facts []Fact) map[Type][]Fact {
	grouped := make(map[Type][]Fact)
	for _, f := range facts {
		grouped[f.Type] = append(grouped[f.Type], f)
	}
	return grouped
}
