package facts_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"docqa-ai/internal/facts"
	"docqa-ai/internal/llm/mocks"
)

func findFact(list []facts.Fact, typ facts.Type) (facts.Fact, bool) {
	for _, f := range list {
		if f.Type == typ {
			return f, true
		}
	}
	return facts.Fact{}, false
}

func TestExtract_ToleranceAndTemperature(t *testing.T) {
	text := "The tolerance is ±0.05mm at 25°C"
	got := facts.NewExtractor(nil).Extract(context.Background(), text, facts.Options{})

	tol, ok := findFact(got, facts.TypeTolerance)
	require.True(t, ok, "tolerance fact missing: %+v", got)
	assert.Equal(t, "±0.05", tol.Value)
	assert.Equal(t, "mm", tol.Unit)
	assert.Equal(t, 0.9, tol.Confidence)
	assert.Equal(t, "±0.05mm", text[tol.Position.Start:tol.Position.End])

	temp, ok := findFact(got, facts.TypeTemperature)
	require.True(t, ok, "temperature fact missing: %+v", got)
	assert.Equal(t, "25", temp.Value)
	assert.Equal(t, "C", temp.Unit)
	assert.Equal(t, 0.9, temp.Confidence)
	assert.Contains(t, temp.Context, "25°C")
}

func TestExtract_MinConfidence(t *testing.T) {
	text := "The tolerance is ±0.05mm at 25°C"
	got := facts.NewExtractor(nil).Extract(context.Background(), text, facts.Options{MinConfidence: 0.85})

	require.NotEmpty(t, got)
	for _, f := range got {
		assert.GreaterOrEqual(t, f.Confidence, 0.85, "fact %+v below threshold", f)
	}
	_, hasMeasurement := findFact(got, facts.TypeMeasurement)
	assert.False(t, hasMeasurement, "measurement (0.8) should be filtered out")
}

func TestExtract_GroupedByType(t *testing.T) {
	text := "Torque to 25 Nm. Ambient 20°C. Bolt spacing 40 mm. Keep below 30°C."
	got := facts.NewExtractor(nil).Extract(context.Background(), text, facts.Options{})

	seen := map[facts.Type]bool{}
	var prev facts.Type
	for _, f := range got {
		if f.Type != prev {
			assert.False(t, seen[f.Type], "type %s appears in two separate runs", f.Type)
			seen[f.Type] = true
			prev = f.Type
		}
	}
	assert.Len(t, facts.GroupByType(got)[facts.TypeTemperature], 2)
	assert.Len(t, facts.GroupByType(got)[facts.TypeMeasurement], 2)
}

func TestExtract_Rules(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		typ         facts.Type
		wantValue   string
		wantUnit    string
		wantContext string
	}{
		{
			name:        "requirement uses enclosing sentence",
			text:        "Check the deck. The pilot shall maintain 250 kts on approach. Then land.",
			typ:         facts.TypeRequirement,
			wantValue:   "shall",
			wantContext: "The pilot shall maintain 250 kts on approach.",
		},
		{
			name:        "acronym definition",
			text:        "Contact the Landing Signal Officer (LSO) before recovery.",
			typ:         facts.TypeDefinition,
			wantValue:   "LSO: Landing Signal Officer",
			wantContext: "Contact the Landing Signal Officer (LSO) before recovery.",
		},
		{
			name:      "section reference",
			text:      "See Section 3.2 for details.",
			typ:       facts.TypeReference,
			wantValue: "Section 3.2",
		},
		{
			name:      "pressure",
			text:      "Inflate to 35 psi before flight.",
			typ:       facts.TypePressure,
			wantValue: "35",
			wantUnit:  "psi",
		},
		{
			name:      "dimension",
			text:      "The panel measures 10 x 20 x 5 cm overall.",
			typ:       facts.TypeDimension,
			wantValue: "10x20x5",
			wantUnit:  "cm",
		},
		{
			name:      "iso date",
			text:      "Revised on 2024-03-15 by engineering.",
			typ:       facts.TypeDate,
			wantValue: "2024-03-15",
		},
		{
			name:      "clock time",
			text:      "Briefing starts at 14:30 daily.",
			typ:       facts.TypeTime,
			wantValue: "14:30",
		},
		{
			name:      "tolerance unit needs a word boundary",
			text:      "Hold the rail within ±5 meters of the line.",
			typ:       facts.TypeTolerance,
			wantValue: "±5",
		},
		{
			name:      "tolerance in metres",
			text:      "Gap is ±0.5 m at rest.",
			typ:       facts.TypeTolerance,
			wantValue: "±0.5",
			wantUnit:  "m",
		},
		{
			name:      "tolerance percent",
			text:      "Flow varies +/- 2% under load.",
			typ:       facts.TypeTolerance,
			wantValue: "±2",
			wantUnit:  "%",
		},
		{
			name:      "tolerance degrees",
			text:      "Align to ±3° of true.",
			typ:       facts.TypeTolerance,
			wantValue: "±3",
			wantUnit:  "°",
		},
		{
			name:      "numeric range",
			text:      "Humidity must stay within 40 to 60 %.",
			typ:       facts.TypeSpecification,
			wantValue: "40-60",
			wantUnit:  "%",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := facts.NewExtractor(nil).Extract(context.Background(), tt.text, facts.Options{})
			f, ok := findFact(got, tt.typ)
			require.True(t, ok, "no %s fact in %+v", tt.typ, got)
			assert.Equal(t, tt.wantValue, f.Value)
			assert.Equal(t, tt.wantUnit, f.Unit)
			if tt.wantContext != "" {
				assert.Equal(t, tt.wantContext, f.Context)
			}
		})
	}
}

func TestExtract_EmptyText(t *testing.T) {
	assert.Empty(t, facts.NewExtractor(nil).Extract(context.Background(), "   ", facts.Options{}))
}

func TestExtract_LLMAddsFacts(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	gen := mocks.NewMockGenerator(ctrl)
	gen.EXPECT().
		Generate(gomock.Any(), "Use Type II fasteners only.", gomock.Any()).
		Return(`{"facts":[{"type":"specification","value":"Type II"},{"type":"bogus","value":"x"},{"type":"date","value":"not in text"}]}`, nil)

	got := facts.NewExtractor(gen).Extract(context.Background(), "Use Type II fasteners only.", facts.Options{UseLLM: true})

	require.Len(t, got, 1)
	assert.Equal(t, facts.TypeSpecification, got[0].Type)
	assert.Equal(t, "Type II", got[0].Value)
	assert.Equal(t, facts.LLMConfidence, got[0].Confidence)
	assert.Equal(t, facts.Position{Start: 4, End: 11}, got[0].Position)
}

func TestExtract_LLMFailureKeepsRuleFacts(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	text := "The tolerance is ±0.05mm at 25°C"
	gen := mocks.NewMockGenerator(ctrl)
	gen.EXPECT().Generate(gomock.Any(), text, gomock.Any()).Return("", errors.New("model offline"))

	withLLM := facts.NewExtractor(gen).Extract(context.Background(), text, facts.Options{UseLLM: true})
	withoutLLM := facts.NewExtractor(nil).Extract(context.Background(), text, facts.Options{})

	assert.Equal(t, withoutLLM, withLLM)
}

func TestExtract_LLMNotCalledWhenDisabled(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	gen := mocks.NewMockGenerator(ctrl)
	facts.NewExtractor(gen).Extract(context.Background(), "Inflate to 35 psi.", facts.Options{})
}
