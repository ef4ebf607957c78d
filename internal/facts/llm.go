package facts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"docqa-ai/internal/llm"
)

const extractionSystemPrompt = `You extract technical facts from document text.
Reply with JSON only: {"facts":[{"type":"...","value":"...","unit":"..."}]}.
Allowed types: measurement, tolerance, temperature, pressure, dimension, date, time, requirement, definition, reference, specification.
Copy values verbatim from the text. Reply {"facts":[]} when nothing applies.`

type llmFact struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Unit  string `json:"unit"`
}

type llmFactsResponse struct {
	Facts []llmFact `json:"facts"`
}

// extractWithLLM asks the generator for additional facts. Facts whose value
// cannot be located in text are dropped.
func (e *Extractor) extractWithLLM(ctx context.Context, text string, radius int) ([]Fact, error) {
	reply, err := e.generator.Generate(ctx, text, llm.GenerateOptions{
		System:         extractionSystemPrompt,
		MaxTokens:      512,
		Temperature:    0,
		ResponseFormat: llm.FormatJSON,
	})
	if err != nil {
		return nil, err
	}

	parsed, err := parseLLMFacts(reply)
	if err != nil {
		return nil, err
	}

	var out []Fact
	for _, lf := range parsed {
		typ := Type(strings.ToLower(strings.TrimSpace(lf.Type)))
		value := strings.TrimSpace(lf.Value)
		if !typ.Valid() || value == "" {
			continue
		}
		start := strings.Index(text, value)
		if start < 0 {
			continue
		}
		end := start + len(value)
		out = append(out, Fact{
			Type:       typ,
			Value:      value,
			Unit:       strings.TrimSpace(lf.Unit),
			Context:    window(text, start, end, radius),
			Confidence: LLMConfidence,
			Position:   Position{Start: start, End: end},
		})
	}
	return out, nil
}

// parseLLMFacts accepts either {"facts":[...]} or a bare array, tolerating
// prose around the JSON.
func parseLLMFacts(reply string) ([]llmFact, error) {
	reply = strings.TrimSpace(reply)
	if i, j := strings.Index(reply, "{"), strings.LastIndex(reply, "}"); i >= 0 && j > i {
		var resp llmFactsResponse
		if err := json.Unmarshal([]byte(reply[i:j+1]), &resp); err == nil && resp.Facts != nil {
			return resp.Facts, nil
		}
	}
	if i, j := strings.Index(reply, "["), strings.LastIndex(reply, "]"); i >= 0 && j > i {
		var list []llmFact
		if err := json.Unmarshal([]byte(reply[i:j+1]), &list); err == nil {
			return list, nil
		}
	}
	return nil, fmt.Errorf("unparseable fact extraction reply")
}
