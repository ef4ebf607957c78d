package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"docqa-ai/internal/llm"
)

// Intent is what the user is trying to do with a message.
type Intent string

const (
	IntentQuestion      Intent = "question"
	IntentClarification Intent = "clarification"
	IntentComparison    Intent = "comparison"
	IntentExplanation   Intent = "explanation"
	IntentProcedure     Intent = "procedure"
	IntentFactual       Intent = "factual"
	IntentAnalytical    Intent = "analytical"
)

// Intents lists every intent in classification prompt order.
var Intents = []Intent{
	IntentQuestion, IntentClarification, IntentComparison, IntentExplanation,
	IntentProcedure, IntentFactual, IntentAnalytical,
}

// intentTemplate rewrites a query for one intent. Query is a format string
// taking the query and, when present, the current topic.
type intentTemplate struct {
	query        string
	topicQuery   string
	instructions string
}

var intentTemplates = map[Intent]intentTemplate{
	IntentQuestion: {
		query:        "%s",
		instructions: "Answer the question directly.",
	},
	IntentClarification: {
		query:        "%s",
		topicQuery:   "%s (regarding %s)",
		instructions: "The user wants clarification of an earlier answer. Restate the relevant point more simply and precisely.",
	},
	IntentComparison: {
		query:        "Compare and contrast: %s",
		instructions: "Compare the items point by point and state the key differences and similarities.",
	},
	IntentExplanation: {
		query:        "Explain: %s",
		instructions: "Explain the concept and how it works, using the terminology of the documents.",
	},
	IntentProcedure: {
		query:        "What are the steps for: %s",
		instructions: "Give the procedure as numbered steps in the documented order, including any warnings or cautions.",
	},
	IntentFactual: {
		query:        "%s",
		instructions: "State the exact facts, values and units as written in the documents.",
	},
	IntentAnalytical: {
		query:        "Analyze: %s",
		instructions: "Analyze the information across the sources and draw a reasoned conclusion, noting any conflicts between them.",
	},
}

// rewriteQuery applies the intent's query template.
func rewriteQuery(intent Intent, query, topic string) string {
	tmpl, ok := intentTemplates[intent]
	if !ok {
		tmpl = intentTemplates[IntentQuestion]
	}
	if tmpl.topicQuery != "" && topic != "" && !strings.Contains(strings.ToLower(query), strings.ToLower(topic)) {
		return fmt.Sprintf(tmpl.topicQuery, query, topic)
	}
	return fmt.Sprintf(tmpl.query, query)
}

func intentInstructions(intent Intent) string {
	if tmpl, ok := intentTemplates[intent]; ok {
		return tmpl.instructions
	}
	return intentTemplates[IntentQuestion].instructions
}

const classifySystemPrompt = "You classify questions asked about technical documents. Respond with JSON only."

func classifyPrompt(query string) string {
	names := make([]string, len(Intents))
	for i, in := range Intents {
		names[i] = string(in)
	}
	return fmt.Sprintf(`Classify the intent of the user message into exactly one of: %s.

- question: a general question
- clarification: asks to clarify or rephrase something said earlier
- comparison: compares two or more things
- explanation: asks how or why something works
- procedure: asks for steps to perform a task
- factual: asks for a specific value, date, name or number
- analytical: asks for analysis, evaluation or a conclusion across information

Respond as {"intent": "<intent>"}.

User message: %s`, strings.Join(names, ", "), query)
}

type classification struct {
	Intent string `json:"intent"`
}

// parseIntent reads the model's JSON classification. Unknown intents are
// reported as not ok.
func parseIntent(raw string) (Intent, bool) {
	var c classification
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &c); err != nil {
		return "", false
	}
	in := Intent(strings.ToLower(strings.TrimSpace(c.Intent)))
	if _, ok := intentTemplates[in]; !ok {
		return "", false
	}
	return in, true
}

// classify asks the generator for the intent of query and defaults to
// IntentQuestion on any failure.
func (s *conversationalService) classify(ctx context.Context, query string) Intent {
	logger := getLogger(ctx)

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ExternalTimeout)
	defer cancel()
	raw, err := s.generator.Generate(callCtx, classifyPrompt(query), llm.GenerateOptions{
		System:         classifySystemPrompt,
		MaxTokens:      30,
		ResponseFormat: llm.FormatJSON,
	})
	if err != nil {
		logger.WarnContext(ctx, "intent classification failed, using default", "error", err)
		return IntentQuestion
	}
	intent, ok := parseIntent(raw)
	if !ok {
		logger.WarnContext(ctx, "unrecognized intent classification, using default", "raw", raw)
		return IntentQuestion
	}
	return intent
}

// stripCodeFence removes a surrounding ```json fence some models add.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
