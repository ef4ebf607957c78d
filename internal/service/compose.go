package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"docqa-ai/internal/llm"
	"docqa-ai/internal/rag"
)

const synthesisSystemPrompt = "You are a careful technical assistant. You rewrite draft answers about documents " +
	"into clear, synthesized responses. Never add facts that are not in the draft or its sources, " +
	"and keep every citation."

func synthesisPrompt(intent Intent, query string, base rag.Response, history []llm.Message) string {
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range history {
			role := "User"
			if m.Role == "assistant" {
				role = "Assistant"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, m.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Question: %s\n\nDraft answer:\n%s\n\nSources:\n", query, base.Answer)
	for i, src := range base.Sources {
		fmt.Fprintf(&b, "[%d] %s, page %d: %s\n", i+1, src.DocumentName, src.PageNumber, src.Excerpt)
	}

	b.WriteString("\nRewrite the draft as a synthesized answer that connects the sources instead of listing them. ")
	b.WriteString(intentInstructions(intent))
	if len(history) > 0 {
		b.WriteString(" This continues the conversation above: build on what was already said and do not repeat it.")
	}
	b.WriteString(" Keep the [n] citations and page numbers.")
	return b.String()
}

// synthesize turns the orchestrator's answer into a contextual response.
// The base answer is returned verbatim if generation fails.
func (s *conversationalService) synthesize(ctx context.Context, intent Intent, query string, base rag.Response, history []llm.Message) string {
	if len(base.Sources) == 0 {
		return base.Answer
	}
	logger := getLogger(ctx)

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ExternalTimeout)
	defer cancel()
	out, err := s.generator.Generate(callCtx, synthesisPrompt(intent, query, base, history), llm.GenerateOptions{
		System:      synthesisSystemPrompt,
		MaxTokens:   s.cfg.SynthesisMaxTokens,
		Temperature: 0.3,
	})
	out = strings.TrimSpace(out)
	if err != nil || out == "" {
		logger.WarnContext(ctx, "synthesis failed, using base answer", "error", err)
		return base.Answer
	}
	return out
}

var followUpTemplates = map[Intent][]string{
	IntentQuestion: {
		"What else do the documents say about %s?",
		"Where is %s described in more detail?",
		"Are there any requirements related to %s?",
	},
	IntentClarification: {
		"Can you give an example of %s?",
		"How does %s apply in practice?",
		"Which section defines %s?",
	},
	IntentComparison: {
		"Which option do the documents recommend for %s?",
		"When do the differences in %s matter most?",
		"Are there limits or tolerances that differ for %s?",
	},
	IntentExplanation: {
		"What happens if %s fails?",
		"What are the key components of %s?",
		"Is there a procedure related to %s?",
	},
	IntentProcedure: {
		"What safety precautions apply to %s?",
		"What tools or materials are needed for %s?",
		"How is %s verified once completed?",
	},
	IntentFactual: {
		"What is the tolerance for %s?",
		"Where is %s specified?",
		"Has %s changed between revisions?",
	},
	IntentAnalytical: {
		"What are the risks associated with %s?",
		"Do any sources disagree about %s?",
		"What would improve %s?",
	},
}

// templatedFollowUps fills the intent's templates with the subject.
func templatedFollowUps(intent Intent, subject string, limit int) []string {
	templates, ok := followUpTemplates[intent]
	if !ok {
		templates = followUpTemplates[IntentQuestion]
	}
	subject = strings.TrimRight(strings.TrimSpace(subject), "?.! ")
	out := make([]string, 0, limit)
	for _, t := range templates {
		if len(out) == limit {
			break
		}
		out = append(out, fmt.Sprintf(t, subject))
	}
	return out
}

func followUpPrompt(query, answer string, n int) string {
	return fmt.Sprintf(`A user asked: %s

They received this answer:
%s

Suggest %d short follow-up questions the user might ask next about the same documents.
Respond as {"questions": ["...", "..."]}.`, query, answer, n)
}

type followUpList struct {
	Questions []string `json:"questions"`
}

// followUps suggests at most MaxFollowUps next questions and falls back to
// the intent's templates.
func (s *conversationalService) followUps(ctx context.Context, intent Intent, query, answer, topic string) []string {
	limit := s.cfg.MaxFollowUps
	subject := topic
	if subject == "" {
		subject = query
	}
	logger := getLogger(ctx)

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ExternalTimeout)
	defer cancel()
	raw, err := s.generator.Generate(callCtx, followUpPrompt(query, answer, limit), llm.GenerateOptions{
		MaxTokens:      200,
		Temperature:    0.5,
		ResponseFormat: llm.FormatJSON,
	})
	if err != nil {
		logger.WarnContext(ctx, "follow-up generation failed, using templates", "error", err)
		return templatedFollowUps(intent, subject, limit)
	}

	var list followUpList
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &list); err != nil {
		logger.WarnContext(ctx, "malformed follow-up response, using templates", "error", err)
		return templatedFollowUps(intent, subject, limit)
	}

	seen := make(map[string]bool)
	out := make([]string, 0, limit)
	for _, q := range list.Questions {
		q = strings.TrimSpace(q)
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}
	if len(out) == 0 {
		return templatedFollowUps(intent, subject, limit)
	}
	return out
}
