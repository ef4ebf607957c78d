package rag

import (
	"fmt"
	"strings"

	"docqa-ai/internal/llm"
)

const systemPrompt = "You are a helpful assistant that answers questions about the user's documents. " +
	"Answer the question using only the information from the context below. If the context doesn't contain " +
	"enough information to answer the question, say so. Cite the sources you use as [n] together with " +
	"their page number, for example \"[2] (page 14)\"."

const (
	unableToSearchAnswer = "I'm unable to search your documents right now. Please try again shortly."
	noResultsAnswer      = "I couldn't find any relevant information in your documents to answer this question."
	extractiveHeader     = "I couldn't generate a summary right now. These are the most relevant passages:"
	extractiveExcerpts   = 3
)

var styleInstructions = map[string]string{
	"brief":    "Answer in one or two sentences.",
	"detailed": "Give a thorough answer that covers every relevant detail in the context.",
}

// formatContext renders the selected chunks as numbered context blocks.
func formatContext(selected []ranked) string {
	var b strings.Builder
	b.WriteString("--- Context from documents ---\n\n")
	for i, c := range selected {
		fmt.Fprintf(&b, "[%d] Document: %s, page %d\n", i+1, c.DocumentName, c.PageNumber)
		if c.SectionTitle != "" {
			fmt.Fprintf(&b, "Section: %s\n", c.SectionTitle)
		}
		fmt.Fprintf(&b, "Content: %s\n\n", c.Text)
	}
	b.WriteString("--- End Context ---")
	return b.String()
}

// formatHistory renders the last n messages of a conversation.
func formatHistory(history []llm.Message, n int) string {
	if n <= 0 || len(history) == 0 {
		return ""
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}
	var b strings.Builder
	b.WriteString("Previous conversation:\n")
	for _, m := range history {
		role := "User"
		if m.Role == "assistant" {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, m.Content)
	}
	return b.String()
}

func buildPrompt(query string, selected []ranked, req Request, historyTurns int) string {
	var b strings.Builder
	if h := formatHistory(req.History, historyTurns); h != "" {
		b.WriteString(h)
		b.WriteString("\n")
	}
	b.WriteString(formatContext(selected))
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	if req.Instructions != "" {
		b.WriteString("\n\n")
		b.WriteString(req.Instructions)
	}
	if s, ok := styleInstructions[strings.ToLower(req.Style)]; ok {
		b.WriteString("\n")
		b.WriteString(s)
	}
	return b.String()
}

// extractiveAnswer lists the top excerpts with page citations.
func extractiveAnswer(sources []Source) string {
	var b strings.Builder
	b.WriteString(extractiveHeader)
	for i, s := range sources {
		if i == extractiveExcerpts {
			break
		}
		fmt.Fprintf(&b, "\n\n[%d] %s, page %d: %s", i+1, s.DocumentName, s.PageNumber, s.Excerpt)
	}
	return b.String()
}
