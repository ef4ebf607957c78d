package rag

import (
	"time"

	"docqa-ai/internal/llm"
)

// Request represents a RAG query request.
type Request struct {
	// Query is the user's question as typed.
	Query string `json:"query"`
	// ResolvedQuery is the question after reference resolution. When set it
	// is used for retrieval and generation instead of Query.
	ResolvedQuery string `json:"resolved_query,omitempty"`
	// UserID scopes retrieval to the caller's documents.
	UserID string `json:"-"`
	// DocumentIDs optionally restricts retrieval. Every id must belong to UserID.
	DocumentIDs []string `json:"document_ids,omitempty"`
	// TopK is the number of candidates retrieved before context assembly.
	// Zero uses the engine default.
	TopK int `json:"top_k,omitempty"`
	// SimilarityThreshold is the minimum similarity. Zero uses search.DefaultThreshold.
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`
	// MaxSources caps the sources in the answer. Zero uses the engine default.
	MaxSources int `json:"max_sources,omitempty"`
	// Style optionally hints at answer length ("brief", "normal", "detailed").
	Style string `json:"style,omitempty"`
	// Instructions are extra answer instructions, e.g. from intent rewriting.
	Instructions string `json:"-"`
	// History holds recent conversation turns, oldest first.
	History []llm.Message `json:"-"`
	// Debug enables debug mode, returning detailed retrieval information.
	Debug bool `json:"debug,omitempty"`
}

// EffectiveQuery returns the query used for retrieval.
func (r Request) EffectiveQuery() string {
	if r.ResolvedQuery != "" {
		return r.ResolvedQuery
	}
	return r.Query
}

// Source is one chunk cited by an answer.
type Source struct {
	ChunkID      string  `json:"chunk_id"`
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	PageNumber   int     `json:"page_number"`
	SectionTitle string  `json:"section_title,omitempty"`
	Excerpt      string  `json:"excerpt"`
	Similarity   float64 `json:"similarity"`
}

// Response represents the response from a RAG query.
type Response struct {
	Answer string `json:"answer"`
	// Sources are ordered by final rank; the answer cites them as [1], [2], ...
	Sources    []Source `json:"sources"`
	Confidence float64  `json:"confidence"`
	// Degraded is set when any step fell back to a reduced-quality path.
	Degraded        bool     `json:"degraded,omitempty"`
	DegradedReasons []string `json:"degraded_reasons,omitempty"`
	// NoResults is set when nothing scored above the similarity threshold.
	NoResults bool `json:"no_results,omitempty"`
	// Query is the effective query that was answered.
	Query string     `json:"query"`
	Debug *DebugInfo `json:"debug,omitempty"`
}

func (r *Response) degrade(reason string) {
	r.Degraded = true
	r.DegradedReasons = append(r.DegradedReasons, reason)
}

// DebugInfo contains detailed retrieval information for debugging and evaluation.
type DebugInfo struct {
	RetrievedChunks []RetrievedChunk `json:"retrieved_chunks"`
	// ContextTokens is the token count of the assembled context.
	ContextTokens int `json:"context_tokens"`
}

// RetrievedChunk represents a retrieved chunk with scoring information.
type RetrievedChunk struct {
	ChunkID      string  `json:"chunk_id"`
	DocumentName string  `json:"document_name"`
	PageNumber   int     `json:"page_number"`
	ScoreVector  float64 `json:"score_vector"`
	ScoreLexical float64 `json:"score_lexical,omitempty"`
	ScoreFinal   float64 `json:"score_final"`
	Text         string  `json:"text"`
	// Rank is 1-based.
	Rank int `json:"rank"`
	// Selected reports whether the chunk made it into the context window.
	Selected bool `json:"selected"`
}

// Config configures an Engine.
type Config struct {
	// MaxSourcesPerResponse bounds the sources in the context window.
	MaxSourcesPerResponse int `yaml:"max_sources_per_response"`
	// ContextTokenBudget bounds the token count of the assembled context.
	ContextTokenBudget int `yaml:"context_token_budget"`
	// CandidateK is the number of search results considered for assembly.
	CandidateK  int     `yaml:"candidate_k"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
	// ExcerptChars bounds the length of a source excerpt.
	ExcerptChars int `yaml:"excerpt_chars"`
	// HistoryTurns is how many prior messages are included in the prompt.
	HistoryTurns int `yaml:"history_turns"`
	// ExternalTimeout bounds each embedding and generation call.
	ExternalTimeout time.Duration `yaml:"external_timeout"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxSourcesPerResponse: 5,
		ContextTokenBudget:    3000,
		CandidateK:            10,
		MaxTokens:             800,
		Temperature:           0.2,
		ExcerptChars:          300,
		HistoryTurns:          6,
		ExternalTimeout:       30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxSourcesPerResponse <= 0 {
		c.MaxSourcesPerResponse = d.MaxSourcesPerResponse
	}
	if c.ContextTokenBudget <= 0 {
		c.ContextTokenBudget = d.ContextTokenBudget
	}
	if c.CandidateK <= 0 {
		c.CandidateK = d.CandidateK
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.Temperature <= 0 {
		c.Temperature = d.Temperature
	}
	if c.ExcerptChars <= 0 {
		c.ExcerptChars = d.ExcerptChars
	}
	if c.HistoryTurns < 0 {
		c.HistoryTurns = 0
	}
	if c.ExternalTimeout <= 0 {
		c.ExternalTimeout = d.ExternalTimeout
	}
	return c
}
