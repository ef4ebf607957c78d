package rag

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_engine.go -package=mocks docqa-ai/internal/rag Engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"docqa-ai/internal/apperr"
	"docqa-ai/internal/chunking"
	"docqa-ai/internal/contextutil"
	"docqa-ai/internal/llm"
	"docqa-ai/internal/search"
	"docqa-ai/internal/storage"
)

// Engine provides RAG (Retrieval-Augmented Generation) functionality.
type Engine interface {
	// ProcessQuery answers a question from the caller's documents with cited sources.
	ProcessQuery(ctx context.Context, req Request) (Response, error)
}

// Searcher runs a similarity search scoped to one user.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, userID string, opts search.Options) ([]search.Result, error)
}

// ragEngine implements the Engine interface.
type ragEngine struct {
	embedder  llm.Embedder
	searcher  Searcher
	docs      storage.DocumentStore
	generator llm.Generator
	tokenizer chunking.Tokenizer
	cfg       Config
}

// NewEngine creates a new RAG engine.
func NewEngine(
	embedder llm.Embedder,
	searcher Searcher,
	docs storage.DocumentStore,
	generator llm.Generator,
	cfg Config,
) Engine {
	return &ragEngine{
		embedder:  embedder,
		searcher:  searcher,
		docs:      docs,
		generator: generator,
		tokenizer: chunking.HeuristicTokenizer{},
		cfg:       cfg.withDefaults(),
	}
}

func getLogger(ctx context.Context) *slog.Logger {
	return contextutil.LoggerFromContext(ctx).With("component", "rag")
}

// ProcessQuery answers a question using RAG. External failures degrade the
// answer instead of failing the request; validation and ownership errors are
// returned.
func (e *ragEngine) ProcessQuery(ctx context.Context, req Request) (Response, error) {
	logger := getLogger(ctx)

	query := strings.TrimSpace(req.EffectiveQuery())
	if query == "" {
		return Response{}, apperr.Invalid("query", "must not be empty")
	}
	if req.UserID == "" {
		return Response{}, apperr.Invalid("user_id", "must not be empty")
	}
	if err := e.checkAllowlist(ctx, req.DocumentIDs, req.UserID); err != nil {
		return Response{}, err
	}

	logger.InfoContext(ctx, "RAG query started",
		"query", query,
		"user_id", req.UserID,
		"document_ids", req.DocumentIDs,
	)
	resp := Response{Query: query, Sources: []Source{}}

	embedCtx, cancel := context.WithTimeout(ctx, e.cfg.ExternalTimeout)
	emb, err := e.embedder.Embed(embedCtx, query)
	cancel()
	if err != nil || len(emb.Vector) == 0 {
		logger.WarnContext(ctx, "failed to embed query, answering degraded", "error", err)
		resp.Answer = unableToSearchAnswer
		resp.degrade("embedding unavailable")
		return resp, nil
	}

	topK := req.TopK
	if topK <= 0 {
		topK = e.cfg.CandidateK
	}
	threshold := req.SimilarityThreshold
	if threshold == 0 {
		threshold = search.DefaultThreshold
	}
	results, err := e.searcher.Search(ctx, emb.Vector, req.UserID, search.Options{
		TopK:                topK,
		SimilarityThreshold: threshold,
		DocumentIDs:         req.DocumentIDs,
	})
	if err != nil {
		if errors.Is(err, apperr.ErrValidation) || ctx.Err() != nil {
			return Response{}, err
		}
		logger.WarnContext(ctx, "search failed, answering degraded", "error", err)
		resp.Answer = unableToSearchAnswer
		resp.degrade("search unavailable")
		return resp, nil
	}

	logger.InfoContext(ctx, "vector search completed", "results_count", len(results), "k_requested", topK)
	if len(results) == 0 {
		logger.InfoContext(ctx, "no search results found")
		resp.Answer = noResultsAnswer
		resp.NoResults = true
		return resp, nil
	}
	for _, r := range results {
		if r.Degraded {
			resp.degrade("similarity search unavailable, results are unranked")
			break
		}
	}

	candidates := rerank(query, results)
	maxSources := req.MaxSources
	if maxSources <= 0 || maxSources > e.cfg.MaxSourcesPerResponse {
		maxSources = e.cfg.MaxSourcesPerResponse
	}
	selected, used := assembleContext(candidates, maxSources, e.cfg.ContextTokenBudget, e.tokenizer)
	logger.InfoContext(ctx, "context assembled",
		"candidates", len(candidates),
		"selected", len(selected),
		"context_tokens", used,
	)

	for _, c := range selected {
		resp.Sources = append(resp.Sources, Source{
			ChunkID:      c.ChunkID,
			DocumentID:   c.DocumentID,
			DocumentName: c.DocumentName,
			PageNumber:   c.PageNumber,
			SectionTitle: c.SectionTitle,
			Excerpt:      excerpt(c.Text, e.cfg.ExcerptChars),
			Similarity:   c.Similarity,
		})
	}

	prompt := buildPrompt(query, selected, req, e.cfg.HistoryTurns)
	logger.DebugContext(ctx, "sending request to LLM", "prompt_length", len(prompt))

	genCtx, cancel := context.WithTimeout(ctx, e.cfg.ExternalTimeout)
	answer, err := e.generator.Generate(genCtx, prompt, llm.GenerateOptions{
		System:      systemPrompt,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
	})
	cancel()
	answer = strings.TrimSpace(answer)
	if err != nil || answer == "" {
		logger.WarnContext(ctx, "generation failed, answering with excerpts", "error", err)
		answer = extractiveAnswer(resp.Sources)
		resp.degrade("generation unavailable, answer is extractive")
	}
	resp.Answer = answer
	resp.Confidence = confidence(resp.Sources, resp.Degraded)

	if req.Debug {
		resp.Debug = debugInfo(candidates, selected, used)
	}

	logger.InfoContext(ctx, "RAG query completed",
		"sources", len(resp.Sources),
		"confidence", resp.Confidence,
		"degraded", resp.Degraded,
		"answer_length", len(resp.Answer),
	)
	return resp, nil
}

// checkAllowlist verifies every requested document belongs to userID.
func (e *ragEngine) checkAllowlist(ctx context.Context, documentIDs []string, userID string) error {
	for _, id := range documentIDs {
		if id == "" {
			return apperr.Invalid("document_ids", "must not contain empty ids")
		}
		ok, err := e.docs.Exists(ctx, id, userID)
		if err != nil {
			return fmt.Errorf("failed to check document ownership: %w", err)
		}
		if !ok {
			return apperr.Ownership(id, userID)
		}
	}
	return nil
}

func debugInfo(candidates, selected []ranked, used int) *DebugInfo {
	inContext := make(map[string]bool, len(selected))
	for _, s := range selected {
		inContext[s.ChunkID] = true
	}
	info := &DebugInfo{ContextTokens: used, RetrievedChunks: make([]RetrievedChunk, 0, len(candidates))}
	for i, c := range candidates {
		info.RetrievedChunks = append(info.RetrievedChunks, RetrievedChunk{
			ChunkID:      c.ChunkID,
			DocumentName: c.DocumentName,
			PageNumber:   c.PageNumber,
			ScoreVector:  c.Similarity,
			ScoreLexical: c.lexical,
			ScoreFinal:   c.final,
			Text:         c.Text,
			Rank:         i + 1,
			Selected:     inContext[c.ChunkID],
		})
	}
	return info
}
