package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"docqa-ai/internal/contextutil"
	"docqa-ai/internal/indexer"
	"docqa-ai/internal/rag"
)

// CoverageReporter reports indexing coverage for a user.
type CoverageReporter interface {
	CoverageStats(ctx context.Context, userID string) (*indexer.IndexingCoverageStats, error)
}

// AskHandler handles HTTP requests for RAG queries.
type AskHandler struct {
	ragEngine rag.Engine
	coverage  CoverageReporter
}

// NewAskHandler creates a new AskHandler. coverage may be nil, in which case
// debug responses carry no indexing coverage.
func NewAskHandler(ragEngine rag.Engine, coverage CoverageReporter) *AskHandler {
	return &AskHandler{
		ragEngine: ragEngine,
		coverage:  coverage,
	}
}

// AskRequest represents the HTTP request payload for RAG queries.
// This mirrors rag.Request but is defined here for HTTP layer separation.
//
// swagger:model AskRequest
type AskRequest struct {
	Query string `json:"query"`
	// DocumentIDs restricts retrieval to these documents of the caller.
	DocumentIDs         []string `json:"document_ids,omitempty"`
	TopK                int      `json:"top_k,omitempty"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
	MaxSources          int      `json:"max_sources,omitempty"`
	// Style is "brief", "normal" or "detailed".
	Style string `json:"style,omitempty"`
}

// AskResponse represents the HTTP response payload for RAG queries.
//
// swagger:model AskResponse
type AskResponse struct {
	// The generated answer
	Answer string `json:"answer"`

	// Sources cited in the answer, in citation order
	Sources []SourceResponse `json:"sources"`

	// Confidence in [0, 1]
	Confidence float64 `json:"confidence"`

	// Degraded is set when a fallback produced part of the answer.
	Degraded        bool     `json:"degraded"`
	DegradedReasons []string `json:"degraded_reasons,omitempty"`

	// NoResults is set when nothing relevant was found.
	NoResults bool `json:"no_results"`

	// Debug contains debug information when debug mode is enabled (via ?debug=true query parameter).
	Debug *DebugInfo `json:"debug,omitempty"`
}

// SourceResponse represents a cited source in the HTTP response.
//
// swagger:model SourceResponse
type SourceResponse struct {
	ChunkID      string  `json:"chunk_id"`
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	PageNumber   int     `json:"page_number"`
	SectionTitle string  `json:"section_title,omitempty"`
	Excerpt      string  `json:"excerpt"`
	Similarity   float64 `json:"similarity"`
}

// DebugInfo contains debug information when debug mode is enabled.
//
// swagger:model DebugInfo
type DebugInfo struct {
	// RetrievedChunks contains all retrieved chunks with scores and ranks.
	RetrievedChunks []DebugRetrievedChunk `json:"retrieved_chunks"`
	// ContextTokens is the token count of the assembled context.
	ContextTokens int `json:"context_tokens"`
	// IndexingCoverage contains indexing coverage statistics of the caller.
	IndexingCoverage *indexer.IndexingCoverageStats `json:"indexing_coverage,omitempty"`
}

// DebugRetrievedChunk represents a retrieved chunk with scoring information.
//
// swagger:model DebugRetrievedChunk
type DebugRetrievedChunk struct {
	ChunkID      string  `json:"chunk_id"`
	DocumentName string  `json:"document_name"`
	PageNumber   int     `json:"page_number"`
	ScoreVector  float64 `json:"score_vector"`
	ScoreLexical float64 `json:"score_lexical,omitempty"`
	ScoreFinal   float64 `json:"score_final"`
	Text         string  `json:"text"`
	// Rank is the 1-based rank after re-ranking.
	Rank int `json:"rank"`
	// Selected reports whether the chunk made it into the context.
	Selected bool `json:"selected"`
}

// ServeHTTP handles HTTP requests for RAG queries.
//
// Ask a question about the caller's documents and get an answer with
// page-level citations.
//
// swagger:route POST /api/v1/ask askQuestion
//
// # Ask a question using RAG
//
// Use the `debug=true` query parameter to include retrieval details
// (retrieved chunks with scores, indexing coverage) in the response.
//
// ---
// consumes:
// - application/json
// produces:
// - application/json
// parameters:
//   - in: body
//     name: body
//     required: true
//     schema:
//     "$ref": "#/definitions/AskRequest"
//   - in: query
//     name: debug
//     type: boolean
//     required: false
//
// responses:
//
//	'200':
//	  description: Answer with sources (possibly degraded)
//	  schema:
//	    "$ref": "#/definitions/AskResponse"
//	'400':
//	  description: Bad request
//	  schema:
//	    "$ref": "#/definitions/ErrorResponse"
//	'403':
//	  description: A requested document belongs to another user
//	  schema:
//	    "$ref": "#/definitions/ErrorResponse"
//	'500':
//	  description: Internal server error
//	  schema:
//	    "$ref": "#/definitions/ErrorResponse"
func (h *AskHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		logger.WarnContext(ctx, "empty query in request")
		writeError(w, http.StatusBadRequest, "Query is required")
		return
	}

	ragReq := rag.Request{
		Query:       req.Query,
		UserID:      userID,
		DocumentIDs: req.DocumentIDs,
		TopK:        req.TopK,
		MaxSources:  req.MaxSources,
		Style:       normalizeStyle(req.Style),
		Debug:       debugRequested(r),
	}
	if req.SimilarityThreshold != nil {
		ragReq.SimilarityThreshold = *req.SimilarityThreshold
	}

	ragResp, err := h.ragEngine.ProcessQuery(ctx, ragReq)
	if err != nil {
		handleError(w, ctx, err, "Failed to process query")
		return
	}

	resp := AskResponse{
		Answer:          ragResp.Answer,
		Sources:         toSourceResponses(ragResp.Sources),
		Confidence:      ragResp.Confidence,
		Degraded:        ragResp.Degraded,
		DegradedReasons: ragResp.DegradedReasons,
		NoResults:       ragResp.NoResults,
	}
	if ragResp.Debug != nil {
		resp.Debug = toDebugInfo(ragResp.Debug)
		if h.coverage != nil {
			stats, err := h.coverage.CoverageStats(ctx, userID)
			if err != nil {
				logger.WarnContext(ctx, "failed to get indexing coverage stats", "error", err)
			} else {
				resp.Debug.IndexingCoverage = stats
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// normalizeStyle keeps known answer styles and drops anything else.
func normalizeStyle(style string) string {
	style = strings.ToLower(strings.TrimSpace(style))
	switch style {
	case "brief", "normal", "detailed":
		return style
	default:
		return ""
	}
}

func debugRequested(r *http.Request) bool {
	v := strings.ToLower(r.URL.Query().Get("debug"))
	return v == "true" || v == "1"
}

func toSourceResponses(sources []rag.Source) []SourceResponse {
	out := make([]SourceResponse, len(sources))
	for i, s := range sources {
		out[i] = SourceResponse{
			ChunkID:      s.ChunkID,
			DocumentID:   s.DocumentID,
			DocumentName: s.DocumentName,
			PageNumber:   s.PageNumber,
			SectionTitle: s.SectionTitle,
			Excerpt:      s.Excerpt,
			Similarity:   s.Similarity,
		}
	}
	return out
}

func toDebugInfo(d *rag.DebugInfo) *DebugInfo {
	chunks := make([]DebugRetrievedChunk, len(d.RetrievedChunks))
	for i, c := range d.RetrievedChunks {
		chunks[i] = DebugRetrievedChunk{
			ChunkID:      c.ChunkID,
			DocumentName: c.DocumentName,
			PageNumber:   c.PageNumber,
			ScoreVector:  c.ScoreVector,
			ScoreLexical: c.ScoreLexical,
			ScoreFinal:   c.ScoreFinal,
			Text:         c.Text,
			Rank:         c.Rank,
			Selected:     c.Selected,
		}
	}
	return &DebugInfo{RetrievedChunks: chunks, ContextTokens: d.ContextTokens}
}
