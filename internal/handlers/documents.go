package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"docqa-ai/internal/chunking"
	"docqa-ai/internal/contextutil"
	"docqa-ai/internal/indexer"
	"docqa-ai/internal/storage"
	"docqa-ai/internal/vectorstore"
)

// maxUploadBytes bounds an uploaded document.
const maxUploadBytes = 50 << 20

// DocumentPipeline ingests, re-chunks and deletes documents.
type DocumentPipeline interface {
	Ingest(ctx context.Context, req indexer.IngestRequest) (indexer.IngestResult, error)
	Rechunk(ctx context.Context, documentID, userID string, opts chunking.Options) (indexer.IngestResult, error)
	DeleteDocument(ctx context.Context, documentID, userID string) error
}

// DocumentLister lists a user's documents.
type DocumentLister interface {
	ListByUser(ctx context.Context, userID string) ([]storage.DocumentRecord, error)
}

// IntegrityVerifier checks a document's stored chunk set.
type IntegrityVerifier interface {
	VerifyIntegrity(ctx context.Context, documentID, userID string) (vectorstore.IntegrityReport, error)
}

// DocumentsHandler serves the document endpoints.
type DocumentsHandler struct {
	pipeline    DocumentPipeline
	lister      DocumentLister
	verifier    IntegrityVerifier
	defaultOpts chunking.Options
}

// NewDocumentsHandler creates a new DocumentsHandler. defaultOpts seeds the
// options of rechunk requests.
func NewDocumentsHandler(pipeline DocumentPipeline, lister DocumentLister, verifier IntegrityVerifier, defaultOpts chunking.Options) *DocumentsHandler {
	return &DocumentsHandler{
		pipeline:    pipeline,
		lister:      lister,
		verifier:    verifier,
		defaultOpts: defaultOpts,
	}
}

// UploadRequest is the JSON form of an upload. Multipart uploads use a
// "file" field instead.
//
// swagger:model UploadRequest
type UploadRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// DocumentResponse represents a document record.
//
// swagger:model DocumentResponse
type DocumentResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	Stage         string `json:"stage,omitempty"`
	StatusMessage string `json:"status_message,omitempty"`
	PageCount     int    `json:"page_count"`
	ChunkCount    int    `json:"chunk_count"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// IngestResponse reports the outcome of an upload or rechunk.
//
// swagger:model IngestResponse
type IngestResponse struct {
	Document  DocumentResponse `json:"document"`
	Duplicate bool             `json:"duplicate"`
	Stored    int              `json:"stored"`
	Failed    int              `json:"failed"`
	Errors    []ChunkErrorInfo `json:"errors,omitempty"`
}

// ChunkErrorInfo explains why one chunk was not stored.
type ChunkErrorInfo struct {
	ChunkID string `json:"chunk_id"`
	Error   string `json:"error"`
}

// RechunkRequest overrides chunking options. Omitted fields keep the
// server defaults.
//
// swagger:model RechunkRequest
type RechunkRequest struct {
	ChunkSizeTokens            *int  `json:"chunk_size_tokens,omitempty"`
	OverlapTokens              *int  `json:"overlap_tokens,omitempty"`
	PreserveSentenceBoundaries *bool `json:"preserve_sentence_boundaries,omitempty"`
	DualLayer                  *bool `json:"dual_layer,omitempty"`
	DetailChunkSizeTokens      *int  `json:"detail_chunk_size_tokens,omitempty"`
	DetailOverlapTokens        *int  `json:"detail_overlap_tokens,omitempty"`
}

// IntegrityResponse wraps an integrity report.
//
// swagger:model IntegrityResponse
type IntegrityResponse struct {
	OK bool `json:"ok"`
	vectorstore.IntegrityReport
}

// Upload ingests a document.
//
// swagger:route POST /api/v1/documents uploadDocument
//
// Uploads a .txt (form-feed separated pages) or .md document and indexes it.
// Re-uploading identical content returns the existing document.
//
// responses:
//
//	'201': IngestResponse
//	'200': IngestResponse
//	'400': ErrorResponse
//	'502': ErrorResponse
func (h *DocumentsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	name, content, err := readUpload(r)
	if err != nil {
		logger.WarnContext(ctx, "invalid upload", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.pipeline.Ingest(ctx, indexer.IngestRequest{UserID: userID, Name: name, Content: content})
	if err != nil {
		handleError(w, ctx, err, "Failed to ingest document")
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, toIngestResponse(result))
}

// readUpload returns the file name and content of a multipart or JSON upload.
func readUpload(r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadBytes)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", nil, fmt.Errorf("file field is required")
		}
		defer file.Close()
		content, err := io.ReadAll(file)
		if err != nil {
			return "", nil, fmt.Errorf("failed to read upload: %w", err)
		}
		return header.Filename, content, nil
	}

	var req UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", nil, errors.New("invalid request body")
	}
	if req.Name == "" {
		return "", nil, errors.New("name is required")
	}
	return req.Name, []byte(req.Content), nil
}

// List returns the caller's documents.
//
// swagger:route GET /api/v1/documents listDocuments
//
// responses:
//
//	'200': []DocumentResponse
func (h *DocumentsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	docs, err := h.lister.ListByUser(ctx, userID)
	if err != nil {
		handleError(w, ctx, err, "Failed to list documents")
		return
	}
	out := make([]DocumentResponse, len(docs))
	for i := range docs {
		out[i] = toDocumentResponse(docs[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// Delete removes a document and its chunks.
//
// swagger:route DELETE /api/v1/documents/{id} deleteDocument
//
// responses:
//
//	'204': description: Deleted
//	'403': ErrorResponse
func (h *DocumentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.pipeline.DeleteDocument(ctx, chi.URLParam(r, "id"), userID); err != nil {
		handleError(w, ctx, err, "Failed to delete document")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Rechunk re-chunks a document with new options.
//
// swagger:route POST /api/v1/documents/{id}/rechunk rechunkDocument
//
// responses:
//
//	'200': IngestResponse
//	'400': ErrorResponse
//	'403': ErrorResponse
func (h *DocumentsHandler) Rechunk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req RechunkRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	result, err := h.pipeline.Rechunk(ctx, chi.URLParam(r, "id"), userID, req.apply(h.defaultOpts))
	if err != nil {
		handleError(w, ctx, err, "Failed to rechunk document")
		return
	}
	writeJSON(w, http.StatusOK, toIngestResponse(result))
}

func (req RechunkRequest) apply(opts chunking.Options) chunking.Options {
	if req.ChunkSizeTokens != nil {
		opts.ChunkSizeTokens = *req.ChunkSizeTokens
	}
	if req.OverlapTokens != nil {
		opts.OverlapTokens = *req.OverlapTokens
	}
	if req.PreserveSentenceBoundaries != nil {
		opts.PreserveSentenceBoundaries = *req.PreserveSentenceBoundaries
	}
	if req.DualLayer != nil {
		opts.DualLayer = *req.DualLayer
	}
	if req.DetailChunkSizeTokens != nil {
		opts.DetailChunkSizeTokens = *req.DetailChunkSizeTokens
	}
	if req.DetailOverlapTokens != nil {
		opts.DetailOverlapTokens = *req.DetailOverlapTokens
	}
	return opts
}

// Integrity reports integrity issues of a document's stored chunks.
//
// swagger:route GET /api/v1/documents/{id}/integrity verifyDocument
//
// responses:
//
//	'200': IntegrityResponse
//	'403': ErrorResponse
func (h *DocumentsHandler) Integrity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	report, err := h.verifier.VerifyIntegrity(ctx, chi.URLParam(r, "id"), userID)
	if err != nil {
		handleError(w, ctx, err, "Failed to verify document")
		return
	}
	writeJSON(w, http.StatusOK, IntegrityResponse{OK: report.OK(), IntegrityReport: report})
}

func toIngestResponse(r indexer.IngestResult) IngestResponse {
	resp := IngestResponse{
		Document:  toDocumentResponse(r.Document),
		Duplicate: r.Duplicate,
		Stored:    r.Stored,
		Failed:    r.Failed,
	}
	for _, e := range r.Errors {
		resp.Errors = append(resp.Errors, ChunkErrorInfo{ChunkID: e.ChunkID, Error: e.Err})
	}
	return resp
}

func toDocumentResponse(d storage.DocumentRecord) DocumentResponse {
	return DocumentResponse{
		ID:            d.ID,
		Name:          d.Name,
		Status:        string(d.Status),
		Stage:         d.Stage,
		StatusMessage: d.StatusMessage,
		PageCount:     d.PageCount,
		ChunkCount:    d.ChunkCount,
		CreatedAt:     d.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     d.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
