package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docqa-ai/internal/apperr"
	"docqa-ai/internal/chunking"
	"docqa-ai/internal/contextutil"
	"docqa-ai/internal/extract"
	"docqa-ai/internal/llm"
	"docqa-ai/internal/storage"
	"docqa-ai/internal/vectorstore"
)

// Ingestion stages recorded on the document while it is processed.
const (
	StageExtract = "extract"
	StageChunk   = "chunk"
	StageEmbed   = "embed"
	StageStore   = "store"
)

// DocumentRegistry is the document lifecycle store used by the pipeline.
type DocumentRegistry interface {
	Create(ctx context.Context, doc *storage.DocumentRecord) error
	Get(ctx context.Context, documentID, userID string) (*storage.DocumentRecord, error)
	ListByUser(ctx context.Context, userID string) ([]storage.DocumentRecord, error)
	FindByHash(ctx context.Context, userID, contentHash string) (*storage.DocumentRecord, error)
	UpdateStatus(ctx context.Context, documentID string, status storage.DocumentStatus, stage, message string) error
	UpdateCounts(ctx context.Context, documentID string, pageCount, chunkCount int) error
	Delete(ctx context.Context, documentID, userID string) error
}

// ChunkReader reads persisted chunks.
type ChunkReader interface {
	ListByDocument(ctx context.Context, documentID string) ([]chunking.Chunk, error)
	CountByUser(ctx context.Context, userID string) (total, embedded int, err error)
}

// ChunkWriter stores and deletes a document's chunks with ownership checks.
type ChunkWriter interface {
	Store(ctx context.Context, chunks []chunking.Chunk, documentID, userID, embeddingModel string) (vectorstore.StoreResult, error)
	DeleteDocumentChunks(ctx context.Context, documentID, userID string) error
}

// CacheInvalidator drops cached search results for a user whose chunks changed.
type CacheInvalidator interface {
	InvalidateUser(ctx context.Context, userID string)
}

// Config configures a Pipeline.
type Config struct {
	// EmbedBatchSize is the number of chunk texts per embedding request.
	EmbedBatchSize  int           `yaml:"embed_batch_size"`
	ExternalTimeout time.Duration `yaml:"external_timeout"`
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{EmbedBatchSize: 32, ExternalTimeout: 30 * time.Second}
}

// Pipeline turns uploaded documents into stored, embedded chunks.
type Pipeline struct {
	docs     DocumentRegistry
	chunks   ChunkReader
	store    ChunkWriter
	chunker  *chunking.Engine
	embedder llm.Embedder
	opts     chunking.Options
	cfg      Config
	cache    CacheInvalidator
}

// NewPipeline creates a new indexing pipeline. opts are the default
// chunking options for Ingest.
func NewPipeline(
	docs DocumentRegistry,
	chunks ChunkReader,
	store ChunkWriter,
	chunker *chunking.Engine,
	embedder llm.Embedder,
	opts chunking.Options,
	cfg Config,
) *Pipeline {
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = DefaultConfig().EmbedBatchSize
	}
	if cfg.ExternalTimeout <= 0 {
		cfg.ExternalTimeout = DefaultConfig().ExternalTimeout
	}
	return &Pipeline{
		docs:     docs,
		chunks:   chunks,
		store:    store,
		chunker:  chunker,
		embedder: embedder,
		opts:     opts,
		cfg:      cfg,
	}
}

func getLogger(ctx context.Context) *slog.Logger {
	return contextutil.LoggerFromContext(ctx).With("component", "indexer")
}

// IngestRequest is one uploaded document.
type IngestRequest struct {
	UserID string
	// Name is the file name; its extension selects the page extractor.
	Name    string
	Content []byte
	// Options overrides the pipeline's chunking options when set.
	Options *chunking.Options
}

// IngestResult reports the outcome of Ingest.
type IngestResult struct {
	Document storage.DocumentRecord
	// Duplicate is set when identical content was already ingested for the
	// user; the existing document is returned and nothing is written.
	Duplicate bool
	Stored    int
	Failed    int
	Errors    []vectorstore.ChunkError
}

// Ingest extracts, chunks, embeds and stores a document. Failures after the
// document record exists are recorded on it as status failed with the stage
// and message, and returned.
func (p *Pipeline) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	logger := getLogger(ctx)

	if req.UserID == "" {
		return IngestResult{}, apperr.Invalid("user_id", "must not be empty")
	}
	if strings.TrimSpace(req.Name) == "" {
		return IngestResult{}, apperr.Invalid("name", "must not be empty")
	}
	if len(req.Content) == 0 {
		return IngestResult{}, apperr.Invalid("content", "must not be empty")
	}
	opts := p.opts
	if req.Options != nil {
		opts = *req.Options
	}
	if err := opts.Validate(); err != nil {
		return IngestResult{}, err
	}
	extractor, err := extract.ForFilename(req.Name)
	if err != nil {
		return IngestResult{}, err
	}

	hash := sha256.Sum256(req.Content)
	hashHex := hex.EncodeToString(hash[:])

	existing, err := p.docs.FindByHash(ctx, req.UserID, hashHex)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return IngestResult{}, fmt.Errorf("failed to check existing document: %w", err)
	}
	if existing != nil && existing.Status != storage.StatusFailed {
		logger.InfoContext(ctx, "skipping unchanged document", "document_id", existing.ID, "name", req.Name)
		return IngestResult{Document: *existing, Duplicate: true}, nil
	}

	doc := &storage.DocumentRecord{UserID: req.UserID, Name: req.Name, ContentHash: hashHex}
	if err := p.docs.Create(ctx, doc); err != nil {
		return IngestResult{}, fmt.Errorf("failed to create document: %w", err)
	}
	logger = logger.With("document_id", doc.ID)

	p.setStage(ctx, doc.ID, StageExtract)
	pages, err := extractor.ExtractPages(ctx, req.Content)
	if err == nil && !hasText(pages) {
		err = apperr.Invalid("content", "document has no extractable text")
	}
	if err != nil {
		return p.fail(ctx, doc, StageExtract, err)
	}

	p.setStage(ctx, doc.ID, StageChunk)
	chunks, err := p.chunker.Chunk(ctx, pages, doc.ID, req.UserID, opts)
	if err == nil && len(chunks) == 0 {
		err = errors.New("chunking produced no chunks")
	}
	if err != nil {
		return p.fail(ctx, doc, StageChunk, err)
	}
	if err := p.docs.UpdateCounts(ctx, doc.ID, len(pages), len(chunks)); err != nil {
		return IngestResult{}, fmt.Errorf("failed to update document counts: %w", err)
	}

	p.setStage(ctx, doc.ID, StageEmbed)
	embedded := p.embedChunks(ctx, chunks)
	if embedded == 0 {
		return p.fail(ctx, doc, StageEmbed, apperr.External("embeddings", errors.New("no chunk could be embedded")))
	}

	result, err := p.store.Store(ctx, chunks, doc.ID, req.UserID, p.embedder.ModelName())
	p.invalidate(ctx, req.UserID)
	if err != nil {
		return p.fail(ctx, doc, StageStore, err)
	}

	logger.InfoContext(ctx, "indexed document",
		"name", req.Name,
		"pages", len(pages),
		"chunks", len(chunks),
		"stored", result.StoredCount,
		"failed", result.FailedCount,
	)
	return p.result(ctx, doc, result)
}

// Rechunk re-chunks a stored document with opts, re-embeds the new chunks
// and replaces the old ones.
func (p *Pipeline) Rechunk(ctx context.Context, documentID, userID string, opts chunking.Options) (IngestResult, error) {
	logger := getLogger(ctx).With("document_id", documentID)

	if err := opts.Validate(); err != nil {
		return IngestResult{}, err
	}
	doc, err := p.docs.Get(ctx, documentID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return IngestResult{}, apperr.Ownership(documentID, userID)
	}
	if err != nil {
		return IngestResult{}, err
	}

	existing, err := p.chunks.ListByDocument(ctx, documentID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("failed to list chunks: %w", err)
	}
	p.setStage(ctx, doc.ID, StageChunk)
	chunks, err := p.chunker.Rechunk(ctx, existing, opts)
	if err != nil {
		return p.fail(ctx, doc, StageChunk, err)
	}

	p.setStage(ctx, doc.ID, StageEmbed)
	if p.embedChunks(ctx, chunks) == 0 {
		return p.fail(ctx, doc, StageEmbed, apperr.External("embeddings", errors.New("no chunk could be embedded")))
	}

	defer p.invalidate(ctx, userID)
	if err := p.store.DeleteDocumentChunks(ctx, documentID, userID); err != nil {
		return p.fail(ctx, doc, StageStore, err)
	}
	if err := p.docs.UpdateCounts(ctx, doc.ID, doc.PageCount, len(chunks)); err != nil {
		return IngestResult{}, fmt.Errorf("failed to update document counts: %w", err)
	}
	result, err := p.store.Store(ctx, chunks, documentID, userID, p.embedder.ModelName())
	if err != nil {
		return p.fail(ctx, doc, StageStore, err)
	}

	logger.InfoContext(ctx, "rechunked document", "old_chunks", len(existing), "new_chunks", len(chunks))
	return p.result(ctx, doc, result)
}

// SetCacheInvalidator registers the search cache to clear whenever a user's
// chunks are added, replaced or deleted.
func (p *Pipeline) SetCacheInvalidator(c CacheInvalidator) {
	p.cache = c
}

func (p *Pipeline) invalidate(ctx context.Context, userID string) {
	if p.cache != nil {
		p.cache.InvalidateUser(ctx, userID)
	}
}

// DeleteDocument removes a document and all of its chunks.
func (p *Pipeline) DeleteDocument(ctx context.Context, documentID, userID string) error {
	err := p.store.DeleteDocumentChunks(ctx, documentID, userID)
	if !errors.Is(err, apperr.ErrOwnership) {
		defer p.invalidate(ctx, userID)
	}
	if err != nil {
		return err
	}
	if err := p.docs.Delete(ctx, documentID, userID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	getLogger(ctx).InfoContext(ctx, "deleted document", "document_id", documentID)
	return nil
}

// embedChunks fills in chunk embeddings batch by batch. A failed batch
// leaves its chunks without embeddings, so the store reports them failed.
// It returns the number of embedded chunks.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []chunking.Chunk) int {
	logger := getLogger(ctx)
	model := p.embedder.ModelName()
	embedded := 0

	for start := 0; start < len(chunks); start += p.cfg.EmbedBatchSize {
		end := min(start+p.cfg.EmbedBatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}

		callCtx, cancel := context.WithTimeout(ctx, p.cfg.ExternalTimeout)
		vectors, err := p.embedder.EmbedTexts(callCtx, texts)
		cancel()
		if err == nil && len(vectors) != len(texts) {
			err = fmt.Errorf("embedding count mismatch: expected %d, got %d", len(texts), len(vectors))
		}
		if err != nil {
			logger.WarnContext(ctx, "failed to embed chunk batch", "batch_start", start, "size", len(texts), "error", err)
			continue
		}
		for i, v := range vectors {
			chunks[start+i].Embedding = v
			chunks[start+i].EmbeddingModel = model
		}
		embedded += len(vectors)
	}
	return embedded
}

func (p *Pipeline) setStage(ctx context.Context, documentID, stage string) {
	if err := p.docs.UpdateStatus(ctx, documentID, storage.StatusProcessing, stage, ""); err != nil {
		getLogger(ctx).WarnContext(ctx, "failed to update document stage", "document_id", documentID, "stage", stage, "error", err)
	}
}

func (p *Pipeline) fail(ctx context.Context, doc *storage.DocumentRecord, stage string, cause error) (IngestResult, error) {
	getLogger(ctx).ErrorContext(ctx, "ingestion failed", "document_id", doc.ID, "stage", stage, "error", cause)
	if err := p.docs.UpdateStatus(ctx, doc.ID, storage.StatusFailed, stage, cause.Error()); err != nil {
		return IngestResult{}, errors.Join(cause, err)
	}
	doc.Status, doc.Stage, doc.StatusMessage = storage.StatusFailed, stage, cause.Error()
	return IngestResult{Document: *doc}, fmt.Errorf("ingestion failed at %s: %w", stage, cause)
}

func (p *Pipeline) result(ctx context.Context, doc *storage.DocumentRecord, r vectorstore.StoreResult) (IngestResult, error) {
	fresh, err := p.docs.Get(ctx, doc.ID, doc.UserID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("failed to reload document: %w", err)
	}
	return IngestResult{
		Document: *fresh,
		Stored:   r.StoredCount,
		Failed:   r.FailedCount,
		Errors:   r.Errors,
	}, nil
}

func hasText(pages []chunking.Page) bool {
	for _, pg := range pages {
		if strings.TrimSpace(pg.Text) != "" {
			return true
		}
	}
	return false
}
