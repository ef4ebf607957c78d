package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docqa-ai/internal/apperr"
	"docqa-ai/internal/chunking"
	"docqa-ai/internal/contextutil"
	"docqa-ai/internal/storage"
)

// DocumentRegistry is the subset of the document registry the store needs.
type DocumentRegistry interface {
	storage.DocumentStore
	UpdateChunkCount(ctx context.Context, documentID string, chunkCount int) error
	UpdateStatus(ctx context.Context, documentID string, status storage.DocumentStatus, stage, message string) error
}

// Config tunes batching and retry.
type Config struct {
	BatchSize   int           `yaml:"batch_size"`
	MaxRetries  int           `yaml:"max_retries"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
}

// DefaultConfig returns batches of 100 retried up to 3 times from 200ms.
func DefaultConfig() Config {
	return Config{
		BatchSize:   100,
		MaxRetries:  3,
		BaseBackoff: 200 * time.Millisecond,
	}
}

// ChunkError reports why a single chunk was not stored.
type ChunkError struct {
	ChunkID string
	Err     string
}

// StoreResult is the per-chunk outcome of a Store call.
type StoreResult struct {
	StoredCount int
	FailedCount int
	Errors      []ChunkError
}

// Store persists chunks to the chunk registry and the similarity backend.
type Store struct {
	docs    DocumentRegistry
	chunks  storage.ChunkStore
	backend Backend
	cfg     Config
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewStore creates a new Store. Zero config fields take their defaults.
func NewStore(docs DocumentRegistry, chunks storage.ChunkStore, backend Backend, cfg Config) *Store {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	return &Store{
		docs:    docs,
		chunks:  chunks,
		backend: backend,
		cfg:     cfg,
		sleep:   sleepContext,
	}
}

func getLogger(ctx context.Context) *slog.Logger {
	return contextutil.LoggerFromContext(ctx).With("component", "vectorstore")
}

// checkOwnership fails with apperr.ErrOwnership unless documentID belongs to userID.
func (s *Store) checkOwnership(ctx context.Context, documentID, userID string) error {
	if documentID == "" {
		return apperr.Invalid("document_id", "must not be empty")
	}
	if userID == "" {
		return apperr.Invalid("user_id", "must not be empty")
	}
	ok, err := s.docs.Exists(ctx, documentID, userID)
	if err != nil {
		return fmt.Errorf("failed to check document ownership: %w", err)
	}
	if !ok {
		return apperr.Ownership(documentID, userID)
	}
	return nil
}

// Store writes the document's chunks in batches. Ownership is verified before
// any write. Chunks without an embedding are reported failed. A batch whose
// write keeps failing with a transient error is retried with exponential
// backoff, then its chunks are reported failed. Afterwards the document's
// chunk count and status reflect the outcome.
func (s *Store) Store(ctx context.Context, chunks []chunking.Chunk, documentID, userID, embeddingModel string) (StoreResult, error) {
	logger := getLogger(ctx)

	if err := s.checkOwnership(ctx, documentID, userID); err != nil {
		return StoreResult{}, err
	}
	for _, c := range chunks {
		if c.DocumentID != documentID || c.UserID != userID {
			return StoreResult{}, apperr.Invalid("chunks", fmt.Sprintf("chunk %s does not belong to document %s of user %s", c.ID, documentID, userID))
		}
	}

	var result StoreResult
	ready := make([]chunking.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			result.FailedCount++
			result.Errors = append(result.Errors, ChunkError{ChunkID: c.ID, Err: "missing embedding"})
			continue
		}
		if c.EmbeddingModel == "" {
			c.EmbeddingModel = embeddingModel
		}
		ready = append(ready, c)
	}

	for start := 0; start < len(ready); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(ready))
		batch := ready[start:end]

		if err := s.writeBatch(ctx, batch); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			logger.WarnContext(ctx, "batch failed", "document_id", documentID, "batch_start", start, "size", len(batch), "error", err)
			result.FailedCount += len(batch)
			for _, c := range batch {
				result.Errors = append(result.Errors, ChunkError{ChunkID: c.ID, Err: err.Error()})
			}
			continue
		}
		result.StoredCount += len(batch)
	}

	if err := s.finish(ctx, documentID, result); err != nil {
		return result, err
	}

	logger.InfoContext(ctx, "stored chunks", "document_id", documentID, "stored", result.StoredCount, "failed", result.FailedCount)
	return result, nil
}

// writeBatch writes one batch to both stores, retrying transient failures.
// A batch that finally fails leaves no rows in the chunk registry.
func (s *Store) writeBatch(ctx context.Context, batch []chunking.Chunk) error {
	err := s.upsertWithRetry(ctx, batch)
	if err != nil {
		s.discard(ctx, batch)
	}
	return err
}

// discard removes the registry rows of a failed batch.
func (s *Store) discard(ctx context.Context, batch []chunking.Chunk) {
	ids := make([]string, len(batch))
	for i, c := range batch {
		ids[i] = c.ID
	}
	if err := s.chunks.DeleteByIDs(context.WithoutCancel(ctx), ids); err != nil {
		getLogger(ctx).ErrorContext(ctx, "failed to remove rows of failed batch", "chunks", len(ids), "error", err)
	}
}

func (s *Store) upsertWithRetry(ctx context.Context, batch []chunking.Chunk) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = s.chunks.UpsertBatch(ctx, batch)
		if err == nil {
			err = s.backend.Upsert(ctx, batch)
		}
		if err == nil || !apperr.IsRetryable(err) || attempt >= s.cfg.MaxRetries {
			return err
		}
		getLogger(ctx).DebugContext(ctx, "retrying batch", "attempt", attempt+1, "error", err)
		if sleepErr := s.sleep(ctx, retryDelay(s.cfg.BaseBackoff, attempt)); sleepErr != nil {
			return errors.Join(err, sleepErr)
		}
	}
}

func (s *Store) finish(ctx context.Context, documentID string, r StoreResult) error {
	if err := s.docs.UpdateChunkCount(ctx, documentID, r.StoredCount); err != nil {
		return fmt.Errorf("failed to update chunk count: %w", err)
	}

	status, message := storage.StatusIndexed, ""
	switch {
	case r.FailedCount > 0 && r.StoredCount == 0:
		status, message = storage.StatusFailed, fmt.Sprintf("all %d chunks failed to store", r.FailedCount)
	case r.FailedCount > 0:
		status, message = storage.StatusPartial, fmt.Sprintf("%d of %d chunks failed to store", r.FailedCount, r.FailedCount+r.StoredCount)
	}
	if err := s.docs.UpdateStatus(ctx, documentID, status, "store", message); err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	return nil
}

// DeleteDocumentChunks removes the document's chunks from the similarity
// backend and the chunk registry, after the same ownership check as Store.
func (s *Store) DeleteDocumentChunks(ctx context.Context, documentID, userID string) error {
	if err := s.checkOwnership(ctx, documentID, userID); err != nil {
		return err
	}
	if err := s.backend.DeleteByDocument(ctx, documentID, userID); err != nil {
		return err
	}
	if err := s.chunks.DeleteByDocument(ctx, documentID); err != nil {
		return err
	}
	if err := s.docs.UpdateChunkCount(ctx, documentID, 0); err != nil {
		return fmt.Errorf("failed to update chunk count: %w", err)
	}
	getLogger(ctx).InfoContext(ctx, "deleted document chunks", "document_id", documentID)
	return nil
}

// Healthy reports the similarity backend's health.
func (s *Store) Healthy(ctx context.Context) error {
	return s.backend.Healthy(ctx)
}

// retryDelay is base doubled per attempt, capped at 5s.
func retryDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
