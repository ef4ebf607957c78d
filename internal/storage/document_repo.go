package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_document_store.go -package=mocks docqa-ai/internal/storage DocumentStore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DocumentStore is the ownership registry consulted before any chunk write
// or document-scoped query.
type DocumentStore interface {
	// Exists reports whether documentID exists and belongs to userID.
	Exists(ctx context.Context, documentID, userID string) (bool, error)
}

// DocumentRepo provides methods for document operations.
// It implements the DocumentStore interface.
type DocumentRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewDocumentRepo creates a new DocumentRepo.
func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db, now: time.Now}
}

const documentColumns = "id, user_id, name, status, stage, status_message, page_count, chunk_count, content_hash, created_at, updated_at"

// Create inserts a new pending document. An empty ID is replaced by a new UUID.
func (r *DocumentRepo) Create(ctx context.Context, doc *DocumentRecord) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Status == "" {
		doc.Status = StatusPending
	}
	now := r.now()
	doc.CreatedAt, doc.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.UserID, doc.Name, string(doc.Status), doc.Stage, doc.StatusMessage,
		doc.PageCount, doc.ChunkCount, doc.ContentHash, formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// Get returns the document if it belongs to userID. Returns ErrNotFound
// otherwise, so foreign documents are indistinguishable from missing ones.
func (r *DocumentRepo) Get(ctx context.Context, documentID, userID string) (*DocumentRecord, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = ? AND user_id = ?",
		documentID, userID,
	)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}
	return doc, nil
}

// Exists implements DocumentStore.
func (r *DocumentRepo) Exists(ctx context.Context, documentID, userID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		"SELECT 1 FROM documents WHERE id = ? AND user_id = ?",
		documentID, userID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check document ownership: %w", err)
	}
	return true, nil
}

// UpdateStatus records a lifecycle transition together with the stage and a
// human-readable message.
func (r *DocumentRepo) UpdateStatus(ctx context.Context, documentID string, status DocumentStatus, stage, message string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE documents SET status = ?, stage = ?, status_message = ?, updated_at = ? WHERE id = ?",
		string(status), stage, message, formatTime(r.now()), documentID,
	)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	return requireRow(res)
}

// UpdateCounts sets the page and chunk counts.
func (r *DocumentRepo) UpdateCounts(ctx context.Context, documentID string, pageCount, chunkCount int) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE documents SET page_count = ?, chunk_count = ?, updated_at = ? WHERE id = ?",
		pageCount, chunkCount, formatTime(r.now()), documentID,
	)
	if err != nil {
		return fmt.Errorf("failed to update document counts: %w", err)
	}
	return requireRow(res)
}

// UpdateChunkCount sets only the chunk count.
func (r *DocumentRepo) UpdateChunkCount(ctx context.Context, documentID string, chunkCount int) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE documents SET chunk_count = ?, updated_at = ? WHERE id = ?",
		chunkCount, formatTime(r.now()), documentID,
	)
	if err != nil {
		return fmt.Errorf("failed to update chunk count: %w", err)
	}
	return requireRow(res)
}

// ListByUser returns the user's documents, newest first.
func (r *DocumentRepo) ListByUser(ctx context.Context, userID string) ([]DocumentRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE user_id = ? ORDER BY created_at DESC, id",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var docs []DocumentRecord
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return docs, nil
}

// FindByHash returns the user's document with the given content hash.
// Returns ErrNotFound if none exists.
func (r *DocumentRepo) FindByHash(ctx context.Context, userID, contentHash string) (*DocumentRecord, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE user_id = ? AND content_hash = ? ORDER BY created_at DESC LIMIT 1",
		userID, contentHash,
	)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document by hash: %w", err)
	}
	return doc, nil
}

// Delete removes the document and, by cascade, its chunks. Returns
// ErrNotFound when the document does not belong to userID.
func (r *DocumentRepo) Delete(ctx context.Context, documentID, userID string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ? AND user_id = ?", documentID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return requireRow(res)
}

// NamesByIDs maps document ids to names. Unknown ids are omitted.
func (r *DocumentRepo) NamesByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	query := "SELECT id, name FROM documents WHERE id IN (" + placeholders(len(ids)) + ")"
	rows, err := r.db.QueryContext(ctx, query, toArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query document names: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan document name: %w", err)
		}
		names[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return names, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*DocumentRecord, error) {
	var doc DocumentRecord
	var status, createdAt, updatedAt string
	if err := row.Scan(&doc.ID, &doc.UserID, &doc.Name, &status, &doc.Stage, &doc.StatusMessage,
		&doc.PageCount, &doc.ChunkCount, &doc.ContentHash, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	doc.Status = DocumentStatus(status)

	var err error
	if doc.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at timestamp: %w", err)
	}
	if doc.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at timestamp: %w", err)
	}
	return &doc, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
