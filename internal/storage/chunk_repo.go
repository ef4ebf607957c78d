package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"docqa-ai/internal/chunking"
	"docqa-ai/internal/facts"
)

// ChunkStore defines the interface for chunk storage operations.
type ChunkStore interface {
	// UpsertBatch writes chunks in one transaction, replacing rows with the same id.
	UpsertBatch(ctx context.Context, chunks []chunking.Chunk) error
	// DeleteByDocument deletes all chunks of a document.
	DeleteByDocument(ctx context.Context, documentID string) error
	// DeleteByIDs deletes the chunks with the given ids. Unknown ids are ignored.
	DeleteByIDs(ctx context.Context, ids []string) error
	// ListByDocument returns a document's chunks ordered by chunk_index.
	ListByDocument(ctx context.Context, documentID string) ([]chunking.Chunk, error)
	// ListByUser returns up to limit of the user's chunks, optionally
	// restricted to documentIDs, in document then index order.
	ListByUser(ctx context.Context, userID string, documentIDs []string, limit int) ([]chunking.Chunk, error)
	// GetByID gets a chunk by its ID. Returns ErrNotFound if not found.
	GetByID(ctx context.Context, id string) (*chunking.Chunk, error)
}

// ChunkRepo provides methods for chunk operations.
// It implements the ChunkStore interface.
type ChunkRepo struct {
	db *sql.DB
}

// NewChunkRepo creates a new ChunkRepo.
func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

const chunkColumns = `id, document_id, user_id, chunk_index, layer, parent_chunk_id, text, token_count,
	page_number, position_start, position_end, section_title, embedding, embedding_model, embedding_dim, facts`

// UpsertBatch writes chunks in a single transaction. Writes are idempotent
// per chunk id.
func (r *ChunkRepo) UpsertBatch(ctx context.Context, chunks []chunking.Chunk) (err error) {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks (`+chunkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			document_id = excluded.document_id, user_id = excluded.user_id,
			chunk_index = excluded.chunk_index, layer = excluded.layer,
			parent_chunk_id = excluded.parent_chunk_id, text = excluded.text,
			token_count = excluded.token_count, page_number = excluded.page_number,
			position_start = excluded.position_start, position_end = excluded.position_end,
			section_title = excluded.section_title, embedding = excluded.embedding,
			embedding_model = excluded.embedding_model, embedding_dim = excluded.embedding_dim,
			facts = excluded.facts`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk upsert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	for _, c := range chunks {
		factsJSON, mErr := json.Marshal(nonNilFacts(c.Facts))
		if mErr != nil {
			return fmt.Errorf("failed to encode facts for chunk %s: %w", c.ID, mErr)
		}
		if _, err = stmt.ExecContext(ctx,
			c.ID, c.DocumentID, c.UserID, c.ChunkIndex, chunking.LayerName(c.Layer), chunking.ParentID(c.Layer),
			c.Text, c.TokenCount, c.PageNumber, c.PositionStart, c.PositionEnd, c.SectionTitle,
			EncodeVector(c.Embedding), c.EmbeddingModel, len(c.Embedding), string(factsJSON),
		); err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", c.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunk batch: %w", err)
	}
	return nil
}

// DeleteByDocument deletes all chunks for a given document ID.
// Used when re-chunking a document to remove old chunks before inserting new ones.
func (r *ChunkRepo) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks by document: %w", err)
	}
	return nil
}

// DeleteByIDs deletes the given chunks in one statement.
func (r *ChunkRepo) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := "DELETE FROM chunks WHERE id IN (" + placeholders[:len(placeholders)-1] + ")"
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete chunks by id: %w", err)
	}
	return nil
}

// ListByDocument returns all chunks of a document ordered by chunk_index.
// Returns an empty slice if no chunks exist (not an error).
func (r *ChunkRepo) ListByDocument(ctx context.Context, documentID string) ([]chunking.Chunk, error) {
	return r.query(ctx,
		"SELECT "+chunkColumns+" FROM chunks WHERE document_id = ? ORDER BY chunk_index, id",
		documentID,
	)
}

// ListByUser returns chunks owned by userID. Only context-layer chunks are
// listed so fallback results are not duplicated by their detail children.
func (r *ChunkRepo) ListByUser(ctx context.Context, userID string, documentIDs []string, limit int) ([]chunking.Chunk, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + chunkColumns + " FROM chunks WHERE user_id = ? AND layer = 'context'"
	args := []any{userID}
	if len(documentIDs) > 0 {
		query += " AND document_id IN (" + placeholders(len(documentIDs)) + ")"
		args = append(args, toArgs(documentIDs)...)
	}
	query += " ORDER BY document_id, chunk_index LIMIT ?"
	args = append(args, limit)
	return r.query(ctx, query, args...)
}

// GetByID gets a chunk by its ID. Returns ErrNotFound if not found.
func (r *ChunkRepo) GetByID(ctx context.Context, id string) (*chunking.Chunk, error) {
	chunks, err := r.query(ctx, "SELECT "+chunkColumns+" FROM chunks WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, ErrNotFound
	}
	return &chunks[0], nil
}

// CountByUser returns the number of chunks and the number of chunks that
// have an embedding, across all of the user's documents.
func (r *ChunkRepo) CountByUser(ctx context.Context, userID string) (total, embedded int, err error) {
	err = r.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(CASE WHEN embedding_dim > 0 THEN 1 ELSE 0 END), 0) FROM chunks WHERE user_id = ?",
		userID,
	).Scan(&total, &embedded)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return total, embedded, nil
}

func (r *ChunkRepo) query(ctx context.Context, query string, args ...any) ([]chunking.Chunk, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	chunks := []chunking.Chunk{}
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return chunks, nil
}

func scanChunk(row rowScanner) (chunking.Chunk, error) {
	var (
		c          chunking.Chunk
		layer      string
		parent     string
		blob       []byte
		dim        int
		factsJSON  string
		decodedVec []float32
	)
	if err := row.Scan(&c.ID, &c.DocumentID, &c.UserID, &c.ChunkIndex, &layer, &parent, &c.Text, &c.TokenCount,
		&c.PageNumber, &c.PositionStart, &c.PositionEnd, &c.SectionTitle, &blob, &c.EmbeddingModel, &dim, &factsJSON); err != nil {
		return chunking.Chunk{}, fmt.Errorf("failed to scan chunk: %w", err)
	}

	l, err := chunking.ParseLayer(layer, parent)
	if err != nil {
		return chunking.Chunk{}, fmt.Errorf("chunk %s: %w", c.ID, err)
	}
	c.Layer = l

	if decodedVec, err = DecodeVector(blob); err != nil {
		return chunking.Chunk{}, fmt.Errorf("chunk %s: %w", c.ID, err)
	}
	c.Embedding = decodedVec

	var fs []facts.Fact
	if err := json.Unmarshal([]byte(factsJSON), &fs); err != nil {
		return chunking.Chunk{}, fmt.Errorf("chunk %s: failed to decode facts: %w", c.ID, err)
	}
	if len(fs) > 0 {
		c.Facts = fs
	}
	return c, nil
}

func nonNilFacts(fs []facts.Fact) []facts.Fact {
	if fs == nil {
		return []facts.Fact{}
	}
	return fs
}

// EncodeVector packs a vector as little-endian float32s. A nil or empty
// vector encodes to nil (SQL NULL).
func EncodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, errors.New("embedding blob length is not a multiple of 4")
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
