package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"docqa-ai/internal/apperr"
	"docqa-ai/internal/chunking"
	"docqa-ai/internal/contextutil"
)

// PgVectorStore implements Backend on Postgres with the pgvector extension.
type PgVectorStore struct {
	db *sql.DB
	// dim is the column dimension once EnsureSchema ran; zero skips the check.
	dim int
}

// NewPgVectorStore opens a Postgres connection pool for dsn.
func NewPgVectorStore(dsn string) (*PgVectorStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return &PgVectorStore{db: db}, nil
}

// Close closes the underlying pool.
func (s *PgVectorStore) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the extension, table and indexes for vectors of vectorSize.
func (s *PgVectorStore) EnsureSchema(ctx context.Context, vectorSize int) error {
	if vectorSize <= 0 {
		return apperr.Invalid("vector_size", "must be greater than 0")
	}
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunk_vectors (
			chunk_id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			text TEXT NOT NULL,
			page_number INTEGER NOT NULL,
			section_title TEXT NOT NULL DEFAULT '',
			embedding vector(%d) NOT NULL
		)`, vectorSize),
		`CREATE INDEX IF NOT EXISTS idx_chunk_vectors_user ON chunk_vectors(user_id, document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_vectors_embedding ON chunk_vectors USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure pgvector schema: %w", err)
		}
	}
	s.dim = vectorSize
	return nil
}

func (s *PgVectorStore) checkDim(field string, v []float32) error {
	if s.dim > 0 && len(v) != s.dim {
		return apperr.Invalid(field, fmt.Sprintf("has %d dimensions, want %d", len(v), s.dim))
	}
	return nil
}

// Upsert implements Backend. Chunks without an embedding are skipped.
func (s *PgVectorStore) Upsert(ctx context.Context, chunks []chunking.Chunk) (err error) {
	embedded := make([]chunking.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		if err := s.checkDim("embedding", c.Embedding); err != nil {
			return err
		}
		embedded = append(embedded, c)
	}
	if len(embedded) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.External("pgvector begin", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, c := range embedded {
		_, err = tx.ExecContext(ctx, `INSERT INTO chunk_vectors
			(chunk_id, document_id, user_id, text, page_number, section_title, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (chunk_id) DO UPDATE SET
				document_id = EXCLUDED.document_id, user_id = EXCLUDED.user_id, text = EXCLUDED.text,
				page_number = EXCLUDED.page_number, section_title = EXCLUDED.section_title,
				embedding = EXCLUDED.embedding`,
			c.ID, c.DocumentID, c.UserID, c.Text, c.PageNumber, c.SectionTitle, pgvector.NewVector(c.Embedding),
		)
		if err != nil {
			return apperr.External("pgvector upsert", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return apperr.External("pgvector commit", err)
	}
	contextutil.LoggerFromContext(ctx).DebugContext(ctx, "upserted vectors", "count", len(embedded))
	return nil
}

// SimilaritySearch implements Backend using cosine distance (<=>).
func (s *PgVectorStore) SimilaritySearch(ctx context.Context, q Query) ([]Row, error) {
	query, args, err := s.searchQuery(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.External("pgvector query", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Text, &r.PageNumber, &r.SectionTitle, &r.Similarity); err != nil {
			return nil, apperr.External("pgvector scan", err)
		}
		r.Similarity = clampSimilarity(r.Similarity)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.External("pgvector rows", err)
	}
	return out, nil
}

// searchQuery validates q and builds the similarity statement. Arguments are
// the vector, user, threshold, then optional document ids and the limit.
func (s *PgVectorStore) searchQuery(q Query) (string, []any, error) {
	if q.Limit <= 0 {
		return "", nil, apperr.Invalid("limit", "must be greater than 0")
	}
	if q.UserID == "" {
		return "", nil, apperr.Invalid("user_id", "must not be empty")
	}
	if len(q.Vector) == 0 {
		return "", nil, apperr.Invalid("vector", "must not be empty")
	}
	if err := s.checkDim("vector", q.Vector); err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString(`SELECT chunk_id, document_id, text, page_number, section_title, 1 - (embedding <=> $1) AS similarity
		FROM chunk_vectors
		WHERE user_id = $2 AND 1 - (embedding <=> $1) >= $3`)
	args := []any{pgvector.NewVector(q.Vector), q.UserID, q.Threshold}
	if len(q.DocumentIDs) > 0 {
		args = append(args, q.DocumentIDs)
		fmt.Fprintf(&sb, " AND document_id = ANY($%d)", len(args))
	}
	args = append(args, q.Limit)
	fmt.Fprintf(&sb, " ORDER BY embedding <=> $1 LIMIT $%d", len(args))
	return sb.String(), args, nil
}

// DeleteByDocument implements Backend.
func (s *PgVectorStore) DeleteByDocument(ctx context.Context, documentID, userID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM chunk_vectors WHERE document_id = $1 AND user_id = $2", documentID, userID)
	if err != nil {
		return apperr.External("pgvector delete", err)
	}
	return nil
}

// Healthy implements Backend.
func (s *PgVectorStore) Healthy(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperr.External("pgvector ping", err)
	}
	return nil
}
