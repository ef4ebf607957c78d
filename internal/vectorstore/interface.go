package vectorstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_backend.go -package=mocks docqa-ai/internal/vectorstore Backend

import (
	"context"

	"docqa-ai/internal/chunking"
)

// Query is a user-restricted similarity query.
type Query struct {
	Vector    []float32
	UserID    string
	Threshold float64
	Limit     int
	// DocumentIDs optionally narrows the query to these documents.
	DocumentIDs []string
}

// Row is a single similarity match. Similarity is in [0, 1].
type Row struct {
	ChunkID      string
	DocumentID   string
	Text         string
	PageNumber   int
	SectionTitle string
	Similarity   float64
}

// Backend is the similarity query backend chunks are indexed in.
type Backend interface {
	// Upsert indexes chunks that carry an embedding. Writes are idempotent per chunk id.
	Upsert(ctx context.Context, chunks []chunking.Chunk) error

	// SimilaritySearch returns up to q.Limit rows owned by q.UserID with
	// similarity >= q.Threshold, ordered by descending similarity.
	SimilaritySearch(ctx context.Context, q Query) ([]Row, error)

	// DeleteByDocument removes every indexed chunk of the user's document.
	DeleteByDocument(ctx context.Context, documentID, userID string) error

	// Healthy returns nil when the backend is reachable.
	Healthy(ctx context.Context) error
}

// clampSimilarity maps a cosine score onto [0, 1].
func clampSimilarity(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
