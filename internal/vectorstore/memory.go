package vectorstore

import (
	"context"
	"math"
	"slices"
	"sync"

	"docqa-ai/internal/apperr"
	"docqa-ai/internal/chunking"
)

// MemoryStore is an in-process Backend using brute-force cosine similarity.
// It suits tests and single-user local runs.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[string]chunking.Chunk
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: make(map[string]chunking.Chunk)}
}

// Upsert implements Backend.
func (s *MemoryStore) Upsert(_ context.Context, chunks []chunking.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		c.Embedding = slices.Clone(c.Embedding)
		s.chunks[c.ID] = c
	}
	return nil
}

// SimilaritySearch implements Backend.
func (s *MemoryStore) SimilaritySearch(ctx context.Context, q Query) ([]Row, error) {
	if q.Limit <= 0 {
		return nil, apperr.Invalid("limit", "must be greater than 0")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var allowed map[string]bool
	if len(q.DocumentIDs) > 0 {
		allowed = make(map[string]bool, len(q.DocumentIDs))
		for _, id := range q.DocumentIDs {
			allowed[id] = true
		}
	}

	s.mu.RLock()
	rows := make([]Row, 0)
	for _, c := range s.chunks {
		if c.UserID != q.UserID || (allowed != nil && !allowed[c.DocumentID]) {
			continue
		}
		sim := clampSimilarity(cosine(q.Vector, c.Embedding))
		if sim < q.Threshold {
			continue
		}
		rows = append(rows, Row{
			ChunkID:      c.ID,
			DocumentID:   c.DocumentID,
			Text:         c.Text,
			PageNumber:   c.PageNumber,
			SectionTitle: c.SectionTitle,
			Similarity:   sim,
		})
	}
	s.mu.RUnlock()

	slices.SortFunc(rows, func(a, b Row) int {
		if a.Similarity != b.Similarity {
			if a.Similarity > b.Similarity {
				return -1
			}
			return 1
		}
		if a.ChunkID < b.ChunkID {
			return -1
		}
		if a.ChunkID > b.ChunkID {
			return 1
		}
		return 0
	})
	if len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

// DeleteByDocument implements Backend.
func (s *MemoryStore) DeleteByDocument(_ context.Context, documentID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.chunks {
		if c.DocumentID == documentID && c.UserID == userID {
			delete(s.chunks, id)
		}
	}
	return nil
}

// Healthy implements Backend.
func (s *MemoryStore) Healthy(context.Context) error {
	return nil
}

// Len returns the number of indexed chunks.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

func cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
