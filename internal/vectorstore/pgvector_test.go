package vectorstore

import (
	"context"
	"strings"
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-ai/internal/apperr"
	"docqa-ai/internal/chunking"
)

// newOfflinePgVector returns a store whose pool never connects; only code
// paths that stop before the database are exercised.
func newOfflinePgVector(t *testing.T, dim int) *PgVectorStore {
	t.Helper()
	s, err := NewPgVectorStore("postgres://docqa@127.0.0.1:1/docqa?connect_timeout=1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	s.dim = dim
	return s
}

func TestPgVectorStore_SearchQuery(t *testing.T) {
	s := newOfflinePgVector(t, 3)

	tests := []struct {
		name       string
		q          Query
		wantArgs   int
		wantClause []string
		notClause  []string
	}{
		{
			name:       "user scoped",
			q:          Query{Vector: []float32{1, 0, 0}, UserID: "alice", Threshold: 0.7, Limit: 5},
			wantArgs:   4,
			wantClause: []string{"user_id = $2", ">= $3", "LIMIT $4", "ORDER BY embedding <=> $1"},
			notClause:  []string{"ANY("},
		},
		{
			name:       "document filter",
			q:          Query{Vector: []float32{1, 0, 0}, UserID: "alice", Limit: 10, DocumentIDs: []string{"d1", "d2"}},
			wantArgs:   5,
			wantClause: []string{"user_id = $2", "document_id = ANY($4)", "LIMIT $5"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := s.searchQuery(tt.q)
			require.NoError(t, err)
			require.Len(t, args, tt.wantArgs)
			for _, c := range tt.wantClause {
				assert.Contains(t, query, c)
			}
			for _, c := range tt.notClause {
				assert.NotContains(t, query, c)
			}

			vec, ok := args[0].(pgvector.Vector)
			require.True(t, ok, "first argument is %T", args[0])
			assert.Equal(t, tt.q.Vector, vec.Slice())
			assert.Equal(t, tt.q.UserID, args[1])
			assert.Equal(t, tt.q.Threshold, args[2])
			assert.Equal(t, tt.q.Limit, args[len(args)-1])
			if len(tt.q.DocumentIDs) > 0 {
				assert.Equal(t, tt.q.DocumentIDs, args[3])
			}
		})
	}
}

func TestPgVectorStore_SearchValidation(t *testing.T) {
	s := newOfflinePgVector(t, 3)
	ctx := context.Background()

	tests := []struct {
		name string
		q    Query
	}{
		{"zero limit", Query{Vector: []float32{1, 0, 0}, UserID: "alice"}},
		{"missing user", Query{Vector: []float32{1, 0, 0}, Limit: 5}},
		{"empty vector", Query{UserID: "alice", Limit: 5}},
		{"wrong dimension", Query{Vector: []float32{1, 0}, UserID: "alice", Limit: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.SimilaritySearch(ctx, tt.q)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestPgVectorStore_UpsertValidation(t *testing.T) {
	s := newOfflinePgVector(t, 3)
	ctx := context.Background()

	err := s.Upsert(ctx, []chunking.Chunk{{ID: "c1", DocumentID: "d1", UserID: "alice", Embedding: []float32{1, 2}}})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.True(t, strings.Contains(err.Error(), "want 3"), "error %q names the expected dimension", err)

	// Chunks without embeddings are skipped before any connection is made.
	assert.NoError(t, s.Upsert(ctx, []chunking.Chunk{{ID: "c2", DocumentID: "d1", UserID: "alice"}}))
	assert.NoError(t, s.Upsert(ctx, nil))
}

func TestPgVectorStore_EnsureSchemaRejectsSize(t *testing.T) {
	s := newOfflinePgVector(t, 0)
	err := s.EnsureSchema(context.Background(), 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Zero(t, s.dim)
}

func TestPgVectorStore_NoDimensionCheckBeforeSchema(t *testing.T) {
	s := newOfflinePgVector(t, 0)
	_, args, err := s.searchQuery(Query{Vector: []float32{1, 2, 3, 4}, UserID: "alice", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, args, 4)
}
