package search

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"docqa-ai/internal/apperr"
	"docqa-ai/internal/chunking"
	"docqa-ai/internal/storage"
	"docqa-ai/internal/vectorstore"
	"docqa-ai/internal/vectorstore/mocks"
)

type env struct {
	mem    *vectorstore.MemoryStore
	docs   *storage.DocumentRepo
	chunks *storage.ChunkRepo
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := storage.New(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.Migrate(db))
	return &env{
		mem:    vectorstore.NewMemoryStore(),
		docs:   storage.NewDocumentRepo(db),
		chunks: storage.NewChunkRepo(db),
	}
}

// addDoc stores one context chunk per vector for a new document of userID.
func (e *env) addDoc(t *testing.T, userID, name string, vecs ...[]float32) string {
	t.Helper()
	ctx := context.Background()
	doc := &storage.DocumentRecord{UserID: userID, Name: name}
	require.NoError(t, e.docs.Create(ctx, doc))

	chunks := make([]chunking.Chunk, len(vecs))
	for i, v := range vecs {
		chunks[i] = chunking.Chunk{
			ID: fmt.Sprintf("%s-%d", doc.ID, i), DocumentID: doc.ID, UserID: userID, ChunkIndex: i,
			Layer: chunking.ContextLayer{}, Text: fmt.Sprintf("%s chunk %d", name, i), PageNumber: i + 1,
			Embedding: v,
		}
	}
	require.NoError(t, e.chunks.UpsertBatch(ctx, chunks))
	require.NoError(t, e.mem.Upsert(ctx, chunks))
	return doc.ID
}

func (e *env) service(backend Querier, cfg Config) *Service {
	if backend == nil {
		backend = e.mem
	}
	cfg.VectorSize = 2
	return NewService(backend, e.chunks, e.docs, cfg)
}

var query = []float32{1, 0}

// Similarities to query: 1.0, 0.8, 0.6, 0.3.
var graded = [][]float32{{1, 0}, {0.8, 0.6}, {0.6, 0.8}, {0.3, 0.9539392}}

func TestSearch_Validation(t *testing.T) {
	e := newEnv(t)
	svc := e.service(nil, DefaultConfig())
	ctx := context.Background()

	tests := []struct {
		name      string
		embedding []float32
		userID    string
		opts      Options
	}{
		{"empty embedding", nil, "alice", Options{}},
		{"empty user", query, "", Options{}},
		{"top k too large", query, "alice", Options{TopK: 51}},
		{"negative top k", query, "alice", Options{TopK: -1}},
		{"threshold above one", query, "alice", Options{SimilarityThreshold: 1.5}},
		{"negative threshold", query, "alice", Options{SimilarityThreshold: -0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Search(ctx, tt.embedding, tt.userID, tt.opts)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestSearch_OwnershipIsolation(t *testing.T) {
	e := newEnv(t)
	aliceDoc := e.addDoc(t, "alice", "alice.pdf", graded...)
	bobDoc := e.addDoc(t, "bob", "bob.pdf", graded...)
	svc := e.service(nil, DefaultConfig())
	ctx := context.Background()

	results, err := svc.Search(ctx, query, "alice", Options{TopK: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, aliceDoc, r.DocumentID)
		assert.Equal(t, "alice.pdf", r.DocumentName)
	}

	// Naming Bob's document does not widen Alice's scope.
	results, err = svc.Search(ctx, query, "alice", Options{TopK: 10, DocumentIDs: []string{bobDoc}, DisableRelaxation: true})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_ThresholdMonotonicity(t *testing.T) {
	e := newEnv(t)
	e.addDoc(t, "alice", "manual.pdf", graded...)
	svc := e.service(nil, DefaultConfig())

	prev := -1
	for _, threshold := range []float64{0, 0.2, 0.5, 0.7, 0.9, 1} {
		results, err := svc.Search(context.Background(), query, "alice", Options{
			TopK: 10, SimilarityThreshold: threshold, DisableRelaxation: true,
		})
		require.NoError(t, err)
		if prev >= 0 {
			assert.LessOrEqual(t, len(results), prev, "threshold %v", threshold)
		}
		for _, r := range results {
			assert.GreaterOrEqual(t, r.Similarity, threshold)
		}
		prev = len(results)
	}
	assert.Equal(t, 1, prev)
}

func TestSearch_OrderedAndBounded(t *testing.T) {
	e := newEnv(t)
	e.addDoc(t, "alice", "manual.pdf", graded...)
	svc := e.service(nil, DefaultConfig())

	results, err := svc.Search(context.Background(), query, "alice", Options{TopK: 3})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
	}
}

func TestSearch_Relaxation(t *testing.T) {
	e := newEnv(t)
	e.addDoc(t, "alice", "manual.pdf", graded[1:]...)
	svc := e.service(nil, DefaultConfig())
	ctx := context.Background()

	results, err := svc.Search(ctx, query, "alice", Options{TopK: 10, SimilarityThreshold: 0.9})
	require.NoError(t, err)
	require.Len(t, results, 2, "relaxed to 0.5 keeps 0.8 and 0.6")
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Similarity, 0.5)
	}
	assert.Equal(t, int64(1), svc.Stats().RelaxedCount)

	results, err = svc.Search(ctx, query, "alice", Options{TopK: 10, SimilarityThreshold: 0.9, DisableRelaxation: true})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_NormalizesDimension(t *testing.T) {
	e := newEnv(t)
	e.addDoc(t, "alice", "manual.pdf", graded...)
	svc := e.service(nil, DefaultConfig())

	results, err := svc.Search(context.Background(), []float32{1, 0, 0.5, 0.5}, "alice", Options{TopK: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-9)
}

func TestSearch_FallbackWhenBackendFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)
	backend.EXPECT().SimilaritySearch(gomock.Any(), gomock.Any()).
		Return(nil, apperr.External("qdrant query", errors.New("unavailable"))).Times(2)

	e := newEnv(t)
	e.addDoc(t, "alice", "manual.pdf", graded...)
	e.addDoc(t, "alice", "manual.pdf", graded[:1]...)
	e.addDoc(t, "bob", "bob.pdf", graded...)
	svc := e.service(backend, DefaultConfig())
	ctx := context.Background()

	results, err := svc.Search(ctx, query, "alice", Options{TopK: 10, SimilarityThreshold: 0.82})
	require.NoError(t, err)
	require.Len(t, results, 4, "scores 1, 0.95, 0.9, 0.85 clear 0.82")
	want := []float64{1, 0.95, 0.9, 0.85}
	for i, r := range results {
		assert.True(t, r.Degraded)
		assert.Equal(t, "alice", mustOwner(t, e, r.ChunkID))
		assert.InDelta(t, want[i], r.Similarity, 1e-9)
		assert.Equal(t, "manual.pdf", r.DocumentName)
	}

	// Degraded results are not cached.
	_, err = svc.Search(ctx, query, "alice", Options{TopK: 10, SimilarityThreshold: 0.82})
	require.NoError(t, err)
	assert.Equal(t, int64(2), svc.Stats().FallbackCount)
}

func mustOwner(t *testing.T, e *env, chunkID string) string {
	t.Helper()
	c, err := e.chunks.GetByID(context.Background(), chunkID)
	require.NoError(t, err)
	return c.UserID
}

func TestSearch_FailClosed(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)
	backendErr := apperr.External("qdrant query", errors.New("unavailable"))
	backend.EXPECT().SimilaritySearch(gomock.Any(), gomock.Any()).Return(nil, backendErr)

	e := newEnv(t)
	e.addDoc(t, "alice", "manual.pdf", graded...)
	cfg := DefaultConfig()
	cfg.FailClosed = true
	svc := e.service(backend, cfg)

	_, err := svc.Search(context.Background(), query, "alice", Options{TopK: 5})
	assert.ErrorIs(t, err, apperr.ErrExternal)
	assert.Zero(t, svc.Stats().FallbackCount)
}

// stalledBackend never answers until its context ends.
type stalledBackend struct{}

func (stalledBackend) SimilaritySearch(ctx context.Context, _ vectorstore.Query) ([]vectorstore.Row, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSearch_TimeoutFallsBack(t *testing.T) {
	e := newEnv(t)
	e.addDoc(t, "alice", "manual.pdf", graded[:3]...)
	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond
	svc := e.service(stalledBackend{}, cfg)

	start := time.Now()
	results, err := svc.Search(context.Background(), query, "alice", Options{TopK: 10})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.Len(t, results, 3)
	want := []float64{1, 0.95, 0.9}
	for i, r := range results {
		assert.True(t, r.Degraded)
		assert.InDelta(t, want[i], r.Similarity, 1e-9)
	}
	assert.Equal(t, int64(1), svc.Stats().FallbackCount)
}

func TestSearch_TimeoutFailClosed(t *testing.T) {
	e := newEnv(t)
	e.addDoc(t, "alice", "manual.pdf", graded...)
	cfg := DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	cfg.FailClosed = true
	svc := e.service(stalledBackend{}, cfg)

	_, err := svc.Search(context.Background(), query, "alice", Options{TopK: 5})
	assert.ErrorIs(t, err, apperr.ErrExternal)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, svc.Stats().FallbackCount)
}

func TestSearch_CallerDeadlineIsReturned(t *testing.T) {
	e := newEnv(t)
	e.addDoc(t, "alice", "manual.pdf", graded...)
	cfg := DefaultConfig()
	cfg.Timeout = time.Minute
	svc := e.service(stalledBackend{}, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.Search(ctx, query, "alice", Options{TopK: 5})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, apperr.ErrExternal)
	assert.Zero(t, svc.Stats().FallbackCount)
}

func TestSearch_CacheHit(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)
	backend.EXPECT().SimilaritySearch(gomock.Any(), gomock.Any()).
		Return([]vectorstore.Row{{ChunkID: "c1", DocumentID: "d1", Text: "hit", PageNumber: 1, Similarity: 0.9}}, nil).
		Times(1)

	e := newEnv(t)
	svc := e.service(backend, DefaultConfig())
	ctx := context.Background()

	first, err := svc.Search(ctx, query, "alice", Options{TopK: 5})
	require.NoError(t, err)
	second, err := svc.Search(ctx, query, "alice", Options{TopK: 5})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	st := svc.Stats()
	assert.Equal(t, int64(2), st.SearchCount)
	assert.Equal(t, int64(1), st.CacheHits)
	assert.InDelta(t, 0.5, st.CacheHitRate, 1e-9)
	assert.InDelta(t, 1.0, st.AvgResultCount, 1e-9)
	assert.Equal(t, 1, st.CachedEntryCount)
}

func TestSearch_InvalidateUser(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)
	backend.EXPECT().SimilaritySearch(gomock.Any(), gomock.Any()).
		Return([]vectorstore.Row{{ChunkID: "c1", DocumentID: "d1", Text: "hit", PageNumber: 1, Similarity: 0.9}}, nil).
		Times(3)

	e := newEnv(t)
	svc := e.service(backend, DefaultConfig())
	ctx := context.Background()

	_, err := svc.Search(ctx, query, "alice", Options{TopK: 5})
	require.NoError(t, err)
	_, err = svc.Search(ctx, query, "bob", Options{TopK: 5})
	require.NoError(t, err)
	assert.Equal(t, 2, svc.Stats().CachedEntryCount)

	svc.InvalidateUser(ctx, "alice")
	assert.Equal(t, 1, svc.Stats().CachedEntryCount, "bob's entry survives")

	// Alice's next query reaches the backend again; Bob's is still cached.
	_, err = svc.Search(ctx, query, "alice", Options{TopK: 5})
	require.NoError(t, err)
	_, err = svc.Search(ctx, query, "bob", Options{TopK: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(1), svc.Stats().CacheHits)
}

func TestMultiSearch_MergesByMaxSimilarity(t *testing.T) {
	e := newEnv(t)
	e.addDoc(t, "alice", "manual.pdf", graded...)
	svc := e.service(nil, DefaultConfig())

	results, err := svc.MultiSearch(context.Background(), [][]float32{{1, 0}, {0, 1}}, "alice", Options{TopK: 4, SimilarityThreshold: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 4)

	seen := make(map[string]bool)
	for i, r := range results {
		assert.False(t, seen[r.ChunkID], "duplicate chunk %s", r.ChunkID)
		seen[r.ChunkID] = true
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].Similarity, r.Similarity)
		}
	}
	// The 0.3 chunk scores ~0.95 against the second variant.
	assert.Greater(t, results[1].Similarity, 0.9)

	_, err = svc.MultiSearch(context.Background(), nil, "alice", Options{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestResultCache(t *testing.T) {
	c := newResultCache(time.Minute, 2)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.put("a", "alice", []Result{{ChunkID: "a"}})
	now = now.Add(time.Second)
	c.put("b", "alice", []Result{{ChunkID: "b"}})
	now = now.Add(time.Second)
	c.put("c", "bob", []Result{{ChunkID: "c"}})

	_, ok := c.get("a")
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = c.get("c")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.get("b")
	assert.False(t, ok, "entry past TTL should miss")
}

func TestCacheKey(t *testing.T) {
	base := cacheKey("alice", []float32{1, 2}, Options{TopK: 5, DocumentIDs: []string{"b", "a"}})
	assert.Equal(t, base, cacheKey("alice", []float32{1, 2}, Options{TopK: 5, DocumentIDs: []string{"a", "b"}}))
	assert.NotEqual(t, base, cacheKey("bob", []float32{1, 2}, Options{TopK: 5, DocumentIDs: []string{"a", "b"}}))
	assert.NotEqual(t, base, cacheKey("alice", []float32{1, 3}, Options{TopK: 5, DocumentIDs: []string{"a", "b"}}))
	assert.NotEqual(t, base, cacheKey("alice", []float32{1, 2}, Options{TopK: 5, DocumentIDs: []string{"a", "b"}, DisableRelaxation: true}))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []float32{1, 2}, Normalize([]float32{1, 2, 3}, 2))
	assert.Equal(t, []float32{1, 2, 0, 0}, Normalize([]float32{1, 2}, 4))
	assert.Equal(t, []float32{1}, Normalize([]float32{1}, 0))
}
