package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"docqa-ai/internal/apperr"
	"docqa-ai/internal/contextutil"
	"docqa-ai/internal/vectorstore"
)

// Service performs user-scoped vector search with threshold relaxation,
// caching and a degraded fallback.
type Service struct {
	backend Querier
	lister  ChunkLister
	namer   DocumentNamer
	cfg     Config
	cache   *resultCache

	mu    sync.Mutex
	stats statsAccumulator
}

type statsAccumulator struct {
	searches     int64
	totalLatency time.Duration
	totalResults int64
	cacheHits    int64
	fallbacks    int64
	relaxed      int64
}

// NewService creates a new Service. Zero config fields take their defaults.
func NewService(backend Querier, lister ChunkLister, namer DocumentNamer, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = def.MaxTopK
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.RelaxedThreshold <= 0 {
		cfg.RelaxedThreshold = def.RelaxedThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Service{
		backend: backend,
		lister:  lister,
		namer:   namer,
		cfg:     cfg,
		cache:   newResultCache(cfg.CacheTTL, cfg.CacheSize),
	}
}

func getLogger(ctx context.Context) *slog.Logger {
	return contextutil.LoggerFromContext(ctx).With("component", "search")
}

func (s *Service) validate(embedding []float32, userID string, opts *Options) error {
	if len(embedding) == 0 {
		return apperr.Invalid("embedding", "must not be empty")
	}
	if userID == "" {
		return apperr.Invalid("user_id", "must not be empty")
	}
	if opts.TopK == 0 {
		opts.TopK = DefaultTopK
	}
	if opts.TopK < 1 || opts.TopK > s.cfg.MaxTopK {
		return apperr.Invalid("top_k", fmt.Sprintf("must be between 1 and %d", s.cfg.MaxTopK))
	}
	if math.IsNaN(opts.SimilarityThreshold) || opts.SimilarityThreshold < 0 || opts.SimilarityThreshold > 1 {
		return apperr.Invalid("similarity_threshold", "must be between 0 and 1")
	}
	return nil
}

// Search returns up to opts.TopK of the user's chunks ordered by descending
// similarity. Only results at or above the effective threshold are returned.
// When nothing meets the requested threshold the query is retried once at
// the relaxed threshold unless opts.DisableRelaxation is set. When the
// backend fails, the user's stored chunks are listed with synthetic scores
// and flagged Degraded, unless the service is configured to fail closed.
func (s *Service) Search(ctx context.Context, embedding []float32, userID string, opts Options) ([]Result, error) {
	start := time.Now()
	if err := s.validate(embedding, userID, &opts); err != nil {
		return nil, err
	}
	logger := getLogger(ctx)

	key := cacheKey(userID, embedding, opts)
	if cached, ok := s.cache.get(key); ok {
		s.record(start, len(cached), true, false, false)
		logger.DebugContext(ctx, "search cache hit", "results", len(cached))
		return cached, nil
	}

	vector := Normalize(embedding, s.cfg.VectorSize)
	query := vectorstore.Query{
		Vector:      vector,
		UserID:      userID,
		Threshold:   opts.SimilarityThreshold,
		Limit:       opts.TopK,
		DocumentIDs: opts.DocumentIDs,
	}

	rows, err := s.query(ctx, query)
	relaxed := false
	if err == nil && len(rows) == 0 && !opts.DisableRelaxation && opts.SimilarityThreshold > s.cfg.RelaxedThreshold {
		relaxed = true
		query.Threshold = s.cfg.RelaxedThreshold
		logger.DebugContext(ctx, "no results, relaxing threshold", "from", opts.SimilarityThreshold, "to", query.Threshold)
		rows, err = s.query(ctx, query)
	}

	if err != nil {
		if s.cfg.FailClosed || ctx.Err() != nil {
			return nil, err
		}
		logger.WarnContext(ctx, "similarity search failed, using degraded listing", "error", err)
		results, fbErr := s.fallback(ctx, userID, opts)
		if fbErr != nil {
			return nil, fmt.Errorf("fallback listing failed after search error %v: %w", err, fbErr)
		}
		s.record(start, len(results), false, true, relaxed)
		return results, nil
	}

	results := make([]Result, 0, len(rows))
	for _, r := range rows {
		if r.Similarity < query.Threshold {
			continue
		}
		results = append(results, Result{
			ChunkID:      r.ChunkID,
			DocumentID:   r.DocumentID,
			Text:         r.Text,
			PageNumber:   r.PageNumber,
			SectionTitle: r.SectionTitle,
			Similarity:   r.Similarity,
		})
	}
	sortResults(results)
	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	s.attachNames(ctx, results)

	s.cache.put(key, userID, results)
	s.record(start, len(results), false, false, relaxed)
	logger.DebugContext(ctx, "search completed", "results", len(results), "relaxed", relaxed, "duration_ms", time.Since(start).Milliseconds())
	return results, nil
}

// query runs one backend search under the configured timeout. The caller's
// context still wins when its own deadline is shorter.
func (s *Service) query(ctx context.Context, q vectorstore.Query) ([]vectorstore.Row, error) {
	qctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	rows, err := s.backend.SimilaritySearch(qctx, q)
	if err != nil && ctx.Err() == nil && errors.Is(qctx.Err(), context.DeadlineExceeded) {
		return nil, apperr.External("similarity search", fmt.Errorf("timed out after %s: %w", s.cfg.Timeout, err))
	}
	return rows, err
}

// fallback lists the user's chunks with scores 1 - 0.05*rank. Scores below
// the requested threshold are still excluded.
func (s *Service) fallback(ctx context.Context, userID string, opts Options) ([]Result, error) {
	chunks, err := s.lister.ListByUser(ctx, userID, opts.DocumentIDs, opts.TopK)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(chunks))
	for rank, c := range chunks {
		if c.UserID != userID {
			continue
		}
		score := max(0, 1-0.05*float64(rank))
		if score < opts.SimilarityThreshold {
			break
		}
		results = append(results, Result{
			ChunkID:      c.ID,
			DocumentID:   c.DocumentID,
			Text:         c.Text,
			PageNumber:   c.PageNumber,
			SectionTitle: c.SectionTitle,
			Similarity:   score,
			Degraded:     true,
		})
	}
	s.attachNames(ctx, results)
	return results, nil
}

func (s *Service) attachNames(ctx context.Context, results []Result) {
	if s.namer == nil || len(results) == 0 {
		return
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		if !slices.Contains(ids, r.DocumentID) {
			ids = append(ids, r.DocumentID)
		}
	}
	names, err := s.namer.NamesByIDs(ctx, ids)
	if err != nil {
		getLogger(ctx).WarnContext(ctx, "failed to resolve document names", "error", err)
		return
	}
	for i := range results {
		results[i].DocumentName = names[results[i].DocumentID]
	}
}

// MultiSearch runs one search per embedding concurrently, merges results by
// chunk id keeping the highest similarity, and returns the top opts.TopK.
func (s *Service) MultiSearch(ctx context.Context, embeddings [][]float32, userID string, opts Options) ([]Result, error) {
	if len(embeddings) == 0 {
		return nil, apperr.Invalid("embeddings", "must not be empty")
	}

	perQuery := make([][]Result, len(embeddings))
	g, gctx := errgroup.WithContext(ctx)
	for i, emb := range embeddings {
		g.Go(func() error {
			results, err := s.Search(gctx, emb, userID, opts)
			if err != nil {
				return err
			}
			perQuery[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]Result)
	for _, results := range perQuery {
		for _, r := range results {
			if prev, ok := merged[r.ChunkID]; !ok || r.Similarity > prev.Similarity {
				merged[r.ChunkID] = r
			}
		}
	}
	out := make([]Result, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sortResults(out)

	topK := opts.TopK
	if topK == 0 {
		topK = DefaultTopK
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// InvalidateUser drops every cached result for userID. Callers invoke it
// after the user's chunks change.
func (s *Service) InvalidateUser(ctx context.Context, userID string) {
	if n := s.cache.dropUser(userID); n > 0 {
		getLogger(ctx).DebugContext(ctx, "invalidated cached searches", "user_id", userID, "entries", n)
	}
}

// Stats returns a snapshot of the running aggregates.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	a := s.stats
	s.mu.Unlock()

	st := Stats{
		SearchCount:      a.searches,
		CacheHits:        a.cacheHits,
		FallbackCount:    a.fallbacks,
		RelaxedCount:     a.relaxed,
		CachedEntryCount: s.cache.count(),
	}
	if a.searches > 0 {
		st.AvgLatency = a.totalLatency / time.Duration(a.searches)
		st.AvgResultCount = float64(a.totalResults) / float64(a.searches)
		st.CacheHitRate = float64(a.cacheHits) / float64(a.searches)
	}
	return st
}

func (s *Service) record(start time.Time, n int, cacheHit, fallback, relaxed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.searches++
	s.stats.totalLatency += time.Since(start)
	s.stats.totalResults += int64(n)
	if cacheHit {
		s.stats.cacheHits++
	}
	if fallback {
		s.stats.fallbacks++
	}
	if relaxed {
		s.stats.relaxed++
	}
}

// Normalize truncates or zero-pads v to size. A non-positive size returns v.
func Normalize(v []float32, size int) []float32 {
	if size <= 0 || len(v) == size {
		return v
	}
	out := make([]float32, size)
	copy(out, v)
	return out
}

// sortResults orders by descending similarity, then chunk id.
func sortResults(results []Result) {
	slices.SortStableFunc(results, func(a, b Result) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		case a.ChunkID < b.ChunkID:
			return -1
		case a.ChunkID > b.ChunkID:
			return 1
		}
		return 0
	})
}
