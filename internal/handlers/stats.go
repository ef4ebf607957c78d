package handlers

import (
	"net/http"

	"docqa-ai/internal/indexer"
	"docqa-ai/internal/search"
)

// StatsSource exposes the running search statistics.
type StatsSource interface {
	Stats() search.Stats
}

// StatsHandler reports search statistics and the caller's indexing coverage.
type StatsHandler struct {
	search   StatsSource
	coverage CoverageReporter
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(search StatsSource, coverage CoverageReporter) *StatsHandler {
	return &StatsHandler{search: search, coverage: coverage}
}

// StatsResponse combines process-wide search statistics with per-user coverage.
//
// swagger:model StatsResponse
type StatsResponse struct {
	Search   SearchStats                    `json:"search"`
	Coverage *indexer.IndexingCoverageStats `json:"coverage"`
}

// SearchStats is search.Stats with the latency in milliseconds.
type SearchStats struct {
	SearchCount      int64   `json:"search_count"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
	AvgResultCount   float64 `json:"avg_result_count"`
	CacheHits        int64   `json:"cache_hits"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
	FallbackCount    int64   `json:"fallback_count"`
	RelaxedCount     int64   `json:"relaxed_count"`
	CachedEntryCount int     `json:"cached_entry_count"`
}

// ServeHTTP returns the statistics.
//
// swagger:route GET /api/v1/search/stats searchStats
//
// responses:
//
//	'200': StatsResponse
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	coverage, err := h.coverage.CoverageStats(ctx, userID)
	if err != nil {
		handleError(w, ctx, err, "Failed to compute statistics")
		return
	}

	s := h.search.Stats()
	writeJSON(w, http.StatusOK, StatsResponse{
		Search: SearchStats{
			SearchCount:      s.SearchCount,
			AvgLatencyMs:     float64(s.AvgLatency.Microseconds()) / 1000,
			AvgResultCount:   s.AvgResultCount,
			CacheHits:        s.CacheHits,
			CacheHitRate:     s.CacheHitRate,
			FallbackCount:    s.FallbackCount,
			RelaxedCount:     s.RelaxedCount,
			CachedEntryCount: s.CachedEntryCount,
		},
		Coverage: coverage,
	})
}
