package search

import (
	"context"
	"time"

	"docqa-ai/internal/chunking"
	"docqa-ai/internal/vectorstore"
)

// Result is one ranked chunk returned to callers.
type Result struct {
	ChunkID      string  `json:"chunkId"`
	DocumentID   string  `json:"documentId"`
	DocumentName string  `json:"documentName"`
	Text         string  `json:"text"`
	PageNumber   int     `json:"pageNumber"`
	SectionTitle string  `json:"sectionTitle,omitempty"`
	Similarity   float64 `json:"similarity"`
	// Degraded marks results produced by the fallback listing rather than
	// by vector ranking.
	Degraded bool `json:"degraded,omitempty"`
}

// Options are per-query search options.
type Options struct {
	// TopK in [1, MaxTopK]; zero means DefaultTopK.
	TopK int
	// SimilarityThreshold in [0, 1].
	SimilarityThreshold float64
	DocumentIDs         []string
	// DisableRelaxation turns off the retry at the relaxed threshold, making
	// result counts monotonic in SimilarityThreshold.
	DisableRelaxation bool
}

const (
	DefaultTopK      = 5
	DefaultThreshold = 0.7
)

// Config configures a Service.
type Config struct {
	// VectorSize is the backend's fixed dimensionality. Query embeddings are
	// truncated or zero-padded to it. Zero disables normalization.
	VectorSize       int           `yaml:"vector_size"`
	MaxTopK          int           `yaml:"max_top_k"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	CacheSize        int           `yaml:"cache_size"`
	RelaxedThreshold float64       `yaml:"relaxed_threshold"`
	// FailClosed returns backend errors instead of the degraded listing.
	FailClosed bool `yaml:"fail_closed"`
	// Timeout bounds each backend query. Expiry takes the degraded listing
	// unless FailClosed is set.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the default search configuration.
func DefaultConfig() Config {
	return Config{
		MaxTopK:          50,
		CacheTTL:         300 * time.Second,
		CacheSize:        1000,
		RelaxedThreshold: 0.5,
		Timeout:          30 * time.Second,
	}
}

// Stats are running aggregates over every Search call.
type Stats struct {
	SearchCount      int64         `json:"searchCount"`
	AvgLatency       time.Duration `json:"avgLatency"`
	AvgResultCount   float64       `json:"avgResultCount"`
	CacheHits        int64         `json:"cacheHits"`
	CacheHitRate     float64       `json:"cacheHitRate"`
	FallbackCount    int64         `json:"fallbackCount"`
	RelaxedCount     int64         `json:"relaxedCount"`
	CachedEntryCount int           `json:"cachedEntryCount"`
}

// Querier is the similarity query half of vectorstore.Backend.
type Querier interface {
	SimilaritySearch(ctx context.Context, q vectorstore.Query) ([]vectorstore.Row, error)
}

// ChunkLister lists a user's stored chunks for the degraded fallback.
type ChunkLister interface {
	ListByUser(ctx context.Context, userID string, documentIDs []string, limit int) ([]chunking.Chunk, error)
}

// DocumentNamer resolves document ids to display names.
type DocumentNamer interface {
	NamesByIDs(ctx context.Context, ids []string) (map[string]string, error)
}
