package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	"docqa-ai/internal/chunking"
	"docqa-ai/internal/storage"
)

// IndexingCoverageStats contains statistics about one user's index.
type IndexingCoverageStats struct {
	// DocsProcessed is the total number of documents of the user.
	DocsProcessed int `json:"docs_processed"`
	// DocsWith0Chunks is the number of documents without stored chunks.
	DocsWith0Chunks int `json:"docs_with_0_chunks"`
	// DocsByStatus counts documents per ingestion status.
	DocsByStatus map[string]int `json:"docs_by_status"`
	// ChunksStored is the number of chunk rows of the user.
	ChunksStored int `json:"chunks_stored"`
	// ChunksEmbedded is the number of stored chunks that carry an embedding.
	ChunksEmbedded int `json:"chunks_embedded"`
	// ChunksByLayer counts stored chunks per layer.
	ChunksByLayer map[string]int `json:"chunks_by_layer"`
	// FailedDocuments maps the ids of failed documents to their stage.
	FailedDocuments map[string]string `json:"failed_documents,omitempty"`
	// ChunkTokenStats contains statistics about token counts per chunk.
	ChunkTokenStats ChunkTokenStats `json:"chunk_token_stats"`
	// ChunkerVersion is the version of the chunker used.
	ChunkerVersion string `json:"chunker_version"`
	// IndexVersion is a hash identifying the index build (chunker + embedding model + params).
	IndexVersion string `json:"index_version"`
}

// ChunkTokenStats contains statistics about token counts in chunks.
type ChunkTokenStats struct {
	Min  int     `json:"min"`
	Max  int     `json:"max"`
	Mean float64 `json:"mean"`
	// P95 is the 95th percentile token count.
	P95 int `json:"p95"`
}

// CoverageStats computes indexing coverage statistics for userID from the
// current state of the document and chunk registries.
func (p *Pipeline) CoverageStats(ctx context.Context, userID string) (*IndexingCoverageStats, error) {
	docs, err := p.docs.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	stats := &IndexingCoverageStats{
		DocsProcessed:   len(docs),
		DocsByStatus:    make(map[string]int),
		ChunksByLayer:   make(map[string]int),
		FailedDocuments: make(map[string]string),
		ChunkerVersion:  chunking.ChunkerVersion,
		IndexVersion:    IndexVersion(p.embedder.ModelName(), p.opts),
	}

	var tokenCounts []int
	for _, doc := range docs {
		stats.DocsByStatus[string(doc.Status)]++
		if doc.Status == storage.StatusFailed {
			stats.FailedDocuments[doc.ID] = doc.Stage
		}

		chunks, err := p.chunks.ListByDocument(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list chunks of %s: %w", doc.ID, err)
		}
		if len(chunks) == 0 {
			stats.DocsWith0Chunks++
		}
		for _, c := range chunks {
			stats.ChunksByLayer[chunking.LayerName(c.Layer)]++
			tokenCounts = append(tokenCounts, max(c.TokenCount, 1))
		}
	}

	total, embedded, err := p.chunks.CountByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats.ChunksStored = total
	stats.ChunksEmbedded = embedded
	stats.ChunkTokenStats = computeTokenStats(tokenCounts)

	return stats, nil
}

// IndexVersion hashes the chunker version, embedding model and chunking
// parameters into a 16 hex character identifier.
func IndexVersion(embeddingModel string, opts chunking.Options) string {
	input := fmt.Sprintf("%s|%s|size=%d|overlap=%d|sentences=%t|dual=%t|detail=%d/%d",
		chunking.ChunkerVersion, embeddingModel,
		opts.ChunkSizeTokens, opts.OverlapTokens, opts.PreserveSentenceBoundaries,
		opts.DualLayer, opts.DetailChunkSizeTokens, opts.DetailOverlapTokens)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16] // 16 hex chars = 64 bits
}

// computeTokenStats computes min, max, mean, and p95 from token counts.
func computeTokenStats(tokenCounts []int) ChunkTokenStats {
	if len(tokenCounts) == 0 {
		return ChunkTokenStats{}
	}

	sorted := make([]int, len(tokenCounts))
	copy(sorted, tokenCounts)
	sort.Ints(sorted)

	sum := 0
	for _, count := range sorted {
		sum += count
	}
	mean := float64(sum) / float64(len(sorted))

	p95Index := int(math.Ceil(float64(len(sorted))*0.95)) - 1
	p95Index = min(max(p95Index, 0), len(sorted)-1)

	return ChunkTokenStats{
		Min:  sorted[0],
		Max:  sorted[len(sorted)-1],
		Mean: math.Round(mean*100) / 100, // Round to 2 decimal places
		P95:  sorted[p95Index],
	}
}
