package chunking

import (
	"encoding/json"
	"fmt"

	"docqa-ai/internal/apperr"
	"docqa-ai/internal/facts"
)

// ChunkerVersion identifies the chunking algorithm. Bump it whenever the
// produced spans change for identical input.
const ChunkerVersion = "page-chunker/2"

// maxChunksPerPage guards against pathological pages.
const maxChunksPerPage = 1000

// Page is one page of extracted document text.
type Page struct {
	PageNumber   int    `json:"pageNumber"`
	Text         string `json:"text"`
	SectionTitle string `json:"sectionTitle,omitempty"`
}

// Layer is either ContextLayer or DetailLayer.
type Layer interface {
	isLayer()
}

// ContextLayer marks a coarse chunk used for broad retrieval.
type ContextLayer struct{}

// DetailLayer marks a fine chunk. Parent is the id of the context chunk
// on the same page whose span contains it.
type DetailLayer struct {
	Parent string
}

func (ContextLayer) isLayer() {}
func (DetailLayer) isLayer()  {}

const (
	LayerContext = "context"
	LayerDetail  = "detail"
)

// LayerName returns "context" or "detail". A nil layer is a context layer.
func LayerName(l Layer) string {
	if _, ok := l.(DetailLayer); ok {
		return LayerDetail
	}
	return LayerContext
}

// ParentID returns the parent chunk id of a detail layer, or "".
func ParentID(l Layer) string {
	if d, ok := l.(DetailLayer); ok {
		return d.Parent
	}
	return ""
}

// ParseLayer builds a Layer from its persisted name and parent id.
func ParseLayer(name, parentID string) (Layer, error) {
	switch name {
	case LayerContext, "":
		if parentID != "" {
			return nil, fmt.Errorf("context chunk cannot have parent %q", parentID)
		}
		return ContextLayer{}, nil
	case LayerDetail:
		if parentID == "" {
			return nil, fmt.Errorf("detail chunk requires a parent id")
		}
		return DetailLayer{Parent: parentID}, nil
	default:
		return nil, fmt.Errorf("unknown chunk layer %q", name)
	}
}

// Chunk is a token-bounded span of one page. Text always equals
// page.Text[PositionStart:PositionEnd] of page PageNumber.
type Chunk struct {
	ID             string
	DocumentID     string
	UserID         string
	ChunkIndex     int
	Layer          Layer
	Text           string
	TokenCount     int
	PageNumber     int
	PositionStart  int
	PositionEnd    int
	SectionTitle   string
	Embedding      []float32
	EmbeddingModel string
	Facts          []facts.Fact
}

// IsDetail reports whether c belongs to the detail layer.
func (c Chunk) IsDetail() bool {
	return LayerName(c.Layer) == LayerDetail
}

type chunkJSON struct {
	ID             string       `json:"id"`
	DocumentID     string       `json:"documentId"`
	UserID         string       `json:"userId"`
	ChunkIndex     int          `json:"chunkIndex"`
	Layer          string       `json:"layer"`
	ParentChunkID  string       `json:"parentChunkId,omitempty"`
	Text           string       `json:"text"`
	TokenCount     int          `json:"tokenCount"`
	PageNumber     int          `json:"pageNumber"`
	PositionStart  int          `json:"positionStart"`
	PositionEnd    int          `json:"positionEnd"`
	SectionTitle   string       `json:"sectionTitle,omitempty"`
	Embedding      []float32    `json:"embedding"`
	EmbeddingModel string       `json:"embeddingModel,omitempty"`
	Facts          []facts.Fact `json:"extractedFacts"`
}

// MarshalJSON flattens the layer into "layer" and "parentChunkId".
func (c Chunk) MarshalJSON() ([]byte, error) {
	return json.Marshal(chunkJSON{
		ID:             c.ID,
		DocumentID:     c.DocumentID,
		UserID:         c.UserID,
		ChunkIndex:     c.ChunkIndex,
		Layer:          LayerName(c.Layer),
		ParentChunkID:  ParentID(c.Layer),
		Text:           c.Text,
		TokenCount:     c.TokenCount,
		PageNumber:     c.PageNumber,
		PositionStart:  c.PositionStart,
		PositionEnd:    c.PositionEnd,
		SectionTitle:   c.SectionTitle,
		Embedding:      c.Embedding,
		EmbeddingModel: c.EmbeddingModel,
		Facts:          c.Facts,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (c *Chunk) UnmarshalJSON(data []byte) error {
	var raw chunkJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	layer, err := ParseLayer(raw.Layer, raw.ParentChunkID)
	if err != nil {
		return err
	}
	*c = Chunk{
		ID:             raw.ID,
		DocumentID:     raw.DocumentID,
		UserID:         raw.UserID,
		ChunkIndex:     raw.ChunkIndex,
		Layer:          layer,
		Text:           raw.Text,
		TokenCount:     raw.TokenCount,
		PageNumber:     raw.PageNumber,
		PositionStart:  raw.PositionStart,
		PositionEnd:    raw.PositionEnd,
		SectionTitle:   raw.SectionTitle,
		Embedding:      raw.Embedding,
		EmbeddingModel: raw.EmbeddingModel,
		Facts:          raw.Facts,
	}
	return nil
}

// Options controls chunking. Pages are always processed independently, so
// no chunk ever spans two pages.
type Options struct {
	ChunkSizeTokens            int  `yaml:"chunk_size_tokens"`
	OverlapTokens              int  `yaml:"overlap_tokens"`
	PreserveSentenceBoundaries bool `yaml:"preserve_sentence_boundaries"`

	// DualLayer adds a detail layer linked to the context layer.
	DualLayer             bool `yaml:"dual_layer"`
	DetailChunkSizeTokens int  `yaml:"detail_chunk_size_tokens"`
	DetailOverlapTokens   int  `yaml:"detail_overlap_tokens"`

	// ExtractFacts attaches facts to single-layer chunks. In dual-layer mode
	// facts are always extracted for detail chunks.
	ExtractFacts bool          `yaml:"extract_facts"`
	FactOptions  facts.Options `yaml:",inline"`
}

// DefaultOptions returns 600/100 context chunks with sentence snapping and
// a 200/50 detail layer.
func DefaultOptions() Options {
	return Options{
		ChunkSizeTokens:            600,
		OverlapTokens:              100,
		PreserveSentenceBoundaries: true,
		DualLayer:                  true,
		DetailChunkSizeTokens:      200,
		DetailOverlapTokens:        50,
	}
}

// Validate checks sizes and overlaps.
func (o Options) Validate() error {
	if o.ChunkSizeTokens < 1 {
		return apperr.Invalid("chunkSizeTokens", "must be at least 1")
	}
	if o.OverlapTokens < 0 || o.OverlapTokens >= o.ChunkSizeTokens {
		return apperr.Invalid("overlapTokens", "must be in [0, chunkSizeTokens)")
	}
	if o.DualLayer {
		if o.DetailChunkSizeTokens < 1 {
			return apperr.Invalid("detailChunkSizeTokens", "must be at least 1")
		}
		if o.DetailOverlapTokens < 0 || o.DetailOverlapTokens >= o.DetailChunkSizeTokens {
			return apperr.Invalid("detailOverlapTokens", "must be in [0, detailChunkSizeTokens)")
		}
	}
	if o.FactOptions.MinConfidence < 0 || o.FactOptions.MinConfidence > 1 {
		return apperr.Invalid("factsMinConfidence", "must be between 0 and 1")
	}
	return nil
}
