package vectorstore

import (
	"context"
	"errors"
	"testing"

	"docqa-ai/internal/apperr"
	"docqa-ai/internal/chunking"
)

func TestParseQdrantURL(t *testing.T) {
	tests := []struct {
		name     string
		urlStr   string
		wantErr  bool
		wantHost string
		wantPort int
	}{
		{
			name:     "valid URL",
			urlStr:   "http://localhost:6333",
			wantHost: "localhost",
			wantPort: 6334, // gRPC port is HTTP port + 1
		},
		{
			name:     "URL with custom port",
			urlStr:   "http://qdrant:9000",
			wantHost: "qdrant",
			wantPort: 9001,
		},
		{
			name:    "invalid URL",
			urlStr:  "://invalid",
			wantErr: true,
		},
		{
			name:     "URL without port",
			urlStr:   "http://localhost",
			wantHost: "localhost",
			wantPort: 6334,
		},
		{
			name:     "URL without hostname",
			urlStr:   "http://:6333",
			wantHost: "localhost",
			wantPort: 6334,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, err := ParseQdrantURL(tt.urlStr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseQdrantURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if host != tt.wantHost {
				t.Errorf("Host = %v, want %v", host, tt.wantHost)
			}
			if port != tt.wantPort {
				t.Errorf("Port = %v, want %v", port, tt.wantPort)
			}
		})
	}
}

func TestNewQdrantStore_InvalidInput(t *testing.T) {
	if _, err := NewQdrantStore("://invalid", "chunks"); err == nil {
		t.Error("NewQdrantStore() with invalid URL should return error")
	}
	if _, err := NewQdrantStore("http://localhost:6333", ""); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("NewQdrantStore() with empty collection error = %v, want ErrValidation", err)
	}
}

func TestQdrantStore_Upsert_NoEmbeddings(t *testing.T) {
	// Returns before touching the client.
	store := &QdrantStore{collection: "chunks"}

	chunks := []chunking.Chunk{{ID: "c1", Text: "no vector yet"}}
	if err := store.Upsert(context.Background(), chunks); err != nil {
		t.Errorf("Upsert() without embeddings should be a no-op, got: %v", err)
	}
}

func TestQdrantStore_SimilaritySearch_Validation(t *testing.T) {
	store := &QdrantStore{collection: "chunks"}
	ctx := context.Background()

	_, err := store.SimilaritySearch(ctx, Query{Vector: []float32{1, 2}, UserID: "alice", Limit: 0})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("SimilaritySearch() with limit 0 error = %v, want ErrValidation", err)
	}

	_, err = store.SimilaritySearch(ctx, Query{Vector: []float32{1, 2}, Limit: 5})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("SimilaritySearch() without user error = %v, want ErrValidation", err)
	}
}

func TestOwnerFilter(t *testing.T) {
	f := ownerFilter("alice", nil)
	if len(f.GetMust()) != 1 {
		t.Fatalf("ownerFilter() must conditions = %d, want 1", len(f.GetMust()))
	}
	field := f.GetMust()[0].GetField()
	if field.GetKey() != payloadUserID || field.GetMatch().GetKeyword() != "alice" {
		t.Errorf("ownerFilter() user condition = %v", field)
	}

	f = ownerFilter("alice", []string{"d1", "d2"})
	if len(f.GetMust()) != 2 {
		t.Fatalf("ownerFilter() with documents must conditions = %d, want 2", len(f.GetMust()))
	}
	docs := f.GetMust()[1].GetField()
	if docs.GetKey() != payloadDocumentID {
		t.Errorf("ownerFilter() document condition key = %s", docs.GetKey())
	}
	if got := docs.GetMatch().GetKeywords().GetStrings(); len(got) != 2 {
		t.Errorf("ownerFilter() document keywords = %v", got)
	}
}

func TestPointPayload(t *testing.T) {
	c := chunking.Chunk{
		ID: "c1", DocumentID: "d1", UserID: "alice", ChunkIndex: 3,
		Layer: chunking.DetailLayer{Parent: "c0"}, Text: "±0.05mm", PageNumber: 2, SectionTitle: "Specs",
	}
	p := pointPayload(c)

	if p[payloadUserID] != "alice" || p[payloadDocumentID] != "d1" {
		t.Errorf("pointPayload() owner fields = %v", p)
	}
	if p[payloadPageNumber] != int64(2) || p[payloadChunkIndex] != int64(3) {
		t.Errorf("pointPayload() numeric fields = %v / %v", p[payloadPageNumber], p[payloadChunkIndex])
	}
	if p[payloadLayer] != chunking.LayerDetail {
		t.Errorf("pointPayload() layer = %v", p[payloadLayer])
	}
}

func TestClampSimilarity(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-0.3, 0},
		{0.42, 0.42},
		{1.0000001, 1},
	}
	for _, tt := range tests {
		if got := clampSimilarity(tt.in); got != tt.want {
			t.Errorf("clampSimilarity(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
