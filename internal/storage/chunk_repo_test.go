package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"docqa-ai/internal/chunking"
	"docqa-ai/internal/facts"
)

func testChunks(docID, userID string) []chunking.Chunk {
	return []chunking.Chunk{
		{
			ID: docID + "-c0", DocumentID: docID, UserID: userID, ChunkIndex: 0,
			Layer: chunking.ContextLayer{}, Text: "The tolerance is ±0.05mm at 25°C", TokenCount: 9,
			PageNumber: 2, PositionStart: 0, PositionEnd: 35, SectionTitle: "Specs",
			Embedding: []float32{0.25, -1.5, 3}, EmbeddingModel: "embed-v1",
		},
		{
			ID: docID + "-c1", DocumentID: docID, UserID: userID, ChunkIndex: 1,
			Layer: chunking.DetailLayer{Parent: docID + "-c0"}, Text: "±0.05mm at 25°C", TokenCount: 4,
			PageNumber: 2, PositionStart: 17, PositionEnd: 35,
			Facts: []facts.Fact{{Type: facts.TypeTolerance, Value: "±0.05", Unit: "mm", Context: "±0.05mm", Confidence: 0.9, Position: facts.Position{Start: 0, End: 8}}},
		},
	}
}

func TestChunkRepo_UpsertAndList(t *testing.T) {
	db := newTestDB(t)
	docs := NewDocumentRepo(db)
	repo := NewChunkRepo(db)
	ctx := context.Background()

	doc := createDoc(t, docs, "alice", "spec.txt")
	want := testChunks(doc.ID, "alice")

	if err := repo.UpsertBatch(ctx, want); err != nil {
		t.Fatalf("UpsertBatch() error = %v", err)
	}
	// Idempotent per chunk id.
	if err := repo.UpsertBatch(ctx, want); err != nil {
		t.Fatalf("second UpsertBatch() error = %v", err)
	}

	got, err := repo.ListByDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("ListByDocument() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListByDocument() round trip mismatch\n got: %+v\nwant: %+v", got, want)
	}

	one, err := repo.GetByID(ctx, want[1].ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if chunking.ParentID(one.Layer) != want[0].ID {
		t.Errorf("GetByID() parent = %q", chunking.ParentID(one.Layer))
	}
	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() missing error = %v, want ErrNotFound", err)
	}
}

func TestChunkRepo_ListByUser(t *testing.T) {
	db := newTestDB(t)
	docs := NewDocumentRepo(db)
	repo := NewChunkRepo(db)
	ctx := context.Background()

	aliceDoc := createDoc(t, docs, "alice", "a.txt")
	bobDoc := createDoc(t, docs, "bob", "b.txt")
	if err := repo.UpsertBatch(ctx, testChunks(aliceDoc.ID, "alice")); err != nil {
		t.Fatalf("UpsertBatch() error = %v", err)
	}
	if err := repo.UpsertBatch(ctx, testChunks(bobDoc.ID, "bob")); err != nil {
		t.Fatalf("UpsertBatch() error = %v", err)
	}

	got, err := repo.ListByUser(ctx, "alice", nil, 10)
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ListByUser() returned %d chunks, want 1 context chunk", len(got))
	}
	if got[0].UserID != "alice" {
		t.Errorf("ListByUser() leaked chunk of %s", got[0].UserID)
	}

	// A document allowlist naming Bob's document yields nothing for Alice.
	got, err = repo.ListByUser(ctx, "alice", []string{bobDoc.ID}, 10)
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ListByUser() with foreign document returned %d chunks", len(got))
	}

	total, embedded, err := repo.CountByUser(ctx, "alice")
	if err != nil {
		t.Fatalf("CountByUser() error = %v", err)
	}
	if total != 2 || embedded != 1 {
		t.Errorf("CountByUser() = %d, %d; want 2, 1", total, embedded)
	}
}

func TestChunkRepo_CascadeDelete(t *testing.T) {
	db := newTestDB(t)
	docs := NewDocumentRepo(db)
	repo := NewChunkRepo(db)
	ctx := context.Background()

	doc := createDoc(t, docs, "alice", "a.txt")
	if err := repo.UpsertBatch(ctx, testChunks(doc.ID, "alice")); err != nil {
		t.Fatalf("UpsertBatch() error = %v", err)
	}
	if err := docs.Delete(ctx, doc.ID, "alice"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	got, err := repo.ListByDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("ListByDocument() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("chunks should be removed by cascade, got %d", len(got))
	}
}

func TestChunkRepo_DeleteByDocument(t *testing.T) {
	db := newTestDB(t)
	docs := NewDocumentRepo(db)
	repo := NewChunkRepo(db)
	ctx := context.Background()

	doc := createDoc(t, docs, "alice", "a.txt")
	if err := repo.UpsertBatch(ctx, testChunks(doc.ID, "alice")); err != nil {
		t.Fatalf("UpsertBatch() error = %v", err)
	}
	if err := repo.DeleteByDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteByDocument() error = %v", err)
	}
	got, _ := repo.ListByDocument(ctx, doc.ID)
	if len(got) != 0 {
		t.Errorf("DeleteByDocument() left %d chunks", len(got))
	}
}

func TestChunkRepo_DeleteByIDs(t *testing.T) {
	db := newTestDB(t)
	docs := NewDocumentRepo(db)
	repo := NewChunkRepo(db)
	ctx := context.Background()

	doc := createDoc(t, docs, "alice", "a.txt")
	chunks := testChunks(doc.ID, "alice")
	if err := repo.UpsertBatch(ctx, chunks); err != nil {
		t.Fatalf("UpsertBatch() error = %v", err)
	}

	tests := []struct {
		name     string
		ids      []string
		wantLeft int
	}{
		{"no ids", nil, 2},
		{"unknown id", []string{"missing"}, 2},
		{"one of two", []string{chunks[1].ID, "missing"}, 1},
		{"remaining", []string{chunks[0].ID}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := repo.DeleteByIDs(ctx, tt.ids); err != nil {
				t.Fatalf("DeleteByIDs() error = %v", err)
			}
			got, err := repo.ListByDocument(ctx, doc.ID)
			if err != nil {
				t.Fatalf("ListByDocument() error = %v", err)
			}
			if len(got) != tt.wantLeft {
				t.Errorf("DeleteByIDs() left %d chunks, want %d", len(got), tt.wantLeft)
			}
		})
	}
}

func TestChunkRepo_UpsertRequiresDocument(t *testing.T) {
	repo := NewChunkRepo(newTestDB(t))
	if err := repo.UpsertBatch(context.Background(), testChunks("ghost", "alice")); err == nil {
		t.Error("UpsertBatch() for a missing document should violate the foreign key")
	}
}

func TestVectorCodec(t *testing.T) {
	v := []float32{1, -0.5, 3.25}
	got, err := DecodeVector(EncodeVector(v))
	if err != nil {
		t.Fatalf("DecodeVector() error = %v", err)
	}
	if !reflect.DeepEqual(got, v) {
		t.Errorf("DecodeVector() = %v, want %v", got, v)
	}
	if EncodeVector(nil) != nil {
		t.Error("EncodeVector(nil) should be nil")
	}
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("DecodeVector() should reject truncated blobs")
	}
}
