package vectorstore

import (
	"context"
	"fmt"

	"docqa-ai/internal/apperr"
	"docqa-ai/internal/chunking"
)

// IssueKind classifies an integrity issue.
type IssueKind string

const (
	IssueMissingEmbedding  IssueKind = "missing_embedding"
	IssueIndexGap          IssueKind = "index_gap"
	IssueDuplicateIndex    IssueKind = "duplicate_index"
	IssueDimensionMismatch IssueKind = "dimension_mismatch"
	IssueDanglingParent    IssueKind = "dangling_parent"
)

// Issue is one integrity violation.
type Issue struct {
	Kind       IssueKind `json:"kind"`
	ChunkID    string    `json:"chunkId,omitempty"`
	ChunkIndex int       `json:"chunkIndex"`
	Detail     string    `json:"detail"`
}

// IntegrityReport lists every issue found in a document's chunk set.
type IntegrityReport struct {
	DocumentID string  `json:"documentId"`
	ChunkCount int     `json:"chunkCount"`
	Dimension  int     `json:"dimension"`
	Issues     []Issue `json:"issues"`
}

// OK reports whether no issue was found.
func (r IntegrityReport) OK() bool {
	return len(r.Issues) == 0
}

// Err returns an error wrapping apperr.ErrCorruption when issues were found.
func (r IntegrityReport) Err() error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("%w: document %s has %d integrity issues", apperr.ErrCorruption, r.DocumentID, len(r.Issues))
}

// VerifyIntegrity checks the document's stored chunks for missing embeddings,
// index gaps and duplicates, mixed embedding dimensions and detail chunks
// whose parent is not a context chunk of the same document. It never repairs.
func (s *Store) VerifyIntegrity(ctx context.Context, documentID, userID string) (IntegrityReport, error) {
	if err := s.checkOwnership(ctx, documentID, userID); err != nil {
		return IntegrityReport{}, err
	}
	chunks, err := s.chunks.ListByDocument(ctx, documentID)
	if err != nil {
		return IntegrityReport{}, err
	}

	report := CheckChunks(documentID, chunks)
	if !report.OK() {
		getLogger(ctx).WarnContext(ctx, "integrity issues found", "document_id", documentID, "issues", len(report.Issues))
	}
	return report, nil
}

// CheckChunks runs the integrity checks over chunks ordered by chunk index.
func CheckChunks(documentID string, chunks []chunking.Chunk) IntegrityReport {
	report := IntegrityReport{DocumentID: documentID, ChunkCount: len(chunks), Issues: []Issue{}}

	contextIDs := make(map[string]bool)
	for _, c := range chunks {
		if !c.IsDetail() {
			contextIDs[c.ID] = true
		}
	}

	expected := 0
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			report.Issues = append(report.Issues, Issue{Kind: IssueMissingEmbedding, ChunkID: c.ID, ChunkIndex: c.ChunkIndex, Detail: "chunk has no embedding"})
		} else if report.Dimension == 0 {
			report.Dimension = len(c.Embedding)
		} else if len(c.Embedding) != report.Dimension {
			report.Issues = append(report.Issues, Issue{
				Kind: IssueDimensionMismatch, ChunkID: c.ID, ChunkIndex: c.ChunkIndex,
				Detail: fmt.Sprintf("dimension %d, document uses %d", len(c.Embedding), report.Dimension),
			})
		}

		switch {
		case i > 0 && c.ChunkIndex == chunks[i-1].ChunkIndex:
			report.Issues = append(report.Issues, Issue{Kind: IssueDuplicateIndex, ChunkID: c.ID, ChunkIndex: c.ChunkIndex, Detail: fmt.Sprintf("index %d repeated", c.ChunkIndex)})
		case c.ChunkIndex != expected:
			report.Issues = append(report.Issues, Issue{Kind: IssueIndexGap, ChunkID: c.ID, ChunkIndex: c.ChunkIndex, Detail: fmt.Sprintf("expected index %d", expected)})
			expected = c.ChunkIndex + 1
		default:
			expected++
		}

		if parent := chunking.ParentID(c.Layer); c.IsDetail() && !contextIDs[parent] {
			report.Issues = append(report.Issues, Issue{Kind: IssueDanglingParent, ChunkID: c.ID, ChunkIndex: c.ChunkIndex, Detail: fmt.Sprintf("parent %q is not a context chunk of this document", parent)})
		}
	}
	return report
}
