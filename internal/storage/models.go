package storage

import (
	"time"

	"docqa-ai/internal/apperr"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = apperr.ErrNotFound

// DocumentStatus is the ingestion lifecycle state of a document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusIndexed    DocumentStatus = "indexed"
	// StatusPartial means some chunks failed to embed or store.
	StatusPartial DocumentStatus = "partial"
	StatusFailed  DocumentStatus = "failed"
)

// Terminal reports whether ingestion has finished for this status.
func (s DocumentStatus) Terminal() bool {
	return s == StatusIndexed || s == StatusPartial || s == StatusFailed
}

// DocumentRecord is an uploaded document owned by a single user.
type DocumentRecord struct {
	ID            string
	UserID        string
	Name          string
	Status        DocumentStatus
	Stage         string // ingestion stage of the last status change (extract, chunk, embed, store)
	StatusMessage string
	PageCount     int
	ChunkCount    int
	ContentHash   string // SHA256 hex of the uploaded bytes
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime accepts RFC3339 and SQLite's DATETIME format.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, err = time.Parse("2006-01-02 15:04:05", s)
	}
	return t, err
}
