package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/qdrant/go-client/qdrant"

	"docqa-ai/internal/apperr"
	"docqa-ai/internal/chunking"
	"docqa-ai/internal/contextutil"
)

// Payload keys stored with every point.
const (
	payloadChunkID      = "chunk_id"
	payloadDocumentID   = "document_id"
	payloadUserID       = "user_id"
	payloadText         = "text"
	payloadPageNumber   = "page_number"
	payloadSectionTitle = "section_title"
	payloadLayer        = "layer"
	payloadChunkIndex   = "chunk_index"
)

// QdrantStore implements Backend using a Qdrant collection.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

// ParseQdrantURL derives the gRPC host and port from an HTTP URL such as
// "http://localhost:6333". The gRPC port is the HTTP port + 1 (default 6334).
func ParseQdrantURL(urlStr string) (string, int, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid Qdrant URL: %w", err)
	}

	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}

	port := 6334
	if parsedURL.Port() != "" {
		httpPort, err := strconv.Atoi(parsedURL.Port())
		if err == nil {
			port = httpPort + 1
		}
	}
	return host, port, nil
}

// NewQdrantStore creates a new Qdrant backend for collection.
func NewQdrantStore(urlStr, collection string) (*QdrantStore, error) {
	host, port, err := ParseQdrantURL(urlStr)
	if err != nil {
		return nil, err
	}
	if collection == "" {
		return nil, apperr.Invalid("collection", "must not be empty")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	return &QdrantStore{
		client:     client,
		collection: collection,
	}, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// Upsert implements Backend. Chunks without an embedding are skipped.
func (s *QdrantStore) Upsert(ctx context.Context, chunks []chunking.Chunk) error {
	logger := contextutil.LoggerFromContext(ctx)

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(c.ID),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: qdrant.NewValueMap(pointPayload(c)),
		})
	}
	if len(points) == 0 {
		return nil
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to upsert points", "collection", s.collection, "count", len(points), "error", err)
		return apperr.External("qdrant upsert", err)
	}

	logger.DebugContext(ctx, "upserted points", "collection", s.collection, "count", len(points))
	return nil
}

func pointPayload(c chunking.Chunk) map[string]any {
	return map[string]any{
		payloadChunkID:      c.ID,
		payloadDocumentID:   c.DocumentID,
		payloadUserID:       c.UserID,
		payloadText:         c.Text,
		payloadPageNumber:   int64(c.PageNumber),
		payloadSectionTitle: c.SectionTitle,
		payloadLayer:        chunking.LayerName(c.Layer),
		payloadChunkIndex:   int64(c.ChunkIndex),
	}
}

// ownerFilter restricts points to userID and, optionally, to documentIDs.
func ownerFilter(userID string, documentIDs []string) *qdrant.Filter {
	must := []*qdrant.Condition{qdrant.NewMatch(payloadUserID, userID)}
	if len(documentIDs) > 0 {
		must = append(must, qdrant.NewMatchKeywords(payloadDocumentID, documentIDs...))
	}
	return &qdrant.Filter{Must: must}
}

// SimilaritySearch implements Backend.
func (s *QdrantStore) SimilaritySearch(ctx context.Context, q Query) ([]Row, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if q.Limit <= 0 {
		return nil, apperr.Invalid("limit", "must be greater than 0")
	}
	if q.UserID == "" {
		return nil, apperr.Invalid("user_id", "must not be empty")
	}

	limit := uint64(q.Limit)
	threshold := float32(q.Threshold)
	scoredPoints, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(q.Vector...),
		Filter:         ownerFilter(q.UserID, q.DocumentIDs),
		Limit:          &limit,
		ScoreThreshold: &threshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to search points", "collection", s.collection, "limit", q.Limit, "error", err)
		return nil, apperr.External("qdrant query", err)
	}

	rows := make([]Row, 0, len(scoredPoints))
	for _, p := range scoredPoints {
		payload := p.GetPayload()
		row := Row{
			ChunkID:      payload[payloadChunkID].GetStringValue(),
			DocumentID:   payload[payloadDocumentID].GetStringValue(),
			Text:         payload[payloadText].GetStringValue(),
			PageNumber:   int(payload[payloadPageNumber].GetIntegerValue()),
			SectionTitle: payload[payloadSectionTitle].GetStringValue(),
			Similarity:   clampSimilarity(float64(p.GetScore())),
		}
		if row.ChunkID == "" && p.GetId() != nil {
			row.ChunkID = p.GetId().GetUuid()
		}
		rows = append(rows, row)
	}

	logger.DebugContext(ctx, "search completed", "collection", s.collection, "limit", q.Limit, "results", len(rows))
	return rows, nil
}

// DeleteByDocument implements Backend.
func (s *QdrantStore) DeleteByDocument(ctx context.Context, documentID, userID string) error {
	logger := contextutil.LoggerFromContext(ctx)

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelectorFilter(ownerFilter(userID, []string{documentID})),
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to delete points", "collection", s.collection, "document_id", documentID, "error", err)
		return apperr.External("qdrant delete", err)
	}

	logger.InfoContext(ctx, "deleted document points", "collection", s.collection, "document_id", documentID)
	return nil
}

// Healthy implements Backend.
func (s *QdrantStore) Healthy(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return apperr.External("qdrant health", err)
	}
	return nil
}

// EnsureCollection ensures the collection exists with the specified vector size.
// If the collection exists, validates that the vector size matches.
func (s *QdrantStore) EnsureCollection(ctx context.Context, vectorSize int) error {
	logger := contextutil.LoggerFromContext(ctx)

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return apperr.External("qdrant collection exists", err)
	}

	if !exists {
		logger.InfoContext(ctx, "creating collection", "collection", s.collection, "vector_size", vectorSize)
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(vectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
		// Payload index on user_id keeps owner-filtered queries fast.
		_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      payloadUserID,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			logger.WarnContext(ctx, "failed to create user_id payload index", "collection", s.collection, "error", err)
		}
		return nil
	}

	info, err := s.CollectionInfo(ctx)
	if err != nil {
		return err
	}
	if info.VectorSize == 0 {
		return fmt.Errorf("could not determine collection vector size")
	}
	if info.VectorSize != vectorSize {
		return fmt.Errorf("collection vector size mismatch: expected %d, got %d", vectorSize, info.VectorSize)
	}

	logger.InfoContext(ctx, "collection validated", "collection", s.collection, "vector_size", vectorSize)
	return nil
}

// CollectionInfo contains information about the Qdrant collection.
type CollectionInfo struct {
	VectorSize  int
	PointsCount int
	Status      string
}

// CollectionInfo returns the collection's vector size, point count and status.
func (s *QdrantStore) CollectionInfo(ctx context.Context) (*CollectionInfo, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return nil, apperr.External("qdrant collection info", err)
	}

	var vectorSize int
	if config := info.GetConfig(); config != nil && config.GetParams() != nil {
		if params := config.GetParams().GetVectorsConfig().GetParams(); params != nil {
			vectorSize = int(params.GetSize())
		}
	}

	status := "unknown"
	if info.Status != 0 {
		status = info.Status.String()
	}

	return &CollectionInfo{
		VectorSize:  vectorSize,
		PointsCount: int(info.GetPointsCount()),
		Status:      status,
	}, nil
}
