package store

import (
	"context"
	"strconv"
)

// Well-known history record kinds. The payload is opaque to the store; these
// constants only matter to components that interpret specific kinds.
const (
	HistoryKindTopic     = "topic"
	HistoryKindContent   = "content"
	HistoryKindDecision  = "decision"
	HistoryKindRejection = "rejection"
)

// Well-known payload keys interpreted by the monitor and memory index.
const (
	PayloadKeyTopic        = "topic"
	PayloadKeyContent      = "content"
	PayloadKeyText         = "text"
	PayloadKeyReason       = "reason"
	PayloadKeyPublished    = "published"
	PayloadKeyRejected     = "rejected"
	PayloadKeyQualityScore = "quality_score"
)

// HistoryRecord is one committed action of a pipeline unit. Records are
// immutable after creation except for attaching an embedding lazily; the core
// never deletes them.
type HistoryRecord struct {
	ID        string
	CreatedTs int64
	Kind      string
	Payload   map[string]string
	Embedding []float32 // nil when the embedding backend was unavailable
	Tags      []string
}

// Topic returns the topic payload field, or empty.
func (r *HistoryRecord) Topic() string {
	return r.Payload[PayloadKeyTopic]
}

// Published reports whether the record was marked as published.
func (r *HistoryRecord) Published() bool {
	return r.Payload[PayloadKeyPublished] == "true"
}

// Rejected reports whether the record was marked as rejected.
func (r *HistoryRecord) Rejected() bool {
	return r.Payload[PayloadKeyRejected] == "true"
}

// QualityScore returns the quality score payload field if present.
func (r *HistoryRecord) QualityScore() (float64, bool) {
	raw, ok := r.Payload[PayloadKeyQualityScore]
	if !ok {
		return 0, false
	}
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return score, true
}

// FindHistoryRecord is the find condition for history records.
// Results are always ordered by recency (created_ts descending).
type FindHistoryRecord struct {
	Kind          *string
	Limit         int
	WithEmbedding bool // only records that carry a vector
}

// FindHistoryRecordsWithoutEmbedding finds records awaiting embedding backfill.
type FindHistoryRecordsWithoutEmbedding struct {
	Limit int
}

// HistoryRecordWithScore is a vector search result with similarity score.
type HistoryRecordWithScore struct {
	Record *HistoryRecord
	Score  float32 // cosine similarity, 0-1, higher is more similar
}

// HistoryVectorSearchOptions are the options for history vector search.
type HistoryVectorSearchOptions struct {
	Vector         []float32
	Kind           *string // optional: filter by record kind
	Limit          int
	CandidateLimit int // bound on the number of vectors scanned
}

// Validate validates the HistoryVectorSearchOptions.
func (o *HistoryVectorSearchOptions) Validate() error {
	if len(o.Vector) == 0 {
		return errVectorEmpty
	}
	if o.Limit <= 0 {
		o.Limit = 10
	}
	if o.CandidateLimit <= 0 || o.CandidateLimit > 1000 {
		o.CandidateLimit = 1000
	}
	return nil
}

func (s *Store) CreateHistoryRecord(ctx context.Context, create *HistoryRecord) (*HistoryRecord, error) {
	return s.driver.CreateHistoryRecord(ctx, create)
}

func (s *Store) ListHistoryRecords(ctx context.Context, find *FindHistoryRecord) ([]*HistoryRecord, error) {
	return s.driver.ListHistoryRecords(ctx, find)
}

// AttachHistoryEmbedding attaches a lazily computed embedding to an existing
// record. This is the only permitted mutation of a stored record.
func (s *Store) AttachHistoryEmbedding(ctx context.Context, id string, embedding []float32) error {
	return s.driver.AttachHistoryEmbedding(ctx, id, embedding)
}

func (s *Store) FindHistoryRecordsWithoutEmbedding(ctx context.Context, find *FindHistoryRecordsWithoutEmbedding) ([]*HistoryRecord, error) {
	return s.driver.FindHistoryRecordsWithoutEmbedding(ctx, find)
}

// SearchHistoryByVector performs vector similarity search over stored records.
func (s *Store) SearchHistoryByVector(ctx context.Context, opts *HistoryVectorSearchOptions) ([]*HistoryRecordWithScore, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return s.driver.SearchHistoryByVector(ctx, opts)
}
