// Package memory provides the semantic memory index over stored history.
package memory

import (
	"context"
	"log/slog"

	"github.com/hrygo/volition/store"
)

const (
	// DefaultRepetitionThreshold is the cosine similarity at or above which
	// two texts are treated as duplicates.
	DefaultRepetitionThreshold float32 = 0.85

	// maxSearchCandidates bounds the number of vectors scanned per query.
	maxSearchCandidates = 1000
)

// Embedder generates vector embeddings for text.
// This is a local interface to avoid a dependency on the ai package.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is the subset of the history store the index needs.
type Store interface {
	CreateHistoryRecord(ctx context.Context, create *store.HistoryRecord) (*store.HistoryRecord, error)
	AttachHistoryEmbedding(ctx context.Context, id string, embedding []float32) error
	FindHistoryRecordsWithoutEmbedding(ctx context.Context, find *store.FindHistoryRecordsWithoutEmbedding) ([]*store.HistoryRecord, error)
	SearchHistoryByVector(ctx context.Context, opts *store.HistoryVectorSearchOptions) ([]*store.HistoryRecordWithScore, error)
}

// Index stores opaque history records and finds near-duplicates by embedding
// similarity. The embedding backend is optional: without it records are
// stored vector-less and similarity queries return nothing.
type Index struct {
	store    Store
	embedder Embedder
}

// Match is a similarity search result.
type Match struct {
	Record *store.HistoryRecord
	Score  float32
}

// NewIndex creates a memory index. embedder may be nil.
func NewIndex(st Store, embedder Embedder) *Index {
	return &Index{store: st, embedder: embedder}
}

// Add persists a record, attaching an embedding when one can be computed.
// An unavailable embedding backend degrades to storing the record without a
// vector; it never fails the write.
func (i *Index) Add(ctx context.Context, record *store.HistoryRecord) (*store.HistoryRecord, error) {
	if record.Embedding == nil && i.embedder != nil {
		if text := embeddingText(record); text != "" {
			vector, err := i.embedder.Embed(ctx, text)
			if err != nil {
				slog.Warn("embedding unavailable, storing record without vector",
					"kind", record.Kind, "error", err)
			} else {
				record.Embedding = vector
			}
		}
	}
	return i.store.CreateHistoryRecord(ctx, record)
}

// SearchSimilar finds stored records semantically similar to the query text.
// kind filters by record kind when non-empty. Results are sorted by
// descending similarity and capped at topK. An embedding failure yields an
// empty result, not an error.
func (i *Index) SearchSimilar(ctx context.Context, query string, kind string, threshold float32, topK int) ([]Match, error) {
	if i.embedder == nil {
		return nil, nil
	}

	vector, err := i.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("embedding unavailable, similarity search degraded to empty", "error", err)
		return nil, nil
	}

	opts := &store.HistoryVectorSearchOptions{
		Vector:         vector,
		Limit:          topK,
		CandidateLimit: maxSearchCandidates,
	}
	if kind != "" {
		opts.Kind = &kind
	}

	scored, err := i.store.SearchHistoryByVector(ctx, opts)
	if err != nil {
		return nil, err
	}

	matches := []Match{}
	for _, s := range scored {
		if s.Score < threshold {
			continue
		}
		matches = append(matches, Match{Record: s.Record, Score: s.Score})
	}
	return matches, nil
}

// CheckRepetition reports whether text is a near-duplicate of a stored
// record. Any failure degrades to "no match".
func (i *Index) CheckRepetition(ctx context.Context, text string, threshold float32) (bool, *store.HistoryRecord) {
	if threshold <= 0 {
		threshold = DefaultRepetitionThreshold
	}

	matches, err := i.SearchSimilar(ctx, text, "", threshold, 1)
	if err != nil {
		slog.Warn("repetition check degraded to no match", "error", err)
		return false, nil
	}
	if len(matches) == 0 {
		return false, nil
	}
	return true, matches[0].Record
}

// BackfillEmbeddings attaches embeddings to records that were stored while
// the embedding backend was unavailable. Returns the number of records
// backfilled.
func (i *Index) BackfillEmbeddings(ctx context.Context, limit int) (int, error) {
	if i.embedder == nil {
		return 0, nil
	}

	records, err := i.store.FindHistoryRecordsWithoutEmbedding(ctx, &store.FindHistoryRecordsWithoutEmbedding{Limit: limit})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, record := range records {
		text := embeddingText(record)
		if text == "" {
			continue
		}
		vector, err := i.embedder.Embed(ctx, text)
		if err != nil {
			// Backend still down; retry on the next backfill run.
			slog.Warn("embedding backfill interrupted", "record_id", record.ID, "error", err)
			return count, nil
		}
		if err := i.store.AttachHistoryEmbedding(ctx, record.ID, vector); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// embeddingText derives the text representation of a record for embedding,
// by kind-specific field lookup.
func embeddingText(record *store.HistoryRecord) string {
	switch record.Kind {
	case store.HistoryKindTopic:
		return record.Payload[store.PayloadKeyTopic]
	case store.HistoryKindContent:
		for _, key := range []string{
			store.PayloadKeyContent,
			store.PayloadKeyText,
			store.PayloadKeyTopic,
		} {
			if text := record.Payload[key]; text != "" {
				return text
			}
		}
	case store.HistoryKindRejection:
		if text := record.Payload[store.PayloadKeyReason]; text != "" {
			return text
		}
		return record.Payload[store.PayloadKeyTopic]
	default:
		for _, key := range []string{
			store.PayloadKeyText,
			store.PayloadKeyContent,
			store.PayloadKeyTopic,
			"title",
			"description",
		} {
			if text := record.Payload[key]; text != "" {
				return text
			}
		}
	}
	return ""
}
