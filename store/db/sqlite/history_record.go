package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hrygo/volition/store"
)

func (d *DB) CreateHistoryRecord(ctx context.Context, create *store.HistoryRecord) (*store.HistoryRecord, error) {
	if create.ID == "" {
		create.ID = uuid.NewString()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}

	payload, err := json.Marshal(create.Payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal payload")
	}
	tags, err := json.Marshal(create.Tags)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal tags")
	}

	var embedding []byte
	if len(create.Embedding) > 0 {
		embedding, err = float32ArrayToBLOB(create.Embedding)
		if err != nil {
			return nil, errors.Wrap(err, "failed to convert embedding vector to BLOB")
		}
	}

	stmt := `INSERT INTO history_record (id, created_ts, kind, payload, embedding, tags)
		VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		create.CreatedTs,
		create.Kind,
		string(payload),
		embedding,
		string(tags),
	); err != nil {
		return nil, errors.Wrap(err, "failed to create history record")
	}

	return create, nil
}

func (d *DB) ListHistoryRecords(ctx context.Context, find *store.FindHistoryRecord) ([]*store.HistoryRecord, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.Kind != nil {
		where, args = append(where, "kind = ?"), append(args, *find.Kind)
	}
	if find.WithEmbedding {
		where = append(where, "embedding IS NOT NULL")
	}

	query := `SELECT id, created_ts, kind, payload, embedding, tags
		FROM history_record
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC`
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list history records")
	}
	defer rows.Close()

	list := []*store.HistoryRecord{}
	for rows.Next() {
		record, err := scanHistoryRecord(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) AttachHistoryEmbedding(ctx context.Context, id string, embedding []float32) error {
	blob, err := float32ArrayToBLOB(embedding)
	if err != nil {
		return errors.Wrap(err, "failed to convert embedding vector to BLOB")
	}

	result, err := d.db.ExecContext(ctx, `UPDATE history_record SET embedding = ? WHERE id = ?`, blob, id)
	if err != nil {
		return errors.Wrap(err, "failed to attach history embedding")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (d *DB) FindHistoryRecordsWithoutEmbedding(ctx context.Context, find *store.FindHistoryRecordsWithoutEmbedding) ([]*store.HistoryRecord, error) {
	limit := find.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, created_ts, kind, payload, embedding, tags
		FROM history_record
		WHERE embedding IS NULL
		ORDER BY created_ts DESC
		LIMIT ?`

	rows, err := d.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find history records without embedding")
	}
	defer rows.Close()

	list := []*store.HistoryRecord{}
	for rows.Next() {
		record, err := scanHistoryRecord(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// SearchHistoryByVector performs vector similarity search on history records.
// Uses Go-based cosine similarity computation (application-layer).
func (d *DB) SearchHistoryByVector(ctx context.Context, opts *store.HistoryVectorSearchOptions) ([]*store.HistoryRecordWithScore, error) {
	where, args := []string{"embedding IS NOT NULL"}, []any{}

	if opts.Kind != nil {
		where, args = append(where, "kind = ?"), append(args, *opts.Kind)
	}

	query := `SELECT id, created_ts, kind, payload, embedding, tags
		FROM history_record
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC
		LIMIT ?`
	args = append(args, opts.CandidateLimit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search history by vector")
	}
	defer rows.Close()

	results := []*store.HistoryRecordWithScore{}
	for rows.Next() {
		record, err := scanHistoryRecord(rows)
		if err != nil {
			slog.Warn("failed to scan history vector search candidate", "error", err)
			continue
		}
		results = append(results, &store.HistoryRecordWithScore{
			Record: record,
			Score:  cosineSimilarity(opts.Vector, record.Embedding),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rank by similarity (descending) and return top-k.
	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	return results, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistoryRecord(row rowScanner) (*store.HistoryRecord, error) {
	var record store.HistoryRecord
	var payload, tags string
	var embedding []byte

	if err := row.Scan(
		&record.ID,
		&record.CreatedTs,
		&record.Kind,
		&payload,
		&embedding,
		&tags,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan history record")
	}

	if err := json.Unmarshal([]byte(payload), &record.Payload); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal payload")
	}
	if err := json.Unmarshal([]byte(tags), &record.Tags); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal tags")
	}
	if len(embedding) > 0 {
		vec, err := blobToFloat32Array(embedding)
		if err != nil {
			return nil, errors.Wrap(err, "failed to convert embedding BLOB to array")
		}
		record.Embedding = vec
	}

	return &record, nil
}
