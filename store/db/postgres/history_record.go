package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
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

	var embedding any
	if len(create.Embedding) > 0 {
		embedding = pgvector.NewVector(create.Embedding)
	}

	stmt := `INSERT INTO history_record (id, created_ts, kind, payload, embedding, tags)
		VALUES (` + placeholders(6) + `)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		create.CreatedTs,
		create.Kind,
		string(payload),
		embedding,
		pq.Array(create.Tags),
	); err != nil {
		return nil, errors.Wrap(err, "failed to create history record")
	}

	return create, nil
}

func (d *DB) ListHistoryRecords(ctx context.Context, find *store.FindHistoryRecord) ([]*store.HistoryRecord, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.Kind != nil {
		where = append(where, "kind = "+placeholder(len(args)+1))
		args = append(args, *find.Kind)
	}
	if find.WithEmbedding {
		where = append(where, "embedding IS NOT NULL")
	}

	query := `SELECT id, created_ts, kind, payload, embedding, tags
		FROM history_record
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC`
	if find.Limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
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
	if len(embedding) == 0 {
		return errors.New("empty vector")
	}

	result, err := d.db.ExecContext(ctx,
		`UPDATE history_record SET embedding = $1 WHERE id = $2`,
		pgvector.NewVector(embedding), id)
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
		LIMIT $1`

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

// SearchHistoryByVector performs vector similarity search using pgvector.
// The <=> operator computes cosine distance (1 - cosine_similarity), so
// ordering by distance ascending yields the most similar records first.
func (d *DB) SearchHistoryByVector(ctx context.Context, opts *store.HistoryVectorSearchOptions) ([]*store.HistoryRecordWithScore, error) {
	vector := pgvector.NewVector(opts.Vector)
	where, args := []string{"embedding IS NOT NULL"}, []any{}

	if opts.Kind != nil {
		where = append(where, "kind = "+placeholder(len(args)+1))
		args = append(args, *opts.Kind)
	}

	// Bound the scan to the most recent candidates before ranking, mirroring
	// the application-layer scan limit of the sqlite driver.
	query := `SELECT id, created_ts, kind, payload, embedding, tags,
			1 - (embedding <=> ` + placeholder(len(args)+1) + `) AS score
		FROM (
			SELECT * FROM history_record
			WHERE ` + strings.Join(where, " AND ") + `
			ORDER BY created_ts DESC
			LIMIT ` + placeholder(len(args)+2) + `
		) candidates
		ORDER BY score DESC
		LIMIT ` + placeholder(len(args)+3)
	args = append(args, vector, opts.CandidateLimit, opts.Limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search history by vector")
	}
	defer rows.Close()

	results := []*store.HistoryRecordWithScore{}
	for rows.Next() {
		var result store.HistoryRecordWithScore
		var record store.HistoryRecord
		var payload string
		var embedding pgvector.Vector

		if err := rows.Scan(
			&record.ID,
			&record.CreatedTs,
			&record.Kind,
			&payload,
			&embedding,
			pq.Array(&record.Tags),
			&result.Score,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan history vector search result")
		}

		if err := json.Unmarshal([]byte(payload), &record.Payload); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal payload")
		}
		record.Embedding = embedding.Slice()

		result.Record = &record
		results = append(results, &result)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

func scanHistoryRecord(rows *sql.Rows) (*store.HistoryRecord, error) {
	var record store.HistoryRecord
	var payload string
	var embedding *pgvector.Vector

	if err := rows.Scan(
		&record.ID,
		&record.CreatedTs,
		&record.Kind,
		&payload,
		&embedding,
		pq.Array(&record.Tags),
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan history record")
	}

	if err := json.Unmarshal([]byte(payload), &record.Payload); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal payload")
	}
	if embedding != nil {
		record.Embedding = embedding.Slice()
	}

	return &record, nil
}
