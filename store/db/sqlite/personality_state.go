package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/volition/store"
)

// GetPersonalityState returns the persisted personality state, or nil when
// none has been stored yet.
func (d *DB) GetPersonalityState(ctx context.Context) (*store.PersonalityState, error) {
	var state store.PersonalityState
	err := d.db.QueryRowContext(ctx,
		`SELECT tension, boldness, depth, drift_rate, updated_ts FROM personality_state WHERE id = 1`,
	).Scan(
		&state.Tension,
		&state.Boldness,
		&state.Depth,
		&state.DriftRate,
		&state.UpdatedTs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get personality state")
	}
	return &state, nil
}

func (d *DB) UpsertPersonalityState(ctx context.Context, upsert *store.PersonalityState) (*store.PersonalityState, error) {
	upsert.UpdatedTs = time.Now().Unix()

	stmt := `INSERT INTO personality_state (id, tension, boldness, depth, drift_rate, updated_ts)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			tension = excluded.tension,
			boldness = excluded.boldness,
			depth = excluded.depth,
			drift_rate = excluded.drift_rate,
			updated_ts = excluded.updated_ts`
	if _, err := d.db.ExecContext(ctx, stmt,
		upsert.Tension,
		upsert.Boldness,
		upsert.Depth,
		upsert.DriftRate,
		upsert.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to upsert personality state")
	}

	return upsert, nil
}
