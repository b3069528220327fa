package store

import "context"

// PersonalityState is the single persisted personality row. All trait values
// are stored already clamped to [0,1].
type PersonalityState struct {
	Tension   float64
	Boldness  float64
	Depth     float64
	DriftRate float64
	UpdatedTs int64
}

// GetPersonalityState returns the persisted personality state, or nil when
// none has been stored yet.
func (s *Store) GetPersonalityState(ctx context.Context) (*PersonalityState, error) {
	return s.driver.GetPersonalityState(ctx)
}

// UpsertPersonalityState stores the personality state, replacing any
// previously persisted one.
func (s *Store) UpsertPersonalityState(ctx context.Context, upsert *PersonalityState) (*PersonalityState, error) {
	return s.driver.UpsertPersonalityState(ctx, upsert)
}
