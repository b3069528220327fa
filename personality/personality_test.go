package personality

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/volition/store"
)

// fakeStore holds one persisted personality row.
type fakeStore struct {
	row       *store.PersonalityState
	getErr    error
	upsertErr error
	upserts   int
}

func (f *fakeStore) GetPersonalityState(context.Context) (*store.PersonalityState, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.row, nil
}

func (f *fakeStore) UpsertPersonalityState(_ context.Context, upsert *store.PersonalityState) (*store.PersonalityState, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	f.upserts++
	f.row = upsert
	return upsert, nil
}

func TestState_DriftOnRejection(t *testing.T) {
	state := DefaultState()

	state.Drift(Experience{RejectionRate: 1, QualityAvg: 0.5, PublicationSuccess: false})

	// Full rejection pushes tension up and boldness down by half a drift step.
	assert.InDelta(t, 0.505, state.Tension, 1e-9)
	assert.InDelta(t, 0.495, state.Boldness, 1e-9)
	assert.InDelta(t, 0.501, state.Depth, 1e-9)
	assert.False(t, state.LastUpdate.IsZero())
}

func TestState_DriftOnSuccess(t *testing.T) {
	state := DefaultState()

	state.Drift(Experience{RejectionRate: 0, QualityAvg: 0.9, PublicationSuccess: true})

	assert.InDelta(t, 0.495, state.Tension, 1e-9)
	assert.InDelta(t, 0.504, state.Boldness, 1e-9)
	assert.InDelta(t, 0.501, state.Depth, 1e-9)
}

func TestState_DriftStaysInRange(t *testing.T) {
	state := State{Tension: 1, Boldness: 0, Depth: 1, DriftRate: 10}

	// An absurd drift rate still cannot push traits out of [0,1].
	state.Drift(Experience{RejectionRate: 1, QualityAvg: 0, PublicationSuccess: false})

	assert.LessOrEqual(t, state.Tension, 1.0)
	assert.GreaterOrEqual(t, state.Tension, 0.0)
	assert.LessOrEqual(t, state.Boldness, 1.0)
	assert.GreaterOrEqual(t, state.Boldness, 0.0)
	assert.LessOrEqual(t, state.Depth, 1.0)
	assert.GreaterOrEqual(t, state.Depth, 0.0)
}

func TestState_StyleModifiers(t *testing.T) {
	state := State{Tension: 0.2, Boldness: 0.8, Depth: 0.6}

	mods := state.StyleModifiers()

	assert.Equal(t, 0.8, mods.RiskTaking)
	assert.Equal(t, 0.6, mods.DetailLevel)
	assert.Equal(t, 0.2, mods.Urgency)
	assert.InDelta(t, 0.8*0.8, mods.Experimentation, 1e-9)
}

func TestNewManager_DefaultsWhenUnpersisted(t *testing.T) {
	m, err := NewManager(context.Background(), &fakeStore{})

	require.NoError(t, err)
	assert.Equal(t, DefaultState(), m.State())
}

func TestNewManager_LoadsPersistedState(t *testing.T) {
	st := &fakeStore{row: &store.PersonalityState{
		Tension:   0.7,
		Boldness:  0.3,
		Depth:     0.9,
		DriftRate: 0.02,
		UpdatedTs: 1700000000,
	}}

	m, err := NewManager(context.Background(), st)

	require.NoError(t, err)
	state := m.State()
	assert.Equal(t, 0.7, state.Tension)
	assert.Equal(t, 0.3, state.Boldness)
	assert.Equal(t, 0.9, state.Depth)
	assert.Equal(t, 0.02, state.DriftRate)
}

func TestNewManager_ClampsCorruptRow(t *testing.T) {
	st := &fakeStore{row: &store.PersonalityState{Tension: 3, Boldness: -1, Depth: 0.5}}

	m, err := NewManager(context.Background(), st)

	require.NoError(t, err)
	state := m.State()
	assert.Equal(t, 1.0, state.Tension)
	assert.Equal(t, 0.0, state.Boldness)
	assert.Equal(t, DefaultDriftRate, state.DriftRate, "missing drift rate falls back to the default")
}

func TestNewManager_PropagatesStoreError(t *testing.T) {
	_, err := NewManager(context.Background(), &fakeStore{getErr: errors.New("store down")})
	assert.Error(t, err)
}

func TestManager_DriftPersists(t *testing.T) {
	st := &fakeStore{}
	m, err := NewManager(context.Background(), st)
	require.NoError(t, err)

	require.NoError(t, m.Drift(context.Background(), Experience{RejectionRate: 1, QualityAvg: 0.5}))

	assert.Equal(t, 1, st.upserts)
	require.NotNil(t, st.row)
	assert.InDelta(t, 0.505, st.row.Tension, 1e-9)
}

func TestManager_DriftReportsPersistFailure(t *testing.T) {
	st := &fakeStore{upsertErr: errors.New("disk full")}
	m, err := NewManager(context.Background(), st)
	require.NoError(t, err)

	err = m.Drift(context.Background(), Experience{})
	assert.Error(t, err)
}

func TestExperienceFromRecords(t *testing.T) {
	records := []*store.HistoryRecord{
		{Payload: map[string]string{"rejected": "true", "quality_score": "0.4"}},
		{Payload: map[string]string{"published": "true", "quality_score": "0.8"}},
		{Payload: map[string]string{}},
		{Payload: map[string]string{"rejected": "true"}},
	}

	exp := ExperienceFromRecords(records)

	assert.InDelta(t, 0.5, exp.RejectionRate, 1e-9)
	assert.InDelta(t, 0.6, exp.QualityAvg, 1e-9)
	assert.True(t, exp.PublicationSuccess)
}

func TestExperienceFromRecords_Empty(t *testing.T) {
	exp := ExperienceFromRecords(nil)

	assert.Equal(t, 0.5, exp.RejectionRate)
	assert.Equal(t, 0.5, exp.QualityAvg)
	assert.False(t, exp.PublicationSuccess)
}
