package units

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/volition/engine"
	"github.com/hrygo/volition/goals"
	"github.com/hrygo/volition/memory"
	"github.com/hrygo/volition/personality"
	"github.com/hrygo/volition/store"
)

type fakeEmbedder struct {
	vector []float32
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return f.vector, nil
}

// fakeHistoryStore implements memory.Store and records writes.
type fakeHistoryStore struct {
	created       []*store.HistoryRecord
	searchResults []*store.HistoryRecordWithScore
}

func (f *fakeHistoryStore) CreateHistoryRecord(_ context.Context, create *store.HistoryRecord) (*store.HistoryRecord, error) {
	if create.ID == "" {
		create.ID = "record-1"
	}
	f.created = append(f.created, create)
	return create, nil
}

func (f *fakeHistoryStore) AttachHistoryEmbedding(context.Context, string, []float32) error {
	return nil
}

func (f *fakeHistoryStore) FindHistoryRecordsWithoutEmbedding(context.Context, *store.FindHistoryRecordsWithoutEmbedding) ([]*store.HistoryRecord, error) {
	return nil, nil
}

func (f *fakeHistoryStore) SearchHistoryByVector(context.Context, *store.HistoryVectorSearchOptions) ([]*store.HistoryRecordWithScore, error) {
	return f.searchResults, nil
}

type fakePersonalityStore struct {
	row *store.PersonalityState
}

func (f *fakePersonalityStore) GetPersonalityState(context.Context) (*store.PersonalityState, error) {
	return f.row, nil
}

func (f *fakePersonalityStore) UpsertPersonalityState(_ context.Context, upsert *store.PersonalityState) (*store.PersonalityState, error) {
	f.row = upsert
	return upsert, nil
}

func testGoals() *goals.Goals {
	g := goals.Default()
	g.ContentGoals = []goals.ContentGoal{
		{ID: "minor", Description: "minor topic", Priority: 3, Active: true},
		{ID: "major", Description: "major topic", Priority: 8, Active: true},
		{ID: "inactive", Description: "paused topic", Priority: 10, Active: false},
	}
	return g
}

func newTestPipeline(t *testing.T, g *goals.Goals, history *fakeHistoryStore) *engine.Pipeline {
	t.Helper()

	manager, err := personality.NewManager(context.Background(), &fakePersonalityStore{})
	require.NoError(t, err)
	index := memory.NewIndex(history, &fakeEmbedder{vector: []float32{1, 0}})

	p := engine.NewPipeline([]string{"planner", "repetition_gate", "archivist"})
	p.Register("planner", NewPlanner(g, manager))
	p.Register("repetition_gate", NewRepetitionGate(index, 0.85))
	p.Register("archivist", NewArchivist(index))
	return p
}

func TestPipeline_NovelTopicIsArchived(t *testing.T) {
	history := &fakeHistoryStore{}
	p := newTestPipeline(t, testGoals(), history)

	report, err := p.Run(context.Background(), engine.Blackboard{})

	require.NoError(t, err)
	assert.False(t, report.Halted)
	assert.Equal(t, []string{"planner", "repetition_gate", "archivist"}, report.Completed)

	// The highest-priority active goal wins.
	assert.Equal(t, "major topic", report.Blackboard[KeyTopic])
	assert.Equal(t, false, report.Blackboard[KeyRejected])

	require.Len(t, history.created, 1)
	record := history.created[0]
	assert.Equal(t, store.HistoryKindContent, record.Kind)
	assert.Equal(t, "major topic", record.Topic())
	assert.False(t, record.Rejected())
}

func TestPipeline_RepeatedTopicIsRejected(t *testing.T) {
	history := &fakeHistoryStore{
		searchResults: []*store.HistoryRecordWithScore{
			{Record: &store.HistoryRecord{ID: "older"}, Score: 0.95},
		},
	}
	p := newTestPipeline(t, testGoals(), history)

	report, err := p.Run(context.Background(), engine.Blackboard{})

	require.NoError(t, err)
	assert.False(t, report.Halted)
	assert.Equal(t, true, report.Blackboard[KeyRejected])
	assert.Equal(t, "repetition", report.Blackboard[KeyRejectReason])

	// The gate writes a rejection record, the archivist the run outcome.
	require.Len(t, history.created, 2)
	assert.Equal(t, store.HistoryKindRejection, history.created[0].Kind)
	assert.Contains(t, history.created[0].Payload[store.PayloadKeyReason], "older")
	assert.Equal(t, store.HistoryKindContent, history.created[1].Kind)
	assert.True(t, history.created[1].Rejected())
}

func TestPipeline_NoActiveGoalsSkipsCleanly(t *testing.T) {
	history := &fakeHistoryStore{}
	g := goals.Default()
	p := newTestPipeline(t, g, history)

	report, err := p.Run(context.Background(), engine.Blackboard{})

	require.NoError(t, err)
	assert.False(t, report.Halted, "a skip is not a failure")
	assert.Equal(t, []string{"planner", "repetition_gate", "archivist"}, report.Completed)
	assert.Empty(t, history.created)
	for _, reflection := range report.Reflections {
		assert.False(t, reflection.Failed())
		assert.False(t, reflection.Action.Executed)
	}
}

func TestArchivist_OutcomeFeedsMonitorQueries(t *testing.T) {
	history := &fakeHistoryStore{}
	index := memory.NewIndex(history, &fakeEmbedder{vector: []float32{1, 0}})
	archivist := NewArchivist(index)

	bb := engine.Blackboard{
		KeyTopic:        "ravens",
		KeyRejected:     true,
		KeyRejectReason: "repetition",
	}
	reflection := engine.RunCycle(context.Background(), "archivist", archivist, bb)

	require.False(t, reflection.Failed())
	require.Len(t, history.created, 1)
	record := history.created[0]

	// The monitor only reads content records, so the outcome must land there
	// with the fields its rules interpret.
	assert.Equal(t, store.HistoryKindContent, record.Kind)
	assert.Equal(t, "ravens", record.Topic())
	assert.True(t, record.Rejected())
	assert.Equal(t, "repetition", record.Payload[store.PayloadKeyReason])
	assert.Equal(t, []float32{1, 0}, record.Embedding, "the topic is embeddable without a content body")
}

func TestPlanner_ConfidenceTracksBoldness(t *testing.T) {
	manager, err := personality.NewManager(context.Background(), &fakePersonalityStore{
		row: &store.PersonalityState{Tension: 0.5, Boldness: 0.8, Depth: 0.5, DriftRate: 0.01},
	})
	require.NoError(t, err)
	planner := NewPlanner(testGoals(), manager)

	reflection := engine.RunCycle(context.Background(), "planner", planner, engine.Blackboard{})

	require.False(t, reflection.Failed())
	assert.InDelta(t, 0.9, reflection.Action.Intent.Confidence, 1e-9)
	assert.InDelta(t, 0.8, reflection.Action.Updates[KeyRiskTaking].(float64), 1e-9)
	assert.InDelta(t, 0.5, reflection.Action.Updates[KeyDetailLevel].(float64), 1e-9)
}
