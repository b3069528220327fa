package memory

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/volition/store"
)

// fakeEmbedder returns a fixed vector, or fails.
type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int
	texts  []string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

// fakeStore records writes and serves canned search results.
type fakeStore struct {
	created       []*store.HistoryRecord
	attached      map[string][]float32
	withoutVector []*store.HistoryRecord
	searchResults []*store.HistoryRecordWithScore
	searchErr     error
	attachErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{attached: map[string][]float32{}}
}

func (f *fakeStore) CreateHistoryRecord(_ context.Context, create *store.HistoryRecord) (*store.HistoryRecord, error) {
	if create.ID == "" {
		create.ID = "generated"
	}
	f.created = append(f.created, create)
	return create, nil
}

func (f *fakeStore) AttachHistoryEmbedding(_ context.Context, id string, embedding []float32) error {
	if f.attachErr != nil {
		return f.attachErr
	}
	f.attached[id] = embedding
	return nil
}

func (f *fakeStore) FindHistoryRecordsWithoutEmbedding(_ context.Context, _ *store.FindHistoryRecordsWithoutEmbedding) ([]*store.HistoryRecord, error) {
	return f.withoutVector, nil
}

func (f *fakeStore) SearchHistoryByVector(_ context.Context, opts *store.HistoryVectorSearchOptions) ([]*store.HistoryRecordWithScore, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.searchResults) > opts.Limit {
		return f.searchResults[:opts.Limit], nil
	}
	return f.searchResults, nil
}

func topicRecord(topic string) *store.HistoryRecord {
	return &store.HistoryRecord{
		Kind:    store.HistoryKindTopic,
		Payload: map[string]string{store.PayloadKeyTopic: topic},
	}
}

func TestIndex_AddAttachesEmbedding(t *testing.T) {
	st := newFakeStore()
	embedder := &fakeEmbedder{vector: []float32{0.1, 0.2}}
	index := NewIndex(st, embedder)

	record, err := index.Add(context.Background(), topicRecord("ravens"))

	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, record.Embedding)
	assert.Equal(t, []string{"ravens"}, embedder.texts)
}

func TestIndex_AddDegradesWithoutBackend(t *testing.T) {
	tests := []struct {
		name     string
		embedder Embedder
	}{
		{"nil embedder", nil},
		{"failing embedder", &fakeEmbedder{err: errors.New("backend down")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newFakeStore()
			index := NewIndex(st, tt.embedder)

			record, err := index.Add(context.Background(), topicRecord("ravens"))

			require.NoError(t, err, "an unavailable backend must not fail the write")
			assert.Nil(t, record.Embedding)
			require.Len(t, st.created, 1)
		})
	}
}

func TestIndex_AddKeepsExistingEmbedding(t *testing.T) {
	st := newFakeStore()
	embedder := &fakeEmbedder{vector: []float32{9}}
	index := NewIndex(st, embedder)

	record := topicRecord("ravens")
	record.Embedding = []float32{0.5}
	_, err := index.Add(context.Background(), record)

	require.NoError(t, err)
	assert.Equal(t, 0, embedder.calls)
	assert.Equal(t, []float32{0.5}, record.Embedding)
}

func TestIndex_SearchSimilarFiltersByThreshold(t *testing.T) {
	st := newFakeStore()
	st.searchResults = []*store.HistoryRecordWithScore{
		{Record: &store.HistoryRecord{ID: "close"}, Score: 0.92},
		{Record: &store.HistoryRecord{ID: "far"}, Score: 0.4},
	}
	index := NewIndex(st, &fakeEmbedder{vector: []float32{1}})

	matches, err := index.SearchSimilar(context.Background(), "query", "", 0.85, 10)

	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "close", matches[0].Record.ID)
	assert.Equal(t, float32(0.92), matches[0].Score)
}

func TestIndex_SearchSimilarDegradesOnEmbedFailure(t *testing.T) {
	st := newFakeStore()
	st.searchResults = []*store.HistoryRecordWithScore{
		{Record: &store.HistoryRecord{ID: "close"}, Score: 0.99},
	}
	index := NewIndex(st, &fakeEmbedder{err: errors.New("backend down")})

	matches, err := index.SearchSimilar(context.Background(), "query", "", 0.85, 10)

	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestIndex_CheckRepetition(t *testing.T) {
	st := newFakeStore()
	st.searchResults = []*store.HistoryRecordWithScore{
		{Record: &store.HistoryRecord{ID: "dup"}, Score: 0.9},
	}
	index := NewIndex(st, &fakeEmbedder{vector: []float32{1}})

	repeated, match := index.CheckRepetition(context.Background(), "ravens again", 0)

	assert.True(t, repeated)
	require.NotNil(t, match)
	assert.Equal(t, "dup", match.ID)
}

func TestIndex_CheckRepetitionBelowThreshold(t *testing.T) {
	st := newFakeStore()
	st.searchResults = []*store.HistoryRecordWithScore{
		{Record: &store.HistoryRecord{ID: "dup"}, Score: 0.8},
	}
	index := NewIndex(st, &fakeEmbedder{vector: []float32{1}})

	repeated, match := index.CheckRepetition(context.Background(), "something new", 0)

	assert.False(t, repeated)
	assert.Nil(t, match)
}

func TestIndex_CheckRepetitionDegradesOnError(t *testing.T) {
	st := newFakeStore()
	st.searchErr = errors.New("store down")
	index := NewIndex(st, &fakeEmbedder{vector: []float32{1}})

	repeated, match := index.CheckRepetition(context.Background(), "anything", 0)

	assert.False(t, repeated)
	assert.Nil(t, match)
}

func TestIndex_BackfillEmbeddings(t *testing.T) {
	st := newFakeStore()
	first := topicRecord("first")
	first.ID = "r1"
	second := topicRecord("second")
	second.ID = "r2"
	st.withoutVector = []*store.HistoryRecord{first, second}
	index := NewIndex(st, &fakeEmbedder{vector: []float32{0.3}})

	count, err := index.BackfillEmbeddings(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []float32{0.3}, st.attached["r1"])
	assert.Equal(t, []float32{0.3}, st.attached["r2"])
}

func TestIndex_BackfillStopsWhenBackendDown(t *testing.T) {
	st := newFakeStore()
	record := topicRecord("first")
	record.ID = "r1"
	st.withoutVector = []*store.HistoryRecord{record}
	index := NewIndex(st, &fakeEmbedder{err: errors.New("backend down")})

	count, err := index.BackfillEmbeddings(context.Background(), 10)

	require.NoError(t, err, "a down backend postpones the backfill, it is not an error")
	assert.Equal(t, 0, count)
	assert.Empty(t, st.attached)
}

func TestEmbeddingText(t *testing.T) {
	tests := []struct {
		name   string
		record *store.HistoryRecord
		want   string
	}{
		{"topic kind", topicRecord("ravens"), "ravens"},
		{"content kind prefers content", &store.HistoryRecord{
			Kind:    store.HistoryKindContent,
			Payload: map[string]string{store.PayloadKeyContent: "body", store.PayloadKeyText: "alt"},
		}, "body"},
		{"content kind falls back to text", &store.HistoryRecord{
			Kind:    store.HistoryKindContent,
			Payload: map[string]string{store.PayloadKeyText: "alt"},
		}, "alt"},
		{"content kind falls back to topic", &store.HistoryRecord{
			Kind:    store.HistoryKindContent,
			Payload: map[string]string{store.PayloadKeyTopic: "ravens"},
		}, "ravens"},
		{"rejection kind prefers reason", &store.HistoryRecord{
			Kind:    store.HistoryKindRejection,
			Payload: map[string]string{store.PayloadKeyReason: "dup", store.PayloadKeyTopic: "ravens"},
		}, "dup"},
		{"unknown kind scans common keys", &store.HistoryRecord{
			Kind:    "other",
			Payload: map[string]string{"title": "headline"},
		}, "headline"},
		{"nothing embeddable", &store.HistoryRecord{
			Kind:    "other",
			Payload: map[string]string{"irrelevant": "x"},
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, embeddingText(tt.record))
		})
	}
}
