package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmbeddingService_RequiresAPIKey(t *testing.T) {
	_, err := NewEmbeddingService(&EmbeddingConfig{})
	assert.Error(t, err)
}

func TestEmbeddingService_Embed(t *testing.T) {
	var gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel, _ = req["model"].(string)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": []float32{0.1, 0.2, 0.3}},
			},
			"model": "test-model",
		})
	}))
	defer server.Close()

	service, err := NewEmbeddingService(&EmbeddingConfig{
		APIKey:     "sk-test",
		BaseURL:    server.URL,
		Model:      "test-model",
		Dimensions: 3,
	})
	require.NoError(t, err)

	vector, err := service.Embed(context.Background(), "hello")

	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vector)
	assert.Equal(t, "test-model", gotModel)
	assert.Equal(t, 3, service.Dimensions())
}

func TestEmbeddingService_EmbedBatchValidatesInput(t *testing.T) {
	service, err := NewEmbeddingService(&EmbeddingConfig{APIKey: "sk-test"})
	require.NoError(t, err)

	_, err = service.EmbedBatch(context.Background(), nil)
	assert.Error(t, err)
}

func TestEmbeddingService_RateLimiterHonorsContext(t *testing.T) {
	service, err := NewEmbeddingService(&EmbeddingConfig{
		APIKey:            "sk-test",
		RequestsPerSecond: 0.001, // one request every ~17 minutes
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// First token is available immediately; consume it against a canceled
	// context and the limiter must reject rather than block.
	_, err = service.Embed(ctx, "first")
	assert.Error(t, err)
}
