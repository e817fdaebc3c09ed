package ai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailmind-app/mailmind/internal/adapter/ai"
	"github.com/mailmind-app/mailmind/internal/domain"
)

func TestOpenAIEmbedder_Embed_OK(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "text-embedding-3-small", body["model"])
		input := body["input"].([]any)
		require.Len(t, input, 2)

		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float64{0.1, 0.2}},
				{"embedding": []float64{0.3, 0.4}},
			},
		}))
	}))
	defer server.Close()

	e := ai.NewOpenAIEmbedder(testConfig(server.URL))
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{0.1, 0.2}, vecs[0])
	assert.Equal(t, []float32{0.3, 0.4}, vecs[1])
}

func TestOpenAIEmbedder_Embed_EmptyInput(t *testing.T) {
	t.Parallel()

	e := ai.NewOpenAIEmbedder(testConfig("http://unused"))
	vecs, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestOpenAIEmbedder_Embed_RateLimited(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	e := ai.NewOpenAIEmbedder(testConfig(server.URL))
	_, err := e.Embed(context.Background(), []string{"a"})
	require.ErrorIs(t, err, domain.ErrUpstreamRateLimit)
}

func TestOpenAIEmbedder_Dimensions(t *testing.T) {
	t.Parallel()

	cfg := testConfig("http://unused")
	assert.Equal(t, 1536, ai.NewOpenAIEmbedder(cfg).Dimensions())
	cfg.EmbeddingsModel = "text-embedding-3-large"
	assert.Equal(t, 3072, ai.NewOpenAIEmbedder(cfg).Dimensions())
}
