package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xlab2016/space-db-public/internal/apperr"
)

func newFakeServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func embeddingHandler(t *testing.T, vectors func(n int) [][]float32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		vecs := vectors(len(body.Input))
		data := make([]map[string]any, len(vecs))
		for i, v := range vecs {
			data[i] = map[string]any{"embedding": v, "index": i, "object": "embedding"}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  body.Model,
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	}
}

func TestNewOpenAIProvider_RequiresAPIKeyAndModel(t *testing.T) {
	_, err := NewOpenAIProvider(Config{Model: "m"})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))

	_, err = NewOpenAIProvider(Config{APIKey: "k"})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestEmbed_ReturnsSingleVector(t *testing.T) {
	srv := newFakeServer(t, embeddingHandler(t, func(n int) [][]float32 {
		return [][]float32{{0.1, 0.2, 0.3}}
	}))

	p, err := NewOpenAIProvider(Config{APIKey: "k", Model: "text-embedding-3-small", BaseURL: srv.URL, Dimensions: 3})
	require.NoError(t, err)

	vec, err := p.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbedBatch_ReturnsVectorsInOrder(t *testing.T) {
	srv := newFakeServer(t, embeddingHandler(t, func(n int) [][]float32 {
		out := make([][]float32, n)
		for i := range out {
			out[i] = []float32{float32(i), float32(i)}
		}
		return out
	}))

	p, err := NewOpenAIProvider(Config{APIKey: "k", Model: "m", BaseURL: srv.URL, Dimensions: 2})
	require.NoError(t, err)

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{2, 2}, vecs[2])
}

func TestEmbedBatch_RejectsEmptyInput(t *testing.T) {
	p, err := NewOpenAIProvider(Config{APIKey: "k", Model: "m"})
	require.NoError(t, err)

	_, err = p.EmbedBatch(context.Background(), nil)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestEmbedBatch_MismatchCountIsEmbeddingMismatch(t *testing.T) {
	srv := newFakeServer(t, embeddingHandler(t, func(n int) [][]float32 {
		// Always return one fewer vector than requested.
		out := make([][]float32, 0, n)
		for i := 0; i < n-1; i++ {
			out = append(out, []float32{0, 0})
		}
		return out
	}))

	p, err := NewOpenAIProvider(Config{APIKey: "k", Model: "m", BaseURL: srv.URL, Dimensions: 2})
	require.NoError(t, err)

	_, err = p.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.EmbeddingMismatch))
}

func TestEmbedBatch_DimensionMismatchIsEmbeddingMismatch(t *testing.T) {
	srv := newFakeServer(t, embeddingHandler(t, func(n int) [][]float32 {
		return [][]float32{{1, 2, 3}}
	}))

	p, err := NewOpenAIProvider(Config{APIKey: "k", Model: "m", BaseURL: srv.URL, Dimensions: 4})
	require.NoError(t, err)

	_, err = p.EmbedBatch(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.EmbeddingMismatch))
}

func TestDimensions(t *testing.T) {
	p, err := NewOpenAIProvider(Config{APIKey: "k", Model: "m", Dimensions: 1536})
	require.NoError(t, err)
	assert.Equal(t, 1536, p.Dimensions())
}
