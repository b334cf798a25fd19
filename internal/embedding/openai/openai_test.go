package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
)

func TestClientEmbed(t *testing.T) {
	t.Run("Should batch inputs and keep order", func(t *testing.T) {
		var calls int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			assert.Equal(t, "/embeddings", r.URL.Path)
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			var req embeddingsRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "test-model", req.Model)
			type item struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}
			data := make([]item, len(req.Input))
			for i, text := range req.Input {
				// reversed order exercises the index field
				j := len(req.Input) - 1 - i
				data[j] = item{Index: i, Embedding: []float32{float32(len(text)), 1}}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
		}))
		defer srv.Close()
		t.Setenv("TEST_EMBED_KEY", "secret")
		c, err := NewClient(Config{BaseURL: srv.URL, APIKeyEnv: "TEST_EMBED_KEY", Model: "test-model", BatchSize: 2})
		require.NoError(t, err)
		vectors, err := c.Embed(context.Background(), []string{"a", "bb", "ccc"})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		require.Len(t, vectors, 3)
		assert.Equal(t, float32(1), vectors[0][0])
		assert.Equal(t, float32(2), vectors[1][0])
		assert.Equal(t, float32(3), vectors[2][0])
	})

	t.Run("Should accept the ollama response shape", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"embedding":[0.5,0.25]}`))
		}))
		defer srv.Close()
		c, err := NewClient(Config{BaseURL: srv.URL, Model: "nomic"})
		require.NoError(t, err)
		vectors, err := c.Embed(context.Background(), []string{"hello"})
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{0.5, 0.25}}, vectors)
	})

	t.Run("Should map server errors to embedding service unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()
		c, err := NewClient(Config{BaseURL: srv.URL})
		require.NoError(t, err)
		_, err = c.Embed(context.Background(), []string{"hello"})
		assert.ErrorIs(t, err, domain.ErrEmbeddingServiceUnavailable)
	})

	t.Run("Should reject responses with the wrong vector count", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1]}]}`))
		}))
		defer srv.Close()
		c, err := NewClient(Config{BaseURL: srv.URL, BatchSize: 8})
		require.NoError(t, err)
		_, err = c.Embed(context.Background(), []string{"a", "b"})
		assert.ErrorIs(t, err, domain.ErrEmbeddingServiceUnavailable)
	})
}
