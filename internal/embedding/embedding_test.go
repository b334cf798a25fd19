package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/config"
)

func TestNew(t *testing.T) {
	t.Run("Should build the hashing embedder", func(t *testing.T) {
		cfg, err := config.Parse([]byte("embedder:\n  type: hashing\n  hashing:\n    dimension: 64\n"))
		require.NoError(t, err)
		e, err := New(cfg)
		require.NoError(t, err)
		assert.Equal(t, "hashing", e.Name())
	})

	t.Run("Should build the openai embedder", func(t *testing.T) {
		cfg, err := config.Parse([]byte("embedder:\n  type: openai\n  openai:\n    base_url: http://localhost:11434/v1\n    model: nomic-embed-text\n"))
		require.NoError(t, err)
		e, err := New(cfg)
		require.NoError(t, err)
		assert.Equal(t, "openai:nomic-embed-text", e.Name())
	})

	t.Run("Should build the ollama embedder by default", func(t *testing.T) {
		cfg, err := config.Parse([]byte("{}"))
		require.NoError(t, err)
		e, err := New(cfg)
		require.NoError(t, err)
		assert.Equal(t, "ollama:nomic-embed-text", e.Name())
	})
}
