package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Should return defaults when file is missing", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "ollama", cfg.Embedder.Type)
		assert.Equal(t, "memory", cfg.VectorStore.Type)
		assert.Equal(t, int64(1<<20), cfg.Upload.MaxBytes)
		assert.Equal(t, []string{"txt", "doc", "docx"}, cfg.Upload.AllowedExtensions)
		assert.Equal(t, 1000, cfg.Chunker.Size)
		assert.Equal(t, 200, cfg.Chunker.Overlap)
		assert.Equal(t, 3, cfg.Retrieval.MinK)
		assert.Contains(t, cfg.Models, "qwen3")
	})

	t.Run("Should round trip through Save", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "config.yaml")
		cfg := defaultConfig()
		cfg.Chunker.Size = 500
		cfg.Chunker.Overlap = 100
		require.NoError(t, Save(path, cfg))
		loaded, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 500, loaded.Chunker.Size)
		assert.Equal(t, 100, loaded.Chunker.Overlap)
	})
}

func TestParse(t *testing.T) {
	t.Run("Should replace the default model table instead of merging", func(t *testing.T) {
		cfg, err := Parse([]byte("models:\n  phi: phi3:mini\n"))
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"phi": "phi3:mini"}, cfg.Models)
		assert.Equal(t, []string{"phi"}, cfg.ModelKeys())
	})

	t.Run("Should apply openai defaults", func(t *testing.T) {
		cfg, err := Parse([]byte("embedder:\n  type: openai\n  openai: {}\n"))
		require.NoError(t, err)
		require.NotNil(t, cfg.Embedder.OpenAI)
		assert.Equal(t, "https://api.openai.com/v1", cfg.Embedder.OpenAI.BaseURL)
		assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
		assert.Equal(t, 32, cfg.Embedder.OpenAI.BatchSize)
	})

	t.Run("Should default the hashing block", func(t *testing.T) {
		cfg, err := Parse([]byte("embedder:\n  type: hashing\n"))
		require.NoError(t, err)
		require.NotNil(t, cfg.Embedder.Hashing)
		assert.Equal(t, 256, cfg.Embedder.Hashing.Dimension)
	})

	t.Run("Should normalise allowed extensions", func(t *testing.T) {
		cfg, err := Parse([]byte("upload:\n  allowed_extensions: [\".TXT\", \" md \"]\n"))
		require.NoError(t, err)
		assert.Equal(t, []string{"txt", "md"}, cfg.Upload.AllowedExtensions)
	})

	t.Run("Should reject overlap not smaller than size", func(t *testing.T) {
		_, err := Parse([]byte("chunker:\n  size: 100\n  overlap: 100\n"))
		require.Error(t, err)
	})

	t.Run("Should reject unknown vector store type", func(t *testing.T) {
		_, err := Parse([]byte("vector_store:\n  type: faiss\n"))
		require.Error(t, err)
	})

	t.Run("Should require qdrant block for qdrant store", func(t *testing.T) {
		_, err := Parse([]byte("vector_store:\n  type: qdrant\n"))
		require.ErrorContains(t, err, "qdrant")
	})

	t.Run("Should require url when web search is enabled", func(t *testing.T) {
		_, err := Parse([]byte("web_search:\n  enabled: true\n"))
		require.ErrorContains(t, err, "web_search.url")
	})

	t.Run("Should reject min_score above one", func(t *testing.T) {
		_, err := Parse([]byte("retrieval:\n  min_score: 1.5\n"))
		require.Error(t, err)
		cfg, err := Parse([]byte("retrieval:\n  min_score: 0.25\n"))
		require.NoError(t, err)
		assert.Equal(t, 0.25, cfg.Retrieval.MinScore)
	})

	t.Run("Should keep the catalog in memory alongside the memory store", func(t *testing.T) {
		cfg, err := Parse([]byte("catalog:\n  path: /var/lib/ragchat.db\n"))
		require.NoError(t, err)
		assert.Equal(t, ":memory:", cfg.CatalogPath())
		cfg, err = Parse([]byte("catalog:\n  path: /var/lib/ragchat.db\nvector_store:\n  type: qdrant\n  qdrant:\n    url: http://localhost:6333\n    collection: chunks\n"))
		require.NoError(t, err)
		assert.Equal(t, "/var/lib/ragchat.db", cfg.CatalogPath())
	})

	t.Run("Should resolve pgvector dsn from environment", func(t *testing.T) {
		t.Setenv("RAGCHAT_TEST_DSN", "postgres://u:p@localhost/db")
		cfg, err := Parse([]byte("vector_store:\n  type: pgvector\n  pgvector:\n    dsn_env: RAGCHAT_TEST_DSN\n    table: chunks\n"))
		require.NoError(t, err)
		assert.Equal(t, "postgres://u:p@localhost/db", cfg.VectorStore.PGVector.ResolveDSN())
	})
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, 5*time.Second, Seconds(0, 5*time.Second))
	assert.Equal(t, 2*time.Second, Seconds(2, 5*time.Second))
}

func TestLoadReadError(t *testing.T) {
	dir := t.TempDir()
	// a directory cannot be read as a file
	_, err := Load(dir)
	require.Error(t, err)
	_, statErr := os.Stat(dir)
	require.NoError(t, statErr)
}
