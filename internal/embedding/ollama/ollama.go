// Package ollama embeds text through langchaingo's Ollama client.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	"ragchat/internal/domain"
)

type Config struct {
	BaseURL   string
	Model     string
	BatchSize int
	Timeout   time.Duration
}

// Embedder adapts a langchaingo embedder to domain.Embedder.
type Embedder struct {
	model   string
	timeout time.Duration
	impl    embeddings.Embedder
}

func New(cfg Config) (*Embedder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama embedder: model is required")
	}
	opts := []ollama.Option{
		ollama.WithModel(cfg.Model),
		ollama.WithHTTPClient(&http.Client{}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: %w", err)
	}
	return Wrap(llm, cfg)
}

// Wrap builds an embedder around any langchaingo embedding client.
func Wrap(client embeddings.EmbedderClient, cfg Config) (*Embedder, error) {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 32
	}
	impl, err := embeddings.NewEmbedder(
		client,
		embeddings.WithBatchSize(batch),
		embeddings.WithStripNewLines(true),
	)
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: %w", err)
	}
	return &Embedder{model: cfg.Model, timeout: cfg.Timeout, impl: impl}, nil
}

func (e *Embedder) Name() string { return "ollama:" + e.model }

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	vectors, err := e.impl.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, domain.Wrap(domain.KindEmbeddingService, err, "embedding service unavailable")
	}
	if len(vectors) != len(texts) {
		return nil, domain.Errorf(domain.KindEmbeddingService, "embedding service returned %d vectors for %d inputs", len(vectors), len(texts))
	}
	return vectors, nil
}
