// Package embedding selects the configured text embedder.
package embedding

import (
	"fmt"
	"time"

	"ragchat/internal/config"
	"ragchat/internal/domain"
	"ragchat/internal/embedding/hashing"
	"ragchat/internal/embedding/ollama"
	"ragchat/internal/embedding/openai"
)

// New builds the embedder named by cfg.Embedder.Type.
func New(cfg *config.AppConfig) (domain.Embedder, error) {
	timeout := config.Seconds(cfg.Embedder.TimeoutSecs, 60*time.Second)
	switch cfg.Embedder.Type {
	case "ollama", "":
		oc := cfg.Embedder.Ollama
		if oc == nil {
			return nil, fmt.Errorf("embedding: ollama config missing")
		}
		return ollama.New(ollama.Config{
			BaseURL:   cfg.Ollama.BaseURL,
			Model:     oc.Model,
			BatchSize: oc.BatchSize,
			Timeout:   timeout,
		})
	case "openai":
		oc := cfg.Embedder.OpenAI
		if oc == nil {
			return nil, fmt.Errorf("embedding: openai config missing")
		}
		return openai.NewClient(openai.Config{
			BaseURL:   oc.BaseURL,
			APIKeyEnv: oc.APIKeyEnv,
			Model:     oc.Model,
			BatchSize: oc.BatchSize,
			Timeout:   timeout,
		})
	case "hashing":
		dim := 256
		if cfg.Embedder.Hashing != nil {
			dim = cfg.Embedder.Hashing.Dimension
		}
		return hashing.NewEmbedder(dim)
	default:
		return nil, fmt.Errorf("embedding: unknown embedder %q", cfg.Embedder.Type)
	}
}
