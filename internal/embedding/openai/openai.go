package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"ragchat/internal/domain"
)

// Client is an OpenAI-compatible embeddings client. It also understands
// the Ollama-native response shape so it can point at a local runtime.
type Client struct {
	http      *resty.Client
	model     string
	batchSize int
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	BatchSize int
	Timeout   time.Duration
}

type embeddingsRequest struct {
	Input  []string `json:"input"`
	Prompt string   `json:"prompt,omitempty"`
	Model  string   `json:"model"`
}

type openAIResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type ollamaResponse struct {
	Embedding  []float32   `json:"embedding"`
	Embeddings [][]float32 `json:"embeddings"`
}

// NewClient creates a new embeddings client using the provided configuration.
// The API key is optional so local OpenAI-compatible servers work unauthenticated.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKeyEnv != "" {
		if key := os.Getenv(cfg.APIKeyEnv); key != "" {
			client.SetAuthToken(key)
		}
	}
	return &Client{http: client, model: cfg.Model, batchSize: cfg.BatchSize}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai:" + c.model }

// Embed returns one vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		vectors, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, domain.Wrap(domain.KindEmbeddingService, err, "embedding service unavailable")
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	body := embeddingsRequest{Input: batch, Model: c.model}
	if len(batch) == 1 {
		body.Prompt = batch[0]
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/embeddings")
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("openai embeddings failed: %s", resp.Status())
	}
	return decodeVectors(resp.Body(), len(batch))
}

func decodeVectors(payload []byte, want int) ([][]float32, error) {
	var oa openAIResponse
	if err := json.Unmarshal(payload, &oa); err == nil && len(oa.Data) > 0 {
		vectors := make([][]float32, len(oa.Data))
		for i, d := range oa.Data {
			pos := d.Index
			if pos < 0 || pos >= len(vectors) || vectors[pos] != nil {
				pos = i
			}
			vectors[pos] = d.Embedding
		}
		return checkCount(vectors, want)
	}
	// Ollama-native shapes: {"embedding": [...]} or {"embeddings": [[...]]}
	var ol ollamaResponse
	if err := json.Unmarshal(payload, &ol); err != nil {
		return nil, fmt.Errorf("openai embeddings: decode response: %w", err)
	}
	if len(ol.Embeddings) > 0 {
		return checkCount(ol.Embeddings, want)
	}
	if len(ol.Embedding) > 0 {
		return checkCount([][]float32{ol.Embedding}, want)
	}
	return nil, fmt.Errorf("openai embeddings: no embedding returned")
}

func checkCount(vectors [][]float32, want int) ([][]float32, error) {
	if len(vectors) != want {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(vectors), want)
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("openai embeddings: empty vector at %d", i)
		}
	}
	return vectors, nil
}
