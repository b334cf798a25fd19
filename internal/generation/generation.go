// Package generation produces answers through langchaingo language models.
package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"ragchat/internal/domain"
)

// Generator answers prompts with one backend model.
type Generator struct {
	backend string
	model   llms.Model
	timeout time.Duration
}

// NewGenerator wraps model. A positive timeout bounds every call.
func NewGenerator(backend string, model llms.Model, timeout time.Duration) *Generator {
	return &Generator{backend: backend, model: model, timeout: timeout}
}

// Backend returns the backend model identifier, e.g. "qwen3:8b".
func (g *Generator) Backend() string { return g.backend }

// Invoke returns the full answer to prompt.
func (g *Generator) Invoke(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	answer, err := llms.GenerateFromSinglePrompt(ctx, g.model, prompt)
	if err != nil {
		return "", g.mapErr(ctx, err)
	}
	return answer, nil
}

// Stream forwards every non-empty fragment to onFragment as it arrives.
// An error returned by onFragment stops generation and is returned as is.
func (g *Generator) Stream(ctx context.Context, prompt string, onFragment func(string) error) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	var consumerErr error
	_, err := llms.GenerateFromSinglePrompt(ctx, g.model, prompt,
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			if err := onFragment(string(chunk)); err != nil {
				consumerErr = err
				return err
			}
			return nil
		}),
	)
	if consumerErr != nil {
		return consumerErr
	}
	if err != nil {
		return g.mapErr(ctx, err)
	}
	return nil
}

func (g *Generator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout > 0 {
		return context.WithTimeout(ctx, g.timeout)
	}
	return context.WithCancel(ctx)
}

func (g *Generator) mapErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return domain.Wrap(domain.KindGenerationService, err, "generation service unavailable")
}

// Factory creates the langchaingo model for a backend identifier.
type Factory func(backend string) (llms.Model, error)

// OllamaFactory builds Ollama-backed models served at baseURL.
func OllamaFactory(baseURL string) Factory {
	return func(backend string) (llms.Model, error) {
		opts := []ollama.Option{
			ollama.WithModel(backend),
			ollama.WithHTTPClient(&http.Client{}),
		}
		if baseURL != "" {
			opts = append(opts, ollama.WithServerURL(baseURL))
		}
		return ollama.New(opts...)
	}
}

// Registry maps configured model keys to generators. It is built once at
// startup and read-only afterwards.
type Registry struct {
	generators map[string]*Generator
	keys       []string
}

// NewRegistry builds one generator per table entry, keyed by model key and
// backed by the model that factory returns for its backend identifier.
func NewRegistry(table map[string]string, factory Factory, timeout time.Duration) (*Registry, error) {
	r := &Registry{generators: make(map[string]*Generator, len(table))}
	for key, backend := range table {
		model, err := factory(backend)
		if err != nil {
			return nil, fmt.Errorf("generation: model %q (%s): %w", key, backend, err)
		}
		r.generators[key] = NewGenerator(backend, model, timeout)
		r.keys = append(r.keys, key)
	}
	sort.Strings(r.keys)
	return r, nil
}

// Resolve returns the generator for key or an UnknownModel error.
func (r *Registry) Resolve(key string) (*Generator, error) {
	g, ok := r.generators[strings.TrimSpace(key)]
	if !ok {
		return nil, domain.Errorf(domain.KindUnknownModel, "unknown model %q, available: %s", key, strings.Join(r.keys, ", "))
	}
	return g, nil
}

// Keys returns the configured model keys in sorted order.
func (r *Registry) Keys() []string {
	return append([]string(nil), r.keys...)
}
