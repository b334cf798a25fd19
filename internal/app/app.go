// Package app wires configuration into ready-to-use components.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"ragchat/internal/catalog"
	"ragchat/internal/chunker"
	"ragchat/internal/config"
	"ragchat/internal/domain"
	"ragchat/internal/embedding"
	"ragchat/internal/generation"
	"ragchat/internal/index"
	"ragchat/internal/logger"
	"ragchat/internal/server"
	"ragchat/internal/service"
	"ragchat/internal/summarizer"
	"ragchat/internal/upload"
	"ragchat/internal/vectorstore"
	"ragchat/internal/vectorstore/memory"
	"ragchat/internal/vectorstore/pgvector"
	"ragchat/internal/vectorstore/qdrant"
	"ragchat/internal/vectorstore/redis"
	"ragchat/internal/websearch"
)

// App holds the long-lived components built from one configuration.
type App struct {
	Config  *config.AppConfig
	Service *service.RAGService
	Loader  *upload.Loader

	store   vectorstore.Storage
	catalog *catalog.Store
}

// Options overrides parts of the wiring, mainly for tests.
type Options struct {
	ModelFactory generation.Factory
}

func Build(ctx context.Context, cfg *config.AppConfig, opts Options) (*App, error) {
	embedder, err := embedding.New(cfg)
	if err != nil {
		return nil, err
	}
	split, err := chunker.NewRecursiveChunker(cfg.Chunker.Size, cfg.Chunker.Overlap)
	if err != nil {
		return nil, err
	}
	factory := opts.ModelFactory
	if factory == nil {
		factory = generation.OllamaFactory(cfg.Ollama.BaseURL)
	}
	models, err := generation.NewRegistry(cfg.Models, factory, config.Seconds(cfg.Ollama.TimeoutSecs, 120*time.Second))
	if err != nil {
		return nil, err
	}
	store, err := NewVectorStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Open(ctx, cfg.CatalogPath())
	if err != nil {
		_ = store.Close(ctx)
		return nil, err
	}

	var web domain.WebSearcher
	if cfg.WebSearch.Enabled {
		web = websearch.New(websearch.Config{
			URL:        cfg.WebSearch.URL,
			MaxResults: cfg.WebSearch.MaxResults,
			Timeout:    config.Seconds(cfg.WebSearch.TimeoutSecs, 10*time.Second),
		})
	}

	ix := index.New(embedder, store, index.Options{
		MinK:       cfg.Retrieval.MinK,
		PerSourceK: cfg.Retrieval.PerSourceK,
		MinScore:   cfg.Retrieval.MinScore,
		PageSize:   cfg.VectorStore.PageSize,
	})
	svc := service.NewRAGService(service.Deps{
		Index:      ix,
		Chunker:    split,
		Catalog:    cat,
		Models:     models,
		Web:        web,
		Summarizer: summarizer.NewFrequencySummarizer(),
	}, service.Options{
		RetrievalTimeout: config.Seconds(cfg.Retrieval.TimeoutSecs, 30*time.Second),
		SummarySentences: cfg.Summarizer.MaxSentences,
	})
	logger.FromContext(ctx).Debug("components ready",
		"embedder", embedder.Name(),
		"vector_store", cfg.VectorStore.Type,
		"models", len(cfg.Models),
		"web_search", cfg.WebSearch.Enabled,
	)
	return &App{
		Config:  cfg,
		Service: svc,
		Loader:  upload.NewLoader(cfg.Upload.MaxBytes, cfg.Upload.AllowedExtensions),
		store:   store,
		catalog: cat,
	}, nil
}

// NewVectorStore builds the store named by cfg.VectorStore.Type.
func NewVectorStore(ctx context.Context, cfg *config.AppConfig) (vectorstore.Storage, error) {
	vs := cfg.VectorStore
	switch vs.Type {
	case "memory", "":
		return memory.NewStorage(), nil
	case "qdrant":
		if vs.Qdrant == nil {
			return nil, errors.New("app: qdrant config missing")
		}
		apiKey := ""
		if vs.Qdrant.APIKeyEnv != "" {
			apiKey = os.Getenv(vs.Qdrant.APIKeyEnv)
		}
		return qdrant.NewStorage(qdrant.Config{
			URL:        vs.Qdrant.URL,
			APIKey:     apiKey,
			Collection: vs.Qdrant.Collection,
			Distance:   vs.Qdrant.Distance,
			Timeout:    config.Seconds(vs.TimeoutSecs, 15*time.Second),
		}), nil
	case "pgvector":
		if vs.PGVector == nil {
			return nil, errors.New("app: pgvector config missing")
		}
		return pgvector.NewStorage(ctx, pgvector.Config{DSN: vs.PGVector.ResolveDSN(), Table: vs.PGVector.Table})
	case "redis":
		if vs.Redis == nil {
			return nil, errors.New("app: redis config missing")
		}
		return redis.NewStorage(ctx, redis.Config{URL: vs.Redis.URL, Key: vs.Redis.Key})
	default:
		return nil, fmt.Errorf("app: unknown vector store %q", vs.Type)
	}
}

// Server builds the HTTP server over the app's service. A non-empty addr
// overrides server.addr.
func (a *App) Server(log logger.Logger, addr string) *server.Server {
	if addr == "" {
		addr = a.Config.Server.Addr
	}
	return server.New(server.Config{
		Addr:         addr,
		ReadTimeout:  config.Seconds(a.Config.Server.ReadTimeoutSecs, 0),
		WriteTimeout: config.Seconds(a.Config.Server.WriteTimeoutSecs, 0),
	}, a.Service, a.Loader, log)
}

// Close releases the vector store and the catalog.
func (a *App) Close(ctx context.Context) error {
	return errors.Join(a.store.Close(ctx), a.catalog.Close())
}
