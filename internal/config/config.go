package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr             string `yaml:"addr"               validate:"required"`
	ReadTimeoutSecs  int    `yaml:"read_timeout_secs"  validate:"gte=0"`
	WriteTimeoutSecs int    `yaml:"write_timeout_secs" validate:"gte=0"`
}

// OllamaConfig holds connection details for the local LLM runtime.
type OllamaConfig struct {
	BaseURL     string `yaml:"base_url"     validate:"required,url"`
	TimeoutSecs int    `yaml:"timeout_secs" validate:"gte=0"`
}

// OllamaEmbedderConfig configures langchaingo's Ollama embedder.
type OllamaEmbedderConfig struct {
	Model     string `yaml:"model"      validate:"required"`
	BatchSize int    `yaml:"batch_size" validate:"gte=0"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL   string `yaml:"base_url"    validate:"required,url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"       validate:"required"`
	BatchSize int    `yaml:"batch_size"  validate:"gte=0"`
}

// HashingEmbedderConfig configures the offline hashing embedder.
type HashingEmbedderConfig struct {
	Dimension int `yaml:"dimension" validate:"gt=0"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type        string                 `yaml:"type"                validate:"oneof=ollama openai hashing"`
	TimeoutSecs int                    `yaml:"timeout_secs"        validate:"gte=0"`
	Ollama      *OllamaEmbedderConfig  `yaml:"ollama,omitempty"`
	OpenAI      *OpenAIEmbedderConfig  `yaml:"openai,omitempty"`
	Hashing     *HashingEmbedderConfig `yaml:"hashing,omitempty"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Size    int `yaml:"size"    validate:"gt=0"`
	Overlap int `yaml:"overlap" validate:"gte=0,ltfield=Size"`
}

// UploadConfig bounds accepted uploads.
type UploadConfig struct {
	MaxBytes          int64    `yaml:"max_bytes"          validate:"gt=0"`
	AllowedExtensions []string `yaml:"allowed_extensions" validate:"min=1,dive,required"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type        string          `yaml:"type"                validate:"oneof=memory qdrant pgvector redis"`
	TimeoutSecs int             `yaml:"timeout_secs"        validate:"gte=0"`
	PageSize    int             `yaml:"page_size"           validate:"gte=0"`
	Qdrant      *QdrantConfig   `yaml:"qdrant,omitempty"`
	PGVector    *PGVectorConfig `yaml:"pgvector,omitempty"`
	Redis       *RedisConfig    `yaml:"redis,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL        string `yaml:"url"        validate:"required,url"`
	APIKeyEnv  string `yaml:"api_key_env"`
	Collection string `yaml:"collection" validate:"required"`
	Distance   string `yaml:"distance"`
}

// PGVectorConfig contains connection details for a postgres/pgvector store.
type PGVectorConfig struct {
	DSNEnv string `yaml:"dsn_env"`
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table" validate:"required"`
}

// RedisConfig contains connection details for a redis vector-set store.
type RedisConfig struct {
	URL string `yaml:"url" validate:"required"`
	Key string `yaml:"key" validate:"required"`
}

// RetrievalConfig controls how many candidates are requested from the index.
type RetrievalConfig struct {
	MinK        int     `yaml:"min_k"        validate:"gt=0"`
	PerSourceK  int     `yaml:"per_source_k" validate:"gt=0"`
	MinScore    float64 `yaml:"min_score"    validate:"gte=0,lte=1"`
	TimeoutSecs int     `yaml:"timeout_secs" validate:"gte=0"`
}

// WebSearchConfig configures the optional web search tool.
type WebSearchConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url"          validate:"omitempty,url"`
	MaxResults  int    `yaml:"max_results"  validate:"gte=0"`
	TimeoutSecs int    `yaml:"timeout_secs" validate:"gte=0"`
}

// CatalogConfig locates the SQLite source catalog.
type CatalogConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// CatalogPath is where the catalog is opened. With the memory vector store
// it is ":memory:", so the catalog never outlives the vectors it lists.
func (c *AppConfig) CatalogPath() string {
	switch c.VectorStore.Type {
	case "memory", "":
		return ":memory:"
	}
	return c.Catalog.Path
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// SummarizerConfig configures the extractive summary printed after CLI ingestion.
type SummarizerConfig struct {
	MaxSentences int `yaml:"max_sentences" validate:"gte=0"`
}

// AppConfig is the root application configuration structure.
// It is loaded once at startup and never mutated afterwards.
type AppConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Models      map[string]string `yaml:"models"       validate:"min=1,dive,keys,required,endkeys,required"`
	Ollama      OllamaConfig      `yaml:"ollama"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Upload      UploadConfig      `yaml:"upload"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	WebSearch   WebSearchConfig   `yaml:"web_search"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Logging     LoggingConfig     `yaml:"logging"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	_ = godotenv.Load()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			return cfg, cfg.Validate()
		}
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	cfg := defaultConfig()
	defaults := cfg.Models
	// yaml.v3 merges into existing maps, so the model table is only defaulted when absent.
	cfg.Models = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if len(cfg.Models) == 0 {
		cfg.Models = defaults
	}
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/ragchat/config.yaml.
// If neither exists, it writes defaults to ~/.config/ragchat/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	_ = godotenv.Load()
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, cfg.Validate()
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks struct constraints and cross-field rules.
func (c *AppConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Embedder.Type {
	case "ollama":
		if c.Embedder.Ollama == nil {
			return errors.New("config: embedder.ollama block is required")
		}
	case "openai":
		if c.Embedder.OpenAI == nil {
			return errors.New("config: embedder.openai block is required")
		}
	case "hashing":
		if c.Embedder.Hashing == nil {
			return errors.New("config: embedder.hashing block is required")
		}
	}
	if c.WebSearch.Enabled && strings.TrimSpace(c.WebSearch.URL) == "" {
		return errors.New("config: web_search.url is required when web search is enabled")
	}
	switch c.VectorStore.Type {
	case "qdrant":
		if c.VectorStore.Qdrant == nil {
			return errors.New("config: vector_store.qdrant block is required")
		}
	case "pgvector":
		if c.VectorStore.PGVector == nil || c.VectorStore.PGVector.ResolveDSN() == "" {
			return errors.New("config: vector_store.pgvector dsn is required")
		}
	case "redis":
		if c.VectorStore.Redis == nil {
			return errors.New("config: vector_store.redis block is required")
		}
	}
	return nil
}

// ModelKeys returns the configured model keys in stable order.
func (c *AppConfig) ModelKeys() []string {
	keys := make([]string, 0, len(c.Models))
	for k := range c.Models {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ResolveDSN prefers the environment variable named by DSNEnv.
func (p *PGVectorConfig) ResolveDSN() string {
	if p == nil {
		return ""
	}
	if p.DSNEnv != "" {
		if v := strings.TrimSpace(os.Getenv(p.DSNEnv)); v != "" {
			return v
		}
	}
	return p.DSN
}

// Seconds converts a seconds field into a duration, using fallback when unset.
func Seconds(secs int, fallback time.Duration) time.Duration {
	if secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ragchat", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Server: ServerConfig{Addr: ":8000"},
		Models: map[string]string{
			"qwen3":   "qwen3:8b",
			"llama3":  "llama3.1:8b",
			"mistral": "mistral:7b",
		},
		Ollama: OllamaConfig{BaseURL: "http://localhost:11434", TimeoutSecs: 120},
		Embedder: EmbedderConfig{
			Type:        "ollama",
			TimeoutSecs: 60,
			Ollama:      &OllamaEmbedderConfig{Model: "nomic-embed-text", BatchSize: 32},
		},
		Chunker:     ChunkerConfig{Size: 1000, Overlap: 200},
		Upload:      UploadConfig{MaxBytes: 1 << 20, AllowedExtensions: []string{"txt", "doc", "docx"}},
		VectorStore: VectorStoreConfig{Type: "memory", TimeoutSecs: 15, PageSize: 256},
		Retrieval:   RetrievalConfig{MinK: 3, PerSourceK: 3, TimeoutSecs: 30},
		WebSearch:   WebSearchConfig{MaxResults: 5, TimeoutSecs: 10},
		Catalog:     CatalogConfig{Path: "ragchat.db"},
		Logging:     LoggingConfig{Level: "info"},
		Summarizer:  SummarizerConfig{MaxSentences: 3},
	}
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI != nil {
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.BatchSize == 0 {
			cfg.Embedder.OpenAI.BatchSize = 32
		}
	}
	if cfg.Embedder.Type == "ollama" && cfg.Embedder.Ollama != nil && cfg.Embedder.Ollama.BatchSize == 0 {
		cfg.Embedder.Ollama.BatchSize = 32
	}
	if cfg.Embedder.Type == "hashing" && cfg.Embedder.Hashing == nil {
		cfg.Embedder.Hashing = &HashingEmbedderConfig{Dimension: 256}
	}
	if cfg.VectorStore.Qdrant != nil && cfg.VectorStore.Qdrant.Distance == "" {
		cfg.VectorStore.Qdrant.Distance = "Cosine"
	}
	if cfg.VectorStore.PageSize == 0 {
		cfg.VectorStore.PageSize = 256
	}
	for i, ext := range cfg.Upload.AllowedExtensions {
		cfg.Upload.AllowedExtensions[i] = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	}
}
