package domain

import (
	"context"
	"time"
)

// Document is a single uploaded file after decoding. It lives only for the
// duration of the ingestion request.
type Document struct {
	Name      string
	Extension string
	Size      int64
	Content   string
}

// Chunk is a bounded slice of a document's text used for indexing.
// Source is always the human-supplied file name.
type Chunk struct {
	Source string
	Text   string
	Index  int
}

// Hit is a chunk returned by the vector index for a query.
type Hit struct {
	Source string  `json:"source"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Index  int     `json:"chunk_index"`
}

// WebResult is a single result returned by the web search tool.
type WebResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SourceEntry describes an ingested source in the catalog.
type SourceEntry struct {
	Source        string    `json:"source"`
	SizeBytes     int64     `json:"size_bytes"`
	ContentLength int       `json:"content_length"`
	ChunkCount    int       `json:"chunk_count"`
	IngestedAt    time.Time `json:"ingested_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Embedder converts text into fixed-length vectors.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces answers for an assembled prompt.
type Generator interface {
	Invoke(ctx context.Context, prompt string) (string, error)
	Stream(ctx context.Context, prompt string, onFragment func(string) error) error
}

// WebSearcher looks up a free-text question on the web.
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]WebResult, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
