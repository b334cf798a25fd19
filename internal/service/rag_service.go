// Package service orchestrates ingestion and retrieval-augmented answering.
package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"ragchat/internal/catalog"
	"ragchat/internal/chunker"
	"ragchat/internal/domain"
	"ragchat/internal/generation"
	"ragchat/internal/index"
	"ragchat/internal/logger"
	"ragchat/internal/prompt"
)

// Deps are the components a RAGService drives. Web and Summarizer are optional.
type Deps struct {
	Index      *index.Index
	Chunker    *chunker.RecursiveChunker
	Catalog    *catalog.Store
	Models     *generation.Registry
	Web        domain.WebSearcher
	Summarizer domain.Summarizer
}

// Options tunes a RAGService. Zero values take defaults.
type Options struct {
	RetrievalTimeout time.Duration
	SummarySentences int
}

// RAGService ingests documents and answers questions over them.
type RAGService struct {
	deps Deps
	opts Options
}

// NewRAGService creates a service over deps.
func NewRAGService(deps Deps, opts Options) *RAGService {
	if opts.SummarySentences <= 0 {
		opts.SummarySentences = 3
	}
	return &RAGService{deps: deps, opts: opts}
}

// FileResult reports the outcome of ingesting one document.
type FileResult struct {
	Status           string `json:"status"`
	FileName         string `json:"file_name"`
	FileSize         int64  `json:"file_size"`
	ContentLength    int    `json:"content_length"`
	ChunkCount       int    `json:"chunk_count"`
	ReplacedPrevious bool   `json:"replaced_previous"`
}

// Ingest replaces the indexed chunks of every document, in order. Documents
// must already be validated and decoded; a failure stops at that document.
func (s *RAGService) Ingest(ctx context.Context, docs []domain.Document) ([]FileResult, error) {
	results := make([]FileResult, 0, len(docs))
	for _, doc := range docs {
		res, err := s.ingestOne(ctx, doc)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *RAGService) ingestOne(ctx context.Context, doc domain.Document) (FileResult, error) {
	log := logger.FromContext(ctx).With("source", doc.Name)
	written, removed, err := s.deps.Index.Replace(ctx, doc.Name, s.deps.Chunker.Chunk(doc))
	if err != nil {
		return FileResult{}, err
	}

	res := FileResult{
		Status:           "success",
		FileName:         doc.Name,
		FileSize:         doc.Size,
		ContentLength:    utf8.RuneCountInString(doc.Content),
		ChunkCount:       written,
		ReplacedPrevious: removed > 0,
	}
	if _, err := s.deps.Catalog.Record(ctx, domain.SourceEntry{
		Source:        doc.Name,
		SizeBytes:     doc.Size,
		ContentLength: res.ContentLength,
		ChunkCount:    written,
	}); err != nil {
		log.Warn("catalog record failed", "error", err)
	}
	log.Info("ingested document", "chunks", written, "removed", removed)
	return res, nil
}

// Summarize builds an extractive summary over all documents.
func (s *RAGService) Summarize(docs []domain.Document) (string, error) {
	if s.deps.Summarizer == nil {
		return "", nil
	}
	var all strings.Builder
	for _, d := range docs {
		all.WriteString(d.Content)
		all.WriteString("\n")
	}
	return s.deps.Summarizer.Summarize(all.String(), s.opts.SummarySentences)
}

type QueryRequest struct {
	Model   string
	Message string
	Sources []string
}

// Prepared is a validated query with its prompt assembled, ready to be
// answered once.
type Prepared struct {
	Prompt string
	Model  string
	Hits   []domain.Hit
	Web    []domain.WebResult

	generator *generation.Generator
}

// Prepare validates the request, retrieves context and assembles the
// prompt. The model and message are checked before any external call.
func (s *RAGService) Prepare(ctx context.Context, req QueryRequest) (*Prepared, error) {
	gen, err := s.deps.Models.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, domain.Errorf(domain.KindInvalidRequest, "message must not be empty")
	}
	log := logger.FromContext(ctx)

	sources := cleanSources(req.Sources)
	hits, err := s.retrieve(ctx, message, sources)
	if err != nil {
		log.Warn("retrieval failed, answering without context", "error", err)
		hits = nil
	}

	var web []domain.WebResult
	if s.deps.Web != nil {
		web, err = s.deps.Web.Search(ctx, message)
		if err != nil {
			log.Warn("web search failed", "error", err)
			web = nil
		}
	}

	text, err := prompt.Build(prompt.Input{Question: message, Hits: hits, Web: web})
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "assemble prompt")
	}
	log.Debug("prepared query", "model", req.Model, "hits", len(hits), "web_results", len(web), "sources", len(sources))
	return &Prepared{
		Prompt:    text,
		Model:     strings.TrimSpace(req.Model),
		Hits:      hits,
		Web:       web,
		generator: gen,
	}, nil
}

func (s *RAGService) retrieve(ctx context.Context, message string, sources []string) ([]domain.Hit, error) {
	if s.opts.RetrievalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RetrievalTimeout)
		defer cancel()
	}
	return s.deps.Index.Search(ctx, message, sources)
}

// Answer is the blocking query response.
type Answer struct {
	Prompt            string             `json:"prompt"`
	Answer            string             `json:"answer"`
	Model             string             `json:"model"`
	KnowledgeBaseHits int                `json:"knowledge_base_hits"`
	RetrievedChunks   []domain.Hit       `json:"retrieved_chunks,omitempty"`
	WebResults        []domain.WebResult `json:"web_results,omitempty"`
}

func (s *RAGService) Answer(ctx context.Context, req QueryRequest) (*Answer, error) {
	prep, err := s.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	text, err := prep.generator.Invoke(ctx, prep.Prompt)
	if err != nil {
		return nil, err
	}
	return &Answer{
		Prompt:            prep.Prompt,
		Answer:            text,
		Model:             prep.Model,
		KnowledgeBaseHits: len(prep.Hits),
		RetrievedChunks:   prep.Hits,
		WebResults:        prep.Web,
	}, nil
}

const (
	EventMetadata = "metadata"
	EventToken    = "token"
	EventError    = "error"
	EventDone     = "done"
)

// Metadata opens every stream.
type Metadata struct {
	Prompt            string             `json:"prompt"`
	Model             string             `json:"model"`
	KnowledgeBaseHits int                `json:"knowledge_base_hits"`
	RetrievedChunks   []domain.Hit       `json:"retrieved_chunks"`
	WebResults        []domain.WebResult `json:"web_results,omitempty"`
}

// Event is one streamed message. Metadata is only set on the first event.
type Event struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Detail  string `json:"detail,omitempty"`
	*Metadata
}

// StreamPrepared emits metadata, then one token event per fragment, then
// exactly one done or error event. An error returned by emit aborts the
// stream without a terminal event.
func (s *RAGService) StreamPrepared(ctx context.Context, prep *Prepared, emit func(Event) error) error {
	hits := prep.Hits
	if hits == nil {
		hits = []domain.Hit{}
	}
	if err := emit(Event{Type: EventMetadata, Metadata: &Metadata{
		Prompt:            prep.Prompt,
		Model:             prep.Model,
		KnowledgeBaseHits: len(prep.Hits),
		RetrievedChunks:   hits,
		WebResults:        prep.Web,
	}}); err != nil {
		return err
	}

	var emitErr error
	err := prep.generator.Stream(ctx, prep.Prompt, func(fragment string) error {
		if err := emit(Event{Type: EventToken, Content: fragment}); err != nil {
			emitErr = err
			return err
		}
		return nil
	})
	if emitErr != nil {
		return emitErr
	}
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		logger.FromContext(ctx).Error("generation failed mid-stream", "error", err)
		if emitErr := emit(Event{Type: EventError, Detail: domain.MessageOf(err)}); emitErr != nil {
			return emitErr
		}
		return err
	}
	return emit(Event{Type: EventDone})
}

// Stream prepares and streams in one call.
func (s *RAGService) Stream(ctx context.Context, req QueryRequest, emit func(Event) error) error {
	prep, err := s.Prepare(ctx, req)
	if err != nil {
		return err
	}
	return s.StreamPrepared(ctx, prep, emit)
}

func (s *RAGService) Models() []string {
	return s.deps.Models.Keys()
}

func (s *RAGService) ListSources(ctx context.Context) ([]domain.SourceEntry, error) {
	return s.deps.Catalog.List(ctx)
}

// DeleteSource removes a source's chunks and catalog entry. It returns
// NotFound when neither existed.
func (s *RAGService) DeleteSource(ctx context.Context, name string) (int, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, domain.Errorf(domain.KindInvalidRequest, "source name must not be empty")
	}
	removed, err := s.deps.Index.DeleteBySource(ctx, []string{name})
	if err != nil {
		return 0, err
	}
	existed, err := s.deps.Catalog.Delete(ctx, name)
	if err != nil {
		return removed, err
	}
	if !existed && removed == 0 {
		return 0, domain.Errorf(domain.KindNotFound, "source %q not found", name)
	}
	logger.FromContext(ctx).Info("deleted source", "source", name, "chunks", removed)
	return removed, nil
}

func cleanSources(sources []string) []string {
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
