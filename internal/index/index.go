// Package index is the vector index front-end: it embeds chunks, writes
// them to the configured store and answers similarity queries.
package index

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ragchat/internal/domain"
	"ragchat/internal/logger"
	"ragchat/internal/vectorstore"
)

// Chunks is a finite stream of chunks, such as *chunker.Sequence.
type Chunks interface {
	Next() (domain.Chunk, bool)
	Err() error
}

// Options tunes the index. Zero values take the defaults applied by New.
type Options struct {
	MinK       int
	PerSourceK int
	// MinScore drops matches scoring below it; zero keeps every match.
	MinScore  float64
	BatchSize int
	PageSize  int
	// DeleteWorkers bounds how many sources are purged concurrently.
	DeleteWorkers int
}

// Index embeds chunks into a vector store and searches it.
type Index struct {
	embedder domain.Embedder
	store    vectorstore.Storage
	opts     Options
	newID    func() string
}

// New creates an index over embedder and store.
func New(embedder domain.Embedder, store vectorstore.Storage, opts Options) *Index {
	if opts.MinK <= 0 {
		opts.MinK = 3
	}
	if opts.PerSourceK <= 0 {
		opts.PerSourceK = 3
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 256
	}
	if opts.DeleteWorkers <= 0 {
		opts.DeleteWorkers = 4
	}
	return &Index{
		embedder: embedder,
		store:    store,
		opts:     opts,
		newID:    func() string { return uuid.NewString() },
	}
}

// K is the number of candidates requested for a query naming n sources:
// max(MinK, PerSourceK*n).
func (ix *Index) K(n int) int {
	return max(ix.opts.MinK, ix.opts.PerSourceK*n)
}

// Upsert embeds and stores every chunk and returns the number written.
// Every chunk is embedded before the first write, so an embedding failure
// leaves the store untouched.
func (ix *Index) Upsert(ctx context.Context, chunks Chunks) (int, error) {
	records, err := ix.embed(ctx, chunks)
	if err != nil {
		return 0, err
	}
	return ix.writeOrUndo(ctx, records)
}

// Replace swaps the stored chunks of source for chunks. The old chunks are
// deleted only after the new ones are embedded; a failed write removes
// whatever this call already stored.
func (ix *Index) Replace(ctx context.Context, source string, chunks Chunks) (written, removed int, err error) {
	records, err := ix.embed(ctx, chunks)
	if err != nil {
		return 0, 0, err
	}
	removed, err = ix.DeleteBySource(ctx, []string{source})
	if err != nil {
		return 0, removed, err
	}
	written, err = ix.writeOrUndo(ctx, records)
	return written, removed, err
}

func (ix *Index) embed(ctx context.Context, chunks Chunks) ([]vectorstore.Record, error) {
	var records []vectorstore.Record
	batch := make([]domain.Chunk, 0, ix.opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		embedded, err := ix.embedBatch(ctx, batch)
		if err != nil {
			return err
		}
		records = append(records, embedded...)
		batch = batch[:0]
		return nil
	}
	for {
		ch, ok := chunks.Next()
		if !ok {
			break
		}
		batch = append(batch, ch)
		if len(batch) == ix.opts.BatchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := chunks.Err(); err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "split document")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return records, nil
}

func (ix *Index) embedBatch(ctx context.Context, batch []domain.Chunk) ([]vectorstore.Record, error) {
	texts := make([]string, len(batch))
	for i, ch := range batch {
		texts[i] = ch.Text
	}
	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, asKind(domain.KindEmbeddingService, err, "embedding service unavailable")
	}
	if len(vectors) != len(batch) {
		return nil, domain.Errorf(domain.KindEmbeddingService, "embedder returned %d vectors for %d chunks", len(vectors), len(batch))
	}
	records := make([]vectorstore.Record, len(batch))
	for i, ch := range batch {
		records[i] = vectorstore.Record{
			ID:        ix.newID(),
			Text:      ch.Text,
			Source:    ch.Source,
			Index:     ch.Index,
			Embedding: vectors[i],
		}
	}
	return records, nil
}

// writeOrUndo stores records in batches. When a batch fails, the records
// sent so far, the failed batch included, are deleted again.
func (ix *Index) writeOrUndo(ctx context.Context, records []vectorstore.Record) (int, error) {
	for start := 0; start < len(records); start += ix.opts.BatchSize {
		end := min(start+ix.opts.BatchSize, len(records))
		if err := ix.store.Upsert(ctx, records[start:end]); err != nil {
			ix.undo(ctx, records[:end])
			return 0, domain.Wrap(domain.KindStoreUnavailable, err, "vector store unavailable")
		}
	}
	return len(records), nil
}

func (ix *Index) undo(ctx context.Context, records []vectorstore.Record) {
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	if err := ix.store.Delete(context.WithoutCancel(ctx), ids); err != nil {
		logger.FromContext(ctx).Warn("failed to remove partially written chunks", "count", len(ids), "error", err)
	}
}

// DeleteBySource removes every entry whose source exactly matches one of
// sources and returns how many were removed. A missing collection or
// table counts as empty.
func (ix *Index) DeleteBySource(ctx context.Context, sources []string) (int, error) {
	var removed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.DeleteWorkers)
	for _, src := range dedupe(sources) {
		g.Go(func() error {
			n, err := ix.purge(gctx, src)
			removed.Add(int64(n))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return int(removed.Load()), domain.Wrap(domain.KindStoreUnavailable, err, "vector store unavailable")
	}
	return int(removed.Load()), nil
}

func (ix *Index) purge(ctx context.Context, source string) (int, error) {
	var ids []string
	cursor := ""
	for {
		page, err := ix.store.ListBySource(ctx, []string{source}, cursor, ix.opts.PageSize)
		if errors.Is(err, vectorstore.ErrNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		ids = append(ids, page.IDs...)
		if page.Next == "" || len(page.IDs) == 0 {
			break
		}
		cursor = page.Next
	}
	for start := 0; start < len(ids); start += ix.opts.PageSize {
		end := min(start+ix.opts.PageSize, len(ids))
		if err := ix.store.Delete(ctx, ids[start:end]); err != nil {
			return start, err
		}
	}
	if len(ids) > 0 {
		logger.FromContext(ctx).Debug("removed stale chunks", "source", source, "count", len(ids))
	}
	return len(ids), nil
}

// Search returns up to K(len(sources)) hits ordered by descending score.
// Fewer hits than K is not an error.
func (ix *Index) Search(ctx context.Context, query string, sources []string) ([]domain.Hit, error) {
	vectors, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, asKind(domain.KindEmbeddingService, err, "embedding service unavailable")
	}
	if len(vectors) != 1 {
		return nil, domain.Errorf(domain.KindEmbeddingService, "embedder returned %d vectors for the query", len(vectors))
	}
	sources = dedupe(sources)
	matches, err := ix.store.Search(ctx, vectors[0], vectorstore.SearchOptions{
		TopK:     ix.K(len(sources)),
		Sources:  sources,
		MinScore: ix.opts.MinScore,
	})
	if errors.Is(err, vectorstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Wrap(domain.KindStoreUnavailable, err, "vector store unavailable")
	}
	hits := make([]domain.Hit, len(matches))
	for i, m := range matches {
		hits[i] = domain.Hit{Source: m.Source, Text: m.Text, Score: m.Score, Index: m.Index}
	}
	return hits, nil
}

func asKind(kind domain.Kind, err error, message string) error {
	var typed *domain.Error
	if errors.As(err, &typed) {
		return err
	}
	return domain.Wrap(kind, err, message)
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
