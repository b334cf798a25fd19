package index

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
	"ragchat/internal/embedding/hashing"
	"ragchat/internal/vectorstore"
	"ragchat/internal/vectorstore/memory"
)

type sliceChunks struct {
	items []domain.Chunk
	pos   int
}

func (s *sliceChunks) Next() (domain.Chunk, bool) {
	if s.pos >= len(s.items) {
		return domain.Chunk{}, false
	}
	s.pos++
	return s.items[s.pos-1], true
}

func (s *sliceChunks) Err() error { return nil }

func chunksFor(source string, texts ...string) *sliceChunks {
	out := &sliceChunks{}
	for i, text := range texts {
		out.items = append(out.items, domain.Chunk{Source: source, Text: text, Index: i})
	}
	return out
}

type countingEmbedder struct {
	domain.Embedder
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	return c.Embedder.Embed(ctx, texts)
}

type failingEmbedder struct{}

func (failingEmbedder) Name() string { return "failing" }
func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("connection refused")
}

type missingStore struct{ vectorstore.Storage }

func (missingStore) Search(context.Context, []float32, vectorstore.SearchOptions) ([]vectorstore.Match, error) {
	return nil, vectorstore.ErrNotFound
}

func (missingStore) ListBySource(context.Context, []string, string, int) (vectorstore.Page, error) {
	return vectorstore.Page{}, vectorstore.ErrNotFound
}

type brokenStore struct{ vectorstore.Storage }

func (brokenStore) Upsert(context.Context, []vectorstore.Record) error { return errors.New("disk full") }
func (brokenStore) Delete(context.Context, []string) error             { return errors.New("disk full") }
func (brokenStore) Search(context.Context, []float32, vectorstore.SearchOptions) ([]vectorstore.Match, error) {
	return nil, errors.New("timeout")
}

// flakyEmbedder fails its failOn-th call.
type flakyEmbedder struct {
	domain.Embedder
	calls  int
	failOn int
}

func (f *flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls == f.failOn {
		return nil, errors.New("runtime restarted")
	}
	return f.Embedder.Embed(ctx, texts)
}

// flakyStore fails its failOn-th upsert.
type flakyStore struct {
	*memory.Storage
	calls  int
	failOn int
}

func (f *flakyStore) Upsert(ctx context.Context, records []vectorstore.Record) error {
	f.calls++
	if f.calls == f.failOn {
		return errors.New("disk full")
	}
	return f.Storage.Upsert(ctx, records)
}

func newHashing(t *testing.T) domain.Embedder {
	t.Helper()
	e, err := hashing.NewEmbedder(128)
	require.NoError(t, err)
	return e
}

func TestK(t *testing.T) {
	ix := New(newHashing(t), memory.NewStorage(), Options{MinK: 3, PerSourceK: 3})
	assert.Equal(t, 3, ix.K(0))
	assert.Equal(t, 3, ix.K(1))
	assert.Equal(t, 6, ix.K(2))
	assert.Equal(t, 15, ix.K(5))
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()

	t.Run("Should embed in batches and store every chunk", func(t *testing.T) {
		store := memory.NewStorage()
		emb := &countingEmbedder{Embedder: newHashing(t)}
		ix := New(emb, store, Options{BatchSize: 2})
		n, err := ix.Upsert(ctx, chunksFor("a.txt", "one", "two", "three", "four", "five"))
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.Equal(t, 3, emb.calls)
		assert.Equal(t, 5, store.Len())
	})

	t.Run("Should map embedder failures", func(t *testing.T) {
		ix := New(failingEmbedder{}, memory.NewStorage(), Options{})
		_, err := ix.Upsert(ctx, chunksFor("a.txt", "one"))
		assert.ErrorIs(t, err, domain.ErrEmbeddingServiceUnavailable)
	})

	t.Run("Should map store failures", func(t *testing.T) {
		ix := New(newHashing(t), brokenStore{}, Options{})
		_, err := ix.Upsert(ctx, chunksFor("a.txt", "one"))
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	})
}

func TestReplace(t *testing.T) {
	ctx := context.Background()
	apples := []string{"apple one", "apple two", "apple three", "apple four"}
	pears := []string{"pear one", "pear two", "pear three", "pear four", "pear five", "pear six"}

	texts := func(t *testing.T, ix *Index, source string) []string {
		t.Helper()
		hits, err := ix.Search(ctx, "fruit", []string{source})
		require.NoError(t, err)
		out := make([]string, len(hits))
		for i, h := range hits {
			out[i] = h.Text
		}
		return out
	}

	t.Run("Should swap the chunks of one source", func(t *testing.T) {
		store := memory.NewStorage()
		ix := New(newHashing(t), store, Options{BatchSize: 2, MinK: 10})
		_, err := ix.Upsert(ctx, chunksFor("a.txt", apples...))
		require.NoError(t, err)
		_, err = ix.Upsert(ctx, chunksFor("b.txt", "keep me"))
		require.NoError(t, err)

		written, removed, err := ix.Replace(ctx, "a.txt", chunksFor("a.txt", "pear one", "pear two"))
		require.NoError(t, err)
		assert.Equal(t, 2, written)
		assert.Equal(t, 4, removed)
		assert.Equal(t, 3, store.Len())
		assert.ElementsMatch(t, []string{"pear one", "pear two"}, texts(t, ix, "a.txt"))
	})

	t.Run("Should keep the previous version when embedding fails midway", func(t *testing.T) {
		store := memory.NewStorage()
		emb := &flakyEmbedder{Embedder: newHashing(t)}
		ix := New(emb, store, Options{BatchSize: 2, MinK: 10})
		_, err := ix.Upsert(ctx, chunksFor("a.txt", apples...))
		require.NoError(t, err)

		emb.failOn = emb.calls + 3
		_, _, err = ix.Replace(ctx, "a.txt", chunksFor("a.txt", pears...))
		assert.ErrorIs(t, err, domain.ErrEmbeddingServiceUnavailable)
		assert.Equal(t, 4, store.Len())
		assert.ElementsMatch(t, apples, texts(t, ix, "a.txt"))
	})

	t.Run("Should remove its own partial write when the store fails", func(t *testing.T) {
		store := &flakyStore{Storage: memory.NewStorage()}
		ix := New(newHashing(t), store, Options{BatchSize: 2, MinK: 10})
		_, err := ix.Upsert(ctx, chunksFor("b.txt", "keep me"))
		require.NoError(t, err)

		store.failOn = store.calls + 2
		_, _, err = ix.Replace(ctx, "a.txt", chunksFor("a.txt", pears...))
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.Equal(t, 1, store.Len())
		assert.Empty(t, texts(t, ix, "a.txt"))
	})
}

func TestDeleteBySource(t *testing.T) {
	ctx := context.Background()

	t.Run("Should remove only exact source matches across pages", func(t *testing.T) {
		store := memory.NewStorage()
		ix := New(newHashing(t), store, Options{PageSize: 2})
		var texts []string
		for i := 0; i < 7; i++ {
			texts = append(texts, fmt.Sprintf("chunk number %d", i))
		}
		_, err := ix.Upsert(ctx, chunksFor("a.txt", texts...))
		require.NoError(t, err)
		_, err = ix.Upsert(ctx, chunksFor("a.txt.bak", "keep me"))
		require.NoError(t, err)
		_, err = ix.Upsert(ctx, chunksFor("b.txt", "keep me too"))
		require.NoError(t, err)

		removed, err := ix.DeleteBySource(ctx, []string{"a.txt", "a.txt"})
		require.NoError(t, err)
		assert.Equal(t, 7, removed)
		assert.Equal(t, 2, store.Len())
	})

	t.Run("Should treat a missing index as empty", func(t *testing.T) {
		ix := New(newHashing(t), missingStore{}, Options{})
		removed, err := ix.DeleteBySource(ctx, []string{"a.txt"})
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("Should remove nothing for unknown sources", func(t *testing.T) {
		store := memory.NewStorage()
		ix := New(newHashing(t), store, Options{})
		_, err := ix.Upsert(ctx, chunksFor("a.txt", "hello"))
		require.NoError(t, err)
		removed, err := ix.DeleteBySource(ctx, []string{"zzz.txt"})
		require.NoError(t, err)
		assert.Zero(t, removed)
		assert.Equal(t, 1, store.Len())
	})
}

func TestSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("Should restrict hits to the requested sources", func(t *testing.T) {
		ix := New(newHashing(t), memory.NewStorage(), Options{})
		_, err := ix.Upsert(ctx, chunksFor("france.txt", "Paris is the capital of France."))
		require.NoError(t, err)
		_, err = ix.Upsert(ctx, chunksFor("fruit.txt", "Bananas grow in tropical climates.", "Apples grow in orchards."))
		require.NoError(t, err)

		hits, err := ix.Search(ctx, "capital of France", []string{"fruit.txt"})
		require.NoError(t, err)
		require.Len(t, hits, 2)
		for _, h := range hits {
			assert.Equal(t, "fruit.txt", h.Source)
		}
	})

	t.Run("Should return fewer than k hits without error", func(t *testing.T) {
		ix := New(newHashing(t), memory.NewStorage(), Options{})
		_, err := ix.Upsert(ctx, chunksFor("france.txt", "Paris is the capital of France."))
		require.NoError(t, err)
		hits, err := ix.Search(ctx, "capital of France", nil)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "france.txt", hits[0].Source)
		assert.Equal(t, "Paris is the capital of France.", hits[0].Text)
	})

	t.Run("Should rank the most similar chunk first", func(t *testing.T) {
		ix := New(newHashing(t), memory.NewStorage(), Options{})
		_, err := ix.Upsert(ctx, chunksFor("mixed.txt",
			"Bananas grow in tropical climates.",
			"Paris is the capital of France.",
			"Rust and Go are programming languages."))
		require.NoError(t, err)
		hits, err := ix.Search(ctx, "What is the capital of France?", nil)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, "Paris is the capital of France.", hits[0].Text)
		for i := 1; i < len(hits); i++ {
			assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
		}
	})

	t.Run("Should drop matches below the minimum score", func(t *testing.T) {
		ix := New(newHashing(t), memory.NewStorage(), Options{MinScore: 0.99})
		_, err := ix.Upsert(ctx, chunksFor("mixed.txt",
			"Paris is the capital of France.",
			"Bananas grow in tropical climates."))
		require.NoError(t, err)
		hits, err := ix.Search(ctx, "Paris is the capital of France.", nil)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "Paris is the capital of France.", hits[0].Text)
	})

	t.Run("Should treat a missing index as no hits", func(t *testing.T) {
		ix := New(newHashing(t), missingStore{}, Options{})
		hits, err := ix.Search(ctx, "anything", nil)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("Should map store failures", func(t *testing.T) {
		ix := New(newHashing(t), brokenStore{}, Options{})
		_, err := ix.Search(ctx, "anything", nil)
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	})
}
