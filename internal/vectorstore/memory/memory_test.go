package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/vectorstore"
)

func TestStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("Should upsert and search by cosine", func(t *testing.T) {
		s := NewStorage()
		require.NoError(t, s.Upsert(ctx, []vectorstore.Record{
			{ID: "a", Text: "alpha", Source: "one.txt", Embedding: []float32{1, 0, 0}},
			{ID: "b", Text: "bravo", Source: "two.txt", Embedding: []float32{0, 2, 0}},
		}))
		matches, err := s.Search(ctx, []float32{3, 0, 0}, vectorstore.SearchOptions{TopK: 1})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "a", matches[0].ID)
		assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
		assert.Equal(t, "one.txt", matches[0].Source)
	})

	t.Run("Should filter by source", func(t *testing.T) {
		s := NewStorage()
		require.NoError(t, s.Upsert(ctx, []vectorstore.Record{
			{ID: "a", Source: "one.txt", Embedding: []float32{1, 0}},
			{ID: "b", Source: "two.txt", Embedding: []float32{0.9, 0.1}},
		}))
		matches, err := s.Search(ctx, []float32{1, 0}, vectorstore.SearchOptions{TopK: 5, Sources: []string{"two.txt"}})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "b", matches[0].ID)
	})

	t.Run("Should order results by descending score", func(t *testing.T) {
		s := NewStorage()
		require.NoError(t, s.Upsert(ctx, []vectorstore.Record{
			{ID: "far", Embedding: []float32{0, 1}},
			{ID: "near", Embedding: []float32{1, 0.1}},
			{ID: "mid", Embedding: []float32{1, 1}},
		}))
		matches, err := s.Search(ctx, []float32{1, 0}, vectorstore.SearchOptions{TopK: 10})
		require.NoError(t, err)
		require.Len(t, matches, 3)
		assert.Equal(t, []string{"near", "mid", "far"}, []string{matches[0].ID, matches[1].ID, matches[2].ID})
	})

	t.Run("Should replace records with the same id", func(t *testing.T) {
		s := NewStorage()
		require.NoError(t, s.Upsert(ctx, []vectorstore.Record{{ID: "a", Text: "old", Embedding: []float32{1, 0}}}))
		require.NoError(t, s.Upsert(ctx, []vectorstore.Record{{ID: "a", Text: "new", Embedding: []float32{1, 0}}}))
		assert.Equal(t, 1, s.Len())
		matches, err := s.Search(ctx, []float32{1, 0}, vectorstore.SearchOptions{})
		require.NoError(t, err)
		assert.Equal(t, "new", matches[0].Text)
	})

	t.Run("Should fail on dimension mismatch", func(t *testing.T) {
		s := NewStorage()
		require.NoError(t, s.Upsert(ctx, []vectorstore.Record{{ID: "a", Embedding: []float32{1, 0}}}))
		require.Error(t, s.Upsert(ctx, []vectorstore.Record{{ID: "b", Embedding: []float32{1, 0, 0}}}))
		_, err := s.Search(ctx, []float32{1, 0, 0}, vectorstore.SearchOptions{})
		require.Error(t, err)
	})

	t.Run("Should return nothing from an empty store", func(t *testing.T) {
		matches, err := NewStorage().Search(ctx, []float32{1}, vectorstore.SearchOptions{})
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("Should page through ids by source and delete them", func(t *testing.T) {
		s := NewStorage()
		var records []vectorstore.Record
		for i := 0; i < 5; i++ {
			records = append(records,
				vectorstore.Record{ID: fmt.Sprintf("a%d", i), Source: "a.txt", Embedding: []float32{1, 0}},
				vectorstore.Record{ID: fmt.Sprintf("b%d", i), Source: "b.txt", Embedding: []float32{0, 1}},
			)
		}
		require.NoError(t, s.Upsert(ctx, records))

		var ids []string
		cursor := ""
		pages := 0
		for {
			page, err := s.ListBySource(ctx, []string{"a.txt"}, cursor, 2)
			require.NoError(t, err)
			ids = append(ids, page.IDs...)
			pages++
			if page.Next == "" {
				break
			}
			cursor = page.Next
		}
		assert.Equal(t, 3, pages)
		assert.Equal(t, []string{"a0", "a1", "a2", "a3", "a4"}, ids)

		require.NoError(t, s.Delete(ctx, ids))
		assert.Equal(t, 5, s.Len())
		page, err := s.ListBySource(ctx, []string{"a.txt"}, "", 10)
		require.NoError(t, err)
		assert.Empty(t, page.IDs)
	})
}
