package vectorstore

import (
	"context"
	"errors"
)

// ErrNotFound reports that the backing collection, table or key does not
// exist yet. Lookups and deletes treat it as an empty index.
var ErrNotFound = errors.New("vectorstore: index not found")

// Record is one chunk persisted to the store.
type Record struct {
	ID        string
	Text      string
	Source    string
	Index     int
	Embedding []float32
}

// SearchOptions controls similarity search. Sources, when non-empty,
// restricts matches to entries whose source is one of the listed names.
type SearchOptions struct {
	TopK     int
	Sources  []string
	MinScore float64
}

// Match is a similarity search result.
type Match struct {
	ID     string
	Score  float64
	Text   string
	Source string
	Index  int
}

// Page is one page of entry ids found by source lookup. Next is empty
// when there are no more pages.
type Page struct {
	IDs  []string
	Next string
}

// Storage persists vectors and supports similarity search.
type Storage interface {
	Upsert(ctx context.Context, records []Record) error
	Search(ctx context.Context, vector []float32, opts SearchOptions) ([]Match, error)
	// ListBySource returns ids of entries whose source exactly matches one
	// of sources, starting at cursor ("" for the first page).
	ListBySource(ctx context.Context, sources []string, cursor string, limit int) (Page, error)
	Delete(ctx context.Context, ids []string) error
	Close(ctx context.Context) error
}

// DefaultTopK applies when SearchOptions.TopK is not positive.
const DefaultTopK = 5
