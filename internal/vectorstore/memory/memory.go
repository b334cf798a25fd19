package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"ragchat/internal/vectorstore"
)

// Storage is a simple in-memory vector store using brute-force cosine similarity.
// The dimension is fixed by the first upsert.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	records   []vectorstore.Record
	norms     []float64
	byID      map[string]int
}

func NewStorage() *Storage {
	return &Storage{byID: make(map[string]int)}
}

func (s *Storage) Upsert(_ context.Context, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dim := s.dimension
	if dim == 0 {
		dim = len(records[0].Embedding)
	}
	for i := range records {
		if len(records[i].Embedding) != dim || dim == 0 {
			return fmt.Errorf("memory: record %q dimension mismatch (got %d want %d)", records[i].ID, len(records[i].Embedding), dim)
		}
	}
	s.dimension = dim
	for _, rec := range records {
		rec.Embedding = append([]float32(nil), rec.Embedding...)
		norm := l2(rec.Embedding)
		if pos, ok := s.byID[rec.ID]; ok {
			s.records[pos] = rec
			s.norms[pos] = norm
			continue
		}
		s.byID[rec.ID] = len(s.records)
		s.records = append(s.records, rec)
		s.norms = append(s.norms, norm)
	}
	return nil
}

func (s *Storage) Search(_ context.Context, vector []float32, opts vectorstore.SearchOptions) ([]vectorstore.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return nil, nil
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("memory: query dimension mismatch (got %d want %d)", len(vector), s.dimension)
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = vectorstore.DefaultTopK
	}
	allowed := sourceSet(opts.Sources)
	qnorm := l2(vector)
	type scored struct {
		pos   int
		score float64
	}
	candidates := make([]scored, 0, len(s.records))
	for i := range s.records {
		if allowed != nil {
			if _, ok := allowed[s.records[i].Source]; !ok {
				continue
			}
		}
		score := cosine(s.records[i].Embedding, vector, s.norms[i], qnorm)
		if opts.MinScore > 0 && score < opts.MinScore {
			continue
		}
		candidates = append(candidates, scored{pos: i, score: score})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if topK > len(candidates) {
		topK = len(candidates)
	}
	matches := make([]vectorstore.Match, 0, topK)
	for _, c := range candidates[:topK] {
		rec := s.records[c.pos]
		matches = append(matches, vectorstore.Match{
			ID:     rec.ID,
			Score:  c.score,
			Text:   rec.Text,
			Source: rec.Source,
			Index:  rec.Index,
		})
	}
	return matches, nil
}

// ListBySource pages through matching ids in insertion order; the cursor
// is the position to resume from.
func (s *Storage) ListBySource(_ context.Context, sources []string, cursor string, limit int) (vectorstore.Page, error) {
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return vectorstore.Page{}, fmt.Errorf("memory: invalid cursor %q", cursor)
		}
		start = n
	}
	if limit <= 0 {
		limit = 256
	}
	allowed := sourceSet(sources)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var page vectorstore.Page
	for i := start; i < len(s.records); i++ {
		if allowed != nil {
			if _, ok := allowed[s.records[i].Source]; !ok {
				continue
			}
		}
		if len(page.IDs) == limit {
			page.Next = strconv.Itoa(i)
			break
		}
		page.IDs = append(page.IDs, s.records[i].ID)
	}
	return page, nil
}

func (s *Storage) Delete(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := s.records[:0]
	norms := s.norms[:0]
	byID := make(map[string]int, len(s.records))
	for i, rec := range s.records {
		if _, ok := drop[rec.ID]; ok {
			continue
		}
		byID[rec.ID] = len(kept)
		kept = append(kept, rec)
		norms = append(norms, s.norms[i])
	}
	s.records = kept
	s.norms = norms
	s.byID = byID
	return nil
}

// Len reports the number of stored entries.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Storage) Close(context.Context) error { return nil }

func sourceSet(sources []string) map[string]struct{} {
	if len(sources) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		m[src] = struct{}{}
	}
	return m
}

func l2(v []float32) float64 {
	sum := 0.0
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a, b []float32, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	sum := 0.0
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum / (na * nb)
}
