package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"ragchat/internal/vectorstore"
)

// Storage is a REST client to a single Qdrant collection. The collection is
// created on the first upsert using the dimension of the incoming vectors.
type Storage struct {
	http       *resty.Client
	collection string
	distance   string

	mu    sync.Mutex
	ready bool
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Distance   string
	Timeout    time.Duration
}

type apiError struct {
	Status struct {
		Error string `json:"error"`
	} `json:"status"`
}

type searchResult struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type scrollResult struct {
	Points []struct {
		ID any `json:"id"`
	} `json:"points"`
	NextPageOffset json.RawMessage `json:"next_page_offset"`
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("api-key", cfg.APIKey)
	}
	return &Storage{
		http:       client,
		collection: cfg.Collection,
		distance:   chooseDistance(cfg.Distance),
	}
}

func chooseDistance(metric string) string {
	switch strings.ToLower(strings.TrimSpace(metric)) {
	case "euclid", "euclidean", "l2":
		return "Euclid"
	case "dot", "dotproduct":
		return "Dot"
	default:
		return "Cosine"
	}
}

func (s *Storage) ensureCollection(ctx context.Context, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	err := s.do(ctx, http.MethodGet, s.path(""), nil, nil)
	if errors.Is(err, vectorstore.ErrNotFound) {
		body := map[string]any{
			"vectors": map[string]any{"size": dimension, "distance": s.distance},
		}
		if err = s.do(ctx, http.MethodPut, s.path(""), body, nil); err != nil {
			return err
		}
		index := map[string]any{"field_name": "source", "field_schema": "keyword"}
		err = s.do(ctx, http.MethodPut, s.path("/index?wait=true"), index, nil)
	}
	if err != nil {
		return err
	}
	s.ready = true
	return nil
}

func (s *Storage) Upsert(ctx context.Context, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	dim := len(records[0].Embedding)
	points := make([]map[string]any, len(records))
	for i, rec := range records {
		if len(rec.Embedding) != dim || dim == 0 {
			return fmt.Errorf("qdrant: record %q dimension mismatch", rec.ID)
		}
		points[i] = map[string]any{
			"id":     rec.ID,
			"vector": rec.Embedding,
			"payload": map[string]any{
				"source":      rec.Source,
				"chunk_index": rec.Index,
				"text":        rec.Text,
			},
		}
	}
	if err := s.ensureCollection(ctx, dim); err != nil {
		return err
	}
	return s.do(ctx, http.MethodPut, s.path("/points?wait=true"), map[string]any{"points": points}, nil)
}

func (s *Storage) Search(ctx context.Context, vector []float32, opts vectorstore.SearchOptions) ([]vectorstore.Match, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = vectorstore.DefaultTopK
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if filter := sourceFilter(opts.Sources); filter != nil {
		req["filter"] = filter
	}
	if opts.MinScore > 0 {
		req["score_threshold"] = opts.MinScore
	}
	var resp struct {
		Result []searchResult `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.path("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	matches := make([]vectorstore.Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		m := vectorstore.Match{ID: fmt.Sprint(r.ID), Score: r.Score}
		if v, ok := r.Payload["text"].(string); ok {
			m.Text = v
		}
		if v, ok := r.Payload["source"].(string); ok {
			m.Source = v
		}
		if v, ok := r.Payload["chunk_index"].(float64); ok {
			m.Index = int(v)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// ListBySource pages with the scroll API; the cursor is Qdrant's raw
// next_page_offset.
func (s *Storage) ListBySource(ctx context.Context, sources []string, cursor string, limit int) (vectorstore.Page, error) {
	if limit <= 0 {
		limit = 256
	}
	req := map[string]any{
		"limit":        limit,
		"with_payload": false,
		"with_vector":  false,
	}
	if filter := sourceFilter(sources); filter != nil {
		req["filter"] = filter
	}
	if cursor != "" {
		req["offset"] = json.RawMessage(cursor)
	}
	var resp struct {
		Result scrollResult `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.path("/points/scroll"), req, &resp); err != nil {
		return vectorstore.Page{}, err
	}
	page := vectorstore.Page{IDs: make([]string, 0, len(resp.Result.Points))}
	for _, p := range resp.Result.Points {
		page.IDs = append(page.IDs, fmt.Sprint(p.ID))
	}
	if next := strings.TrimSpace(string(resp.Result.NextPageOffset)); next != "" && next != "null" {
		page.Next = next
	}
	return page, nil
}

func (s *Storage) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.do(ctx, http.MethodPost, s.path("/points/delete?wait=true"), map[string]any{"points": ids}, nil)
	if errors.Is(err, vectorstore.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Storage) Close(context.Context) error { return nil }

func (s *Storage) path(suffix string) string {
	return "/collections/" + s.collection + suffix
}

func sourceFilter(sources []string) map[string]any {
	if len(sources) == 0 {
		return nil
	}
	return map[string]any{
		"must": []any{
			map[string]any{
				"key":   "source",
				"match": map[string]any{"any": sources},
			},
		},
	}
}

func (s *Storage) do(ctx context.Context, method, path string, body any, out any) error {
	req := s.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("qdrant collection %q: %w", s.collection, vectorstore.ErrNotFound)
	}
	if resp.IsError() {
		var apiErr apiError
		if json.Unmarshal(resp.Body(), &apiErr) == nil && apiErr.Status.Error != "" {
			return fmt.Errorf("qdrant %s %s failed (%d): %s", method, path, resp.StatusCode(), apiErr.Status.Error)
		}
		return fmt.Errorf("qdrant %s %s failed: %s", method, path, resp.Status())
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("qdrant: decode response: %w", err)
		}
	}
	return nil
}
