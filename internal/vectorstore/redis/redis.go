package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"ragchat/internal/vectorstore"
)

const (
	attrSource = "source"
	defaultKey = "ragchat_vectors"
)

type Config struct {
	URL string
	Key string
}

// Storage keeps chunks in a single Redis vector set. Text, source and
// chunk index live in the element's JSON attributes; the source filter is
// evaluated by VSIM's FILTER expression.
type Storage struct {
	client *goredis.Client
	key    string
}

type attributes struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Index  int    `json:"chunk_index"`
}

func NewStorage(ctx context.Context, cfg Config) (*Storage, error) {
	opt, err := goredis.ParseURL(strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("redis: invalid url: %w", err)
	}
	opt.Protocol = 3
	opt.UnstableResp3 = true
	client := goredis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		key = defaultKey
	}
	return &Storage{client: client, key: key}, nil
}

func (r *Storage) Upsert(ctx context.Context, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	dim := len(records[0].Embedding)
	pipe := r.client.Pipeline()
	for _, rec := range records {
		if len(rec.Embedding) != dim || dim == 0 {
			return fmt.Errorf("redis: record %q dimension mismatch", rec.ID)
		}
		pipe.VAdd(ctx, r.key, rec.ID, &goredis.VectorValues{Val: toFloat64(rec.Embedding)})
		pipe.VSetAttr(ctx, r.key, rec.ID, attributes{Text: rec.Text, Source: rec.Source, Index: rec.Index})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: upsert pipeline: %w", err)
	}
	return nil
}

func (r *Storage) Search(ctx context.Context, vector []float32, opts vectorstore.SearchOptions) ([]vectorstore.Match, error) {
	count := opts.TopK
	if count <= 0 {
		count = vectorstore.DefaultTopK
	}
	args := &goredis.VSimArgs{Count: int64(count), Filter: buildFilter(opts.Sources)}
	results, err := r.client.VSimWithArgsWithScores(ctx, r.key, &goredis.VectorValues{Val: toFloat64(vector)}, args).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) || isMissingKey(err) {
			return nil, fmt.Errorf("redis key %q: %w", r.key, vectorstore.ErrNotFound)
		}
		return nil, fmt.Errorf("redis: similarity search: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	pipe := r.client.Pipeline()
	attrCmds := make([]*goredis.StringCmd, len(results))
	for i := range results {
		attrCmds[i] = pipe.VGetAttr(ctx, r.key, results[i].Name)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("redis: fetch attributes: %w", err)
	}
	payloads := make([]string, len(results))
	for i, cmd := range attrCmds {
		raw, err := cmd.Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("redis: read attributes for %q: %w", results[i].Name, err)
		}
		payloads[i] = raw
	}
	return buildMatches(results, payloads, opts.MinScore)
}

// ListBySource collects every element matching the filter and serves it in
// pages; the cursor is the offset into the sorted id list.
func (r *Storage) ListBySource(ctx context.Context, sources []string, cursor string, limit int) (vectorstore.Page, error) {
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return vectorstore.Page{}, fmt.Errorf("redis: invalid cursor %q", cursor)
		}
		offset = n
	}
	if limit <= 0 {
		limit = 256
	}
	total, err := r.client.VCard(ctx, r.key).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return vectorstore.Page{}, fmt.Errorf("redis: vcard: %w", err)
	}
	if total == 0 {
		return vectorstore.Page{}, nil
	}
	dim, err := r.client.VDim(ctx, r.key).Result()
	if err != nil {
		return vectorstore.Page{}, fmt.Errorf("redis: vdim: %w", err)
	}
	args := &goredis.VSimArgs{Count: total, Filter: buildFilter(sources)}
	names, err := r.client.VSimWithArgs(ctx, r.key, &goredis.VectorValues{Val: make([]float64, dim)}, args).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return vectorstore.Page{}, nil
		}
		return vectorstore.Page{}, fmt.Errorf("redis: source lookup: %w", err)
	}
	return paginate(names, offset, limit), nil
}

func (r *Storage) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for _, id := range ids {
		pipe.VRem(ctx, r.key, id)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("redis: delete vectors: %w", err)
	}
	return nil
}

func (r *Storage) Close(context.Context) error {
	return r.client.Close()
}

func paginate(names []string, offset, limit int) vectorstore.Page {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	if offset >= len(sorted) {
		return vectorstore.Page{}
	}
	end := min(offset+limit, len(sorted))
	page := vectorstore.Page{IDs: sorted[offset:end]}
	if end < len(sorted) {
		page.Next = strconv.Itoa(end)
	}
	return page
}

// buildFilter renders `(.source == "a" || .source == "b")`.
func buildFilter(sources []string) string {
	if len(sources) == 0 {
		return ""
	}
	parts := make([]string, 0, len(sources))
	for _, src := range sources {
		parts = append(parts, fmt.Sprintf(`.%s == "%s"`, attrSource, escapeFilterValue(src)))
	}
	return "(" + strings.Join(parts, " || ") + ")"
}

func escapeFilterValue(value string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value)
}

func buildMatches(results []goredis.VectorScore, payloads []string, minScore float64) ([]vectorstore.Match, error) {
	matches := make([]vectorstore.Match, 0, len(results))
	for i, item := range results {
		if minScore > 0 && item.Score < minScore {
			continue
		}
		if i >= len(payloads) || strings.TrimSpace(payloads[i]) == "" {
			continue
		}
		var attrs attributes
		if err := json.Unmarshal([]byte(payloads[i]), &attrs); err != nil {
			return nil, fmt.Errorf("redis: parse attributes for %q: %w", item.Name, err)
		}
		matches = append(matches, vectorstore.Match{
			ID:     item.Name,
			Score:  item.Score,
			Text:   attrs.Text,
			Source: attrs.Source,
			Index:  attrs.Index,
		})
	}
	return matches, nil
}

func isMissingKey(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "key does not exist") || strings.Contains(msg, "no such key")
}

func toFloat64(values []float32) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		out[i] = float64(values[i])
	}
	return out
}
