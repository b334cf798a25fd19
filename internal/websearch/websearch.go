// Package websearch queries a SearXNG-compatible search service.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"ragchat/internal/domain"
)

type Config struct {
	URL        string
	MaxResults int
	Timeout    time.Duration
}

// Client implements domain.WebSearcher.
type Client struct {
	http       *resty.Client
	maxResults int
}

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func New(cfg Config) *Client {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	http := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: http, maxResults: cfg.MaxResults}
}

// Search returns at most MaxResults results for query, in the order the
// service ranked them. Results without a URL are skipped.
func (c *Client) Search(ctx context.Context, query string) ([]domain.WebResult, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"q": query, "format": "json"}).
		Get("/search")
	if err != nil {
		return nil, domain.Wrap(domain.KindWebSearchService, err, "web search unavailable")
	}
	if resp.IsError() {
		return nil, domain.Wrap(domain.KindWebSearchService,
			fmt.Errorf("websearch: status %d", resp.StatusCode()), "web search unavailable")
	}
	var decoded searchResponse
	if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
		return nil, domain.Wrap(domain.KindWebSearchService,
			fmt.Errorf("websearch: decode response: %w", err), "web search unavailable")
	}
	out := make([]domain.WebResult, 0, c.maxResults)
	for _, r := range decoded.Results {
		if len(out) == c.maxResults {
			break
		}
		if strings.TrimSpace(r.URL) == "" {
			continue
		}
		out = append(out, domain.WebResult{
			Title:   strings.TrimSpace(r.Title),
			URL:     r.URL,
			Snippet: strings.TrimSpace(r.Content),
		})
	}
	return out, nil
}
