// Package search retrieves web evidence for answer grounding via the
// Tavily search API. Retrieval failures degrade to an empty result set
// so a search outage never takes the chat pipeline down with it.
package search

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultBaseURL    = "https://api.tavily.com"
	defaultDepth      = "advanced"
	defaultMaxResults = 5
)

// Result is a single ranked search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
	Rank    int    `json:"rank"`
}

// Config holds Tavily client configuration.
type Config struct {
	APIKey     string
	BaseURL    string
	Depth      string
	MaxResults int
	Timeout    time.Duration
}

// ConfigFromEnv builds a Config from TAVILY_API_KEY, SEARCH_DEPTH and
// SEARCH_MAX_RESULTS, with logged defaults for the optional keys.
func ConfigFromEnv() Config {
	cfg := Config{
		APIKey: os.Getenv("TAVILY_API_KEY"),
		Depth:  os.Getenv("SEARCH_DEPTH"),
	}
	if raw := os.Getenv("SEARCH_MAX_RESULTS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			slog.Warn("SEARCH_MAX_RESULTS is invalid, using default", "value", raw, "default", defaultMaxResults)
		} else {
			cfg.MaxResults = n
		}
	}
	return cfg
}

// Client talks to the Tavily /search endpoint.
type Client struct {
	http       *resty.Client
	apiKey     string
	depth      string
	maxResults int
}

// NewClient creates a Tavily search client. Zero-value Config fields
// fall back to defaults (advanced depth, 5 results, 30s timeout).
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Depth == "" {
		cfg.Depth = defaultDepth
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultMaxResults
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	http := resty.New()
	http.SetBaseURL(cfg.BaseURL)
	http.SetTimeout(cfg.Timeout)

	return &Client{
		http:       http,
		apiKey:     cfg.APIKey,
		depth:      cfg.Depth,
		maxResults: cfg.MaxResults,
	}
}

type searchRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
}

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search runs a web search for the query and returns ranked results.
//
// # Description
//
// Posts the query to Tavily with the configured depth and result cap.
// Any failure (transport error, non-2xx status, malformed body) is
// logged and reported as an empty slice; callers proceed without
// evidence rather than failing the turn.
//
// # Inputs
//
//   - ctx: Context for cancellation and deadlines.
//   - query: The (contextualized) search query.
//
// # Outputs
//
//   - []Result: Hits in provider rank order. Never nil on success,
//     empty on any failure.
func (c *Client) Search(ctx context.Context, query string) []Result {
	var body searchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(searchRequest{
			APIKey:      c.apiKey,
			Query:       query,
			SearchDepth: c.depth,
			MaxResults:  c.maxResults,
		}).
		SetResult(&body).
		Post("/search")
	if err != nil {
		slog.Warn("Tavily search failed, continuing without sources", "error", err)
		return []Result{}
	}
	if resp.IsError() {
		slog.Warn("Tavily search returned an error status, continuing without sources",
			"status", resp.StatusCode())
		return []Result{}
	}

	results := make([]Result, 0, len(body.Results))
	for i, r := range body.Results {
		results = append(results, Result{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Content,
			Rank:    i + 1,
		})
	}
	slog.Debug("Tavily search completed", "query_len", len(query), "results", len(results))
	return results
}
