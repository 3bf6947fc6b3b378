package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultTavilyBaseURL is the Tavily API root.
const DefaultTavilyBaseURL = "https://api.tavily.com"

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// TavilyClient calls the Tavily extract and search APIs. It serves both as
// the second extraction strategy and as the research searcher.
type TavilyClient struct {
	apiKey     string
	baseURL    string
	maxResults int
	client     *http.Client
}

var (
	_ Extractor = (*TavilyClient)(nil)
	_ Searcher  = (*TavilyClient)(nil)
)

func NewTavilyClient(apiKey string, client *http.Client) *TavilyClient {
	return &TavilyClient{
		apiKey:     apiKey,
		baseURL:    DefaultTavilyBaseURL,
		maxResults: 3,
		client:     client,
	}
}

// WithBaseURL points the client at another host.
func (t *TavilyClient) WithBaseURL(baseURL string) *TavilyClient {
	t.baseURL = strings.TrimSuffix(baseURL, "/")
	return t
}

func (t *TavilyClient) Name() string { return "tavily-extract" }

type tavilyExtractRequest struct {
	URLs []string `json:"urls"`
}

type tavilyExtractResponse struct {
	Results []struct {
		URL        string `json:"url"`
		RawContent string `json:"raw_content"`
	} `json:"results"`
	FailedResults []struct {
		URL   string `json:"url"`
		Error string `json:"error"`
	} `json:"failed_results"`
}

func (t *TavilyClient) Extract(ctx context.Context, target string) (string, error) {
	var out tavilyExtractResponse
	if err := t.post(ctx, "/extract", tavilyExtractRequest{URLs: []string{target}}, &out); err != nil {
		return "", fmt.Errorf("tavily extract: %w", err)
	}
	if len(out.Results) == 0 {
		if len(out.FailedResults) > 0 && out.FailedResults[0].Error != "" {
			return "", fmt.Errorf("tavily extract failed: %s", out.FailedResults[0].Error)
		}
		return "", fmt.Errorf("tavily extract returned no content")
	}
	text := strings.TrimSpace(out.Results[0].RawContent)
	if len(text) < minSearchChars {
		return "", fmt.Errorf("tavily content too short (%d chars)", len(text))
	}
	return text, nil
}

type tavilySearchRequest struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type tavilySearchResponse struct {
	Results []SearchResult `json:"results"`
}

func (t *TavilyClient) Search(ctx context.Context, query string) ([]SearchResult, error) {
	var out tavilySearchResponse
	req := tavilySearchRequest{Query: query, MaxResults: t.maxResults, SearchDepth: "basic"}
	if err := t.post(ctx, "/search", req, &out); err != nil {
		return nil, fmt.Errorf("tavily search: %w", err)
	}
	return out.Results, nil
}

func (t *TavilyClient) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("error marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", transportError(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("error reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("error parsing response: %w", err)
	}
	return nil
}
