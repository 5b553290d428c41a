package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// tavilyUnavailableMessage is surfaced to the model when no API key is set.
const tavilyUnavailableMessage = "Web search isn't available because the Tavily API key is not configured on the server."

// TavilyClient calls the Tavily search API.
type TavilyClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	maxResults int
	logger     zerolog.Logger
}

// TavilyOption customizes a TavilyClient.
type TavilyOption func(*TavilyClient)

// WithTavilyEndpoint overrides the API endpoint, for tests.
func WithTavilyEndpoint(endpoint string) TavilyOption {
	return func(c *TavilyClient) { c.endpoint = endpoint }
}

// WithTavilyHTTPClient overrides the HTTP client.
func WithTavilyHTTPClient(client *http.Client) TavilyOption {
	return func(c *TavilyClient) { c.httpClient = client }
}

// NewTavilyClient creates a Tavily client. An empty apiKey yields a client
// whose tool reports itself unavailable instead of failing requests.
func NewTavilyClient(apiKey string, logger zerolog.Logger, opts ...TavilyOption) *TavilyClient {
	c := &TavilyClient{
		apiKey:     apiKey,
		endpoint:   tavilyEndpoint,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		maxResults: 5,
		logger:     logger.With().Str("component", "websearch").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether an API key is present.
func (c *TavilyClient) Configured() bool {
	return c.apiKey != ""
}

type tavilySearchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

type tavilySearchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search runs a web search and formats the hits as "Title: ...\nContent:
// ..." blocks separated by blank lines.
func (c *TavilyClient) Search(ctx context.Context, query string) (string, error) {
	body, err := json.Marshal(tavilySearchRequest{
		Query:      query,
		MaxResults: c.maxResults,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("search API returned status %d: %s", resp.StatusCode, string(payload))
	}

	var parsed tavilySearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode search response: %w", err)
	}

	if len(parsed.Results) == 0 {
		return "No results found.", nil
	}

	blocks := make([]string, 0, len(parsed.Results))
	for _, result := range parsed.Results {
		blocks = append(blocks, fmt.Sprintf("Title: %s\nContent: %s", result.Title, result.Content))
	}

	c.logger.Debug().
		Str("query", query).
		Int("results", len(parsed.Results)).
		Msg("Web search completed")
	return strings.Join(blocks, "\n\n"), nil
}

// WebSearchTool builds the web_search tool definition over a Tavily client.
func WebSearchTool(client *TavilyClient) Definition {
	return Definition{
		Name:        "web_search",
		Description: "Search the internet for current or unknown information.",
		Parameters: map[string]Parameter{
			"query": {
				Type:        "string",
				Description: "The search query.",
				Required:    true,
			},
		},
		Available:          client.Configured,
		UnavailableMessage: tavilyUnavailableMessage,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			query, _ := args["query"].(string)
			return client.Search(ctx, query)
		},
	}
}
