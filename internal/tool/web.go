package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nanobot/internal/domain"
)

const (
	webTimeout           = 15 * time.Second
	defaultFetchMaxBytes = 100 * 1024
	fetchMaxOutput       = 10000
	userAgentString      = "nanobot/0.1"
	braveSearchEndpoint  = "https://api.search.brave.com/res/v1/web/search"
)

// WebSearchTool queries the Brave Search API.
type WebSearchTool struct {
	apiKey string
	client *http.Client
}

func NewWebSearchTool(apiKey string) *WebSearchTool {
	return &WebSearchTool{
		apiKey: apiKey,
		client: &http.Client{Timeout: webTimeout},
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Description() string {
	return "Search the web for information. Returns a list of results with titles, URLs and snippets. Use for current events, facts, or anything you're unsure about."
}
func (t *WebSearchTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"query": {Type: "string", Description: "Search query to look up on the web"},
			"count": {Type: "number", Description: "Number of results to return (default 5, max 10)"},
		},
		[]string{"query"},
	)
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query := ArgsString(args, "query")
	if query == "" {
		return "", fmt.Errorf("missing argument: query")
	}
	if t.apiKey == "" {
		return "Web search is not configured. Set tools.web.search_api_key in the config.", nil
	}
	count := getInt(args, "count")
	if count <= 0 {
		count = 5
	}
	if count > 10 {
		count = 10
	}

	endpoint := fmt.Sprintf("%s?q=%s&count=%d", braveSearchEndpoint, url.QueryEscape(query), count)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search API returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed braveResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Web.Results) == 0 {
		return fmt.Sprintf("No results found for: %s", query), nil
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Results for: %s\n\n", query)
	for i, r := range parsed.Web.Results {
		fmt.Fprintf(&out, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(&out, "   %s\n", stripHTMLTags(r.Description))
		}
	}
	return out.String(), nil
}

// Brave Search API response types.
type braveResponse struct {
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// WebFetchTool fetches content from a URL.
type WebFetchTool struct {
	maxBytes int64
	client   *http.Client
}

func NewWebFetchTool(maxBytes int64) *WebFetchTool {
	if maxBytes <= 0 {
		maxBytes = defaultFetchMaxBytes
	}
	return &WebFetchTool{
		maxBytes: maxBytes,
		client:   &http.Client{Timeout: webTimeout},
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }
func (t *WebFetchTool) Description() string {
	return "Fetch the content of a web page by URL. Returns the text content (HTML stripped). Useful for reading articles, documentation, etc."
}
func (t *WebFetchTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"url": {Type: "string", Description: "Full URL to fetch (must start with http:// or https://)"},
		},
		[]string{"url"},
	)
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	rawURL := ArgsString(args, "url")
	if rawURL == "" {
		return "", fmt.Errorf("missing argument: url")
	}

	// Validate URL scheme to prevent SSRF
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported URL scheme: %s (only http/https allowed)", parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgentString)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	text := stripHTMLTags(string(body))
	if len(text) > fetchMaxOutput {
		text = text[:fetchMaxOutput] + "\n... (truncated)"
	}
	return text, nil
}

func getInt(args map[string]any, key string) int {
	if args == nil {
		return 0
	}
	v, ok := args[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

// stripHTMLTags removes HTML tags from a string (simple approach).
func stripHTMLTags(s string) string {
	var result strings.Builder
	inTag := false
	for _, r := range s {
		if r == '<' {
			inTag = true
			continue
		}
		if r == '>' {
			inTag = false
			continue
		}
		if !inTag {
			result.WriteRune(r)
		}
	}
	text := result.String()
	lines := strings.Split(text, "\n")
	var cleaned []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}

var (
	_ domain.Tool = (*WebSearchTool)(nil)
	_ domain.Tool = (*WebFetchTool)(nil)
)
