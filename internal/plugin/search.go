package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chatdesk/gateway/internal/domain"
	"chatdesk/gateway/internal/toolreg"
)

const (
	searchDefaultTimeout  = 20 * time.Second
	searchMaxResponseSize = 1 << 20
)

var (
	ErrSearchNotConfigured = errors.New("search_tool_not_configured")
	ErrSearchRequestFailed = errors.New("search_tool_request_failed")
)

type WebSearchInput struct {
	Query      string `json:"query" jsonschema:"required,description=Search query"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"description=Number of results to return"`
}

type SearchConfig struct {
	URL        string
	APIKey     string
	MaxResults int
}

// SearchTool posts {query, max_results, ...webSearchOptions} to a JSON search endpoint.
type SearchTool struct {
	cfg    SearchConfig
	client *http.Client
}

func NewSearchTool(cfg SearchConfig, client *http.Client) *SearchTool {
	if client == nil {
		client = &http.Client{Timeout: searchDefaultTimeout}
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	return &SearchTool{cfg: cfg, client: client}
}

func (t *SearchTool) Name() string {
	return "web_search"
}

func (t *SearchTool) Spec() toolreg.Spec {
	return toolreg.Describe[WebSearchInput](t.Name(), "Search the web and return result titles, links and snippets.", toolreg.PrefWebSearch)
}

func (t *SearchTool) Invoke(ctx context.Context, scope domain.RequestScope, input map[string]interface{}) (ToolResult, error) {
	endpoint := strings.TrimSpace(t.cfg.URL)
	if endpoint == "" {
		return ToolResult{}, ErrSearchNotConfigured
	}
	query := strings.TrimSpace(stringFromAny(input["query"]))
	maxResults := intFromAny(input["max_results"])
	if maxResults <= 0 {
		maxResults = t.cfg.MaxResults
	}

	payload := make(map[string]interface{}, len(scope.WebSearchOptions)+2)
	for key, value := range scope.WebSearchOptions {
		payload[key] = value
	}
	payload["query"] = query
	payload["max_results"] = maxResults

	body, err := json.Marshal(payload)
	if err != nil {
		return ToolResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return ToolResult{}, fmt.Errorf("%w: %v", ErrSearchRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(t.cfg.APIKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return ToolResult{}, fmt.Errorf("%w: %v", ErrSearchRequestFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, searchMaxResponseSize))
	if err != nil {
		return ToolResult{}, fmt.Errorf("%w: %v", ErrSearchRequestFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ToolResult{}, fmt.Errorf("%w: status=%d body=%s", ErrSearchRequestFailed, resp.StatusCode, truncateRunes(strings.TrimSpace(string(raw)), 300))
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return ToolResult{}, fmt.Errorf("%w: invalid json: %v", ErrSearchRequestFailed, err)
	}
	return NewToolResult(map[string]interface{}{
		"ok":      true,
		"query":   query,
		"results": decoded,
	}), nil
}
