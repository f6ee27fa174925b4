package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatdesk/gateway/internal/domain"
	"chatdesk/gateway/internal/toolreg"
)

const (
	fetchDefaultTimeout = 30 * time.Second
	fetchMaxBodyBytes   = 64 * 1024
)

var (
	ErrFetchURLInvalid    = errors.New("fetch_tool_url_invalid")
	ErrFetchRequestFailed = errors.New("fetch_tool_request_failed")
)

type FetchURLInput struct {
	URL string `json:"url" jsonschema:"required,description=Absolute http or https URL to fetch"`
}

// FetchTool retrieves a web page for the model. It backs the browser preference.
type FetchTool struct {
	client *http.Client
}

func NewFetchTool(client *http.Client) *FetchTool {
	if client == nil {
		client = &http.Client{Timeout: fetchDefaultTimeout}
	}
	return &FetchTool{client: client}
}

func (t *FetchTool) Name() string {
	return "fetch_url"
}

func (t *FetchTool) Spec() toolreg.Spec {
	return toolreg.Describe[FetchURLInput](t.Name(), "Fetch a web page and return the beginning of its body as text.", toolreg.PrefBrowser)
}

func (t *FetchTool) Invoke(ctx context.Context, _ domain.RequestScope, input map[string]interface{}) (ToolResult, error) {
	raw := strings.TrimSpace(stringFromAny(input["url"]))
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return ToolResult{}, fmt.Errorf("%w: %q", ErrFetchURLInvalid, raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return ToolResult{}, fmt.Errorf("%w: %v", ErrFetchRequestFailed, err)
	}
	req.Header.Set("User-Agent", "chatdesk-gateway/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return ToolResult{}, fmt.Errorf("%w: %v", ErrFetchRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBodyBytes+1))
	if err != nil {
		return ToolResult{}, fmt.Errorf("%w: %v", ErrFetchRequestFailed, err)
	}
	truncated := len(body) > fetchMaxBodyBytes
	if truncated {
		body = body[:fetchMaxBodyBytes]
	}
	return NewToolResult(map[string]interface{}{
		"ok":           resp.StatusCode >= 200 && resp.StatusCode < 300,
		"url":          parsed.String(),
		"status":       resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"truncated":    truncated,
		"text":         string(body),
	}), nil
}
