package plugin

import (
	"context"
	"fmt"
	"strings"

	"chatdesk/gateway/internal/domain"
	"chatdesk/gateway/internal/toolreg"
	"chatdesk/gateway/internal/workspace"
)

const (
	findDefaultLimit = 20
	findMaxLimit     = 200
)

type ListFilesInput struct {
	Dir string `json:"dir,omitempty" jsonschema:"description=Workspace folder to list; defaults to the root"`
}

type SearchFilesInput struct {
	Query string `json:"query" jsonschema:"required,description=Fuzzy file name or path fragment"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum matches (default 20)"`
}

type ListFilesTool struct {
	ws *workspace.Workspace
}

func NewListFilesTool(ws *workspace.Workspace) *ListFilesTool {
	return &ListFilesTool{ws: ws}
}

func (t *ListFilesTool) Name() string {
	return "list_files"
}

func (t *ListFilesTool) Spec() toolreg.Spec {
	return toolreg.Describe[ListFilesInput](t.Name(), "List files in the user's workspace.", toolreg.PrefReadFile)
}

func (t *ListFilesTool) Invoke(_ context.Context, _ domain.RequestScope, input map[string]interface{}) (ToolResult, error) {
	files, err := t.ws.List(stringFromAny(input["dir"]))
	if err != nil {
		return ToolResult{}, err
	}
	lines := make([]string, 0, len(files))
	for _, f := range files {
		lines = append(lines, fmt.Sprintf("%s (%d bytes)", f.Path, f.Size))
	}
	return NewToolResult(map[string]interface{}{
		"ok":    true,
		"count": len(files),
		"files": files,
		"text":  strings.Join(lines, "\n"),
	}), nil
}

type SearchFilesTool struct {
	ws *workspace.Workspace
}

func NewSearchFilesTool(ws *workspace.Workspace) *SearchFilesTool {
	return &SearchFilesTool{ws: ws}
}

func (t *SearchFilesTool) Name() string {
	return "search_files"
}

func (t *SearchFilesTool) Spec() toolreg.Spec {
	return toolreg.Describe[SearchFilesInput](t.Name(), "Find workspace files whose path fuzzily matches a query.", toolreg.PrefReadFile)
}

func (t *SearchFilesTool) Invoke(_ context.Context, _ domain.RequestScope, input map[string]interface{}) (ToolResult, error) {
	query := strings.TrimSpace(stringFromAny(input["query"]))
	limit := intFromAny(input["limit"])
	if limit <= 0 {
		limit = findDefaultLimit
	}
	if limit > findMaxLimit {
		limit = findMaxLimit
	}
	matches, err := t.ws.Search(query, limit)
	if err != nil {
		return ToolResult{}, err
	}
	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		paths = append(paths, m.Path)
	}
	text := strings.Join(paths, "\n")
	if len(paths) == 0 {
		text = fmt.Sprintf("no files match %q", query)
	}
	return NewToolResult(map[string]interface{}{
		"ok":      true,
		"query":   query,
		"count":   len(matches),
		"matches": matches,
		"text":    text,
	}), nil
}
