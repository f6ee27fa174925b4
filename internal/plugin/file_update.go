package plugin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatdesk/gateway/internal/domain"
	"chatdesk/gateway/internal/toolreg"
	"chatdesk/gateway/internal/workspace"
)

const updateDiffPreviewLines = 40

var ErrFileModeInvalid = errors.New("file_tool_mode_invalid")

type UpdateFileInput struct {
	Path    string `json:"path" jsonschema:"required,description=Workspace path of an existing file"`
	Content string `json:"content" jsonschema:"required,description=New content or the text to append"`
	Mode    string `json:"mode,omitempty" jsonschema:"enum=overwrite,enum=append,description=overwrite (default) or append"`
}

type FileUpdateTool struct {
	ws *workspace.Workspace
}

func NewFileUpdateTool(ws *workspace.Workspace) *FileUpdateTool {
	return &FileUpdateTool{ws: ws}
}

func (t *FileUpdateTool) Name() string {
	return "update_file"
}

func (t *FileUpdateTool) Spec() toolreg.Spec {
	return toolreg.Describe[UpdateFileInput](t.Name(), "Overwrite or append to an existing workspace file and report a line diff.", "")
}

func (t *FileUpdateTool) Invoke(_ context.Context, _ domain.RequestScope, input map[string]interface{}) (ToolResult, error) {
	mode := strings.ToLower(strings.TrimSpace(stringFromAny(input["mode"])))
	switch mode {
	case "":
		mode = workspace.ModeOverwrite
	case workspace.ModeOverwrite, workspace.ModeAppend:
	default:
		return ToolResult{}, ErrFileModeInvalid
	}
	content := stringFromAny(input["content"])

	target, before, err := t.ws.Update(stringFromAny(input["path"]), []byte(content), mode)
	if err != nil {
		return ToolResult{}, err
	}
	after := content
	if mode == workspace.ModeAppend {
		after = string(before) + content
	}
	diff := workspace.LineDiff(string(before), after, updateDiffPreviewLines)
	return NewToolResult(map[string]interface{}{
		"ok":   true,
		"path": target.Relative,
		"mode": mode,
		"size": len(after),
		"diff": diff,
		"text": fmt.Sprintf("updated %s with mode=%s (+%d -%d lines)", target.Relative, mode, diff.Added, diff.Removed),
	}), nil
}
