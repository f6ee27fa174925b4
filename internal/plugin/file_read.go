package plugin

import (
	"context"
	"fmt"

	"chatdesk/gateway/internal/domain"
	"chatdesk/gateway/internal/toolreg"
	"chatdesk/gateway/internal/workspace"
)

type ReadFileInput struct {
	Path string `json:"path" jsonschema:"required,description=Workspace path of the file to read"`
}

type FileReadTool struct {
	ws *workspace.Workspace
}

func NewFileReadTool(ws *workspace.Workspace) *FileReadTool {
	return &FileReadTool{ws: ws}
}

func (t *FileReadTool) Name() string {
	return "read_file"
}

func (t *FileReadTool) Spec() toolreg.Spec {
	return toolreg.Describe[ReadFileInput](t.Name(), "Read a text file from the user's workspace. Large files are truncated.", toolreg.PrefReadFile)
}

func (t *FileReadTool) Invoke(_ context.Context, _ domain.RequestScope, input map[string]interface{}) (ToolResult, error) {
	target, content, size, truncated, err := t.ws.Read(stringFromAny(input["path"]))
	if err != nil {
		return ToolResult{}, err
	}
	text := string(content)
	if truncated {
		text = fmt.Sprintf("%s\n\n... (truncated, showing first %d bytes of %d bytes from %s)", text, workspace.MaxReadBytes, size, target.Relative)
	}
	return NewToolResult(map[string]interface{}{
		"ok":        true,
		"path":      target.Relative,
		"size":      size,
		"truncated": truncated,
		"content":   string(content),
		"text":      text,
	}), nil
}
