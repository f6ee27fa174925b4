package plugin

import (
	"context"
	"fmt"
	"path"
	"strings"

	"chatdesk/gateway/internal/domain"
	"chatdesk/gateway/internal/toolreg"
	"chatdesk/gateway/internal/workspace"
)

type CreateFileInput struct {
	FileName string `json:"fileName" jsonschema:"required,description=Name of the new file including extension"`
	FilePath string `json:"filePath" jsonschema:"required,description=Workspace folder for the new file; use / for the root"`
	Content  string `json:"content,omitempty" jsonschema:"description=File content; defaults to the open document when omitted"`
}

type FileCreateTool struct {
	ws *workspace.Workspace
}

func NewFileCreateTool(ws *workspace.Workspace) *FileCreateTool {
	return &FileCreateTool{ws: ws}
}

func (t *FileCreateTool) Name() string {
	return "create_file"
}

func (t *FileCreateTool) Spec() toolreg.Spec {
	spec := toolreg.Describe[CreateFileInput](t.Name(), "Create a new file in the user's workspace. Fails if the file already exists.", "")
	spec.ContentFallback = "content"
	return spec
}

func (t *FileCreateTool) Invoke(_ context.Context, scope domain.RequestScope, input map[string]interface{}) (ToolResult, error) {
	name := strings.TrimSpace(stringFromAny(input["fileName"]))
	if name == "" || strings.ContainsAny(name, `/\`) {
		return ToolResult{}, fmt.Errorf("%w: fileName must be a plain file name", ErrToolInputInvalid)
	}
	content := stringFromAny(input["content"])
	source := "content"
	if strings.TrimSpace(content) == "" {
		content = scope.DocumentContext
		source = "document_context"
	}

	target, err := t.ws.Create(joinTarget(stringFromAny(input["filePath"]), name), []byte(content))
	if err != nil {
		return ToolResult{}, err
	}
	return NewToolResult(map[string]interface{}{
		"ok":     true,
		"path":   target.Relative,
		"size":   len(content),
		"source": source,
		"text":   fmt.Sprintf("created %s (%d bytes)", target.Relative, len(content)),
	}), nil
}

// joinTarget accepts either a folder or a full path that already ends in name.
func joinTarget(folder, name string) string {
	folder = strings.TrimSpace(strings.ReplaceAll(folder, `\`, "/"))
	if path.Base(folder) == name {
		return folder
	}
	return path.Join("/", folder, name)
}
