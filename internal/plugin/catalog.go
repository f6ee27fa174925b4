package plugin

import (
	"net/http"

	"chatdesk/gateway/internal/workspace"
)

// Catalog returns every built-in tool bound to ws. client is shared by the network tools; nil uses per-tool defaults.
func Catalog(ws *workspace.Workspace, search SearchConfig, client *http.Client) []ToolPlugin {
	return []ToolPlugin{
		NewSearchTool(search, client),
		NewFetchTool(client),
		NewFileReadTool(ws),
		NewListFilesTool(ws),
		NewSearchFilesTool(ws),
		NewFileCreateTool(ws),
		NewFileUpdateTool(ws),
	}
}
