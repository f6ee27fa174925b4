package app

import (
	"net/http"

	"github.com/samber/lo"

	"chatdesk/gateway/internal/toolreg"
)

type toolInfo struct {
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	Preference       string   `json:"preference,omitempty"`
	Required         []string `json:"required"`
	EnabledByDefault bool     `json:"enabledByDefault"`
}

type toolListResponse struct {
	Tools       []toolInfo `json:"tools"`
	Preferences []string   `json:"preferences"`
}

func (s *Server) listTools(w http.ResponseWriter, _ *http.Request) {
	defaults := s.cfg.DefaultToolPreferences()
	tools := lo.Map(s.registry.All(), func(spec toolreg.Spec, _ int) toolInfo {
		return toolInfo{
			Name:             spec.Name,
			Description:      spec.Description,
			Preference:       spec.Preference,
			Required:         spec.Required,
			EnabledByDefault: s.registry.IsEnabled(spec.Name, defaults),
		}
	})
	writeJSON(w, http.StatusOK, toolListResponse{Tools: tools, Preferences: toolreg.KnownPreferences})
}
