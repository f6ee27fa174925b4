package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"chatdesk/gateway/internal/domain"
	"chatdesk/gateway/internal/toolreg"
)

var ErrToolInputInvalid = errors.New("tool_input_invalid")

// ToolPlugin is one capability the model can call. Invoke receives the request scope explicitly
// and must honour ctx cancellation for any network or disk work.
type ToolPlugin interface {
	Name() string
	Spec() toolreg.Spec
	Invoke(ctx context.Context, scope domain.RequestScope, input map[string]interface{}) (ToolResult, error)
}

type ToolResult struct {
	Data interface{}
}

func NewToolResult(data interface{}) ToolResult {
	return ToolResult{Data: data}
}

func (r ToolResult) ToMap() (map[string]interface{}, error) {
	if r.Data == nil {
		return map[string]interface{}{}, nil
	}
	if m, ok := r.Data.(map[string]interface{}); ok {
		out := make(map[string]interface{}, len(m))
		for key, value := range m {
			out[key] = value
		}
		return out, nil
	}
	raw, err := json.Marshal(r.Data)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Register adds every plugin spec to reg and returns the plugins keyed by name.
func Register(reg *toolreg.Registry, plugins ...ToolPlugin) (map[string]ToolPlugin, error) {
	out := make(map[string]ToolPlugin, len(plugins))
	for _, p := range plugins {
		if p == nil {
			continue
		}
		spec := p.Spec()
		if spec.Name != p.Name() {
			return nil, fmt.Errorf("plugin %q declares spec %q", p.Name(), spec.Name)
		}
		if err := reg.Register(spec); err != nil {
			return nil, err
		}
		out[p.Name()] = p
	}
	return out, nil
}

func stringFromAny(v interface{}) string {
	switch value := v.(type) {
	case string:
		return value
	case fmt.Stringer:
		return value.String()
	default:
		return ""
	}
}

func intFromAny(v interface{}) int {
	switch value := v.(type) {
	case float64:
		return int(value)
	case int:
		return value
	case int64:
		return int(value)
	case json.Number:
		if parsed, err := value.Int64(); err == nil {
			return int(parsed)
		}
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return 0
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
