package toolreg

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/samber/lo"
)

// Preference flags accepted in toolPreferences. Flags without a bound tool are accepted and ignored.
const (
	PrefWebSearch = "web_search"
	PrefGmail     = "gmail"
	PrefGmailSend = "gmailSend"
	PrefBrowser   = "browser"
	PrefXAPI      = "x_api"
	PrefReadFile  = "read_file"
)

var KnownPreferences = []string{PrefWebSearch, PrefGmail, PrefGmailSend, PrefBrowser, PrefXAPI, PrefReadFile}

// Spec describes a tool as offered to the model.
type Spec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Preference  string                 `json:"preference,omitempty"`
	Required    []string               `json:"required"`
	Parameters  map[string]interface{} `json:"parameters"`
	// ContentFallback names an argument that counts as present when the request carries document context.
	ContentFallback string `json:"contentFallback,omitempty"`
}

// Describe reflects T into a parameter schema. Fields tagged jsonschema:"required" become required arguments.
func Describe[T any](name, description, preference string) Spec {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)

	params := map[string]interface{}{}
	if raw, err := json.Marshal(schema); err == nil {
		_ = json.Unmarshal(raw, &params)
	}
	delete(params, "$schema")
	delete(params, "$id")
	if _, ok := params["properties"]; !ok {
		params["properties"] = map[string]interface{}{}
	}
	params["type"] = "object"

	return Spec{
		Name:        name,
		Description: description,
		Preference:  preference,
		Required:    append([]string{}, schema.Required...),
		Parameters:  params,
	}
}

// MissingToolArgumentsError is returned when a tool call lacks required arguments.
type MissingToolArgumentsError struct {
	ToolName    string
	MissingArgs []string
}

func (e *MissingToolArgumentsError) Error() string {
	return fmt.Sprintf("tool %s is missing required arguments: %s", e.ToolName, strings.Join(e.MissingArgs, ", "))
}

// Registry maps tool names to specs. Register everything before serving; lookups are read-only afterwards.
type Registry struct {
	specs map[string]Spec
	order []string
}

func New() *Registry {
	return &Registry{specs: map[string]Spec{}}
}

func (r *Registry) Register(spec Spec) error {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if _, exists := r.specs[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	spec.Name = name
	r.specs[name] = spec
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Lookup(name string) (Spec, bool) {
	spec, ok := r.specs[name]
	return spec, ok
}

func (r *Registry) All() []Spec {
	return lo.Map(r.order, func(name string, _ int) Spec { return r.specs[name] })
}

// Enabled returns the specs allowed by prefs, in registration order.
func (r *Registry) Enabled(prefs map[string]bool) []Spec {
	return lo.Filter(r.All(), func(spec Spec, _ int) bool { return enabled(spec, prefs) })
}

// IsEnabled reports whether name is registered and allowed by prefs.
func (r *Registry) IsEnabled(name string, prefs map[string]bool) bool {
	spec, ok := r.specs[name]
	return ok && enabled(spec, prefs)
}

func enabled(spec Spec, prefs map[string]bool) bool {
	return spec.Preference == "" || prefs[spec.Preference]
}

// MissingArguments lists required arguments of name that are absent or empty in args.
// Unregistered tools have no requirements.
func (r *Registry) MissingArguments(name string, args map[string]interface{}, documentContext string) []string {
	spec, ok := r.specs[name]
	if !ok {
		return []string{}
	}
	missing := []string{}
	for _, field := range spec.Required {
		if field == spec.ContentFallback {
			continue
		}
		if IsEmpty(args[field]) {
			missing = append(missing, field)
		}
	}
	if spec.ContentFallback != "" && IsEmpty(args[spec.ContentFallback]) && strings.TrimSpace(documentContext) == "" {
		missing = append(missing, spec.ContentFallback)
	}
	return missing
}

// EnsureArguments returns *MissingToolArgumentsError when MissingArguments is non-empty.
func (r *Registry) EnsureArguments(name string, args map[string]interface{}, documentContext string) error {
	missing := r.MissingArguments(name, args, documentContext)
	if len(missing) == 0 {
		return nil
	}
	return &MissingToolArgumentsError{ToolName: name, MissingArgs: missing}
}

// IsEmpty treats nil, blank strings, empty arrays and empty objects as absent.
func IsEmpty(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []interface{}:
		return len(v) == 0
	case []string:
		return len(v) == 0
	case map[string]interface{}:
		return len(v) == 0
	}
	return false
}
