package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatdesk/gateway/internal/domain"
	"chatdesk/gateway/internal/logger"
	"chatdesk/gateway/internal/toolreg"
)

const (
	ProviderDemo      = "demo"
	ProviderLangChain = "langchain"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	ErrorCodeProviderNotConfigured = "provider_not_configured"
	ErrorCodeProviderNotSupported  = "provider_not_supported"
	ErrorCodeProviderRequestFailed = "provider_request_failed"
	ErrorCodeProviderInvalidReply  = "provider_invalid_reply"

	defaultMaxTokens = 4096
)

var log = logger.Named("runner")

type RunnerError struct {
	Code    string
	Message string
	Err     error
}

type InvalidToolCallError struct {
	Index        int
	CallID       string
	Name         string
	ArgumentsRaw string
	Err          error
}

func (e *RunnerError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

func (e *RunnerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *InvalidToolCallError) Error() string {
	if e == nil {
		return ""
	}
	name := strings.TrimSpace(e.Name)
	detail := "invalid arguments"
	if e.Err != nil {
		detail = e.Err.Error()
	}
	if name != "" {
		return fmt.Sprintf("provider tool call %q has invalid arguments: %s", name, detail)
	}
	return fmt.Sprintf("provider tool call[%d] has invalid arguments: %s", e.Index, detail)
}

func (e *InvalidToolCallError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// GenerateConfig selects the provider and model for one invocation.
type GenerateConfig struct {
	ProviderID string
	Model      string
	APIKey     string
	BaseURL    string
	TimeoutMS  int
	MaxTokens  int
}

type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// DefinitionsFromSpecs converts registry specs to the catalog offered to the model.
func DefinitionsFromSpecs(specs []toolreg.Spec) []ToolDefinition {
	out := make([]ToolDefinition, 0, len(specs))
	for _, spec := range specs {
		params := normalizeToolParameters(spec.Parameters)
		if len(spec.Required) > 0 {
			params["required"] = append([]string{}, spec.Required...)
		}
		out = append(out, ToolDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  params,
		})
	}
	return out
}

type ToolCall struct {
	ID           string
	Name         string
	Arguments    map[string]interface{}
	ArgumentsRaw string
}

// TurnResult is one model turn: final text, or text plus tool calls.
type TurnResult struct {
	Text       string
	ToolCalls  []ToolCall
	ResponseID string
}

// HasToolCalls reports whether the turn asks for tool execution.
func (t TurnResult) HasToolCalls() bool {
	return len(t.ToolCalls) > 0
}

type ProviderAdapter interface {
	ID() string
	GenerateTurn(ctx context.Context, history []domain.Message, cfg GenerateConfig, tools []ToolDefinition, runner *Runner) (TurnResult, error)
}

type Runner struct {
	httpClient *http.Client
	adapters   map[string]ProviderAdapter
}

func New() *Runner {
	return NewWithHTTPClient(&http.Client{})
}

func NewWithHTTPClient(client *http.Client) *Runner {
	if client == nil {
		client = &http.Client{}
	}
	r := &Runner{
		httpClient: client,
		adapters:   map[string]ProviderAdapter{},
	}
	r.registerAdapter(&demoAdapter{})
	r.registerAdapter(newLangChainAdapter())
	r.registerAdapter(&anthropicAdapter{})
	r.registerAdapter(&openAIAdapter{})
	return r
}

func (r *Runner) registerAdapter(adapter ProviderAdapter) {
	if adapter == nil {
		return
	}
	id := strings.TrimSpace(adapter.ID())
	if id == "" {
		return
	}
	r.adapters[id] = adapter
}

// Providers lists the registered provider ids in order.
func (r *Runner) Providers() []string {
	out := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// GenerateTurn invokes the configured provider once. It never retries; failures are returned as *RunnerError.
func (r *Runner) GenerateTurn(ctx context.Context, history []domain.Message, cfg GenerateConfig, tools []ToolDefinition) (TurnResult, error) {
	providerID := strings.ToLower(strings.TrimSpace(cfg.ProviderID))
	if providerID == "" {
		providerID = ProviderDemo
	}
	adapter, ok := r.adapters[providerID]
	if !ok {
		return TurnResult{}, &RunnerError{
			Code:    ErrorCodeProviderNotSupported,
			Message: fmt.Sprintf("provider %q is not supported (available: %s)", providerID, strings.Join(r.Providers(), ", ")),
		}
	}
	if providerID != ProviderDemo && strings.TrimSpace(cfg.Model) == "" {
		return TurnResult{}, &RunnerError{Code: ErrorCodeProviderNotConfigured, Message: "model is required for active provider"}
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	callCtx := ctx
	if cfg.TimeoutMS > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	started := time.Now()
	turn, err := adapter.GenerateTurn(callCtx, history, cfg, tools, r)
	entry := log.WithFields(logger.Fields{
		"provider":   providerID,
		"model":      cfg.Model,
		"latency_ms": time.Since(started).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("model invocation failed")
		return TurnResult{}, mapProviderError(err)
	}
	turn.ToolCalls = fillToolCallIDs(turn.ToolCalls)
	entry.WithField("tool_calls", len(turn.ToolCalls)).Debug("model turn received")
	return turn, nil
}

func mapProviderError(err error) error {
	var runnerErr *RunnerError
	if errors.As(err, &runnerErr) {
		return err
	}
	if isTimeout(err) {
		return &RunnerError{Code: ErrorCodeProviderRequestFailed, Message: "provider request timed out", Err: err}
	}
	return &RunnerError{
		Code:    ErrorCodeProviderRequestFailed,
		Message: fmt.Sprintf("provider request failed: %v", err),
		Err:     err,
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "client.timeout")
}

func fillToolCallIDs(calls []ToolCall) []ToolCall {
	for i := range calls {
		if strings.TrimSpace(calls[i].ID) == "" {
			calls[i].ID = "call_" + uuid.NewString()
		}
	}
	return calls
}

// parseToolArguments decodes one provider tool call. Empty arguments mean an empty object.
func parseToolArguments(index int, id, name, raw string) (ToolCall, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ToolCall{}, &RunnerError{
			Code:    ErrorCodeProviderInvalidReply,
			Message: fmt.Sprintf("provider tool call[%d] name is empty", index),
		}
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "{}"
	}
	var arguments map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &arguments); err != nil {
		invalid := &InvalidToolCallError{Index: index, CallID: id, Name: name, ArgumentsRaw: raw, Err: err}
		return ToolCall{}, &RunnerError{Code: ErrorCodeProviderInvalidReply, Message: invalid.Error(), Err: invalid}
	}
	if arguments == nil {
		arguments = map[string]interface{}{}
	}
	return ToolCall{ID: strings.TrimSpace(id), Name: name, Arguments: arguments, ArgumentsRaw: raw}, nil
}

func normalizeToolParameters(in map[string]interface{}) map[string]interface{} {
	fallback := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
	if len(in) == 0 {
		return fallback
	}
	buf, err := json.Marshal(in)
	if err != nil {
		return fallback
	}
	var out map[string]interface{}
	if err := json.Unmarshal(buf, &out); err != nil {
		return fallback
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out
}

// resultText renders a tool-result payload as the string most providers expect.
func resultText(result interface{}) string {
	switch v := result.(type) {
	case nil:
		return "null"
	case string:
		return v
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(raw)
}

// isFailedResult reports whether a tool result is the failure payload of a tool call.
func isFailedResult(result interface{}) bool {
	body, ok := result.(map[string]interface{})
	if !ok {
		return false
	}
	success, ok := body["success"].(bool)
	return ok && !success
}

func argumentsText(args map[string]interface{}) string {
	if len(args) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// attachmentNote describes a file attachment to providers that cannot take it inline.
func attachmentNote(part domain.ContentPart) string {
	return fmt.Sprintf("[attached file %s at %s]", part.FileName, part.FilePath)
}

func isInlineImage(part domain.ContentPart) bool {
	return part.InlineData != "" && strings.HasPrefix(strings.ToLower(part.MimeType), "image/")
}

type demoAdapter struct{}

func (a *demoAdapter) ID() string {
	return ProviderDemo
}

func (a *demoAdapter) GenerateTurn(_ context.Context, history []domain.Message, _ GenerateConfig, _ []ToolDefinition, _ *Runner) (TurnResult, error) {
	return TurnResult{Text: generateDemoReply(history)}, nil
}

// generateDemoReply echoes the latest user message.
func generateDemoReply(history []domain.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != domain.RoleUser {
			continue
		}
		text := strings.TrimSpace(history[i].Text())
		if text == "" {
			break
		}
		return "Echo: " + text
	}
	return "Echo: (empty input)"
}
