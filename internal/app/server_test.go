package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chatdesk/gateway/internal/config"
	"chatdesk/gateway/internal/domain"
	"chatdesk/gateway/internal/reducer"
	"chatdesk/gateway/internal/runner"
	"chatdesk/gateway/internal/service/adapters"
)

func newTestConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.WorkspaceDir = t.TempDir()
	return cfg
}

func newTestServer(t *testing.T, cfg config.Config, opts ...Option) *Server {
	t.Helper()
	srv, err := NewServer(cfg, opts...)
	if err != nil {
		t.Fatalf("new server failed: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv
}

func serve(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func readEvents(t *testing.T, w *httptest.ResponseRecorder) ([]domain.StreamEvent, *reducer.Reducer) {
	t.Helper()
	folded := reducer.New()
	events := []domain.StreamEvent{}
	err := reducer.ReadStream(w.Body, func(evt domain.StreamEvent) error {
		events = append(events, evt)
		folded.Apply(evt)
		return nil
	})
	if err != nil {
		t.Fatalf("read stream failed: %v", err)
	}
	return events, folded
}

func eventTypes(events []domain.StreamEvent) []string {
	out := make([]string, 0, len(events))
	for _, evt := range events {
		out = append(out, evt.Type)
	}
	return out
}

func decodeAPIError(t *testing.T, w *httptest.ResponseRecorder) domain.APIError {
	t.Helper()
	var body domain.APIErrorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body failed: %v body=%s", err, w.Body.String())
	}
	return body.Error
}

func TestHealthzAndVersion(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, newTestConfig(t))

	w := serve(srv, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok":true`) {
		t.Fatalf("unexpected healthz: code=%d body=%s", w.Code, w.Body.String())
	}
	w = serve(srv, http.MethodGet, "/version", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), version) {
		t.Fatalf("unexpected version: code=%d body=%s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestUnknownRouteAndMethodUseJSONErrors(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, newTestConfig(t))

	w := serve(srv, http.MethodGet, "/api/nope", "")
	if w.Code != http.StatusNotFound || decodeAPIError(t, w).Code != "not_found" {
		t.Fatalf("unexpected 404: code=%d body=%s", w.Code, w.Body.String())
	}
	w = serve(srv, http.MethodGet, "/api/chat", "")
	if w.Code != http.StatusMethodNotAllowed || decodeAPIError(t, w).Code != "method_not_allowed" {
		t.Fatalf("unexpected 405: code=%d body=%s", w.Code, w.Body.String())
	}
}

func TestChatStreamsDemoReplyAndPersists(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, newTestConfig(t))

	w := serve(srv, http.MethodPost, "/api/chat", `{"chatId":"chat-1","messages":[{"role":"user","content":"hello  there"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type: %q", got)
	}
	if got := w.Header().Get(chatIDHeader); got != "chat-1" {
		t.Fatalf("unexpected chat id header: %q", got)
	}

	events, folded := readEvents(t, w)
	types := eventTypes(events)
	if types[0] != domain.EventMessageStart || types[len(types)-1] != domain.EventDone {
		t.Fatalf("unexpected event order: %v", types)
	}
	if status := folded.Status(); status.Type != domain.StatusComplete {
		t.Fatalf("expected complete status, got=%+v", status)
	}
	text := folded.Message("").Text()
	if text != "Echo: hello  there" {
		t.Fatalf("unexpected folded text: %q", text)
	}

	w = serve(srv, http.MethodGet, "/api/chats/chat-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get chat failed: %d body=%s", w.Code, w.Body.String())
	}
	var history domain.ChatHistory
	if err := json.Unmarshal(w.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode history failed: %v", err)
	}
	if len(history.Messages) != 2 {
		t.Fatalf("expected user and assistant messages, got=%+v", history.Messages)
	}
	if history.Messages[0].Role != domain.RoleUser || history.Messages[1].Text() != text {
		t.Fatalf("unexpected persisted history: %+v", history.Messages)
	}
	if history.Chat.Name != "hello there" {
		t.Fatalf("unexpected chat name: %q", history.Chat.Name)
	}

	w = serve(srv, http.MethodGet, "/api/chats", "")
	var chats []domain.ChatSpec
	if err := json.Unmarshal(w.Body.Bytes(), &chats); err != nil || len(chats) != 1 {
		t.Fatalf("unexpected chat list: err=%v body=%s", err, w.Body.String())
	}

	w = serve(srv, http.MethodDelete, "/api/chats/chat-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete failed: %d body=%s", w.Code, w.Body.String())
	}
	w = serve(srv, http.MethodDelete, "/api/chats/chat-1", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got=%d", w.Code)
	}
}

func TestChatGeneratesChatID(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, newTestConfig(t))

	w := serve(srv, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hi"}]}`)
	id := w.Header().Get(chatIDHeader)
	if id == "" {
		t.Fatalf("expected generated chat id")
	}
	if got := serve(srv, http.MethodGet, "/api/chats/"+id, ""); got.Code != http.StatusOK {
		t.Fatalf("generated chat should be persisted, got=%d", got.Code)
	}
}

func TestChatToolRoundTripUsesWorkspace(t *testing.T) {
	t.Parallel()
	cfg := newTestConfig(t)
	if err := os.WriteFile(filepath.Join(cfg.WorkspaceDir, "notes.md"), []byte("remember the milk"), 0o644); err != nil {
		t.Fatalf("write fixture failed: %v", err)
	}

	var sawTools []string
	var sawToolResult bool
	round := 0
	model := adapters.AgentRunner{GenerateTurnFunc: func(_ context.Context, history []domain.Message, _ runner.GenerateConfig, tools []runner.ToolDefinition) (runner.TurnResult, error) {
		round++
		if round == 1 {
			for _, tool := range tools {
				sawTools = append(sawTools, tool.Name)
			}
			return runner.TurnResult{ToolCalls: []runner.ToolCall{{
				ID:        "call-1",
				Name:      "read_file",
				Arguments: map[string]interface{}{"path": "notes.md"},
			}}}, nil
		}
		for _, msg := range history {
			for _, part := range msg.Content {
				if part.Type == domain.PartToolResult && part.ToolCallID == "call-1" {
					sawToolResult = true
				}
			}
		}
		return runner.TurnResult{Text: "You wrote about milk."}, nil
	}}
	srv := newTestServer(t, cfg, WithModelRunner(model))

	w := serve(srv, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"what is in my notes?"}]}`)
	events, folded := readEvents(t, w)

	var started, finished string
	for _, evt := range events {
		switch evt.Type {
		case domain.EventToolCallStart:
			started = evt.Part.ToolCallID
		case domain.EventToolResult:
			finished = evt.Part.ToolCallID
			if !strings.Contains(toJSON(t, evt.Part.Result), "remember the milk") {
				t.Fatalf("unexpected tool result: %#v", evt.Part.Result)
			}
		}
	}
	if started != "call-1" || finished != "call-1" {
		t.Fatalf("expected call-1 start and result, got start=%q result=%q events=%v", started, finished, eventTypes(events))
	}
	if !sawToolResult {
		t.Fatalf("second model round should see the tool result")
	}
	if !contains(sawTools, "read_file") || contains(sawTools, "fetch_url") {
		t.Fatalf("unexpected offered tools: %v", sawTools)
	}

	content := folded.Content()
	if len(content) != 2 || content[0].Type != domain.PartToolCall || content[0].Status != domain.ToolCallCompleted {
		t.Fatalf("unexpected folded content: %+v", content)
	}
	if content[1].Text != "You wrote about milk." {
		t.Fatalf("unexpected folded text: %+v", content[1])
	}
}

func TestChatFollowUpReplaysPersistedToolTurn(t *testing.T) {
	t.Parallel()
	cfg := newTestConfig(t)
	if err := os.WriteFile(filepath.Join(cfg.WorkspaceDir, "notes.md"), []byte("remember the milk"), 0o644); err != nil {
		t.Fatalf("write fixture failed: %v", err)
	}

	var replayed []domain.Message
	round := 0
	model := adapters.AgentRunner{GenerateTurnFunc: func(_ context.Context, history []domain.Message, _ runner.GenerateConfig, _ []runner.ToolDefinition) (runner.TurnResult, error) {
		round++
		switch round {
		case 1:
			return runner.TurnResult{ToolCalls: []runner.ToolCall{{
				ID:        "call-1",
				Name:      "read_file",
				Arguments: map[string]interface{}{"path": "notes.md"},
			}}}, nil
		case 2:
			return runner.TurnResult{Text: "You wrote about milk."}, nil
		}
		replayed = append([]domain.Message(nil), history...)
		return runner.TurnResult{Text: "Anything else?"}, nil
	}}
	srv := newTestServer(t, cfg, WithModelRunner(model))

	w := serve(srv, http.MethodPost, "/api/chat", `{"chatId":"chat-t","messages":[{"role":"user","content":"what is in my notes?"}]}`)
	readEvents(t, w)

	w = serve(srv, http.MethodGet, "/api/chats/chat-t", "")
	var history domain.ChatHistory
	if err := json.Unmarshal(w.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode history failed: %v", err)
	}
	raw := make([]json.RawMessage, 0, len(history.Messages)+1)
	for _, msg := range history.Messages {
		b, _ := json.Marshal(msg)
		raw = append(raw, b)
	}
	raw = append(raw, json.RawMessage(`{"role":"user","content":"thanks"}`))
	body, _ := json.Marshal(map[string]interface{}{"chatId": "chat-t", "messages": raw})

	w = serve(srv, http.MethodPost, "/api/chat", string(body))
	_, folded := readEvents(t, w)
	if folded.Status().Type != domain.StatusComplete {
		t.Fatalf("follow-up turn failed: %+v", folded.Status())
	}

	answered := false
	for i, msg := range replayed {
		for _, call := range msg.ToolCalls() {
			if call.Result != nil {
				t.Fatalf("replayed call still carries its result: %+v", call)
			}
			next := replayed[i+1]
			if next.Role != domain.RoleTool || next.Content[0].ToolCallID != call.ToolCallID {
				t.Fatalf("tool call %s is not followed by its result: %+v", call.ToolCallID, replayed)
			}
			answered = strings.Contains(toJSON(t, next.Content[0].Result), "remember the milk")
		}
	}
	if !answered {
		t.Fatalf("expected the replayed tool result, got=%+v", replayed)
	}
}

func TestChatModelErrorEndsWithErrorThenDone(t *testing.T) {
	t.Parallel()
	model := adapters.AgentRunner{GenerateTurnFunc: func(context.Context, []domain.Message, runner.GenerateConfig, []runner.ToolDefinition) (runner.TurnResult, error) {
		return runner.TurnResult{}, &runner.RunnerError{Code: runner.ErrorCodeProviderRequestFailed, Message: "upstream exploded", Err: errors.New("boom")}
	}}
	srv := newTestServer(t, newTestConfig(t), WithModelRunner(model))

	w := serve(srv, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hi"}]}`)
	events, folded := readEvents(t, w)
	types := eventTypes(events)
	if len(types) < 2 || types[len(types)-2] != domain.EventError || types[len(types)-1] != domain.EventDone {
		t.Fatalf("expected error then done, got=%v", types)
	}
	if folded.Status().Type != domain.StatusIncomplete {
		t.Fatalf("expected incomplete status, got=%+v", folded.Status())
	}
}

type failingStore struct{}

func (failingStore) ListChats(context.Context) ([]domain.ChatSpec, error) {
	return nil, errors.New("disk on fire")
}

func (failingStore) GetChat(context.Context, string) (domain.ChatHistory, error) {
	return domain.ChatHistory{}, errors.New("disk on fire")
}

func (failingStore) SaveChat(context.Context, string, []domain.Message) (domain.ChatSpec, error) {
	return domain.ChatSpec{}, errors.New("disk on fire")
}

func (failingStore) DeleteChat(context.Context, string) error {
	return errors.New("disk on fire")
}

func TestChatStoreFailureDoesNotBreakStream(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, newTestConfig(t), WithChatStore(failingStore{}))

	w := serve(srv, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hi"}]}`)
	_, folded := readEvents(t, w)
	if !folded.Done() || folded.Status().Type != domain.StatusComplete {
		t.Fatalf("stream should finish normally, status=%+v done=%v", folded.Status(), folded.Done())
	}

	w = serve(srv, http.MethodGet, "/api/chats", "")
	if w.Code != http.StatusInternalServerError || decodeAPIError(t, w).Code != "store_error" {
		t.Fatalf("expected store_error, got=%d body=%s", w.Code, w.Body.String())
	}
}

func TestChatRejectsBadRequests(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, newTestConfig(t))

	cases := []struct {
		name string
		body string
		code string
	}{
		{name: "invalid json", body: `{"messages":`, code: "invalid_json"},
		{name: "zero limit", body: `{"messages":[{"role":"user","content":"hi"}],"recursionLimit":0}`, code: "invalid_request"},
		{name: "limit above max", body: `{"messages":[{"role":"user","content":"hi"}],"recursionLimit":5000}`, code: "invalid_request"},
		{name: "no messages", body: `{"messages":[]}`, code: "invalid_request"},
		{name: "bad role", body: `{"messages":[{"role":"robot","content":"hi"}]}`, code: "invalid_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(srv, http.MethodPost, "/api/chat", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got=%d body=%s", w.Code, w.Body.String())
			}
			if strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream") {
				t.Fatalf("no stream should be opened")
			}
			if got := decodeAPIError(t, w).Code; got != tc.code {
				t.Fatalf("expected %s, got=%s", tc.code, got)
			}
		})
	}
}

func TestFilesAPI(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, newTestConfig(t))

	w := serve(srv, http.MethodPut, "/api/files/docs/plan.md", "# Plan\nship it")
	if w.Code != http.StatusOK {
		t.Fatalf("put failed: %d body=%s", w.Code, w.Body.String())
	}

	w = serve(srv, http.MethodGet, "/api/files/docs/plan.md", "")
	var file fileContentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &file); err != nil {
		t.Fatalf("decode file failed: %v", err)
	}
	if file.Path != "docs/plan.md" || file.Content != "# Plan\nship it" || file.Truncated {
		t.Fatalf("unexpected file: %+v", file)
	}

	w = serve(srv, http.MethodGet, "/api/files", "")
	var list fileListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || len(list.Files) != 1 || list.Files[0].Path != "docs/plan.md" {
		t.Fatalf("unexpected list: err=%v body=%s", err, w.Body.String())
	}

	w = serve(srv, http.MethodGet, "/api/files?q=plan", "")
	var search fileSearchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &search); err != nil || len(search.Matches) != 1 {
		t.Fatalf("unexpected search: err=%v body=%s", err, w.Body.String())
	}

	w = serve(srv, http.MethodGet, "/api/files/../../etc/passwd", "")
	if w.Code != http.StatusBadRequest || decodeAPIError(t, w).Code != "forbidden_path" {
		t.Fatalf("expected forbidden_path, got=%d body=%s", w.Code, w.Body.String())
	}

	w = serve(srv, http.MethodDelete, "/api/files/docs/plan.md", "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete failed: %d body=%s", w.Code, w.Body.String())
	}
	w = serve(srv, http.MethodGet, "/api/files/docs/plan.md", "")
	if w.Code != http.StatusNotFound || decodeAPIError(t, w).Code != "file_not_found" {
		t.Fatalf("expected file_not_found, got=%d body=%s", w.Code, w.Body.String())
	}
}

func TestListTools(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, newTestConfig(t))

	w := serve(srv, http.MethodGet, "/api/tools", "")
	var resp toolListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode tools failed: %v", err)
	}
	byName := map[string]toolInfo{}
	for _, tool := range resp.Tools {
		byName[tool.Name] = tool
	}
	search, ok := byName["web_search"]
	if !ok || !search.EnabledByDefault || len(search.Required) != 1 || search.Required[0] != "query" {
		t.Fatalf("unexpected web_search entry: %+v", search)
	}
	if fetch := byName["fetch_url"]; fetch.EnabledByDefault {
		t.Fatalf("fetch_url should be off by default: %+v", fetch)
	}
	if create := byName["create_file"]; !create.EnabledByDefault {
		t.Fatalf("create_file should always be on: %+v", create)
	}
	if !contains(resp.Preferences, "gmailSend") {
		t.Fatalf("expected known preferences, got=%v", resp.Preferences)
	}
}

func TestAPIKeyProtectsAPIRoutes(t *testing.T) {
	t.Parallel()
	cfg := newTestConfig(t)
	cfg.APIKey = "secret"
	srv := newTestServer(t, cfg)

	if w := serve(srv, http.MethodGet, "/api/tools", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got=%d", w.Code)
	}
	if w := serve(srv, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz should stay public, got=%d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/tools", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got=%d", w.Code)
	}
}

func TestToolPreferencesOverlayDefaults(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, newTestConfig(t))

	prefs := srv.toolPreferences(map[string]bool{"read_file": false, "browser": true})
	if prefs["read_file"] || !prefs["browser"] || !prefs["web_search"] {
		t.Fatalf("unexpected preferences: %v", prefs)
	}
}

func toJSON(t *testing.T, v interface{}) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return string(raw)
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
