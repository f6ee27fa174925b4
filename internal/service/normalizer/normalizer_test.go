package normalizer

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"chatdesk/gateway/internal/domain"
)

func rawMessages(t *testing.T, items ...string) []domain.RawMessage {
	t.Helper()
	out := make([]domain.RawMessage, 0, len(items))
	for _, item := range items {
		out = append(out, domain.RawMessage(item))
	}
	return out
}

func TestNormalizeFoldsAttachments(t *testing.T) {
	t.Parallel()

	msgs, err := Normalize(rawMessages(t,
		`{"role":"user","content":"","attachments":[{"fileId":"f1","fileName":"a.pdf","filePath":"/a.pdf"},{"fileName":"b.pdf","filePath":"/b.pdf"}]}`,
	), Options{})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	want := []domain.ContentPart{{
		Type:     domain.PartFileAttachment,
		FileID:   "f1",
		FileName: "a.pdf",
		FilePath: "/a.pdf",
	}}
	if !reflect.DeepEqual(msgs[0].Content, want) {
		t.Fatalf("unexpected content: %#v", msgs[0].Content)
	}
}

func TestNormalizeMissingContent(t *testing.T) {
	t.Parallel()

	msgs, err := Normalize(rawMessages(t, `{"role":"assistant"}`), Options{})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if msgs[0].Content == nil || len(msgs[0].Content) != 0 {
		t.Fatalf("expected empty non-nil content, got=%#v", msgs[0].Content)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	t.Parallel()

	input := rawMessages(t,
		`{"role":"system","content":"be brief"}`,
		`{"id":"u1","role":"user","content":[{"type":"text","value":"summarize"}],"attachments":[{"id":"f1","name":"a.pdf","path":"/a.pdf","mimeType":"application/pdf"}]}`,
		`{"id":"a1","role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"read_file","arguments":"{\"path\":\"a.pdf\"}"}}]}`,
		`{"role":"tool","tool_call_id":"call_1","name":"read_file","content":"file body"}`,
		`{"role":"assistant","content":[{"type":"text","text":"done"}]}`,
	)
	first, err := Normalize(input, Options{})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	reencoded := make([]domain.RawMessage, 0, len(first))
	for _, msg := range first {
		b, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		reencoded = append(reencoded, b)
	}
	second, err := Normalize(reencoded, Options{})
	if err != nil {
		t.Fatalf("second normalize failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("normalization is not idempotent:\nfirst:  %#v\nsecond: %#v", first, second)
	}

	attachments := 0
	for _, part := range second[1].Content {
		if part.Type == domain.PartFileAttachment {
			attachments++
		}
	}
	if attachments != 1 {
		t.Fatalf("expected one attachment part, got=%d", attachments)
	}
}

func TestNormalizeAttachmentAlreadyInline(t *testing.T) {
	t.Parallel()

	msgs, err := Normalize(rawMessages(t,
		`{"role":"user","content":[{"type":"file-attachment","fileId":"f1","fileName":"a.pdf","filePath":"/a.pdf"}],"attachments":[{"fileId":"f1","fileName":"a.pdf","filePath":"/a.pdf"}]}`,
	), Options{})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if len(msgs[0].Content) != 1 {
		t.Fatalf("expected inline attachment not to be duplicated, got=%#v", msgs[0].Content)
	}
}

func TestNormalizeToolCallShapes(t *testing.T) {
	t.Parallel()

	msgs, err := Normalize(rawMessages(t,
		`{"role":"assistant","content":[{"type":"tool-call","toolCallId":"c1","toolName":"web_search","args":{"query":"go"}}]}`,
		`{"role":"tool","tool_call_id":"c1","content":"r1"}`,
		`{"role":"assistant","additional_kwargs":{"tool_calls":[{"id":"c2","function":{"name":"read_file","arguments":"{\"path\":\"x.md\"}"}}]}}`,
		`{"role":"tool","content":[{"type":"tool_result","tool_use_id":"c2","content":"r2"}]}`,
		`{"role":"assistant","content":[{"type":"tool_use","id":"c3","name":"fetch_url","input":{"url":"https://example.com"}}]}`,
	), Options{})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	cases := []struct {
		msg  int
		id   string
		name string
		key  string
	}{
		{0, "c1", "web_search", "query"},
		{2, "c2", "read_file", "path"},
		{4, "c3", "fetch_url", "url"},
	}
	for _, tc := range cases {
		calls := msgs[tc.msg].ToolCalls()
		if len(calls) != 1 {
			t.Fatalf("message %d: expected one tool call, got=%#v", tc.msg, msgs[tc.msg].Content)
		}
		if calls[0].ToolCallID != tc.id || calls[0].ToolName != tc.name {
			t.Fatalf("message %d: unexpected call %#v", tc.msg, calls[0])
		}
		if _, ok := calls[0].Args[tc.key]; !ok {
			t.Fatalf("message %d: expected arg %q, got=%#v", tc.msg, tc.key, calls[0].Args)
		}
	}
}

func TestNormalizeRejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := Normalize(rawMessages(t, `"hello"`), Options{}); !errors.Is(err, ErrMessageNotObject) {
		t.Fatalf("expected ErrMessageNotObject, got=%v", err)
	}
	if _, err := Normalize(rawMessages(t, `{"role":"robot","content":"x"}`), Options{}); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got=%v", err)
	}
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	raw := `{"role":"user","content":"hi","attachments":[{"fileId":"f1","fileName":"a","filePath":"/a"}]}`
	input := rawMessages(t, raw)
	if _, err := Normalize(input, Options{DocumentContext: "doc"}); err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if string(input[0]) != raw {
		t.Fatalf("input mutated: %s", input[0])
	}
}

func TestMergeDocumentContext(t *testing.T) {
	t.Parallel()

	base := []domain.Message{
		{Role: domain.RoleUser, Content: []domain.ContentPart{domain.TextPart("first")}},
		{Role: domain.RoleUser, Content: []domain.ContentPart{domain.TextPart("rewrite this")}},
	}
	merged := MergeDocumentContext(base, "Quarterly report body")
	if got := merged[1].Content[0].Text; !strings.HasPrefix(got, "rewrite this\n\n") || !strings.HasSuffix(got, "Quarterly report body") {
		t.Fatalf("unexpected merged text: %q", got)
	}
	if base[1].Content[0].Text != "rewrite this" {
		t.Fatalf("original message mutated: %q", base[1].Content[0].Text)
	}
	if merged[0].Content[0].Text != "first" {
		t.Fatalf("only the last message should change")
	}

	attachmentOnly := []domain.Message{{
		Role:    domain.RoleUser,
		Content: []domain.ContentPart{{Type: domain.PartFileAttachment, FileID: "f1", FileName: "a", FilePath: "/a"}},
	}}
	merged = MergeDocumentContext(attachmentOnly, "ctx")
	if len(merged[0].Content) != 2 || merged[0].Content[0].Type != domain.PartText {
		t.Fatalf("expected prepended text part, got=%#v", merged[0].Content)
	}

	assistantLast := []domain.Message{{Role: domain.RoleAssistant, Content: []domain.ContentPart{domain.TextPart("x")}}}
	if got := MergeDocumentContext(assistantLast, "ctx"); got[0].Content[0].Text != "x" {
		t.Fatalf("assistant message must not receive document context")
	}
	if got := MergeDocumentContext(nil, "ctx"); len(got) != 0 {
		t.Fatalf("empty list must stay empty")
	}
}

func TestWithSystemPrompt(t *testing.T) {
	t.Parallel()

	msgs := []domain.Message{{Role: domain.RoleUser, Content: []domain.ContentPart{domain.TextPart("hi")}}}
	out := WithSystemPrompt(msgs, "be helpful", map[string]interface{}{"timezone": "UTC", "now": "2026-10-19T10:00:00Z"})
	if len(out) != 2 || out[0].Role != domain.RoleSystem {
		t.Fatalf("expected system message prepended, got=%#v", out)
	}
	want := "be helpful\n\nCurrent date/time context: now=2026-10-19T10:00:00Z, timezone=UTC"
	if out[0].Text() != want {
		t.Fatalf("unexpected system text: %q", out[0].Text())
	}

	withSystem := append([]domain.Message{{Role: domain.RoleSystem, Content: []domain.ContentPart{domain.TextPart("client")}}}, msgs...)
	if got := WithSystemPrompt(withSystem, "server", nil); len(got) != 2 || got[0].Text() != "client" {
		t.Fatalf("client system message should win, got=%#v", got)
	}
}

func TestNormalizeSplitsInlineToolResults(t *testing.T) {
	t.Parallel()

	msgs, err := Normalize(rawMessages(t,
		`{"role":"user","content":"read my notes"}`,
		`{"id":"a1","role":"assistant","content":[{"type":"text","text":"Looking."},{"type":"tool-call","toolCallId":"c1","toolName":"read_file","args":{"path":"n.md"},"status":"completed","result":{"content":"milk"}},{"type":"text","text":"You wrote about milk."}]}`,
		`{"role":"user","content":"thanks"}`,
	), Options{})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	roles := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		roles = append(roles, msg.Role)
	}
	want := []string{domain.RoleUser, domain.RoleAssistant, domain.RoleTool, domain.RoleAssistant, domain.RoleUser}
	if !reflect.DeepEqual(roles, want) {
		t.Fatalf("unexpected roles: %v", roles)
	}
	head := msgs[1]
	if head.ID != "a1" || head.Text() != "Looking." || len(head.ToolCalls()) != 1 {
		t.Fatalf("unexpected assistant head: %+v", head)
	}
	if call := head.ToolCalls()[0]; call.Result != nil || call.Status != "" {
		t.Fatalf("inline result should move off the call: %+v", call)
	}
	result := msgs[2].Content[0]
	if result.Type != domain.PartToolResult || result.ToolCallID != "c1" || result.ToolName != "read_file" {
		t.Fatalf("unexpected tool result: %+v", result)
	}
	if body, ok := result.Result.(map[string]interface{}); !ok || body["content"] != "milk" {
		t.Fatalf("unexpected tool result payload: %#v", result.Result)
	}
	if msgs[3].Text() != "You wrote about milk." || len(msgs[3].ToolCalls()) != 0 {
		t.Fatalf("unexpected trailing assistant text: %+v", msgs[3])
	}
}

func TestNormalizeKeepsExplicitToolResults(t *testing.T) {
	t.Parallel()

	msgs, err := Normalize(rawMessages(t,
		`{"role":"assistant","content":[{"type":"tool-call","toolCallId":"c1","toolName":"read_file","args":{},"status":"completed","result":"x"}]}`,
		`{"role":"tool","tool_call_id":"c1","content":"x"}`,
	), Options{})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Role != domain.RoleTool {
		t.Fatalf("an answered call should not be split again: %+v", msgs)
	}
}

func TestNormalizeDropsUnpairedToolParts(t *testing.T) {
	t.Parallel()

	msgs, err := Normalize(rawMessages(t,
		`{"role":"tool","tool_call_id":"ghost","content":"orphan"}`,
		`{"role":"assistant","content":[{"type":"text","text":"checking"},{"type":"tool-call","toolCallId":"stale","toolName":"read_file","args":{}}]}`,
		`{"role":"user","content":"again"}`,
		`{"role":"assistant","content":[{"type":"tool-call","toolCallId":"live","toolName":"read_file","args":{}}]}`,
	), Options{})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected orphan tool message to be dropped, got=%+v", msgs)
	}
	if calls := msgs[0].ToolCalls(); len(calls) != 0 || msgs[0].Text() != "checking" {
		t.Fatalf("stale pending call should be dropped: %+v", msgs[0])
	}
	if calls := msgs[2].ToolCalls(); len(calls) != 1 || calls[0].ToolCallID != "live" {
		t.Fatalf("pending call on the last message should stay: %+v", msgs[2])
	}
}
