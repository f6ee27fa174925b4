package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"chatdesk/gateway/internal/domain"
	"chatdesk/gateway/internal/logger"
)

var (
	ErrMessageNotObject = errors.New("message_not_object")
	ErrInvalidRole      = errors.New("message_invalid_role")
)

// nested locations where clients put OpenAI-style tool call lists.
var toolCallListPaths = []string{"tool_calls", "toolCalls", "additional_kwargs.tool_calls", "kwargs.tool_calls"}

type Options struct {
	RequestID       string
	DocumentContext string
}

// Normalize converts raw client messages into canonical messages. The input is never modified.
func Normalize(raw []domain.RawMessage, opts Options) ([]domain.Message, error) {
	log := logger.Named("normalizer")
	if opts.RequestID != "" {
		log = log.WithField("request_id", opts.RequestID)
	}
	out := make([]domain.Message, 0, len(raw))
	for idx, item := range raw {
		msg, err := normalizeOne(idx, item, log)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", idx, err)
		}
		out = append(out, msg)
	}
	return MergeDocumentContext(pairToolResults(out, log), opts.DocumentContext), nil
}

// pairToolResults makes every tool-result follow its tool-call. Results folded inline on an
// assistant tool-call become tool messages right after the call; orphan results are dropped, and
// so are unanswered calls anywhere but the last message.
func pairToolResults(messages []domain.Message, log *logger.LogEntry) []domain.Message {
	answered := map[string]bool{}
	for _, msg := range messages {
		for _, part := range msg.Content {
			if part.Type == domain.PartToolResult {
				answered[part.ToolCallID] = true
			}
		}
	}

	out := make([]domain.Message, 0, len(messages))
	called := map[string]bool{}
	for idx, msg := range messages {
		last := idx == len(messages)-1
		if msg.Role != domain.RoleAssistant {
			content := make([]domain.ContentPart, 0, len(msg.Content))
			for _, part := range msg.Content {
				if part.Type == domain.PartToolResult && !called[part.ToolCallID] {
					log.WithFields(logger.Fields{"message": idx, "tool_call_id": part.ToolCallID}).Warn("dropped tool result without a preceding tool call")
					continue
				}
				content = append(content, part)
			}
			if msg.Role == domain.RoleTool && len(content) == 0 && len(msg.Content) > 0 {
				continue
			}
			msg.Content = content
			out = append(out, msg)
			continue
		}
		out = append(out, splitInlineResults(idx, msg, last, answered, called, log)...)
	}
	return out
}

// splitInlineResults cuts an assistant message after each run of tool-calls that carry their own result.
func splitInlineResults(idx int, msg domain.Message, last bool, answered, called map[string]bool, log *logger.LogEntry) []domain.Message {
	out := []domain.Message{}
	current := []domain.ContentPart{}
	var resolved []domain.ContentPart

	flush := func() {
		if len(current) == 0 && len(resolved) == 0 {
			return
		}
		head := domain.Message{Role: domain.RoleAssistant, Content: current}
		if len(out) == 0 {
			head.ID = msg.ID
		}
		out = append(out, head)
		for _, call := range resolved {
			out = append(out, domain.Message{
				Role:    domain.RoleTool,
				Content: []domain.ContentPart{domain.ToolResultPart(call.ToolCallID, call.ToolName, call.Result)},
			})
		}
		current = []domain.ContentPart{}
		resolved = nil
	}

	for _, part := range msg.Content {
		if part.Type != domain.PartToolCall {
			if len(resolved) > 0 {
				flush()
			}
			current = append(current, part)
			continue
		}
		inline := part.Result != nil || part.Status == domain.ToolCallCompleted || part.Status == domain.ToolCallFailed
		switch {
		case answered[part.ToolCallID]:
		case inline:
			resolved = append(resolved, part)
		case !last:
			log.WithFields(logger.Fields{"message": idx, "tool_call_id": part.ToolCallID}).Warn("dropped unanswered tool call")
			continue
		}
		called[part.ToolCallID] = true
		part.Result = nil
		part.Status = ""
		current = append(current, part)
	}
	flush()
	if len(out) == 0 {
		msg.Content = current
		return []domain.Message{msg}
	}
	return out
}

func normalizeOne(idx int, raw domain.RawMessage, log *logger.LogEntry) (domain.Message, error) {
	if !gjson.ValidBytes(raw) {
		return domain.Message{}, ErrMessageNotObject
	}
	node := gjson.ParseBytes(raw)
	if !node.IsObject() {
		return domain.Message{}, ErrMessageNotObject
	}
	role := strings.ToLower(strings.TrimSpace(node.Get("role").String()))
	switch role {
	case "human":
		role = domain.RoleUser
	case "ai":
		role = domain.RoleAssistant
	case domain.RoleSystem, domain.RoleUser, domain.RoleAssistant, domain.RoleTool:
	default:
		return domain.Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	msg := domain.Message{
		ID:      node.Get("id").String(),
		Role:    role,
		Content: []domain.ContentPart{},
	}

	content := node.Get("content")
	switch {
	case !content.Exists() || content.Type == gjson.Null:
	case content.Type == gjson.String:
		if role == domain.RoleTool {
			if id := firstString(node, "tool_call_id", "toolCallId"); id != "" {
				msg.Content = append(msg.Content, domain.ToolResultPart(id, firstString(node, "name", "toolName"), content.String()))
				break
			}
		}
		if text := content.String(); text != "" {
			msg.Content = append(msg.Content, domain.TextPart(text))
		}
	case content.IsArray():
		for partIdx, item := range content.Array() {
			part, ok := normalizePart(item)
			if !ok {
				log.WithFields(logger.Fields{
					"message": idx,
					"part":    partIdx,
					"role":    role,
				}).Warn("dropped unrecognized content part")
				continue
			}
			msg.Content = append(msg.Content, part)
		}
	default:
		log.WithFields(logger.Fields{"message": idx, "role": role}).Warn("ignored non-text content value")
	}

	msg.Content = appendToolCallLists(msg.Content, node)
	msg.Content = foldAttachments(idx, msg.Content, node.Get("attachments"), log)
	return msg, nil
}

func normalizePart(item gjson.Result) (domain.ContentPart, bool) {
	if item.Type == gjson.String {
		return domain.TextPart(item.String()), true
	}
	if !item.IsObject() {
		return domain.ContentPart{}, false
	}
	switch strings.ToLower(item.Get("type").String()) {
	case "text", "input_text", "output_text":
		part := domain.TextPart(firstString(item, "text", "value"))
		part.IsError = item.Get("isError").Bool()
		return part, true
	case "tool-call", "tool_call", "tool_use", "function_call":
		id := firstString(item, "toolCallId", "id", "call_id")
		name := firstString(item, "toolName", "name", "function.name")
		if id == "" || name == "" {
			return domain.ContentPart{}, false
		}
		args, _ := parseArgs(item, "args", "input", "arguments", "function.arguments")
		part := domain.ToolCallPart(id, name, args)
		part.Status = item.Get("status").String()
		part.Result = resultValue(item.Get("result"))
		return part, true
	case "tool-result", "tool_result", "function_call_output":
		id := firstString(item, "toolCallId", "tool_use_id", "tool_call_id", "call_id")
		if id == "" {
			return domain.ContentPart{}, false
		}
		result := item.Get("result")
		if !result.Exists() {
			result = firstExisting(item, "content", "output")
		}
		return domain.ToolResultPart(id, firstString(item, "toolName", "name"), resultValue(result)), true
	case "file-attachment", "file", "attachment":
		return attachmentPart(item)
	}
	return domain.ContentPart{}, false
}

func appendToolCallLists(parts []domain.ContentPart, node gjson.Result) []domain.ContentPart {
	seen := map[string]bool{}
	for _, part := range parts {
		if part.Type == domain.PartToolCall {
			seen[part.ToolCallID] = true
		}
	}
	for _, path := range toolCallListPaths {
		list := node.Get(path)
		if !list.IsArray() {
			continue
		}
		for _, call := range list.Array() {
			id := firstString(call, "id", "toolCallId")
			name := firstString(call, "function.name", "name", "toolName")
			if id == "" || name == "" || seen[id] {
				continue
			}
			args, _ := parseArgs(call, "function.arguments", "args", "arguments")
			parts = append(parts, domain.ToolCallPart(id, name, args))
			seen[id] = true
		}
	}
	return parts
}

func foldAttachments(idx int, parts []domain.ContentPart, attachments gjson.Result, log *logger.LogEntry) []domain.ContentPart {
	if !attachments.IsArray() {
		return parts
	}
	present := map[string]bool{}
	for _, part := range parts {
		if part.Type == domain.PartFileAttachment {
			present[part.FileID] = true
		}
	}
	for attIdx, item := range attachments.Array() {
		part, ok := attachmentPart(item)
		if !ok {
			log.WithFields(logger.Fields{
				"message":    idx,
				"attachment": attIdx,
				"missing":    strings.Join(missingAttachmentFields(item), ","),
			}).Warn("dropped attachment without id, name or path")
			continue
		}
		if present[part.FileID] {
			continue
		}
		present[part.FileID] = true
		parts = append(parts, part)
	}
	return parts
}

func attachmentPart(item gjson.Result) (domain.ContentPart, bool) {
	if !item.IsObject() {
		return domain.ContentPart{}, false
	}
	part := domain.ContentPart{
		Type:       domain.PartFileAttachment,
		FileID:     strings.TrimSpace(firstString(item, "fileId", "id")),
		FileName:   strings.TrimSpace(firstString(item, "fileName", "name")),
		FilePath:   strings.TrimSpace(firstString(item, "filePath", "path")),
		InlineData: firstString(item, "inlineData", "data"),
		MimeType:   firstString(item, "mimeType", "contentType", "mediaType"),
	}
	if part.FileID == "" || part.FileName == "" || part.FilePath == "" {
		return domain.ContentPart{}, false
	}
	return part, true
}

func missingAttachmentFields(item gjson.Result) []string {
	missing := []string{}
	if strings.TrimSpace(firstString(item, "fileId", "id")) == "" {
		missing = append(missing, "fileId")
	}
	if strings.TrimSpace(firstString(item, "fileName", "name")) == "" {
		missing = append(missing, "fileName")
	}
	if strings.TrimSpace(firstString(item, "filePath", "path")) == "" {
		missing = append(missing, "filePath")
	}
	return missing
}

// parseArgs reads tool arguments given either as an object or as a JSON-encoded string.
func parseArgs(node gjson.Result, paths ...string) (map[string]interface{}, string) {
	value := firstExisting(node, paths...)
	if value.Type == gjson.String {
		text := value.String()
		if parsed := gjson.Parse(text); gjson.Valid(text) && parsed.IsObject() {
			if args, ok := parsed.Value().(map[string]interface{}); ok {
				return args, text
			}
		}
		return map[string]interface{}{}, text
	}
	if args, ok := value.Value().(map[string]interface{}); ok {
		return args, value.Raw
	}
	return map[string]interface{}{}, ""
}

func resultValue(node gjson.Result) interface{} {
	if !node.Exists() {
		return nil
	}
	return node.Value()
}

func firstExisting(node gjson.Result, paths ...string) gjson.Result {
	for _, path := range paths {
		if value := node.Get(path); value.Exists() && value.Type != gjson.Null {
			return value
		}
	}
	return gjson.Result{}
}

func firstString(node gjson.Result, paths ...string) string {
	for _, path := range paths {
		if value := node.Get(path); value.Type == gjson.String && value.String() != "" {
			return value.String()
		}
	}
	return ""
}

// MergeDocumentContext folds docContext into the trailing user message, prepending a text part when it has none.
func MergeDocumentContext(messages []domain.Message, docContext string) []domain.Message {
	docContext = strings.TrimSpace(docContext)
	if docContext == "" || len(messages) == 0 || messages[len(messages)-1].Role != domain.RoleUser {
		return messages
	}
	out := append([]domain.Message(nil), messages...)
	last := out[len(out)-1]
	block := "Document context:\n" + docContext

	content := make([]domain.ContentPart, 0, len(last.Content)+1)
	merged := false
	for _, part := range last.Content {
		if !merged && part.Type == domain.PartText {
			part.Text = strings.TrimRight(part.Text, "\n") + "\n\n" + block
			merged = true
		}
		content = append(content, part)
	}
	if !merged {
		content = append([]domain.ContentPart{domain.TextPart(block)}, content...)
	}
	last.Content = content
	out[len(out)-1] = last
	return out
}

// WithSystemPrompt prepends a system message unless the client already supplied one.
func WithSystemPrompt(messages []domain.Message, prompt string, dateTime map[string]interface{}) []domain.Message {
	if len(messages) > 0 && messages[0].Role == domain.RoleSystem {
		return messages
	}
	text := strings.TrimSpace(prompt)
	if line := renderDateTime(dateTime); line != "" {
		if text != "" {
			text += "\n\n"
		}
		text += line
	}
	if text == "" {
		return messages
	}
	out := make([]domain.Message, 0, len(messages)+1)
	out = append(out, domain.Message{Role: domain.RoleSystem, Content: []domain.ContentPart{domain.TextPart(text)}})
	return append(out, messages...)
}

func renderDateTime(values map[string]interface{}) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		switch v := values[k].(type) {
		case string:
			parts = append(parts, fmt.Sprintf("%s=%s", k, v))
		default:
			b, _ := json.Marshal(v)
			parts = append(parts, fmt.Sprintf("%s=%s", k, b))
		}
	}
	return "Current date/time context: " + strings.Join(parts, ", ")
}
