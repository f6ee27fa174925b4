package domain

import (
	"encoding/json"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

const (
	PartText           = "text"
	PartToolCall       = "tool-call"
	PartToolResult     = "tool-result"
	PartFileAttachment = "file-attachment"
)

type APIErrorBody struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Message is one canonical conversation turn. Values are replaced, never edited, after normalization.
type Message struct {
	ID      string        `json:"id,omitempty"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is a tagged union keyed by Type. Only the fields of the active variant are set.
type ContentPart struct {
	Type string `json:"type"`

	// text
	Text    string `json:"text,omitempty"`
	IsError bool   `json:"isError,omitempty"`

	// tool-call and tool-result
	ToolCallID string                 `json:"toolCallId,omitempty"`
	ToolName   string                 `json:"toolName,omitempty"`
	Args       map[string]interface{} `json:"args,omitempty"`
	Result     interface{}            `json:"result,omitempty"`
	Status     string                 `json:"status,omitempty"`

	// file-attachment
	FileID     string `json:"fileId,omitempty"`
	FileName   string `json:"fileName,omitempty"`
	FilePath   string `json:"filePath,omitempty"`
	InlineData string `json:"inlineData,omitempty"`
	MimeType   string `json:"mimeType,omitempty"`
}

func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

func ToolCallPart(id, name string, args map[string]interface{}) ContentPart {
	return ContentPart{Type: PartToolCall, ToolCallID: id, ToolName: name, Args: args}
}

func ToolResultPart(id, name string, result interface{}) ContentPart {
	return ContentPart{Type: PartToolResult, ToolCallID: id, ToolName: name, Result: result}
}

// Text joins all text parts of the message.
func (m Message) Text() string {
	out := ""
	for _, part := range m.Content {
		if part.Type == PartText {
			out += part.Text
		}
	}
	return out
}

// ToolCalls returns the tool-call parts of the message in order.
func (m Message) ToolCalls() []ContentPart {
	out := []ContentPart{}
	for _, part := range m.Content {
		if part.Type == PartToolCall {
			out = append(out, part)
		}
	}
	return out
}

const (
	ToolCallRequested = "requested"
	ToolCallExecuting = "executing"
	ToolCallCompleted = "completed"
	ToolCallFailed    = "failed"
)

// ToolCallRequest is a tool invocation proposed by the model.
type ToolCallRequest struct {
	ID       string                 `json:"id"`
	ToolName string                 `json:"toolName"`
	Args     map[string]interface{} `json:"args"`
	ArgsText string                 `json:"argsText,omitempty"`
}

// ToolCallRecord tracks one invocation from request to a terminal status.
type ToolCallRecord struct {
	ID       string                 `json:"id"`
	ToolName string                 `json:"toolName"`
	Args     map[string]interface{} `json:"args"`
	ArgsText string                 `json:"argsText,omitempty"`
	Status   string                 `json:"status"`
	Result   interface{}            `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Duration time.Duration          `json:"-"`
}

// Payload is the value reported to the model and the client for a terminal record.
func (r ToolCallRecord) Payload() interface{} {
	if r.Status == ToolCallFailed {
		return map[string]interface{}{
			"success": false,
			"error":   r.Error,
		}
	}
	return r.Result
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	ChatID           string                 `json:"chatId,omitempty"`
	Messages         []RawMessage           `json:"messages"`
	ToolPreferences  map[string]bool        `json:"toolPreferences,omitempty"`
	DocumentContext  string                 `json:"documentContext,omitempty"`
	DateTimeContext  map[string]interface{} `json:"dateTimeContext,omitempty"`
	RecursionLimit   *int                   `json:"recursionLimit,omitempty"`
	WebSearchOptions map[string]interface{} `json:"webSearchOptions,omitempty"`
}

// RawMessage is a client-supplied message in any of the accepted shapes.
type RawMessage = json.RawMessage

// RequestScope carries immutable per-request values to the model adapter and tools.
type RequestScope struct {
	RequestID        string
	ChatID           string
	DocumentContext  string
	DateTimeContext  map[string]interface{}
	WebSearchOptions map[string]interface{}
	ToolPreferences  map[string]bool
}

type ChatSpec struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	MessageCount int    `json:"message_count"`
}

type ChatHistory struct {
	Chat     ChatSpec  `json:"chat"`
	Messages []Message `json:"messages"`
}
