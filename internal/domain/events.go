package domain

import "encoding/json"

const (
	EventMessageStart      = "message-start"
	EventTextDelta         = "text-delta"
	EventToolCallStart     = "tool-call-start"
	EventToolStatus        = "tool-status"
	EventToolResult        = "tool-result"
	EventToolCompletion    = "tool-completion"
	EventThinking          = "thinking"
	EventStepProgression   = "step-progression"
	EventCompletionSummary = "completion-summary"
	EventMessageEnd        = "message-end"
	EventError             = "error"
	EventDone              = "done"
)

const (
	StatusComplete   = "complete"
	StatusIncomplete = "incomplete"
)

// StreamEvent is one wire event. Only the fields that belong to Type are serialized.
type StreamEvent struct {
	Type           string         `json:"type"`
	Role           string         `json:"role,omitempty"`
	Text           string         `json:"text,omitempty"`
	Part           *EventPart     `json:"part,omitempty"`
	Tool           string         `json:"tool,omitempty"`
	Message        string         `json:"message,omitempty"`
	Step           int            `json:"step,omitempty"`
	TotalSteps     int            `json:"totalSteps,omitempty"`
	ToolExecutions int            `json:"toolExecutions,omitempty"`
	ToolsUsed      []string       `json:"toolsUsed,omitempty"`
	Status         *MessageStatus `json:"status,omitempty"`
	Error          string         `json:"error,omitempty"`
}

type EventPart struct {
	ToolCallID string                 `json:"toolCallId"`
	ToolName   string                 `json:"toolName"`
	Args       map[string]interface{} `json:"args,omitempty"`
	ArgsText   string                 `json:"argsText,omitempty"`
	Result     interface{}            `json:"result,omitempty"`
}

type MessageStatus struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

func (e StreamEvent) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{"type": e.Type}
	switch e.Type {
	case EventMessageStart:
		out["role"] = e.Role
	case EventTextDelta:
		out["text"] = e.Text
	case EventToolCallStart:
		if e.Part != nil {
			args := e.Part.Args
			if args == nil {
				args = map[string]interface{}{}
			}
			out["part"] = map[string]interface{}{
				"toolCallId": e.Part.ToolCallID,
				"toolName":   e.Part.ToolName,
				"args":       args,
				"argsText":   e.Part.ArgsText,
			}
		}
	case EventToolResult:
		if e.Part != nil {
			out["part"] = map[string]interface{}{
				"toolCallId": e.Part.ToolCallID,
				"toolName":   e.Part.ToolName,
				"result":     e.Part.Result,
			}
		}
	case EventToolStatus, EventToolCompletion:
		out["tool"] = e.Tool
		out["message"] = e.Message
	case EventThinking:
		out["message"] = e.Message
	case EventStepProgression:
		out["step"] = e.Step
		out["totalSteps"] = e.TotalSteps
	case EventCompletionSummary:
		toolsUsed := e.ToolsUsed
		if toolsUsed == nil {
			toolsUsed = []string{}
		}
		out["totalSteps"] = e.TotalSteps
		out["toolExecutions"] = e.ToolExecutions
		out["toolsUsed"] = toolsUsed
	case EventMessageEnd:
		status := MessageStatus{Type: StatusComplete}
		if e.Status != nil {
			status = *e.Status
		}
		out["status"] = status
	case EventError:
		out["error"] = e.Error
	}
	return json.Marshal(out)
}
