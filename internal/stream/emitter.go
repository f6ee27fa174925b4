package stream

import (
	"regexp"
	"sync"

	"chatdesk/gateway/internal/domain"
)

var wordChunkPattern = regexp.MustCompile(`\s*\S+\s*`)

// ChunkText splits text into word-sized pieces whose concatenation is exactly text.
func ChunkText(text string) []string {
	if text == "" {
		return nil
	}
	chunks := wordChunkPattern.FindAllString(text, -1)
	if len(chunks) == 0 {
		return []string{text}
	}
	return chunks
}

// Emitter turns agent progress into wire events. It drops repeated tool-call and message ids,
// and after the first sink failure it stops writing and keeps returning that error.
type Emitter struct {
	mu              sync.Mutex
	sink            Sink
	err             error
	startedMessages map[string]struct{}
	startedCalls    map[string]struct{}
	finishedCalls   map[string]struct{}
}

func NewEmitter(sink Sink) *Emitter {
	return &Emitter{
		sink:            sink,
		startedMessages: map[string]struct{}{},
		startedCalls:    map[string]struct{}{},
		finishedCalls:   map[string]struct{}{},
	}
}

// Emit sends one event now.
func (e *Emitter) Emit(evt domain.StreamEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sendLocked(evt)
}

func (e *Emitter) sendLocked(evt domain.StreamEvent) error {
	if e.err != nil {
		return e.err
	}
	if err := e.sink.Send(evt); err != nil {
		e.err = err
		return err
	}
	return nil
}

// Err returns the sticky sink error, if any.
func (e *Emitter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// MessageStart opens an assistant turn. A message id seen before is ignored and reports false.
func (e *Emitter) MessageStart(messageID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if messageID != "" {
		if _, seen := e.startedMessages[messageID]; seen {
			return false, nil
		}
		e.startedMessages[messageID] = struct{}{}
	}
	return true, e.sendLocked(domain.StreamEvent{Type: domain.EventMessageStart, Role: domain.RoleAssistant})
}

// Text emits text as a run of text-delta events.
func (e *Emitter) Text(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, chunk := range ChunkText(text) {
		if err := e.sendLocked(domain.StreamEvent{Type: domain.EventTextDelta, Text: chunk}); err != nil {
			return err
		}
	}
	return nil
}

// ToolCallStart announces a validated call. A call id seen before is ignored and reports false.
func (e *Emitter) ToolCallStart(call domain.ToolCallRequest) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, seen := e.startedCalls[call.ID]; seen {
		return false, nil
	}
	e.startedCalls[call.ID] = struct{}{}
	args := call.Args
	if args == nil {
		args = map[string]interface{}{}
	}
	return true, e.sendLocked(domain.StreamEvent{
		Type: domain.EventToolCallStart,
		Part: &domain.EventPart{
			ToolCallID: call.ID,
			ToolName:   call.ToolName,
			Args:       args,
			ArgsText:   call.ArgsText,
		},
	})
}

// ToolResult closes a started call. Results for calls never started, or already closed, are dropped.
func (e *Emitter) ToolResult(record domain.ToolCallRecord) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, started := e.startedCalls[record.ID]; !started {
		return false, nil
	}
	if _, done := e.finishedCalls[record.ID]; done {
		return false, nil
	}
	e.finishedCalls[record.ID] = struct{}{}
	return true, e.sendLocked(domain.StreamEvent{
		Type: domain.EventToolResult,
		Part: &domain.EventPart{
			ToolCallID: record.ID,
			ToolName:   record.ToolName,
			Result:     record.Payload(),
		},
	})
}

func (e *Emitter) Thinking(message string) error {
	return e.Emit(domain.StreamEvent{Type: domain.EventThinking, Message: message})
}

func (e *Emitter) ToolStatus(tool, message string) error {
	return e.Emit(domain.StreamEvent{Type: domain.EventToolStatus, Tool: tool, Message: message})
}

func (e *Emitter) ToolCompletion(tool, message string) error {
	return e.Emit(domain.StreamEvent{Type: domain.EventToolCompletion, Tool: tool, Message: message})
}

func (e *Emitter) StepProgression(step, totalSteps int) error {
	return e.Emit(domain.StreamEvent{Type: domain.EventStepProgression, Step: step, TotalSteps: totalSteps})
}

func (e *Emitter) CompletionSummary(totalSteps, toolExecutions int, toolsUsed []string) error {
	return e.Emit(domain.StreamEvent{
		Type:           domain.EventCompletionSummary,
		TotalSteps:     totalSteps,
		ToolExecutions: toolExecutions,
		ToolsUsed:      toolsUsed,
	})
}

// MessageEnd closes the turn. An empty reason means a complete turn.
func (e *Emitter) MessageEnd(reason string) error {
	status := &domain.MessageStatus{Type: domain.StatusComplete}
	if reason != "" {
		status = &domain.MessageStatus{Type: domain.StatusIncomplete, Reason: reason}
	}
	return e.Emit(domain.StreamEvent{Type: domain.EventMessageEnd, Status: status})
}

func (e *Emitter) Error(message string) error {
	return e.Emit(domain.StreamEvent{Type: domain.EventError, Error: message})
}

func (e *Emitter) Done() error {
	return e.Emit(domain.StreamEvent{Type: domain.EventDone})
}
