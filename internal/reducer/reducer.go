package reducer

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"chatdesk/gateway/internal/domain"
)

const ReasonError = "error"

// Reducer folds one assistant turn's events into its content parts.
// It is not safe for concurrent use.
type Reducer struct {
	content []domain.ContentPart
	status  domain.MessageStatus
	frozen  bool
	done    bool
}

func New() *Reducer {
	return &Reducer{}
}

// Send lets a Reducer sit behind a stream sink.
func (r *Reducer) Send(evt domain.StreamEvent) error {
	r.Apply(evt)
	return nil
}

func (r *Reducer) Apply(evt domain.StreamEvent) {
	if evt.Type == domain.EventDone {
		r.done = true
		return
	}
	if r.frozen {
		return
	}
	switch evt.Type {
	case domain.EventTextDelta:
		if n := len(r.content); n > 0 && r.content[n-1].Type == domain.PartText && !r.content[n-1].IsError {
			r.content[n-1].Text += evt.Text
			return
		}
		r.content = append(r.content, domain.TextPart(evt.Text))
	case domain.EventToolCallStart:
		if evt.Part == nil {
			return
		}
		part := domain.ToolCallPart(evt.Part.ToolCallID, evt.Part.ToolName, evt.Part.Args)
		part.Status = domain.ToolCallExecuting
		r.content = append(r.content, part)
	case domain.EventToolResult:
		if evt.Part == nil {
			return
		}
		for i := range r.content {
			part := &r.content[i]
			if part.Type != domain.PartToolCall || part.ToolCallID != evt.Part.ToolCallID {
				continue
			}
			part.Result = evt.Part.Result
			part.Status = domain.ToolCallCompleted
			return
		}
	case domain.EventError:
		r.content = append(r.content, domain.ContentPart{Type: domain.PartText, Text: evt.Error, IsError: true})
		r.status = domain.MessageStatus{Type: domain.StatusIncomplete, Reason: ReasonError}
		r.frozen = true
	case domain.EventMessageEnd:
		r.status = domain.MessageStatus{Type: domain.StatusComplete}
		if evt.Status != nil {
			r.status = *evt.Status
		}
		r.frozen = true
	}
}

// Content returns a copy of the buffer.
func (r *Reducer) Content() []domain.ContentPart {
	return append([]domain.ContentPart(nil), r.content...)
}

// Status is the turn outcome; empty until message-end or error.
func (r *Reducer) Status() domain.MessageStatus {
	return r.status
}

// Frozen reports whether the turn has ended.
func (r *Reducer) Frozen() bool {
	return r.frozen
}

// Done reports whether the done event was seen.
func (r *Reducer) Done() bool {
	return r.done
}

// Message returns the folded turn as an assistant message.
func (r *Reducer) Message(id string) domain.Message {
	return domain.Message{ID: id, Role: domain.RoleAssistant, Content: r.Content()}
}

// ReadStream decodes "data:" blocks from an event stream and hands each event to onEvent.
// It returns after the done event or at end of input.
func ReadStream(reader io.Reader, onEvent func(domain.StreamEvent) error) error {
	if reader == nil {
		return errors.New("stream reader is nil")
	}
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	dataLines := make([]string, 0, 4)
	finished := false
	flushBlock := func() error {
		if len(dataLines) == 0 {
			return nil
		}
		payload := strings.TrimSpace(strings.Join(dataLines, "\n"))
		dataLines = dataLines[:0]
		if payload == "" {
			return nil
		}
		var evt domain.StreamEvent
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			return fmt.Errorf("decode stream event: %w", err)
		}
		if evt.Type == domain.EventDone {
			finished = true
		}
		if onEvent == nil {
			return nil
		}
		return onEvent(evt)
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			if err := flushBlock(); err != nil {
				return err
			}
			if finished {
				return nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data:") {
			continue
		}
		dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flushBlock()
}
