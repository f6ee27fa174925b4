package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"chatdesk/gateway/internal/domain"
	"chatdesk/gateway/internal/logger"
	"chatdesk/gateway/internal/runner"
	"chatdesk/gateway/internal/service/ports"
	"chatdesk/gateway/internal/stream"
	"chatdesk/gateway/internal/toolreg"
)

const (
	ErrorCodeMissingToolArguments = "missing_tool_arguments"
	ErrorCodeClientClosed         = "client_closed"
	ErrorCodeStreamFailed         = "stream_failed"

	ReasonStepLimit    = "step-limit"
	ReasonClientClosed = "client-closed"
	ReasonError        = "error"
)

type LoopStatus string

const (
	StatusRunning       LoopStatus = "running"
	StatusAwaitingTools LoopStatus = "awaiting-tools"
	StatusCompleted     LoopStatus = "completed"
	StatusAborted       LoopStatus = "aborted"
)

var log = logger.Named("agent")

// AgentLoopState belongs to one request and is never shared.
type AgentLoopState struct {
	Status               LoopStatus
	Reason               string
	Messages             []domain.Message
	StepCount            int
	ProcessedToolCallIDs map[string]struct{}
	ProcessedAIMessages  map[string]struct{}
}

type ProcessParams struct {
	Scope          domain.RequestScope
	History        []domain.Message
	GenerateConfig runner.GenerateConfig
	RecursionLimit int
}

type ProcessResult struct {
	MessageID string
	// Messages holds what the loop appended after the input history, in order.
	Messages       []domain.Message
	Status         LoopStatus
	Reason         string
	Steps          int
	ToolExecutions int
	ToolsUsed      []string
	Text           string
}

type ProcessError struct {
	Code    string
	Message string
	Err     error
}

func (e *ProcessError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type Dependencies struct {
	Runner ports.ModelRunner
	Tools  ports.ToolExecutor
}

type Service struct {
	deps Dependencies
}

func NewService(deps Dependencies) *Service {
	return &Service{deps: deps}
}

// Process drives the model/tool loop for one request and streams its progress through emitter.
// Every non-silent exit emits either message-end or error, followed by done.
func (s *Service) Process(ctx context.Context, params ProcessParams, emitter *stream.Emitter) (ProcessResult, *ProcessError) {
	if s == nil {
		return ProcessResult{}, &ProcessError{Code: "agent_service_unavailable", Message: "agent service is unavailable"}
	}
	if err := s.validateDependencies(); err != nil {
		return ProcessResult{}, &ProcessError{Code: "agent_service_misconfigured", Message: err.Error()}
	}
	limit := params.RecursionLimit
	if limit <= 0 {
		return ProcessResult{}, &ProcessError{Code: "invalid_request", Message: "recursion limit must be positive"}
	}

	l := &loop{
		svc:     s,
		params:  params,
		limit:   limit,
		emitter: emitter,
		log:     log.WithField("request_id", params.Scope.RequestID),
		state: AgentLoopState{
			Status:               StatusRunning,
			Messages:             append([]domain.Message(nil), params.History...),
			ProcessedToolCallIDs: map[string]struct{}{},
			ProcessedAIMessages:  map[string]struct{}{},
		},
		start: len(params.History),
	}
	return l.run(ctx)
}

func (s *Service) validateDependencies() error {
	switch {
	case s.deps.Runner == nil:
		return errors.New("missing agent runner dependency")
	case s.deps.Tools == nil:
		return errors.New("missing agent tool executor dependency")
	default:
		return nil
	}
}

type loop struct {
	svc     *Service
	params  ProcessParams
	limit   int
	emitter *stream.Emitter
	log     *logger.LogEntry
	state   AgentLoopState
	start   int
	msgID   string

	text      strings.Builder
	toolCalls int
	toolsUsed []string
}

func (l *loop) run(ctx context.Context) (ProcessResult, *ProcessError) {
	scope := l.params.Scope
	tools := runner.DefinitionsFromSpecs(l.svc.deps.Tools.Enabled(scope.ToolPreferences))

	l.msgID = uuid.NewString()
	if _, err := l.emitter.MessageStart(l.msgID); err != nil {
		return l.closed(err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return l.closed(err)
		}
		if err := l.emitter.Thinking(thinkingMessage(l.state.StepCount)); err != nil {
			return l.closed(err)
		}

		turn, err := l.svc.deps.Runner.GenerateTurn(ctx, l.state.Messages, l.params.GenerateConfig, tools)
		if err != nil {
			if ctx.Err() != nil {
				return l.closed(ctx.Err())
			}
			return l.fail(runnerErrorCode(err), err.Error(), err)
		}

		repeatedTurn := false
		if turn.ResponseID != "" {
			_, repeatedTurn = l.state.ProcessedAIMessages[turn.ResponseID]
			l.state.ProcessedAIMessages[turn.ResponseID] = struct{}{}
		}

		calls := l.newToolCalls(turn.ToolCalls)
		if len(calls) == 0 {
			text := turn.Text
			if repeatedTurn {
				text = ""
			}
			return l.complete(text)
		}

		if l.state.StepCount >= l.limit {
			text := turn.Text
			if repeatedTurn {
				text = ""
			}
			return l.abortStepLimit(text)
		}
		l.transition(StatusAwaitingTools, "")

		if err := l.svc.deps.Tools.Validate(scope, calls); err != nil {
			return l.fail(ErrorCodeMissingToolArguments, err.Error(), err)
		}
		for _, call := range calls {
			l.state.ProcessedToolCallIDs[call.ID] = struct{}{}
		}

		if !repeatedTurn && turn.Text != "" {
			if err := l.emitText(turn.Text); err != nil {
				return l.closed(err)
			}
		}
		if perr := l.runTools(ctx, turn.Text, calls); perr != nil {
			return l.result(), perr
		}

		l.state.StepCount++
		if err := l.emitter.StepProgression(l.state.StepCount, l.limit); err != nil {
			return l.closed(err)
		}
		l.transition(StatusRunning, "")
	}
}

// newToolCalls drops calls already processed in this request and calls to disabled or unknown tools.
func (l *loop) newToolCalls(requested []runner.ToolCall) []domain.ToolCallRequest {
	prefs := l.params.Scope.ToolPreferences
	out := make([]domain.ToolCallRequest, 0, len(requested))
	seen := map[string]struct{}{}
	for _, call := range requested {
		entry := l.log.WithFields(logger.Fields{"tool": call.Name, "call_id": call.ID})
		if _, done := l.state.ProcessedToolCallIDs[call.ID]; done {
			entry.Info("skipping already processed tool call")
			continue
		}
		if _, dup := seen[call.ID]; dup {
			entry.Info("skipping repeated tool call in turn")
			continue
		}
		if !l.svc.deps.Tools.IsEnabled(call.Name, prefs) {
			entry.Warn("skipping call to disabled or unknown tool")
			continue
		}
		seen[call.ID] = struct{}{}
		args := call.Arguments
		if args == nil {
			args = map[string]interface{}{}
		}
		out = append(out, domain.ToolCallRequest{
			ID:       call.ID,
			ToolName: call.Name,
			Args:     args,
			ArgsText: call.ArgumentsRaw,
		})
	}
	return out
}

func (l *loop) runTools(ctx context.Context, text string, calls []domain.ToolCallRequest) *ProcessError {
	assistant := domain.Message{ID: uuid.NewString(), Role: domain.RoleAssistant}
	if text != "" {
		assistant.Content = append(assistant.Content, domain.TextPart(text))
	}
	for _, call := range calls {
		assistant.Content = append(assistant.Content, domain.ToolCallPart(call.ID, call.ToolName, call.Args))
	}
	l.state.Messages = append(l.state.Messages, assistant)

	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			_, perr := l.closed(err)
			return perr
		}
		if _, err := l.emitter.ToolCallStart(call); err != nil {
			_, perr := l.closed(err)
			return perr
		}
		if err := l.emitter.ToolStatus(call.ToolName, fmt.Sprintf("Running %s", call.ToolName)); err != nil {
			_, perr := l.closed(err)
			return perr
		}

		record, err := l.svc.deps.Tools.Execute(ctx, l.params.Scope, call)
		if err != nil {
			var missing *toolreg.MissingToolArgumentsError
			if errors.As(err, &missing) {
				_, perr := l.fail(ErrorCodeMissingToolArguments, err.Error(), err)
				return perr
			}
			record = domain.ToolCallRecord{ID: call.ID, ToolName: call.ToolName, Args: call.Args, Status: domain.ToolCallFailed, Error: err.Error()}
		}
		l.toolCalls++
		l.toolsUsed = append(l.toolsUsed, call.ToolName)

		if _, err := l.emitter.ToolResult(record); err != nil {
			_, perr := l.closed(err)
			return perr
		}
		if err := l.emitter.ToolCompletion(call.ToolName, completionMessage(record)); err != nil {
			_, perr := l.closed(err)
			return perr
		}

		result := domain.ToolResultPart(record.ID, record.ToolName, record.Payload())
		result.Status = record.Status
		l.state.Messages = append(l.state.Messages, domain.Message{
			ID:      uuid.NewString(),
			Role:    domain.RoleTool,
			Content: []domain.ContentPart{result},
		})
	}
	return nil
}

func (l *loop) emitText(text string) error {
	l.text.WriteString(text)
	return l.emitter.Text(text)
}

func (l *loop) complete(text string) (ProcessResult, *ProcessError) {
	if text != "" {
		if err := l.emitText(text); err != nil {
			return l.closed(err)
		}
	}
	l.state.Messages = append(l.state.Messages, domain.Message{
		ID:      uuid.NewString(),
		Role:    domain.RoleAssistant,
		Content: []domain.ContentPart{domain.TextPart(text)},
	})
	l.transition(StatusCompleted, "")
	if err := l.finish(""); err != nil {
		return l.closed(err)
	}
	return l.result(), nil
}

// abortStepLimit keeps the final turn's text; its tool calls are never run.
func (l *loop) abortStepLimit(text string) (ProcessResult, *ProcessError) {
	if text != "" {
		if err := l.emitText(text); err != nil {
			return l.closed(err)
		}
		l.state.Messages = append(l.state.Messages, domain.Message{
			ID:      uuid.NewString(),
			Role:    domain.RoleAssistant,
			Content: []domain.ContentPart{domain.TextPart(text)},
		})
	}
	l.transition(StatusAborted, ReasonStepLimit)
	if err := l.finish(ReasonStepLimit); err != nil {
		return l.closed(err)
	}
	return l.result(), nil
}

func (l *loop) finish(reason string) error {
	if err := l.emitter.CompletionSummary(l.state.StepCount, l.toolCalls, lo.Uniq(l.toolsUsed)); err != nil {
		return err
	}
	if err := l.emitter.MessageEnd(reason); err != nil {
		return err
	}
	return l.emitter.Done()
}

// fail aborts with an error event. Output already streamed stays with the client.
func (l *loop) fail(code, message string, cause error) (ProcessResult, *ProcessError) {
	l.transition(StatusAborted, ReasonError)
	l.log.WithError(cause).WithField("code", code).Warn("agent loop aborted")
	if err := l.emitter.Error(message); err == nil {
		_ = l.emitter.Done()
	}
	return l.result(), &ProcessError{Code: code, Message: message, Err: cause}
}

// closed stops silently once the client is gone.
func (l *loop) closed(cause error) (ProcessResult, *ProcessError) {
	l.transition(StatusAborted, ReasonClientClosed)
	code := ErrorCodeClientClosed
	if cause != nil && !errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded) {
		code = ErrorCodeStreamFailed
	}
	return l.result(), &ProcessError{Code: code, Message: "client stream closed", Err: cause}
}

func (l *loop) transition(status LoopStatus, reason string) {
	if l.state.Status == StatusCompleted || l.state.Status == StatusAborted {
		return
	}
	l.log.WithFields(logger.Fields{
		"from":   l.state.Status,
		"to":     status,
		"step":   l.state.StepCount,
		"reason": reason,
	}).Debug("agent loop transition")
	l.state.Status = status
	l.state.Reason = reason
}

func (l *loop) result() ProcessResult {
	return ProcessResult{
		MessageID:      l.msgID,
		Messages:       append([]domain.Message(nil), l.state.Messages[l.start:]...),
		Status:         l.state.Status,
		Reason:         l.state.Reason,
		Steps:          l.state.StepCount,
		ToolExecutions: l.toolCalls,
		ToolsUsed:      lo.Uniq(l.toolsUsed),
		Text:           l.text.String(),
	}
}

func runnerErrorCode(err error) string {
	var runnerErr *runner.RunnerError
	if errors.As(err, &runnerErr) && runnerErr.Code != "" {
		return runnerErr.Code
	}
	return runner.ErrorCodeProviderRequestFailed
}

func thinkingMessage(step int) string {
	if step == 0 {
		return "Thinking..."
	}
	return fmt.Sprintf("Thinking about step %d results...", step)
}

func completionMessage(record domain.ToolCallRecord) string {
	if record.Status == domain.ToolCallFailed {
		return fmt.Sprintf("%s failed: %s", record.ToolName, record.Error)
	}
	return fmt.Sprintf("%s completed", record.ToolName)
}
