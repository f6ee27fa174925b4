package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"chatdesk/gateway/internal/domain"
	"chatdesk/gateway/internal/logger"
	"chatdesk/gateway/internal/plugin"
	"chatdesk/gateway/internal/toolreg"
)

var ErrToolNotRegistered = errors.New("tool_not_registered")

var log = logger.Named("dispatch")

// Dispatcher validates and runs tool calls one at a time.
type Dispatcher struct {
	registry *toolreg.Registry
	plugins  map[string]plugin.ToolPlugin
	timeout  time.Duration
}

// New builds a dispatcher over the registered plugins. A zero timeout disables the per-call limit.
func New(registry *toolreg.Registry, plugins map[string]plugin.ToolPlugin, timeout time.Duration) *Dispatcher {
	if plugins == nil {
		plugins = map[string]plugin.ToolPlugin{}
	}
	return &Dispatcher{registry: registry, plugins: plugins, timeout: timeout}
}

// Enabled lists the tools offered to the model under prefs.
func (d *Dispatcher) Enabled(prefs map[string]bool) []toolreg.Spec {
	return d.registry.Enabled(prefs)
}

func (d *Dispatcher) IsEnabled(name string, prefs map[string]bool) bool {
	return d.registry.IsEnabled(name, prefs)
}

// Validate checks every call before any is started and returns the first *toolreg.MissingToolArgumentsError.
func (d *Dispatcher) Validate(scope domain.RequestScope, calls []domain.ToolCallRequest) error {
	for _, call := range calls {
		if err := d.registry.EnsureArguments(call.ToolName, call.Args, scope.DocumentContext); err != nil {
			return err
		}
	}
	return nil
}

// Execute runs one call to a terminal record. Tool failures, timeouts and panics become failed records;
// only missing arguments are returned as an error.
func (d *Dispatcher) Execute(ctx context.Context, scope domain.RequestScope, call domain.ToolCallRequest) (domain.ToolCallRecord, error) {
	if err := d.registry.EnsureArguments(call.ToolName, call.Args, scope.DocumentContext); err != nil {
		return domain.ToolCallRecord{}, err
	}

	record := domain.ToolCallRecord{
		ID:       call.ID,
		ToolName: call.ToolName,
		Args:     call.Args,
		ArgsText: call.ArgsText,
		Status:   domain.ToolCallExecuting,
	}
	entry := log.WithFields(logger.Fields{
		"request_id": scope.RequestID,
		"tool":       call.ToolName,
		"call_id":    call.ID,
	})

	started := time.Now()
	result, err := d.invoke(ctx, scope, call)
	record.Duration = time.Since(started)
	if err != nil {
		record.Status = domain.ToolCallFailed
		record.Error = err.Error()
		entry.WithError(err).WithField("duration_ms", record.Duration.Milliseconds()).Warn("tool call failed")
		return record, nil
	}
	payload, err := result.ToMap()
	if err != nil {
		record.Status = domain.ToolCallFailed
		record.Error = fmt.Sprintf("tool %s returned a result that is not a JSON object", call.ToolName)
		entry.WithError(err).Warn("tool result rejected")
		return record, nil
	}
	record.Status = domain.ToolCallCompleted
	record.Result = payload
	entry.WithField("duration_ms", record.Duration.Milliseconds()).Info("tool call completed")
	return record, nil
}

func (d *Dispatcher) invoke(ctx context.Context, scope domain.RequestScope, call domain.ToolCallRequest) (result plugin.ToolResult, err error) {
	p, ok := d.plugins[call.ToolName]
	if !ok {
		return plugin.ToolResult{}, fmt.Errorf("%w: %s", ErrToolNotRegistered, call.ToolName)
	}

	callCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			log.WithField("stack", string(debug.Stack())).Errorf("tool %s panicked: %v", call.ToolName, recovered)
			err = fmt.Errorf("tool %s panicked: %v", call.ToolName, recovered)
		}
	}()

	args := call.Args
	if args == nil {
		args = map[string]interface{}{}
	}
	result, err = p.Invoke(callCtx, scope, args)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("tool %s timed out after %s: %w", call.ToolName, d.timeout, err)
	}
	return result, err
}
