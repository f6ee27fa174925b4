package adapters

import (
	"context"
	"errors"

	"chatdesk/gateway/internal/domain"
	"chatdesk/gateway/internal/runner"
	"chatdesk/gateway/internal/service/ports"
	"chatdesk/gateway/internal/toolreg"
)

var (
	_ ports.ModelRunner  = AgentRunner{}
	_ ports.ToolExecutor = ToolExecutor{}
)

// AgentRunner adapts a function to ports.ModelRunner.
type AgentRunner struct {
	GenerateTurnFunc func(ctx context.Context, history []domain.Message, cfg runner.GenerateConfig, tools []runner.ToolDefinition) (runner.TurnResult, error)
}

func (a AgentRunner) GenerateTurn(ctx context.Context, history []domain.Message, cfg runner.GenerateConfig, tools []runner.ToolDefinition) (runner.TurnResult, error) {
	if a.GenerateTurnFunc == nil {
		return runner.TurnResult{}, errors.New("agent runner is unavailable")
	}
	return a.GenerateTurnFunc(ctx, history, cfg, tools)
}

// ToolExecutor adapts a registry plus an execute function to ports.ToolExecutor.
// Validation always goes through the registry.
type ToolExecutor struct {
	Registry    *toolreg.Registry
	ExecuteFunc func(ctx context.Context, scope domain.RequestScope, call domain.ToolCallRequest) (domain.ToolCallRecord, error)
}

func (a ToolExecutor) Enabled(prefs map[string]bool) []toolreg.Spec {
	if a.Registry == nil {
		return nil
	}
	return a.Registry.Enabled(prefs)
}

func (a ToolExecutor) IsEnabled(name string, prefs map[string]bool) bool {
	return a.Registry != nil && a.Registry.IsEnabled(name, prefs)
}

func (a ToolExecutor) Validate(scope domain.RequestScope, calls []domain.ToolCallRequest) error {
	if a.Registry == nil {
		return nil
	}
	for _, call := range calls {
		if err := a.Registry.EnsureArguments(call.ToolName, call.Args, scope.DocumentContext); err != nil {
			return err
		}
	}
	return nil
}

func (a ToolExecutor) Execute(ctx context.Context, scope domain.RequestScope, call domain.ToolCallRequest) (domain.ToolCallRecord, error) {
	if a.ExecuteFunc == nil {
		return domain.ToolCallRecord{}, errors.New("tool executor is unavailable")
	}
	return a.ExecuteFunc(ctx, scope, call)
}
