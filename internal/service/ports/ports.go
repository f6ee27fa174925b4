package ports

import (
	"context"

	"chatdesk/gateway/internal/domain"
	"chatdesk/gateway/internal/runner"
	"chatdesk/gateway/internal/toolreg"
)

// ModelRunner performs one model invocation.
type ModelRunner interface {
	GenerateTurn(ctx context.Context, history []domain.Message, cfg runner.GenerateConfig, tools []runner.ToolDefinition) (runner.TurnResult, error)
}

// ToolExecutor owns the tool catalog and runs individual calls.
type ToolExecutor interface {
	Enabled(prefs map[string]bool) []toolreg.Spec
	IsEnabled(name string, prefs map[string]bool) bool
	Validate(scope domain.RequestScope, calls []domain.ToolCallRequest) error
	Execute(ctx context.Context, scope domain.RequestScope, call domain.ToolCallRequest) (domain.ToolCallRecord, error)
}

// ChatStore persists chat histories keyed by chat id.
type ChatStore interface {
	ListChats(ctx context.Context) ([]domain.ChatSpec, error)
	GetChat(ctx context.Context, chatID string) (domain.ChatHistory, error)
	SaveChat(ctx context.Context, chatID string, messages []domain.Message) (domain.ChatSpec, error)
	DeleteChat(ctx context.Context, chatID string) error
}
