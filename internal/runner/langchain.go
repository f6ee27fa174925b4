package runner

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"chatdesk/gateway/internal/domain"
)

type modelFactory func(cfg GenerateConfig, client *http.Client) (llms.Model, error)

// langChainAdapter talks to any OpenAI-compatible endpoint through langchaingo.
type langChainAdapter struct {
	newModel modelFactory
}

func newLangChainAdapter() *langChainAdapter {
	return &langChainAdapter{newModel: newLangChainModel}
}

func newLangChainModel(cfg GenerateConfig, client *http.Client) (llms.Model, error) {
	opts := []openai.Option{openai.WithModel(cfg.Model)}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		opts = append(opts, openai.WithToken(key))
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, openai.WithBaseURL(strings.TrimRight(base, "/")))
	}
	if client != nil {
		opts = append(opts, openai.WithHTTPClient(client))
	}
	return openai.New(opts...)
}

func (a *langChainAdapter) ID() string {
	return ProviderLangChain
}

func (a *langChainAdapter) GenerateTurn(ctx context.Context, history []domain.Message, cfg GenerateConfig, tools []ToolDefinition, runner *Runner) (TurnResult, error) {
	model, err := a.newModel(cfg, runner.httpClient)
	if err != nil {
		return TurnResult{}, &RunnerError{Code: ErrorCodeProviderNotConfigured, Message: "langchain model is not configured", Err: err}
	}

	options := []llms.CallOption{llms.WithMaxTokens(cfg.MaxTokens)}
	if len(tools) > 0 {
		options = append(options, llms.WithTools(toLangChainTools(tools)))
	}
	resp, err := model.GenerateContent(ctx, toLangChainMessages(history), options...)
	if err != nil {
		return TurnResult{}, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return TurnResult{}, &RunnerError{Code: ErrorCodeProviderInvalidReply, Message: "provider response has no choices"}
	}

	choice := resp.Choices[0]
	turn := TurnResult{Text: choice.Content}
	for i, call := range choice.ToolCalls {
		if call.FunctionCall == nil {
			continue
		}
		parsed, err := parseToolArguments(i, call.ID, call.FunctionCall.Name, call.FunctionCall.Arguments)
		if err != nil {
			return TurnResult{}, err
		}
		turn.ToolCalls = append(turn.ToolCalls, parsed)
	}
	return turn, nil
}

func toLangChainTools(tools []ToolDefinition) []llms.Tool {
	out := make([]llms.Tool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return out
}

// toLangChainMessages maps canonical history onto langchaingo messages. Each tool result travels in its own message.
func toLangChainMessages(history []domain.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case domain.RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, msg.Text()))
		case domain.RoleAssistant:
			parts := make([]llms.ContentPart, 0, len(msg.Content))
			if text := msg.Text(); text != "" {
				parts = append(parts, llms.TextContent{Text: text})
			}
			for _, call := range msg.ToolCalls() {
				parts = append(parts, llms.ToolCall{
					ID:   call.ToolCallID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      call.ToolName,
						Arguments: argumentsText(call.Args),
					},
				})
			}
			if len(parts) == 0 {
				continue
			}
			out = append(out, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts})
		case domain.RoleTool:
			for _, part := range msg.Content {
				if part.Type != domain.PartToolResult {
					continue
				}
				out = append(out, llms.MessageContent{
					Role: llms.ChatMessageTypeTool,
					Parts: []llms.ContentPart{llms.ToolCallResponse{
						ToolCallID: part.ToolCallID,
						Name:       part.ToolName,
						Content:    resultText(part.Result),
					}},
				})
			}
		default:
			parts := make([]llms.ContentPart, 0, len(msg.Content))
			for _, part := range msg.Content {
				switch part.Type {
				case domain.PartText:
					if part.Text != "" {
						parts = append(parts, llms.TextContent{Text: part.Text})
					}
				case domain.PartFileAttachment:
					if isInlineImage(part) {
						parts = append(parts, llms.ImageURLPart(fmt.Sprintf("data:%s;base64,%s", part.MimeType, part.InlineData)))
						continue
					}
					parts = append(parts, llms.TextContent{Text: attachmentNote(part)})
				}
			}
			if len(parts) == 0 {
				continue
			}
			out = append(out, llms.MessageContent{Role: llms.ChatMessageTypeHuman, Parts: parts})
		}
	}
	return out
}
