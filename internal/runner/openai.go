package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"chatdesk/gateway/internal/domain"
)

type openAIAdapter struct{}

func (a *openAIAdapter) ID() string {
	return ProviderOpenAI
}

func (a *openAIAdapter) GenerateTurn(ctx context.Context, history []domain.Message, cfg GenerateConfig, tools []ToolDefinition, runner *Runner) (TurnResult, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return TurnResult{}, &RunnerError{Code: ErrorCodeProviderNotConfigured, Message: "openai api key is required"}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(runner.httpClient),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(base, "/")))
	}
	client := openai.NewClient(opts...)

	params := openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(cfg.Model),
		Messages:            toOpenAIMessages(history),
		MaxCompletionTokens: openai.Int(int64(cfg.MaxTokens)),
	}
	if len(tools) > 0 {
		params.Tools = toOpenAITools(tools)
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return TurnResult{}, wrapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return TurnResult{}, &RunnerError{Code: ErrorCodeProviderInvalidReply, Message: "provider response has no choices"}
	}

	message := resp.Choices[0].Message
	turn := TurnResult{Text: message.Content, ResponseID: resp.ID}
	for i, call := range message.ToolCalls {
		parsed, err := parseToolArguments(i, call.ID, call.Function.Name, call.Function.Arguments)
		if err != nil {
			return TurnResult{}, err
		}
		turn.ToolCalls = append(turn.ToolCalls, parsed)
	}
	return turn, nil
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		raw := strings.TrimSpace(apiErr.RawJSON())
		if raw != "" {
			return fmt.Errorf("http_%d: %s: %w", apiErr.StatusCode, raw, err)
		}
		return fmt.Errorf("http_%d: %w", apiErr.StatusCode, err)
	}
	return err
}

func toOpenAITools(tools []ToolDefinition) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		fn := shared.FunctionDefinitionParam{
			Name:       tool.Name,
			Parameters: shared.FunctionParameters(tool.Parameters),
		}
		if desc := strings.TrimSpace(tool.Description); desc != "" {
			fn.Description = openai.String(desc)
		}
		out = append(out, openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{Function: fn},
		})
	}
	return out
}

func toOpenAIMessages(history []domain.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case domain.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Text()))
		case domain.RoleAssistant:
			calls := msg.ToolCalls()
			if len(calls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Text()))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(calls))
			for _, call := range calls {
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: call.ToolCallID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      call.ToolName,
							Arguments: argumentsText(call.Args),
						},
					},
				})
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
			if text := msg.Text(); text != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case domain.RoleTool:
			for _, part := range msg.Content {
				if part.Type == domain.PartToolResult {
					out = append(out, openai.ToolMessage(resultText(part.Result), part.ToolCallID))
				}
			}
		default:
			var text strings.Builder
			for _, part := range msg.Content {
				switch part.Type {
				case domain.PartText:
					text.WriteString(part.Text)
				case domain.PartFileAttachment:
					if text.Len() > 0 {
						text.WriteString("\n")
					}
					text.WriteString(attachmentNote(part))
				}
			}
			out = append(out, openai.UserMessage(text.String()))
		}
	}
	return out
}
