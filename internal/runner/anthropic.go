package runner

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"chatdesk/gateway/internal/domain"
)

type anthropicAdapter struct{}

func (a *anthropicAdapter) ID() string {
	return ProviderAnthropic
}

func (a *anthropicAdapter) GenerateTurn(ctx context.Context, history []domain.Message, cfg GenerateConfig, tools []ToolDefinition, runner *Runner) (TurnResult, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return TurnResult{}, &RunnerError{Code: ErrorCodeProviderNotConfigured, Message: "anthropic api key is required"}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(runner.httpClient),
		option.WithMaxRetries(0),
	}
	if base := anthropicBaseURL(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	client := anthropic.NewClient(opts...)

	system, messages := toAnthropicMessages(history)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(cfg.Model),
		MaxTokens: int64(cfg.MaxTokens),
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(tools) > 0 {
		params.Tools = toAnthropicTools(tools)
	}

	response, err := client.Messages.New(ctx, params)
	if err != nil {
		return TurnResult{}, err
	}

	turn := TurnResult{ResponseID: response.ID}
	var text strings.Builder
	index := 0
	for _, block := range response.Content {
		switch block := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(block.Text)
		case anthropic.ToolUseBlock:
			call, err := parseToolArguments(index, block.ID, block.Name, string(block.Input))
			if err != nil {
				return TurnResult{}, err
			}
			turn.ToolCalls = append(turn.ToolCalls, call)
			index++
		}
	}
	turn.Text = text.String()
	return turn, nil
}

func anthropicBaseURL(raw string) string {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	if strings.HasSuffix(base, "/v1") {
		base = strings.TrimRight(strings.TrimSuffix(base, "/v1"), "/")
	}
	return base
}

func toAnthropicTools(tools []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.Parameters["properties"],
					Required:   requiredFields(tool.Parameters),
				},
			},
		})
	}
	return out
}

// requiredFields reads the schema's required list, which is []string when built here and []interface{} when decoded.
func requiredFields(params map[string]interface{}) []string {
	switch required := params["required"].(type) {
	case []string:
		return required
	case []interface{}:
		out := make([]string, 0, len(required))
		for _, item := range required {
			if name, ok := item.(string); ok {
				out = append(out, name)
			}
		}
		return out
	}
	return nil
}

// toAnthropicMessages splits out system text and folds consecutive tool results into one user turn.
func toAnthropicMessages(history []domain.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	var messages []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) == 0 {
			return
		}
		messages = append(messages, anthropic.NewUserMessage(pendingResults...))
		pendingResults = nil
	}

	for _, msg := range history {
		if msg.Role == domain.RoleTool {
			for _, part := range msg.Content {
				if part.Type != domain.PartToolResult {
					continue
				}
				block := &anthropic.ToolResultBlockParam{
					ToolUseID: part.ToolCallID,
					Content: []anthropic.ToolResultBlockParamContentUnion{
						{OfText: &anthropic.TextBlockParam{Text: resultText(part.Result)}},
					},
				}
				if isFailedResult(part.Result) {
					block.IsError = anthropic.Bool(true)
				}
				pendingResults = append(pendingResults, anthropic.ContentBlockParamUnion{OfToolResult: block})
			}
			continue
		}
		flushResults()

		switch msg.Role {
		case domain.RoleSystem:
			if text := strings.TrimSpace(msg.Text()); text != "" {
				system = append(system, anthropic.TextBlockParam{Text: text})
			}
		case domain.RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{}
			if text := msg.Text(); text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			for _, call := range msg.ToolCalls() {
				args := call.Args
				if args == nil {
					args = map[string]interface{}{}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    call.ToolCallID,
						Name:  call.ToolName,
						Input: args,
					},
				})
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			blocks := []anthropic.ContentBlockParamUnion{}
			for _, part := range msg.Content {
				switch part.Type {
				case domain.PartText:
					if part.Text != "" {
						blocks = append(blocks, anthropic.NewTextBlock(part.Text))
					}
				case domain.PartFileAttachment:
					if isInlineImage(part) {
						blocks = append(blocks, anthropic.NewImageBlockBase64(part.MimeType, part.InlineData))
						continue
					}
					blocks = append(blocks, anthropic.NewTextBlock(attachmentNote(part)))
				}
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewUserMessage(blocks...))
			}
		}
	}
	flushResults()
	return system, messages
}
