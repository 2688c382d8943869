package llm

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m4xw311/aitest/errors"
	"github.com/m4xw311/aitest/session"
	"github.com/m4xw311/aitest/tools"
)

// AnthropicLLMClient is a client for the Anthropic API.
type AnthropicLLMClient struct {
	client      *anthropic.Client
	model       string
	temperature float32
	maxTokens   int64
}

// NewAnthropicLLMClient creates a new AnthropicLLMClient.
func NewAnthropicLLMClient(ctx context.Context, opts Options) (*AnthropicLLMClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	)

	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicLLMClient{
		client:      &client,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   maxTokens,
	}, nil
}

// Chat sends a chat request to the Anthropic API.
func (a *AnthropicLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error) {
	conversation, systemPrompt := convertMessagesToAnthropicMessages(messages)

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   a.maxTokens,
		Messages:    conversation,
		Temperature: anthropic.Float(float64(a.temperature)),
		Tools:       convertToolsToAnthropicTools(availableTools),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.WithKind(errors.Wrapf(err, "failed to send message to Anthropic"), classifyAnthropicError(err))
	}
	return processAnthropicResponse(resp)
}

// convertMessagesToAnthropicMessages converts our internal message format to Anthropic's format.
func convertMessagesToAnthropicMessages(messages []session.Message) ([]anthropic.MessageParam, string) {
	var anthropicMessages []anthropic.MessageParam
	var systemPrompt string

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleUser:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		case session.RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				var contentItems []anthropic.ContentBlockParamUnion
				if msg.Content != "" {
					contentItems = append(contentItems, anthropic.NewTextBlock(msg.Content))
				}
				for _, tc := range msg.ToolCalls {
					args := tc.Args
					if args == nil {
						args = map[string]interface{}{}
					}
					argsBytes, err := json.Marshal(args)
					if err != nil {
						continue
					}

					contentItems = append(contentItems, anthropic.ContentBlockParamUnion{
						OfToolUse: &anthropic.ToolUseBlockParam{
							Type:  "tool_use",
							ID:    tc.ToolCallID,
							Name:  tc.Name,
							Input: argsBytes,
						}})
				}

				anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
					Role:    anthropic.MessageParamRoleAssistant,
					Content: contentItems,
				})
			} else if msg.Content != "" {
				anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
					Role: anthropic.MessageParamRoleAssistant,
					Content: []anthropic.ContentBlockParamUnion{{
						OfText: &anthropic.TextBlockParam{
							Text: msg.Content,
						},
					}},
				})
			}
		case session.RoleTool:
			if len(msg.ToolCalls) == 0 {
				continue
			}
			block := anthropic.ContentBlockParamUnion{
				OfToolResult: &anthropic.ToolResultBlockParam{
					ToolUseID: msg.ToolCalls[0].ToolCallID,
					Content: []anthropic.ToolResultBlockParamContentUnion{{
						OfText: &anthropic.TextBlockParam{
							Text: msg.Content,
						},
					}},
				},
			}
			// Results of parallel tool calls belong in a single user turn.
			if n := len(anthropicMessages); n > 0 && anthropicMessages[n-1].Role == anthropic.MessageParamRoleUser &&
				len(anthropicMessages[n-1].Content) > 0 && anthropicMessages[n-1].Content[0].OfToolResult != nil {
				anthropicMessages[n-1].Content = append(anthropicMessages[n-1].Content, block)
				continue
			}
			anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{block},
			})
		case session.RoleSystem:
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
		}
	}

	return anthropicMessages, systemPrompt
}

// convertToolsToAnthropicTools converts our Tool interface to Anthropic's tool format.
func convertToolsToAnthropicTools(ts []tools.Tool) []anthropic.ToolUnionParam {
	if len(ts) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(ts))
	for _, t := range ts {
		out = append(out, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        t.Name(),
			Description: anthropic.String(t.Description()),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schemaProperties(t.InputSchema()),
				Required:   requiredFields(t.InputSchema()),
			},
		}})
	}
	return out
}

// processAnthropicResponse converts an Anthropic API response into a message.
func processAnthropicResponse(resp *anthropic.Message) (*session.Message, error) {
	msg := &session.Message{Role: session.RoleAssistant}
	for _, block := range resp.Content {
		switch c := block.AsAny().(type) {
		case anthropic.TextBlock:
			msg.Content += c.Text
		case anthropic.ToolUseBlock:
			var args map[string]interface{}
			if err := json.Unmarshal(c.Input, &args); err != nil {
				return nil, errors.Wrapf(err, "failed to decode input of tool call %s", c.Name)
			}
			msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{ToolCallID: c.ID, Name: c.Name, Args: args})
		}
	}
	return msg, nil
}

func classifyAnthropicError(err error) errors.Kind {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return kindForHTTPStatus(apiErr.StatusCode)
	}
	return errors.KindOf(err)
}
