package llm

import (
	"context"
	"encoding/json"

	"github.com/m4xw311/aitest/errors"
	"github.com/m4xw311/aitest/session"
	"github.com/m4xw311/aitest/tools"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAILLMClient is a client for the OpenAI Chat Completion API.
type OpenAILLMClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewOpenAILLMClient creates a new OpenAILLMClient. BaseURL allows
// OpenAI-compatible endpoints.
func NewOpenAILLMClient(ctx context.Context, opts Options) (*OpenAILLMClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	options := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		// The runner decides when to retry.
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		options = append(options, option.WithBaseURL(opts.BaseURL))
	}

	c := openai.NewClient(options...)
	return &OpenAILLMClient{client: &c, model: opts.Model, temperature: opts.Temperature, maxTokens: opts.MaxTokens}, nil
}

// Chat sends a chat request to OpenAI and converts the response into our internal session.Message format.
func (o *OpenAILLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.model),
		Messages:    convertMessagesToOpenaiContent(messages),
		Tools:       convertToolsToOpenAITools(availableTools),
		Temperature: openai.Float(float64(o.temperature)),
	}
	if o.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(o.maxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, errors.WithKind(errors.Wrapf(err, "failed to send message to OpenAI"), classifyOpenAIError(err))
	}

	return processOpenaiResponse(resp)
}

// processOpenaiResponse converts the first choice into a message.
func processOpenaiResponse(resp *openai.ChatCompletion) (*session.Message, error) {
	msg := &session.Message{Role: session.RoleAssistant}
	if len(resp.Choices) == 0 {
		return msg, nil
	}
	choice := resp.Choices[0].Message
	msg.Content = choice.Content
	for _, tc := range choice.ToolCalls {
		// Arguments are a JSON object encoded as a string; empty means none.
		raw := tc.Function.Arguments
		if raw == "" {
			raw = "{}"
		}
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, errors.Wrapf(err, "failed to decode arguments of tool call %s", tc.Function.Name)
		}
		msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{ToolCallID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	return msg, nil
}

// convertMessagesToOpenaiContent converts our internal message format to OpenAI's.
func convertMessagesToOpenaiContent(messages []session.Message) []openai.ChatCompletionMessageParamUnion {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			chatMessages = append(chatMessages, openai.SystemMessage(msg.Content))
		case session.RoleAssistant:
			assistantMessage := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.Content,
			}
			if len(msg.ToolCalls) > 0 {
				var toolCalls []openai.ChatCompletionMessageToolCallUnion
				for _, tc := range msg.ToolCalls {
					argsBytes, err := json.Marshal(tc.Args)
					if err != nil {
						// Unmarshalable arguments cannot have come from the model.
						continue
					}
					toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallUnion{
						ID:   tc.ToolCallID,
						Type: "function",
						Function: openai.ChatCompletionMessageFunctionToolCallFunction{
							Name:      tc.Name,
							Arguments: string(argsBytes),
						},
					})
				}
				assistantMessage.ToolCalls = toolCalls
			}
			chatMessages = append(chatMessages, assistantMessage.ToParam())
		case session.RoleTool:
			// A tool message must carry exactly the call it answers.
			if len(msg.ToolCalls) != 1 {
				continue
			}
			chatMessages = append(chatMessages, openai.ToolMessage(msg.Content, msg.ToolCalls[0].ToolCallID))
		case session.RoleUser:
			fallthrough
		default:
			chatMessages = append(chatMessages, openai.UserMessage(msg.Content))
		}
	}
	return chatMessages
}

// convertToolsToOpenAITools converts our Tool interface to the OpenAI Tool format.
func convertToolsToOpenAITools(ts []tools.Tool) []openai.ChatCompletionToolUnionParam {
	if len(ts) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(ts))
	for _, t := range ts {
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String(t.Description()),
			Parameters:  openai.FunctionParameters(objectSchema(t.InputSchema())),
		}))
	}
	return out
}

func classifyOpenAIError(err error) errors.Kind {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return kindForHTTPStatus(apiErr.StatusCode)
	}
	return errors.KindOf(err)
}
