package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/m4xw311/aitest/errors"
	"github.com/m4xw311/aitest/session"
	"github.com/m4xw311/aitest/tools"
)

// BedrockLLMClient is a client for the Anthropic models on AWS Bedrock.
type BedrockLLMClient struct {
	client      *bedrockruntime.Client
	modelID     string
	temperature float32
	maxTokens   int
}

// NewBedrockLLMClient creates a new BedrockLLMClient. Region and credentials
// come from the standard AWS configuration chain; BaseURL overrides the
// endpoint, which is useful for testing.
func NewBedrockLLMClient(ctx context.Context, opts Options) (*BedrockLLMClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRetryMaxAttempts(1))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	client := bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
		if opts.BaseURL != "" {
			o.BaseEndpoint = aws.String(opts.BaseURL)
		}
	})

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &BedrockLLMClient{
		client:      client,
		modelID:     opts.Model,
		temperature: opts.Temperature,
		maxTokens:   maxTokens,
	}, nil
}

// Chat sends a chat request to the Anthropic model via AWS Bedrock.
func (b *BedrockLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error) {
	anthropicMessages, systemPrompt := convertMessagesToAnthropicFormat(messages)

	requestBody, err := createAnthropicRequest(anthropicMessages, systemPrompt, availableTools, b.temperature, b.maxTokens)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Anthropic request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, errors.WithKind(errors.Wrapf(err, "failed to invoke Bedrock model"), classifyBedrockError(err))
	}

	return processBedrockResponse(resp.Body)
}

// convertMessagesToAnthropicFormat converts our internal message format to Anthropic's format.
func convertMessagesToAnthropicFormat(messages []session.Message) ([]map[string]interface{}, string) {
	var anthropicMessages []map[string]interface{}
	var systemPrompt string

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
		case session.RoleUser:
			anthropicMessages = append(anthropicMessages, map[string]interface{}{
				"role": "user",
				"content": []map[string]interface{}{
					{
						"type": "text",
						"text": msg.Content,
					},
				},
			})
		case session.RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				var toolUses []map[string]interface{}
				if msg.Content != "" {
					toolUses = append(toolUses, map[string]interface{}{"type": "text", "text": msg.Content})
				}
				for _, tc := range msg.ToolCalls {
					input := tc.Args
					if input == nil {
						input = map[string]interface{}{}
					}
					toolUses = append(toolUses, map[string]interface{}{
						"type":  "tool_use",
						"id":    tc.ToolCallID,
						"name":  tc.Name,
						"input": input,
					})
				}

				anthropicMessages = append(anthropicMessages, map[string]interface{}{
					"role":    "assistant",
					"content": toolUses,
				})
			} else if msg.Content != "" {
				anthropicMessages = append(anthropicMessages, map[string]interface{}{
					"role": "assistant",
					"content": []map[string]interface{}{
						{
							"type": "text",
							"text": msg.Content,
						},
					},
				})
			}
		case session.RoleTool:
			if len(msg.ToolCalls) == 0 {
				continue
			}
			result := map[string]interface{}{
				"type":        "tool_result",
				"tool_use_id": msg.ToolCalls[0].ToolCallID,
				"content":     msg.Content,
			}
			// Results of parallel tool calls share one user turn.
			if n := len(anthropicMessages); n > 0 && anthropicMessages[n-1]["role"] == "user" {
				if blocks, ok := anthropicMessages[n-1]["content"].([]map[string]interface{}); ok && len(blocks) > 0 && blocks[0]["type"] == "tool_result" {
					anthropicMessages[n-1]["content"] = append(blocks, result)
					continue
				}
			}
			anthropicMessages = append(anthropicMessages, map[string]interface{}{
				"role":    "user",
				"content": []map[string]interface{}{result},
			})
		}
	}

	return anthropicMessages, systemPrompt
}

// createAnthropicRequest creates the request body for Anthropic models on Bedrock.
func createAnthropicRequest(messages []map[string]interface{}, systemPrompt string, availableTools []tools.Tool, temperature float32, maxTokens int) ([]byte, error) {
	request := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        maxTokens,
		"temperature":       temperature,
		"messages":          messages,
	}

	if systemPrompt != "" {
		request["system"] = systemPrompt
	}

	if len(availableTools) > 0 {
		var tools []map[string]interface{}
		for _, tool := range availableTools {
			tools = append(tools, map[string]interface{}{
				"name":         tool.Name(),
				"description":  tool.Description(),
				"input_schema": objectSchema(tool.InputSchema()),
			})
		}
		request["tools"] = tools
	}

	return json.Marshal(request)
}

type bedrockResponse struct {
	Error   interface{}    `json:"error"`
	Content []bedrockBlock `json:"content"`
}

type bedrockBlock struct {
	Type  string                 `json:"type"`
	Text  string                 `json:"text"`
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// processBedrockResponse converts an Anthropic-on-Bedrock response body into a message.
func processBedrockResponse(body []byte) (*session.Message, error) {
	var resp bedrockResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}
	if resp.Error != nil {
		return nil, errors.New("Bedrock API error: %v", resp.Error)
	}

	msg := &session.Message{Role: session.RoleAssistant}
	for i, block := range resp.Content {
		switch block.Type {
		case "text":
			msg.Content += block.Text
		case "tool_use":
			id := block.ID
			if id == "" {
				id = fmt.Sprintf("call_%d_%s", i, block.Name)
			}
			msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{
				ToolCallID: id,
				Name:       block.Name,
				Args:       block.Input,
			})
		}
	}
	return msg, nil
}

// classifyBedrockError maps AWS exception types onto error kinds.
func classifyBedrockError(err error) errors.Kind {
	var throttling *types.ThrottlingException
	var quota *types.ServiceQuotaExceededException
	if errors.As(err, &throttling) || errors.As(err, &quota) {
		return errors.RateLimited
	}
	var unavailable *types.ServiceUnavailableException
	var internal *types.InternalServerException
	var notReady *types.ModelNotReadyException
	var timeout *types.ModelTimeoutException
	if errors.As(err, &unavailable) || errors.As(err, &internal) || errors.As(err, &notReady) || errors.As(err, &timeout) {
		return errors.Transient
	}
	return errors.KindOf(err)
}
