package llm

import (
	"context"
	"fmt"

	"github.com/m4xw311/aitest/errors"
	"github.com/m4xw311/aitest/session"
	"github.com/m4xw311/aitest/tools"
)

// LLMClient is the interface for interacting with a Large Language Model.
// Returned errors carry an errors.Kind so callers can tell rate limits apart
// from other failures.
type LLMClient interface {
	Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error)
}

// Options configures a backend. APIKey is ignored by Bedrock, which uses the
// standard AWS credential chain.
type Options struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	MaxTokens   int
}

// New creates the client for the named provider.
func New(ctx context.Context, provider string, opts Options) (LLMClient, error) {
	switch provider {
	case "gemini":
		return NewGeminiLLMClient(ctx, opts)
	case "openai":
		return NewOpenAILLMClient(ctx, opts)
	case "anthropic":
		return NewAnthropicLLMClient(ctx, opts)
	case "bedrock":
		return NewBedrockLLMClient(ctx, opts)
	case "mock":
		return &MockLLMClient{}, nil
	default:
		return nil, errors.New("unknown llm '%s': must be gemini, openai, anthropic, bedrock or mock", provider)
	}
}

// MockLLMClient is a scripted client for dry runs and tests. With no script it
// echoes the last message back.
type MockLLMClient struct {
	// Script returns the reply for the n-th call (0-based).
	Script func(call int, messages []session.Message, availableTools []tools.Tool) (*session.Message, error)

	Calls int
}

func (m *MockLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error) {
	call := m.Calls
	m.Calls++
	if m.Script != nil {
		return m.Script(call, messages, availableTools)
	}
	if len(messages) == 0 {
		return &session.Message{Role: session.RoleAssistant}, nil
	}
	return &session.Message{
		Role:    session.RoleAssistant,
		Content: fmt.Sprintf("I am a mock LLM. You said: '%s'.", messages[len(messages)-1].Content),
	}, nil
}

// splitSystem separates system messages (joined) from the conversation.
func splitSystem(messages []session.Message) (string, []session.Message) {
	var system string
	rest := make([]session.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == session.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		rest = append(rest, msg)
	}
	return system, rest
}

// schemaProperties returns the "properties" of a tool schema, never nil.
func schemaProperties(schema map[string]interface{}) map[string]interface{} {
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		return props
	}
	return map[string]interface{}{}
}

// objectSchema normalizes a tool schema to a JSON object schema.
func objectSchema(schema map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{
		"type":       "object",
		"properties": schemaProperties(schema),
	}
	if req, ok := schema["required"]; ok {
		out["required"] = req
	}
	return out
}

// requiredFields returns the "required" names of a tool schema.
func requiredFields(schema map[string]interface{}) []string {
	var out []string
	switch req := schema["required"].(type) {
	case []string:
		out = req
	case []interface{}:
		for _, v := range req {
			if name, ok := v.(string); ok {
				out = append(out, name)
			}
		}
	}
	return out
}
