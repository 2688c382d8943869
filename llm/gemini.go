package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/m4xw311/aitest/errors"
	"github.com/m4xw311/aitest/session"
	"github.com/m4xw311/aitest/tools"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GeminiLLMClient is a client for the Google Gemini API.
type GeminiLLMClient struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiLLMClient creates a new GeminiLLMClient.
func NewGeminiLLMClient(ctx context.Context, opts Options) (*GeminiLLMClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("GEMINI_API_KEY (or GOOGLE_APIKEY) environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	model := client.GenerativeModel(opts.Model)
	model.SetTemperature(opts.Temperature)
	if opts.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(opts.MaxTokens))
	}

	return &GeminiLLMClient{
		client: client,
		model:  model,
	}, nil
}

// Close releases the underlying connection.
func (g *GeminiLLMClient) Close() error {
	return g.client.Close()
}

// Chat sends a chat request to the Gemini API.
func (g *GeminiLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error) {
	systemPrompt, conversation := splitSystem(messages)
	history := convertMessagesToGeminiContent(conversation)
	if len(history) == 0 {
		return nil, errors.New("no messages to send to Gemini")
	}

	// Work on a copy so tools and system prompt do not leak between calls.
	model := *g.model
	model.Tools = convertToolsToGeminiTools(availableTools)
	if systemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}

	// The last message is the new prompt.
	lastMessage := history[len(history)-1]

	chatSession := model.StartChat()
	chatSession.History = history[:len(history)-1]
	resp, err := chatSession.SendMessage(ctx, lastMessage.Parts...)
	if err != nil {
		return nil, errors.WithKind(errors.Wrapf(err, "failed to send message to Gemini"), classifyGeminiError(err))
	}

	return processGeminiResponse(resp)
}

// convertMessagesToGeminiContent converts our internal message format to Gemini's.
// Consecutive messages with the same role are merged, since Gemini expects
// user and model turns to alternate.
func convertMessagesToGeminiContent(messages []session.Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		role := "user"
		var parts []genai.Part
		switch msg.Role {
		case session.RoleAssistant:
			role = "model"
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: tc.Args})
			}
		case session.RoleTool:
			name := ""
			if len(msg.ToolCalls) > 0 {
				name = msg.ToolCalls[0].Name
			}
			parts = append(parts, genai.FunctionResponse{
				Name:     name,
				Response: map[string]any{"content": msg.Content},
			})
		default:
			parts = append(parts, genai.Text(msg.Content))
		}
		if len(parts) == 0 {
			continue
		}

		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

// convertToolsToGeminiTools converts our Tool interface to Gemini's FunctionDeclaration format.
func convertToolsToGeminiTools(ts []tools.Tool) []*genai.Tool {
	if len(ts) == 0 {
		return nil
	}
	var funcDecls []*genai.FunctionDeclaration
	for _, tool := range ts {
		fd := &genai.FunctionDeclaration{
			Name:        tool.Name(),
			Description: tool.Description(),
		}
		// Gemini rejects OBJECT parameters without properties.
		if props := schemaProperties(tool.InputSchema()); len(props) > 0 {
			fd.Parameters = convertSchema(objectSchema(tool.InputSchema()))
		}
		funcDecls = append(funcDecls, fd)
	}
	return []*genai.Tool{{FunctionDeclarations: funcDecls}}
}

// convertSchema maps a decoded JSON schema onto the subset Gemini understands.
func convertSchema(m map[string]interface{}) *genai.Schema {
	s := &genai.Schema{}
	switch t := m["type"].(type) {
	case string:
		s.Type = geminiType(t)
	case []interface{}:
		// e.g. ["string", "null"]
		for _, v := range t {
			name, _ := v.(string)
			if name == "null" {
				s.Nullable = true
			} else if s.Type == genai.TypeUnspecified {
				s.Type = geminiType(name)
			}
		}
	}
	if desc, ok := m["description"].(string); ok {
		s.Description = desc
	}
	if enum, ok := m["enum"].([]interface{}); ok {
		for _, v := range enum {
			if str, ok := v.(string); ok {
				s.Enum = append(s.Enum, str)
			}
		}
	}
	if items, ok := m["items"].(map[string]interface{}); ok {
		s.Items = convertSchema(items)
	}
	if props, ok := m["properties"].(map[string]interface{}); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]interface{}); ok {
				s.Properties[name] = convertSchema(pm)
			}
		}
	}
	if req, ok := m["required"].([]interface{}); ok {
		for _, v := range req {
			if str, ok := v.(string); ok {
				s.Required = append(s.Required, str)
			}
		}
	}

	if s.Type == genai.TypeUnspecified {
		if s.Properties != nil {
			s.Type = genai.TypeObject
		} else {
			s.Type = genai.TypeString
		}
	}
	if s.Type == genai.TypeArray && s.Items == nil {
		s.Items = &genai.Schema{Type: genai.TypeString}
	}
	return s
}

func geminiType(name string) genai.Type {
	switch name {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	}
	return genai.TypeUnspecified
}

// processGeminiResponse converts a Gemini API response into our internal session.Message format.
func processGeminiResponse(resp *genai.GenerateContentResponse) (*session.Message, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			return nil, errors.New("Gemini blocked the prompt: %v", resp.PromptFeedback.BlockReason)
		}
		return nil, errors.New("received an empty response from Gemini")
	}

	msg := &session.Message{Role: session.RoleAssistant}
	for i, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			msg.Content += string(v)
		case genai.FunctionCall:
			// Gemini does not assign call ids.
			msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{
				ToolCallID: fmt.Sprintf("call_%d_%s", i, v.Name),
				Name:       v.Name,
				Args:       v.Args,
			})
		}
	}
	return msg, nil
}

// classifyGeminiError maps REST and gRPC failures onto error kinds.
// ResourceExhausted is how Gemini reports quota exhaustion.
func classifyGeminiError(err error) errors.Kind {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return kindForHTTPStatus(apiErr.Code)
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.ResourceExhausted:
			return errors.RateLimited
		case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
			return errors.Transient
		}
		return errors.Fatal
	}
	return errors.KindOf(err)
}
