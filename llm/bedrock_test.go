package llm

import (
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/m4xw311/aitest/errors"
	"github.com/m4xw311/aitest/session"
	"github.com/m4xw311/aitest/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertMessagesToAnthropicFormat(t *testing.T) {
	tests := []struct {
		name      string
		messages  []session.Message
		wantRoles []string
	}{
		{
			name:      "user text",
			messages:  []session.Message{{Role: session.RoleUser, Content: "1→open the page"}},
			wantRoles: []string{"user"},
		},
		{
			name:      "assistant text",
			messages:  []session.Message{{Role: session.RoleAssistant, Content: "Opened."}},
			wantRoles: []string{"assistant"},
		},
		{
			name:      "empty assistant turn is dropped",
			messages:  []session.Message{{Role: session.RoleUser, Content: "q"}, {Role: session.RoleAssistant}},
			wantRoles: []string{"user"},
		},
		{
			name: "tool round trip",
			messages: []session.Message{
				{Role: session.RoleUser, Content: "open two pages"},
				{Role: session.RoleAssistant, ToolCalls: []session.ToolCall{
					{ToolCallID: "a", Name: "browser_navigate"},
					{ToolCallID: "b", Name: "browser_navigate"},
				}},
				{Role: session.RoleTool, Content: "one", ToolCalls: []session.ToolCall{{ToolCallID: "a", Name: "browser_navigate"}}},
				{Role: session.RoleTool, Content: "two", ToolCalls: []session.ToolCall{{ToolCallID: "b", Name: "browser_navigate"}}},
			},
			wantRoles: []string{"user", "assistant", "user"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := convertMessagesToAnthropicFormat(tc.messages)
			roles := make([]string, 0, len(got))
			for _, m := range got {
				roles = append(roles, m["role"].(string))
			}
			assert.Equal(t, tc.wantRoles, roles)
		})
	}
}

func TestConvertMessagesToAnthropicFormatBlocks(t *testing.T) {
	got, system := convertMessagesToAnthropicFormat([]session.Message{
		{Role: session.RoleSystem, Content: "be brief"},
		{Role: session.RoleUser, Content: "open two pages"},
		{Role: session.RoleAssistant, Content: "Sure.", ToolCalls: []session.ToolCall{{ToolCallID: "a", Name: "nav"}, {ToolCallID: "b", Name: "nav"}}},
		{Role: session.RoleTool, Content: "one", ToolCalls: []session.ToolCall{{ToolCallID: "a", Name: "nav"}}},
		{Role: session.RoleTool, Content: "two", ToolCalls: []session.ToolCall{{ToolCallID: "b", Name: "nav"}}},
	})
	assert.Equal(t, "be brief", system)
	require.Len(t, got, 3)

	assistant := got[1]["content"].([]map[string]interface{})
	require.Len(t, assistant, 3)
	assert.Equal(t, "text", assistant[0]["type"])
	assert.Equal(t, "tool_use", assistant[1]["type"])
	assert.Equal(t, map[string]interface{}{}, assistant[1]["input"])

	results := got[2]["content"].([]map[string]interface{})
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[1]["tool_use_id"])
	assert.Equal(t, "two", results[1]["content"])
}

func TestCreateAnthropicRequest(t *testing.T) {
	msgs, _ := convertMessagesToAnthropicFormat([]session.Message{{Role: session.RoleUser, Content: "hi"}})
	nav := &MockTool{
		name:        "browser_navigate",
		description: "Navigate to a URL",
		schema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"url": map[string]interface{}{"type": "string"}},
			"required":   []interface{}{"url"},
		},
	}

	body, err := createAnthropicRequest(msgs, "system", []tools.Tool{nav}, 0.001, 4096)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "bedrock-2023-05-31", decoded["anthropic_version"])
	assert.Equal(t, "system", decoded["system"])
	assert.EqualValues(t, 4096, decoded["max_tokens"])
	tool := decoded["tools"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "browser_navigate", tool["name"])
	schema := tool["input_schema"].(map[string]interface{})
	assert.Equal(t, []interface{}{"url"}, schema["required"])

	body, err = createAnthropicRequest(msgs, "", nil, 0.001, 4096)
	require.NoError(t, err)
	decoded = nil
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.NotContains(t, decoded, "system")
	assert.NotContains(t, decoded, "tools")
}

func TestProcessBedrockResponse(t *testing.T) {
	body := []byte(`{"content":[{"type":"text","text":"Navigating"},{"type":"tool_use","id":"tu_1","name":"browser_navigate","input":{"url":"http://localhost:3000"}}]}`)
	msg, err := processBedrockResponse(body)
	require.NoError(t, err)
	assert.Equal(t, session.RoleAssistant, msg.Role)
	assert.Equal(t, "Navigating", msg.Content)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "tu_1", msg.ToolCalls[0].ToolCallID)
	assert.Equal(t, "http://localhost:3000", msg.ToolCalls[0].Args["url"])

	msg, err = processBedrockResponse([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, msg.Content)

	_, err = processBedrockResponse([]byte(`{"error":"denied"}`))
	assert.Error(t, err)
	_, err = processBedrockResponse([]byte(`not json`))
	assert.Error(t, err)
}

func TestClassifyBedrockError(t *testing.T) {
	assert.Equal(t, errors.RateLimited, classifyBedrockError(&types.ThrottlingException{Message: aws.String("slow down")}))
	assert.Equal(t, errors.RateLimited, classifyBedrockError(errors.Wrapf(&types.ServiceQuotaExceededException{}, "invoke")))
	assert.Equal(t, errors.Transient, classifyBedrockError(&types.ModelNotReadyException{}))
	assert.Equal(t, errors.Fatal, classifyBedrockError(&types.ValidationException{}))
}
