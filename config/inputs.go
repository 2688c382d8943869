package config

import (
	"encoding/json"
	"os"
	"sort"
	"strings"

	"github.com/m4xw311/aitest/errors"
	"github.com/xeipuuv/gojsonschema"
)

const (
	TransportStdio          = "stdio"
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable_http"
)

// MCPServer describes how to reach one tool provider.
type MCPServer struct {
	Transport string            `json:"transport,omitempty"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// TransportName returns the configured transport, inferring it from the
// descriptor when omitted.
func (s MCPServer) TransportName() string {
	if s.Transport != "" {
		return s.Transport
	}
	if s.Command != "" {
		return TransportStdio
	}
	return TransportSSE
}

type MCPConfig struct {
	Servers map[string]MCPServer `json:"mcpServers"`
}

// ServerNames returns the configured server names in a stable order.
func (c *MCPConfig) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const mcpConfigSchema = `{
  "type": "object",
  "required": ["mcpServers"],
  "properties": {
    "mcpServers": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "object",
        "properties": {
          "transport": {"enum": ["stdio", "sse", "streamable_http"]},
          "command": {"type": "string", "minLength": 1},
          "args": {"type": "array", "items": {"type": "string"}},
          "env": {"type": "object", "additionalProperties": {"type": "string"}},
          "cwd": {"type": "string"},
          "url": {"type": "string", "minLength": 1},
          "headers": {"type": "object", "additionalProperties": {"type": "string"}}
        },
        "anyOf": [{"required": ["command"]}, {"required": ["url"]}]
      }
    }
  }
}`

const inputsSchema = `{
  "type": "array",
  "items": {"type": "string"}
}`

// LoadMCPConfig reads and validates the tool server configuration.
func LoadMCPConfig(path string) (*MCPConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read MCP config")
	}
	if err := validateJSON(mcpConfigSchema, data); err != nil {
		return nil, errors.Wrapf(err, "invalid MCP config %s", path)
	}
	var cfg MCPConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse MCP config %s", path)
	}
	return &cfg, nil
}

// LoadInputs reads the list of test queries.
func LoadInputs(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read test inputs")
	}
	if err := validateJSON(inputsSchema, data); err != nil {
		return nil, errors.Wrapf(err, "invalid test inputs %s", path)
	}
	var inputs []string
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, errors.Wrapf(err, "failed to parse test inputs %s", path)
	}
	return inputs, nil
}

func validateJSON(schema string, data []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.New("%s", strings.Join(msgs, "; "))
}
