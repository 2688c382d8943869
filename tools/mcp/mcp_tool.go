package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"

	"github.com/m4xw311/aitest/config"
	"github.com/m4xw311/aitest/errors"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

var clientInfo = &mcpsdk.Implementation{Name: "aitest", Version: "v1.0.0"}

// MCPClient manages the connection to a single MCP server.
type MCPClient struct {
	Name  string
	cmd   *exec.Cmd // nil for remote servers
	conn  *mcpsdk.ClientSession
	tools []*MCPTool
	log   zerolog.Logger
}

// NewMCPClient connects to the server and discovers the tools it provides.
func NewMCPClient(ctx context.Context, name string, server config.MCPServer, log zerolog.Logger) (*MCPClient, error) {
	client := &MCPClient{Name: name, log: log.With().Str("server", name).Logger()}

	transport, err := client.transport(server)
	if err != nil {
		return nil, err
	}
	if err := client.connect(ctx, transport); err != nil {
		return nil, err
	}
	return client, nil
}

// connect opens the session over transport and pages through ListTools.
// On failure the session and any subprocess are released.
func (c *MCPClient) connect(ctx context.Context, transport mcpsdk.Transport) error {
	conn, err := mcpsdk.NewClient(clientInfo, nil).Connect(ctx, transport)
	if err != nil {
		c.kill()
		return errors.Wrapf(err, "failed to connect to MCP server '%s'", c.Name)
	}
	c.conn = conn

	toolListParams := &mcpsdk.ListToolsParams{}
	for {
		toolList, err := conn.ListTools(ctx, toolListParams)
		if err != nil {
			// Attempt to stop the server we just started.
			_ = c.Close()
			return errors.Wrapf(err, "failed to list tools from MCP server '%s'", c.Name)
		}

		for _, t := range toolList.Tools {
			schema, err := decodeSchema(t.InputSchema)
			if err != nil {
				_ = c.Close()
				return errors.Wrapf(err, "invalid input schema for tool '%s' on MCP server '%s'", t.Name, c.Name)
			}
			c.tools = append(c.tools, &MCPTool{
				toolName:    t.Name,
				description: t.Description,
				schema:      schema,
				client:      c,
			})
		}

		if toolList.NextCursor == "" {
			break
		}
		toolListParams.Cursor = toolList.NextCursor
	}

	c.log.Info().Int("tools", len(c.tools)).Msg("initialized MCP client")
	return nil
}

func (c *MCPClient) transport(server config.MCPServer) (mcpsdk.Transport, error) {
	switch server.TransportName() {
	case config.TransportStdio:
		if server.Command == "" {
			return nil, errors.New("MCP server '%s': stdio transport requires a command", c.Name)
		}
		cmd := exec.Command(server.Command, server.Args...)
		cmd.Stderr = os.Stderr
		cmd.Dir = server.Cwd
		if len(server.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range server.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		c.cmd = cmd
		return mcpsdk.NewCommandTransport(cmd), nil
	case config.TransportSSE:
		return mcpsdk.NewSSEClientTransport(server.URL, &mcpsdk.SSEClientTransportOptions{
			HTTPClient: httpClient(server.Headers),
		}), nil
	case config.TransportStreamableHTTP:
		return mcpsdk.NewStreamableClientTransport(server.URL, &mcpsdk.StreamableClientTransportOptions{
			HTTPClient: httpClient(server.Headers),
		}), nil
	default:
		return nil, errors.New("MCP server '%s': unsupported transport '%s'", c.Name, server.Transport)
	}
}

// Tools returns the tools provided by this server in discovery order.
func (c *MCPClient) Tools() []*MCPTool {
	return c.tools
}

// Close ends the session and terminates the server subprocess, if any.
func (c *MCPClient) Close() error {
	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	c.kill()
	return err
}

func (c *MCPClient) kill() {
	if c.cmd != nil && c.cmd.Process != nil && c.cmd.ProcessState == nil {
		c.log.Info().Msg("terminating MCP server")
		if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			c.log.Warn().Err(err).Msg("failed to kill MCP server")
		}
	}
}

// MCPTool represents a tool available from an external MCP server.
// It satisfies the `tools.Tool` interface from the parent package.
type MCPTool struct {
	toolName    string
	description string
	schema      map[string]interface{}
	client      *MCPClient // Reference back to the client managing the connection.
}

// Name returns the server-side tool name. Qualified "<server>:<tool>" names are
// rejected by Gemini, so they are not used.
func (t *MCPTool) Name() string {
	return t.toolName
}

func (t *MCPTool) Description() string {
	return t.description
}

func (t *MCPTool) InputSchema() map[string]interface{} {
	return t.schema
}

// Execute sends the call to the MCP server and returns its text output.
func (t *MCPTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	if t.client.conn == nil {
		return "", errors.New("MCP server '%s' is closed", t.client.Name)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	result, err := t.client.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.toolName,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s'", t.Name())
	}
	op := contentText(result.Content)
	if result.IsError {
		return "", errors.New("tool '%s' reported an error: %s", t.Name(), op)
	}
	return op, nil
}

func contentText(content []mcpsdk.Content) string {
	var sb strings.Builder
	for _, c := range content {
		switch v := c.(type) {
		case *mcpsdk.TextContent:
			sb.WriteString(v.Text)
		case *mcpsdk.ImageContent:
			fmt.Fprintf(&sb, "[image %s, %d bytes]", v.MIMEType, len(v.Data))
		default:
			fmt.Fprintf(&sb, "[%T]", v)
		}
	}
	return sb.String()
}

// decodeSchema turns the SDK schema type into plain maps for the LLM backends.
func decodeSchema(schema any) (map[string]interface{}, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (h *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	return h.base.RoundTrip(req)
}

func httpClient(headers map[string]string) *http.Client {
	if len(headers) == 0 {
		return http.DefaultClient
	}
	return &http.Client{Transport: &headerTransport{headers: headers, base: http.DefaultTransport}}
}
