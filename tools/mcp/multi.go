package mcp

import (
	"context"

	"github.com/m4xw311/aitest/config"
	"github.com/m4xw311/aitest/errors"
	"github.com/m4xw311/aitest/tools"
	"github.com/rs/zerolog"
)

// MultiServerClient holds one connection per configured tool provider. It is
// opened once per run and must be closed on every exit path.
type MultiServerClient struct {
	clients []*MCPClient
	log     zerolog.Logger
}

// Connect opens every server in cfg, in name order. If any server fails, the
// ones already opened are closed before the error is returned.
func Connect(ctx context.Context, cfg *config.MCPConfig, log zerolog.Logger) (*MultiServerClient, error) {
	m := &MultiServerClient{log: log}
	for _, name := range cfg.ServerNames() {
		c, err := NewMCPClient(ctx, name, cfg.Servers[name], log)
		if err != nil {
			if cerr := m.Close(); cerr != nil {
				log.Error().Err(cerr).Msg("failed to release MCP servers after connect error")
			}
			return nil, err
		}
		m.clients = append(m.clients, c)
	}
	return m, nil
}

// Registry returns a registry of every discovered tool. When two servers expose
// the same tool name, the later server (by name) wins and a warning is logged.
func (m *MultiServerClient) Registry() *tools.ToolRegistry {
	r := tools.NewToolRegistry()
	for _, c := range m.clients {
		for _, t := range c.Tools() {
			if _, dup := r.GetTool(t.Name()); dup {
				m.log.Warn().Str("tool", t.Name()).Str("server", c.Name).Msg("duplicate tool name, replacing earlier definition")
			}
			r.Register(t)
		}
	}
	return r
}

// Close releases every server and reports all failures together.
func (m *MultiServerClient) Close() error {
	var errs []error
	for i := len(m.clients) - 1; i >= 0; i-- {
		if err := m.clients[i].Close(); err != nil {
			errs = append(errs, errors.Wrapf(err, "failed to close MCP server '%s'", m.clients[i].Name))
		}
	}
	m.clients = nil
	return errors.Join(errs...)
}
