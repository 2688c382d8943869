package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Tool defines the interface for any action the agent can take.
type Tool interface {
	Name() string
	Description() string
	// InputSchema is the JSON schema of the arguments, decoded into plain maps.
	// A nil schema means the tool takes no arguments.
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// ToolRegistry holds all available tools.
type ToolRegistry struct {
	tools map[string]Tool
}

func NewToolRegistry(ts ...Tool) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]Tool)}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

// Register adds t, replacing any tool with the same name.
func (r *ToolRegistry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *ToolRegistry) GetTool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns every registered tool sorted by name.
func (r *ToolRegistry) Tools() []Tool {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name])
	}
	return out
}

// Filter returns the tools whose names match any allow pattern (all tools when
// allow is empty) and no deny pattern.
func (r *ToolRegistry) Filter(allow, deny []string) ([]Tool, error) {
	var active []Tool
	for _, t := range r.Tools() {
		if len(allow) > 0 {
			ok, err := matchAny(t.Name(), allow)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		denied, err := matchAny(t.Name(), deny)
		if err != nil {
			return nil, err
		}
		if denied {
			continue
		}
		active = append(active, t)
	}
	return active, nil
}

// matchAny checks if name matches any of the glob patterns.
func matchAny(name string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return false, fmt.Errorf("invalid tool pattern '%s': %w", pattern, doublestar.ErrBadPattern)
		}
		match, err := doublestar.Match(pattern, name)
		if err != nil {
			return false, fmt.Errorf("invalid tool pattern '%s': %w", pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}
