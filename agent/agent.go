package agent

import (
	"context"
	"fmt"

	"github.com/m4xw311/aitest/errors"
	"github.com/m4xw311/aitest/llm"
	"github.com/m4xw311/aitest/session"
	"github.com/m4xw311/aitest/tools"
	"github.com/rs/zerolog"
)

// DefaultMaxSteps bounds the number of node executions per invocation.
const DefaultMaxSteps = 25

type ToolVerbosity string

const (
	ToolVerbosityNone ToolVerbosity = "none"
	ToolVerbosityInfo ToolVerbosity = "info"
	ToolVerbosityAll  ToolVerbosity = "all"
)

// ParseToolVerbosity accepts none, info or all. Empty means none.
func ParseToolVerbosity(s string) (ToolVerbosity, error) {
	switch ToolVerbosity(s) {
	case "", ToolVerbosityNone:
		return ToolVerbosityNone, nil
	case ToolVerbosityInfo, ToolVerbosityAll:
		return ToolVerbosity(s), nil
	}
	return "", errors.New("invalid tool verbosity '%s': must be none, info or all", s)
}

// ProcessCallbacks lets the caller observe an invocation. Every field is optional.
type ProcessCallbacks struct {
	OnAssistantMessage func(message string)
	OnToolCall         func(toolCall session.ToolCall)
	OnToolResult       func(toolCall session.ToolCall, result string)
	// ShouldExecuteTool can veto a call; the model is told it was declined.
	ShouldExecuteTool func(toolCall session.ToolCall) bool
}

type Options struct {
	LLMClient    llm.LLMClient
	Tools        []tools.Tool
	SystemPrompt string
	// Store checkpoints thread histories. Nil means an in-memory store.
	Store     *session.Store
	MaxSteps  int
	Verbosity ToolVerbosity
	Logger    zerolog.Logger
	Callbacks ProcessCallbacks
}

// Agent alternates between a model node and a tool node until the model
// answers without requesting tools.
type Agent struct {
	llm          llm.LLMClient
	registry     *tools.ToolRegistry
	tools        []tools.Tool
	systemPrompt string
	store        *session.Store
	maxSteps     int
	verbosity    ToolVerbosity
	log          zerolog.Logger
	callbacks    ProcessCallbacks
}

func New(opts Options) (*Agent, error) {
	if opts.LLMClient == nil {
		return nil, errors.New("agent requires an LLM client")
	}
	store := opts.Store
	if store == nil {
		store = session.NewStore("")
	}
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	verbosity := opts.Verbosity
	if verbosity == "" {
		verbosity = ToolVerbosityNone
	}
	registry := tools.NewToolRegistry(opts.Tools...)
	return &Agent{
		llm:          opts.LLMClient,
		registry:     registry,
		tools:        registry.Tools(),
		systemPrompt: opts.SystemPrompt,
		store:        store,
		maxSteps:     maxSteps,
		verbosity:    verbosity,
		log:          opts.Logger,
		callbacks:    opts.Callbacks,
	}, nil
}

// Invoke runs one user input through the graph on threadID and returns the
// full thread history. The history is committed to the store only when the
// invocation succeeds, so a failed attempt can be retried from a clean state.
func (a *Agent) Invoke(ctx context.Context, threadID, input string) ([]session.Message, error) {
	history := a.store.Get(threadID)
	if len(history) == 0 && a.systemPrompt != "" {
		history = append(history, session.Message{Role: session.RoleSystem, Content: a.systemPrompt})
	}
	history = append(history, session.Message{Role: session.RoleUser, Content: input})

	steps := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "invocation on thread %s interrupted", threadID)
		}
		if err := a.step(&steps); err != nil {
			return nil, err
		}

		reply, err := a.llm.Chat(ctx, history, a.tools)
		if err != nil {
			return nil, errors.Wrapf(err, "model call failed")
		}
		reply.Role = session.RoleAssistant
		history = append(history, *reply)
		if reply.Content != "" && a.callbacks.OnAssistantMessage != nil {
			a.callbacks.OnAssistantMessage(reply.Content)
		}

		if len(reply.ToolCalls) == 0 {
			break
		}

		if err := a.step(&steps); err != nil {
			return nil, err
		}
		for _, tc := range reply.ToolCalls {
			result := a.executeTool(ctx, tc)
			history = append(history, session.Message{
				Role:      session.RoleTool,
				Content:   result,
				ToolCalls: []session.ToolCall{tc},
			})
		}
	}

	if err := a.store.Put(threadID, history); err != nil {
		a.log.Warn().Err(err).Str("thread", threadID).Msg("failed to save session")
	}
	return history, nil
}

func (a *Agent) step(steps *int) error {
	*steps++
	if *steps > a.maxSteps {
		return errors.WithKind(
			errors.New("agent did not reach a final answer within %d steps", a.maxSteps),
			errors.Fatal)
	}
	return nil
}

// executeTool runs one call. Failures are reported to the model as text.
func (a *Agent) executeTool(ctx context.Context, tc session.ToolCall) string {
	if a.callbacks.OnToolCall != nil {
		a.callbacks.OnToolCall(tc)
	}
	switch a.verbosity {
	case ToolVerbosityAll:
		a.log.Info().Str("tool", tc.Name).Interface("args", tc.Args).Msg("calling tool")
	case ToolVerbosityInfo:
		a.log.Info().Str("tool", tc.Name).Msg("calling tool")
	default:
		a.log.Debug().Str("tool", tc.Name).Msg("calling tool")
	}

	var result string
	tool, ok := a.registry.GetTool(tc.Name)
	switch {
	case !ok:
		result = fmt.Sprintf("Error: tool %s not found", tc.Name)
	case a.callbacks.ShouldExecuteTool != nil && !a.callbacks.ShouldExecuteTool(tc):
		result = fmt.Sprintf("Error: execution of tool %s was declined", tc.Name)
	default:
		out, err := tool.Execute(ctx, tc.Args)
		if err != nil {
			a.log.Warn().Err(err).Str("tool", tc.Name).Msg("tool failed")
			result = fmt.Sprintf("Error: %v", err)
		} else {
			result = out
		}
	}

	if a.verbosity == ToolVerbosityAll {
		a.log.Info().Str("tool", tc.Name).Str("result", result).Msg("tool finished")
	}
	if a.callbacks.OnToolResult != nil {
		a.callbacks.OnToolResult(tc, result)
	}
	return result
}

// FinalResponse returns the content of the last assistant message.
func FinalResponse(history []session.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == session.RoleAssistant {
			return history[i].Content
		}
	}
	return ""
}
