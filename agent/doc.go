// Package agent runs a chat model against a set of tools.
//
// Each invocation appends the user input to the thread history and then
// alternates between two nodes:
//
//   - model: sends the system prompt and history to the LLM client
//   - tools: executes every tool call of the last reply, in order
//
// The loop ends when the model replies without tool calls. Tool failures are
// returned to the model as "Error: ..." messages rather than aborting the run.
// An invocation that exceeds MaxSteps node executions fails with a Fatal error.
//
// # Usage
//
//	a, err := agent.New(agent.Options{
//	    LLMClient:    client,
//	    Tools:        registry.Tools(),
//	    SystemPrompt: config.DefaultSystemPrompt,
//	    Store:        session.NewStore(""),
//	    Verbosity:    agent.ToolVerbosityInfo,
//	    Logger:       log.Logger,
//	})
//	history, err := a.Invoke(ctx, threadID, "1→open the login page")
//	fmt.Println(agent.FinalResponse(history))
//
// # Tool Verbosity
//
//   - ToolVerbosityNone: tool calls are logged at debug level only
//   - ToolVerbosityInfo: tool names are logged
//   - ToolVerbosityAll: arguments and results are logged as well
//
// # Checkpoints
//
// Thread histories live in a session.Store. Invoke reads a copy and commits
// only on success, so retrying a failed input never sees the failed attempt.
package agent
