package main

import (
	"context"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/m4xw311/aitest/agent"
	"github.com/m4xw311/aitest/config"
	"github.com/m4xw311/aitest/errors"
	"github.com/m4xw311/aitest/llm"
	"github.com/m4xw311/aitest/logger"
	"github.com/m4xw311/aitest/report"
	"github.com/m4xw311/aitest/runner"
	"github.com/m4xw311/aitest/session"
	"github.com/m4xw311/aitest/tools"
	"github.com/m4xw311/aitest/tools/mcp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type flags struct {
	configPath    string
	inputs        string
	mcpConfig     string
	resultsDir    string
	llm           string
	model         string
	interactive   bool
	thread        string
	threadScope   string
	toolVerbosity string
	logLevel      string
	maxRetries    int
	cooldown      time.Duration
	backoff       time.Duration
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "aitest",
		Short: "Run natural-language browser tests through an AI agent",
		Long: `aitest feeds a list of test queries to a chat model bound to MCP tool
servers (typically a Playwright browser server) and writes the agent's
answers to a timestamped JSON report.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "config file (merged over ~/.aitest/config.yaml and ./.aitest/config.yaml)")
	fl.StringVar(&f.inputs, "inputs", "", "JSON array of test queries")
	fl.StringVar(&f.mcpConfig, "mcp-config", "", "MCP server configuration (JSON); empty runs without tools")
	fl.StringVar(&f.resultsDir, "results-dir", "", "directory for test result reports")
	fl.StringVar(&f.llm, "llm", "", "LLM backend: gemini, openai, anthropic, bedrock or mock")
	fl.StringVar(&f.model, "model", "", "model name")
	fl.BoolVarP(&f.interactive, "interactive", "i", false, "read queries from stdin instead of the inputs file")
	fl.StringVar(&f.thread, "thread", "", "resume a conversation thread by id")
	fl.StringVar(&f.threadScope, "thread-scope", "", "conversation thread per 'run' or per 'query'")
	fl.StringVar(&f.toolVerbosity, "tool-verbosity", "", "tool logging: none, info or all")
	fl.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fl.IntVar(&f.maxRetries, "max-retries", 0, "attempts per query on rate limit errors")
	fl.DurationVar(&f.cooldown, "cooldown", 0, "wait before every agent call")
	fl.DurationVar(&f.backoff, "backoff", 0, "wait between rate limit retries")
	return cmd
}

// applyFlags overrides file configuration with every flag set on the command line.
func applyFlags(cmd *cobra.Command, f *flags, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	if changed("inputs") {
		cfg.Inputs = f.inputs
	}
	if changed("mcp-config") {
		cfg.MCPConfig = f.mcpConfig
	}
	if changed("results-dir") {
		cfg.ResultsDir = f.resultsDir
	}
	if changed("llm") {
		cfg.LLMClient = f.llm
	}
	if changed("model") {
		cfg.Model = f.model
	}
	if changed("thread-scope") {
		cfg.ThreadScope = f.threadScope
	}
	if changed("tool-verbosity") {
		cfg.ToolVerbosity = f.toolVerbosity
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("max-retries") {
		cfg.Retry.MaxRetries = f.maxRetries
	}
	if changed("cooldown") {
		cfg.Retry.Cooldown = f.cooldown
	}
	if changed("backoff") {
		cfg.Retry.Backoff = f.backoff
	}
	if f.thread != "" {
		if err := session.ValidateName(f.thread); err != nil {
			return err
		}
	}
	return cfg.Validate()
}

func run(cmd *cobra.Command, f *flags) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		cmd.PrintErrf("Warning: failed to load .env: %v\n", err)
	}

	cfg, err := config.LoadConfig(f.configPath)
	if err == nil {
		err = applyFlags(cmd, f, cfg)
	}
	if err != nil {
		cmd.PrintErrf("Error loading configuration: %+v\n", err)
		return err
	}

	logs, err := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, File: cfg.Log.File})
	if err != nil {
		cmd.PrintErrf("Error initializing logger: %+v\n", err)
		return err
	}
	defer logs.Close()
	log := logs.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, cfg, f, cmd.InOrStdin(), cmd.OutOrStdout(), log); err != nil {
		log.Error().Err(err).Msg("aitest failed")
		return err
	}
	return nil
}

// execute runs the startup sequence and the test loop. Any error returned
// happened before the first query.
func execute(ctx context.Context, cfg *config.Config, f *flags, stdin io.Reader, stdout io.Writer, log zerolog.Logger) error {
	start := time.Now()

	var queries []string
	interactive := f.interactive
	if !interactive {
		var err error
		queries, err = config.LoadInputs(cfg.Inputs)
		if err != nil {
			return err
		}
		if len(queries) == 0 {
			log.Warn().Str("inputs", cfg.Inputs).Msg("no test inputs, switching to interactive mode")
			interactive = true
		}
	}

	client, err := llm.New(ctx, cfg.LLMClient, llm.Options{
		Model:       cfg.Model,
		APIKey:      cfg.APIKey(),
		BaseURL:     baseURL(cfg),
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to initialize %s client", cfg.LLMClient)
	}
	if c, ok := client.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close LLM client")
			}
		}()
	}

	toolset, release, err := connectTools(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer release()
	log.Info().Int("tools", len(toolset)).Str("llm", cfg.LLMClient).Str("model", cfg.Model).Msg("agent ready")

	verbosity, err := agent.ParseToolVerbosity(cfg.ToolVerbosity)
	if err != nil {
		return err
	}

	store := session.NewStore(cfg.TranscriptsDir)
	if f.thread != "" && cfg.TranscriptsDir != "" {
		if err := store.Load(f.thread); err != nil {
			log.Warn().Err(err).Str("thread", f.thread).Msg("no saved history, starting the thread fresh")
		}
	}

	a, err := agent.New(agent.Options{
		LLMClient:    client,
		Tools:        toolset,
		SystemPrompt: cfg.SystemPrompt,
		Store:        store,
		MaxSteps:     cfg.MaxSteps,
		Verbosity:    verbosity,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	r := runner.New(runner.Options{
		Agent:          a,
		Reporter:       &report.Writer{Dir: cfg.ResultsDir, Start: start, Logger: log},
		MaxRetries:     cfg.Retry.MaxRetries,
		Cooldown:       cfg.Retry.Cooldown,
		Backoff:        cfg.Retry.Backoff,
		RetryTransient: cfg.Retry.RetryTransient,
		ThreadScope:    cfg.ThreadScope,
		ThreadID:       f.thread,
		Stdout:         stdout,
		Logger:         log,
	})

	var src runner.Source = runner.NewListSource(queries)
	if interactive {
		src = runner.NewInteractiveSource(stdin, stdout)
	}
	_, err = r.Run(ctx, src)
	return err
}

// connectTools starts the configured MCP servers and returns the filtered
// tools with a release func that must be called on exit.
func connectTools(ctx context.Context, cfg *config.Config, log zerolog.Logger) ([]tools.Tool, func(), error) {
	if cfg.MCPConfig == "" {
		log.Warn().Msg("no MCP config, running without tools")
		return nil, func() {}, nil
	}
	mcpCfg, err := config.LoadMCPConfig(cfg.MCPConfig)
	if err != nil {
		return nil, nil, err
	}
	servers, err := mcp.Connect(ctx, mcpCfg, log)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to connect to MCP servers")
	}
	release := func() {
		if err := servers.Close(); err != nil {
			log.Error().Err(err).Msg("failed to release MCP servers")
		}
	}
	toolset, err := servers.Registry().Filter(cfg.Tools.Allow, cfg.Tools.Deny)
	if err != nil {
		release()
		return nil, nil, errors.Wrapf(err, "invalid tool filter")
	}
	return toolset, release, nil
}

func baseURL(cfg *config.Config) string {
	if cfg.LLMClient == "openai" {
		return cfg.Credentials.OpenAIBaseURL
	}
	return ""
}
