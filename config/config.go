package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/m4xw311/aitest/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	ThreadScopeRun   = "run"
	ThreadScopeQuery = "query"
)

type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	Cooldown       time.Duration `yaml:"cooldown"`
	Backoff        time.Duration `yaml:"backoff"`
	RetryTransient bool          `yaml:"retry_transient"`
}

// ToolFilter selects which discovered tools are bound to the model. Patterns
// are doublestar globs matched against tool names.
type ToolFilter struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
	File   string `yaml:"file"`
}

// Credentials are read from the environment only.
type Credentials struct {
	GeminiAPIKey    string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
}

type Config struct {
	LLMClient      string      `yaml:"llm"`
	Model          string      `yaml:"model"`
	Temperature    float32     `yaml:"temperature"`
	MaxTokens      int         `yaml:"max_tokens"`
	SystemPrompt   string      `yaml:"system_prompt"`
	MCPConfig      string      `yaml:"mcp_config"`
	Inputs         string      `yaml:"inputs"`
	ResultsDir     string      `yaml:"results_dir"`
	TranscriptsDir string      `yaml:"transcripts_dir"`
	ThreadScope    string      `yaml:"thread_scope"`
	MaxSteps       int         `yaml:"max_steps"`
	ToolVerbosity  string      `yaml:"tool_verbosity"`
	Retry          RetryConfig `yaml:"retry"`
	Tools          ToolFilter  `yaml:"tools"`
	Log            LogConfig   `yaml:"log"`

	Credentials Credentials `yaml:"-"`
}

// Default returns the settings the runner uses when no file overrides them.
func Default() *Config {
	return &Config{
		LLMClient:     "gemini",
		Model:         "gemini-2.0-flash",
		Temperature:   0.001,
		MaxTokens:     4096,
		SystemPrompt:  DefaultSystemPrompt,
		MCPConfig:     "mcp_config.json",
		Inputs:        "test_inputs.json",
		ResultsDir:    "results",
		ThreadScope:   ThreadScopeRun,
		MaxSteps:      25,
		ToolVerbosity: "none",
		Retry: RetryConfig{
			MaxRetries: 3,
			Cooldown:   time.Second,
			Backoff:    60 * time.Second,
		},
		Log: LogConfig{Level: "info", Pretty: true},
	}
}

// LoadConfig loads configuration from the user's home directory, the current
// working directory and finally the explicit path, each taking precedence over
// the previous one. Credentials come from the environment.
func LoadConfig(explicit string) (*Config, error) {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".aitest", "config.yaml"))
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	paths = append(paths, filepath.Join(wd, ".aitest", "config.yaml"))

	cfg, err := loadFiles(paths...)
	if err != nil {
		return nil, err
	}
	if explicit != "" {
		if err := loadFromFile(explicit, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading config %s", explicit)
		}
	}
	cfg.Credentials = credentialsFromEnv()
	return cfg, cfg.Validate()
}

// loadFiles applies every existing file in order on top of the defaults.
func loadFiles(paths ...string) (*Config, error) {
	cfg := Default()
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := loadFromFile(path, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading config %s", path)
		}
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal only overwrites fields present in the YAML, so later files
	// replace values from earlier ones key by key.
	return yaml.Unmarshal(data, cfg)
}

func credentialsFromEnv() Credentials {
	gemini := os.Getenv("GEMINI_API_KEY")
	if gemini == "" {
		gemini = os.Getenv("GOOGLE_APIKEY")
	}
	return Credentials{
		GeminiAPIKey:    gemini,
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:   os.Getenv("OPENAI_BASE_URL"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
	}
}

// Validate rejects settings the runner cannot act on.
func (c *Config) Validate() error {
	switch c.ThreadScope {
	case ThreadScopeRun, ThreadScopeQuery:
	default:
		return errors.New("invalid thread_scope '%s': must be '%s' or '%s'", c.ThreadScope, ThreadScopeRun, ThreadScopeQuery)
	}
	switch c.ToolVerbosity {
	case "none", "info", "all":
	default:
		return errors.New("invalid tool_verbosity '%s': must be 'none', 'info', or 'all'", c.ToolVerbosity)
	}
	if c.Retry.MaxRetries < 1 {
		return errors.New("retry.max_retries must be at least 1, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.Cooldown < 0 || c.Retry.Backoff < 0 {
		return errors.New("retry.cooldown and retry.backoff must not be negative")
	}
	if c.MaxSteps < 1 {
		return errors.New("max_steps must be at least 1, got %d", c.MaxSteps)
	}
	if c.ResultsDir == "" {
		return errors.New("results_dir must not be empty")
	}
	if c.Log.Level != "" {
		if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
			return errors.New("invalid log.level '%s': must be trace, debug, info, warn, error, fatal, panic or disabled", c.Log.Level)
		}
	}
	return nil
}

// APIKey returns the credential matching the configured LLM backend.
func (c *Config) APIKey() string {
	switch c.LLMClient {
	case "gemini":
		return c.Credentials.GeminiAPIKey
	case "openai":
		return c.Credentials.OpenAIAPIKey
	case "anthropic":
		return c.Credentials.AnthropicAPIKey
	}
	return ""
}
