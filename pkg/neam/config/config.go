// Package config loads the neam YAML configuration and the engine
// properties file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cognicore/neam/pkg/neam/internalerr"
)

// Config holds the complete neam configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Source  SourceConfig  `yaml:"source"`
	Engine  EngineConfig  `yaml:"engine"`
	Tags    TagsConfig    `yaml:"tags"`
	Markup  MarkupConfig  `yaml:"markup"`
	Store   StoreConfig   `yaml:"store"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Env   string `yaml:"env"`   // production, development (default: production)
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// SourceConfig selects and configures the annotation source.
type SourceConfig struct {
	Kind       string    `yaml:"kind"` // corenlp, llm (default: corenlp)
	URL        string    `yaml:"url"`
	TimeoutSec int       `yaml:"timeout_sec"`
	Retries    int       `yaml:"retries"`    // extra attempts on transient engine failures (default: 0)
	BackoffMS  int       `yaml:"backoff_ms"` // first retry delay (default: 500)
	Cache      bool      `yaml:"cache"`
	LLM        LLMConfig `yaml:"llm"`
}

// LLMConfig holds settings for the chat-completion annotation source.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// TagsConfig describes where the tag dictionary comes from.
type TagsConfig struct {
	File        string            `yaml:"file"`
	UseDefaults *bool             `yaml:"use_defaults"` // default TEI mapping when no file is set (default: true)
	Map         map[string]string `yaml:"map"`          // inline entries, applied last
}

// MarkupConfig holds reconstruction settings.
type MarkupConfig struct {
	Mode          string   `yaml:"mode"` // span, run (default: span)
	LeadingMatch  bool     `yaml:"leading_match"`
	CloseTrailing bool     `yaml:"close_trailing"`
	ResolveRuns   bool     `yaml:"resolve_runs"`
	Preprocess    []string `yaml:"preprocess"`  // applied to the document before annotation
	Postprocess   []string `yaml:"postprocess"` // applied to span output
}

// StoreConfig holds run history settings.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite, memory, none (default: sqlite)
	Path   string `yaml:"path"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Addr            string `yaml:"addr"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	ShutdownSec     int    `yaml:"shutdown_timeout_sec"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// Load reads .env (if present) and the YAML file at path. An empty path
// yields the defaults.
func Load(path string) (Config, error) {
	// Best-effort: load .env from current directory
	_ = godotenv.Load()

	if path == "" {
		var cfg Config
		cfg.applyEnv()
		cfg.ApplyDefaults()
		return cfg, nil
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnv fills secrets and endpoints from the environment when the file
// leaves them empty.
func (c *Config) applyEnv() {
	if c.Source.URL == "" {
		c.Source.URL = strings.TrimSpace(os.Getenv("NEAM_SOURCE_URL"))
	}
	if c.Source.LLM.APIKey == "" {
		c.Source.LLM.APIKey = strings.TrimSpace(os.Getenv("NEAM_LLM_API_KEY"))
	}
	if c.Source.LLM.APIKey == "" {
		c.Source.LLM.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Logging.Env == "" {
		c.Logging.Env = "production"
	}
	if c.Source.Kind == "" {
		c.Source.Kind = "corenlp"
	}
	if c.Source.URL == "" && c.Source.Kind == "corenlp" {
		c.Source.URL = "http://localhost:9000"
	}
	if c.Source.TimeoutSec <= 0 {
		c.Source.TimeoutSec = 60
	}
	if c.Source.LLM.Model == "" {
		c.Source.LLM.Model = "gpt-4o-mini"
	}
	if c.Tags.UseDefaults == nil {
		useDefaults := true
		c.Tags.UseDefaults = &useDefaults
	}
	if c.Markup.Mode == "" {
		c.Markup.Mode = "span"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Path == "" && c.Store.Driver == "sqlite" {
		c.Store.Path = "neam.db"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	c.Engine.ApplyDefaults()
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case "corenlp", "llm":
	default:
		return fmt.Errorf("%w: source.kind must be \"corenlp\" or \"llm\", got %q", internalerr.ErrInvalidConfig, c.Source.Kind)
	}
	switch c.Markup.Mode {
	case "span", "run":
	default:
		return fmt.Errorf("%w: markup.mode must be \"span\" or \"run\", got %q", internalerr.ErrInvalidConfig, c.Markup.Mode)
	}
	switch c.Store.Driver {
	case "sqlite", "memory", "none":
	default:
		return fmt.Errorf("%w: store.driver must be \"sqlite\", \"memory\" or \"none\", got %q", internalerr.ErrInvalidConfig, c.Store.Driver)
	}
	if c.Source.Retries < 0 {
		return fmt.Errorf("%w: source.retries must not be negative", internalerr.ErrInvalidConfig)
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		return fmt.Errorf("%w: store.path is required for sqlite", internalerr.ErrInvalidConfig)
	}
	return nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
