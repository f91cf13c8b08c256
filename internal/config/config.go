package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all repoforge configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration (planner and generation oracle)
	LLM LLMConfig `yaml:"llm"`

	// Refinement loop budget
	Refinement RefinementConfig `yaml:"refinement"`

	// Sandbox execution settings
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Static verification settings
	Verification VerificationConfig `yaml:"verification"`

	// HTTP front-end
	Server ServerConfig `yaml:"server"`

	// Run history database
	Store StoreConfig `yaml:"store"`

	// Packaged output
	Output OutputConfig `yaml:"output"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the generation oracle and planner.
type LLMConfig struct {
	Provider   string `yaml:"provider"` // gemini
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Timeout    string `yaml:"timeout"`
	MaxRetries int    `yaml:"max_retries"`
	RetryDelay string `yaml:"retry_delay"`
}

// RefinementConfig configures the controller's iteration budget.
type RefinementConfig struct {
	// MaxIterations is a hard ceiling on repair passes.
	MaxIterations int `yaml:"max_iterations"`

	// ExecutionTimeout bounds the final sandbox run of the entry point.
	ExecutionTimeout string `yaml:"execution_timeout"`

	// SkipExecution stops after static verification (useful offline).
	SkipExecution bool `yaml:"skip_execution"`
}

// VerificationConfig tunes the static verifier.
type VerificationConfig struct {
	// ExtraStdlib extends the standard-library allow-list.
	ExtraStdlib []string `yaml:"extra_stdlib"`

	// ModuleAliases maps a distribution name to the module it installs (e.g. pyyaml: yaml).
	ModuleAliases map[string]string `yaml:"module_aliases"`

	// Workers bounds concurrent file parsing. Zero means one per CPU.
	Workers int `yaml:"workers"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	MaxConcurrent  int    `yaml:"max_concurrent"`
	RequestTimeout string `yaml:"request_timeout"`
}

// StoreConfig configures run history persistence.
type StoreConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// OutputConfig configures the integrator.
type OutputConfig struct {
	Dir string `yaml:"dir"`
	Zip bool   `yaml:"zip"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // json, console
	File       string          `yaml:"file"`
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "repoforge",
		Version: "0.4.0",

		LLM: LLMConfig{
			Provider:   "gemini",
			Model:      "gemini-2.0-flash-lite",
			Timeout:    "120s",
			MaxRetries: 3,
			RetryDelay: "2s",
		},

		Refinement: RefinementConfig{
			MaxIterations:    3,
			ExecutionTimeout: "30s",
		},

		Sandbox: DefaultSandboxConfig(),

		Verification: VerificationConfig{},

		Server: ServerConfig{
			Addr:           "127.0.0.1:8000",
			MaxConcurrent:  4,
			RequestTimeout: "10m",
		},

		Store: StoreConfig{
			Enabled:      true,
			DatabasePath: ".forge/runs.db",
		},

		Output: OutputConfig{
			Dir: "output",
			Zip: true,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Defaults plus environment when there is no file
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	// GEMINI_API_KEY wins over GOOGLE_API_KEY
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("FORGE_MODEL"); model != "" {
		c.LLM.Model = model
	}

	if v := os.Getenv("FORGE_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Refinement.MaxIterations = n
		}
	}
	if root := os.Getenv("FORGE_SANDBOX_ROOT"); root != "" {
		c.Sandbox.Root = root
	}
	if py := os.Getenv("FORGE_PYTHON"); py != "" {
		c.Sandbox.Interpreter = py
	}
	if path := os.Getenv("FORGE_DB"); path != "" {
		c.Store.DatabasePath = path
	}
}

// GetLLMTimeout returns the per-call oracle timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

// GetRetryDelay returns the base backoff between oracle retries.
func (c *Config) GetRetryDelay() time.Duration {
	return parseDuration(c.LLM.RetryDelay, 2*time.Second)
}

// GetExecutionTimeout returns the entry-point timeout as a duration.
func (c *Config) GetExecutionTimeout() time.Duration {
	return parseDuration(c.Refinement.ExecutionTimeout, 30*time.Second)
}

// GetRequestTimeout returns the API per-request timeout.
func (c *Config) GetRequestTimeout() time.Duration {
	return parseDuration(c.Server.RequestTimeout, 10*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"gemini"}

// Validate checks the settings every run depends on. The API key is checked separately by
// RequireLLM because verify/run commands work without one.
func (c *Config) Validate() error {
	if c.Refinement.MaxIterations < 0 {
		return fmt.Errorf("refinement.max_iterations must be >= 0, got %d", c.Refinement.MaxIterations)
	}
	if c.Refinement.MaxIterations > 10 {
		return fmt.Errorf("refinement.max_iterations must be <= 10, got %d", c.Refinement.MaxIterations)
	}
	if c.Server.MaxConcurrent < 1 {
		return fmt.Errorf("server.max_concurrent must be >= 1")
	}
	if c.Sandbox.Interpreter == "" {
		return fmt.Errorf("sandbox.interpreter is required")
	}
	if c.Sandbox.MaxOutputBytes <= 0 {
		return fmt.Errorf("sandbox.max_output_bytes must be > 0")
	}
	return nil
}

// RequireLLM validates the LLM section for commands that call the oracle.
func (c *Config) RequireLLM() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY or GOOGLE_API_KEY)")
	}
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			return nil
		}
	}
	return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
}
