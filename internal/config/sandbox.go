package config

import "time"

// SandboxConfig configures isolated execution of generated projects.
type SandboxConfig struct {
	// Root is the parent directory for per-run sandboxes. Empty means os.TempDir().
	Root string `yaml:"root"`

	// Interpreter runs the entry point (python3 by default).
	Interpreter string `yaml:"interpreter"`

	// InstallArgs are passed to the interpreter to install requirements.txt.
	// "{target}" and "{requirements}" are substituted.
	InstallArgs []string `yaml:"install_args"`

	// InstallTimeout bounds dependency installation.
	InstallTimeout string `yaml:"install_timeout"`

	// MaxOutputBytes caps captured stdout and stderr each.
	MaxOutputBytes int64 `yaml:"max_output_bytes"`

	// AllowedEnvVars are copied from the host environment.
	AllowedEnvVars []string `yaml:"allowed_env_vars"`

	// CleanupRetries is how many times directory removal is attempted.
	CleanupRetries int `yaml:"cleanup_retries"`

	// CleanupBackoff is the first delay between removal attempts (doubles each retry).
	CleanupBackoff string `yaml:"cleanup_backoff"`
}

// DefaultSandboxConfig returns the sandbox defaults.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Interpreter: "python3",
		InstallArgs: []string{
			"-m", "pip", "install", "--quiet", "--disable-pip-version-check",
			"--target", "{target}", "-r", "{requirements}",
		},
		InstallTimeout: "120s",
		MaxOutputBytes: 1 << 20,
		AllowedEnvVars: []string{"PATH", "HOME", "LANG", "LC_ALL", "TMPDIR", "SYSTEMROOT"},
		CleanupRetries: 5,
		CleanupBackoff: "100ms",
	}
}

// GetInstallTimeout returns the install timeout as a duration.
func (s SandboxConfig) GetInstallTimeout() time.Duration {
	return parseDuration(s.InstallTimeout, 120*time.Second)
}

// GetCleanupBackoff returns the initial cleanup backoff.
func (s SandboxConfig) GetCleanupBackoff() time.Duration {
	return parseDuration(s.CleanupBackoff, 100*time.Millisecond)
}
