package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY", "FORGE_MODEL", "FORGE_MAX_ITERATIONS", "FORGE_SANDBOX_ROOT", "FORGE_PYTHON", "FORGE_DB"} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "repoforge", cfg.Name)
	assert.Equal(t, 3, cfg.Refinement.MaxIterations)
	assert.Equal(t, "python3", cfg.Sandbox.Interpreter)
	assert.Equal(t, 30*time.Second, cfg.GetExecutionTimeout())
	require.NoError(t, cfg.Validate())
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "forge.yaml")

	cfg := DefaultConfig()
	cfg.Refinement.MaxIterations = 5
	cfg.Sandbox.Root = "/tmp/forge"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, loaded.Refinement.MaxIterations)
	assert.Equal(t, "/tmp/forge", loaded.Sandbox.Root)
	assert.Equal(t, cfg.Sandbox.InstallArgs, loaded.Sandbox.InstallArgs)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Refinement, cfg.Refinement)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "forge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("refinement:\n  max_iterations: 1\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Refinement.MaxIterations)
	assert.Equal(t, "30s", cfg.Refinement.ExecutionTimeout)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("refinement: [unclosed"), 0644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestEnvOverrides(t *testing.T) {
	t.Run("GEMINI_API_KEY wins over GOOGLE_API_KEY", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GOOGLE_API_KEY", "google")
		t.Setenv("GEMINI_API_KEY", "gemini")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "gemini", cfg.LLM.APIKey)
	})

	t.Run("numeric override ignored when malformed", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("FORGE_MAX_ITERATIONS", "many")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, 3, cfg.Refinement.MaxIterations)
	})

	t.Run("sandbox and store paths", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("FORGE_MAX_ITERATIONS", "2")
		t.Setenv("FORGE_SANDBOX_ROOT", "/var/forge")
		t.Setenv("FORGE_PYTHON", "python3.12")
		t.Setenv("FORGE_DB", "/var/forge/runs.db")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, 2, cfg.Refinement.MaxIterations)
		assert.Equal(t, "/var/forge", cfg.Sandbox.Root)
		assert.Equal(t, "python3.12", cfg.Sandbox.Interpreter)
		assert.Equal(t, "/var/forge/runs.db", cfg.Store.DatabasePath)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"negative iterations", func(c *Config) { c.Refinement.MaxIterations = -1 }, "max_iterations"},
		{"too many iterations", func(c *Config) { c.Refinement.MaxIterations = 11 }, "max_iterations"},
		{"no interpreter", func(c *Config) { c.Sandbox.Interpreter = "" }, "interpreter"},
		{"zero concurrency", func(c *Config) { c.Server.MaxConcurrent = 0 }, "max_concurrent"},
		{"zero output cap", func(c *Config) { c.Sandbox.MaxOutputBytes = 0 }, "max_output_bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestRequireLLM(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.RequireLLM())

	cfg.LLM.APIKey = "key"
	assert.NoError(t, cfg.RequireLLM())

	cfg.LLM.Provider = "zai"
	assert.ErrorContains(t, cfg.RequireLLM(), "invalid LLM provider")
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Timeout = "soon"
	cfg.Sandbox.CleanupBackoff = "-1s"
	assert.Equal(t, 120*time.Second, cfg.GetLLMTimeout())
	assert.Equal(t, 100*time.Millisecond, cfg.Sandbox.GetCleanupBackoff())
}
