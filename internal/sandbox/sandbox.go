// Package sandbox materializes a generated file set into a fresh directory, installs its
// dependencies, runs the entry point under a timeout and always removes the directory.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"repoforge/internal/config"
	"repoforge/internal/logging"
	"repoforge/internal/spec"
)

const (
	depsDir          = ".forge-deps"
	requirementsFile = ".forge-requirements.txt"
	defaultTimeout   = 30 * time.Second
	waitDelay        = 2 * time.Second
)

// Factory creates sandboxes sharing one configuration. Each request gets its own Sandbox.
type Factory struct {
	cfg   config.SandboxConfig
	audit func(AuditEvent)
}

// NewFactory creates a factory.
func NewFactory(cfg config.SandboxConfig) *Factory {
	return &Factory{cfg: cfg}
}

// SetAuditCallback registers a callback for audit events of every sandbox created afterwards.
func (f *Factory) SetAuditCallback(cb func(AuditEvent)) { f.audit = cb }

// New returns a sandbox for one request.
func (f *Factory) New() *Sandbox {
	return &Sandbox{cfg: f.cfg, audit: f.audit, removeAll: os.RemoveAll}
}

// Sandbox runs one project at a time.
type Sandbox struct {
	mu        sync.Mutex
	cfg       config.SandboxConfig
	audit     func(AuditEvent)
	removeAll func(string) error
}

// New creates a standalone sandbox.
func New(cfg config.SandboxConfig) *Sandbox {
	return NewFactory(cfg).New()
}

func (s *Sandbox) emit(ev AuditEvent) {
	if s.audit != nil {
		ev.Timestamp = time.Now()
		s.audit(ev)
	}
}

// Run writes fs into a fresh directory under the configured root, installs deps and runs
// entryPoint with the interpreter. The directory is removed on every path; cleanup failures
// are recorded in the result and never change the outcome.
func (s *Sandbox) Run(ctx context.Context, fs spec.FileSet, deps []spec.Dependency, entryPoint string, timeout time.Duration) (result *ExecutionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := logging.StartTimer(logging.CategorySandbox, "Sandbox.Run")
	defer timer.Stop()

	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if err := ctx.Err(); err != nil {
		return s.cancelled(PhaseMaterialize, "", err)
	}

	root := s.cfg.Root
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return s.infraFailure(PhaseMaterialize, "", fmt.Errorf("failed to create sandbox root: %w", err))
	}
	dir, err := os.MkdirTemp(root, "forge-"+uuid.NewString()+"-")
	if err != nil {
		return s.infraFailure(PhaseMaterialize, "", fmt.Errorf("failed to create sandbox dir: %w", err))
	}
	logging.SandboxDebug("sandbox dir %s", dir)

	defer func() {
		attempts, cerr := s.cleanup(dir)
		result.CleanupAttempts = attempts
		if cerr != nil {
			err := spec.NewError(spec.KindResourceCleanupFailure, "sandbox.cleanup", cerr)
			result.CleanupErr = err.Error()
			logging.SandboxWarn("%v", err)
		}
		s.emit(AuditEvent{Type: AuditEventCleanup, WorkDir: dir, Result: result, Detail: result.CleanupErr})
	}()

	if err := materialize(dir, fs); err != nil {
		return s.infraFailure(PhaseMaterialize, dir, err)
	}

	env := s.environment(dir)

	if len(deps) > 0 {
		if err := os.WriteFile(filepath.Join(dir, requirementsFile), []byte(spec.RenderRequirements(deps)), 0o644); err != nil {
			return s.infraFailure(PhaseInstall, dir, err)
		}
		install := s.exec(ctx, dir, env, s.installArgs(), s.cfg.GetInstallTimeout(), PhaseInstall)
		if install.ExitCode != 0 || install.TimedOut || install.Error != "" {
			if install.TimedOut {
				install.Stderr += fmt.Sprintf("\ndependency installation timed out after %s", s.cfg.GetInstallTimeout())
				install.TimedOut = false
			}
			install.ExitCode = ExitInstallFailed
			logging.SandboxWarn("dependency installation failed in %s", dir)
			return install
		}
	}

	if err := spec.CheckRelativePath(entryPoint); err != nil {
		return s.infraFailure(PhaseRun, dir, fmt.Errorf("invalid entry point: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return s.cancelled(PhaseRun, dir, err)
	}
	res := s.exec(ctx, dir, env, []string{filepath.FromSlash(entryPoint)}, timeout, PhaseRun)
	logging.Sandbox("run %s: exit=%d timed_out=%v duration=%s", entryPoint, res.ExitCode, res.TimedOut, res.Duration)
	return res
}

// cancelled reports a run abandoned between phases. A phase already running is never
// interrupted by the caller; only its timeout preempts it.
func (s *Sandbox) cancelled(phase Phase, dir string, err error) *ExecutionResult {
	res := &ExecutionResult{ExitCode: ExitCancelled, Phase: phase, WorkDir: dir, Error: err.Error()}
	s.emit(AuditEvent{Type: AuditEventKilled, Phase: phase, WorkDir: dir, Result: res, Detail: "cancelled"})
	return res
}

func (s *Sandbox) infraFailure(phase Phase, dir string, err error) *ExecutionResult {
	logging.SandboxError("%s failed: %v", phase, err)
	res := &ExecutionResult{ExitCode: -1, Phase: phase, WorkDir: dir, Error: err.Error()}
	s.emit(AuditEvent{Type: AuditEventError, Phase: phase, WorkDir: dir, Result: res, Detail: err.Error()})
	return res
}

// materialize writes every artifact below dir, rejecting paths that would escape it.
func materialize(dir string, fs spec.FileSet) error {
	for _, a := range fs.Artifacts() {
		if err := spec.CheckRelativePath(a.Path); err != nil {
			return fmt.Errorf("refusing to write %q: %w", a.Path, err)
		}
		target := filepath.Join(dir, filepath.FromSlash(a.Path))
		rel, err := filepath.Rel(dir, target)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("refusing to write %q outside the sandbox", a.Path)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", a.Path, err)
		}
		if err := os.WriteFile(target, []byte(a.Content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", a.Path, err)
		}
	}
	return nil
}

// environment builds the child environment from the allow-list plus Python settings.
func (s *Sandbox) environment(dir string) []string {
	env := make([]string, 0, len(s.cfg.AllowedEnvVars)+3)
	for _, key := range s.cfg.AllowedEnvVars {
		if val := os.Getenv(key); val != "" {
			env = append(env, key+"="+val)
		}
	}
	pythonPath := dir + string(os.PathListSeparator) + filepath.Join(dir, depsDir)
	return append(env,
		"PYTHONPATH="+pythonPath,
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONUNBUFFERED=1",
	)
}

func (s *Sandbox) installArgs() []string {
	r := strings.NewReplacer("{target}", depsDir, "{requirements}", requirementsFile)
	args := make([]string, len(s.cfg.InstallArgs))
	for i, a := range s.cfg.InstallArgs {
		args[i] = r.Replace(a)
	}
	return args
}

// exec runs the interpreter with args in its own process group. A timeout kills the group;
// caller cancellation does not reach a running process.
func (s *Sandbox) exec(ctx context.Context, dir string, env, args []string, timeout time.Duration, phase Phase) *ExecutionResult {
	res := &ExecutionResult{ExitCode: -1, Phase: phase, WorkDir: dir}
	command := append([]string{s.cfg.Interpreter}, args...)

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, s.cfg.Interpreter, args...)
	cmd.Dir = dir
	cmd.Env = env
	setupProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = waitDelay

	maxOutput := s.cfg.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = 1 << 20
	}
	var stdout, stderr bytes.Buffer
	outW := &limitedWriter{w: &stdout, max: maxOutput}
	errW := &limitedWriter{w: &stderr, max: maxOutput}
	cmd.Stdout = outW
	cmd.Stderr = errW

	s.emit(AuditEvent{Type: AuditEventStart, Phase: phase, WorkDir: dir, Command: command})
	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.Truncated = outW.truncated || errW.truncated
	if res.Truncated {
		logging.SandboxWarn("%s output truncated: %d bytes discarded", phase, outW.discarded+errW.discarded)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.ExitCode = ExitTimeout
		logging.SandboxWarn("%s killed after %s timeout", phase, timeout)
		s.emit(AuditEvent{Type: AuditEventKilled, Phase: phase, WorkDir: dir, Command: command, Result: res, Detail: "timeout after " + timeout.String()})
		return res
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = ExitStartFailed
		res.Error = err.Error()
		logging.SandboxError("failed to start %s: %v", s.cfg.Interpreter, err)
		s.emit(AuditEvent{Type: AuditEventError, Phase: phase, WorkDir: dir, Command: command, Result: res, Detail: err.Error()})
		return res
	}

	s.emit(AuditEvent{Type: AuditEventComplete, Phase: phase, WorkDir: dir, Command: command, Result: res})
	return res
}

// cleanup removes dir, retrying with exponential backoff.
func (s *Sandbox) cleanup(dir string) (int, error) {
	retries := max(s.cfg.CleanupRetries, 1)
	backoff := s.cfg.GetCleanupBackoff()

	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		if err = s.removeAll(dir); err == nil {
			return attempt, nil
		}
		logging.SandboxDebug("cleanup attempt %d/%d for %s failed: %v", attempt, retries, dir, err)
		if attempt < retries {
			time.Sleep(backoff << (attempt - 1))
		}
	}
	return retries, fmt.Errorf("failed to remove %s after %d attempts: %w", dir, retries, err)
}
