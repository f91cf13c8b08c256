package sandbox

import (
	"time"
)

// Exit codes reported for failures that have no process exit status of their own.
const (
	ExitTimeout       = 124
	ExitInstallFailed = 125
	ExitStartFailed   = 127
	ExitCancelled     = 130
)

// Phase names the step an ExecutionResult describes.
type Phase string

const (
	PhaseMaterialize Phase = "materialize"
	PhaseInstall     Phase = "install"
	PhaseRun         Phase = "run"
)

// ExecutionResult is the structured outcome of one sandboxed run.
type ExecutionResult struct {
	ExitCode        int           `json:"exit_code"`
	Stdout          string        `json:"stdout"`
	Stderr          string        `json:"stderr"`
	TimedOut        bool          `json:"timed_out"`
	Duration        time.Duration `json:"duration"`
	Phase           Phase         `json:"phase"`
	WorkDir         string        `json:"work_dir"`
	Truncated       bool          `json:"truncated,omitempty"`
	Error           string        `json:"error,omitempty"` // infrastructure failure, not program output
	CleanupAttempts int           `json:"cleanup_attempts"`
	CleanupErr      string        `json:"cleanup_error,omitempty"`
}

// Succeeded reports whether the entry point ran to completion with exit code 0.
func (r *ExecutionResult) Succeeded() bool {
	return r != nil && r.Phase == PhaseRun && r.ExitCode == 0 && !r.TimedOut && r.Error == ""
}

// AuditEventType classifies sandbox audit events.
type AuditEventType string

const (
	AuditEventStart    AuditEventType = "start"
	AuditEventComplete AuditEventType = "complete"
	AuditEventKilled   AuditEventType = "killed"
	AuditEventError    AuditEventType = "error"
	AuditEventCleanup  AuditEventType = "cleanup"
)

// AuditEvent is delivered to the audit callback for every lifecycle step.
type AuditEvent struct {
	Type      AuditEventType
	Timestamp time.Time
	Phase     Phase
	WorkDir   string
	Command   []string
	Result    *ExecutionResult
	Detail    string
}
