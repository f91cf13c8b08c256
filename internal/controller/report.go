package controller

import (
	"repoforge/internal/sandbox"
	"repoforge/internal/spec"
)

// IterationRecord captures one repair pass. Before are the findings the pass started from,
// After the verification result that followed it.
type IterationRecord struct {
	Index           int                      `json:"index"`
	Before          []spec.Finding           `json:"before"`
	After           []spec.Finding           `json:"after"`
	Applied         int                      `json:"applied"`
	Regenerated     []string                 `json:"regenerated,omitempty"`
	Unresolved      []spec.Finding           `json:"unresolved,omitempty"`
	BlockingRemains bool                     `json:"blocking_remains"`
	Execution       *sandbox.ExecutionResult `json:"execution,omitempty"` // run that triggered the pass
}

// Report is the final outcome of a refinement loop. No file or finding is dropped.
type Report struct {
	Success     bool
	Degraded    bool // budget exhausted with blocking findings left
	FinalState  State
	Spec        *spec.ProjectSpec
	FileSet     spec.FileSet
	Execution   *sandbox.ExecutionResult
	Iterations  []IterationRecord
	Transitions []Transition
	Findings    []spec.Finding
	Err         error
}

// Blocking returns the blocking findings left at the end of the loop.
func (r *Report) Blocking() []spec.Finding { return spec.Blocking(r.Findings) }

// Summary is the serializable view of a report used by the HTTP API and run history.
type Summary struct {
	Success     bool                     `json:"success"`
	Degraded    bool                     `json:"degraded"`
	FinalState  State                    `json:"final_state"`
	ProjectName string                   `json:"project_name,omitempty"`
	EntryPoint  string                   `json:"entry_point,omitempty"`
	Files       map[string]string        `json:"files"`
	Execution   *sandbox.ExecutionResult `json:"execution,omitempty"`
	Iterations  []IterationRecord        `json:"iterations"`
	Transitions []Transition             `json:"transitions"`
	Findings    []spec.Finding           `json:"findings"`
	Error       string                   `json:"error,omitempty"`
}

// Summary converts the report into its serializable view.
func (r *Report) Summary() Summary {
	s := Summary{
		Success:     r.Success,
		Degraded:    r.Degraded,
		FinalState:  r.FinalState,
		Files:       r.FileSet.Contents(),
		Execution:   r.Execution,
		Iterations:  r.Iterations,
		Transitions: r.Transitions,
		Findings:    r.Findings,
	}
	if r.Spec != nil {
		s.ProjectName = r.Spec.Name
		s.EntryPoint = r.Spec.EntryPoint
	}
	if r.Err != nil {
		s.Error = r.Err.Error()
	}
	if s.Iterations == nil {
		s.Iterations = []IterationRecord{}
	}
	if s.Findings == nil {
		s.Findings = []spec.Finding{}
	}
	return s
}
