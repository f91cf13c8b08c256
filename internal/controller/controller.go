// Package controller drives the bounded refinement loop: plan, generate, modernize, verify,
// repair, and finally execute the project in a sandbox.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"repoforge/internal/config"
	"repoforge/internal/logging"
	"repoforge/internal/modernize"
	"repoforge/internal/oracle"
	"repoforge/internal/repair"
	"repoforge/internal/sandbox"
	"repoforge/internal/spec"
	"repoforge/internal/verification"
)

// DefaultMaxIterations is the repair budget when none is configured.
const DefaultMaxIterations = 3

// Runner executes a file set. *sandbox.Sandbox implements it.
type Runner interface {
	Run(ctx context.Context, fs spec.FileSet, deps []spec.Dependency, entryPoint string, timeout time.Duration) *sandbox.ExecutionResult
}

// Config holds the loop budget.
type Config struct {
	MaxIterations    int
	ExecutionTimeout time.Duration
	SkipExecution    bool
}

// ConfigFrom extracts the loop budget from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		MaxIterations:    cfg.Refinement.MaxIterations,
		ExecutionTimeout: cfg.GetExecutionTimeout(),
		SkipExecution:    cfg.Refinement.SkipExecution,
	}
}

// Deps are the collaborators of a controller. Oracle, Planner and Sandboxes may be nil:
// without an oracle nothing is generated or regenerated, without a planner only RunSpec
// works, and without sandboxes execution is skipped.
type Deps struct {
	Verifier   *verification.Verifier
	Repairer   *repair.Engine
	Oracle     oracle.Oracle
	Planner    oracle.Planner
	Modernizer modernize.Modernizer
	Sandboxes  func() Runner
}

// Controller runs refinement loops. It holds no per-run state and is safe for concurrent use
// when its collaborators are.
type Controller struct {
	cfg  Config
	deps Deps

	// OnTransition, when set, observes every state change.
	OnTransition func(Transition)
}

// New creates a controller. A zero MaxIterations means DefaultMaxIterations.
func New(cfg Config, deps Deps) *Controller {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 30 * time.Second
	}
	if deps.Verifier == nil {
		deps.Verifier = verification.New(verification.Options{})
	}
	if deps.Repairer == nil {
		deps.Repairer = repair.New(deps.Verifier, deps.Oracle)
	}
	if deps.Modernizer == nil {
		deps.Modernizer = modernize.Nop{}
	}
	return &Controller{cfg: cfg, deps: deps}
}

// Config returns the effective loop budget.
func (c *Controller) Config() Config { return c.cfg }

// RunQuery plans a project from a natural-language description and refines it.
func (c *Controller) RunQuery(ctx context.Context, query string) (*Report, error) {
	r := c.newRun(nil, spec.FileSet{})
	r.query = query
	return r.execute(ctx)
}

// RunSpec refines a project from an existing plan.
func (c *Controller) RunSpec(ctx context.Context, s *spec.ProjectSpec) (*Report, error) {
	return c.newRun(s, spec.FileSet{}).execute(ctx)
}

// Resume refines a project whose files partly exist. Only the planned paths missing from
// initial are generated.
func (c *Controller) Resume(ctx context.Context, s *spec.ProjectSpec, initial spec.FileSet) (*Report, error) {
	return c.newRun(s, initial).execute(ctx)
}

// run is the mutable state of one loop.
type run struct {
	c      *Controller
	log    *zap.Logger
	query  string
	state  State
	spec   *spec.ProjectSpec
	files  spec.FileSet
	static []spec.Finding // latest verification result
	// pending are the findings handed to the next repair pass
	pending    []spec.Finding
	runtime    []spec.Finding
	mismatches []spec.Finding
	execution  *sandbox.ExecutionResult
	iterations []IterationRecord
	trans      []Transition
	degraded   bool
	err        error
}

func (c *Controller) newRun(s *spec.ProjectSpec, initial spec.FileSet) *run {
	if s != nil {
		s = s.Clone()
	}
	return &run{
		c:     c,
		log:   logging.Get(logging.CategoryController).Zap(),
		state: StatePlanning,
		spec:  s,
		files: initial,
	}
}

func (r *run) execute(ctx context.Context) (*Report, error) {
	timer := logging.StartTimer(logging.CategoryController, "refinement loop")
	defer timer.Stop()
	logging.ControllerDebug("refinement started: max_iterations=%d skip_execution=%v", r.c.cfg.MaxIterations, r.c.cfg.SkipExecution)

	for !r.state.Terminal() {
		// Cancellation is observed between stages only.
		if err := ctx.Err(); err != nil {
			r.fail(err, "cancelled")
			break
		}

		var (
			next   State
			reason string
		)
		switch r.state {
		case StatePlanning:
			next, reason = r.plan(ctx)
		case StateGenerating:
			next, reason = r.generate(ctx)
		case StateModernizing:
			next, reason = r.modernize(ctx)
		case StateVerifying:
			next, reason = r.verify(ctx)
		case StateRepairing:
			next, reason = r.repair(ctx)
		case StateVerified:
			next, reason = r.verified()
		case StateExecutionCheck:
			next, reason = r.executionCheck(ctx)
		}
		if err := r.transition(next, reason); err != nil {
			r.fail(err, "internal error")
		}
	}
	rep := r.report()
	return rep, rep.Err
}

func (r *run) transition(to State, reason string) error {
	if !IsValidTransition(r.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, to)
	}
	t := Transition{From: r.state, To: to, Iteration: len(r.iterations), Reason: reason, At: time.Now()}
	r.trans = append(r.trans, t)

	fields := []zap.Field{
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
		zap.Int("iteration", t.Iteration),
		zap.String("reason", reason),
	}
	if n := len(r.iterations); n > 0 {
		fields = append(fields, zap.Any("record", r.iterations[n-1]))
	}
	r.log.Info("transition", fields...)

	r.state = to
	if r.c.OnTransition != nil {
		r.c.OnTransition(t)
	}
	return nil
}

// fail moves straight to Failed. Failed is reachable from every non-terminal state.
func (r *run) fail(err error, reason string) {
	if r.err == nil {
		r.err = err
	}
	if r.state.Terminal() {
		return
	}
	if terr := r.transition(StateFailed, reason); terr != nil {
		r.state = StateFailed
	}
}

func (r *run) plan(ctx context.Context) (State, string) {
	if r.spec == nil {
		if r.c.deps.Planner == nil {
			r.err = spec.NewError(spec.KindGenerationUnavailable, "plan", errors.New("no planner configured"))
			return StateFailed, "no planner"
		}
		s, err := r.c.deps.Planner.Plan(ctx, r.query)
		if err != nil {
			r.err = spec.NewError(spec.KindGenerationUnavailable, "plan", err)
			return StateFailed, "planning failed"
		}
		r.spec = s
	}
	if err := r.spec.Validate(); err != nil {
		r.err = spec.NewError(spec.KindSpecInvalid, "plan", err)
		return StateFailed, "invalid spec"
	}
	return StateGenerating, fmt.Sprintf("%d files planned", len(r.spec.Files))
}

// generate fills every planned path. Paths the oracle skipped are asked for once more; any
// still absent get an empty artifact so the verifier reports them and repair regenerates them.
func (r *run) generate(ctx context.Context) (State, string) {
	missing := r.missingPaths()
	requested := len(missing)
	if o := r.c.deps.Oracle; o != nil {
		for attempt := 0; attempt < 2 && len(missing) > 0; attempt++ {
			if attempt > 0 && ctx.Err() != nil {
				break
			}
			r.request(ctx, o, missing)
			missing = r.missingPaths()
		}
	}

	fill := make(map[string]string, len(missing))
	for _, p := range missing {
		fill[p] = ""
	}
	for p, content := range spec.SupportFiles(r.spec) {
		if !r.files.Has(p) {
			fill[p] = content
		}
	}
	r.files = r.files.WithAll(fill)

	if len(missing) > 0 {
		logging.ControllerWarn("%d planned files were not generated: %v", len(missing), missing)
	}
	return StateModernizing, fmt.Sprintf("%d/%d files generated", requested-len(missing), requested)
}

func (r *run) request(ctx context.Context, o oracle.Oracle, targets []string) {
	resp, err := o.Generate(ctx, oracle.Request{Spec: r.spec, Targets: targets})
	if err != nil {
		logging.ControllerWarn("generation of %d files failed: %v", len(targets), err)
		return
	}
	matched, unsolicited := oracle.Requested(resp.Files, targets)
	for _, p := range unsolicited {
		r.mismatches = append(r.mismatches, repair.MismatchFinding(p))
	}
	r.files = r.files.WithAll(matched)
}

func (r *run) missingPaths() []string {
	var out []string
	for _, p := range r.spec.Paths() {
		if !r.files.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

func (r *run) modernize(ctx context.Context) (State, string) {
	out, err := r.c.deps.Modernizer.Modernize(ctx, r.files)
	switch {
	case err != nil:
		logging.ControllerWarn("modernizer failed, keeping generated files: %v", err)
		return StateVerifying, "modernizer failed"
	case !out.SamePaths(r.files):
		logging.ControllerWarn("modernizer changed the path set, output discarded")
		return StateVerifying, "modernizer output discarded"
	}
	changed := r.files.Changed(out)
	r.files = out
	return StateVerifying, fmt.Sprintf("%d files modernized", len(changed))
}

func (r *run) verify(ctx context.Context) (State, string) {
	r.static = r.c.deps.Verifier.Verify(ctx, r.spec, r.files)
	blocking := spec.HasBlocking(r.static)

	if n := len(r.iterations); n > 0 && r.iterations[n-1].After == nil {
		rec := &r.iterations[n-1]
		rec.After = nonNil(r.static)
		rec.BlockingRemains = blocking
	}

	switch {
	case !blocking:
		return StateVerified, fmt.Sprintf("%d advisory findings", len(r.static))
	case len(r.iterations) < r.c.cfg.MaxIterations:
		r.pending = r.static
		return StateRepairing, fmt.Sprintf("%d blocking findings", len(spec.Blocking(r.static)))
	default:
		r.degraded = true
		return StateVerified, "iteration budget exhausted"
	}
}

func (r *run) repair(ctx context.Context) (State, string) {
	rec := IterationRecord{
		Index:     len(r.iterations) + 1,
		Before:    nonNil(r.pending),
		Execution: r.execution,
	}
	// A runtime-triggered pass consumes the execution that triggered it.
	r.execution = nil

	res, err := r.c.deps.Repairer.Repair(ctx, r.spec, r.files, r.pending)
	if err != nil {
		r.err = err
		return StateFailed, "repair cancelled"
	}
	r.files = res.FileSet
	r.mismatches = append(r.mismatches, res.Mismatches...)
	r.runtime = nil
	r.pending = nil

	rec.Applied = res.Applied
	rec.Regenerated = res.Regenerated
	rec.Unresolved = res.Unresolved
	r.iterations = append(r.iterations, rec)
	return StateVerifying, fmt.Sprintf("%d edits, %d files regenerated", res.Applied, len(res.Regenerated))
}

func (r *run) verified() (State, string) {
	if r.c.cfg.SkipExecution || r.c.deps.Sandboxes == nil {
		return StateSucceeded, "execution skipped"
	}
	return StateExecutionCheck, ""
}

func (r *run) executionCheck(ctx context.Context) (State, string) {
	res := r.c.deps.Sandboxes().Run(ctx, r.files, r.spec.Dependencies, r.spec.EntryPoint, r.c.cfg.ExecutionTimeout)
	r.execution = res
	if res.Succeeded() {
		return StateSucceeded, "entry point exited 0"
	}

	r.runtime = sandbox.Diagnose(res, r.files, r.spec.EntryPoint)
	if err := ctx.Err(); err != nil {
		r.err = err
		return StateFailed, "cancelled during execution"
	}
	if len(r.iterations) < r.c.cfg.MaxIterations {
		r.pending = append(append([]spec.Finding(nil), r.static...), r.runtime...)
		spec.SortFindings(r.pending)
		return StateRepairing, describeFailure(res)
	}
	r.err = spec.NewError(spec.KindSandboxFailure, "execute", errors.New(describeFailure(res)))
	return StateFailed, describeFailure(res)
}

func describeFailure(res *sandbox.ExecutionResult) string {
	switch {
	case res.TimedOut:
		return "execution timed out"
	case res.Error != "":
		return fmt.Sprintf("%s failed: %s", res.Phase, res.Error)
	default:
		return fmt.Sprintf("%s exited with code %d", res.Phase, res.ExitCode)
	}
}

func (r *run) report() *Report {
	rep := &Report{
		Success:     r.state == StateSucceeded,
		Degraded:    r.degraded,
		FinalState:  r.state,
		Spec:        r.spec,
		FileSet:     r.files,
		Execution:   r.execution,
		Iterations:  r.iterations,
		Transitions: r.trans,
		Err:         r.err,
	}
	rep.Findings = append(rep.Findings, r.static...)
	rep.Findings = append(rep.Findings, r.runtime...)
	rep.Findings = append(rep.Findings, r.mismatches...)
	spec.SortFindings(rep.Findings)
	return rep
}

func nonNil(fs []spec.Finding) []spec.Finding {
	if fs == nil {
		return []spec.Finding{}
	}
	return fs
}
