package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"repoforge/internal/oracle"
	"repoforge/internal/sandbox"
	"repoforge/internal/spec"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func project(paths ...string) *spec.ProjectSpec {
	s := &spec.ProjectSpec{Name: "demo", Description: "demo project", EntryPoint: paths[0]}
	for _, p := range paths {
		s.Files = append(s.Files, spec.FileSpec{Path: p, Purpose: "code"})
	}
	return s
}

// scriptedOracle answers each request with respond and records what it was asked.
type scriptedOracle struct {
	mu       sync.Mutex
	requests []oracle.Request
	respond  func(call int, req oracle.Request) (map[string]string, error)
}

func (o *scriptedOracle) Generate(_ context.Context, req oracle.Request) (oracle.Response, error) {
	o.mu.Lock()
	o.requests = append(o.requests, req)
	call := len(o.requests)
	o.mu.Unlock()
	files, err := o.respond(call, req)
	return oracle.Response{Files: files}, err
}

func constant(files map[string]string) *scriptedOracle {
	return &scriptedOracle{respond: func(int, oracle.Request) (map[string]string, error) { return files, nil }}
}

// fakeRunner returns results in order, repeating the last one.
type fakeRunner struct {
	mu      sync.Mutex
	results []*sandbox.ExecutionResult
	calls   int
	seen    []spec.FileSet
}

func (f *fakeRunner) Run(_ context.Context, fs spec.FileSet, _ []spec.Dependency, _ string, _ time.Duration) *sandbox.ExecutionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, fs)
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	return f.results[i]
}

func (f *fakeRunner) factory() func() Runner { return func() Runner { return f } }

var (
	okRun     = &sandbox.ExecutionResult{Phase: sandbox.PhaseRun, ExitCode: 0, Stdout: "ok\n"}
	failedRun = &sandbox.ExecutionResult{
		Phase:    sandbox.PhaseRun,
		ExitCode: 1,
		Stderr:   "Traceback (most recent call last):\n  File \"main.py\", line 1, in <module>\nKeyError: 'name'\n",
	}
)

func states(ts []Transition) []State {
	out := []State{}
	if len(ts) > 0 {
		out = append(out, ts[0].From)
	}
	for _, t := range ts {
		out = append(out, t.To)
	}
	return out
}

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StatePlanning, StateGenerating, true},
		{StateGenerating, StateModernizing, true},
		{StateModernizing, StateVerifying, true},
		{StateVerifying, StateRepairing, true},
		{StateVerifying, StateVerified, true},
		{StateRepairing, StateVerifying, true},
		{StateVerified, StateExecutionCheck, true},
		{StateExecutionCheck, StateSucceeded, true},
		{StateExecutionCheck, StateRepairing, true},
		{StateExecutionCheck, StateFailed, true},
		{StateRepairing, StateVerified, false},
		{StateGenerating, StateVerifying, false},
		{StateSucceeded, StatePlanning, false},
		{StateFailed, StateRepairing, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsValidTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestRun_CleanProjectSucceeds(t *testing.T) {
	o := constant(map[string]string{"main.py": "print('hello')\n"})
	runner := &fakeRunner{results: []*sandbox.ExecutionResult{okRun}}
	c := New(Config{}, Deps{Oracle: o, Sandboxes: runner.factory()})

	rep, err := c.RunSpec(context.Background(), project("main.py"))
	require.NoError(t, err)

	assert.True(t, rep.Success)
	assert.False(t, rep.Degraded)
	assert.Equal(t, StateSucceeded, rep.FinalState)
	assert.Empty(t, rep.Iterations)
	assert.Equal(t, []State{
		StatePlanning, StateGenerating, StateModernizing, StateVerifying,
		StateVerified, StateExecutionCheck, StateSucceeded,
	}, states(rep.Transitions))
	assert.True(t, rep.FileSet.Has(spec.ReadmeFile))
	assert.Same(t, okRun, rep.Execution)
	assert.Equal(t, 1, runner.calls)
}

func TestRun_JSONScenarioRepairedByQuickFix(t *testing.T) {
	o := constant(map[string]string{"main.py": "import json\n\ndata = json.loads('{}')\nprint(data['key'])\n"})
	runner := &fakeRunner{results: []*sandbox.ExecutionResult{okRun}}
	c := New(Config{}, Deps{Oracle: o, Sandboxes: runner.factory()})

	rep, err := c.RunSpec(context.Background(), project("main.py"))
	require.NoError(t, err)

	require.Len(t, rep.Iterations, 1)
	rec := rep.Iterations[0]
	assert.Equal(t, 1, rec.Index)
	assert.Equal(t, 2, rec.Applied)
	assert.True(t, spec.HasBlocking(rec.Before))
	assert.False(t, rec.BlockingRemains)
	assert.Empty(t, rec.Regenerated)

	assert.True(t, rep.Success)
	assert.Empty(t, rep.Blocking())
	assert.Contains(t, rep.FileSet.Content("main.py"), "except json.JSONDecodeError")
	// Only the initial generation reached the oracle.
	assert.Len(t, o.requests, 1)
}

func TestRun_IterationBoundIsHardCeiling(t *testing.T) {
	o := constant(map[string]string{"main.py": "def broken(:\n"})
	runner := &fakeRunner{results: []*sandbox.ExecutionResult{failedRun}}
	c := New(Config{MaxIterations: 3}, Deps{Oracle: o, Sandboxes: runner.factory()})

	rep, err := c.RunSpec(context.Background(), project("main.py"))
	require.Error(t, err)
	assert.ErrorIs(t, err, spec.ErrSandboxFailure)

	assert.Len(t, rep.Iterations, 3)
	assert.True(t, rep.Degraded)
	assert.Equal(t, StateFailed, rep.FinalState)
	assert.NotEmpty(t, rep.Blocking())
	// Budget exhausted before execution, so execution runs once and cannot trigger more repair.
	assert.Equal(t, 1, runner.calls)
	for _, rec := range rep.Iterations {
		assert.True(t, rec.BlockingRemains)
	}
}

func TestRun_MaxIterationsOneDegradesToExecution(t *testing.T) {
	o := &scriptedOracle{respond: func(_ int, req oracle.Request) (map[string]string, error) {
		if len(req.Findings) > 0 {
			return nil, errors.New("oracle unavailable")
		}
		return map[string]string{"main.py": "def broken(:\n"}, nil
	}}
	runner := &fakeRunner{results: []*sandbox.ExecutionResult{okRun}}
	c := New(Config{MaxIterations: 1}, Deps{Oracle: o, Sandboxes: runner.factory()})

	rep, err := c.RunSpec(context.Background(), project("main.py"))
	require.NoError(t, err)

	require.Len(t, rep.Iterations, 1)
	assert.NotEmpty(t, rep.Iterations[0].Unresolved)
	assert.True(t, rep.Degraded)
	assert.Equal(t, []State{
		StatePlanning, StateGenerating, StateModernizing, StateVerifying, StateRepairing,
		StateVerifying, StateVerified, StateExecutionCheck, StateSucceeded,
	}, states(rep.Transitions))
	assert.Equal(t, "def broken(:\n", rep.FileSet.Content("main.py"))
	assert.Equal(t, 1, runner.calls)
}

func TestRun_ExecutionFailureTriggersRepair(t *testing.T) {
	o := &scriptedOracle{respond: func(call int, _ oracle.Request) (map[string]string, error) {
		if call == 1 {
			return map[string]string{"main.py": "cfg = {}\nprint(cfg['name'])\n"}, nil
		}
		return map[string]string{"main.py": "cfg = {}\nprint(cfg.get('name'))\n"}, nil
	}}
	runner := &fakeRunner{results: []*sandbox.ExecutionResult{failedRun, okRun}}
	c := New(Config{}, Deps{Oracle: o, Sandboxes: runner.factory()})

	rep, err := c.RunSpec(context.Background(), project("main.py"))
	require.NoError(t, err)

	assert.True(t, rep.Success)
	require.Len(t, rep.Iterations, 1)
	rec := rep.Iterations[0]
	assert.Same(t, failedRun, rec.Execution)
	assert.Equal(t, []string{"main.py"}, rec.Regenerated)

	require.Len(t, o.requests, 2)
	repairReq := o.requests[1]
	assert.Equal(t, []string{"main.py"}, repairReq.Targets)
	require.NotEmpty(t, repairReq.Findings)
	assert.Equal(t, spec.CategoryRuntimeRiskKeyAccess, repairReq.Findings[0].Category)
	assert.True(t, repairReq.Findings[0].Runtime)
	assert.Contains(t, repairReq.Findings[0].Message, "KeyError")

	assert.Equal(t, 2, runner.calls)
	assert.Contains(t, runner.seen[1].Content("main.py"), "cfg.get('name')")
}

func TestRun_MissingFilesRequestedOnceMore(t *testing.T) {
	o := &scriptedOracle{respond: func(call int, req oracle.Request) (map[string]string, error) {
		if call == 1 {
			return map[string]string{"main.py": "import util\n\nutil.run()\n", "notes.txt": "stray"}, nil
		}
		return map[string]string{"util.py": "def run():\n    return 1\n"}, nil
	}}
	c := New(Config{SkipExecution: true}, Deps{Oracle: o})

	rep, err := c.RunSpec(context.Background(), project("main.py", "util.py"))
	require.NoError(t, err)

	require.Len(t, o.requests, 2)
	assert.Equal(t, []string{"util.py"}, o.requests[1].Targets)
	assert.True(t, rep.Success)
	assert.False(t, rep.FileSet.Has("notes.txt"))

	var mismatch bool
	for _, f := range rep.Findings {
		if f.Category == spec.CategoryGenerationMismatch && f.FilePath == "notes.txt" {
			mismatch = true
		}
	}
	assert.True(t, mismatch)
}

func TestRun_UngeneratedFileBecomesStructuralFinding(t *testing.T) {
	c := New(Config{MaxIterations: 1, SkipExecution: true}, Deps{})

	rep, err := c.RunSpec(context.Background(), project("main.py"))
	require.NoError(t, err)

	assert.True(t, rep.Degraded)
	assert.True(t, rep.FileSet.Has("main.py"))
	require.NotEmpty(t, rep.Blocking())
	assert.Equal(t, spec.CategoryStructural, rep.Blocking()[0].Category)
}

func TestRun_InvalidSpecFailsBeforeGeneration(t *testing.T) {
	o := constant(nil)
	c := New(Config{}, Deps{Oracle: o})

	bad := project("../escape.py")
	rep, err := c.RunSpec(context.Background(), bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, spec.ErrSpecInvalid)
	assert.Equal(t, StateFailed, rep.FinalState)
	assert.Empty(t, o.requests)
	assert.Equal(t, []State{StatePlanning, StateFailed}, states(rep.Transitions))
}

func TestRun_CancellationBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := constant(map[string]string{"main.py": "print('hi')\n"})
	c := New(Config{}, Deps{Oracle: o})
	c.OnTransition = func(t Transition) {
		if t.To == StateModernizing {
			cancel()
		}
	}

	rep, err := c.RunSpec(ctx, project("main.py"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, rep.FinalState)
	assert.Equal(t, []State{StatePlanning, StateGenerating, StateModernizing, StateFailed}, states(rep.Transitions))
	// The generated files survive intact.
	assert.Equal(t, "print('hi')\n", rep.FileSet.Content("main.py"))
}

func TestRunQuery_UsesPlanner(t *testing.T) {
	var asked string
	planner := oracle.PlannerFunc(func(_ context.Context, q string) (*spec.ProjectSpec, error) {
		asked = q
		return project("app.py"), nil
	})
	o := constant(map[string]string{"app.py": "print('planned')\n"})
	c := New(Config{SkipExecution: true}, Deps{Oracle: o, Planner: planner})

	rep, err := c.RunQuery(context.Background(), "a hello world script")
	require.NoError(t, err)
	assert.Equal(t, "a hello world script", asked)
	assert.True(t, rep.Success)
	assert.Equal(t, "app.py", rep.Spec.EntryPoint)
}

func TestRunQuery_PlannerFailure(t *testing.T) {
	planner := oracle.PlannerFunc(func(context.Context, string) (*spec.ProjectSpec, error) {
		return nil, errors.New("quota exceeded")
	})
	c := New(Config{}, Deps{Planner: planner})

	rep, err := c.RunQuery(context.Background(), "anything")
	require.ErrorIs(t, err, spec.ErrGenerationUnavailable)
	assert.False(t, rep.Success)
}

type pathChangingModernizer struct{}

func (pathChangingModernizer) Modernize(_ context.Context, fs spec.FileSet) (spec.FileSet, error) {
	return fs.With("extra.py", "x = 1\n"), nil
}

func TestRun_ModernizerPathChangeDiscarded(t *testing.T) {
	o := constant(map[string]string{"main.py": "print('hi')\n"})
	c := New(Config{SkipExecution: true}, Deps{Oracle: o, Modernizer: pathChangingModernizer{}})

	rep, err := c.RunSpec(context.Background(), project("main.py"))
	require.NoError(t, err)
	assert.False(t, rep.FileSet.Has("extra.py"))
}

func TestResume_GeneratesOnlyMissing(t *testing.T) {
	o := constant(map[string]string{"util.py": "VALUE = 1\n"})
	c := New(Config{SkipExecution: true}, Deps{Oracle: o})

	initial := spec.NewFileSet(map[string]string{"main.py": "import util\nprint(util.VALUE)\n"})
	rep, err := c.Resume(context.Background(), project("main.py", "util.py"), initial)
	require.NoError(t, err)

	require.Len(t, o.requests, 1)
	assert.Equal(t, []string{"util.py"}, o.requests[0].Targets)
	assert.True(t, rep.Success)
}

func TestReport_Summary(t *testing.T) {
	o := constant(map[string]string{"main.py": "print('hi')\n"})
	c := New(Config{SkipExecution: true}, Deps{Oracle: o})

	rep, err := c.RunSpec(context.Background(), project("main.py"))
	require.NoError(t, err)

	sum := rep.Summary()
	assert.True(t, sum.Success)
	assert.Equal(t, "demo", sum.ProjectName)
	assert.Equal(t, "print('hi')\n", sum.Files["main.py"])
	assert.NotNil(t, sum.Iterations)
	assert.NotNil(t, sum.Findings)
	assert.Empty(t, sum.Error)
}
