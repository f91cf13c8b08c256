package runstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repoforge/internal/controller"
	"repoforge/internal/sandbox"
	"repoforge/internal/spec"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleReport(success bool) *controller.Report {
	finding := spec.Finding{
		Category:  spec.CategorySyntax,
		Severity:  spec.SeverityBlocking,
		FilePath:  "main.py",
		Line:      2,
		Message:   "invalid syntax",
		FixableBy: spec.FixRegeneration,
	}
	rep := &controller.Report{
		Success:    success,
		FinalState: controller.StateSucceeded,
		Spec:       &spec.ProjectSpec{Name: "demo", EntryPoint: "main.py"},
		FileSet:    spec.NewFileSet(map[string]string{"main.py": "print('hi')\n"}),
		Execution:  &sandbox.ExecutionResult{Phase: sandbox.PhaseRun, ExitCode: 0},
		Iterations: []controller.IterationRecord{{
			Index:       1,
			Before:      []spec.Finding{finding},
			After:       []spec.Finding{},
			Applied:     0,
			Regenerated: []string{"main.py"},
		}},
	}
	if !success {
		rep.FinalState = controller.StateFailed
		rep.Degraded = true
		rep.Findings = []spec.Finding{finding}
		rep.Execution.ExitCode = 1
	}
	return rep
}

func TestOpen_CreatesDirectory(t *testing.T) {
	s := openTemp(t)
	runs, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestSaveAndGet(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	rec := NewRecord("run-1", "a hello script", sampleReport(true), 1500*time.Millisecond, "/out/demo.zip")
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "a hello script", got.Query)
	assert.Equal(t, "demo", got.ProjectName)
	assert.True(t, got.Success)
	assert.Equal(t, "succeeded", got.FinalState)
	assert.Equal(t, 1, got.Iterations)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	assert.Equal(t, "/out/demo.zip", got.Artifact)
	require.True(t, got.ExitCode.Valid)
	assert.EqualValues(t, 0, got.ExitCode.Int64)
	assert.Equal(t, "print('hi')\n", got.Summary.Files["main.py"])
	assert.Equal(t, rec.CreatedAt.UnixMilli(), got.CreatedAt.UnixMilli())

	rows, err := s.Iterations(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].FindingsBefore)
	assert.Equal(t, 0, rows[0].FindingsAfter)
	assert.Equal(t, []string{"main.py"}, rows[0].Regenerated)
}

func TestGet_NotFound(t *testing.T) {
	s := openTemp(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList_NewestFirstAndStats(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, ok := range []bool{true, false, true} {
		rec := NewRecord(string(rune('a'+i)), "q", sampleReport(ok), time.Second, "")
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Save(ctx, rec))
	}

	runs, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
	assert.Equal(t, 1, runs[1].Blocking)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 3, Succeeded: 2, Degraded: 1, Failed: 1, AvgIterations: 1}, st)
}

func TestSave_ReplacesExistingRun(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, NewRecord("r", "q", sampleReport(false), time.Second, "")))
	require.NoError(t, s.Save(ctx, NewRecord("r", "q", sampleReport(true), time.Second, "")))

	runs, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Success)

	rows, err := s.Iterations(ctx, "r")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestPrune(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	old := NewRecord("old", "q", sampleReport(true), time.Second, "")
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.Save(ctx, old))
	require.NoError(t, s.Save(ctx, NewRecord("new", "q", sampleReport(true), time.Second, "")))

	n, err := s.Prune(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = s.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	rows, err := s.Iterations(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, rows)
}
