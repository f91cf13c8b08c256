package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSet_WithIsPersistent(t *testing.T) {
	v1 := NewFileSet(map[string]string{"main.py": "print(1)\n"})
	v2 := v1.With("main.py", "print(2)\n")

	assert.Equal(t, "print(1)\n", v1.Content("main.py"))
	assert.Equal(t, "print(2)\n", v2.Content("main.py"))

	a1, _ := v1.Get("main.py")
	a2, _ := v2.Get("main.py")
	assert.Equal(t, 1, a1.Revision)
	assert.Equal(t, 2, a2.Revision)

	assert.Empty(t, v1.History("main.py"))
	require.Len(t, v2.History("main.py"), 1)
	assert.Equal(t, a1, v2.History("main.py")[0])
}

func TestFileSet_SiblingsDoNotShareHistory(t *testing.T) {
	base := NewFileSet(map[string]string{"a.py": "0"}).With("a.py", "1")
	left := base.With("a.py", "left")
	right := base.With("a.py", "right")

	assert.Equal(t, []string{"0", "1"}, contents(left.History("a.py")))
	assert.Equal(t, []string{"0", "1"}, contents(right.History("a.py")))
}

func contents(as []FileArtifact) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.Content
	}
	return out
}

func TestFileSet_IdenticalWriteKeepsRevision(t *testing.T) {
	v1 := NewFileSet(map[string]string{"a.py": "x"})
	v2 := v1.With("a.py", "x")
	a, _ := v2.Get("a.py")
	assert.Equal(t, 1, a.Revision)
	assert.Empty(t, v2.History("a.py"))
}

func TestFileSet_ZeroValue(t *testing.T) {
	var fs FileSet
	assert.Equal(t, 0, fs.Len())
	fs = fs.With("new.py", "pass\n")
	a, ok := fs.Get("new.py")
	require.True(t, ok)
	assert.Equal(t, 1, a.Revision)
}

func TestFileSet_PathsAndChanged(t *testing.T) {
	v1 := NewFileSet(map[string]string{"b.py": "b", "a.py": "a"})
	v2 := v1.WithAll(map[string]string{"b.py": "B", "c.py": "c"})

	assert.Equal(t, []string{"a.py", "b.py"}, v1.Paths())
	assert.Equal(t, []string{"a.py", "b.py", "c.py"}, v2.Paths())
	assert.Equal(t, []string{"b.py", "c.py"}, v2.Changed(v1))
	assert.False(t, v1.SamePaths(v2))
	assert.True(t, v1.SamePaths(v1.With("a.py", "changed")))
}

func TestSortFindings(t *testing.T) {
	fs := []Finding{
		{FilePath: "b.py", Line: 1, Category: CategorySyntax},
		{FilePath: "a.py", Line: 9, Category: CategoryImport},
		{FilePath: "a.py", Line: 2, Category: CategoryRuntimeRiskJSON, Message: "z"},
		{FilePath: "a.py", Line: 2, Category: CategoryRuntimeRiskJSON, Message: "a"},
		{FilePath: "a.py", Line: 2, Category: CategoryAsyncMismatch},
	}
	SortFindings(fs)

	assert.Equal(t, CategoryAsyncMismatch, fs[0].Category)
	assert.Equal(t, "a", fs[1].Message)
	assert.Equal(t, "z", fs[2].Message)
	assert.Equal(t, 9, fs[3].Line)
	assert.Equal(t, "b.py", fs[4].FilePath)
}

func TestFindingHelpers(t *testing.T) {
	fs := []Finding{
		{FilePath: "a.py", Severity: SeverityAdvisory},
		{FilePath: "a.py", Severity: SeverityBlocking, Line: 3, Category: CategoryImport, Message: "no module"},
	}
	assert.True(t, HasBlocking(fs))
	assert.Len(t, Blocking(fs), 1)
	assert.Len(t, ByFile(fs)["a.py"], 2)
	assert.Equal(t, "a.py:3: [ImportError] no module", fs[1].String())
	assert.False(t, HasBlocking(fs[:1]))
}
