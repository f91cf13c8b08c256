package packager

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repoforge/internal/config"
	"repoforge/internal/spec"
)

func fixedPackager(root string, zipOut bool) *Packager {
	p := New(config.OutputConfig{Dir: root, Zip: zipOut})
	p.now = func() time.Time { return time.Date(2026, 3, 1, 14, 5, 9, 0, time.UTC) }
	return p
}

var sample = map[string]string{
	"main.py":         "print('hi')\n",
	"pkg/__init__.py": "",
	"pkg/util.py":     "X = 1\n",
}

func TestPackage_WritesDirAndZip(t *testing.T) {
	root := t.TempDir()
	p := fixedPackager(root, true)

	art, err := p.Package(&spec.ProjectSpec{Name: "Weather Bot!"}, spec.NewFileSet(sample))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "Weather_Bot_20260301_140509"), art.Dir)
	assert.Equal(t, art.Dir+".zip", art.Zip)

	data, err := os.ReadFile(filepath.Join(art.Dir, "pkg", "util.py"))
	require.NoError(t, err)
	assert.Equal(t, "X = 1\n", string(data))

	zr, err := zip.OpenReader(art.Zip)
	require.NoError(t, err)
	defer zr.Close()

	got := map[string]string{}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		got[f.Name] = string(b)
	}
	assert.Equal(t, []string{"main.py", "pkg/__init__.py", "pkg/util.py"}, names)
	if diff := cmp.Diff(sample, got); diff != "" {
		t.Errorf("zip contents mismatch (-want +got):\n%s", diff)
	}
}

func TestPackage_NoZip(t *testing.T) {
	p := fixedPackager(t.TempDir(), false)
	art, err := p.Package(&spec.ProjectSpec{Name: "..."}, spec.NewFileSet(sample))
	require.NoError(t, err)
	assert.Empty(t, art.Zip)
	assert.Equal(t, "project_20260301_140509", filepath.Base(art.Dir))
}

func TestWriteDir_RejectsEscapingPath(t *testing.T) {
	err := WriteDir(t.TempDir(), spec.NewFileSet(map[string]string{"../evil.py": "x"}))
	assert.Error(t, err)
}

func TestReadDir_RoundTripSkipsToolDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteDir(dir, spec.NewFileSet(sample)))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "__pycache__"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "__pycache__", "main.cpython-312.pyc"), []byte{0}, 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref"), 0644))

	fs, err := ReadDir(dir)
	require.NoError(t, err)
	if diff := cmp.Diff(sample, fs.Contents()); diff != "" {
		t.Errorf("ReadDir mismatch (-want +got):\n%s", diff)
	}
}
