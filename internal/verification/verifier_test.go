package verification

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repoforge/internal/spec"
)

func project(files ...string) *spec.ProjectSpec {
	s := &spec.ProjectSpec{Name: "demo", EntryPoint: files[0]}
	for _, f := range files {
		s.Files = append(s.Files, spec.FileSpec{Path: f})
	}
	return s
}

func verify(t *testing.T, s *spec.ProjectSpec, files map[string]string) []spec.Finding {
	t.Helper()
	return New(Options{}).Verify(context.Background(), s, spec.NewFileSet(files))
}

func categories(fs []spec.Finding) []spec.Category {
	out := make([]spec.Category, len(fs))
	for i, f := range fs {
		out[i] = f.Category
	}
	return out
}

const jsonScenario = `import json
import sys

raw = sys.stdin.read()
data = json.loads(raw)
print(data['key'])
`

func TestVerify_JSONScenario(t *testing.T) {
	findings := verify(t, project("main.py"), map[string]string{"main.py": jsonScenario})

	require.Len(t, findings, 2)
	assert.Equal(t, spec.Finding{
		Category:  spec.CategoryRuntimeRiskJSON,
		Severity:  spec.SeverityBlocking,
		FilePath:  "main.py",
		Line:      5,
		Message:   "loads() result is not guarded against JSONDecodeError",
		FixableBy: spec.FixQuick,
	}, findings[0])
	assert.Equal(t, spec.CategoryRuntimeRiskKeyAccess, findings[1].Category)
	assert.Equal(t, 6, findings[1].Line)
	assert.Equal(t, spec.FixQuick, findings[1].FixableBy)
	assert.True(t, findings[1].Blocking())
}

func TestVerify_IsPure(t *testing.T) {
	s := project("main.py", "util.py")
	files := map[string]string{
		"main.py": jsonScenario + "import missingmod\n",
		"util.py": "def f(:\n",
	}
	first := verify(t, s, files)
	for i := 0; i < 5; i++ {
		assert.Empty(t, cmp.Diff(first, verify(t, s, files)))
	}
	assert.NotEmpty(t, first)
}

func TestVerify_SyntaxError(t *testing.T) {
	findings := verify(t, project("main.py"), map[string]string{
		"main.py": "import os\n\ndef broken(:\n    return 1\n",
	})
	require.Len(t, findings, 1)
	assert.Equal(t, spec.CategorySyntax, findings[0].Category)
	assert.Equal(t, 3, findings[0].Line)
	assert.Equal(t, spec.FixRegeneration, findings[0].FixableBy)
}

func TestVerify_Imports(t *testing.T) {
	s := project("main.py", "helpers/text.py")
	s.Dependencies = []spec.Dependency{
		{Package: "beautifulsoup4"},
		{Package: "python-dotenv"},
		{Package: "uvicorn[standard]"},
	}
	findings := verify(t, s, map[string]string{
		"main.py": `import os, json
import bs4
from dotenv import load_dotenv
import uvicorn
from helpers.text import clean
from . import sibling
import pandas as pd
try:
    import ujson
except ImportError:
    ujson = None
`,
		"helpers/text.py": "def clean(s):\n    return s.strip()\n",
	})

	require.Len(t, findings, 1)
	assert.Equal(t, spec.CategoryImport, findings[0].Category)
	assert.Equal(t, 7, findings[0].Line)
	assert.Contains(t, findings[0].Message, `"pandas"`)
}

func TestVerify_ModuleAliasesFromOptions(t *testing.T) {
	s := project("main.py")
	s.Dependencies = []spec.Dependency{{Package: "my-dist"}}
	files := spec.NewFileSet(map[string]string{"main.py": "import magic_mod\nimport customstd\n"})

	v := New(Options{ModuleAliases: map[string]string{"My-Dist": "magic_mod"}, ExtraStdlib: []string{"customstd"}})
	assert.Empty(t, v.Verify(context.Background(), s, files))
}

func TestVerify_AsyncMismatch(t *testing.T) {
	findings := verify(t, project("main.py"), map[string]string{"main.py": `import asyncio

async def ok():
    await asyncio.sleep(0)

def bad():
    await asyncio.sleep(0)

await asyncio.sleep(1)
`})

	require.Len(t, findings, 2)
	assert.Equal(t, []spec.Category{spec.CategoryAsyncMismatch, spec.CategoryAsyncMismatch}, categories(findings))
	assert.Equal(t, 7, findings[0].Line)
	assert.Equal(t, spec.FixQuick, findings[0].FixableBy)
	assert.Contains(t, findings[0].Message, `"bad"`)
	assert.Equal(t, 9, findings[1].Line)
	assert.Equal(t, spec.FixRegeneration, findings[1].FixableBy)
}

func withRequests(s *spec.ProjectSpec) *spec.ProjectSpec {
	s.Dependencies = append(s.Dependencies, spec.Dependency{Package: "requests"})
	return s
}

func TestVerify_GuardedCodeIsClean(t *testing.T) {
	findings := verify(t, withRequests(project("main.py")), map[string]string{"main.py": `import json
import requests

def load(path):
    try:
        with open(path) as fh:
            data = json.load(fh)
        return data["name"]
    except (json.JSONDecodeError, KeyError):
        return None

def fetch(url):
    try:
        resp = requests.get(url, timeout=5)
        body = resp.json()
        return body["items"]
    except Exception:
        return []

def parse(text):
    try:
        return json.loads(text)
    except:
        return {}
`})
	assert.Empty(t, findings)
}

func TestVerify_AdvisoryDetectors(t *testing.T) {
	findings := verify(t, withRequests(project("main.py")), map[string]string{"main.py": `import requests
from urllib.request import urlopen

fh = open("data.txt")
resp = requests.post("https://example.com", json={})
page = urlopen("https://example.com")
`})

	require.Len(t, findings, 3)
	assert.Equal(t, []spec.Category{
		spec.CategoryUnsafeFileOp,
		spec.CategoryMissingErrorHandling,
		spec.CategoryMissingErrorHandling,
	}, categories(findings))
	for _, f := range findings {
		assert.False(t, f.Blocking())
	}
	assert.False(t, spec.HasBlocking(findings))
}

func TestVerify_TryOutsideFunctionDoesNotGuardBody(t *testing.T) {
	findings := verify(t, project("main.py"), map[string]string{"main.py": `import json

try:
    def parse(s):
        return json.loads(s)
except ValueError:
    pass
`})
	require.Len(t, findings, 1)
	assert.Equal(t, spec.CategoryRuntimeRiskJSON, findings[0].Category)
}

func TestVerify_KeyAssignmentIsNotARead(t *testing.T) {
	findings := verify(t, project("main.py"), map[string]string{"main.py": `import json

try:
    cfg = json.loads("{}")
except ValueError:
    cfg = {}
cfg["mode"] = "fast"
del cfg["old"]
`})
	assert.Empty(t, findings)
}

func TestVerify_KeyReadInsideAssignmentTarget(t *testing.T) {
	findings := verify(t, project("main.py"), map[string]string{"main.py": `import json

try:
    data = json.loads("{}")
except ValueError:
    data = {}
out = {}
out[data["k"]] = 1
data["a"]["b"] = 2
data["c"] = 3
print(data["k"])
`})
	var lines []int
	for _, f := range findings {
		assert.Equal(t, spec.CategoryRuntimeRiskKeyAccess, f.Category)
		lines = append(lines, f.Line)
	}
	assert.Equal(t, []int{8, 9, 11}, lines)
}

func TestVerify_Structural(t *testing.T) {
	s := project("main.py", "pkg/__init__.py", "pkg/core.py", "docs/notes.md")
	findings := verify(t, s, map[string]string{
		"pkg/__init__.py": "",
		"pkg/core.py":     "   \n",
		"README.md":       "# demo\n",
	})

	require.Len(t, findings, 3)
	assert.Equal(t, "docs/notes.md", findings[0].FilePath)
	assert.Equal(t, "planned file is missing", findings[0].Message)
	assert.Equal(t, "main.py", findings[1].FilePath)
	assert.Equal(t, "entry point is missing", findings[1].Message)
	assert.Equal(t, "pkg/core.py", findings[2].FilePath)
	assert.Equal(t, "planned file is empty", findings[2].Message)
	for _, f := range findings {
		assert.Equal(t, spec.CategoryStructural, f.Category)
		assert.Equal(t, spec.FixRegeneration, f.FixableBy)
	}
}

func TestVerify_DataFiles(t *testing.T) {
	s := project("main.py", "config.json", "settings.yaml")
	findings := verify(t, s, map[string]string{
		"main.py":       "print('hi')\n",
		"config.json":   "{\n  \"a\": 1,\n}\n",
		"settings.yaml": "key: [unclosed\n",
	})

	require.Len(t, findings, 2)
	assert.Equal(t, "config.json", findings[0].FilePath)
	assert.Equal(t, spec.CategorySyntax, findings[0].Category)
	assert.Equal(t, "settings.yaml", findings[1].FilePath)
	assert.Equal(t, spec.CategorySyntax, findings[1].Category)
}

func TestVerify_OrderingAcrossFiles(t *testing.T) {
	s := project("z.py", "a.py", "m.py")
	findings := verify(t, s, map[string]string{
		"z.py": "import nope\n",
		"a.py": "import json\nx = json.loads('1')\nimport nope2\n",
		"m.py": "def f(:\n",
	})

	var order []string
	for _, f := range findings {
		order = append(order, f.FilePath)
	}
	assert.Equal(t, []string{"a.py", "a.py", "m.py", "z.py"}, order)
	assert.Equal(t, 2, findings[0].Line)
	assert.Equal(t, 3, findings[1].Line)
}

func TestAnalyze_HitPositions(t *testing.T) {
	src := "import json\n\ndef run(raw):\n    data = json.loads(raw)\n    return data['k']\n"
	hits, problem, err := Analyze(context.Background(), []byte(src))
	require.NoError(t, err)
	require.Nil(t, problem)
	require.Len(t, hits, 2)

	j := hits[0]
	assert.Equal(t, spec.CategoryRuntimeRiskJSON, j.Category)
	require.NotNil(t, j.Stmt)
	assert.Equal(t, "    data = json.loads(raw)", src[j.Stmt.Start:j.Stmt.End])
	assert.Equal(t, "    ", j.Indent)
	assert.Equal(t, "data", j.Target)
	assert.Equal(t, "json", j.Module)

	k := hits[1]
	assert.Equal(t, spec.CategoryRuntimeRiskKeyAccess, k.Category)
	assert.Equal(t, "data['k']", src[k.Node.Start:k.Node.End])
	assert.Equal(t, "data", k.Value)
	assert.Equal(t, "'k'", k.Key)
}

func TestAnalyze_InlineStatementNeedsRegeneration(t *testing.T) {
	hits, _, err := Analyze(context.Background(), []byte("import json\nx = 1; y = json.loads('2')\n"))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, spec.FixRegeneration, hits[0].FixableBy)
	assert.Nil(t, hits[0].Stmt)
}

func TestNormalizeDist(t *testing.T) {
	assert.Equal(t, "uvicorn", normalizeDist("Uvicorn[standard]>=0.2"))
	assert.Equal(t, "python_dotenv", normalizeDist("python-dotenv"))
	assert.Equal(t, "requests", normalizeDist("requests==2.31"))
}
