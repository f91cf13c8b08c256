package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequirements(t *testing.T) {
	text := `# pinned
requests==2.31.0
pydantic>=2,<3  # comment
uvicorn[standard]>=0.23
python-dotenv
-r dev.txt
--index-url https://example.invalid/simple
git+https://github.com/x/y.git
colorama; sys_platform == "win32"
`
	got := ParseRequirements(text)
	assert.Equal(t, []Dependency{
		{Package: "requests", Version: "==2.31.0"},
		{Package: "pydantic", Version: ">=2,<3"},
		{Package: "uvicorn", Version: ">=0.23"},
		{Package: "python-dotenv"},
		{Package: "colorama"},
	}, got)
	assert.Equal(t, "requests==2.31.0", got[0].Requirement())
}

func TestFromFiles(t *testing.T) {
	fs := NewFileSet(map[string]string{
		"app.py":           "print(1)\n",
		"pkg/tool.py":      "X = 1\n",
		RequirementsFile:   "requests\n",
		"config/base.yaml": "a: 1\n",
	})

	s := FromFiles("demo", "", fs)
	require.NoError(t, s.Validate())
	assert.Equal(t, "app.py", s.EntryPoint)
	assert.Equal(t, []string{"requests"}, s.DependencyNames())
	assert.Len(t, s.Files, 4)
	assert.Equal(t, LanguageYAML, s.LanguageOf("config/base.yaml"))

	explicit := FromFiles("demo", "pkg/tool.py", fs)
	assert.Equal(t, "pkg/tool.py", explicit.EntryPoint)
}

func TestFromFiles_ShallowestPythonFile(t *testing.T) {
	fs := NewFileSet(map[string]string{
		"src/deep/a.py": "",
		"src/start.py":  "",
	})
	assert.Equal(t, "src/start.py", FromFiles("x", "", fs).EntryPoint)
}
