package oracle

import (
	"fmt"
	"sort"
	"strings"

	"repoforge/internal/spec"
)

const generateSystemPrompt = `You write complete, runnable Python 3 project files.
Rules:
- Use only the standard library, the declared dependencies and the project's own modules.
- Guard json.loads/json.load with try/except json.JSONDecodeError.
- Read parsed dictionaries with .get() or guard key access with try/except KeyError.
- Use await only inside async def.
- Open files with "with open(...)" and wrap network calls in try/except.
Return every requested file as a fenced block tagged with its language and path, e.g.
` + "```python:src/app.py\n<code>\n```" + `
Return only the requested files.`

const planSystemPrompt = `You plan small Python projects. Respond with a single JSON object:
{"project_name": str, "description": str,
 "files": [{"path": str, "purpose": str, "language": "python"|"json"|"yaml"|"markdown"|"text"}],
 "dependencies": [{"package": str, "version": str, "purpose": str}],
 "entry_point": str, "env_variables": {NAME: description}}
Paths are relative with forward slashes. entry_point must be one of the file paths.
Do not list requirements.txt, README.md or .env.example; they are generated.`

// GeneratePrompt renders the user prompt for a generation request.
func GeneratePrompt(req Request) string {
	var b strings.Builder
	s := req.Spec
	fmt.Fprintf(&b, "Project: %s\n%s\n\n", s.Name, s.Description)

	b.WriteString("Files in the project:\n")
	for _, f := range s.Files {
		fmt.Fprintf(&b, "- %s: %s\n", f.Path, f.Purpose)
	}
	fmt.Fprintf(&b, "Entry point: %s\n", s.EntryPoint)

	if len(s.Dependencies) > 0 {
		b.WriteString("\nDeclared dependencies:\n")
		for _, d := range s.Dependencies {
			fmt.Fprintf(&b, "- %s", d.Requirement())
			if d.Purpose != "" {
				fmt.Fprintf(&b, " (%s)", d.Purpose)
			}
			b.WriteByte('\n')
		}
	}
	if len(s.EnvVariables) > 0 {
		keys := make([]string, 0, len(s.EnvVariables))
		for k := range s.EnvVariables {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\nEnvironment variables (read with os.getenv):\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, s.EnvVariables[k])
		}
	}

	byFile := spec.ByFile(req.Findings)
	b.WriteString("\nWrite these files:\n")
	for _, t := range req.Targets {
		lang := s.LanguageOf(t)
		fmt.Fprintf(&b, "\n## %s (%s)\n", t, lang)
		if prior := req.Prior[t]; strings.TrimSpace(prior) != "" {
			fmt.Fprintf(&b, "Current content:\n```%s\n%s\n```\n", lang, strings.TrimRight(prior, "\n"))
		}
		if fs := byFile[t]; len(fs) > 0 {
			b.WriteString("Problems to fix:\n")
			for _, f := range fs {
				fmt.Fprintf(&b, "- %s\n", f)
			}
		}
	}
	return b.String()
}

// PlanPrompt renders the user prompt for planning.
func PlanPrompt(query string) string {
	return "Plan a Python project for this request:\n\n" + strings.TrimSpace(query)
}
