package spec

import (
	"fmt"
	"sort"
	"strings"
)

// Supporting file names synthesized from the plan.
const (
	RequirementsFile = "requirements.txt"
	ReadmeFile       = "README.md"
	EnvExampleFile   = ".env.example"
)

// SupportFiles renders requirements.txt, README.md and .env.example from the plan. Files the
// plan would leave empty are omitted.
func SupportFiles(s *ProjectSpec) map[string]string {
	out := map[string]string{ReadmeFile: renderReadme(s)}
	if len(s.Dependencies) > 0 {
		out[RequirementsFile] = RenderRequirements(s.Dependencies)
	}
	if len(s.EnvVariables) > 0 {
		out[EnvExampleFile] = renderEnvExample(s)
	}
	return out
}

// RenderRequirements renders one requirement per line.
func RenderRequirements(deps []Dependency) string {
	var b strings.Builder
	for _, d := range deps {
		b.WriteString(d.Requirement())
		b.WriteByte('\n')
	}
	return b.String()
}

func sortedEnvKeys(s *ProjectSpec) []string {
	keys := make([]string, 0, len(s.EnvVariables))
	for k := range s.EnvVariables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func renderReadme(s *ProjectSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n\n", s.Name, s.Description)
	b.WriteString("## Installation\n\n```bash\npython -m venv venv\nsource venv/bin/activate\n")
	if len(s.Dependencies) > 0 {
		b.WriteString("pip install -r requirements.txt\n")
	}
	b.WriteString("```\n")

	if len(s.EnvVariables) > 0 {
		b.WriteString("\n## Configuration\n\nCopy `.env.example` to `.env` and fill in:\n\n")
		for _, k := range sortedEnvKeys(s) {
			fmt.Fprintf(&b, "- `%s`: %s\n", k, s.EnvVariables[k])
		}
	}

	fmt.Fprintf(&b, "\n## Usage\n\n```bash\npython %s\n```\n", s.EntryPoint)
	return b.String()
}

func renderEnvExample(s *ProjectSpec) string {
	var b strings.Builder
	for _, k := range sortedEnvKeys(s) {
		if desc := s.EnvVariables[k]; desc != "" {
			fmt.Fprintf(&b, "# %s\n", desc)
		}
		fmt.Fprintf(&b, "%s=\n", k)
	}
	return b.String()
}
