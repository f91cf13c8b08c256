// Package spec is the shared data contract of the refinement loop: the immutable project plan
// (ProjectSpec) and the versioned file set every stage reads and produces.
package spec

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// Language identifies how a planned file is treated by verification.
type Language string

const (
	LanguagePython   Language = "python"
	LanguageJSON     Language = "json"
	LanguageYAML     Language = "yaml"
	LanguageTOML     Language = "toml"
	LanguageMarkdown Language = "markdown"
	LanguageText     Language = "text"
	LanguageEnv      Language = "env"
	LanguageOther    Language = "other"
)

// FileSpec describes one planned file.
type FileSpec struct {
	Path     string   `json:"path" yaml:"path"`
	Purpose  string   `json:"purpose" yaml:"purpose"`
	Language Language `json:"language,omitempty" yaml:"language,omitempty"`
}

// Dependency is one declared third-party package.
type Dependency struct {
	Package string `json:"package" yaml:"package"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	Purpose string `json:"purpose,omitempty" yaml:"purpose,omitempty"`
}

// Requirement renders the dependency as a requirements.txt line.
func (d Dependency) Requirement() string {
	v := strings.TrimSpace(d.Version)
	if v == "" || v == "latest" {
		return d.Package
	}
	if strings.ContainsAny(v[:1], "=<>!~") {
		return d.Package + v
	}
	return d.Package + "==" + v
}

// ProjectSpec is the root plan produced by the planner. The core never mutates it.
type ProjectSpec struct {
	Name         string            `json:"project_name" yaml:"project_name"`
	Description  string            `json:"description" yaml:"description"`
	Files        []FileSpec        `json:"files" yaml:"files"`
	Dependencies []Dependency      `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	EntryPoint   string            `json:"entry_point" yaml:"entry_point"`
	EnvVariables map[string]string `json:"env_variables,omitempty" yaml:"env_variables,omitempty"`
}

// Clone returns a deep copy so callers can hold the plan without sharing slices.
func (s *ProjectSpec) Clone() *ProjectSpec {
	if s == nil {
		return nil
	}
	out := *s
	out.Files = append([]FileSpec(nil), s.Files...)
	out.Dependencies = append([]Dependency(nil), s.Dependencies...)
	if s.EnvVariables != nil {
		out.EnvVariables = make(map[string]string, len(s.EnvVariables))
		for k, v := range s.EnvVariables {
			out.EnvVariables[k] = v
		}
	}
	return &out
}

// Paths returns the planned paths in plan order.
func (s *ProjectSpec) Paths() []string {
	out := make([]string, len(s.Files))
	for i, f := range s.Files {
		out[i] = f.Path
	}
	return out
}

// File looks up a planned file by path.
func (s *ProjectSpec) File(p string) (FileSpec, bool) {
	for _, f := range s.Files {
		if f.Path == p {
			return f, true
		}
	}
	return FileSpec{}, false
}

// DependencyNames returns the declared package names, sorted.
func (s *ProjectSpec) DependencyNames() []string {
	out := make([]string, 0, len(s.Dependencies))
	for _, d := range s.Dependencies {
		out = append(out, d.Package)
	}
	sort.Strings(out)
	return out
}

// LanguageOf returns the declared language of a path, falling back to its extension.
func (s *ProjectSpec) LanguageOf(p string) Language {
	if f, ok := s.File(p); ok && f.Language != "" {
		return f.Language
	}
	return LanguageFor(p)
}

// LanguageFor infers a language from a file extension.
func LanguageFor(p string) Language {
	base := path.Base(p)
	switch {
	case base == ".env" || strings.HasPrefix(base, ".env."):
		return LanguageEnv
	case base == "requirements.txt":
		return LanguageText
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".py", ".pyw":
		return LanguagePython
	case ".json":
		return LanguageJSON
	case ".yaml", ".yml":
		return LanguageYAML
	case ".toml":
		return LanguageTOML
	case ".md":
		return LanguageMarkdown
	case ".txt":
		return LanguageText
	default:
		return LanguageOther
	}
}

// Validate checks the plan invariants and reports every violation at once.
func (s *ProjectSpec) Validate() error {
	if s == nil {
		return &ValidationError{Problems: []string{"project spec is nil"}}
	}
	var problems []string
	if strings.TrimSpace(s.Name) == "" {
		problems = append(problems, "project name is empty")
	}
	if len(s.Files) == 0 {
		problems = append(problems, "file list is empty")
	}

	seen := make(map[string]bool, len(s.Files))
	for i, f := range s.Files {
		if err := CheckRelativePath(f.Path); err != nil {
			problems = append(problems, fmt.Sprintf("files[%d]: %v", i, err))
			continue
		}
		if seen[f.Path] {
			problems = append(problems, fmt.Sprintf("files[%d]: duplicate path %q", i, f.Path))
		}
		seen[f.Path] = true
	}

	switch {
	case s.EntryPoint == "":
		problems = append(problems, "entry point is empty")
	case !seen[s.EntryPoint]:
		problems = append(problems, fmt.Sprintf("entry point %q is not in the file list", s.EntryPoint))
	}

	for i, d := range s.Dependencies {
		if strings.TrimSpace(d.Package) == "" {
			problems = append(problems, fmt.Sprintf("dependencies[%d]: package name is empty", i))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// CheckRelativePath rejects empty, absolute, unclean or escaping paths.
func CheckRelativePath(p string) error {
	switch {
	case strings.TrimSpace(p) == "":
		return fmt.Errorf("path is empty")
	case strings.Contains(p, `\`):
		return fmt.Errorf("path %q uses backslashes", p)
	case path.IsAbs(p) || (len(p) > 1 && p[1] == ':'):
		return fmt.Errorf("path %q is absolute", p)
	case p == ".." || strings.HasPrefix(p, "../") || strings.Contains(p, "/../") || strings.HasSuffix(p, "/.."):
		return fmt.Errorf("path %q escapes the project root", p)
	case path.Clean(p) != p:
		return fmt.Errorf("path %q is not clean (want %q)", p, path.Clean(p))
	}
	return nil
}
