package spec

import (
	"path"
	"strings"
)

// entryCandidates are tried in order when no entry point is given.
var entryCandidates = []string{"main.py", "app.py", "run.py", "cli.py", "__main__.py"}

// FromFiles builds a plan for an existing project tree: every file is planned, dependencies
// come from requirements.txt and the entry point is guessed when empty.
func FromFiles(name, entry string, fs FileSet) *ProjectSpec {
	s := &ProjectSpec{Name: name, EntryPoint: entry}
	for _, p := range fs.Paths() {
		s.Files = append(s.Files, FileSpec{Path: p, Language: LanguageFor(p)})
	}
	if fs.Has(RequirementsFile) {
		s.Dependencies = ParseRequirements(fs.Content(RequirementsFile))
	}
	if s.EntryPoint == "" {
		s.EntryPoint = guessEntry(fs)
	}
	return s
}

func guessEntry(fs FileSet) string {
	for _, c := range entryCandidates {
		if fs.Has(c) {
			return c
		}
	}
	// Shallowest Python file, then lexical order.
	best := ""
	for _, p := range fs.Paths() {
		if LanguageFor(p) != LanguagePython {
			continue
		}
		if best == "" || strings.Count(p, "/") < strings.Count(best, "/") {
			best = p
		}
	}
	return best
}

// ParseRequirements reads package names and version constraints from a requirements.txt.
// Options, includes, URLs and comments are skipped; extras and markers are dropped.
func ParseRequirements(text string) []Dependency {
	var out []Dependency
	for _, line := range strings.Split(text, "\n") {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-") || strings.Contains(line, "://") {
			continue
		}
		if i := strings.Index(line, ";"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		cut := strings.IndexAny(line, "=<>!~[ ")
		name, version := line, ""
		if cut >= 0 {
			name, version = line[:cut], strings.TrimSpace(line[cut:])
			if strings.HasPrefix(version, "[") {
				if end := strings.Index(version, "]"); end >= 0 {
					version = strings.TrimSpace(version[end+1:])
				}
			}
		}
		if name == "" || path.Base(name) != name {
			continue
		}
		out = append(out, Dependency{Package: name, Version: version})
	}
	return out
}
