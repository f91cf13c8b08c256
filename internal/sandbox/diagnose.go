package sandbox

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"repoforge/internal/spec"
)

var (
	frameRe     = regexp.MustCompile(`(?m)^\s*File "([^"]+)", line (\d+)`)
	exceptionRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.]*(?:Error|Exception|Exit|Interrupt|Warning))(?::\s*(.*))?$`)
)

// exceptionCategories classifies well-known exceptions by their unqualified name. Anything
// else is a RuntimeFailure.
var exceptionCategories = map[string]spec.Category{
	"KeyError":            spec.CategoryRuntimeRiskKeyAccess,
	"JSONDecodeError":     spec.CategoryRuntimeRiskJSON,
	"ModuleNotFoundError": spec.CategoryImport,
	"ImportError":         spec.CategoryImport,
	"SyntaxError":         spec.CategorySyntax,
	"IndentationError":    spec.CategorySyntax,
	"TabError":            spec.CategorySyntax,
}

// Diagnose turns a failed execution into blocking findings fixable by regeneration. A Python
// traceback is attributed to the innermost frame inside the project and classified by its
// exception; other failures are RuntimeFailure findings on the entry point.
func Diagnose(res *ExecutionResult, fs spec.FileSet, entryPoint string) []spec.Finding {
	if res == nil || res.Succeeded() {
		return nil
	}

	finding := spec.Finding{
		Category:  spec.CategoryRuntimeFailure,
		Severity:  spec.SeverityBlocking,
		FilePath:  entryPoint,
		FixableBy: spec.FixRegeneration,
		Runtime:   true,
	}

	switch {
	case res.TimedOut:
		finding.Message = fmt.Sprintf("execution timed out after %s", res.Duration.Round(time.Millisecond))
		return []spec.Finding{finding}
	case res.Phase == PhaseInstall:
		finding.Message = "dependency installation failed: " + lastLine(res.Stderr)
		return []spec.Finding{finding}
	case res.Error != "":
		finding.Message = "execution could not start: " + res.Error
		return []spec.Finding{finding}
	}

	if path, line, ok := innermostFrame(res.Stderr, res.WorkDir, fs); ok {
		finding.FilePath = path
		finding.Line = line
	}
	if exc, name := lastException(res.Stderr); exc != "" {
		finding.Message = exc
		if c, ok := exceptionCategories[name]; ok {
			finding.Category = c
		}
	} else if tail := lastLine(res.Stderr); tail != "" {
		finding.Message = fmt.Sprintf("exited with code %d: %s", res.ExitCode, tail)
	} else {
		finding.Message = fmt.Sprintf("exited with code %d", res.ExitCode)
	}
	return []spec.Finding{finding}
}

// innermostFrame returns the last traceback frame that maps to a project file.
func innermostFrame(stderr, workDir string, fs spec.FileSet) (string, int, bool) {
	matches := frameRe.FindAllStringSubmatch(stderr, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		line, err := strconv.Atoi(matches[i][2])
		if err != nil {
			continue
		}
		if p, ok := projectPath(matches[i][1], workDir, fs); ok {
			return p, line, true
		}
	}
	return "", 0, false
}

// projectPath maps a traceback path to a file set path: relative to the sandbox directory
// when possible, otherwise by the longest matching path suffix.
func projectPath(frame, workDir string, fs spec.FileSet) (string, bool) {
	frame = filepath.ToSlash(frame)
	if workDir != "" {
		prefix := filepath.ToSlash(workDir) + "/"
		if strings.HasPrefix(frame, prefix) {
			frame = strings.TrimPrefix(frame, prefix)
		}
	}
	if strings.HasPrefix(frame, depsDir+"/") || strings.Contains(frame, "/"+depsDir+"/") {
		return "", false
	}
	if fs.Has(frame) {
		return frame, true
	}

	best := ""
	for _, p := range fs.Paths() {
		if strings.HasSuffix(frame, "/"+p) && len(p) > len(best) {
			best = p
		}
	}
	return best, best != ""
}

// lastException returns the final exception line of a traceback and the exception's
// unqualified class name.
func lastException(stderr string) (string, string) {
	lines := strings.Split(strings.TrimRight(stderr, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if m := exceptionRe.FindStringSubmatch(line); m != nil {
			name := m[1]
			if j := strings.LastIndexByte(name, '.'); j >= 0 {
				name = name[j+1:]
			}
			return line, name
		}
	}
	return "", ""
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
