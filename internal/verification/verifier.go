// Package verification statically checks a generated file set against its plan and returns
// ordered findings. Verification is pure: identical input gives identical output.
package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"repoforge/internal/logging"
	"repoforge/internal/spec"
)

// Options tunes the verifier.
type Options struct {
	// ExtraStdlib extends the standard-library allow-list.
	ExtraStdlib []string
	// ModuleAliases maps a distribution name to the module it installs.
	ModuleAliases map[string]string
	// Workers bounds concurrent file checks. Zero means one per CPU.
	Workers int
}

// Verifier runs the syntax, import, structural and detector stages.
type Verifier struct {
	stdlib  map[string]bool
	aliases map[string][]string
	workers int
}

// New creates a verifier.
func New(opts Options) *Verifier {
	v := &Verifier{
		stdlib:  make(map[string]bool, len(stdlibModules)+len(opts.ExtraStdlib)),
		aliases: make(map[string][]string, len(knownAliases)+len(opts.ModuleAliases)),
		workers: opts.Workers,
	}
	for _, m := range stdlibModules {
		v.stdlib[m] = true
	}
	for _, m := range opts.ExtraStdlib {
		v.stdlib[m] = true
	}
	for dist, mods := range knownAliases {
		v.aliases[dist] = mods
	}
	for dist, mod := range opts.ModuleAliases {
		key := normalizeDist(dist)
		v.aliases[key] = append(append([]string(nil), v.aliases[key]...), mod)
	}
	if v.workers <= 0 {
		v.workers = runtime.NumCPU()
	}
	return v
}

// Verify checks every file in fs and the plan's structural invariants. Findings are sorted
// by path, line, category and message. Cancellation is observed by callers between stages;
// a started verification always completes so its result stays deterministic.
func (v *Verifier) Verify(ctx context.Context, s *spec.ProjectSpec, fs spec.FileSet) []spec.Finding {
	timer := logging.StartTimer(logging.CategoryVerify, "Verify")
	defer timer.Stop()

	ctx = context.WithoutCancel(ctx)
	idx := v.buildIndex(s, fs)
	paths := fs.Paths()
	perFile := make([][]spec.Finding, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for i, p := range paths {
		g.Go(func() error {
			perFile[i] = v.verifyFile(gctx, s, p, fs.Content(p), idx)
			return nil
		})
	}
	_ = g.Wait()

	findings := structural(s, fs)
	for _, ff := range perFile {
		findings = append(findings, ff...)
	}
	spec.SortFindings(findings)

	logging.VerifyDebug("verified %d files: %d findings (%d blocking)", len(paths), len(findings), len(spec.Blocking(findings)))
	return findings
}

func (v *Verifier) verifyFile(ctx context.Context, s *spec.ProjectSpec, path, content string, idx moduleIndex) []spec.Finding {
	switch s.LanguageOf(path) {
	case spec.LanguagePython:
		return v.verifyPython(ctx, path, content, idx)
	case spec.LanguageJSON:
		return checkJSON(path, content)
	case spec.LanguageYAML:
		return checkYAML(path, content)
	}
	return nil
}

func (v *Verifier) verifyPython(ctx context.Context, path, content string, idx moduleIndex) []spec.Finding {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	src, err := ParsePython(ctx, []byte(content))
	if err != nil {
		return []spec.Finding{syntaxFinding(path, 0, err.Error())}
	}
	defer src.Close()

	if p := src.FirstSyntaxError(); p != nil {
		return []spec.Finding{syntaxFinding(path, p.Line, p.Message)}
	}

	var out []spec.Finding
	seen := make(map[importRef]bool)
	for _, ref := range src.imports() {
		if idx.has(ref.Module) || seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, spec.Finding{
			Category:  spec.CategoryImport,
			Severity:  spec.SeverityBlocking,
			FilePath:  path,
			Line:      ref.Line,
			Message:   fmt.Sprintf("module %q is not in the standard library, the declared dependencies or the project", ref.Module),
			FixableBy: spec.FixRegeneration,
		})
	}

	for _, h := range src.detect() {
		out = append(out, h.Finding(path))
	}
	return out
}

func syntaxFinding(path string, line int, msg string) spec.Finding {
	return spec.Finding{
		Category:  spec.CategorySyntax,
		Severity:  spec.SeverityBlocking,
		FilePath:  path,
		Line:      line,
		Message:   msg,
		FixableBy: spec.FixRegeneration,
	}
}

func checkJSON(path, content string) []spec.Finding {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		line := 0
		if se, ok := err.(*json.SyntaxError); ok {
			line = strings.Count(content[:min(int(se.Offset), len(content))], "\n") + 1
		}
		return []spec.Finding{syntaxFinding(path, line, "invalid JSON: "+err.Error())}
	}
	return nil
}

func checkYAML(path, content string) []spec.Finding {
	var v any
	if err := yaml.Unmarshal([]byte(content), &v); err != nil {
		return []spec.Finding{syntaxFinding(path, 0, "invalid YAML: "+err.Error())}
	}
	return nil
}

// structural checks that every planned file has content and the entry point exists.
func structural(s *spec.ProjectSpec, fs spec.FileSet) []spec.Finding {
	var out []spec.Finding
	for _, f := range s.Files {
		var msg string
		a, ok := fs.Get(f.Path)
		switch {
		case !ok && f.Path == s.EntryPoint:
			msg = "entry point is missing"
		case !ok:
			msg = "planned file is missing"
		case strings.TrimSpace(a.Content) == "" && !allowedEmpty(f.Path):
			msg = "planned file is empty"
		default:
			continue
		}
		out = append(out, spec.Finding{
			Category:  spec.CategoryStructural,
			Severity:  spec.SeverityBlocking,
			FilePath:  f.Path,
			Message:   msg,
			FixableBy: spec.FixRegeneration,
		})
	}
	return out
}

func allowedEmpty(p string) bool {
	return strings.HasSuffix(p, "__init__.py") || spec.LanguageFor(p) == spec.LanguageEnv
}
