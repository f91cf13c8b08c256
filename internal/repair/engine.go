// Package repair turns blocking findings into file changes: deterministic quick-fix rules
// first, then one scoped regeneration request for the files that are still broken.
package repair

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"repoforge/internal/logging"
	"repoforge/internal/oracle"
	"repoforge/internal/spec"
	"repoforge/internal/verification"
)

// Result is the outcome of one repair pass.
type Result struct {
	FileSet     spec.FileSet
	Applied     int            // quick-fix edits applied
	Regenerated []string       // paths replaced by oracle output, sorted
	Unresolved  []spec.Finding // blocking findings this pass could not address
	Mismatches  []spec.Finding // advisory findings for unsolicited oracle paths
}

// Engine performs repair passes. A nil oracle disables regeneration.
type Engine struct {
	verifier *verification.Verifier
	oracle   oracle.Oracle
}

// New creates a repair engine.
func New(v *verification.Verifier, o oracle.Oracle) *Engine {
	return &Engine{verifier: v, oracle: o}
}

// Repair applies quick-fixes to files with quick-fixable blocking findings, re-verifies, and
// asks the oracle to regenerate exactly the files that still carry blocking findings. Oracle
// failures leave files unchanged; only context cancellation is returned as an error.
func (e *Engine) Repair(ctx context.Context, s *spec.ProjectSpec, fs spec.FileSet, findings []spec.Finding) (Result, error) {
	timer := logging.StartTimer(logging.CategoryRepair, "Repair")
	defer timer.Stop()

	if err := ctx.Err(); err != nil {
		return Result{FileSet: fs}, err
	}

	res := Result{FileSet: fs}
	for _, path := range quickFixTargets(findings) {
		before := res.FileSet.Content(path)
		after, n, err := QuickFix(ctx, before)
		if err != nil {
			logging.RepairWarn("quick-fix %s: %v", path, err)
			continue
		}
		if n > 0 {
			res.FileSet = res.FileSet.With(path, after)
			res.Applied += n
			logging.RepairDebug("quick-fix %s: %d edits", path, n)
		}
	}

	remaining := e.verifier.Verify(ctx, s, res.FileSet)
	remaining = append(remaining, runtimeFindings(s, findings)...)
	spec.SortFindings(remaining)

	targets := regenerationTargets(remaining)
	if len(targets) == 0 {
		return res, nil
	}
	if e.oracle == nil {
		res.Unresolved = spec.Blocking(remaining)
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		res.Unresolved = spec.Blocking(remaining)
		return res, err
	}

	regenerated, mismatches, err := e.regenerate(ctx, s, res.FileSet, targets, remaining)
	res.Mismatches = mismatches
	if err != nil {
		res.Unresolved = spec.Blocking(remaining)
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return res, ctxErr
		}
		logging.RepairWarn("regeneration of %d files failed: %v", len(targets), err)
		return res, nil
	}

	for _, p := range sortedKeys(regenerated) {
		res.FileSet = res.FileSet.With(p, regenerated[p])
		res.Regenerated = append(res.Regenerated, p)
	}
	for _, f := range spec.Blocking(remaining) {
		if _, ok := regenerated[f.FilePath]; !ok {
			res.Unresolved = append(res.Unresolved, f)
		}
	}

	logging.Repair("repair pass: %d quick-fix edits, %d/%d files regenerated, %d unresolved, %d mismatches",
		res.Applied, len(res.Regenerated), len(targets), len(res.Unresolved), len(res.Mismatches))
	return res, nil
}

// regenerate sends one request for targets and validates the response. Rejected content
// keeps the prior file.
func (e *Engine) regenerate(ctx context.Context, s *spec.ProjectSpec, fs spec.FileSet, targets []string, findings []spec.Finding) (map[string]string, []spec.Finding, error) {
	prior := make(map[string]string, len(targets))
	var scoped []spec.Finding
	want := make(map[string]bool, len(targets))
	for _, t := range targets {
		prior[t] = fs.Content(t)
		want[t] = true
	}
	for _, f := range findings {
		if want[f.FilePath] {
			scoped = append(scoped, f)
		}
	}

	resp, err := e.oracle.Generate(ctx, oracle.Request{Spec: s, Targets: targets, Prior: prior, Findings: scoped})
	if err != nil {
		return nil, nil, err
	}

	matched, unsolicited := oracle.Requested(resp.Files, targets)
	sort.Strings(unsolicited)
	var mismatches []spec.Finding
	for _, p := range unsolicited {
		mismatches = append(mismatches, MismatchFinding(p))
	}

	accepted := make(map[string]string, len(matched))
	for p, content := range matched {
		if err := validateContent(ctx, s, p, content); err != nil {
			logging.RepairWarn("rejected oracle output for %s: %v", p, err)
			continue
		}
		accepted[p] = content
	}
	return accepted, mismatches, nil
}

// MismatchFinding reports an oracle path that was not requested.
func MismatchFinding(path string) spec.Finding {
	return spec.Finding{
		Category:  spec.CategoryGenerationMismatch,
		Severity:  spec.SeverityAdvisory,
		FilePath:  path,
		Message:   "oracle returned an unsolicited file; ignored",
		FixableBy: spec.FixRegeneration,
	}
}

// validateContent rejects empty output and Python that does not parse.
func validateContent(ctx context.Context, s *spec.ProjectSpec, path, content string) error {
	if strings.TrimSpace(content) == "" && !strings.HasSuffix(path, "__init__.py") {
		return fmt.Errorf("empty content")
	}
	if s.LanguageOf(path) != spec.LanguagePython {
		return nil
	}
	src, err := verification.ParsePython(ctx, []byte(content))
	if err != nil {
		return err
	}
	defer src.Close()
	if p := src.FirstSyntaxError(); p != nil {
		return fmt.Errorf("line %d: %s", p.Line, p.Message)
	}
	return nil
}

// quickFixTargets lists files with at least one blocking quick-fixable finding.
func quickFixTargets(findings []spec.Finding) []string {
	set := make(map[string]string)
	for _, f := range findings {
		if f.Blocking() && f.FixableBy == spec.FixQuick {
			set[f.FilePath] = f.FilePath
		}
	}
	return sortedKeys(set)
}

// runtimeFindings keeps the execution findings static verification cannot reproduce,
// attributing path-less ones to the entry point.
func runtimeFindings(s *spec.ProjectSpec, findings []spec.Finding) []spec.Finding {
	var out []spec.Finding
	for _, f := range findings {
		if !f.FromExecution() {
			continue
		}
		if f.FilePath == "" {
			f.FilePath = s.EntryPoint
		}
		out = append(out, f)
	}
	return out
}

func regenerationTargets(findings []spec.Finding) []string {
	set := make(map[string]string)
	for _, f := range findings {
		if f.Blocking() && f.FilePath != "" {
			set[f.FilePath] = f.FilePath
		}
	}
	return sortedKeys(set)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
