// Package oracle defines the generation and planning collaborators of the refinement loop and
// ships a Gemini-backed implementation. Oracle output is untrusted: callers validate it
// against the requested paths.
package oracle

import (
	"context"

	"repoforge/internal/spec"
)

// Request asks the oracle for new content for exactly Targets.
type Request struct {
	Spec     *spec.ProjectSpec
	Targets  []string
	Prior    map[string]string // current content of each target, if any
	Findings []spec.Finding    // findings on the targets, empty for first generation
}

// Response maps returned paths to content. It may contain paths that were not requested.
type Response struct {
	Files map[string]string
}

// Oracle generates file contents.
type Oracle interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Planner turns a natural-language query into a plan.
type Planner interface {
	Plan(ctx context.Context, query string) (*spec.ProjectSpec, error)
}

// Func adapts a function to Oracle.
type Func func(ctx context.Context, req Request) (Response, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, req Request) (Response, error) { return f(ctx, req) }

// PlannerFunc adapts a function to Planner.
type PlannerFunc func(ctx context.Context, query string) (*spec.ProjectSpec, error)

// Plan calls f.
func (f PlannerFunc) Plan(ctx context.Context, query string) (*spec.ProjectSpec, error) {
	return f(ctx, query)
}

// Requested returns the subset of files whose path is in targets.
func Requested(files map[string]string, targets []string) (matched map[string]string, unsolicited []string) {
	want := make(map[string]bool, len(targets))
	for _, t := range targets {
		want[t] = true
	}
	matched = make(map[string]string, len(targets))
	for p, c := range files {
		if want[p] {
			matched[p] = c
		} else {
			unsolicited = append(unsolicited, p)
		}
	}
	return matched, unsolicited
}
