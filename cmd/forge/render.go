package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"repoforge/internal/controller"
	"repoforge/internal/packager"
	"repoforge/internal/runstore"
	"repoforge/internal/sandbox"
	"repoforge/internal/spec"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
)

func renderTransition(t controller.Transition) string {
	line := fmt.Sprintf("%s → %s", t.From, t.To)
	if t.Reason != "" {
		line += mutedStyle.Render("  " + t.Reason)
	}
	return mutedStyle.Render(fmt.Sprintf("[%d] ", t.Iteration)) + line
}

func renderStatus(success, degraded bool, state controller.State) string {
	switch {
	case success && degraded:
		return warnStyle.Render("● degraded success")
	case success:
		return successStyle.Render("● succeeded")
	default:
		return errorStyle.Render("● " + string(state))
	}
}

func renderReport(rep *controller.Report, art *packager.Artifact) string {
	var b strings.Builder

	name := "project"
	if rep.Spec != nil {
		name = rep.Spec.Name
	}
	header := lipgloss.JoinHorizontal(lipgloss.Center,
		titleStyle.Render(name), "  ", renderStatus(rep.Success, rep.Degraded, rep.FinalState))
	b.WriteString(header + "\n")

	if rep.Spec != nil {
		fmt.Fprintf(&b, "%s %d files, entry point %s\n", mutedStyle.Render("plan:"), len(rep.Spec.Files), rep.Spec.EntryPoint)
	}
	for _, it := range rep.Iterations {
		fmt.Fprintf(&b, "%s #%d: %d → %d findings, %d edits, regenerated %v\n",
			mutedStyle.Render("repair"), it.Index, len(it.Before), len(it.After), it.Applied, it.Regenerated)
	}
	if rep.Execution != nil {
		b.WriteString(renderExecution(rep.Execution))
	}
	if len(rep.Findings) > 0 {
		b.WriteString(renderFindings(rep.Findings))
	}
	if art != nil {
		fmt.Fprintf(&b, "%s %s\n", mutedStyle.Render("output:"), art.Dir)
		if art.Zip != "" {
			fmt.Fprintf(&b, "%s %s\n", mutedStyle.Render("archive:"), art.Zip)
		}
	}
	if rep.Err != nil {
		b.WriteString(errorStyle.Render("error: ") + rep.Err.Error() + "\n")
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func renderFindings(findings []spec.Finding) string {
	var b strings.Builder
	for _, f := range findings {
		marker := warnStyle.Render("advisory")
		if f.Blocking() {
			marker = errorStyle.Render("blocking")
		}
		fmt.Fprintf(&b, "%s %s\n", marker, f.String())
	}
	return b.String()
}

func renderExecution(res *sandbox.ExecutionResult) string {
	var b strings.Builder
	status := successStyle.Render("exit 0")
	switch {
	case res.TimedOut:
		status = errorStyle.Render("timed out")
	case res.Error != "":
		status = errorStyle.Render(res.Error)
	case res.ExitCode != 0:
		status = errorStyle.Render(fmt.Sprintf("exit %d", res.ExitCode))
	}
	fmt.Fprintf(&b, "%s %s (%s, %s)\n", mutedStyle.Render("execution:"), status, res.Phase, res.Duration.Round(time.Millisecond))
	if out := tail(res.Stdout, 10); out != "" {
		b.WriteString(mutedStyle.Render("stdout:") + "\n" + out + "\n")
	}
	if !res.Succeeded() {
		if errOut := tail(res.Stderr, 10); errOut != "" {
			b.WriteString(mutedStyle.Render("stderr:") + "\n" + errOut + "\n")
		}
	}
	if res.CleanupErr != "" {
		b.WriteString(warnStyle.Render("cleanup: "+res.CleanupErr) + "\n")
	}
	return b.String()
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

func renderRuns(runs []runstore.RunRecord) string {
	if len(runs) == 0 {
		return mutedStyle.Render("no runs recorded")
	}
	var b strings.Builder
	for _, r := range runs {
		fmt.Fprintf(&b, "%s  %s  %-22s %s  %d iterations  %s\n",
			mutedStyle.Render(r.CreatedAt.Format("2006-01-02 15:04")),
			r.ID[:min(8, len(r.ID))],
			r.ProjectName,
			renderStatus(r.Success, r.Degraded, controller.State(r.FinalState)),
			r.Iterations,
			mutedStyle.Render(r.Duration.Round(time.Second).String()),
		)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderStats(st runstore.Stats) string {
	return fmt.Sprintf("%s %d runs: %s, %s, %s, %.1f iterations on average",
		titleStyle.Render("history"), st.Total,
		successStyle.Render(fmt.Sprintf("%d succeeded", st.Succeeded)),
		warnStyle.Render(fmt.Sprintf("%d degraded", st.Degraded)),
		errorStyle.Render(fmt.Sprintf("%d failed", st.Failed)),
		st.AvgIterations)
}
