package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"repoforge/internal/modernize"
	"repoforge/internal/packager"
	"repoforge/internal/repair"
	"repoforge/internal/spec"
	"repoforge/internal/watch"
)

var (
	projectSpecFile string
	projectEntry    string
	verifyFix       bool
	verifyWatch     bool
)

// verifyCmd statically verifies an existing project tree
var verifyCmd = &cobra.Command{
	Use:   "verify [dir]",
	Short: "Statically verify a Python project directory",
	Long: `Runs the syntax, import, structural and runtime-risk checks on a project tree.

With --fix, modernization rules and deterministic quick-fixes are applied in place.
With --watch, the tree is re-verified whenever files change.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&projectSpecFile, "spec", "", "Plan to verify against (default: every file in the tree)")
	verifyCmd.Flags().StringVar(&projectEntry, "entry", "", "Entry point (default: main.py, app.py, ...)")
	verifyCmd.Flags().BoolVar(&verifyFix, "fix", false, "Apply quick-fixes and modernization in place")
	verifyCmd.Flags().BoolVar(&verifyWatch, "watch", false, "Re-verify on file changes")
}

func runVerify(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	ctx, stop := signalContext()
	defer stop()

	blocking, err := verifyProject(ctx, dir, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if !verifyWatch {
		if blocking > 0 {
			return fmt.Errorf("%d blocking findings", blocking)
		}
		return nil
	}

	w, err := watch.New(dir, 0, func(ctx context.Context, changed []string) {
		fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render(fmt.Sprintf("changed: %v", changed)))
		if _, err := verifyProject(ctx, dir, cmd.OutOrStdout()); err != nil {
			logger.Warn("Verification failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), mutedStyle.Render("watching "+dir+" (Ctrl+C to stop)"))
	return w.Run(ctx)
}

// planFor returns the plan to verify dir against.
func planFor(dir string, fs spec.FileSet) (*spec.ProjectSpec, error) {
	if projectSpecFile != "" {
		return spec.LoadFile(projectSpecFile)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	s := spec.FromFiles(filepath.Base(abs), projectEntry, fs)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// verifyProject verifies dir once, optionally fixing it, and returns the blocking count.
func verifyProject(ctx context.Context, dir string, out io.Writer) (int, error) {
	fs, err := packager.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	s, err := planFor(dir, fs)
	if err != nil {
		return 0, err
	}

	v := newVerifier(cfg)
	findings := v.Verify(ctx, s, fs)

	if verifyFix {
		fixed, err := modernize.New(nil).Modernize(ctx, fs)
		if err != nil || !fixed.SamePaths(fs) {
			fixed = fs
		}
		res, err := repair.New(v, nil).Repair(ctx, s, fixed, v.Verify(ctx, s, fixed))
		if err != nil {
			return 0, err
		}
		changed := fs.Changed(res.FileSet)
		if len(changed) > 0 {
			writes := make(map[string]string, len(changed))
			for _, p := range changed {
				writes[p] = res.FileSet.Content(p)
			}
			if err := packager.WriteDir(dir, spec.NewFileSet(writes)); err != nil {
				return 0, err
			}
			fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("fixed %d files: %v", len(changed), changed)))
		}
		findings = v.Verify(ctx, s, res.FileSet)
	}

	blocking := len(spec.Blocking(findings))
	header := fmt.Sprintf("%s %d files, %d findings", titleStyle.Render(s.Name), len(s.Files), len(findings))
	fmt.Fprintln(out, header)
	if len(findings) > 0 {
		fmt.Fprint(out, renderFindings(findings))
	}
	if blocking == 0 {
		fmt.Fprintln(out, successStyle.Render("● verified"))
	}
	return blocking, nil
}
