package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"repoforge/internal/packager"
	"repoforge/internal/sandbox"
)

var runTimeout time.Duration

// runCmd executes a project tree in the sandbox
var runCmd = &cobra.Command{
	Use:   "run [dir]",
	Short: "Run a project's entry point in an isolated sandbox",
	Long: `Copies the project into a fresh temporary directory, installs requirements.txt
into it, runs the entry point with a timeout and removes the directory afterwards.
A failed run is classified into findings.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProject,
}

func init() {
	runCmd.Flags().StringVar(&projectSpecFile, "spec", "", "Plan with dependencies and entry point")
	runCmd.Flags().StringVar(&projectEntry, "entry", "", "Entry point (default: main.py, app.py, ...)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Execution timeout (default from config)")
}

func runProject(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	ctx, stop := signalContext()
	defer stop()

	fs, err := packager.ReadDir(dir)
	if err != nil {
		return err
	}
	s, err := planFor(dir, fs)
	if err != nil {
		return err
	}
	timeout := runTimeout
	if timeout <= 0 {
		timeout = cfg.GetExecutionTimeout()
	}

	res := newSandboxFactory(cfg).New().Run(ctx, fs, s.Dependencies, s.EntryPoint, timeout)
	fmt.Fprint(cmd.OutOrStdout(), renderExecution(res))
	if res.Succeeded() {
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), renderFindings(sandbox.Diagnose(res, fs, s.EntryPoint)))
	return fmt.Errorf("%s failed with exit code %d", s.EntryPoint, res.ExitCode)
}
