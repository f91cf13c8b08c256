package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"repoforge/internal/controller"
	"repoforge/internal/packager"
	"repoforge/internal/runstore"
	"repoforge/internal/spec"
)

var (
	genSpecFile      string
	genMaxIterations int
	genTimeout       time.Duration
	genSkipExec      bool
	genOutDir        string
	genNoZip         bool
	genJSON          bool
)

// generateCmd plans, generates and refines a project
var generateCmd = &cobra.Command{
	Use:   "generate [description]",
	Short: "Generate a verified Python project from a description or plan",
	Long: `Plans a project from a natural-language description (or loads a plan with --spec),
generates every file, and refines the result until it verifies and runs.

Examples:
  forge generate "a CLI that fetches the weather for a city"
  forge generate --spec plan.yaml --max-iterations 2 --out ./build`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&genSpecFile, "spec", "", "Load the project plan from a YAML or JSON file")
	generateCmd.Flags().IntVar(&genMaxIterations, "max-iterations", 0, "Repair pass budget (default from config)")
	generateCmd.Flags().DurationVar(&genTimeout, "timeout", 0, "Entry point execution timeout (default from config)")
	generateCmd.Flags().BoolVar(&genSkipExec, "skip-exec", false, "Stop after static verification")
	generateCmd.Flags().StringVarP(&genOutDir, "out", "o", "", "Output directory (default from config)")
	generateCmd.Flags().BoolVar(&genNoZip, "no-zip", false, "Do not write a zip archive")
	generateCmd.Flags().BoolVar(&genJSON, "json", false, "Print the run summary as JSON")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.GetRequestTimeout())
	defer cancel()

	query := strings.TrimSpace(strings.Join(args, " "))
	var plan *spec.ProjectSpec
	if genSpecFile != "" {
		var err error
		if plan, err = spec.LoadFile(genSpecFile); err != nil {
			return err
		}
	}
	if plan == nil && query == "" {
		return errors.New("describe the project or pass --spec")
	}

	o, p, err := newOracle(ctx, cfg)
	if err != nil {
		return err
	}

	cc := controller.ConfigFrom(cfg)
	if genMaxIterations > 0 {
		cc.MaxIterations = genMaxIterations
	}
	if genTimeout > 0 {
		cc.ExecutionTimeout = genTimeout
	}
	cc.SkipExecution = cc.SkipExecution || genSkipExec

	ctrl := newBuilder(cfg, o, p)(cc)
	if !genJSON {
		ctrl.OnTransition = func(t controller.Transition) {
			fmt.Fprintln(cmd.ErrOrStderr(), renderTransition(t))
		}
	}

	logger.Info("Starting generation", zap.String("query", query), zap.Int("max_iterations", cc.MaxIterations))
	start := time.Now()
	var rep *controller.Report
	var runErr error
	if plan != nil {
		rep, runErr = ctrl.RunSpec(ctx, plan)
	} else {
		rep, runErr = ctrl.RunQuery(ctx, query)
	}
	elapsed := time.Since(start)

	art := packageOutput(rep)
	recordRun(query, rep, elapsed, art)

	if genJSON {
		out := struct {
			controller.Summary
			Artifact *packager.Artifact `json:"artifact,omitempty"`
		}{rep.Summary(), art}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), renderReport(rep, art))
	}

	if runErr != nil {
		return runErr
	}
	if !rep.Success {
		return fmt.Errorf("generation ended in state %s", rep.FinalState)
	}
	return nil
}

func packageOutput(rep *controller.Report) *packager.Artifact {
	if rep.Spec == nil || rep.FileSet.Len() == 0 {
		return nil
	}
	out := cfg.Output
	if genOutDir != "" {
		out.Dir = genOutDir
	}
	if genNoZip {
		out.Zip = false
	}
	art, err := packager.New(out).Package(rep.Spec, rep.FileSet)
	if err != nil {
		logger.Warn("Packaging failed", zap.Error(err))
		return nil
	}
	return &art
}

func recordRun(query string, rep *controller.Report, elapsed time.Duration, art *packager.Artifact) {
	st, err := openStore(cfg)
	if err != nil {
		logger.Warn("Run history unavailable", zap.Error(err))
		return
	}
	if st == nil {
		return
	}
	defer st.Close()

	path := ""
	if art != nil {
		path = art.Zip
		if path == "" {
			path = art.Dir
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.Save(ctx, runstore.NewRecord(newRunID(), query, rep, elapsed, path)); err != nil {
		logger.Warn("Run not recorded", zap.Error(err))
	}
}
