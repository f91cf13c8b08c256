package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"repoforge/internal/controller"
)

var (
	historyLimit     int
	historyStats     bool
	historyPruneDays int
)

// historyCmd lists and inspects past runs
var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List past runs or show one run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to list")
	historyCmd.Flags().BoolVar(&historyStats, "stats", false, "Show outcome statistics")
	historyCmd.Flags().IntVar(&historyPruneDays, "prune-days", 0, "Delete runs older than this many days")
}

func runHistory(cmd *cobra.Command, args []string) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	if st == nil {
		return errors.New("run history is disabled (store.enabled: false)")
	}
	defer st.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if historyPruneDays > 0 {
		n, err := st.Prune(ctx, time.Now().AddDate(0, 0, -historyPruneDays))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "pruned %d runs\n", n)
	}

	if len(args) == 1 {
		rec, err := st.Get(ctx, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			ID    string `json:"id"`
			Query string `json:"query"`
			controller.Summary
		}{rec.ID, rec.Query, rec.Summary})
	}

	if historyStats {
		s, err := st.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, renderStats(s))
	}

	runs, err := st.List(ctx, historyLimit)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, renderRuns(runs))
	return nil
}
