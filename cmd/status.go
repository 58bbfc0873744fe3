package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/schemaguard/schemaguard/internal/config"
	"github.com/schemaguard/schemaguard/internal/lock"
	"github.com/schemaguard/schemaguard/internal/report"
	"github.com/schemaguard/schemaguard/internal/state"
)

var statusHistory int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cached snapshot and recent analyses",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ExpandHome(state.DefaultPath)
		if statePath != "" {
			path = config.ExpandHome(statePath)
		}
		st, err := state.Load(path)
		if err != nil {
			return fmt.Errorf("loading state: %w", err)
		}

		if st.Snapshot == nil {
			fmt.Println("Snapshot: none cached (run analyze or watch)")
		} else {
			fmt.Printf("Snapshot: %d modules, %d tables (updated %s)\n",
				len(st.Snapshot.Modules), st.Snapshot.TableCount(), st.LastUpdated.Format("2006-01-02 15:04:05"))
		}

		if h, held, err := lock.IsHeld(""); err == nil && held {
			fmt.Printf("Running: schemaguard %s (PID %d, since %s)\n",
				h.Command, h.PID, h.Started.Local().Format("2006-01-02 15:04:05"))
		}

		run, ok := st.LastRun()
		if !ok {
			fmt.Println("\nNo analyses recorded yet.")
			return nil
		}

		fmt.Println()
		fmt.Println("Recent analyses:")
		for i, r := range st.History {
			if i == statusHistory {
				break
			}
			plan := "single step"
			if r.Staged {
				plan = "staged"
			}
			if r.Operations == 0 {
				plan = "no changes"
			}
			fmt.Printf("  %s  %-6s  %3d ops  %-11s  %s\n", r.ID, r.Risk, r.Operations, plan, r.Source)
		}

		if run.Report != "" {
			rep, err := report.ReadJSON(run.Report)
			if err != nil {
				return nil
			}
			fmt.Println()
			fmt.Printf("Last report: %s\n", run.Report)
			for _, s := range rep.NextSteps {
				fmt.Printf("  - %s\n", s)
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVarP(&statusHistory, "history", "n", 5, "number of past analyses to list")
	rootCmd.AddCommand(statusCmd)
}
