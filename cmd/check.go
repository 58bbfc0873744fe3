package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	checkBefore string
	checkAfter  string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run pre-flight checks against the live database",
	Long: `Analyze two snapshots and run each pre-flight check (non-null data in
dropped columns, NULLs in columns becoming NOT NULL, duplicates under new
unique constraints) against the configured database. Exits non-zero when a
check finds violating rows.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		before, after, _, err := a.loadPair(ctx, checkBefore, checkAfter)
		if err != nil {
			return err
		}
		r, err := a.engine.Analyze(ctx, before, after)
		if err != nil {
			return err
		}
		if len(r.Checks) == 0 {
			fmt.Println("No pre-flight checks apply to these changes.")
			return nil
		}

		runChecks(ctx, a)
		result := a.engine.CheckResults()
		if result == nil {
			return fmt.Errorf("pre-flight checks did not run")
		}

		fmt.Printf("\nPre-flight checks: %s\n", result.Status)
		for _, c := range result.Checks {
			fmt.Printf("  [%s] %s.%s: %s\n", c.Status, c.Check.Module, c.Check.Table, c.Check.Description)
			if c.Violations > 0 {
				fmt.Printf("         %d violating rows\n", c.Violations)
			}
			if c.Message != "" {
				fmt.Printf("         %s\n", c.Message)
			}
		}
		if result.Status != "PASS" {
			fmt.Fprintln(os.Stderr, "\nFix the violating data before applying the migration.")
			return fmt.Errorf("pre-flight checks %s", result.Status)
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkBefore, "before", "", "before snapshot (default: cached snapshot)")
	checkCmd.Flags().StringVar(&checkAfter, "after", "", "after snapshot")
	rootCmd.AddCommand(checkCmd)
}
