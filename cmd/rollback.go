package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/schemaguard/schemaguard/internal/rollback"
)

var (
	rollbackBefore string
	rollbackAfter  string
	rollbackOutput string
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Print the rollback script for a schema change",
	Long: `Analyze two snapshots and print the statements that undo the migration,
newest first. Operations that destroy data cannot be rolled back and are
listed as comments.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		before, after, _, err := a.loadPair(ctx, rollbackBefore, rollbackAfter)
		if err != nil {
			return err
		}
		r, err := a.engine.Analyze(ctx, before, after)
		if err != nil {
			return err
		}

		sum := rollback.Summarize(r.Rollback)
		fmt.Fprintf(os.Stderr, "%d of %d operations can be rolled back", sum.Reversible, sum.Steps)
		if sum.DataLoss > 0 {
			fmt.Fprintf(os.Stderr, "; %d need a backup", sum.DataLoss)
		}
		fmt.Fprintln(os.Stderr)

		if rollbackOutput == "" {
			fmt.Print(r.RollbackScript)
			return nil
		}
		if err := os.WriteFile(rollbackOutput, []byte(r.RollbackScript), 0o644); err != nil {
			return fmt.Errorf("writing rollback script: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Rollback script written to %s\n", rollbackOutput)
		return nil
	},
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackBefore, "before", "", "before snapshot (default: cached snapshot)")
	rollbackCmd.Flags().StringVar(&rollbackAfter, "after", "", "after snapshot")
	rollbackCmd.Flags().StringVarP(&rollbackOutput, "output", "o", "", "write the script to a file instead of stdout")
	rootCmd.AddCommand(rollbackCmd)
}
