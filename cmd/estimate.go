package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/schemaguard/schemaguard/internal/sizing"
)

var (
	estimateBefore string
	estimateAfter  string
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate migration downtime",
	Long:  `Analyze two snapshots without writing anything and explain the estimated downtime of each operation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		before, after, _, err := a.loadPair(ctx, estimateBefore, estimateAfter)
		if err != nil {
			return err
		}
		r, err := a.engine.Analyze(ctx, before, after)
		if err != nil {
			return err
		}
		if r.Estimate == nil || r.Changes.IsEmpty() {
			fmt.Println("No schema changes; nothing to estimate.")
			return nil
		}

		fmt.Println()
		for _, exp := range r.Estimate.Explanations {
			fmt.Printf("  [%s] %s\n", exp.Category, exp.Summary)
			if exp.Detail != "" {
				fmt.Printf("    %s\n", exp.Detail)
			}
			fmt.Println()
		}
		fmt.Printf("Estimated downtime: ~%s\n", sizing.FormatDuration(r.Estimate.Total))
		return nil
	},
}

func init() {
	estimateCmd.Flags().StringVar(&estimateBefore, "before", "", "before snapshot (default: cached snapshot)")
	estimateCmd.Flags().StringVar(&estimateAfter, "after", "", "after snapshot")
	rootCmd.AddCommand(estimateCmd)
}
