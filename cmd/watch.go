package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/schemaguard/schemaguard/internal/lock"
	"github.com/schemaguard/schemaguard/internal/report"
	"github.com/schemaguard/schemaguard/internal/watch"
)

var (
	watchYes  bool
	watchOnce bool
)

var watchCmd = &cobra.Command{
	Use:   "watch <models>",
	Short: "Re-analyze whenever model files change",
	Long: `Watch a snapshot file or a models directory (<dir>/<module>/*.yaml) and
analyze every burst of edits against the cached snapshot. The first run
records a baseline. Plans that need review are reported but not saved
unless --yes is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		l, err := lock.Acquire("", "watch")
		if err != nil {
			return err
		}
		defer l.Release()

		cycle := &watch.Cycle{
			Engine:      a.engine,
			Source:      args[0],
			AutoApprove: watchYes,
			Notify:      printOutcome,
		}
		run := func(ctx context.Context) error {
			_, err := cycle.Run(ctx)
			return err
		}

		ctx := cmd.Context()
		if err := run(ctx); err != nil {
			return err
		}
		if watchOnce {
			return nil
		}

		w, err := watch.New(args[0], a.cfg.Watch.Debounce(), a.logger, run)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Watching %s (Ctrl+C to stop)\n", args[0])
		return w.Run(ctx)
	},
}

func printOutcome(out *watch.Outcome) {
	fmt.Print(report.FormatText(out.Report))
	switch {
	case out.Blocked != nil:
		fmt.Fprintf(os.Stderr, "Blocked: %s\n", out.Blocked.Reason)
	case out.Pending:
		fmt.Fprintln(os.Stderr, "Review required: run schemaguard analyze to confirm this plan.")
	case out.Saved != nil && out.Saved.MigrationsDir != "":
		fmt.Fprintf(os.Stderr, "Migrations written to %s\n", out.Saved.MigrationsDir)
	}
}

func init() {
	watchCmd.Flags().BoolVarP(&watchYes, "yes", "y", false, "save plans that would otherwise need review")
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "run a single cycle and exit")
	rootCmd.AddCommand(watchCmd)
}
