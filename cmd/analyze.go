package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/schemaguard/schemaguard/internal/aws"
	"github.com/schemaguard/schemaguard/internal/engine"
	"github.com/schemaguard/schemaguard/internal/prompt"
	"github.com/schemaguard/schemaguard/internal/report"
	"github.com/schemaguard/schemaguard/internal/validation"
)

var (
	analyzeBefore  string
	analyzeAfter   string
	analyzeYes     bool
	analyzeDryRun  bool
	analyzeFormat  string
	analyzeChecks  bool
	analyzePublish bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze schema changes and write migrations",
	Long: `Compare two schema snapshots, classify every change by risk, order modules
by their dependencies and write the migration files, rollback script and
reports. Without --before the snapshot cached by the last analysis is used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		before, after, beforeName, err := a.loadPair(ctx, analyzeBefore, analyzeAfter)
		if err != nil {
			return err
		}

		r, err := a.engine.Analyze(ctx, before, after)
		if err != nil {
			return err
		}
		src := report.Sources{Before: beforeName, After: analyzeAfter}

		if err := a.engine.Review(r); err != nil {
			fmt.Print(report.FormatText(report.Generate(r, src, nil)))
			return err
		}

		if !analyzeDryRun && r.NeedsReview(a.cfg.Review) && !analyzeYes {
			ok, err := prompt.Confirm(r, os.Stdin, os.Stderr)
			if err != nil {
				return fmt.Errorf("review prompt: %w", err)
			}
			if !ok {
				fmt.Fprintln(os.Stderr, "Aborted; no files written.")
				return nil
			}
		}

		if analyzeChecks && len(r.Checks) > 0 {
			runChecks(ctx, a)
		}

		var rep *report.AnalysisReport
		var paths []string
		if analyzeDryRun {
			rep = report.Generate(r, src, a.engine.CheckResults())
		} else {
			saved, err := report.Save(a.engine, r, src, after)
			if err != nil {
				return err
			}
			rep, paths = saved.Report, saved.Paths
		}

		out, err := render(rep, analyzeFormat)
		if err != nil {
			return err
		}
		fmt.Print(out)

		if !analyzeDryRun {
			for _, p := range paths {
				fmt.Fprintf(os.Stderr, "Report written to %s\n", p)
			}
		}

		if analyzePublish {
			if analyzeDryRun {
				return fmt.Errorf("--publish needs written reports; drop --dry-run")
			}
			return publish(ctx, a, r, rep, paths)
		}
		return nil
	},
}

func runChecks(ctx context.Context, a *app) {
	fmt.Fprintln(os.Stderr, "Running pre-flight checks...")
	_, err := a.engine.RunChecks(ctx, func(c validation.Check, passed bool) {
		status := "PASS"
		if !passed {
			status = "FAIL"
		}
		fmt.Fprintf(os.Stderr, "  [%s] %s\n", status, c.Description)
	})
	if err != nil {
		a.logger.Warn("pre-flight checks could not run", "error", err)
	}
}

func render(rep *report.AnalysisReport, format string) (string, error) {
	switch format {
	case report.Text:
		return report.FormatText(rep), nil
	case report.Markdown:
		return report.FormatMarkdown(rep), nil
	case report.JSON:
		data, err := report.MarshalJSON(rep)
		if err != nil {
			return "", err
		}
		return string(data) + "\n", nil
	default:
		return "", fmt.Errorf("unknown format %q (text, markdown, json)", format)
	}
}

func publish(ctx context.Context, a *app, r *engine.Result, rep *report.AnalysisReport, paths []string) error {
	if a.cfg.Report.S3Bucket == "" {
		return fmt.Errorf("report.s3_bucket is not configured")
	}
	store, err := aws.NewS3Store(ctx, a.cfg.Report.Profile, a.cfg.Report.Region)
	if err != nil {
		return err
	}
	var extra []aws.Artifact
	if r.RollbackScript != "" {
		extra = append(extra, aws.Artifact{Name: r.RollbackFilename(), Data: []byte(r.RollbackScript)})
	}
	res, err := report.Publish(ctx, store, a.cfg.Report, rep, paths, extra...)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Published %d files as account %s:\n", len(res.URIs), res.Account)
	for _, u := range res.URIs {
		fmt.Fprintf(os.Stderr, "  %s\n", u)
	}
	return nil
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeBefore, "before", "", "before snapshot: YAML file, models directory or \"live\" (default: cached snapshot)")
	analyzeCmd.Flags().StringVar(&analyzeAfter, "after", "", "after snapshot: YAML file, models directory or \"live\"")
	analyzeCmd.Flags().BoolVarP(&analyzeYes, "yes", "y", false, "skip the interactive review")
	analyzeCmd.Flags().BoolVar(&analyzeDryRun, "dry-run", false, "print the report without writing files or updating state")
	analyzeCmd.Flags().StringVarP(&analyzeFormat, "format", "f", report.Text, "report format on stdout (text, markdown, json)")
	analyzeCmd.Flags().BoolVar(&analyzeChecks, "checks", false, "run the pre-flight checks against the configured database")
	analyzeCmd.Flags().BoolVar(&analyzePublish, "publish", false, "upload the reports and rollback script to report.s3_bucket")
	rootCmd.AddCommand(analyzeCmd)
}
