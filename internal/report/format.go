package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/schemaguard/schemaguard/internal/risk"
)

var rule = strings.Repeat("=", 60)

// FormatText renders the report as a terminal alert.
func FormatText(report *AnalysisReport) string {
	var b strings.Builder

	b.WriteString(rule + "\n")
	b.WriteString(alertHeader(report.Summary.Risk) + "\n")
	b.WriteString(rule + "\n")
	b.WriteString(fmt.Sprintf("Analysis:   %s\n", report.ID))
	b.WriteString(fmt.Sprintf("Generated:  %s\n", report.GeneratedAt.Format(time.RFC3339)))
	if report.Before != "" || report.After != "" {
		b.WriteString(fmt.Sprintf("Compared:   %s -> %s\n", report.Before, report.After))
	}
	b.WriteString(fmt.Sprintf("Operations: %d across %d modules\n", report.Summary.Operations, report.Summary.Modules))
	b.WriteString(fmt.Sprintf("Plan:       %s\n", planLabel(report)))
	b.WriteString(fmt.Sprintf("Downtime:   ~%s\n\n", report.Summary.EstimatedDowntime))

	if len(report.Changes) > 0 {
		b.WriteString("Changes:\n")
		for _, c := range report.Changes {
			b.WriteString(fmt.Sprintf("  [%-6s] %s%s\n", c.Risk, c.Operation, rowsSuffix(c.AffectedRows)))
		}
		b.WriteString("\n")
	}

	writeList(&b, "Warnings:", report.Warnings)
	writeList(&b, "Recommendations:", report.Recommendations)

	if len(report.Steps) > 0 {
		b.WriteString("Steps:\n")
		for _, s := range report.Steps {
			b.WriteString(fmt.Sprintf("  %d. %s [%s]: %s\n", s.Index, s.Kind, s.Risk, s.Intent))
			for _, m := range s.Migrations {
				b.WriteString(fmt.Sprintf("       %s\n", m))
			}
		}
		b.WriteString("\n")
	}

	if report.Validation != nil {
		b.WriteString(fmt.Sprintf("Pre-flight checks: %s\n", report.Validation.Status))
		for _, c := range report.Validation.Checks {
			b.WriteString(fmt.Sprintf("  [%s] %s\n", c.Status, c.Check.Description))
		}
		b.WriteString("\n")
	} else if len(report.Checks) > 0 {
		b.WriteString(fmt.Sprintf("Pre-flight checks: %d not run\n\n", len(report.Checks)))
	}

	if report.Summary.Risk == risk.High {
		b.WriteString("Safety checklist:\n")
		for _, item := range checklist {
			b.WriteString("  [ ] " + item + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Next steps:\n")
	for i, s := range report.NextSteps {
		b.WriteString(fmt.Sprintf("  %d. %s\n", i+1, s))
	}
	b.WriteString(rule + "\n")

	return b.String()
}

var checklist = []string{
	"Database backup created",
	"Tested on a staging environment",
	"Downtime window scheduled",
	"Rollback plan prepared",
	"Team notified of changes",
}

func alertHeader(level risk.Level) string {
	switch level {
	case risk.High:
		return "SCHEMAGUARD: DANGEROUS OPERATION DETECTED"
	case risk.Medium:
		return "SCHEMAGUARD: CAUTION REQUIRED"
	default:
		return "SCHEMAGUARD: safe migration"
	}
}

func planLabel(report *AnalysisReport) string {
	if report.Summary.Steps == 0 {
		return "nothing to apply"
	}
	if report.Summary.Staged {
		return fmt.Sprintf("staged, %d steps", report.Summary.Steps)
	}
	return "single step"
}

func rowsSuffix(rows *int64) string {
	if rows == nil {
		return ""
	}
	return fmt.Sprintf(" (%d rows)", *rows)
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(title + "\n")
	for _, item := range items {
		b.WriteString("  - " + item + "\n")
	}
	b.WriteString("\n")
}

// FormatMarkdown renders the report as a markdown document.
func FormatMarkdown(report *AnalysisReport) string {
	var b strings.Builder

	b.WriteString("# Schema Change Report\n\n")
	b.WriteString(fmt.Sprintf("**Analysis**: %s  \n", report.ID))
	b.WriteString(fmt.Sprintf("**Date**: %s\n\n", report.GeneratedAt.Format(time.RFC3339)))

	b.WriteString("## Summary\n\n")
	b.WriteString(fmt.Sprintf("- **Changes Detected**: %d\n", report.Summary.Operations))
	b.WriteString(fmt.Sprintf("- **Migrations Generated**: %d\n", len(report.Migrations)))
	b.WriteString(fmt.Sprintf("- **Risk Level**: %s\n", report.Summary.Risk))
	b.WriteString(fmt.Sprintf("- **Plan**: %s\n", planLabel(report)))
	b.WriteString(fmt.Sprintf("- **Cross-Module Dependencies**: %s\n", yesNo(report.Summary.CrossModule)))
	b.WriteString(fmt.Sprintf("- **Estimated Downtime**: ~%s\n\n", report.Summary.EstimatedDowntime))

	if len(report.Summary.ByKind) > 0 {
		kinds := make([]string, 0, len(report.Summary.ByKind))
		for k := range report.Summary.ByKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		b.WriteString("| Kind | Count |\n|------|-------|\n")
		for _, k := range kinds {
			b.WriteString(fmt.Sprintf("| %s | %d |\n", k, report.Summary.ByKind[k]))
		}
		b.WriteString("\n")
	}

	if len(report.Changes) > 0 {
		b.WriteString("## Changes Detail\n\n")
		b.WriteString("| Module | Table | Change | Rows | Risk |\n")
		b.WriteString("|--------|-------|--------|------|------|\n")
		for _, c := range report.Changes {
			rows := "-"
			if c.AffectedRows != nil {
				rows = fmt.Sprintf("%d", *c.AffectedRows)
			}
			b.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
				c.Module, c.Table, escapeCell(c.Operation), rows, c.Risk))
		}
		b.WriteString("\n")
	}

	if report.Summary.CrossModule {
		b.WriteString("## Migration Order\n\n")
		b.WriteString("Apply migrations in this order: " + strings.Join(report.ModuleOrder, " → ") + "\n\n")
	}

	b.WriteString("## Safety Analysis\n\n")
	b.WriteString(fmt.Sprintf("**Overall Risk**: %s\n\n", report.Summary.Risk))
	if len(report.Warnings) > 0 {
		b.WriteString("### Warnings\n\n")
		for _, w := range report.Warnings {
			b.WriteString("- " + w + "\n")
		}
		b.WriteString("\n")
	}
	if len(report.Recommendations) > 0 {
		b.WriteString("### Recommendations\n\n")
		for _, r := range report.Recommendations {
			b.WriteString("- " + r + "\n")
		}
		b.WriteString("\n")
	}

	if len(report.Steps) > 0 {
		b.WriteString("## Plan\n\n")
		for _, s := range report.Steps {
			b.WriteString(fmt.Sprintf("%d. **%s** (%s): %s\n", s.Index, s.Kind, s.Risk, s.Intent))
			for _, m := range s.Migrations {
				b.WriteString(fmt.Sprintf("   - `%s`\n", m))
			}
		}
		b.WriteString("\n")
	}

	if len(report.Checks) > 0 {
		b.WriteString("## Pre-flight Checks\n\n")
		for _, c := range report.Checks {
			b.WriteString(fmt.Sprintf("- %s\n\n  ```sql\n  %s\n  ```\n", c.Description, c.Query))
		}
		if report.Validation != nil {
			b.WriteString(fmt.Sprintf("\nResult: **%s**\n", report.Validation.Status))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Rollback\n\n")
	b.WriteString(fmt.Sprintf("%d of %d operations can be rolled back", report.Rollback.Reversible, report.Rollback.Steps))
	if report.Rollback.DataLoss > 0 {
		b.WriteString(fmt.Sprintf("; %d lose data and need a backup", report.Rollback.DataLoss))
	}
	b.WriteString(".\n\n")

	b.WriteString("## Next Steps\n\n")
	for i, s := range report.NextSteps {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, s))
	}

	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
