package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/schemaguard/schemaguard/internal/engine"
	"github.com/schemaguard/schemaguard/internal/planner"
	"github.com/schemaguard/schemaguard/internal/risk"
	"github.com/schemaguard/schemaguard/internal/rollback"
	"github.com/schemaguard/schemaguard/internal/sizing"
	"github.com/schemaguard/schemaguard/internal/validation"
)

// Formats supported by Write.
const (
	JSON     = "json"
	Markdown = "markdown"
	Text     = "text"
)

// AnalysisReport is the report of one analysis.
type AnalysisReport struct {
	Version         string               `json:"version"`
	ID              string               `json:"id"`
	GeneratedAt     time.Time            `json:"generated_at"`
	Before          string               `json:"before,omitempty"`
	After           string               `json:"after,omitempty"`
	Summary         Summary              `json:"summary"`
	Changes         []ChangeEntry        `json:"changes"`
	ModuleOrder     []string             `json:"module_order,omitempty"`
	Warnings        []string             `json:"warnings,omitempty"`
	Recommendations []string             `json:"recommendations,omitempty"`
	Steps           []StepEntry          `json:"steps"`
	Estimate        []sizing.Explanation `json:"estimate,omitempty"`
	Checks          []validation.Check   `json:"checks,omitempty"`
	Validation      *validation.Result   `json:"validation,omitempty"`
	Rollback        rollback.Summary     `json:"rollback"`
	Migrations      []string             `json:"migrations"`
	NextSteps       []string             `json:"next_steps"`
}

// Summary holds the headline numbers of an analysis.
type Summary struct {
	Modules           int            `json:"modules"`
	Operations        int            `json:"operations"`
	ByKind            map[string]int `json:"by_kind,omitempty"`
	Risk              risk.Level     `json:"risk"`
	Staged            bool           `json:"staged"`
	Steps             int            `json:"steps"`
	RequiresBackup    bool           `json:"requires_backup"`
	CrossModule       bool           `json:"cross_module"`
	EstimatedDowntime string         `json:"estimated_downtime"`
}

// ChangeEntry is one classified operation.
type ChangeEntry struct {
	Operation       string     `json:"operation"`
	Kind            string     `json:"kind"`
	Module          string     `json:"module"`
	Table           string     `json:"table"`
	Risk            risk.Level `json:"risk"`
	AffectedRows    *int64     `json:"affected_rows,omitempty"`
	Warnings        []string   `json:"warnings,omitempty"`
	Recommendations []string   `json:"recommendations,omitempty"`
}

// StepEntry describes one plan step and the migrations rendered for it.
type StepEntry struct {
	Index      int              `json:"index"`
	Kind       planner.StepKind `json:"kind"`
	Intent     string           `json:"intent"`
	Risk       risk.Level       `json:"risk"`
	Operations []string         `json:"operations,omitempty"`
	Backfill   []string         `json:"backfill,omitempty"`
	Finalize   []string         `json:"finalize,omitempty"`
	Migrations []string         `json:"migrations"`
}

// Sources names the inputs of an analysis for the report header.
type Sources struct {
	Before string
	After  string
}

// Generate builds the report of an analysis. checks may be nil when the
// pre-flight checks were not run.
func Generate(r *engine.Result, src Sources, checks *validation.Result) *AnalysisReport {
	rep := &AnalysisReport{
		Version:         "1",
		ID:              r.ID,
		GeneratedAt:     r.AnalyzedAt,
		Before:          src.Before,
		After:           src.After,
		ModuleOrder:     r.ModuleOrder,
		Warnings:        r.Risk.Aggregate.Warnings,
		Recommendations: r.Risk.Aggregate.Recommendations,
		Checks:          r.Checks,
		Validation:      checks,
		Rollback:        rollback.Summarize(r.Rollback),
	}

	byKind := make(map[string]int)
	for k, n := range r.Changes.CountByKind() {
		byKind[k.String()] = n
	}

	for _, op := range r.Changes.Operations() {
		a, _ := r.Risk.For(op)
		rep.Changes = append(rep.Changes, ChangeEntry{
			Operation:       op.String(),
			Kind:            op.Kind.String(),
			Module:          op.Module,
			Table:           op.Table,
			Risk:            a.Level,
			AffectedRows:    a.AffectedRows,
			Warnings:        a.Warnings,
			Recommendations: a.Recommendations,
		})
	}

	for _, s := range r.Plan.Steps {
		entry := StepEntry{
			Index:  s.Index,
			Kind:   s.Kind,
			Intent: s.Intent,
			Risk:   s.Risk,
		}
		for _, op := range s.Changes.Operations() {
			entry.Operations = append(entry.Operations, op.String())
		}
		for _, t := range s.Backfill {
			entry.Backfill = append(entry.Backfill, t.String())
		}
		for _, t := range s.Finalize {
			entry.Finalize = append(entry.Finalize, t.String())
		}
		for _, f := range r.Migrations {
			if f.Step == s.Index {
				entry.Migrations = append(entry.Migrations, f.Filename())
			}
		}
		rep.Steps = append(rep.Steps, entry)
	}

	for _, f := range r.Migrations {
		rep.Migrations = append(rep.Migrations, f.Filename())
	}

	downtime := "0s"
	if r.Estimate != nil {
		downtime = sizing.FormatDuration(r.Estimate.Total)
		rep.Estimate = r.Estimate.Explanations
	}

	rep.Summary = Summary{
		Modules:           len(r.Changes.ModuleNames()),
		Operations:        r.Changes.Len(),
		ByKind:            byKind,
		Risk:              r.Level(),
		Staged:            r.Plan.Staged,
		Steps:             len(r.Plan.Steps),
		RequiresBackup:    r.Risk.RequiresBackup,
		CrossModule:       len(r.ModuleOrder) > 1 && hasWarning(rep.Warnings, "cross-module dependencies detected"),
		EstimatedDowntime: downtime,
	}
	rep.NextSteps = nextSteps(rep)
	return rep
}

func nextSteps(rep *AnalysisReport) []string {
	if rep.Summary.Operations == 0 {
		return []string{"No schema changes detected; nothing to migrate"}
	}
	steps := []string{"Review the generated migration files"}
	if len(rep.Checks) > 0 && rep.Validation == nil {
		steps = append(steps, "Run the pre-flight checks against the live database")
	}
	if rep.Validation != nil && rep.Validation.Status != "PASS" {
		steps = append(steps, "Fix the data that fails the pre-flight checks before applying")
	}
	if rep.Summary.Risk >= risk.Medium {
		steps = append(steps, "Test the migrations on a staging database")
	}
	if rep.Summary.RequiresBackup || rep.Rollback.DataLoss > 0 {
		steps = append(steps, "Create a database backup")
	}
	if rep.Summary.Staged {
		steps = append(steps, "Apply one step at a time and verify the application between steps")
	}
	if rep.Summary.CrossModule {
		steps = append(steps, "Apply modules in the recommended order")
	}
	return steps
}

func hasWarning(items []string, want string) bool {
	for _, s := range items {
		if s == want {
			return true
		}
	}
	return false
}

// Filename returns the file name of the report in the given format.
func Filename(id, format string) string {
	switch format {
	case Markdown:
		return "analysis_" + id + ".md"
	case Text:
		return "analysis_" + id + ".txt"
	default:
		return "analysis_" + id + ".json"
	}
}

// Write stores the report in dir in every requested format and returns the
// written paths in format order.
func Write(rep *AnalysisReport, dir string, formats []string) ([]string, error) {
	var paths []string
	for _, f := range formats {
		path := filepath.Join(dir, Filename(rep.ID, f))
		var err error
		switch f {
		case JSON:
			err = WriteJSON(rep, path)
		case Markdown:
			err = WriteMarkdown(rep, path)
		case Text:
			err = WriteText(rep, path)
		default:
			err = fmt.Errorf("unknown report format %q", f)
		}
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WriteJSON writes the report as JSON.
func WriteJSON(report *AnalysisReport, path string) error {
	data, err := MarshalJSON(report)
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

// MarshalJSON renders the report as indented JSON.
func MarshalJSON(report *AnalysisReport) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling report: %w", err)
	}
	return data, nil
}

// ReadJSON reads a report from a JSON file.
func ReadJSON(path string) (*AnalysisReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	r := &AnalysisReport{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("parsing report: %w", err)
	}
	return r, nil
}

// Latest returns the most recent JSON report in dir.
func Latest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "analysis_*.json"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no reports in %s", dir)
	}
	// IDs are UTC timestamps, so names sort chronologically.
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// WriteText writes the report as human-readable text.
func WriteText(report *AnalysisReport, path string) error {
	return writeFile(path, []byte(FormatText(report)))
}

// WriteMarkdown writes the report as markdown.
func WriteMarkdown(report *AnalysisReport, path string) error {
	return writeFile(path, []byte(FormatMarkdown(report)))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
