package codegen

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schemaguard/schemaguard/internal/diff"
	"github.com/schemaguard/schemaguard/internal/planner"
	"github.com/schemaguard/schemaguard/internal/risk"
	"github.com/schemaguard/schemaguard/internal/rollback"
	"github.com/schemaguard/schemaguard/internal/schema"
	"github.com/schemaguard/schemaguard/internal/typemap"
	"github.com/schemaguard/schemaguard/internal/validation"
)

// ManifestFile lists generated migrations in apply order.
const ManifestFile = "manifest.yaml"

// Generator produces SQL migration files from a plan.
type Generator struct {
	Naming   planner.Naming
	Renderer Renderer
	Checks   *validation.Builder
	Now      func() time.Time
}

// New creates a generator that qualifies tables with qualify and resolves
// types for pre-flight checks with types.
func New(naming planner.Naming, qualify schema.Qualifier, types *typemap.TypeMap) *Generator {
	return &Generator{
		Naming:   naming,
		Renderer: Renderer{Qualify: qualify},
		Checks:   &validation.Builder{Qualify: qualify, Types: types},
		Now:      time.Now,
	}
}

// File is one generated migration.
type File struct {
	Name    string           `yaml:"name" json:"name"`
	Module  string           `yaml:"module" json:"module"`
	Step    int              `yaml:"step" json:"step"`
	Kind    planner.StepKind `yaml:"kind" json:"kind"`
	Risk    risk.Level       `yaml:"risk" json:"risk"`
	Content string           `yaml:"-" json:"content"`
}

// Filename returns the file name the migration is written under.
func (f File) Filename() string {
	return f.Name + ".sql"
}

// GenerateResult contains the generated migrations in apply order.
type GenerateResult struct {
	Files []File
}

// Generate renders one migration per module group per plan step. A module
// whose operations are split across groups gets one migration per group.
func (g *Generator) Generate(plan *planner.MigrationPlan, report *risk.Report) (*GenerateResult, error) {
	tmpl, err := template.New("migration").Parse(migrationTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing template: %w", err)
	}

	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	ts := now()

	result := &GenerateResult{}
	used := make(map[string]bool)
	for _, step := range plan.Steps {
		for _, u := range stepUnits(step) {
			data := g.buildTemplateData(plan, report, step, u)
			desc := g.describe(plan, step, u)
			data.Name = g.Naming.Name(u.module, desc, plan.Staged, data.Risk, ts)
			for i := 2; used[data.Name]; i++ {
				data.Name = g.Naming.Name(u.module, fmt.Sprintf("%s_%d", desc, i), plan.Staged, data.Risk, ts)
			}
			used[data.Name] = true

			var buf bytes.Buffer
			if err := tmpl.Execute(&buf, data); err != nil {
				return nil, fmt.Errorf("executing template for %s: %w", data.Name, err)
			}
			result.Files = append(result.Files, File{
				Name:    data.Name,
				Module:  u.module,
				Step:    step.Index,
				Kind:    step.Kind,
				Risk:    data.Risk,
				Content: buf.String(),
			})
		}
	}
	return result, nil
}

// Write stores every migration in dir along with the manifest.
func (r *GenerateResult) Write(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	for _, f := range r.Files {
		if err := os.WriteFile(filepath.Join(dir, f.Filename()), []byte(f.Content), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", f.Filename(), err)
		}
	}

	data, err := yaml.Marshal(struct {
		Migrations []File `yaml:"migrations"`
	}{r.Files})
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, ManifestFile), data, 0644)
}

func (g *Generator) describe(plan *planner.MigrationPlan, step planner.Step, u unit) string {
	if !plan.Staged {
		return planner.Describe(diff.ChangeSet{Modules: []diff.ModuleChanges{{Module: u.module, Operations: u.ops}}})
	}
	return fmt.Sprintf("step%d_%s", step.Index, step.Kind)
}

// unit is the slice of a step rendered into one migration file.
type unit struct {
	module  string
	ops     []diff.Operation
	targets bool
}

// stepUnits lists the module groups of a step in change order followed by
// modules that only appear in backfill or finalize targets. Targets are
// rendered with the first group of their module.
func stepUnits(step planner.Step) []unit {
	var units []unit
	seen := make(map[string]bool)
	for _, m := range step.Changes.Modules {
		units = append(units, unit{module: m.Module, ops: m.Operations, targets: !seen[m.Module]})
		seen[m.Module] = true
	}
	for _, t := range append(append([]planner.Target(nil), step.Backfill...), step.Finalize...) {
		if !seen[t.Module] {
			seen[t.Module] = true
			units = append(units, unit{module: t.Module, targets: true})
		}
	}
	return units
}

type templateData struct {
	Name            string
	Module          string
	Risk            risk.Level
	Staged          bool
	Index           int
	Total           int
	Kind            planner.StepKind
	Intent          string
	Warnings        []string
	Recommendations []string
	Checks          []validation.Check
	Statements      []string
	Rollback        []string
}

func (g *Generator) buildTemplateData(plan *planner.MigrationPlan, report *risk.Report, step planner.Step, u unit) templateData {
	ops := u.ops
	var backfill, finalize []planner.Target
	if u.targets {
		backfill = planner.TargetsFor(step.Backfill, u.module)
		finalize = planner.TargetsFor(step.Finalize, u.module)
	}

	data := templateData{
		Module: u.module,
		Staged: plan.Staged,
		Index:  step.Index,
		Total:  len(plan.Steps),
		Kind:   step.Kind,
		Intent: step.Intent,
	}
	if len(ops) == 0 {
		data.Risk = step.Risk
	}

	recs := map[string]bool{}
	for _, op := range ops {
		a, ok := report.For(op)
		if !ok {
			data.Risk = risk.High
			continue
		}
		data.Risk = risk.Max(data.Risk, a.Level)
		if a.Level >= risk.Medium {
			for _, w := range a.Warnings {
				data.Warnings = append(data.Warnings, fmt.Sprintf("%s: %s", op, w))
			}
		}
		for _, r := range a.Recommendations {
			if !recs[r] {
				recs[r] = true
				data.Recommendations = append(data.Recommendations, r)
			}
		}
	}

	for _, op := range ops {
		if op.Kind == diff.AddColumn && plan.IsHolding(op) {
			continue
		}
		data.Checks = append(data.Checks, g.Checks.For(op)...)
	}
	for _, t := range finalize {
		data.Checks = append(data.Checks, g.Checks.NullCheck(schema.TableRef{Module: t.Module, Table: t.Table}, t.Column))
	}

	for _, op := range ops {
		data.Statements = append(data.Statements, g.Renderer.Statements(op, plan.IsHolding(op))...)
	}
	for _, t := range backfill {
		data.Statements = append(data.Statements,
			fmt.Sprintf("-- backfill %s (%s) before the next step:", t, t.DataType),
			"-- "+g.Renderer.Backfill(t))
	}
	for _, t := range finalize {
		data.Statements = append(data.Statements, g.Renderer.SetNotNull(t))
	}

	data.Rollback = g.rollbackLines(ops, finalize)
	return data
}

func (g *Generator) rollbackLines(ops []diff.Operation, finalize []planner.Target) []string {
	guarded := g.Renderer
	guarded.Guard = true

	var lines []string
	for i := len(finalize) - 1; i >= 0; i-- {
		lines = append(lines, guarded.DropNotNull(finalize[i]))
	}
	for _, s := range rollback.Plan(ops) {
		if s.Note != "" {
			lines = append(lines, "WARNING: "+s.Note)
		}
		if s.Inverse == nil {
			continue
		}
		for _, stmt := range guarded.Statements(*s.Inverse, false) {
			lines = append(lines, strings.Split(stmt, "\n")...)
		}
	}
	return lines
}

// RollbackScript renders the rollback of every operation in the plan, in
// reverse apply order.
func (g *Generator) RollbackScript(plan *planner.MigrationPlan) string {
	var lines []string
	for i := len(plan.Steps) - 1; i >= 0; i-- {
		s := plan.Steps[i]
		lines = append(lines, g.rollbackLines(s.Changes.Operations(), s.Finalize)...)
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

var migrationTemplate = `-- Migration: {{ .Name }}
-- Module: {{ .Module }}
-- Risk: {{ .Risk }}
{{- if .Staged }}
-- Step {{ .Index }} of {{ .Total }} ({{ .Kind }}): {{ .Intent }}
{{- end }}
{{- range .Warnings }}
-- WARNING: {{ . }}
{{- end }}
{{- range .Recommendations }}
-- RECOMMENDATION: {{ . }}
{{- end }}
{{- if .Checks }}

-- Pre-flight checks (each query must return 0):
{{- range .Checks }}
-- {{ .Description }}
--   {{ .Query }}
{{- end }}
{{- end }}

BEGIN;
{{- range .Statements }}
{{ . }}
{{- end }}

COMMIT;
{{- if .Rollback }}

-- Rollback:
{{- range .Rollback }}
-- {{ . }}
{{- end }}
{{- end }}
`
