package planner

import (
	"github.com/schemaguard/schemaguard/internal/diff"
	"github.com/schemaguard/schemaguard/internal/risk"
)

// StepKind names the purpose of a plan step.
type StepKind string

const (
	StepApply   StepKind = "apply"
	StepExpand  StepKind = "expand"
	StepMigrate StepKind = "migrate_data"
	StepTighten StepKind = "tighten"
	StepCleanup StepKind = "cleanup"
)

var intents = map[StepKind]string{
	StepApply:   "apply all schema changes",
	StepExpand:  "add new tables, columns and indexes; new NOT NULL columns are added as nullable",
	StepMigrate: "backfill and convert existing data",
	StepTighten: "apply type changes and tighten constraints",
	StepCleanup: "drop deprecated columns and tables",
}

// Step is one independently applied unit of a plan.
type Step struct {
	Index   int            `json:"index" yaml:"index"`
	Kind    StepKind       `json:"kind" yaml:"kind"`
	Intent  string         `json:"intent" yaml:"intent"`
	Risk    risk.Level     `json:"risk" yaml:"risk"`
	Changes diff.ChangeSet `json:"changes" yaml:"changes"`
	// Backfill lists columns that need data written in this step. Only set
	// on the data-migration step, which has no operations.
	Backfill []Target `json:"backfill,omitempty" yaml:"backfill,omitempty"`
	// Finalize lists columns added as nullable in an earlier step that get
	// their NOT NULL constraint in this step.
	Finalize []Target `json:"finalize,omitempty" yaml:"finalize,omitempty"`
}

// Target identifies a column touched by a data-migration or finalize step.
type Target struct {
	Module   string `json:"module" yaml:"module"`
	Table    string `json:"table" yaml:"table"`
	Column   string `json:"column" yaml:"column"`
	DataType string `json:"data_type,omitempty" yaml:"data_type,omitempty"`
}

func (t Target) String() string {
	return t.Table + "." + t.Column
}

func targetOf(op diff.Operation) Target {
	t := Target{Module: op.Module, Table: op.Table, Column: op.ColumnName()}
	switch {
	case op.Column != nil:
		t.DataType = op.Column.DataType
	case op.After != nil:
		t.DataType = op.After.DataType
	}
	return t
}

// TargetsFor returns the targets that belong to module.
func TargetsFor(targets []Target, module string) []Target {
	var out []Target
	for _, t := range targets {
		if t.Module == module {
			out = append(out, t)
		}
	}
	return out
}

// IsPlaceholder reports whether the step carries no schema operations and
// exists only to be filled with data-migration code.
func (s Step) IsPlaceholder() bool {
	return s.Kind == StepMigrate
}

// MigrationPlan is the ordered list of steps that applies a change set.
type MigrationPlan struct {
	Staged bool       `json:"staged" yaml:"staged"`
	Risk   risk.Level `json:"risk" yaml:"risk"`
	Steps  []Step     `json:"steps" yaml:"steps"`
	// Holding holds the IDs of NOT NULL AddColumn operations that are applied
	// as nullable in the expand step and finalized in the tighten step.
	Holding []string `json:"holding,omitempty" yaml:"holding,omitempty"`
}

// Operations returns every operation of the plan in step order.
func (p *MigrationPlan) Operations() []diff.Operation {
	var ops []diff.Operation
	for _, s := range p.Steps {
		ops = append(ops, s.Changes.Operations()...)
	}
	return ops
}

// IsHolding reports whether op is added as a nullable holding column.
func (p *MigrationPlan) IsHolding(op diff.Operation) bool {
	id := op.ID()
	for _, h := range p.Holding {
		if h == id {
			return true
		}
	}
	return false
}

// Plan turns an ordered change set into a migration plan. A single step is
// used when the aggregate risk is at most MEDIUM and no operation touches
// more rows than the staging threshold. Otherwise the change set is split
// into expand, data-migration, tighten and cleanup steps, omitting empty
// ones. A change set without MEDIUM or HIGH operations is never split.
func Plan(ordered diff.ChangeSet, report *risk.Report, counts risk.RowCounts, th risk.Thresholds) *MigrationPlan {
	plan := &MigrationPlan{Risk: report.Aggregate.Level}
	ops := ordered.Operations()
	if len(ops) == 0 {
		return plan
	}

	risky := 0
	for _, op := range ops {
		if report.LevelOf(op) >= risk.Medium {
			risky++
		}
	}

	if !needsStaging(ops, report, counts, th) || risky == 0 {
		plan.Steps = []Step{newStep(StepApply, ops, report)}
		renumber(plan.Steps)
		return plan
	}

	plan.Staged = true
	var expand, tighten, cleanup []diff.Operation
	var backfill, finalize []Target
	dataRisk := risk.Low
	for _, op := range ops {
		target := targetOf(op)
		switch {
		case op.Kind == diff.DropColumn || op.Kind == diff.DropTable:
			cleanup = append(cleanup, op)
		case op.Kind == diff.AlterColumnNullable && !op.Tightens():
			expand = append(expand, op)
		case op.Kind == diff.AlterColumnNullable || op.Kind == diff.AlterColumnType || op.Kind == diff.AddConstraint:
			tighten = append(tighten, op)
		case op.AddsRequiredColumn():
			expand = append(expand, op)
			plan.Holding = append(plan.Holding, op.ID())
			finalize = append(finalize, target)
		default:
			expand = append(expand, op)
		}

		if needsData(op) && report.LevelOf(op) >= risk.Medium {
			backfill = append(backfill, target)
			dataRisk = risk.Max(dataRisk, report.LevelOf(op))
		}
	}

	if len(expand) > 0 {
		plan.Steps = append(plan.Steps, newStep(StepExpand, expand, report))
	}
	if len(backfill) > 0 {
		s := newStep(StepMigrate, nil, report)
		s.Risk = dataRisk
		s.Backfill = backfill
		plan.Steps = append(plan.Steps, s)
	}
	if len(tighten) > 0 || len(finalize) > 0 {
		s := newStep(StepTighten, tighten, report)
		s.Finalize = finalize
		plan.Steps = append(plan.Steps, s)
	}
	if len(cleanup) > 0 {
		plan.Steps = append(plan.Steps, newStep(StepCleanup, cleanup, report))
	}
	renumber(plan.Steps)
	return plan
}

func needsStaging(ops []diff.Operation, report *risk.Report, counts risk.RowCounts, th risk.Thresholds) bool {
	if report.Aggregate.Level == risk.High {
		return true
	}
	if th.StagingRows <= 0 {
		return false
	}
	for _, op := range ops {
		if op.Kind == diff.CreateTable {
			continue
		}
		if n, ok := counts.Lookup(op.Ref()); ok && n > th.StagingRows {
			return true
		}
	}
	return false
}

// needsData reports whether existing rows have to be rewritten before the
// operation's constraint can hold.
func needsData(op diff.Operation) bool {
	return op.AddsRequiredColumn() || op.Tightens() || op.Kind == diff.AlterColumnType
}

func newStep(kind StepKind, ops []diff.Operation, report *risk.Report) Step {
	s := Step{Kind: kind, Intent: intents[kind], Changes: diff.FromOperations(ops)}
	for _, op := range ops {
		s.Risk = risk.Max(s.Risk, report.LevelOf(op))
	}
	return s
}

func renumber(steps []Step) {
	for i := range steps {
		steps[i].Index = i + 1
	}
}
