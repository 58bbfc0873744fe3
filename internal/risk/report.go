package risk

import (
	"fmt"
	"strings"

	"github.com/schemaguard/schemaguard/internal/diff"
	"github.com/schemaguard/schemaguard/internal/schema"
)

// Report holds the per-operation assessments of a change set, keyed by
// operation ID, together with the aggregate assessment.
type Report struct {
	Operations     map[string]Assessment `json:"operations"`
	Aggregate      Assessment            `json:"aggregate"`
	RequiresBackup bool                  `json:"requires_backup"`
}

// For returns the assessment recorded for op.
func (r *Report) For(op diff.Operation) (Assessment, bool) {
	a, ok := r.Operations[op.ID()]
	return a, ok
}

// LevelOf returns the recorded level for op, or HIGH when op was never assessed.
func (r *Report) LevelOf(op diff.Operation) Level {
	if a, ok := r.For(op); ok {
		return a.Level
	}
	return High
}

// ClassifySet assesses every operation in cs and builds the aggregate. The
// change set itself is not modified.
func ClassifySet(cs diff.ChangeSet, counts RowCounts, opts Options) *Report {
	r := &Report{Operations: make(map[string]Assessment, cs.Len())}

	var total int64
	var known bool
	counted := make(map[schema.TableRef]bool)
	warnings := newOrderedSet()
	recommendations := newOrderedSet()

	for _, op := range cs.Operations() {
		ctx := Context{Options: opts}
		if n, ok := counts.Lookup(op.Ref()); ok && op.Kind != diff.CreateTable {
			ctx.RowCount = &n
			if !counted[op.Ref()] {
				counted[op.Ref()] = true
				total += n
				known = true
			}
		}

		a := Classify(op, ctx)
		r.Operations[op.ID()] = a
		r.Aggregate.Level = Max(r.Aggregate.Level, a.Level)

		if a.Level >= Medium {
			for _, w := range a.Warnings {
				warnings.add(fmt.Sprintf("%s: %s", op, w))
			}
		}
		for _, rec := range a.Recommendations {
			recommendations.add(rec)
		}
		if a.AffectedRows != nil && opts.Thresholds.BackupRows > 0 && *a.AffectedRows > opts.Thresholds.BackupRows && a.Level >= Medium {
			r.RequiresBackup = true
		}
	}

	if known {
		r.Aggregate.AffectedRows = &total
		if opts.Thresholds.BackupRows > 0 && total > opts.Thresholds.BackupRows && r.Aggregate.Level >= Medium {
			r.RequiresBackup = true
			recommendations.add(fmt.Sprintf("backup recommended: %d rows affected", total))
		}
	}

	r.Aggregate.Warnings = warnings.items
	r.Aggregate.Recommendations = recommendations.items
	return r
}

// NoteModuleOrder records on the aggregate that the change set spans modules
// linked by foreign keys and must be applied in the given order.
func (r *Report) NoteModuleOrder(order []string, crossModuleEdges int) {
	if crossModuleEdges == 0 || len(order) < 2 {
		return
	}
	r.Aggregate.Warnings = append(r.Aggregate.Warnings, "cross-module dependencies detected")
	r.Aggregate.Recommendations = append(r.Aggregate.Recommendations,
		"apply migrations in order: "+strings.Join(order, " → "))
}

type orderedSet struct {
	seen  map[string]bool
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]bool)}
}

func (s *orderedSet) add(v string) {
	if s.seen[v] {
		return
	}
	s.seen[v] = true
	s.items = append(s.items, v)
}
