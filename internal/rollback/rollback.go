package rollback

import (
	"fmt"

	"github.com/schemaguard/schemaguard/internal/diff"
)

// Step is one entry of a rollback script. Inverse is nil when the original
// operation cannot be reversed structurally.
type Step struct {
	Original diff.Operation  `json:"original" yaml:"original"`
	Inverse  *diff.Operation `json:"inverse,omitempty" yaml:"inverse,omitempty"`
	// Note is set when reversing the operation does not bring data back.
	Note string `json:"note,omitempty" yaml:"note,omitempty"`
}

// DataLoss reports whether the rollback step cannot restore the data the
// original operation removed.
func (s Step) DataLoss() bool {
	return s.Note != ""
}

// Plan returns the rollback steps for ops, in reverse application order.
func Plan(ops []diff.Operation) []Step {
	steps := make([]Step, 0, len(ops))
	for i := len(ops) - 1; i >= 0; i-- {
		steps = append(steps, Invert(ops[i]))
	}
	return steps
}

// Invert returns the rollback step for a single operation.
func Invert(op diff.Operation) Step {
	inv := op
	s := Step{Original: op, Inverse: &inv}

	switch op.Kind {
	case diff.CreateTable:
		inv.Kind = diff.DropTable
	case diff.DropTable:
		inv.Kind = diff.CreateTable
		s.Note = fmt.Sprintf("cannot roll back %s without backup: rows are not restored", op)
	case diff.AddColumn:
		inv.Kind = diff.DropColumn
	case diff.DropColumn:
		inv.Kind = diff.AddColumn
		if op.Column != nil {
			// re-added columns start empty, so NOT NULL cannot hold
			c := *op.Column
			c.Nullable = true
			inv.Column = &c
		}
		s.Note = fmt.Sprintf("cannot roll back %s without backup: column data is not restored", op)
	case diff.AlterColumnType, diff.AlterColumnNullable:
		inv.Before, inv.After = op.After, op.Before
		if op.Kind == diff.AlterColumnType {
			s.Note = lossyNote(op)
		}
	case diff.AddConstraint:
		inv.Kind = diff.DropConstraint
	case diff.DropConstraint:
		inv.Kind = diff.AddConstraint
	case diff.AddIndex:
		inv.Kind = diff.DropIndex
	case diff.DropIndex:
		inv.Kind = diff.AddIndex
	default:
		s.Inverse = nil
		s.Note = fmt.Sprintf("no rollback for operation %s", op.Kind)
	}
	return s
}

func lossyNote(op diff.Operation) string {
	if op.Before == nil || op.After == nil {
		return ""
	}
	return fmt.Sprintf("converting %s.%s back to %s may not restore the original values",
		op.Table, op.After.Name, op.Before.DataType)
}

// Summary holds counts describing a rollback plan.
type Summary struct {
	Steps      int `json:"steps" yaml:"steps"`
	Reversible int `json:"reversible" yaml:"reversible"`
	DataLoss   int `json:"data_loss" yaml:"data_loss"`
}

// Summarize counts the steps of a rollback plan.
func Summarize(steps []Step) Summary {
	s := Summary{Steps: len(steps)}
	for _, st := range steps {
		if st.Inverse != nil && !st.DataLoss() {
			s.Reversible++
		}
		if st.DataLoss() {
			s.DataLoss++
		}
	}
	return s
}
