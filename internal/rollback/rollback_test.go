package rollback

import (
	"testing"

	"github.com/schemaguard/schemaguard/internal/diff"
	"github.com/schemaguard/schemaguard/internal/schema"
)

func TestPlanReversesOrder(t *testing.T) {
	ops := []diff.Operation{
		{Kind: diff.CreateTable, Module: "m", Table: "a", TableDef: &schema.Table{Name: "a"}},
		{Kind: diff.AddColumn, Module: "m", Table: "b", Column: &schema.Column{Name: "x", DataType: "text", Nullable: true}},
	}

	steps := Plan(ops)
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].Inverse.Kind != diff.DropColumn {
		t.Errorf("first inverse = %s, want drop_column", steps[0].Inverse.Kind)
	}
	if steps[1].Inverse.Kind != diff.DropTable {
		t.Errorf("second inverse = %s, want drop_table", steps[1].Inverse.Kind)
	}
}

func TestInvertKinds(t *testing.T) {
	tests := []struct {
		kind     diff.Kind
		want     diff.Kind
		dataLoss bool
	}{
		{diff.CreateTable, diff.DropTable, false},
		{diff.DropTable, diff.CreateTable, true},
		{diff.AddColumn, diff.DropColumn, false},
		{diff.DropColumn, diff.AddColumn, true},
		{diff.AddConstraint, diff.DropConstraint, false},
		{diff.DropConstraint, diff.AddConstraint, false},
		{diff.AddIndex, diff.DropIndex, false},
		{diff.DropIndex, diff.AddIndex, false},
	}
	for _, tt := range tests {
		op := diff.Operation{
			Kind: tt.kind, Module: "m", Table: "t",
			TableDef:   &schema.Table{Name: "t"},
			Column:     &schema.Column{Name: "c", DataType: "text"},
			Constraint: &schema.Constraint{Type: schema.Unique, Columns: []string{"c"}},
			Index:      &schema.Index{Name: "i", Columns: []string{"c"}},
		}
		s := Invert(op)
		if s.Inverse == nil || s.Inverse.Kind != tt.want {
			t.Errorf("Invert(%s) = %+v, want %s", tt.kind, s.Inverse, tt.want)
			continue
		}
		if s.DataLoss() != tt.dataLoss {
			t.Errorf("Invert(%s).DataLoss() = %v, want %v", tt.kind, s.DataLoss(), tt.dataLoss)
		}
	}
}

func TestInvertDropColumnIsNullable(t *testing.T) {
	op := diff.Operation{Kind: diff.DropColumn, Module: "m", Table: "users",
		Column: &schema.Column{Name: "phone", DataType: "text"}}
	s := Invert(op)
	if !s.Inverse.Column.Nullable {
		t.Error("re-added column should be nullable")
	}
	if op.Column.Nullable {
		t.Error("original operation was modified")
	}
}

func TestInvertAlterSwapsColumns(t *testing.T) {
	before := &schema.Column{Name: "age", DataType: "varchar(8)", Nullable: true}
	after := &schema.Column{Name: "age", DataType: "integer", Nullable: true}
	s := Invert(diff.Operation{Kind: diff.AlterColumnType, Module: "m", Table: "users", Before: before, After: after})

	if s.Inverse.Before != after || s.Inverse.After != before {
		t.Error("inverse should swap Before and After")
	}
	if s.Note == "" {
		t.Error("expected a note for the type conversion")
	}

	s = Invert(diff.Operation{Kind: diff.AlterColumnNullable, Module: "m", Table: "users", Before: before, After: after})
	if s.DataLoss() {
		t.Errorf("nullability rollback should not lose data: %s", s.Note)
	}
}

func TestInvertUnknownKind(t *testing.T) {
	s := Invert(diff.Operation{Kind: diff.Kind(99)})
	if s.Inverse != nil || s.Note == "" {
		t.Errorf("unknown kind should have no inverse and a note, got %+v", s)
	}
}

func TestSummarize(t *testing.T) {
	steps := Plan([]diff.Operation{
		{Kind: diff.AddColumn, Module: "m", Table: "t", Column: &schema.Column{Name: "a"}},
		{Kind: diff.DropColumn, Module: "m", Table: "t", Column: &schema.Column{Name: "b"}},
		{Kind: diff.AddIndex, Module: "m", Table: "t", Index: &schema.Index{Name: "i", Columns: []string{"a"}}},
	})
	got := Summarize(steps)
	if got.Steps != 3 || got.Reversible != 2 || got.DataLoss != 1 {
		t.Errorf("Summarize = %+v", got)
	}
}
