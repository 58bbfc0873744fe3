package validation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/schemaguard/schemaguard/internal/diff"
	"github.com/schemaguard/schemaguard/internal/schema"
)

func TestNullCheckForTighten(t *testing.T) {
	b := &Builder{}
	op := diff.Operation{
		Kind: diff.AlterColumnNullable, Module: "accounts", Table: "users",
		Before: &schema.Column{Name: "email", DataType: "text", Nullable: true},
		After:  &schema.Column{Name: "email", DataType: "text"},
	}
	checks := b.For(op)
	if len(checks) != 1 {
		t.Fatalf("expected 1 check, got %d", len(checks))
	}
	if want := "SELECT COUNT(*) FROM users WHERE email IS NULL;"; checks[0].Query != want {
		t.Errorf("Query = %q, want %q", checks[0].Query, want)
	}

	// relaxing needs no check
	op.Before, op.After = op.After, op.Before
	if got := b.For(op); len(got) != 0 {
		t.Errorf("relaxing should have no checks, got %+v", got)
	}
}

func TestQualifiedNames(t *testing.T) {
	b := &Builder{Qualify: schema.ModuleQualified}
	c := b.NullCheck(schema.TableRef{Module: "accounts", Table: "users"}, "email")
	if !strings.Contains(c.Query, "FROM accounts.users ") {
		t.Errorf("Query = %q, want module-qualified table", c.Query)
	}
}

func TestRequiredColumnCheck(t *testing.T) {
	b := &Builder{}
	checks := b.For(diff.Operation{Kind: diff.AddColumn, Module: "m", Table: "users",
		Column: &schema.Column{Name: "tenant_id", DataType: "integer"}})
	if len(checks) != 1 || checks[0].Query != "SELECT COUNT(*) FROM users;" {
		t.Errorf("checks = %+v", checks)
	}

	checks = b.For(diff.Operation{Kind: diff.AddColumn, Module: "m", Table: "users",
		Column: &schema.Column{Name: "nickname", DataType: "text", Nullable: true}})
	if len(checks) != 0 {
		t.Errorf("nullable column should have no checks, got %+v", checks)
	}
}

func TestDropColumnDataCheck(t *testing.T) {
	b := &Builder{}
	checks := b.For(diff.Operation{Kind: diff.DropColumn, Module: "m", Table: "users",
		Column: &schema.Column{Name: "phone", DataType: "text", Nullable: true}})
	if len(checks) != 1 || checks[0].Query != "SELECT COUNT(*) FROM users WHERE phone IS NOT NULL;" {
		t.Errorf("checks = %+v", checks)
	}
}

func TestConversionChecks(t *testing.T) {
	tests := []struct {
		from, to string
		want     string
	}{
		{"varchar(8)", "integer", "!~"},
		{"text", "numeric(10,2)", "!~"},
		{"text", "varchar(32)", "length(name::text) > 32"},
	}
	b := &Builder{}
	for _, tt := range tests {
		op := diff.Operation{Kind: diff.AlterColumnType, Module: "m", Table: "t",
			Before: &schema.Column{Name: "name", DataType: tt.from},
			After:  &schema.Column{Name: "name", DataType: tt.to}}
		checks := b.For(op)
		if len(checks) != 1 || !strings.Contains(checks[0].Query, tt.want) {
			t.Errorf("%s -> %s: checks = %+v", tt.from, tt.to, checks)
		}
	}

	op := diff.Operation{Kind: diff.AlterColumnType, Module: "m", Table: "t",
		Before: &schema.Column{Name: "name", DataType: "varchar(8)"},
		After:  &schema.Column{Name: "name", DataType: "text"}}
	if got := b.For(op); len(got) != 0 {
		t.Errorf("widening to text should have no checks, got %+v", got)
	}
}

func TestConstraintChecks(t *testing.T) {
	b := &Builder{}
	add := func(c schema.Constraint) []Check {
		return b.For(diff.Operation{Kind: diff.AddConstraint, Module: "billing", Table: "invoices", Constraint: &c})
	}

	unique := add(schema.Constraint{Type: schema.Unique, Columns: []string{"number"}})
	if len(unique) != 1 || !strings.Contains(unique[0].Query, "GROUP BY number HAVING COUNT(*) > 1") {
		t.Errorf("unique checks = %+v", unique)
	}

	pk := add(schema.Constraint{Type: schema.PrimaryKey, Columns: []string{"id"}})
	if len(pk) != 2 {
		t.Errorf("expected duplicate and null checks for primary key, got %d", len(pk))
	}

	fk := add(schema.Constraint{Type: schema.ForeignKey, Columns: []string{"user_id"},
		ReferencedModule: "accounts", ReferencedTable: "users", ReferencedColumns: []string{"id"}})
	if len(fk) != 1 {
		t.Fatalf("expected 1 foreign key check, got %d", len(fk))
	}
	want := "SELECT COUNT(*) FROM invoices c LEFT JOIN users p ON c.user_id = p.id WHERE c.user_id IS NOT NULL AND p.id IS NULL;"
	if fk[0].Query != want {
		t.Errorf("Query = %q\nwant %q", fk[0].Query, want)
	}

	check := add(schema.Constraint{Type: schema.Check, Definition: "CHECK (amount >= 0)"})
	if len(check) != 1 || check[0].Query != "SELECT COUNT(*) FROM invoices WHERE NOT (amount >= 0);" {
		t.Errorf("check constraint checks = %+v", check)
	}
}

type fakeCounter struct {
	counts map[string]int64
	err    error
}

func (f *fakeCounter) Count(_ context.Context, query string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[query], nil
}

func TestRunnerStatus(t *testing.T) {
	checks := []Check{
		{Description: "a", Query: "q1"},
		{Description: "b", Query: "q2"},
	}

	var notified []bool
	r := &Runner{
		Counter:  &fakeCounter{counts: map[string]int64{"q2": 3}},
		Callback: func(_ Check, passed bool) { notified = append(notified, passed) },
	}
	res, err := r.Run(context.Background(), checks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != "PARTIAL" {
		t.Errorf("Status = %q, want PARTIAL", res.Status)
	}
	if res.Checks[1].Violations != 3 || res.Checks[1].Message == "" {
		t.Errorf("second check = %+v", res.Checks[1])
	}
	if len(notified) != 2 || !notified[0] || notified[1] {
		t.Errorf("callbacks = %v", notified)
	}

	r.Counter = &fakeCounter{}
	res, _ = r.Run(context.Background(), checks)
	if res.Status != "PASS" {
		t.Errorf("Status = %q, want PASS", res.Status)
	}
}

func TestRunnerError(t *testing.T) {
	boom := errors.New("connection refused")
	r := &Runner{Counter: &fakeCounter{err: boom}}
	_, err := r.Run(context.Background(), []Check{{Description: "a", Query: "q"}})
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}
