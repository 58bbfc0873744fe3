package codegen

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schemaguard/schemaguard/internal/diff"
	"github.com/schemaguard/schemaguard/internal/planner"
	"github.com/schemaguard/schemaguard/internal/risk"
	"github.com/schemaguard/schemaguard/internal/schema"
	"github.com/schemaguard/schemaguard/internal/typemap"
)

var fixedNow = time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)

func users(cols ...schema.Column) *schema.Snapshot {
	base := []schema.Column{{Name: "id", DataType: "integer"}}
	return schema.New(map[string][]schema.Table{
		"accounts": {{Name: "users", Columns: append(base, cols...)}},
	})
}

func generate(t *testing.T, before, after *schema.Snapshot, counts risk.RowCounts) (*Generator, *planner.MigrationPlan, *GenerateResult) {
	t.Helper()
	cs := diff.Diff(before, after)
	th := risk.DefaultThresholds()
	report := risk.ClassifySet(cs, counts, risk.Options{Thresholds: th})
	plan := planner.Plan(cs, report, counts, th)

	g := New(planner.DefaultNaming(), nil, typemap.DefaultPostgres())
	g.Now = func() time.Time { return fixedNow }
	res, err := g.Generate(plan, report)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return g, plan, res
}

func TestGenerateSimpleMigration(t *testing.T) {
	before := users()
	after := users(schema.Column{Name: "is_verified", DataType: "boolean", Nullable: true})

	_, _, res := generate(t, before, after, risk.RowCounts{{Module: "accounts", Table: "users"}: 500})
	if len(res.Files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(res.Files))
	}

	f := res.Files[0]
	if f.Name != "2026_03_04_1530_accounts_add_1_columns" {
		t.Errorf("Name = %q", f.Name)
	}
	for _, want := range []string{
		"-- Risk: LOW",
		"BEGIN;\nALTER TABLE users ADD COLUMN is_verified boolean;\n\nCOMMIT;",
		"-- ALTER TABLE users DROP COLUMN IF EXISTS is_verified;",
	} {
		if !strings.Contains(f.Content, want) {
			t.Errorf("content missing %q:\n%s", want, f.Content)
		}
	}
	if strings.Contains(f.Content, "Step ") {
		t.Errorf("simple migration should not carry a step header:\n%s", f.Content)
	}
}

func TestGenerateStagedMigration(t *testing.T) {
	before := users(
		schema.Column{Name: "email", DataType: "text", Nullable: true},
		schema.Column{Name: "legacy", DataType: "text", Nullable: true},
	)
	after := users(
		schema.Column{Name: "email", DataType: "text"},
		schema.Column{Name: "tenant_id", DataType: "integer"},
	)

	_, plan, res := generate(t, before, after, risk.RowCounts{{Module: "accounts", Table: "users"}: 250000})
	if !plan.Staged {
		t.Fatal("expected a staged plan")
	}
	if len(res.Files) != len(plan.Steps) {
		t.Fatalf("expected %d files, got %d", len(plan.Steps), len(res.Files))
	}

	byKind := map[planner.StepKind]File{}
	for _, f := range res.Files {
		byKind[f.Kind] = f
	}

	expand := byKind[planner.StepExpand]
	if !strings.Contains(expand.Content, "ALTER TABLE users ADD COLUMN tenant_id integer;") {
		t.Errorf("holding column should be added as nullable:\n%s", expand.Content)
	}
	if strings.Contains(expand.Content, "SELECT COUNT(*) FROM users;") {
		t.Errorf("holding column should not require an empty table:\n%s", expand.Content)
	}

	migrate := byKind[planner.StepMigrate]
	if !strings.Contains(migrate.Content, "-- UPDATE users SET email = <value> WHERE email IS NULL;") {
		t.Errorf("data step missing backfill template:\n%s", migrate.Content)
	}

	tighten := byKind[planner.StepTighten]
	for _, want := range []string{
		"ALTER TABLE users ALTER COLUMN email SET NOT NULL;",
		"ALTER TABLE users ALTER COLUMN tenant_id SET NOT NULL;",
		"SELECT COUNT(*) FROM users WHERE tenant_id IS NULL;",
		"-- ALTER TABLE users ALTER COLUMN tenant_id DROP NOT NULL;",
	} {
		if !strings.Contains(tighten.Content, want) {
			t.Errorf("tighten step missing %q:\n%s", want, tighten.Content)
		}
	}

	cleanup := byKind[planner.StepCleanup]
	if !strings.HasSuffix(cleanup.Name, "_staged_DANGEROUS") {
		t.Errorf("cleanup Name = %q, want staged dangerous suffix", cleanup.Name)
	}
	if !strings.Contains(cleanup.Content, "ALTER TABLE users DROP COLUMN legacy;") {
		t.Errorf("cleanup step missing drop:\n%s", cleanup.Content)
	}
	if !strings.Contains(cleanup.Content, "-- WARNING: cannot roll back drop column users.legacy without backup") {
		t.Errorf("cleanup rollback missing data-loss warning:\n%s", cleanup.Content)
	}
}

func TestGenerateDropsTablesAcrossModules(t *testing.T) {
	orgFK := schema.Constraint{Name: "fk_org", Type: schema.ForeignKey, Columns: []string{"org_id"},
		ReferencedModule: "accounts", ReferencedTable: "orgs", ReferencedColumns: []string{"id"}}
	before := schema.New(map[string][]schema.Table{
		"accounts": {
			{Name: "orgs", Columns: []schema.Column{{Name: "id", DataType: "integer"}}},
			{Name: "users", Columns: []schema.Column{{Name: "id", DataType: "integer"}, {Name: "legacy", DataType: "text", Nullable: true}}},
		},
		"billing": {{Name: "members", Columns: []schema.Column{{Name: "id", DataType: "integer"}, {Name: "org_id", DataType: "integer"}},
			Constraints: []schema.Constraint{orgFK}}},
	})
	after := schema.New(map[string][]schema.Table{
		"accounts": {{Name: "users", Columns: []schema.Column{{Name: "id", DataType: "integer"}}}},
		"billing":  {},
	})

	_, plan, res := generate(t, before, after, nil)
	if !plan.Staged {
		t.Fatal("expected a staged plan")
	}

	var cleanup []File
	names := map[string]bool{}
	for _, f := range res.Files {
		if names[f.Name] {
			t.Errorf("duplicate migration name %q", f.Name)
		}
		names[f.Name] = true
		if f.Kind == planner.StepCleanup {
			cleanup = append(cleanup, f)
		}
	}
	if len(cleanup) != 3 {
		t.Fatalf("expected 3 cleanup files, got %d", len(cleanup))
	}
	for i, want := range []struct{ module, stmt string }{
		{"accounts", "ALTER TABLE users DROP COLUMN legacy;"},
		{"billing", "DROP TABLE members;"},
		{"accounts", "DROP TABLE orgs;"},
	} {
		f := cleanup[i]
		if f.Module != want.module || !strings.Contains(f.Content, want.stmt) {
			t.Errorf("cleanup file %d: module %s, want %s with %q:\n%s", i, f.Module, want.module, want.stmt, f.Content)
		}
	}
	if strings.Contains(cleanup[0].Content, "DROP TABLE orgs;") {
		t.Errorf("orgs dropped before members:\n%s", cleanup[0].Content)
	}
}

func TestRendererCreateTable(t *testing.T) {
	def := "now()"
	op := diff.Operation{Kind: diff.CreateTable, Module: "billing", Table: "invoices", TableDef: &schema.Table{
		Name: "invoices",
		Columns: []schema.Column{
			{Name: "id", DataType: "bigint"},
			{Name: "user_id", DataType: "bigint"},
			{Name: "created_at", DataType: "timestamptz", DefaultValue: &def},
		},
		Constraints: []schema.Constraint{
			{Name: "invoices_pkey", Type: schema.PrimaryKey, Columns: []string{"id"}},
			{Type: schema.ForeignKey, Columns: []string{"user_id"}, ReferencedModule: "accounts", ReferencedTable: "users", ReferencedColumns: []string{"id"}},
		},
		Indexes: []schema.Index{{Name: "idx_invoices_user", Columns: []string{"user_id"}}},
	}}

	r := Renderer{Qualify: schema.ModuleQualified}
	got := r.Statements(op, false)
	want := []string{
		"CREATE TABLE billing.invoices (\n" +
			"    id bigint NOT NULL,\n" +
			"    user_id bigint NOT NULL,\n" +
			"    created_at timestamptz NOT NULL DEFAULT now(),\n" +
			"    CONSTRAINT invoices_pkey PRIMARY KEY (id),\n" +
			"    CONSTRAINT invoices_user_id_fkey FOREIGN KEY (user_id) REFERENCES accounts.users (id)\n" +
			");",
		"CREATE INDEX idx_invoices_user ON billing.invoices (user_id);",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d statements, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("statement %d = %q\nwant %q", i, got[i], want[i])
		}
	}
}

func TestRendererStatements(t *testing.T) {
	col := &schema.Column{Name: "age", DataType: "integer", Nullable: true}
	tests := []struct {
		op   diff.Operation
		want string
	}{
		{diff.Operation{Kind: diff.DropTable, Table: "t"}, "DROP TABLE t;"},
		{diff.Operation{Kind: diff.DropColumn, Table: "t", Column: col}, "ALTER TABLE t DROP COLUMN age;"},
		{diff.Operation{Kind: diff.AlterColumnType, Table: "t", Before: &schema.Column{Name: "age", DataType: "text"}, After: col},
			"ALTER TABLE t ALTER COLUMN age TYPE integer USING age::integer;"},
		{diff.Operation{Kind: diff.AlterColumnNullable, Table: "t", Before: &schema.Column{Name: "age"}, After: col},
			"ALTER TABLE t ALTER COLUMN age DROP NOT NULL;"},
		{diff.Operation{Kind: diff.AddConstraint, Table: "t", Constraint: &schema.Constraint{Type: schema.Check, Definition: "age >= 0"}},
			"ALTER TABLE t ADD CONSTRAINT t_check CHECK (age >= 0);"},
		{diff.Operation{Kind: diff.DropConstraint, Table: "t", Constraint: &schema.Constraint{Name: "t_age_key", Type: schema.Unique, Columns: []string{"age"}}},
			"ALTER TABLE t DROP CONSTRAINT t_age_key;"},
		{diff.Operation{Kind: diff.AddIndex, Table: "t", Index: &schema.Index{Name: "t_age", Columns: []string{"age"}, Unique: true}},
			"CREATE UNIQUE INDEX t_age ON t (age);"},
		{diff.Operation{Kind: diff.DropIndex, Table: "t", Index: &schema.Index{Name: "t_age"}}, "DROP INDEX t_age;"},
	}
	for _, tt := range tests {
		got := Renderer{}.Statements(tt.op, false)
		if len(got) != 1 || got[0] != tt.want {
			t.Errorf("%s: got %v, want %q", tt.op.Kind, got, tt.want)
		}
	}
}

func TestRendererHoldingColumn(t *testing.T) {
	op := diff.Operation{Kind: diff.AddColumn, Table: "users", Column: &schema.Column{Name: "tenant_id", DataType: "integer"}}
	if got := (Renderer{}).Statements(op, false)[0]; got != "ALTER TABLE users ADD COLUMN tenant_id integer NOT NULL;" {
		t.Errorf("got %q", got)
	}
	if got := (Renderer{}).Statements(op, true)[0]; got != "ALTER TABLE users ADD COLUMN tenant_id integer;" {
		t.Errorf("holding got %q", got)
	}
	if op.Column.Nullable {
		t.Error("Statements modified the operation")
	}
}

func TestWriteManifest(t *testing.T) {
	before := users()
	after := users(schema.Column{Name: "nickname", DataType: "text", Nullable: true})
	_, _, res := generate(t, before, after, nil)

	dir := filepath.Join(t.TempDir(), "migrations")
	if err := res.Write(dir); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, res.Files[0].Filename())); err != nil {
		t.Errorf("migration file not written: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		t.Fatalf("reading manifest: %v", err)
	}
	var manifest struct {
		Migrations []struct {
			Name string `yaml:"name"`
			Risk string `yaml:"risk"`
		} `yaml:"migrations"`
	}
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		t.Fatalf("parsing manifest: %v", err)
	}
	if len(manifest.Migrations) != 1 || manifest.Migrations[0].Name != res.Files[0].Name || manifest.Migrations[0].Risk != "LOW" {
		t.Errorf("manifest = %+v", manifest)
	}
}

func TestRollbackScript(t *testing.T) {
	before := users(schema.Column{Name: "phone", DataType: "text", Nullable: true})
	after := users(schema.Column{Name: "nickname", DataType: "text", Nullable: true})
	g, plan, _ := generate(t, before, after, nil)

	script := g.RollbackScript(plan)
	add := strings.Index(script, "ADD COLUMN IF NOT EXISTS phone text;")
	drop := strings.Index(script, "DROP COLUMN IF EXISTS nickname;")
	if add < 0 || drop < 0 {
		t.Fatalf("rollback script incomplete:\n%s", script)
	}
	if add > drop {
		t.Errorf("dropped column should be restored before the added one is removed:\n%s", script)
	}
}
