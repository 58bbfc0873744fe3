package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schemaguard/schemaguard/internal/config"
	"github.com/schemaguard/schemaguard/internal/deps"
	"github.com/schemaguard/schemaguard/internal/risk"
	"github.com/schemaguard/schemaguard/internal/rowcount"
	"github.com/schemaguard/schemaguard/internal/schema"
	"github.com/schemaguard/schemaguard/internal/validation"
)

var (
	usersRef    = schema.TableRef{Module: "accounts", Table: "users"}
	invoicesRef = schema.TableRef{Module: "billing", Table: "invoices"}
	fixedNow    = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
)

func testEngine(t *testing.T, p rowcount.Provider) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Output.Directory = filepath.Join(t.TempDir(), "migrations")
	e, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.SetStatePath(filepath.Join(t.TempDir(), "state.yaml"))
	e.Now = func() time.Time { return fixedNow }
	e.OpenProvider = func(config.SourceConfig, config.RowCountConfig) (rowcount.Provider, error) {
		return p, nil
	}
	return e
}

// snapshot builds accounts.users and billing.invoices, with invoices
// referencing users. emailNullable and note vary between before and after.
func snapshot(emailNullable bool, note bool) *schema.Snapshot {
	invoiceCols := []schema.Column{
		{Name: "id", DataType: "integer"},
		{Name: "user_id", DataType: "integer"},
	}
	if note {
		invoiceCols = append(invoiceCols, schema.Column{Name: "note", DataType: "text", Nullable: true})
	}
	return schema.New(map[string][]schema.Table{
		"accounts": {{
			Name: "users",
			Columns: []schema.Column{
				{Name: "id", DataType: "integer"},
				{Name: "email", DataType: "varchar(255)", Nullable: emailNullable},
			},
			Constraints: []schema.Constraint{{Type: schema.PrimaryKey, Columns: []string{"id"}}},
		}},
		"billing": {{
			Name:    "invoices",
			Columns: invoiceCols,
			Constraints: []schema.Constraint{
				{Type: schema.PrimaryKey, Columns: []string{"id"}},
				{Name: "fk_invoices_user", Type: schema.ForeignKey, Columns: []string{"user_id"},
					ReferencedModule: "accounts", ReferencedTable: "users", ReferencedColumns: []string{"id"}},
			},
		}},
	})
}

func TestAnalyzeLowRiskSingleStep(t *testing.T) {
	p := &rowcount.MockProvider{Counts: map[schema.TableRef]int64{invoicesRef: 10}}
	e := testEngine(t, p)

	r, err := e.Analyze(context.Background(), snapshot(true, false), snapshot(true, true))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if r.ID != "20260402T093000Z" {
		t.Errorf("ID = %q", r.ID)
	}
	if r.Changes.Len() != 1 {
		t.Fatalf("changes = %d, want 1", r.Changes.Len())
	}
	if r.Level() != risk.Low {
		t.Errorf("level = %v, want LOW", r.Level())
	}
	if r.Plan.Staged || len(r.Plan.Steps) != 1 {
		t.Errorf("plan = staged %v, %d steps", r.Plan.Staged, len(r.Plan.Steps))
	}
	if len(r.Migrations) != 1 || r.Migrations[0].Module != "billing" {
		t.Errorf("migrations = %+v", r.Migrations)
	}
	if len(r.ModuleOrder) != 1 || r.ModuleOrder[0] != "billing" {
		t.Errorf("module order = %v", r.ModuleOrder)
	}
	if !p.Connected || !p.Closed {
		t.Errorf("provider connected=%v closed=%v", p.Connected, p.Closed)
	}
	if len(r.Tables) != 1 || r.Tables[0].Rows != 10 {
		t.Errorf("tables = %+v", r.Tables)
	}
	if e.LastResult() != r {
		t.Error("LastResult should return the latest analysis")
	}
}

func TestAnalyzeLargeTableIsStaged(t *testing.T) {
	p := &rowcount.MockProvider{Counts: map[schema.TableRef]int64{
		usersRef:    500000,
		invoicesRef: 20,
	}}
	e := testEngine(t, p)

	r, err := e.Analyze(context.Background(), snapshot(true, false), snapshot(false, true))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if r.Level() != risk.High {
		t.Errorf("level = %v, want HIGH", r.Level())
	}
	if !r.Plan.Staged {
		t.Error("expected a staged plan")
	}
	if got := strings.Join(r.ModuleOrder, ","); got != "accounts,billing" {
		t.Errorf("module order = %s", got)
	}
	if !contains(r.Risk.Aggregate.Warnings, "cross-module dependencies detected") {
		t.Errorf("aggregate warnings = %v", r.Risk.Aggregate.Warnings)
	}
	if !r.Risk.RequiresBackup {
		t.Error("expected backup recommendation")
	}
	if len(r.Checks) == 0 {
		t.Error("tightening NOT NULL should produce a pre-flight check")
	}
	for _, f := range r.Migrations {
		if !strings.Contains(f.Name, "_staged") {
			t.Errorf("migration %s should carry the staged suffix", f.Name)
		}
	}
	if r.Estimate == nil || r.Estimate.Total <= 0 {
		t.Errorf("estimate = %+v", r.Estimate)
	}
	if len(r.Rollback) != r.Changes.Len() {
		t.Errorf("rollback steps = %d, want %d", len(r.Rollback), r.Changes.Len())
	}

	var blocked *BlockedError
	if err := r.Gate(config.ReviewConfig{BlockDangerous: true}); !errors.As(err, &blocked) {
		t.Errorf("Gate = %v, want BlockedError", err)
	}
	if err := r.Gate(config.ReviewConfig{}); err != nil {
		t.Errorf("Gate without blocking = %v", err)
	}
	if !r.NeedsReview(config.ReviewConfig{RequireReview: true}) {
		t.Error("HIGH plan should need review")
	}
}

func TestAnalyzeProviderUnavailable(t *testing.T) {
	p := &rowcount.MockProvider{ConnectErr: errors.New("connection refused")}
	e := testEngine(t, p)

	r, err := e.Analyze(context.Background(), snapshot(true, false), snapshot(false, false))
	if err != nil {
		t.Fatalf("Analyze should not fail when counts are unavailable: %v", err)
	}
	if len(r.RowCounts) != 0 {
		t.Errorf("row counts = %v", r.RowCounts)
	}
	op := r.Changes.Operations()[0]
	a, ok := r.Risk.For(op)
	if !ok || !contains(a.Warnings, risk.RowCountUnavailable) {
		t.Errorf("assessment = %+v", a)
	}
}

func TestAnalyzeCycle(t *testing.T) {
	e := testEngine(t, rowcount.NewStatic(nil))

	before := snapshot(true, false)
	after := snapshot(true, false)
	users, _ := after.Table("accounts", "users")
	users.Columns = append(users.Columns, schema.Column{Name: "last_invoice_id", DataType: "integer", Nullable: true})
	users.Constraints = append(users.Constraints, schema.Constraint{
		Name: "fk_users_last_invoice", Type: schema.ForeignKey, Columns: []string{"last_invoice_id"},
		ReferencedModule: "billing", ReferencedTable: "invoices", ReferencedColumns: []string{"id"},
	})

	_, err := e.Analyze(context.Background(), before, after)
	var cycle *deps.CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if e.LastResult() != nil {
		t.Error("a failed analysis should not replace the last result")
	}
}

func TestAnalyzeMalformedSnapshot(t *testing.T) {
	e := testEngine(t, rowcount.NewStatic(nil))
	bad := schema.New(map[string][]schema.Table{"accounts": {{
		Name:    "users",
		Columns: []schema.Column{{Name: "id"}},
	}}})

	_, err := e.Analyze(context.Background(), bad, snapshot(true, false))
	var malformed *schema.MalformedSnapshotError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedSnapshotError, got %v", err)
	}
}

func TestAnalyzeNoChanges(t *testing.T) {
	p := &rowcount.MockProvider{}
	e := testEngine(t, p)

	r, err := e.Analyze(context.Background(), snapshot(true, true), snapshot(true, true))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !r.Changes.IsEmpty() || len(r.Migrations) != 0 || len(r.Plan.Steps) != 0 {
		t.Errorf("expected an empty result, got %d changes, %d migrations", r.Changes.Len(), len(r.Migrations))
	}
	if p.Connected {
		t.Error("provider should not be opened when nothing needs counting")
	}
}

func TestWriteMigrations(t *testing.T) {
	e := testEngine(t, rowcount.NewStatic(nil))
	r, err := e.Analyze(context.Background(), snapshot(true, false), snapshot(true, true))
	if err != nil {
		t.Fatal(err)
	}

	dir, err := e.WriteMigrations(r)
	if err != nil {
		t.Fatalf("WriteMigrations: %v", err)
	}
	for _, f := range r.Migrations {
		if _, err := os.Stat(filepath.Join(dir, f.Filename())); err != nil {
			t.Errorf("missing %s: %v", f.Filename(), err)
		}
	}
	data, err := os.ReadFile(filepath.Join(dir, r.RollbackFilename()))
	if err != nil {
		t.Fatalf("reading rollback script: %v", err)
	}
	if !strings.Contains(string(data), "DROP COLUMN") {
		t.Errorf("rollback script = %q", data)
	}
}

type countingProvider struct {
	rowcount.MockProvider
	queries []string
	result  int64
}

func (c *countingProvider) Count(_ context.Context, query string) (int64, error) {
	c.queries = append(c.queries, query)
	return c.result, nil
}

func TestRunChecks(t *testing.T) {
	p := &countingProvider{result: 3}
	e := testEngine(t, p)

	if _, err := e.RunChecks(context.Background(), nil); err == nil {
		t.Error("expected error before any analysis")
	}

	if _, err := e.Analyze(context.Background(), snapshot(true, false), snapshot(false, false)); err != nil {
		t.Fatal(err)
	}

	var seen int
	result, err := e.RunChecks(context.Background(), func(validation.Check, bool) { seen++ })
	if err != nil {
		t.Fatalf("RunChecks: %v", err)
	}
	if result.Status != "FAIL" {
		t.Errorf("status = %s, want FAIL", result.Status)
	}
	if seen != len(result.Checks) || len(p.queries) != len(result.Checks) {
		t.Errorf("callbacks = %d, queries = %d, checks = %d", seen, len(p.queries), len(result.Checks))
	}
	if e.CheckResults() != result {
		t.Error("CheckResults should return the latest run")
	}
}

func TestRunChecksUnsupportedProvider(t *testing.T) {
	e := testEngine(t, rowcount.NewStatic(nil))
	if _, err := e.Analyze(context.Background(), snapshot(true, false), snapshot(false, false)); err != nil {
		t.Fatal(err)
	}
	if _, err := e.RunChecks(context.Background(), nil); err == nil {
		t.Error("static provider cannot run checks")
	}
}

func TestRecordUpdatesState(t *testing.T) {
	e := testEngine(t, rowcount.NewStatic(nil))
	after := snapshot(true, true)
	r, err := e.Analyze(context.Background(), snapshot(true, false), after)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Record(r, "models/", after, ""); err != nil {
		t.Fatalf("Record: %v", err)
	}

	st, err := e.LoadState()
	if err != nil {
		t.Fatal(err)
	}
	run, ok := st.LastRun()
	if !ok || run.ID != r.ID || run.Operations != 1 || len(run.Migrations) != 1 {
		t.Errorf("last run = %+v", run)
	}
	if _, ok := st.Snapshot.Table("billing", "invoices"); !ok {
		t.Error("snapshot not cached")
	}
}

func TestLoadSnapshotFromFile(t *testing.T) {
	e := testEngine(t, rowcount.NewStatic(nil))
	path := filepath.Join(t.TempDir(), "schema.yaml")
	if err := snapshot(true, true).WriteYAML(path); err != nil {
		t.Fatal(err)
	}
	s, err := e.LoadSnapshot(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if s.TableCount() != 2 {
		t.Errorf("tables = %d, want 2", s.TableCount())
	}
}

func contains(items []string, want string) bool {
	for _, s := range items {
		if s == want {
			return true
		}
	}
	return false
}
