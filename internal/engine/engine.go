package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/schemaguard/schemaguard/internal/codegen"
	"github.com/schemaguard/schemaguard/internal/config"
	"github.com/schemaguard/schemaguard/internal/deps"
	"github.com/schemaguard/schemaguard/internal/diff"
	"github.com/schemaguard/schemaguard/internal/discovery"
	"github.com/schemaguard/schemaguard/internal/planner"
	"github.com/schemaguard/schemaguard/internal/risk"
	"github.com/schemaguard/schemaguard/internal/rollback"
	"github.com/schemaguard/schemaguard/internal/rowcount"
	"github.com/schemaguard/schemaguard/internal/schema"
	"github.com/schemaguard/schemaguard/internal/sizing"
	"github.com/schemaguard/schemaguard/internal/state"
	"github.com/schemaguard/schemaguard/internal/typemap"
	"github.com/schemaguard/schemaguard/internal/validation"
)

// LiveSource is the snapshot argument that selects discovery from the
// configured database instead of a file.
const LiveSource = "live"

// Engine runs analyses and is shared by the CLI, watch mode and the API.
type Engine struct {
	Config  *config.Config
	State   *state.State
	TypeMap *typemap.TypeMap
	Logger  *slog.Logger

	// OpenProvider creates the row-count provider for each analysis.
	OpenProvider func(config.SourceConfig, config.RowCountConfig) (rowcount.Provider, error)
	// OpenDiscoverer creates the live snapshot loader.
	OpenDiscoverer func(*config.SourceConfig, discovery.Options) (discovery.Discoverer, error)
	Now            func() time.Time

	statePath string

	mu          sync.Mutex
	last        *Result
	checkResult *validation.Result
}

// New creates a new Engine with the given config and logger.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tm := typemap.ForDatabase(cfg.Source.Type)
	if cfg.TypeMap != "" {
		loaded, err := typemap.LoadYAML(config.ExpandHome(cfg.TypeMap))
		if err != nil {
			return nil, fmt.Errorf("loading type map: %w", err)
		}
		tm = loaded
	}
	return &Engine{
		Config:         cfg,
		TypeMap:        tm,
		Logger:         logger,
		OpenProvider:   rowcount.New,
		OpenDiscoverer: discovery.New,
		Now:            time.Now,
		statePath:      config.ExpandHome(state.DefaultPath),
	}, nil
}

// SetStatePath overrides where the engine keeps its state file.
func (e *Engine) SetStatePath(path string) {
	e.statePath = path
}

// LoadState loads the analysis state from disk.
func (e *Engine) LoadState() (*state.State, error) {
	st, err := state.Load(e.statePath)
	if err != nil {
		return nil, err
	}
	e.State = st
	return st, nil
}

// SaveState persists the current state to disk.
func (e *Engine) SaveState() error {
	if e.State == nil {
		return fmt.Errorf("no state to save")
	}
	return e.State.Save(e.statePath)
}

// LoadSnapshot reads a snapshot from a YAML file, a module directory, or
// the configured database when source is LiveSource.
func (e *Engine) LoadSnapshot(ctx context.Context, source string) (*schema.Snapshot, error) {
	if source == LiveSource {
		return e.Discover(ctx)
	}
	return schema.Load(config.ExpandHome(source))
}

// Discover loads the current schema from the configured database.
func (e *Engine) Discover(ctx context.Context) (*schema.Snapshot, error) {
	src := e.Config.Source
	opts := discovery.Options{
		Schemas:         src.Schemas,
		SchemaPerModule: src.SchemaPerModule,
		Module:          src.Module,
	}
	d, err := e.OpenDiscoverer(&src, opts)
	if err != nil {
		return nil, err
	}
	e.Logger.Info("discovering schema", "type", src.Type, "database", src.Database)
	s, err := discovery.Run(ctx, d)
	if err != nil {
		return nil, err
	}
	e.Logger.Info("schema discovered", "modules", len(s.Modules), "tables", s.TableCount())
	return s, nil
}

// Analyze runs the full pipeline from two snapshots to a migration plan
// with generated scripts. Row counts are best effort: a source that cannot
// be reached leaves every count unknown. A dependency cycle in the target
// schema aborts the analysis.
func (e *Engine) Analyze(ctx context.Context, before, after *schema.Snapshot) (*Result, error) {
	if err := schema.Validate(before); err != nil {
		return nil, fmt.Errorf("before snapshot: %w", err)
	}
	if err := schema.Validate(after); err != nil {
		return nil, fmt.Errorf("after snapshot: %w", err)
	}

	now := e.now()
	cs := diff.Diff(before, after)
	e.Logger.Debug("diff computed", "operations", cs.Len(), "modules", len(cs.ModuleNames()))

	graph, err := deps.ForChangeSet(cs, after)
	if err != nil {
		return nil, err
	}
	order, err := graph.TopologicalSort()
	if err != nil {
		var cycle *deps.CycleError
		if errors.As(err, &cycle) {
			e.Logger.Error("dependency cycle", "modules", strings.Join(cycle.Modules, ", "))
		}
		return nil, err
	}

	counts, err := e.rowCounts(ctx, cs)
	if err != nil {
		return nil, err
	}

	th := e.Config.Thresholds.Risk()
	report := risk.ClassifySet(cs, counts, risk.Options{Thresholds: th, Types: e.TypeMap})
	touched := touchedModules(order, cs)
	report.NoteModuleOrder(touched, graph.ModuleEdges())

	ordered := planner.Order(cs, order)
	plan := planner.Plan(ordered, report, counts, th)

	qualify := schema.Qualifier(schema.BareName)
	if e.Config.Output.QualifyTables {
		qualify = schema.ModuleQualified
	}
	gen := codegen.New(e.Config.Output.Naming, qualify, e.TypeMap)
	gen.Now = func() time.Time { return now }
	generated, err := gen.Generate(plan, report)
	if err != nil {
		return nil, fmt.Errorf("generating migrations: %w", err)
	}

	r := &Result{
		ID:             now.UTC().Format("20060102T150405Z"),
		AnalyzedAt:     now,
		Changes:        cs,
		RowCounts:      counts,
		Tables:         tableCounts(counts),
		Risk:           report,
		ModuleOrder:    touched,
		Plan:           plan,
		Estimate:       sizing.Calculate(plan, counts),
		Rollback:       rollback.Plan(plan.Operations()),
		RollbackScript: gen.RollbackScript(plan),
		Checks:         gen.Checks.ForOperations(plan.Operations()),
		Migrations:     generated.Files,
	}

	e.Logger.Info("analysis complete",
		"id", r.ID,
		"operations", cs.Len(),
		"risk", report.Aggregate.Level,
		"staged", plan.Staged,
		"migrations", len(r.Migrations),
	)

	e.mu.Lock()
	e.last = r
	e.checkResult = nil
	e.mu.Unlock()
	return r, nil
}

// rowCounts collects counts for the existing tables the change set touches.
func (e *Engine) rowCounts(ctx context.Context, cs diff.ChangeSet) (risk.RowCounts, error) {
	refs := countedTables(cs)
	if len(refs) == 0 {
		return risk.RowCounts{}, nil
	}

	p, err := e.OpenProvider(e.Config.Source, e.Config.RowCounts)
	if err != nil {
		e.Logger.Warn("row counts unavailable", "error", err)
		return risk.RowCounts{}, nil
	}
	if err := p.Connect(ctx); err != nil {
		e.Logger.Warn("row counts unavailable", "error", err)
		return risk.RowCounts{}, nil
	}
	defer p.Close()

	counts, err := rowcount.Collect(ctx, p, refs, e.Config.RowCounts.Concurrency, e.Logger)
	if err != nil {
		return nil, fmt.Errorf("collecting row counts: %w", err)
	}
	e.Logger.Debug("row counts collected", "tables", len(refs), "known", len(counts))
	return counts, nil
}

// countedTables lists the tables whose size matters to classification.
// Tables created by the change set have no rows yet.
func countedTables(cs diff.ChangeSet) []schema.TableRef {
	seen := make(map[schema.TableRef]bool)
	var refs []schema.TableRef
	for _, op := range cs.Operations() {
		if op.Kind == diff.CreateTable {
			continue
		}
		ref := op.Ref()
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	return refs
}

// touchedModules keeps the modules of order that have changes.
func touchedModules(order []string, cs diff.ChangeSet) []string {
	changed := make(map[string]bool)
	for _, m := range cs.ModuleNames() {
		changed[m] = true
	}
	var out []string
	for _, m := range order {
		if changed[m] {
			out = append(out, m)
		}
	}
	return out
}

func tableCounts(counts risk.RowCounts) []TableCount {
	out := make([]TableCount, 0, len(counts))
	for ref, n := range counts {
		out = append(out, TableCount{Module: ref.Module, Table: ref.Table, Rows: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Table < out[j].Table
	})
	return out
}

// LastResult returns the most recent analysis, or nil.
func (e *Engine) LastResult() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Review applies the configured review gate to a result.
func (e *Engine) Review(r *Result) error {
	return r.Gate(e.Config.Review)
}

// WriteMigrations writes the generated migrations, the manifest and the
// rollback script to the output directory and returns the directory.
func (e *Engine) WriteMigrations(r *Result) (string, error) {
	dir := config.ExpandHome(e.Config.Output.Directory)
	gr := &codegen.GenerateResult{Files: r.Migrations}
	if err := gr.Write(dir); err != nil {
		return "", err
	}
	if r.RollbackScript != "" {
		if err := writeFile(filepath.Join(dir, r.RollbackFilename()), []byte(r.RollbackScript)); err != nil {
			return "", fmt.Errorf("writing rollback script: %w", err)
		}
	}
	e.Logger.Info("migrations written", "dir", dir, "files", len(r.Migrations))
	return dir, nil
}

// RunChecks runs the pre-flight checks of the last analysis against the
// configured source. callback is invoked after each check.
func (e *Engine) RunChecks(ctx context.Context, callback func(check validation.Check, passed bool)) (*validation.Result, error) {
	r := e.LastResult()
	if r == nil {
		return nil, fmt.Errorf("no analysis to check; run an analysis first")
	}

	p, err := e.OpenProvider(e.Config.Source, config.RowCountConfig{Provider: "source"})
	if err != nil {
		return nil, err
	}
	counter, ok := p.(validation.Counter)
	if !ok {
		return nil, fmt.Errorf("source %q cannot run pre-flight checks", e.Config.Source.Type)
	}
	if err := p.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to source: %w", err)
	}
	defer p.Close()

	runner := &validation.Runner{Counter: counter, Callback: callback}
	result, err := runner.Run(ctx, r.Checks)
	if err != nil {
		return nil, err
	}
	e.Logger.Info("pre-flight checks complete", "status", result.Status, "checks", len(result.Checks))

	e.mu.Lock()
	if e.last == r {
		e.checkResult = result
	}
	e.mu.Unlock()
	return result, nil
}

// CheckResults returns the pre-flight results of the last analysis, or nil.
func (e *Engine) CheckResults() *validation.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkResult
}

// Record stores a completed analysis in state.
func (e *Engine) Record(r *Result, source string, after *schema.Snapshot, reportPath string) error {
	if e.State == nil {
		if _, err := e.LoadState(); err != nil {
			return err
		}
	}
	names := make([]string, len(r.Migrations))
	for i, f := range r.Migrations {
		names[i] = f.Filename()
	}
	e.State.Record(state.Run{
		ID:         r.ID,
		AnalyzedAt: r.AnalyzedAt,
		Source:     source,
		Operations: r.Changes.Len(),
		Risk:       r.Risk.Aggregate.Level.String(),
		Staged:     r.Plan.Staged,
		Migrations: names,
		Report:     reportPath,
	}, after)
	return e.SaveState()
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}
