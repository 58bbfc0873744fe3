package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/schemaguard/schemaguard/internal/config"
	"github.com/schemaguard/schemaguard/internal/engine"
	"github.com/schemaguard/schemaguard/internal/rowcount"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeModule(t *testing.T, dir, module, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, module), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, module, "tables.yaml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

const usersV1 = `tables:
  - name: users
    columns:
      - name: id
        data_type: integer
`

const usersV2 = `tables:
  - name: users
    columns:
      - name: id
        data_type: integer
      - name: nickname
        data_type: text
        nullable: true
`

func startWatcher(t *testing.T, path string, onChange func(context.Context) error) {
	t.Helper()
	w, err := New(path, 100*time.Millisecond, quietLogger(), onChange)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	// Give fsnotify time to register before the test writes.
	time.Sleep(100 * time.Millisecond)
}

func waitFor(t *testing.T, calls *atomic.Int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if calls.Load() >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("calls = %d, want %d", calls.Load(), want)
}

func TestWatcherDebouncesModelEdits(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "accounts", usersV1)

	var calls atomic.Int32
	startWatcher(t, dir, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	for i := 0; i < 3; i++ {
		writeModule(t, dir, "accounts", usersV2)
	}
	waitFor(t, &calls, 1)

	time.Sleep(300 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want one call per burst", got)
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "accounts", usersV1)

	var calls atomic.Int32
	startWatcher(t, dir, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	if err := os.WriteFile(filepath.Join(dir, "accounts", "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(400 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("calls = %d, want 0", got)
	}
}

func TestWatcherNewModuleDirectory(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "accounts", usersV1)

	var calls atomic.Int32
	startWatcher(t, dir, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	if err := os.Mkdir(filepath.Join(dir, "billing"), 0o755); err != nil {
		t.Fatal(err)
	}
	waitFor(t, &calls, 1)

	writeModule(t, dir, "billing", usersV1)
	waitFor(t, &calls, 2)
}

func TestWatcherMissingPath(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "missing"), 0, quietLogger(), func(context.Context) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Run(context.Background()); err == nil {
		t.Error("expected error for missing path")
	}
}

func testEngine(t *testing.T, dir string) *engine.Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Output.Directory = filepath.Join(dir, "migrations")
	cfg.Report.Directory = filepath.Join(dir, "reports")
	e, err := engine.New(cfg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	e.SetStatePath(filepath.Join(dir, "state.yaml"))
	e.Now = func() time.Time { return time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC) }
	e.OpenProvider = func(config.SourceConfig, config.RowCountConfig) (rowcount.Provider, error) {
		return rowcount.NewStatic(map[string]int64{"accounts.users": 500000}), nil
	}
	return e
}

func TestCycleBaselineThenSave(t *testing.T) {
	dir := t.TempDir()
	models := filepath.Join(dir, "models")
	writeModule(t, models, "accounts", usersV1)

	e := testEngine(t, dir)
	var notified int
	c := &Cycle{Engine: e, Source: models, Notify: func(*Outcome) { notified++ }}

	out, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if !out.Baseline {
		t.Errorf("first cycle should record a baseline: %+v", out)
	}

	out, err = c.Run(context.Background())
	if err != nil || out.Report != nil {
		t.Errorf("unchanged cycle = %+v, %v", out, err)
	}

	writeModule(t, models, "accounts", usersV2)
	out, err = c.Run(context.Background())
	if err != nil {
		t.Fatalf("changed cycle: %v", err)
	}
	if out.Saved == nil || out.Report.Summary.Operations != 1 {
		t.Fatalf("changed cycle = %+v", out)
	}
	if notified != 1 {
		t.Errorf("notified = %d, want 1", notified)
	}

	// The saved snapshot becomes the new baseline.
	out, err = c.Run(context.Background())
	if err != nil || out.Report != nil {
		t.Errorf("cycle after save = %+v, %v", out, err)
	}
}

func TestCycleBlockedAndPending(t *testing.T) {
	dir := t.TempDir()
	models := filepath.Join(dir, "models")
	writeModule(t, models, "accounts", usersV2)

	e := testEngine(t, dir)
	c := &Cycle{Engine: e, Source: models}
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Dropping a column on a large table is HIGH risk.
	writeModule(t, models, "accounts", usersV1)

	e.Config.Review.BlockDangerous = true
	out, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if out.Blocked == nil || out.Saved != nil {
		t.Errorf("blocked cycle = %+v", out)
	}

	e.Config.Review.BlockDangerous = false
	e.Config.Review.RequireReview = true
	out, err = c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !out.Pending || out.Saved != nil {
		t.Errorf("pending cycle = %+v", out)
	}

	c.AutoApprove = true
	out, err = c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if out.Saved == nil {
		t.Errorf("approved cycle = %+v", out)
	}
	if run, ok := e.State.LastRun(); !ok || run.Risk != "HIGH" {
		t.Errorf("last run = %+v", run)
	}
}
