package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/schemaguard/schemaguard/internal/report"
	"github.com/schemaguard/schemaguard/internal/schema"
)

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"abc", "***"},
		{"secret-password", "se***********rd"},
	}
	for _, tt := range tests {
		if got := maskSecret(tt.in); got != tt.want {
			t.Errorf("maskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderUnknownFormat(t *testing.T) {
	if _, err := render(&report.AnalysisReport{}, "pdf"); err == nil {
		t.Error("expected error for unknown format")
	}
	out, err := render(&report.AnalysisReport{ID: "x"}, report.JSON)
	if err != nil || !strings.Contains(out, `"id": "x"`) {
		t.Errorf("render json = %q, %v", out, err)
	}
}

// testApp points config, logs and state at a temp HOME.
func testApp(t *testing.T) *app {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	cfgFile, statePath, logLevel = "", filepath.Join(home, "state.yaml"), "error"
	t.Cleanup(func() { cfgFile, statePath, logLevel = "", "", "" })

	a, err := newApp()
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func writeSnapshot(t *testing.T, name string) string {
	t.Helper()
	s := schema.New(map[string][]schema.Table{
		"accounts": {{Name: "users", Columns: []schema.Column{{Name: "id", DataType: "integer"}}}},
	})
	path := filepath.Join(t.TempDir(), name)
	if err := s.WriteYAML(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPair(t *testing.T) {
	a := testApp(t)
	after := writeSnapshot(t, "after.yaml")

	if _, _, _, err := a.loadPair(context.Background(), "", ""); err == nil {
		t.Error("expected error without --after")
	}
	if _, _, _, err := a.loadPair(context.Background(), "", after); err == nil || !strings.Contains(err.Error(), "no cached snapshot") {
		t.Errorf("without cache = %v", err)
	}

	before := writeSnapshot(t, "before.yaml")
	b, af, name, err := a.loadPair(context.Background(), before, after)
	if err != nil {
		t.Fatalf("loadPair: %v", err)
	}
	if b == nil || af == nil || name != before {
		t.Errorf("loadPair = %v, %v, %q", b, af, name)
	}

	if _, _, _, err := a.loadPair(context.Background(), filepath.Join(os.TempDir(), "missing-snapshot.yaml"), after); err == nil {
		t.Error("expected error for a missing before file")
	}
}
