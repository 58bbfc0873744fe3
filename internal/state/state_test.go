package state

import (
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/schemaguard/schemaguard/internal/schema"
)

func TestLoadMissingReturnsEmpty(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "state.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Snapshot != nil || len(s.History) != 0 {
		t.Errorf("expected empty state, got %+v", s)
	}
}

func TestRecordAndRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.yaml")
	snap := schema.New(map[string][]schema.Table{
		"accounts": {{
			Name:    "users",
			Columns: []schema.Column{{Name: "id", DataType: "integer"}},
		}},
	})

	s := New()
	s.Record(Run{ID: "r1", AnalyzedAt: time.Now(), Operations: 2, Risk: "LOW"}, snap)
	s.Record(Run{ID: "r2", AnalyzedAt: time.Now(), Operations: 1, Risk: "HIGH", Staged: true}, snap)
	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	last, ok := loaded.LastRun()
	if !ok || last.ID != "r2" || !last.Staged {
		t.Errorf("LastRun = %+v, %v", last, ok)
	}
	if len(loaded.History) != 2 {
		t.Errorf("history length = %d, want 2", len(loaded.History))
	}
	if _, ok := loaded.Snapshot.Table("accounts", "users"); !ok {
		t.Error("cached snapshot lost accounts.users")
	}
}

func TestRecordCapsHistory(t *testing.T) {
	s := New()
	for i := 0; i < MaxHistory+5; i++ {
		s.Record(Run{ID: strconv.Itoa(i)}, nil)
	}
	if len(s.History) != MaxHistory {
		t.Errorf("history length = %d, want %d", len(s.History), MaxHistory)
	}
	if s.Snapshot != nil {
		t.Error("nil snapshot should not replace the cache")
	}
}
