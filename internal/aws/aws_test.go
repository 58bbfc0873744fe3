package aws

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPublish(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "manifest.yaml")
	if err := os.WriteFile(manifest, []byte("migrations: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewMemoryStore()
	store.Objects["reports/schemaguard/20260402T093000Z/stale.json"] = Object{}
	p := NewPublisher(store, "reports", "schemaguard")
	p.now = func() time.Time { return time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC) }

	res, err := p.Publish(context.Background(), "20260402T093000Z", map[string]string{"risk": "HIGH"}, []Artifact{
		{Name: "report.json", Data: []byte(`{}`)},
		{Path: manifest},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if res.Account != "123456789012" {
		t.Errorf("account = %q", res.Account)
	}
	want := []string{
		"s3://reports/schemaguard/20260402T093000Z/report.json",
		"s3://reports/schemaguard/20260402T093000Z/manifest.yaml",
		"s3://reports/schemaguard/20260402T093000Z/index.json",
	}
	if len(res.URIs) != len(want) {
		t.Fatalf("URIs = %v, want %v", res.URIs, want)
	}
	for i := range want {
		if res.URIs[i] != want[i] {
			t.Errorf("URIs[%d] = %q, want %q", i, res.URIs[i], want[i])
		}
	}

	if _, ok := store.Objects["reports/schemaguard/20260402T093000Z/stale.json"]; ok {
		t.Error("earlier upload should be cleared")
	}
	obj := store.Objects["reports/schemaguard/20260402T093000Z/manifest.yaml"]
	if string(obj.Body) != "migrations: []\n" || obj.Metadata["risk"] != "HIGH" {
		t.Errorf("manifest object = %+v", obj)
	}

	var idx index
	if err := json.Unmarshal(store.Objects["reports/schemaguard/20260402T093000Z/index.json"].Body, &idx); err != nil {
		t.Fatal(err)
	}
	if idx.ID != "20260402T093000Z" || len(idx.Files) != 2 || idx.Files[1] != "manifest.yaml" {
		t.Errorf("index = %+v", idx)
	}
}

func TestPublishBadCredentials(t *testing.T) {
	store := NewMemoryStore()
	store.IdentityErr = errors.New("expired token")

	_, err := NewPublisher(store, "reports", "").Publish(context.Background(), "x", nil, []Artifact{{Name: "a.json", Data: []byte("{}")}})
	if err == nil {
		t.Fatal("expected credential error")
	}
	if len(store.Objects) != 0 || len(store.Deleted) != 0 {
		t.Error("nothing should be touched without credentials")
	}
}

func TestPublishMissingFile(t *testing.T) {
	store := NewMemoryStore()
	_, err := NewPublisher(store, "reports", "").Publish(context.Background(), "x", nil,
		[]Artifact{{Path: filepath.Join(t.TempDir(), "missing.json")}})
	if err == nil {
		t.Fatal("expected error for a missing artifact")
	}
	if len(store.Deleted) != 0 {
		t.Error("earlier upload should survive a failed publish")
	}
}

func TestPublishUploadError(t *testing.T) {
	store := NewMemoryStore()
	store.PutErr = errors.New("access denied")

	_, err := NewPublisher(store, "reports", "").Publish(context.Background(), "x", nil, []Artifact{{Name: "a.json", Data: []byte("{}")}})
	if err == nil {
		t.Error("expected upload error")
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"a/report.json":   "application/json",
		"a/report.md":     "text/markdown; charset=utf-8",
		"a/001_x.sql":     "text/plain; charset=utf-8",
		"a/manifest.yaml": "application/yaml",
		"a/blob":          "application/octet-stream",
	}
	for key, want := range tests {
		if got := contentType(key); got != want {
			t.Errorf("contentType(%q) = %q, want %q", key, got, want)
		}
	}
}
