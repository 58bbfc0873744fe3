package typemap

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPostgresFamilies(t *testing.T) {
	tm := DefaultPostgres()

	tests := []struct {
		sourceType string
		want       Family
	}{
		{"integer", Integer},
		{"bigint", BigInt},
		{"text", Text},
		{"boolean", Boolean},
		{"timestamp with time zone", Timestamp},
		{"bytea", Binary},
		{"jsonb", JSON},
		{"NUMERIC", Numeric},
		{"double precision", Double},
	}

	for _, tt := range tests {
		t.Run(tt.sourceType, func(t *testing.T) {
			got := tm.Resolve(tt.sourceType)
			if got != tt.want {
				t.Errorf("Resolve(%q) = %s, want %s", tt.sourceType, got, tt.want)
			}
		})
	}
}

func TestUnknownTypeResolvesToUnknown(t *testing.T) {
	if got := DefaultPostgres().Resolve("tsvector"); got != Unknown {
		t.Errorf("expected Unknown, got %s", got)
	}
}

func TestDefaultOracleFamilies(t *testing.T) {
	tm := DefaultOracle()
	if tm.Resolve("NUMBER") != Numeric {
		t.Error("expected NUMBER -> NUMERIC")
	}
	if tm.Resolve("VARCHAR2") != Varchar {
		t.Error("expected VARCHAR2 -> VARCHAR")
	}
	if tm.Resolve("CLOB") != Text {
		t.Error("expected CLOB -> TEXT")
	}
}

func TestParse(t *testing.T) {
	tm := ForDatabase("postgresql")
	tests := []struct {
		in     string
		family Family
		length int
	}{
		{"varchar(255)", Varchar, 255},
		{"VARCHAR (32)", Varchar, 32},
		{"numeric(10, 2)", Numeric, 10},
		{"text", Text, 0},
		{"character varying", Varchar, 0},
	}
	for _, tt := range tests {
		got := tm.Parse(tt.in)
		if got.Family != tt.family || got.Length != tt.length {
			t.Errorf("Parse(%q) = %+v, want {%s %d}", tt.in, got, tt.family, tt.length)
		}
	}
}

func TestLossy(t *testing.T) {
	tm := ForDatabase("postgresql")
	tests := []struct {
		from, to string
		want     bool
	}{
		{"varchar(255)", "integer", true},
		{"text", "varchar(100)", true},
		{"bigint", "integer", true},
		{"numeric(10,2)", "integer", true},
		{"timestamp", "date", true},
		{"double precision", "real", true},
		{"varchar(255)", "varchar(100)", true},
		{"varchar(100)", "varchar(255)", false},
		{"integer", "bigint", false},
		{"varchar(32)", "text", false},
		{"tsvector", "integer", false},
	}
	for _, tt := range tests {
		got, reason := tm.Lossy(tt.from, tt.to)
		if got != tt.want {
			t.Errorf("Lossy(%q, %q) = %v (%s), want %v", tt.from, tt.to, got, reason, tt.want)
		}
		if got && reason == "" {
			t.Errorf("Lossy(%q, %q) returned no reason", tt.from, tt.to)
		}
	}
}

func TestOverrideAndRestore(t *testing.T) {
	tm := ForDatabase("postgresql")

	tm.Override("citext", Text)
	if tm.Resolve("citext") != Text {
		t.Error("override not applied")
	}
	if !tm.IsOverridden("citext") {
		t.Error("expected citext to be overridden")
	}

	tm.Override("integer", Integer)
	if tm.IsOverridden("integer") {
		t.Error("override equal to default should not be tracked")
	}

	tm.Override("integer", BigInt)
	tm.RestoreDefault("integer")
	if tm.Resolve("integer") != Integer {
		t.Errorf("after restore got %s, want INTEGER", tm.Resolve("integer"))
	}
}

func TestLoadYAMLLayersOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "types.yaml")
	doc := "mappings:\n  citext: TEXT\n  money: NUMERIC\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	tm, err := LoadYAML(path)
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	if tm.Resolve("citext") != Text {
		t.Errorf("citext = %s, want TEXT", tm.Resolve("citext"))
	}
	if tm.Resolve("bigint") != BigInt {
		t.Errorf("defaults lost: bigint = %s", tm.Resolve("bigint"))
	}

	out := filepath.Join(t.TempDir(), "out", "types.yaml")
	if err := tm.WriteYAML(out); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("type map file not written: %v", err)
	}
}
