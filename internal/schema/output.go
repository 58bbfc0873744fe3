package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// moduleFile is the layout of a single model file inside a module directory.
type moduleFile struct {
	Tables []Table `yaml:"tables"`
}

// LoadYAML reads a snapshot from a YAML file and validates it.
func LoadYAML(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot file: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML decodes and validates a snapshot document.
func ParseYAML(data []byte) (*Snapshot, error) {
	s := &Snapshot{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	if err := Validate(s); err != nil {
		return nil, err
	}
	s.stamp()
	return s, nil
}

// LoadDir reads a snapshot from a models directory laid out as
// <dir>/<module>/*.yaml. Each subdirectory is one module; every YAML file in
// it contributes tables to that module.
func LoadDir(dir string) (*Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading models directory: %w", err)
	}

	s := &Snapshot{}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		m := Module{Name: e.Name()}
		files, err := filepath.Glob(filepath.Join(dir, e.Name(), "*.y*ml"))
		if err != nil {
			return nil, fmt.Errorf("listing module %s: %w", e.Name(), err)
		}
		sort.Strings(files)
		for _, f := range files {
			if ext := filepath.Ext(f); ext != ".yaml" && ext != ".yml" {
				continue
			}
			data, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("reading model file: %w", err)
			}
			var mf moduleFile
			if err := yaml.Unmarshal(data, &mf); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", f, err)
			}
			m.Tables = append(m.Tables, mf.Tables...)
		}
		s.Modules = append(s.Modules, m)
	}

	if err := Validate(s); err != nil {
		return nil, err
	}
	s.stamp()
	return s, nil
}

// Load reads a snapshot from either a YAML file or a models directory.
func Load(path string) (*Snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	return LoadYAML(path)
}

// WriteYAML writes the snapshot to a YAML file at the given path.
func (s *Snapshot) WriteYAML(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// ToYAML returns the snapshot as a YAML byte slice.
func (s *Snapshot) ToYAML() ([]byte, error) {
	return yaml.Marshal(s)
}

// Summary returns a human-readable summary of the snapshot.
func (s *Snapshot) Summary() string {
	var totalCols, totalFKs, totalIdx int
	for _, m := range s.Modules {
		for _, t := range m.Tables {
			totalCols += len(t.Columns)
			totalFKs += len(t.ForeignKeys())
			totalIdx += len(t.Indexes)
		}
	}

	return fmt.Sprintf(
		"Found %d modules, %d tables, %d columns\n%d foreign keys, %d indexes",
		len(s.Modules), s.TableCount(), totalCols, totalFKs, totalIdx,
	)
}
