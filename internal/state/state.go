package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schemaguard/schemaguard/internal/config"
	"github.com/schemaguard/schemaguard/internal/schema"
)

const DefaultPath = "~/.schemaguard/state.yaml"

// MaxHistory is the number of past runs kept in state.
const MaxHistory = 20

// State holds the last analysed snapshot and a short run history.
type State struct {
	LastUpdated time.Time `yaml:"last_updated"`
	// Snapshot is the "after" schema of the last analysis. Watch mode
	// diffs new model files against it.
	Snapshot *schema.Snapshot `yaml:"snapshot,omitempty"`
	History  []Run            `yaml:"history,omitempty"`
}

// Run summarizes one completed analysis.
type Run struct {
	ID         string    `yaml:"id" json:"id"`
	AnalyzedAt time.Time `yaml:"analyzed_at" json:"analyzed_at"`
	Source     string    `yaml:"source,omitempty" json:"source,omitempty"`
	Operations int       `yaml:"operations" json:"operations"`
	Risk       string    `yaml:"risk" json:"risk"`
	Staged     bool      `yaml:"staged,omitempty" json:"staged,omitempty"`
	Migrations []string  `yaml:"migrations,omitempty" json:"migrations,omitempty"`
	Report     string    `yaml:"report,omitempty" json:"report,omitempty"`
}

// Load reads the state from disk.
func Load(path string) (*State, error) {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}

	s := &State{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing state: %w", err)
	}
	if s.Snapshot != nil {
		if err := schema.Validate(s.Snapshot); err != nil {
			return nil, fmt.Errorf("cached snapshot: %w", err)
		}
	}

	return s, nil
}

// Save writes the state to disk.
func (s *State) Save(path string) error {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}

	s.LastUpdated = time.Now()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// New creates an empty state.
func New() *State {
	return &State{LastUpdated: time.Now()}
}

// Record stores a run and the snapshot it analysed, newest first.
func (s *State) Record(run Run, snapshot *schema.Snapshot) {
	if snapshot != nil {
		s.Snapshot = snapshot.Clone()
	}
	s.History = append([]Run{run}, s.History...)
	if len(s.History) > MaxHistory {
		s.History = s.History[:MaxHistory]
	}
}

// LastRun returns the most recent run.
func (s *State) LastRun() (Run, bool) {
	if len(s.History) == 0 {
		return Run{}, false
	}
	return s.History[0], true
}
