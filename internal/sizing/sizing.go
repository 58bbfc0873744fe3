package sizing

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schemaguard/schemaguard/internal/diff"
	"github.com/schemaguard/schemaguard/internal/planner"
	"github.com/schemaguard/schemaguard/internal/risk"
)

// Rates used to scale row-dependent estimates: rows processed per second.
const (
	addColumnRowsPerSec  = 10000
	alterTypeRowsPerSec  = 5000
	buildIndexRowsPerSec = 1000
)

// OperationEstimate is the expected lock time of a single operation.
type OperationEstimate struct {
	Operation string        `yaml:"operation" json:"operation"`
	Module    string        `yaml:"module" json:"module"`
	Rows      int64         `yaml:"rows" json:"rows"`
	Duration  time.Duration `yaml:"duration" json:"duration"`
}

// StepEstimate sums the operations of one plan step.
type StepEstimate struct {
	Index    int              `yaml:"index" json:"index"`
	Kind     planner.StepKind `yaml:"kind" json:"kind"`
	Duration time.Duration    `yaml:"duration" json:"duration"`
}

// Estimate contains the downtime estimate for a plan.
type Estimate struct {
	Operations   []OperationEstimate `yaml:"operations" json:"operations"`
	Steps        []StepEstimate      `yaml:"steps" json:"steps"`
	Total        time.Duration       `yaml:"total" json:"total"`
	Explanations []Explanation       `yaml:"explanations" json:"explanations"`
}

// EstimateOperation returns the expected duration of op on a table with the
// given number of rows. Unknown row counts are passed as zero.
func EstimateOperation(op diff.Operation, rows int64) time.Duration {
	switch op.Kind {
	case diff.CreateTable:
		return time.Second
	case diff.DropTable:
		return 2 * time.Second
	case diff.AddColumn:
		return seconds(max(1, rows/addColumnRowsPerSec))
	case diff.DropColumn:
		return 5 * time.Second
	case diff.AlterColumnType:
		return seconds(max(5, rows/alterTypeRowsPerSec))
	case diff.AddIndex:
		return seconds(max(10, rows/buildIndexRowsPerSec))
	default:
		return time.Second
	}
}

// Calculate estimates every operation of plan in step order.
func Calculate(plan *planner.MigrationPlan, counts risk.RowCounts) *Estimate {
	est := &Estimate{}
	for _, step := range plan.Steps {
		se := StepEstimate{Index: step.Index, Kind: step.Kind}
		for _, op := range step.Changes.Operations() {
			var rows int64
			if op.Kind != diff.CreateTable {
				rows, _ = counts.Lookup(op.Ref())
			}
			d := EstimateOperation(op, rows)
			est.Operations = append(est.Operations, OperationEstimate{
				Operation: op.String(),
				Module:    op.Module,
				Rows:      rows,
				Duration:  d,
			})
			se.Duration += d
		}
		est.Steps = append(est.Steps, se)
		est.Total += se.Duration
	}
	est.Explanations = generateExplanations(est)
	return est
}

// WriteYAML writes the estimate to a YAML file.
func (e *Estimate) WriteYAML(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	data, err := yaml.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling estimate: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// LoadYAML reads an estimate from a YAML file.
func LoadYAML(path string) (*Estimate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading estimate: %w", err)
	}

	var e Estimate
	if err := yaml.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("parsing estimate: %w", err)
	}
	return &e, nil
}

// FormatDuration returns a human-readable duration string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	if mins == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, mins)
}

func seconds(n int64) time.Duration {
	return time.Duration(n) * time.Second
}
