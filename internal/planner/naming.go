package planner

import (
	"fmt"
	"strings"
	"time"

	"github.com/schemaguard/schemaguard/internal/diff"
	"github.com/schemaguard/schemaguard/internal/risk"
)

// Naming controls how migration names are built.
type Naming struct {
	Format          string `yaml:"format" toml:"format"`
	TimestampLayout string `yaml:"timestamp_layout" toml:"timestamp_layout"`
	DangerousSuffix string `yaml:"dangerous_suffix" toml:"dangerous_suffix"`
	StagedSuffix    string `yaml:"staged_suffix" toml:"staged_suffix"`
}

// DefaultNaming returns the stock naming convention.
func DefaultNaming() Naming {
	return Naming{
		Format:          "{timestamp}_{module}_{description}",
		TimestampLayout: "2006_01_02_1504",
		DangerousSuffix: "_DANGEROUS",
		StagedSuffix:    "_staged",
	}
}

// Describe summarizes a change set by operation counts, for example
// "create_2_tables_add_1_columns".
func Describe(cs diff.ChangeSet) string {
	counts := cs.CountByKind()
	var parts []string
	if n := counts[diff.CreateTable]; n > 0 {
		parts = append(parts, fmt.Sprintf("create_%d_tables", n))
	}
	if n := counts[diff.AddColumn]; n > 0 {
		parts = append(parts, fmt.Sprintf("add_%d_columns", n))
	}
	if n := counts[diff.DropTable]; n > 0 {
		parts = append(parts, fmt.Sprintf("drop_%d_tables", n))
	}
	if n := counts[diff.DropColumn]; n > 0 {
		parts = append(parts, fmt.Sprintf("drop_%d_columns", n))
	}
	if counts[diff.AlterColumnType] > 0 {
		parts = append(parts, "alter_column_types")
	}
	if len(parts) == 0 {
		return "schema_changes"
	}
	return strings.Join(parts, "_")
}

// Name builds a migration name from the naming convention. Staged plans get
// the staged suffix and HIGH-risk plans the dangerous suffix.
func (n Naming) Name(module, description string, staged bool, level risk.Level, now time.Time) string {
	def := DefaultNaming()
	if n.Format == "" {
		n.Format = def.Format
	}
	if n.TimestampLayout == "" {
		n.TimestampLayout = def.TimestampLayout
	}

	name := strings.NewReplacer(
		"{timestamp}", now.Format(n.TimestampLayout),
		"{module}", module,
		"{description}", description,
	).Replace(n.Format)

	if staged {
		name += n.StagedSuffix
	}
	if level == risk.High {
		name += n.DangerousSuffix
	}
	return name
}
