package engine

import (
	"fmt"
	"os"
	"time"

	"github.com/schemaguard/schemaguard/internal/codegen"
	"github.com/schemaguard/schemaguard/internal/config"
	"github.com/schemaguard/schemaguard/internal/diff"
	"github.com/schemaguard/schemaguard/internal/planner"
	"github.com/schemaguard/schemaguard/internal/risk"
	"github.com/schemaguard/schemaguard/internal/rollback"
	"github.com/schemaguard/schemaguard/internal/sizing"
	"github.com/schemaguard/schemaguard/internal/validation"
)

// Result is the outcome of one analysis.
type Result struct {
	ID         string         `json:"id"`
	AnalyzedAt time.Time      `json:"analyzed_at"`
	Changes    diff.ChangeSet `json:"changes"`
	// RowCounts is keyed by table; Tables carries the same data for encoding.
	RowCounts      risk.RowCounts         `json:"-"`
	Tables         []TableCount           `json:"row_counts"`
	Risk           *risk.Report           `json:"risk"`
	ModuleOrder    []string               `json:"module_order"`
	Plan           *planner.MigrationPlan `json:"plan"`
	Estimate       *sizing.Estimate       `json:"estimate"`
	Rollback       []rollback.Step        `json:"rollback"`
	RollbackScript string                 `json:"rollback_script,omitempty"`
	Checks         []validation.Check     `json:"checks"`
	Migrations     []codegen.File         `json:"migrations"`
}

// TableCount is the known row count of one table.
type TableCount struct {
	Module string `json:"module"`
	Table  string `json:"table"`
	Rows   int64  `json:"rows"`
}

// Level returns the aggregate risk level of the analysis.
func (r *Result) Level() risk.Level {
	return r.Risk.Aggregate.Level
}

// RollbackFilename returns the file name of the rollback script.
func (r *Result) RollbackFilename() string {
	return "rollback_" + r.ID + ".sql"
}

// BlockedError is returned when the review gate refuses a plan.
type BlockedError struct {
	Level  risk.Level
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("migration blocked (%s risk): %s", e.Level, e.Reason)
}

// Gate refuses HIGH risk plans when dangerous migrations are blocked.
func (r *Result) Gate(review config.ReviewConfig) error {
	if review.BlockDangerous && r.Level() == risk.High {
		return &BlockedError{
			Level:  r.Level(),
			Reason: "dangerous migrations are blocked by configuration; review the plan and apply it manually",
		}
	}
	return nil
}

// NeedsReview reports whether the plan must be confirmed before files are written.
func (r *Result) NeedsReview(review config.ReviewConfig) bool {
	return review.RequireReview && r.Level() > risk.Low
}

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0644)
}
