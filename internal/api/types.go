package api

import (
	"github.com/schemaguard/schemaguard/internal/report"
	"github.com/schemaguard/schemaguard/internal/schema"
	"github.com/schemaguard/schemaguard/internal/state"
	"github.com/schemaguard/schemaguard/internal/validation"
)

// AnalyzeRequest is the request body for POST /api/analyze. Each side is
// either an inline snapshot or a source (file, directory or "live"). An
// empty before falls back to the snapshot cached by the last saved run.
type AnalyzeRequest struct {
	Before         string           `json:"before,omitempty"`
	After          string           `json:"after,omitempty"`
	BeforeSnapshot *schema.Snapshot `json:"before_snapshot,omitempty"`
	AfterSnapshot  *schema.Snapshot `json:"after_snapshot,omitempty"`
	// Save writes migrations and reports and records the run.
	Save bool `json:"save,omitempty"`
	// Approve confirms a plan that needs review.
	Approve bool `json:"approve,omitempty"`
}

// AnalyzeResponse is the API response for an analysis.
type AnalyzeResponse struct {
	Report        *report.AnalysisReport `json:"report"`
	Saved         bool                   `json:"saved"`
	MigrationsDir string                 `json:"migrations_dir,omitempty"`
	ReportPaths   []string               `json:"report_paths,omitempty"`
	Blocked       string                 `json:"blocked,omitempty"`
	NeedsReview   bool                   `json:"needs_review,omitempty"`
}

// AnalysisEvent is broadcast to websocket clients after each analysis.
type AnalysisEvent struct {
	ID      string         `json:"id"`
	Summary report.Summary `json:"summary"`
	Saved   bool           `json:"saved"`
	Reason  string         `json:"reason,omitempty"`
}

// CheckEvent is broadcast after each pre-flight check.
type CheckEvent struct {
	Module      string `json:"module"`
	Table       string `json:"table"`
	Description string `json:"description"`
	Passed      bool   `json:"passed"`
}

// StatusResponse is the API response for GET /api/status.
type StatusResponse struct {
	Source      string             `json:"source,omitempty"`
	HasSnapshot bool               `json:"has_snapshot"`
	Modules     int                `json:"modules,omitempty"`
	Tables      int                `json:"tables,omitempty"`
	LastRun     *state.Run         `json:"last_run,omitempty"`
	History     []state.Run        `json:"history,omitempty"`
	LastResult  string             `json:"last_result,omitempty"`
	Checks      *validation.Result `json:"checks,omitempty"`
	Clients     int                `json:"clients"`
}
