package report

import (
	"github.com/schemaguard/schemaguard/internal/config"
	"github.com/schemaguard/schemaguard/internal/engine"
	"github.com/schemaguard/schemaguard/internal/schema"
)

// Saved lists what Save wrote for one analysis.
type Saved struct {
	Report        *AnalysisReport
	MigrationsDir string
	Paths         []string
}

// Save writes the migrations and reports of an analysis and records the
// run in state so the next analysis can diff against after.
func Save(e *engine.Engine, r *engine.Result, src Sources, after *schema.Snapshot) (*Saved, error) {
	out := &Saved{}

	if r.Changes.Len() > 0 {
		dir, err := e.WriteMigrations(r)
		if err != nil {
			return nil, err
		}
		out.MigrationsDir = dir
	}

	out.Report = Generate(r, src, e.CheckResults())
	paths, err := Write(out.Report, config.ExpandHome(e.Config.Report.Directory), e.Config.Report.Formats)
	if err != nil {
		return nil, err
	}
	out.Paths = paths

	var reportPath string
	if len(paths) > 0 {
		reportPath = paths[0]
	}
	if err := e.Record(r, src.After, after, reportPath); err != nil {
		return nil, err
	}
	e.Logger.Info("analysis saved", "id", r.ID, "reports", len(paths), "migrations", out.MigrationsDir)
	return out, nil
}
