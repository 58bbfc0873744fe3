package watch

import (
	"context"
	"errors"
	"fmt"

	"github.com/schemaguard/schemaguard/internal/engine"
	"github.com/schemaguard/schemaguard/internal/report"
)

// Outcome is the result of one watch cycle. Report is nil when the cycle
// only recorded a baseline or found no changes.
type Outcome struct {
	Report   *report.AnalysisReport
	Saved    *report.Saved
	Blocked  *engine.BlockedError
	Baseline bool
	// Pending is set when the plan needs review and AutoApprove is off.
	Pending bool
}

// Cycle analyses the watched source against the snapshot cached by the
// last saved run.
type Cycle struct {
	Engine *engine.Engine
	Source string
	// AutoApprove saves plans that would otherwise need review.
	AutoApprove bool
	// Notify is called with every outcome that carries a report.
	Notify func(*Outcome)
}

// Run performs one cycle.
func (c *Cycle) Run(ctx context.Context) (*Outcome, error) {
	e := c.Engine
	after, err := e.LoadSnapshot(ctx, c.Source)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", c.Source, err)
	}

	st, err := e.LoadState()
	if err != nil {
		return nil, err
	}
	if st.Snapshot == nil {
		st.Snapshot = after.Clone()
		if err := e.SaveState(); err != nil {
			return nil, err
		}
		e.Logger.Info("baseline snapshot recorded", "source", c.Source, "tables", after.TableCount())
		return &Outcome{Baseline: true}, nil
	}

	r, err := e.Analyze(ctx, st.Snapshot, after)
	if err != nil {
		return nil, err
	}
	if r.Changes.IsEmpty() {
		e.Logger.Debug("no schema changes", "source", c.Source)
		return &Outcome{}, nil
	}

	src := report.Sources{Before: "cached", After: c.Source}
	out := &Outcome{}

	if err := e.Review(r); err != nil {
		if !errors.As(err, &out.Blocked) {
			return nil, err
		}
		out.Report = report.Generate(r, src, nil)
		e.Logger.Warn("plan blocked", "id", r.ID, "reason", out.Blocked.Reason)
		c.notify(out)
		return out, nil
	}

	if r.NeedsReview(e.Config.Review) && !c.AutoApprove {
		out.Pending = true
		out.Report = report.Generate(r, src, nil)
		e.Logger.Warn("plan needs review; run analyze to confirm it", "id", r.ID, "risk", r.Level())
		c.notify(out)
		return out, nil
	}

	saved, err := report.Save(e, r, src, after)
	if err != nil {
		return nil, err
	}
	out.Saved = saved
	out.Report = saved.Report
	c.notify(out)
	return out, nil
}

func (c *Cycle) notify(out *Outcome) {
	if c.Notify != nil {
		c.Notify(out)
	}
}
