package api

import (
	"context"

	"github.com/schemaguard/schemaguard/internal/watch"
	"github.com/schemaguard/schemaguard/internal/ws"
)

// ModelsChangedEvent is broadcast before a watched source is re-analyzed.
type ModelsChangedEvent struct {
	Source string `json:"source"`
}

// RunCycle runs one watch cycle under the analysis lock and broadcasts its
// outcome to websocket clients.
func (s *Server) RunCycle(ctx context.Context, c *watch.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.publish(ws.MsgModelsChanged, ModelsChangedEvent{Source: c.Source})
	out, err := c.Run(ctx)
	if err != nil {
		s.logger.Error("watch cycle failed", "source", c.Source, "error", err)
		s.broadcastError(err)
		return err
	}
	if out.Report == nil {
		return nil
	}

	ev := AnalysisEvent{ID: out.Report.ID, Summary: out.Report.Summary, Saved: out.Saved != nil}
	switch {
	case out.Blocked != nil:
		ev.Reason = out.Blocked.Reason
		s.publish(ws.MsgAnalysisBlocked, ev)
	case out.Pending:
		ev.Reason = "review required"
		s.publish(ws.MsgAnalysisComplete, ev)
	default:
		s.publish(ws.MsgAnalysisComplete, ev)
	}
	return nil
}
