package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/schemaguard/schemaguard/internal/deps"
	"github.com/schemaguard/schemaguard/internal/engine"
	"github.com/schemaguard/schemaguard/internal/report"
	"github.com/schemaguard/schemaguard/internal/schema"
	"github.com/schemaguard/schemaguard/internal/validation"
	"github.com/schemaguard/schemaguard/internal/ws"
)

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before, beforeName, err := s.resolveBefore(r, req)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	after, afterName, err := s.resolveSnapshot(r, req.AfterSnapshot, req.After)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, fmt.Sprintf("after: %v", err))
		return
	}
	if after == nil {
		errorResponse(w, http.StatusBadRequest, "after snapshot is required")
		return
	}

	s.publish(ws.MsgAnalysisStarted, map[string]string{"before": beforeName, "after": afterName})

	res, err := s.engine.Analyze(r.Context(), before, after)
	if err != nil {
		s.broadcastError(err)
		errorResponse(w, analyzeStatus(err), err.Error())
		return
	}

	src := report.Sources{Before: beforeName, After: afterName}
	resp := AnalyzeResponse{}

	if err := s.engine.Review(res); err != nil {
		var blocked *engine.BlockedError
		if !errors.As(err, &blocked) {
			errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Report = report.Generate(res, src, nil)
		resp.Blocked = blocked.Error()
		s.publish(ws.MsgAnalysisBlocked, AnalysisEvent{ID: res.ID, Summary: resp.Report.Summary, Reason: resp.Blocked})
		jsonResponse(w, http.StatusConflict, resp)
		return
	}

	resp.NeedsReview = res.NeedsReview(s.engine.Config.Review)
	if req.Save && (!resp.NeedsReview || req.Approve) {
		saved, err := report.Save(s.engine, res, src, after)
		if err != nil {
			s.broadcastError(err)
			errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Report = saved.Report
		resp.Saved = true
		resp.MigrationsDir = saved.MigrationsDir
		resp.ReportPaths = saved.Paths
	} else {
		resp.Report = report.Generate(res, src, nil)
	}

	s.publish(ws.MsgAnalysisComplete, AnalysisEvent{ID: res.ID, Summary: resp.Report.Summary, Saved: resp.Saved})
	jsonResponse(w, http.StatusOK, resp)
}

// resolveBefore falls back to the cached snapshot when the request names
// no before side.
func (s *Server) resolveBefore(r *http.Request, req AnalyzeRequest) (*schema.Snapshot, string, error) {
	snap, name, err := s.resolveSnapshot(r, req.BeforeSnapshot, req.Before)
	if err != nil {
		return nil, "", fmt.Errorf("before: %w", err)
	}
	if snap != nil {
		return snap, name, nil
	}
	st, err := s.engine.LoadState()
	if err != nil {
		return nil, "", err
	}
	if st.Snapshot == nil {
		return nil, "", fmt.Errorf("no cached snapshot; pass a before snapshot")
	}
	return st.Snapshot, "cached", nil
}

func (s *Server) resolveSnapshot(r *http.Request, inline *schema.Snapshot, source string) (*schema.Snapshot, string, error) {
	if inline != nil {
		return inline, "request", nil
	}
	if source == "" {
		return nil, "", nil
	}
	snap, err := s.engine.LoadSnapshot(r.Context(), source)
	if err != nil {
		return nil, "", err
	}
	return snap, source, nil
}

func analyzeStatus(err error) int {
	var malformed *schema.MalformedSnapshotError
	var cycle *deps.CycleError
	if errors.As(err, &malformed) || errors.As(err, &cycle) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	res := s.engine.LastResult()
	if res == nil {
		errorResponse(w, http.StatusNotFound, "no analysis yet")
		return
	}
	jsonResponse(w, http.StatusOK, report.Generate(res, report.Sources{}, s.engine.CheckResults()))
}

func (s *Server) handleLatestMigration(w http.ResponseWriter, r *http.Request) {
	res := s.engine.LastResult()
	if res == nil {
		errorResponse(w, http.StatusNotFound, "no analysis yet")
		return
	}
	name := r.PathValue("name")
	if name == res.RollbackFilename() {
		textResponse(w, res.RollbackScript)
		return
	}
	for _, f := range res.Migrations {
		if f.Filename() == name || f.Name == name {
			textResponse(w, f.Content)
			return
		}
	}
	errorResponse(w, http.StatusNotFound, fmt.Sprintf("no migration %q in analysis %s", name, res.ID))
}

func (s *Server) handleRunChecks(w http.ResponseWriter, r *http.Request) {
	if s.engine.LastResult() == nil {
		errorResponse(w, http.StatusConflict, "no analysis to check; run an analysis first")
		return
	}

	result, err := s.engine.RunChecks(r.Context(), func(c validation.Check, passed bool) {
		s.publish(ws.MsgCheckResult, CheckEvent{
			Module:      c.Module,
			Table:       c.Table,
			Description: c.Description,
			Passed:      passed,
		})
	})
	if err != nil {
		s.broadcastError(err)
		errorResponse(w, http.StatusBadGateway, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.LoadState()
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := StatusResponse{
		Source:  s.engine.Config.Source.Type,
		History: st.History,
		Checks:  s.engine.CheckResults(),
	}
	if st.Snapshot != nil {
		resp.HasSnapshot = true
		resp.Modules = len(st.Snapshot.Modules)
		resp.Tables = st.Snapshot.TableCount()
	}
	if run, ok := st.LastRun(); ok {
		resp.LastRun = &run
	}
	if res := s.engine.LastResult(); res != nil {
		resp.LastResult = res.ID
	}
	if s.hub != nil {
		resp.Clients = s.hub.ClientCount()
	}
	jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) publish(typ ws.MessageType, payload any) {
	if s.hub != nil {
		s.hub.Publish(typ, payload)
	}
}

func (s *Server) broadcastError(err error) {
	if s.hub != nil {
		s.hub.BroadcastError(err.Error())
	}
}

// latestJSON feeds new websocket clients the last analysis.
func (s *Server) latestJSON() ([]byte, error) {
	res := s.engine.LastResult()
	if res == nil {
		return nil, nil
	}
	return report.MarshalJSON(report.Generate(res, report.Sources{}, s.engine.CheckResults()))
}
