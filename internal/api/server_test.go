package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/schemaguard/schemaguard/internal/config"
	"github.com/schemaguard/schemaguard/internal/engine"
	"github.com/schemaguard/schemaguard/internal/risk"
	"github.com/schemaguard/schemaguard/internal/rowcount"
	"github.com/schemaguard/schemaguard/internal/schema"
	"github.com/schemaguard/schemaguard/internal/validation"
	"github.com/schemaguard/schemaguard/internal/ws"
)

// checkingProvider is a static row-count source that can also run
// pre-flight checks.
type checkingProvider struct {
	rowcount.MockProvider
	result int64
}

func (c *checkingProvider) Count(context.Context, string) (int64, error) {
	return c.result, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testServer creates a Server whose engine writes into a temp directory.
func testServer(t *testing.T, rows int64, opts ...Option) (*Server, *engine.Engine) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Output.Directory = filepath.Join(dir, "migrations")
	cfg.Report.Directory = filepath.Join(dir, "reports")

	eng, err := engine.New(cfg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	eng.SetStatePath(filepath.Join(dir, "state.yaml"))
	eng.Now = func() time.Time { return time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC) }
	p := &checkingProvider{
		MockProvider: rowcount.MockProvider{Counts: map[schema.TableRef]int64{{Module: "accounts", Table: "users"}: rows}},
	}
	eng.OpenProvider = func(config.SourceConfig, config.RowCountConfig) (rowcount.Provider, error) {
		return p, nil
	}
	return New(eng, quietLogger(), "127.0.0.1:0", opts...), eng
}

func users(emailNullable bool) *schema.Snapshot {
	return schema.New(map[string][]schema.Table{
		"accounts": {{
			Name: "users",
			Columns: []schema.Column{
				{Name: "id", DataType: "integer"},
				{Name: "email", DataType: "varchar(255)", Nullable: emailNullable},
			},
		}},
	})
}

func withNickname() *schema.Snapshot {
	s := users(true)
	tbl, _ := s.Table("accounts", "users")
	tbl.Columns = append(tbl.Columns, schema.Column{Name: "nickname", DataType: "text", Nullable: true})
	return s
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(method, path, r))
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := testServer(t, 0)
	w := do(t, s, "GET", "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAnalyzeInline(t *testing.T) {
	s, eng := testServer(t, 20)

	w := do(t, s, "POST", "/api/analyze", AnalyzeRequest{
		BeforeSnapshot: users(true),
		AfterSnapshot:  withNickname(),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	resp := decode[AnalyzeResponse](t, w)
	if resp.Saved {
		t.Error("analysis without save should not be saved")
	}
	if resp.Report.Summary.Operations != 1 || resp.Report.Summary.Risk != risk.Low {
		t.Errorf("summary = %+v", resp.Report.Summary)
	}
	if resp.Report.Before != "request" {
		t.Errorf("before = %q, want request", resp.Report.Before)
	}
	if eng.LastResult() == nil {
		t.Error("engine should keep the last result")
	}
}

func TestAnalyzeSaveThenCachedBefore(t *testing.T) {
	s, eng := testServer(t, 20)

	w := do(t, s, "POST", "/api/analyze", AnalyzeRequest{
		BeforeSnapshot: users(true),
		AfterSnapshot:  withNickname(),
		Save:           true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	resp := decode[AnalyzeResponse](t, w)
	if !resp.Saved || len(resp.ReportPaths) != 2 || resp.MigrationsDir != eng.Config.Output.Directory {
		t.Errorf("response = %+v", resp)
	}

	// No before side: the saved after snapshot is the new baseline.
	w = do(t, s, "POST", "/api/analyze", AnalyzeRequest{AfterSnapshot: withNickname()})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	resp = decode[AnalyzeResponse](t, w)
	if resp.Report.Before != "cached" || resp.Report.Summary.Operations != 0 {
		t.Errorf("second analysis = %s, %d operations", resp.Report.Before, resp.Report.Summary.Operations)
	}

	w = do(t, s, "GET", "/api/status", nil)
	status := decode[StatusResponse](t, w)
	if !status.HasSnapshot || status.LastRun == nil || len(status.History) != 1 {
		t.Errorf("status = %+v", status)
	}
}

func TestAnalyzeWithoutCachedSnapshot(t *testing.T) {
	s, _ := testServer(t, 0)
	w := do(t, s, "POST", "/api/analyze", AnalyzeRequest{AfterSnapshot: users(true)})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAnalyzeMissingAfter(t *testing.T) {
	s, _ := testServer(t, 0)
	w := do(t, s, "POST", "/api/analyze", AnalyzeRequest{BeforeSnapshot: users(true)})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAnalyzeMalformed(t *testing.T) {
	s, _ := testServer(t, 0)
	bad := schema.New(map[string][]schema.Table{"accounts": {{
		Name:    "users",
		Columns: []schema.Column{{Name: "id"}},
	}}})
	w := do(t, s, "POST", "/api/analyze", AnalyzeRequest{BeforeSnapshot: bad, AfterSnapshot: users(true)})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
}

func TestAnalyzeBlocked(t *testing.T) {
	s, eng := testServer(t, 500000)
	eng.Config.Review.BlockDangerous = true

	w := do(t, s, "POST", "/api/analyze", AnalyzeRequest{
		BeforeSnapshot: users(true),
		AfterSnapshot:  users(false),
		Save:           true,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	resp := decode[AnalyzeResponse](t, w)
	if resp.Saved || resp.Blocked == "" || resp.Report.Summary.Risk != risk.High {
		t.Errorf("response = %+v", resp)
	}
}

func TestAnalyzeNeedsApproval(t *testing.T) {
	s, eng := testServer(t, 500000)
	eng.Config.Review.RequireReview = true

	req := AnalyzeRequest{BeforeSnapshot: users(true), AfterSnapshot: users(false), Save: true}
	resp := decode[AnalyzeResponse](t, do(t, s, "POST", "/api/analyze", req))
	if !resp.NeedsReview || resp.Saved {
		t.Errorf("unapproved = %+v", resp)
	}

	req.Approve = true
	resp = decode[AnalyzeResponse](t, do(t, s, "POST", "/api/analyze", req))
	if !resp.Saved {
		t.Errorf("approved = %+v", resp)
	}
}

func TestLatestAndFiles(t *testing.T) {
	s, eng := testServer(t, 20)

	if w := do(t, s, "GET", "/api/results/latest", nil); w.Code != http.StatusNotFound {
		t.Errorf("latest before analysis = %d, want 404", w.Code)
	}

	do(t, s, "POST", "/api/analyze", AnalyzeRequest{BeforeSnapshot: users(true), AfterSnapshot: withNickname()})

	w := do(t, s, "GET", "/api/results/latest", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("latest = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"id":"20260402T093000Z"`) {
		t.Errorf("latest body = %s", w.Body)
	}

	res := eng.LastResult()
	name := res.Migrations[0].Filename()
	w = do(t, s, "GET", "/api/results/latest/files/"+name, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "nickname") {
		t.Errorf("migration %s = %d %s", name, w.Code, w.Body)
	}
	w = do(t, s, "GET", "/api/results/latest/files/"+res.RollbackFilename(), nil)
	if w.Code != http.StatusOK || w.Body.String() != res.RollbackScript {
		t.Errorf("rollback = %d %s", w.Code, w.Body)
	}
	if w := do(t, s, "GET", "/api/results/latest/files/nope.sql", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown file = %d, want 404", w.Code)
	}
}

func TestRunChecks(t *testing.T) {
	s, _ := testServer(t, 20)

	if w := do(t, s, "POST", "/api/checks", nil); w.Code != http.StatusConflict {
		t.Errorf("checks before analysis = %d, want 409", w.Code)
	}

	do(t, s, "POST", "/api/analyze", AnalyzeRequest{BeforeSnapshot: users(true), AfterSnapshot: users(false)})

	w := do(t, s, "POST", "/api/checks", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("checks = %d: %s", w.Code, w.Body)
	}
	result := decode[validation.Result](t, w)
	if result.Status != "PASS" || len(result.Checks) == 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestCORS(t *testing.T) {
	s, _ := testServer(t, 0, WithCORS(true))
	w := do(t, s, "OPTIONS", "/api/analyze", nil)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", w.Code, w.Header())
	}
}

func TestWebSocketReceivesAnalysis(t *testing.T) {
	hub := ws.NewHub(quietLogger())
	go hub.Run()
	t.Cleanup(hub.Stop)

	s, _ := testServer(t, 20, WithHub(hub))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for hub.ClientCount() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("client never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	body, _ := json.Marshal(AnalyzeRequest{BeforeSnapshot: users(true), AfterSnapshot: withNickname()})
	resp, err := http.Post(srv.URL+"/api/analyze", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()

	var types []ws.MessageType
	for len(types) < 2 {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		var msg ws.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatal(err)
		}
		types = append(types, msg.Type)
	}
	if types[0] != ws.MsgAnalysisStarted || types[1] != ws.MsgAnalysisComplete {
		t.Errorf("messages = %v", types)
	}
}
