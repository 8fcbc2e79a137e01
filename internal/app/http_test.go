package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"sdlcboard/api/internal/config"
	"sdlcboard/api/internal/store"
	"sdlcboard/api/internal/workflow"
)

func newTestServer(st store.Store, cfg config.Config) (*Service, http.Handler) {
	svc := newTestService(st, cfg)
	return svc, NewHTTPServer(svc, "*", zap.NewNop()).Handler()
}

func serve(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return response
}

func TestHealthEndpoint(t *testing.T) {
	_, handler := newTestServer(&fakeStore{}, config.Config{})

	rr := serve(t, handler, http.MethodGet, "/api/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if ok := decodeBody(t, rr)["ok"]; ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin=*, got %v", origin)
	}
	if cache := rr.Header().Get("Cache-Control"); cache != "no-store" {
		t.Errorf("expected Cache-Control=no-store, got %v", cache)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Errorf("expected a generated request id")
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	_, handler := newTestServer(&fakeStore{}, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("expected request id req-42, got %q", got)
	}
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name        string
		pingErr     error
		wantStatus  int
		wantState   string
		wantStore   string
		wantMessage string
	}{
		{name: "store reachable", wantStatus: http.StatusOK, wantState: "ready", wantStore: "ok"},
		{name: "store down", pingErr: errors.New("connection refused"), wantStatus: http.StatusServiceUnavailable, wantState: "not_ready", wantStore: "error", wantMessage: "connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &fakeStore{pingFn: func(context.Context) error { return tt.pingErr }}
			_, handler := newTestServer(st, config.Config{})

			rr := serve(t, handler, http.MethodGet, "/api/ready", "")
			if rr.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}
			response := decodeBody(t, rr)
			if response["status"] != tt.wantState {
				t.Errorf("expected status=%s, got %v", tt.wantState, response["status"])
			}
			checks, ok := response["checks"].(map[string]any)
			if !ok {
				t.Fatalf("expected checks object, got %v", response["checks"])
			}
			storeCheck, ok := checks["store"].(map[string]any)
			if !ok {
				t.Fatalf("expected store check, got %v", checks["store"])
			}
			if storeCheck["status"] != tt.wantStore {
				t.Errorf("expected store status=%s, got %v", tt.wantStore, storeCheck["status"])
			}
			if tt.wantMessage != "" && storeCheck["error"] != tt.wantMessage {
				t.Errorf("expected store error=%q, got %v", tt.wantMessage, storeCheck["error"])
			}
		})
	}
}

func TestOptionsRequest(t *testing.T) {
	_, handler := newTestServer(&fakeStore{}, config.Config{})

	rr := serve(t, handler, http.MethodOptions, "/api/update", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204 for OPTIONS, got %d", rr.Code)
	}
	if methods := rr.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(methods, "POST") {
		t.Fatalf("expected POST to be allowed, got %q", methods)
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	_, handler := newTestServer(&fakeStore{}, config.Config{})

	rr := serve(t, handler, http.MethodGet, "/api/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = serve(t, handler, http.MethodPut, "/api/update", "{}")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
	if allow := rr.Header().Get("Allow"); allow != "POST, OPTIONS" {
		t.Fatalf("expected Allow header, got %q", allow)
	}
	if code := decodeBody(t, rr)["code"]; code != "METHOD_NOT_ALLOWED" {
		t.Fatalf("expected METHOD_NOT_ALLOWED, got %v", code)
	}
}

func TestGetWorkflow(t *testing.T) {
	st := &fakeStore{}
	_, handler := newTestServer(st, config.Config{})

	rr := serve(t, handler, http.MethodGet, "/api/json", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before the first save, got %d", rr.Code)
	}
	response := decodeBody(t, rr)
	if response["success"] != false || response["error"] != "Workflow data not found" {
		t.Fatalf("unexpected error body %v", response)
	}

	st.doc = workflow.New("2.0", map[string]workflow.Phase{"Testing": testingPhase("Jest")}, testNow)
	rr = serve(t, handler, http.MethodGet, "/api/workflow", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	doc, err := workflow.Decode(rr.Body.Bytes())
	if err != nil {
		t.Fatalf("decode board: %v", err)
	}
	if doc.Metadata.Version != "2.0" || doc.Phases["Testing"].Number() != 10 {
		t.Fatalf("unexpected board %+v", doc.Metadata)
	}
}

func TestUpdateMergesPhases(t *testing.T) {
	st := &fakeStore{}
	svc, handler := newTestServer(st, config.Config{})

	body := `{
		"phases": {"Testing": {"categories": {"Tools": {"items": ["Jest", "Cypress"]}}, "ownership": ["QA"]}},
		"userEmail": "kim@team.com",
		"userName": "Kim"
	}`
	rr := serve(t, handler, http.MethodPost, "/api/update", body)
	svc.Wait()
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	response := decodeBody(t, rr)
	if response["success"] != true || response["changed"] != true {
		t.Fatalf("unexpected response %v", response)
	}
	if response["message"] != "JSON file updated successfully" {
		t.Fatalf("unexpected message %v", response["message"])
	}
	totals, ok := response["totals"].(map[string]any)
	if !ok || totals["phases"] != float64(1) || totals["categories"] != float64(1) || totals["items"] != float64(3) {
		t.Fatalf("unexpected totals %v", response["totals"])
	}

	saved, _ := st.saved()
	if _, leaked := saved.Extra["userEmail"]; leaked {
		t.Fatalf("caller identity must not be stored in the board")
	}
	change := saved.Metadata.ChangeHistory[0]
	if change.User != "kim@team.com" || change.UserName != "Kim" {
		t.Fatalf("unexpected change record %+v", change)
	}
}

func TestUpdateUsesUserHeaders(t *testing.T) {
	st := &fakeStore{}
	svc, handler := newTestServer(st, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/update", strings.NewReader(`{"phases":{"Coding":{}}}`))
	req.Header.Set("X-Board-User", "lee@team.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	svc.Wait()

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	saved, _ := st.saved()
	change := saved.Metadata.ChangeHistory[0]
	if change.User != "lee@team.com" || change.UserName != "lee" {
		t.Fatalf("unexpected change record %+v", change)
	}
}

func TestUpdateWithoutPhases(t *testing.T) {
	st := &fakeStore{}
	_, handler := newTestServer(st, config.Config{})

	rr := serve(t, handler, http.MethodPost, "/api/update", `{"metadata":{"version":"9.9"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	response := decodeBody(t, rr)
	if response["changed"] != false || response["message"] != "No phase data to merge" {
		t.Fatalf("unexpected response %v", response)
	}
	if _, saves := st.saved(); saves != 0 {
		t.Fatalf("expected no save, got %d", saves)
	}
}

func TestUpdateRejectsInvalidBody(t *testing.T) {
	_, handler := newTestServer(&fakeStore{}, config.Config{})

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"phases":`},
		{name: "bad base timestamp", body: `{"phases":{},"baseLastModified":"yesterday"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(t, handler, http.MethodPost, "/api/update", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			if code := decodeBody(t, rr)["code"]; code != "INVALID_BODY" {
				t.Fatalf("expected INVALID_BODY, got %v", code)
			}
		})
	}
}

func TestSaveReplacesBoard(t *testing.T) {
	st := &fakeStore{doc: workflow.New("1.0", nil, testNow.Add(-time.Hour))}
	svc, handler := newTestServer(st, config.Config{})

	body := `{
		"metadata": {"version": "1.0", "totalPhases": 0, "totalCategories": 0, "totalItems": 0},
		"phases": {"Coding": {"categories": {"AI Coding:": {"items": ["Copilot"]}}}},
		"userEmail": "sam@team.com"
	}`
	rr := serve(t, handler, http.MethodPost, "/api/save", body)
	svc.Wait()
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	response := decodeBody(t, rr)
	if response["message"] != "Data saved successfully" || response["version"] != "1.1" {
		t.Fatalf("unexpected response %v", response)
	}
	saved, _ := st.saved()
	if saved.Metadata.TotalItems != 1 || saved.Metadata.LastModifiedByName != "sam" {
		t.Fatalf("unexpected metadata %+v", saved.Metadata)
	}
}

func TestSaveConflict(t *testing.T) {
	stored := workflow.New("1.0", nil, testNow)
	stored.Metadata.LastModifiedBy = "lee@team.com"
	st := &fakeStore{doc: stored}
	_, handler := newTestServer(st, config.Config{ConflictCheck: true})

	body := `{"metadata":{"version":"1.0","lastModified":"2025-03-14T09:00:00Z"},"phases":{}}`
	rr := serve(t, handler, http.MethodPost, "/api/save", body)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}

	response := decodeBody(t, rr)
	if response["success"] != false || response["error"] != "Conflict detected" {
		t.Fatalf("unexpected conflict body %v", response)
	}
	if response["message"] != "File was modified by another user. Please refresh and try again." {
		t.Fatalf("unexpected conflict message %v", response["message"])
	}
	if response["lastModified"] != "2025-03-14T09:30:00.000Z" || response["lastModifiedBy"] != "lee@team.com" {
		t.Fatalf("unexpected conflict details %v", response)
	}
	if _, saves := st.saved(); saves != 0 {
		t.Fatalf("expected no save on conflict, got %d", saves)
	}
}

func TestSavePersistenceFailure(t *testing.T) {
	st := &fakeStore{saveFn: func(context.Context, *workflow.Document) error {
		return &store.PersistenceError{Backend: "redis", Op: "set", Err: errors.New("timeout")}
	}}
	_, handler := newTestServer(st, config.Config{})

	rr := serve(t, handler, http.MethodPost, "/api/save", `{"metadata":{"version":"1.0"},"phases":{}}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	response := decodeBody(t, rr)
	if response["code"] != "PERSISTENCE_FAILED" || response["error"] != "Failed to access workflow data" {
		t.Fatalf("unexpected error body %v", response)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	t.Run("unsupported", func(t *testing.T) {
		_, handler := newTestServer(&fakeStore{}, config.Config{})

		rr := serve(t, handler, http.MethodGet, "/api/history", "")
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("expected 501, got %d", rr.Code)
		}
	})

	t.Run("limit is passed through", func(t *testing.T) {
		var gotLimit int
		st := &fakeHistoryStore{historyFn: func(_ context.Context, limit int) ([]store.CommitInfo, error) {
			gotLimit = limit
			return []store.CommitInfo{{Hash: "abc1234", Message: "Update SDLC workflow data", Author: "Kim", CreatedAt: testNow}}, nil
		}}
		_, handler := newTestServer(st, config.Config{})

		rr := serve(t, handler, http.MethodGet, "/api/history?limit=3", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if gotLimit != 3 {
			t.Fatalf("expected limit 3, got %d", gotLimit)
		}
		history, ok := decodeBody(t, rr)["history"].([]any)
		if !ok || len(history) != 1 {
			t.Fatalf("unexpected history %v", history)
		}
	})
}

func TestSearchEndpoint(t *testing.T) {
	st := &fakeStore{doc: workflow.New("1.0", map[string]workflow.Phase{
		"Testing": testingPhase("Jest", "Cypress"),
		"Coding":  {Categories: map[string]workflow.Category{"AI Coding:": {Items: []string{"Copilot"}}}},
	}, testNow)}
	_, handler := newTestServer(st, config.Config{})

	rr := serve(t, handler, http.MethodGet, "/api/search", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without q, got %d", rr.Code)
	}

	rr = serve(t, handler, http.MethodGet, "/api/search?q=jest", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	response := decodeBody(t, rr)
	results, ok := response["results"].([]any)
	if !ok || len(results) != 1 {
		t.Fatalf("expected one result, got %v", response["results"])
	}
	hit := results[0].(map[string]any)
	if hit["item"] != "Jest" || hit["phase"] != "Testing" {
		t.Fatalf("unexpected hit %v", hit)
	}
}

func TestExportEndpoint(t *testing.T) {
	st := &fakeStore{doc: workflow.New("1.0", map[string]workflow.Phase{"Testing": testingPhase("Jest")}, testNow)}
	_, handler := newTestServer(st, config.Config{BoardName: "sdlc-workflow"})

	rr := serve(t, handler, http.MethodGet, "/api/export?format=html", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if contentType := rr.Header().Get("Content-Type"); !strings.HasPrefix(contentType, "text/html") {
		t.Fatalf("expected html content type, got %q", contentType)
	}
	if disposition := rr.Header().Get("Content-Disposition"); !strings.Contains(disposition, ".html") {
		t.Fatalf("expected html attachment, got %q", disposition)
	}
	if !strings.Contains(rr.Body.String(), "Jest") {
		t.Fatalf("expected board items in export")
	}

	rr = serve(t, handler, http.MethodGet, "/api/export?format=docx", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown format, got %d", rr.Code)
	}
}

func TestMapErrorInconsistentBoard(t *testing.T) {
	err := &workflow.InvariantError{Violations: []string{"totalItems=3, items=2"}}
	status, code, _, details := mapError(fmt.Errorf("save board: %w", err))
	if status != http.StatusUnprocessableEntity || code != "INVALID_BOARD" {
		t.Fatalf("expected 422 INVALID_BOARD, got %d %s", status, code)
	}
	if violations, ok := details.([]string); !ok || len(violations) != 1 {
		t.Fatalf("expected violations as details, got %v", details)
	}
}
