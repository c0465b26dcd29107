package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/basket/workforce/internal/persistence"
	"github.com/basket/workforce/internal/task"
)

func get(t *testing.T, h http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestREST_Healthz(t *testing.T) {
	h := newHarness(t, gatewayTestAuthToken)
	// No token needed for health probes.
	rec := get(t, h.gw.Handler(), "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["healthy"] != true || body["employee_count"] != float64(2) {
		t.Fatalf("healthz = %+v", body)
	}
}

func TestREST_RequiresToken(t *testing.T) {
	h := newHarness(t, gatewayTestAuthToken)
	for _, path := range []string{"/api/tasks", "/api/tasks/x", "/api/employees"} {
		if rec := get(t, h.gw.Handler(), path, ""); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s without token = %d", path, rec.Code)
		}
		if rec := get(t, h.gw.Handler(), path, "wrong"); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s with wrong token = %d", path, rec.Code)
		}
	}
}

func TestREST_Tasks(t *testing.T) {
	h := newHarness(t, gatewayTestAuthToken)
	ctx := context.Background()
	handler := h.gw.Handler()

	first, err := h.coord.CreateTask(ctx, "e1", "Write a memo")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	second, err := h.coord.CreateTask(ctx, "e2", "Draft a plan")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := h.coord.Cancel(ctx, second.ID, "not needed"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	rec := get(t, handler, "/api/tasks", gatewayTestAuthToken)
	var list persistence.ListResult
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if rec.Code != http.StatusOK || list.Total != 2 || len(list.Tasks) != 2 {
		t.Fatalf("list = %d %+v", rec.Code, list)
	}

	rec = get(t, handler, "/api/tasks?status=pending&limit=5", gatewayTestAuthToken)
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode filtered list: %v", err)
	}
	if list.Total != 1 || list.Tasks[0].ID != first.ID {
		t.Fatalf("filtered list = %+v", list)
	}

	if rec := get(t, handler, "/api/tasks?status=sleeping", gatewayTestAuthToken); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status filter = %d", rec.Code)
	}

	rec = get(t, handler, "/api/tasks/"+first.ID, gatewayTestAuthToken)
	var m task.Manifest
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if rec.Code != http.StatusOK || m.ID != first.ID || m.Brief != "Write a memo" {
		t.Fatalf("task = %d %+v", rec.Code, m)
	}

	if rec := get(t, handler, "/api/tasks/missing", gatewayTestAuthToken); rec.Code != http.StatusNotFound {
		t.Fatalf("missing task = %d", rec.Code)
	}
	if rec := get(t, handler, "/api/tasks/"+first.ID+"/bogus", gatewayTestAuthToken); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown subresource = %d", rec.Code)
	}
}

func TestREST_TaskEvents(t *testing.T) {
	h := newHarness(t, "")
	handler := h.gw.Handler()

	m, err := h.coord.CreateTask(context.Background(), "e1", "Write a memo")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := h.coord.Cancel(context.Background(), m.ID, ""); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	var body struct {
		Events []persistence.JournalEvent `json:"events"`
	}
	deadline := time.Now().Add(3 * time.Second)
	for len(body.Events) == 0 && time.Now().Before(deadline) {
		rec := get(t, handler, "/api/tasks/"+m.ID+"/events", "")
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode events: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(body.Events) == 0 {
		t.Fatal("no journal events recorded")
	}
	if rec := get(t, handler, "/api/tasks/"+m.ID+"/events?after=-1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative after = %d", rec.Code)
	}
}

func TestREST_Employees(t *testing.T) {
	h := newHarness(t, "")
	rec := get(t, h.gw.Handler(), "/api/employees", "")
	var body struct {
		Employees []struct {
			ID string `json:"id"`
		} `json:"employees"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Employees) != 2 || body.Employees[1].ID != "e2" {
		t.Fatalf("employees = %+v", body.Employees)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/employees", nil)
	rr := httptest.NewRecorder()
	h.gw.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST = %d", rr.Code)
	}
}
