package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/basket/workforce/internal/persistence"
	"github.com/basket/workforce/internal/task"
)

func TestRunTasksCommand_BadArgs(t *testing.T) {
	if code := runTasksCommand(context.Background(), []string{"extra"}); code != 2 {
		t.Fatalf("extra arg exit code = %d, want 2", code)
	}
	if code := runTasksCommand(context.Background(), []string{"-limit", "x"}); code != 2 {
		t.Fatalf("bad flag exit code = %d, want 2", code)
	}
}

func TestRunTasksCommand_SendsFiltersAndToken(t *testing.T) {
	var gotQuery, gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tasks" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(persistence.ListResult{Tasks: []*task.Manifest{}, Total: 0})
	}))
	defer ts.Close()
	setTestConfig(t, ts.Listener.Addr().String(), "cli-token")

	code := runTasksCommand(context.Background(), []string{"-status", "running", "-limit", "5"})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if gotQuery != "limit=5&status=running" {
		t.Fatalf("query = %q", gotQuery)
	}
	if gotAuth != "Bearer cli-token" {
		t.Fatalf("authorization = %q", gotAuth)
	}
}

func TestRunTasksCommand_DaemonError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"unauthorized"}`))
	}))
	defer ts.Close()
	setTestConfig(t, ts.Listener.Addr().String(), "")

	if code := runTasksCommand(context.Background(), nil); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
}

func TestRenderTasks(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	res := persistence.ListResult{
		Tasks: []*task.Manifest{
			{
				ID:         "task-1",
				EmployeeID: "ada",
				Status:     task.StatusRunning,
				Stage:      task.StageExecute,
				Brief:      "Build a landing page",
				Progress:   0.5,
				UpdatedAt:  now.Add(-5 * time.Minute),
			},
			{
				ID:         "task-2",
				EmployeeID: "grace",
				Status:     task.StatusCompleted,
				Stage:      task.StageDeliver,
				Brief:      "Write a memo",
				Progress:   1,
				UpdatedAt:  now.Add(-3 * time.Hour),
			},
		},
		Total: 7,
	}
	var buf bytes.Buffer
	renderTasks(&buf, res, now)
	out := buf.String()
	for _, want := range []string{"task-1", "ada", "running", "execute", "50%", "Build a landing page", "5m ago", "task-2", "3h ago", "2 of 7 tasks"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderTasks_Empty(t *testing.T) {
	var buf bytes.Buffer
	renderTasks(&buf, persistence.ListResult{}, time.Now())
	if !strings.Contains(buf.String(), "no tasks") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("truncate short = %q", got)
	}
	if got := truncate("one\ntwo   three", 20); got != "one two three" {
		t.Fatalf("truncate whitespace = %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Fatalf("truncate long = %q", got)
	}
}

func TestAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Time{}, "-"},
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(-42 * time.Minute), "42m ago"},
		{now.Add(-5 * time.Hour), "5h ago"},
		{now.Add(-72 * time.Hour), "3d ago"},
	}
	for _, tt := range tests {
		if got := age(now, tt.at); got != tt.want {
			t.Errorf("age(%v) = %q, want %q", tt.at, got, tt.want)
		}
	}
}
