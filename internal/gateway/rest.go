package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/basket/workforce/internal/coordinator"
	"github.com/basket/workforce/internal/persistence"
	"github.com/basket/workforce/internal/task"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	journalOK := true
	var backlog int64
	if s.cfg.Journal != nil {
		n, err := s.cfg.Journal.Count(r.Context())
		if err != nil {
			journalOK = false
		}
		backlog = n
	}
	payload := map[string]any{
		"healthy":               journalOK,
		"journal_ok":            journalOK,
		"replay_backlog_events": backlog,
		"employee_count":        len(s.employees()),
		"clients":               s.ClientCount(),
	}
	if s.cfg.Bridge != nil {
		payload["active_runs"] = s.cfg.Bridge.ActiveRuns()
	}
	status := http.StatusOK
	if !journalOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, payload)
}

func (s *Server) handleAPITasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	q := r.URL.Query()
	opts := persistence.ListOptions{Status: task.Status(q.Get("status")), Limit: 20}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			opts.Offset = n
		}
	}
	res, err := s.cfg.Coordinator.ListTasks(r.Context(), opts)
	if err != nil {
		if errors.Is(err, coordinator.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if res.Tasks == nil {
		res.Tasks = []*task.Manifest{}
	}
	writeJSON(w, http.StatusOK, res)
}

// handleAPITaskByID serves /api/tasks/{id} and /api/tasks/{id}/events.
func (s *Server) handleAPITaskByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tasks/"), "/")
	taskID, sub, _ := strings.Cut(rest, "/")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task id required")
		return
	}
	switch sub {
	case "":
		m, err := s.cfg.Coordinator.GetTask(r.Context(), taskID)
		if err != nil {
			if errors.Is(err, coordinator.ErrTaskNotFound) {
				writeError(w, http.StatusNotFound, "task not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, m)
	case "events":
		if s.cfg.Journal == nil {
			writeError(w, http.StatusNotFound, "event journal disabled")
			return
		}
		var after int64
		if v := r.URL.Query().Get("after"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "after must be a non-negative integer")
				return
			}
			after = n
		}
		events, err := s.cfg.Journal.ListFrom(r.Context(), taskID, after, 0)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if events == nil {
			events = []persistence.JournalEvent{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleAPIEmployees(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"employees": s.employees()})
}
