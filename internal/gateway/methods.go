package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/basket/workforce/internal/bridge"
	"github.com/basket/workforce/internal/coordinator"
	"github.com/basket/workforce/internal/persistence"
	"github.com/basket/workforce/internal/sessionkey"
	"github.com/basket/workforce/internal/task"
)

const (
	defaultWaitTimeout = 30 * time.Second
	maxWaitTimeout     = 10 * time.Minute
)

type taskRef struct {
	TaskID string `json:"taskId"`
}

func invalidParams(msg string) *rpcError {
	return &rpcError{Code: ErrCodeInvalid, Message: msg}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return invalidParams("params required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidParams("invalid params")
	}
	return nil
}

func requireTask(id string) error {
	if id == "" {
		return invalidParams("taskId is required")
	}
	return nil
}

// toRPCError maps domain errors onto the stable error taxonomy.
func toRPCError(err error) *rpcError {
	if err == nil {
		return nil
	}
	var re *rpcError
	if errors.As(err, &re) {
		return re
	}
	code := ErrCodeInternal
	switch {
	case errors.Is(err, coordinator.ErrInvalidInput),
		errors.Is(err, task.ErrInvalidManifest),
		errors.Is(err, sessionkey.ErrNotWorkforceKey),
		errors.Is(err, sessionkey.ErrLegacyKey):
		code = ErrCodeInvalid
	case errors.Is(err, coordinator.ErrTaskNotFound),
		errors.Is(err, coordinator.ErrUnknownEmployee):
		code = ErrCodeNotFound
	case errors.Is(err, coordinator.ErrEmployeeBusy),
		errors.Is(err, coordinator.ErrInvalidState):
		code = ErrCodeConflict
	}
	return &rpcError{Code: code, Message: err.Error()}
}

func (s *Server) agentEvent(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := validateParams("agent.event", raw); err != nil {
		return nil, err
	}
	var ev bridge.Event
	if err := decodeParams(raw, &ev); err != nil {
		return nil, err
	}
	if err := s.cfg.Bridge.HandleEvent(ctx, ev); err != nil {
		return nil, err
	}
	return map[string]any{"accepted": true}, nil
}

func (s *Server) agentRunStarted(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := validateParams("agent.run.started", raw); err != nil {
		return nil, err
	}
	var p struct {
		SessionKey string `json:"sessionKey"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := s.cfg.Bridge.RunStarted(ctx, p.SessionKey); err != nil {
		return nil, err
	}
	return map[string]any{"accepted": true}, nil
}

func (s *Server) agentRunEnded(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := validateParams("agent.run.ended", raw); err != nil {
		return nil, err
	}
	var p struct {
		SessionKey string `json:"sessionKey"`
		Success    bool   `json:"success"`
		Error      string `json:"error"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := s.cfg.Bridge.RunEnded(ctx, p.SessionKey, p.Success, p.Error); err != nil {
		return nil, err
	}
	return map[string]any{"accepted": true}, nil
}

func (s *Server) taskCreate(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		EmployeeID string `json:"employeeId"`
		Brief      string `json:"brief"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return s.cfg.Coordinator.CreateTask(ctx, p.EmployeeID, p.Brief)
}

func (s *Server) taskClarify(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		TaskID  string               `json:"taskId"`
		Answers []coordinator.Answer `json:"answers"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := requireTask(p.TaskID); err != nil {
		return nil, err
	}
	return s.cfg.Coordinator.SubmitClarification(ctx, p.TaskID, p.Answers)
}

func (s *Server) taskApprove(ctx context.Context, raw json.RawMessage) (any, error) {
	var p taskRef
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := requireTask(p.TaskID); err != nil {
		return nil, err
	}
	return s.cfg.Coordinator.ApprovePlan(ctx, p.TaskID)
}

func (s *Server) taskReject(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		TaskID   string `json:"taskId"`
		Feedback string `json:"feedback"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := requireTask(p.TaskID); err != nil {
		return nil, err
	}
	return s.cfg.Coordinator.RejectPlan(ctx, p.TaskID, p.Feedback)
}

func (s *Server) taskCancel(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		TaskID string `json:"taskId"`
		Reason string `json:"reason"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := requireTask(p.TaskID); err != nil {
		return nil, err
	}
	return s.cfg.Coordinator.Cancel(ctx, p.TaskID, p.Reason)
}

func (s *Server) taskRevise(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		TaskID string `json:"taskId"`
		Text   string `json:"text"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := requireTask(p.TaskID); err != nil {
		return nil, err
	}
	return s.cfg.Coordinator.RequestRevision(ctx, p.TaskID, p.Text)
}

func (s *Server) taskPresentOutput(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		TaskID string `json:"taskId"`
		Ref    string `json:"ref"`
		Title  string `json:"title"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := requireTask(p.TaskID); err != nil {
		return nil, err
	}
	return s.cfg.Coordinator.PresentOutput(ctx, p.TaskID, p.Ref, p.Title)
}

func (s *Server) taskGet(ctx context.Context, raw json.RawMessage) (any, error) {
	var p taskRef
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := requireTask(p.TaskID); err != nil {
		return nil, err
	}
	return s.cfg.Coordinator.GetTask(ctx, p.TaskID)
}

func (s *Server) taskList(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		Status string `json:"status"`
		Limit  int    `json:"limit"`
		Offset int    `json:"offset"`
	}
	if len(raw) > 0 {
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
	}
	return s.cfg.Coordinator.ListTasks(ctx, persistence.ListOptions{
		Status: task.Status(p.Status),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
}

func (s *Server) taskReplay(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		TaskID  string `json:"taskId"`
		AfterID int64  `json:"afterId"`
		Limit   int    `json:"limit"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := requireTask(p.TaskID); err != nil {
		return nil, err
	}
	if s.cfg.Journal == nil {
		return nil, &rpcError{Code: ErrCodeInternal, Message: "event journal disabled"}
	}
	events, err := s.cfg.Journal.ListFrom(ctx, p.TaskID, p.AfterID, p.Limit)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []persistence.JournalEvent{}
	}
	return map[string]any{"events": events}, nil
}

func (s *Server) taskWait(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		TaskID    string `json:"taskId"`
		TimeoutMS int    `json:"timeoutMs"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := requireTask(p.TaskID); err != nil {
		return nil, err
	}
	if s.cfg.Waiter == nil {
		return nil, &rpcError{Code: ErrCodeInternal, Message: "task waiter disabled"}
	}
	timeout := defaultWaitTimeout
	if p.TimeoutMS > 0 {
		timeout = time.Duration(p.TimeoutMS) * time.Millisecond
	}
	if timeout > maxWaitTimeout {
		timeout = maxWaitTimeout
	}
	m, err := s.cfg.Waiter.WaitForTask(ctx, p.TaskID, timeout)
	if errors.Is(err, context.DeadlineExceeded) {
		current, gerr := s.cfg.Coordinator.GetTask(ctx, p.TaskID)
		if gerr != nil {
			return nil, gerr
		}
		return map[string]any{"done": false, "task": current}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"done": true, "task": m}, nil
}
