// Package coordinator implements the task control operations: create,
// clarify, plan approval, cancel, revision and output presentation.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/basket/workforce/internal/bridge"
	"github.com/basket/workforce/internal/bus"
	"github.com/basket/workforce/internal/persistence"
	"github.com/basket/workforce/internal/sessionkey"
	"github.com/basket/workforce/internal/task"
)

var (
	ErrTaskNotFound    = errors.New("coordinator: task not found")
	ErrEmployeeBusy    = errors.New("coordinator: employee already has an active task")
	ErrUnknownEmployee = errors.New("coordinator: unknown employee")
	ErrInvalidState    = errors.New("coordinator: operation not allowed in current task state")
	ErrInvalidInput    = errors.New("coordinator: invalid input")
)

// Roster reports which employees exist.
type Roster interface {
	Has(employeeID string) bool
}

// Answer is one clarification answer.
type Answer struct {
	QuestionID string `json:"questionId"`
	Value      string `json:"value"`
}

// Options wires a Coordinator.
type Options struct {
	Store  *persistence.TaskStore
	Bridge *bridge.Bridge
	Roster Roster
	Sink   bridge.Sink
	Now    func() time.Time
	Logger *slog.Logger
}

// Coordinator owns the user-driven task transitions. Transitions driven by
// the agent runtime go through the bridge.
type Coordinator struct {
	store  *persistence.TaskStore
	bridge *bridge.Bridge
	roster Roster
	sink   bridge.Sink
	now    func() time.Time
	logger *slog.Logger

	// assign serializes the busy check with task creation and reopening.
	assign sync.Mutex
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		store:  opts.Store,
		bridge: opts.Bridge,
		roster: opts.Roster,
		sink:   opts.Sink,
		now:    opts.Now,
		logger: opts.Logger,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "coordinator")
	return c
}

// CreateTask assigns a new task to an idle employee. The task starts
// pending in the clarify stage.
func (c *Coordinator) CreateTask(ctx context.Context, employeeID, brief string) (*task.Manifest, error) {
	brief = strings.TrimSpace(brief)
	if brief == "" {
		return nil, fmt.Errorf("%w: brief is required", ErrInvalidInput)
	}
	if c.roster == nil || !c.roster.Has(employeeID) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEmployee, employeeID)
	}

	c.assign.Lock()
	defer c.assign.Unlock()
	if err := c.checkIdle(ctx, employeeID, ""); err != nil {
		return nil, err
	}

	now := c.now().UTC()
	m := &task.Manifest{
		ID:         uuid.NewString(),
		EmployeeID: employeeID,
		SessionKey: sessionkey.Encode(employeeID),
		Status:     task.StatusPending,
		Stage:      task.StageClarify,
		Brief:      brief,
		Progress:   0,
		Activities: []task.Activity{},
		Outputs:    []task.Output{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.store.Create(ctx, m); err != nil {
		if errors.Is(err, task.ErrInvalidManifest) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("coordinator: create task: %w", err)
	}
	c.logger.Info("task created", "task_id", m.ID, "employee_id", employeeID, "session_key", m.SessionKey)
	c.notify(bus.TopicEmployeeStatus, bus.EmployeeStatusEvent{
		EmployeeID:    employeeID,
		Status:        bus.EmployeeBusy,
		CurrentTaskID: m.ID,
	})
	return m, nil
}

// SubmitClarification appends the answers to the brief and advances the
// task to the plan stage.
func (c *Coordinator) SubmitClarification(ctx context.Context, taskID string, answers []Answer) (*task.Manifest, error) {
	var lines []string
	for _, a := range answers {
		v := strings.TrimSpace(a.Value)
		if v == "" {
			continue
		}
		if q := strings.TrimSpace(a.QuestionID); q != "" {
			lines = append(lines, q+": "+v)
		} else {
			lines = append(lines, v)
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one answer is required", ErrInvalidInput)
	}
	body := strings.Join(lines, "\n")

	var notes []notice
	m, err := c.mutate(ctx, taskID, func(m *task.Manifest) error {
		if m.Status != task.StatusPending || m.Stage.After(task.StagePlan) {
			return ErrInvalidState
		}
		m.AppendBrief("Clarifications", body)
		notes = append(notes, c.userMessage(m, body))
		if task.CanAdvance(m.Stage, task.StagePlan) {
			m.Stage = task.StagePlan
			notes = append(notes, notice{bus.TopicTaskStage, bus.StageEvent{TaskID: m.ID, Stage: string(m.Stage)}})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.emit(notes)
	return m, nil
}

// ApprovePlan moves a negotiated task into execution.
func (c *Coordinator) ApprovePlan(ctx context.Context, taskID string) (*task.Manifest, error) {
	var notes []notice
	m, err := c.mutate(ctx, taskID, func(m *task.Manifest) error {
		if m.Status != task.StatusPending || !task.CanAdvance(m.Stage, task.StageExecute) {
			return ErrInvalidState
		}
		m.Stage = task.StageExecute
		m.Status = task.StatusRunning
		notes = append(notes,
			c.userMessage(m, "Plan approved"),
			notice{bus.TopicTaskStage, bus.StageEvent{TaskID: m.ID, Stage: string(m.Stage)}},
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.bridge.Reset(taskID)
	c.emit(notes)
	c.notify(bus.TopicEmployeeStatus, bus.EmployeeStatusEvent{
		EmployeeID:    m.EmployeeID,
		Status:        bus.EmployeeBusy,
		CurrentTaskID: m.ID,
	})
	c.logger.Info("plan approved", "task_id", m.ID, "employee_id", m.EmployeeID)
	return m, nil
}

// RejectPlan records plan feedback. The task stays in the plan stage
// waiting for a revised plan.
func (c *Coordinator) RejectPlan(ctx context.Context, taskID, feedback string) (*task.Manifest, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return nil, fmt.Errorf("%w: feedback is required", ErrInvalidInput)
	}
	var notes []notice
	m, err := c.mutate(ctx, taskID, func(m *task.Manifest) error {
		if m.Status != task.StatusPending || m.Stage.After(task.StagePlan) {
			return ErrInvalidState
		}
		m.AppendBrief("Plan Feedback", feedback)
		notes = append(notes, c.userMessage(m, feedback))
		if task.CanAdvance(m.Stage, task.StagePlan) {
			m.Stage = task.StagePlan
			notes = append(notes, notice{bus.TopicTaskStage, bus.StageEvent{TaskID: m.ID, Stage: string(m.Stage)}})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.emit(notes)
	return m, nil
}

// Cancel terminates a live task.
func (c *Coordinator) Cancel(ctx context.Context, taskID, reason string) (*task.Manifest, error) {
	cur, err := c.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if cur.Status.Terminal() {
		return nil, fmt.Errorf("%w: task is %s", ErrInvalidState, cur.Status)
	}
	m, applied, err := c.bridge.Terminate(ctx, taskID, task.StatusCancelled, strings.TrimSpace(reason))
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrTaskNotFound
	}
	if !applied {
		return nil, fmt.Errorf("%w: task is %s", ErrInvalidState, m.Status)
	}
	return m, nil
}

// RequestRevision re-opens a terminated task with follow-up instructions.
// The session key is kept so the agent continues the same conversation.
func (c *Coordinator) RequestRevision(ctx context.Context, taskID, revision string) (*task.Manifest, error) {
	revision = strings.TrimSpace(revision)
	if revision == "" {
		return nil, fmt.Errorf("%w: revision text is required", ErrInvalidInput)
	}

	c.assign.Lock()
	defer c.assign.Unlock()
	cur, err := c.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !cur.Status.Terminal() {
		return nil, fmt.Errorf("%w: task is %s", ErrInvalidState, cur.Status)
	}
	if err := c.checkIdle(ctx, cur.EmployeeID, taskID); err != nil {
		return nil, err
	}

	var notes []notice
	m, err := c.mutate(ctx, taskID, func(m *task.Manifest) error {
		if !m.Reopen(revision) {
			return ErrInvalidState
		}
		notes = append(notes,
			c.userMessage(m, revision),
			notice{bus.TopicTaskStage, bus.StageEvent{TaskID: m.ID, Stage: string(m.Stage)}},
			notice{bus.TopicTaskProgress, bus.ProgressEvent{TaskID: m.ID, Progress: m.Progress}},
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.bridge.Reset(taskID)
	c.emit(notes)
	c.notify(bus.TopicEmployeeStatus, bus.EmployeeStatusEvent{
		EmployeeID:    m.EmployeeID,
		Status:        bus.EmployeeBusy,
		CurrentTaskID: m.ID,
	})
	c.logger.Info("task reopened", "task_id", m.ID, "employee_id", m.EmployeeID)
	return m, nil
}

// PresentOutput attaches a file or URL to a task. Presenting the same
// path or URL twice is a no-op that returns the stored output.
func (c *Coordinator) PresentOutput(ctx context.Context, taskID, ref, title string) (*task.Output, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, fmt.Errorf("%w: path or url is required", ErrInvalidInput)
	}
	o, _, err := c.bridge.RecordOutput(ctx, taskID, ref, title)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrTaskNotFound
	}
	return o, nil
}

// GetTask returns one task.
func (c *Coordinator) GetTask(ctx context.Context, taskID string) (*task.Manifest, error) {
	m, err := c.store.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("coordinator: get task: %w", err)
	}
	if m == nil {
		return nil, ErrTaskNotFound
	}
	return m, nil
}

// ListTasks returns a page of tasks, newest first.
func (c *Coordinator) ListTasks(ctx context.Context, opts persistence.ListOptions) (persistence.ListResult, error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return persistence.ListResult{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, opts.Status)
	}
	if opts.Offset < 0 || opts.Limit < 0 {
		return persistence.ListResult{}, fmt.Errorf("%w: limit and offset must be non-negative", ErrInvalidInput)
	}
	return c.store.List(ctx, opts)
}

// checkIdle fails with ErrEmployeeBusy when the employee has an active
// task other than except.
func (c *Coordinator) checkIdle(ctx context.Context, employeeID, except string) error {
	active, err := c.store.FindActiveForEmployee(ctx, employeeID)
	if err != nil {
		return fmt.Errorf("coordinator: find active task: %w", err)
	}
	if active != nil && active.ID != except {
		return fmt.Errorf("%w: %s is working on %s", ErrEmployeeBusy, employeeID, active.ID)
	}
	return nil
}

func (c *Coordinator) mutate(ctx context.Context, taskID string, fn func(*task.Manifest) error) (*task.Manifest, error) {
	m, err := c.store.Mutate(ctx, taskID, func(m *task.Manifest) (bool, error) {
		if err := fn(m); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidState) {
			return nil, err
		}
		return nil, fmt.Errorf("coordinator: update task: %w", err)
	}
	if m == nil {
		return nil, ErrTaskNotFound
	}
	return m, nil
}

type notice struct {
	topic   string
	payload any
}

func (c *Coordinator) userMessage(m *task.Manifest, text string) notice {
	a := task.NewActivity(task.ActivityUserMessage, text, c.now().UTC())
	m.AddActivity(a)
	return notice{bus.TopicTaskActivity, bus.ActivityEvent{TaskID: m.ID, Activity: a}}
}

func (c *Coordinator) emit(notes []notice) {
	for _, n := range notes {
		c.notify(n.topic, n.payload)
	}
}

func (c *Coordinator) notify(topic string, payload any) {
	if c.sink == nil {
		return
	}
	if err := c.sink.Broadcast(topic, payload); err != nil {
		c.logger.Warn("broadcast failed", "topic", topic, "error", err)
	}
}
