// Package bridge turns agent runtime telemetry into task manifest
// mutations and broadcast notifications.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/workforce/internal/bus"
	otelPkg "github.com/basket/workforce/internal/otel"
	"github.com/basket/workforce/internal/sessionkey"
	"github.com/basket/workforce/internal/task"
)

// Event streams emitted by the agent runtime.
const (
	StreamTool      = "tool"
	StreamAssistant = "assistant"
	StreamThinking  = "thinking"
	StreamLifecycle = "lifecycle"
)

const (
	DefaultDebounce         = 80 * time.Millisecond
	DefaultThinkingMaxChars = 300

	analyzingMessage   = "Analyzing the task..."
	defaultFailMessage = "Agent run failed"
)

// Event is one normalized agent runtime event.
type Event struct {
	SessionKey string         `json:"sessionKey"`
	Stream     string         `json:"stream"`
	Event      string         `json:"event,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Store is the task persistence the bridge needs.
type Store interface {
	FindBySessionKey(ctx context.Context, sessionKey string) (*task.Manifest, error)
	Mutate(ctx context.Context, id string, fn func(*task.Manifest) (bool, error)) (*task.Manifest, error)
}

// MemoryRecorder persists a terminated task into employee memory.
type MemoryRecorder interface {
	Record(ctx context.Context, m *task.Manifest) error
}

// Sink receives broadcast notifications.
type Sink interface {
	Broadcast(topic string, payload any) error
}

// Roster knows the current employees and their workspaces.
type Roster interface {
	Has(agentID string) bool
	Workspace(agentID string) string
}

// Config wires a Bridge.
type Config struct {
	Store            Store
	Memory           MemoryRecorder
	Sink             Sink
	Roster           Roster
	Rules            StageRules
	Debounce         time.Duration
	ThinkingMaxChars int
	Now              func() time.Time
	Logger           *slog.Logger
	Metrics          *otelPkg.Metrics
	Tracer           trace.Tracer
}

// Bridge is the event-normalization and stage state machine. It is the
// only component that moves a task into a terminal status.
type Bridge struct {
	store    Store
	memory   MemoryRecorder
	sink     Sink
	roster   Roster
	debounce time.Duration
	thinkMax int
	now      func() time.Time
	logger   *slog.Logger
	metrics  *otelPkg.Metrics
	tracer   trace.Tracer

	rulesMu sync.RWMutex
	rules   StageRules

	mu   sync.Mutex
	runs map[string]*run
}

// run is the ephemeral state of one agent run for one task. It is created
// on first use and dropped on run start and on terminal transition.
type run struct {
	mu            sync.Mutex
	seen          bool
	textID        string
	lastBroadcast time.Time
	pending       *task.Activity
}

type notice struct {
	topic   string
	payload any
}

// New creates a Bridge.
func New(cfg Config) *Bridge {
	b := &Bridge{
		store:    cfg.Store,
		memory:   cfg.Memory,
		sink:     cfg.Sink,
		roster:   cfg.Roster,
		debounce: cfg.Debounce,
		thinkMax: cfg.ThinkingMaxChars,
		now:      cfg.Now,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		runs:     make(map[string]*run),
	}
	if b.debounce <= 0 {
		b.debounce = DefaultDebounce
	}
	if b.thinkMax <= 0 {
		b.thinkMax = DefaultThinkingMaxChars
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("component", "bridge")
	if b.tracer == nil {
		b.tracer = nooptrace.NewTracerProvider().Tracer(otelPkg.TracerName)
	}
	b.SetRules(cfg.Rules)
	return b
}

// SetRules replaces the stage-cue table. An empty table restores the
// defaults.
func (b *Bridge) SetRules(rules StageRules) {
	rules = rules.Normalize()
	if len(rules) == 0 {
		rules = DefaultStageRules()
	}
	b.rulesMu.Lock()
	b.rules = rules
	b.rulesMu.Unlock()
}

// SetRoster swaps the employee roster.
func (b *Bridge) SetRoster(r Roster) {
	b.mu.Lock()
	b.roster = r
	b.mu.Unlock()
}

func (b *Bridge) currentRules() StageRules {
	b.rulesMu.RLock()
	defer b.rulesMu.RUnlock()
	return b.rules
}

func (b *Bridge) currentRoster() Roster {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.roster
}

func (b *Bridge) runFor(taskID string) *run {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.runs[taskID]
	if !ok {
		r = &run{}
		b.runs[taskID] = r
	}
	return r
}

// Reset drops the run state for a task so the next event starts fresh.
func (b *Bridge) Reset(taskID string) {
	b.mu.Lock()
	delete(b.runs, taskID)
	b.mu.Unlock()
}

// resolve finds the task bound to a workforce session key. Foreign keys,
// unknown employees and missing tasks resolve to nil.
func (b *Bridge) resolve(ctx context.Context, sessionKey string) (*task.Manifest, string, error) {
	if !sessionkey.IsWellFormed(sessionKey) {
		return nil, "malformed_key", nil
	}
	roster := b.currentRoster()
	if roster == nil || !sessionkey.IsMember(sessionKey, roster) {
		return nil, "not_member", nil
	}
	m, err := b.store.FindBySessionKey(ctx, sessionKey)
	if err != nil {
		return nil, "", fmt.Errorf("bridge: find task: %w", err)
	}
	if m == nil {
		return nil, "no_task", nil
	}
	return m, "", nil
}

// HandleEvent applies one agent event. Events that do not belong to a
// live workforce task are dropped without error.
func (b *Bridge) HandleEvent(ctx context.Context, ev Event) error {
	ctx, span := otelPkg.StartSpan(ctx, b.tracer, "bridge.handle_event",
		otelPkg.AttrSessionKey.String(ev.SessionKey),
		otelPkg.AttrStream.String(ev.Stream),
	)
	defer span.End()

	m, reason, err := b.resolve(ctx, ev.SessionKey)
	if err != nil {
		span.RecordError(err)
		b.metrics.BridgeEvent(ctx, ev.Stream, "error")
		return err
	}
	if m == nil {
		b.logger.Debug("event dropped", "session_key", ev.SessionKey, "stream", ev.Stream, "reason", reason)
		b.metrics.BridgeEvent(ctx, ev.Stream, "dropped")
		return nil
	}
	if m.Status.Terminal() {
		b.metrics.BridgeEvent(ctx, ev.Stream, "ignored")
		return nil
	}
	span.SetAttributes(otelPkg.AttrTaskID.String(m.ID), otelPkg.AttrEmployeeID.String(m.EmployeeID))

	r := b.runFor(m.ID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.seen {
		if err := b.synthesizeThinking(ctx, m.ID); err != nil {
			b.metrics.BridgeEvent(ctx, ev.Stream, "error")
			return err
		}
		r.seen = true
	}

	var applied bool
	switch ev.Stream {
	case StreamTool:
		applied, err = b.handleTool(ctx, r, m.ID, ev)
	case StreamAssistant:
		applied, err = b.handleAssistant(ctx, r, m.ID, ev)
	case StreamThinking:
		applied, err = b.handleThinking(ctx, m.ID, ev)
	case StreamLifecycle:
		applied, err = b.handleLifecycle(ctx, r, m.ID, ev)
	default:
		b.logger.Debug("unknown stream", "task_id", m.ID, "stream", ev.Stream)
	}
	switch {
	case err != nil:
		span.RecordError(err)
		b.metrics.BridgeEvent(ctx, ev.Stream, "error")
	case applied:
		b.metrics.BridgeEvent(ctx, ev.Stream, "applied")
	default:
		b.metrics.BridgeEvent(ctx, ev.Stream, "ignored")
	}
	return err
}

func (b *Bridge) synthesizeThinking(ctx context.Context, taskID string) error {
	var notes []notice
	_, err := b.mutate(ctx, taskID, func(m *task.Manifest) bool {
		a := task.NewActivity(task.ActivityThinking, analyzingMessage, b.now())
		m.AddActivity(a)
		m.RefreshProgress()
		notes = append(notes,
			notice{bus.TopicTaskActivity, bus.ActivityEvent{TaskID: taskID, Activity: a}},
			notice{bus.TopicTaskProgress, bus.ProgressEvent{TaskID: taskID, Progress: m.Progress}},
		)
		return true
	})
	if err != nil {
		return err
	}
	b.emit(ctx, notes)
	return nil
}

func (b *Bridge) handleTool(ctx context.Context, r *run, taskID string, ev Event) (bool, error) {
	b.flushLocked(ctx, r, taskID)
	r.textID = ""

	name := stringField(ev.Data, "name", "tool")
	if name == "" {
		name = "tool"
	}
	phase := strings.ToLower(stringField(ev.Data, "phase"))
	if phase == "" {
		phase = strings.ToLower(strings.TrimSpace(ev.Event))
	}
	if phase == "" {
		phase = "start"
	}

	var typ task.ActivityType
	var msg string
	switch phase {
	case "start", "call":
		typ, msg = task.ActivityToolCall, "Using "+name
	case "end", "result":
		typ, msg = task.ActivityToolResult, name+" finished"
		if failed, _ := ev.Data["isError"].(bool); failed {
			msg = name + " failed"
		}
	default:
		return false, nil
	}
	prep := isPreparationTool(name)
	if prep && typ == task.ActivityToolCall {
		typ, msg = task.ActivityPlanning, "Preparing: "+name
	}
	ref := ""
	if isFileWritingTool(name) {
		ref = toolPath(ev.Data)
	}

	var notes []notice
	_, err := b.mutate(ctx, taskID, func(m *task.Manifest) bool {
		now := b.now()
		a := task.NewActivity(typ, msg, now)
		a.Detail = map[string]any{"tool": name, "phase": phase}
		m.AddActivity(a)
		notes = append(notes, notice{bus.TopicTaskActivity, bus.ActivityEvent{TaskID: taskID, Activity: a}})

		if prep && m.Stage == task.StageClarify {
			m.Stage = task.StagePrepare
			notes = append(notes, notice{bus.TopicTaskStage, bus.StageEvent{TaskID: taskID, Stage: string(m.Stage)}})
		}
		if ref != "" {
			o := task.NewOutput(ref, "", b.workspace(m.EmployeeID), now)
			if m.AddOutput(o) {
				notes = append(notes, notice{bus.TopicTaskOutput, bus.OutputEvent{TaskID: taskID, Output: o}})
			}
		}
		m.RefreshProgress()
		notes = append(notes, notice{bus.TopicTaskProgress, bus.ProgressEvent{TaskID: taskID, Progress: m.Progress}})
		return true
	})
	if err != nil {
		return false, err
	}
	b.emit(ctx, notes)
	return len(notes) > 0, nil
}

func (b *Bridge) handleAssistant(ctx context.Context, r *run, taskID string, ev Event) (bool, error) {
	text, cumulative := ev.Data["text"].(string)
	delta, _ := ev.Data["delta"].(string)
	if !cumulative && delta == "" {
		return false, nil
	}
	rules := b.currentRules()

	var (
		notes []notice
		act   task.Activity
		first bool
	)
	textID := r.textID
	_, err := b.mutate(ctx, taskID, func(m *task.Manifest) bool {
		now := b.now()
		msg := text
		if !cumulative {
			prev, _ := findActivity(m, textID)
			msg = prev.Message + delta
		}
		if strings.TrimSpace(msg) == "" {
			return false
		}
		updated := false
		if textID != "" {
			act, updated = m.UpdateActivity(textID, msg, now)
		}
		if !updated {
			act = task.NewActivity(task.ActivityText, msg, now)
			m.AddActivity(act)
			textID = act.ID
			first = true
		}
		if m.Status == task.StatusRunning {
			if st, ok := ClassifyStage(msg, rules, m.Stage); ok {
				m.Stage = st
				notes = append(notes, notice{bus.TopicTaskStage, bus.StageEvent{TaskID: taskID, Stage: string(st)}})
			}
		}
		if first && m.RefreshProgress() {
			notes = append(notes, notice{bus.TopicTaskProgress, bus.ProgressEvent{TaskID: taskID, Progress: m.Progress}})
		}
		return true
	})
	if err != nil {
		return false, err
	}
	if act.ID == "" {
		return false, nil
	}
	r.textID = textID

	now := b.now()
	if first || now.Sub(r.lastBroadcast) >= b.debounce {
		b.notify(ctx, bus.TopicTaskActivity, bus.ActivityEvent{TaskID: taskID, Activity: act})
		r.lastBroadcast = now
		r.pending = nil
	} else {
		r.pending = &act
	}
	b.emit(ctx, notes)
	return true, nil
}

func (b *Bridge) handleThinking(ctx context.Context, taskID string, ev Event) (bool, error) {
	text := strings.TrimSpace(stringField(ev.Data, "text", "thinking"))
	if text == "" {
		return false, nil
	}
	msg := truncateRunes(text, b.thinkMax)

	var notes []notice
	_, err := b.mutate(ctx, taskID, func(m *task.Manifest) bool {
		a := task.NewActivity(task.ActivityThinking, msg, b.now())
		m.AddActivity(a)
		notes = append(notes, notice{bus.TopicTaskActivity, bus.ActivityEvent{TaskID: taskID, Activity: a}})
		if m.RefreshProgress() {
			notes = append(notes, notice{bus.TopicTaskProgress, bus.ProgressEvent{TaskID: taskID, Progress: m.Progress}})
		}
		return true
	})
	if err != nil {
		return false, err
	}
	b.emit(ctx, notes)
	return len(notes) > 0, nil
}

// handleLifecycle only acts on errors. Successful completion is reported
// through RunEnded.
func (b *Bridge) handleLifecycle(ctx context.Context, r *run, taskID string, ev Event) (bool, error) {
	phase := strings.ToLower(stringField(ev.Data, "phase"))
	if phase == "" {
		phase = strings.ToLower(strings.TrimSpace(ev.Event))
	}
	if phase != "error" {
		return false, nil
	}
	msg := stringField(ev.Data, "error", "message")
	if msg == "" {
		msg = defaultFailMessage
	}
	b.flushLocked(ctx, r, taskID)
	r.textID = ""
	_, applied, err := b.finishLocked(ctx, taskID, task.StatusFailed, msg)
	return applied, err
}

// RunStarted marks the start of an agent run bound to sessionKey. Run
// state is reset and a task that has been approved for execution moves
// from pending to running.
func (b *Bridge) RunStarted(ctx context.Context, sessionKey string) error {
	m, reason, err := b.resolve(ctx, sessionKey)
	if err != nil {
		return err
	}
	if m == nil {
		b.logger.Debug("run start dropped", "session_key", sessionKey, "reason", reason)
		return nil
	}
	if m.Status.Terminal() {
		return nil
	}
	b.Reset(m.ID)
	r := b.runFor(m.ID)
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err = b.mutate(ctx, m.ID, func(t *task.Manifest) bool {
		if t.Status != task.StatusPending || t.Stage.Index() < task.StageExecute.Index() {
			return false
		}
		t.Status = task.StatusRunning
		return true
	})
	if err != nil {
		return err
	}
	b.notify(ctx, bus.TopicEmployeeStatus, bus.EmployeeStatusEvent{
		EmployeeID:    m.EmployeeID,
		Status:        bus.EmployeeBusy,
		CurrentTaskID: m.ID,
	})
	return nil
}

// RunEnded closes an agent run. A successful run completes a running
// task; a pending task only had a negotiation turn and stays pending. A
// failed run fails the task.
func (b *Bridge) RunEnded(ctx context.Context, sessionKey string, success bool, errMsg string) error {
	m, reason, err := b.resolve(ctx, sessionKey)
	if err != nil {
		return err
	}
	if m == nil {
		b.logger.Debug("run end dropped", "session_key", sessionKey, "reason", reason)
		return nil
	}
	if m.Status.Terminal() {
		return nil
	}
	r := b.runFor(m.ID)
	r.mu.Lock()
	defer r.mu.Unlock()

	b.flushLocked(ctx, r, m.ID)
	r.textID = ""
	switch {
	case !success:
		if errMsg == "" {
			errMsg = defaultFailMessage
		}
		_, _, err = b.finishLocked(ctx, m.ID, task.StatusFailed, errMsg)
	case m.Status == task.StatusRunning:
		_, _, err = b.finishLocked(ctx, m.ID, task.StatusCompleted, "")
	default:
		b.Reset(m.ID)
	}
	return err
}

// Terminate moves a task into a terminal status. It reports false when
// the task was already terminal. A missing task returns nil.
func (b *Bridge) Terminate(ctx context.Context, taskID string, status task.Status, msg string) (*task.Manifest, bool, error) {
	if !status.Terminal() {
		return nil, false, fmt.Errorf("bridge: %q is not a terminal status", status)
	}
	r := b.runFor(taskID)
	r.mu.Lock()
	defer r.mu.Unlock()

	b.flushLocked(ctx, r, taskID)
	r.textID = ""
	m, applied, err := b.finishLocked(ctx, taskID, status, msg)
	if !applied {
		b.Reset(taskID)
	}
	return m, applied, err
}

// finishLocked is the single terminal transition. It is idempotent: a
// task that is already terminal is returned untouched and nothing is
// broadcast. Memory write failures are logged and never block the
// transition.
func (b *Bridge) finishLocked(ctx context.Context, taskID string, status task.Status, msg string) (*task.Manifest, bool, error) {
	var (
		notes    []notice
		finished bool
	)
	m, err := b.store.Mutate(ctx, taskID, func(m *task.Manifest) (bool, error) {
		now := b.now()
		if !m.Finish(status, msg, now) {
			return false, nil
		}
		finished = true
		var a task.Activity
		switch status {
		case task.StatusCompleted:
			a = task.NewActivity(task.ActivityCompletion, "Task completed", now)
		case task.StatusFailed:
			a = task.NewActivity(task.ActivityError, msg, now)
		default:
			text := "Task cancelled"
			if msg != "" {
				text += ": " + msg
			}
			a = task.NewActivity(task.ActivityCompletion, text, now)
		}
		m.AddActivity(a)
		notes = append(notes,
			notice{bus.TopicTaskActivity, bus.ActivityEvent{TaskID: taskID, Activity: a}},
			notice{bus.TopicTaskProgress, bus.ProgressEvent{TaskID: taskID, Progress: m.Progress}},
		)
		return true, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("bridge: finish task: %w", err)
	}
	if m == nil || !finished {
		return m, false, nil
	}
	b.Reset(taskID)

	if b.memory != nil {
		if err := b.memory.Record(ctx, m.Clone()); err != nil {
			b.logger.Error("memory write failed", "task_id", taskID, "employee_id", m.EmployeeID, "error", err)
			b.metrics.MemoryError(ctx, m.EmployeeID)
		}
	}
	var dur time.Duration
	if m.CompletedAt != nil {
		dur = m.CompletedAt.Sub(m.CreatedAt)
	}
	b.metrics.Terminal(ctx, string(status), dur)

	b.emit(ctx, notes)
	switch status {
	case task.StatusCompleted:
		b.notify(ctx, bus.TopicTaskCompleted, bus.CompletedEvent{TaskID: taskID})
	case task.StatusFailed:
		b.notify(ctx, bus.TopicTaskFailed, bus.FailedEvent{TaskID: taskID, Error: msg})
	default:
		b.notify(ctx, bus.TopicTaskCancelled, bus.CompletedEvent{TaskID: taskID})
	}
	b.notify(ctx, bus.TopicEmployeeStatus, bus.EmployeeStatusEvent{
		EmployeeID: m.EmployeeID,
		Status:     bus.EmployeeIdle,
	})
	b.logger.Info("task finished", "task_id", taskID, "employee_id", m.EmployeeID, "status", status)
	return m, true, nil
}

// RecordOutput registers an output for a task. It returns the stored
// output and whether it was new.
func (b *Bridge) RecordOutput(ctx context.Context, taskID, ref, title string) (*task.Output, bool, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, false, fmt.Errorf("bridge: empty output reference")
	}
	var (
		out   task.Output
		added bool
	)
	m, err := b.store.Mutate(ctx, taskID, func(m *task.Manifest) (bool, error) {
		out = task.NewOutput(ref, title, b.workspace(m.EmployeeID), b.now())
		added = m.AddOutput(out)
		if !added {
			for _, o := range m.Outputs {
				if o.Key() == out.Key() {
					out = o
					break
				}
			}
		}
		return added, nil
	})
	if err != nil || m == nil {
		return nil, false, err
	}
	if added {
		b.notify(ctx, bus.TopicTaskOutput, bus.OutputEvent{TaskID: taskID, Output: out})
	}
	return &out, added, nil
}

// Flush broadcasts any debounced text still pending for a task.
func (b *Bridge) Flush(ctx context.Context, taskID string) {
	b.mu.Lock()
	r, ok := b.runs[taskID]
	b.mu.Unlock()
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b.flushLocked(ctx, r, taskID)
}

// FlushIdle broadcasts pending text whose debounce window has elapsed at
// now. It returns the number of tasks flushed.
func (b *Bridge) FlushIdle(ctx context.Context, now time.Time) int {
	b.mu.Lock()
	ids := make([]string, 0, len(b.runs))
	runs := make([]*run, 0, len(b.runs))
	for id, r := range b.runs {
		ids = append(ids, id)
		runs = append(runs, r)
	}
	b.mu.Unlock()

	n := 0
	for i, r := range runs {
		r.mu.Lock()
		if r.pending != nil && now.Sub(r.lastBroadcast) >= b.debounce {
			b.flushLocked(ctx, r, ids[i])
			n++
		}
		r.mu.Unlock()
	}
	return n
}

// ActiveRuns returns the number of tasks with live run state.
func (b *Bridge) ActiveRuns() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.runs)
}

func (b *Bridge) flushLocked(ctx context.Context, r *run, taskID string) {
	if r.pending == nil {
		return
	}
	b.notify(ctx, bus.TopicTaskActivity, bus.ActivityEvent{TaskID: taskID, Activity: *r.pending})
	r.pending = nil
	r.lastBroadcast = b.now()
}

// mutate applies fn to a live task. Terminal tasks are left untouched.
func (b *Bridge) mutate(ctx context.Context, taskID string, fn func(*task.Manifest) bool) (*task.Manifest, error) {
	m, err := b.store.Mutate(ctx, taskID, func(m *task.Manifest) (bool, error) {
		if m.Status.Terminal() {
			return false, nil
		}
		return fn(m), nil
	})
	if err != nil {
		return nil, fmt.Errorf("bridge: update task: %w", err)
	}
	return m, nil
}

func (b *Bridge) emit(ctx context.Context, notes []notice) {
	for _, n := range notes {
		b.notify(ctx, n.topic, n.payload)
	}
}

// notify is best effort: failures are logged and counted, never returned.
func (b *Bridge) notify(ctx context.Context, topic string, payload any) {
	if b.sink == nil {
		b.logger.Warn("broadcast dropped: no sink", "topic", topic)
		b.metrics.BroadcastError(ctx, topic)
		return
	}
	if err := b.sink.Broadcast(topic, payload); err != nil {
		b.logger.Warn("broadcast failed", "topic", topic, "error", err)
		b.metrics.BroadcastError(ctx, topic)
	}
}

func (b *Bridge) workspace(employeeID string) string {
	roster := b.currentRoster()
	if roster == nil {
		return ""
	}
	return roster.Workspace(employeeID)
}

func findActivity(m *task.Manifest, id string) (task.Activity, bool) {
	if id == "" {
		return task.Activity{}, false
	}
	for i := len(m.Activities) - 1; i >= 0; i-- {
		if m.Activities[i].ID == id {
			return m.Activities[i], true
		}
	}
	return task.Activity{}, false
}

// stringField returns the first non-empty string value among keys.
func stringField(data map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := data[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// toolPath extracts the target path of a file-writing tool call.
func toolPath(data map[string]any) string {
	for _, k := range []string{"args", "input", "arguments"} {
		if args, ok := data[k].(map[string]any); ok {
			if p := stringField(args, "file_path", "path"); p != "" {
				return p
			}
		}
	}
	return stringField(data, "file_path", "path")
}

// truncateRunes shortens s to at most n runes. The "..." marker is only
// added when there is room for it.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
