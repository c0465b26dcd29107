// Package task holds the task manifest domain model: status and stage
// ordering, the activity log, produced outputs and the progress heuristic.
package task

import (
	"strings"
	"time"
)

// Status is the lifecycle status of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is one of completed, failed or cancelled.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Active reports whether a task in status s occupies its employee.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusRunning
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// allowedTransitions defines the legal status transitions. Terminal states
// have no outgoing edges; re-opening goes through Reopen only.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// CanTransition reports whether from -> to is permitted.
func CanTransition(from, to Status) bool {
	targets, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Manifest is the durable record of one unit of assigned work.
type Manifest struct {
	ID           string     `json:"id" validate:"required,taskid"`
	EmployeeID   string     `json:"employeeId" validate:"required,excludes=:"`
	SessionKey   string     `json:"sessionKey" validate:"required"`
	Status       Status     `json:"status" validate:"required,oneof=pending running completed failed cancelled"`
	Stage        Stage      `json:"stage" validate:"required,oneof=prepare clarify plan execute review deliver"`
	Brief        string     `json:"brief"`
	Progress     float64    `json:"progress" validate:"gte=0,lte=1"`
	Activities   []Activity `json:"activities" validate:"max=100,dive"`
	Outputs      []Output   `json:"outputs" validate:"dive"`
	CreatedAt    time.Time  `json:"createdAt" validate:"required"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// Clone returns a deep copy of m.
func (m *Manifest) Clone() *Manifest {
	if m == nil {
		return nil
	}
	c := *m
	c.Activities = append([]Activity(nil), m.Activities...)
	for i := range c.Activities {
		if m.Activities[i].Detail != nil {
			d := make(map[string]any, len(m.Activities[i].Detail))
			for k, v := range m.Activities[i].Detail {
				d[k] = v
			}
			c.Activities[i].Detail = d
		}
	}
	c.Outputs = append([]Output(nil), m.Outputs...)
	if m.CompletedAt != nil {
		t := *m.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Patch is a partial update. Nil fields keep the stored value.
type Patch struct {
	Status           *Status
	Stage            *Stage
	Brief            *string
	Progress         *float64
	Activities       []Activity
	Outputs          []Output
	CompletedAt      *time.Time
	ClearCompletedAt bool
	ErrorMessage     *string
}

// Apply merges p into m. Activities and Outputs replace the stored slices
// when non-nil.
func (p Patch) Apply(m *Manifest) {
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.Stage != nil {
		m.Stage = *p.Stage
	}
	if p.Brief != nil {
		m.Brief = *p.Brief
	}
	if p.Progress != nil {
		m.Progress = *p.Progress
	}
	if p.Activities != nil {
		m.Activities = p.Activities
	}
	if p.Outputs != nil {
		m.Outputs = p.Outputs
	}
	if p.ClearCompletedAt {
		m.CompletedAt = nil
	} else if p.CompletedAt != nil {
		t := *p.CompletedAt
		m.CompletedAt = &t
	}
	if p.ErrorMessage != nil {
		m.ErrorMessage = *p.ErrorMessage
	}
}

// AppendBrief appends a titled section to the brief. Earlier content is
// never replaced.
func (m *Manifest) AppendBrief(heading, body string) {
	section := "## " + heading + "\n" + strings.TrimSpace(body)
	if strings.TrimSpace(m.Brief) == "" {
		m.Brief = section
		return
	}
	m.Brief = strings.TrimRight(m.Brief, "\n") + "\n\n" + section
}

// Finish moves m into a terminal status. It returns false and leaves m
// untouched when m is already terminal or the transition is not allowed.
func (m *Manifest) Finish(status Status, errMsg string, now time.Time) bool {
	if !status.Terminal() || !CanTransition(m.Status, status) {
		return false
	}
	m.Status = status
	t := now
	m.CompletedAt = &t
	switch status {
	case StatusCompleted:
		m.Progress = 1.0
		m.Stage = StageDeliver
		m.ErrorMessage = ""
	case StatusFailed:
		m.ErrorMessage = errMsg
	}
	return true
}

// Reopen is the single sanctioned path out of a terminal status. It clears
// completion fields, appends the revision text to the brief and puts the
// task back into running/execute. Progress is kept, except that a
// completed task's 1.0 drops to ProgressCeiling since running tasks never
// report full completion.
func (m *Manifest) Reopen(revision string) bool {
	if !m.Status.Terminal() {
		return false
	}
	m.Status = StatusRunning
	m.Stage = StageExecute
	m.CompletedAt = nil
	m.ErrorMessage = ""
	m.AppendBrief("Revision Request", revision)
	if m.Progress > ProgressCeiling {
		m.Progress = ProgressCeiling
	}
	m.RefreshProgress()
	return true
}
