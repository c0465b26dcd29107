package task

import (
	"time"

	"github.com/google/uuid"
)

// MaxActivities caps the activity log; the oldest entries are evicted first.
const MaxActivities = 100

// ActivityType classifies an activity entry.
type ActivityType string

const (
	ActivityThinking    ActivityType = "thinking"
	ActivityToolCall    ActivityType = "toolCall"
	ActivityToolResult  ActivityType = "toolResult"
	ActivityText        ActivityType = "text"
	ActivityUserMessage ActivityType = "userMessage"
	ActivityError       ActivityType = "error"
	ActivityCompletion  ActivityType = "completion"
	ActivityPlanning    ActivityType = "planning"
)

// Activity is one entry in a task's running log.
type Activity struct {
	ID        string         `json:"id" validate:"required"`
	Type      ActivityType   `json:"type" validate:"required,oneof=thinking toolCall toolResult text userMessage error completion planning"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// NewActivity builds an activity with a fresh id.
func NewActivity(typ ActivityType, message string, now time.Time) Activity {
	return Activity{
		ID:        uuid.NewString(),
		Type:      typ,
		Message:   message,
		Timestamp: now,
	}
}

// AddActivity appends a to the log, evicting the oldest entries beyond
// MaxActivities.
func (m *Manifest) AddActivity(a Activity) {
	m.Activities = append(m.Activities, a)
	if over := len(m.Activities) - MaxActivities; over > 0 {
		m.Activities = append([]Activity(nil), m.Activities[over:]...)
	}
}

// UpdateActivity rewrites the message and timestamp of the activity with
// the given id. It returns the updated activity and false when the entry
// was evicted or never existed.
func (m *Manifest) UpdateActivity(id, message string, now time.Time) (Activity, bool) {
	for i := len(m.Activities) - 1; i >= 0; i-- {
		if m.Activities[i].ID == id {
			m.Activities[i].Message = message
			m.Activities[i].Timestamp = now
			return m.Activities[i], true
		}
	}
	return Activity{}, false
}
