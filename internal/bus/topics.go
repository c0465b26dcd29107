package bus

// Task lifecycle broadcast topics.
const (
	TopicTaskActivity  = "task.activity"
	TopicTaskProgress  = "task.progress"
	TopicTaskStage     = "task.stage"
	TopicTaskOutput    = "task.output"
	TopicTaskCompleted = "task.completed"
	TopicTaskFailed    = "task.failed"
	TopicTaskCancelled = "task.cancelled"
)

// TopicEmployeeStatus reports an employee becoming busy or idle.
const TopicEmployeeStatus = "employee.status"

// Employee status values carried by EmployeeStatusEvent.
const (
	EmployeeBusy = "busy"
	EmployeeIdle = "idle"
)

// TaskScoped is implemented by payloads that belong to a task. The event
// journal indexes on it.
type TaskScoped interface {
	TaskRef() string
}

// ActivityEvent carries a new or updated activity. Activity is the task
// package's Activity value.
type ActivityEvent struct {
	TaskID   string `json:"taskId"`
	Activity any    `json:"activity"`
}

func (e ActivityEvent) TaskRef() string { return e.TaskID }

// ProgressEvent carries the current progress estimate.
type ProgressEvent struct {
	TaskID   string  `json:"taskId"`
	Progress float64 `json:"progress"`
}

func (e ProgressEvent) TaskRef() string { return e.TaskID }

// StageEvent reports a stage advance.
type StageEvent struct {
	TaskID string `json:"taskId"`
	Stage  string `json:"stage"`
}

func (e StageEvent) TaskRef() string { return e.TaskID }

// OutputEvent reports a newly registered output.
type OutputEvent struct {
	TaskID string `json:"taskId"`
	Output any    `json:"output"`
}

func (e OutputEvent) TaskRef() string { return e.TaskID }

// CompletedEvent is published when a task completes or is cancelled.
type CompletedEvent struct {
	TaskID string `json:"taskId"`
}

func (e CompletedEvent) TaskRef() string { return e.TaskID }

// FailedEvent is published when a task fails.
type FailedEvent struct {
	TaskID string `json:"taskId"`
	Error  string `json:"error"`
}

func (e FailedEvent) TaskRef() string { return e.TaskID }

// EmployeeStatusEvent reports whether an employee is working on a task.
type EmployeeStatusEvent struct {
	EmployeeID    string `json:"employeeId"`
	Status        string `json:"status"`
	CurrentTaskID string `json:"currentTaskId,omitempty"`
}

func (e EmployeeStatusEvent) TaskRef() string { return e.CurrentTaskID }
