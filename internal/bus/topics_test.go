package bus

import "testing"

func TestTopics_Unique(t *testing.T) {
	topics := []string{
		TopicTaskActivity, TopicTaskProgress, TopicTaskStage, TopicTaskOutput,
		TopicTaskCompleted, TopicTaskFailed, TopicTaskCancelled, TopicEmployeeStatus,
	}
	seen := map[string]bool{}
	for _, topic := range topics {
		if topic == "" {
			t.Fatal("empty topic constant")
		}
		if seen[topic] {
			t.Fatalf("duplicate topic %q", topic)
		}
		seen[topic] = true
	}
}

func TestPayloads_TaskRef(t *testing.T) {
	payloads := []TaskScoped{
		ActivityEvent{TaskID: "t1"},
		ProgressEvent{TaskID: "t1"},
		StageEvent{TaskID: "t1"},
		OutputEvent{TaskID: "t1"},
		CompletedEvent{TaskID: "t1"},
		FailedEvent{TaskID: "t1"},
		EmployeeStatusEvent{EmployeeID: "e1", CurrentTaskID: "t1"},
	}
	for _, p := range payloads {
		if p.TaskRef() != "t1" {
			t.Fatalf("%T.TaskRef() = %q, want t1", p, p.TaskRef())
		}
	}
}
