package task

// Stage is the ordered workflow phase of a task.
type Stage string

const (
	StagePrepare Stage = "prepare"
	StageClarify Stage = "clarify"
	StagePlan    Stage = "plan"
	StageExecute Stage = "execute"
	StageReview  Stage = "review"
	StageDeliver Stage = "deliver"
)

var stageOrder = map[Stage]int{
	StagePrepare: 0,
	StageClarify: 1,
	StagePlan:    2,
	StageExecute: 3,
	StageReview:  4,
	StageDeliver: 5,
}

// Index returns the position of s in the stage order, or -1 if unknown.
func (s Stage) Index() int {
	i, ok := stageOrder[s]
	if !ok {
		return -1
	}
	return i
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool { return s.Index() >= 0 }

// After reports whether s is strictly later than other.
func (s Stage) After(other Stage) bool {
	return s.Valid() && s.Index() > other.Index()
}

// CanAdvance reports whether a task may move from stage from to stage to.
// Stages only move forward. The one exception is clarify -> prepare, which
// happens when the agent starts preparation work (skill or memory lookups)
// before any clarification answers arrive.
func CanAdvance(from, to Stage) bool {
	if from == StageClarify && to == StagePrepare {
		return true
	}
	return to.After(from)
}
