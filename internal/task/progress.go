package task

// ProgressCeiling is the highest value the activity heuristic can reach.
// Only an explicit completion sets progress to 1.0.
const ProgressCeiling = 0.95

const progressRate = 0.08

// Progress maps an activity count to a UI progress estimate.
func Progress(activityCount int) float64 {
	if activityCount <= 0 {
		return 0
	}
	p := 1 - 1/(1+float64(activityCount)*progressRate)
	if p > ProgressCeiling {
		return ProgressCeiling
	}
	return p
}

// RefreshProgress recomputes progress from the activity log without ever
// lowering it. It reports whether the value changed.
func (m *Manifest) RefreshProgress() bool {
	p := Progress(len(m.Activities))
	if p <= m.Progress {
		return false
	}
	m.Progress = p
	return true
}
