package bridge

import (
	"strings"

	"github.com/basket/workforce/internal/task"
)

// StageRule maps a set of keywords to the stage they suggest.
type StageRule struct {
	Stage    task.Stage `yaml:"stage" json:"stage"`
	Keywords []string   `yaml:"keywords" json:"keywords"`
}

// StageRules is an ordered cue table. The first rule with a matching
// keyword wins.
type StageRules []StageRule

// DefaultStageRules returns the built-in cue table.
func DefaultStageRules() StageRules {
	return StageRules{
		{Stage: task.StagePlan, Keywords: []string{"plan", "approach", "i'll"}},
		{Stage: task.StageExecute, Keywords: []string{"implement", "creating", "writing"}},
		{Stage: task.StageReview, Keywords: []string{"review", "checking", "testing"}},
		{Stage: task.StageDeliver, Keywords: []string{"complete", "done", "finished"}},
	}
}

// Normalize lowercases keywords and drops rules with an unknown stage or
// no usable keyword.
func (r StageRules) Normalize() StageRules {
	out := make(StageRules, 0, len(r))
	for _, rule := range r {
		if !rule.Stage.Valid() {
			continue
		}
		var kws []string
		for _, kw := range rule.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				kws = append(kws, kw)
			}
		}
		if len(kws) == 0 {
			continue
		}
		out = append(out, StageRule{Stage: rule.Stage, Keywords: kws})
	}
	return out
}

// ClassifyStage returns the stage text moves a task at current to. Only
// cues for stages after current count, and the earliest such stage wins,
// so a cumulative message that mentions both planning and review still
// advances an executing task to review. Matching is a case-insensitive
// substring test.
func ClassifyStage(text string, rules StageRules, current task.Stage) (task.Stage, bool) {
	lower := strings.ToLower(text)
	var best task.Stage
	for _, rule := range rules {
		if !rule.Stage.After(current) {
			continue
		}
		if best != "" && !best.After(rule.Stage) {
			continue
		}
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				best = rule.Stage
				break
			}
		}
	}
	return best, best != ""
}

var preparationTools = map[string]bool{
	"skill_search":  true,
	"skill_install": true,
	"skill_list":    true,
	"memory_search": true,
	"memory_get":    true,
}

// isPreparationTool reports whether name is a skill or memory lookup.
// Names are compared case-insensitively with '.' and '-' treated as '_'.
func isPreparationTool(name string) bool {
	n := normalizeToolName(name)
	if preparationTools[n] {
		return true
	}
	return strings.HasPrefix(n, "skills_")
}

var fileWritingTools = map[string]bool{
	"write":       true,
	"write_file":  true,
	"create_file": true,
	"edit_file":   true,
}

func isFileWritingTool(name string) bool {
	return fileWritingTools[normalizeToolName(name)]
}

func normalizeToolName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(strings.ToLower(strings.TrimSpace(name)))
}
