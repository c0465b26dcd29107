package memory

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/basket/workforce/internal/task"
)

const (
	episodesDir = "episodes"
	episodeExt  = ".json"
	truncSuffix = "..."
)

// Episode is an immutable snapshot of one terminated task.
type Episode struct {
	TaskID       string          `json:"taskId"`
	EmployeeID   string          `json:"employeeId"`
	Brief        string          `json:"brief"`
	Status       task.Status     `json:"status"`
	StartedAt    time.Time       `json:"startedAt"`
	CompletedAt  time.Time       `json:"completedAt"`
	Outputs      []EpisodeOutput `json:"outputs"`
	OutputCount  int             `json:"outputCount"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// EpisodeOutput summarizes one produced artifact.
type EpisodeOutput struct {
	Type  task.OutputType `json:"type"`
	Title string          `json:"title"`
	Ref   string          `json:"ref"`
}

func episodePath(employeeID, taskID string) string {
	return path.Join(employeeID, episodesDir, taskID+episodeExt)
}

// newEpisode builds the snapshot for m. Brief and outputs are capped.
func (w *Writer) newEpisode(m *task.Manifest) Episode {
	ep := Episode{
		TaskID:       m.ID,
		EmployeeID:   m.EmployeeID,
		Brief:        truncateRunes(m.Brief, w.cfg.BriefMaxChars),
		Status:       m.Status,
		StartedAt:    m.CreatedAt,
		CompletedAt:  w.now().UTC(),
		OutputCount:  len(m.Outputs),
		ErrorMessage: m.ErrorMessage,
		Outputs:      make([]EpisodeOutput, 0, min(len(m.Outputs), w.cfg.EpisodeMaxOutputs)),
	}
	if m.CompletedAt != nil {
		ep.CompletedAt = *m.CompletedAt
	}
	for i, o := range m.Outputs {
		if i >= w.cfg.EpisodeMaxOutputs {
			break
		}
		ref := o.FilePath
		if o.URL != "" {
			ref = o.URL
		}
		ep.Outputs = append(ep.Outputs, EpisodeOutput{Type: o.Type, Title: o.Title, Ref: ref})
	}
	return ep
}

// WriteEpisode writes the episode for m, replacing any earlier episode for
// the same task.
func (w *Writer) WriteEpisode(m *task.Manifest) (Episode, error) {
	if err := checkIDs(m); err != nil {
		return Episode{}, err
	}
	ep := w.newEpisode(m)
	data, err := json.MarshalIndent(ep, "", "  ")
	if err != nil {
		return Episode{}, fmt.Errorf("memory: encode episode: %w", err)
	}
	if err := w.ws.Write(episodePath(m.EmployeeID, m.ID), data); err != nil {
		return Episode{}, err
	}
	return ep, nil
}

// ListEpisodes returns the employee's episodes, most recently completed
// first. Unreadable files are skipped.
func (w *Writer) ListEpisodes(employeeID string) ([]Episode, error) {
	if !task.ValidID(employeeID) {
		return nil, fmt.Errorf("memory: invalid employee id %q", employeeID)
	}
	dir := path.Join(employeeID, episodesDir)
	names, err := w.ws.ListFiles(dir, episodeExt)
	if err != nil {
		return nil, err
	}
	out := make([]Episode, 0, len(names))
	for _, name := range names {
		data, err := w.ws.Read(path.Join(dir, name))
		if err != nil {
			w.logger.Warn("skipping unreadable episode", "employee_id", employeeID, "file", name, "error", err)
			continue
		}
		var ep Episode
		if err := json.Unmarshal(data, &ep); err != nil {
			w.logger.Warn("skipping corrupt episode", "employee_id", employeeID, "file", name, "error", err)
			continue
		}
		out = append(out, ep)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CompletedAt.After(out[j].CompletedAt)
	})
	return out, nil
}

func checkIDs(m *task.Manifest) error {
	if m == nil {
		return fmt.Errorf("memory: nil manifest")
	}
	if !task.ValidID(m.EmployeeID) {
		return fmt.Errorf("memory: invalid employee id %q", m.EmployeeID)
	}
	if !task.ValidID(m.ID) {
		return fmt.Errorf("memory: invalid task id %q", m.ID)
	}
	return nil
}

// truncateRunes shortens s to at most n runes, marking the cut.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= len(truncSuffix) {
		return string(r[:n])
	}
	return strings.TrimRight(string(r[:n-len(truncSuffix)]), " \n") + truncSuffix
}
