package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/basket/workforce/internal/task"
)

// Config bounds what the writer keeps.
type Config struct {
	RecentTasks       int // working-memory entries kept
	MaxChars          int // working-memory size budget in bytes
	BriefMaxChars     int // episode brief cap
	EpisodeMaxOutputs int // episode output cap
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		RecentTasks:       10,
		MaxChars:          4000,
		BriefMaxChars:     500,
		EpisodeMaxOutputs: 20,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.RecentTasks <= 0 {
		c.RecentTasks = d.RecentTasks
	}
	if c.MaxChars <= 0 {
		c.MaxChars = d.MaxChars
	}
	if c.BriefMaxChars <= 0 {
		c.BriefMaxChars = d.BriefMaxChars
	}
	if c.EpisodeMaxOutputs <= 0 {
		c.EpisodeMaxOutputs = d.EpisodeMaxOutputs
	}
	return c
}

// Writer records terminated tasks into per-employee memory.
type Writer struct {
	ws     *Workspace
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex // serializes working-memory rewrites
}

// NewWriter creates a writer rooted at dir.
func NewWriter(dir string, cfg Config, logger *slog.Logger) (*Writer, error) {
	ws, err := NewWorkspace(dir)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		ws:     ws,
		cfg:    cfg.normalized(),
		logger: logger,
		now:    time.Now,
	}, nil
}

// SetClock overrides the writer's clock.
func (w *Writer) SetClock(now func() time.Time) {
	if now != nil {
		w.now = now
	}
}

// Root returns the memory directory.
func (w *Writer) Root() string { return w.ws.Root() }

// Record writes the episode and rewrites working memory for a terminated
// task. Both writes are attempted; their errors are joined.
func (w *Writer) Record(ctx context.Context, m *task.Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, epErr := w.WriteEpisode(m)
	wmErr := w.UpdateWorkingMemory(m)
	return errors.Join(epErr, wmErr)
}

// ReadWorkingMemory returns the employee's working-memory document, or ""
// when none exists yet.
func (w *Writer) ReadWorkingMemory(employeeID string) (string, error) {
	if !task.ValidID(employeeID) {
		return "", fmt.Errorf("memory: invalid employee id %q", employeeID)
	}
	data, err := w.ws.Read(workingMemoryPath(employeeID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// UpdateWorkingMemory prepends an entry for m to the employee's working
// memory, keeps the newest RecentTasks entries and enforces the size
// budget. Notes, Preferences and any other hand-written sections are
// carried over verbatim.
func (w *Writer) UpdateWorkingMemory(m *task.Manifest) error {
	if err := checkIDs(m); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	existing, err := w.ReadWorkingMemory(m.EmployeeID)
	if err != nil {
		return err
	}
	doc := parseWorkingMemory(existing)
	doc.prepend(newEntry(m, w.now()))
	if len(doc.entries) > w.cfg.RecentTasks {
		doc.entries = doc.entries[:w.cfg.RecentTasks]
	}

	out, over := doc.render(m.EmployeeID, w.now(), w.cfg.MaxChars)
	if over {
		w.logger.Warn("working memory exceeds budget after truncation",
			"employee_id", m.EmployeeID, "bytes", len(out), "budget", w.cfg.MaxChars)
	}
	return w.ws.Write(workingMemoryPath(m.EmployeeID), []byte(out))
}
