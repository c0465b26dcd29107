package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"

	"github.com/basket/workforce/internal/task"
)

const (
	taskFileExt         = ".json"
	defaultSessionCache = 512
	maxPreviewBytes     = 256
)

// ErrTaskExists is returned by Create when a manifest with the same id is
// already stored.
var ErrTaskExists = errors.New("persistence: task already exists")

// ListOptions selects a page of tasks.
type ListOptions struct {
	Limit  int // <= 0 means no limit
	Offset int
	Status task.Status // empty matches every status
}

// ListResult is one page of tasks plus the filtered total.
type ListResult struct {
	Tasks []*task.Manifest `json:"tasks"`
	Total int              `json:"total"`
}

// TaskStore persists one JSON file per task manifest. All writes to one
// task are serialized through a per-task lock and land atomically via a
// temp file and rename.
type TaskStore struct {
	fs     afero.Fs
	dir    string
	logger *slog.Logger
	now    func() time.Time
	locks  *keyedMutex
	bySess *lru.Cache[string, string]
}

// TaskStoreOption configures a TaskStore.
type TaskStoreOption func(*TaskStore)

// WithLogger sets the logger used for skipped records.
func WithLogger(l *slog.Logger) TaskStoreOption {
	return func(s *TaskStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the clock used for UpdatedAt.
func WithClock(now func() time.Time) TaskStoreOption {
	return func(s *TaskStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewTaskStore opens (creating if needed) the tasks directory dir on fsys.
// Use afero.NewOsFs() in production and afero.NewMemMapFs() in tests.
func NewTaskStore(fsys afero.Fs, dir string, opts ...TaskStoreOption) (*TaskStore, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if dir == "" {
		return nil, fmt.Errorf("persistence: tasks dir is required")
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persistence: create tasks dir: %w", err)
	}
	cache, err := lru.New[string, string](defaultSessionCache)
	if err != nil {
		return nil, fmt.Errorf("persistence: session cache: %w", err)
	}
	s := &TaskStore{
		fs:     fsys,
		dir:    dir,
		logger: slog.Default(),
		now:    time.Now,
		locks:  newKeyedMutex(),
		bySess: cache,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the tasks directory.
func (s *TaskStore) Dir() string { return s.dir }

func (s *TaskStore) path(id string) (string, error) {
	if !task.ValidID(id) {
		return "", fmt.Errorf("persistence: invalid task id %q", id)
	}
	return filepath.Join(s.dir, id+taskFileExt), nil
}

// Create stores a new manifest. It fails with ErrTaskExists if the id is
// taken and with task.ErrInvalidManifest if m does not validate.
func (s *TaskStore) Create(ctx context.Context, m *task.Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}
	p, err := s.path(m.ID)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(m.ID)
	defer unlock()

	exists, err := afero.Exists(s.fs, p)
	if err != nil {
		return fmt.Errorf("persistence: stat task: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrTaskExists, m.ID)
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	if err := s.write(p, m); err != nil {
		return err
	}
	s.bySess.Add(m.SessionKey, m.ID)
	return nil
}

// Get returns the manifest with the given id, or nil if none is stored.
func (s *TaskStore) Get(ctx context.Context, id string) (*task.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(id)
	if err != nil {
		return nil, nil
	}
	return s.read(p)
}

// Mutate runs fn against the stored manifest while holding the task's lock
// and persists the result when fn reports a change. UpdatedAt is refreshed
// on every persisted change. A missing task is a no-op returning nil.
func (s *TaskStore) Mutate(ctx context.Context, id string, fn func(*task.Manifest) (bool, error)) (*task.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(id)
	if err != nil {
		return nil, nil
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	m, err := s.read(p)
	if err != nil || m == nil {
		return nil, err
	}
	prevKey := m.SessionKey
	changed, err := fn(m)
	if err != nil {
		return nil, err
	}
	if !changed {
		return m, nil
	}
	m.ID = id
	m.UpdatedAt = s.now().UTC()
	if err := s.write(p, m); err != nil {
		return nil, err
	}
	if m.SessionKey != prevKey {
		s.bySess.Remove(prevKey)
		s.bySess.Add(m.SessionKey, id)
	}
	return m, nil
}

// Update merges patch into the stored manifest. Omitted fields keep their
// previous value. A missing task is a no-op returning nil.
func (s *TaskStore) Update(ctx context.Context, id string, patch task.Patch) (*task.Manifest, error) {
	return s.Mutate(ctx, id, func(m *task.Manifest) (bool, error) {
		patch.Apply(m)
		return true, nil
	})
}

// Delete removes a manifest. Deleting a missing task is not an error.
func (s *TaskStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(id)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	if m, _ := s.read(p); m != nil {
		s.bySess.Remove(m.SessionKey)
	}
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("persistence: remove task: %w", err)
	}
	return nil
}

// List returns tasks sorted newest-created first. Unreadable records are
// skipped.
func (s *TaskStore) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	all, err := s.loadAll(ctx)
	if err != nil {
		return ListResult{}, err
	}
	filtered := all[:0]
	for _, m := range all {
		if opts.Status == "" || m.Status == opts.Status {
			filtered = append(filtered, m)
		}
	}
	res := ListResult{Total: len(filtered)}
	start := opts.Offset
	if start < 0 {
		start = 0
	}
	if start >= len(filtered) {
		res.Tasks = []*task.Manifest{}
		return res, nil
	}
	end := len(filtered)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	res.Tasks = filtered[start:end]
	return res, nil
}

// FindActiveForEmployee returns the newest pending or running task owned
// by employeeID, or nil when the employee is idle.
func (s *TaskStore) FindActiveForEmployee(ctx context.Context, employeeID string) (*task.Manifest, error) {
	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range all {
		if m.EmployeeID == employeeID && m.Status.Active() {
			return m, nil
		}
	}
	return nil, nil
}

// FindBySessionKey returns the task bound to sessionKey, or nil.
func (s *TaskStore) FindBySessionKey(ctx context.Context, sessionKey string) (*task.Manifest, error) {
	if sessionKey == "" {
		return nil, nil
	}
	if id, ok := s.bySess.Get(sessionKey); ok {
		m, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if m != nil && m.SessionKey == sessionKey {
			return m, nil
		}
		s.bySess.Remove(sessionKey)
	}
	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range all {
		if m.SessionKey == sessionKey {
			s.bySess.Add(sessionKey, m.ID)
			return m, nil
		}
	}
	return nil, nil
}

func (s *TaskStore) loadAll(ctx context.Context) ([]*task.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: list tasks: %w", err)
	}
	out := make([]*task.Manifest, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), taskFileExt) {
			continue
		}
		m, err := s.read(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable task record", "file", e.Name(), "error", err)
			continue
		}
		if m != nil {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *TaskStore) read(p string) (*task.Manifest, error) {
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: read task: %w", err)
	}
	var m task.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("persistence: decode %s: %w (preview: %s)", filepath.Base(p), err, preview(data))
	}
	return &m, nil
}

func (s *TaskStore) write(p string, m *task.Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: encode task: %w", err)
	}
	tmp, err := afero.TempFile(s.fs, s.dir, ".task-*.tmp")
	if err != nil {
		return fmt.Errorf("persistence: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("persistence: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("persistence: close temp: %w", err)
	}
	if err := s.fs.Rename(tmpName, p); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("persistence: rename: %w", err)
	}
	return nil
}

func preview(data []byte) string {
	p := strings.Join(strings.Fields(string(data)), " ")
	if len(p) > maxPreviewBytes {
		p = p[:maxPreviewBytes] + "..."
	}
	return p
}
