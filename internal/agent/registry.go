// Package agent keeps the roster of employees the workforce daemon serves.
package agent

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Employee is one agent identity that can own tasks.
type Employee struct {
	ID          string `yaml:"id" json:"id"`
	DisplayName string `yaml:"name" json:"name"`
	Workspace   string `yaml:"workspace" json:"workspace"`
	Emoji       string `yaml:"emoji,omitempty" json:"emoji,omitempty"`
}

func (e Employee) validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("employee id must be non-empty")
	}
	if strings.ContainsAny(e.ID, ":/\\") || e.ID == "." || e.ID == ".." {
		return fmt.Errorf("employee id %q contains reserved characters", e.ID)
	}
	return nil
}

// Registry is the live employee roster. It is safe for concurrent use and
// can be swapped wholesale when the config file changes.
type Registry struct {
	mu        sync.RWMutex
	employees map[string]Employee
	logger    *slog.Logger
}

// NewRegistry creates a roster holding employees.
func NewRegistry(logger *slog.Logger, employees ...Employee) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		employees: make(map[string]Employee),
		logger:    logger,
	}
	if err := r.Replace(employees); err != nil {
		return nil, err
	}
	return r, nil
}

// Add registers one employee.
func (r *Registry) Add(e Employee) error {
	if err := e.validate(); err != nil {
		return err
	}
	e.Workspace = cleanWorkspace(e.Workspace)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.employees[e.ID]; exists {
		return fmt.Errorf("employee %q already exists", e.ID)
	}
	r.employees[e.ID] = e
	r.logger.Info("employee added", "employee_id", e.ID)
	return nil
}

// Remove drops an employee from the roster.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.employees[id]; !ok {
		return fmt.Errorf("employee %q not found", id)
	}
	delete(r.employees, id)
	r.logger.Info("employee removed", "employee_id", id)
	return nil
}

// Replace swaps the whole roster. The roster is unchanged when any entry
// is invalid or duplicated.
func (r *Registry) Replace(employees []Employee) error {
	next := make(map[string]Employee, len(employees))
	for _, e := range employees {
		if err := e.validate(); err != nil {
			return err
		}
		if _, dup := next[e.ID]; dup {
			return fmt.Errorf("duplicate employee %q", e.ID)
		}
		e.Workspace = cleanWorkspace(e.Workspace)
		next[e.ID] = e
	}

	r.mu.Lock()
	added, removed := 0, 0
	for id := range next {
		if _, ok := r.employees[id]; !ok {
			added++
		}
	}
	for id := range r.employees {
		if _, ok := next[id]; !ok {
			removed++
		}
	}
	r.employees = next
	r.mu.Unlock()

	if added > 0 || removed > 0 {
		r.logger.Info("employee roster updated", "count", len(next), "added", added, "removed", removed)
	}
	return nil
}

// Has reports whether id is on the roster.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.employees[id]
	return ok
}

// Get returns the employee with id.
func (r *Registry) Get(id string) (Employee, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.employees[id]
	return e, ok
}

// Workspace returns the employee's workspace directory, or "" when the
// employee is unknown or has none.
func (r *Registry) Workspace(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.employees[id].Workspace
}

// List returns the roster sorted by id.
func (r *Registry) List() []Employee {
	r.mu.RLock()
	out := make([]Employee, 0, len(r.employees))
	for _, e := range r.employees {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cleanWorkspace(dir string) string {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return ""
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return filepath.Clean(dir)
}
