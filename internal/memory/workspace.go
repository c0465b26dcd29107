// Package memory keeps per-employee durable memory: immutable task
// episodes and a bounded working-memory document. All files live in a
// sandboxed workspace rooted at the memory directory.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	maxReadBytes   = 1 * 1024 * 1024 // 1 MB
	maxListEntries = 5000
)

// Workspace is a sandboxed file tree rooted at rootDir.
type Workspace struct {
	rootDir string
}

// NewWorkspace creates a Workspace rooted at rootDir. The directory is created
// if it does not already exist.
func NewWorkspace(rootDir string) (*Workspace, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("memory: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("memory: create root dir: %w", err)
	}
	// Resolve symlinks in root to prevent bypass.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("memory: eval symlinks on root: %w", err)
	}
	return &Workspace{rootDir: resolved}, nil
}

// Root returns the resolved root directory.
func (w *Workspace) Root() string { return w.rootDir }

// resolve validates that path stays within the workspace root.
func (w *Workspace) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("memory: empty path")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("memory: absolute path not allowed: %s", path)
	}

	abs, err := filepath.Abs(filepath.Join(w.rootDir, filepath.Clean(path)))
	if err != nil {
		return "", fmt.Errorf("memory: resolve path: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// New files: resolve the deepest existing ancestor instead.
		resolved, err = evalSymlinksPartial(abs)
		if err != nil {
			return "", fmt.Errorf("memory: resolve symlinks: %w", err)
		}
	}

	if resolved != w.rootDir && !strings.HasPrefix(resolved, w.rootDir+string(filepath.Separator)) {
		return "", fmt.Errorf("memory: path traversal blocked: %s", path)
	}
	return resolved, nil
}

// evalSymlinksPartial walks up from abs until it finds an existing ancestor,
// resolves symlinks on that ancestor, then re-appends the remaining segments.
func evalSymlinksPartial(abs string) (string, error) {
	current := abs
	var trailing []string
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(trailing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, trailing[i])
			}
			return resolved, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no existing ancestor for %s", abs)
		}
		trailing = append(trailing, filepath.Base(current))
		current = parent
	}
}

// Read returns the contents of a file. Missing files yield an error that
// matches os.ErrNotExist.
func (w *Workspace) Read(path string) ([]byte, error) {
	resolved, err := w.resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("memory: stat: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("memory: path is a directory")
	}
	if info.Size() > maxReadBytes {
		return nil, fmt.Errorf("memory: file too large: %d bytes (max %d)", info.Size(), maxReadBytes)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("memory: read: %w", err)
	}
	return data, nil
}

// Write writes data to a file atomically (temp file + rename). Parent
// directories are created as needed.
func (w *Workspace) Write(path string, data []byte) error {
	resolved, err := w.resolve(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("memory: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".mem-*.tmp")
	if err != nil {
		return fmt.Errorf("memory: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("memory: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("memory: close temp: %w", err)
	}
	if err := os.Rename(tmpName, resolved); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("memory: rename: %w", err)
	}
	return nil
}

// ListFiles returns the names of regular files in dir with the given
// suffix. A missing directory yields an empty list.
func (w *Workspace) ListFiles(dir, suffix string) ([]string, error) {
	resolved, err := w.resolve(dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("memory: read dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if len(names) >= maxListEntries {
			break
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}
