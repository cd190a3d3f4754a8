// Package workspace hands out per-run scratch directories.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Manager owns run directories under a common root.
type Manager struct {
	root string
}

// Dir is the scratch directory of a single run.
type Dir struct {
	RunID string
	Path  string
}

// New creates root if needed.
func New(root string) (*Manager, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("workspace root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute workspace root.
func (m *Manager) Root() string {
	return m.root
}

// Prepare creates an empty directory for runID. A leftover directory with
// the same id is replaced.
func (m *Manager) Prepare(runID string) (Dir, error) {
	if runID == "" || strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return Dir{}, fmt.Errorf("invalid run id %q", runID)
	}
	path := filepath.Join(m.root, runID)
	if err := os.RemoveAll(path); err != nil {
		return Dir{}, fmt.Errorf("clear workspace: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return Dir{}, fmt.Errorf("create workspace: %w", err)
	}
	return Dir{RunID: runID, Path: path}, nil
}

// Cleanup removes a run directory. Paths outside the root are refused.
func (m *Manager) Cleanup(d Dir) error {
	if d.Path == "" {
		return nil
	}
	rel, err := filepath.Rel(m.root, d.Path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to remove %s outside workspace root", d.Path)
	}
	return os.RemoveAll(d.Path)
}

// Sweep removes run directories last modified before now-age. It returns
// how many were removed.
func (m *Manager) Sweep(age time.Duration) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("read workspace root: %w", err)
	}
	cutoff := time.Now().Add(-age)
	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
