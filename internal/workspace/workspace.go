package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/coursesync/internal/logfields"
)

// Manager owns the exercises root: one persistent git working copy per
// course key. Working copies are created on first sync and never removed
// by the sync pipeline.
type Manager struct {
	root string
}

// NewManager creates a manager for the given exercises root.
func NewManager(root string) *Manager {
	return &Manager{root: root}
}

// Root returns the exercises root path.
func (m *Manager) Root() string { return m.root }

// Ensure creates the exercises root if it doesn't exist.
func (m *Manager) Ensure() error {
	if err := os.MkdirAll(m.root, 0o750); err != nil {
		return fmt.Errorf("failed to create exercises root: %w", err)
	}
	return nil
}

// CoursePath returns the working-copy path for a course key.
func (m *Manager) CoursePath(key string) string {
	return filepath.Join(m.root, key)
}

// Exists reports whether a course has a git working copy on disk.
func (m *Manager) Exists(key string) bool {
	_, err := os.Stat(filepath.Join(m.CoursePath(key), ".git"))
	return err == nil
}

// Keys lists the course keys that have a working copy under the root.
// Non-directories and dot entries are skipped.
func (m *Manager) Keys() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read exercises root: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		keys = append(keys, entry.Name())
	}
	slog.Debug("Listed working copies", logfields.Path(m.root), slog.Int("count", len(keys)))
	return keys, nil
}
