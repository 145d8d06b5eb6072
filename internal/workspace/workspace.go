package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/pagedeploy/internal/logfields"
)

// Manager handles the job workspace (ephemeral or persistent).
type Manager struct {
	baseDir    string
	prefix     string
	dir        string
	persistent bool
	keep       bool
}

// NewManager creates a manager for a unique directory below baseDir.
// An empty baseDir uses the system temp directory.
func NewManager(baseDir, deploymentID string) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	prefix := "pagedeploy-"
	if deploymentID != "" {
		prefix += deploymentID + "-"
	}
	return &Manager{baseDir: baseDir, prefix: prefix}
}

// NewPersistentManager creates a manager for the fixed directory dir.
func NewPersistentManager(dir string) *Manager {
	return &Manager{dir: dir, persistent: true}
}

// Keep leaves an ephemeral workspace on disk after Cleanup (debugging aid).
func (m *Manager) Keep(keep bool) *Manager {
	m.keep = keep
	return m
}

// Create prepares an empty workspace directory.
func (m *Manager) Create() error {
	if m.persistent {
		if err := os.MkdirAll(m.dir, 0o750); err != nil {
			return fmt.Errorf("failed to create persistent workspace directory: %w", err)
		}
		if err := emptyDir(m.dir); err != nil {
			return fmt.Errorf("failed to clear persistent workspace: %w", err)
		}
		slog.Info("Using persistent workspace", logfields.Path(m.dir))
		return nil
	}

	if err := os.MkdirAll(m.baseDir, 0o750); err != nil {
		return fmt.Errorf("failed to create workspace base directory: %w", err)
	}
	dir, err := os.MkdirTemp(m.baseDir, m.prefix)
	if err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}
	m.dir = dir
	slog.Info("Created workspace", logfields.Path(dir))
	return nil
}

// Path returns the workspace directory, or "" before Create.
func (m *Manager) Path() string {
	return m.dir
}

// Cleanup removes an ephemeral workspace. Persistent and kept workspaces stay.
func (m *Manager) Cleanup() error {
	if m.dir == "" {
		return nil
	}
	if m.persistent || m.keep {
		slog.Debug("Keeping workspace", logfields.Path(m.dir))
		return nil
	}

	if err := os.RemoveAll(m.dir); err != nil {
		return fmt.Errorf("failed to cleanup workspace: %w", err)
	}
	slog.Info("Cleaned up workspace", logfields.Path(m.dir))
	m.dir = ""
	return nil
}

func emptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
