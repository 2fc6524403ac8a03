package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/mntdata/internal/log"
)

// uploadsDir is the directory under the data dir that holds session workspaces.
const uploadsDir = "uploads"

// Link modes.
const (
	LinkAuto    = "auto"
	LinkSymlink = "symlink"
	LinkCopy    = "copy"
)

// FSManager manages per-session workspace directories on local disk.
type FSManager struct {
	baseDir       string
	engineBaseDir string
	linkMode      string
	preferCopy    bool
	logger        *slog.Logger
	now           func() time.Time

	// symlink is swapped in tests to simulate filesystems without symlinks.
	symlink func(oldname, newname string) error
}

var _ Manager = (*FSManager)(nil)

// Option configures an FSManager.
type Option func(*FSManager)

// WithEngineDataDir sets the data dir as mounted inside the execution engine.
func WithEngineDataDir(dir string) Option {
	return func(m *FSManager) {
		if strings.TrimSpace(dir) != "" {
			m.engineBaseDir = filepath.Join(filepath.Clean(dir), uploadsDir)
		}
	}
}

// WithLinkMode selects auto, symlink or copy materialization.
func WithLinkMode(mode string) Option {
	return func(m *FSManager) { m.linkMode = mode }
}

// WithPreferCopy makes auto mode copy without attempting a symlink first.
// Used when the data dir sits on a filesystem where symlinks are unreliable.
func WithPreferCopy(prefer bool) Option {
	return func(m *FSManager) { m.preferCopy = prefer }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *FSManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewFSManager creates a filesystem-backed workspace manager rooted at
// {dataDir}/uploads.
func NewFSManager(dataDir string, opts ...Option) (*FSManager, error) {
	trimmed := strings.TrimSpace(dataDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace data directory is empty")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace data directory: %w", err)
	}

	m := &FSManager{
		baseDir:  filepath.Join(abs, uploadsDir),
		linkMode: LinkAuto,
		logger:   log.WithComponent("workspace"),
		now:      time.Now,
		symlink:  os.Symlink,
	}
	m.engineBaseDir = m.baseDir
	for _, opt := range opts {
		opt(m)
	}

	switch m.linkMode {
	case LinkAuto, LinkSymlink, LinkCopy:
	default:
		return nil, fmt.Errorf("unknown link mode %q", m.linkMode)
	}
	return m, nil
}

// BaseDir returns the directory holding all session workspaces.
func (m *FSManager) BaseDir() string { return m.baseDir }

// LinkMode returns the configured link mode.
func (m *FSManager) LinkMode() string { return m.linkMode }

// Locate derives the workspace paths for sessionID.
func (m *FSManager) Locate(sessionID string) (Workspace, error) {
	if err := validateSessionID(sessionID); err != nil {
		return Workspace{}, err
	}
	return Workspace{
		SessionID: sessionID,
		Dir:       filepath.Join(m.baseDir, sessionID),
		EngineDir: filepath.Join(m.engineBaseDir, sessionID),
	}, nil
}

// Ensure creates the workspace directory for sessionID if it does not exist.
// Concurrent callers for the same session all succeed.
func (m *FSManager) Ensure(ctx context.Context, sessionID string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	ws, err := m.Locate(sessionID)
	if err != nil {
		return Workspace{}, err
	}

	if err := os.MkdirAll(ws.Dir, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace for session %q: %w", sessionID, err)
	}

	info, err := os.Stat(ws.Dir)
	if err != nil {
		return Workspace{}, fmt.Errorf("stat workspace for session %q: %w", sessionID, err)
	}
	if !info.IsDir() {
		return Workspace{}, fmt.Errorf("workspace path for session %q is not a directory", sessionID)
	}

	return ws, nil
}

// Open returns metadata for an existing workspace directory.
func (m *FSManager) Open(ctx context.Context, sessionID string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	ws, err := m.Locate(sessionID)
	if err != nil {
		return Workspace{}, err
	}

	info, err := os.Stat(ws.Dir)
	if err != nil {
		return Workspace{}, fmt.Errorf("open workspace for session %q: %w", sessionID, err)
	}
	if !info.IsDir() {
		return Workspace{}, fmt.Errorf("workspace path for session %q is not a directory", sessionID)
	}

	return ws, nil
}

// List returns every file below the workspace root, sorted by path.
// A missing workspace lists as empty.
func (m *FSManager) List(ctx context.Context, sessionID string) ([]Entry, error) {
	ws, err := m.Locate(sessionID)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	err = filepath.WalkDir(ws.Dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == ws.Dir && errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(ws.Dir, path)
		if err != nil {
			return fmt.Errorf("resolve relative path: %w", err)
		}
		entry := Entry{Path: filepath.ToSlash(rel), Symlink: d.Type()&fs.ModeSymlink != 0}

		// Follow links so attachments report the size of their source.
		if info, err := os.Stat(path); err == nil {
			entry.Size = info.Size()
			entry.ModTime = info.ModTime()
		} else if info, err := d.Info(); err == nil {
			entry.ModTime = info.ModTime()
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list workspace for session %q: %w", sessionID, err)
	}
	return entries, nil
}

// Remove deletes the workspace for sessionID. Removing a missing workspace is
// not an error.
func (m *FSManager) Remove(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ws, err := m.Locate(sessionID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(ws.Dir); err != nil {
		return fmt.Errorf("remove workspace for session %q: %w", sessionID, err)
	}
	return nil
}

// Cleanup removes workspace directories older than olderThan based on directory
// modification time.
func (m *FSManager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read workspace base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read workspace entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return report, fmt.Errorf("remove workspace %q: %w", entry.Name(), err)
		}
		m.logger.Info("pruned workspace", "session_id", entry.Name(), "mod_time", info.ModTime())
		report.DeletedDirs++
	}

	return report, nil
}

func validateSessionID(sessionID string) error {
	trimmed := strings.TrimSpace(sessionID)
	switch {
	case trimmed == "":
		return fmt.Errorf("%w: empty", ErrInvalidSessionID)
	case trimmed != sessionID:
		return fmt.Errorf("%w: %q has surrounding whitespace", ErrInvalidSessionID, sessionID)
	case trimmed == "." || trimmed == "..":
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	case strings.ContainsAny(trimmed, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidSessionID, sessionID)
	case filepath.Clean(trimmed) != trimmed:
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}
	return nil
}
