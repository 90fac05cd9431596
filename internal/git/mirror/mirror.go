// Package mirror maintains bare mirror clones of remote repositories below a
// root directory. Each mirror lives at a path derived from its remote URL and
// is guarded by a per-path lock which also covers other packrat processes
// sharing the root.
package mirror

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gitlab.com/packrat/packrat/internal/git"
	"gitlab.com/packrat/packrat/internal/git/housekeeping"
	"gitlab.com/packrat/packrat/internal/log"
)

// Path returns the directory the mirror of cloneURL lives in below root. The
// same URL always maps to the same directory.
func Path(root, cloneURL string) string {
	sum := sha1.Sum([]byte(cloneURL))
	return filepath.Join(root, hex.EncodeToString(sum[:]))
}

// Error is returned when a mirror could not be created or updated.
type Error struct {
	// Op is the failing operation: "lock", "clone" or "fetch".
	Op     string
	Path   string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("mirror %s %s: %v", e.Op, e.Path, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Manager creates and updates mirrors below its root directory.
type Manager struct {
	root          string
	gitCmdFactory git.CommandFactory
	locks         *lockTable
}

// NewManager returns a Manager for mirrors below root.
func NewManager(root string, gitCmdFactory git.CommandFactory) *Manager {
	return &Manager{
		root:          root,
		gitCmdFactory: gitCmdFactory,
		locks:         newLockTable(),
	}
}

// Path returns the mirror directory for cloneURL.
func (m *Manager) Path(cloneURL string) string {
	return Path(m.root, cloneURL)
}

// EnsureUpdatedClone makes sure path holds a mirror of remoteURL and fetches
// the latest history into it. A failed first clone leaves nothing behind at
// path.
func (m *Manager) EnsureUpdatedClone(ctx context.Context, path, remoteURL string) error {
	logger := log.FromContext(ctx).WithField("mirror_path", path)
	start := time.Now()

	unlock, err := m.locks.lock(ctx, path, true)
	if err != nil {
		return &Error{Op: "lock", Path: path, Err: err}
	}
	defer unlock()

	exists, err := isDir(path)
	if err != nil {
		return &Error{Op: "clone", Path: path, Err: err}
	}

	if !exists {
		err := m.clone(ctx, path, remoteURL)
		observeSync("clone", start, err)
		if err != nil {
			logger.WithError(err).Error("mirror clone failed")
			return err
		}
		logger.WithField("duration_ms", time.Since(start).Milliseconds()).Info("mirror created")
	} else if err := housekeeping.CleanStaleData(ctx, path); err != nil {
		// not fatal, a fetch broken by stale files reports its own error
		logger.WithError(err).Warn("mirror housekeeping failed")
	}

	fetchStart := time.Now()
	err = m.fetch(ctx, path)
	observeSync("fetch", fetchStart, err)
	if err != nil {
		logger.WithError(err).Error("mirror fetch failed")
		return err
	}

	logger.WithFields(logrus.Fields{
		"duration_ms": time.Since(fetchStart).Milliseconds(),
	}).Debug("mirror updated")

	return nil
}

// RLock takes a shared lock on the mirror at path, preventing concurrent
// updates until the returned function is called.
func (m *Manager) RLock(ctx context.Context, path string) (func(), error) {
	unlock, err := m.locks.lock(ctx, path, false)
	if err != nil {
		return nil, &Error{Op: "lock", Path: path, Err: err}
	}
	return unlock, nil
}

func (m *Manager) clone(ctx context.Context, path, remoteURL string) error {
	tmpPath, err := os.MkdirTemp(filepath.Dir(path), "."+filepath.Base(path)+".clone-")
	if err != nil {
		return &Error{Op: "clone", Path: path, Err: err}
	}

	cleanup := func() {
		if err := os.RemoveAll(tmpPath); err != nil {
			log.FromContext(ctx).WithError(err).WithField("path", tmpPath).Error("removing failed clone")
		}
	}

	var stderr bytes.Buffer
	cmd, err := m.gitCmdFactory.NewWithoutRepo(ctx, git.SubCmd{
		Name:        "clone",
		Flags:       []git.Option{git.Flag{Name: "--mirror"}, git.Flag{Name: "--quiet"}},
		PostSepArgs: []string{remoteURL, tmpPath},
	}, git.WithStderr(&stderr))
	if err != nil {
		cleanup()
		return &Error{Op: "clone", Path: path, Err: err}
	}

	if err := cmd.Wait(); err != nil {
		cleanup()
		return &Error{Op: "clone", Path: path, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return &Error{Op: "clone", Path: path, Err: err}
	}

	return nil
}

func (m *Manager) fetch(ctx context.Context, path string) error {
	var stderr bytes.Buffer
	cmd, err := m.gitCmdFactory.New(ctx, git.Repository{Path: path}, git.SubCmd{
		Name:  "fetch",
		Flags: []git.Option{git.Flag{Name: "--prune"}, git.Flag{Name: "--quiet"}},
		Args:  []string{"origin"},
	}, git.WithStderr(&stderr))
	if err != nil {
		return &Error{Op: "fetch", Path: path, Err: err}
	}

	if err := cmd.Wait(); err != nil {
		return &Error{Op: "fetch", Path: path, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}

	return nil
}

func isDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%q is not a directory", path)
	}
	return true, nil
}
