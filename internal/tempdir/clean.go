package tempdir

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gitlab.com/packrat/packrat/internal/config"
	"gitlab.com/packrat/packrat/internal/dontpanic"
	"gitlab.com/packrat/packrat/internal/log"
)

const (
	// tmpRootSuffix is the suffix the staging root must carry to be swept.
	tmpRootSuffix = config.DataPrefix + "/tmp"

	// MaxAge is the age after which leftovers of crashed requests, staged
	// bundles and quarantine directories, get removed.
	MaxAge = 24 * time.Hour
)

// StartCleaning sweeps root every interval until the returned Forever is
// cancelled.
func StartCleaning(root string, interval time.Duration) *dontpanic.Forever {
	forever := dontpanic.NewForever(interval)
	forever.Go(func() {
		start := time.Now()
		err := Clean(root, MaxAge)

		entry := log.Default().WithFields(logrus.Fields{
			"time_ms": time.Since(start).Milliseconds(),
			"root":    root,
		})
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Info("finished tempdir cleaner walk")
	})
	return forever
}

// InvalidCleanRootError is returned when the root to be cleaned is not a
// packrat temporary directory.
type InvalidCleanRootError string

func (e InvalidCleanRootError) Error() string {
	return fmt.Sprintf("invalid tempdir clean root %q", string(e))
}

// Clean removes all entries of root last modified more than maxAge ago.
func Clean(root string, maxAge time.Duration) error {
	// If we start "cleaning up" the wrong directory we may delete mirrors.
	if !strings.HasSuffix(filepath.Clean(root), tmpRootSuffix) {
		return InvalidCleanRootError(root)
	}

	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, entry := range entries {
		info, err := entry.Info()
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}

		if time.Since(info.ModTime()) < maxAge {
			continue
		}

		fullPath := filepath.Join(root, entry.Name())
		if err := fixDirectoryPermissions(fullPath); err != nil {
			return err
		}

		if err := os.RemoveAll(fullPath); err != nil {
			return err
		}
	}

	return nil
}

// fixDirectoryPermissions makes sure all directories below path can be
// traversed and emptied by os.RemoveAll.
func fixDirectoryPermissions(path string) error {
	const minimumDirPerm = 0o700

	return filepath.Walk(path, func(path string, info os.FileInfo, errIncoming error) error {
		if info == nil || !info.IsDir() || info.Mode()&minimumDirPerm == minimumDirPerm {
			return nil
		}

		if err := os.Chmod(path, info.Mode()|minimumDirPerm); err != nil {
			return err
		}

		if os.IsPermission(errIncoming) {
			return fixDirectoryPermissions(path)
		}

		return nil
	})
}
