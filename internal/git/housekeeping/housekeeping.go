// Package housekeeping removes what crashed git processes leave behind in a
// mirror. Left alone, a stale lock makes every later fetch fail.
package housekeeping

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"gitlab.com/packrat/packrat/internal/log"
)

const (
	deleteTempFilesOlderThanDuration = 24 * time.Hour
	brokenRefsGracePeriod            = 24 * time.Hour
	lockfileGracePeriod              = 15 * time.Minute
	referenceLockfileGracePeriod     = 1 * time.Hour
	packedRefsLockGracePeriod        = 1 * time.Hour
	packedRefsNewGracePeriod         = 15 * time.Minute
)

var (
	lockfiles = []string{
		"config.lock",
		"HEAD.lock",
		"FETCH_HEAD.lock",
		"shallow.lock",
		"objects/info/commit-graphs/commit-graph-chain.lock",
	}

	staleFilesRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packrat_housekeeping_stale_files_removed_total",
			Help: "Counter of stale files removed from mirrors",
		},
		[]string{"type"},
	)
)

type staleFileFinderFn func(context.Context, string) ([]string, error)

// CleanStaleData removes stale temporary objects, lockfiles and broken loose
// references from the repository at repoPath. Files are only considered
// stale after a grace period long enough for any live git process to have
// finished with them. Files that cannot be removed are logged, not returned.
func CleanStaleData(ctx context.Context, repoPath string) error {
	logger := myLogger(ctx).WithField("repo_path", repoPath)
	entry := logger

	var removed int
	for _, finder := range []struct {
		field string
		find  staleFileFinderFn
	}{
		{"objects", findTemporaryObjects},
		{"locks", findStaleLockfiles},
		{"refs", findBrokenLooseReferences},
		{"reflocks", findStaleReferenceLocks},
		{"packedrefslock", findPackedRefsLock},
		{"packedrefsnew", findPackedRefsNew},
	} {
		staleFiles, err := finder.find(ctx, repoPath)
		if err != nil {
			return fmt.Errorf("housekeeping failed to find %s: %w", finder.field, err)
		}

		for _, path := range staleFiles {
			if err := os.Remove(path); err != nil {
				if os.IsNotExist(err) {
					continue
				}
				logger.WithError(err).WithField("path", path).Warn("unable to remove stale file")
				continue
			}
			staleFilesRemoved.WithLabelValues(finder.field).Inc()
			removed++
		}

		entry = entry.WithField(finder.field, len(staleFiles))
	}

	if removed > 0 {
		entry.Info("removed stale files")
	}

	return nil
}

// findStaleFiles returns those of files, relative to repoPath, which exist
// and were not modified during gracePeriod.
func findStaleFiles(repoPath string, gracePeriod time.Duration, files ...string) ([]string, error) {
	var staleFiles []string

	for _, file := range files {
		path := filepath.Join(repoPath, file)

		fileInfo, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}

		if time.Since(fileInfo.ModTime()) < gracePeriod {
			continue
		}

		staleFiles = append(staleFiles, path)
	}

	return staleFiles, nil
}

// findStaleLockfiles only looks at a known set of lockfiles, never at every
// `*.lock` in the repository.
func findStaleLockfiles(ctx context.Context, repoPath string) ([]string, error) {
	return findStaleFiles(repoPath, lockfileGracePeriod, lockfiles...)
}

func findTemporaryObjects(ctx context.Context, repoPath string) ([]string, error) {
	return walkFiles(ctx, filepath.Join(repoPath, "objects"), func(path string, info os.FileInfo) bool {
		// git creates temporary objects, packfiles and indices, never
		// temporary directories
		return strings.HasPrefix(info.Name(), "tmp_") && time.Since(info.ModTime()) >= deleteTempFilesOlderThanDuration
	})
}

// findBrokenLooseReferences finds empty loose references, which a crash or
// reboot may leave behind and which break git in various ways.
func findBrokenLooseReferences(ctx context.Context, repoPath string) ([]string, error) {
	return walkFiles(ctx, filepath.Join(repoPath, "refs"), func(path string, info os.FileInfo) bool {
		return info.Size() == 0 && time.Since(info.ModTime()) >= brokenRefsGracePeriod
	})
}

func findStaleReferenceLocks(ctx context.Context, repoPath string) ([]string, error) {
	return walkFiles(ctx, filepath.Join(repoPath, "refs"), func(path string, info os.FileInfo) bool {
		return strings.HasSuffix(info.Name(), ".lock") && time.Since(info.ModTime()) >= referenceLockfileGracePeriod
	})
}

func findPackedRefsLock(ctx context.Context, repoPath string) ([]string, error) {
	return findStaleFiles(repoPath, packedRefsLockGracePeriod, "packed-refs.lock")
}

func findPackedRefsNew(ctx context.Context, repoPath string) ([]string, error) {
	return findStaleFiles(repoPath, packedRefsNewGracePeriod, "packed-refs.new")
}

// walkFiles returns all regular files below root matching stale. A missing
// root yields no files.
func walkFiles(ctx context.Context, root string, stale func(string, os.FileInfo) bool) ([]string, error) {
	var files []string

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if os.IsNotExist(err) {
			// somebody already deleted the file for us
			return nil
		}
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if info.IsDir() || !stale(path, info) {
			return nil
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

func myLogger(ctx context.Context) *logrus.Entry {
	return log.FromContext(ctx).WithField("system", "housekeeping")
}
