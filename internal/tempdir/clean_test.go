package tempdir

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gitlab.com/packrat/packrat/internal/config"
	"gitlab.com/packrat/packrat/internal/testhelper"
)

func TestClean(t *testing.T) {
	root := filepath.Join(testhelper.TempDir(t), config.DataPrefix, "tmp")
	require.NoError(t, os.MkdirAll(root, 0o700))

	old := time.Now().Add(-2 * MaxAge)

	makeDir(t, filepath.Join(root, "quarantine-old"), old)
	makeDir(t, filepath.Join(root, "quarantine-recent"), time.Now())
	makeFile(t, filepath.Join(root, "tmp-uploaded-old.bundle"), old)
	makeFile(t, filepath.Join(root, "tmp-uploaded-recent.bundle"), time.Now())

	// An unreadable directory must not stop the sweep.
	makeDir(t, filepath.Join(root, "locked"), time.Now())
	makeFile(t, filepath.Join(root, "locked", "object"), old)
	require.NoError(t, os.Chmod(filepath.Join(root, "locked"), 0))
	require.NoError(t, os.Chtimes(filepath.Join(root, "locked"), old, old))

	require.NoError(t, Clean(root, MaxAge))

	require.Equal(t, []string{"quarantine-recent", "tmp-uploaded-recent.bundle"}, entries(t, root))
}

func TestClean_missingRoot(t *testing.T) {
	root := filepath.Join(testhelper.TempDir(t), config.DataPrefix, "tmp")
	require.NoError(t, Clean(root, MaxAge))
}

func TestClean_invalidRoot(t *testing.T) {
	root := testhelper.TempDir(t)
	makeFile(t, filepath.Join(root, "mirror"), time.Now().Add(-2*MaxAge))

	err := Clean(root, MaxAge)
	require.Equal(t, InvalidCleanRootError(root), err)
	require.FileExists(t, filepath.Join(root, "mirror"))
}

func TestStartCleaning(t *testing.T) {
	root := filepath.Join(testhelper.TempDir(t), config.DataPrefix, "tmp")
	require.NoError(t, os.MkdirAll(root, 0o700))
	makeFile(t, filepath.Join(root, "stale"), time.Now().Add(-2*MaxAge))

	cleaner := StartCleaning(root, time.Hour)
	defer cleaner.Cancel()

	require.Eventually(t, func() bool {
		return len(entries(t, root)) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func makeDir(t *testing.T, path string, mtime time.Time) {
	require.NoError(t, os.Mkdir(path, 0o700))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func makeFile(t *testing.T, path string, mtime time.Time) {
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func entries(t *testing.T, root string) []string {
	dirEntries, err := os.ReadDir(root)
	require.NoError(t, err)

	var names []string
	for _, entry := range dirEntries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names
}
