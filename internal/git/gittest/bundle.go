package gittest

import (
	"path/filepath"
	"testing"

	"gitlab.com/packrat/packrat/internal/testhelper"
)

// CreateBundle writes a bundle of the repository containing the given
// revision arguments, e.g. "refs/heads/feature" or "main..feature", and
// returns its path.
func CreateBundle(t testing.TB, repoPath string, revisions ...string) string {
	t.Helper()

	bundlePath := filepath.Join(testhelper.TempDir(t), "changes.bundle")
	args := append([]string{"-C", repoPath, "bundle", "create", bundlePath}, revisions...)
	Exec(t, args...)

	return bundlePath
}
