package gittest

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/packrat/packrat/internal/command"
	"gitlab.com/packrat/packrat/internal/git"
	"gitlab.com/packrat/packrat/internal/testhelper"
)

// InitRepo creates a new empty bare repository in a temporary directory.
func InitRepo(t testing.TB) (git.Repository, string) {
	t.Helper()

	repoPath := filepath.Join(testhelper.TempDir(t), "repo.git")
	Exec(t, "init", "--bare", "--quiet", repoPath)

	return git.Repository{Path: repoPath}, repoPath
}

// CloneRepo clones the repository at sourcePath as a non-mirror bare
// repository and returns its path.
func CloneRepo(t testing.TB, sourcePath string) string {
	t.Helper()

	clonePath := filepath.Join(testhelper.TempDir(t), "clone.git")
	Exec(t, "clone", "--bare", "--quiet", sourcePath, clonePath)

	return clonePath
}

// ResolveRevision resolves the revision to an object ID, or fails.
func ResolveRevision(t testing.TB, repoPath, revision string) git.ObjectID {
	t.Helper()

	output := Exec(t, "-C", repoPath, "rev-parse", "--verify", revision)
	oid, err := git.NewObjectIDFromHex(strings.TrimSpace(string(output)))
	require.NoError(t, err)

	return oid
}

// ObjectExists reports whether the object can be read from the repository.
func ObjectExists(t testing.TB, repoPath string, oid git.ObjectID) bool {
	t.Helper()

	cmd := exec.Command(GitBinPath(), "-C", repoPath, "cat-file", "-e", oid.String())
	cmd.Env = append(os.Environ(), command.GitEnv...)

	err := cmd.Run()
	if err == nil {
		return true
	}

	status, ok := command.ExitStatus(err)
	require.True(t, ok, "cat-file failed: %v", err)
	require.Equal(t, 1, status)

	return false
}

// ListRefs returns all references of the repository mapped to their targets.
func ListRefs(t testing.TB, repoPath string) map[string]git.ObjectID {
	t.Helper()

	refs := map[string]git.ObjectID{}
	output := strings.TrimSpace(string(Exec(t, "-C", repoPath, "for-each-ref", "--format=%(refname) %(objectname)")))
	if output == "" {
		return refs
	}

	for _, line := range strings.Split(output, "\n") {
		fields := strings.SplitN(line, " ", 2)
		require.Len(t, fields, 2)
		refs[fields[0]] = git.ObjectID(fields[1])
	}

	return refs
}
