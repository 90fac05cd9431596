package mirror

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gitlab.com/packrat/packrat/internal/git"
	"gitlab.com/packrat/packrat/internal/git/gittest"
	"gitlab.com/packrat/packrat/internal/testhelper"
)

func TestPath(t *testing.T) {
	first := Path("/repos", "https://example.com/first")

	require.Equal(t, first, Path("/repos", "https://example.com/first"))
	require.NotEqual(t, first, Path("/repos", "https://example.com/second"))
	require.Equal(t, "/repos", filepath.Dir(first))
	require.Regexp(t, regexp.MustCompile(`^[0-9a-f]{40}$`), filepath.Base(first))
}

func setupManager(t *testing.T) (*Manager, string) {
	t.Helper()

	_, remotePath := gittest.InitRepo(t)
	return NewManager(testhelper.TempDir(t), gittest.NewCommandFactory(t)), remotePath
}

func TestEnsureUpdatedClone_idempotent(t *testing.T) {
	ctx := testhelper.Context(t)
	manager, remotePath := setupManager(t)

	commit := gittest.WriteCommit(t, remotePath, gittest.WithBranch("main"))
	path := manager.Path(remotePath)

	require.NoError(t, manager.EnsureUpdatedClone(ctx, path, remotePath))
	refs := gittest.ListRefs(t, path)
	require.Equal(t, map[string]git.ObjectID{"refs/heads/main": commit}, refs)
	require.Equal(t, "true", strings.TrimSpace(string(gittest.Exec(t, "-C", path, "config", "remote.origin.mirror"))))

	require.NoError(t, manager.EnsureUpdatedClone(ctx, path, remotePath))
	require.Equal(t, refs, gittest.ListRefs(t, path))
}

func TestEnsureUpdatedClone_remoteChanges(t *testing.T) {
	ctx := testhelper.Context(t)
	manager, remotePath := setupManager(t)

	base := gittest.WriteCommit(t, remotePath, gittest.WithBranch("main"))
	gittest.WriteCommit(t, remotePath, gittest.WithParents(base), gittest.WithMessage("topic"), gittest.WithBranch("topic"))

	path := manager.Path(remotePath)
	require.NoError(t, manager.EnsureUpdatedClone(ctx, path, remotePath))
	require.Equal(t, base, gittest.ResolveRevision(t, path, "refs/heads/main"))

	newHead := gittest.WriteCommit(t, remotePath, gittest.WithParents(base), gittest.WithMessage("new"), gittest.WithBranch("main"))
	gittest.Exec(t, "-C", remotePath, "update-ref", "-d", "refs/heads/topic")

	require.NoError(t, manager.EnsureUpdatedClone(ctx, path, remotePath))
	require.Equal(t, map[string]git.ObjectID{"refs/heads/main": newHead}, gittest.ListRefs(t, path))
}

func TestEnsureUpdatedClone_cloneFailure(t *testing.T) {
	ctx := testhelper.Context(t)
	manager := NewManager(testhelper.TempDir(t), gittest.NewCommandFactory(t))

	remote := filepath.Join(testhelper.TempDir(t), "does-not-exist.git")
	path := manager.Path(remote)

	err := manager.EnsureUpdatedClone(ctx, path, remote)

	var mirrorErr *Error
	require.True(t, errors.As(err, &mirrorErr))
	require.Equal(t, "clone", mirrorErr.Op)
	require.Equal(t, path, mirrorErr.Path)
	require.NotEmpty(t, mirrorErr.Stderr)

	require.NoDirExists(t, path)

	entries, err := os.ReadDir(manager.root)
	require.NoError(t, err)
	for _, entry := range entries {
		require.Equal(t, filepath.Base(path)+".lock", entry.Name())
	}
}

func TestEnsureUpdatedClone_fetchFailure(t *testing.T) {
	ctx := testhelper.Context(t)
	manager, remotePath := setupManager(t)
	gittest.WriteCommit(t, remotePath, gittest.WithBranch("main"))

	path := manager.Path(remotePath)
	require.NoError(t, manager.EnsureUpdatedClone(ctx, path, remotePath))
	require.NoError(t, os.RemoveAll(remotePath))

	err := manager.EnsureUpdatedClone(ctx, path, remotePath)

	var mirrorErr *Error
	require.True(t, errors.As(err, &mirrorErr))
	require.Equal(t, "fetch", mirrorErr.Op)
	require.DirExists(t, path)
}

func TestEnsureUpdatedClone_rejectsOptionLikeURL(t *testing.T) {
	ctx := testhelper.Context(t)
	manager := NewManager(testhelper.TempDir(t), gittest.NewCommandFactory(t))

	remote := "--upload-pack=touch /tmp/pwned"
	err := manager.EnsureUpdatedClone(ctx, manager.Path(remote), remote)

	var mirrorErr *Error
	require.True(t, errors.As(err, &mirrorErr))
	require.NoDirExists(t, manager.Path(remote))
	require.NoFileExists(t, "/tmp/pwned")
}

func TestEnsureUpdatedClone_concurrent(t *testing.T) {
	ctx := testhelper.Context(t)
	manager, remotePath := setupManager(t)
	commit := gittest.WriteCommit(t, remotePath, gittest.WithBranch("main"))

	path := manager.Path(remotePath)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- manager.EnsureUpdatedClone(ctx, path, remotePath)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, commit, gittest.ResolveRevision(t, path, "refs/heads/main"))
}

func TestRLock_blocksUpdates(t *testing.T) {
	ctx := testhelper.Context(t)
	manager, remotePath := setupManager(t)
	gittest.WriteCommit(t, remotePath, gittest.WithBranch("main"))

	path := manager.Path(remotePath)
	require.NoError(t, manager.EnsureUpdatedClone(ctx, path, remotePath))

	unlock, err := manager.RLock(ctx, path)
	require.NoError(t, err)

	// Readers do not exclude each other.
	unlockSecond, err := manager.RLock(ctx, path)
	require.NoError(t, err)
	unlockSecond()

	done := make(chan error)
	go func() {
		done <- manager.EnsureUpdatedClone(ctx, path, remotePath)
	}()

	select {
	case <-done:
		require.FailNow(t, "update finished while mirror was read-locked")
	case <-time.After(200 * time.Millisecond):
	}

	unlock()
	require.NoError(t, <-done)
}

func TestLock_contextCancellation(t *testing.T) {
	path := filepath.Join(testhelper.TempDir(t), "mirror")

	// Another process holding the lock file is simulated by a second
	// descriptor, which flock(2) treats independently.
	held, err := flock(context.Background(), path+".lock", true)
	require.NoError(t, err)
	defer testhelper.MustClose(t, held)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = newLockTable().lock(ctx, path, false)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEnsureUpdatedClone_staleLock(t *testing.T) {
	ctx := testhelper.Context(t)
	manager, remotePath := setupManager(t)

	base := gittest.WriteCommit(t, remotePath, gittest.WithBranch("main"))
	path := manager.Path(remotePath)
	require.NoError(t, manager.EnsureUpdatedClone(ctx, path, remotePath))

	// a fetch killed while updating refs leaves its lock behind
	lockPath := filepath.Join(path, "packed-refs.lock")
	require.NoError(t, os.WriteFile(lockPath, nil, 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(lockPath, old, old))

	newHead := gittest.WriteCommit(t, remotePath, gittest.WithParents(base), gittest.WithBranch("main"))

	require.NoError(t, manager.EnsureUpdatedClone(ctx, path, remotePath))
	require.NoFileExists(t, lockPath)
	require.Equal(t, newHead, gittest.ResolveRevision(t, path, "refs/heads/main"))
}
